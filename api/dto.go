/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Accounts:   AccountDTO, BalanceDTO, SetRoleRequest
  Mutations:  CreditRequest, DebitRequest, RedeemRequest, ReverseRequest,
              EventRequest, EntryDTO, EntryPageResponse
  Codes:      CodeDTO, RevokeCodeRequest
  Reports:    ReportResponse, AggregateDTO, KindTotalsResponse,
              LeaderboardRowDTO
  Scenarios:  ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done by the ledger service, not in DTOs. DTOs are pure
  data carriers; amounts are whole points.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/points-ledger/audit"
	"github.com/warp/points-ledger/ledger"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

type AccountDTO struct {
	ID        string `json:"id"`
	Balance   int64  `json:"balance"`
	Version   int64  `json:"version"`
	Role      string `json:"role,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type BalanceDTO struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

type SetRoleRequest struct {
	Role string `json:"role"`
}

// =============================================================================
// MUTATIONS
// =============================================================================

// CreditRequest posts points to an account. Kind defaults to "award".
type CreditRequest struct {
	Amount         int64  `json:"amount"`
	Kind           string `json:"kind,omitempty"`
	Reason         string `json:"reason,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Actor          string `json:"actor,omitempty"`
}

// DebitRequest takes points from an account. Kind defaults to "penalty".
type DebitRequest struct {
	Amount         int64  `json:"amount"`
	Kind           string `json:"kind,omitempty"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Actor          string `json:"actor,omitempty"`
}

type RedeemRequest struct {
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Actor          string `json:"actor,omitempty"`
}

type ReverseRequest struct {
	Reason string `json:"reason,omitempty"`
	Actor  string `json:"actor,omitempty"`
}

// EventRequest records a catalog activity or penalty.
type EventRequest struct {
	RuleID         string          `json:"rule_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	Note           string          `json:"note,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Actor          string          `json:"actor,omitempty"`
}

type EntryDTO struct {
	ID               string `json:"id"`
	Seq              int64  `json:"seq"`
	AccountID        string `json:"account_id"`
	Delta            int64  `json:"delta"`
	Kind             string `json:"kind"`
	Reason           string `json:"reason,omitempty"`
	RelatedEntryID   string `json:"related_entry_id,omitempty"`
	ResultingBalance int64  `json:"resulting_balance"`
	Version          int64  `json:"version"`
	IdempotencyKey   string `json:"idempotency_key,omitempty"`
	Actor            string `json:"actor,omitempty"`
	Timestamp        string `json:"timestamp"`
}

type EntryPageResponse struct {
	Entries    []EntryDTO `json:"entries"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// =============================================================================
// REDEMPTION CODES
// =============================================================================

type CodeDTO struct {
	Code          string `json:"code"`
	AccountID     string `json:"account_id"`
	PointsUsed    int64  `json:"points_used"`
	Status        string `json:"status"`
	IssuedEntryID string `json:"issued_entry_id"`
	ExpiresAt     string `json:"expires_at"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type RevokeCodeRequest struct {
	Reason string `json:"reason,omitempty"`
}

// =============================================================================
// REPORTS
// =============================================================================

type AggregateDTO struct {
	Key       string          `json:"key"`
	Count     int64           `json:"count"`
	Credits   int64           `json:"credits"`
	Debits    int64           `json:"debits"`
	Net       int64           `json:"net"`
	AvgDelta  decimal.Decimal `json:"avg_delta"`
	FirstSeen string          `json:"first_seen,omitempty"`
	LastSeen  string          `json:"last_seen,omitempty"`
}

type ReportResponse struct {
	GroupBy string         `json:"group_by"`
	From    string         `json:"from,omitempty"`
	To      string         `json:"to,omitempty"`
	AsOfSeq int64          `json:"as_of_seq"`
	Rows    []AggregateDTO `json:"rows"`
	Totals  AggregateDTO   `json:"totals"`
}

// KindTotalsResponse carries the net delta per entry kind.
type KindTotalsResponse struct {
	From   string           `json:"from,omitempty"`
	To     string           `json:"to,omitempty"`
	Totals map[string]int64 `json:"totals"`
}

type LeaderboardRowDTO struct {
	Rank      int    `json:"rank"`
	AccountID string `json:"account_id"`
	Role      string `json:"role,omitempty"`
	Balance   int64  `json:"balance"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:        string(a.ID),
		Balance:   a.Balance,
		Version:   a.Version,
		Role:      string(a.Role),
		UpdatedAt: formatTime(a.UpdatedAt),
	}
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:               string(e.ID),
		Seq:              e.Seq,
		AccountID:        string(e.AccountID),
		Delta:            e.Delta,
		Kind:             string(e.Kind),
		Reason:           e.Reason,
		RelatedEntryID:   string(e.RelatedEntryID),
		ResultingBalance: e.ResultingBalance,
		Version:          e.Version,
		IdempotencyKey:   e.IdempotencyKey,
		Actor:            e.Actor,
		Timestamp:        formatTime(e.Timestamp),
	}
}

func toEntryDTOs(entries []ledger.Entry) []EntryDTO {
	out := make([]EntryDTO, len(entries))
	for i, e := range entries {
		out[i] = toEntryDTO(e)
	}
	return out
}

func toCodeDTO(c ledger.RedemptionCode) CodeDTO {
	return CodeDTO{
		Code:          c.Code,
		AccountID:     string(c.AccountID),
		PointsUsed:    c.PointsUsed,
		Status:        string(c.Status),
		IssuedEntryID: string(c.IssuedEntryID),
		ExpiresAt:     formatTime(c.ExpiresAt),
		CreatedAt:     formatTime(c.CreatedAt),
		UpdatedAt:     formatTime(c.UpdatedAt),
	}
}

func toAggregateDTO(a audit.Aggregate) AggregateDTO {
	return AggregateDTO{
		Key:       a.Key,
		Count:     a.Count,
		Credits:   a.Credits,
		Debits:    a.Debits,
		Net:       a.Net,
		AvgDelta:  a.AvgDelta,
		FirstSeen: formatTime(a.FirstSeen),
		LastSeen:  formatTime(a.LastSeen),
	}
}
