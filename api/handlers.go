/*
handlers.go - HTTP API handlers for the points ledger

PURPOSE:
  Exposes the ledger service, the reward catalog and the audit reporter via
  a REST API. Handles HTTP request/response and JSON serialization, and
  delegates every rule to the domain packages.

ENDPOINTS:
  Accounts:
    GET    /api/accounts/{id}              Account (balance, version, role)
    GET    /api/accounts/{id}/balance      Current balance
    GET    /api/accounts/{id}/entries      Paged history (?cursor=&limit=)
    PUT    /api/accounts/{id}/role         Set role

  Mutations:
    POST   /api/accounts/{id}/credits      Credit
    POST   /api/accounts/{id}/debits       Debit
    POST   /api/accounts/{id}/redemptions  Redeem points for a code
    POST   /api/accounts/{id}/activities   Catalog activity -> credit
    POST   /api/accounts/{id}/penalties    Catalog penalty -> debit
    GET    /api/entries/{id}               Single entry
    POST   /api/entries/{id}/reversal      Reverse an entry

  Codes:
    GET    /api/codes/{code}               Code status
    POST   /api/codes/{code}/use           Mark used (partner redemption)
    POST   /api/codes/{code}/revoke        Revoke

  Reports:
    GET    /api/reports/summary            Grouped report
    GET    /api/reports/kinds              Net delta per kind
    GET    /api/reports/leaderboard        Top balances
    GET    /api/reports/accounts/{id}      Full account history (snapshot)
    GET    /api/reports/export.csv         CSV export

IDEMPOTENCY:
  Mutations accept the key in the Idempotency-Key header or in the body's
  idempotency_key field. When both are present they must be equal. A
  replayed request returns the originally committed entry or code. Keys are
  per account; reusing one on the same account for a different amount or
  kind is 422.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid amount, reason, kind, role, quantity, or malformed input
  - 403: Catalog rule not available to the account's role
  - 404: Account, entry, code or rule not found
  - 409: Insufficient balance, already reversed, code state
  - 422: Idempotency key reused for a different request
  - 503: Contention (retry later; Retry-After is set)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. Actor fields are recorded as given.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/points-ledger/audit"
	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/rewards"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators a Handler serves.
type Deps struct {
	Ledger   *ledger.Service
	Reporter *audit.Reporter
	Rewards  *rewards.Recorder
	Logger   zerolog.Logger
	// Checks are pinged by /readyz, keyed by name.
	Checks map[string]Pinger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger   *ledger.Service
	Reporter *audit.Reporter
	Rewards  *rewards.Recorder

	checks map[string]Pinger
	log    zerolog.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. Reporter and Rewards are optional;
// the routes they back answer 404 when nil.
func NewHandler(d Deps) *Handler {
	return &Handler{
		Ledger:   d.Ledger,
		Reporter: d.Reporter,
		Rewards:  d.Rewards,
		checks:   d.Checks,
		log:      d.Logger,
	}
}

// ErrIdempotencyKeyMismatch is returned when header and body keys differ.
var ErrIdempotencyKeyMismatch = errors.New("Idempotency-Key header and idempotency_key field differ")

const idempotencyHeader = "Idempotency-Key"

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// GetAccount returns balance, version and role.
// GET /api/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := accountParam(r)
	acct, err := h.Ledger.GetAccount(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get account", err)
		return
	}
	if acct.ID == "" {
		acct.ID = id
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// GetBalance returns the current balance. Unknown accounts have balance 0.
// GET /api/accounts/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := accountParam(r)
	bal, err := h.Ledger.GetBalance(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{AccountID: string(id), Balance: bal})
}

// ListEntries returns one page of an account's history, oldest first.
// GET /api/accounts/{id}/entries?cursor=&limit=
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	cursor := ledger.Cursor(r.URL.Query().Get("cursor"))
	page, err := h.Ledger.History(r.Context(), accountParam(r), cursor, limit)
	if err != nil {
		h.fail(w, r, "Failed to list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, EntryPageResponse{
		Entries:    toEntryDTOs(page.Entries),
		NextCursor: string(page.Next),
	})
}

// SetRole records the account's role.
// PUT /api/accounts/{id}/role
func (h *Handler) SetRole(w http.ResponseWriter, r *http.Request) {
	var req SetRoleRequest
	if !decode(w, r, &req) {
		return
	}
	id := accountParam(r)
	if err := h.Ledger.SetRole(r.Context(), id, ledger.Role(strings.ToLower(req.Role))); err != nil {
		h.fail(w, r, "Failed to set role", err)
		return
	}
	acct, err := h.Ledger.GetAccount(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// =============================================================================
// MUTATION HANDLERS
// =============================================================================

// Credit posts points to an account.
// POST /api/accounts/{id}/credits
func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	var req CreditRequest
	if !decode(w, r, &req) {
		return
	}
	key, ok := idempotencyKey(w, r, req.IdempotencyKey)
	if !ok {
		return
	}
	entry, err := h.Ledger.Credit(r.Context(), ledger.CreditInput{
		AccountID:      accountParam(r),
		Amount:         req.Amount,
		Kind:           ledger.Kind(req.Kind),
		Reason:         req.Reason,
		IdempotencyKey: key,
		Actor:          req.Actor,
	})
	if err != nil {
		h.fail(w, r, "Credit rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// Debit takes points from an account. Never clamps.
// POST /api/accounts/{id}/debits
func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	var req DebitRequest
	if !decode(w, r, &req) {
		return
	}
	key, ok := idempotencyKey(w, r, req.IdempotencyKey)
	if !ok {
		return
	}
	entry, err := h.Ledger.Debit(r.Context(), ledger.DebitInput{
		AccountID:      accountParam(r),
		Amount:         req.Amount,
		Kind:           ledger.Kind(req.Kind),
		Reason:         req.Reason,
		IdempotencyKey: key,
		Actor:          req.Actor,
	})
	if err != nil {
		h.fail(w, r, "Debit rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// Redeem exchanges points for a redemption code.
// POST /api/accounts/{id}/redemptions
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if !decode(w, r, &req) {
		return
	}
	key, ok := idempotencyKey(w, r, req.IdempotencyKey)
	if !ok {
		return
	}
	code, err := h.Ledger.Redeem(r.Context(), ledger.RedeemInput{
		AccountID:      accountParam(r),
		Amount:         req.Amount,
		IdempotencyKey: key,
		Actor:          req.Actor,
	})
	if err != nil {
		h.fail(w, r, "Redemption rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCodeDTO(code))
}

// RecordActivity credits a catalog activity.
// POST /api/accounts/{id}/activities
func (h *Handler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	h.catalogEvent(w, r, rewards.RuleActivity)
}

// ApplyPenalty debits a catalog penalty.
// POST /api/accounts/{id}/penalties
func (h *Handler) ApplyPenalty(w http.ResponseWriter, r *http.Request) {
	h.catalogEvent(w, r, rewards.RulePenalty)
}

func (h *Handler) catalogEvent(w http.ResponseWriter, r *http.Request, typ rewards.RuleType) {
	if h.Rewards == nil {
		writeError(w, http.StatusNotFound, "Rewards catalog not configured", nil)
		return
	}
	var req EventRequest
	if !decode(w, r, &req) {
		return
	}
	key, ok := idempotencyKey(w, r, req.IdempotencyKey)
	if !ok {
		return
	}
	post := h.Rewards.RecordActivity
	if typ == rewards.RulePenalty {
		post = h.Rewards.ApplyPenalty
	}
	entry, err := post(r.Context(), rewards.Event{
		AccountID:      accountParam(r),
		RuleID:         req.RuleID,
		Quantity:       req.Quantity,
		Note:           req.Note,
		IdempotencyKey: key,
		Actor:          req.Actor,
	})
	if err != nil {
		h.fail(w, r, "Event rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// GetEntry returns a single entry.
// GET /api/entries/{id}
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	e, err := h.Ledger.GetEntry(r.Context(), ledger.EntryID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(e))
}

// Reverse appends a compensating entry for an earlier one.
// POST /api/entries/{id}/reversal
func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	var req ReverseRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	entry, err := h.Ledger.Reverse(r.Context(), ledger.ReverseInput{
		EntryID: ledger.EntryID(chi.URLParam(r, "id")),
		Reason:  req.Reason,
		Actor:   req.Actor,
	})
	if err != nil {
		h.fail(w, r, "Reversal rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// =============================================================================
// CODE HANDLERS
// =============================================================================

// GET /api/codes/{code}
func (h *Handler) GetCode(w http.ResponseWriter, r *http.Request) {
	c, err := h.Ledger.GetCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, "Failed to get code", err)
		return
	}
	writeJSON(w, http.StatusOK, toCodeDTO(c))
}

// POST /api/codes/{code}/use
func (h *Handler) UseCode(w http.ResponseWriter, r *http.Request) {
	c, err := h.Ledger.MarkCodeUsed(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, "Code not usable", err)
		return
	}
	writeJSON(w, http.StatusOK, toCodeDTO(c))
}

// POST /api/codes/{code}/revoke
func (h *Handler) RevokeCode(w http.ResponseWriter, r *http.Request) {
	var req RevokeCodeRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	c, err := h.Ledger.RevokeCode(r.Context(), chi.URLParam(r, "code"), req.Reason)
	if err != nil {
		h.fail(w, r, "Code not revocable", err)
		return
	}
	writeJSON(w, http.StatusOK, toCodeDTO(c))
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// Summary returns a grouped report over [from, to).
// GET /api/reports/summary?from=&to=&group_by=&kind=
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	if !h.reportsEnabled(w) {
		return
	}
	from, to, ok := timeRange(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	groupBy, err := audit.ParseGroupBy(q.Get("group_by"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid group_by", err)
		return
	}
	kind := ledger.Kind(q.Get("kind"))
	if kind != "" && !kind.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid kind", ledger.ErrInvalidKind)
		return
	}

	rep, err := h.Reporter.Report(r.Context(), audit.Query{From: from, To: to, Kind: kind, GroupBy: groupBy})
	if err != nil {
		h.fail(w, r, "Failed to build report", err)
		return
	}
	rows := make([]AggregateDTO, len(rep.Rows))
	for i, a := range rep.Rows {
		rows[i] = toAggregateDTO(a)
	}
	writeJSON(w, http.StatusOK, ReportResponse{
		GroupBy: string(rep.GroupBy),
		From:    formatTime(rep.From),
		To:      formatTime(rep.To),
		AsOfSeq: rep.AsOfSeq,
		Rows:    rows,
		Totals:  toAggregateDTO(rep.Totals),
	})
}

// KindTotals returns the net delta per kind over [from, to).
// GET /api/reports/kinds?from=&to=
func (h *Handler) KindTotals(w http.ResponseWriter, r *http.Request) {
	if !h.reportsEnabled(w) {
		return
	}
	from, to, ok := timeRange(w, r)
	if !ok {
		return
	}
	sums, err := h.Reporter.SumByKind(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, "Failed to sum entries", err)
		return
	}
	totals := make(map[string]int64, len(sums))
	for k, v := range sums {
		totals[string(k)] = v
	}
	writeJSON(w, http.StatusOK, KindTotalsResponse{From: formatTime(from), To: formatTime(to), Totals: totals})
}

// Leaderboard returns the highest balances.
// GET /api/reports/leaderboard?limit=&role=
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	if !h.reportsEnabled(w) {
		return
	}
	limit, err := intParam(r, "limit", 10)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	rows, err := h.Reporter.TopBalances(r.Context(), limit, ledger.Role(r.URL.Query().Get("role")))
	if err != nil {
		h.fail(w, r, "Failed to build leaderboard", err)
		return
	}
	out := make([]LeaderboardRowDTO, len(rows))
	for i, b := range rows {
		out[i] = LeaderboardRowDTO{Rank: i + 1, AccountID: string(b.AccountID), Role: string(b.Role), Balance: b.Balance}
	}
	writeJSON(w, http.StatusOK, out)
}

// AccountHistory returns every entry of an account as of one snapshot.
// GET /api/reports/accounts/{id}
func (h *Handler) AccountHistory(w http.ResponseWriter, r *http.Request) {
	if !h.reportsEnabled(w) {
		return
	}
	entries, err := h.Reporter.HistoryForAccount(r.Context(), accountParam(r))
	if err != nil {
		h.fail(w, r, "Failed to load history", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// ExportCSV streams matching entries as CSV.
// GET /api/reports/export.csv?account=&kind=&from=&to=
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	if !h.reportsEnabled(w) {
		return
	}
	from, to, ok := timeRange(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	kind := ledger.Kind(q.Get("kind"))
	if kind != "" && !kind.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid kind", ledger.ErrInvalidKind)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="ledger-entries.csv"`)
	n, err := h.Reporter.ExportCSV(r.Context(), w, ledger.EntryFilter{
		AccountID: ledger.AccountID(q.Get("account")),
		Kind:      kind,
		From:      from,
		To:        to,
	})
	if err != nil {
		// Headers are already sent; the client sees a truncated body.
		h.log.Error().Err(err).Int("rows", n).Msg("csv export aborted")
		return
	}
	h.log.Debug().Int("rows", n).Msg("csv export finished")
}

func (h *Handler) reportsEnabled(w http.ResponseWriter) bool {
	if h.Reporter == nil {
		writeError(w, http.StatusNotFound, "Reports not configured", nil)
		return false
	}
	return true
}

// =============================================================================
// CATALOG & OPS
// =============================================================================

// ListCatalog returns every reward rule.
// GET /api/rewards/catalog
func (h *Handler) ListCatalog(w http.ResponseWriter, r *http.Request) {
	if h.Rewards == nil {
		writeJSON(w, http.StatusOK, []rewards.Rule{})
		return
	}
	writeJSON(w, http.StatusOK, h.Rewards.Catalog().Rules())
}

// Healthz reports process liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz pings every configured dependency.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	out := map[string]string{}
	for name, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			out[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		out[name] = "ok"
	}
	writeJSON(w, status, out)
}

// =============================================================================
// HELPERS
// =============================================================================

func accountParam(r *http.Request) ledger.AccountID {
	return ledger.AccountID(strings.TrimSpace(chi.URLParam(r, "id")))
}

// decode reads a JSON body, rejecting unknown fields. It writes a 400 and
// returns false on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// idempotencyKey merges the header and body keys.
func idempotencyKey(w http.ResponseWriter, r *http.Request, body string) (string, bool) {
	header := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	body = strings.TrimSpace(body)
	switch {
	case header == "":
		return body, true
	case body == "" || body == header:
		return header, true
	}
	writeError(w, http.StatusBadRequest, "Conflicting idempotency keys", ErrIdempotencyKeyMismatch)
	return "", false
}

func intParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

// parseTime accepts RFC 3339 or a bare date (midnight UTC).
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (use RFC 3339 or YYYY-MM-DD)", s)
	}
	return t, nil
}

func timeRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	from, err := parseTime(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from", err)
		return time.Time{}, time.Time{}, false
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to", err)
		return time.Time{}, time.Time{}, false
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		writeError(w, http.StatusBadRequest, "Invalid range", errors.New("from must be before to"))
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// fail maps a domain error onto a status and writes it.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, code := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status >= 500 {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg(message)
	}

	resp := ErrorResponse{Error: message, Code: code, Details: err.Error()}
	var insufficient *ledger.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		resp.Details = map[string]any{
			"message":   err.Error(),
			"available": insufficient.Available,
			"requested": insufficient.Requested,
			"shortfall": insufficient.Shortfall(),
		}
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ledger.ErrReasonRequired):
		return http.StatusBadRequest, "reason_required"
	case errors.Is(err, ledger.ErrInvalidKind):
		return http.StatusBadRequest, "invalid_kind"
	case errors.Is(err, ledger.ErrInvalidRole):
		return http.StatusBadRequest, "invalid_role"
	case errors.Is(err, ledger.ErrIdempotencyKeyReused):
		return http.StatusUnprocessableEntity, "idempotency_key_reused"
	case errors.Is(err, rewards.ErrInvalidQuantity), errors.Is(err, rewards.ErrQuantityTooLarge):
		return http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, rewards.ErrWrongRuleType):
		return http.StatusBadRequest, "wrong_rule_type"
	case errors.Is(err, rewards.ErrRoleNotAllowed):
		return http.StatusForbidden, "role_not_allowed"
	case errors.Is(err, rewards.ErrUnknownRule):
		return http.StatusNotFound, "unknown_rule"
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusConflict, "insufficient_balance"
	case errors.Is(err, ledger.ErrAlreadyReversed):
		return http.StatusConflict, "already_reversed"
	case errors.Is(err, ledger.ErrNotReversible):
		return http.StatusConflict, "not_reversible"
	case errors.Is(err, ledger.ErrCodeActive):
		return http.StatusConflict, "code_active"
	case errors.Is(err, ledger.ErrCodeUsed):
		return http.StatusConflict, "code_used"
	case errors.Is(err, ledger.ErrCodeExpired):
		return http.StatusConflict, "code_expired"
	case errors.Is(err, ledger.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case ledger.IsRetryable(err):
		return http.StatusServiceUnavailable, "contention"
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
