/*
Package ledger provides the points ledger engine.

PURPOSE:
  Maintains per-account point balances together with an append-only,
  verifiable history of every change. Residents earn points for reports,
  workers for pickups; penalties and redemptions spend them. All of those
  flows go through one Service so balances can never drift from history.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: current balance + version (optimistic concurrency token)
  - Entry: one immutable ledger row per committed mutation
  - Kind: why the balance changed (award, penalty, adjustment, ...)
  - RedemptionCode: a voucher issued when points are redeemed

DESIGN PRINCIPLES:
  1. Append-only: entries are never updated or deleted, only reversed
  2. Integers: points are whole numbers, no floats anywhere in the ledger
  3. Versioned accounts: every mutation is a compare-and-swap on Version
  4. Snapshots in entries: ResultingBalance allows audit without replay

USAGE:
  svc := ledger.NewService(store)
  entry, err := svc.Credit(ctx, ledger.CreditInput{
      AccountID:      "resident-42",
      Amount:         10,
      Reason:         "waste report filed",
      IdempotencyKey: "report-981",
  })

SEE ALSO:
  - service.go: Mutation algorithm (CAS + bounded retry)
  - store.go: Persistence interfaces
  - errors.go: Error taxonomy
*/
package ledger

import (
	"strconv"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type EntryID string

// Cursor is an opaque continuation token for paged entry listings.
// The zero value starts from the beginning.
type Cursor string

// CursorFromSeq encodes a store sequence number as a cursor.
func CursorFromSeq(seq int64) Cursor {
	if seq <= 0 {
		return ""
	}
	return Cursor(strconv.FormatInt(seq, 36))
}

// Seq decodes the cursor. An empty or malformed cursor decodes to 0.
func (c Cursor) Seq() int64 {
	if c == "" {
		return 0
	}
	n, err := strconv.ParseInt(string(c), 36, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// =============================================================================
// ROLES
// =============================================================================

type Role string

const (
	RoleResident Role = "resident"
	RoleWorker   Role = "worker"
	RoleAdmin    Role = "admin"

	// DefaultRole is the role of an account nobody assigned one to.
	DefaultRole = RoleResident
)

func (r Role) Valid() bool {
	switch r {
	case RoleResident, RoleWorker, RoleAdmin:
		return true
	}
	return false
}

// =============================================================================
// ACCOUNT
// =============================================================================

// Account is the mutable balance row of a single user.
//
// INVARIANTS:
//   - Balance >= 0, always.
//   - Version increases by exactly one per committed mutation.
//
// An account that was never written is reported with Balance 0, Version 0
// and DefaultRole.
type Account struct {
	ID        AccountID
	Balance   int64
	Version   int64
	Role      Role
	UpdatedAt time.Time
}

// =============================================================================
// ENTRY - Immutable ledger row
// =============================================================================

type Kind string

const (
	KindAward           Kind = "award"            // Points earned (report filed, pickup done)
	KindPenalty         Kind = "penalty"          // Points taken for misconduct
	KindAdminAdjustment Kind = "admin_adjustment" // Manual correction, either sign
	KindRedemption      Kind = "redemption"       // Points exchanged for a code
	KindReversal        Kind = "reversal"         // Undo of an earlier entry
)

// Kinds lists every entry kind in reporting order.
var Kinds = []Kind{KindAward, KindPenalty, KindAdminAdjustment, KindRedemption, KindReversal}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// RequiresReason reports whether entries of this kind must carry a reason.
func (k Kind) RequiresReason() bool {
	return k == KindPenalty || k == KindAdminAdjustment || k == KindRedemption
}

type Entry struct {
	ID               EntryID
	Seq              int64 // store-assigned commit sequence
	AccountID        AccountID
	Delta            int64
	Kind             Kind
	Reason           string
	RelatedEntryID   EntryID // set on reversals
	ResultingBalance int64
	Version          int64 // account version produced by this entry
	IdempotencyKey   string
	Actor            string
	Timestamp        time.Time
}

// EntryFilter narrows ListEntries. Zero fields do not filter.
type EntryFilter struct {
	AccountID AccountID
	From      time.Time // inclusive
	To        time.Time // exclusive
	Kind      Kind
	After     Cursor
	// UntilSeq pins the listing to entries committed at or before this sequence.
	UntilSeq int64
	Limit    int
}

// EntryPage is one page of a listing. Next is empty on the last page.
type EntryPage struct {
	Entries []Entry
	Next    Cursor
}

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// NormalizeLimit clamps a requested page size into [1, MaxPageSize].
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// Matches reports whether e satisfies the filter, ignoring paging fields.
func (f EntryFilter) Matches(e Entry) bool {
	if f.AccountID != "" && e.AccountID != f.AccountID {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
		return false
	}
	if f.UntilSeq > 0 && e.Seq > f.UntilSeq {
		return false
	}
	return true
}

// =============================================================================
// REDEMPTION CODES
// =============================================================================

type CodeStatus string

const (
	CodeActive  CodeStatus = "active"
	CodeUsed    CodeStatus = "used"
	CodeExpired CodeStatus = "expired"
	CodeRevoked CodeStatus = "revoked"
)

// CanTransition reports whether a code may move from s to next.
// Only Active codes change state; the other states are terminal.
func (s CodeStatus) CanTransition(next CodeStatus) bool {
	if s != CodeActive {
		return false
	}
	return next == CodeUsed || next == CodeExpired || next == CodeRevoked
}

type RedemptionCode struct {
	Code          string
	AccountID     AccountID
	PointsUsed    int64
	Status        CodeStatus
	IssuedEntryID EntryID
	ExpiresAt     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// =============================================================================
// REPORTING
// =============================================================================

// AccountBalance is one leaderboard row.
type AccountBalance struct {
	AccountID AccountID
	Role      Role
	Balance   int64
}
