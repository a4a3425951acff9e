/*
store.go - Persistence interface for accounts, entries and codes

PURPOSE:
  Defines the boundary between the ledger engine and a storage backend.
  The Service is the only writer; it drives the Store through a narrow
  set of conditional or append-only operations.

KEY INTERFACES:
  Store:     Accounts (CAS), entries (append-only), codes, reporting reads
  TxStore:   Store + WithTx for atomic multi-table commits

APPEND-ONLY CONTRACT:
  - AppendEntry is the only write on ledger_entries
  - NO update or delete of entries exists
  - Accounts change only through CompareAndSwapAccount
  - Codes change only through TransitionCode (conditional on status)

ATOMIC COMMITS:
  A mutation is CAS(account) + AppendEntry (+ InsertCode for redemptions).
  WithTx runs them as one unit so a balance can never commit without its
  entry. A failure anywhere rolls all of them back.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite (default)
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - service.go: The only caller of the write methods
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Interface for ledger persistence
// =============================================================================

type Store interface {
	// GetAccount returns the account row, or a zero account (Version 0)
	// when the id was never written. It does not create the row.
	GetAccount(ctx context.Context, id AccountID) (Account, error)

	// CompareAndSwapAccount sets the balance if the stored version equals
	// expectedVersion, bumping the version by one. Expected version 0 on a
	// missing row creates it. Fails with *ConflictError otherwise.
	CompareAndSwapAccount(ctx context.Context, id AccountID, expectedVersion, newBalance int64) (Account, error)

	// AppendEntry persists an entry, assigning ID (if empty) and Seq.
	// Fails with ErrDuplicateIdempotencyKey or ErrAlreadyReversed when a
	// uniqueness constraint is violated.
	AppendEntry(ctx context.Context, e Entry) (Entry, error)

	GetEntry(ctx context.Context, id EntryID) (Entry, error)
	FindEntryByIdempotencyKey(ctx context.Context, key string) (Entry, error)

	// FindReversal returns the reversal that references entryID, if any.
	FindReversal(ctx context.Context, entryID EntryID) (Entry, bool, error)

	// ListEntries returns matching entries ordered by commit sequence.
	ListEntries(ctx context.Context, f EntryFilter) (EntryPage, error)

	// HighWaterMark returns the highest committed entry sequence.
	HighWaterMark(ctx context.Context) (int64, error)

	// InsertCode persists a new code. Fails with ErrDuplicateCode.
	InsertCode(ctx context.Context, c RedemptionCode) error
	GetCode(ctx context.Context, code string) (RedemptionCode, error)
	GetCodeByEntry(ctx context.Context, entryID EntryID) (RedemptionCode, error)

	// TransitionCode moves a code from -> to. Fails with ErrInvalidTransition
	// when the stored status is not from.
	TransitionCode(ctx context.Context, code string, from, to CodeStatus, at time.Time) (RedemptionCode, error)

	// ActiveCodesExpiring lists active codes with ExpiresAt <= before.
	ActiveCodesExpiring(ctx context.Context, before time.Time, limit int) ([]RedemptionCode, error)

	// SetRole records the account role without touching balance or version.
	SetRole(ctx context.Context, id AccountID, role Role) error

	// TopBalances returns accounts by balance descending. Empty role = all.
	TopBalances(ctx context.Context, limit int, role Role) ([]AccountBalance, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, everything fn wrote is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
