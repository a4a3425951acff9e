/*
errors.go - Error taxonomy for the points ledger

ERROR CATEGORIES:
  1. Caller errors - invalid amount, missing reason, bad kind/role,
     an idempotency key reused for a different request
  2. Business rules - insufficient balance, already reversed, code state
  3. Concurrency - conflict (internal, retried) and contention (surfaced)
  4. Lookup - not found

Only ErrConflict is handled inside the Service. Everything else is
returned to the caller so the API layer can choose its own messaging;
InsufficientBalance and InvalidAmount are always distinguishable.

SEE ALSO:
  - service.go: Produces these errors
  - api/handlers.go: Maps them onto HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConflict is returned by CompareAndSwapAccount when another writer
	// committed first. The Service retries it; callers should never see it.
	ErrConflict = errors.New("version conflict")

	// ErrContention means the retry bound was exhausted. Safe to retry later.
	ErrContention = errors.New("too much contention on account")

	ErrNotFound        = errors.New("not found")
	ErrAlreadyReversed = errors.New("entry already reversed")
	ErrNotReversible   = errors.New("entry kind cannot be reversed")

	ErrReasonRequired = errors.New("reason is required")
	ErrInvalidKind    = errors.New("invalid entry kind for operation")
	ErrInvalidRole    = errors.New("invalid role")

	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrIdempotencyKeyReused means a key was replayed with a different
	// account, amount or kind than the request that first used it.
	ErrIdempotencyKeyReused = errors.New("idempotency key reused for a different request")
	ErrDuplicateCode           = errors.New("duplicate redemption code")

	ErrInvalidTransition = errors.New("invalid code status transition")
	ErrCodeActive        = errors.New("redemption code is still active")
	ErrCodeUsed          = errors.New("redemption code already used")
	ErrCodeExpired       = errors.New("redemption code expired")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports the shortfall of a rejected debit.
type InsufficientBalanceError struct {
	AccountID AccountID
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Shortfall() int64 { return e.Requested - e.Available }

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: available %d, requested %d, shortfall %d",
		e.AccountID, e.Available, e.Requested, e.Shortfall())
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InvalidAmountError reports a non-positive amount, one below a minimum,
// or one that would push the balance past the int64 range.
type InvalidAmountError struct {
	Amount   int64
	Minimum  int64
	Overflow bool
	Balance  int64 // set with Overflow
}

func (e *InvalidAmountError) Error() string {
	if e.Overflow {
		return fmt.Sprintf("invalid amount %d: balance %d would overflow", e.Amount, e.Balance)
	}
	if e.Minimum > 1 {
		return fmt.Sprintf("invalid amount %d: minimum is %d", e.Amount, e.Minimum)
	}
	return fmt.Sprintf("invalid amount %d: must be > 0", e.Amount)
}

func (e *InvalidAmountError) Unwrap() error { return ErrInvalidAmount }

// ConflictError is a lost compare-and-swap race.
type ConflictError struct {
	AccountID AccountID
	Expected  int64
	Actual    int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %d, found %d", e.AccountID, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the caller may resubmit the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention) || errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrReasonRequired) ||
		errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, ErrInvalidRole) ||
		errors.Is(err, ErrIdempotencyKeyReused)
}

// IsBusinessRule returns true for well-formed requests rejected by ledger rules.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAlreadyReversed) ||
		errors.Is(err, ErrNotReversible) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrCodeActive) ||
		errors.Is(err, ErrCodeUsed) ||
		errors.Is(err, ErrCodeExpired)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
