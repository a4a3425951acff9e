/*
service.go - The only write path to balances

PURPOSE:
  Service exposes credit, debit, redeem and reverse. Every one of them
  follows the same mutation algorithm so the invariants are enforced in
  exactly one place.

MUTATION ALGORITHM:
  1. Idempotency: a known key returns the entry it produced, unchanged.
     Keys are scoped by operation and account, and a replay whose account,
     delta or kind differs from the request fails with
     ErrIdempotencyKeyReused
  2. Read the account (balance, version)
  3. Validate against the balance just read
  4. In one store transaction: CAS(version) -> append entry (-> code)
  5. On ErrConflict go back to 2, at most MaxAttempts times,
     then fail with ErrContention
  6. Remember key -> entry

  Duplicate submissions of the same key that arrive concurrently are
  collapsed with singleflight; across processes the unique index on
  idempotency_key makes the loser's transaction roll back and the
  stored original is returned instead.

POLICY:
  Debits never clamp. A debit larger than the balance is rejected as a
  whole with *InsufficientBalanceError and nothing is written.

REVERSALS:
  reverse(e) appends a KindReversal entry with Delta = -e.Delta through
  the same algorithm. A reversal cannot be reversed. A redemption can
  only be reversed once its code is revoked or expired.

SEE ALSO:
  - store.go: TxStore contract
  - idempotency.go: Recent-key cache
  - codes.go: Redemption code generator
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

const (
	DefaultMinRedemption = 50
	DefaultMaxAttempts   = 5
	DefaultCodeTTL       = 30 * 24 * time.Hour
)

// Config tunes ledger rules. Zero values fall back to the defaults.
type Config struct {
	MinRedemption int64
	MaxAttempts   int
	CodeTTL       time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinRedemption <= 0 {
		c.MinRedemption = DefaultMinRedemption
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = DefaultCodeTTL
	}
	return c
}

// Operation names, used for idempotency scoping, logs and metrics.
const (
	OpCredit  = "credit"
	OpDebit   = "debit"
	OpRedeem  = "redeem"
	OpReverse = "reverse"
)

// Observer receives ledger events. metrics.Metrics implements it.
type Observer interface {
	Committed(op string, kind Kind, delta int64)
	Rejected(op string, err error)
	Retried(op string)
	Replayed(op string)
	CodeTransitioned(to CodeStatus)
}

type nopObserver struct{}

func (nopObserver) Committed(string, Kind, int64) {}
func (nopObserver) Rejected(string, error)        {}
func (nopObserver) Retried(string)                {}
func (nopObserver) Replayed(string)               {}
func (nopObserver) CodeTransitioned(CodeStatus)   {}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store    TxStore
	cache    IdempotencyCache
	codes    CodeGenerator
	observer Observer
	log      zerolog.Logger
	now      func() time.Time
	newKey   func() string
	cfg      Config
	flight   singleflight.Group
}

type Option func(*Service)

func WithConfig(cfg Config) Option { return func(s *Service) { s.cfg = cfg.withDefaults() } }

func WithIdempotencyCache(c IdempotencyCache) Option { return func(s *Service) { s.cache = c } }

func WithCodeGenerator(g CodeGenerator) Option { return func(s *Service) { s.codes = g } }

func WithObserver(o Observer) Option { return func(s *Service) { s.observer = o } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store TxStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		cache:    NewLRUCache(DefaultIdempotencyCacheSize),
		codes:    NewRandomCodeGenerator(DefaultCodeLength),
		observer: nopObserver{},
		log:      zerolog.Nop(),
		now:      time.Now,
		newKey:   uuid.NewString,
		cfg:      Config{}.withDefaults(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Config() Config { return s.cfg }

// =============================================================================
// INPUTS
// =============================================================================

type CreditInput struct {
	AccountID      AccountID
	Amount         int64
	Kind           Kind // KindAward (default) or KindAdminAdjustment
	Reason         string
	IdempotencyKey string
	Actor          string
}

type DebitInput struct {
	AccountID      AccountID
	Amount         int64
	Kind           Kind // KindPenalty (default) or KindAdminAdjustment
	Reason         string
	IdempotencyKey string
	Actor          string
}

type RedeemInput struct {
	AccountID      AccountID
	Amount         int64
	IdempotencyKey string
	Actor          string
}

type ReverseInput struct {
	EntryID EntryID
	Reason  string
	Actor   string
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Credit adds points to an account.
func (s *Service) Credit(ctx context.Context, in CreditInput) (Entry, error) {
	kind := in.Kind
	if kind == "" {
		kind = KindAward
	}
	if err := s.validate(OpCredit, in.AccountID, in.Amount, 1, kind, in.Reason, KindAward, KindAdminAdjustment); err != nil {
		return Entry{}, err
	}
	want := intent{delta: in.Amount, kind: kind}
	return s.apply(ctx, OpCredit, in.AccountID, in.IdempotencyKey, want, func(_ context.Context, acct Account) (plan, error) {
		return plan{entry: Entry{Delta: in.Amount, Kind: kind, Reason: in.Reason, Actor: in.Actor}}, nil
	})
}

// Debit removes exactly Amount points or fails without writing anything.
func (s *Service) Debit(ctx context.Context, in DebitInput) (Entry, error) {
	kind := in.Kind
	if kind == "" {
		kind = KindPenalty
	}
	if err := s.validate(OpDebit, in.AccountID, in.Amount, 1, kind, in.Reason, KindPenalty, KindAdminAdjustment); err != nil {
		return Entry{}, err
	}
	want := intent{delta: -in.Amount, kind: kind}
	return s.apply(ctx, OpDebit, in.AccountID, in.IdempotencyKey, want, func(_ context.Context, acct Account) (plan, error) {
		if in.Amount > acct.Balance {
			return plan{}, &InsufficientBalanceError{AccountID: acct.ID, Available: acct.Balance, Requested: in.Amount}
		}
		return plan{entry: Entry{Delta: -in.Amount, Kind: kind, Reason: in.Reason, Actor: in.Actor}}, nil
	})
}

// Redeem debits Amount points and issues an Active code for them.
func (s *Service) Redeem(ctx context.Context, in RedeemInput) (RedemptionCode, error) {
	reason := fmt.Sprintf("redeemed %d points", in.Amount)
	if err := s.validate(OpRedeem, in.AccountID, in.Amount, s.cfg.MinRedemption, KindRedemption, reason, KindRedemption); err != nil {
		return RedemptionCode{}, err
	}
	want := intent{delta: -in.Amount, kind: KindRedemption}
	entry, err := s.apply(ctx, OpRedeem, in.AccountID, in.IdempotencyKey, want, func(_ context.Context, acct Account) (plan, error) {
		if in.Amount > acct.Balance {
			return plan{}, &InsufficientBalanceError{AccountID: acct.ID, Available: acct.Balance, Requested: in.Amount}
		}
		return plan{
			entry:     Entry{Delta: -in.Amount, Kind: KindRedemption, Reason: reason, Actor: in.Actor},
			issueCode: true,
		}, nil
	})
	if err != nil {
		return RedemptionCode{}, err
	}
	return s.store.GetCodeByEntry(ctx, entry.ID)
}

// Reverse undoes an entry by appending its inverse.
func (s *Service) Reverse(ctx context.Context, in ReverseInput) (Entry, error) {
	orig, err := s.store.GetEntry(ctx, in.EntryID)
	if err != nil {
		return Entry{}, s.reject(OpReverse, fmt.Errorf("entry %s: %w", in.EntryID, err))
	}
	if orig.Kind == KindReversal {
		return Entry{}, s.reject(OpReverse, ErrNotReversible)
	}
	if orig.Kind == KindRedemption {
		code, err := s.store.GetCodeByEntry(ctx, orig.ID)
		if err != nil {
			return Entry{}, err
		}
		switch code.Status {
		case CodeActive:
			return Entry{}, s.reject(OpReverse, ErrCodeActive)
		case CodeUsed:
			return Entry{}, s.reject(OpReverse, ErrCodeUsed)
		}
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = "reversal of " + string(orig.ID)
	}

	// Reversals are deduplicated by the one-reversal-per-entry rule, not
	// by a caller key, so a second attempt surfaces ErrAlreadyReversed.
	return s.apply(ctx, OpReverse, orig.AccountID, "", intent{}, func(ctx context.Context, acct Account) (plan, error) {
		if _, found, err := s.store.FindReversal(ctx, orig.ID); err != nil {
			return plan{}, err
		} else if found {
			return plan{}, ErrAlreadyReversed
		}
		delta := -orig.Delta
		if acct.Balance+delta < 0 {
			return plan{}, &InsufficientBalanceError{AccountID: acct.ID, Available: acct.Balance, Requested: -delta}
		}
		return plan{entry: Entry{
			Delta:          delta,
			Kind:           KindReversal,
			Reason:         reason,
			RelatedEntryID: orig.ID,
			Actor:          in.Actor,
		}}, nil
	})
}

func (s *Service) GetBalance(ctx context.Context, id AccountID) (int64, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

func (s *Service) GetAccount(ctx context.Context, id AccountID) (Account, error) {
	return s.store.GetAccount(ctx, id)
}

// History returns one page of an account's entries, oldest first.
func (s *Service) History(ctx context.Context, id AccountID, after Cursor, limit int) (EntryPage, error) {
	return s.store.ListEntries(ctx, EntryFilter{AccountID: id, After: after, Limit: NormalizeLimit(limit)})
}

func (s *Service) GetEntry(ctx context.Context, id EntryID) (Entry, error) {
	return s.store.GetEntry(ctx, id)
}

func (s *Service) SetRole(ctx context.Context, id AccountID, role Role) error {
	if strings.TrimSpace(string(id)) == "" {
		return ErrNotFound
	}
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return s.store.SetRole(ctx, id, role)
}

// =============================================================================
// CODE STATE TRANSITIONS - never touch balances
// =============================================================================

func (s *Service) GetCode(ctx context.Context, code string) (RedemptionCode, error) {
	return s.store.GetCode(ctx, NormalizeCode(code))
}

// MarkCodeUsed consumes an active code. A code past its expiry is moved
// to Expired instead and ErrCodeExpired is returned.
func (s *Service) MarkCodeUsed(ctx context.Context, code string) (RedemptionCode, error) {
	c, err := s.store.GetCode(ctx, NormalizeCode(code))
	if err != nil {
		return RedemptionCode{}, err
	}
	now := s.now().UTC()
	if c.Status == CodeActive && !now.Before(c.ExpiresAt) {
		if _, err := s.transition(ctx, c, CodeExpired, now); err != nil && !errors.Is(err, ErrInvalidTransition) {
			return RedemptionCode{}, err
		}
		return RedemptionCode{}, ErrCodeExpired
	}
	return s.transition(ctx, c, CodeUsed, now)
}

// RevokeCode cancels an active code. The points stay debited until an
// admin reverses the redemption entry.
func (s *Service) RevokeCode(ctx context.Context, code, reason string) (RedemptionCode, error) {
	c, err := s.store.GetCode(ctx, NormalizeCode(code))
	if err != nil {
		return RedemptionCode{}, err
	}
	out, err := s.transition(ctx, c, CodeRevoked, s.now().UTC())
	if err == nil {
		s.log.Info().Str("code", out.Code).Str("account", string(out.AccountID)).Str("reason", reason).Msg("redemption code revoked")
	}
	return out, err
}

// ExpireCodes moves every active code past its expiry to Expired and
// returns how many were moved.
func (s *Service) ExpireCodes(ctx context.Context, now time.Time) (int, error) {
	const batch = 100
	expired := 0
	for {
		codes, err := s.store.ActiveCodesExpiring(ctx, now, batch)
		if err != nil {
			return expired, err
		}
		moved := 0
		for _, c := range codes {
			if _, err := s.transition(ctx, c, CodeExpired, now); err != nil {
				if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrCodeUsed) {
					continue // changed state under us
				}
				return expired, err
			}
			moved++
		}
		expired += moved
		if len(codes) < batch || moved == 0 {
			return expired, nil
		}
	}
}

func (s *Service) transition(ctx context.Context, c RedemptionCode, to CodeStatus, at time.Time) (RedemptionCode, error) {
	if !c.Status.CanTransition(to) {
		switch c.Status {
		case CodeUsed:
			return RedemptionCode{}, ErrCodeUsed
		case CodeExpired:
			return RedemptionCode{}, ErrCodeExpired
		}
		return RedemptionCode{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}
	out, err := s.store.TransitionCode(ctx, c.Code, c.Status, to, at)
	if err != nil {
		return RedemptionCode{}, err
	}
	s.observer.CodeTransitioned(to)
	return out, nil
}

// =============================================================================
// MUTATION ENGINE
// =============================================================================

type plan struct {
	entry     Entry
	issueCode bool
}

type planFunc func(ctx context.Context, acct Account) (plan, error)

func (s *Service) validate(op string, id AccountID, amount, minimum int64, kind Kind, reason string, allowed ...Kind) error {
	if strings.TrimSpace(string(id)) == "" {
		return s.reject(op, fmt.Errorf("account id: %w", ErrNotFound))
	}
	if amount <= 0 || amount < minimum {
		return s.reject(op, &InvalidAmountError{Amount: amount, Minimum: minimum})
	}
	ok := false
	for _, k := range allowed {
		if kind == k {
			ok = true
			break
		}
	}
	if !ok {
		return s.reject(op, fmt.Errorf("%w: %s cannot be used for %s", ErrInvalidKind, kind, op))
	}
	if kind.RequiresReason() && strings.TrimSpace(reason) == "" {
		return s.reject(op, fmt.Errorf("%w for %s", ErrReasonRequired, kind))
	}
	return nil
}

func (s *Service) reject(op string, err error) error {
	s.observer.Rejected(op, err)
	return err
}

// scopeKey namespaces a caller key by operation and account: the same key
// used for a credit and for a redeem, or on two accounts, does not collide.
func scopeKey(op string, id AccountID, key string) string {
	return op + ":" + string(id) + ":" + key
}

// intent is what a keyed request asks for. A replayed entry must match it.
type intent struct {
	delta int64
	kind  Kind
}

func (s *Service) apply(ctx context.Context, op string, id AccountID, key string, want intent, fn planFunc) (Entry, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return s.commit(ctx, op, id, scopeKey(op, id, s.newKey()), fn)
	}
	scoped := scopeKey(op, id, key)
	e, err := s.applyKeyed(ctx, op, id, scoped, fn)
	if err != nil {
		return Entry{}, err
	}
	// A replay must be the same request. The account is checked too since
	// ids may contain ':' and two scoped keys can coincide.
	if e.AccountID != id || e.Delta != want.delta || e.Kind != want.kind {
		return Entry{}, s.reject(op, fmt.Errorf("%w: key %q already produced %+d %s on %s",
			ErrIdempotencyKeyReused, key, e.Delta, e.Kind, e.AccountID))
	}
	return e, nil
}

func (s *Service) applyKeyed(ctx context.Context, op string, id AccountID, scoped string, fn planFunc) (Entry, error) {
	if e, ok, err := s.replay(ctx, scoped); err != nil {
		return Entry{}, err
	} else if ok {
		s.observer.Replayed(op)
		return e, nil
	}

	v, err, _ := s.flight.Do(scoped, func() (any, error) {
		if e, ok, err := s.replay(ctx, scoped); err != nil {
			return Entry{}, err
		} else if ok {
			s.observer.Replayed(op)
			return e, nil
		}
		e, err := s.commit(ctx, op, id, scoped, fn)
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			// Another process committed this key first.
			e, err = s.store.FindEntryByIdempotencyKey(ctx, scoped)
			if err == nil {
				s.observer.Replayed(op)
			}
		}
		if err != nil {
			return Entry{}, err
		}
		if err := s.cache.Put(ctx, scoped, e.ID); err != nil {
			s.log.Warn().Err(err).Str("op", op).Msg("idempotency cache put failed")
		}
		return e, nil
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

func (s *Service) replay(ctx context.Context, scoped string) (Entry, bool, error) {
	if id, ok, err := s.cache.Get(ctx, scoped); err != nil {
		s.log.Warn().Err(err).Msg("idempotency cache get failed")
	} else if ok {
		e, err := s.store.GetEntry(ctx, id)
		if err == nil {
			return e, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Entry{}, false, err
		}
	}
	e, err := s.store.FindEntryByIdempotencyKey(ctx, scoped)
	if errors.Is(err, ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	_ = s.cache.Put(ctx, scoped, e.ID)
	return e, true, nil
}

func (s *Service) commit(ctx context.Context, op string, id AccountID, scoped string, fn planFunc) (Entry, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Entry{}, err
		}
		acct, err := s.store.GetAccount(ctx, id)
		if err != nil {
			return Entry{}, err
		}
		p, err := fn(ctx, acct)
		if err != nil {
			return Entry{}, s.reject(op, err)
		}
		if p.entry.Delta > 0 && acct.Balance > math.MaxInt64-p.entry.Delta {
			return Entry{}, s.reject(op, &InvalidAmountError{Amount: p.entry.Delta, Overflow: true, Balance: acct.Balance})
		}
		newBalance := acct.Balance + p.entry.Delta
		if newBalance < 0 {
			return Entry{}, s.reject(op, &InsufficientBalanceError{AccountID: id, Available: acct.Balance, Requested: -p.entry.Delta})
		}

		var committed Entry
		err = s.store.WithTx(ctx, func(tx Store) error {
			updated, err := tx.CompareAndSwapAccount(ctx, id, acct.Version, newBalance)
			if err != nil {
				return err
			}
			e := p.entry
			e.AccountID = id
			e.ResultingBalance = updated.Balance
			e.Version = updated.Version
			e.IdempotencyKey = scoped
			e.Timestamp = s.now().UTC()
			committed, err = tx.AppendEntry(ctx, e)
			if err != nil {
				return err
			}
			if p.issueCode {
				return s.issueCode(ctx, tx, committed)
			}
			return nil
		})

		switch {
		case err == nil:
			s.observer.Committed(op, committed.Kind, committed.Delta)
			s.log.Debug().
				Str("op", op).
				Str("account", string(id)).
				Str("entry", string(committed.ID)).
				Int64("delta", committed.Delta).
				Int64("balance", committed.ResultingBalance).
				Int64("version", committed.Version).
				Msg("ledger mutation committed")
			return committed, nil
		case errors.Is(err, ErrConflict), errors.Is(err, ErrDuplicateCode):
			lastErr = err
			s.observer.Retried(op)
			s.log.Debug().Err(err).Str("op", op).Str("account", string(id)).Int("attempt", attempt).Msg("retrying ledger mutation")
			continue
		default:
			if errors.Is(err, ErrAlreadyReversed) {
				return Entry{}, s.reject(op, err)
			}
			return Entry{}, err
		}
	}

	s.log.Warn().Str("op", op).Str("account", string(id)).Int("attempts", s.cfg.MaxAttempts).Msg("ledger mutation gave up")
	if errors.Is(lastErr, ErrDuplicateCode) {
		return Entry{}, fmt.Errorf("issue redemption code: %w", lastErr)
	}
	return Entry{}, s.reject(op, fmt.Errorf("%w %s after %d attempts", ErrContention, id, s.cfg.MaxAttempts))
}

func (s *Service) issueCode(ctx context.Context, tx Store, e Entry) error {
	code, err := s.codes.Generate(e.AccountID, e.ID)
	if err != nil {
		return fmt.Errorf("generate redemption code: %w", err)
	}
	return tx.InsertCode(ctx, RedemptionCode{
		Code:          code,
		AccountID:     e.AccountID,
		PointsUsed:    -e.Delta,
		Status:        CodeActive,
		IssuedEntryID: e.ID,
		ExpiresAt:     e.Timestamp.Add(s.cfg.CodeTTL),
		CreatedAt:     e.Timestamp,
		UpdatedAt:     e.Timestamp,
	})
}
