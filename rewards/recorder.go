package rewards

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/points-ledger/ledger"
)

// Ledger is the part of ledger.Service the recorder posts through.
type Ledger interface {
	Credit(ctx context.Context, in ledger.CreditInput) (ledger.Entry, error)
	Debit(ctx context.Context, in ledger.DebitInput) (ledger.Entry, error)
	GetAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error)
}

// Recorder prices catalog events and posts them to the ledger.
type Recorder struct {
	ledger  Ledger
	catalog *Catalog
}

func NewRecorder(l Ledger, c *Catalog) *Recorder {
	return &Recorder{ledger: l, catalog: c}
}

func (r *Recorder) Catalog() *Catalog { return r.catalog }

// Event is one occurrence of a catalog rule for an account.
type Event struct {
	AccountID      ledger.AccountID
	RuleID         string
	Quantity       decimal.Decimal // zero means 1
	Note           string
	IdempotencyKey string
	Actor          string
}

// RecordActivity credits the points an activity rule pays.
func (r *Recorder) RecordActivity(ctx context.Context, ev Event) (ledger.Entry, error) {
	rule, pts, err := r.price(ctx, ev, RuleActivity)
	if err != nil {
		return ledger.Entry{}, err
	}
	return r.ledger.Credit(ctx, ledger.CreditInput{
		AccountID:      ev.AccountID,
		Amount:         pts,
		Kind:           ledger.KindAward,
		Reason:         reason(rule, ev),
		IdempotencyKey: ev.IdempotencyKey,
		Actor:          ev.Actor,
	})
}

// ApplyPenalty debits the points a penalty rule costs. An account that
// cannot cover it gets ledger.ErrInsufficientBalance, not a partial debit.
func (r *Recorder) ApplyPenalty(ctx context.Context, ev Event) (ledger.Entry, error) {
	rule, pts, err := r.price(ctx, ev, RulePenalty)
	if err != nil {
		return ledger.Entry{}, err
	}
	return r.ledger.Debit(ctx, ledger.DebitInput{
		AccountID:      ev.AccountID,
		Amount:         pts,
		Kind:           ledger.KindPenalty,
		Reason:         reason(rule, ev),
		IdempotencyKey: ev.IdempotencyKey,
		Actor:          ev.Actor,
	})
}

func (r *Recorder) price(ctx context.Context, ev Event, want RuleType) (Rule, int64, error) {
	rule, err := r.catalog.Rule(ev.RuleID)
	if err != nil {
		return Rule{}, 0, err
	}
	if rule.Type != want {
		return Rule{}, 0, fmt.Errorf("%w: %s is a %s", ErrWrongRuleType, rule.ID, rule.Type)
	}
	if rule.Role != "" {
		acct, err := r.ledger.GetAccount(ctx, ev.AccountID)
		if err != nil {
			return Rule{}, 0, err
		}
		role := acct.Role
		if role == "" {
			role = ledger.RoleResident
		}
		if role != rule.Role {
			return Rule{}, 0, fmt.Errorf("%w: %s requires %s, account is %s", ErrRoleNotAllowed, rule.ID, rule.Role, role)
		}
	}
	qty := ev.Quantity
	if qty.IsZero() {
		qty = decimal.NewFromInt(1)
	}
	pts, err := rule.PointsFor(qty)
	if err != nil {
		return Rule{}, 0, err
	}
	return rule, pts, nil
}

func reason(rule Rule, ev Event) string {
	qty := ev.Quantity
	if qty.IsZero() {
		qty = decimal.NewFromInt(1)
	}
	s := fmt.Sprintf("%s (%s %s)", rule.Name, qty.String(), rule.Unit)
	if ev.Note != "" {
		s += ": " + ev.Note
	}
	return s
}
