/*
Package rewards turns neighbourhood activity into ledger postings.

PURPOSE:
  Residents earn points for filing waste reports and dropping off
  recyclables; workers earn points for completed pickups. Misconduct costs
  points. The catalog holds the rate for every activity and penalty, so
  amounts are never chosen by the caller.

RULE TYPES:
  activity:  Credited as ledger.KindAward
  penalty:   Debited as ledger.KindPenalty (rejected, never clamped, when
             the balance is too low)

RATES:
  A rule pays Points per Unit. Quantities may be fractional (2.5 kg of
  glass); the product is computed with decimal arithmetic and floored to
  whole points, because the ledger only stores integers.

EXAMPLE FLOW:
  1. Resident files a report:        +10  (report_filed x1)
  2. Drops off 2.5 kg of recycling:  +5   (recycling_dropoff, 2 pts/kg)
  3. Files a false report:           -25  (false_report)
  4. Balance: 15 - 25 -> rejected, balance stays 15

SEE ALSO:
  - catalog.go: Default rules and YAML loading
  - recorder.go: Posting rules through ledger.Service
*/
package rewards

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/warp/points-ledger/ledger"
)

// =============================================================================
// RULES
// =============================================================================

type RuleType string

const (
	RuleActivity RuleType = "activity"
	RulePenalty  RuleType = "penalty"
)

type Category string

const (
	CategoryReporting Category = "reporting"
	CategoryRecycling Category = "recycling"
	CategoryPickup    Category = "pickup"
	CategoryLearning  Category = "learning"
	CategoryConduct   Category = "conduct"
)

// Rule is one priced activity or penalty.
type Rule struct {
	ID          string          `yaml:"id" json:"id"`
	Name        string          `yaml:"name" json:"name"`
	Type        RuleType        `yaml:"-" json:"type"`
	Category    Category        `yaml:"category" json:"category"`
	Points      decimal.Decimal `yaml:"-" json:"points"`
	Unit        string          `yaml:"unit" json:"unit"`
	Role        ledger.Role     `yaml:"role" json:"role,omitempty"` // empty = anyone
	MaxQuantity decimal.Decimal `yaml:"-" json:"max_quantity"`      // zero = unlimited
}

// Kind is the ledger kind a rule posts as.
func (r Rule) Kind() ledger.Kind {
	if r.Type == RulePenalty {
		return ledger.KindPenalty
	}
	return ledger.KindAward
}

// PointsFor returns floor(quantity x Points).
func (r Rule) PointsFor(quantity decimal.Decimal) (int64, error) {
	if !quantity.IsPositive() {
		return 0, ErrInvalidQuantity
	}
	if !r.MaxQuantity.IsZero() && quantity.GreaterThan(r.MaxQuantity) {
		return 0, ErrQuantityTooLarge
	}
	pts := quantity.Mul(r.Points).Floor()
	if !pts.IsPositive() {
		return 0, &ledger.InvalidAmountError{Amount: pts.IntPart(), Minimum: 1}
	}
	return pts.IntPart(), nil
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrUnknownRule      = errors.New("unknown reward rule")
	ErrWrongRuleType    = errors.New("rule has the wrong type for this operation")
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrQuantityTooLarge = errors.New("quantity exceeds the rule maximum")
	ErrRoleNotAllowed   = errors.New("account role cannot earn this activity")
)
