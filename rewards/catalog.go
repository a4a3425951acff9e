package rewards

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/points-ledger/ledger"
)

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is an immutable set of rules keyed by ID.
type Catalog struct {
	rules map[string]Rule
}

func NewCatalog(rules ...Rule) (*Catalog, error) {
	c := &Catalog{rules: make(map[string]Rule, len(rules))}
	for _, r := range rules {
		if err := validateRule(r); err != nil {
			return nil, err
		}
		if _, dup := c.rules[r.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		c.rules[r.ID] = r
	}
	return c, nil
}

func (c *Catalog) Rule(id string) (Rule, error) {
	r, ok := c.rules[id]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %q", ErrUnknownRule, id)
	}
	return r, nil
}

// Rules returns every rule, activities first, each group sorted by ID.
func (c *Catalog) Rules() []Rule {
	out := make([]Rule, 0, len(c.rules))
	for _, r := range c.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type == RuleActivity
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func validateRule(r Rule) error {
	switch {
	case strings.TrimSpace(r.ID) == "":
		return fmt.Errorf("rule id is required")
	case r.Type != RuleActivity && r.Type != RulePenalty:
		return fmt.Errorf("rule %s: unknown type %q", r.ID, r.Type)
	case !r.Points.IsPositive():
		return fmt.Errorf("rule %s: points must be positive", r.ID)
	case r.MaxQuantity.IsNegative():
		return fmt.Errorf("rule %s: max_quantity must not be negative", r.ID)
	case r.Role != "" && !r.Role.Valid():
		return fmt.Errorf("rule %s: %w %q", r.ID, ledger.ErrInvalidRole, r.Role)
	}
	return nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// DefaultRules is the built-in catalog used when no file is configured.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "report_filed", Name: "Waste report filed", Type: RuleActivity, Category: CategoryReporting,
			Points: d("10"), Unit: "report", Role: ledger.RoleResident, MaxQuantity: d("1")},
		{ID: "recycling_dropoff", Name: "Recycling drop-off", Type: RuleActivity, Category: CategoryRecycling,
			Points: d("2"), Unit: "kg", Role: ledger.RoleResident, MaxQuantity: d("100")},
		{ID: "pickup_completed", Name: "Pickup completed", Type: RuleActivity, Category: CategoryPickup,
			Points: d("15"), Unit: "pickup", Role: ledger.RoleWorker, MaxQuantity: d("1")},
		{ID: "quiz_completed", Name: "Sorting quiz completed", Type: RuleActivity, Category: CategoryLearning,
			Points: d("5"), Unit: "quiz", MaxQuantity: d("1")},
		{ID: "video_watched", Name: "Training video watched", Type: RuleActivity, Category: CategoryLearning,
			Points: d("3"), Unit: "video", MaxQuantity: d("1")},
		{ID: "late_pickup", Name: "Late pickup", Type: RulePenalty, Category: CategoryConduct,
			Points: d("10"), Unit: "pickup", Role: ledger.RoleWorker, MaxQuantity: d("1")},
		{ID: "false_report", Name: "False report", Type: RulePenalty, Category: CategoryConduct,
			Points: d("25"), Unit: "report", MaxQuantity: d("1")},
		{ID: "escalation", Name: "Complaint escalated", Type: RulePenalty, Category: CategoryConduct,
			Points: d("40"), Unit: "case", MaxQuantity: d("1")},
	}
}

func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultRules()...)
	if err != nil {
		panic(err)
	}
	return c
}

// =============================================================================
// YAML LOADING
// =============================================================================

type catalogFile struct {
	Activities []ruleYAML `yaml:"activities"`
	Penalties  []ruleYAML `yaml:"penalties"`
}

type ruleYAML struct {
	Rule        `yaml:",inline"`
	Points      string `yaml:"points"`
	MaxQuantity string `yaml:"max_quantity"`
}

func (y ruleYAML) toRule(t RuleType) (Rule, error) {
	r := y.Rule
	r.Type = t
	pts, err := decimal.NewFromString(strings.TrimSpace(y.Points))
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: points: %w", r.ID, err)
	}
	r.Points = pts
	if s := strings.TrimSpace(y.MaxQuantity); s != "" {
		if r.MaxQuantity, err = decimal.NewFromString(s); err != nil {
			return Rule{}, fmt.Errorf("rule %s: max_quantity: %w", r.ID, err)
		}
	}
	return r, nil
}

// ParseCatalog reads a YAML catalog:
//
//	activities:
//	  - id: report_filed
//	    name: Waste report filed
//	    points: 10
//	    unit: report
//	    role: resident
//	penalties:
//	  - id: false_report
//	    points: 25
func ParseCatalog(r io.Reader) (*Catalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	var rules []Rule
	for _, y := range f.Activities {
		rule, err := y.toRule(RuleActivity)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	for _, y := range f.Penalties {
		rule, err := y.toRule(RulePenalty)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return NewCatalog(rules...)
}

// LoadCatalog reads a catalog file. An empty path returns DefaultCatalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return ParseCatalog(f)
}
