/*
Package audit provides read-only projections over committed ledger entries.

PURPOSE:
  Totals per kind, per-account history, leaderboards, grouped reports and
  CSV export. Nothing in this package mutates state.

SNAPSHOT READS:
  Every projection first reads the store high-water mark and then pages
  through entries with UntilSeq set to it. Entries committed while a report
  runs are therefore excluded, and the report describes one point in the
  commit order even when it spans several pages.

SEE ALSO:
  - ledger/store.go: ListEntries / HighWaterMark
  - api/handlers.go: /api/reports endpoints
*/
package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/points-ledger/ledger"
)

// Reader is the read side of ledger.Store.
type Reader interface {
	ListEntries(ctx context.Context, f ledger.EntryFilter) (ledger.EntryPage, error)
	HighWaterMark(ctx context.Context) (int64, error)
	TopBalances(ctx context.Context, limit int, role ledger.Role) ([]ledger.AccountBalance, error)
}

type Reporter struct {
	store    Reader
	pageSize int
	log      zerolog.Logger
}

type Option func(*Reporter)

func WithPageSize(n int) Option { return func(r *Reporter) { r.pageSize = ledger.NormalizeLimit(n) } }

func WithLogger(l zerolog.Logger) Option { return func(r *Reporter) { r.log = l } }

func NewReporter(store Reader, opts ...Option) *Reporter {
	r := &Reporter{store: store, pageSize: ledger.MaxPageSize, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// =============================================================================
// SNAPSHOT ITERATION
// =============================================================================

// each calls fn for every entry matching f, in commit order, as of the
// high-water mark read at the start. It returns that mark.
func (r *Reporter) each(ctx context.Context, f ledger.EntryFilter, fn func(ledger.Entry) error) (int64, error) {
	hw, err := r.store.HighWaterMark(ctx)
	if err != nil {
		return 0, fmt.Errorf("read high-water mark: %w", err)
	}
	if hw == 0 {
		return 0, nil
	}
	f.UntilSeq = hw
	f.Limit = r.pageSize
	for {
		page, err := r.store.ListEntries(ctx, f)
		if err != nil {
			return hw, fmt.Errorf("list entries: %w", err)
		}
		for _, e := range page.Entries {
			if err := fn(e); err != nil {
				return hw, err
			}
		}
		if page.Next == "" {
			return hw, nil
		}
		f.After = page.Next
	}
}

// =============================================================================
// PROJECTIONS
// =============================================================================

// SumByKind totals deltas per kind for entries in [from, to). Zero times
// leave that side open. Every kind is present in the result.
func (r *Reporter) SumByKind(ctx context.Context, from, to time.Time) (map[ledger.Kind]int64, error) {
	out := make(map[ledger.Kind]int64, len(ledger.Kinds))
	for _, k := range ledger.Kinds {
		out[k] = 0
	}
	_, err := r.each(ctx, ledger.EntryFilter{From: from, To: to}, func(e ledger.Entry) error {
		out[e.Kind] += e.Delta
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HistoryForAccount returns every entry of an account, oldest first.
func (r *Reporter) HistoryForAccount(ctx context.Context, id ledger.AccountID) ([]ledger.Entry, error) {
	var out []ledger.Entry
	_, err := r.each(ctx, ledger.EntryFilter{AccountID: id}, func(e ledger.Entry) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

// TopBalances returns the highest balances, optionally for one role.
func (r *Reporter) TopBalances(ctx context.Context, limit int, role ledger.Role) ([]ledger.AccountBalance, error) {
	if role != "" && !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ledger.ErrInvalidRole, role)
	}
	if limit <= 0 {
		limit = 10
	}
	return r.store.TopBalances(ctx, limit, role)
}

// =============================================================================
// GROUPED REPORT
// =============================================================================

type GroupBy string

const (
	GroupByKind    GroupBy = "kind"
	GroupByAccount GroupBy = "account"
	GroupByDay     GroupBy = "day"
)

func ParseGroupBy(s string) (GroupBy, error) {
	switch g := GroupBy(s); g {
	case "":
		return GroupByKind, nil
	case GroupByKind, GroupByAccount, GroupByDay:
		return g, nil
	}
	return "", fmt.Errorf("unknown group_by %q", s)
}

type Query struct {
	From    time.Time
	To      time.Time
	Kind    ledger.Kind
	GroupBy GroupBy
}

// Aggregate is one report row. Credits and Debits are both positive.
type Aggregate struct {
	Key       string
	Count     int64
	Credits   int64
	Debits    int64
	Net       int64
	AvgDelta  decimal.Decimal
	FirstSeen time.Time
	LastSeen  time.Time
}

func (a *Aggregate) add(e ledger.Entry) {
	if a.Count == 0 || e.Timestamp.Before(a.FirstSeen) {
		a.FirstSeen = e.Timestamp
	}
	if e.Timestamp.After(a.LastSeen) {
		a.LastSeen = e.Timestamp
	}
	a.Count++
	if e.Delta > 0 {
		a.Credits += e.Delta
	} else {
		a.Debits -= e.Delta
	}
	a.Net += e.Delta
}

func (a *Aggregate) finish() {
	if a.Count == 0 {
		a.AvgDelta = decimal.Zero
		return
	}
	a.AvgDelta = decimal.NewFromInt(a.Net).DivRound(decimal.NewFromInt(a.Count), 2)
}

type Report struct {
	GroupBy GroupBy
	From    time.Time
	To      time.Time
	AsOfSeq int64
	Rows    []Aggregate
	Totals  Aggregate
}

// Report groups entries in [q.From, q.To) by kind, account or UTC day.
// Rows are sorted by key.
func (r *Reporter) Report(ctx context.Context, q Query) (Report, error) {
	if q.GroupBy == "" {
		q.GroupBy = GroupByKind
	}
	if _, err := ParseGroupBy(string(q.GroupBy)); err != nil {
		return Report{}, err
	}
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		return Report{}, fmt.Errorf("empty range: from %s is not before to %s", q.From.Format(time.RFC3339), q.To.Format(time.RFC3339))
	}

	groups := make(map[string]*Aggregate)
	totals := Aggregate{Key: "total"}
	hw, err := r.each(ctx, ledger.EntryFilter{From: q.From, To: q.To, Kind: q.Kind}, func(e ledger.Entry) error {
		key := groupKey(q.GroupBy, e)
		g, ok := groups[key]
		if !ok {
			g = &Aggregate{Key: key}
			groups[key] = g
		}
		g.add(e)
		totals.add(e)
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	rows := make([]Aggregate, 0, len(groups))
	for _, g := range groups {
		g.finish()
		rows = append(rows, *g)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	totals.finish()

	r.log.Debug().Str("group_by", string(q.GroupBy)).Int("rows", len(rows)).Int64("as_of_seq", hw).Msg("report built")
	return Report{GroupBy: q.GroupBy, From: q.From, To: q.To, AsOfSeq: hw, Rows: rows, Totals: totals}, nil
}

func groupKey(g GroupBy, e ledger.Entry) string {
	switch g {
	case GroupByAccount:
		return string(e.AccountID)
	case GroupByDay:
		return e.Timestamp.UTC().Format("2006-01-02")
	}
	return string(e.Kind)
}
