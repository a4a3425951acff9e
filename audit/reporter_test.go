package audit_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-ledger/audit"
	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var day0 = time.Date(2025, time.April, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *ledger.Service
	mem   *store.Memory
	rep   *audit.Reporter
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{mem: store.NewMemory(), clock: day0}
	f.svc = ledger.NewService(f.mem, ledger.WithClock(func() time.Time { return f.clock }))
	f.rep = audit.NewReporter(f.mem, audit.WithPageSize(2))
	return f
}

func (f *fixture) credit(t *testing.T, id ledger.AccountID, amount int64) ledger.Entry {
	t.Helper()
	e, err := f.svc.Credit(context.Background(), ledger.CreditInput{AccountID: id, Amount: amount})
	require.NoError(t, err)
	return e
}

func (f *fixture) debit(t *testing.T, id ledger.AccountID, amount int64) ledger.Entry {
	t.Helper()
	e, err := f.svc.Debit(context.Background(), ledger.DebitInput{AccountID: id, Amount: amount, Reason: "late pickup"})
	require.NoError(t, err)
	return e
}

// seed writes three days of activity for two residents.
func (f *fixture) seed(t *testing.T) {
	f.credit(t, "r1", 100)
	f.credit(t, "r2", 40)
	f.clock = day0.Add(24 * time.Hour)
	f.debit(t, "r1", 30)
	_, err := f.svc.Redeem(context.Background(), ledger.RedeemInput{AccountID: "r1", Amount: 50})
	require.NoError(t, err)
	f.clock = day0.Add(48 * time.Hour)
	e := f.credit(t, "r2", 5)
	_, err = f.svc.Reverse(context.Background(), ledger.ReverseInput{EntryID: e.ID})
	require.NoError(t, err)
}

// =============================================================================
// PROJECTIONS
// =============================================================================

func TestSumByKind(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	sums, err := f.rep.SumByKind(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(145), sums[ledger.KindAward])
	assert.Equal(t, int64(-30), sums[ledger.KindPenalty])
	assert.Equal(t, int64(-50), sums[ledger.KindRedemption])
	assert.Equal(t, int64(-5), sums[ledger.KindReversal])
	assert.Equal(t, int64(0), sums[ledger.KindAdminAdjustment])

	// Day 2 only
	sums, err = f.rep.SumByKind(context.Background(), day0.Add(24*time.Hour), day0.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), sums[ledger.KindAward])
	assert.Equal(t, int64(-30), sums[ledger.KindPenalty])
}

func TestSumByKind_ConservesBalances(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	sums, err := f.rep.SumByKind(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	var total int64
	for _, v := range sums {
		total += v
	}
	b1, _ := f.svc.GetBalance(ctx, "r1")
	b2, _ := f.svc.GetBalance(ctx, "r2")
	assert.Equal(t, b1+b2, total)
}

func TestHistoryForAccount(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	hist, err := f.rep.HistoryForAccount(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, []ledger.Kind{ledger.KindAward, ledger.KindPenalty, ledger.KindRedemption},
		[]ledger.Kind{hist[0].Kind, hist[1].Kind, hist[2].Kind})
	assert.Equal(t, int64(20), hist[2].ResultingBalance)
}

func TestTopBalances(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()
	require.NoError(t, f.svc.SetRole(ctx, "r2", ledger.RoleWorker))

	top, err := f.rep.TopBalances(ctx, 5, "")
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, ledger.AccountID("r2"), top[0].AccountID)
	assert.Equal(t, int64(40), top[0].Balance)

	workers, err := f.rep.TopBalances(ctx, 5, ledger.RoleWorker)
	require.NoError(t, err)
	assert.Len(t, workers, 1)

	_, err = f.rep.TopBalances(ctx, 5, "pilot")
	assert.ErrorIs(t, err, ledger.ErrInvalidRole)
}

func TestTopBalances_ResidentsWithoutAssignedRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN: a credited account that never had a role set
	f.credit(t, "A", 40)

	// WHEN: the resident leaderboard is read
	residents, err := f.rep.TopBalances(ctx, 10, ledger.RoleResident)
	require.NoError(t, err)

	// THEN: the account is on it
	require.Len(t, residents, 1)
	assert.Equal(t, ledger.AccountID("A"), residents[0].AccountID)
	assert.Equal(t, int64(40), residents[0].Balance)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestReport_GroupByDay(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	rep, err := f.rep.Report(context.Background(), audit.Query{GroupBy: audit.GroupByDay})
	require.NoError(t, err)
	require.Len(t, rep.Rows, 3)
	assert.Equal(t, "2025-04-01", rep.Rows[0].Key)
	assert.Equal(t, int64(140), rep.Rows[0].Credits)
	assert.Equal(t, int64(80), rep.Rows[1].Debits)
	assert.Equal(t, int64(0), rep.Rows[2].Net)
	assert.Equal(t, int64(6), rep.Totals.Count)
	assert.Equal(t, int64(60), rep.Totals.Net)
	assert.Equal(t, "10", rep.Totals.AvgDelta.String())
	assert.Equal(t, int64(6), rep.AsOfSeq)
}

func TestReport_GroupByAccountAndKindFilter(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	rep, err := f.rep.Report(context.Background(), audit.Query{GroupBy: audit.GroupByAccount, Kind: ledger.KindAward})
	require.NoError(t, err)
	require.Len(t, rep.Rows, 2)
	assert.Equal(t, "r1", rep.Rows[0].Key)
	assert.Equal(t, int64(100), rep.Rows[0].Net)
	assert.Equal(t, "r2", rep.Rows[1].Key)
	assert.Equal(t, int64(2), rep.Rows[1].Count)
	assert.Equal(t, "22.5", rep.Rows[1].AvgDelta.String())
}

func TestReport_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.rep.Report(context.Background(), audit.Query{GroupBy: "week"})
	assert.Error(t, err)

	_, err = f.rep.Report(context.Background(), audit.Query{From: day0, To: day0})
	assert.Error(t, err)

	rep, err := f.rep.Report(context.Background(), audit.Query{})
	require.NoError(t, err)
	assert.Empty(t, rep.Rows)
	assert.Equal(t, audit.GroupByKind, rep.GroupBy)
}

// snapshotReader commits a new entry after the first page is served.
type snapshotReader struct {
	*store.Memory
	svc    *ledger.Service
	served bool
}

func (s *snapshotReader) ListEntries(ctx context.Context, f ledger.EntryFilter) (ledger.EntryPage, error) {
	page, err := s.Memory.ListEntries(ctx, f)
	if !s.served {
		s.served = true
		_, _ = s.svc.Credit(ctx, ledger.CreditInput{AccountID: "late", Amount: 1000})
	}
	return page, err
}

func TestReport_IgnoresEntriesCommittedDuringRead(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	r := &snapshotReader{Memory: f.mem, svc: f.svc}
	rep := audit.NewReporter(r, audit.WithPageSize(2))

	out, err := rep.Report(context.Background(), audit.Query{GroupBy: audit.GroupByAccount})
	require.NoError(t, err)
	assert.Len(t, out.Rows, 2, "late account must not appear")
	assert.Equal(t, int64(60), out.Totals.Net)
}

// =============================================================================
// EXPORT
// =============================================================================

func TestExportCSV(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	var buf bytes.Buffer
	n, err := f.rep.ExportCSV(context.Background(), &buf, ledger.EntryFilter{AccountID: "r2"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, audit.CSVHeader, records[0])
	assert.Equal(t, "r2", records[1][2])
	assert.Equal(t, "reversal", records[3][3])
	assert.Equal(t, "-5", records[3][4])
}
