package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/store/sqlstore"
)

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_InMemory(t *testing.T) {
	s, err := New(":memory:")
	require.NoError(t, err)
	defer s.Close()

	hw, err := s.HighWaterMark(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), hw)
}

func TestStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	acct, err := s.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.Version)

	acct, err = s.CompareAndSwapAccount(ctx, "a", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), acct.Version)
	assert.Equal(t, int64(10), acct.Balance)

	_, err = s.CompareAndSwapAccount(ctx, "a", 0, 99)
	var conflict *ledger.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.Actual)

	acct, err = s.CompareAndSwapAccount(ctx, "a", 1, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(2), acct.Version)
	assert.Equal(t, int64(4), acct.Balance)
}

func TestStore_SetRoleBeforeFirstCredit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// GIVEN: a role assigned to an account with no balance yet
	require.NoError(t, s.SetRole(ctx, "w1", ledger.RoleWorker))

	// WHEN: the first CAS runs at version 0
	acct, err := s.CompareAndSwapAccount(ctx, "w1", 0, 25)
	require.NoError(t, err)

	// THEN: the role is kept
	assert.Equal(t, ledger.RoleWorker, acct.Role)
	assert.Equal(t, int64(1), acct.Version)

	top, err := s.TopBalances(ctx, 10, ledger.RoleWorker)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, int64(25), top[0].Balance)
}

func TestStore_UnassignedRoleIsResident(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// GIVEN: one account created by a CAS, one legacy row with an empty role
	acct, err := s.CompareAndSwapAccount(ctx, "r1", 0, 40)
	require.NoError(t, err)
	assert.Equal(t, ledger.RoleResident, acct.Role)
	_, err = s.DB().ExecContext(ctx,
		`INSERT INTO accounts (id, balance, version, role, updated_at) VALUES ('r0', 10, 1, '', ?)`,
		sqlstore.FormatTime(time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.SetRole(ctx, "w1", ledger.RoleWorker))
	_, err = s.CompareAndSwapAccount(ctx, "w1", 0, 99)
	require.NoError(t, err)

	// WHEN: the leaderboard is filtered by resident
	residents, err := s.TopBalances(ctx, 10, ledger.RoleResident)
	require.NoError(t, err)

	// THEN: both residents are listed and the worker is not
	require.Len(t, residents, 2)
	assert.Equal(t, ledger.AccountID("r1"), residents[0].AccountID)
	assert.Equal(t, ledger.AccountID("r0"), residents[1].AccountID)

	fresh, err := s.GetAccount(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, ledger.DefaultRole, fresh.Role)
}

func TestStore_AppendEntryConstraints(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ts := time.Date(2025, 5, 1, 9, 30, 0, 123, time.UTC)

	e, err := s.AppendEntry(ctx, ledger.Entry{AccountID: "a", Delta: 10, Kind: ledger.KindAward, ResultingBalance: 10, Version: 1, IdempotencyKey: "credit:k", Timestamp: ts})
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Seq)

	got, err := s.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = s.AppendEntry(ctx, ledger.Entry{AccountID: "a", Delta: 10, Kind: ledger.KindAward, ResultingBalance: 20, Version: 2, IdempotencyKey: "credit:k", Timestamp: ts})
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	_, err = s.AppendEntry(ctx, ledger.Entry{AccountID: "a", Delta: -10, Kind: ledger.KindReversal, RelatedEntryID: e.ID, Version: 2, IdempotencyKey: "reverse:1", Timestamp: ts})
	require.NoError(t, err)
	_, err = s.AppendEntry(ctx, ledger.Entry{AccountID: "a", Delta: -10, Kind: ledger.KindReversal, RelatedEntryID: e.ID, Version: 3, IdempotencyKey: "reverse:2", Timestamp: ts})
	assert.ErrorIs(t, err, ledger.ErrAlreadyReversed)

	rev, found, err := s.FindReversal(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, e.ID, rev.RelatedEntryID)

	_, err = s.GetEntry(ctx, "nope")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestStore_ListEntriesFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := s.AppendEntry(ctx, ledger.Entry{
			AccountID: "a", Delta: int64(i + 1), Kind: ledger.KindAward,
			ResultingBalance: int64(i + 1), Version: int64(i + 1),
			Timestamp: base.Add(time.Duration(i) * 24 * time.Hour),
		})
		require.NoError(t, err)
	}
	_, err := s.AppendEntry(ctx, ledger.Entry{AccountID: "b", Delta: 7, Kind: ledger.KindAward, ResultingBalance: 7, Version: 1, Timestamp: base})
	require.NoError(t, err)

	page, err := s.ListEntries(ctx, ledger.EntryFilter{AccountID: "a", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	require.NotEmpty(t, page.Next)

	page, err = s.ListEntries(ctx, ledger.EntryFilter{AccountID: "a", After: page.Next, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 3)
	assert.Empty(t, page.Next)

	// [day1, day3) covers entries 2 and 3
	page, err = s.ListEntries(ctx, ledger.EntryFilter{AccountID: "a", From: base.Add(24 * time.Hour), To: base.Add(3 * 24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, int64(2), page.Entries[0].Delta)

	page, err = s.ListEntries(ctx, ledger.EntryFilter{UntilSeq: 3})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 3)
}

func TestStore_CodeLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	e, err := s.AppendEntry(ctx, ledger.Entry{AccountID: "a", Delta: 60, Kind: ledger.KindAward, ResultingBalance: 60, Version: 1, Timestamp: ts})
	require.NoError(t, err)
	r, err := s.AppendEntry(ctx, ledger.Entry{AccountID: "a", Delta: -50, Kind: ledger.KindRedemption, Reason: "redeem", ResultingBalance: 10, Version: 2, Timestamp: ts})
	require.NoError(t, err)

	code := ledger.RedemptionCode{
		Code: "ABCD-EFGH-JKMN", AccountID: "a", PointsUsed: 50, Status: ledger.CodeActive,
		IssuedEntryID: r.ID, ExpiresAt: ts.Add(time.Hour), CreatedAt: ts, UpdatedAt: ts,
	}
	require.NoError(t, s.InsertCode(ctx, code))

	dup := code
	dup.IssuedEntryID = e.ID
	assert.ErrorIs(t, s.InsertCode(ctx, dup), ledger.ErrDuplicateCode)

	got, err := s.GetCodeByEntry(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, code, got)

	due, err := s.ActiveCodesExpiring(ctx, ts.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	used, err := s.TransitionCode(ctx, code.Code, ledger.CodeActive, ledger.CodeUsed, ts.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, ledger.CodeUsed, used.Status)

	_, err = s.TransitionCode(ctx, code.Code, ledger.CodeActive, ledger.CodeExpired, ts.Add(time.Minute))
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	_, err = s.TransitionCode(ctx, "missing", ledger.CodeActive, ledger.CodeUsed, ts)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestStore_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.CompareAndSwapAccount(ctx, "a", 0, 100); err != nil {
			return err
		}
		_, err := tx.AppendEntry(ctx, ledger.Entry{AccountID: "a", Delta: 100, Kind: ledger.KindAward, ResultingBalance: 100, Version: 1, IdempotencyKey: "credit:x"})
		if err != nil {
			return err
		}
		return tx.InsertCode(ctx, ledger.RedemptionCode{Code: "X", AccountID: "a", PointsUsed: 0, Status: ledger.CodeActive, IssuedEntryID: "nope"})
	})
	require.Error(t, err)

	acct, err := s.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.Version)
	_, err = s.FindEntryByIdempotencyKey(ctx, "credit:x")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestService_OnSQLite_ConcurrentCredits(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	svc := ledger.NewService(s, ledger.WithConfig(ledger.Config{MaxAttempts: 50}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Credit(ctx, ledger.CreditInput{AccountID: "A", Amount: 10})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	bal, err := svc.GetBalance(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)

	page, err := svc.History(ctx, "A", "", 0)
	require.NoError(t, err)
	assert.Len(t, page.Entries, 10)
	var sum int64
	for _, e := range page.Entries {
		sum += e.Delta
	}
	assert.Equal(t, bal, sum)
}

func TestService_OnSQLite_Redeem(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	svc := ledger.NewService(s)

	_, err := svc.Credit(ctx, ledger.CreditInput{AccountID: "A", Amount: 100, IdempotencyKey: "k1"})
	require.NoError(t, err)
	code, err := svc.Redeem(ctx, ledger.RedeemInput{AccountID: "A", Amount: 70, IdempotencyKey: "k3"})
	require.NoError(t, err)
	assert.Equal(t, int64(70), code.PointsUsed)
	assert.Equal(t, ledger.CodeActive, code.Status)

	again, err := svc.Redeem(ctx, ledger.RedeemInput{AccountID: "A", Amount: 70, IdempotencyKey: "k3"})
	require.NoError(t, err)
	assert.Equal(t, code.Code, again.Code)

	bal, _ := svc.GetBalance(ctx, "A")
	assert.Equal(t, int64(30), bal)
}
