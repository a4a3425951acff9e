package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-ledger/ledger"
)

var zeroTime time.Time

func TestScenario_Neighbourhood(t *testing.T) {
	s := setupTestServer(t)

	// WHEN
	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "neighbourhood"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: ana earned exactly the minimum and redeemed it
	assert.Equal(t, int64(0), s.balance("resident-ana"))
	assert.Equal(t, int64(16), s.balance("resident-ben"))
	assert.Equal(t, int64(8), s.balance("resident-cleo"))
	assert.Equal(t, int64(45), s.balance("worker-dan"))
	assert.Equal(t, int64(15), s.balance("worker-eve"))

	rec = s.do(http.MethodGet, "/api/reports/leaderboard?role=worker", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decodeBody[[]LeaderboardRowDTO](t, rec)
	require.Len(t, rows, 2)
	assert.Equal(t, "worker-dan", rows[0].AccountID)

	rec = s.do(http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "neighbourhood", decodeBody[ScenarioDTO](t, rec).ID)
}

func TestScenario_StrictDebits(t *testing.T) {
	s := setupTestServer(t)

	require.NoError(t, s.handler.loadScenario(context.Background(), "strict-debits"))

	// 30 earned, 40 rejected, 10 taken
	assert.Equal(t, int64(20), s.balance("worker-finn"))
	entries, err := s.handler.Ledger.History(context.Background(), "worker-finn", "", 0)
	require.NoError(t, err)
	assert.Len(t, entries.Entries, 3)
}

func TestScenario_Reversals(t *testing.T) {
	s := setupTestServer(t)

	require.NoError(t, s.handler.loadScenario(context.Background(), "reversals"))

	assert.Equal(t, int64(0), s.balance("resident-gus"))
	assert.Equal(t, int64(120), s.balance("resident-hana"))

	page, err := s.handler.Ledger.History(context.Background(), "resident-hana", "", 0)
	require.NoError(t, err)
	require.Len(t, page.Entries, 3)
	assert.Equal(t, ledger.KindReversal, page.Entries[2].Kind)
}

func TestScenario_LoadingTwiceChangesNothing(t *testing.T) {
	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			s := setupTestServer(t)
			ctx := context.Background()

			// GIVEN: the scenario loaded once
			require.NoError(t, s.handler.loadScenario(ctx, sc.ID))
			hw1, err := s.handler.Reporter.SumByKind(ctx, zeroTime, zeroTime)
			require.NoError(t, err)

			// WHEN: loaded again
			require.NoError(t, s.handler.loadScenario(ctx, sc.ID))

			// THEN: identical totals
			hw2, err := s.handler.Reporter.SumByKind(ctx, zeroTime, zeroTime)
			require.NoError(t, err)
			assert.Equal(t, hw1, hw2)
		})
	}
}

func TestScenario_Unknown(t *testing.T) {
	s := setupTestServer(t)
	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "moon-base"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ScenarioDTO](t, rec), len(scenarios))
}
