/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the ledger with realistic
	activity for demos. Every step goes through the public service API,
	so scenarios exercise the same rules as real traffic.

AVAILABLE SCENARIOS:

	neighbourhood:   Residents and workers earning from the reward catalog,
	                 one redemption, a populated leaderboard
	strict-debits:   A penalty larger than the balance is rejected, never
	                 clamped; a smaller one succeeds
	reversals:       An admin adjustment reversed; a redemption revoked and
	                 refunded by reversal

HOW SCENARIOS WORK:
 1. Set account roles
 2. Post catalog events, credits, debits and redemptions
 3. Every mutation carries the key "scenario:<id>:<n>"

IDEMPOTENCY:

	The ledger is append-only, so scenarios never reset anything. Loading a
	scenario twice replays the same keys and changes nothing.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "neighbourhood"}

SEE ALSO:
  - handlers.go: Mutation handlers
  - rewards/catalog.go: Rule ids used below
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/rewards"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "neighbourhood",
		Name:        "Neighbourhood",
		Description: "Residents report and recycle, workers complete pickups, one resident redeems",
	},
	{
		ID:          "strict-debits",
		Name:        "Strict Debits",
		Description: "A penalty above the balance is rejected; balances never go negative",
	},
	{
		ID:          "reversals",
		Name:        "Reversals",
		Description: "Admin adjustment reversed; revoked redemption refunded",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, errUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", err)
			return
		}
		h.fail(w, r, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

var errUnknownScenario = errors.New("unknown scenario")

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	s := &scenarioRun{id: id, ledger: h.Ledger, rewards: h.Rewards}
	if s.rewards == nil {
		s.rewards = rewards.NewRecorder(h.Ledger, rewards.DefaultCatalog())
	}

	var err error
	switch id {
	case "neighbourhood":
		err = s.neighbourhood(ctx)
	case "strict-debits":
		err = s.strictDebits(ctx)
	case "reversals":
		err = s.reversals(ctx)
	default:
		return fmt.Errorf("%w: %q", errUnknownScenario, id)
	}
	if err != nil {
		return fmt.Errorf("scenario %s step %d: %w", id, s.step, err)
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	h.log.Info().Str("scenario", id).Int("steps", s.step).Msg("scenario loaded")
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (s *scenarioRun) neighbourhood(ctx context.Context) error {
	if err := s.roles(ctx, map[ledger.AccountID]ledger.Role{
		"resident-ana":  ledger.RoleResident,
		"resident-ben":  ledger.RoleResident,
		"resident-cleo": ledger.RoleResident,
		"worker-dan":    ledger.RoleWorker,
		"worker-eve":    ledger.RoleWorker,
	}); err != nil {
		return err
	}

	events := []struct {
		account ledger.AccountID
		rule    string
		qty     string
	}{
		{"resident-ana", "report_filed", "1"},
		{"resident-ana", "report_filed", "1"},
		{"resident-ana", "recycling_dropoff", "12.5"},
		{"resident-ana", "quiz_completed", "1"},
		{"resident-ben", "report_filed", "1"},
		{"resident-ben", "video_watched", "1"},
		{"resident-ben", "video_watched", "1"},
		{"resident-cleo", "recycling_dropoff", "4"},
		{"worker-dan", "pickup_completed", "1"},
		{"worker-dan", "pickup_completed", "1"},
		{"worker-dan", "pickup_completed", "1"},
		{"worker-eve", "pickup_completed", "1"},
	}
	for _, ev := range events {
		if _, err := s.activity(ctx, ev.account, ev.rule, ev.qty); err != nil {
			return err
		}
	}

	// ana: 10 + 10 + 25 + 5 = 50, exactly the redemption minimum
	_, err := s.ledger.Redeem(ctx, ledger.RedeemInput{
		AccountID:      "resident-ana",
		Amount:         50,
		IdempotencyKey: s.key(),
		Actor:          "scenario",
	})
	return err
}

func (s *scenarioRun) strictDebits(ctx context.Context) error {
	if err := s.roles(ctx, map[ledger.AccountID]ledger.Role{"worker-finn": ledger.RoleWorker}); err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		if _, err := s.activity(ctx, "worker-finn", "pickup_completed", "1"); err != nil {
			return err
		}
	}

	// 30 points; an escalation costs 40 and must be rejected
	_, err := s.penalty(ctx, "worker-finn", "escalation", "1")
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		if err == nil {
			return errors.New("escalation above balance was accepted")
		}
		return err
	}

	// a late pickup (10) fits
	_, err = s.penalty(ctx, "worker-finn", "late_pickup", "1")
	return err
}

func (s *scenarioRun) reversals(ctx context.Context) error {
	adj, err := s.ledger.Credit(ctx, ledger.CreditInput{
		AccountID:      "resident-gus",
		Amount:         80,
		Kind:           ledger.KindAdminAdjustment,
		Reason:         "goodwill credit for missed pickup",
		IdempotencyKey: s.key(),
		Actor:          "scenario",
	})
	if err != nil {
		return err
	}
	if err := s.reverse(ctx, adj.ID, "goodwill credit issued to the wrong account"); err != nil {
		return err
	}

	if _, err := s.ledger.Credit(ctx, ledger.CreditInput{
		AccountID:      "resident-hana",
		Amount:         120,
		Reason:         "community clean-up day",
		IdempotencyKey: s.key(),
		Actor:          "scenario",
	}); err != nil {
		return err
	}
	code, err := s.ledger.Redeem(ctx, ledger.RedeemInput{
		AccountID:      "resident-hana",
		Amount:         100,
		IdempotencyKey: s.key(),
		Actor:          "scenario",
	})
	if err != nil {
		return err
	}
	if _, err := s.ledger.RevokeCode(ctx, code.Code, "partner closed"); err != nil && !errors.Is(err, ledger.ErrInvalidTransition) {
		return err
	}
	return s.reverse(ctx, code.IssuedEntryID, "refund for revoked code")
}

// =============================================================================
// STEP HELPERS
// =============================================================================

type scenarioRun struct {
	id      string
	step    int
	ledger  *ledger.Service
	rewards *rewards.Recorder
}

func (s *scenarioRun) key() string {
	s.step++
	return fmt.Sprintf("scenario:%s:%d", s.id, s.step)
}

func (s *scenarioRun) roles(ctx context.Context, roles map[ledger.AccountID]ledger.Role) error {
	for id, role := range roles {
		if err := s.ledger.SetRole(ctx, id, role); err != nil {
			return err
		}
	}
	return nil
}

func (s *scenarioRun) event(account ledger.AccountID, rule, qty string) rewards.Event {
	return rewards.Event{
		AccountID:      account,
		RuleID:         rule,
		Quantity:       decimal.RequireFromString(qty),
		IdempotencyKey: s.key(),
		Actor:          "scenario",
	}
}

func (s *scenarioRun) activity(ctx context.Context, account ledger.AccountID, rule, qty string) (ledger.Entry, error) {
	return s.rewards.RecordActivity(ctx, s.event(account, rule, qty))
}

func (s *scenarioRun) penalty(ctx context.Context, account ledger.AccountID, rule, qty string) (ledger.Entry, error) {
	return s.rewards.ApplyPenalty(ctx, s.event(account, rule, qty))
}

// reverse tolerates an earlier load having reversed the entry already.
func (s *scenarioRun) reverse(ctx context.Context, id ledger.EntryID, reason string) error {
	s.step++
	_, err := s.ledger.Reverse(ctx, ledger.ReverseInput{EntryID: id, Reason: reason, Actor: "scenario"})
	if errors.Is(err, ledger.ErrAlreadyReversed) {
		return nil
	}
	return err
}
