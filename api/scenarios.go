/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built groups that populate the database with realistic
	ledgers for demos. Each scenario shows one settlement feature.

AVAILABLE SCENARIOS:

	weekend-trip:     One-off trip with an advance and a recorded payment
	shared-flat:      Recurring flat share, last month already closed
	uneven-families:  One-off holiday where families carry their head count

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create the group and its participants
 3. Add cost entries, advances and payments with dates relative to now
 4. Optionally finalize an earlier period

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "shared-flat"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, now)
 3. Add it to 'scenarioLoaders'

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase
  - settlement/engine.go: Finalize used by shared-flat
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/splitledger/settlement"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "weekend-trip",
		Name:        "Weekend Trip",
		Description: "Four friends, a cabin, one cash advance and one payment already made",
		Mode:        string(settlement.ModeOneOff),
	},
	{
		ID:          "shared-flat",
		Name:        "Shared Flat",
		Description: "Three flatmates closing monthly; last month's balances carry forward",
		Mode:        string(settlement.ModeRecurring),
	},
	{
		ID:          "uneven-families",
		Name:        "Uneven Families",
		Description: "A family of four, a couple and a single traveller splitting by head count",
		Mode:        string(settlement.ModeOneOff),
	},
}

type scenarioLoader func(h *Handler, ctx context.Context, now time.Time) error

var scenarioLoaders = map[string]scenarioLoader{
	"weekend-trip":    (*Handler).loadWeekendTripScenario,
	"shared-flat":     (*Handler).loadSharedFlatScenario,
	"uneven-families": (*Handler).loadUnevenFamiliesScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		h.fail(w, r, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(h, ctx, h.Now().UTC()); err != nil {
		h.fail(w, r, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	h.Logger.Info("scenario loaded", "scenario", req.ScenarioID, "request_id", requestID(r))
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadWeekendTripScenario(ctx context.Context, now time.Time) error {
	start := now.AddDate(0, 0, -10)
	g := settlement.Group{
		ID:         "trip-lake-cabin",
		Name:       "Lake Cabin Weekend",
		Mode:       settlement.ModeOneOff,
		AccessCode: "TRIP42",
		CreatedAt:  start,
	}
	if err := h.seedGroup(ctx, g, map[string]int{"alice": 1, "bob": 1, "carol": 1, "dan": 1}); err != nil {
		return err
	}

	day := func(n int) time.Time { return start.AddDate(0, 0, n) }
	if err := h.seedExpenses(ctx, g.ID,
		expense{"alice", "Cabin rental", "600", day(1)},
		expense{"bob", "Groceries", "180.40", day(2)},
		expense{"carol", "Fuel", "95.60", day(2)},
		expense{"alice", "Dinner at the marina", "240", day(3)},
	); err != nil {
		return err
	}

	// Dan lent Carol cash for the boat hire deposit.
	if err := h.Store.AddDirectTransfer(ctx, settlement.DirectTransfer{
		ID:         uuid.NewString(),
		GroupID:    g.ID,
		FromID:     memberID(g.ID, "dan"),
		ToID:       memberID(g.ID, "carol"),
		Amount:     decimal.NewFromInt(50),
		OccurredAt: day(3),
	}); err != nil {
		return err
	}

	return h.Store.RecordPayment(ctx, settlement.RecordedPayment{
		ID:         uuid.NewString(),
		GroupID:    g.ID,
		FromID:     memberID(g.ID, "bob"),
		ToID:       memberID(g.ID, "alice"),
		Amount:     decimal.NewFromInt(100),
		Remarks:    "Cash at the station",
		RecordedAt: day(4),
	})
}

func (h *Handler) loadSharedFlatScenario(ctx context.Context, now time.Time) error {
	start := now.AddDate(0, -2, 0)
	closedAt := now.AddDate(0, -1, 0)
	g := settlement.Group{
		ID:         "flat-canal-street",
		Name:       "Canal Street Flat",
		Mode:       settlement.ModeRecurring,
		AccessCode: "FLAT07",
		CreatedAt:  start,
	}
	if err := h.seedGroup(ctx, g, map[string]int{"eve": 1, "frank": 1, "grace": 1}); err != nil {
		return err
	}

	// Last month, closed a month ago.
	if err := h.seedExpenses(ctx, g.ID,
		expense{"eve", "Rent", "1500", start.AddDate(0, 0, 1)},
		expense{"frank", "Utilities", "210", start.AddDate(0, 0, 10)},
		expense{"grace", "Internet", "60", start.AddDate(0, 0, 12)},
	); err != nil {
		return err
	}

	closer := h.Engine.With(
		settlement.WithClock(func() time.Time { return closedAt }),
		settlement.WithDuplicateWindow(0),
	)
	if _, err := closer.ComputeAndFinalize(ctx, g.ID, settlement.FinalizeOptions{
		IdempotencyKey: "scenario-shared-flat-month-1",
	}); err != nil {
		return fmt.Errorf("close first month: %w", err)
	}

	// This month, still open.
	if err := h.seedExpenses(ctx, g.ID,
		expense{"eve", "Rent", "1500", closedAt.AddDate(0, 0, 1)},
		expense{"grace", "Groceries", "130.50", closedAt.AddDate(0, 0, 20)},
	); err != nil {
		return err
	}

	return h.Store.RecordPayment(ctx, settlement.RecordedPayment{
		ID:         uuid.NewString(),
		GroupID:    g.ID,
		FromID:     memberID(g.ID, "frank"),
		ToID:       memberID(g.ID, "eve"),
		Amount:     decimal.NewFromInt(400),
		Remarks:    "Bank transfer",
		RecordedAt: closedAt.AddDate(0, 0, 5),
	})
}

func (h *Handler) loadUnevenFamiliesScenario(ctx context.Context, now time.Time) error {
	start := now.AddDate(0, 0, -14)
	g := settlement.Group{
		ID:         "villa-holiday",
		Name:       "Villa Holiday",
		Mode:       settlement.ModeOneOff,
		AccessCode: "FAMS03",
		CreatedAt:  start,
	}
	if err := h.seedGroup(ctx, g, map[string]int{"lopez": 4, "chen": 2, "sam": 1}); err != nil {
		return err
	}

	return h.seedExpenses(ctx, g.ID,
		expense{"lopez", "Villa", "2100", start.AddDate(0, 0, 1)},
		expense{"chen", "Boat day", "420", start.AddDate(0, 0, 5)},
		expense{"sam", "Wine tasting", "63", start.AddDate(0, 0, 8)},
	)
}

// =============================================================================
// SEEDING HELPERS
// =============================================================================

type expense struct {
	payer       string
	description string
	amount      string
	at          time.Time
}

func memberID(groupID settlement.GroupID, name string) settlement.ParticipantID {
	return settlement.ParticipantID(string(groupID) + "-" + name)
}

// seedGroup creates g and one participant per name. Participants join in
// name order so listings are stable.
func (h *Handler) seedGroup(ctx context.Context, g settlement.Group, weights map[string]int) error {
	g.State = settlement.GroupActive
	if err := h.Store.CreateGroup(ctx, g); err != nil {
		return err
	}

	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	slices.Sort(names)

	for i, name := range names {
		if err := h.Store.AddParticipant(ctx, settlement.Participant{
			ID:        memberID(g.ID, name),
			GroupID:   g.ID,
			Name:      strings.ToUpper(name[:1]) + name[1:],
			Weight:    weights[name],
			CreatedAt: g.CreatedAt.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) seedExpenses(ctx context.Context, groupID settlement.GroupID, entries ...expense) error {
	for _, e := range entries {
		if err := h.Store.AddCostEntry(ctx, settlement.CostEntry{
			ID:          uuid.NewString(),
			GroupID:     groupID,
			PayerID:     memberID(groupID, e.payer),
			Description: e.description,
			Amount:      decimal.RequireFromString(e.amount),
			IncurredAt:  e.at,
		}); err != nil {
			return err
		}
	}
	return nil
}
