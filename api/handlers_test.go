/*
handlers_test.go - HTTP tests for the settlement API

Tests run the full router over an in-memory SQLite store with a fixed
clock, so every amount below can be checked by hand.
*/
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/splitledger/internal/logging"
	"github.com/warp/splitledger/internal/metrics"
	"github.com/warp/splitledger/settlement"
	"github.com/warp/splitledger/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var clock = time.Date(2025, time.July, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	t      *testing.T
	router http.Handler
	store  *sqlite.Store
	now    time.Time
}

// newTestServer starts at clock. Tests move time with advance.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s := &testServer{t: t, store: store, now: clock}
	now := func() time.Time { return s.now }

	logger := logging.New(io.Discard, "error")
	engine := settlement.NewEngine(store,
		settlement.WithLogger(logger),
		settlement.WithClock(now),
	)
	presenter, err := NewPresenter("USD")
	require.NoError(t, err)

	h := NewHandler(store, engine, presenter, logger)
	h.Now = now

	s.router = NewRouter(h, RouterOptions{Metrics: metrics.New()})
	return s
}

func (s *testServer) advance(d time.Duration) {
	s.now = s.now.Add(d)
}

func (s *testServer) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createGroup(name, mode string) GroupDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/groups", CreateGroupRequest{Name: name, Mode: mode})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[GroupDTO](s.t, rec)
}

func (s *testServer) addParticipant(groupID, name string, weight int) ParticipantDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/groups/"+groupID+"/participants",
		ParticipantRequest{Name: name, Weight: weight})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[ParticipantDTO](s.t, rec)
}

func (s *testServer) addExpense(groupID, payerID, amount string) ExpenseDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/groups/"+groupID+"/expenses",
		map[string]string{"payer_id": payerID, "description": "shared", "amount": amount})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[ExpenseDTO](s.t, rec)
}

func (s *testServer) recordPayment(groupID, from, to, amount string) PaymentDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/groups/"+groupID+"/payments",
		map[string]string{"from_id": from, "to_id": to, "amount": amount})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[PaymentDTO](s.t, rec)
}

func balanceOf(t *testing.T, res SettlementResultDTO, participantID string) BalanceDTO {
	t.Helper()
	for _, b := range res.Balances {
		if b.ParticipantID == participantID {
			return b
		}
	}
	t.Fatalf("no balance for %s", participantID)
	return BalanceDTO{}
}

// =============================================================================
// GROUPS
// =============================================================================

func TestGroupLifecycle(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: a new one-off group
	g := s.createGroup("Ski trip", "one_off")
	assert.Equal(t, "ONE_OFF", g.Mode)
	assert.Equal(t, "ACTIVE", g.State)
	assert.Len(t, g.AccessCode, 6)

	// WHEN: another member joins with the code in lower case
	// THEN: the group is found
	rec := s.do(http.MethodGet, "/api/groups/join/"+strings.ToLower(g.AccessCode), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, g.ID, decode[GroupDTO](t, rec).ID)

	// WHEN: archived
	rec = s.do(http.MethodPost, "/api/groups/"+g.ID+"/archive", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ARCHIVED", decode[GroupDTO](t, rec).State)

	// THEN: it lists under archived groups only
	archived := decode[[]GroupDTO](t, s.do(http.MethodGet, "/api/groups?state=archived", nil))
	require.Len(t, archived, 1)
	assert.Equal(t, g.ID, archived[0].ID)
	assert.Empty(t, decode[[]GroupDTO](t, s.do(http.MethodGet, "/api/groups?state=ACTIVE", nil)))
	assert.Len(t, decode[[]GroupDTO](t, s.do(http.MethodGet, "/api/groups", nil)), 1)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/groups?state=DELETED", nil).Code)

	// THEN: it can no longer be joined or changed
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/groups/join/"+g.AccessCode, nil).Code)
	rec = s.do(http.MethodPost, "/api/groups/"+g.ID+"/participants", ParticipantRequest{Name: "Late"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decode[ErrorResponse](t, rec).Code)

	// WHEN: restored, then deleted
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/groups/"+g.ID+"/restore", nil).Code)
	require.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/api/groups/"+g.ID, nil).Code)

	// THEN: the group is gone from every read path
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/groups/"+g.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/groups/"+g.ID+"/settlement", nil).Code)
	assert.Empty(t, decode[[]GroupDTO](t, s.do(http.MethodGet, "/api/groups", nil)))
}

func TestValidationErrors(t *testing.T) {
	s := newTestServer(t)
	trip := s.createGroup("Trip", "ONE_OFF")
	flat := s.createGroup("Flat", "RECURRING")
	a := s.addParticipant(trip.ID, "Ana", 1)
	b := s.addParticipant(trip.ID, "Ben", 1)
	x := s.addParticipant(flat.ID, "Xia", 1)
	y := s.addParticipant(flat.ID, "Yan", 1)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"unknown mode", http.MethodPost, "/api/groups", CreateGroupRequest{Name: "x", Mode: "WEEKLY"}, http.StatusBadRequest},
		{"missing name", http.MethodPost, "/api/groups", CreateGroupRequest{Mode: "ONE_OFF"}, http.StatusBadRequest},
		{"negative weight", http.MethodPost, "/api/groups/" + trip.ID + "/participants", ParticipantRequest{Name: "Neg", Weight: -2}, http.StatusBadRequest},
		{"zero amount", http.MethodPost, "/api/groups/" + trip.ID + "/expenses", map[string]string{"payer_id": a.ID, "amount": "0"}, http.StatusBadRequest},
		{"payer from another group", http.MethodPost, "/api/groups/" + trip.ID + "/expenses", map[string]string{"payer_id": x.ID, "amount": "10"}, http.StatusBadRequest},
		{"payment to self", http.MethodPost, "/api/groups/" + trip.ID + "/payments", map[string]string{"from_id": a.ID, "to_id": a.ID, "amount": "10"}, http.StatusBadRequest},
		{"transfer in recurring group", http.MethodPost, "/api/groups/" + flat.ID + "/transfers", map[string]string{"from_id": x.ID, "to_id": y.ID, "amount": "10"}, http.StatusBadRequest},
		{"unknown group", http.MethodGet, "/api/groups/nope/settlement", nil, http.StatusNotFound},
		{"unknown settlement", http.MethodGet, "/api/settlements/nope", nil, http.StatusNotFound},
		{"malformed body", http.MethodPost, "/api/groups/" + trip.ID + "/expenses", "not an object", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	// A valid transfer in the one-off group still works.
	rec := s.do(http.MethodPost, "/api/groups/"+trip.ID+"/transfers",
		map[string]string{"from_id": a.ID, "to_id": b.ID, "amount": "10"})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestEmptyGroupCannotBeComputed(t *testing.T) {
	s := newTestServer(t)
	g := s.createGroup("Empty", "ONE_OFF")

	rec := s.do(http.MethodGet, "/api/groups/"+g.ID+"/settlement", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// The summary still renders, with the reason instead of a settlement.
	rec = s.do(http.MethodGet, "/api/groups/"+g.ID+"/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[GroupSummaryDTO](t, rec)
	assert.Nil(t, summary.Settlement)
	assert.Contains(t, summary.SettlementError, "no participants")
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func TestComputeAndFinalize_OneOff(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: three friends, one of whom paid 90.00
	g := s.createGroup("Dinner", "ONE_OFF")
	a := s.addParticipant(g.ID, "Ana", 0)
	b := s.addParticipant(g.ID, "Ben", 0)
	c := s.addParticipant(g.ID, "Cat", 0)
	assert.Equal(t, 1, a.Weight)
	s.addExpense(g.ID, a.ID, "90.00")

	// WHEN: computing
	rec := s.do(http.MethodGet, "/api/groups/"+g.ID+"/settlement", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[SettlementResultDTO](t, rec)

	// THEN: Ana is owed 60, Ben and Cat owe 30 each
	assert.Equal(t, "USD", res.Currency)
	assert.Equal(t, MoneyDTO{Amount: "90.00", Display: "$90.00"}, res.TotalCost)
	assert.Equal(t, "30.00", res.PerCapitaCost.Amount)
	assert.Equal(t, "60.00", balanceOf(t, res, a.ID).AdjustedBalance.Amount)
	assert.Equal(t, "-30.00", balanceOf(t, res, b.ID).AdjustedBalance.Amount)
	assert.Equal(t, "-$30.00", balanceOf(t, res, c.ID).AdjustedBalance.Display)
	require.Len(t, res.Transfers, 2)
	for _, tr := range res.Transfers {
		assert.Equal(t, a.ID, tr.ToID)
		assert.Equal(t, "Ana", tr.ToName)
		assert.Equal(t, "30.00", tr.Amount.Amount)
	}

	// WHEN: finalizing with an idempotency key, twice
	rec = s.do(http.MethodPost, "/api/groups/"+g.ID+"/settlement/finalize", nil, IdempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[FinalizeResponse](t, rec)

	rec = s.do(http.MethodPost, "/api/groups/"+g.ID+"/settlement/finalize", nil, IdempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decode[FinalizeResponse](t, rec)

	// THEN: one settlement exists and both calls return it
	assert.Equal(t, "created", first.Status)
	assert.Equal(t, "duplicate", second.Status)
	assert.Equal(t, first.Settlement.ID, second.Settlement.ID)
	assert.Equal(t, "k-1", first.Settlement.IdempotencyKey)
	assert.Len(t, first.Settlement.Balances, 3)

	history := decode[[]SettlementDTO](t, s.do(http.MethodGet, "/api/groups/"+g.ID+"/settlements", nil))
	require.Len(t, history, 1)
	assert.Equal(t, first.Settlement.ID, history[0].ID)

	// The first settlement writes a baseline carry-forward log.
	log := decode[[]CarryForwardDTO](t, s.do(http.MethodGet, "/api/settlements/"+first.Settlement.ID+"/carry-forward", nil))
	assert.Len(t, log, 3)
}

func TestFinalize_DuplicateWindowWithoutKey(t *testing.T) {
	s := newTestServer(t)
	g := s.createGroup("Trip", "ONE_OFF")
	a := s.addParticipant(g.ID, "Ana", 1)
	s.addParticipant(g.ID, "Ben", 1)
	s.addExpense(g.ID, a.ID, "20")

	// GIVEN: a double click, both requests at the same instant
	first := s.do(http.MethodPost, "/api/groups/"+g.ID+"/settlement/finalize", nil)
	second := s.do(http.MethodPost, "/api/groups/"+g.ID+"/settlement/finalize", nil)

	// THEN: the second one is reported as a duplicate of the first
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())
	assert.Equal(t,
		decode[FinalizeResponse](t, first).Settlement.ID,
		decode[FinalizeResponse](t, second).Settlement.ID,
	)
}

func TestFinalize_ConsumesPayments(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: Ben already paid Ana back part of what he owes
	g := s.createGroup("Trip", "ONE_OFF")
	a := s.addParticipant(g.ID, "Ana", 1)
	b := s.addParticipant(g.ID, "Ben", 1)
	s.addExpense(g.ID, a.ID, "100")
	p := s.recordPayment(g.ID, b.ID, a.ID, "20")

	res := decode[SettlementResultDTO](t, s.do(http.MethodGet, "/api/groups/"+g.ID+"/settlement", nil))
	assert.Equal(t, 1, res.ActivePayments)
	assert.Equal(t, "-30.00", balanceOf(t, res, b.ID).AdjustedBalance.Amount)
	assert.Equal(t, "20.00", balanceOf(t, res, b.ID).PaymentAdjustment.Amount)

	// WHEN: the period is finalized
	rec := s.do(http.MethodPost, "/api/groups/"+g.ID+"/settlement/finalize", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode[FinalizeResponse](t, rec)
	assert.Equal(t, 1, out.ArchivedPayments)

	// THEN: the payment moved to the settlement and is frozen
	assert.Empty(t, decode[[]PaymentDTO](t, s.do(http.MethodGet, "/api/groups/"+g.ID+"/payments", nil)))

	archived := decode[[]PaymentDTO](t, s.do(http.MethodGet, "/api/settlements/"+out.Settlement.ID+"/payments", nil))
	require.Len(t, archived, 1)
	assert.Equal(t, p.ID, archived[0].ID)
	assert.Equal(t, out.Settlement.ID, archived[0].SettlementID)

	rec = s.do(http.MethodPut, "/api/payments/"+p.ID,
		map[string]string{"from_id": b.ID, "to_id": a.ID, "amount": "25"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decode[ErrorResponse](t, rec).Code)
	assert.Equal(t, http.StatusConflict, s.do(http.MethodDelete, "/api/payments/"+p.ID, nil).Code)
}

func TestRecurringClosedPeriodIsFrozen(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: a recurring group whose first period (Ana paid 100) is closed
	g := s.createGroup("Flat", "RECURRING")
	a := s.addParticipant(g.ID, "Ana", 1)
	b := s.addParticipant(g.ID, "Ben", 1)
	closed := s.addExpense(g.ID, a.ID, "100")

	rec := s.do(http.MethodPost, "/api/groups/"+g.ID+"/settlement/finalize", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	closedAt := s.now
	s.advance(time.Hour)

	// WHEN: the closed entry is edited, moved, deleted, or a new one is backdated
	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"edit amount", http.MethodPut, "/api/expenses/" + closed.ID,
			map[string]string{"payer_id": a.ID, "amount": "120"}},
		{"move into open period", http.MethodPut, "/api/expenses/" + closed.ID,
			ExpenseRequest{PayerID: a.ID, Amount: decimal.NewFromInt(100), IncurredAt: ptr(closedAt.Add(30 * time.Second))}},
		{"delete", http.MethodDelete, "/api/expenses/" + closed.ID, nil},
		{"backdated add", http.MethodPost, "/api/groups/" + g.ID + "/expenses",
			ExpenseRequest{PayerID: b.ID, Amount: decimal.NewFromInt(60), IncurredAt: ptr(closedAt.Add(-time.Hour))}},
		{"add at period end", http.MethodPost, "/api/groups/" + g.ID + "/expenses",
			ExpenseRequest{PayerID: b.ID, Amount: decimal.NewFromInt(60), IncurredAt: ptr(closedAt)}},
	}

	// THEN: every change is refused
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "validation_failed", decode[ErrorResponse](t, rec).Code)
		})
	}

	// AND: the open period only carries the closed balances forward
	res := decode[SettlementResultDTO](t, s.do(http.MethodGet, "/api/groups/"+g.ID+"/settlement", nil))
	assert.Equal(t, "0.00", res.TotalCost.Amount)
	assert.Equal(t, "50.00", balanceOf(t, res, a.ID).AdjustedBalance.Amount)
	assert.Equal(t, "-50.00", balanceOf(t, res, b.ID).AdjustedBalance.Amount)

	// AND: entries dated after the close are still accepted and editable
	open := s.addExpense(g.ID, b.ID, "60")
	rec = s.do(http.MethodPut, "/api/expenses/"+open.ID,
		map[string]string{"payer_id": b.ID, "amount": "80"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/api/expenses/"+open.ID, nil).Code)
}

func TestOneOffEntriesStayEditableAfterFinalize(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: a finalized one-off group
	g := s.createGroup("Trip", "ONE_OFF")
	a := s.addParticipant(g.ID, "Ana", 1)
	s.addParticipant(g.ID, "Ben", 1)
	e := s.addExpense(g.ID, a.ID, "100")
	rec := s.do(http.MethodPost, "/api/groups/"+g.ID+"/settlement/finalize", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	s.advance(time.Hour)

	// WHEN: the entry is corrected
	rec = s.do(http.MethodPut, "/api/expenses/"+e.ID,
		map[string]string{"payer_id": a.ID, "amount": "120"})

	// THEN: one-off groups recount their whole lifetime, so the edit is allowed
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[SettlementResultDTO](t, s.do(http.MethodGet, "/api/groups/"+g.ID+"/settlement", nil))
	assert.Equal(t, "120.00", res.TotalCost.Amount)
}

func ptr[T any](v T) *T { return &v }

func TestActivePaymentsAreEditable(t *testing.T) {
	s := newTestServer(t)
	g := s.createGroup("Trip", "ONE_OFF")
	a := s.addParticipant(g.ID, "Ana", 1)
	b := s.addParticipant(g.ID, "Ben", 1)
	p := s.recordPayment(g.ID, b.ID, a.ID, "20")

	rec := s.do(http.MethodPut, "/api/payments/"+p.ID,
		map[string]string{"from_id": b.ID, "to_id": a.ID, "amount": "12.345", "remarks": "fixed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[PaymentDTO](t, rec)
	assert.Equal(t, "12.35", updated.Amount.Amount)
	assert.Equal(t, "fixed", updated.Remarks)

	require.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/api/payments/"+p.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/api/payments/"+p.ID, nil).Code)
}

func TestParticipantWithHistoryIsKept(t *testing.T) {
	s := newTestServer(t)
	g := s.createGroup("Trip", "ONE_OFF")
	a := s.addParticipant(g.ID, "Ana", 1)
	b := s.addParticipant(g.ID, "Ben", 1)
	s.addExpense(g.ID, a.ID, "10")

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodDelete, "/api/participants/"+a.ID, nil).Code)
	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/api/participants/"+b.ID, nil).Code)

	rec := s.do(http.MethodPut, "/api/participants/"+a.ID, ParticipantRequest{Weight: 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[ParticipantDTO](t, rec)
	assert.Equal(t, "Ana", updated.Name)
	assert.Equal(t, 3, updated.Weight)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenario_WeekendTrip(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "weekend-trip"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/groups/trip-lake-cabin/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[GroupSummaryDTO](t, rec)

	// 1116.00 shared by four is 279.00 each. Dan's advance to Carol and
	// Bob's payment to Alice shift the balances.
	require.NotNil(t, summary.Settlement)
	res := *summary.Settlement
	assert.Len(t, summary.Participants, 4)
	assert.Len(t, summary.Expenses, 4)
	assert.Len(t, summary.Transfers, 1)
	assert.Len(t, summary.Payments, 1)
	assert.Equal(t, "1116.00", res.TotalCost.Amount)
	assert.Equal(t, "279.00", res.PerCapitaCost.Amount)
	assert.Equal(t, "461.00", balanceOf(t, res, "trip-lake-cabin-alice").AdjustedBalance.Amount)
	assert.Equal(t, "1.40", balanceOf(t, res, "trip-lake-cabin-bob").AdjustedBalance.Amount)
	assert.Equal(t, "-233.40", balanceOf(t, res, "trip-lake-cabin-carol").AdjustedBalance.Amount)
	assert.Equal(t, "-229.00", balanceOf(t, res, "trip-lake-cabin-dan").AdjustedBalance.Amount)

	current := decode[ScenarioDTO](t, s.do(http.MethodGet, "/api/scenarios/current", nil))
	assert.Equal(t, "weekend-trip", current.ID)
}

func TestScenario_SharedFlatCarriesForward(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "shared-flat"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	history := decode[[]SettlementDTO](t, s.do(http.MethodGet, "/api/groups/flat-canal-street/settlements", nil))
	require.Len(t, history, 1)

	// Last month: 1770.00 / 3 = 590.00 each; Eve +910, Frank -380, Grace -530.
	// This month: 1630.50 / 3 = 543.50 each on top, then Frank's 400 to Eve.
	rec = s.do(http.MethodGet, "/api/groups/flat-canal-street/settlement", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[SettlementResultDTO](t, rec)

	assert.Equal(t, history[0].ID, res.PreviousSettlementID)
	assert.Equal(t, "1630.50", res.TotalCost.Amount)

	eve := balanceOf(t, res, "flat-canal-street-eve")
	assert.Equal(t, "910.00", eve.CarryForward.Amount)
	assert.Equal(t, "1466.50", eve.AdjustedBalance.Amount)
	assert.Equal(t, "-523.50", balanceOf(t, res, "flat-canal-street-frank").AdjustedBalance.Amount)
	assert.Equal(t, "-943.00", balanceOf(t, res, "flat-canal-street-grace").AdjustedBalance.Amount)

	require.Len(t, res.Transfers, 2)
	for _, tr := range res.Transfers {
		assert.Equal(t, "flat-canal-street-eve", tr.ToID)
	}
}

func TestScenario_UnknownAndReset(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "moon-base"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, http.StatusOK,
		s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "uneven-families"}).Code)
	require.Len(t, decode[[]GroupDTO](t, s.do(http.MethodGet, "/api/groups", nil)), 1)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/scenarios/reset", nil).Code)
	assert.Empty(t, decode[[]GroupDTO](t, s.do(http.MethodGet, "/api/groups", nil)))
	assert.Equal(t, "null\n", s.do(http.MethodGet, "/api/scenarios/current", nil).Body.String())
}

// =============================================================================
// OPERATIONS
// =============================================================================

func TestHealthzAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	s.do(http.MethodGet, "/api/groups/nope", nil)

	rec = s.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `splitledger_http_requests_total{code="404",method="GET",route="/api/groups/{id}"}`)
}
