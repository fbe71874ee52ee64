/*
handlers.go - HTTP API handlers for the settlement service

PURPOSE:
  Exposes the ledger and the settlement engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the store and
  the engine.

ENDPOINTS:
  Groups:
    GET    /api/groups                      List groups
    POST   /api/groups                      Create group (generates access code)
    GET    /api/groups/{id}                 Get group
    GET    /api/groups/join/{code}          Look up an active group by code
    POST   /api/groups/{id}/archive         Archive (read-only)
    POST   /api/groups/{id}/restore         Back to active
    DELETE /api/groups/{id}                 Soft delete
    GET    /api/groups/{id}/summary         Everything a group page needs

  Ledger:
    GET|POST   /api/groups/{id}/participants
    PUT|DELETE /api/participants/{id}
    GET|POST   /api/groups/{id}/expenses
    PUT|DELETE /api/expenses/{id}
    GET|POST   /api/groups/{id}/transfers
    DELETE     /api/transfers/{id}
    GET|POST   /api/groups/{id}/payments
    PUT|DELETE /api/payments/{id}

  Settlements:
    GET    /api/groups/{id}/settlement           Compute (no side effects)
    POST   /api/groups/{id}/settlement/finalize  Recompute and finalize
    GET    /api/groups/{id}/settlements          History, newest first
    GET    /api/settlements/{id}                 Header and balances
    GET    /api/settlements/{id}/carry-forward   Carry-forward log
    GET    /api/settlements/{id}/payments        Payments it consumed

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: SQLite ledger (CRUD and history)
  - Engine: settlement computation and finalization
  - Presenter: rounding and currency formatting

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Check the group accepts the change (archived groups are read-only,
     deleted groups are gone)
  4. Call the store or the engine
  5. Serialize response

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: settlement.ErrValidation, malformed input
  - 404: settlement.ErrNotFound
  - 409: settlement.ErrStaleResult, settlement.ErrPaymentConsumed
  - 500: consistency and storage failures

IDEMPOTENCY:
  POST .../settlement/finalize honors an Idempotency-Key header. Without
  one, a second finalize inside the engine's duplicate window returns the
  first settlement. Duplicates answer 200, new settlements 201.

SECURITY NOTE:
  No authentication. Access codes are for sharing, not for access control.

SEE ALSO:
  - dto.go: Request/response data structures
  - present.go: Money rounding and display
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/splitledger/settlement"
	"github.com/warp/splitledger/store/sqlite"
)

// IdempotencyKeyHeader carries the client's finalize key.
const IdempotencyKeyHeader = "Idempotency-Key"

const accessCodeAttempts = 5

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Engine    *settlement.Engine
	Presenter *Presenter
	Logger    *slog.Logger

	// Now stamps new ledger entries that carry no date of their own.
	Now func() time.Time

	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a handler.
func NewHandler(store *sqlite.Store, engine *settlement.Engine, presenter *Presenter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:     store,
		Engine:    engine,
		Presenter: presenter,
		Logger:    logger,
		Now:       time.Now,
	}
}

// Healthz reports whether the database answers.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// GROUP HANDLERS
// =============================================================================

// ListGroups returns groups that are not deleted. ?state=ACTIVE or
// ?state=ARCHIVED narrows the listing.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	state := settlement.GroupState(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("state"))))
	groups, err := h.Store.ListGroups(r.Context(), state)
	if err != nil {
		h.fail(w, r, "Failed to list groups", err)
		return
	}

	dtos := make([]GroupDTO, len(groups))
	for i, g := range groups {
		dtos[i] = toGroupDTO(g)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateGroup creates a group with a fresh access code.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		h.fail(w, r, "Invalid group", settlement.NewValidationError("name", "name is required"))
		return
	}
	mode, err := settlement.ParseMode(req.Mode)
	if err != nil {
		h.fail(w, r, "Invalid group", err)
		return
	}

	g := settlement.Group{
		ID:        settlement.GroupID(uuid.NewString()),
		Name:      name,
		Mode:      mode,
		State:     settlement.GroupActive,
		CreatedAt: h.Now().UTC(),
	}
	if err := h.createGroup(r.Context(), &g); err != nil {
		h.fail(w, r, "Failed to create group", err)
		return
	}

	h.Logger.Info("group created", "group_id", g.ID, "mode", g.Mode, "request_id", requestID(r))
	writeJSON(w, http.StatusCreated, toGroupDTO(g))
}

// createGroup inserts g, drawing new access codes until one is free.
func (h *Handler) createGroup(ctx context.Context, g *settlement.Group) error {
	var err error
	for i := 0; i < accessCodeAttempts; i++ {
		g.AccessCode = newAccessCode()
		err = h.Store.CreateGroup(ctx, *g)
		if !errors.Is(err, sqlite.ErrAccessCodeTaken) {
			return err
		}
	}
	return err
}

// newAccessCode returns six upper-case hex characters.
func newAccessCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}

// GetGroup returns a group.
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.visibleGroup(r.Context(), groupParam(r))
	if err != nil {
		h.fail(w, r, "Failed to get group", err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupDTO(*g))
}

// JoinGroup looks up an active group by its access code.
func (h *Handler) JoinGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.Store.GetGroupByAccessCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, "Failed to find group", err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupDTO(*g))
}

// ArchiveGroup makes a group read-only.
func (h *Handler) ArchiveGroup(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, settlement.GroupArchived)
}

// RestoreGroup makes an archived group active again.
func (h *Handler) RestoreGroup(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, settlement.GroupActive)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, state settlement.GroupState) {
	ctx := r.Context()
	id := groupParam(r)

	if err := h.Store.SetGroupState(ctx, id, state); err != nil {
		h.fail(w, r, "Failed to update group", err)
		return
	}
	g, err := h.Store.GetGroup(ctx, id)
	if err != nil {
		h.fail(w, r, "Failed to get group", err)
		return
	}

	h.Logger.Info("group state changed", "group_id", id, "state", state, "request_id", requestID(r))
	writeJSON(w, http.StatusOK, toGroupDTO(*g))
}

// DeleteGroup soft-deletes a group. Its history stays in the database.
func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id := groupParam(r)
	if err := h.Store.SetGroupState(r.Context(), id, settlement.GroupDeleted); err != nil {
		h.fail(w, r, "Failed to delete group", err)
		return
	}

	h.Logger.Info("group deleted", "group_id", id, "request_id", requestID(r))
	w.WriteHeader(http.StatusNoContent)
}

// GroupSummary returns the group, its ledger and the current computation.
func (h *Handler) GroupSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	g, err := h.visibleGroup(ctx, groupParam(r))
	if err != nil {
		h.fail(w, r, "Failed to get group", err)
		return
	}

	participants, err := h.Store.ListParticipants(ctx, g.ID)
	if err != nil {
		h.fail(w, r, "Failed to list participants", err)
		return
	}
	entries, err := h.Store.ListCostEntries(ctx, g.ID, nil, nil)
	if err != nil {
		h.fail(w, r, "Failed to list expenses", err)
		return
	}
	transfers, err := h.Store.ListDirectTransfers(ctx, g.ID)
	if err != nil {
		h.fail(w, r, "Failed to list transfers", err)
		return
	}
	payments, err := h.Store.ListActivePayments(ctx, g.ID)
	if err != nil {
		h.fail(w, r, "Failed to list payments", err)
		return
	}

	summary := GroupSummaryDTO{
		Group:        toGroupDTO(*g),
		Participants: make([]ParticipantDTO, len(participants)),
		Expenses:     make([]ExpenseDTO, len(entries)),
		Transfers:    make([]DirectTransferDTO, len(transfers)),
		Payments:     make([]PaymentDTO, len(payments)),
	}
	for i, p := range participants {
		summary.Participants[i] = toParticipantDTO(p)
	}
	for i, e := range entries {
		summary.Expenses[i] = h.Presenter.expense(e)
	}
	for i, t := range transfers {
		summary.Transfers[i] = h.Presenter.directTransfer(t)
	}
	for i, p := range payments {
		summary.Payments[i] = h.Presenter.payment(p)
	}

	res, err := h.Engine.Compute(ctx, g.ID)
	switch {
	case err == nil:
		dto := h.Presenter.Result(res)
		summary.Settlement = &dto
	case settlement.IsClientError(err):
		summary.SettlementError = err.Error()
	default:
		h.fail(w, r, "Failed to compute settlement", err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// =============================================================================
// PARTICIPANT HANDLERS
// =============================================================================

// ListParticipants returns a group's participants in joining order.
func (h *Handler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	g, err := h.visibleGroup(ctx, groupParam(r))
	if err != nil {
		h.fail(w, r, "Failed to get group", err)
		return
	}

	participants, err := h.Store.ListParticipants(ctx, g.ID)
	if err != nil {
		h.fail(w, r, "Failed to list participants", err)
		return
	}
	dtos := make([]ParticipantDTO, len(participants))
	for i, p := range participants {
		dtos[i] = toParticipantDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AddParticipant adds a participant. Weight defaults to 1.
func (h *Handler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	g, err := h.writableGroup(ctx, groupParam(r))
	if err != nil {
		h.fail(w, r, "Cannot add participant", err)
		return
	}

	if req.Weight == 0 {
		req.Weight = 1
	}
	if err := validateParticipant(req.Name, req.Weight); err != nil {
		h.fail(w, r, "Invalid participant", err)
		return
	}

	p := settlement.Participant{
		ID:        settlement.ParticipantID(uuid.NewString()),
		GroupID:   g.ID,
		Name:      strings.TrimSpace(req.Name),
		Weight:    req.Weight,
		CreatedAt: h.Now().UTC(),
	}
	if err := h.Store.AddParticipant(ctx, p); err != nil {
		h.fail(w, r, "Failed to add participant", err)
		return
	}
	writeJSON(w, http.StatusCreated, toParticipantDTO(p))
}

// UpdateParticipant renames or re-weights a participant.
func (h *Handler) UpdateParticipant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Store.GetParticipant(ctx, settlement.ParticipantID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get participant", err)
		return
	}
	if _, err := h.writableGroup(ctx, p.GroupID); err != nil {
		h.fail(w, r, "Cannot update participant", err)
		return
	}

	if strings.TrimSpace(req.Name) != "" {
		p.Name = strings.TrimSpace(req.Name)
	}
	if req.Weight != 0 {
		p.Weight = req.Weight
	}
	if err := validateParticipant(p.Name, p.Weight); err != nil {
		h.fail(w, r, "Invalid participant", err)
		return
	}

	if err := h.Store.UpdateParticipant(ctx, *p); err != nil {
		h.fail(w, r, "Failed to update participant", err)
		return
	}
	writeJSON(w, http.StatusOK, toParticipantDTO(*p))
}

// DeleteParticipant removes a participant without ledger history.
func (h *Handler) DeleteParticipant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.Store.GetParticipant(ctx, settlement.ParticipantID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get participant", err)
		return
	}
	if _, err := h.writableGroup(ctx, p.GroupID); err != nil {
		h.fail(w, r, "Cannot delete participant", err)
		return
	}

	if err := h.Store.DeleteParticipant(ctx, p.ID); err != nil {
		h.fail(w, r, "Failed to delete participant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func validateParticipant(name string, weight int) error {
	if strings.TrimSpace(name) == "" {
		return settlement.NewValidationError("name", "name is required")
	}
	if weight <= 0 {
		return settlement.NewValidationError("weight", "weight must be positive")
	}
	return nil
}

// =============================================================================
// EXPENSE HANDLERS
// =============================================================================

// ListExpenses returns every cost entry of a group, oldest first.
func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	g, err := h.visibleGroup(ctx, groupParam(r))
	if err != nil {
		h.fail(w, r, "Failed to get group", err)
		return
	}

	entries, err := h.Store.ListCostEntries(ctx, g.ID, nil, nil)
	if err != nil {
		h.fail(w, r, "Failed to list expenses", err)
		return
	}
	dtos := make([]ExpenseDTO, len(entries))
	for i, e := range entries {
		dtos[i] = h.Presenter.expense(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AddExpense records a shared cost.
func (h *Handler) AddExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	g, err := h.writableGroup(ctx, groupParam(r))
	if err != nil {
		h.fail(w, r, "Cannot add expense", err)
		return
	}
	if err := validateAmount(req.Amount); err != nil {
		h.fail(w, r, "Invalid expense", err)
		return
	}

	e := settlement.CostEntry{
		ID:          uuid.NewString(),
		GroupID:     g.ID,
		PayerID:     settlement.ParticipantID(req.PayerID),
		Description: strings.TrimSpace(req.Description),
		Amount:      req.Amount,
		IncurredAt:  h.dateOrNow(req.IncurredAt),
	}
	if err := h.Store.AddCostEntry(ctx, e); err != nil {
		h.fail(w, r, "Failed to add expense", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.Presenter.expense(e))
}

// UpdateExpense rewrites a cost entry. A missing date keeps the old one.
func (h *Handler) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	e, err := h.Store.GetCostEntry(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get expense", err)
		return
	}
	if _, err := h.writableGroup(ctx, e.GroupID); err != nil {
		h.fail(w, r, "Cannot update expense", err)
		return
	}
	if err := validateAmount(req.Amount); err != nil {
		h.fail(w, r, "Invalid expense", err)
		return
	}

	if req.PayerID != "" {
		e.PayerID = settlement.ParticipantID(req.PayerID)
	}
	e.Description = strings.TrimSpace(req.Description)
	e.Amount = req.Amount
	if req.IncurredAt != nil {
		e.IncurredAt = req.IncurredAt.UTC()
	}

	if err := h.Store.UpdateCostEntry(ctx, *e); err != nil {
		h.fail(w, r, "Failed to update expense", err)
		return
	}
	writeJSON(w, http.StatusOK, h.Presenter.expense(*e))
}

// DeleteExpense removes a cost entry.
func (h *Handler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	e, err := h.Store.GetCostEntry(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get expense", err)
		return
	}
	if _, err := h.writableGroup(ctx, e.GroupID); err != nil {
		h.fail(w, r, "Cannot delete expense", err)
		return
	}
	if err := h.Store.DeleteCostEntry(ctx, e.ID); err != nil {
		h.fail(w, r, "Failed to delete expense", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// DIRECT TRANSFER HANDLERS
// =============================================================================

// ListTransfers returns a group's direct transfers.
func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	g, err := h.visibleGroup(ctx, groupParam(r))
	if err != nil {
		h.fail(w, r, "Failed to get group", err)
		return
	}

	transfers, err := h.Store.ListDirectTransfers(ctx, g.ID)
	if err != nil {
		h.fail(w, r, "Failed to list transfers", err)
		return
	}
	dtos := make([]DirectTransferDTO, len(transfers))
	for i, t := range transfers {
		dtos[i] = h.Presenter.directTransfer(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AddTransfer records a private advance. Only one-off groups count them,
// so recurring groups refuse them outright.
func (h *Handler) AddTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req DirectTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	g, err := h.writableGroup(ctx, groupParam(r))
	if err != nil {
		h.fail(w, r, "Cannot add transfer", err)
		return
	}
	if !g.Mode.IncludesDirectTransfers() {
		h.fail(w, r, "Cannot add transfer", settlement.NewValidationError("mode",
			fmt.Sprintf("%s groups do not track direct transfers", g.Mode)))
		return
	}
	if err := validatePair(req.FromID, req.ToID, req.Amount); err != nil {
		h.fail(w, r, "Invalid transfer", err)
		return
	}

	t := settlement.DirectTransfer{
		ID:         uuid.NewString(),
		GroupID:    g.ID,
		FromID:     settlement.ParticipantID(req.FromID),
		ToID:       settlement.ParticipantID(req.ToID),
		Amount:     req.Amount,
		OccurredAt: h.dateOrNow(req.OccurredAt),
	}
	if err := h.Store.AddDirectTransfer(ctx, t); err != nil {
		h.fail(w, r, "Failed to add transfer", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.Presenter.directTransfer(t))
}

// DeleteTransfer removes a direct transfer.
func (h *Handler) DeleteTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := h.Store.GetDirectTransfer(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get transfer", err)
		return
	}
	if _, err := h.writableGroup(ctx, t.GroupID); err != nil {
		h.fail(w, r, "Cannot delete transfer", err)
		return
	}
	if err := h.Store.DeleteDirectTransfer(ctx, t.ID); err != nil {
		h.fail(w, r, "Failed to delete transfer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListPayments returns the group's active payments.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	g, err := h.visibleGroup(ctx, groupParam(r))
	if err != nil {
		h.fail(w, r, "Failed to get group", err)
		return
	}

	payments, err := h.Store.ListActivePayments(ctx, g.ID)
	if err != nil {
		h.fail(w, r, "Failed to list payments", err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = h.Presenter.payment(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecordPayment records a peer payment against the current period.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	g, err := h.writableGroup(ctx, groupParam(r))
	if err != nil {
		h.fail(w, r, "Cannot record payment", err)
		return
	}
	if err := validatePair(req.FromID, req.ToID, req.Amount); err != nil {
		h.fail(w, r, "Invalid payment", err)
		return
	}

	p := settlement.RecordedPayment{
		ID:         uuid.NewString(),
		GroupID:    g.ID,
		FromID:     settlement.ParticipantID(req.FromID),
		ToID:       settlement.ParticipantID(req.ToID),
		Amount:     req.Amount,
		Remarks:    strings.TrimSpace(req.Remarks),
		RecordedAt: h.Now().UTC(),
	}
	if err := h.Store.RecordPayment(ctx, p); err != nil {
		h.fail(w, r, "Failed to record payment", err)
		return
	}

	h.Logger.Info("payment recorded",
		"group_id", g.ID,
		"payment_id", p.ID,
		"amount", p.Amount.String(),
		"request_id", requestID(r),
	)
	writeJSON(w, http.StatusCreated, h.Presenter.payment(p))
}

// UpdatePayment rewrites an active payment. Archived payments yield 409.
func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	existing, err := h.Store.GetPayment(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get payment", err)
		return
	}
	if _, err := h.writableGroup(ctx, existing.GroupID); err != nil {
		h.fail(w, r, "Cannot update payment", err)
		return
	}
	if err := validatePair(req.FromID, req.ToID, req.Amount); err != nil {
		h.fail(w, r, "Invalid payment", err)
		return
	}

	p := existing.RecordedPayment
	p.FromID = settlement.ParticipantID(req.FromID)
	p.ToID = settlement.ParticipantID(req.ToID)
	p.Amount = req.Amount
	p.Remarks = strings.TrimSpace(req.Remarks)

	if err := h.Store.UpdatePayment(ctx, p); err != nil {
		h.fail(w, r, "Failed to update payment", err)
		return
	}
	writeJSON(w, http.StatusOK, h.Presenter.payment(p))
}

// DeletePayment removes an active payment. Archived payments yield 409.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	existing, err := h.Store.GetPayment(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get payment", err)
		return
	}
	if _, err := h.writableGroup(ctx, existing.GroupID); err != nil {
		h.fail(w, r, "Cannot delete payment", err)
		return
	}
	if err := h.Store.DeletePayment(ctx, existing.ID); err != nil {
		h.fail(w, r, "Failed to delete payment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// ComputeSettlement returns the group's current settlement without
// persisting anything.
func (h *Handler) ComputeSettlement(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Compute(r.Context(), groupParam(r))
	if err != nil {
		h.fail(w, r, "Failed to compute settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, h.Presenter.Result(res))
}

// FinalizeSettlement recomputes and finalizes the group's settlement.
func (h *Handler) FinalizeSettlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := groupParam(r)
	opts := settlement.FinalizeOptions{
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)),
	}

	out, err := h.Engine.ComputeAndFinalize(ctx, groupID, opts)
	if err != nil {
		h.fail(w, r, "Failed to finalize settlement", err)
		return
	}

	snap, err := h.Store.GetSettlement(ctx, out.SettlementID)
	if err != nil {
		h.fail(w, r, "Failed to load settlement", err)
		return
	}

	status := http.StatusCreated
	if out.Duplicate() {
		status = http.StatusOK
	}
	writeJSON(w, status, FinalizeResponse{
		Status:           string(out.Status),
		Settlement:       h.Presenter.snapshot(snap),
		ArchivedPayments: out.ArchivedPayments,
	})
}

// ListSettlements returns the group's settlement history, newest first.
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	g, err := h.visibleGroup(ctx, groupParam(r))
	if err != nil {
		h.fail(w, r, "Failed to get group", err)
		return
	}

	history, err := h.Store.ListSettlements(ctx, g.ID)
	if err != nil {
		h.fail(w, r, "Failed to list settlements", err)
		return
	}
	dtos := make([]SettlementDTO, len(history))
	for i, s := range history {
		dtos[i] = h.Presenter.settlement(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSettlement returns a settlement with its balances.
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Store.GetSettlement(r.Context(), settlementParam(r))
	if err != nil {
		h.fail(w, r, "Failed to get settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, h.Presenter.snapshot(snap))
}

// GetCarryForwardLog returns how balances moved into a settlement.
func (h *Handler) GetCarryForwardLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := h.Store.GetSettlement(ctx, settlementParam(r))
	if err != nil {
		h.fail(w, r, "Failed to get settlement", err)
		return
	}

	entries, err := h.Store.ListCarryForwardLog(ctx, snap.ID)
	if err != nil {
		h.fail(w, r, "Failed to list carry-forward log", err)
		return
	}
	dtos := make([]CarryForwardDTO, len(entries))
	for i, e := range entries {
		dtos[i] = h.Presenter.carryForward(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSettlementPayments returns the payments a settlement consumed.
func (h *Handler) GetSettlementPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := h.Store.GetSettlement(ctx, settlementParam(r))
	if err != nil {
		h.fail(w, r, "Failed to get settlement", err)
		return
	}

	payments, err := h.Store.ListArchivedPayments(ctx, snap.ID)
	if err != nil {
		h.fail(w, r, "Failed to list payments", err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = h.Presenter.archivedPayment(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.fail(w, r, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	h.Logger.Warn("database reset", "request_id", requestID(r))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func groupParam(r *http.Request) settlement.GroupID {
	return settlement.GroupID(chi.URLParam(r, "id"))
}

func settlementParam(r *http.Request) settlement.SettlementID {
	return settlement.SettlementID(chi.URLParam(r, "id"))
}

// visibleGroup loads a group that has not been deleted.
func (h *Handler) visibleGroup(ctx context.Context, id settlement.GroupID) (*settlement.Group, error) {
	g, err := h.Store.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.State == settlement.GroupDeleted {
		return nil, settlement.NewNotFoundError("group", string(id))
	}
	return g, nil
}

// writableGroup loads a group that accepts ledger changes.
func (h *Handler) writableGroup(ctx context.Context, id settlement.GroupID) (*settlement.Group, error) {
	g, err := h.visibleGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.State == settlement.GroupArchived {
		return nil, settlement.NewValidationError("state", "archived groups are read-only")
	}
	return g, nil
}

func (h *Handler) dateOrNow(t *time.Time) time.Time {
	if t == nil || t.IsZero() {
		return h.Now().UTC()
	}
	return t.UTC()
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return settlement.NewValidationError("amount", "amount must be positive")
	}
	return nil
}

func validatePair(from, to string, amount decimal.Decimal) error {
	if from == "" || to == "" {
		return settlement.NewValidationError("participant", "from_id and to_id are required")
	}
	if from == to {
		return settlement.NewValidationError("participant", "from_id and to_id must differ")
	}
	return validateAmount(amount)
}

// fail maps a domain error onto an HTTP status. Server-side failures are
// logged; client errors are only returned.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message, "error", err, "path", r.URL.Path, "request_id", requestID(r))
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case settlement.IsClientError(err):
		return http.StatusBadRequest
	case settlement.IsNotFound(err):
		return http.StatusNotFound
	case settlement.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: errorCode(status)}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_failed"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}
