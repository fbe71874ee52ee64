/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the settlement domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Every amount in a response is a MoneyDTO rounded by the Presenter.
  Request amounts are decimal strings or JSON numbers, decoded exactly
  by shopspring/decimal.

TIMESTAMPS:
  RFC 3339 in UTC.

SEE ALSO:
  - handlers.go: Uses these types
  - present.go: MoneyDTO construction
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/splitledger/settlement"
)

// MoneyDTO is an amount rounded to the currency's minor unit.
type MoneyDTO struct {
	Amount  string `json:"amount"`
	Display string `json:"display"`
}

// =============================================================================
// GROUPS & PARTICIPANTS
// =============================================================================

// GroupDTO represents a group in API responses.
type GroupDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Mode       string `json:"mode"`
	State      string `json:"state"`
	AccessCode string `json:"access_code"`
	CreatedAt  string `json:"created_at"`
}

// CreateGroupRequest is the request to create a group.
type CreateGroupRequest struct {
	Name string `json:"name"`
	Mode string `json:"mode"`
}

// ParticipantDTO represents a participant in API responses.
type ParticipantDTO struct {
	ID        string `json:"id"`
	GroupID   string `json:"group_id"`
	Name      string `json:"name"`
	Weight    int    `json:"weight"`
	CreatedAt string `json:"created_at"`
}

// ParticipantRequest creates or updates a participant. A zero weight
// means 1 on create and "unchanged" on update.
type ParticipantRequest struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

// ExpenseDTO represents a cost entry.
type ExpenseDTO struct {
	ID          string   `json:"id"`
	GroupID     string   `json:"group_id"`
	PayerID     string   `json:"payer_id"`
	Description string   `json:"description"`
	Amount      MoneyDTO `json:"amount"`
	IncurredAt  string   `json:"incurred_at"`
}

// ExpenseRequest creates or updates a cost entry. IncurredAt defaults to
// the current time.
type ExpenseRequest struct {
	PayerID     string          `json:"payer_id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	IncurredAt  *time.Time      `json:"incurred_at,omitempty"`
}

// DirectTransferDTO represents a private loan between two participants.
type DirectTransferDTO struct {
	ID         string   `json:"id"`
	GroupID    string   `json:"group_id"`
	FromID     string   `json:"from_id"`
	ToID       string   `json:"to_id"`
	Amount     MoneyDTO `json:"amount"`
	OccurredAt string   `json:"occurred_at"`
}

// DirectTransferRequest creates a direct transfer.
type DirectTransferRequest struct {
	FromID     string          `json:"from_id"`
	ToID       string          `json:"to_id"`
	Amount     decimal.Decimal `json:"amount"`
	OccurredAt *time.Time      `json:"occurred_at,omitempty"`
}

// PaymentDTO represents a recorded payment, active or archived.
type PaymentDTO struct {
	ID           string   `json:"id"`
	GroupID      string   `json:"group_id"`
	FromID       string   `json:"from_id"`
	ToID         string   `json:"to_id"`
	Amount       MoneyDTO `json:"amount"`
	Remarks      string   `json:"remarks,omitempty"`
	RecordedAt   string   `json:"recorded_at"`
	SettlementID string   `json:"settlement_id,omitempty"`
	ArchivedAt   string   `json:"archived_at,omitempty"`
}

// PaymentRequest records or updates a payment.
type PaymentRequest struct {
	FromID  string          `json:"from_id"`
	ToID    string          `json:"to_id"`
	Amount  decimal.Decimal `json:"amount"`
	Remarks string          `json:"remarks"`
}

// =============================================================================
// SETTLEMENT COMPUTATION
// =============================================================================

// SettlementResultDTO is a computed, not yet finalized settlement.
type SettlementResultDTO struct {
	GroupID              string              `json:"group_id"`
	Mode                 string              `json:"mode"`
	Currency             string              `json:"currency"`
	PeriodStart          string              `json:"period_start"`
	PeriodEnd            string              `json:"period_end"`
	TotalCost            MoneyDTO            `json:"total_cost"`
	PerCapitaCost        MoneyDTO            `json:"per_capita_cost"`
	TotalWeight          int                 `json:"total_weight"`
	Balances             []BalanceDTO        `json:"balances"`
	Transfers            []SuggestedTransfer `json:"transfers"`
	PreviousSettlementID string              `json:"previous_settlement_id,omitempty"`
	ActivePayments       int                 `json:"active_payments"`
	Correction           *CorrectionDTO      `json:"correction,omitempty"`
	ComputedAt           string              `json:"computed_at"`
}

// BalanceDTO is one participant's line in a computed settlement.
type BalanceDTO struct {
	ParticipantID     string   `json:"participant_id"`
	Name              string   `json:"name"`
	Weight            int      `json:"weight"`
	CarryForward      MoneyDTO `json:"carry_forward"`
	Paid              MoneyDTO `json:"paid"`
	Due               MoneyDTO `json:"due"`
	TransfersGiven    MoneyDTO `json:"transfers_given"`
	TransfersReceived MoneyDTO `json:"transfers_received"`
	NetBalance        MoneyDTO `json:"net_balance"`
	PaymentAdjustment MoneyDTO `json:"payment_adjustment"`
	AdjustedBalance   MoneyDTO `json:"adjusted_balance"`
}

// SuggestedTransfer is one payment that closes part of the books.
type SuggestedTransfer struct {
	FromID   string   `json:"from_id"`
	FromName string   `json:"from_name"`
	ToID     string   `json:"to_id"`
	ToName   string   `json:"to_name"`
	Amount   MoneyDTO `json:"amount"`
}

// CorrectionDTO reports a residual folded into one participant. Residual
// is exact, not rounded.
type CorrectionDTO struct {
	ParticipantID string `json:"participant_id"`
	Residual      string `json:"residual"`
}

// =============================================================================
// FINALIZED SETTLEMENTS
// =============================================================================

// SettlementDTO is a finalized settlement, with balances when requested
// individually.
type SettlementDTO struct {
	ID             string                 `json:"id"`
	GroupID        string                 `json:"group_id"`
	Mode           string                 `json:"mode"`
	PeriodStart    string                 `json:"period_start"`
	PeriodEnd      string                 `json:"period_end"`
	TotalCost      MoneyDTO               `json:"total_cost"`
	PerCapitaCost  MoneyDTO               `json:"per_capita_cost"`
	TotalWeight    int                    `json:"total_weight"`
	PreviousID     string                 `json:"previous_settlement_id,omitempty"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
	CreatedAt      string                 `json:"created_at"`
	Balances       []SettlementBalanceDTO `json:"balances,omitempty"`
}

// SettlementBalanceDTO is one participant's row in a finalized settlement.
type SettlementBalanceDTO struct {
	ParticipantID   string   `json:"participant_id"`
	Paid            MoneyDTO `json:"paid"`
	Due             MoneyDTO `json:"due"`
	NetBalance      MoneyDTO `json:"net_balance"`
	AdjustedBalance MoneyDTO `json:"adjusted_balance"`
}

// FinalizeResponse is returned by POST /settlement/finalize.
type FinalizeResponse struct {
	Status           string        `json:"status"`
	Settlement       SettlementDTO `json:"settlement"`
	ArchivedPayments int           `json:"archived_payments"`
}

// CarryForwardDTO is one carry-forward log entry.
type CarryForwardDTO struct {
	PreviousSettlementID string   `json:"previous_settlement_id,omitempty"`
	NewSettlementID      string   `json:"new_settlement_id"`
	ParticipantID        string   `json:"participant_id"`
	PreviousBalance      MoneyDTO `json:"previous_balance"`
	NewBalance           MoneyDTO `json:"new_balance"`
	Delta                MoneyDTO `json:"delta"`
	CreatedAt            string   `json:"created_at"`
}

// GroupSummaryDTO is everything a group page needs in one call.
// Settlement is omitted, with SettlementError set, when the group
// cannot be computed yet (no participants, for example).
type GroupSummaryDTO struct {
	Group           GroupDTO             `json:"group"`
	Participants    []ParticipantDTO     `json:"participants"`
	Expenses        []ExpenseDTO         `json:"expenses"`
	Transfers       []DirectTransferDTO  `json:"transfers"`
	Payments        []PaymentDTO         `json:"payments"`
	Settlement      *SettlementResultDTO `json:"settlement,omitempty"`
	SettlementError string               `json:"settlement_error,omitempty"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Mode        string `json:"mode"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toGroupDTO(g settlement.Group) GroupDTO {
	return GroupDTO{
		ID:         string(g.ID),
		Name:       g.Name,
		Mode:       string(g.Mode),
		State:      string(g.State),
		AccessCode: g.AccessCode,
		CreatedAt:  formatTime(g.CreatedAt),
	}
}

func toParticipantDTO(p settlement.Participant) ParticipantDTO {
	return ParticipantDTO{
		ID:        string(p.ID),
		GroupID:   string(p.GroupID),
		Name:      p.Name,
		Weight:    p.Weight,
		CreatedAt: formatTime(p.CreatedAt),
	}
}

func (p *Presenter) expense(e settlement.CostEntry) ExpenseDTO {
	return ExpenseDTO{
		ID:          e.ID,
		GroupID:     string(e.GroupID),
		PayerID:     string(e.PayerID),
		Description: e.Description,
		Amount:      p.Money(e.Amount),
		IncurredAt:  formatTime(e.IncurredAt),
	}
}

func (p *Presenter) directTransfer(t settlement.DirectTransfer) DirectTransferDTO {
	return DirectTransferDTO{
		ID:         t.ID,
		GroupID:    string(t.GroupID),
		FromID:     string(t.FromID),
		ToID:       string(t.ToID),
		Amount:     p.Money(t.Amount),
		OccurredAt: formatTime(t.OccurredAt),
	}
}

func (p *Presenter) payment(rp settlement.RecordedPayment) PaymentDTO {
	return PaymentDTO{
		ID:         rp.ID,
		GroupID:    string(rp.GroupID),
		FromID:     string(rp.FromID),
		ToID:       string(rp.ToID),
		Amount:     p.Money(rp.Amount),
		Remarks:    rp.Remarks,
		RecordedAt: formatTime(rp.RecordedAt),
	}
}

func (p *Presenter) archivedPayment(ap settlement.ArchivedPayment) PaymentDTO {
	dto := p.payment(ap.RecordedPayment)
	dto.SettlementID = string(ap.SettlementID)
	dto.ArchivedAt = formatTime(ap.ArchivedAt)
	return dto
}

// Result renders a computed settlement. Suggested transfers carry names
// so clients need no second lookup.
func (p *Presenter) Result(res *settlement.Result) SettlementResultDTO {
	names := make(map[settlement.ParticipantID]string, len(res.Balances))
	balances := make([]BalanceDTO, len(res.Balances))
	for i, b := range res.Balances {
		names[b.ParticipantID] = b.Name
		balances[i] = BalanceDTO{
			ParticipantID:     string(b.ParticipantID),
			Name:              b.Name,
			Weight:            b.Weight,
			CarryForward:      p.Money(b.CarryForward),
			Paid:              p.Money(b.Paid),
			Due:               p.Money(b.Due),
			TransfersGiven:    p.Money(b.TransfersGiven),
			TransfersReceived: p.Money(b.TransfersReceived),
			NetBalance:        p.Money(b.NetBalance),
			PaymentAdjustment: p.Money(b.PaymentAdjustment),
			AdjustedBalance:   p.Money(b.AdjustedBalance),
		}
	}

	transfers := make([]SuggestedTransfer, len(res.Transfers))
	for i, t := range res.Transfers {
		transfers[i] = SuggestedTransfer{
			FromID:   string(t.From),
			FromName: names[t.From],
			ToID:     string(t.To),
			ToName:   names[t.To],
			Amount:   p.Money(t.Amount),
		}
	}

	dto := SettlementResultDTO{
		GroupID:              string(res.GroupID),
		Mode:                 string(res.Mode),
		Currency:             p.Currency(),
		PeriodStart:          formatTime(res.Period.Start),
		PeriodEnd:            formatTime(res.Period.End),
		TotalCost:            p.Money(res.TotalCost),
		PerCapitaCost:        p.Money(res.PerCapitaCost),
		TotalWeight:          res.TotalWeight,
		Balances:             balances,
		Transfers:            transfers,
		PreviousSettlementID: string(res.PreviousSettlementID),
		ActivePayments:       res.ActivePayments,
		ComputedAt:           formatTime(res.ComputedAt),
	}
	if res.Correction != nil {
		dto.Correction = &CorrectionDTO{
			ParticipantID: string(res.Correction.ParticipantID),
			Residual:      res.Correction.Residual.String(),
		}
	}
	return dto
}

func (p *Presenter) settlement(s settlement.Settlement) SettlementDTO {
	return SettlementDTO{
		ID:             string(s.ID),
		GroupID:        string(s.GroupID),
		Mode:           string(s.Mode),
		PeriodStart:    formatTime(s.PeriodStart),
		PeriodEnd:      formatTime(s.PeriodEnd),
		TotalCost:      p.Money(s.TotalCost),
		PerCapitaCost:  p.Money(s.PerCapitaCost),
		TotalWeight:    s.TotalWeight,
		PreviousID:     string(s.PreviousID),
		IdempotencyKey: s.IdempotencyKey,
		CreatedAt:      formatTime(s.CreatedAt),
	}
}

func (p *Presenter) snapshot(s *settlement.SettlementSnapshot) SettlementDTO {
	dto := p.settlement(s.Settlement)
	dto.Balances = make([]SettlementBalanceDTO, len(s.Balances))
	for i, b := range s.Balances {
		dto.Balances[i] = SettlementBalanceDTO{
			ParticipantID:   string(b.ParticipantID),
			Paid:            p.Money(b.Paid),
			Due:             p.Money(b.Due),
			NetBalance:      p.Money(b.NetBalance),
			AdjustedBalance: p.Money(b.AdjustedBalance),
		}
	}
	return dto
}

func (p *Presenter) carryForward(e settlement.CarryForwardLogEntry) CarryForwardDTO {
	return CarryForwardDTO{
		PreviousSettlementID: string(e.PreviousSettlementID),
		NewSettlementID:      string(e.NewSettlementID),
		ParticipantID:        string(e.ParticipantID),
		PreviousBalance:      p.Money(e.PreviousBalance),
		NewBalance:           p.Money(e.NewBalance),
		Delta:                p.Money(e.Delta),
		CreatedAt:            formatTime(e.CreatedAt),
	}
}
