/*
Package settlement provides the shared-cost settlement engine.

PURPOSE:
  Turns a group's raw ledger (who paid for what, private advances between
  participants, peer payments recorded since the last close) into
  per-participant balances and a short list of transfers that would
  zero every balance out. Finalizing persists that outcome as an
  immutable Settlement which becomes the next period's baseline.

KEY CONCEPTS IN THIS FILE (types.go):
  - Group / Participant: who shares costs, and with what weight
  - CostEntry: a shared expense paid by one participant
  - DirectTransfer: a private loan between two participants (one-off groups)
  - RecordedPayment: a peer payment, active until a finalize consumes it
  - Settlement / SettlementBalance: the immutable snapshot of one close
  - CarryForwardLogEntry: per-participant link between two settlements

DESIGN PRINCIPLES:
  1. Precision: every amount is a decimal.Decimal; nothing is rounded
     before the presentation layer
  2. Immutability: settlements and their balances are written once
  3. Type safety: distinct ID types for groups, participants and settlements

SEE ALSO:
  - period.go: Mode and accounting window resolution
  - balance.go: Balance Calculator
  - adjustment.go: Adjustment Applier
  - minimizer.go: Debt Minimizer
  - finalizer.go: Settlement Finalizer
*/
package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type GroupID string
type ParticipantID string
type SettlementID string

// =============================================================================
// GROUP & PARTICIPANTS
// =============================================================================

// GroupState is the lifecycle state of a group.
type GroupState string

const (
	GroupActive   GroupState = "ACTIVE"
	GroupArchived GroupState = "ARCHIVED"
	GroupDeleted  GroupState = "DELETED"
)

// Valid reports whether s is a known lifecycle state.
func (s GroupState) Valid() bool {
	switch s {
	case GroupActive, GroupArchived, GroupDeleted:
		return true
	}
	return false
}

// Group is a trip or a recurring shared stay.
type Group struct {
	ID         GroupID
	Name       string
	Mode       Mode
	State      GroupState
	AccessCode string // short code other members use to join
	CreatedAt  time.Time
}

// Participant is a member of exactly one group. Weight is the number of
// people the participant stands for (a family of four has weight 4).
type Participant struct {
	ID        ParticipantID
	GroupID   GroupID
	Name      string
	Weight    int
	CreatedAt time.Time
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

// CostEntry is a shared expense.
type CostEntry struct {
	ID          string
	GroupID     GroupID
	PayerID     ParticipantID
	Description string
	Amount      decimal.Decimal
	IncurredAt  time.Time
}

// DirectTransfer is a private loan from one participant to another,
// independent of shared cost. Only one-off groups count them.
type DirectTransfer struct {
	ID         string
	GroupID    GroupID
	FromID     ParticipantID
	ToID       ParticipantID
	Amount     decimal.Decimal
	OccurredAt time.Time
}

// RecordedPayment is a peer payment recorded against the current period.
// It stays editable until a finalize consumes it.
type RecordedPayment struct {
	ID         string
	GroupID    GroupID
	FromID     ParticipantID
	ToID       ParticipantID
	Amount     decimal.Decimal
	Remarks    string
	RecordedAt time.Time
}

// ArchivedPayment is a RecordedPayment consumed by a settlement.
type ArchivedPayment struct {
	RecordedPayment
	SettlementID SettlementID
	ArchivedAt   time.Time
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

// Settlement is the immutable header of one finalized close.
type Settlement struct {
	ID             SettlementID
	GroupID        GroupID
	Mode           Mode
	PeriodStart    time.Time
	PeriodEnd      time.Time
	TotalCost      decimal.Decimal
	PerCapitaCost  decimal.Decimal
	TotalWeight    int
	PreviousID     SettlementID // empty for the group's first settlement
	IdempotencyKey string
	CreatedAt      time.Time
}

// SettlementBalance is one participant's row in a settlement.
// AdjustedBalance is the next period's carry-forward baseline.
type SettlementBalance struct {
	SettlementID    SettlementID
	ParticipantID   ParticipantID
	Paid            decimal.Decimal
	Due             decimal.Decimal
	NetBalance      decimal.Decimal
	AdjustedBalance decimal.Decimal
}

// SettlementSnapshot is a settlement header together with its balances.
type SettlementSnapshot struct {
	Settlement
	Balances []SettlementBalance
}

// AdjustedBalances returns the per-participant carry-forward baseline.
func (s *SettlementSnapshot) AdjustedBalances() map[ParticipantID]decimal.Decimal {
	out := make(map[ParticipantID]decimal.Decimal, len(s.Balances))
	for _, b := range s.Balances {
		out[b.ParticipantID] = b.AdjustedBalance
	}
	return out
}

// CarryForwardLogEntry records how one participant's balance moved from
// the previous settlement into a new one.
type CarryForwardLogEntry struct {
	GroupID              GroupID
	PreviousSettlementID SettlementID // empty for baseline entries
	NewSettlementID      SettlementID
	ParticipantID        ParticipantID
	PreviousBalance      decimal.Decimal
	NewBalance           decimal.Decimal
	Delta                decimal.Decimal
	CreatedAt            time.Time
}

// =============================================================================
// COMPUTATION OUTPUT
// =============================================================================

// ParticipantBalance is one participant's line in a computed result.
//
//	NetBalance      = CarryForward + Paid - Due + TransfersGiven - TransfersReceived
//	AdjustedBalance = NetBalance + PaymentAdjustment
//
// Positive means the group owes the participant.
type ParticipantBalance struct {
	ParticipantID     ParticipantID
	Name              string
	Weight            int
	CarryForward      decimal.Decimal
	Paid              decimal.Decimal
	Due               decimal.Decimal
	TransfersGiven    decimal.Decimal
	TransfersReceived decimal.Decimal
	NetBalance        decimal.Decimal
	PaymentAdjustment decimal.Decimal
	AdjustedBalance   decimal.Decimal
}

// Transfer is a suggested payment that closes part of the books.
type Transfer struct {
	From   ParticipantID
	To     ParticipantID
	Amount decimal.Decimal
}

// Correction records a sub-tolerance residual folded into one participant
// so that adjusted balances sum to exactly zero.
type Correction struct {
	ParticipantID ParticipantID
	Residual      decimal.Decimal
}

// Result is the output of Engine.Compute and the input of Engine.Finalize.
type Result struct {
	GroupID       GroupID
	Mode          Mode
	Period        Period
	TotalCost     decimal.Decimal
	PerCapitaCost decimal.Decimal
	TotalWeight   int
	Balances      []ParticipantBalance
	Transfers     []Transfer

	// PreviousSettlementID is the group's latest settlement at compute
	// time (the carry-forward baseline for recurring groups). Finalize
	// refuses a result whose baseline is no longer the latest.
	PreviousSettlementID SettlementID

	// ActivePayments is how many recorded payments were folded in and
	// would be archived by a finalize.
	ActivePayments int

	Correction *Correction
	ComputedAt time.Time
}

// AdjustedSum returns the sum of all adjusted balances.
func (r *Result) AdjustedSum() decimal.Decimal {
	sum := decimal.Zero
	for _, b := range r.Balances {
		sum = sum.Add(b.AdjustedBalance)
	}
	return sum
}

// Balance returns the line for the given participant.
func (r *Result) Balance(id ParticipantID) (ParticipantBalance, bool) {
	for _, b := range r.Balances {
		if b.ParticipantID == id {
			return b, true
		}
	}
	return ParticipantBalance{}, false
}
