package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE CALCULATOR - Pure function, no I/O
// =============================================================================

// BalanceInput is everything the calculator needs for one period.
// CostEntries and DirectTransfers must already be scoped to the period.
type BalanceInput struct {
	Mode            Mode
	Participants    []Participant
	CostEntries     []CostEntry
	DirectTransfers []DirectTransfer

	// CarryForward is the previous settlement's adjusted balance per
	// participant. Missing participants start at zero.
	CarryForward map[ParticipantID]decimal.Decimal
}

// BalanceSheet is the calculator's output.
type BalanceSheet struct {
	TotalCost     decimal.Decimal
	PerCapitaCost decimal.Decimal
	TotalWeight   int
	Balances      []ParticipantBalance // same order as BalanceInput.Participants
}

// CalculateBalances splits the period's cost by weight.
//
//	total_cost   = Σ entries paid by a current participant
//	total_weight = Σ weights, floored at 1
//	per_capita   = total_cost / total_weight, to decimal.DivisionPrecision
//	               (16) places after the point
//	net_p        = carry_forward_p + paid_p - per_capita × weight_p
//	               (+ given - received, when the mode counts direct transfers)
//
// Entries whose payer is no longer a participant are skipped in both the
// total and the paid column, so Σ (paid - due) stays zero.
func CalculateBalances(in BalanceInput) (*BalanceSheet, error) {
	if len(in.Participants) == 0 {
		return nil, NewValidationError("participants", "group has no participants")
	}

	index := make(map[ParticipantID]int, len(in.Participants))
	balances := make([]ParticipantBalance, len(in.Participants))
	totalWeight := 0

	for i, p := range in.Participants {
		if p.Weight <= 0 {
			return nil, NewValidationError("weight",
				fmt.Sprintf("participant %s has non-positive weight %d", p.ID, p.Weight))
		}
		if _, dup := index[p.ID]; dup {
			return nil, NewValidationError("participants", fmt.Sprintf("duplicate participant %s", p.ID))
		}
		index[p.ID] = i
		totalWeight += p.Weight

		carry := decimal.Zero
		if v, ok := in.CarryForward[p.ID]; ok {
			carry = v
		}
		balances[i] = ParticipantBalance{
			ParticipantID:     p.ID,
			Name:              p.Name,
			Weight:            p.Weight,
			CarryForward:      carry,
			Paid:              decimal.Zero,
			Due:               decimal.Zero,
			TransfersGiven:    decimal.Zero,
			TransfersReceived: decimal.Zero,
			PaymentAdjustment: decimal.Zero,
		}
	}
	if totalWeight < 1 {
		totalWeight = 1
	}

	totalCost := decimal.Zero
	for _, e := range in.CostEntries {
		if e.Amount.IsNegative() {
			return nil, NewValidationError("amount", fmt.Sprintf("cost entry %s has negative amount", e.ID))
		}
		i, ok := index[e.PayerID]
		if !ok {
			continue
		}
		balances[i].Paid = balances[i].Paid.Add(e.Amount)
		totalCost = totalCost.Add(e.Amount)
	}

	if in.Mode.IncludesDirectTransfers() {
		for _, t := range in.DirectTransfers {
			from, okFrom := index[t.FromID]
			to, okTo := index[t.ToID]
			if !okFrom || !okTo {
				return nil, NewValidationError("transfer",
					fmt.Sprintf("direct transfer %s references an unknown participant", t.ID))
			}
			balances[from].TransfersGiven = balances[from].TransfersGiven.Add(t.Amount)
			balances[to].TransfersReceived = balances[to].TransfersReceived.Add(t.Amount)
		}
	}

	perCapita := totalCost.Div(decimal.NewFromInt(int64(totalWeight)))

	for i := range balances {
		b := &balances[i]
		b.Due = perCapita.Mul(decimal.NewFromInt(int64(b.Weight)))
		b.NetBalance = b.CarryForward.
			Add(b.Paid).
			Sub(b.Due).
			Add(b.TransfersGiven).
			Sub(b.TransfersReceived)
		b.AdjustedBalance = b.NetBalance
	}

	return &BalanceSheet{
		TotalCost:     totalCost,
		PerCapitaCost: perCapita,
		TotalWeight:   totalWeight,
		Balances:      balances,
	}, nil
}
