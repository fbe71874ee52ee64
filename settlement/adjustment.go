package settlement

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// DefaultTolerance is the largest residual the applier will fold into a
// single participant. Anything larger is a ConsistencyError.
var DefaultTolerance = decimal.New(1, -2) // 0.01

// ApplyAdjustments folds recorded payments into net balances and returns
// new balance lines; the input slice is not modified.
//
// A payment from → to of amount a moves the payer's balance up by a (their
// obligation shrinks) and the receiver's down by a (their claim shrinks).
//
// Afterwards the adjusted balances must sum to zero. A non-zero residual
// within tolerance is subtracted from the participant with the largest
// absolute adjusted balance (ties by id) and reported as a Correction.
// A residual beyond tolerance is returned as a *ConsistencyError.
func ApplyAdjustments(balances []ParticipantBalance, payments []RecordedPayment, tolerance decimal.Decimal) ([]ParticipantBalance, *Correction, error) {
	out := make([]ParticipantBalance, len(balances))
	copy(out, balances)

	index := make(map[ParticipantID]int, len(out))
	for i, b := range out {
		index[b.ParticipantID] = i
		out[i].PaymentAdjustment = decimal.Zero
	}

	for _, p := range payments {
		from, okFrom := index[p.FromID]
		to, okTo := index[p.ToID]
		if !okFrom || !okTo {
			return nil, nil, NewValidationError("payment",
				fmt.Sprintf("payment %s references an unknown participant", p.ID))
		}
		out[from].PaymentAdjustment = out[from].PaymentAdjustment.Add(p.Amount)
		out[to].PaymentAdjustment = out[to].PaymentAdjustment.Sub(p.Amount)
	}

	residual := decimal.Zero
	for i := range out {
		out[i].AdjustedBalance = out[i].NetBalance.Add(out[i].PaymentAdjustment)
		residual = residual.Add(out[i].AdjustedBalance)
	}

	if residual.IsZero() || len(out) == 0 {
		return out, nil, nil
	}
	if residual.Abs().GreaterThan(tolerance) {
		return nil, nil, &ConsistencyError{Residual: residual, Tolerance: tolerance}
	}

	target := largestMagnitude(out)
	out[target].AdjustedBalance = out[target].AdjustedBalance.Sub(residual)
	return out, &Correction{ParticipantID: out[target].ParticipantID, Residual: residual}, nil
}

func largestMagnitude(balances []ParticipantBalance) int {
	order := make([]int, len(balances))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ma := balances[order[a]].AdjustedBalance.Abs()
		mb := balances[order[b]].AdjustedBalance.Abs()
		if !ma.Equal(mb) {
			return ma.GreaterThan(mb)
		}
		return balances[order[a]].ParticipantID < balances[order[b]].ParticipantID
	})
	return order[0]
}
