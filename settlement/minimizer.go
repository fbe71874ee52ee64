package settlement

import (
	"sort"

	"github.com/shopspring/decimal"
)

// DefaultEpsilon is half a cent: balances smaller than this are settled.
var DefaultEpsilon = decimal.New(5, -3) // 0.005

type position struct {
	id     ParticipantID
	amount decimal.Decimal // magnitude, always positive
}

// MinimizeTransfers derives suggested transfers from adjusted balances.
//
// Creditors (balance > epsilon) are sorted largest first, debtors
// (balance < -epsilon) most negative first, ties by participant id. The
// two heads are matched greedily: the smaller magnitude is paid in full,
// and any side whose remainder drops below epsilon is retired. Every
// step retires at least one participant, so at most N-1 transfers are
// emitted. The output is deterministic for a given input.
//
// This minimizes the number of transfers heuristically; it does not try
// to minimize the largest single transfer.
func MinimizeTransfers(balances map[ParticipantID]decimal.Decimal, epsilon decimal.Decimal) []Transfer {
	var creditors, debtors []position
	for id, amount := range balances {
		switch {
		case amount.GreaterThan(epsilon):
			creditors = append(creditors, position{id: id, amount: amount})
		case amount.LessThan(epsilon.Neg()):
			debtors = append(debtors, position{id: id, amount: amount.Neg()})
		}
	}
	sortPositions(creditors)
	sortPositions(debtors)

	var transfers []Transfer
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		d, c := &debtors[i], &creditors[j]

		amount := decimal.Min(d.amount, c.amount)
		transfers = append(transfers, Transfer{From: d.id, To: c.id, Amount: amount})

		d.amount = d.amount.Sub(amount)
		c.amount = c.amount.Sub(amount)

		if d.amount.LessThan(epsilon) {
			i++
		}
		if c.amount.LessThan(epsilon) {
			j++
		}
	}
	return transfers
}

// ResultBalances returns the adjusted balance map MinimizeTransfers takes.
func ResultBalances(balances []ParticipantBalance) map[ParticipantID]decimal.Decimal {
	out := make(map[ParticipantID]decimal.Decimal, len(balances))
	for _, b := range balances {
		out[b.ParticipantID] = b.AdjustedBalance
	}
	return out
}

func sortPositions(ps []position) {
	sort.Slice(ps, func(a, b int) bool {
		if !ps[a].amount.Equal(ps[b].amount) {
			return ps[a].amount.GreaterThan(ps[b].amount)
		}
		return ps[a].id < ps[b].id
	})
}
