package settlement

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func balancesOf(values map[ParticipantID]string) map[ParticipantID]decimal.Decimal {
	out := make(map[ParticipantID]decimal.Decimal, len(values))
	for id, v := range values {
		out[id] = dec(v)
	}
	return out
}

// applyTransfers returns what is left of each balance once every
// suggested transfer has been paid.
func applyTransfers(balances map[ParticipantID]decimal.Decimal, transfers []Transfer) map[ParticipantID]decimal.Decimal {
	left := make(map[ParticipantID]decimal.Decimal, len(balances))
	for id, v := range balances {
		left[id] = v
	}
	for _, tr := range transfers {
		left[tr.From] = left[tr.From].Add(tr.Amount)
		left[tr.To] = left[tr.To].Sub(tr.Amount)
	}
	return left
}

func TestMinimizeTransfers_SingleDebtor(t *testing.T) {
	transfers := MinimizeTransfers(balancesOf(map[ParticipantID]string{"p1": "50", "p2": "-50"}), DefaultEpsilon)

	require.Len(t, transfers, 1)
	assert.Equal(t, ParticipantID("p2"), transfers[0].From)
	assert.Equal(t, ParticipantID("p1"), transfers[0].To)
	assertDecimal(t, "50", transfers[0].Amount)
}

func TestMinimizeTransfers_LargestDebtorFirst(t *testing.T) {
	// GIVEN: P1 +30, P2 -10, P3 -20
	// THEN: P3 pays 20 first, then P2 pays 10

	transfers := MinimizeTransfers(balancesOf(map[ParticipantID]string{"p1": "30", "p2": "-10", "p3": "-20"}), DefaultEpsilon)

	require.Len(t, transfers, 2)
	assert.Equal(t, Transfer{From: "p3", To: "p1", Amount: transfers[0].Amount}, transfers[0])
	assertDecimal(t, "20", transfers[0].Amount)
	assert.Equal(t, Transfer{From: "p2", To: "p1", Amount: transfers[1].Amount}, transfers[1])
	assertDecimal(t, "10", transfers[1].Amount)
}

func TestMinimizeTransfers_TiesBrokenByID(t *testing.T) {
	balances := balancesOf(map[ParticipantID]string{"b": "10", "a": "10", "d": "-10", "c": "-10"})

	first := MinimizeTransfers(balances, DefaultEpsilon)
	require.Len(t, first, 2)
	assert.Equal(t, ParticipantID("c"), first[0].From)
	assert.Equal(t, ParticipantID("a"), first[0].To)
	assert.Equal(t, ParticipantID("d"), first[1].From)
	assert.Equal(t, ParticipantID("b"), first[1].To)

	for i := 0; i < 20; i++ {
		assert.Equal(t, first, MinimizeTransfers(balances, DefaultEpsilon), "output must not depend on map order")
	}
}

func TestMinimizeTransfers_SubEpsilonBalancesIgnored(t *testing.T) {
	transfers := MinimizeTransfers(balancesOf(map[ParticipantID]string{
		"p1": "0.004",
		"p2": "-0.004",
	}), DefaultEpsilon)
	assert.Empty(t, transfers)
}

func TestMinimizeTransfers_AllSettled(t *testing.T) {
	assert.Empty(t, MinimizeTransfers(balancesOf(map[ParticipantID]string{"p1": "0", "p2": "0"}), DefaultEpsilon))
	assert.Empty(t, MinimizeTransfers(nil, DefaultEpsilon))
}

func TestMinimizeTransfers_AtMostNMinusOneAndExactlyCancels(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		n := 2 + rng.Intn(9)
		balances := make(map[ParticipantID]decimal.Decimal, n)
		sum := decimal.Zero
		for i := 0; i < n-1; i++ {
			cents := rng.Int63n(200001) - 100000
			v := decimal.New(cents, -2)
			balances[ParticipantID(fmt.Sprintf("p%02d", i))] = v
			sum = sum.Add(v)
		}
		balances[ParticipantID(fmt.Sprintf("p%02d", n-1))] = sum.Neg()

		transfers := MinimizeTransfers(balances, DefaultEpsilon)
		assert.LessOrEqual(t, len(transfers), n-1, "round %d", round)

		for id, left := range applyTransfers(balances, transfers) {
			assert.True(t, left.IsZero(), "round %d: %s left with %s", round, id, left)
		}
		for _, tr := range transfers {
			assert.True(t, tr.Amount.IsPositive())
			assert.NotEqual(t, tr.From, tr.To)
		}
	}
}
