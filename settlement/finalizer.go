/*
finalizer.go - Settlement Finalizer

PURPOSE:
  Persists one computed Result as an immutable Settlement. Everything below
  happens inside a single LedgerStore transaction while the group's
  finalize lock is held, so no partial settlement is ever observable and a
  retry is always safe.

GUARDS (in order):
  1. Group must exist, not be deleted, not be archived, have participants.
  2. Idempotency key already used by this group → return that settlement.
  3. No key and the latest settlement is younger than the duplicate
     window → return the latest settlement (client double submit).
  4. The result is recomputed inside the transaction at its own
     ComputedAt. If anything it was based on changed (baseline settlement,
     participants, entries, payments) → ErrStaleResult.

WRITES:
  1. Settlement header
  2. One SettlementBalance per participant
  3. Carry-forward log (baseline entries for the first settlement;
     skipped when a log for (group, settlement) already exists)
  4. Active payments moved to the archive, active set cleared
*/
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FinalizeStatus classifies a finalize call.
type FinalizeStatus string

const (
	FinalizeCreated   FinalizeStatus = "created"
	FinalizeDuplicate FinalizeStatus = "duplicate"
	FinalizeFailed    FinalizeStatus = "failed"
)

// FinalizeOptions tunes a single finalize call.
type FinalizeOptions struct {
	// IdempotencyKey, when set, makes the call idempotent for as long as
	// the settlement exists, and bypasses the duplicate window.
	IdempotencyKey string
}

// FinalizeOutcome reports what a finalize did.
type FinalizeOutcome struct {
	Status           FinalizeStatus
	SettlementID     SettlementID
	Settlement       *Settlement
	ArchivedPayments int
}

// Duplicate reports whether the call returned an existing settlement.
func (o *FinalizeOutcome) Duplicate() bool {
	return o.Status == FinalizeDuplicate
}

// Finalize persists res as the group's next settlement.
func (e *Engine) Finalize(ctx context.Context, groupID GroupID, res *Result, opts FinalizeOptions) (*FinalizeOutcome, error) {
	start := time.Now()

	out, err := e.finalize(ctx, groupID, res, opts)
	if err != nil {
		e.observer.ObserveFinalize(FinalizeFailed, time.Since(start), 0)
		e.logger.Warn("settlement finalize failed", "group_id", groupID, "error", err)
		return nil, err
	}
	e.observer.ObserveFinalize(out.Status, time.Since(start), out.ArchivedPayments)

	if out.Status == FinalizeDuplicate {
		e.logger.Info("duplicate finalize ignored",
			"group_id", groupID,
			"settlement_id", out.SettlementID,
		)
	} else {
		e.logger.Info("settlement finalized",
			"group_id", groupID,
			"settlement_id", out.SettlementID,
			"total_cost", out.Settlement.TotalCost.String(),
			"archived_payments", out.ArchivedPayments,
		)
	}
	return out, nil
}

func (e *Engine) finalize(ctx context.Context, groupID GroupID, res *Result, opts FinalizeOptions) (*FinalizeOutcome, error) {
	if res == nil {
		return nil, NewValidationError("result", "missing computed result")
	}
	if res.GroupID != groupID {
		return nil, NewValidationError("result",
			fmt.Sprintf("result belongs to group %s, not %s", res.GroupID, groupID))
	}

	unlock := e.locks.lock(groupID)
	defer unlock()

	var out *FinalizeOutcome
	err := e.store.WithTx(ctx, groupID, func(w LedgerWriter) error {
		o, err := e.finalizeTx(ctx, w, groupID, res, opts)
		out = o
		return err
	})
	if err != nil {
		return nil, wrapStorage("finalize", err)
	}
	return out, nil
}

func (e *Engine) finalizeTx(ctx context.Context, w LedgerWriter, groupID GroupID, res *Result, opts FinalizeOptions) (*FinalizeOutcome, error) {
	g, err := w.GetGroup(ctx, groupID)
	if err != nil {
		return nil, wrapStorage("get group", err)
	}
	switch g.State {
	case GroupDeleted:
		return nil, NewNotFoundError("group", string(groupID))
	case GroupArchived:
		return nil, NewValidationError("state", "archived groups cannot be settled")
	}

	participants, err := w.ListParticipants(ctx, groupID)
	if err != nil {
		return nil, wrapStorage("list participants", err)
	}
	if len(participants) == 0 {
		return nil, NewValidationError("participants", "group has no participants")
	}

	if opts.IdempotencyKey != "" {
		prior, err := w.FindSettlementByKey(ctx, groupID, opts.IdempotencyKey)
		if err != nil {
			return nil, wrapStorage("find settlement by key", err)
		}
		if prior != nil {
			return &FinalizeOutcome{Status: FinalizeDuplicate, SettlementID: prior.ID, Settlement: prior}, nil
		}
	}

	last, err := w.GetLastSettlement(ctx, groupID)
	if err != nil {
		return nil, wrapStorage("get last settlement", err)
	}

	now := e.now()
	if opts.IdempotencyKey == "" && last != nil && e.duplicateWindow > 0 &&
		now.Sub(last.CreatedAt) < e.duplicateWindow {
		prior := last.Settlement
		return &FinalizeOutcome{Status: FinalizeDuplicate, SettlementID: prior.ID, Settlement: &prior}, nil
	}

	fresh, err := e.compute(ctx, w, g, res.ComputedAt)
	if err != nil {
		return nil, err
	}
	if err := sameOutcome(res, fresh); err != nil {
		return nil, err
	}

	s := Settlement{
		ID:             e.newID(),
		GroupID:        groupID,
		Mode:           fresh.Mode,
		PeriodStart:    fresh.Period.Start,
		PeriodEnd:      fresh.Period.End,
		TotalCost:      fresh.TotalCost,
		PerCapitaCost:  fresh.PerCapitaCost,
		TotalWeight:    fresh.TotalWeight,
		PreviousID:     fresh.PreviousSettlementID,
		IdempotencyKey: opts.IdempotencyKey,
		CreatedAt:      now,
	}
	if err := w.InsertSettlement(ctx, s); err != nil {
		return nil, wrapStorage("insert settlement", err)
	}

	rows := make([]SettlementBalance, len(fresh.Balances))
	for i, b := range fresh.Balances {
		rows[i] = SettlementBalance{
			SettlementID:    s.ID,
			ParticipantID:   b.ParticipantID,
			Paid:            b.Paid,
			Due:             b.Due,
			NetBalance:      b.NetBalance,
			AdjustedBalance: b.AdjustedBalance,
		}
	}
	if err := w.InsertSettlementBalances(ctx, rows); err != nil {
		return nil, wrapStorage("insert settlement balances", err)
	}

	if err := e.writeCarryForwardLog(ctx, w, s, last, rows); err != nil {
		return nil, err
	}

	archived, err := w.ArchiveActivePayments(ctx, groupID, s.ID, now)
	if err != nil {
		return nil, wrapStorage("archive payments", err)
	}

	return &FinalizeOutcome{
		Status:           FinalizeCreated,
		SettlementID:     s.ID,
		Settlement:       &s,
		ArchivedPayments: archived,
	}, nil
}

func (e *Engine) writeCarryForwardLog(ctx context.Context, w LedgerWriter, s Settlement, last *SettlementSnapshot, rows []SettlementBalance) error {
	exists, err := w.HasCarryForwardLog(ctx, s.GroupID, s.ID)
	if err != nil {
		return wrapStorage("check carry-forward log", err)
	}
	if exists {
		return nil
	}

	var previous map[ParticipantID]decimal.Decimal
	var previousID SettlementID
	if last != nil {
		previous = last.AdjustedBalances()
		previousID = last.ID
	}

	entries := make([]CarryForwardLogEntry, len(rows))
	for i, r := range rows {
		prev := decimal.Zero
		if v, ok := previous[r.ParticipantID]; ok {
			prev = v
		}
		entries[i] = CarryForwardLogEntry{
			GroupID:              s.GroupID,
			PreviousSettlementID: previousID,
			NewSettlementID:      s.ID,
			ParticipantID:        r.ParticipantID,
			PreviousBalance:      prev,
			NewBalance:           r.AdjustedBalance,
			Delta:                r.AdjustedBalance.Sub(prev),
			CreatedAt:            s.CreatedAt,
		}
	}
	if err := w.InsertCarryForwardLog(ctx, entries); err != nil {
		return wrapStorage("insert carry-forward log", err)
	}
	return nil
}

// sameOutcome reports ErrStaleResult when res no longer matches what the
// ledger produces for the same instant.
func sameOutcome(res, fresh *Result) error {
	stale := func(reason string) error {
		return fmt.Errorf("%w: %s", ErrStaleResult, reason)
	}

	if res.Mode != fresh.Mode {
		return stale("group mode changed")
	}
	if res.PreviousSettlementID != fresh.PreviousSettlementID {
		return stale(fmt.Sprintf("computed against settlement %q, latest is %q",
			res.PreviousSettlementID, fresh.PreviousSettlementID))
	}
	if res.ActivePayments != fresh.ActivePayments {
		return stale("active payments changed")
	}
	if !res.TotalCost.Equal(fresh.TotalCost) || res.TotalWeight != fresh.TotalWeight {
		return stale("cost entries or participants changed")
	}
	if len(res.Balances) != len(fresh.Balances) {
		return stale("participants changed")
	}

	want := make(map[ParticipantID]ParticipantBalance, len(fresh.Balances))
	for _, b := range fresh.Balances {
		want[b.ParticipantID] = b
	}
	for _, b := range res.Balances {
		f, ok := want[b.ParticipantID]
		if !ok {
			return stale(fmt.Sprintf("participant %s no longer in group", b.ParticipantID))
		}
		if !b.NetBalance.Equal(f.NetBalance) || !b.AdjustedBalance.Equal(f.AdjustedBalance) {
			return stale(fmt.Sprintf("balance of %s changed", b.ParticipantID))
		}
	}
	return nil
}
