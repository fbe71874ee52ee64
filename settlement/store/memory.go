// Package store provides an in-memory settlement.LedgerStore.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/splitledger/settlement"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps each group's ledger behind its own lock, so work on one
// group never waits on another.
type Memory struct {
	mu     sync.RWMutex
	groups map[settlement.GroupID]*groupState
}

type groupState struct {
	mu sync.RWMutex
	ledger
}

// ledger is the plain data of one group. Everything in it is copied on
// snapshot, so a rollback restores it exactly.
type ledger struct {
	group        settlement.Group
	participants []settlement.Participant
	entries      []settlement.CostEntry
	transfers    []settlement.DirectTransfer
	active       []settlement.RecordedPayment
	archived     []settlement.ArchivedPayment
	settlements  []settlement.SettlementSnapshot
	carryForward []settlement.CarryForwardLogEntry
}

func NewMemory() *Memory {
	return &Memory{groups: make(map[settlement.GroupID]*groupState)}
}

func (m *Memory) state(id settlement.GroupID) (*groupState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gs, ok := m.groups[id]
	if !ok {
		return nil, settlement.NewNotFoundError("group", string(id))
	}
	return gs, nil
}

// =============================================================================
// SEEDING
// =============================================================================

// AddGroup registers a group. An existing group with the same id is replaced.
func (m *Memory) AddGroup(g settlement.Group) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.State == "" {
		g.State = settlement.GroupActive
	}
	m.groups[g.ID] = &groupState{ledger: ledger{group: g}}
}

// AddParticipant appends a participant to its group.
func (m *Memory) AddParticipant(p settlement.Participant) error {
	return m.mutate(p.GroupID, func(l *ledger) { l.participants = append(l.participants, p) })
}

// RemoveParticipant drops a participant from its group.
func (m *Memory) RemoveParticipant(groupID settlement.GroupID, id settlement.ParticipantID) error {
	return m.mutate(groupID, func(l *ledger) {
		kept := l.participants[:0]
		for _, p := range l.participants {
			if p.ID != id {
				kept = append(kept, p)
			}
		}
		l.participants = kept
	})
}

// AddCostEntry records a shared expense.
func (m *Memory) AddCostEntry(e settlement.CostEntry) error {
	return m.mutate(e.GroupID, func(l *ledger) { l.entries = append(l.entries, e) })
}

// AddDirectTransfer records a private loan.
func (m *Memory) AddDirectTransfer(t settlement.DirectTransfer) error {
	return m.mutate(t.GroupID, func(l *ledger) { l.transfers = append(l.transfers, t) })
}

// RecordPayment adds an active payment.
func (m *Memory) RecordPayment(p settlement.RecordedPayment) error {
	return m.mutate(p.GroupID, func(l *ledger) { l.active = append(l.active, p) })
}

// SetGroupState changes a group's lifecycle state.
func (m *Memory) SetGroupState(id settlement.GroupID, state settlement.GroupState) error {
	return m.mutate(id, func(l *ledger) { l.group.State = state })
}

func (m *Memory) mutate(id settlement.GroupID, fn func(*ledger)) error {
	gs, err := m.state(id)
	if err != nil {
		return err
	}
	gs.mu.Lock()
	defer gs.mu.Unlock()
	fn(&gs.ledger)
	return nil
}

// =============================================================================
// INSPECTION (tests)
// =============================================================================

// Settlements returns every settlement of the group, oldest first.
func (m *Memory) Settlements(id settlement.GroupID) []settlement.SettlementSnapshot {
	var out []settlement.SettlementSnapshot
	m.read(id, func(l *ledger) { out = append(out, l.settlements...) })
	return out
}

// CarryForwardLog returns the group's carry-forward log.
func (m *Memory) CarryForwardLog(id settlement.GroupID) []settlement.CarryForwardLogEntry {
	var out []settlement.CarryForwardLogEntry
	m.read(id, func(l *ledger) { out = append(out, l.carryForward...) })
	return out
}

func (m *Memory) read(id settlement.GroupID, fn func(*ledger)) {
	gs, err := m.state(id)
	if err != nil {
		return
	}
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	fn(&gs.ledger)
}

// =============================================================================
// LEDGER READER
// =============================================================================

func (m *Memory) GetGroup(ctx context.Context, id settlement.GroupID) (*settlement.Group, error) {
	return withRead(m, id, func(l *ledger) (*settlement.Group, error) { return l.getGroup(ctx) })
}

func (m *Memory) ListParticipants(ctx context.Context, id settlement.GroupID) ([]settlement.Participant, error) {
	return withRead(m, id, func(l *ledger) ([]settlement.Participant, error) { return l.listParticipants(ctx) })
}

func (m *Memory) ListCostEntries(ctx context.Context, id settlement.GroupID, since, until *time.Time) ([]settlement.CostEntry, error) {
	return withRead(m, id, func(l *ledger) ([]settlement.CostEntry, error) { return l.listCostEntries(ctx, since, until) })
}

func (m *Memory) ListDirectTransfers(ctx context.Context, id settlement.GroupID) ([]settlement.DirectTransfer, error) {
	return withRead(m, id, func(l *ledger) ([]settlement.DirectTransfer, error) { return l.listDirectTransfers(ctx) })
}

func (m *Memory) ListActivePayments(ctx context.Context, id settlement.GroupID) ([]settlement.RecordedPayment, error) {
	return withRead(m, id, func(l *ledger) ([]settlement.RecordedPayment, error) { return l.listActivePayments(ctx) })
}

func (m *Memory) ListConsumedPayments(ctx context.Context, id settlement.GroupID) ([]settlement.ArchivedPayment, error) {
	return withRead(m, id, func(l *ledger) ([]settlement.ArchivedPayment, error) { return l.listConsumedPayments(ctx) })
}

func (m *Memory) GetLastSettlement(ctx context.Context, id settlement.GroupID) (*settlement.SettlementSnapshot, error) {
	return withRead(m, id, func(l *ledger) (*settlement.SettlementSnapshot, error) { return l.getLastSettlement(ctx) })
}

func withRead[T any](m *Memory, id settlement.GroupID, fn func(*ledger) (T, error)) (T, error) {
	var zero T
	gs, err := m.state(id)
	if err != nil {
		return zero, err
	}
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return fn(&gs.ledger)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn while holding the group's write lock.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, id settlement.GroupID, fn func(settlement.LedgerWriter) error) error {
	gs, err := m.state(id)
	if err != nil {
		return err
	}
	gs.mu.Lock()
	defer gs.mu.Unlock()

	snapshot := gs.ledger.clone()
	if err := fn(&gs.ledger); err != nil {
		gs.ledger = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		gs.ledger = snapshot
		return err
	}
	return nil
}

func (l *ledger) clone() ledger {
	c := ledger{group: l.group}
	c.participants = append(c.participants, l.participants...)
	c.entries = append(c.entries, l.entries...)
	c.transfers = append(c.transfers, l.transfers...)
	c.active = append(c.active, l.active...)
	c.archived = append(c.archived, l.archived...)
	c.carryForward = append(c.carryForward, l.carryForward...)
	for _, s := range l.settlements {
		s.Balances = append([]settlement.SettlementBalance(nil), s.Balances...)
		c.settlements = append(c.settlements, s)
	}
	return c
}

// =============================================================================
// LEDGER (lock held by caller) - implements settlement.LedgerWriter
// =============================================================================

func (l *ledger) GetGroup(ctx context.Context, _ settlement.GroupID) (*settlement.Group, error) {
	return l.getGroup(ctx)
}

func (l *ledger) ListParticipants(ctx context.Context, _ settlement.GroupID) ([]settlement.Participant, error) {
	return l.listParticipants(ctx)
}

func (l *ledger) ListCostEntries(ctx context.Context, _ settlement.GroupID, since, until *time.Time) ([]settlement.CostEntry, error) {
	return l.listCostEntries(ctx, since, until)
}

func (l *ledger) ListDirectTransfers(ctx context.Context, _ settlement.GroupID) ([]settlement.DirectTransfer, error) {
	return l.listDirectTransfers(ctx)
}

func (l *ledger) ListActivePayments(ctx context.Context, _ settlement.GroupID) ([]settlement.RecordedPayment, error) {
	return l.listActivePayments(ctx)
}

func (l *ledger) ListConsumedPayments(ctx context.Context, _ settlement.GroupID) ([]settlement.ArchivedPayment, error) {
	return l.listConsumedPayments(ctx)
}

func (l *ledger) GetLastSettlement(ctx context.Context, _ settlement.GroupID) (*settlement.SettlementSnapshot, error) {
	return l.getLastSettlement(ctx)
}

func (l *ledger) FindSettlementByKey(_ context.Context, _ settlement.GroupID, key string) (*settlement.Settlement, error) {
	for _, s := range l.settlements {
		if s.IdempotencyKey != "" && s.IdempotencyKey == key {
			found := s.Settlement
			return &found, nil
		}
	}
	return nil, nil
}

func (l *ledger) InsertSettlement(_ context.Context, s settlement.Settlement) error {
	l.settlements = append(l.settlements, settlement.SettlementSnapshot{Settlement: s})
	return nil
}

func (l *ledger) InsertSettlementBalances(_ context.Context, balances []settlement.SettlementBalance) error {
	for _, b := range balances {
		for i := range l.settlements {
			if l.settlements[i].ID == b.SettlementID {
				l.settlements[i].Balances = append(l.settlements[i].Balances, b)
				break
			}
		}
	}
	return nil
}

func (l *ledger) HasCarryForwardLog(_ context.Context, _ settlement.GroupID, id settlement.SettlementID) (bool, error) {
	for _, e := range l.carryForward {
		if e.NewSettlementID == id {
			return true, nil
		}
	}
	return false, nil
}

func (l *ledger) InsertCarryForwardLog(_ context.Context, entries []settlement.CarryForwardLogEntry) error {
	l.carryForward = append(l.carryForward, entries...)
	return nil
}

func (l *ledger) ArchiveActivePayments(_ context.Context, _ settlement.GroupID, id settlement.SettlementID, at time.Time) (int, error) {
	n := len(l.active)
	for _, p := range l.active {
		l.archived = append(l.archived, settlement.ArchivedPayment{RecordedPayment: p, SettlementID: id, ArchivedAt: at})
	}
	l.active = nil
	return n, nil
}

func (l *ledger) getGroup(_ context.Context) (*settlement.Group, error) {
	g := l.group
	return &g, nil
}

func (l *ledger) listParticipants(_ context.Context) ([]settlement.Participant, error) {
	return append([]settlement.Participant(nil), l.participants...), nil
}

func (l *ledger) listCostEntries(_ context.Context, since, until *time.Time) ([]settlement.CostEntry, error) {
	var out []settlement.CostEntry
	for _, e := range l.entries {
		if since != nil && !e.IncurredAt.After(*since) {
			continue
		}
		if until != nil && e.IncurredAt.After(*until) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IncurredAt.Before(out[j].IncurredAt) })
	return out, nil
}

func (l *ledger) listDirectTransfers(_ context.Context) ([]settlement.DirectTransfer, error) {
	return append([]settlement.DirectTransfer(nil), l.transfers...), nil
}

func (l *ledger) listActivePayments(_ context.Context) ([]settlement.RecordedPayment, error) {
	return append([]settlement.RecordedPayment(nil), l.active...), nil
}

func (l *ledger) listConsumedPayments(_ context.Context) ([]settlement.ArchivedPayment, error) {
	return append([]settlement.ArchivedPayment(nil), l.archived...), nil
}

func (l *ledger) getLastSettlement(_ context.Context) (*settlement.SettlementSnapshot, error) {
	if len(l.settlements) == 0 {
		return nil, nil
	}
	last := l.settlements[len(l.settlements)-1]
	last.Balances = append([]settlement.SettlementBalance(nil), last.Balances...)
	return &last, nil
}
