/*
store.go - Ledger Store interfaces consumed by the engine

PURPOSE:
  The engine never talks to a database directly. It reads through
  LedgerReader and writes only inside LedgerStore.WithTx, so a finalize
  is all-or-nothing no matter which backend is plugged in.

KEY INTERFACES:
  LedgerReader: participants, cost entries, transfers, payments, last settlement
  LedgerWriter: the handful of writes a finalize performs
  LedgerStore:  LedgerReader + per-group transactions

CONTRACT:
  - Missing groups are reported as *NotFoundError.
  - GetLastSettlement returns (nil, nil) when the group has none.
  - ListCostEntries bounds: since is exclusive, until is inclusive; nil
    means unbounded on that side.
  - WithTx commits when fn returns nil and rolls back otherwise. Writes
    for one group must not block reads or writes for another.

IMPLEMENTATIONS:
  - settlement/store/memory.go: in-memory, per-group locks
  - store/sqlite: SQLite via database/sql
*/
package settlement

import (
	"context"
	"time"
)

// LedgerReader is the read side of the ledger.
type LedgerReader interface {
	GetGroup(ctx context.Context, groupID GroupID) (*Group, error)
	ListParticipants(ctx context.Context, groupID GroupID) ([]Participant, error)
	ListCostEntries(ctx context.Context, groupID GroupID, since, until *time.Time) ([]CostEntry, error)
	ListDirectTransfers(ctx context.Context, groupID GroupID) ([]DirectTransfer, error)
	ListActivePayments(ctx context.Context, groupID GroupID) ([]RecordedPayment, error)
	ListConsumedPayments(ctx context.Context, groupID GroupID) ([]ArchivedPayment, error)
	GetLastSettlement(ctx context.Context, groupID GroupID) (*SettlementSnapshot, error)
}

// LedgerWriter is handed to WithTx callbacks. Reads through it observe the
// transaction's own writes.
type LedgerWriter interface {
	LedgerReader

	// FindSettlementByKey returns the group's settlement created with the
	// given idempotency key, or nil.
	FindSettlementByKey(ctx context.Context, groupID GroupID, key string) (*Settlement, error)

	InsertSettlement(ctx context.Context, s Settlement) error
	InsertSettlementBalances(ctx context.Context, balances []SettlementBalance) error

	HasCarryForwardLog(ctx context.Context, groupID GroupID, settlementID SettlementID) (bool, error)
	InsertCarryForwardLog(ctx context.Context, entries []CarryForwardLogEntry) error

	// ArchiveActivePayments moves every active payment of the group into
	// the archive under settlementID and clears the active set. It returns
	// the number of payments moved.
	ArchiveActivePayments(ctx context.Context, groupID GroupID, settlementID SettlementID, at time.Time) (int, error)
}

// LedgerStore is what the engine is constructed with.
type LedgerStore interface {
	LedgerReader

	// WithTx runs fn inside a transaction scoped to one group.
	WithTx(ctx context.Context, groupID GroupID, fn func(LedgerWriter) error) error
}
