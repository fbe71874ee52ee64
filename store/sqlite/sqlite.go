/*
Package sqlite provides a SQLite-backed implementation of settlement.LedgerStore.

PURPOSE:
  Persists groups, participants, cost entries, direct transfers, recorded
  payments and the settlement chain. In production, the same patterns apply
  to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  settlement.LedgerReader: read path for Engine.Compute
  settlement.LedgerStore:  WithTx for Engine.Finalize
  settlement.LedgerWriter: the transaction handle passed to WithTx callbacks

APPEND-ONLY ENFORCEMENT:
  - settlements, settlement_balances and carry_forward_log are never
    updated or deleted
  - payments move from active (settlement_id IS NULL) to archived exactly
    once, and archived rows reject UPDATE and DELETE

KEY TABLES:
  split_groups:        ONE_OFF / RECURRING groups with lifecycle state
  participants:        weighted members of a group
  cost_entries:        shared expenses (TEXT decimals)
  direct_transfers:    private advances, counted by ONE_OFF groups
  payments:            recorded payments, active or archived into a settlement
  settlements:         immutable period closes, chained by previous_id
  settlement_balances: per-participant snapshot of a settlement
  carry_forward_log:   audit of balance moves between settlements

CONCURRENCY:
  No store-wide mutex. Transactions begin IMMEDIATE (_txlock=immediate) so
  two finalizes never interleave their reads and writes, and WAL lets
  readers proceed while a writer holds the lock.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/splitledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := settlement.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - settlement/store.go: Interface definitions
  - settlement/store/memory.go: In-memory implementation for testing
  - ledger.go: LedgerReader / LedgerWriter queries
  - records.go: CRUD used by the HTTP API
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/splitledger/settlement"
)

// Store implements settlement.LedgerStore using SQLite.
type Store struct {
	ledger
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{ledger: ledger{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Groups
	CREATE TABLE IF NOT EXISTS split_groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		mode TEXT NOT NULL CHECK (mode IN ('ONE_OFF', 'RECURRING')),
		state TEXT NOT NULL DEFAULT 'ACTIVE' CHECK (state IN ('ACTIVE', 'ARCHIVED', 'DELETED')),
		access_code TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	-- Participants (weight = number of members represented)
	CREATE TABLE IF NOT EXISTS participants (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES split_groups(id),
		name TEXT NOT NULL,
		weight INTEGER NOT NULL CHECK (weight > 0),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_participants_group
		ON participants(group_id, created_at);

	-- Cost entries
	CREATE TABLE IF NOT EXISTS cost_entries (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES split_groups(id),
		payer_id TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		incurred_at TEXT NOT NULL
	);

	-- Period window queries (hot path)
	CREATE INDEX IF NOT EXISTS idx_cost_entries_group_date
		ON cost_entries(group_id, incurred_at);
	CREATE INDEX IF NOT EXISTS idx_cost_entries_payer
		ON cost_entries(payer_id);

	-- Direct transfers
	CREATE TABLE IF NOT EXISTS direct_transfers (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES split_groups(id),
		from_id TEXT NOT NULL REFERENCES participants(id),
		to_id TEXT NOT NULL REFERENCES participants(id),
		amount TEXT NOT NULL,
		occurred_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_direct_transfers_group
		ON direct_transfers(group_id, occurred_at);

	-- Settlements (immutable, chained through previous_id)
	CREATE TABLE IF NOT EXISTS settlements (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES split_groups(id),
		mode TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		total_cost TEXT NOT NULL,
		per_capita_cost TEXT NOT NULL,
		total_weight INTEGER NOT NULL,
		previous_id TEXT REFERENCES settlements(id),
		idempotency_key TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_settlements_group_created
		ON settlements(group_id, created_at DESC);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_settlements_idempotency
		ON settlements(group_id, idempotency_key) WHERE idempotency_key IS NOT NULL;

	-- Settlement balances
	CREATE TABLE IF NOT EXISTS settlement_balances (
		settlement_id TEXT NOT NULL REFERENCES settlements(id),
		participant_id TEXT NOT NULL REFERENCES participants(id),
		paid TEXT NOT NULL,
		due TEXT NOT NULL,
		net_balance TEXT NOT NULL,
		adjusted_balance TEXT NOT NULL,
		PRIMARY KEY (settlement_id, participant_id)
	);

	-- Recorded payments. Active while settlement_id IS NULL.
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES split_groups(id),
		from_id TEXT NOT NULL REFERENCES participants(id),
		to_id TEXT NOT NULL REFERENCES participants(id),
		amount TEXT NOT NULL,
		remarks TEXT NOT NULL DEFAULT '',
		recorded_at TEXT NOT NULL,
		settlement_id TEXT REFERENCES settlements(id),
		archived_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_payments_group_active
		ON payments(group_id, recorded_at) WHERE settlement_id IS NULL;
	CREATE INDEX IF NOT EXISTS idx_payments_settlement
		ON payments(settlement_id) WHERE settlement_id IS NOT NULL;

	-- Carry-forward audit log
	CREATE TABLE IF NOT EXISTS carry_forward_log (
		group_id TEXT NOT NULL REFERENCES split_groups(id),
		previous_settlement_id TEXT,
		new_settlement_id TEXT NOT NULL REFERENCES settlements(id),
		participant_id TEXT NOT NULL,
		previous_balance TEXT NOT NULL,
		new_balance TEXT NOT NULL,
		delta TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (new_settlement_id, participant_id)
	);

	CREATE INDEX IF NOT EXISTS idx_carry_forward_group
		ON carry_forward_log(group_id, new_settlement_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (settlement.LedgerStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The transaction is
// rolled back when fn returns an error and committed otherwise.
func (s *Store) WithTx(ctx context.Context, _ settlement.GroupID, fn func(settlement.LedgerWriter) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txLedger{ledger{q: sqlTx}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"carry_forward_log", "payments", "settlement_balances", "settlements",
		"direct_transfers", "cost_entries", "participants", "split_groups",
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, table := range tables {
		if _, err := sqlTx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return sqlTx.Commit()
}

// Helper functions

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
