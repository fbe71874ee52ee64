package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/warp/splitledger/settlement"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ledger runs the engine's queries against a querier. Store embeds one
// bound to the pool; WithTx hands out one bound to the transaction.
type ledger struct {
	q querier
}

// txLedger adds the write half. It only exists inside WithTx.
type txLedger struct {
	ledger
}

// =============================================================================
// LEDGER READER (settlement.LedgerReader interface)
// =============================================================================

const groupColumns = "id, name, mode, state, access_code, created_at"

// GetGroup returns the group, or a NotFoundError.
func (l ledger) GetGroup(ctx context.Context, id settlement.GroupID) (*settlement.Group, error) {
	row := l.q.QueryRowContext(ctx, "SELECT "+groupColumns+" FROM split_groups WHERE id = ?", id)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, settlement.NewNotFoundError("group", string(id))
	}
	return g, err
}

// ListParticipants returns the group's participants in the order they joined.
func (l ledger) ListParticipants(ctx context.Context, id settlement.GroupID) ([]settlement.Participant, error) {
	rows, err := l.q.QueryContext(ctx, `
		SELECT id, group_id, name, weight, created_at
		FROM participants
		WHERE group_id = ?
		ORDER BY created_at, id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []settlement.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ListCostEntries returns entries with since < incurred_at <= until. A nil
// bound is open.
func (l ledger) ListCostEntries(ctx context.Context, id settlement.GroupID, since, until *time.Time) ([]settlement.CostEntry, error) {
	var where strings.Builder
	where.WriteString("group_id = ?")
	args := []any{id}
	if since != nil {
		where.WriteString(" AND incurred_at > ?")
		args = append(args, formatTime(*since))
	}
	if until != nil {
		where.WriteString(" AND incurred_at <= ?")
		args = append(args, formatTime(*until))
	}

	rows, err := l.q.QueryContext(ctx, `
		SELECT id, group_id, payer_id, description, amount, incurred_at
		FROM cost_entries
		WHERE `+where.String()+`
		ORDER BY incurred_at, id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []settlement.CostEntry
	for rows.Next() {
		e, err := scanCostEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ListDirectTransfers returns every direct transfer of the group.
func (l ledger) ListDirectTransfers(ctx context.Context, id settlement.GroupID) ([]settlement.DirectTransfer, error) {
	rows, err := l.q.QueryContext(ctx, `
		SELECT id, group_id, from_id, to_id, amount, occurred_at
		FROM direct_transfers
		WHERE group_id = ?
		ORDER BY occurred_at, id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []settlement.DirectTransfer
	for rows.Next() {
		t, err := scanDirectTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

const paymentColumns = "id, group_id, from_id, to_id, amount, remarks, recorded_at, settlement_id, archived_at"

// ListActivePayments returns payments not yet consumed by a settlement.
func (l ledger) ListActivePayments(ctx context.Context, id settlement.GroupID) ([]settlement.RecordedPayment, error) {
	archived, err := l.queryPayments(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE group_id = ? AND settlement_id IS NULL ORDER BY recorded_at, id",
		id,
	)
	if err != nil {
		return nil, err
	}
	out := make([]settlement.RecordedPayment, len(archived))
	for i, p := range archived {
		out[i] = p.RecordedPayment
	}
	return out, nil
}

// ListConsumedPayments returns every archived payment of the group.
func (l ledger) ListConsumedPayments(ctx context.Context, id settlement.GroupID) ([]settlement.ArchivedPayment, error) {
	return l.queryPayments(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE group_id = ? AND settlement_id IS NOT NULL ORDER BY archived_at, recorded_at, id",
		id,
	)
}

const settlementColumns = `id, group_id, mode, period_start, period_end, total_cost, per_capita_cost,
	total_weight, previous_id, idempotency_key, created_at`

// GetLastSettlement returns the newest settlement with its balances, or nil.
func (l ledger) GetLastSettlement(ctx context.Context, id settlement.GroupID) (*settlement.SettlementSnapshot, error) {
	row := l.q.QueryRowContext(ctx, `
		SELECT `+settlementColumns+`
		FROM settlements
		WHERE group_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, id)
	s, err := scanSettlement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l.snapshot(ctx, s)
}

func (l ledger) snapshot(ctx context.Context, s *settlement.Settlement) (*settlement.SettlementSnapshot, error) {
	rows, err := l.q.QueryContext(ctx, `
		SELECT settlement_id, participant_id, paid, due, net_balance, adjusted_balance
		FROM settlement_balances
		WHERE settlement_id = ?
		ORDER BY rowid
	`, s.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap := &settlement.SettlementSnapshot{Settlement: *s}
	for rows.Next() {
		var b settlement.SettlementBalance
		if err := rows.Scan(&b.SettlementID, &b.ParticipantID, &b.Paid, &b.Due, &b.NetBalance, &b.AdjustedBalance); err != nil {
			return nil, err
		}
		snap.Balances = append(snap.Balances, b)
	}
	return snap, rows.Err()
}

// =============================================================================
// LEDGER WRITER (settlement.LedgerWriter interface)
// =============================================================================

// FindSettlementByKey returns the group's settlement created with key, or nil.
func (t *txLedger) FindSettlementByKey(ctx context.Context, id settlement.GroupID, key string) (*settlement.Settlement, error) {
	row := t.q.QueryRowContext(ctx,
		"SELECT "+settlementColumns+" FROM settlements WHERE group_id = ? AND idempotency_key = ?",
		id, key,
	)
	s, err := scanSettlement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// InsertSettlement appends a settlement header.
func (t *txLedger) InsertSettlement(ctx context.Context, s settlement.Settlement) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO settlements
		(id, group_id, mode, period_start, period_end, total_cost, per_capita_cost,
		 total_weight, previous_id, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID,
		s.GroupID,
		s.Mode,
		formatTime(s.PeriodStart),
		formatTime(s.PeriodEnd),
		s.TotalCost,
		s.PerCapitaCost,
		s.TotalWeight,
		nullString(string(s.PreviousID)),
		nullString(s.IdempotencyKey),
		formatTime(s.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("settlement %s or its idempotency key already exists: %w", s.ID, err)
		}
		return fmt.Errorf("failed to insert settlement: %w", err)
	}
	return nil
}

// InsertSettlementBalances appends the per-participant rows of a settlement.
func (t *txLedger) InsertSettlementBalances(ctx context.Context, balances []settlement.SettlementBalance) error {
	for _, b := range balances {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO settlement_balances
			(settlement_id, participant_id, paid, due, net_balance, adjusted_balance)
			VALUES (?, ?, ?, ?, ?, ?)
		`, b.SettlementID, b.ParticipantID, b.Paid, b.Due, b.NetBalance, b.AdjustedBalance)
		if err != nil {
			return fmt.Errorf("failed to insert balance of %s: %w", b.ParticipantID, err)
		}
	}
	return nil
}

// HasCarryForwardLog reports whether a log for the settlement exists.
func (t *txLedger) HasCarryForwardLog(ctx context.Context, id settlement.GroupID, settlementID settlement.SettlementID) (bool, error) {
	var exists bool
	err := t.q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM carry_forward_log WHERE group_id = ? AND new_settlement_id = ?)",
		id, settlementID,
	).Scan(&exists)
	return exists, err
}

// InsertCarryForwardLog appends carry-forward log entries.
func (t *txLedger) InsertCarryForwardLog(ctx context.Context, entries []settlement.CarryForwardLogEntry) error {
	for _, e := range entries {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO carry_forward_log
			(group_id, previous_settlement_id, new_settlement_id, participant_id,
			 previous_balance, new_balance, delta, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			e.GroupID,
			nullString(string(e.PreviousSettlementID)),
			e.NewSettlementID,
			e.ParticipantID,
			e.PreviousBalance,
			e.NewBalance,
			e.Delta,
			formatTime(e.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert carry-forward entry for %s: %w", e.ParticipantID, err)
		}
	}
	return nil
}

// ArchiveActivePayments moves every active payment of the group into the
// settlement and returns how many moved.
func (t *txLedger) ArchiveActivePayments(ctx context.Context, id settlement.GroupID, settlementID settlement.SettlementID, at time.Time) (int, error) {
	res, err := t.q.ExecContext(ctx, `
		UPDATE payments
		SET settlement_id = ?, archived_at = ?
		WHERE group_id = ? AND settlement_id IS NULL
	`, settlementID, formatTime(at), id)
	if err != nil {
		return 0, fmt.Errorf("failed to archive payments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// =============================================================================
// SCANNERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanGroup(row scanner) (*settlement.Group, error) {
	var g settlement.Group
	var createdAt string
	if err := row.Scan(&g.ID, &g.Name, &g.Mode, &g.State, &g.AccessCode, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &g, nil
}

func scanParticipant(row scanner) (*settlement.Participant, error) {
	var p settlement.Participant
	var createdAt string
	if err := row.Scan(&p.ID, &p.GroupID, &p.Name, &p.Weight, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanCostEntry(row scanner) (*settlement.CostEntry, error) {
	var e settlement.CostEntry
	var incurredAt string
	if err := row.Scan(&e.ID, &e.GroupID, &e.PayerID, &e.Description, &e.Amount, &incurredAt); err != nil {
		return nil, err
	}
	var err error
	if e.IncurredAt, err = parseTime(incurredAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanDirectTransfer(row scanner) (*settlement.DirectTransfer, error) {
	var t settlement.DirectTransfer
	var occurredAt string
	if err := row.Scan(&t.ID, &t.GroupID, &t.FromID, &t.ToID, &t.Amount, &occurredAt); err != nil {
		return nil, err
	}
	var err error
	if t.OccurredAt, err = parseTime(occurredAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanPayment(row scanner) (*settlement.ArchivedPayment, error) {
	var p settlement.ArchivedPayment
	var recordedAt string
	var settlementID, archivedAt sql.NullString
	if err := row.Scan(&p.ID, &p.GroupID, &p.FromID, &p.ToID, &p.Amount, &p.Remarks,
		&recordedAt, &settlementID, &archivedAt); err != nil {
		return nil, err
	}
	var err error
	if p.RecordedAt, err = parseTime(recordedAt); err != nil {
		return nil, err
	}
	p.SettlementID = settlement.SettlementID(settlementID.String)
	if archivedAt.Valid {
		if p.ArchivedAt, err = parseTime(archivedAt.String); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func (l ledger) queryPayments(ctx context.Context, query string, args ...any) ([]settlement.ArchivedPayment, error) {
	rows, err := l.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []settlement.ArchivedPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanSettlement(row scanner) (*settlement.Settlement, error) {
	var s settlement.Settlement
	var periodStart, periodEnd, createdAt string
	var previousID, key sql.NullString
	if err := row.Scan(&s.ID, &s.GroupID, &s.Mode, &periodStart, &periodEnd, &s.TotalCost,
		&s.PerCapitaCost, &s.TotalWeight, &previousID, &key, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if s.PeriodStart, err = parseTime(periodStart); err != nil {
		return nil, err
	}
	if s.PeriodEnd, err = parseTime(periodEnd); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	s.PreviousID = settlement.SettlementID(previousID.String)
	s.IdempotencyKey = key.String
	return &s, nil
}
