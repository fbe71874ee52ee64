package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/splitledger/settlement"
)

// ErrAccessCodeTaken is returned when a new group's access code collides
// with an existing one. Callers generate a fresh code and retry.
var ErrAccessCodeTaken = errors.New("access code already in use")

// =============================================================================
// GROUPS
// =============================================================================

// CreateGroup inserts a group. State defaults to ACTIVE and access codes
// are stored upper case.
func (s *Store) CreateGroup(ctx context.Context, g settlement.Group) error {
	if g.State == "" {
		g.State = settlement.GroupActive
	}
	g.AccessCode = normalizeCode(g.AccessCode)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO split_groups (id, name, mode, state, access_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, g.ID, g.Name, g.Mode, g.State, g.AccessCode, formatTime(g.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "access_code") {
			return ErrAccessCodeTaken
		}
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

// ListGroups returns groups newest first. An empty state lists every
// group that is not deleted.
func (s *Store) ListGroups(ctx context.Context, state settlement.GroupState) ([]settlement.Group, error) {
	query := "SELECT " + groupColumns + " FROM split_groups WHERE state != ?"
	args := []any{settlement.GroupDeleted}
	switch state {
	case "":
	case settlement.GroupActive, settlement.GroupArchived:
		query += " AND state = ?"
		args = append(args, state)
	default:
		return nil, settlement.NewValidationError("state",
			fmt.Sprintf("can only list %s or %s groups, got %q", settlement.GroupActive, settlement.GroupArchived, state))
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY created_at DESC, id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []settlement.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// GetGroupByAccessCode returns the ACTIVE group with the given code.
func (s *Store) GetGroupByAccessCode(ctx context.Context, code string) (*settlement.Group, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+groupColumns+" FROM split_groups WHERE access_code = ? AND state = ?",
		normalizeCode(code), settlement.GroupActive,
	)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, settlement.NewNotFoundError("group", code)
	}
	return g, err
}

// SetGroupState moves a group through its lifecycle. Deleted groups are
// gone for good.
func (s *Store) SetGroupState(ctx context.Context, id settlement.GroupID, state settlement.GroupState) error {
	if !state.Valid() {
		return settlement.NewValidationError("state", fmt.Sprintf("unknown group state %q", state))
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE split_groups SET state = ? WHERE id = ? AND state != ?",
		state, id, settlement.GroupDeleted,
	)
	if err != nil {
		return fmt.Errorf("failed to update group state: %w", err)
	}
	return expectOne(res, "group", string(id))
}

// =============================================================================
// PARTICIPANTS
// =============================================================================

// AddParticipant inserts a participant.
func (s *Store) AddParticipant(ctx context.Context, p settlement.Participant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (id, group_id, name, weight, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.GroupID, p.Name, p.Weight, formatTime(p.CreatedAt))
	if err != nil {
		if isForeignKeyError(err) {
			return settlement.NewNotFoundError("group", string(p.GroupID))
		}
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

// GetParticipant returns a participant by ID.
func (s *Store) GetParticipant(ctx context.Context, id settlement.ParticipantID) (*settlement.Participant, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, group_id, name, weight, created_at FROM participants WHERE id = ?", id)
	p, err := scanParticipant(row)
	if err == sql.ErrNoRows {
		return nil, settlement.NewNotFoundError("participant", string(id))
	}
	return p, err
}

// UpdateParticipant changes a participant's name and weight.
func (s *Store) UpdateParticipant(ctx context.Context, p settlement.Participant) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE participants SET name = ?, weight = ? WHERE id = ?",
		p.Name, p.Weight, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}
	return expectOne(res, "participant", string(p.ID))
}

// DeleteParticipant removes a participant that has never touched the
// ledger. Anyone who paid, lent, borrowed, settled or appears in a
// settlement must stay, or carried balances would stop summing to zero.
func (s *Store) DeleteParticipant(ctx context.Context, id settlement.ParticipantID) error {
	var refs int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM cost_entries WHERE payer_id = ?1) +
			(SELECT COUNT(*) FROM direct_transfers WHERE from_id = ?1 OR to_id = ?1) +
			(SELECT COUNT(*) FROM payments WHERE from_id = ?1 OR to_id = ?1) +
			(SELECT COUNT(*) FROM settlement_balances WHERE participant_id = ?1)
	`, id).Scan(&refs)
	if err != nil {
		return fmt.Errorf("failed to check participant references: %w", err)
	}
	if refs > 0 {
		return settlement.NewValidationError("participant",
			fmt.Sprintf("participant %s has ledger history and cannot be removed", id))
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM participants WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete participant: %w", err)
	}
	return expectOne(res, "participant", string(id))
}

// requireMembers checks that every id is a participant of the group.
func (s *Store) requireMembers(ctx context.Context, groupID settlement.GroupID, ids ...settlement.ParticipantID) error {
	for _, id := range ids {
		var n int
		err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM participants WHERE id = ? AND group_id = ?", id, groupID,
		).Scan(&n)
		if err != nil {
			return err
		}
		if n == 0 {
			return settlement.NewValidationError("participant",
				fmt.Sprintf("%s is not a participant of group %s", id, groupID))
		}
	}
	return nil
}

// requireOpenPeriod rejects dates a recurring group has already settled.
// Anything at or before the last settlement's period end was carried
// forward through its adjusted balances and must stay as it is.
func (s *Store) requireOpenPeriod(ctx context.Context, groupID settlement.GroupID, dates ...time.Time) error {
	g, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if !g.Mode.CarriesForward() {
		return nil
	}
	var closedAt string
	err = s.db.QueryRowContext(ctx, `
		SELECT period_end FROM settlements
		WHERE group_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, groupID).Scan(&closedAt)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	end, err := parseTime(closedAt)
	if err != nil {
		return err
	}
	for _, d := range dates {
		if !d.After(end) {
			return settlement.NewValidationError("incurred_at",
				fmt.Sprintf("%s falls in a period settled up to %s", formatTime(d), formatTime(end)))
		}
	}
	return nil
}

// =============================================================================
// COST ENTRIES
// =============================================================================

// AddCostEntry inserts a cost entry paid by a member of its group.
// Recurring groups refuse entries dated inside a settled period.
func (s *Store) AddCostEntry(ctx context.Context, e settlement.CostEntry) error {
	if err := s.requireMembers(ctx, e.GroupID, e.PayerID); err != nil {
		return err
	}
	if err := s.requireOpenPeriod(ctx, e.GroupID, e.IncurredAt); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_entries (id, group_id, payer_id, description, amount, incurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.GroupID, e.PayerID, e.Description, e.Amount, formatTime(e.IncurredAt))
	if err != nil {
		return fmt.Errorf("failed to add cost entry: %w", err)
	}
	return nil
}

// GetCostEntry returns a cost entry by ID.
func (s *Store) GetCostEntry(ctx context.Context, id string) (*settlement.CostEntry, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, group_id, payer_id, description, amount, incurred_at FROM cost_entries WHERE id = ?", id)
	e, err := scanCostEntry(row)
	if err == sql.ErrNoRows {
		return nil, settlement.NewNotFoundError("expense", id)
	}
	return e, err
}

// UpdateCostEntry rewrites payer, description, amount and date. In a
// recurring group both the stored and the new date must be unsettled.
func (s *Store) UpdateCostEntry(ctx context.Context, e settlement.CostEntry) error {
	if err := s.requireMembers(ctx, e.GroupID, e.PayerID); err != nil {
		return err
	}
	old, err := s.GetCostEntry(ctx, e.ID)
	if err != nil {
		return err
	}
	if old.GroupID != e.GroupID {
		return settlement.NewNotFoundError("expense", e.ID)
	}
	if err := s.requireOpenPeriod(ctx, e.GroupID, old.IncurredAt, e.IncurredAt); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE cost_entries
		SET payer_id = ?, description = ?, amount = ?, incurred_at = ?
		WHERE id = ? AND group_id = ?
	`, e.PayerID, e.Description, e.Amount, formatTime(e.IncurredAt), e.ID, e.GroupID)
	if err != nil {
		return fmt.Errorf("failed to update cost entry: %w", err)
	}
	return expectOne(res, "expense", e.ID)
}

// DeleteCostEntry removes a cost entry that no settlement has closed over.
func (s *Store) DeleteCostEntry(ctx context.Context, id string) error {
	e, err := s.GetCostEntry(ctx, id)
	if err != nil {
		return err
	}
	if err := s.requireOpenPeriod(ctx, e.GroupID, e.IncurredAt); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM cost_entries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete cost entry: %w", err)
	}
	return expectOne(res, "expense", id)
}

// =============================================================================
// DIRECT TRANSFERS
// =============================================================================

// AddDirectTransfer inserts a transfer between two members of its group.
func (s *Store) AddDirectTransfer(ctx context.Context, t settlement.DirectTransfer) error {
	if err := s.requireMembers(ctx, t.GroupID, t.FromID, t.ToID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO direct_transfers (id, group_id, from_id, to_id, amount, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.GroupID, t.FromID, t.ToID, t.Amount, formatTime(t.OccurredAt))
	if err != nil {
		return fmt.Errorf("failed to add direct transfer: %w", err)
	}
	return nil
}

// GetDirectTransfer returns a direct transfer by ID.
func (s *Store) GetDirectTransfer(ctx context.Context, id string) (*settlement.DirectTransfer, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, group_id, from_id, to_id, amount, occurred_at FROM direct_transfers WHERE id = ?", id)
	t, err := scanDirectTransfer(row)
	if err == sql.ErrNoRows {
		return nil, settlement.NewNotFoundError("transfer", id)
	}
	return t, err
}

// DeleteDirectTransfer removes a direct transfer.
func (s *Store) DeleteDirectTransfer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM direct_transfers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete direct transfer: %w", err)
	}
	return expectOne(res, "transfer", id)
}

// =============================================================================
// RECORDED PAYMENTS
// =============================================================================

// RecordPayment inserts an active payment.
func (s *Store) RecordPayment(ctx context.Context, p settlement.RecordedPayment) error {
	if err := s.requireMembers(ctx, p.GroupID, p.FromID, p.ToID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, group_id, from_id, to_id, amount, remarks, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.GroupID, p.FromID, p.ToID, p.Amount, p.Remarks, formatTime(p.RecordedAt))
	if err != nil {
		return fmt.Errorf("failed to record payment: %w", err)
	}
	return nil
}

// GetPayment returns a payment, active or archived. SettlementID is empty
// while the payment is active.
func (s *Store) GetPayment(ctx context.Context, id string) (*settlement.ArchivedPayment, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = ?", id)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, settlement.NewNotFoundError("payment", id)
	}
	return p, err
}

// UpdatePayment rewrites an active payment. Archived payments are
// immutable and yield ErrPaymentConsumed.
func (s *Store) UpdatePayment(ctx context.Context, p settlement.RecordedPayment) error {
	if err := s.requireMembers(ctx, p.GroupID, p.FromID, p.ToID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET from_id = ?, to_id = ?, amount = ?, remarks = ?
		WHERE id = ? AND group_id = ? AND settlement_id IS NULL
	`, p.FromID, p.ToID, p.Amount, p.Remarks, p.ID, p.GroupID)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return s.activeOnly(ctx, res, p.ID)
}

// DeletePayment removes an active payment.
func (s *Store) DeletePayment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM payments WHERE id = ? AND settlement_id IS NULL", id)
	if err != nil {
		return fmt.Errorf("failed to delete payment: %w", err)
	}
	return s.activeOnly(ctx, res, id)
}

// activeOnly explains why a payment statement touched no row.
func (s *Store) activeOnly(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	p, err := s.GetPayment(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("payment %s belongs to settlement %s: %w", id, p.SettlementID, settlement.ErrPaymentConsumed)
}

// =============================================================================
// SETTLEMENT HISTORY
// =============================================================================

// ListSettlements returns the group's settlements, newest first.
func (s *Store) ListSettlements(ctx context.Context, groupID settlement.GroupID) ([]settlement.Settlement, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+settlementColumns+" FROM settlements WHERE group_id = ? ORDER BY created_at DESC, rowid DESC",
		groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []settlement.Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// GetSettlement returns a settlement with its balances.
func (s *Store) GetSettlement(ctx context.Context, id settlement.SettlementID) (*settlement.SettlementSnapshot, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+settlementColumns+" FROM settlements WHERE id = ?", id)
	st, err := scanSettlement(row)
	if err == sql.ErrNoRows {
		return nil, settlement.NewNotFoundError("settlement", string(id))
	}
	if err != nil {
		return nil, err
	}
	return s.snapshot(ctx, st)
}

// ListCarryForwardLog returns the log entries written by a settlement.
func (s *Store) ListCarryForwardLog(ctx context.Context, id settlement.SettlementID) ([]settlement.CarryForwardLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id, previous_settlement_id, new_settlement_id, participant_id,
		       previous_balance, new_balance, delta, created_at
		FROM carry_forward_log
		WHERE new_settlement_id = ?
		ORDER BY rowid
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []settlement.CarryForwardLogEntry
	for rows.Next() {
		var e settlement.CarryForwardLogEntry
		var previousID sql.NullString
		var createdAt string
		if err := rows.Scan(&e.GroupID, &previousID, &e.NewSettlementID, &e.ParticipantID,
			&e.PreviousBalance, &e.NewBalance, &e.Delta, &createdAt); err != nil {
			return nil, err
		}
		e.PreviousSettlementID = settlement.SettlementID(previousID.String)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListArchivedPayments returns the payments a settlement consumed.
func (s *Store) ListArchivedPayments(ctx context.Context, id settlement.SettlementID) ([]settlement.ArchivedPayment, error) {
	return s.queryPayments(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE settlement_id = ? ORDER BY recorded_at, id",
		id,
	)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func expectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return settlement.NewNotFoundError(kind, id)
	}
	return nil
}
