/*
engine.go - Engine facade: Compute and Finalize

PURPOSE:
  Wires the pure pipeline to a LedgerStore.

  Read path:  ResolvePeriod → CalculateBalances → ApplyAdjustments → MinimizeTransfers
  Write path: Compute's Result → Finalize → LedgerStore.WithTx

CONCURRENCY:
  Compute only reads and never takes a lock, so it runs concurrently with
  itself and with finalizes of any group. Finalize holds a per-group lock
  for its whole transaction.

USAGE:
  engine := settlement.NewEngine(store,
      settlement.WithLogger(logger),
      settlement.WithDuplicateWindow(5*time.Second),
  )
  res, err := engine.Compute(ctx, groupID)
  out, err := engine.Finalize(ctx, groupID, res, settlement.FinalizeOptions{})
*/
package settlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultDuplicateWindow is how long after a finalize a second finalize of
// the same group is treated as a double submit.
const DefaultDuplicateWindow = 5 * time.Second

// Observer receives engine measurements. internal/metrics implements it.
type Observer interface {
	ObserveCompute(mode Mode, d time.Duration, err error)
	ObserveFinalize(outcome FinalizeStatus, d time.Duration, archived int)
}

type nopObserver struct{}

func (nopObserver) ObserveCompute(Mode, time.Duration, error)          {}
func (nopObserver) ObserveFinalize(FinalizeStatus, time.Duration, int) {}

// Engine computes and finalizes settlements against a LedgerStore.
type Engine struct {
	store           LedgerStore
	logger          *slog.Logger
	observer        Observer
	now             func() time.Time
	newID           func() SettlementID
	duplicateWindow time.Duration
	tolerance       decimal.Decimal
	epsilon         decimal.Decimal
	locks           *groupLocks
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithObserver registers a metrics observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides settlement id generation.
func WithIDGenerator(gen func() SettlementID) Option {
	return func(e *Engine) { e.newID = gen }
}

// WithDuplicateWindow sets the double-submit window. Zero disables it.
func WithDuplicateWindow(d time.Duration) Option {
	return func(e *Engine) { e.duplicateWindow = d }
}

// WithTolerance sets the largest residual the applier may correct.
func WithTolerance(t decimal.Decimal) Option {
	return func(e *Engine) { e.tolerance = t }
}

// WithEpsilon sets the minimizer's settle-below threshold.
func WithEpsilon(eps decimal.Decimal) Option {
	return func(e *Engine) { e.epsilon = eps }
}

// NewEngine creates an engine over store.
func NewEngine(store LedgerStore, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		logger:          slog.Default(),
		observer:        nopObserver{},
		now:             time.Now,
		newID:           func() SettlementID { return SettlementID(uuid.NewString()) },
		duplicateWindow: DefaultDuplicateWindow,
		tolerance:       DefaultTolerance,
		epsilon:         DefaultEpsilon,
		locks:           newGroupLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// With returns a copy of the engine with opts applied on top. The copy
// keeps the store, observer and per-group locks of e, so a finalize
// through either engine still serializes with the other.
func (e *Engine) With(opts ...Option) *Engine {
	derived := *e
	for _, opt := range opts {
		opt(&derived)
	}
	derived.locks = e.locks
	return &derived
}

// =============================================================================
// COMPUTE
// =============================================================================

// Compute runs the read path for a group. It has no side effects.
func (e *Engine) Compute(ctx context.Context, groupID GroupID) (*Result, error) {
	start := time.Now()

	g, err := e.store.GetGroup(ctx, groupID)
	if err != nil {
		e.observer.ObserveCompute("", time.Since(start), err)
		return nil, wrapStorage("get group", err)
	}
	if g.State == GroupDeleted {
		err := NewNotFoundError("group", string(groupID))
		e.observer.ObserveCompute(g.Mode, time.Since(start), err)
		return nil, err
	}

	res, err := e.compute(ctx, e.store, g, e.now())
	e.observer.ObserveCompute(g.Mode, time.Since(start), err)
	if err != nil {
		e.logger.Warn("settlement compute failed", "group_id", groupID, "error", err)
		return nil, err
	}

	e.logger.Debug("settlement computed",
		"group_id", groupID,
		"mode", g.Mode,
		"total_cost", res.TotalCost.String(),
		"participants", len(res.Balances),
		"transfers", len(res.Transfers),
	)
	return res, nil
}

// compute reads the group's inputs through r and runs the pure pipeline
// as of now.
func (e *Engine) compute(ctx context.Context, r LedgerReader, g *Group, now time.Time) (*Result, error) {
	participants, err := r.ListParticipants(ctx, g.ID)
	if err != nil {
		return nil, wrapStorage("list participants", err)
	}
	if len(participants) == 0 {
		return nil, NewValidationError("participants", "group has no participants")
	}

	last, err := r.GetLastSettlement(ctx, g.ID)
	if err != nil {
		return nil, wrapStorage("get last settlement", err)
	}

	period := ResolvePeriod(g, last, now)

	since, until := period.Bounds()
	entries, err := r.ListCostEntries(ctx, g.ID, since, until)
	if err != nil {
		return nil, wrapStorage("list cost entries", err)
	}

	var transfers []DirectTransfer
	if g.Mode.IncludesDirectTransfers() {
		transfers, err = r.ListDirectTransfers(ctx, g.ID)
		if err != nil {
			return nil, wrapStorage("list direct transfers", err)
		}
	}

	var carry map[ParticipantID]decimal.Decimal
	var previousID SettlementID
	if last != nil {
		previousID = last.ID
		if g.Mode.CarriesForward() {
			carry = last.AdjustedBalances()
		}
	}

	sheet, err := CalculateBalances(BalanceInput{
		Mode:            g.Mode,
		Participants:    participants,
		CostEntries:     entries,
		DirectTransfers: transfers,
		CarryForward:    carry,
	})
	if err != nil {
		return nil, err
	}

	active, err := r.ListActivePayments(ctx, g.ID)
	if err != nil {
		return nil, wrapStorage("list active payments", err)
	}
	payments := active
	if g.Mode.FoldsConsumedPayments() {
		consumed, err := r.ListConsumedPayments(ctx, g.ID)
		if err != nil {
			return nil, wrapStorage("list consumed payments", err)
		}
		payments = make([]RecordedPayment, 0, len(consumed)+len(active))
		for _, c := range consumed {
			payments = append(payments, c.RecordedPayment)
		}
		payments = append(payments, active...)
	}

	balances, correction, err := ApplyAdjustments(sheet.Balances, payments, e.tolerance)
	if err != nil {
		var ce *ConsistencyError
		if errors.As(err, &ce) {
			ce.GroupID = g.ID
		}
		return nil, err
	}
	if correction != nil {
		e.logger.Debug("zero-sum correction applied",
			"group_id", g.ID,
			"participant_id", correction.ParticipantID,
			"residual", correction.Residual.String(),
		)
	}

	return &Result{
		GroupID:              g.ID,
		Mode:                 g.Mode,
		Period:               period,
		TotalCost:            sheet.TotalCost,
		PerCapitaCost:        sheet.PerCapitaCost,
		TotalWeight:          sheet.TotalWeight,
		Balances:             balances,
		Transfers:            MinimizeTransfers(ResultBalances(balances), e.epsilon),
		PreviousSettlementID: previousID,
		ActivePayments:       len(active),
		Correction:           correction,
		ComputedAt:           now,
	}, nil
}

// ComputeAndFinalize computes a fresh result and finalizes it.
func (e *Engine) ComputeAndFinalize(ctx context.Context, groupID GroupID, opts FinalizeOptions) (*FinalizeOutcome, error) {
	res, err := e.Compute(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return e.Finalize(ctx, groupID, res, opts)
}
