// Package coordinator drives one execution attempt from a candidate route to
// a terminal ledger record. The attempt is all-or-nothing from the caller's
// point of view: either every leg fills within tolerance and the loan is
// repaid (committed), or nothing had moved yet (aborted pre-flight), or
// executed legs are unwound best-effort and the realized loss recorded
// (reverted). Every attempt produces exactly one ledger append.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/amanahq/flasharb/internal/compliance"
	"github.com/amanahq/flasharb/internal/domain"
	"github.com/amanahq/flasharb/internal/metrics"
	"github.com/amanahq/flasharb/internal/risk"
	"github.com/amanahq/flasharb/internal/venue"
)

// EventSink receives terminal execution records for out-of-band delivery
// (notifier, signal bus). Implementations must not block.
type EventSink interface {
	ExecutionCompleted(rec domain.ExecutionRecord)
}

// Config holds execution timing parameters.
type Config struct {
	// CallTimeout bounds every individual adapter call. A timed-out call is a
	// failure; the coordinator never waits on a venue indefinitely.
	CallTimeout time.Duration
	// LockTTL is how long the per-asset lock may be held before it expires on
	// its own, covering a crashed holder.
	LockTTL time.Duration
	// LockWait is the total time an attempt will wait for the asset lock
	// before aborting pre-flight.
	LockWait time.Duration
	// LockRetryInterval is the poll interval while waiting for the lock.
	LockRetryInterval time.Duration
}

// Normalize fills zero fields with defaults.
func (c Config) Normalize() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.LockWait <= 0 {
		c.LockWait = 10 * time.Second
	}
	if c.LockRetryInterval <= 0 {
		c.LockRetryInterval = 25 * time.Millisecond
	}
	return c
}

// Coordinator serializes and executes routes. Same-loan-asset attempts are
// serialized by the lock manager; the compliance and risk gates are
// re-checked under that lock so the verdict reflects execution-time state,
// not detection-time state.
type Coordinator struct {
	registry *venue.Registry
	filter   *compliance.Filter
	gate     *risk.Gate
	exposure *risk.Tracker
	locks    domain.LockManager
	ledger   domain.Ledger
	cfg      Config
	logger   *slog.Logger

	halted atomic.Bool
	events EventSink
	audit  domain.AuditStore
}

// New creates a Coordinator.
func New(
	registry *venue.Registry,
	filter *compliance.Filter,
	gate *risk.Gate,
	exposure *risk.Tracker,
	locks domain.LockManager,
	ledger domain.Ledger,
	cfg Config,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		registry: registry,
		filter:   filter,
		gate:     gate,
		exposure: exposure,
		locks:    locks,
		ledger:   ledger,
		cfg:      cfg.Normalize(),
		logger:   logger.With(slog.String("component", "execution_coordinator")),
	}
}

// SetEventSink attaches an optional terminal-event consumer.
func (c *Coordinator) SetEventSink(sink EventSink) { c.events = sink }

// SetAuditStore attaches an optional audit log for halt/resume events.
func (c *Coordinator) SetAuditStore(store domain.AuditStore) { c.audit = store }

// Halt engages the kill switch. In-flight attempts that have already moved
// capital run to their terminal state; new attempts abort pre-flight.
func (c *Coordinator) Halt(reason string) {
	if c.halted.Swap(true) {
		return
	}
	metrics.HaltEngaged.Set(1)
	c.logger.Warn("kill switch engaged", slog.String("reason", reason))
	c.auditLog("halt_engaged", map[string]any{"reason": reason})
}

// Resume disengages the kill switch.
func (c *Coordinator) Resume() {
	if !c.halted.Swap(false) {
		return
	}
	metrics.HaltEngaged.Set(0)
	c.logger.Info("kill switch disengaged")
	c.auditLog("halt_disengaged", nil)
}

// Halted reports whether the kill switch is engaged.
func (c *Coordinator) Halted() bool { return c.halted.Load() }

func (c *Coordinator) auditLog(event string, detail map[string]any) {
	if c.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
	defer cancel()
	if err := c.audit.Log(ctx, event, detail); err != nil {
		c.logger.Error("audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// Execute runs the route to a terminal state and returns its ledger record.
// The record is always appended to the ledger exactly once, including when
// the caller's ctx is already done by the time the attempt finishes. The
// returned error is nil only for a committed attempt.
func (c *Coordinator) Execute(ctx context.Context, route domain.Route) (domain.ExecutionRecord, error) {
	rec := domain.ExecutionRecord{
		ID:        uuid.New().String(),
		Route:     route,
		StartedAt: time.Now().UTC(),
	}
	logger := c.logger.With(
		slog.String("execution_id", rec.ID),
		slog.String("route_id", route.ID),
		slog.String("loan_asset", route.LoanAsset),
	)

	if c.halted.Load() {
		return c.abort(ctx, rec, logger, "halt", domain.ErrHalted)
	}
	if err := route.Validate(); err != nil {
		return c.abort(ctx, rec, logger, "validation", fmt.Errorf("%w: %v", domain.ErrConfiguration, err))
	}

	// Compliance re-check: the policy may have changed since detection, and a
	// violation must never reach the capital-committing phase.
	if err := c.filter.Check(route); err != nil {
		metrics.GateRejections.WithLabelValues("compliance").Inc()
		return c.abort(ctx, rec, logger, "compliance", err)
	}

	unlock, err := c.acquireLoanAssetLock(ctx, route.LoanAsset)
	if err != nil {
		return c.abort(ctx, rec, logger, "lock", err)
	}
	defer unlock()

	// Risk re-check under the lock, against live exposure. Two concurrent
	// attempts on the same asset serialize here; the second sees the first's
	// reservation and fails if the combined exposure breaches the cap.
	if err := c.gate.Check(route, c.exposure.Snapshot()); err != nil {
		metrics.GateRejections.WithLabelValues("risk").Inc()
		return c.abort(ctx, rec, logger, "risk", err)
	}
	reserved := route.NotionalByAsset()
	c.exposure.Reserve(reserved)
	defer c.exposure.Release(reserved)

	if c.halted.Load() {
		return c.abort(ctx, rec, logger, "halt", domain.ErrHalted)
	}

	// Last state boundary before capital moves.
	loanVenue, err := c.registry.Get(route.Legs[0].VenueID)
	if err != nil {
		return c.abort(ctx, rec, logger, "loan", fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err))
	}
	req := domain.LoanRequest{Asset: route.LoanAsset, Amount: route.NotionalIn, RouteID: route.ID}
	handle, err := call(c, ctx, func(callCtx context.Context) (domain.LoanHandle, error) {
		return loanVenue.AcquireLoan(callCtx, req)
	})
	if err != nil {
		return c.abort(ctx, rec, logger, "loan", fmt.Errorf("%w: acquire loan at %s: %v", domain.ErrAdapterUnavailable, loanVenue.ID(), err))
	}
	rec.Loan = req

	logger.Info("loan acquired",
		slog.String("venue", handle.VenueID),
		slog.String("loan_id", handle.LoanID),
		slog.Int64("principal", handle.Principal),
		slog.Int64("fee_bps", handle.FeeBps),
	)
	return c.run(ctx, rec, logger, handle)
}

// acquireLoanAssetLock waits up to LockWait for the per-asset lock, polling
// the non-blocking lock manager.
func (c *Coordinator) acquireLoanAssetLock(ctx context.Context, asset string) (func(), error) {
	key := "loan:" + asset
	deadline := time.Now().Add(c.cfg.LockWait)
	for {
		unlock, err := c.locks.Acquire(ctx, key, c.cfg.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("asset %s: %w after %s", asset, domain.ErrLockHeld, c.cfg.LockWait)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.LockRetryInterval):
		}
	}
}

// call runs one adapter call under the coordinator's CallTimeout.
func call[T any](c *Coordinator, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

// run executes the legs of an attempt whose loan is already open. From here
// on every exit path repays (or attempts to repay) the loan and produces a
// committed or reverted record; capital has moved, so pre-flight aborts are
// no longer possible.
func (c *Coordinator) run(ctx context.Context, rec domain.ExecutionRecord, logger *slog.Logger, handle domain.LoanHandle) (domain.ExecutionRecord, error) {
	route := rec.Route
	rec.Legs = make([]domain.LegOutcome, len(route.Legs))
	for i, leg := range route.Legs {
		rec.Legs[i] = domain.LegOutcome{Leg: leg, Status: domain.LegSkipped}
	}

	carried := handle.Principal
	for i, leg := range route.Legs {
		adapter, err := c.registry.Get(leg.VenueID)
		if err != nil {
			rec.Legs[i].Status = domain.LegFailed
			rec.Legs[i].Error = err.Error()
			return c.revert(ctx, rec, logger, handle, i, carried,
				fmt.Errorf("%w: leg %d: %v", domain.ErrExecutionFailure, i, err))
		}
		fill, err := call(c, ctx, func(callCtx context.Context) (domain.Fill, error) {
			return adapter.ExecuteLeg(callCtx, leg)
		})
		if err != nil {
			rec.Legs[i].Status = domain.LegFailed
			rec.Legs[i].Error = err.Error()
			return c.revert(ctx, rec, logger, handle, i, carried,
				fmt.Errorf("%w: leg %d at %s: %v", domain.ErrExecutionFailure, i, leg.VenueID, err))
		}
		minOut := domain.ApplyBps(leg.ExpectedAmountOut, -leg.MaxSlippageBps)
		if fill.AmountOut < minOut {
			// The fill happened, so this leg's capital moved and it must be
			// unwound along with everything before it.
			rec.Legs[i].Fill = fill
			rec.Legs[i].Status = domain.LegFailed
			rec.Legs[i].Error = fmt.Sprintf("fill %d below slippage floor %d", fill.AmountOut, minOut)
			return c.revert(ctx, rec, logger, handle, i+1, fill.AmountOut,
				fmt.Errorf("%w: leg %d at %s: fill %d below slippage floor %d",
					domain.ErrExecutionFailure, i, leg.VenueID, fill.AmountOut, minOut))
		}
		rec.Legs[i].Fill = fill
		rec.Legs[i].Status = domain.LegFilled
		carried = fill.AmountOut
	}

	owed := handle.Owed()
	if err := c.repay(ctx, handle, owed); err != nil {
		rec.Status = domain.StatusReverted
		rec.Reason = fmt.Sprintf("repay failed: %v", err)
		rec.LoanFeePaid = owed - handle.Principal
		rec.GasPaid = c.gasPaid(route, handle)
		rec.NetPnL = carried - owed - rec.GasPaid
		c.finalize(ctx, &rec, logger)
		return rec, fmt.Errorf("%w: repay loan %s at %s: %v", domain.ErrExecutionFailure, handle.LoanID, handle.VenueID, err)
	}

	rec.Status = domain.StatusCommitted
	rec.LoanFeePaid = owed - handle.Principal
	rec.GasPaid = c.gasPaid(route, handle)
	rec.NetPnL = carried - owed - rec.GasPaid
	c.finalize(ctx, &rec, logger)
	return rec, nil
}

// revert unwinds the executed legs in reverse order, repays what it can, and
// finalizes a reverted record. executed is the number of legs whose capital
// moved: the index of the leg that failed without filling, or one past the
// leg whose fill landed outside tolerance. carried is the amount currently
// held, denominated in the input asset of leg executed (equivalently, the
// output asset of leg executed-1).
func (c *Coordinator) revert(
	ctx context.Context,
	rec domain.ExecutionRecord,
	logger *slog.Logger,
	handle domain.LoanHandle,
	executed int,
	carried int64,
	cause error,
) (domain.ExecutionRecord, error) {
	route := rec.Route
	logger.Warn("execution failed, unwinding", slog.Int("executed_legs", executed), slog.String("cause", cause.Error()))

	stranded := false
	for i := executed - 1; i >= 0; i-- {
		leg := route.Legs[i]
		rev := leg.Reversed(carried)
		adapter, err := c.registry.Get(rev.VenueID)
		if err == nil {
			var fill domain.Fill
			fill, err = call(c, ctx, func(callCtx context.Context) (domain.Fill, error) {
				return adapter.ExecuteLeg(callCtx, rev)
			})
			if err == nil {
				rec.Legs[i].Unwound = true
				rec.Legs[i].UnwindFill = fill
				carried = fill.AmountOut
				continue
			}
		}
		// Funds are stuck in an intermediate asset; further reverse legs
		// would trade the wrong instrument. Stop and settle the loan with
		// whatever is recoverable.
		logger.Error("unwind leg failed, funds stranded",
			slog.Int("leg", i),
			slog.String("venue", rev.VenueID),
			slog.String("instrument", rev.InstrumentIn),
			slog.String("error", err.Error()),
		)
		stranded = true
		break
	}

	owed := handle.Owed()
	recovered := carried
	if stranded {
		recovered = 0
	}
	repayAmount := min(recovered, owed)
	if err := c.repay(ctx, handle, repayAmount); err != nil {
		logger.Error("repay after unwind failed",
			slog.String("loan_id", handle.LoanID),
			slog.String("error", err.Error()),
		)
		rec.Reason = fmt.Sprintf("%v; repay failed: %v", cause, err)
	} else {
		rec.Reason = cause.Error()
	}

	rec.Status = domain.StatusReverted
	rec.LoanFeePaid = owed - handle.Principal
	rec.GasPaid = c.gasPaid(route, handle)
	rec.NetPnL = recovered - owed - rec.GasPaid
	c.finalize(ctx, &rec, logger)
	return rec, cause
}

func (c *Coordinator) repay(ctx context.Context, handle domain.LoanHandle, amount int64) error {
	adapter, err := c.registry.Get(handle.VenueID)
	if err != nil {
		return err
	}
	_, err = call(c, ctx, func(callCtx context.Context) (struct{}, error) {
		return struct{}{}, adapter.RepayLoan(callCtx, handle, amount)
	})
	return err
}

// gasPaid recovers the detector's gas estimate from the route: the expected
// final amount exceeds notional plus profit by exactly the flash fee plus
// gas. With the actual flash fee known from the loan handle, the remainder is
// gas, clamped at zero in case the venue charged more than the model assumed.
func (c *Coordinator) gasPaid(route domain.Route, handle domain.LoanHandle) int64 {
	expectedFinal := route.Legs[len(route.Legs)-1].ExpectedAmountOut
	overhead := expectedFinal - route.NotionalIn - route.ExpectedProfit
	gas := overhead - domain.FeeBps(handle.Principal, handle.FeeBps)
	if gas < 0 {
		return 0
	}
	return gas
}

// abort finalizes an attempt that stopped before any capital moved.
func (c *Coordinator) abort(ctx context.Context, rec domain.ExecutionRecord, logger *slog.Logger, stage string, cause error) (domain.ExecutionRecord, error) {
	rec.Status = domain.StatusAbortedPreFlight
	rec.Reason = fmt.Sprintf("%s: %v", stage, cause)
	c.finalize(ctx, &rec, logger)
	return rec, cause
}

// finalize stamps the terminal record, appends it to the ledger exactly once,
// and emits metrics and events. A done caller ctx must not lose the record,
// so the append falls back to a fresh background context.
func (c *Coordinator) finalize(ctx context.Context, rec *domain.ExecutionRecord, logger *slog.Logger) {
	rec.CompletedAt = time.Now().UTC()

	appendCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		appendCtx, cancel = context.WithTimeout(context.Background(), c.cfg.CallTimeout)
		defer cancel()
	}
	if err := c.ledger.Append(appendCtx, *rec); err != nil {
		logger.Error("ledger append failed",
			slog.String("status", string(rec.Status)),
			slog.String("error", err.Error()),
		)
	}

	metrics.ExecutionsTotal.WithLabelValues(string(rec.Status)).Inc()
	if rec.Status != domain.StatusAbortedPreFlight {
		metrics.RealizedPnL.WithLabelValues(rec.Route.LoanAsset).Add(float64(rec.NetPnL))
	}
	if c.events != nil {
		c.events.ExecutionCompleted(*rec)
	}

	logger.Info("execution finalized",
		slog.String("status", string(rec.Status)),
		slog.Int64("net_pnl", rec.NetPnL),
		slog.String("reason", rec.Reason),
		slog.Duration("elapsed", rec.CompletedAt.Sub(rec.StartedAt)),
	)
}
