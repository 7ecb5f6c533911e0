package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amanahq/flasharb/internal/domain"
)

// ExecutionStore implements domain.Ledger. Rows are append-only: Append
// inserts, nothing ever updates or deletes a terminal record.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates an ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Append inserts the terminal record and its legs in one transaction.
func (s *ExecutionStore) Append(ctx context.Context, rec domain.ExecutionRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO executions (id, route_id, loan_asset, loan_amount, notional_in,
			expected_profit, net_edge_bps, snapshot_id, loan_fee_paid, gas_paid,
			net_pnl, status, reason, detected_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rec.ID, rec.Route.ID, rec.Route.LoanAsset, rec.Loan.Amount, rec.Route.NotionalIn,
		rec.Route.ExpectedProfit, rec.Route.NetEdgeBps, rec.Route.SnapshotID,
		rec.LoanFeePaid, rec.GasPaid, rec.NetPnL, string(rec.Status), rec.Reason,
		rec.Route.DetectedAt, rec.StartedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", rec.ID, err)
	}

	for i, lo := range rec.Legs {
		_, err = tx.Exec(ctx, `
			INSERT INTO execution_legs (execution_id, leg_index, venue_id,
				instrument_in, instrument_out, expected_amount_in, expected_amount_out,
				max_slippage_bps, fill_order_id, fill_amount_in, fill_amount_out,
				fill_fee_paid, status, error, unwound, unwind_order_id,
				unwind_amount_in, unwind_amount_out)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			rec.ID, i, lo.Leg.VenueID,
			lo.Leg.InstrumentIn, lo.Leg.InstrumentOut, lo.Leg.ExpectedAmountIn, lo.Leg.ExpectedAmountOut,
			lo.Leg.MaxSlippageBps, lo.Fill.OrderID, lo.Fill.AmountIn, lo.Fill.AmountOut,
			lo.Fill.FeePaid, string(lo.Status), lo.Error, lo.Unwound, lo.UnwindFill.OrderID,
			lo.UnwindFill.AmountIn, lo.UnwindFill.AmountOut,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert execution leg %d for %s: %w", i, rec.ID, err)
		}
	}
	return tx.Commit(ctx)
}

const executionColumns = `id, route_id, loan_asset, loan_amount, notional_in,
	expected_profit, net_edge_bps, snapshot_id, loan_fee_paid, gas_paid,
	net_pnl, status, reason, detected_at, started_at, completed_at`

func scanExecution(row pgx.Row) (domain.ExecutionRecord, error) {
	var rec domain.ExecutionRecord
	var status string
	var detectedAt *time.Time
	err := row.Scan(&rec.ID, &rec.Route.ID, &rec.Route.LoanAsset, &rec.Loan.Amount,
		&rec.Route.NotionalIn, &rec.Route.ExpectedProfit, &rec.Route.NetEdgeBps,
		&rec.Route.SnapshotID, &rec.LoanFeePaid, &rec.GasPaid, &rec.NetPnL,
		&status, &rec.Reason, &detectedAt, &rec.StartedAt, &rec.CompletedAt,
	)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}
	rec.Status = domain.TerminalStatus(status)
	if detectedAt != nil {
		rec.Route.DetectedAt = *detectedAt
	}
	rec.Loan.Asset = rec.Route.LoanAsset
	rec.Loan.RouteID = rec.Route.ID
	return rec, nil
}

// GetByID returns one record with its legs.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.ExecutionRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	rec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionRecord{}, domain.ErrNotFound
		}
		return domain.ExecutionRecord{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT venue_id, instrument_in, instrument_out, expected_amount_in,
			expected_amount_out, max_slippage_bps, fill_order_id, fill_amount_in,
			fill_amount_out, fill_fee_paid, status, error, unwound,
			unwind_order_id, unwind_amount_in, unwind_amount_out
		FROM execution_legs WHERE execution_id = $1 ORDER BY leg_index`, id)
	if err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("postgres: get execution legs for %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var lo domain.LegOutcome
		var status string
		if err := rows.Scan(&lo.Leg.VenueID, &lo.Leg.InstrumentIn, &lo.Leg.InstrumentOut,
			&lo.Leg.ExpectedAmountIn, &lo.Leg.ExpectedAmountOut, &lo.Leg.MaxSlippageBps,
			&lo.Fill.OrderID, &lo.Fill.AmountIn, &lo.Fill.AmountOut, &lo.Fill.FeePaid,
			&status, &lo.Error, &lo.Unwound, &lo.UnwindFill.OrderID,
			&lo.UnwindFill.AmountIn, &lo.UnwindFill.AmountOut); err != nil {
			return domain.ExecutionRecord{}, err
		}
		lo.Status = domain.LegStatus(status)
		lo.Fill.VenueID = lo.Leg.VenueID
		if lo.Unwound {
			lo.UnwindFill.VenueID = lo.Leg.VenueID
		}
		rec.Legs = append(rec.Legs, lo)
		rec.Route.Legs = append(rec.Route.Legs, lo.Leg)
	}
	if err := rows.Err(); err != nil {
		return domain.ExecutionRecord{}, err
	}
	return rec, nil
}

// ListRecent returns the most recently completed records, newest first,
// without leg details.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM executions ORDER BY completed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

// ListRange returns records completed in [after, cutoff), oldest first,
// without leg details. The archiver pages through aged records with this,
// advancing after as its watermark.
func (s *ExecutionStore) ListRange(ctx context.Context, after, cutoff time.Time, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE completed_at >= $1 AND completed_at < $2 ORDER BY completed_at ASC LIMIT $3`,
		after, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before %s: %w", cutoff, err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func collectExecutions(rows pgx.Rows) ([]domain.ExecutionRecord, error) {
	var list []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// SumPnL returns total realized PnL for the asset since the given time.
func (s *ExecutionStore) SumPnL(ctx context.Context, asset string, since time.Time) (int64, error) {
	var sum int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(net_pnl), 0) FROM executions WHERE loan_asset = $1 AND completed_at >= $2`,
		asset, since).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum pnl for %s: %w", asset, err)
	}
	return sum, nil
}

// Compile-time interface check.
var _ domain.Ledger = (*ExecutionStore)(nil)
