package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dlin-quant/solarb/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Create inserts an execution and both of its legs in one transaction.
func (s *ExecutionStore) Create(ctx context.Context, exec domain.Execution) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO executions (id, opportunity_id, symbol, status, est_profit, realized_profit, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		exec.ID, exec.OpportunityID, exec.Symbol, string(exec.Status),
		exec.EstProfit, exec.RealizedProfit, exec.StartedAt, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution: %w", err)
	}

	for _, leg := range []domain.ExecLeg{exec.BuyLeg, exec.SellLeg} {
		_, err = tx.Exec(ctx, `
			INSERT INTO execution_legs (execution_id, venue, symbol, side, price, size, order_id, filled_size, filled_price, fee_paid, status, error)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			exec.ID, string(leg.Venue), leg.Symbol, string(leg.Side),
			leg.Price, leg.Size, leg.OrderID, leg.FilledSize, leg.FilledPrice,
			leg.FeePaid, string(leg.Status), leg.Error,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert execution leg: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID returns an execution with its legs.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.Execution, error) {
	var exec domain.Execution
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, opportunity_id, symbol, status, est_profit, realized_profit, started_at, completed_at
		FROM executions WHERE id = $1`, id,
	).Scan(&exec.ID, &exec.OpportunityID, &exec.Symbol, &status,
		&exec.EstProfit, &exec.RealizedProfit, &exec.StartedAt, &exec.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Execution{}, domain.ErrNotFound
		}
		return domain.Execution{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}
	exec.Status = domain.ExecStatus(status)

	rows, err := s.pool.Query(ctx, `
		SELECT venue, symbol, side, price, size, order_id, filled_size, filled_price, fee_paid, status, error
		FROM execution_legs WHERE execution_id = $1 ORDER BY id`, id)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("postgres: get execution legs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var leg domain.ExecLeg
		var venue, side, legStatus string
		if err := rows.Scan(&venue, &leg.Symbol, &side, &leg.Price, &leg.Size,
			&leg.OrderID, &leg.FilledSize, &leg.FilledPrice, &leg.FeePaid,
			&legStatus, &leg.Error); err != nil {
			return domain.Execution{}, err
		}
		leg.Venue = domain.Venue(venue)
		leg.Side = domain.Side(side)
		leg.Status = domain.OrderStatus(legStatus)
		if leg.Side == domain.SideBuy {
			exec.BuyLeg = leg
		} else {
			exec.SellLeg = leg
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Execution{}, err
	}
	return exec, nil
}

// ListRecent returns the most recent executions without their legs.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, opportunity_id, symbol, status, est_profit, realized_profit, started_at, completed_at
		FROM executions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// ListBefore returns executions started before the cutoff, oldest first.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Execution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, opportunity_id, symbol, status, est_profit, realized_profit, started_at, completed_at
		FROM executions WHERE started_at < $1 ORDER BY started_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

func scanExecutions(rows pgxRows) ([]domain.Execution, error) {
	var list []domain.Execution
	for rows.Next() {
		var exec domain.Execution
		var status string
		if err := rows.Scan(&exec.ID, &exec.OpportunityID, &exec.Symbol, &status,
			&exec.EstProfit, &exec.RealizedProfit, &exec.StartedAt, &exec.CompletedAt); err != nil {
			return nil, err
		}
		exec.Status = domain.ExecStatus(status)
		list = append(list, exec)
	}
	return list, rows.Err()
}

// SumRealizedProfit returns total realized profit for executions since the
// given time.
func (s *ExecutionStore) SumRealizedProfit(ctx context.Context, since time.Time) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(realized_profit), 0) FROM executions WHERE started_at >= $1`,
		since).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum realized profit: %w", err)
	}
	return sum, nil
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
