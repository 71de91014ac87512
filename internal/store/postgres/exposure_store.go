package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dlin-quant/solarb/internal/domain"
)

// ExposureStore implements domain.ExposureStore using PostgreSQL.
type ExposureStore struct {
	pool *pgxpool.Pool
}

// NewExposureStore creates a new ExposureStore.
func NewExposureStore(pool *pgxpool.Pool) *ExposureStore {
	return &ExposureStore{pool: pool}
}

// Create records a new open exposure.
func (s *ExposureStore) Create(ctx context.Context, exp domain.Exposure) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO exposures (id, opportunity_id, symbol, venue, side, size, price, order_id, reason, created_at, resolved_at, resolution)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		exp.ID, exp.OpportunityID, exp.Symbol, string(exp.Venue), string(exp.Side),
		exp.Size, exp.Price, exp.OrderID, exp.Reason,
		exp.CreatedAt, exp.ResolvedAt, exp.Resolution,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert exposure: %w", err)
	}
	return nil
}

// ListOpen returns all exposures that have not been resolved, oldest first.
func (s *ExposureStore) ListOpen(ctx context.Context) ([]domain.Exposure, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, opportunity_id, symbol, venue, side, size, price, order_id, reason, created_at, resolved_at, resolution
		FROM exposures WHERE resolved_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open exposures: %w", err)
	}
	defer rows.Close()
	return scanExposures(rows)
}

// Resolve marks an exposure as reconciled with the given resolution note.
func (s *ExposureStore) Resolve(ctx context.Context, id, resolution string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE exposures SET resolved_at = NOW(), resolution = $2
		WHERE id = $1 AND resolved_at IS NULL`, id, resolution)
	if err != nil {
		return fmt.Errorf("postgres: resolve exposure %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListBefore returns exposures created before the cutoff, oldest first.
func (s *ExposureStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Exposure, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, opportunity_id, symbol, venue, side, size, price, order_id, reason, created_at, resolved_at, resolution
		FROM exposures WHERE created_at < $1 ORDER BY created_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list exposures before: %w", err)
	}
	defer rows.Close()
	return scanExposures(rows)
}

func scanExposures(rows pgxRows) ([]domain.Exposure, error) {
	var list []domain.Exposure
	for rows.Next() {
		var e domain.Exposure
		var venue, side string
		if err := rows.Scan(&e.ID, &e.OpportunityID, &e.Symbol, &venue, &side,
			&e.Size, &e.Price, &e.OrderID, &e.Reason,
			&e.CreatedAt, &e.ResolvedAt, &e.Resolution); err != nil {
			return nil, err
		}
		e.Venue = domain.Venue(venue)
		e.Side = domain.Side(side)
		list = append(list, e)
	}
	return list, rows.Err()
}

// Compile-time interface check.
var _ domain.ExposureStore = (*ExposureStore)(nil)
