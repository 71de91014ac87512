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

// LPPositionStore implements domain.LPPositionStore using PostgreSQL.
type LPPositionStore struct {
	pool *pgxpool.Pool
}

// NewLPPositionStore creates a new LPPositionStore.
func NewLPPositionStore(pool *pgxpool.Pool) *LPPositionStore {
	return &LPPositionStore{pool: pool}
}

// Create journals a newly opened LP position.
func (s *LPPositionStore) Create(ctx context.Context, pos domain.LPPosition) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO lp_positions (id, venue, token_a, token_b, amount_a, amount_b, min_price, max_price, fees_accrued, status, created_at, last_rebalance_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		pos.ID, string(pos.Venue), pos.TokenA, pos.TokenB,
		pos.AmountA, pos.AmountB, pos.MinPrice, pos.MaxPrice,
		pos.FeesAccrued, string(pos.Status), pos.CreatedAt,
		nullableTime(pos.LastRebalanceAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert lp position: %w", err)
	}
	return nil
}

// Update journals the current state of an LP position.
func (s *LPPositionStore) Update(ctx context.Context, pos domain.LPPosition) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE lp_positions
		SET amount_a = $2, amount_b = $3, min_price = $4, max_price = $5,
		    fees_accrued = $6, status = $7, last_rebalance_at = $8
		WHERE id = $1`,
		pos.ID, pos.AmountA, pos.AmountB, pos.MinPrice, pos.MaxPrice,
		pos.FeesAccrued, string(pos.Status), nullableTime(pos.LastRebalanceAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: update lp position %s: %w", pos.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID returns one LP position by id.
func (s *LPPositionStore) GetByID(ctx context.Context, id string) (domain.LPPosition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, venue, token_a, token_b, amount_a, amount_b, min_price, max_price, fees_accrued, status, created_at, last_rebalance_at
		FROM lp_positions WHERE id = $1`, id)
	pos, err := scanLPPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LPPosition{}, domain.ErrNotFound
		}
		return domain.LPPosition{}, fmt.Errorf("postgres: get lp position %s: %w", id, err)
	}
	return pos, nil
}

// ListByStatus returns all LP positions in the given status, oldest first.
func (s *LPPositionStore) ListByStatus(ctx context.Context, status domain.PositionStatus) ([]domain.LPPosition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, venue, token_a, token_b, amount_a, amount_b, min_price, max_price, fees_accrued, status, created_at, last_rebalance_at
		FROM lp_positions WHERE status = $1 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("postgres: list lp positions: %w", err)
	}
	defer rows.Close()

	var list []domain.LPPosition
	for rows.Next() {
		pos, err := scanLPPosition(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, pos)
	}
	return list, rows.Err()
}

type pgxRow interface {
	Scan(dest ...any) error
}

func scanLPPosition(row pgxRow) (domain.LPPosition, error) {
	var pos domain.LPPosition
	var venue, status string
	var lastRebalance *time.Time
	err := row.Scan(&pos.ID, &venue, &pos.TokenA, &pos.TokenB,
		&pos.AmountA, &pos.AmountB, &pos.MinPrice, &pos.MaxPrice,
		&pos.FeesAccrued, &status, &pos.CreatedAt, &lastRebalance)
	if err != nil {
		return domain.LPPosition{}, err
	}
	pos.Venue = domain.Venue(venue)
	pos.Status = domain.PositionStatus(status)
	if lastRebalance != nil {
		pos.LastRebalanceAt = *lastRebalance
	}
	return pos, nil
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Compile-time interface check.
var _ domain.LPPositionStore = (*LPPositionStore)(nil)
