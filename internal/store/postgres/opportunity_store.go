package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dlin-quant/solarb/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// Insert records a detected opportunity.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO opportunities (id, symbol, buy_venue, sell_venue, buy_price, sell_price, tradable_size, est_fees, est_slippage, est_net_profit, detected_at, executed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		opp.ID, opp.Symbol, string(opp.BuyVenue), string(opp.SellVenue),
		opp.BuyPrice, opp.SellPrice, opp.TradableSize,
		opp.EstFees, opp.EstSlippage, opp.EstNetProfit, opp.DetectedAt, opp.Executed,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity: %w", err)
	}
	return nil
}

// MarkExecuted flags an opportunity as traded.
func (s *OpportunityStore) MarkExecuted(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET executed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: mark opportunity executed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns the most recently detected opportunities.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, symbol, buy_venue, sell_venue, buy_price, sell_price, tradable_size, est_fees, est_slippage, est_net_profit, detected_at, executed
		FROM opportunities ORDER BY detected_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()
	return scanOpportunities(rows)
}

// ListBefore returns opportunities detected before the cutoff, oldest first.
// Used by the history archiver.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, symbol, buy_venue, sell_venue, buy_price, sell_price, tradable_size, est_fees, est_slippage, est_net_profit, detected_at, executed
		FROM opportunities WHERE detected_at < $1 ORDER BY detected_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before: %w", err)
	}
	defer rows.Close()
	return scanOpportunities(rows)
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanOpportunities(rows pgxRows) ([]domain.Opportunity, error) {
	var list []domain.Opportunity
	for rows.Next() {
		var o domain.Opportunity
		var buyVenue, sellVenue string
		if err := rows.Scan(&o.ID, &o.Symbol, &buyVenue, &sellVenue,
			&o.BuyPrice, &o.SellPrice, &o.TradableSize,
			&o.EstFees, &o.EstSlippage, &o.EstNetProfit, &o.DetectedAt, &o.Executed); err != nil {
			return nil, err
		}
		o.BuyVenue = domain.Venue(buyVenue)
		o.SellVenue = domain.Venue(sellVenue)
		list = append(list, o)
	}
	return list, rows.Err()
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)
