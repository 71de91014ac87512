package domain

import (
	"context"
	"time"
)

// OpportunityStore persists detected opportunity history for PnL analysis.
// The core only writes; nothing is read back at startup.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	MarkExecuted(ctx context.Context, id string) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
	ListBefore(ctx context.Context, before time.Time) ([]Opportunity, error)
}

// ExecutionStore persists two-leg execution attempts.
type ExecutionStore interface {
	Create(ctx context.Context, exec Execution) error
	GetByID(ctx context.Context, id string) (Execution, error)
	ListRecent(ctx context.Context, limit int) ([]Execution, error)
	ListBefore(ctx context.Context, before time.Time) ([]Execution, error)
	SumRealizedProfit(ctx context.Context, since time.Time) (float64, error)
}

// ExposureStore persists open-exposure records from partial executions.
type ExposureStore interface {
	Create(ctx context.Context, exp Exposure) error
	ListOpen(ctx context.Context) ([]Exposure, error)
	Resolve(ctx context.Context, id, resolution string) error
	ListBefore(ctx context.Context, before time.Time) ([]Exposure, error)
}

// LPPositionStore persists LP position state changes for audit. The manager
// owns the live table in memory; the store is the write-side journal.
type LPPositionStore interface {
	Create(ctx context.Context, pos LPPosition) error
	Update(ctx context.Context, pos LPPosition) error
	GetByID(ctx context.Context, id string) (LPPosition, error)
	ListByStatus(ctx context.Context, status PositionStatus) ([]LPPosition, error)
}
