package domain

import "time"

// PositionStatus tracks the LP position lifecycle:
//
//	Pending -> Active -> Rebalancing -> Active   (rebalance loop)
//	Active  -> Closed
//	Rebalancing -> Orphaned                      (withdrawn, redeposit failed)
//
// Orphaned positions require explicit reconciliation; they are never retried
// or dropped silently.
type PositionStatus string

const (
	PositionPending     PositionStatus = "pending"
	PositionActive      PositionStatus = "active"
	PositionRebalancing PositionStatus = "rebalancing"
	PositionOrphaned    PositionStatus = "orphaned"
	PositionClosed      PositionStatus = "closed"
)

// CanTransition reports whether moving from s to next is a legal lifecycle
// step.
func (s PositionStatus) CanTransition(next PositionStatus) bool {
	switch s {
	case PositionPending:
		return next == PositionActive || next == PositionClosed
	case PositionActive:
		return next == PositionRebalancing || next == PositionClosed
	case PositionRebalancing:
		return next == PositionActive || next == PositionOrphaned
	case PositionOrphaned:
		return next == PositionActive || next == PositionClosed
	default:
		return false
	}
}

// LPPosition is a bounded price-range liquidity deposit on a DEX.
// Invariants: MinPrice < MaxPrice, amounts >= 0. The status field is owned
// exclusively by the LP position manager.
type LPPosition struct {
	ID              string
	Venue           Venue
	TokenA          string
	TokenB          string
	AmountA         float64
	AmountB         float64
	MinPrice        float64
	MaxPrice        float64
	FeesAccrued     float64
	Status          PositionStatus
	CreatedAt       time.Time
	LastRebalanceAt time.Time
}

// Midpoint returns the center of the position's price range.
func (p LPPosition) Midpoint() float64 {
	return (p.MinPrice + p.MaxPrice) / 2
}

// Deviation returns |price - midpoint| / midpoint, the input to the
// rebalance trigger. It returns 0 for a degenerate zero midpoint.
func (p LPPosition) Deviation(price float64) float64 {
	mid := p.Midpoint()
	if mid == 0 {
		return 0
	}
	d := (price - mid) / mid
	if d < 0 {
		d = -d
	}
	return d
}
