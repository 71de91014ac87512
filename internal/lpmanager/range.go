package lpmanager

import "math"

// fallbackRange is used when no volatility estimate is available yet, so a
// fresh position still gets a non-degenerate band.
const fallbackRange = 0.01

// ComputeRange derives price bounds for an LP position: the half-width is
// volatility * sqrt(timeHorizonHours), clamped to keep the lower bound
// positive. The computation is deterministic and idempotent: identical inputs
// always yield identical bounds.
func ComputeRange(price, volatility, timeHorizonHours float64) (minPrice, maxPrice float64) {
	r := volatility * math.Sqrt(timeHorizonHours)
	if r <= 0 {
		r = fallbackRange
	}
	if r > 0.99 {
		r = 0.99
	}
	return price * (1 - r), price * (1 + r)
}
