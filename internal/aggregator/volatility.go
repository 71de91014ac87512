package aggregator

import (
	"math"
	"sync"
	"time"
)

// sample is one observed price point.
type sample struct {
	price float64
	at    time.Time
}

// VolatilityTracker keeps a rolling window of prices per symbol and estimates
// volatility as the standard deviation of log returns within the window.
// The estimate feeds LP range sizing; it is deterministic for a fixed sample
// set.
type VolatilityTracker struct {
	window time.Duration

	mu      sync.Mutex
	samples map[string][]sample
	now     func() time.Time
}

// NewVolatilityTracker creates a tracker keeping samples for window.
func NewVolatilityTracker(window time.Duration) *VolatilityTracker {
	return &VolatilityTracker{
		window:  window,
		samples: make(map[string][]sample),
		now:     time.Now,
	}
}

// Record adds a price observation for symbol and drops samples outside the
// window.
func (v *VolatilityTracker) Record(symbol string, price float64, at time.Time) {
	if price <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	cutoff := v.now().Add(-v.window)
	ss := append(v.samples[symbol], sample{price: price, at: at})
	i := 0
	for i < len(ss) && ss[i].at.Before(cutoff) {
		i++
	}
	v.samples[symbol] = ss[i:]
}

// Volatility returns the standard deviation of log returns for symbol over
// the window. Fewer than three samples yields 0.
func (v *VolatilityTracker) Volatility(symbol string) float64 {
	v.mu.Lock()
	ss := v.samples[symbol]
	returns := make([]float64, 0, len(ss))
	for i := 1; i < len(ss); i++ {
		returns = append(returns, math.Log(ss[i].price/ss[i-1].price))
	}
	v.mu.Unlock()

	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}
