package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVolatilityConstantPriceIsZero(t *testing.T) {
	v := NewVolatilityTracker(time.Hour)
	now := time.Now()
	for i := 0; i < 10; i++ {
		v.Record("SOL/USDC", 100, now.Add(time.Duration(i)*time.Second))
	}
	assert.Equal(t, 0.0, v.Volatility("SOL/USDC"))
}

func TestVolatilityDeterministic(t *testing.T) {
	now := time.Now()
	prices := []float64{100, 101, 99.5, 100.2, 102, 101.1}

	build := func() *VolatilityTracker {
		v := NewVolatilityTracker(time.Hour)
		for i, p := range prices {
			v.Record("SOL/USDC", p, now.Add(time.Duration(i)*time.Second))
		}
		return v
	}

	a := build().Volatility("SOL/USDC")
	b := build().Volatility("SOL/USDC")
	assert.Equal(t, a, b, "identical inputs must yield identical estimates")
	assert.Greater(t, a, 0.0)
}

func TestVolatilityInsufficientSamples(t *testing.T) {
	v := NewVolatilityTracker(time.Hour)
	now := time.Now()
	v.Record("SOL/USDC", 100, now)
	assert.Equal(t, 0.0, v.Volatility("SOL/USDC"))
	v.Record("SOL/USDC", 101, now.Add(time.Second))
	assert.Equal(t, 0.0, v.Volatility("SOL/USDC"), "one return is not enough")
}

func TestVolatilityWindowEviction(t *testing.T) {
	v := NewVolatilityTracker(time.Minute)
	now := time.Now()
	v.now = func() time.Time { return now }

	// Old noisy samples fall outside the window.
	v.Record("SOL/USDC", 50, now.Add(-10*time.Minute))
	v.Record("SOL/USDC", 200, now.Add(-9*time.Minute))
	v.Record("SOL/USDC", 100, now.Add(-30*time.Second))
	v.Record("SOL/USDC", 100, now.Add(-20*time.Second))
	v.Record("SOL/USDC", 100, now.Add(-10*time.Second))

	assert.Equal(t, 0.0, v.Volatility("SOL/USDC"))
}

func TestVolatilityIgnoresNonPositivePrices(t *testing.T) {
	v := NewVolatilityTracker(time.Hour)
	now := time.Now()
	v.Record("SOL/USDC", 0, now)
	v.Record("SOL/USDC", -5, now.Add(time.Second))
	assert.Equal(t, 0.0, v.Volatility("SOL/USDC"))
}
