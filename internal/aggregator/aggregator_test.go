package aggregator

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlin-quant/solarb/internal/domain"
)

func testAggregator(t *testing.T) *Aggregator {
	t.Helper()
	return New(Config{
		StalenessWindow:  5 * time.Second,
		BreakerFailures:  3,
		BreakerCooldown:  30 * time.Second,
		VolatilityWindow: time.Hour,
	}, slog.New(slog.DiscardHandler), nil)
}

func quote(venue domain.Venue, bid, ask float64, ts time.Time) domain.PriceQuote {
	return domain.PriceQuote{
		Venue:     venue,
		Symbol:    "SOL/USDC",
		Price:     (bid + ask) / 2,
		Bid:       bid,
		Ask:       ask,
		Timestamp: ts,
	}
}

func TestMonotonicFilter(t *testing.T) {
	a := testAggregator(t)
	now := time.Now()

	require.True(t, a.Apply(quote("binance", 100, 101, now)))
	// Same timestamp: duplicate, dropped.
	assert.False(t, a.Apply(quote("binance", 99, 100, now)))
	// Older timestamp: out of order, dropped.
	assert.False(t, a.Apply(quote("binance", 98, 99, now.Add(-time.Second))))
	// Newer timestamp: accepted.
	assert.True(t, a.Apply(quote("binance", 102, 103, now.Add(time.Second))))

	q, ok := a.Quote("binance", "SOL/USDC")
	require.True(t, ok)
	assert.Equal(t, 102.0, q.Bid)
}

func TestBestPriceExtremesAmongFreshOnly(t *testing.T) {
	a := testAggregator(t)
	now := time.Now()
	a.now = func() time.Time { return now }

	a.Apply(quote("binance", 100, 101, now.Add(-time.Second)))
	a.Apply(quote("raydium", 102, 103, now.Add(-2*time.Second)))
	// Stale quote with the best bid must be ignored.
	a.Apply(quote("jupiter", 110, 111, now.Add(-time.Minute)))

	sell, err := a.BestPrice("SOL/USDC", domain.SideSell)
	require.NoError(t, err)
	assert.Equal(t, domain.Venue("raydium"), sell.Venue)
	assert.Equal(t, 102.0, sell.Price)

	buy, err := a.BestPrice("SOL/USDC", domain.SideBuy)
	require.NoError(t, err)
	assert.Equal(t, domain.Venue("binance"), buy.Venue)
	assert.Equal(t, 101.0, buy.Price)
}

func TestBestPriceNoFreshQuotes(t *testing.T) {
	a := testAggregator(t)
	now := time.Now()
	a.now = func() time.Time { return now }

	a.Apply(quote("binance", 100, 101, now.Add(-time.Minute)))

	_, err := a.BestPrice("SOL/USDC", domain.SideBuy)
	require.ErrorIs(t, err, domain.ErrNoPriceAvailable)

	_, err = a.BestPrice("ETH/USDC", domain.SideSell)
	require.ErrorIs(t, err, domain.ErrNoPriceAvailable)
}

func TestBestPricePartialCoverageNeverFails(t *testing.T) {
	a := testAggregator(t)
	now := time.Now()
	a.now = func() time.Time { return now }

	// Only one of three venues is fresh.
	a.Apply(quote("binance", 100, 101, now))
	a.Apply(quote("raydium", 102, 103, now.Add(-time.Minute)))
	a.Apply(quote("jupiter", 104, 105, now.Add(-time.Hour)))

	best, err := a.BestPrice("SOL/USDC", domain.SideSell)
	require.NoError(t, err)
	assert.Equal(t, domain.Venue("binance"), best.Venue)
}

func TestOracleBlendingConfidenceWeighted(t *testing.T) {
	a := testAggregator(t)
	now := time.Now()
	a.now = func() time.Time { return now }

	a.Apply(domain.PriceQuote{
		Venue: "pyth", Symbol: "SOL/USDC", Price: 100, Confidence: 0.1, Timestamp: now,
	})
	a.Apply(domain.PriceQuote{
		Venue: "switchboard", Symbol: "SOL/USDC", Price: 104, Confidence: 0.2, Timestamp: now,
	})

	// Weights 1/0.01 and 1/0.04: (100*100 + 104*25) / 125 = 100.8
	p, err := a.OraclePrice("SOL/USDC")
	require.NoError(t, err)
	assert.InDelta(t, 100.8, p, 1e-9)
}

func TestOracleBlendingSingleAndNone(t *testing.T) {
	a := testAggregator(t)
	now := time.Now()
	a.now = func() time.Time { return now }

	a.Apply(domain.PriceQuote{
		Venue: "pyth", Symbol: "SOL/USDC", Price: 99.5, Confidence: 0.05, Timestamp: now,
	})
	// Non-oracle quote must not participate in blending.
	a.Apply(quote("binance", 100, 101, now))

	p, err := a.OraclePrice("SOL/USDC")
	require.NoError(t, err)
	assert.Equal(t, 99.5, p)

	// Age the oracle quote out of the window.
	a.now = func() time.Time { return now.Add(time.Minute) }
	_, err = a.OraclePrice("SOL/USDC")
	require.ErrorIs(t, err, domain.ErrNoPriceAvailable)
}

func TestApplyBookRejectsCrossedAndStaleOrder(t *testing.T) {
	a := testAggregator(t)
	now := time.Now()

	ok := a.ApplyBook(domain.BookSnapshot{
		Venue: "binance", Symbol: "SOL/USDC",
		Bids:      []domain.BookLevel{{Price: 101, Quantity: 1}},
		Asks:      []domain.BookLevel{{Price: 100, Quantity: 1}},
		Timestamp: now,
	})
	assert.False(t, ok, "crossed book must be rejected")

	require.True(t, a.ApplyBook(domain.BookSnapshot{
		Venue: "binance", Symbol: "SOL/USDC",
		Bids:      []domain.BookLevel{{Price: 100, Quantity: 1}},
		Asks:      []domain.BookLevel{{Price: 101, Quantity: 1}},
		Timestamp: now,
	}))
	assert.False(t, a.ApplyBook(domain.BookSnapshot{
		Venue: "binance", Symbol: "SOL/USDC",
		Bids:      []domain.BookLevel{{Price: 99, Quantity: 1}},
		Asks:      []domain.BookLevel{{Price: 102, Quantity: 1}},
		Timestamp: now.Add(-time.Second),
	}))
}

func TestBreakerExcludesVenueFromAggregation(t *testing.T) {
	a := testAggregator(t)
	now := time.Now()
	a.now = func() time.Time { return now }

	a.Apply(quote("binance", 100, 101, now))
	a.Apply(quote("raydium", 105, 106, now))

	for i := 0; i < 3; i++ {
		a.breaker.RecordFailure("raydium")
	}
	require.Equal(t, domain.CircuitOpen, a.breaker.State("raydium"))

	best, err := a.BestPrice("SOL/USDC", domain.SideSell)
	require.NoError(t, err)
	assert.Equal(t, domain.Venue("binance"), best.Venue, "tripped venue must be excluded")
}

func TestBreakerExclusionOutlastsCooldown(t *testing.T) {
	a := testAggregator(t)
	now := time.Now()
	a.now = func() time.Time { return now }
	a.breaker.now = a.now

	for i := 0; i < 3; i++ {
		a.breaker.RecordFailure("raydium")
	}
	require.Equal(t, domain.CircuitOpen, a.breaker.State("raydium"))

	// Cooldown long gone, still fresh quotes on both venues, no probe yet:
	// the venue stays excluded.
	later := now.Add(2 * time.Minute)
	a.now = func() time.Time { return later }
	a.breaker.now = a.now
	a.Apply(quote("binance", 100, 101, later))
	a.Apply(quote("raydium", 105, 106, later))

	best, err := a.BestPrice("SOL/USDC", domain.SideSell)
	require.NoError(t, err)
	assert.Equal(t, domain.Venue("binance"), best.Venue,
		"an open circuit past its cooldown stays excluded until a probe succeeds")

	// Admitting the half-open probe does not re-include the venue either.
	require.True(t, a.breaker.Allow("raydium"))
	require.Equal(t, domain.CircuitHalfOpen, a.breaker.State("raydium"))
	best, err = a.BestPrice("SOL/USDC", domain.SideSell)
	require.NoError(t, err)
	assert.Equal(t, domain.Venue("binance"), best.Venue)

	// A successful probe closes the circuit and restores the venue.
	a.breaker.RecordSuccess("raydium")
	best, err = a.BestPrice("SOL/USDC", domain.SideSell)
	require.NoError(t, err)
	assert.Equal(t, domain.Venue("raydium"), best.Venue)
}

type scriptedStreamer struct {
	quotes []domain.PriceQuote
}

func (s *scriptedStreamer) StreamQuotes(ctx context.Context, symbol string) (<-chan domain.PriceQuote, error) {
	ch := make(chan domain.PriceQuote, len(s.quotes))
	for _, q := range s.quotes {
		ch <- q
	}
	close(ch)
	return ch, nil
}

func TestSubscribeAppliesStreamedQuotes(t *testing.T) {
	a := testAggregator(t)
	now := time.Now()

	src := &scriptedStreamer{quotes: []domain.PriceQuote{
		quote("binance", 100, 101, now),
		quote("binance", 102, 103, now.Add(time.Second)),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Subscribe(ctx, src, "binance", "SOL/USDC"))
	require.Error(t, a.Subscribe(ctx, src, "binance", "SOL/USDC"), "duplicate subscription")

	assert.Eventually(t, func() bool {
		q, ok := a.Quote("binance", "SOL/USDC")
		return ok && q.Bid == 102
	}, time.Second, 5*time.Millisecond)

	cancel()
	a.Close()
}

func TestUnsubscribeStopsFeed(t *testing.T) {
	a := testAggregator(t)
	src := &scriptedStreamer{}

	require.NoError(t, a.Subscribe(context.Background(), src, "binance", "SOL/USDC"))
	a.Unsubscribe("binance", "SOL/USDC")
	a.Close()

	// Resubscribing after teardown is allowed.
	require.NoError(t, a.Subscribe(context.Background(), src, "binance", "SOL/USDC"))
	a.Close()
}
