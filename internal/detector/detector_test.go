package detector

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlin-quant/solarb/internal/domain"
)

type staticBooks []domain.BookSnapshot

func (s staticBooks) FreshBooks(string) []domain.BookSnapshot { return s }

func book(venue domain.Venue, bid, bidQty, ask, askQty float64) domain.BookSnapshot {
	return domain.BookSnapshot{
		Venue:     venue,
		Symbol:    "SOL/USDC",
		Bids:      []domain.BookLevel{{Price: bid, Quantity: bidQty}},
		Asks:      []domain.BookLevel{{Price: ask, Quantity: askQty}},
		Timestamp: time.Now(),
	}
}

func newDetector(cfg Config, books BookSource, fees FeeModel, meta map[domain.Venue]VenueMeta) *Detector {
	if fees == nil {
		fees = BpsFees{}
	}
	return New(cfg, books, fees, LinearSlippage{}, meta, nil, nil, slog.New(slog.DiscardHandler))
}

func TestDetectSimpleSpread(t *testing.T) {
	books := staticBooks{
		book("binance", 100, 5, 101, 5),
		book("raydium", 103, 2, 104, 2),
	}
	d := newDetector(Config{MinProfitThreshold: 0.5, MaxTradeSize: 10}, books, nil, nil)

	opp, ok := d.Detect("SOL/USDC")
	require.True(t, ok)
	assert.Equal(t, domain.Venue("raydium"), opp.SellVenue)
	assert.Equal(t, domain.Venue("binance"), opp.BuyVenue)
	assert.Equal(t, 103.0, opp.SellPrice)
	assert.Equal(t, 101.0, opp.BuyPrice)
	assert.Equal(t, 2.0, opp.TradableSize)
	assert.InDelta(t, 2.0, opp.EstNetProfit, 1e-9)
	assert.NotEqual(t, opp.BuyVenue, opp.SellVenue)
}

func TestDetectProfitEqualToThresholdNotEmitted(t *testing.T) {
	// bestBid=100.00, bestAsk=99.90, fees total=0.09 -> profit=0.01 exactly.
	books := staticBooks{
		book("a", 100.00, 1, 100.10, 1),
		book("b", 99.80, 1, 99.90, 1),
	}
	fees := feeFunc(func(venue domain.Venue, price float64) float64 {
		return 0.045 // 0.045 per leg, 0.09 total
	})
	d := newDetector(Config{MinProfitThreshold: 0.01, MaxTradeSize: 10}, books, fees, nil)

	_, ok := d.Detect("SOL/USDC")
	assert.False(t, ok, "profit equal to threshold must not be emitted")

	// Strictly above the threshold is emitted.
	d = newDetector(Config{MinProfitThreshold: 0.009, MaxTradeSize: 10}, books, fees, nil)
	opp, ok := d.Detect("SOL/USDC")
	require.True(t, ok)
	assert.InDelta(t, 0.01, opp.EstNetProfit, 1e-9)
}

type feeFunc func(domain.Venue, float64) float64

func (f feeFunc) Fee(venue domain.Venue, price float64) float64 { return f(venue, price) }

func TestDetectFeesEraseGrossSpread(t *testing.T) {
	// venue1 bid=50010/ask=50020, venue2 bid=50050/ask=50030, 0.1% fee each:
	// gross = 50050-50020 = 30, fees ~ 100.07 -> no opportunity.
	books := staticBooks{
		book("venue1", 50010, 1, 50020, 1),
		book("venue2", 50050, 1, 50030, 1),
	}
	fees := BpsFees{"venue1": 10, "venue2": 10}
	d := newDetector(Config{MinProfitThreshold: 0, MaxTradeSize: 10}, books, fees, nil)

	_, ok := d.Detect("SOL/USDC")
	assert.False(t, ok)
}

func TestDetectNoSameVenueArbitrage(t *testing.T) {
	// The venue with the best bid also has the lowest ask; its own ask must
	// be excluded from the search.
	books := staticBooks{
		book("a", 105, 1, 105.5, 1),
		book("b", 100, 1, 106, 1),
	}
	d := newDetector(Config{MinProfitThreshold: 0, MaxTradeSize: 10}, books, nil, nil)

	// bestBid=105 (a); eligible asks exclude a, so bestAsk=106 (b): no profit.
	_, ok := d.Detect("SOL/USDC")
	assert.False(t, ok)
}

func TestDetectTradableSizeClamped(t *testing.T) {
	books := staticBooks{
		book("a", 110, 8, 111, 8),
		book("b", 100, 3, 101, 3),
	}
	d := newDetector(Config{MinProfitThreshold: 0, MaxTradeSize: 2}, books, nil, nil)
	opp, ok := d.Detect("SOL/USDC")
	require.True(t, ok)
	assert.Equal(t, 2.0, opp.TradableSize, "clamped by max trade size")

	d = newDetector(Config{MinProfitThreshold: 0, MaxTradeSize: 10}, books, nil, nil)
	opp, ok = d.Detect("SOL/USDC")
	require.True(t, ok)
	assert.Equal(t, 3.0, opp.TradableSize, "clamped by thinner book side")
}

func TestDetectBelowMinTradeSize(t *testing.T) {
	books := staticBooks{
		book("a", 110, 0.05, 111, 0.05),
		book("b", 100, 5, 101, 5),
	}
	d := newDetector(Config{MinProfitThreshold: 0, MaxTradeSize: 10, MinTradeSize: 0.1}, books, nil, nil)
	_, ok := d.Detect("SOL/USDC")
	assert.False(t, ok)
}

func TestDetectTieBreakDeterministic(t *testing.T) {
	meta := map[domain.Venue]VenueMeta{
		"fast": {LatencyMs: 50, FeeBps: 10},
		"slow": {LatencyMs: 400, FeeBps: 5},
	}
	books := staticBooks{
		book("slow", 105, 1, 106, 1),
		book("fast", 105, 1, 106, 1),
		book("cheap", 100, 1, 101, 1),
	}
	d := newDetector(Config{MinProfitThreshold: 0, MaxTradeSize: 10}, books, nil, meta)

	for i := 0; i < 20; i++ {
		opp, ok := d.Detect("SOL/USDC")
		require.True(t, ok)
		assert.Equal(t, domain.Venue("fast"), opp.SellVenue, "lower latency wins the tie")
	}
}

func TestDetectTieBreakFallsBackToFeeThenName(t *testing.T) {
	meta := map[domain.Venue]VenueMeta{
		"pricier": {LatencyMs: 100, FeeBps: 20},
		"cheaper": {LatencyMs: 100, FeeBps: 5},
	}
	books := staticBooks{
		book("pricier", 105, 1, 106, 1),
		book("cheaper", 105, 1, 106, 1),
		book("other", 100, 1, 101, 1),
	}
	d := newDetector(Config{MinProfitThreshold: 0, MaxTradeSize: 10}, books, nil, meta)
	opp, ok := d.Detect("SOL/USDC")
	require.True(t, ok)
	assert.Equal(t, domain.Venue("cheaper"), opp.SellVenue)

	// Identical latency and fee: lexical venue order decides.
	meta = map[domain.Venue]VenueMeta{}
	books = staticBooks{
		book("bbb", 105, 1, 106, 1),
		book("aaa", 105, 1, 106, 1),
		book("zzz", 100, 1, 101, 1),
	}
	d = newDetector(Config{MinProfitThreshold: 0, MaxTradeSize: 10}, books, nil, meta)
	opp, ok = d.Detect("SOL/USDC")
	require.True(t, ok)
	assert.Equal(t, domain.Venue("aaa"), opp.SellVenue)
}

func TestDetectNeedsTwoVenues(t *testing.T) {
	books := staticBooks{book("a", 100, 1, 101, 1)}
	d := newDetector(Config{MinProfitThreshold: 0, MaxTradeSize: 10}, books, nil, nil)
	_, ok := d.Detect("SOL/USDC")
	assert.False(t, ok)
}

func TestDetectPriceImpactBound(t *testing.T) {
	books := staticBooks{
		book("a", 110, 10, 111, 10),
		book("b", 100, 10, 101, 10),
	}
	// Slippage = 110*0.001*10 + 101*0.001*10 = 2.11; the spread still clears
	// it, but the impact 2.11/101 ~ 0.0209 exceeds a 2% bound.
	cfg := Config{MinProfitThreshold: 0, MaxTradeSize: 10, MaxPriceImpact: 0.02}
	d := New(cfg, books, BpsFees{}, LinearSlippage{Rate: 0.001},
		nil, nil, nil, slog.New(slog.DiscardHandler))
	_, ok := d.Detect("SOL/USDC")
	assert.False(t, ok, "impact above the bound must be rejected")

	cfg.MaxPriceImpact = 0.03
	d = New(cfg, books, BpsFees{}, LinearSlippage{Rate: 0.001},
		nil, nil, nil, slog.New(slog.DiscardHandler))
	_, ok = d.Detect("SOL/USDC")
	assert.True(t, ok)

	// Zero disables the guard.
	cfg.MaxPriceImpact = 0
	d = New(cfg, books, BpsFees{}, LinearSlippage{Rate: 0.001},
		nil, nil, nil, slog.New(slog.DiscardHandler))
	_, ok = d.Detect("SOL/USDC")
	assert.True(t, ok)
}

func TestDetectSlippageReducesProfit(t *testing.T) {
	books := staticBooks{
		book("a", 102, 10, 103, 10),
		book("b", 100, 10, 100.5, 10),
	}
	// Per-unit slippage of price*0.001*size across both legs dwarfs the
	// 1.5 gross edge at size 10.
	d := New(Config{MinProfitThreshold: 0, MaxTradeSize: 10}, books, BpsFees{},
		LinearSlippage{Rate: 0.001}, nil, nil, nil, slog.New(slog.DiscardHandler))
	_, ok := d.Detect("SOL/USDC")
	assert.False(t, ok)
}
