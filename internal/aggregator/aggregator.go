// Package aggregator maintains the freshest known price and order book per
// venue and symbol, tolerating partial venue outage.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dlin-quant/solarb/internal/domain"
)

// Config holds aggregation parameters.
type Config struct {
	// StalenessWindow is the maximum quote/book age considered for
	// best-price selection. Older entries are excluded, never defaulted.
	StalenessWindow time.Duration
	// BreakerFailures is the consecutive-failure count that opens a venue's
	// circuit; BreakerCooldown is how long it stays open before a probe.
	BreakerFailures int
	BreakerCooldown time.Duration
	// VolatilityWindow bounds the rolling sample set used for volatility
	// estimation.
	VolatilityWindow time.Duration
}

type key struct {
	venue  domain.Venue
	symbol string
}

// Aggregator owns the live quote cache: one writer per venue-symbol key, many
// readers. Readers always see immutable snapshots.
type Aggregator struct {
	cfg     Config
	breaker *Breaker
	vol     *VolatilityTracker
	emitter domain.Emitter
	logger  *slog.Logger

	// mirror, when set, receives accepted quotes best-effort for
	// out-of-process consumers. The core never reads it back.
	mirror domain.QuoteMirror

	mu     sync.RWMutex
	quotes map[key]domain.PriceQuote
	books  map[key]domain.BookSnapshot

	subMu sync.Mutex
	subs  map[key]context.CancelFunc
	wg    sync.WaitGroup

	now func() time.Time
}

// New creates an Aggregator. emitter may be nil.
func New(cfg Config, logger *slog.Logger, emitter domain.Emitter) *Aggregator {
	if emitter == nil {
		emitter = domain.NopEmitter{}
	}
	return &Aggregator{
		cfg:     cfg,
		breaker: NewBreaker(cfg.BreakerFailures, cfg.BreakerCooldown, emitter),
		vol:     NewVolatilityTracker(cfg.VolatilityWindow),
		emitter: emitter,
		logger:  logger.With(slog.String("component", "aggregator")),
		quotes:  make(map[key]domain.PriceQuote),
		books:   make(map[key]domain.BookSnapshot),
		subs:    make(map[key]context.CancelFunc),
		now:     time.Now,
	}
}

// SetMirror attaches an external quote mirror. Must be called before
// Subscribe.
func (a *Aggregator) SetMirror(m domain.QuoteMirror) { a.mirror = m }

// Breaker exposes per-venue circuit state for health reporting.
func (a *Aggregator) Breaker() *Breaker { return a.breaker }

// Subscribe starts a feed task consuming src's quote stream for venue/symbol.
// The task reconnects with backoff on stream failure and stops when ctx is
// cancelled or Unsubscribe is called. Subscribing twice for the same
// venue/symbol is an error.
func (a *Aggregator) Subscribe(ctx context.Context, src domain.QuoteStreamer, venue domain.Venue, symbol string) error {
	k := key{venue: venue, symbol: symbol}

	a.subMu.Lock()
	if _, ok := a.subs[k]; ok {
		a.subMu.Unlock()
		return fmt.Errorf("aggregator: already subscribed to %s %s", venue, symbol)
	}
	subCtx, cancel := context.WithCancel(ctx)
	a.subs[k] = cancel
	a.subMu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.feed(subCtx, src, venue, symbol)
	}()
	return nil
}

// Unsubscribe tears down the feed task for venue/symbol. Breaker counters for
// the venue are left untouched so other feeds on the same venue stay
// consistent.
func (a *Aggregator) Unsubscribe(venue domain.Venue, symbol string) {
	k := key{venue: venue, symbol: symbol}
	a.subMu.Lock()
	cancel, ok := a.subs[k]
	if ok {
		delete(a.subs, k)
	}
	a.subMu.Unlock()
	if ok {
		cancel()
	}
}

// Close cancels all feed tasks and waits for them to exit.
func (a *Aggregator) Close() {
	a.subMu.Lock()
	for k, cancel := range a.subs {
		cancel()
		delete(a.subs, k)
	}
	a.subMu.Unlock()
	a.wg.Wait()
}

// feed is the per-(venue, symbol) subscription loop.
func (a *Aggregator) feed(ctx context.Context, src domain.QuoteStreamer, venue domain.Venue, symbol string) {
	log := a.logger.With(slog.String("venue", string(venue)), slog.String("symbol", symbol))
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		if !a.breaker.Allow(venue) {
			if !sleepCtx(ctx, a.cfg.BreakerCooldown/2) {
				return
			}
			continue
		}

		ch, err := src.StreamQuotes(ctx, symbol)
		if err != nil {
			a.breaker.RecordFailure(venue)
			log.Warn("quote stream failed", slog.String("error", err.Error()))
			if !sleepCtx(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		a.breaker.RecordSuccess(venue)
		backoff = time.Second

		for q := range ch {
			a.Apply(q)
		}
		// Stream dropped; pause briefly before reconnecting.
		if ctx.Err() == nil {
			log.Debug("quote stream closed, reconnecting")
			if !sleepCtx(ctx, time.Second) {
				return
			}
		}
	}
}

// Apply admits a quote through the monotonic-timestamp filter and returns
// whether it was accepted. Out-of-order or duplicate timestamps relative to
// the last accepted quote for that venue/symbol are dropped, not reordered.
func (a *Aggregator) Apply(q domain.PriceQuote) bool {
	k := key{venue: q.Venue, symbol: q.Symbol}

	a.mu.Lock()
	if last, ok := a.quotes[k]; ok && !q.Timestamp.After(last.Timestamp) {
		a.mu.Unlock()
		return false
	}
	a.quotes[k] = q
	a.mu.Unlock()

	if q.Price > 0 {
		a.vol.Record(q.Symbol, q.Price, q.Timestamp)
	}
	if a.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := a.mirror.SetQuote(ctx, q); err != nil {
			a.logger.Debug("quote mirror write failed", slog.String("error", err.Error()))
		}
		cancel()
	}
	return true
}

// ApplyBook admits an order book snapshot through the same monotonic filter.
// Self-crossed books are rejected outright.
func (a *Aggregator) ApplyBook(b domain.BookSnapshot) bool {
	if b.Crossed() {
		a.logger.Warn("rejecting crossed book",
			slog.String("venue", string(b.Venue)),
			slog.String("symbol", b.Symbol),
		)
		return false
	}
	k := key{venue: b.Venue, symbol: b.Symbol}

	a.mu.Lock()
	defer a.mu.Unlock()
	if last, ok := a.books[k]; ok && !b.Timestamp.After(last.Timestamp) {
		return false
	}
	a.books[k] = b
	return true
}

// Quote returns the last accepted quote for venue/symbol, if any.
func (a *Aggregator) Quote(venue domain.Venue, symbol string) (domain.PriceQuote, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	q, ok := a.quotes[key{venue: venue, symbol: symbol}]
	return q, ok
}

// BestPrice scans venues holding a quote younger than the staleness window
// and returns the maximum price for SideSell or the minimum for SideBuy,
// paired with its venue. Venues whose circuit is not closed are excluded. It
// fails with ErrNoPriceAvailable only when zero venues have a fresh quote;
// partial coverage never fails.
func (a *Aggregator) BestPrice(symbol string, side domain.Side) (domain.VenuePrice, error) {
	now := a.now()

	a.mu.RLock()
	defer a.mu.RUnlock()

	var best domain.VenuePrice
	found := false
	for k, q := range a.quotes {
		if k.symbol != symbol || !q.FreshAt(now, a.cfg.StalenessWindow) {
			continue
		}
		if a.breaker.Tripped(k.venue) {
			continue
		}
		p := quoteSide(q, side)
		if p <= 0 {
			continue
		}
		if !found {
			best = domain.VenuePrice{Venue: k.venue, Price: p}
			found = true
			continue
		}
		if (side == domain.SideSell && p > best.Price) ||
			(side == domain.SideBuy && p < best.Price) {
			best = domain.VenuePrice{Venue: k.venue, Price: p}
		}
	}
	if !found {
		return domain.VenuePrice{}, fmt.Errorf("best price for %s: %w", symbol, domain.ErrNoPriceAvailable)
	}
	return best, nil
}

// quoteSide picks the executable side of a quote: bids for selling, asks for
// buying, with the mid price as a fallback for venues that only report one
// number (oracles, AMM pools).
func quoteSide(q domain.PriceQuote, side domain.Side) float64 {
	switch side {
	case domain.SideSell:
		if q.Bid > 0 {
			return q.Bid
		}
	case domain.SideBuy:
		if q.Ask > 0 {
			return q.Ask
		}
	}
	return q.Price
}

// OraclePrice blends fresh oracle quotes for symbol by confidence-weighted
// average: a tighter confidence interval carries more weight. With a single
// fresh oracle quote that quote's price is returned as-is; with none the call
// fails with ErrNoPriceAvailable.
func (a *Aggregator) OraclePrice(symbol string) (float64, error) {
	now := a.now()

	a.mu.RLock()
	defer a.mu.RUnlock()

	var weightSum, priceSum float64
	count := 0
	for k, q := range a.quotes {
		if k.symbol != symbol || q.Confidence <= 0 || !q.FreshAt(now, a.cfg.StalenessWindow) {
			continue
		}
		w := 1 / (q.Confidence * q.Confidence)
		weightSum += w
		priceSum += w * q.Price
		count++
	}
	if count == 0 {
		return 0, fmt.Errorf("oracle price for %s: %w", symbol, domain.ErrNoPriceAvailable)
	}
	return priceSum / weightSum, nil
}

// FreshBooks returns the order book snapshots for symbol younger than the
// staleness window, excluding venues whose circuit is not closed.
func (a *Aggregator) FreshBooks(symbol string) []domain.BookSnapshot {
	now := a.now()

	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []domain.BookSnapshot
	for k, b := range a.books {
		if k.symbol != symbol || !b.FreshAt(now, a.cfg.StalenessWindow) {
			continue
		}
		if a.breaker.Tripped(k.venue) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Volatility returns the rolling volatility estimate for symbol.
func (a *Aggregator) Volatility(symbol string) float64 {
	return a.vol.Volatility(symbol)
}

// sleepCtx sleeps for d or until ctx is done, reporting whether the full
// sleep completed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
