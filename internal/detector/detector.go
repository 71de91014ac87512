// Package detector decides, from current order-book snapshots across venues,
// whether a profitable cross-venue trade exists.
package detector

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dlin-quant/solarb/internal/domain"
)

// BookSource supplies bounded-staleness order book snapshots. Implemented by
// the price aggregator.
type BookSource interface {
	FreshBooks(symbol string) []domain.BookSnapshot
}

// Config holds detection parameters.
type Config struct {
	// MinProfitThreshold is the absolute per-unit net-profit floor. An
	// opportunity is emitted iff estimated net profit is strictly greater;
	// equal-to-threshold is not emitted.
	MinProfitThreshold float64
	MaxTradeSize       float64
	MinTradeSize       float64
	// MaxPriceImpact rejects opportunities whose estimated slippage exceeds
	// this fraction of the buy price. Zero disables the guard.
	MaxPriceImpact float64
	ScanInterval   time.Duration
	Symbols        []string
}

// Detector scans order books and emits opportunities to Out.
type Detector struct {
	cfg     Config
	books   BookSource
	fees    FeeModel
	slip    SlippageModel
	meta    map[domain.Venue]VenueMeta
	store   domain.OpportunityStore
	emitter domain.Emitter
	logger  *slog.Logger
	out     chan domain.Opportunity
	now     func() time.Time
}

// New creates a Detector. store and emitter may be nil; meta drives the
// deterministic tie-break and may omit venues.
func New(
	cfg Config,
	books BookSource,
	fees FeeModel,
	slip SlippageModel,
	meta map[domain.Venue]VenueMeta,
	store domain.OpportunityStore,
	emitter domain.Emitter,
	logger *slog.Logger,
) *Detector {
	if emitter == nil {
		emitter = domain.NopEmitter{}
	}
	if meta == nil {
		meta = map[domain.Venue]VenueMeta{}
	}
	return &Detector{
		cfg:     cfg,
		books:   books,
		fees:    fees,
		slip:    slip,
		meta:    meta,
		store:   store,
		emitter: emitter,
		logger:  logger.With(slog.String("component", "detector")),
		out:     make(chan domain.Opportunity, 16),
		now:     time.Now,
	}
}

// Out is the channel on which detected opportunities are handed off. Each
// opportunity is owned by exactly one consumer.
func (d *Detector) Out() <-chan domain.Opportunity { return d.out }

// Run scans all configured symbols on the scan interval until ctx is
// cancelled. Venue-level failures never abort the loop.
func (d *Detector) Run(ctx context.Context) error {
	d.logger.Info("detector started",
		slog.Float64("min_profit_threshold", d.cfg.MinProfitThreshold),
		slog.Any("symbols", d.cfg.Symbols),
	)
	defer d.logger.Info("detector stopped")

	ticker := time.NewTicker(d.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(d.out)
			return ctx.Err()
		case <-ticker.C:
			for _, symbol := range d.cfg.Symbols {
				opp, ok := d.Detect(symbol)
				if !ok {
					continue
				}
				select {
				case d.out <- opp:
				case <-ctx.Done():
					close(d.out)
					return ctx.Err()
				}
			}
		}
	}
}

// Detect evaluates the current books for symbol and returns an opportunity if
// the estimated net profit strictly exceeds the threshold.
func (d *Detector) Detect(symbol string) (domain.Opportunity, bool) {
	books := d.books.FreshBooks(symbol)
	if len(books) < 2 {
		return domain.Opportunity{}, false
	}

	bidBook, bid, ok := d.bestBid(books)
	if !ok {
		return domain.Opportunity{}, false
	}
	// No same-venue arbitrage: the ask search excludes the bid's venue.
	askBook, ask, ok := d.bestAsk(books, bidBook.Venue)
	if !ok {
		return domain.Opportunity{}, false
	}

	size := min3(bid.Quantity, ask.Quantity, d.cfg.MaxTradeSize)
	if size < d.cfg.MinTradeSize || size <= 0 {
		return domain.Opportunity{}, false
	}

	fees := d.fees.Fee(bidBook.Venue, bid.Price) + d.fees.Fee(askBook.Venue, ask.Price)
	slippage := d.slip.Slippage(bidBook.Venue, bid.Price, size) + d.slip.Slippage(askBook.Venue, ask.Price, size)
	netProfit := bid.Price - ask.Price - fees - slippage

	if netProfit <= d.cfg.MinProfitThreshold {
		return domain.Opportunity{}, false
	}
	if d.cfg.MaxPriceImpact > 0 && slippage/ask.Price > d.cfg.MaxPriceImpact {
		return domain.Opportunity{}, false
	}

	opp := domain.Opportunity{
		ID:           uuid.New().String(),
		Symbol:       symbol,
		BuyVenue:     askBook.Venue,
		SellVenue:    bidBook.Venue,
		BuyPrice:     ask.Price,
		SellPrice:    bid.Price,
		TradableSize: size,
		EstFees:      fees,
		EstSlippage:  slippage,
		EstNetProfit: netProfit,
		DetectedAt:   d.now().UTC(),
	}

	d.logger.Info("opportunity detected",
		slog.String("opp_id", opp.ID),
		slog.String("symbol", symbol),
		slog.String("buy_venue", string(opp.BuyVenue)),
		slog.String("sell_venue", string(opp.SellVenue)),
		slog.Float64("net_profit", netProfit),
		slog.Float64("size", size),
	)
	d.emitter.Emit(domain.Event{
		Name: domain.EventOpportunityDetected,
		At:   opp.DetectedAt,
		Fields: map[string]any{
			"opp_id":     opp.ID,
			"symbol":     symbol,
			"buy_venue":  string(opp.BuyVenue),
			"sell_venue": string(opp.SellVenue),
			"buy_price":  opp.BuyPrice,
			"sell_price": opp.SellPrice,
			"size":       size,
			"net_profit": netProfit,
		},
	})
	if d.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := d.store.Insert(ctx, opp); err != nil {
			d.logger.Warn("opportunity record failed", slog.String("error", err.Error()))
		}
		cancel()
	}
	return opp, true
}

// bestBid returns the book holding the maximum top-of-book bid.
func (d *Detector) bestBid(books []domain.BookSnapshot) (domain.BookSnapshot, domain.BookLevel, bool) {
	var (
		bestBook domain.BookSnapshot
		best     domain.BookLevel
		found    bool
	)
	for _, b := range books {
		lvl, ok := b.BestBid()
		if !ok {
			continue
		}
		if !found || lvl.Price > best.Price ||
			(lvl.Price == best.Price && d.prefer(b.Venue, bestBook.Venue)) {
			bestBook, best, found = b, lvl, true
		}
	}
	return bestBook, best, found
}

// bestAsk returns the book holding the minimum top-of-book ask, excluding the
// given venue.
func (d *Detector) bestAsk(books []domain.BookSnapshot, exclude domain.Venue) (domain.BookSnapshot, domain.BookLevel, bool) {
	var (
		bestBook domain.BookSnapshot
		best     domain.BookLevel
		found    bool
	)
	for _, b := range books {
		if b.Venue == exclude {
			continue
		}
		lvl, ok := b.BestAsk()
		if !ok {
			continue
		}
		if !found || lvl.Price < best.Price ||
			(lvl.Price == best.Price && d.prefer(b.Venue, bestBook.Venue)) {
			bestBook, best, found = b, lvl, true
		}
	}
	return bestBook, best, found
}

// prefer is the deterministic tie-break between venues quoting an identical
// price: lower latency first, then lower fee, then lexical venue name as the
// stable fallback. Never random.
func (d *Detector) prefer(a, b domain.Venue) bool {
	ma, mb := d.meta[a], d.meta[b]
	if ma.LatencyMs != mb.LatencyMs {
		return ma.LatencyMs < mb.LatencyMs
	}
	if ma.FeeBps != mb.FeeBps {
		return ma.FeeBps < mb.FeeBps
	}
	return a < b
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
