package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dlin-quant/solarb/internal/aggregator"
	"github.com/dlin-quant/solarb/internal/domain"
	"github.com/dlin-quant/solarb/internal/venue/solanarpc"
)

// splitSymbol breaks "SOL/USDC" into base and quote.
func splitSymbol(symbol string) (base, quote string) {
	base, quote, _ = strings.Cut(symbol, "/")
	return base, quote
}

// startMarketData builds the aggregator and starts every configured feed:
// streaming quotes from Binance and Pyth, book polling on Binance, and pool
// price polling on the DEX venues. Accepted quotes are mirrored to Redis.
func (a *App) startMarketData(ctx context.Context, g *errgroup.Group, deps *Dependencies) *aggregator.Aggregator {
	agg := aggregator.New(aggregator.Config{
		StalenessWindow:  a.cfg.Aggregator.StalenessWindow.Duration,
		BreakerFailures:  a.cfg.Aggregator.BreakerFailures,
		BreakerCooldown:  a.cfg.Aggregator.BreakerCooldown.Duration,
		VolatilityWindow: a.cfg.Aggregator.VolatilityWindow.Duration,
	}, a.logger, deps.Emitter)
	agg.SetMirror(deps.QuoteMirror)

	pollInterval := a.cfg.Arbitrage.ScanInterval.Duration
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	for _, symbol := range a.cfg.Aggregator.Symbols {
		if deps.Binance != nil {
			if err := agg.Subscribe(ctx, deps.Binance, deps.Binance.Name(), symbol); err != nil {
				a.logger.Warn("binance quote stream unavailable",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
			}
			g.Go(func() error {
				a.pollBooks(ctx, agg, deps.Binance, symbol, pollInterval)
				return nil
			})
		}
		if deps.Pyth != nil {
			if err := agg.Subscribe(ctx, deps.Pyth, deps.Pyth.Name(), symbol); err != nil {
				a.logger.Warn("pyth quote stream unavailable",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
			}
		}
		if deps.Raydium != nil {
			g.Go(func() error {
				a.pollPoolPrice(ctx, agg, deps.Raydium, symbol, a.cfg.Raydium.FeeBps, pollInterval)
				return nil
			})
		}
		if deps.Jupiter != nil {
			g.Go(func() error {
				a.pollPoolPrice(ctx, agg, deps.Jupiter, symbol, a.cfg.Jupiter.FeeBps, pollInterval)
				return nil
			})
		}
	}

	return agg
}

// bookSource is the REST order-book surface of a CEX adapter.
type bookSource interface {
	Name() domain.Venue
	GetOrderBook(ctx context.Context, symbol string) (domain.BookSnapshot, error)
}

// pollBooks keeps the aggregator's order book for one venue/symbol current,
// feeding the circuit breaker with the request outcomes.
func (a *App) pollBooks(ctx context.Context, agg *aggregator.Aggregator, src bookSource, symbol string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !agg.Breaker().Allow(src.Name()) {
			continue
		}
		book, err := src.GetOrderBook(ctx, symbol)
		if err != nil {
			agg.Breaker().RecordFailure(src.Name())
			a.logger.Debug("book poll failed",
				slog.String("venue", string(src.Name())),
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		agg.Breaker().RecordSuccess(src.Name())
		agg.ApplyBook(book)
	}
}

// pollPoolPrice polls a DEX pool price and feeds it to the aggregator both
// as a quote and as a synthetic one-level book. The pool fee acts as the
// half-spread: that is the price actually payable against the pool.
func (a *App) pollPoolPrice(ctx context.Context, agg *aggregator.Aggregator, dex domain.DexVenue, symbol string, feeBps float64, interval time.Duration) {
	base, quote := splitSymbol(symbol)
	halfSpread := feeBps / 10000

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !agg.Breaker().Allow(dex.Name()) {
			continue
		}
		price, err := dex.GetPrice(ctx, base, quote)
		if err != nil {
			agg.Breaker().RecordFailure(dex.Name())
			a.logger.Debug("pool price poll failed",
				slog.String("venue", string(dex.Name())),
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		agg.Breaker().RecordSuccess(dex.Name())

		now := time.Now().UTC()
		bid := price * (1 - halfSpread)
		ask := price * (1 + halfSpread)
		agg.Apply(domain.PriceQuote{
			Venue:     dex.Name(),
			Symbol:    symbol,
			Price:     price,
			Bid:       bid,
			Ask:       ask,
			Timestamp: now,
		})
		agg.ApplyBook(domain.BookSnapshot{
			Venue:  dex.Name(),
			Symbol: symbol,
			Bids:   []domain.BookLevel{{Price: bid, Quantity: a.cfg.Arbitrage.MaxTradeSize}},
			Asks:   []domain.BookLevel{{Price: ask, Quantity: a.cfg.Arbitrage.MaxTradeSize}},
			Timestamp: now,
		})
	}
}

// dexPlacer adapts a DEX swap venue to the executor's order surface. A swap
// has no resting order: it either lands in a block or errors out, so a
// cancellation request always reports the order as already filled.
type dexPlacer struct {
	dex      domain.DexVenue
	rpc      *solanarpc.Client
	owner    string
	slippage float64
}

func (p *dexPlacer) PlaceOrder(ctx context.Context, symbol string, side domain.Side, price, quantity float64) (domain.OrderResult, error) {
	base, quote := splitSymbol(symbol)

	var txID string
	var err error
	if side == domain.SideBuy {
		// Spend quote currency, demand at least the sized base amount.
		txID, err = p.dex.ExecuteSwap(ctx, quote, base, price*quantity, quantity*(1-p.slippage))
	} else {
		txID, err = p.dex.ExecuteSwap(ctx, base, quote, quantity, price*quantity*(1-p.slippage))
	}
	if err != nil {
		return domain.OrderResult{}, err
	}
	return domain.OrderResult{
		OrderID:     txID,
		Status:      domain.OrderStatusFilled,
		FilledSize:  quantity,
		FilledPrice: price,
	}, nil
}

func (p *dexPlacer) CancelOrder(_ context.Context, _, orderID string) error {
	return fmt.Errorf("swap %s landed on-chain: %w", orderID, domain.ErrAlreadyFilled)
}

func (p *dexPlacer) GetBalance(ctx context.Context, asset string) (float64, error) {
	if p.rpc == nil {
		return 0, fmt.Errorf("dex balance: no rpc endpoint configured")
	}
	return p.rpc.Balance(ctx, p.owner, asset)
}
