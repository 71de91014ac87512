package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dlin-quant/solarb/internal/aggregator"
	"github.com/dlin-quant/solarb/internal/detector"
	"github.com/dlin-quant/solarb/internal/domain"
	"github.com/dlin-quant/solarb/internal/executor"
	"github.com/dlin-quant/solarb/internal/lpmanager"
	"github.com/dlin-quant/solarb/internal/sim"
)

// reconcileLockTTL bounds how long one host may hold an orphan-reconcile
// lock before it expires on its own.
const reconcileLockTTL = 2 * time.Minute

// ArbitrageMode runs the cross-venue detection and execution loop.
func (a *App) ArbitrageMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting arbitrage mode")

	g, ctx := errgroup.WithContext(ctx)

	agg := a.startMarketData(ctx, g, deps)
	defer agg.Close()

	if err := a.startArbitrage(ctx, g, deps, agg); err != nil {
		return fmt.Errorf("arbitrage mode: %w", err)
	}
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// LpMode runs liquidity position management only.
func (a *App) LpMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting lp mode")

	g, ctx := errgroup.WithContext(ctx)

	agg := a.startMarketData(ctx, g, deps)
	defer agg.Close()

	if err := a.startLp(ctx, g, deps, agg); err != nil {
		return fmt.Errorf("lp mode: %w", err)
	}
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// MonitorMode observes without trading: it follows the market data feeds,
// relays events from the bus into the log, and reports best prices
// periodically.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	agg := a.startMarketData(ctx, g, deps)
	defer agg.Close()

	// Event relay: everything any engine instance publishes shows up here.
	g.Go(func() error {
		ch, err := deps.EventBus.Subscribe(ctx, "events:*")
		if err != nil {
			return fmt.Errorf("monitor: subscribe events: %w", err)
		}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case payload, ok := <-ch:
				if !ok {
					return nil
				}
				var ev domain.Event
				if err := json.Unmarshal(payload, &ev); err != nil {
					continue
				}
				a.logger.Info("bus event",
					slog.String("event", ev.Name),
					slog.Time("at", ev.At),
					slog.Any("fields", ev.Fields),
				)
			}
		}
	})

	// Best-price report.
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				for _, symbol := range a.cfg.Aggregator.Symbols {
					buy, buyErr := agg.BestPrice(symbol, domain.SideBuy)
					sell, sellErr := agg.BestPrice(symbol, domain.SideSell)
					if buyErr != nil || sellErr != nil {
						a.logger.Warn("no fresh prices", slog.String("symbol", symbol))
						continue
					}
					a.logger.Info("best prices",
						slog.String("symbol", symbol),
						slog.Float64("buy", buy.Price),
						slog.String("buy_venue", string(buy.Venue)),
						slog.Float64("sell", sell.Price),
						slog.String("sell_venue", string(sell.Venue)),
					)
				}
			}
		}
	})

	return g.Wait()
}

// SimulateMode generates synthetic volume through the configured DEX.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting simulate mode")

	var venue sim.Swapper
	switch {
	case deps.Jupiter != nil:
		venue = deps.Jupiter
	case deps.Raydium != nil:
		venue = deps.Raydium
	default:
		return fmt.Errorf("simulate mode: no DEX venue configured")
	}

	symbol := a.cfg.Sim.Symbol
	if symbol == "" && len(a.cfg.Aggregator.Symbols) > 0 {
		symbol = a.cfg.Aggregator.Symbols[0]
	}

	simulator, err := sim.New(sim.Config{
		Wallets:      a.cfg.Sim.Wallets,
		MinTradeSize: a.cfg.Sim.MinTradeSize,
		MaxTradeSize: a.cfg.Sim.MaxTradeSize,
		MinInterval:  a.cfg.Sim.MinInterval.Duration,
		MaxInterval:  a.cfg.Sim.MaxInterval.Duration,
		TargetVolume: a.cfg.Sim.TargetVolume,
		Symbol:       symbol,
	}, venue, deps.Emitter, a.logger)
	if err != nil {
		return fmt.Errorf("simulate mode: %w", err)
	}

	result, runErr := simulator.Run(ctx)
	fmt.Println(result.Report())
	if runErr != nil && ctx.Err() == nil {
		return fmt.Errorf("simulate mode: %w", runErr)
	}
	return nil
}

// FullMode runs arbitrage and LP management side by side.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	agg := a.startMarketData(ctx, g, deps)
	defer agg.Close()

	if a.cfg.Arbitrage.Enabled {
		if err := a.startArbitrage(ctx, g, deps, agg); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	}
	if a.cfg.LP.Enabled {
		if err := a.startLp(ctx, g, deps, agg); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	}
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// startArbitrage wires the detector and executor onto a running aggregator.
func (a *App) startArbitrage(ctx context.Context, g *errgroup.Group, deps *Dependencies, agg *aggregator.Aggregator) error {
	if deps.Exposures == nil {
		return fmt.Errorf("arbitrage requires the exposure store")
	}
	placers := a.venuePlacers(deps)
	if len(placers) < 2 {
		return fmt.Errorf("arbitrage requires at least two venues, have %d", len(placers))
	}

	fees := detector.BpsFees{}
	meta := map[domain.Venue]detector.VenueMeta{}
	if deps.Binance != nil {
		fees[deps.Binance.Name()] = a.cfg.Binance.FeeBps
		meta[deps.Binance.Name()] = detector.VenueMeta{LatencyMs: a.cfg.Binance.LatencyMs, FeeBps: a.cfg.Binance.FeeBps}
	}
	if deps.Raydium != nil {
		fees[deps.Raydium.Name()] = a.cfg.Raydium.FeeBps
		meta[deps.Raydium.Name()] = detector.VenueMeta{LatencyMs: a.cfg.Raydium.LatencyMs, FeeBps: a.cfg.Raydium.FeeBps}
	}
	if deps.Jupiter != nil {
		fees[deps.Jupiter.Name()] = a.cfg.Jupiter.FeeBps
		meta[deps.Jupiter.Name()] = detector.VenueMeta{LatencyMs: a.cfg.Jupiter.LatencyMs, FeeBps: a.cfg.Jupiter.FeeBps}
	}

	det := detector.New(detector.Config{
		MinProfitThreshold: a.cfg.Arbitrage.MinProfitThreshold,
		MaxTradeSize:       a.cfg.Arbitrage.MaxTradeSize,
		MinTradeSize:       a.cfg.Arbitrage.MinTradeSize,
		MaxPriceImpact:     a.cfg.Arbitrage.PriceImpactThreshold,
		ScanInterval:       a.cfg.Arbitrage.ScanInterval.Duration,
		Symbols:            a.cfg.Aggregator.Symbols,
	}, agg, fees, detector.LinearSlippage{Rate: a.cfg.Arbitrage.SlippageTolerance},
		meta, deps.Opportunities, deps.Emitter, a.logger)

	exec := executor.New(executor.Config{
		Deadline:          a.cfg.Arbitrage.ExecutionDeadline.Duration,
		MaxOpportunityAge: a.cfg.Arbitrage.MaxOpportunityAge.Duration,
		MaxRetries:        a.cfg.Arbitrage.MaxRetries,
		Backoff:           a.cfg.Arbitrage.RetryBackoff.Duration,
	}, placers, deps.Executions, deps.Exposures, deps.Opportunities, deps.Emitter, a.logger)

	g.Go(func() error { return det.Run(ctx) })
	g.Go(func() error { return exec.Run(ctx, det.Out()) })

	// Open exposures need eyes on them; they are never retried silently.
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				open, err := deps.Exposures.ListOpen(ctx)
				if err != nil {
					a.logger.Warn("exposure scan failed", slog.String("error", err.Error()))
					continue
				}
				if len(open) > 0 {
					a.logger.Warn("open exposures outstanding", slog.Int("count", len(open)))
				}
			}
		}
	})

	return nil
}

// startLp wires the LP manager onto a running aggregator, restoring
// persisted positions and reconciling orphans under a distributed lock.
func (a *App) startLp(ctx context.Context, g *errgroup.Group, deps *Dependencies, agg *aggregator.Aggregator) error {
	if deps.Raydium == nil {
		return fmt.Errorf("lp management requires the raydium venue")
	}

	mgr := lpmanager.New(lpmanager.Config{
		RebalanceThreshold: a.cfg.LP.RebalanceThreshold,
		TimeHorizonHours:   a.cfg.LP.TimeHorizonHours,
		CheckInterval:      a.cfg.LP.CheckInterval.Duration,
		HarvestInterval:    a.cfg.LP.HarvestInterval.Duration,
		MaxPositions:       a.cfg.LP.MaxPositions,
	}, deps.Raydium, agg, deps.LPPositions, deps.Emitter, a.logger)

	// Restore live positions from the journal.
	if deps.LPPositions != nil {
		for _, status := range []domain.PositionStatus{
			domain.PositionActive, domain.PositionRebalancing, domain.PositionOrphaned,
		} {
			positions, err := deps.LPPositions.ListByStatus(ctx, status)
			if err != nil {
				return fmt.Errorf("restore %s positions: %w", status, err)
			}
			for _, pos := range positions {
				mgr.Track(pos)
			}
		}
		if n := len(mgr.Positions()); n > 0 {
			a.logger.Info("restored positions", slog.Int("count", n))
		}
	}

	// Seed an initial position when none survived the restart.
	if len(mgr.Positions()) == 0 && a.cfg.LP.DepositA > 0 && a.cfg.LP.DepositB > 0 {
		pos, err := mgr.Open(ctx, a.cfg.LP.TokenA, a.cfg.LP.TokenB, a.cfg.LP.DepositA, a.cfg.LP.DepositB)
		if err != nil {
			a.logger.Warn("initial position open failed", slog.String("error", err.Error()))
		} else {
			a.logger.Info("initial position opened", slog.String("position_id", pos.ID))
		}
	}

	g.Go(func() error { return mgr.Run(ctx) })

	// Orphan reconciliation, serialized across hosts per position.
	g.Go(func() error {
		interval := a.cfg.LP.CheckInterval.Duration
		if interval <= 0 {
			interval = time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				for _, pos := range mgr.Positions() {
					if pos.Status != domain.PositionOrphaned {
						continue
					}
					a.reconcileOrphan(ctx, deps, mgr, pos.ID)
				}
			}
		}
	})

	return nil
}

func (a *App) reconcileOrphan(ctx context.Context, deps *Dependencies, mgr *lpmanager.Manager, id string) {
	unlock, err := deps.Locks.Acquire(ctx, "lp:reconcile:"+id, reconcileLockTTL)
	if err != nil {
		if !errors.Is(err, domain.ErrLockHeld) {
			a.logger.Warn("reconcile lock failed",
				slog.String("position_id", id),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	defer unlock()

	if err := mgr.Reconcile(ctx, id); err != nil {
		a.logger.Warn("orphan reconcile failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// startArchiver periodically moves aged history rows to object storage.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil || a.cfg.S3.RetentionDays <= 0 {
		return
	}
	retention := a.cfg.S3.RetentionDays

	g.Go(func() error {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				before := time.Now().UTC().AddDate(0, 0, -retention)
				for kind, archive := range map[string]func(context.Context, time.Time) (int64, error){
					"opportunities": deps.Archiver.ArchiveOpportunities,
					"executions":    deps.Archiver.ArchiveExecutions,
					"exposures":     deps.Archiver.ArchiveExposures,
				} {
					count, err := archive(ctx, before)
					if err != nil {
						a.logger.Warn("archive failed",
							slog.String("kind", kind),
							slog.String("error", err.Error()),
						)
						continue
					}
					if count > 0 {
						a.logger.Info("archived history",
							slog.String("kind", kind),
							slog.Int64("count", count),
						)
					}
				}
			}
		}
	})
}

// venuePlacers assembles the executor's venue map: the CEX adapter directly,
// the DEX adapters behind the swap-to-order shim.
func (a *App) venuePlacers(deps *Dependencies) map[domain.Venue]executor.OrderPlacer {
	placers := make(map[domain.Venue]executor.OrderPlacer)
	if deps.Binance != nil {
		placers[deps.Binance.Name()] = deps.Binance
	}

	owner := ""
	if deps.Wallet != nil {
		owner = deps.Wallet.PublicKey()
	}
	slippage := a.cfg.Arbitrage.SlippageTolerance
	if deps.Raydium != nil {
		placers[deps.Raydium.Name()] = &dexPlacer{dex: deps.Raydium, rpc: deps.ChainRPC, owner: owner, slippage: slippage}
	}
	if deps.Jupiter != nil {
		placers[deps.Jupiter.Name()] = &dexPlacer{dex: deps.Jupiter, rpc: deps.ChainRPC, owner: owner, slippage: slippage}
	}
	return placers
}
