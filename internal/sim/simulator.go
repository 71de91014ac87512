// Package sim generates synthetic trading volume from a pool of throwaway
// wallets. It drives the swap path with randomized sizes and intervals and
// reports the realized volume and execution latency distribution.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/dlin-quant/solarb/internal/crypto"
	"github.com/dlin-quant/solarb/internal/domain"
)

// Swapper is the narrow venue surface the simulator drives. DEX adapters
// satisfy it directly.
type Swapper interface {
	ExecuteSwap(ctx context.Context, tokenIn, tokenOut string, amountIn, minAmountOut float64) (txID string, err error)
}

// Config holds simulation parameters.
type Config struct {
	// Wallets is the number of synthetic wallets rotated through.
	Wallets      int
	MinTradeSize float64
	MaxTradeSize float64
	// MinInterval and MaxInterval bound the random pause between trades.
	MinInterval time.Duration
	MaxInterval time.Duration
	// TargetVolume stops the run once this much base-asset volume has been
	// traded. Zero means run until ctx is cancelled.
	TargetVolume float64
	// Symbol is the traded pair, e.g. "SOL/USDC".
	Symbol string
}

// Result summarizes a completed simulation run.
type Result struct {
	StartedAt        time.Time
	FinishedAt       time.Time
	TotalVolume      float64
	Trades           int
	Failures         int
	AverageTradeSize float64
	// WalletVolumes maps wallet public key to the volume it generated.
	WalletVolumes  map[string]float64
	ExecutionTimes []time.Duration
}

// AverageExecutionTime is the mean swap round-trip latency.
func (r Result) AverageExecutionTime() time.Duration {
	if len(r.ExecutionTimes) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range r.ExecutionTimes {
		total += d
	}
	return total / time.Duration(len(r.ExecutionTimes))
}

// Report renders the result for operator consumption.
func (r Result) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "simulation report\n")
	fmt.Fprintf(&b, "  total volume:        %.2f\n", r.TotalVolume)
	fmt.Fprintf(&b, "  trades:              %d (%d failed)\n", r.Trades, r.Failures)
	fmt.Fprintf(&b, "  average trade size:  %.4f\n", r.AverageTradeSize)
	fmt.Fprintf(&b, "  average latency:     %s\n", r.AverageExecutionTime())
	fmt.Fprintf(&b, "  wallets:             %d\n", len(r.WalletVolumes))

	keys := make([]string, 0, len(r.WalletVolumes))
	for k := range r.WalletVolumes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "    %s  %.2f\n", k, r.WalletVolumes[k])
	}
	return b.String()
}

// Simulator rotates trades across its wallet pool until the volume target is
// reached or the context ends.
type Simulator struct {
	cfg     Config
	venue   Swapper
	wallets []*crypto.Wallet
	rng     *rand.Rand
	emitter domain.Emitter
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

// New creates a Simulator with freshly generated wallets. The emitter may be
// nil.
func New(cfg Config, venue Swapper, emitter domain.Emitter, logger *slog.Logger) (*Simulator, error) {
	if cfg.Wallets < 1 {
		return nil, fmt.Errorf("sim: at least one wallet required")
	}
	if cfg.MinTradeSize <= 0 || cfg.MaxTradeSize < cfg.MinTradeSize {
		return nil, fmt.Errorf("sim: trade size bounds must satisfy 0 < min <= max")
	}
	if cfg.MinInterval <= 0 || cfg.MaxInterval < cfg.MinInterval {
		return nil, fmt.Errorf("sim: intervals must satisfy 0 < min <= max")
	}
	if !strings.Contains(cfg.Symbol, "/") {
		return nil, fmt.Errorf("sim: malformed symbol %q", cfg.Symbol)
	}

	wallets := make([]*crypto.Wallet, cfg.Wallets)
	for i := range wallets {
		w, err := crypto.GenerateWallet()
		if err != nil {
			return nil, fmt.Errorf("sim: generate wallet: %w", err)
		}
		wallets[i] = w
	}

	if emitter == nil {
		emitter = domain.NopEmitter{}
	}
	return &Simulator{
		cfg:     cfg,
		venue:   venue,
		wallets: wallets,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		emitter: emitter,
		logger:  logger.With(slog.String("component", "simulator")),
		sleep:   sleepCtx,
		now:     time.Now,
	}, nil
}

// Run executes trades until ctx is cancelled or the target volume is reached.
// A partial Result is returned alongside ctx errors so an interrupted run
// still reports what it traded.
func (s *Simulator) Run(ctx context.Context) (Result, error) {
	base, quote, _ := strings.Cut(s.cfg.Symbol, "/")

	result := Result{
		StartedAt:     s.now(),
		WalletVolumes: make(map[string]float64),
	}
	s.logger.Info("simulation started",
		slog.String("symbol", s.cfg.Symbol),
		slog.Int("wallets", len(s.wallets)),
		slog.Float64("target_volume", s.cfg.TargetVolume),
	)

	for {
		if err := ctx.Err(); err != nil {
			return s.finish(result), err
		}
		if s.cfg.TargetVolume > 0 && result.TotalVolume >= s.cfg.TargetVolume {
			return s.finish(result), nil
		}

		wallet := s.wallets[s.rng.IntN(len(s.wallets))]
		size := s.randFloat(s.cfg.MinTradeSize, s.cfg.MaxTradeSize)

		tokenIn, tokenOut := base, quote
		if s.rng.IntN(2) == 0 {
			tokenIn, tokenOut = quote, base
		}

		start := s.now()
		txID, err := s.venue.ExecuteSwap(ctx, tokenIn, tokenOut, size, 0)
		elapsed := s.now().Sub(start)

		result.Trades++
		result.ExecutionTimes = append(result.ExecutionTimes, elapsed)
		if err != nil {
			result.Failures++
			s.logger.Warn("simulated trade failed",
				slog.String("wallet", wallet.PublicKey()),
				slog.String("error", err.Error()),
			)
		} else {
			result.TotalVolume += size
			result.WalletVolumes[wallet.PublicKey()] += size
			s.emitter.Emit(domain.Event{
				Name: domain.EventTradeExecuted,
				At:   s.now(),
				Fields: map[string]any{
					"status":  string(domain.ExecStatusFilled),
					"wallet":  wallet.PublicKey(),
					"size":    size,
					"tx_id":   txID,
					"latency": elapsed.String(),
				},
			})
		}

		delay := s.randDuration(s.cfg.MinInterval, s.cfg.MaxInterval)
		if err := s.sleep(ctx, delay); err != nil {
			return s.finish(result), err
		}
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (s *Simulator) finish(r Result) Result {
	r.FinishedAt = s.now()
	filled := r.Trades - r.Failures
	if filled > 0 {
		r.AverageTradeSize = r.TotalVolume / float64(filled)
	}
	s.logger.Info("simulation finished",
		slog.Float64("total_volume", r.TotalVolume),
		slog.Int("trades", r.Trades),
		slog.Int("failures", r.Failures),
	)
	return r
}

func (s *Simulator) randFloat(min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + s.rng.Float64()*(max-min)
}

func (s *Simulator) randDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(s.rng.Int64N(int64(max-min)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
