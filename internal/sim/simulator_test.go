package sim

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlin-quant/solarb/internal/domain"
)

type fakeSwapper struct {
	mu    sync.Mutex
	calls int
	fail  func(call int) error

	lastIn, lastOut string
}

func (f *fakeSwapper) ExecuteSwap(_ context.Context, tokenIn, tokenOut string, _, _ float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastIn, f.lastOut = tokenIn, tokenOut
	if f.fail != nil {
		if err := f.fail(f.calls); err != nil {
			return "", err
		}
	}
	return "sig", nil
}

func testConfig() Config {
	return Config{
		Wallets:      3,
		MinTradeSize: 0.5,
		MaxTradeSize: 1.0,
		MinInterval:  time.Millisecond,
		MaxInterval:  2 * time.Millisecond,
		TargetVolume: 5.0,
		Symbol:       "SOL/USDC",
	}
}

func newTestSimulator(t *testing.T, cfg Config, venue Swapper, emitter domain.Emitter) *Simulator {
	t.Helper()
	s, err := New(cfg, venue, emitter, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func TestRunStopsAtTargetVolume(t *testing.T) {
	venue := &fakeSwapper{}
	s := newTestSimulator(t, testConfig(), venue, nil)

	result, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, result.TotalVolume, 5.0)
	// Each trade adds at most MaxTradeSize, so the overshoot is bounded.
	assert.Less(t, result.TotalVolume, 6.0)
	assert.Equal(t, result.Trades, len(result.ExecutionTimes))
	assert.InDelta(t, result.TotalVolume/float64(result.Trades), result.AverageTradeSize, 1e-9)
	assert.False(t, result.FinishedAt.Before(result.StartedAt))

	var walletTotal float64
	for _, v := range result.WalletVolumes {
		walletTotal += v
	}
	assert.InDelta(t, result.TotalVolume, walletTotal, 1e-9)
}

func TestRunTradesBothDirections(t *testing.T) {
	venue := &fakeSwapper{}
	cfg := testConfig()
	cfg.TargetVolume = 20.0
	s := newTestSimulator(t, cfg, venue, nil)

	result, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Positive(t, result.Trades)
	assert.Contains(t, []string{"SOL", "USDC"}, venue.lastIn)
	assert.Contains(t, []string{"SOL", "USDC"}, venue.lastOut)
	assert.NotEqual(t, venue.lastIn, venue.lastOut)
}

func TestRunCountsFailuresWithoutVolume(t *testing.T) {
	venue := &fakeSwapper{
		fail: func(call int) error {
			if call%2 == 0 {
				return errors.New("slippage exceeded")
			}
			return nil
		},
	}
	s := newTestSimulator(t, testConfig(), venue, nil)

	result, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Positive(t, result.Failures)
	assert.Greater(t, result.Trades, result.Failures)
	assert.GreaterOrEqual(t, result.TotalVolume, 5.0)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingEmitter) Emit(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func TestRunEmitsTradeEvents(t *testing.T) {
	venue := &fakeSwapper{}
	emitter := &recordingEmitter{}
	cfg := testConfig()
	cfg.TargetVolume = 1.0
	s := newTestSimulator(t, cfg, venue, emitter)

	result, err := s.Run(context.Background())
	require.NoError(t, err)

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	require.Len(t, emitter.events, result.Trades-result.Failures)
	ev := emitter.events[0]
	assert.Equal(t, domain.EventTradeExecuted, ev.Name)
	assert.Equal(t, string(domain.ExecStatusFilled), ev.Fields["status"])
	assert.NotEmpty(t, ev.Fields["wallet"])
}

func TestRunReturnsPartialResultOnCancel(t *testing.T) {
	venue := &fakeSwapper{}
	cfg := testConfig()
	cfg.TargetVolume = 0 // unbounded
	s := newTestSimulator(t, cfg, venue, nil)

	calls := 0
	s.sleep = func(ctx context.Context, _ time.Duration) error {
		calls++
		if calls >= 4 {
			return context.Canceled
		}
		return nil
	}

	result, err := s.Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 4, result.Trades)
	assert.Positive(t, result.TotalVolume)
}

func TestNewValidatesConfig(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	cfg := testConfig()
	cfg.Wallets = 0
	_, err := New(cfg, &fakeSwapper{}, nil, logger)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.MaxTradeSize = 0.1
	_, err = New(cfg, &fakeSwapper{}, nil, logger)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Symbol = "SOLUSDC"
	_, err = New(cfg, &fakeSwapper{}, nil, logger)
	assert.Error(t, err)
}

func TestReportListsWallets(t *testing.T) {
	r := Result{
		TotalVolume:      10,
		Trades:           8,
		Failures:         1,
		AverageTradeSize: 1.25,
		WalletVolumes:    map[string]float64{"walletB": 4, "walletA": 6},
		ExecutionTimes:   []time.Duration{100 * time.Millisecond, 300 * time.Millisecond},
	}

	report := r.Report()
	assert.Contains(t, report, "total volume:        10.00")
	assert.Contains(t, report, "8 (1 failed)")
	assert.Contains(t, report, "200ms")
	assert.Contains(t, report, "walletA")
	// Wallets are listed in sorted order.
	assert.Less(t, strings.Index(report, "walletA"), strings.Index(report, "walletB"))
}
