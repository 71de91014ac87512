package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateWithWallet(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "test-key"
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""
	cfg.Arbitrage.MaxTradeSize = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "max_trade_size")
}

func TestValidateRequiresWalletForTradingModes(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "arbitrage"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet")

	cfg.Mode = "monitor"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRebalanceThresholdBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "k"

	cfg.LP.RebalanceThreshold = 0
	require.Error(t, cfg.Validate())

	cfg.LP.RebalanceThreshold = 1.0
	require.Error(t, cfg.Validate())

	cfg.LP.RebalanceThreshold = 0.05
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "monitor"

[aggregator]
staleness_window = "2s"
symbols = ["SOL/USDC", "SOL/USDT"]

[arbitrage]
min_profit_threshold = 1.25
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 2*time.Second, cfg.Aggregator.StalenessWindow.Duration)
	assert.Equal(t, []string{"SOL/USDC", "SOL/USDT"}, cfg.Aggregator.Symbols)
	assert.Equal(t, 1.25, cfg.Arbitrage.MinProfitThreshold)
	// Untouched defaults survive the merge.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = \"monitor\"\n"), 0o600))

	t.Setenv("SOLARB_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("SOLARB_ARBITRAGE_MIN_PROFIT_THRESHOLD", "0.75")
	t.Setenv("SOLARB_ARBITRAGE_EXECUTION_DEADLINE", "4s")
	t.Setenv("SOLARB_AGGREGATOR_SYMBOLS", "SOL/USDC, ETH/USDC")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 0.75, cfg.Arbitrage.MinProfitThreshold)
	assert.Equal(t, 4*time.Second, cfg.Arbitrage.ExecutionDeadline.Duration)
	assert.Equal(t, []string{"SOL/USDC", "ETH/USDC"}, cfg.Aggregator.Symbols)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "super-secret"
	cfg.Binance.ApiSecret = "hmac-secret"
	cfg.Redis.Password = "pw"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Binance.ApiSecret)
	assert.Equal(t, "***", red.Redis.Password)
	// Original untouched.
	assert.Equal(t, "super-secret", cfg.Wallet.PrivateKey)

	// Mutating the redacted copy's slices must not leak back.
	red.Aggregator.Symbols[0] = "XXX"
	assert.Equal(t, "SOL/USDC", cfg.Aggregator.Symbols[0])
}
