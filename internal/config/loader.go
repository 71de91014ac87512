package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SOLARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SOLARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "SOLARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SOLARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SOLARB_WALLET_KEY_PASSWORD")

	// ── Binance ──
	setStr(&cfg.Binance.BaseURL, "SOLARB_BINANCE_BASE_URL")
	setStr(&cfg.Binance.WsURL, "SOLARB_BINANCE_WS_URL")
	setStr(&cfg.Binance.ApiKey, "SOLARB_BINANCE_API_KEY")
	setStr(&cfg.Binance.ApiSecret, "SOLARB_BINANCE_API_SECRET")
	setFloat64(&cfg.Binance.FeeBps, "SOLARB_BINANCE_FEE_BPS")
	setInt64(&cfg.Binance.LatencyMs, "SOLARB_BINANCE_LATENCY_MS")

	// ── Raydium ──
	setStr(&cfg.Raydium.RpcURL, "SOLARB_RAYDIUM_RPC_URL")
	setStr(&cfg.Raydium.ApiURL, "SOLARB_RAYDIUM_API_URL")
	setFloat64(&cfg.Raydium.FeeBps, "SOLARB_RAYDIUM_FEE_BPS")
	setInt64(&cfg.Raydium.LatencyMs, "SOLARB_RAYDIUM_LATENCY_MS")

	// ── Jupiter ──
	setStr(&cfg.Jupiter.QuoteURL, "SOLARB_JUPITER_QUOTE_URL")
	setStr(&cfg.Jupiter.SwapURL, "SOLARB_JUPITER_SWAP_URL")
	setFloat64(&cfg.Jupiter.FeeBps, "SOLARB_JUPITER_FEE_BPS")
	setInt64(&cfg.Jupiter.LatencyMs, "SOLARB_JUPITER_LATENCY_MS")

	// ── Pyth ──
	setStr(&cfg.Pyth.HermesURL, "SOLARB_PYTH_HERMES_URL")
	setStr(&cfg.Pyth.WsURL, "SOLARB_PYTH_WS_URL")
	setFloat64(&cfg.Pyth.MaxConfidenceRatio, "SOLARB_PYTH_MAX_CONFIDENCE_RATIO")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SOLARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SOLARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SOLARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SOLARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SOLARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SOLARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SOLARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SOLARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SOLARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SOLARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SOLARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SOLARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SOLARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SOLARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SOLARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SOLARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SOLARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SOLARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "SOLARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SOLARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SOLARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SOLARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SOLARB_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "SOLARB_S3_RETENTION_DAYS")

	// ── Aggregator ──
	setDuration(&cfg.Aggregator.StalenessWindow, "SOLARB_AGGREGATOR_STALENESS_WINDOW")
	setInt(&cfg.Aggregator.BreakerFailures, "SOLARB_AGGREGATOR_BREAKER_FAILURES")
	setDuration(&cfg.Aggregator.BreakerCooldown, "SOLARB_AGGREGATOR_BREAKER_COOLDOWN")
	setDuration(&cfg.Aggregator.VolatilityWindow, "SOLARB_AGGREGATOR_VOLATILITY_WINDOW")
	setStringSlice(&cfg.Aggregator.Symbols, "SOLARB_AGGREGATOR_SYMBOLS")

	// ── Arbitrage ──
	setBool(&cfg.Arbitrage.Enabled, "SOLARB_ARBITRAGE_ENABLED")
	setFloat64(&cfg.Arbitrage.MinProfitThreshold, "SOLARB_ARBITRAGE_MIN_PROFIT_THRESHOLD")
	setFloat64(&cfg.Arbitrage.MaxTradeSize, "SOLARB_ARBITRAGE_MAX_TRADE_SIZE")
	setFloat64(&cfg.Arbitrage.MinTradeSize, "SOLARB_ARBITRAGE_MIN_TRADE_SIZE")
	setFloat64(&cfg.Arbitrage.PriceImpactThreshold, "SOLARB_ARBITRAGE_PRICE_IMPACT_THRESHOLD")
	setFloat64(&cfg.Arbitrage.SlippageTolerance, "SOLARB_ARBITRAGE_SLIPPAGE_TOLERANCE")
	setDuration(&cfg.Arbitrage.ScanInterval, "SOLARB_ARBITRAGE_SCAN_INTERVAL")
	setDuration(&cfg.Arbitrage.ExecutionDeadline, "SOLARB_ARBITRAGE_EXECUTION_DEADLINE")
	setInt(&cfg.Arbitrage.MaxRetries, "SOLARB_ARBITRAGE_MAX_RETRIES")
	setDuration(&cfg.Arbitrage.RetryBackoff, "SOLARB_ARBITRAGE_RETRY_BACKOFF")
	setDuration(&cfg.Arbitrage.MaxOpportunityAge, "SOLARB_ARBITRAGE_MAX_OPPORTUNITY_AGE")

	// ── LP ──
	setBool(&cfg.LP.Enabled, "SOLARB_LP_ENABLED")
	setFloat64(&cfg.LP.RebalanceThreshold, "SOLARB_LP_REBALANCE_THRESHOLD")
	setFloat64(&cfg.LP.TimeHorizonHours, "SOLARB_LP_TIME_HORIZON_HOURS")
	setDuration(&cfg.LP.CheckInterval, "SOLARB_LP_CHECK_INTERVAL")
	setDuration(&cfg.LP.HarvestInterval, "SOLARB_LP_HARVEST_INTERVAL")
	setInt(&cfg.LP.MaxPositions, "SOLARB_LP_MAX_POSITIONS")
	setStr(&cfg.LP.TokenA, "SOLARB_LP_TOKEN_A")
	setStr(&cfg.LP.TokenB, "SOLARB_LP_TOKEN_B")
	setFloat64(&cfg.LP.DepositA, "SOLARB_LP_DEPOSIT_A")
	setFloat64(&cfg.LP.DepositB, "SOLARB_LP_DEPOSIT_B")

	// ── Sim ──
	setInt(&cfg.Sim.Wallets, "SOLARB_SIM_WALLETS")
	setFloat64(&cfg.Sim.MinTradeSize, "SOLARB_SIM_MIN_TRADE_SIZE")
	setFloat64(&cfg.Sim.MaxTradeSize, "SOLARB_SIM_MAX_TRADE_SIZE")
	setDuration(&cfg.Sim.MinInterval, "SOLARB_SIM_MIN_INTERVAL")
	setDuration(&cfg.Sim.MaxInterval, "SOLARB_SIM_MAX_INTERVAL")
	setFloat64(&cfg.Sim.TargetVolume, "SOLARB_SIM_TARGET_VOLUME")
	setStr(&cfg.Sim.Symbol, "SOLARB_SIM_SYMBOL")

	// ── Notify ──
	setBool(&cfg.Notify.Enabled, "SOLARB_NOTIFY_ENABLED")
	setStr(&cfg.Notify.TelegramToken, "SOLARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SOLARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SOLARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SOLARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SOLARB_MODE")
	setStr(&cfg.LogLevel, "SOLARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
