// Package config defines the top-level configuration for the solarb engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SOLARB_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Binance    BinanceConfig    `toml:"binance"`
	Raydium    RaydiumConfig    `toml:"raydium"`
	Jupiter    JupiterConfig    `toml:"jupiter"`
	Pyth       PythConfig       `toml:"pyth"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Aggregator AggregatorConfig `toml:"aggregator"`
	Arbitrage  ArbitrageConfig  `toml:"arbitrage"`
	LP         LPConfig         `toml:"lp"`
	Sim        SimConfig        `toml:"sim"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Solana keypair credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// BinanceConfig holds Binance API endpoints and credentials.
type BinanceConfig struct {
	BaseURL   string  `toml:"base_url"`
	WsURL     string  `toml:"ws_url"`
	ApiKey    string  `toml:"api_key"`
	ApiSecret string  `toml:"api_secret"`
	FeeBps    float64 `toml:"fee_bps"`
	LatencyMs int64   `toml:"latency_ms"`
}

// RaydiumConfig holds Raydium AMM endpoints and pool parameters.
type RaydiumConfig struct {
	RpcURL    string  `toml:"rpc_url"`
	ApiURL    string  `toml:"api_url"`
	FeeBps    float64 `toml:"fee_bps"`
	LatencyMs int64   `toml:"latency_ms"`
}

// JupiterConfig holds Jupiter aggregator endpoints.
type JupiterConfig struct {
	QuoteURL  string  `toml:"quote_url"`
	SwapURL   string  `toml:"swap_url"`
	FeeBps    float64 `toml:"fee_bps"`
	LatencyMs int64   `toml:"latency_ms"`
}

// PythConfig holds Pyth oracle endpoints.
type PythConfig struct {
	HermesURL string `toml:"hermes_url"`
	WsURL     string `toml:"ws_url"`
	// MaxConfidenceRatio rejects oracle quotes whose confidence interval
	// exceeds this fraction of the price.
	MaxConfidenceRatio float64 `toml:"max_confidence_ratio"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for history
// archiving.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// AggregatorConfig holds price aggregation parameters.
type AggregatorConfig struct {
	// StalenessWindow is the maximum age of a quote before it is excluded
	// from best-price selection.
	StalenessWindow duration `toml:"staleness_window"`
	// BreakerFailures is the consecutive-failure count that opens a venue's
	// circuit.
	BreakerFailures int `toml:"breaker_failures"`
	// BreakerCooldown is how long an open circuit waits before a half-open
	// probe is allowed.
	BreakerCooldown duration `toml:"breaker_cooldown"`
	// VolatilityWindow bounds the sample window used for rolling
	// volatility estimation.
	VolatilityWindow duration `toml:"volatility_window"`
	Symbols          []string `toml:"symbols"`
}

// ArbitrageConfig holds detection and execution parameters.
type ArbitrageConfig struct {
	Enabled bool `toml:"enabled"`
	// MinProfitThreshold is the absolute net-profit floor, in quote
	// currency. Opportunities must exceed it strictly.
	MinProfitThreshold   float64  `toml:"min_profit_threshold"`
	MaxTradeSize         float64  `toml:"max_trade_size"`
	MinTradeSize         float64  `toml:"min_trade_size"`
	PriceImpactThreshold float64  `toml:"price_impact_threshold"`
	SlippageTolerance    float64  `toml:"slippage_tolerance"`
	ScanInterval         duration `toml:"scan_interval"`
	// ExecutionDeadline bounds both legs of a single execution attempt.
	ExecutionDeadline duration `toml:"execution_deadline"`
	MaxRetries        int      `toml:"max_retries"`
	RetryBackoff      duration `toml:"retry_backoff"`
	// MaxOpportunityAge discards opportunities not executed quickly enough.
	MaxOpportunityAge duration `toml:"max_opportunity_age"`
}

// LPConfig holds liquidity position management parameters.
type LPConfig struct {
	Enabled bool `toml:"enabled"`
	// RebalanceThreshold is the price deviation fraction at which a
	// rebalance triggers (inclusive).
	RebalanceThreshold float64  `toml:"rebalance_threshold"`
	TimeHorizonHours   float64  `toml:"time_horizon_hours"`
	CheckInterval      duration `toml:"check_interval"`
	HarvestInterval    duration `toml:"harvest_interval"`
	MaxPositions       int      `toml:"max_positions"`
	TokenA             string   `toml:"token_a"`
	TokenB             string   `toml:"token_b"`
	DepositA           float64  `toml:"deposit_a"`
	DepositB           float64  `toml:"deposit_b"`
}

// SimConfig holds volume simulation parameters.
type SimConfig struct {
	Wallets      int      `toml:"wallets"`
	MinTradeSize float64  `toml:"min_trade_size"`
	MaxTradeSize float64  `toml:"max_trade_size"`
	MinInterval  duration `toml:"min_interval"`
	MaxInterval  duration `toml:"max_interval"`
	TargetVolume float64  `toml:"target_volume"`
	Symbol       string   `toml:"symbol"`
}

// NotifyConfig holds operator alert channels. Events lists the event names
// to forward; an empty list forwards everything.
type NotifyConfig struct {
	Enabled           bool     `toml:"enabled"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Binance: BinanceConfig{
			BaseURL:   "https://api.binance.com",
			WsURL:     "wss://stream.binance.com:9443/ws",
			FeeBps:    10.0,
			LatencyMs: 50,
		},
		Raydium: RaydiumConfig{
			RpcURL:    "https://api.mainnet-beta.solana.com",
			ApiURL:    "https://api-v3.raydium.io",
			FeeBps:    25.0,
			LatencyMs: 400,
		},
		Jupiter: JupiterConfig{
			QuoteURL:  "https://quote-api.jup.ag/v6/quote",
			SwapURL:   "https://quote-api.jup.ag/v6/swap",
			FeeBps:    20.0,
			LatencyMs: 300,
		},
		Pyth: PythConfig{
			HermesURL:          "https://hermes.pyth.network",
			WsURL:              "wss://hermes.pyth.network/ws",
			MaxConfidenceRatio: 0.01,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "solarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "solarb-history",
			UseSSL:         false,
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Aggregator: AggregatorConfig{
			StalenessWindow:  duration{5 * time.Second},
			BreakerFailures:  5,
			BreakerCooldown:  duration{30 * time.Second},
			VolatilityWindow: duration{1 * time.Hour},
			Symbols:          []string{"SOL/USDC"},
		},
		Arbitrage: ArbitrageConfig{
			Enabled:              true,
			MinProfitThreshold:   0.50,
			MaxTradeSize:         10.0,
			MinTradeSize:         0.01,
			PriceImpactThreshold: 0.005,
			SlippageTolerance:    0.002,
			ScanInterval:         duration{500 * time.Millisecond},
			ExecutionDeadline:    duration{10 * time.Second},
			MaxRetries:           3,
			RetryBackoff:         duration{200 * time.Millisecond},
			MaxOpportunityAge:    duration{3 * time.Second},
		},
		LP: LPConfig{
			Enabled:            true,
			RebalanceThreshold: 0.05,
			TimeHorizonHours:   24,
			CheckInterval:      duration{30 * time.Second},
			HarvestInterval:    duration{1 * time.Hour},
			MaxPositions:       4,
			TokenA:             "SOL",
			TokenB:             "USDC",
			DepositA:           10.0,
			DepositB:           1500.0,
		},
		Sim: SimConfig{
			Wallets:      5,
			MinTradeSize: 0.1,
			MaxTradeSize: 2.0,
			MinInterval:  duration{2 * time.Second},
			MaxInterval:  duration{15 * time.Second},
			TargetVolume: 1000.0,
			Symbol:       "SOL/USDC",
		},
		Notify: NotifyConfig{
			Enabled: false,
			Events: []string{
				"position_orphaned",
				"venue_circuit_opened",
				"error",
			},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"arbitrage": true,
	"lp":        true,
	"monitor":   true,
	"simulate":  true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: arbitrage, lp, monitor, simulate, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: trading modes need a key source.
	needsWallet := c.Mode == "arbitrage" || c.Mode == "lp" || c.Mode == "full"
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Venue endpoints
	if c.Binance.BaseURL == "" {
		errs = append(errs, "binance: base_url must not be empty")
	}
	if c.Binance.WsURL == "" {
		errs = append(errs, "binance: ws_url must not be empty")
	}
	if c.Raydium.RpcURL == "" {
		errs = append(errs, "raydium: rpc_url must not be empty")
	}
	if c.Jupiter.QuoteURL == "" {
		errs = append(errs, "jupiter: quote_url must not be empty")
	}
	if c.Pyth.HermesURL == "" {
		errs = append(errs, "pyth: hermes_url must not be empty")
	}
	if c.Pyth.MaxConfidenceRatio <= 0 {
		errs = append(errs, "pyth: max_confidence_ratio must be > 0")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Aggregator
	if c.Aggregator.StalenessWindow.Duration <= 0 {
		errs = append(errs, "aggregator: staleness_window must be > 0")
	}
	if c.Aggregator.BreakerFailures < 1 {
		errs = append(errs, "aggregator: breaker_failures must be >= 1")
	}
	if c.Aggregator.BreakerCooldown.Duration <= 0 {
		errs = append(errs, "aggregator: breaker_cooldown must be > 0")
	}
	if len(c.Aggregator.Symbols) == 0 {
		errs = append(errs, "aggregator: at least one symbol is required")
	}

	// Arbitrage
	if c.Arbitrage.Enabled {
		if c.Arbitrage.MinProfitThreshold < 0 {
			errs = append(errs, "arbitrage: min_profit_threshold must be >= 0")
		}
		if c.Arbitrage.MaxTradeSize <= 0 {
			errs = append(errs, "arbitrage: max_trade_size must be > 0 when enabled")
		}
		if c.Arbitrage.MinTradeSize < 0 {
			errs = append(errs, "arbitrage: min_trade_size must be >= 0")
		}
		if c.Arbitrage.MinTradeSize > c.Arbitrage.MaxTradeSize {
			errs = append(errs, "arbitrage: min_trade_size must not exceed max_trade_size")
		}
		if c.Arbitrage.ExecutionDeadline.Duration <= 0 {
			errs = append(errs, "arbitrage: execution_deadline must be > 0")
		}
		if c.Arbitrage.MaxRetries < 0 {
			errs = append(errs, "arbitrage: max_retries must be >= 0")
		}
	}

	// LP
	if c.LP.Enabled {
		if c.LP.RebalanceThreshold <= 0 || c.LP.RebalanceThreshold >= 1 {
			errs = append(errs, fmt.Sprintf("lp: rebalance_threshold must be in (0, 1), got %g", c.LP.RebalanceThreshold))
		}
		if c.LP.TimeHorizonHours <= 0 {
			errs = append(errs, "lp: time_horizon_hours must be > 0")
		}
		if c.LP.MaxPositions < 1 {
			errs = append(errs, "lp: max_positions must be >= 1")
		}
		if c.LP.TokenA == "" || c.LP.TokenB == "" {
			errs = append(errs, "lp: token_a and token_b must not be empty")
		}
	}

	// Notify
	if c.Notify.Enabled {
		hasTelegram := c.Notify.TelegramToken != "" && c.Notify.TelegramChatID != ""
		hasDiscord := c.Notify.DiscordWebhookURL != ""
		if !hasTelegram && !hasDiscord {
			errs = append(errs, "notify: at least one channel (telegram or discord) must be configured when enabled")
		}
		if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
			errs = append(errs, "notify: telegram_chat_id is required when telegram_token is set")
		}
	}

	// Sim
	if c.Mode == "simulate" {
		if c.Sim.Wallets < 1 {
			errs = append(errs, "sim: wallets must be >= 1")
		}
		if c.Sim.MinTradeSize <= 0 || c.Sim.MaxTradeSize < c.Sim.MinTradeSize {
			errs = append(errs, "sim: trade size bounds must satisfy 0 < min <= max")
		}
		if c.Sim.MinInterval.Duration <= 0 || c.Sim.MaxInterval.Duration < c.Sim.MinInterval.Duration {
			errs = append(errs, "sim: intervals must satisfy 0 < min <= max")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
