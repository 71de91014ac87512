package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/dlin-quant/solarb/internal/blob/s3"
	"github.com/dlin-quant/solarb/internal/cache/redis"
	"github.com/dlin-quant/solarb/internal/config"
	"github.com/dlin-quant/solarb/internal/crypto"
	"github.com/dlin-quant/solarb/internal/domain"
	"github.com/dlin-quant/solarb/internal/metrics"
	"github.com/dlin-quant/solarb/internal/notify"
	"github.com/dlin-quant/solarb/internal/store/postgres"
	"github.com/dlin-quant/solarb/internal/venue/binance"
	"github.com/dlin-quant/solarb/internal/venue/jupiter"
	"github.com/dlin-quant/solarb/internal/venue/pyth"
	"github.com/dlin-quant/solarb/internal/venue/raydium"
	"github.com/dlin-quant/solarb/internal/venue/solanarpc"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	Wallet *crypto.Wallet

	// Stores
	Opportunities domain.OpportunityStore
	Executions    domain.ExecutionStore
	Exposures     domain.ExposureStore
	LPPositions   domain.LPPositionStore

	// Caches
	EventBus    domain.EventBus
	QuoteMirror domain.QuoteMirror
	Locks       domain.LockManager

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Venues
	Binance  *binance.Client
	Raydium  *raydium.Client
	Jupiter  *jupiter.Client
	Pyth     *pyth.Client
	ChainRPC *solanarpc.Client

	// Observability
	Recorder *metrics.Recorder
	Notifier *notify.Notifier
	Emitter  domain.Emitter
}

// needsPostgres returns true for modes that persist trading history.
func needsPostgres(mode string) bool {
	switch mode {
	case "arbitrage", "lp", "full":
		return true
	default:
		return false
	}
}

// needsS3 returns true for modes that archive history to object storage.
func needsS3(mode string) bool {
	switch mode {
	case "arbitrage", "lp", "full":
		return true
	default:
		return false
	}
}

// needsWallet returns true for modes that sign on-chain transactions.
func needsWallet(mode string) bool {
	switch mode {
	case "arbitrage", "lp", "simulate", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Wallet (only for modes that sign transactions) ---
	if needsWallet(cfg.Mode) {
		wallet, err := crypto.LoadWallet(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: wallet: %w", err)
		}
		deps.Wallet = wallet
	}

	// --- PostgreSQL (only for modes that need persistence) ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Opportunities = postgres.NewOpportunityStore(pool)
		deps.Executions = postgres.NewExecutionStore(pool)
		deps.Exposures = postgres.NewExposureStore(pool)
		deps.LPPositions = postgres.NewLPPositionStore(pool)
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.EventBus = redis.NewEventBus(redisClient)
	deps.QuoteMirror = redis.NewQuoteMirror(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)

	// --- S3 blob storage (only for modes that archive) ---
	if needsS3(cfg.Mode) && cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		if deps.Opportunities != nil && deps.Executions != nil && deps.Exposures != nil {
			deps.Archiver = s3blob.NewArchiver(
				deps.BlobWriter,
				deps.BlobReader,
				deps.Opportunities,
				deps.Executions,
				deps.Exposures,
				logger,
			)
		}
	}

	// --- Venues ---
	if cfg.Binance.BaseURL != "" {
		deps.Binance = binance.NewClient(binance.Config{
			BaseURL:   cfg.Binance.BaseURL,
			WsURL:     cfg.Binance.WsURL,
			ApiKey:    cfg.Binance.ApiKey,
			ApiSecret: cfg.Binance.ApiSecret,
		})
	}
	if cfg.Raydium.RpcURL != "" {
		deps.ChainRPC = solanarpc.NewClient(cfg.Raydium.RpcURL)
	}
	if cfg.Raydium.ApiURL != "" && deps.Wallet != nil {
		deps.Raydium = raydium.NewClient(raydium.Config{
			RpcURL:      cfg.Raydium.RpcURL,
			ApiURL:      cfg.Raydium.ApiURL,
			SlippageBps: int(cfg.Arbitrage.SlippageTolerance * 10000),
		}, deps.Wallet)
	}
	if cfg.Jupiter.QuoteURL != "" && deps.Wallet != nil {
		deps.Jupiter = jupiter.NewClient(jupiter.Config{
			QuoteURL:    cfg.Jupiter.QuoteURL,
			SwapURL:     cfg.Jupiter.SwapURL,
			RpcURL:      cfg.Raydium.RpcURL,
			SlippageBps: int(cfg.Arbitrage.SlippageTolerance * 10000),
		}, deps.Wallet)
	}
	if cfg.Pyth.HermesURL != "" {
		deps.Pyth = pyth.NewClient(pyth.Config{
			HermesURL:          cfg.Pyth.HermesURL,
			WsURL:              cfg.Pyth.WsURL,
			MaxConfidenceRatio: cfg.Pyth.MaxConfidenceRatio,
		})
	}

	// --- Observability ---
	deps.Recorder = metrics.NewRecorder()

	var alerter metrics.Alerter
	if cfg.Notify.Enabled {
		var senders []notify.Sender
		if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
			senders = append(senders, notify.NewTelegramSender(
				cfg.Notify.TelegramToken,
				cfg.Notify.TelegramChatID,
			))
		}
		if cfg.Notify.DiscordWebhookURL != "" {
			senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
		}
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
		alerter = deps.Notifier
	}
	deps.Emitter = metrics.NewEmitter(deps.Recorder, deps.EventBus, alerter, logger)

	return deps, cleanup, nil
}
