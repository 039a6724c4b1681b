package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/aitrader/internal/ai"
	s3blob "github.com/alanyoungcy/aitrader/internal/blob/s3"
	cachememory "github.com/alanyoungcy/aitrader/internal/cache/memory"
	"github.com/alanyoungcy/aitrader/internal/cache/redis"
	"github.com/alanyoungcy/aitrader/internal/config"
	"github.com/alanyoungcy/aitrader/internal/domain"
	"github.com/alanyoungcy/aitrader/internal/notify"
	"github.com/alanyoungcy/aitrader/internal/platform/alpaca"
	"github.com/alanyoungcy/aitrader/internal/platform/yahoo"
	storememory "github.com/alanyoungcy/aitrader/internal/store/memory"
	"github.com/alanyoungcy/aitrader/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Events    domain.EventStore
	Versions  domain.StrategyVersionStore
	Limiter   domain.RateLimiter
	Archiver  domain.Archiver // nil when S3 is disabled
	Notifier  *notify.Notifier
	Broker    domain.Broker
	Stream    *alpaca.StreamClient // nil in monitor mode
	Market    domain.MarketData
	Completer domain.AICompleter
}

// Wire constructs concrete implementations from configuration. Monitor mode
// runs without the brokerage and falls back to in-memory stores when Postgres
// is not configured.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Event log and version ledger ---
	if cfg.Postgres.DSN != "" || cfg.Postgres.Host != "" {
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
		deps.Events = postgres.NewEventStore(pool)
		deps.Versions = postgres.NewVersionStore(pool)
	} else {
		logger.Warn("postgres not configured, using in-memory stores")
		deps.Events = storememory.NewEventStore()
		deps.Versions = storememory.NewVersionStore()
	}

	// --- Rate limiter ---
	if cfg.Redis.Enabled {
		limiter, err := redis.New(ctx, redis.Config{
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
		closers = append(closers, func() { _ = limiter.Close() })
		deps.Limiter = limiter
	} else {
		deps.Limiter = cachememory.NewRateLimiter()
	}

	// --- S3 cold storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewDayArchiver(s3blob.NewWriter(s3Client), deps.Events, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Telegram.Events, logger)

	// --- Market data and AI ---
	deps.Market = yahoo.NewClient(cfg.Data.BaseURL)
	deps.Completer = ai.NewClient(ai.ClientConfig{
		ApiKey:      cfg.OpenRouter.ApiKey,
		Model:       cfg.OpenRouter.Model,
		BaseURL:     cfg.OpenRouter.BaseURL,
		MaxTokens:   cfg.OpenRouter.MaxTokens,
		Temperature: cfg.OpenRouter.Temperature,
	})

	// --- Brokerage (trade mode only) ---
	if cfg.Mode == "trade" {
		deps.Broker = alpaca.NewClient(alpaca.ClientConfig{
			ApiKey:    cfg.Alpaca.ApiKey,
			SecretKey: cfg.Alpaca.SecretKey,
			BaseURL:   cfg.Alpaca.BaseURL,
		})
		deps.Stream = alpaca.NewStreamClient(cfg.Alpaca.StreamURL, cfg.Alpaca.ApiKey, cfg.Alpaca.SecretKey)
		closers = append(closers, func() { _ = deps.Stream.Close() })
	}

	return deps, cleanup, nil
}
