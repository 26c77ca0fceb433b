package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/fillscope/internal/blob/s3"
	"github.com/alanyoungcy/fillscope/internal/cache/memory"
	"github.com/alanyoungcy/fillscope/internal/cache/redis"
	"github.com/alanyoungcy/fillscope/internal/config"
	"github.com/alanyoungcy/fillscope/internal/domain"
	"github.com/alanyoungcy/fillscope/internal/history"
	"github.com/alanyoungcy/fillscope/internal/matcher"
	"github.com/alanyoungcy/fillscope/internal/notify"
	"github.com/alanyoungcy/fillscope/internal/platform/polymarket"
	"github.com/alanyoungcy/fillscope/internal/resolver"
	"github.com/alanyoungcy/fillscope/internal/store/postgres"
)

// Dependencies bundles everything the modes share. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Join engine over both snapshot stores.
	Engine *matcher.Engine

	// Shared fill cache for both origins.
	History *history.Cache

	// Caches
	AccountCache domain.AccountCache
	// MemoryCache is set when Redis is disabled and needs a sweeper.
	MemoryCache *memory.AccountCache
	// SignalBus is nil when Redis is disabled.
	SignalBus domain.SignalBus

	// Archiver is nil when S3 is disabled.
	Archiver *s3blob.FillArchiver

	Accounts *polymarket.DataClient
	Notifier *notify.Notifier
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

	// --- PostgreSQL snapshot stores ---
	polyClient, err := openDatabase(ctx, "polymarket", cfg.PolymarketDB)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	closers = append(closers, polyClient.Close)

	pinnClient, err := openDatabase(ctx, "pinnacle", cfg.PinnacleDB)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	closers = append(closers, pinnClient.Close)

	mappings, err := resolver.DefaultMappings()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: team mappings: %w", err)
	}

	deps.Engine = matcher.New([]matcher.Source{
		{
			Name:     domain.SourcePolymarket,
			Resolver: resolver.Polymarket{},
			Store:    postgres.NewMarketDataStore(polyClient.Pool()),
		},
		{
			Name:     domain.SourcePinnacle,
			Resolver: resolver.NewPinnacle(mappings),
			Store:    postgres.NewDeltasStore(pinnClient.Pool(), mappings.IsFuzzy),
			Opponent: true,
		},
	}, matcher.Options{
		Window:      cfg.Matching.Window.Duration,
		SettleDelay: cfg.Matching.SettleDelay.Duration,
	}, logger)

	deps.History = history.New(history.Options{
		Horizon:       cfg.Retention.Horizon.Duration,
		MaxEntries:    cfg.Retention.MaxEntries,
		SweepInterval: cfg.Retention.SweepInterval.Duration,
	}, logger)
	closers = append(closers, deps.History.Shutdown)

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			URL:        cfg.Redis.URL,
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

		deps.AccountCache = redis.NewAccountCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	} else {
		deps.MemoryCache = memory.NewAccountCache()
		deps.AccountCache = deps.MemoryCache
	}

	// --- S3 fetch archive ---
	if cfg.S3.Enabled {
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
		deps.Archiver = s3blob.NewFillArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix)
	}

	deps.Accounts = polymarket.NewDataClient(polymarket.DataConfig{
		DataURL:           cfg.PolymarketAPI.DataURL,
		ProfileURL:        cfg.PolymarketAPI.ProfileURL,
		RequestsPerSecond: cfg.PolymarketAPI.RequestsPerSecond,
		Burst:             cfg.PolymarketAPI.Burst,
		CacheTTL:          cfg.PolymarketAPI.CacheTTL.Duration,
		Timeout:           cfg.PolymarketAPI.Timeout.Duration,
	}, deps.AccountCache, logger)

	// --- Notifications ---
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Cooldown.Duration, logger)

	return deps, cleanup, nil
}

func openDatabase(ctx context.Context, name string, db config.DatabaseConfig) (*postgres.Client, error) {
	client, err := postgres.New(ctx, name, postgres.ClientConfig{
		DSN:            db.DSN,
		Host:           db.Host,
		Port:           db.Port,
		Database:       db.Database,
		User:           db.User,
		Password:       db.Password,
		SSLMode:        db.SSLMode,
		MaxConns:       db.PoolMaxConns,
		MinConns:       db.PoolMinConns,
		ConnectTimeout: db.ConnectTimeout.Duration,
	})
	if err != nil {
		return nil, fmt.Errorf("%s database: %w", name, err)
	}
	if db.RunMigrations {
		if err := client.RunMigrations(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("%s database migrations: %w", name, err)
		}
	}
	return client, nil
}
