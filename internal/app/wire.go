package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/cricketpools/internal/blob/s3"
	"github.com/alanyoungcy/cricketpools/internal/cache/redis"
	"github.com/alanyoungcy/cricketpools/internal/config"
	"github.com/alanyoungcy/cricketpools/internal/domain"
	"github.com/alanyoungcy/cricketpools/internal/engine"
	"github.com/alanyoungcy/cricketpools/internal/events"
	"github.com/alanyoungcy/cricketpools/internal/notify"
	"github.com/alanyoungcy/cricketpools/internal/server/handler"
	"github.com/alanyoungcy/cricketpools/internal/store/memory"
	"github.com/alanyoungcy/cricketpools/internal/store/postgres"
	"github.com/alanyoungcy/cricketpools/internal/treasury"
)

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Pools     domain.PoolStore
	Settings  domain.SettingsStore
	Audit     domain.AuditStore
	Transfers domain.TransferLog
	Custody   domain.CustodyStore

	// Redis-backed, nil when redis is disabled.
	Cache   domain.PoolCache
	Limiter domain.RateLimiter

	Bus        domain.EventBus
	Dispatcher *events.Dispatcher
	Treasury   *treasury.Book
	Engine     *engine.Engine

	// Archiver is nil unless the mode archives settled pools.
	Archiver domain.Archiver

	// Checks feed the health endpoint.
	Checks map[string]handler.Check
}

func needsArchive(cfg *config.Config) bool {
	switch strings.ToLower(cfg.Mode) {
	case "archive":
		return true
	case "full":
		return cfg.Archive.Enabled
	default:
		return false
	}
}

// Wire constructs the concrete implementations selected by cfg and returns
// them together with a cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Stores ---
	switch cfg.Database.Store {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Pools = pgClient.Pools()
		deps.Settings = pgClient.Settings()
		deps.Audit = pgClient.Audit()
		deps.Transfers = pgClient.Transfers()
		deps.Custody = pgClient.Custody()
		deps.Checks["postgres"] = func(ctx context.Context) error { return pgClient.Pool().Ping(ctx) }
	default:
		mem := memory.New()
		deps.Pools = mem
		deps.Settings = mem
		deps.Audit = mem
		deps.Transfers = mem
		deps.Custody = mem
	}

	// --- Redis ---
	var locker engine.Locker = engine.NewLocalLocker()
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Bus = redis.NewEventBus(redisClient)
		deps.Cache = redis.NewPoolCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		if cfg.Engine.LockBackend == "redis" {
			locker = redis.NewLockManager(redisClient, cfg.Redis.LockTTL.Duration)
		}
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.Bus = events.NewLocalBus(0)
	}

	// --- Events ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger)
	deps.Dispatcher = events.NewDispatcher(deps.Bus, deps.Audit, notifier, logger)
	// Registered before the store closers run, so queued notifications drain first.
	closers = append(closers, deps.Dispatcher.Wait)

	// --- Engine ---
	deps.Treasury = treasury.New(deps.Custody, deps.Transfers, logger)
	eng, err := engine.New(engine.Deps{
		Pools:    deps.Pools,
		Settings: deps.Settings,
		Treasury: deps.Treasury,
		Events:   deps.Dispatcher,
		Locker:   locker,
		Logger:   logger,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: engine: %w", err))
	}
	if _, err := eng.Bootstrap(ctx, domain.Settings{
		Owner:         common.HexToAddress(cfg.Engine.Owner),
		FeeRecipient:  common.HexToAddress(cfg.Engine.FeeRecipient),
		DefaultFeeBps: uint16(cfg.Engine.PlatformFeeBps),
	}); err != nil {
		return fail(fmt.Errorf("wire: bootstrap settings: %w", err))
	}
	deps.Engine = eng

	// --- S3 archive ---
	if needsArchive(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			Prefix:         cfg.S3.Prefix,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(deps.Pools, s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), logger)
		deps.Checks["s3"] = s3Client.Health
	}

	return deps, cleanup, nil
}
