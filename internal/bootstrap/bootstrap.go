// Package bootstrap wires the components shared by the api and worker binaries.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"notifyhub/internal/config"
	"notifyhub/internal/domain/entity"
	pgRepo "notifyhub/internal/infra/adapter/persistence/postgres"
	sqliteRepo "notifyhub/internal/infra/adapter/persistence/sqlite"
	"notifyhub/internal/infra/cache"
	"notifyhub/internal/infra/db"
	"notifyhub/internal/infra/notifier"
	"notifyhub/internal/infra/queue"
	"notifyhub/internal/repository"
	"notifyhub/internal/usecase/configcache"
	"notifyhub/internal/usecase/dispatch"
	"notifyhub/internal/usecase/logsink"
	"notifyhub/internal/usecase/notify"
)

var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL must be set")
	ErrMissingRedisURL    = errors.New("REDIS_URL must be set")
)

// Components is everything a binary needs after startup.
type Components struct {
	DB    *sql.DB
	Redis *redis.Client

	Devices   repository.DeviceRepository
	Templates repository.TemplateRepository
	Outcomes  repository.OutcomeRepository
	Jobs      repository.JobRepository

	Configs *configcache.Cache
	Sink    *logsink.Sink
	Engine  *dispatch.Engine
	Queue   *queue.Queue
	Notify  *notify.Service

	closers []func() error
}

// Build opens the stores and assembles the dispatch pipeline.
// The caller must run Sink.Run and call Close on shutdown.
func Build(ctx context.Context, cfg *config.AppConfig, sinkCfg logsink.Config, logger *slog.Logger) (*Components, error) {
	c := &Components{}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, ErrMissingDatabaseURL
	}
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, ErrMissingRedisURL
	}

	database, err := db.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	c.DB = database
	c.closers = append(c.closers, database.Close)

	if err := db.MigrateUp(ctx, database); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rdb, err := cache.NewRedisClient(ctx, redisURL)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("open redis: %w", err)
	}
	c.Redis = rdb
	c.closers = append(c.closers, rdb.Close)

	c.Devices = pgRepo.NewDeviceRepo(database)
	c.Templates = pgRepo.NewTemplateRepo(database)
	c.Jobs = pgRepo.NewJobRepo(database)

	c.Outcomes, err = openOutcomeStore(ctx, c, cfg.Outcomes, logger)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	c.Configs = configcache.New(
		cache.NewMemoryTier(cfg.Cache.MemorySize, cfg.Cache.MemoryTTL),
		cache.NewRedisTier(rdb, cfg.Cache.RedisTTL),
		pgRepo.NewCredentialRepo(database),
		logger,
	)

	var opts []dispatch.Option
	if cfg.ChannelPolicyFile != "" {
		defaults, err := config.LoadChannelPolicies(cfg.ChannelPolicyFile)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("load channel policies: %w", err)
		}
		opts = append(opts, dispatch.WithDefaultPolicies(defaults))
		logger.Info("channel policies loaded", slog.String("file", cfg.ChannelPolicyFile))
	}

	c.Sink = logsink.New(c.Outcomes, sinkCfg, logger)
	var senders notifier.Senders
	if cfg.DryRun {
		senders = NewDryRunSenders(logger)
		logger.Warn("dry run: notifications are logged, not sent")
	} else {
		senders = NewSenders(c.Configs, logger)
	}
	c.Engine = dispatch.NewEngine(senders, pgRepo.NewPolicyRepo(database), c.Sink, logger, opts...)
	c.Queue = queue.New(rdb, queue.Config{
		Key:               cfg.Queue.Key,
		MaxSize:           cfg.Queue.MaxSize,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
	})
	c.Notify = notify.NewService(c.Devices, c.Templates, c.Engine, c.Queue, cfg.QueueThreshold, logger)

	return c, nil
}

// openOutcomeStore returns the postgres outcome repository, or the embedded
// sqlite one when the backend says so.
func openOutcomeStore(ctx context.Context, c *Components, cfg config.OutcomeStoreConfig, logger *slog.Logger) (repository.OutcomeRepository, error) {
	if cfg.Backend != config.OutcomeStoreSQLite {
		return pgRepo.NewOutcomeRepo(c.DB), nil
	}
	sdb, err := db.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open outcome store: %w", err)
	}
	c.closers = append(c.closers, sdb.Close)
	repo, err := sqliteRepo.NewOutcomeRepo(ctx, sdb)
	if err != nil {
		return nil, fmt.Errorf("open outcome store: %w", err)
	}
	logger.Info("outcome store: sqlite", slog.String("path", cfg.SQLitePath))
	return repo, nil
}

// NewSenders builds one sender per channel. Provider clients are created per
// tenant from credentials served by creds.
func NewSenders(creds notifier.CredentialSource, logger *slog.Logger) notifier.Senders {
	fcmClients := notifier.NewFCMClientRegistry(notifier.NewFCMClient)
	return notifier.NewSenders(
		notifier.NewFCMSender(entity.ChannelPush, creds, fcmClients, logger),
		notifier.NewFCMSender(entity.ChannelWeb, creds, fcmClients, logger),
		notifier.NewEmailSender(creds, notifier.NewSMTPClientRegistry(notifier.NewSMTPClient), logger),
		notifier.NewChatSender(creds, notifier.NewChatClientRegistry(notifier.NewChatBot), logger),
	)
}

// NewDryRunSenders registers a no-op sender for every channel.
func NewDryRunSenders(logger *slog.Logger) notifier.Senders {
	var senders []notifier.Sender
	for _, ch := range entity.AllChannels() {
		senders = append(senders, notifier.NewNoopSender(ch, logger))
	}
	return notifier.NewSenders(senders...)
}

// Close releases the stores in reverse order of opening.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
