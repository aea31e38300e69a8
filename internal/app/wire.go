package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/tradegate/internal/blob/s3"
	"github.com/alanyoungcy/tradegate/internal/cache/redis"
	"github.com/alanyoungcy/tradegate/internal/config"
	"github.com/alanyoungcy/tradegate/internal/domain"
	"github.com/alanyoungcy/tradegate/internal/notify"
	"github.com/alanyoungcy/tradegate/internal/server/handler"
	"github.com/alanyoungcy/tradegate/internal/store/postgres"
)

// Dependencies bundles the infrastructure the run modes share. Optional
// backends that are disabled leave their fields nil.
type Dependencies struct {
	// Stores (postgres)
	DecisionStore   domain.DecisionStore
	PositionStore   domain.PositionStore
	AuditStore      domain.AuditStore
	RiskLimitsStore domain.RiskLimitsStore

	// Caches and coordination (redis)
	PriceCache   *redis.PriceCache
	SignalCache  domain.SignalCache
	AccountCache domain.AccountCache
	RateLimiter  domain.RateLimiter
	// ExecLimiter paces calls to the execution gateway.
	ExecLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus

	// Blob storage (s3)
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Notifier *notify.Notifier

	// Probes back the health endpoint.
	Probes map[string]handler.Pinger
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire connects to every enabled backend and returns the dependencies with a
// cleanup that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	deps := &Dependencies{Probes: make(map[string]handler.Pinger)}

	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
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
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pg.Pool()
		deps.DecisionStore = postgres.NewDecisionStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.RiskLimitsStore = postgres.NewRiskLimitsStore(pool)
		deps.Probes["postgres"] = pg
	}

	rc, err := redis.New(ctx, redis.ClientConfig{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MaxRetries:   cfg.Redis.MaxRetries,
		TLSEnabled:   cfg.Redis.TLSEnabled,
		Namespace:    "tradegate",
		StreamMaxLen: cfg.Redis.StreamMaxLen,
		SignalTTL:    cfg.Redis.SignalTTL.Duration,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = rc.Close() })

	deps.PriceCache = redis.NewPriceCache(rc, cfg.Signals.CorrelationWindow)
	deps.SignalCache = redis.NewSignalCache(rc)
	deps.AccountCache = redis.NewAccountCache(rc)
	deps.RateLimiter = redis.NewRateLimiter(rc, 0, 0)
	deps.ExecLimiter = redis.NewRateLimiter(rc, 10, time.Second)
	deps.LockManager = redis.NewLockManager(rc)
	deps.SignalBus = redis.NewSignalBus(rc)
	deps.Probes["redis"] = rc

	if cfg.S3.Enabled {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
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
		deps.BlobReader = s3blob.NewReader(s3c)
		deps.Probes["s3"] = pingFunc(s3c.Health)

		if cfg.Postgres.Enabled {
			deps.Archiver = s3blob.NewDecisionArchiver(
				s3blob.NewWriter(s3c),
				deps.DecisionStore,
				deps.AuditStore,
				cfg.Archive.BatchSize,
				logger,
			)
		}
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
