// Package bootstrap wires the flywheel service together for the serve
// command and the one-shot CLI commands.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/moonerfun/flywheel/internal/config"
	"github.com/moonerfun/flywheel/internal/database"
	"github.com/moonerfun/flywheel/internal/events"
	"github.com/moonerfun/flywheel/internal/fallback"
	"github.com/moonerfun/flywheel/internal/flywheel"
	"github.com/moonerfun/flywheel/internal/gateway"
	"github.com/moonerfun/flywheel/internal/logger"
	"github.com/moonerfun/flywheel/internal/metrics"
	"github.com/moonerfun/flywheel/internal/operations"
	"github.com/moonerfun/flywheel/internal/retryqueue"
	"github.com/moonerfun/flywheel/internal/scheduler"
)

// App holds every wired component.
type App struct {
	Config  *config.Config
	Logger  logger.Logger
	Metrics *metrics.Metrics

	DB    *sqlx.DB
	Redis *redis.Client

	Pools    *database.PoolRepository
	Queue    *database.RetryQueueRepository
	Fallback *fallback.Store
	Gateway  *gateway.Client
	Ops      *operations.Service
	Engine   *retryqueue.Engine
	Flywheel *flywheel.Flywheel
}

// Options tunes New.
type Options struct {
	// Registerer receives the Prometheus collectors. Nil uses the default registry.
	Registerer prometheus.Registerer
}

// New connects to the database and Redis and builds the domain components.
// Redis is optional: an empty address or an unreachable server disables
// event publishing.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts Options) (*App, error) {
	db, err := database.NewPostgresConnection(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("setup database: %w", err)
	}
	log.Info("database connection established",
		logger.String("host", cfg.Database.Host),
		logger.String("database", cfg.Database.Database),
	)

	app := &App{
		Config:  cfg,
		Logger:  log,
		Metrics: metrics.New(opts.Registerer),
		DB:      db,
	}

	app.Redis = setupRedis(ctx, cfg.Redis, log)
	app.build()

	return app, nil
}

func setupRedis(ctx context.Context, cfg config.RedisConfig, log logger.Logger) *redis.Client {
	client, err := events.NewRedisClient(ctx, cfg)
	if err != nil {
		log.Warn("redis unavailable, operation events disabled",
			logger.String("address", cfg.Address),
			logger.Error(err),
		)
		return nil
	}
	if client == nil {
		log.Info("redis not configured, operation events disabled")
	}
	return client
}

func (a *App) build() {
	cfg := a.Config
	log := a.Logger

	a.Pools = database.NewPoolRepository(a.DB)
	a.Queue = database.NewRetryQueueRepository(a.DB)
	records := database.NewOperationRepository(a.DB)
	a.Gateway = gateway.NewClient(cfg.Gateway, log)
	a.Fallback = fallback.New(cfg.Retry.FallbackDir, log)

	a.Ops = operations.NewService(operations.Collaborators{
		Chain:     a.Gateway,
		Fees:      a.Gateway,
		Swaps:     a.Gateway,
		Burner:    a.Gateway,
		Records:   records,
		Pools:     a.Pools,
		Publisher: events.NewPublisher(a.Redis, cfg.Redis.Channel, log),
	}, operations.Config{
		SOLReserve:        cfg.Flywheel.SOLReserve,
		SlippageBps:       cfg.Flywheel.SlippageBps,
		PlatformTokenMint: cfg.Flywheel.PlatformTokenMint,
	}, log, operations.WithMetrics(a.Metrics))

	a.Engine = retryqueue.New(
		a.Queue,
		a.Fallback,
		a.Pools,
		a.Ops,
		retryqueue.Config{
			MaxRetries: cfg.Retry.MaxRetries,
			Backoff: retryqueue.BackoffPolicy{
				Base:       cfg.Retry.BackoffBase,
				Cap:        cfg.Retry.BackoffCap,
				Multiplier: cfg.Retry.BackoffMultiplier,
			},
			BatchSize: cfg.Retry.BatchSize,
			ItemDelay: cfg.Retry.ItemDelay,
		},
		log,
		retryqueue.WithMetrics(a.Metrics),
	)

	a.Flywheel = flywheel.New(flywheel.Dependencies{
		Ops:     a.Ops,
		Pools:   a.Pools,
		Queue:   a.Engine,
		Source:  a.Gateway,
		Markets: a.Gateway,
	}, flywheel.ConfigFrom(cfg), log)
}

// NewScheduler registers every enabled task on a new scheduler. With
// manualOnly the tasks can be triggered but are never bound to cron.
func (a *App) NewScheduler(manualOnly bool) (*scheduler.Scheduler, error) {
	opts := []scheduler.Option{scheduler.WithMetrics(a.Metrics)}
	if manualOnly {
		opts = append(opts, scheduler.WithManualOnly())
	}

	sched := scheduler.New(a.Logger, opts...)
	for _, job := range a.Flywheel.Jobs(a.Config.Scheduler) {
		if err := sched.Register(job); err != nil {
			return nil, fmt.Errorf("register %s: %w", job.Name, err)
		}
	}
	return sched, nil
}

// Close releases the database and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if err := database.Close(a.DB); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}
