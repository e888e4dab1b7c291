// Package flywheel holds the scheduled job handlers: fee collection,
// buyback, market cap refresh, pool discovery and retry queue processing.
package flywheel

import (
	"context"
	"time"

	"github.com/moonerfun/flywheel/internal/config"
	"github.com/moonerfun/flywheel/internal/domain"
	"github.com/moonerfun/flywheel/internal/gateway"
	"github.com/moonerfun/flywheel/internal/logger"
	"github.com/moonerfun/flywheel/internal/retryqueue"
	"github.com/moonerfun/flywheel/internal/scheduler"
)

// Task names.
const (
	TaskFeeCollection = "fee_collection"
	TaskBuyback       = "buyback"
	TaskMarketcap     = "marketcap"
	TaskDiscovery     = "discovery"
	TaskRetry         = "retry"
)

// TaskNames lists every task in registration order.
var TaskNames = []string{TaskFeeCollection, TaskBuyback, TaskMarketcap, TaskDiscovery, TaskRetry}

// Operations are the task operations the jobs drive.
type Operations interface {
	SpendableSOL(ctx context.Context) (float64, error)
	CollectFees(ctx context.Context, pool *domain.Pool) domain.FeeClaimResult
	Buyback(ctx context.Context, pool *domain.Pool, solAmount float64) domain.BuybackResult
	Burn(ctx context.Context, pool *domain.Pool, tokenAmount float64) domain.BurnResult
	Register(ctx context.Context, reg domain.RegisterPayload) domain.RegisterResult
}

// PoolStore reads and updates tracked pools.
type PoolStore interface {
	ListFeeTargets(ctx context.Context) ([]domain.Pool, error)
	ListBuybackEligible(ctx context.Context) ([]domain.Pool, error)
	ListAddresses(ctx context.Context) ([]string, error)
	UpdateMarketCap(ctx context.Context, address string, marketCap float64, now time.Time) error
	MarkMigrated(ctx context.Context, address string, now time.Time) (bool, error)
}

// RetryQueue is the retry engine surface the jobs use.
type RetryQueue interface {
	Enqueue(ctx context.Context, req domain.EnqueueRequest)
	RecoverStale(ctx context.Context, olderThan time.Duration) int64
	Drain(ctx context.Context) retryqueue.DrainResult
	Cleanup(ctx context.Context, olderThanDays int) int64
}

// PoolSource lists the pools the launch platform knows about.
type PoolSource interface {
	PlatformPools(ctx context.Context) ([]gateway.PlatformPool, error)
}

// MarketData prices tokens.
type MarketData interface {
	MarketCaps(ctx context.Context, mints []string) (map[string]float64, error)
}

// Config holds the knobs the jobs read.
type Config struct {
	BurnAfterBuyback     bool
	MinBuybackSOL        float64
	MaxPoolsPerBuyback   int
	CleanupAfterDays     int
	StaleProcessingAfter time.Duration
}

// ConfigFrom builds job configuration from the service configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		BurnAfterBuyback:     cfg.Flywheel.BurnAfterBuyback,
		MinBuybackSOL:        cfg.Flywheel.MinBuybackSOL,
		MaxPoolsPerBuyback:   cfg.Flywheel.MaxPoolsPerBuyback,
		CleanupAfterDays:     cfg.Retry.CleanupAfterDays,
		StaleProcessingAfter: cfg.Retry.StaleProcessingAfter,
	}
}

// Dependencies groups the collaborators of the jobs.
type Dependencies struct {
	Ops     Operations
	Pools   PoolStore
	Queue   RetryQueue
	Source  PoolSource
	Markets MarketData
}

// Flywheel runs the scheduled jobs.
type Flywheel struct {
	ops     Operations
	pools   PoolStore
	queue   RetryQueue
	source  PoolSource
	markets MarketData

	cfg    Config
	logger logger.Logger
	now    func() time.Time
}

// New creates the job handlers.
func New(deps Dependencies, cfg Config, log logger.Logger) *Flywheel {
	return &Flywheel{
		ops:     deps.Ops,
		pools:   deps.Pools,
		queue:   deps.Queue,
		source:  deps.Source,
		markets: deps.Markets,
		cfg:     cfg,
		logger:  log.With(logger.Component("flywheel")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Jobs returns a scheduler job for every task not disabled in sc.
func (f *Flywheel) Jobs(sc config.SchedulerConfig) []scheduler.Job {
	candidates := []struct {
		name     string
		schedule config.TaskSchedule
		run      scheduler.Handler
	}{
		{TaskFeeCollection, sc.FeeCollection, f.CollectFees},
		{TaskBuyback, sc.Buyback, f.Buyback},
		{TaskMarketcap, sc.Marketcap, f.RefreshMarketCaps},
		{TaskDiscovery, sc.Discovery, f.DiscoverPools},
		{TaskRetry, sc.Retry, f.ProcessRetries},
	}

	jobs := make([]scheduler.Job, 0, len(candidates))
	for _, c := range candidates {
		if c.schedule.Disabled {
			f.logger.Info("task disabled", logger.String("task", c.name))
			continue
		}
		jobs = append(jobs, scheduler.Job{Name: c.name, Schedule: c.schedule.Cron, Run: c.run})
	}
	return jobs
}
