// Package retryqueue owns the retry queue lifecycle: durable enqueue with a
// local disk fallback, due-item selection, exponential backoff and cleanup.
package retryqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/moonerfun/flywheel/internal/domain"
	"github.com/moonerfun/flywheel/internal/fallback"
	"github.com/moonerfun/flywheel/internal/logger"
	"github.com/moonerfun/flywheel/internal/metrics"
)

const (
	defaultBatchSize        = 10
	defaultItemDelay        = time.Second
	defaultCleanupAfterDays = 7
)

// Store is the primary, durable retry queue backend.
type Store interface {
	Insert(ctx context.Context, item *domain.RetryQueueItem) error
	FetchDue(ctx context.Context, now time.Time, limit int) ([]domain.RetryQueueItem, error)
	MarkProcessing(ctx context.Context, id string, now time.Time) error
	MarkCompleted(ctx context.Context, id string, now time.Time) error
	MarkRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastError string, now time.Time) error
	MarkFailed(ctx context.Context, id string, retryCount int, lastError string, now time.Time) error
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ResetStaleProcessing(ctx context.Context, cutoff, now time.Time) (int64, error)
	Stats(ctx context.Context, now time.Time) (*domain.RetryQueueStats, error)
}

// FallbackStore is the secondary, append-only local backend used while Store is unreachable.
type FallbackStore interface {
	Append(ctx context.Context, rec domain.FallbackRecord) (string, error)
	List(ctx context.Context) ([]fallback.Entry, error)
	Remove(ctx context.Context, name string) error
}

// PoolResolver resolves a pool address to its record before dispatch.
type PoolResolver interface {
	GetByAddress(ctx context.Context, address string) (*domain.Pool, error)
}

// Operations are the task operations a retry item can be dispatched to.
type Operations interface {
	CollectFees(ctx context.Context, pool *domain.Pool) domain.FeeClaimResult
	Buyback(ctx context.Context, pool *domain.Pool, solAmount float64) domain.BuybackResult
	Burn(ctx context.Context, pool *domain.Pool, tokenAmount float64) domain.BurnResult
	Register(ctx context.Context, reg domain.RegisterPayload) domain.RegisterResult
}

// Config holds engine tuning.
type Config struct {
	MaxRetries int
	Backoff    BackoffPolicy
	BatchSize  int
	ItemDelay  time.Duration
}

// DrainResult counts the items attempted in one drain cycle.
type DrainResult struct {
	Processed          int `json:"processed"`
	Succeeded          int `json:"succeeded"`
	Failed             int `json:"failed"`
	FallbacksRecovered int `json:"fallbacks_recovered"`
}

// Engine is the retry queue engine.
type Engine struct {
	store    Store
	fallback FallbackStore
	pools    PoolResolver
	ops      Operations

	cfg     Config
	logger  logger.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records engine activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithSleeper overrides how the engine waits between items.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// New creates an engine.
func New(
	store Store,
	fb FallbackStore,
	pools PoolResolver,
	ops Operations,
	cfg Config,
	log logger.Logger,
	opts ...Option,
) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = domain.DefaultMaxRetries
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.ItemDelay < 0 {
		cfg.ItemDelay = defaultItemDelay
	}
	cfg.Backoff = cfg.Backoff.normalized()

	e := &Engine{
		store:    store,
		fallback: fb,
		pools:    pools,
		ops:      ops,
		cfg:      cfg,
		logger:   log.With(logger.Component("retry_queue")),
		tracer:   otel.Tracer("retry-queue"),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Backoff returns the policy the engine schedules retries with.
func (e *Engine) Backoff() BackoffPolicy {
	return e.cfg.Backoff
}

// Enqueue records a failed operation for later retry. It never fails: when the
// store write fails the request is appended to the fallback store, and when
// that also fails the loss is logged.
func (e *Engine) Enqueue(ctx context.Context, req domain.EnqueueRequest) {
	if req.MaxRetries <= 0 {
		req.MaxRetries = e.cfg.MaxRetries
	}

	item, err := domain.NewRetryQueueItem(uuid.NewString(), req, e.now())
	if err != nil {
		e.logger.Error("rejected invalid retry request",
			logger.String("operation", string(req.OperationType)),
			logger.Error(err),
		)
		return
	}

	insertErr := e.store.Insert(ctx, item)
	if insertErr == nil {
		e.metrics.Enqueued(string(item.OperationType))
		e.logger.Info("retry item enqueued",
			logger.String("id", item.ID),
			logger.String("operation", string(item.OperationType)),
			logger.String("pool", item.PoolAddressOrEmpty()),
			logger.Int("max_retries", item.MaxRetries),
		)
		return
	}

	e.logger.Error("retry queue store unavailable, degrading to local fallback",
		logger.String("operation", string(item.OperationType)),
		logger.String("pool", item.PoolAddressOrEmpty()),
		logger.Error(insertErr),
	)

	name, fbErr := e.fallback.Append(ctx, item.ToFallbackRecord())
	if fbErr != nil {
		e.logger.Error("fallback write failed, retry request lost",
			logger.String("operation", string(item.OperationType)),
			logger.String("pool", item.PoolAddressOrEmpty()),
			logger.Any("payload", item.Payload),
			logger.Error(fbErr),
		)
		return
	}

	e.metrics.FallbackWritten(string(item.OperationType))
	e.logger.Warn("retry request written to local fallback",
		logger.String("file", name),
		logger.String("operation", string(item.OperationType)),
	)
}

// DrainFallbacks re-submits every fallback record to the store and deletes each
// file once its insert succeeds. Records that fail stay for the next cycle.
// Returns the number of records re-submitted.
func (e *Engine) DrainFallbacks(ctx context.Context) int {
	entries, err := e.fallback.List(ctx)
	if err != nil {
		e.logger.Warn("fallback scan failed", logger.Error(err))
		return 0
	}
	if len(entries) == 0 {
		return 0
	}

	recovered := 0
	for _, entry := range entries {
		if entry.Err != nil {
			continue
		}

		item, buildErr := domain.NewRetryQueueItemFromFallback(uuid.NewString(), entry.Record, e.cfg.MaxRetries, e.now())
		if buildErr != nil {
			e.logger.Warn("fallback record rejected",
				logger.String("file", entry.Name),
				logger.Error(buildErr),
			)
			continue
		}

		if insertErr := e.store.Insert(ctx, item); insertErr != nil {
			e.logger.Warn("fallback record left for next cycle",
				logger.String("file", entry.Name),
				logger.Error(insertErr),
			)
			continue
		}

		recovered++
		if removeErr := e.fallback.Remove(ctx, entry.Name); removeErr != nil {
			e.logger.Error("fallback record re-submitted but file not removed",
				logger.String("file", entry.Name),
				logger.String("id", item.ID),
				logger.Error(removeErr),
			)
		}
	}

	if recovered > 0 {
		e.metrics.FallbackDrained(recovered)
		e.logger.Info("recovered fallback records",
			logger.Int("recovered", recovered),
			logger.Int("found", len(entries)),
		)
	}
	return recovered
}

// FetchDue returns pending items whose next attempt time has passed, oldest first.
// A non-positive limit uses the configured batch size.
func (e *Engine) FetchDue(ctx context.Context, limit int) ([]domain.RetryQueueItem, error) {
	if limit <= 0 {
		limit = e.cfg.BatchSize
	}
	items, err := e.store.FetchDue(ctx, e.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due: %w", err)
	}
	return items, nil
}

// ProcessOne attempts item once and persists the resulting state.
// item is updated in place to mirror what was written.
// Returns true only when the operation succeeded.
func (e *Engine) ProcessOne(ctx context.Context, item *domain.RetryQueueItem) bool {
	_, ok := e.process(ctx, item)
	return ok
}

// process reports whether the item was claimed and, if so, whether the attempt succeeded.
func (e *Engine) process(ctx context.Context, item *domain.RetryQueueItem) (bool, bool) {
	ctx, span := e.tracer.Start(ctx, "retry_queue.process",
		trace.WithAttributes(
			attribute.String("retry.id", item.ID),
			attribute.String("retry.operation", string(item.OperationType)),
			attribute.Int("retry.count", item.RetryCount),
		))
	defer span.End()

	now := e.now()
	if err := e.store.MarkProcessing(ctx, item.ID, now); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.logger.Debug("retry item no longer pending, skipping", logger.String("id", item.ID))
		} else {
			e.logger.Error("failed to claim retry item",
				logger.String("id", item.ID),
				logger.Error(err),
			)
		}
		span.SetStatus(codes.Error, "not claimed")
		return false, false
	}
	item.Status = domain.RetryStatusProcessing
	item.LastAttemptAt = &now
	item.UpdatedAt = now

	outcome := e.execute(ctx, item)
	e.metrics.Attempt(string(item.OperationType), outcome.Success)

	if outcome.Success {
		e.complete(ctx, item)
		return true, true
	}

	span.SetStatus(codes.Error, outcome.Error)
	e.reschedule(ctx, item, outcome.Error)
	return true, false
}

// execute decodes the payload, resolves the pool and dispatches. Panics are
// converted into failed outcomes.
func (e *Engine) execute(ctx context.Context, item *domain.RetryQueueItem) (outcome domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("retry operation panicked",
				logger.String("id", item.ID),
				logger.String("operation", string(item.OperationType)),
				logger.Any("panic", r),
			)
			outcome = domain.Failed(fmt.Errorf("panic: %v", r))
		}
	}()

	payload, err := domain.DecodePayload(item.OperationType, item.Payload)
	if err != nil {
		return domain.Failed(err)
	}

	pool, err := e.resolvePool(ctx, item)
	if err != nil {
		return domain.Failed(err)
	}

	switch p := payload.(type) {
	case domain.FeeClaimPayload:
		return e.ops.CollectFees(ctx, pool).Outcome
	case domain.BuybackPayload:
		return e.ops.Buyback(ctx, pool, p.SolAmount).Outcome
	case domain.BurnPayload:
		return e.ops.Burn(ctx, pool, p.TokenAmount).Outcome
	case domain.RegisterPayload:
		return e.ops.Register(ctx, p).Outcome
	default:
		return domain.Failed(fmt.Errorf("%w: %q", domain.ErrUnknownOperation, item.OperationType))
	}
}

func (e *Engine) resolvePool(ctx context.Context, item *domain.RetryQueueItem) (*domain.Pool, error) {
	if item.OperationType == domain.OperationRegister {
		return nil, nil
	}
	if item.PoolAddress == nil {
		if item.OperationType.RequiresPool() {
			return nil, fmt.Errorf("%s requires a pool address", item.OperationType)
		}
		return nil, nil
	}

	pool, err := e.pools.GetByAddress(ctx, *item.PoolAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve pool %s: %w", *item.PoolAddress, err)
	}
	return pool, nil
}

// complete and reschedule persist on a detached context so an attempt that
// already ran is always recorded, even after the caller gives up.
func (e *Engine) complete(ctx context.Context, item *domain.RetryQueueItem) {
	ctx = context.WithoutCancel(ctx)
	now := e.now()
	if err := e.store.MarkCompleted(ctx, item.ID, now); err != nil {
		e.logger.Error("operation succeeded but completion not persisted",
			logger.String("id", item.ID),
			logger.Error(err),
		)
		return
	}

	item.Status = domain.RetryStatusCompleted
	item.LastError = nil
	item.UpdatedAt = now

	e.logger.Info("retry item completed",
		logger.String("id", item.ID),
		logger.String("operation", string(item.OperationType)),
		logger.Int("attempts", item.RetryCount+1),
	)
}

func (e *Engine) reschedule(ctx context.Context, item *domain.RetryQueueItem, lastError string) {
	ctx = context.WithoutCancel(ctx)
	now := e.now()
	retryCount := min(item.RetryCount+1, item.MaxRetries)

	if item.Exhausted(retryCount) {
		if err := e.store.MarkFailed(ctx, item.ID, retryCount, lastError, now); err != nil {
			e.logger.Error("failed to persist terminal failure",
				logger.String("id", item.ID),
				logger.Error(err),
			)
			return
		}

		item.RetryCount = retryCount
		item.Status = domain.RetryStatusFailed
		item.LastError = &lastError
		item.UpdatedAt = now

		e.metrics.Exhausted(string(item.OperationType))
		e.logger.Error("retry item exhausted",
			logger.String("id", item.ID),
			logger.String("operation", string(item.OperationType)),
			logger.String("pool", item.PoolAddressOrEmpty()),
			logger.Int("retry_count", retryCount),
			logger.String("last_error", lastError),
		)
		return
	}

	next := now.Add(e.cfg.Backoff.Delay(retryCount))
	if next.Before(item.NextRetryAt) {
		next = item.NextRetryAt
	}

	if err := e.store.MarkRetry(ctx, item.ID, retryCount, next, lastError, now); err != nil {
		e.logger.Error("failed to reschedule retry item",
			logger.String("id", item.ID),
			logger.Error(err),
		)
		return
	}

	item.RetryCount = retryCount
	item.Status = domain.RetryStatusPending
	item.NextRetryAt = next
	item.LastError = &lastError
	item.UpdatedAt = now

	e.logger.Warn("retry attempt failed, rescheduled",
		logger.String("id", item.ID),
		logger.String("operation", string(item.OperationType)),
		logger.Int("retry_count", retryCount),
		logger.Int("max_retries", item.MaxRetries),
		logger.Time("next_retry_at", next),
		logger.String("error", lastError),
	)
}

// Drain recovers fallback records, then processes one batch of due items
// sequentially with the configured delay between items. Cancelling ctx stops
// the batch before the next item; an item already claimed runs to completion.
func (e *Engine) Drain(ctx context.Context) DrainResult {
	result := DrainResult{
		FallbacksRecovered: e.DrainFallbacks(ctx),
	}

	items, err := e.FetchDue(ctx, e.cfg.BatchSize)
	if err != nil {
		e.logger.Error("retry drain could not fetch due items", logger.Error(err))
		return result
	}

	for i := range items {
		if ctxErr := ctx.Err(); ctxErr != nil {
			e.logger.Warn("retry drain interrupted", logger.Error(ctxErr))
			break
		}
		if i > 0 && e.cfg.ItemDelay > 0 {
			if sleepErr := e.sleep(ctx, e.cfg.ItemDelay); sleepErr != nil {
				e.logger.Warn("retry drain interrupted", logger.Error(sleepErr))
				break
			}
		}

		claimed, ok := e.process(context.WithoutCancel(ctx), &items[i])
		if !claimed {
			continue
		}
		result.Processed++
		if ok {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	if result.Processed > 0 || result.FallbacksRecovered > 0 {
		e.logger.Info("retry drain finished",
			logger.Int("processed", result.Processed),
			logger.Int("succeeded", result.Succeeded),
			logger.Int("failed", result.Failed),
			logger.Int("fallbacks_recovered", result.FallbacksRecovered),
		)
	}
	return result
}

// Cleanup deletes completed and failed items not updated for olderThanDays days.
// Pending and processing items are never touched.
func (e *Engine) Cleanup(ctx context.Context, olderThanDays int) int64 {
	if olderThanDays <= 0 {
		olderThanDays = defaultCleanupAfterDays
	}
	cutoff := e.now().AddDate(0, 0, -olderThanDays)

	deleted, err := e.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		e.logger.Error("retry queue cleanup failed", logger.Error(err))
		return 0
	}

	if deleted > 0 {
		e.metrics.Cleaned(deleted)
		e.logger.Info("cleaned up terminal retry items",
			logger.Int64("deleted", deleted),
			logger.Int("older_than_days", olderThanDays),
		)
	}
	return deleted
}

// RecoverStale counts items left in processing for longer than olderThan as
// one abandoned attempt. Items still under their ceiling return to pending and
// the rest are marked failed. Returns the number of items recovered.
func (e *Engine) RecoverStale(ctx context.Context, olderThan time.Duration) int64 {
	if olderThan <= 0 {
		return 0
	}
	now := e.now()

	reset, err := e.store.ResetStaleProcessing(ctx, now.Add(-olderThan), now)
	if err != nil {
		e.logger.Error("stale retry item recovery failed", logger.Error(err))
		return 0
	}
	if reset > 0 {
		e.logger.Warn("recovered stale processing retry items", logger.Int64("reset", reset))
	}
	return reset
}

// Stats returns item counts per status.
func (e *Engine) Stats(ctx context.Context) (*domain.RetryQueueStats, error) {
	stats, err := e.store.Stats(ctx, e.now())
	if err != nil {
		return nil, fmt.Errorf("retry queue stats: %w", err)
	}
	return stats, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
