package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/moonerfun/flywheel/internal/domain"
)

// retryQueueSelectList is the column list for SELECT on retry_queue (single source for schema changes)
const retryQueueSelectList = `id, operation_type, pool_address, payload, retry_count,
			max_retries, last_error, last_attempt_at, next_retry_at,
			status, created_at, updated_at`

// RetryQueueRepository manages the retry_queue table.
type RetryQueueRepository struct {
	db *sqlx.DB
}

// NewRetryQueueRepository creates a new repository
func NewRetryQueueRepository(db *sqlx.DB) *RetryQueueRepository {
	return &RetryQueueRepository{db: db}
}

// Insert writes a new retry queue item.
func (r *RetryQueueRepository) Insert(ctx context.Context, item *domain.RetryQueueItem) error {
	query := `
		INSERT INTO retry_queue (
			id, operation_type, pool_address, payload, retry_count,
			max_retries, next_retry_at, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		item.ID,
		item.OperationType,
		item.PoolAddress,
		item.Payload,
		item.RetryCount,
		item.MaxRetries,
		item.NextRetryAt,
		item.Status,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert retry item: %w", err)
	}
	return nil
}

// FetchDue returns pending items whose next_retry_at has passed, oldest first.
func (r *RetryQueueRepository) FetchDue(ctx context.Context, now time.Time, limit int) ([]domain.RetryQueueItem, error) {
	query := `SELECT ` + retryQueueSelectList + `
		FROM retry_queue
		WHERE status = 'pending'
		  AND next_retry_at <= $1
		ORDER BY created_at ASC
		LIMIT $2`

	items := make([]domain.RetryQueueItem, 0, limit)
	if err := r.db.SelectContext(ctx, &items, query, now, limit); err != nil {
		return nil, fmt.Errorf("fetch due retry items: %w", err)
	}
	return items, nil
}

// GetByID retrieves a single retry queue item.
func (r *RetryQueueRepository) GetByID(ctx context.Context, id string) (*domain.RetryQueueItem, error) {
	query := `SELECT ` + retryQueueSelectList + `
		FROM retry_queue
		WHERE id = $1`

	var item domain.RetryQueueItem
	err := r.db.GetContext(ctx, &item, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get retry item: %w", err)
	}
	return &item, nil
}

// execExpectOneRow runs an exec and returns domain.ErrNotFound when no row was affected
func (r *RetryQueueRepository) execExpectOneRow(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return fmt.Errorf("get affected rows: %w", rowsErr)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkProcessing claims a pending item. Returns domain.ErrNotFound when the
// item is no longer pending.
func (r *RetryQueueRepository) MarkProcessing(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE retry_queue
		SET status = 'processing',
		    last_attempt_at = $2,
		    updated_at = $2
		WHERE id = $1
		  AND status = 'pending'`
	if err := r.execExpectOneRow(ctx, query, id, now); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("mark processing: %w", err)
	}
	return nil
}

// MarkCompleted marks an item as terminally successful.
func (r *RetryQueueRepository) MarkCompleted(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE retry_queue
		SET status = 'completed',
		    last_error = NULL,
		    updated_at = $2
		WHERE id = $1`
	if err := r.execExpectOneRow(ctx, query, id, now); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// MarkRetry returns an item to pending with an incremented retry count.
// next_retry_at never moves backwards.
func (r *RetryQueueRepository) MarkRetry(
	ctx context.Context,
	id string,
	retryCount int,
	nextRetryAt time.Time,
	lastError string,
	now time.Time,
) error {
	query := `
		UPDATE retry_queue
		SET status = 'pending',
		    retry_count = $2,
		    next_retry_at = GREATEST(next_retry_at, $3),
		    last_error = $4,
		    updated_at = $5
		WHERE id = $1`
	if err := r.execExpectOneRow(ctx, query, id, retryCount, nextRetryAt, lastError, now); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("mark retry: %w", err)
	}
	return nil
}

// MarkFailed marks an item as terminally failed.
func (r *RetryQueueRepository) MarkFailed(
	ctx context.Context,
	id string,
	retryCount int,
	lastError string,
	now time.Time,
) error {
	query := `
		UPDATE retry_queue
		SET status = 'failed',
		    retry_count = $2,
		    last_error = $3,
		    updated_at = $4
		WHERE id = $1`
	if err := r.execExpectOneRow(ctx, query, id, retryCount, lastError, now); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// DeleteTerminalBefore removes completed and failed items last updated before cutoff.
func (r *RetryQueueRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM retry_queue
		WHERE status IN ('completed', 'failed')
		  AND updated_at < $1`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete terminal retry items: %w", err)
	}
	return result.RowsAffected()
}

// ResetStaleProcessing charges items stuck in processing since before cutoff
// with one attempt. Items that reach max_retries become failed, the rest pending.
func (r *RetryQueueRepository) ResetStaleProcessing(ctx context.Context, cutoff, now time.Time) (int64, error) {
	query := `
		UPDATE retry_queue
		SET retry_count = LEAST(retry_count + 1, max_retries),
		    status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
		    last_error = $3,
		    updated_at = $2
		WHERE status = 'processing'
		  AND last_attempt_at < $1`

	result, err := r.db.ExecContext(ctx, query, cutoff, now, domain.AbandonedInProcessing)
	if err != nil {
		return 0, fmt.Errorf("reset stale processing: %w", err)
	}
	return result.RowsAffected()
}

// Stats returns item counts per status and the number currently due.
func (r *RetryQueueRepository) Stats(ctx context.Context, now time.Time) (*domain.RetryQueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'processing') AS processing,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'pending' AND next_retry_at <= $1) AS due
		FROM retry_queue`

	var stats domain.RetryQueueStats
	if err := r.db.GetContext(ctx, &stats, query, now); err != nil {
		return nil, fmt.Errorf("get retry queue stats: %w", err)
	}
	return &stats, nil
}

// ListFailed returns terminally failed items, most recent first.
func (r *RetryQueueRepository) ListFailed(ctx context.Context, limit int) ([]domain.RetryQueueItem, error) {
	query := `SELECT ` + retryQueueSelectList + `
		FROM retry_queue
		WHERE status = 'failed'
		ORDER BY updated_at DESC
		LIMIT $1`

	items := make([]domain.RetryQueueItem, 0, limit)
	if err := r.db.SelectContext(ctx, &items, query, limit); err != nil {
		return nil, fmt.Errorf("list failed retry items: %w", err)
	}
	return items, nil
}
