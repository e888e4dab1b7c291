package database_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonerfun/flywheel/internal/database"
	"github.com/moonerfun/flywheel/internal/domain"
)

var retryColumns = []string{
	"id", "operation_type", "pool_address", "payload", "retry_count",
	"max_retries", "last_error", "last_attempt_at", "next_retry_at",
	"status", "created_at", "updated_at",
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	return sqlx.NewDb(mockDB, "postgres"), mock
}

func TestRetryQueueRepository_Insert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewRetryQueueRepository(db)

	now := time.Now()
	item, err := domain.NewRetryQueueItem("item-1",
		domain.NewEnqueueRequest("Pool1111", domain.BuybackPayload{SolAmount: 0.05}), now)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO retry_queue").
		WithArgs("item-1", domain.OperationBuyback, sqlmock.AnyArg(), sqlmock.AnyArg(),
			0, domain.DefaultMaxRetries, now, domain.RetryStatusPending, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), item))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryQueueRepository_InsertError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewRetryQueueRepository(db)

	item, err := domain.NewRetryQueueItem("item-1",
		domain.NewEnqueueRequest("", domain.FeeClaimPayload{}), time.Now())
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO retry_queue").WillReturnError(sql.ErrConnDone)

	insertErr := repo.Insert(context.Background(), item)
	require.Error(t, insertErr)
	assert.ErrorIs(t, insertErr, sql.ErrConnDone)
}

func TestRetryQueueRepository_FetchDue(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewRetryQueueRepository(db)

	now := time.Now()
	older := now.Add(-time.Hour)
	pool := "Pool1111"

	rows := sqlmock.NewRows(retryColumns).
		AddRow("a", "buyback", pool, []byte(`{"solAmount":0.05}`), 1, 5, "swap failed", older, older,
			"pending", older, older).
		AddRow("b", "fee_claim", nil, []byte(`{}`), 0, 5, nil, nil, now,
			"pending", now, now)

	mock.ExpectQuery(`FROM retry_queue\s+WHERE status = 'pending'\s+AND next_retry_at <= \$1\s+ORDER BY created_at ASC`).
		WithArgs(now, 10).
		WillReturnRows(rows)

	items, err := repo.FetchDue(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, domain.OperationBuyback, items[0].OperationType)
	assert.Equal(t, pool, items[0].PoolAddressOrEmpty())
	assert.InDelta(t, 0.05, items[0].Payload["solAmount"], 1e-12)
	require.NotNil(t, items[0].LastError)
	assert.Equal(t, "swap failed", *items[0].LastError)

	assert.Nil(t, items[1].PoolAddress)
	assert.Nil(t, items[1].LastAttemptAt)
	assert.Empty(t, items[1].Payload)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryQueueRepository_MarkProcessing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewRetryQueueRepository(db)
	ctx := context.Background()
	now := time.Now()

	testCases := []struct {
		name      string
		setupMock func()
		wantErr   error
	}{
		{
			name: "claims pending item",
			setupMock: func() {
				mock.ExpectExec(`UPDATE retry_queue\s+SET status = 'processing'`).
					WithArgs("item-1", now).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "item no longer pending",
			setupMock: func() {
				mock.ExpectExec(`UPDATE retry_queue\s+SET status = 'processing'`).
					WithArgs("item-1", now).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: domain.ErrNotFound,
		},
		{
			name: "database error",
			setupMock: func() {
				mock.ExpectExec(`UPDATE retry_queue\s+SET status = 'processing'`).
					WithArgs("item-1", now).
					WillReturnError(sql.ErrConnDone)
			},
			wantErr: sql.ErrConnDone,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMock()

			err := repo.MarkProcessing(ctx, "item-1", now)
			if tc.wantErr != nil {
				assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRetryQueueRepository_Transitions(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewRetryQueueRepository(db)
	ctx := context.Background()
	now := time.Now()
	next := now.Add(2 * time.Minute)

	mock.ExpectExec(`SET status = 'completed'`).
		WithArgs("item-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'pending',\s+retry_count = \$2,\s+next_retry_at = GREATEST\(next_retry_at, \$3\)`).
		WithArgs("item-2", 1, next, "swap failed", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'failed'`).
		WithArgs("item-3", 5, "swap failed", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkCompleted(ctx, "item-1", now))
	require.NoError(t, repo.MarkRetry(ctx, "item-2", 1, next, "swap failed", now))
	require.NoError(t, repo.MarkFailed(ctx, "item-3", 5, "swap failed", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryQueueRepository_DeleteTerminalBefore(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewRetryQueueRepository(db)
	cutoff := time.Now().AddDate(0, 0, -7)

	mock.ExpectExec(`DELETE FROM retry_queue\s+WHERE status IN \('completed', 'failed'\)\s+AND updated_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	deleted, err := repo.DeleteTerminalBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryQueueRepository_ResetStaleProcessing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewRetryQueueRepository(db)
	now := time.Now()
	cutoff := now.Add(-15 * time.Minute)

	mock.ExpectExec(`SET retry_count = LEAST\(retry_count \+ 1, max_retries\),\s+status = CASE WHEN retry_count \+ 1 >= max_retries THEN 'failed' ELSE 'pending' END,\s+last_error = \$3,\s+updated_at = \$2\s+WHERE status = 'processing'`).
		WithArgs(cutoff, now, domain.AbandonedInProcessing).
		WillReturnResult(sqlmock.NewResult(0, 2))

	reset, err := repo.ResetStaleProcessing(context.Background(), cutoff, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reset)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryQueueRepository_Stats(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewRetryQueueRepository(db)
	now := time.Now()

	mock.ExpectQuery(`COUNT\(\*\) FILTER`).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"pending", "processing", "completed", "failed", "due"}).
			AddRow(3, 1, 10, 2, 2))

	stats, err := repo.Stats(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, domain.RetryQueueStats{Pending: 3, Processing: 1, Completed: 10, Failed: 2, Due: 2}, *stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryQueueRepository_GetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewRetryQueueRepository(db)

	mock.ExpectQuery("FROM retry_queue").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(retryColumns))

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
