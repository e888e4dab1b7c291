package database_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonerfun/flywheel/internal/database"
	"github.com/moonerfun/flywheel/internal/domain"
)

func TestOperationRepository_RecordFeeClaim(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewOperationRepository(db)
	now := time.Now()

	claim := &domain.FeeClaim{ID: "c1", PoolAddress: "Pool1111", AmountSOL: 0.4, Signature: "sig", CreatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fee_claims").
		WithArgs("c1", "Pool1111", 0.4, "sig", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE pools\s+SET total_fees_claimed = total_fees_claimed \+ \$2`).
		WithArgs("Pool1111", 0.4, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.RecordFeeClaim(context.Background(), claim))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOperationRepository_RecordBuybackRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewOperationRepository(db)

	buyback := &domain.Buyback{ID: "b1", PoolAddress: "Pool1111", SolSpent: 0.05, TokensReceived: 900, CreatedAt: time.Now()}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO buybacks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE pools").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.RecordBuyback(context.Background(), buyback)
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOperationRepository_RecordBurnWithoutPool(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewOperationRepository(db)

	burn := &domain.Burn{ID: "x1", TokensBurned: 500, Signature: "sig", CreatedAt: time.Now()}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO burns").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.RecordBurn(context.Background(), burn))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOperationRepository_AppendLog(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewOperationRepository(db)
	now := time.Now()
	msg := "swap failed"

	entry := &domain.OperationLog{
		ID:            "l1",
		OperationType: domain.OperationBuyback,
		Status:        domain.OperationStatusFailed,
		ErrorMessage:  &msg,
		CreatedAt:     now,
	}

	mock.ExpectExec("INSERT INTO operation_logs").
		WithArgs("l1", domain.OperationBuyback, sqlmock.AnyArg(), domain.OperationStatusFailed,
			0.0, sqlmock.AnyArg(), sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.AppendLog(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}
