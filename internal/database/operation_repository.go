package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/moonerfun/flywheel/internal/domain"
)

// OperationRepository writes business records and the operation log.
// Each business record and its pool aggregate update commit together.
type OperationRepository struct {
	db *sqlx.DB
}

// NewOperationRepository creates a new repository
func NewOperationRepository(db *sqlx.DB) *OperationRepository {
	return &OperationRepository{db: db}
}

// RecordFeeClaim stores a fee claim and adds it to the pool totals.
func (r *OperationRepository) RecordFeeClaim(ctx context.Context, claim *domain.FeeClaim) error {
	return r.inTx(ctx, "record fee claim", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fee_claims (id, pool_address, amount_sol, signature, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			claim.ID, claim.PoolAddress, claim.AmountSOL, claim.Signature, claim.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert fee claim: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE pools
			SET total_fees_claimed = total_fees_claimed + $2,
			    last_fee_claim_at = $3,
			    updated_at = $3
			WHERE address = $1`,
			claim.PoolAddress, claim.AmountSOL, claim.CreatedAt,
		); err != nil {
			return fmt.Errorf("update pool fee totals: %w", err)
		}
		return nil
	})
}

// RecordBuyback stores a buyback and adds it to the pool totals.
func (r *OperationRepository) RecordBuyback(ctx context.Context, buyback *domain.Buyback) error {
	return r.inTx(ctx, "record buyback", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO buybacks (id, pool_address, sol_spent, tokens_received, signature, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			buyback.ID, buyback.PoolAddress, buyback.SolSpent, buyback.TokensReceived,
			buyback.Signature, buyback.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert buyback: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE pools
			SET total_bought_back = total_bought_back + $2,
			    updated_at = $3
			WHERE address = $1`,
			buyback.PoolAddress, buyback.TokensReceived, buyback.CreatedAt,
		); err != nil {
			return fmt.Errorf("update pool buyback totals: %w", err)
		}
		return nil
	})
}

// RecordBurn stores a burn and, when it is tied to a pool, adds it to the pool totals.
func (r *OperationRepository) RecordBurn(ctx context.Context, burn *domain.Burn) error {
	return r.inTx(ctx, "record burn", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO burns (id, pool_address, tokens_burned, signature, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			burn.ID, burn.PoolAddress, burn.TokensBurned, burn.Signature, burn.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert burn: %w", err)
		}

		if burn.PoolAddress == nil {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE pools
			SET total_burned = total_burned + $2,
			    updated_at = $3
			WHERE address = $1`,
			*burn.PoolAddress, burn.TokensBurned, burn.CreatedAt,
		); err != nil {
			return fmt.Errorf("update pool burn totals: %w", err)
		}
		return nil
	})
}

// AppendLog writes an operation log entry.
func (r *OperationRepository) AppendLog(ctx context.Context, entry *domain.OperationLog) error {
	query := `
		INSERT INTO operation_logs (
			id, operation_type, pool_address, status, amount,
			signature, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.OperationType,
		entry.PoolAddress,
		entry.Status,
		entry.Amount,
		entry.Signature,
		entry.ErrorMessage,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append operation log: %w", err)
	}
	return nil
}

// RecentLogs returns the most recent operation log entries.
func (r *OperationRepository) RecentLogs(ctx context.Context, limit int) ([]domain.OperationLog, error) {
	query := `
		SELECT id, operation_type, pool_address, status, amount,
		       signature, error_message, created_at
		FROM operation_logs
		ORDER BY created_at DESC
		LIMIT $1`

	var logs []domain.OperationLog
	if err := r.db.SelectContext(ctx, &logs, query, limit); err != nil {
		return nil, fmt.Errorf("list operation logs: %w", err)
	}
	return logs, nil
}

func (r *OperationRepository) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}

	if fnErr := fn(tx); fnErr != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%s: %w", op, fnErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("%s: commit: %w", op, commitErr)
	}
	return nil
}
