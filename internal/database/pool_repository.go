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

const poolSelectList = `address, token_mint, quote_mint, pool_type, creator, status,
			is_migrated, market_cap, total_fees_claimed, total_bought_back,
			total_burned, last_fee_claim_at, created_at, updated_at`

// PoolRepository manages the pools table.
type PoolRepository struct {
	db *sqlx.DB
}

// NewPoolRepository creates a new repository
func NewPoolRepository(db *sqlx.DB) *PoolRepository {
	return &PoolRepository{db: db}
}

// GetByAddress resolves a pool by its on-chain address.
func (r *PoolRepository) GetByAddress(ctx context.Context, address string) (*domain.Pool, error) {
	query := `SELECT ` + poolSelectList + `
		FROM pools
		WHERE address = $1`

	var pool domain.Pool
	err := r.db.GetContext(ctx, &pool, query, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pool: %w", err)
	}
	return &pool, nil
}

// ListFeeTargets returns active and migrated pools.
func (r *PoolRepository) ListFeeTargets(ctx context.Context) ([]domain.Pool, error) {
	query := `SELECT ` + poolSelectList + `
		FROM pools
		WHERE status IN ('active', 'migrated')
		ORDER BY created_at ASC`

	var pools []domain.Pool
	if err := r.db.SelectContext(ctx, &pools, query); err != nil {
		return nil, fmt.Errorf("list fee targets: %w", err)
	}
	return pools, nil
}

// ListBuybackEligible returns migrated pools that are not inactive, largest market cap first.
func (r *PoolRepository) ListBuybackEligible(ctx context.Context) ([]domain.Pool, error) {
	query := `SELECT ` + poolSelectList + `
		FROM pools
		WHERE is_migrated = TRUE
		  AND status <> 'inactive'
		ORDER BY market_cap DESC, created_at ASC`

	var pools []domain.Pool
	if err := r.db.SelectContext(ctx, &pools, query); err != nil {
		return nil, fmt.Errorf("list buyback eligible pools: %w", err)
	}
	return pools, nil
}

// ListAddresses returns the address of every known pool.
func (r *PoolRepository) ListAddresses(ctx context.Context) ([]string, error) {
	var addresses []string
	if err := r.db.SelectContext(ctx, &addresses, `SELECT address FROM pools`); err != nil {
		return nil, fmt.Errorf("list pool addresses: %w", err)
	}
	return addresses, nil
}

// Register inserts a pool unless its address is already known.
// Reports whether a new row was created.
func (r *PoolRepository) Register(ctx context.Context, pool *domain.Pool) (bool, error) {
	query := `
		INSERT INTO pools (
			address, token_mint, quote_mint, pool_type, creator,
			status, is_migrated, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (address) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		pool.Address,
		pool.TokenMint,
		pool.QuoteMint,
		pool.PoolType,
		pool.Creator,
		pool.Status,
		pool.IsMigrated,
		pool.CreatedAt,
		pool.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("register pool: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get affected rows: %w", err)
	}
	return rows > 0, nil
}

// UpdateMarketCap stores the latest market cap for a pool.
func (r *PoolRepository) UpdateMarketCap(ctx context.Context, address string, marketCap float64, now time.Time) error {
	query := `
		UPDATE pools
		SET market_cap = $2, updated_at = $3
		WHERE address = $1`

	result, err := r.db.ExecContext(ctx, query, address, marketCap, now)
	if err != nil {
		return fmt.Errorf("update market cap: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get affected rows: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkMigrated flags a pool as migrated. Reports whether the flag changed.
func (r *PoolRepository) MarkMigrated(ctx context.Context, address string, now time.Time) (bool, error) {
	query := `
		UPDATE pools
		SET is_migrated = TRUE,
		    status = CASE WHEN status = 'active' THEN 'migrated' ELSE status END,
		    updated_at = $2
		WHERE address = $1 AND is_migrated = FALSE`

	result, err := r.db.ExecContext(ctx, query, address, now)
	if err != nil {
		return false, fmt.Errorf("mark pool migrated: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get affected rows: %w", err)
	}
	return rows > 0, nil
}
