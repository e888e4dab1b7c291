package domain

import "time"

// PoolStatus is the lifecycle state of a tracked pool.
type PoolStatus string

const (
	PoolStatusActive   PoolStatus = "active"
	PoolStatusMigrated PoolStatus = "migrated"
	PoolStatusInactive PoolStatus = "inactive"
)

// Pool is an on-chain liquidity venue tracked by the flywheel.
type Pool struct {
	Address          string     `db:"address"            json:"address"`
	TokenMint        string     `db:"token_mint"         json:"token_mint"`
	QuoteMint        string     `db:"quote_mint"         json:"quote_mint"`
	PoolType         string     `db:"pool_type"          json:"pool_type"`
	Creator          *string    `db:"creator"            json:"creator,omitempty"`
	Status           PoolStatus `db:"status"             json:"status"`
	IsMigrated       bool       `db:"is_migrated"        json:"is_migrated"`
	MarketCap        float64    `db:"market_cap"         json:"market_cap"`
	TotalFeesClaimed float64    `db:"total_fees_claimed" json:"total_fees_claimed"`
	TotalBoughtBack  float64    `db:"total_bought_back"  json:"total_bought_back"`
	TotalBurned      float64    `db:"total_burned"       json:"total_burned"`
	LastFeeClaimAt   *time.Time `db:"last_fee_claim_at"  json:"last_fee_claim_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at"         json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"         json:"updated_at"`
}

// CollectsFees reports whether the pool is a fee collection target.
func (p *Pool) CollectsFees() bool {
	return p.Status == PoolStatusActive || p.Status == PoolStatusMigrated
}

// BuybackEligible reports whether the pool can receive a buyback allocation.
// Only migrated pools trade on a standard venue the swap executor can route.
func (p *Pool) BuybackEligible() bool {
	return p.IsMigrated && p.Status != PoolStatusInactive
}

// PoolFromRegistration builds a new pool record from a discovery payload.
func PoolFromRegistration(reg RegisterPayload, now time.Time) *Pool {
	status := PoolStatusActive
	if reg.IsMigrated {
		status = PoolStatusMigrated
	}

	pool := &Pool{
		Address:    reg.PoolAddress,
		TokenMint:  reg.BaseMint,
		QuoteMint:  reg.QuoteMint,
		PoolType:   reg.PoolType,
		Status:     status,
		IsMigrated: reg.IsMigrated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if reg.Creator != "" {
		creator := reg.Creator
		pool.Creator = &creator
	}
	return pool
}
