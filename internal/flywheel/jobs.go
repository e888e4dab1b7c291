package flywheel

import (
	"context"
	"fmt"

	"github.com/moonerfun/flywheel/internal/allocation"
	"github.com/moonerfun/flywheel/internal/domain"
	"github.com/moonerfun/flywheel/internal/logger"
)

// CollectFees claims fees from every active or migrated pool. Failed claims
// are queued for retry.
func (f *Flywheel) CollectFees(ctx context.Context) error {
	pools, err := f.pools.ListFeeTargets(ctx)
	if err != nil {
		return fmt.Errorf("list fee targets: %w", err)
	}

	var claimed float64
	var failed int
	for i := range pools {
		pool := &pools[i]
		result := f.ops.CollectFees(ctx, pool)
		if !result.Success {
			failed++
			f.queue.Enqueue(ctx, domain.NewEnqueueRequest(pool.Address, domain.FeeClaimPayload{}))
			continue
		}
		claimed += result.AmountSOL
	}

	f.logger.Info("fee collection complete",
		logger.Int("pools", len(pools)),
		logger.Int("failed", failed),
		logger.Float64("claimed_sol", claimed),
	)
	return nil
}

// Buyback splits spendable SOL across eligible pools by market cap, buys
// each pool's token and optionally burns what was received.
func (f *Flywheel) Buyback(ctx context.Context) error {
	spendable, err := f.ops.SpendableSOL(ctx)
	if err != nil {
		return fmt.Errorf("read spendable sol: %w", err)
	}
	if spendable < f.cfg.MinBuybackSOL {
		f.logger.Info("spendable sol below buyback minimum",
			logger.Float64("spendable_sol", spendable),
			logger.Float64("min_buyback_sol", f.cfg.MinBuybackSOL),
		)
		return nil
	}

	pools, err := f.pools.ListBuybackEligible(ctx)
	if err != nil {
		return fmt.Errorf("list buyback pools: %w", err)
	}

	allocs := allocation.ByMarketCap(spendable, pools, f.cfg.MaxPoolsPerBuyback)
	if len(allocs) == 0 {
		f.logger.Info("no pools eligible for buyback")
		return nil
	}

	var spent, burned float64
	var failed int
	for i := range allocs {
		pool := &allocs[i].Pool
		amount := allocs[i].SolAmount

		result := f.ops.Buyback(ctx, pool, amount)
		if !result.Success {
			failed++
			f.queue.Enqueue(ctx, domain.NewEnqueueRequest(pool.Address, domain.BuybackPayload{SolAmount: amount}))
			continue
		}
		spent += result.SolSpent

		if !f.cfg.BurnAfterBuyback || result.TokensReceived <= 0 {
			continue
		}
		burn := f.ops.Burn(ctx, pool, result.TokensReceived)
		if !burn.Success {
			failed++
			f.queue.Enqueue(ctx, domain.NewEnqueueRequest(pool.Address, domain.BurnPayload{TokenAmount: result.TokensReceived}))
			continue
		}
		burned += burn.TokensBurned
	}

	f.logger.Info("buyback complete",
		logger.Int("pools", len(allocs)),
		logger.Int("failed", failed),
		logger.Float64("sol_spent", spent),
		logger.Float64("tokens_burned", burned),
	)
	return nil
}

// RefreshMarketCaps stores the latest market cap of every tracked pool.
func (f *Flywheel) RefreshMarketCaps(ctx context.Context) error {
	pools, err := f.pools.ListFeeTargets(ctx)
	if err != nil {
		return fmt.Errorf("list pools: %w", err)
	}
	if len(pools) == 0 {
		return nil
	}

	mints := make([]string, 0, len(pools))
	for i := range pools {
		mints = append(mints, pools[i].TokenMint)
	}

	caps, err := f.markets.MarketCaps(ctx, mints)
	if err != nil {
		return fmt.Errorf("fetch market caps: %w", err)
	}

	now := f.now()
	var updated int
	for i := range pools {
		marketCap, ok := caps[pools[i].TokenMint]
		if !ok {
			continue
		}
		if updateErr := f.pools.UpdateMarketCap(ctx, pools[i].Address, marketCap, now); updateErr != nil {
			f.logger.Warn("failed to update market cap",
				logger.String("pool_address", pools[i].Address),
				logger.Error(updateErr),
			)
			continue
		}
		updated++
	}

	f.logger.Info("market caps refreshed",
		logger.Int("pools", len(pools)),
		logger.Int("updated", updated),
	)
	return nil
}

// DiscoverPools registers platform pools not yet tracked and flags tracked
// pools that have migrated.
func (f *Flywheel) DiscoverPools(ctx context.Context) error {
	known, err := f.pools.ListAddresses(ctx)
	if err != nil {
		return fmt.Errorf("list known pools: %w", err)
	}
	knownSet := make(map[string]struct{}, len(known))
	for _, addr := range known {
		knownSet[addr] = struct{}{}
	}

	platformPools, err := f.source.PlatformPools(ctx)
	if err != nil {
		return fmt.Errorf("list platform pools: %w", err)
	}

	now := f.now()
	var registered, migrated, failed int
	for _, p := range platformPools {
		if _, ok := knownSet[p.PoolAddress]; ok {
			if !p.IsMigrated {
				continue
			}
			changed, markErr := f.pools.MarkMigrated(ctx, p.PoolAddress, now)
			if markErr != nil {
				f.logger.Warn("failed to mark pool migrated",
					logger.String("pool_address", p.PoolAddress),
					logger.Error(markErr),
				)
			} else if changed {
				migrated++
			}
			continue
		}

		reg := domain.RegisterPayload{
			PoolAddress: p.PoolAddress,
			BaseMint:    p.BaseMint,
			QuoteMint:   p.QuoteMint,
			PoolType:    p.PoolType,
			Creator:     p.Creator,
			IsMigrated:  p.IsMigrated,
		}
		result := f.ops.Register(ctx, reg)
		if !result.Success {
			failed++
			f.queue.Enqueue(ctx, domain.NewEnqueueRequest(p.PoolAddress, reg))
			continue
		}
		knownSet[p.PoolAddress] = struct{}{}
		registered++
	}

	f.logger.Info("pool discovery complete",
		logger.Int("platform_pools", len(platformPools)),
		logger.Int("registered", registered),
		logger.Int("migrated", migrated),
		logger.Int("failed", failed),
	)
	return nil
}

// ProcessRetries recovers stale items, drains due retries and removes old
// terminal items.
func (f *Flywheel) ProcessRetries(ctx context.Context) error {
	recovered := f.queue.RecoverStale(ctx, f.cfg.StaleProcessingAfter)
	result := f.queue.Drain(ctx)
	cleaned := f.queue.Cleanup(ctx, f.cfg.CleanupAfterDays)

	f.logger.Info("retry processing complete",
		logger.Int64("recovered", recovered),
		logger.Int("processed", result.Processed),
		logger.Int("succeeded", result.Succeeded),
		logger.Int("failed", result.Failed),
		logger.Int("fallbacks_recovered", result.FallbacksRecovered),
		logger.Int64("cleaned", cleaned),
	)
	return ctx.Err()
}
