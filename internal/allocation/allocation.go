// Package allocation splits a buyback budget across pools by market cap.
package allocation

import (
	"sort"

	"github.com/moonerfun/flywheel/internal/domain"
)

// Allocation is the SOL assigned to one pool.
type Allocation struct {
	Pool      domain.Pool
	SolAmount float64
	Weight    float64
}

// ByMarketCap assigns total across the maxPools largest pools in proportion
// to market cap. When no pool has a positive market cap the budget is split
// evenly. A non-positive maxPools means no limit.
func ByMarketCap(total float64, pools []domain.Pool, maxPools int) []Allocation {
	if total <= 0 || len(pools) == 0 {
		return nil
	}

	ranked := make([]domain.Pool, len(pools))
	copy(ranked, pools)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].MarketCap > ranked[j].MarketCap
	})
	if maxPools > 0 && len(ranked) > maxPools {
		ranked = ranked[:maxPools]
	}

	var capSum float64
	for i := range ranked {
		if ranked[i].MarketCap > 0 {
			capSum += ranked[i].MarketCap
		}
	}

	out := make([]Allocation, 0, len(ranked))
	if capSum <= 0 {
		weight := 1 / float64(len(ranked))
		for i := range ranked {
			out = append(out, Allocation{Pool: ranked[i], SolAmount: total * weight, Weight: weight})
		}
		return out
	}

	for i := range ranked {
		if ranked[i].MarketCap <= 0 {
			continue
		}
		weight := ranked[i].MarketCap / capSum
		out = append(out, Allocation{Pool: ranked[i], SolAmount: total * weight, Weight: weight})
	}
	return out
}
