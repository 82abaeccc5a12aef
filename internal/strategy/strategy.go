// ==================================
// File: internal/strategy/strategy.go
// ==================================
package strategy

import (
	"fmt"
	"math"
	"sort"
)

// Tier maps one band of the remaining-position fraction to its exit rules.
// A remaining fraction r matches when RemainingGT < r <= RemainingLTE.
type Tier struct {
	RemainingGT        float64
	RemainingLTE       float64
	StopPct            float64 // relative change applied to the buy price
	ProfitPct          float64
	ProfitTakeFraction float64 // fraction of the original buy to sell at profit
}

// Table is an ordered set of tiers partitioning (0,1].
type Table []Tier

// Match returns the first tier whose band contains remaining.
// The upper bound is inclusive, the lower exclusive.
func (t Table) Match(remaining float64) (Tier, bool) {
	for _, tier := range t {
		if remaining > tier.RemainingGT && remaining <= tier.RemainingLTE {
			return tier, true
		}
	}
	return Tier{}, false
}

// Validate checks that the tiers partition (0,1] with no gaps or overlaps.
func (t Table) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("empty tier table")
	}
	sorted := make(Table, len(t))
	copy(sorted, t)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RemainingGT < sorted[j].RemainingGT })

	for _, tier := range sorted {
		if tier.RemainingGT >= tier.RemainingLTE {
			return fmt.Errorf("tier band inverted: gt=%v lte=%v", tier.RemainingGT, tier.RemainingLTE)
		}
	}
	if sorted[0].RemainingGT != 0 {
		return fmt.Errorf("tiers do not cover (0,%v]", sorted[0].RemainingGT)
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i].RemainingGT != sorted[i-1].RemainingLTE {
			return fmt.Errorf("gap or overlap at %v", sorted[i].RemainingGT)
		}
	}
	if sorted[len(sorted)-1].RemainingLTE != 1.0 {
		return fmt.Errorf("tiers do not reach 1.0")
	}
	return nil
}

// ComputeStop derives the stop price from the buy price and the tier's stop
// offset. The stop never drops below initialStop, so a position that climbed
// into a tighter tier keeps its floor after a rebuild.
func ComputeStop(initialStop, buyPriceUSD, stopPct float64) float64 {
	return math.Max(initialStop, (1+stopPct)*buyPriceUSD)
}

// ComputeProfit derives the profit target price from the buy price.
func ComputeProfit(buyPriceUSD, profitPct float64) float64 {
	return (1 + profitPct) * buyPriceUSD
}

// ProfitTakeAmount computes how many raw units to sell when the profit target
// hits. The original buy size is recovered from the current amount and the
// remaining fraction; the -1 guards against rounding past the balance.
func ProfitTakeAmount(currentRaw uint64, remaining, fraction float64) uint64 {
	if remaining <= 0 {
		return 0
	}
	originalBuyRaw := uint64(float64(currentRaw) / remaining)
	take := int64(float64(originalBuyRaw)*fraction) - 1
	if take < 0 {
		return 0
	}
	if uint64(take) > currentRaw {
		return currentRaw
	}
	return uint64(take)
}

// DefaultTables returns the built-in per-wallet strategy presets, keyed by the
// index configured for each wallet.
func DefaultTables() map[int]Table {
	return map[int]Table{
		1: {
			{RemainingGT: 0.51, RemainingLTE: 1.0, StopPct: -0.3, ProfitPct: 0.5, ProfitTakeFraction: 0.5},
			{RemainingGT: 0.35, RemainingLTE: 0.51, StopPct: 0.0, ProfitPct: 1.0, ProfitTakeFraction: 0.25},
			{RemainingGT: 0.0, RemainingLTE: 0.35, StopPct: 0.5, ProfitPct: 2.0, ProfitTakeFraction: 0.25},
		},
		2: {
			{RemainingGT: 0.51, RemainingLTE: 1.0, StopPct: -0.5, ProfitPct: 0.5, ProfitTakeFraction: 0.5},
			{RemainingGT: 0.35, RemainingLTE: 0.51, StopPct: 0.0, ProfitPct: 1.0, ProfitTakeFraction: 0.25},
			{RemainingGT: 0.0, RemainingLTE: 0.35, StopPct: 0.5, ProfitPct: 2.0, ProfitTakeFraction: 0.25},
		},
	}
}

// TableForIndex resolves a configured strategy index, validating the table.
func TableForIndex(idx int) (Table, error) {
	table, ok := DefaultTables()[idx]
	if !ok {
		return nil, fmt.Errorf("unknown exit strategy index %d", idx)
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("exit strategy %d: %w", idx, err)
	}
	return table, nil
}
