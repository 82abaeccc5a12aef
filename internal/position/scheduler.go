// ==================================
// File: internal/position/scheduler.go
// ==================================
package position

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/spl-seller/internal/birdeye"
)

const (
	highLiquidityFloor = 100000
	lowLiquidityFloor  = 40000
)

// refreshLadder maps quote staleness to the trigger distance that warrants a
// refresh: the closer a position sits to a decision boundary, the more often
// it is re-quoted. The final rung refreshes at any distance.
var refreshLadder = []struct {
	elapsed     time.Duration
	maxDistance float64
}{
	{10 * time.Second, 0.2},
	{30 * time.Second, 0.3},
	{60 * time.Second, 0.4},
	{180 * time.Second, 0.5},
	{300 * time.Second, 2.0},
}

// BatchQuoter fetches current prices for a batch of mints above a liquidity
// floor.
type BatchQuoter interface {
	Quotes(ctx context.Context, mints []string, liquidity int) (map[string]birdeye.Quote, error)
}

// Scheduler decides which positions need a fresh quote each cycle and applies
// the fetched quotes to the store.
type Scheduler struct {
	quoter BatchQuoter
	logger *zap.Logger
}

func NewScheduler(quoter BatchQuoter, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		quoter: quoter,
		logger: logger.Named("scheduler"),
	}
}

// SelectForRefresh returns the deduplicated mints whose positions are due for
// a quote. Positions missing price, timestamp or distance always refresh.
func (s *Scheduler) SelectForRefresh(positions []*Position, now time.Time) []string {
	seen := make(map[string]struct{})
	var mints []string

	add := func(mint string) {
		if _, dup := seen[mint]; dup {
			return
		}
		seen[mint] = struct{}{}
		mints = append(mints, mint)
	}

	for _, p := range positions {
		if !p.HasQuote() || p.PriceSOL == 0 || !p.DistanceValid {
			add(p.Mint)
			continue
		}

		elapsed := now.Sub(p.PriceTime)
		for _, rung := range refreshLadder {
			if elapsed > rung.elapsed && p.DistanceToTrigger <= rung.maxDistance {
				add(p.Mint)
				break
			}
		}
	}

	return mints
}

// Refresh quotes the due positions in one batch, falling back to a relaxed
// liquidity floor for mints the first call does not price. A failed batch
// leaves stale prices in place.
func (s *Scheduler) Refresh(ctx context.Context, store *Store, now time.Time) {
	positions := store.Positions()
	mints := s.SelectForRefresh(positions, now)
	if len(mints) == 0 {
		return
	}
	s.logger.Info("Quotes to get", zap.Strings("mints", mints))

	quotes, err := s.quoter.Quotes(ctx, mints, highLiquidityFloor)
	if err != nil {
		s.logger.Warn("Quote batch failed, keeping stale prices", zap.Error(err))
		return
	}

	if len(quotes) < len(mints) {
		var missing []string
		for _, mint := range mints {
			if _, ok := quotes[mint]; !ok {
				missing = append(missing, mint)
			}
		}
		relaxed, err := s.quoter.Quotes(ctx, missing, lowLiquidityFloor)
		if err != nil {
			s.logger.Warn("Relaxed quote batch failed", zap.Error(err))
		} else {
			for mint, quote := range relaxed {
				quotes[mint] = quote
			}
		}
	}

	selected := make(map[string]struct{}, len(mints))
	for _, mint := range mints {
		selected[mint] = struct{}{}
	}

	for _, p := range positions {
		if _, ok := selected[p.Mint]; !ok {
			continue
		}
		quote, ok := quotes[p.Mint]
		if !ok {
			s.logger.Info("Quote missing for mint, keeping stale price",
				zap.String("mint", p.Mint),
				zap.String("symbol", p.Symbol))
			continue
		}
		store.ApplyQuote(p.Address, quote, now)
	}
}
