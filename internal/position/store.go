// ==================================
// File: internal/position/store.go
// ==================================
package position

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/spl-seller/internal/birdeye"
)

// BalanceLister supplies the authoritative on-chain balances for all watched
// wallets, already filtered for dust and ignored mints.
type BalanceLister interface {
	ListBalances(ctx context.Context) ([]Balance, error)
}

// Rebuilder rebuilds a position from scratch for a balance. initialStop
// carries the stop floor of the position being replaced, zero for new ones.
type Rebuilder interface {
	Rebuild(ctx context.Context, bal Balance, initialStop float64) (*Position, error)
}

// Store is the in-memory position ledger, keyed by token-account address.
// It is the single writer: all mutation happens through Reconcile and
// ApplyQuote, driven by one poll loop.
type Store struct {
	positions   map[string]*Position
	exclusions  map[string]struct{}
	lister      BalanceLister
	rebuilder   Rebuilder
	settleDelay time.Duration
	logger      *zap.Logger
}

func NewStore(lister BalanceLister, rebuilder Rebuilder, settleDelay time.Duration, logger *zap.Logger) *Store {
	return &Store{
		positions:   make(map[string]*Position),
		exclusions:  make(map[string]struct{}),
		lister:      lister,
		rebuilder:   rebuilder,
		settleDelay: settleDelay,
		logger:      logger.Named("store"),
	}
}

// Reconcile aligns the ledger with current on-chain balances. Dirty addresses
// (new, or with a changed raw amount) are re-checked after a settle delay to
// debounce in-flight balance movement, then rebuilt from scratch.
func (s *Store) Reconcile(ctx context.Context) error {
	current, err := s.lister.ListBalances(ctx)
	if err != nil {
		return err
	}

	dirty := s.diff(current)
	if len(dirty) > 0 && s.settleDelay > 0 {
		s.logger.Info("Dirty balances found, waiting for settlement",
			zap.Int("dirty", len(dirty)),
			zap.Duration("settle_delay", s.settleDelay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.settleDelay):
		}

		current, err = s.lister.ListBalances(ctx)
		if err != nil {
			return err
		}
		dirty = s.diff(current)
	}

	// Drop positions whose account vanished (fully exited or moved).
	present := make(map[string]struct{}, len(current))
	for _, bal := range current {
		present[bal.Address] = struct{}{}
	}
	for address, p := range s.positions {
		if _, ok := present[address]; !ok {
			s.logger.Info("Position gone from chain, dropping", p.ShortFields()...)
			delete(s.positions, address)
		}
	}

	// Drop dirty positions so they are rebuilt whole, carrying the stop
	// floor forward so a rebuild can never loosen an established stop.
	stopFloors := make(map[string]float64, len(dirty))
	for _, bal := range dirty {
		if prev, ok := s.positions[bal.Address]; ok {
			stopFloors[bal.Address] = prev.StopPriceUSD
			delete(s.positions, bal.Address)
		}
	}

	if len(dirty) > 0 {
		s.logger.Info("Rebuilding positions", zap.Int("count", len(dirty)))
	}
	for _, bal := range dirty {
		if _, excluded := s.exclusions[bal.Mint]; excluded {
			continue
		}
		s.rebuild(ctx, bal, stopFloors[bal.Address])
	}

	return nil
}

func (s *Store) rebuild(ctx context.Context, bal Balance, initialStop float64) {
	p, err := s.rebuilder.Rebuild(ctx, bal, initialStop)
	switch {
	case errors.Is(err, ErrNoCostBasis):
		// Retrying this mint every cycle would only burn API calls.
		s.exclusions[bal.Mint] = struct{}{}
		s.logger.Warn("Position discarded, mint excluded",
			zap.String("wallet", bal.Owner),
			zap.String("mint", bal.Mint),
			zap.Error(err))
	case errors.Is(err, ErrDataQuality):
		s.logger.Warn("Position discarded",
			zap.String("wallet", bal.Owner),
			zap.String("mint", bal.Mint),
			zap.Error(err))
	case err != nil:
		// Transport trouble: nothing found this cycle, try again next one.
		s.logger.Warn("Position rebuild failed, will retry",
			zap.String("wallet", bal.Owner),
			zap.String("mint", bal.Mint),
			zap.Error(err))
	default:
		s.positions[p.Address] = p
		s.logger.Info("Position added", p.LogFields()...)
	}
}

// diff returns the balances that differ from the ledger.
func (s *Store) diff(current []Balance) []Balance {
	var dirty []Balance
	for _, bal := range current {
		existing, ok := s.positions[bal.Address]
		if !ok || existing.CurrentAmountRaw != bal.AmountRaw {
			dirty = append(dirty, bal)
		}
	}
	return dirty
}

// Positions returns a stable snapshot of the ledger.
func (s *Store) Positions() []*Position {
	out := make([]*Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Len returns the number of open positions.
func (s *Store) Len() int {
	return len(s.positions)
}

// ApplyQuote updates a position's quote-derived fields as one atomic record
// update. Positions without a tier get the price but no trigger distance.
func (s *Store) ApplyQuote(address string, quote birdeye.Quote, now time.Time) {
	p, ok := s.positions[address]
	if !ok {
		return
	}
	if quote.PriceUSD == 0 || quote.PriceSOL == 0 {
		return
	}

	p.PriceUSD = quote.PriceUSD
	p.PriceSOL = quote.PriceSOL
	p.PriceTime = now
	p.CurrentValueSOL = quote.PriceSOL * p.CurrentAmount
	p.HoldHours = int(now.Sub(p.BuyTime).Hours())

	if p.Tier == nil {
		s.logger.Info("No exit tier on position, skipping distance",
			zap.String("mint", p.Mint))
		return
	}

	awayFromProfit := p.ProfitPriceUSD/p.PriceUSD - 1.0
	awayFromStop := 1.0 - p.StopPriceUSD/p.PriceUSD
	p.DistanceToTrigger = round4(min64(awayFromProfit, awayFromStop))
	p.DistanceValid = true
}

// DueForReport returns positions whose periodic audit log line is due and
// stamps them reported. New positions get the full dump; afterwards every
// minute, with the full dump again during the first five minutes of each
// hour.
func (s *Store) DueForReport(now time.Time) (full, short []*Position) {
	for _, p := range s.Positions() {
		if p.LastReportTime.IsZero() {
			p.LastReportTime = now
			full = append(full, p)
			continue
		}
		if now.Sub(p.LastReportTime) > time.Minute {
			p.LastReportTime = now
			if now.Minute() < 5 {
				full = append(full, p)
			} else {
				short = append(short, p)
			}
		}
	}
	return full, short
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
