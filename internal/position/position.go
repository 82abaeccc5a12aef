// ==================================
// File: internal/position/position.go
// ==================================
package position

import (
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/spl-seller/internal/strategy"
)

// Balance is one authoritative on-chain token-account balance.
type Balance struct {
	Owner     string // wallet public key
	Mint      string
	Address   string // token account
	AmountRaw uint64
}

// Position is one open holding of a token in a wallet. The Store owns every
// Position; other components read it or apply one well-defined mutation
// (quote refresh) through the Store.
type Position struct {
	Owner    string
	Mint     string
	Address  string
	Symbol   string
	Name     string
	Decimals uint8

	CurrentAmountRaw uint64
	CurrentAmount    float64

	// Cost basis, immutable once established.
	BuyTime     time.Time
	BuyAmount   float64
	BuyTotalSOL float64
	BuyTotalUSD float64
	BuyPriceSOL float64
	BuyPriceUSD float64

	// Partial sells observed during reconstruction.
	SellCount       int
	SellAmount      float64
	SellProceedsSOL float64

	SellPercent          float64
	SellPercentRemaining float64

	// Exit thresholds, frozen when the tier is first matched.
	Tier           *strategy.Tier
	StopPriceUSD   float64
	ProfitPriceUSD float64
	ProfitTakeRaw  uint64

	// Current quote.
	PriceUSD        float64
	PriceSOL        float64
	PriceTime       time.Time
	CurrentValueSOL float64
	HoldHours       int

	// Relative distance to the nearest decision boundary; valid only
	// after a quote has been applied to a tiered position.
	DistanceToTrigger float64
	DistanceValid     bool

	LastReportTime time.Time
}

// HasQuote reports whether a usable current price is attached.
func (p *Position) HasQuote() bool {
	return p.PriceUSD > 0 && !p.PriceTime.IsZero()
}

// LogFields returns the full audit view of the position.
func (p *Position) LogFields() []zap.Field {
	fields := []zap.Field{
		zap.String("wallet", p.Owner),
		zap.String("mint", p.Mint),
		zap.String("address", p.Address),
		zap.String("symbol", p.Symbol),
		zap.Uint64("current_amount_raw", p.CurrentAmountRaw),
		zap.Float64("current_amount", p.CurrentAmount),
		zap.Time("buy_time", p.BuyTime),
		zap.Float64("buy_amount", p.BuyAmount),
		zap.Float64("buy_total_sol", p.BuyTotalSOL),
		zap.Float64("buy_total_usd", p.BuyTotalUSD),
		zap.Float64("buy_price_usd", p.BuyPriceUSD),
		zap.Int("sell_count", p.SellCount),
		zap.Float64("sell_amount", p.SellAmount),
		zap.Float64("sell_proceeds_sol", p.SellProceedsSOL),
		zap.Float64("sell_percent_remaining", p.SellPercentRemaining),
		zap.Float64("stop_price_usd", p.StopPriceUSD),
		zap.Float64("profit_price_usd", p.ProfitPriceUSD),
		zap.Uint64("profit_take_raw", p.ProfitTakeRaw),
	}
	if p.HasQuote() {
		fields = append(fields,
			zap.Float64("price_usd", p.PriceUSD),
			zap.Float64("price_sol", p.PriceSOL),
			zap.Time("price_time", p.PriceTime),
			zap.Float64("current_value_sol", p.CurrentValueSOL),
			zap.Int("hold_hours", p.HoldHours),
		)
	}
	if p.DistanceValid {
		fields = append(fields, zap.Float64("distance_to_trigger", p.DistanceToTrigger))
	}
	return fields
}

// ShortFields returns the compact periodic-report view.
func (p *Position) ShortFields() []zap.Field {
	return []zap.Field{
		zap.String("wallet", p.Owner),
		zap.String("symbol", p.Symbol),
		zap.String("mint", p.Mint),
		zap.Float64("current_amount", p.CurrentAmount),
		zap.Float64("price_usd", p.PriceUSD),
		zap.Float64("stop_price_usd", p.StopPriceUSD),
		zap.Float64("profit_price_usd", p.ProfitPriceUSD),
		zap.Float64("sell_percent_remaining", p.SellPercentRemaining),
	}
}
