// ==================================
// File: internal/position/evaluate.go
// ==================================
package position

import (
	"math"
	"time"

	"go.uber.org/zap"
)

// TriggerReason identifies which exit rule fired.
type TriggerReason int

const (
	TriggerStopLoss TriggerReason = iota
	TriggerDurationTimeout
	TriggerProfitTarget
)

func (r TriggerReason) String() string {
	switch r {
	case TriggerStopLoss:
		return "stop_loss"
	case TriggerDurationTimeout:
		return "duration_timeout"
	case TriggerProfitTarget:
		return "profit_target"
	default:
		return "unknown"
	}
}

// Trigger carries the fired rule and the raw quantity to sell.
type Trigger struct {
	Reason    TriggerReason
	AmountRaw uint64
}

// unsoldEpsilon: a position counts as effectively unsold when its current
// human amount is within this of the original buy amount.
const unsoldEpsilon = 0.01

// Evaluator applies the exit rules to a quoted position. Rules are checked
// in strict precedence: stop-loss, duration timeout, profit target.
type Evaluator struct {
	holdTimeout time.Duration
	logger      *zap.Logger
}

func NewEvaluator(holdTimeout time.Duration, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		holdTimeout: holdTimeout,
		logger:      logger.Named("evaluator"),
	}
}

// Evaluate decides whether the position should be sold now and for how much.
// Positions without a fresh quote or a matched tier never trigger.
func (e *Evaluator) Evaluate(p *Position, now time.Time) (Trigger, bool) {
	if !p.HasQuote() {
		return Trigger{}, false
	}
	if p.Tier == nil {
		e.logger.Info("Strategy undetermined, skipping evaluation",
			zap.String("mint", p.Mint),
			zap.Float64("remaining", p.SellPercentRemaining))
		return Trigger{}, false
	}

	if p.PriceUSD <= p.StopPriceUSD {
		e.logger.Info("Below stop price, selling all",
			zap.String("symbol", p.Symbol),
			zap.String("mint", p.Mint),
			zap.Float64("price_usd", p.PriceUSD),
			zap.Float64("stop_price_usd", p.StopPriceUSD))
		return Trigger{Reason: TriggerStopLoss, AmountRaw: p.CurrentAmountRaw}, true
	}

	held := now.Sub(p.BuyTime)
	if held >= e.holdTimeout && math.Abs(p.CurrentAmount-p.BuyAmount) < unsoldEpsilon {
		e.logger.Info("Hold duration elapsed with position unsold, selling all",
			zap.String("symbol", p.Symbol),
			zap.String("mint", p.Mint),
			zap.Duration("held", held))
		return Trigger{Reason: TriggerDurationTimeout, AmountRaw: p.CurrentAmountRaw}, true
	}

	if p.PriceUSD >= p.ProfitPriceUSD {
		e.logger.Info("Profit price reached, selling partial",
			zap.String("symbol", p.Symbol),
			zap.String("mint", p.Mint),
			zap.Float64("price_usd", p.PriceUSD),
			zap.Float64("profit_price_usd", p.ProfitPriceUSD),
			zap.Uint64("amount_raw", p.ProfitTakeRaw))
		return Trigger{Reason: TriggerProfitTarget, AmountRaw: p.ProfitTakeRaw}, true
	}

	return Trigger{}, false
}
