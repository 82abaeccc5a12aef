// ==================================
// File: internal/position/evaluate_test.go
// ==================================
package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/spl-seller/internal/strategy"
)

func quotedPosition(t *testing.T, priceUSD float64) *Position {
	t.Helper()
	tier := strategy.Tier{RemainingGT: 0.75, RemainingLTE: 1.0, StopPct: -0.3, ProfitPct: 1.0, ProfitTakeFraction: 0.5}
	return &Position{
		Mint:             "mint-a",
		Symbol:           "AAA",
		CurrentAmountRaw: 1_000_000,
		CurrentAmount:    1.0,
		BuyTime:          time.Now().Add(-2 * time.Hour),
		BuyAmount:        1.0,
		BuyPriceUSD:      1.00,
		Tier:             &tier,
		StopPriceUSD:     0.70,
		ProfitPriceUSD:   2.00,
		ProfitTakeRaw:    499_999,
		PriceUSD:         priceUSD,
		PriceSOL:         priceUSD / 160,
		PriceTime:        time.Now(),
	}
}

func TestEvaluateNoQuoteNeverTriggers(t *testing.T) {
	e := NewEvaluator(240*time.Hour, zaptest.NewLogger(t))
	p := quotedPosition(t, 0.10)
	p.PriceUSD = 0
	p.PriceTime = time.Time{}

	_, fire := e.Evaluate(p, time.Now())
	assert.False(t, fire)
}

func TestEvaluateNoTierSkips(t *testing.T) {
	e := NewEvaluator(240*time.Hour, zaptest.NewLogger(t))
	p := quotedPosition(t, 0.10)
	p.Tier = nil

	_, fire := e.Evaluate(p, time.Now())
	assert.False(t, fire)
}

func TestEvaluateStopLossSellsAll(t *testing.T) {
	e := NewEvaluator(240*time.Hour, zaptest.NewLogger(t))
	p := quotedPosition(t, 0.65)

	trigger, fire := e.Evaluate(p, time.Now())
	require.True(t, fire)
	assert.Equal(t, TriggerStopLoss, trigger.Reason)
	assert.Equal(t, uint64(1_000_000), trigger.AmountRaw)
}

func TestEvaluateStopBeatsProfit(t *testing.T) {
	// A degenerate position where both boundaries are crossed must exit
	// fully on the stop rule, not partially on the profit rule.
	e := NewEvaluator(240*time.Hour, zaptest.NewLogger(t))
	p := quotedPosition(t, 0.50)
	p.ProfitPriceUSD = 0.40

	trigger, fire := e.Evaluate(p, time.Now())
	require.True(t, fire)
	assert.Equal(t, TriggerStopLoss, trigger.Reason)
}

func TestEvaluateDurationTimeout(t *testing.T) {
	e := NewEvaluator(240*time.Hour, zaptest.NewLogger(t))
	p := quotedPosition(t, 1.20)
	p.BuyTime = time.Now().Add(-241 * time.Hour)

	trigger, fire := e.Evaluate(p, time.Now())
	require.True(t, fire)
	assert.Equal(t, TriggerDurationTimeout, trigger.Reason)
	assert.Equal(t, uint64(1_000_000), trigger.AmountRaw)
}

func TestEvaluateDurationTimeoutSkipsPartiallySold(t *testing.T) {
	// A position that already took profit is allowed to age past the
	// timeout; only effectively-unsold positions get force-closed.
	e := NewEvaluator(240*time.Hour, zaptest.NewLogger(t))
	p := quotedPosition(t, 1.20)
	p.BuyTime = time.Now().Add(-241 * time.Hour)
	p.CurrentAmount = 0.5

	_, fire := e.Evaluate(p, time.Now())
	assert.False(t, fire)
}

func TestEvaluateProfitTargetSellsPartial(t *testing.T) {
	e := NewEvaluator(240*time.Hour, zaptest.NewLogger(t))
	p := quotedPosition(t, 2.10)

	trigger, fire := e.Evaluate(p, time.Now())
	require.True(t, fire)
	assert.Equal(t, TriggerProfitTarget, trigger.Reason)
	assert.Equal(t, uint64(499_999), trigger.AmountRaw)
}

func TestEvaluateQuietZoneHolds(t *testing.T) {
	e := NewEvaluator(240*time.Hour, zaptest.NewLogger(t))
	p := quotedPosition(t, 1.20)

	_, fire := e.Evaluate(p, time.Now())
	assert.False(t, fire)
}
