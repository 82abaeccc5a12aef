// ==================================
// File: internal/position/store_test.go
// ==================================
package position

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/spl-seller/internal/birdeye"
	"github.com/rovshanmuradov/spl-seller/internal/strategy"
)

func quoteUSD(priceUSD float64) birdeye.Quote {
	return birdeye.Quote{PriceUSD: priceUSD, PriceSOL: priceUSD / 160}
}

type fakeLister struct {
	balances []Balance
	err      error
}

func (f *fakeLister) ListBalances(_ context.Context) ([]Balance, error) {
	return f.balances, f.err
}

type rebuildCall struct {
	bal         Balance
	initialStop float64
}

type fakeRebuilder struct {
	calls []rebuildCall
	errs  map[string]error // keyed by mint
	stops map[string]float64
}

func (f *fakeRebuilder) Rebuild(_ context.Context, bal Balance, initialStop float64) (*Position, error) {
	f.calls = append(f.calls, rebuildCall{bal: bal, initialStop: initialStop})
	if err, ok := f.errs[bal.Mint]; ok {
		return nil, err
	}
	tier := strategy.Tier{RemainingGT: 0.75, RemainingLTE: 1.0, StopPct: -0.3, ProfitPct: 1.0, ProfitTakeFraction: 0.5}
	stop := 0.70
	if s, ok := f.stops[bal.Mint]; ok {
		stop = s
	}
	return &Position{
		Owner:                bal.Owner,
		Mint:                 bal.Mint,
		Address:              bal.Address,
		CurrentAmountRaw:     bal.AmountRaw,
		CurrentAmount:        float64(bal.AmountRaw) / 1e6,
		BuyTime:              time.Now().Add(-time.Hour),
		BuyAmount:            float64(bal.AmountRaw) / 1e6,
		BuyPriceUSD:          1.0,
		SellPercentRemaining: 1.0,
		Tier:                 &tier,
		StopPriceUSD:         stop,
		ProfitPriceUSD:       2.0,
	}, nil
}

func TestReconcileAddsNewPositions(t *testing.T) {
	ctx := context.Background()
	lister := &fakeLister{balances: []Balance{
		{Owner: "w1", Mint: "mint-a", Address: "acct-a", AmountRaw: 1_000_000},
		{Owner: "w1", Mint: "mint-b", Address: "acct-b", AmountRaw: 2_000_000},
	}}
	rebuilder := &fakeRebuilder{}
	store := NewStore(lister, rebuilder, 0, zaptest.NewLogger(t))

	require.NoError(t, store.Reconcile(ctx))
	assert.Equal(t, 2, store.Len())
	assert.Len(t, rebuilder.calls, 2)
}

func TestReconcileUnchangedBalancesAreNoop(t *testing.T) {
	ctx := context.Background()
	lister := &fakeLister{balances: []Balance{
		{Owner: "w1", Mint: "mint-a", Address: "acct-a", AmountRaw: 1_000_000},
	}}
	rebuilder := &fakeRebuilder{}
	store := NewStore(lister, rebuilder, 0, zaptest.NewLogger(t))

	require.NoError(t, store.Reconcile(ctx))
	require.NoError(t, store.Reconcile(ctx))
	assert.Len(t, rebuilder.calls, 1, "settled position must not be rebuilt")
}

func TestReconcileDropsVanishedPositions(t *testing.T) {
	ctx := context.Background()
	lister := &fakeLister{balances: []Balance{
		{Owner: "w1", Mint: "mint-a", Address: "acct-a", AmountRaw: 1_000_000},
	}}
	store := NewStore(lister, &fakeRebuilder{}, 0, zaptest.NewLogger(t))
	require.NoError(t, store.Reconcile(ctx))

	lister.balances = nil
	require.NoError(t, store.Reconcile(ctx))
	assert.Zero(t, store.Len())
}

func TestReconcileCarriesStopFloorThroughRebuild(t *testing.T) {
	ctx := context.Background()
	lister := &fakeLister{balances: []Balance{
		{Owner: "w1", Mint: "mint-a", Address: "acct-a", AmountRaw: 1_000_000},
	}}
	rebuilder := &fakeRebuilder{}
	store := NewStore(lister, rebuilder, 0, zaptest.NewLogger(t))
	require.NoError(t, store.Reconcile(ctx))
	require.Equal(t, 0.0, rebuilder.calls[0].initialStop, "first build starts without a floor")

	// Balance moved: the position is rebuilt with its old stop as floor.
	lister.balances[0].AmountRaw = 500_000
	require.NoError(t, store.Reconcile(ctx))
	require.Len(t, rebuilder.calls, 2)
	assert.Equal(t, 0.70, rebuilder.calls[1].initialStop)
}

func TestReconcileExcludesMintsWithoutCostBasis(t *testing.T) {
	ctx := context.Background()
	lister := &fakeLister{balances: []Balance{
		{Owner: "w1", Mint: "mint-airdrop", Address: "acct-a", AmountRaw: 1_000_000},
	}}
	rebuilder := &fakeRebuilder{errs: map[string]error{"mint-airdrop": ErrNoCostBasis}}
	store := NewStore(lister, rebuilder, 0, zaptest.NewLogger(t))

	require.NoError(t, store.Reconcile(ctx))
	require.NoError(t, store.Reconcile(ctx))
	assert.Zero(t, store.Len())
	assert.Len(t, rebuilder.calls, 1, "excluded mint must not be rebuilt again")
}

func TestReconcileRetriesTransportFailures(t *testing.T) {
	ctx := context.Background()
	lister := &fakeLister{balances: []Balance{
		{Owner: "w1", Mint: "mint-a", Address: "acct-a", AmountRaw: 1_000_000},
	}}
	rebuilder := &fakeRebuilder{errs: map[string]error{"mint-a": assert.AnError}}
	store := NewStore(lister, rebuilder, 0, zaptest.NewLogger(t))

	require.NoError(t, store.Reconcile(ctx))
	assert.Zero(t, store.Len())

	// Transport recovered: the same balance is dirty again and rebuilds.
	rebuilder.errs = nil
	require.NoError(t, store.Reconcile(ctx))
	assert.Equal(t, 1, store.Len())
	assert.Len(t, rebuilder.calls, 2)
}

func TestApplyQuoteComputesDistance(t *testing.T) {
	ctx := context.Background()
	lister := &fakeLister{balances: []Balance{
		{Owner: "w1", Mint: "mint-a", Address: "acct-a", AmountRaw: 1_000_000},
	}}
	store := NewStore(lister, &fakeRebuilder{}, 0, zaptest.NewLogger(t))
	require.NoError(t, store.Reconcile(ctx))

	now := time.Now()
	store.ApplyQuote("acct-a", quoteUSD(1.0), now)

	p := store.Positions()[0]
	require.True(t, p.DistanceValid)
	// profit side: 2.0/1.0-1 = 1.0; stop side: 1-0.7/1.0 = 0.3
	assert.Equal(t, 0.3, p.DistanceToTrigger)
	assert.Equal(t, now, p.PriceTime)
}

func TestApplyQuoteIgnoresZeroPrices(t *testing.T) {
	ctx := context.Background()
	lister := &fakeLister{balances: []Balance{
		{Owner: "w1", Mint: "mint-a", Address: "acct-a", AmountRaw: 1_000_000},
	}}
	store := NewStore(lister, &fakeRebuilder{}, 0, zaptest.NewLogger(t))
	require.NoError(t, store.Reconcile(ctx))

	store.ApplyQuote("acct-a", quoteUSD(0), time.Now())
	assert.False(t, store.Positions()[0].HasQuote())
}

func TestDueForReportCadence(t *testing.T) {
	ctx := context.Background()
	lister := &fakeLister{balances: []Balance{
		{Owner: "w1", Mint: "mint-a", Address: "acct-a", AmountRaw: 1_000_000},
	}}
	store := NewStore(lister, &fakeRebuilder{}, 0, zaptest.NewLogger(t))
	require.NoError(t, store.Reconcile(ctx))

	// New position: full dump immediately.
	base := time.Date(2026, 8, 29, 12, 30, 0, 0, time.UTC)
	full, short := store.DueForReport(base)
	assert.Len(t, full, 1)
	assert.Empty(t, short)

	// Within a minute: nothing due.
	full, short = store.DueForReport(base.Add(30 * time.Second))
	assert.Empty(t, full)
	assert.Empty(t, short)

	// Past a minute mid-hour: short line.
	full, short = store.DueForReport(base.Add(90 * time.Second))
	assert.Empty(t, full)
	assert.Len(t, short, 1)

	// Top of the hour: full dump again.
	topOfHour := time.Date(2026, 8, 29, 13, 2, 0, 0, time.UTC)
	full, short = store.DueForReport(topOfHour)
	assert.Len(t, full, 1)
	assert.Empty(t, short)
}
