// ==================================
// File: internal/position/reconstruct_test.go
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
	"github.com/rovshanmuradov/spl-seller/internal/helius"
	"github.com/rovshanmuradov/spl-seller/internal/strategy"
)

const (
	testOwner   = "wallet-1"
	testMint    = "mint-x"
	testAccount = "acct-x"
)

type fakeHistory struct {
	txs []helius.ParsedTransaction
	err error
}

func (f *fakeHistory) ParsedTransactions(_ context.Context, _ string) ([]helius.ParsedTransaction, error) {
	return f.txs, f.err
}

type fakeAssets struct{}

func (fakeAssets) Asset(_ context.Context, _ string) (helius.Asset, error) {
	return helius.Asset{Symbol: "TKX", Name: "Token X", Decimals: 6}, nil
}

type fakePricer struct {
	solUSD float64
}

func (f *fakePricer) PriceAt(_ context.Context, mint string, _ time.Time) (float64, error) {
	if mint == birdeye.SOLMint {
		return f.solUSD, nil
	}
	return 0, assert.AnError
}

func fullRangeTable() strategy.Table {
	return strategy.Table{
		{RemainingGT: 0, RemainingLTE: 1.0, StopPct: -0.3, ProfitPct: 1.0, ProfitTakeFraction: 0.5},
	}
}

// buyTx swaps solSpent SOL for amount tokens at ts.
func buyTx(ts time.Time, solSpent, amount float64) helius.ParsedTransaction {
	return helius.ParsedTransaction{
		Timestamp: ts.Unix(),
		TokenTransfers: []helius.TokenTransfer{
			{Mint: birdeye.SOLMint, FromUserAccount: testOwner, TokenAmount: solSpent},
			{Mint: testMint, ToTokenAccount: testAccount, TokenAmount: amount},
		},
	}
}

// sellTx swaps amount tokens for solReceived SOL at ts.
func sellTx(ts time.Time, amount, solReceived float64, rawAmount string) helius.ParsedTransaction {
	return helius.ParsedTransaction{
		Timestamp: ts.Unix(),
		TokenTransfers: []helius.TokenTransfer{
			{Mint: testMint, FromTokenAccount: testAccount, TokenAmount: amount},
			{Mint: birdeye.SOLMint, ToUserAccount: testOwner, TokenAmount: solReceived},
		},
		AccountData: []helius.AccountData{
			{Account: testOwner, NativeBalanceChange: int64(solReceived * 1e9)},
			{Account: testAccount, TokenBalanceChanges: []helius.TokenBalanceChange{
				{TokenAccount: testAccount, Mint: testMint,
					RawTokenAmount: helius.RawTokenAmount{TokenAmount: rawAmount, Decimals: 6}},
			}},
		},
	}
}

func newTestReconstructor(t *testing.T, txs []helius.ParsedTransaction) *Reconstructor {
	t.Helper()
	return NewReconstructor(
		&fakeHistory{txs: txs},
		fakeAssets{},
		&fakePricer{solUSD: 160.0},
		zaptest.NewLogger(t),
	)
}

func TestReconstructSingleBuy(t *testing.T) {
	buyTime := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	r := newTestReconstructor(t, []helius.ParsedTransaction{
		buyTx(buyTime, 2.0, 1000),
	})

	bal := Balance{Owner: testOwner, Mint: testMint, Address: testAccount, AmountRaw: 1_000_000_000}
	p, err := r.Reconstruct(context.Background(), bal, fullRangeTable(), 0)
	require.NoError(t, err)

	assert.Equal(t, "TKX", p.Symbol)
	assert.Equal(t, buyTime, p.BuyTime)
	assert.InDelta(t, 1000.0, p.BuyAmount, 1e-9)
	assert.InDelta(t, 2.0, p.BuyTotalSOL, 1e-9)
	assert.InDelta(t, 320.0, p.BuyTotalUSD, 1e-9) // 2 SOL at $160
	assert.InDelta(t, 0.002, p.BuyPriceSOL, 1e-9)
	assert.InDelta(t, 0.32, p.BuyPriceUSD, 1e-9)
	assert.InDelta(t, 1.0, p.SellPercentRemaining, 1e-9)

	require.NotNil(t, p.Tier)
	assert.InDelta(t, 0.32*0.7, p.StopPriceUSD, 1e-9)
	assert.InDelta(t, 0.64, p.ProfitPriceUSD, 1e-9)
	assert.Equal(t, uint64(500_000_000-1), p.ProfitTakeRaw)
}

func TestReconstructStopFloorNeverLoosens(t *testing.T) {
	buyTime := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	r := newTestReconstructor(t, []helius.ParsedTransaction{
		buyTx(buyTime, 2.0, 1000),
	})

	bal := Balance{Owner: testOwner, Mint: testMint, Address: testAccount, AmountRaw: 1_000_000_000}
	p, err := r.Reconstruct(context.Background(), bal, fullRangeTable(), 0.50)
	require.NoError(t, err)

	// Tier would set 0.224; the carried floor of 0.50 wins.
	assert.Equal(t, 0.50, p.StopPriceUSD)
}

func TestReconstructNoBuysExcludes(t *testing.T) {
	// Airdrop: the token arrived with no SOL leaving the wallet.
	r := newTestReconstructor(t, []helius.ParsedTransaction{
		{
			Timestamp: time.Now().Unix(),
			TokenTransfers: []helius.TokenTransfer{
				{Mint: testMint, ToTokenAccount: testAccount, TokenAmount: 1000},
			},
		},
	})

	bal := Balance{Owner: testOwner, Mint: testMint, Address: testAccount, AmountRaw: 1_000_000_000}
	_, err := r.Reconstruct(context.Background(), bal, fullRangeTable(), 0)
	assert.ErrorIs(t, err, ErrNoCostBasis)
}

func TestReconstructBuyWindowBreaks(t *testing.T) {
	// History newest-first: the older purchase lies outside the window of
	// the recent one and must not merge into its cost basis.
	anchor := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	r := newTestReconstructor(t, []helius.ParsedTransaction{
		buyTx(anchor, 2.0, 1000),
		buyTx(anchor.Add(-20*time.Minute), 5.0, 4000),
	})

	bal := Balance{Owner: testOwner, Mint: testMint, Address: testAccount, AmountRaw: 1_000_000_000}
	p, err := r.Reconstruct(context.Background(), bal, fullRangeTable(), 0)
	require.NoError(t, err)

	assert.InDelta(t, 1000.0, p.BuyAmount, 1e-9)
	assert.InDelta(t, 2.0, p.BuyTotalSOL, 1e-9)
}

func TestReconstructMergesBuysInsideWindow(t *testing.T) {
	anchor := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	r := newTestReconstructor(t, []helius.ParsedTransaction{
		buyTx(anchor.Add(10*time.Minute), 1.0, 500),
		buyTx(anchor, 2.0, 1000),
	})

	bal := Balance{Owner: testOwner, Mint: testMint, Address: testAccount, AmountRaw: 1_500_000_000}
	p, err := r.Reconstruct(context.Background(), bal, fullRangeTable(), 0)
	require.NoError(t, err)

	assert.Equal(t, anchor, p.BuyTime, "earliest leg anchors the buy time")
	assert.InDelta(t, 1500.0, p.BuyAmount, 1e-9)
	assert.InDelta(t, 3.0, p.BuyTotalSOL, 1e-9)
}

func TestReconstructSyntheticNativeTransfer(t *testing.T) {
	// Some venues report the SOL leg only as a native transfer.
	buyTime := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	r := newTestReconstructor(t, []helius.ParsedTransaction{
		{
			Timestamp: buyTime.Unix(),
			NativeTransfers: []helius.NativeTransfer{
				{FromUserAccount: testOwner, Amount: 2_000_000_000},
			},
			TokenTransfers: []helius.TokenTransfer{
				{Mint: testMint, ToTokenAccount: testAccount, TokenAmount: 1000},
			},
		},
	})

	bal := Balance{Owner: testOwner, Mint: testMint, Address: testAccount, AmountRaw: 1_000_000_000}
	p, err := r.Reconstruct(context.Background(), bal, fullRangeTable(), 0)
	require.NoError(t, err)

	assert.InDelta(t, 2.0, p.BuyTotalSOL, 1e-9)
	assert.InDelta(t, 320.0, p.BuyTotalUSD, 1e-9)
}

func TestReconstructPartialSell(t *testing.T) {
	buyTime := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	r := newTestReconstructor(t, []helius.ParsedTransaction{
		sellTx(buyTime.Add(2*time.Hour), 400, 0.9, "-400000000"),
		buyTx(buyTime, 2.0, 1000),
	})

	// 600 of the original 1000 remain.
	bal := Balance{Owner: testOwner, Mint: testMint, Address: testAccount, AmountRaw: 600_000_000}
	p, err := r.Reconstruct(context.Background(), bal, fullRangeTable(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, p.SellCount)
	assert.InDelta(t, 400.0, p.SellAmount, 1e-9)
	assert.InDelta(t, 0.9, p.SellProceedsSOL, 1e-9)
	assert.InDelta(t, 0.4, p.SellPercent, 1e-9)
	assert.InDelta(t, 0.6, p.SellPercentRemaining, 1e-9)
}

func TestReconstructIgnoresSellsBeforeBuy(t *testing.T) {
	// A sell of a previous, fully-exited round of the same token must not
	// count against this position.
	buyTime := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	r := newTestReconstructor(t, []helius.ParsedTransaction{
		buyTx(buyTime, 2.0, 1000),
		sellTx(buyTime.Add(-5*time.Minute), 300, 0.5, "-300000000"),
	})

	bal := Balance{Owner: testOwner, Mint: testMint, Address: testAccount, AmountRaw: 700_000_000}
	p, err := r.Reconstruct(context.Background(), bal, fullRangeTable(), 0)
	require.NoError(t, err)
	assert.Zero(t, p.SellCount)
}

func TestReconstructIsIdempotent(t *testing.T) {
	// The same transfer history must always reduce to the same aggregates,
	// no matter how often the position is rebuilt.
	buyTime := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	r := newTestReconstructor(t, []helius.ParsedTransaction{
		sellTx(buyTime.Add(2*time.Hour), 400, 0.9, "-400000000"),
		buyTx(buyTime.Add(10*time.Minute), 1.0, 500),
		buyTx(buyTime, 2.0, 1000),
	})

	bal := Balance{Owner: testOwner, Mint: testMint, Address: testAccount, AmountRaw: 1_100_000_000}
	first, err := r.Reconstruct(context.Background(), bal, fullRangeTable(), 0)
	require.NoError(t, err)
	second, err := r.Reconstruct(context.Background(), bal, fullRangeTable(), 0)
	require.NoError(t, err)

	assert.Equal(t, first.BuyTime, second.BuyTime)
	assert.Equal(t, first.BuyAmount, second.BuyAmount)
	assert.Equal(t, first.BuyTotalSOL, second.BuyTotalSOL)
	assert.Equal(t, first.BuyTotalUSD, second.BuyTotalUSD)
	assert.Equal(t, first.BuyPriceUSD, second.BuyPriceUSD)
	assert.Equal(t, first.SellCount, second.SellCount)
	assert.Equal(t, first.SellAmount, second.SellAmount)
	assert.Equal(t, first.SellProceedsSOL, second.SellProceedsSOL)
	assert.Equal(t, first.SellPercentRemaining, second.SellPercentRemaining)
	assert.Equal(t, first.StopPriceUSD, second.StopPriceUSD)
	assert.Equal(t, first.ProfitPriceUSD, second.ProfitPriceUSD)
	assert.Equal(t, first.ProfitTakeRaw, second.ProfitTakeRaw)
}

func TestReconstructRejectsImpossibleRemaining(t *testing.T) {
	// More tokens on-chain than were ever bought: negative sell percent.
	buyTime := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	r := newTestReconstructor(t, []helius.ParsedTransaction{
		buyTx(buyTime, 2.0, 1000),
	})

	bal := Balance{Owner: testOwner, Mint: testMint, Address: testAccount, AmountRaw: 2_000_000_000}
	_, err := r.Reconstruct(context.Background(), bal, fullRangeTable(), 0)
	assert.ErrorIs(t, err, ErrDataQuality)
}
