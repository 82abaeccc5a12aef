// ==================================
// File: internal/position/reconstruct.go
// ==================================
package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/spl-seller/internal/birdeye"
	"github.com/rovshanmuradov/spl-seller/internal/helius"
	"github.com/rovshanmuradov/spl-seller/internal/strategy"
)

// buyWindow bounds how far apart the transactions of one logical buy may
// settle. Candidate buys further from the anchor are unrelated purchases.
const buyWindow = 15 * time.Minute

var (
	// ErrNoCostBasis marks a token whose buy could not be priced; the
	// store puts its mint on the exclusion list.
	ErrNoCostBasis = errors.New("cost basis could not be established")

	// ErrDataQuality marks a reconstruction whose remaining fraction fell
	// outside [0,1]; the position is discarded.
	ErrDataQuality = errors.New("reconstructed sell percents out of range")
)

// HistoryService supplies parsed transfer history for a token account.
type HistoryService interface {
	ParsedTransactions(ctx context.Context, address string) ([]helius.ParsedTransaction, error)
}

// AssetService supplies token metadata.
type AssetService interface {
	Asset(ctx context.Context, mint string) (helius.Asset, error)
}

// HistoricalPricer supplies a point-in-time USD price for a mint.
type HistoricalPricer interface {
	PriceAt(ctx context.Context, mint string, t time.Time) (float64, error)
}

// Reconstructor rebuilds a position's cost basis and sell history from
// on-chain transfer activity.
type Reconstructor struct {
	history HistoryService
	assets  AssetService
	pricer  HistoricalPricer
	logger  *zap.Logger
}

func NewReconstructor(history HistoryService, assets AssetService, pricer HistoricalPricer, logger *zap.Logger) *Reconstructor {
	return &Reconstructor{
		history: history,
		assets:  assets,
		pricer:  pricer,
		logger:  logger.Named("reconstruct"),
	}
}

type buyEvent struct {
	time     time.Time
	amount   float64
	solSpent float64
	solPrice float64
}

type sellEvent struct {
	time        time.Time
	amount      float64
	solReceived float64
}

// Reconstruct builds a Position from a balance and its transfer history.
// initialStop carries a previously established stop floor across rebuilds.
// Transport errors return (nil, err); ErrNoCostBasis and ErrDataQuality mark
// discards.
func (r *Reconstructor) Reconstruct(ctx context.Context, bal Balance, table strategy.Table, initialStop float64) (*Position, error) {
	p := &Position{
		Owner:            bal.Owner,
		Mint:             bal.Mint,
		Address:          bal.Address,
		CurrentAmountRaw: bal.AmountRaw,
	}

	asset, err := r.assets.Asset(ctx, bal.Mint)
	if err != nil {
		return nil, fmt.Errorf("token metadata for %s: %w", bal.Mint, err)
	}
	p.Symbol = asset.Symbol
	p.Name = asset.Name
	p.Decimals = asset.Decimals
	p.CurrentAmount = float64(bal.AmountRaw) / math.Pow10(int(asset.Decimals))

	history, err := r.history.ParsedTransactions(ctx, bal.Address)
	if err != nil {
		return nil, fmt.Errorf("transfer history for %s: %w", bal.Address, err)
	}

	buys := r.collectBuys(ctx, p, history)
	r.logger.Info("Buy events found",
		zap.String("wallet", p.Owner),
		zap.String("symbol", p.Symbol),
		zap.String("mint", p.Mint),
		zap.Int("buys", len(buys)))

	if err := applyBuys(p, buys); err != nil {
		return nil, err
	}

	sells := collectSells(p, history)
	r.logger.Info("Sell events found",
		zap.String("wallet", p.Owner),
		zap.String("symbol", p.Symbol),
		zap.String("mint", p.Mint),
		zap.Int("sells", len(sells)))
	applySells(p, sells)

	if p.SellPercent < 0 || p.SellPercentRemaining > 1 {
		return nil, fmt.Errorf("%w: percent=%.4f remaining=%.4f",
			ErrDataQuality, p.SellPercent, p.SellPercentRemaining)
	}

	if tier, ok := table.Match(p.SellPercentRemaining); ok {
		p.Tier = &tier
		p.StopPriceUSD = strategy.ComputeStop(initialStop, p.BuyPriceUSD, tier.StopPct)
		p.ProfitPriceUSD = strategy.ComputeProfit(p.BuyPriceUSD, tier.ProfitPct)
		p.ProfitTakeRaw = strategy.ProfitTakeAmount(p.CurrentAmountRaw, p.SellPercentRemaining, tier.ProfitTakeFraction)
	} else {
		r.logger.Warn("No exit tier matches remaining fraction, evaluation will be skipped",
			zap.String("mint", p.Mint),
			zap.Float64("remaining", p.SellPercentRemaining))
	}

	return p, nil
}

// collectBuys scans the history for transfer groups that move the token into
// the account while SOL leaves the owning wallet. The first group anchors the
// buy time; later groups count only inside the buy window.
func (r *Reconstructor) collectBuys(ctx context.Context, p *Position, history []helius.ParsedTransaction) []buyEvent {
	var buys []buyEvent

	for _, tx := range history {
		transfers := tx.TokenTransfers

		// Some swaps report the SOL leg only as a native transfer. Splice
		// it in as a synthetic WSOL transfer so one matcher handles both.
		if len(tx.NativeTransfers) > 0 && len(tx.TokenTransfers) == 1 {
			for _, nt := range tx.NativeTransfers {
				transfers = append(transfers, helius.TokenTransfer{
					FromUserAccount: nt.FromUserAccount,
					ToUserAccount:   nt.ToUserAccount,
					TokenAmount:     float64(nt.Amount) / 1e9,
					Mint:            birdeye.SOLMint,
				})
			}
		}

		ts := time.Unix(tx.Timestamp, 0).UTC()

		if len(buys) > 0 {
			anchor := earliestBuyTime(buys)
			if absDuration(ts.Sub(anchor)) > buyWindow {
				break
			}
		}

		if !isBuyGroup(p.Mint, p.Address, transfers) {
			continue
		}

		ev := buyEvent{time: ts}
		ev.solPrice, _ = r.pricer.PriceAt(ctx, birdeye.SOLMint, ts)

		for _, tr := range transfers {
			if tr.Mint == p.Mint && tr.ToTokenAccount == p.Address {
				ev.amount += tr.TokenAmount
			}
			if tr.Mint == birdeye.SOLMint && tr.FromUserAccount == p.Owner {
				ev.solSpent += tr.TokenAmount
			}
		}

		buys = append(buys, ev)
	}

	return buys
}

func applyBuys(p *Position, buys []buyEvent) error {
	if len(buys) == 0 {
		return ErrNoCostBasis
	}

	p.BuyTime = earliestBuyTime(buys)
	for _, ev := range buys {
		p.BuyAmount += ev.amount
		p.BuyTotalSOL += ev.solSpent
		p.BuyTotalUSD += ev.solPrice * ev.solSpent
	}

	if p.BuyTotalSOL == 0 || p.BuyAmount == 0 {
		return ErrNoCostBasis
	}
	p.BuyPriceSOL = p.BuyTotalSOL / p.BuyAmount
	p.BuyPriceUSD = p.BuyTotalUSD / p.BuyAmount
	p.SellPercent = (p.BuyAmount - p.CurrentAmount) / p.BuyAmount
	p.SellPercentRemaining = 1.0 - p.SellPercent

	return nil
}

// collectSells accumulates outgoing transfer groups at or after the buy time
// until the on-chain deficit is explained.
func collectSells(p *Position, history []helius.ParsedTransaction) []sellEvent {
	if p.SellPercent == 0 {
		return nil
	}

	deficit := p.BuyAmount - p.CurrentAmount
	var sells []sellEvent
	var sold float64

	for _, tx := range history {
		if sold >= deficit {
			break
		}
		if !isSellGroup(p.Mint, p.Address, tx.TokenTransfers) {
			continue
		}

		ts := time.Unix(tx.Timestamp, 0).UTC()
		if ts.Before(p.BuyTime) {
			continue
		}

		ev := sellEvent{time: ts}
		for _, acct := range tx.AccountData {
			if acct.Account == p.Owner {
				ev.solReceived += float64(acct.NativeBalanceChange) / 1e9
			}
			if acct.Account == p.Address {
				for _, change := range acct.TokenBalanceChanges {
					if change.TokenAccount != p.Address {
						continue
					}
					raw, err := strconv.ParseInt(change.RawTokenAmount.TokenAmount, 10, 64)
					if err != nil {
						continue
					}
					ev.amount += float64(-raw) / math.Pow10(change.RawTokenAmount.Decimals)
				}
			}
		}

		sold += ev.amount
		sells = append(sells, ev)
	}

	return sells
}

func applySells(p *Position, sells []sellEvent) {
	p.SellCount = len(sells)
	for _, ev := range sells {
		p.SellAmount += ev.amount
		p.SellProceedsSOL += ev.solReceived
	}
}

// isBuyGroup reports whether the transfer group moves the target token into
// the account as part of a multi-leg transaction.
func isBuyGroup(mint, address string, transfers []helius.TokenTransfer) bool {
	if len(transfers) < 2 {
		return false
	}
	for _, tr := range transfers {
		if tr.Mint == mint && tr.ToTokenAccount == address {
			return true
		}
	}
	return false
}

// isSellGroup reports whether the transfer group moves the target token out
// of the account as part of a multi-leg transaction.
func isSellGroup(mint, address string, transfers []helius.TokenTransfer) bool {
	if len(transfers) < 2 {
		return false
	}
	for _, tr := range transfers {
		if tr.Mint == mint && tr.FromTokenAccount == address {
			return true
		}
	}
	return false
}

func earliestBuyTime(buys []buyEvent) time.Time {
	earliest := buys[0].time
	for _, ev := range buys[1:] {
		if ev.time.Before(earliest) {
			earliest = ev.time
		}
	}
	return earliest
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
