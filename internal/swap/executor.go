// ==================================
// File: internal/swap/executor.go
// ==================================
package swap

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	solanago "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/spl-seller/internal/birdeye"
	"github.com/rovshanmuradov/spl-seller/internal/wallet"
)

const chunkPacingDelay = 2 * time.Second

// Aggregator is the quote/swap side of the executor.
type Aggregator interface {
	GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*Quote, error)
	BuildSwap(ctx context.Context, quote *Quote, userPublicKey string) (string, error)
}

// Broadcaster is the ledger side of the executor.
type Broadcaster interface {
	SendTransaction(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error)
	WaitForTransactionConfirmation(ctx context.Context, sig solanago.Signature) error
}

// Executor turns one sell decision into chunked swap executions. A chunk's
// SOL output is kept under maxChunkSOL to bound price impact per trade.
type Executor struct {
	aggregator  Aggregator
	broadcaster Broadcaster
	maxChunkSOL float64
	slippageBps int
	maxTries    uint
	logger      *zap.Logger
}

func NewExecutor(aggregator Aggregator, broadcaster Broadcaster, maxChunkSOL float64, slippageBps int, maxTries uint, logger *zap.Logger) *Executor {
	return &Executor{
		aggregator:  aggregator,
		broadcaster: broadcaster,
		maxChunkSOL: maxChunkSOL,
		slippageBps: slippageBps,
		maxTries:    maxTries,
		logger:      logger.Named("executor"),
	}
}

// SplitChunks divides total into full chunks followed by the remainder. The
// parts always sum exactly to total. A zero chunk yields one full-amount
// part.
func SplitChunks(total, chunk uint64) []uint64 {
	if total == 0 {
		return nil
	}
	if chunk == 0 || chunk >= total {
		return []uint64{total}
	}

	var parts []uint64
	remaining := total
	for remaining > chunk {
		parts = append(parts, chunk)
		remaining -= chunk
	}
	parts = append(parts, remaining)
	return parts
}

// Sell swaps amountRaw units of mint into SOL, chunked. A chunk failure
// aborts the remaining chunks but already-executed chunks stand; the next
// reconcile picks up the smaller balance. Sell never panics past its
// boundary.
func (e *Executor) Sell(ctx context.Context, w *wallet.Wallet, mint string, amountRaw uint64) error {
	log := e.logger.With(
		zap.String("wallet", w.PublicKey.String()),
		zap.String("mint", mint),
		zap.Uint64("amount_raw", amountRaw))

	log.Info("Starting sell")

	quote, err := e.aggregator.GetQuote(ctx, mint, birdeye.SOLMint, amountRaw, e.slippageBps)
	if err != nil {
		return fmt.Errorf("initial quote: %w", err)
	}

	outputSOL := float64(quote.OutAmount) / 1e9
	if outputSOL <= 0 {
		return fmt.Errorf("quote returned zero output for %d units of %s", amountRaw, mint)
	}

	var chunk uint64
	if outputSOL > e.maxChunkSOL {
		chunk = uint64((e.maxChunkSOL / outputSOL) * float64(amountRaw))
	}
	chunks := SplitChunks(amountRaw, chunk)
	log.Info("Sell plan",
		zap.Float64("quoted_sol", outputSOL),
		zap.Int("chunks", len(chunks)))

	for i, amount := range chunks {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(chunkPacingDelay):
			}
		}
		// The initial quote priced the whole order; when it was split,
		// every chunk gets its own quote at the chunk amount so no swap
		// exceeds the cap.
		if len(chunks) > 1 {
			quote, err = e.aggregator.GetQuote(ctx, mint, birdeye.SOLMint, amount, e.slippageBps)
			if err != nil {
				return fmt.Errorf("chunk %d quote: %w", i+1, err)
			}
		}

		sig, err := e.executeSwap(ctx, w, quote)
		if err != nil {
			return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}

		log.Info("Chunk sold",
			zap.Int("chunk", i+1),
			zap.Int("chunks", len(chunks)),
			zap.Uint64("chunk_amount", amount),
			zap.String("tx", "https://solscan.io/tx/"+sig.String()))
	}

	log.Info("Sell completed")
	return nil
}

// executeSwap builds, signs, broadcasts and confirms one swap with bounded
// exponential-backoff retry.
func (e *Executor) executeSwap(ctx context.Context, w *wallet.Wallet, quote *Quote) (solanago.Signature, error) {
	op := func() (solanago.Signature, error) {
		encoded, err := e.aggregator.BuildSwap(ctx, quote, w.PublicKey.String())
		if err != nil {
			return solanago.Signature{}, fmt.Errorf("build swap: %w", err)
		}

		tx, err := solanago.TransactionFromBase64(encoded)
		if err != nil {
			return solanago.Signature{}, backoff.Permanent(fmt.Errorf("decode swap transaction: %w", err))
		}

		if err := w.SignTransaction(tx); err != nil {
			return solanago.Signature{}, backoff.Permanent(fmt.Errorf("sign transaction: %w", err))
		}

		sig, err := e.broadcaster.SendTransaction(ctx, tx)
		if err != nil {
			return solanago.Signature{}, fmt.Errorf("send transaction: %w", err)
		}

		if err := e.broadcaster.WaitForTransactionConfirmation(ctx, sig); err != nil {
			return sig, fmt.Errorf("confirm transaction: %w", err)
		}

		return sig, nil
	}

	return backoff.Retry(
		ctx,
		op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(e.maxTries),
	)
}
