// ==================================
// File: internal/seller/runner.go
// ==================================
package seller

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/spl-seller/internal/birdeye"
	"github.com/rovshanmuradov/spl-seller/internal/blockchain/solana"
	"github.com/rovshanmuradov/spl-seller/internal/config"
	"github.com/rovshanmuradov/spl-seller/internal/helius"
	"github.com/rovshanmuradov/spl-seller/internal/logger"
	"github.com/rovshanmuradov/spl-seller/internal/position"
	"github.com/rovshanmuradov/spl-seller/internal/strategy"
	"github.com/rovshanmuradov/spl-seller/internal/swap"
	"github.com/rovshanmuradov/spl-seller/internal/wallet"
)

const (
	lamportsPerSOL = 1_000_000_000

	activePollInterval = 10 * time.Second
	balanceTries       = 3
)

// Runner wires every service together and drives the poll loop.
type Runner struct {
	cfg       *config.Config
	log       *logger.Logger
	logger    *zap.Logger
	wallets   []*WalletSlot
	byOwner   map[string]*wallet.Wallet
	solClient *solana.Client
	store     *position.Store
	scheduler *position.Scheduler
	evaluator *position.Evaluator
	executor  *swap.Executor
	liveness  *livenessServer

	shutdownCh chan os.Signal
}

// NewRunner builds the full service graph from the loaded configuration.
func NewRunner(cfg *config.Config, log *logger.Logger) (*Runner, error) {
	wallets := make([]*WalletSlot, 0, len(cfg.Wallets))
	byOwner := make(map[string]*wallet.Wallet, len(cfg.Wallets))
	for i, wc := range cfg.Wallets {
		w, err := wallet.NewWallet(wc.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("wallet slot %d: %w", i+1, err)
		}
		table, err := strategy.TableForIndex(wc.StrategyIdx)
		if err != nil {
			return nil, fmt.Errorf("wallet slot %d: %w", i+1, err)
		}
		wallets = append(wallets, &WalletSlot{Wallet: w, Table: table})
		byOwner[w.PublicKey.String()] = w
	}

	solClient, err := solana.NewClient(cfg.RPCList, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("rpc pool: %w", err)
	}

	heliusClient := helius.NewClient(cfg.HeliusAPIKey, log.Logger)
	birdeyeClient := birdeye.NewClient(cfg.BirdeyeAPIToken, log.Logger)

	reconstructor := position.NewReconstructor(heliusClient, heliusClient, birdeyeClient, log.Logger)
	lister := newAccountLister(heliusClient, wallets, cfg.DustThreshold, cfg.IgnoreMints, log.Logger)
	rebuilder := newTableRebuilder(reconstructor, wallets)

	store := position.NewStore(lister, rebuilder,
		time.Duration(cfg.SettleDelaySec)*time.Second, log.Logger)
	scheduler := position.NewScheduler(birdeyeClient, log.Logger)
	evaluator := position.NewEvaluator(
		time.Duration(cfg.HoldTimeoutHours)*time.Hour, log.Logger)

	jupiter := swap.NewJupiterClient(log.Logger)
	executor := swap.NewExecutor(jupiter, solClient,
		cfg.MaxChunkSOL, cfg.SlippageBps, uint(cfg.Retries), log.Logger)

	return &Runner{
		cfg:        cfg,
		log:        log,
		logger:     log.WithComponent("runner"),
		wallets:    wallets,
		byOwner:    byOwner,
		solClient:  solClient,
		store:      store,
		scheduler:  scheduler,
		evaluator:  evaluator,
		executor:   executor,
		liveness:   newLivenessServer(cfg.Port, log.Logger),
		shutdownCh: make(chan os.Signal, 1),
	}, nil
}

// Run starts the liveness endpoint and the poll loop, stopping both on
// SIGINT/SIGTERM or when either fails.
func (r *Runner) Run(ctx context.Context) error {
	signal.Notify(r.shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case sig := <-r.shutdownCh:
			r.logger.Info("Signal received, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-runCtx.Done():
		}
	}()

	r.logStartupBalances(runCtx)

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return r.liveness.Serve(gCtx)
	})
	g.Go(func() error {
		return r.loop(gCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	r.logger.Info("Seller stopped")
	return nil
}

// logStartupBalances reports each wallet's SOL balance once at startup so a
// drained fee wallet shows up immediately in the log.
func (r *Runner) logStartupBalances(ctx context.Context) {
	for _, slot := range r.wallets {
		lamports, err := r.solClient.GetBalanceWithRetry(ctx, slot.Wallet.PublicKey, balanceTries)
		if err != nil {
			r.logger.Warn("Failed to get wallet balance",
				zap.String("wallet", slot.Wallet.String()),
				zap.Error(err))
			continue
		}
		r.logger.Info("Wallet loaded",
			zap.String("wallet", slot.Wallet.String()),
			zap.Float64("sol_balance", float64(lamports)/lamportsPerSOL))
	}
}

func (r *Runner) loop(ctx context.Context) error {
	for {
		if err := r.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("Cycle failed", zap.Error(err))
		}

		sleep := r.sleepDuration(time.Now())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// cycle runs one full pass: reconcile the ledger with the chain, report
// holdings, refresh due quotes and act on any fired trigger. A sell failure
// is contained to its position; the rest of the cycle continues.
func (r *Runner) cycle(ctx context.Context) error {
	if err := r.store.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	r.reportHoldings(time.Now())
	r.scheduler.Refresh(ctx, r.store, time.Now())

	now := time.Now()
	for _, p := range r.store.Positions() {
		trigger, fire := r.evaluator.Evaluate(p, now)
		if !fire {
			continue
		}

		w, ok := r.byOwner[p.Owner]
		if !ok {
			r.logger.Error("No wallet for position owner", p.ShortFields()...)
			continue
		}

		opLog := r.log.WithOperation("sell")
		opLog.Info("Trigger fired",
			append(p.ShortFields(),
				zap.String("reason", trigger.Reason.String()),
				zap.Uint64("amount_raw", trigger.AmountRaw))...)

		if err := r.executor.Sell(ctx, w, p.Mint, trigger.AmountRaw); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			opLog.Error("Sell failed",
				append(p.ShortFields(), zap.Error(err))...)
			continue
		}
		opLog.Info("Sell complete",
			append(p.ShortFields(),
				zap.String("reason", trigger.Reason.String()))...)
		// The next reconcile sees the changed balance and rebuilds
		// whatever remains of the position.
	}

	return nil
}

func (r *Runner) reportHoldings(now time.Time) {
	full, short := r.store.DueForReport(now)
	for _, p := range full {
		r.logger.Info("Position report", p.LogFields()...)
	}
	for _, p := range short {
		r.logger.Info("Position", p.ShortFields()...)
	}
}

// sleepDuration keeps a tight cadence while positions are open and parks the
// loop until the next hour boundary when the ledger is empty, which is when
// fresh buys typically land.
func (r *Runner) sleepDuration(now time.Time) time.Duration {
	if r.store.Len() > 0 {
		return activePollInterval
	}
	next := now.Truncate(time.Hour).Add(time.Hour)
	return next.Sub(now)
}
