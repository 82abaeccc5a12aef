// ====================================
// File: cmd/closer/main.go
// ====================================
// closer burns the leftover balance of the configured close_mints and closes
// their token accounts, reclaiming the rent back to the wallet. Run it by
// hand after dead positions pile up.
package main

import (
	"context"
	"os"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/spl-seller/internal/blockchain/solana"
	"github.com/rovshanmuradov/spl-seller/internal/config"
	"github.com/rovshanmuradov/spl-seller/internal/helius"
	"github.com/rovshanmuradov/spl-seller/internal/logger"
	"github.com/rovshanmuradov/spl-seller/internal/wallet"
)

const closePacing = 2 * time.Second

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, err := logger.New(logger.DefaultConfig())
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	log.Info("Starting account closer")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.json"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}
	if len(cfg.CloseMints) == 0 {
		log.Info("No close_mints configured, nothing to do")
		return
	}

	solClient, err := solana.NewClient(cfg.RPCList, log.Logger)
	if err != nil {
		log.Fatal("Failed to build RPC pool", zap.Error(err))
	}
	heliusClient := helius.NewClient(cfg.HeliusAPIKey, log.Logger)

	closeSet := make(map[string]struct{}, len(cfg.CloseMints))
	for _, mint := range cfg.CloseMints {
		closeSet[mint] = struct{}{}
	}

	for i, wc := range cfg.Wallets {
		w, err := wallet.NewWallet(wc.PrivateKey)
		if err != nil {
			log.Error("Bad wallet, skipping", zap.Int("slot", i+1), zap.Error(err))
			continue
		}
		closeWalletAccounts(ctx, log.WithWallet(w.String()), solClient, heliusClient, w, closeSet)
	}
}

func closeWalletAccounts(ctx context.Context, log *zap.Logger, solClient *solana.Client, heliusClient *helius.Client, w *wallet.Wallet, closeSet map[string]struct{}) {
	accounts, err := heliusClient.TokenAccounts(ctx, w.PublicKey.String())
	if err != nil {
		log.Error("Failed to list token accounts", zap.Error(err))
		return
	}

	for _, acct := range accounts {
		if _, ok := closeSet[acct.Mint]; !ok {
			continue
		}
		if err := burnAndClose(ctx, log, solClient, w, acct); err != nil {
			log.Error("Failed to close account",
				zap.String("mint", acct.Mint),
				zap.String("account", acct.Address),
				zap.Error(err))
		} else {
			log.Info("Account closed",
				zap.String("mint", acct.Mint),
				zap.String("account", acct.Address),
				zap.Uint64("burned", acct.Amount))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(closePacing):
		}
	}
}

func burnAndClose(ctx context.Context, log *zap.Logger, solClient *solana.Client, w *wallet.Wallet, acct helius.TokenAccount) error {
	account, err := solanago.PublicKeyFromBase58(acct.Address)
	if err != nil {
		return err
	}
	mint, err := solanago.PublicKeyFromBase58(acct.Mint)
	if err != nil {
		return err
	}

	// Most holdings sit in the associated account; anything else (a manually
	// created account, a transfer into a secondary account) is still closed,
	// just flagged for the log.
	if ata, err := w.GetATA(mint); err == nil && !ata.Equals(account) {
		log.Warn("Closing non-associated token account",
			zap.String("mint", acct.Mint),
			zap.String("account", acct.Address),
			zap.String("ata", ata.String()))
	}

	var instructions []solanago.Instruction
	if acct.Amount > 0 {
		burn := token.NewBurnInstruction(
			acct.Amount,
			account,
			mint,
			w.PublicKey,
			nil,
		).Build()
		instructions = append(instructions, burn)
	}
	closeInst := token.NewCloseAccountInstruction(
		account,
		w.PublicKey,
		w.PublicKey,
		nil,
	).Build()
	instructions = append(instructions, closeInst)

	blockhash, err := solClient.GetRecentBlockhash(ctx)
	if err != nil {
		return err
	}

	tx, err := solanago.NewTransaction(
		instructions,
		blockhash,
		solanago.TransactionPayer(w.PublicKey),
	)
	if err != nil {
		return err
	}
	if err := w.SignTransaction(tx); err != nil {
		return err
	}

	sig, err := solClient.SendTransaction(ctx, tx)
	if err != nil {
		return err
	}
	log.Info("Close transaction sent",
		zap.String("mint", acct.Mint),
		zap.String("tx", "https://solscan.io/tx/"+sig.String()))

	return solClient.WaitForTransactionConfirmation(ctx, sig)
}
