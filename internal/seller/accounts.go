// ==================================
// File: internal/seller/accounts.go
// ==================================
package seller

import (
	"context"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/spl-seller/internal/helius"
	"github.com/rovshanmuradov/spl-seller/internal/position"
	"github.com/rovshanmuradov/spl-seller/internal/strategy"
	"github.com/rovshanmuradov/spl-seller/internal/wallet"
)

// WalletSlot binds one wallet to the exit-strategy table it trades by.
type WalletSlot struct {
	Wallet *wallet.Wallet
	Table  strategy.Table
}

// TokenAccountService lists token accounts for an owner.
type TokenAccountService interface {
	TokenAccounts(ctx context.Context, owner string) ([]helius.TokenAccount, error)
}

// accountLister adapts the token-account service into the store's balance
// feed, applying the dust threshold and the ignore list. A failing wallet is
// logged and skipped so it cannot block the others.
type accountLister struct {
	accounts TokenAccountService
	wallets  []*WalletSlot
	dust     uint64
	ignore   map[string]struct{}
	logger   *zap.Logger
}

func newAccountLister(accounts TokenAccountService, wallets []*WalletSlot, dust uint64, ignoreMints []string, logger *zap.Logger) *accountLister {
	ignore := make(map[string]struct{}, len(ignoreMints))
	for _, mint := range ignoreMints {
		ignore[mint] = struct{}{}
	}
	return &accountLister{
		accounts: accounts,
		wallets:  wallets,
		dust:     dust,
		ignore:   ignore,
		logger:   logger.Named("accounts"),
	}
}

func (l *accountLister) ListBalances(ctx context.Context) ([]position.Balance, error) {
	var balances []position.Balance
	for _, slot := range l.wallets {
		owner := slot.Wallet.PublicKey.String()
		accounts, err := l.accounts.TokenAccounts(ctx, owner)
		if err != nil {
			l.logger.Warn("Error getting token accounts",
				zap.String("wallet", owner),
				zap.Error(err))
			continue
		}
		for _, acct := range accounts {
			if _, skip := l.ignore[acct.Mint]; skip {
				continue
			}
			if acct.Amount <= l.dust {
				continue
			}
			balances = append(balances, position.Balance{
				Owner:     owner,
				Mint:      acct.Mint,
				Address:   acct.Address,
				AmountRaw: acct.Amount,
			})
		}
	}
	return balances, nil
}

// tableRebuilder routes a rebuild to the reconstructor with the owning
// wallet's strategy table.
type tableRebuilder struct {
	reconstructor *position.Reconstructor
	tables        map[string]strategy.Table
}

func newTableRebuilder(reconstructor *position.Reconstructor, wallets []*WalletSlot) *tableRebuilder {
	tables := make(map[string]strategy.Table, len(wallets))
	for _, slot := range wallets {
		tables[slot.Wallet.PublicKey.String()] = slot.Table
	}
	return &tableRebuilder{
		reconstructor: reconstructor,
		tables:        tables,
	}
}

func (r *tableRebuilder) Rebuild(ctx context.Context, bal position.Balance, initialStop float64) (*position.Position, error) {
	table, ok := r.tables[bal.Owner]
	if !ok {
		return nil, position.ErrDataQuality
	}
	return r.reconstructor.Reconstruct(ctx, bal, table, initialStop)
}
