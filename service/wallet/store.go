package wallet

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/evmfolio/evmfolio/service/db"
)

// Store is the persistence capability the wallet service needs. *db.Store
// satisfies it; tests substitute an in-memory fake.
type Store interface {
	GetOrCreateWallet(ctx context.Context, address, network string) (*db.Wallet, error)
	GetWallet(ctx context.Context, address, network string) (*db.Wallet, error)
	ClaimWalletRefresh(ctx context.Context, address, network string, staleBefore, claimExpiredBefore time.Time) (bool, error)
	ReleaseWalletRefresh(ctx context.Context, address, network string) error
	UpdateWalletBalance(ctx context.Context, params db.UpdateWalletBalanceParams) (*db.Wallet, error)
	WalletExists(ctx context.Context, address, network string) (bool, error)
	InsertWalletViewLog(ctx context.Context, params db.InsertWalletViewLogParams) error
	GetWalletStats(ctx context.Context, address, network string) (*db.WalletStats, error)

	UpsertTransaction(ctx context.Context, params db.UpsertTransactionParams) (*db.Transaction, error)
	ListRecentTransactions(ctx context.Context, address, network string, limit int32) ([]*db.Transaction, error)
	CountTransactions(ctx context.Context, address, network string) (int64, error)

	UpsertBalanceHistory(ctx context.Context, params db.UpsertBalanceHistoryParams) error
	ListBalanceHistorySince(ctx context.Context, address, network string, since time.Time) ([]*db.BalanceHistoryPoint, error)
}

var _ Store = (*db.Store)(nil)

// HistoryPoint is one day in a wallet's balance series. Days without a
// stored sample carry the last known balance forward.
type HistoryPoint struct {
	Date       time.Time       `json:"date"`
	Balance    decimal.Decimal `json:"balance"`
	BalanceUSD decimal.Decimal `json:"balance_usd"`
}
