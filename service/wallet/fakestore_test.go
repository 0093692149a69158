package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/evmfolio/evmfolio/service/db"
)

// fakeStore is an in-memory Store with the same upsert and claim semantics
// as the SQL implementation.
type fakeStore struct {
	mu       sync.Mutex
	wallets  map[string]*db.Wallet
	txns     map[string]*db.Transaction
	history  map[string]*db.BalanceHistoryPoint
	viewLogs []db.InsertWalletViewLogParams

	claimCalls   int
	releaseCalls int
	updateCalls  int

	failUpdateBalance error
	failUpsertTxn     error
	failViewLog       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		wallets: make(map[string]*db.Wallet),
		txns:    make(map[string]*db.Transaction),
		history: make(map[string]*db.BalanceHistoryPoint),
	}
}

func walletKey(address, network string) string { return address + "|" + network }

func (f *fakeStore) GetOrCreateWallet(ctx context.Context, address, network string) (*db.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := walletKey(address, network)
	if w, ok := f.wallets[key]; ok {
		cp := *w
		return &cp, nil
	}

	now := time.Now().UTC()
	w := &db.Wallet{
		Address:    address,
		Network:    network,
		Balance:    decimal.Zero,
		BalanceUSD: decimal.Zero,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	f.wallets[key] = w
	cp := *w
	return &cp, nil
}

func (f *fakeStore) GetWallet(ctx context.Context, address, network string) (*db.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.wallets[walletKey(address, network)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *w
	return &cp, nil
}

func (f *fakeStore) ClaimWalletRefresh(ctx context.Context, address, network string, staleBefore, claimExpiredBefore time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimCalls++

	w, ok := f.wallets[walletKey(address, network)]
	if !ok {
		return false, nil
	}

	stale := w.LastUpdated == nil || w.LastUpdated.Before(staleBefore)
	claimFree := w.RefreshClaimedAt == nil || w.RefreshClaimedAt.Before(claimExpiredBefore)
	if !stale || !claimFree {
		return false, nil
	}

	now := time.Now().UTC()
	w.RefreshClaimedAt = &now
	return true, nil
}

func (f *fakeStore) ReleaseWalletRefresh(ctx context.Context, address, network string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseCalls++

	if w, ok := f.wallets[walletKey(address, network)]; ok {
		w.RefreshClaimedAt = nil
	}
	return nil
}

func (f *fakeStore) UpdateWalletBalance(ctx context.Context, params db.UpdateWalletBalanceParams) (*db.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++

	if f.failUpdateBalance != nil {
		return nil, f.failUpdateBalance
	}

	w, ok := f.wallets[walletKey(params.Address, params.Network)]
	if !ok {
		return nil, pgx.ErrNoRows
	}

	lastUpdated := params.LastUpdated
	w.Balance = params.Balance
	w.BalanceUSD = params.BalanceUSD
	w.LastUpdated = &lastUpdated
	w.RefreshClaimedAt = nil
	w.IsActive = true
	w.UpdatedAt = time.Now().UTC()
	cp := *w
	return &cp, nil
}

func (f *fakeStore) WalletExists(ctx context.Context, address, network string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.wallets[walletKey(address, network)]
	return ok, nil
}

func (f *fakeStore) InsertWalletViewLog(ctx context.Context, params db.InsertWalletViewLogParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failViewLog != nil {
		return f.failViewLog
	}
	f.viewLogs = append(f.viewLogs, params)
	return nil
}

func (f *fakeStore) GetWalletStats(ctx context.Context, address, network string) (*db.WalletStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := &db.WalletStats{
		TotalReceived: decimal.Zero,
		TotalSent:     decimal.Zero,
	}
	for _, txn := range f.txns {
		if txn.WalletAddress != address || txn.Network != network {
			continue
		}
		stats.TotalTransactions++
		switch txn.Type {
		case db.TxTypeReceived:
			stats.TotalReceived = stats.TotalReceived.Add(txn.Amount)
		case db.TxTypeSent:
			stats.TotalSent = stats.TotalSent.Add(txn.Amount)
		}
		ts := txn.BlockTimestamp
		if stats.FirstTransaction == nil || ts.Before(*stats.FirstTransaction) {
			first := ts
			stats.FirstTransaction = &first
		}
		if stats.LastTransaction == nil || ts.After(*stats.LastTransaction) {
			last := ts
			stats.LastTransaction = &last
		}
	}
	for _, v := range f.viewLogs {
		if v.WalletAddress == address {
			stats.ViewCount++
		}
	}
	return stats, nil
}

func (f *fakeStore) UpsertTransaction(ctx context.Context, params db.UpsertTransactionParams) (*db.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failUpsertTxn != nil {
		return nil, f.failUpsertTxn
	}

	key := params.Hash + "|" + params.WalletAddress
	now := time.Now().UTC()
	if existing, ok := f.txns[key]; ok {
		// Mirror the SQL upsert: only a pending status may change,
		// amount_usd is backfilled only from zero, everything else is
		// immutable.
		if existing.Status == db.TxStatusPending {
			existing.Status = params.Status
		}
		if existing.AmountUSD.IsZero() {
			existing.AmountUSD = params.AmountUSD
		}
		existing.UpdatedAt = now
		cp := *existing
		return &cp, nil
	}

	txn := &db.Transaction{
		Hash:           params.Hash,
		WalletAddress:  params.WalletAddress,
		Network:        params.Network,
		Type:           params.Type,
		Amount:         params.Amount,
		AmountUSD:      params.AmountUSD,
		ToAddress:      params.ToAddress,
		FromAddress:    params.FromAddress,
		BlockNumber:    params.BlockNumber,
		BlockTimestamp: params.BlockTimestamp,
		GasUsed:        params.GasUsed,
		GasPrice:       params.GasPrice,
		Status:         params.Status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	f.txns[key] = txn
	cp := *txn
	return &cp, nil
}

func (f *fakeStore) ListRecentTransactions(ctx context.Context, address, network string, limit int32) ([]*db.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*db.Transaction, 0)
	for _, txn := range f.txns {
		if txn.WalletAddress == address && txn.Network == network {
			cp := *txn
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BlockTimestamp.After(out[j].BlockTimestamp)
	})
	if int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) CountTransactions(ctx context.Context, address, network string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for _, txn := range f.txns {
		if txn.WalletAddress == address && txn.Network == network {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) UpsertBalanceHistory(ctx context.Context, params db.UpsertBalanceHistoryParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := walletKey(params.WalletAddress, params.Network) + "|" + params.Date.Format("2006-01-02")
	f.history[key] = &db.BalanceHistoryPoint{
		WalletAddress: params.WalletAddress,
		Network:       params.Network,
		Date:          params.Date,
		Balance:       params.Balance,
		BalanceUSD:    params.BalanceUSD,
	}
	return nil
}

func (f *fakeStore) ListBalanceHistorySince(ctx context.Context, address, network string, since time.Time) ([]*db.BalanceHistoryPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*db.BalanceHistoryPoint, 0)
	for _, p := range f.history {
		if p.WalletAddress == address && p.Network == network && !p.Date.Before(since) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
