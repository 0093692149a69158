// Package wallet implements the core wallet-state capability: cached
// balance and valuation reads, refresh cycles against upstream providers,
// transaction reconciliation, daily balance history, and signature login.
package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/evmfolio/evmfolio/service/auth"
	"github.com/evmfolio/evmfolio/service/db"
	"github.com/evmfolio/evmfolio/service/evm"
	"github.com/evmfolio/evmfolio/service/metrics"
	"github.com/evmfolio/evmfolio/service/nats"
	"github.com/evmfolio/evmfolio/service/network"
)

// View is the assembled wallet state returned to callers: current balance
// and valuation, the most recent transactions, and the gap-free daily
// balance series.
type View struct {
	Address     string          `json:"address"`
	Network     string          `json:"network"`
	NetworkName string          `json:"network_name"`
	Symbol      string          `json:"symbol"`
	Balance     decimal.Decimal `json:"balance"`
	BalanceUSD  decimal.Decimal `json:"balance_usd"`
	LastUpdated *time.Time      `json:"last_updated"`
	// Stale is true when the served state is older than the freshness
	// window, which happens only when a refresh attempt just failed.
	Stale bool `json:"stale"`

	RecentTransactions []*db.Transaction `json:"recent_transactions"`
	BalanceHistory     []HistoryPoint    `json:"balance_history"`
}

// Stats summarizes a wallet's ledger activity.
type Stats struct {
	Address           string          `json:"address"`
	Network           string          `json:"network"`
	TotalTransactions int64           `json:"total_transactions"`
	TotalReceived     decimal.Decimal `json:"total_received"`
	TotalSent         decimal.Decimal `json:"total_sent"`
	ViewCount         int64           `json:"view_count"`
	FirstTransaction  *time.Time      `json:"first_transaction"`
	LastTransaction   *time.Time      `json:"last_transaction"`
}

// Options tune the service's freshness and fetch behavior.
type Options struct {
	// StaleTTL is how long stored wallet state is served without a
	// refresh.
	StaleTTL time.Duration

	// RefreshClaimTTL is how long a refresh claim blocks competing
	// refreshes before it is presumed dead.
	RefreshClaimTTL time.Duration

	// TxFetchLimit is how many transactions each refresh pulls from the
	// explorer.
	TxFetchLimit int

	// RecentTxCount is how many transactions a wallet view includes.
	RecentTxCount int32

	// HistoryWindowDays is the length of the balance series in a view.
	HistoryWindowDays int
}

func (o *Options) applyDefaults() {
	if o.StaleTTL <= 0 {
		o.StaleTTL = 5 * time.Minute
	}
	if o.RefreshClaimTTL <= 0 {
		o.RefreshClaimTTL = 30 * time.Second
	}
	if o.TxFetchLimit <= 0 {
		o.TxFetchLimit = 20
	}
	if o.RecentTxCount <= 0 {
		o.RecentTxCount = 5
	}
	if o.HistoryWindowDays <= 0 {
		o.HistoryWindowDays = DefaultHistoryWindowDays
	}
}

// Service coordinates wallet reads and refresh cycles. Reads within the
// freshness window never touch upstream providers; stale reads trigger at
// most one refresh per wallet at a time.
type Service struct {
	store      Store
	provider   evm.Provider
	registry   *network.Registry
	verifier   *auth.Verifier
	reconciler *Reconciler
	history    *HistoryAggregator
	metrics    *metrics.Metrics
	logger     *slog.Logger
	opts       Options

	// now is replaceable in tests.
	now func() time.Time
}

// NewService creates a new wallet service. publisher and m may be nil.
func NewService(store Store, provider evm.Provider, registry *network.Registry, publisher nats.Publisher, m *metrics.Metrics, logger *slog.Logger, opts Options) *Service {
	opts.applyDefaults()
	return &Service{
		store:      store,
		provider:   provider,
		registry:   registry,
		verifier:   auth.NewVerifier(logger),
		reconciler: NewReconciler(store, publisher, m, logger),
		history:    NewHistoryAggregator(store, logger),
		metrics:    m,
		logger:     logger,
		opts:       opts,
		now:        time.Now,
	}
}

// GetWalletInfo returns the wallet's current state, refreshing from
// upstream providers first when the stored state is stale. Unknown wallets
// are registered on first read. If a refresh fails and older state exists,
// that state is served with Stale set; a brand-new wallet with no state
// fails with ErrUpstreamUnavailable.
func (s *Service) GetWalletInfo(ctx context.Context, address, networkID string) (*View, error) {
	if !auth.ValidAddress(address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	net := s.registry.Resolve(networkID)

	w, err := s.store.GetOrCreateWallet(ctx, address, string(net.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}

	now := s.now()
	if s.isFresh(w, now) {
		s.recordRead(net, "fresh")
		return s.assembleView(ctx, w, net, false)
	}

	w, stale, err := s.refreshOrWait(ctx, w, net, now, now.Add(-s.opts.StaleTTL))
	if err != nil {
		return nil, err
	}
	if stale {
		s.recordRead(net, "stale")
	} else {
		s.recordRead(net, "refreshed")
	}
	return s.assembleView(ctx, w, net, stale)
}

// RefreshWalletInfo forces a refresh cycle regardless of freshness and
// returns the resulting state. Unlike GetWalletInfo it surfaces refresh
// failures instead of degrading to stale state. If a competing refresh is
// already running, its result is served once visible.
func (s *Service) RefreshWalletInfo(ctx context.Context, address, networkID string) (*View, error) {
	if !auth.ValidAddress(address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	net := s.registry.Resolve(networkID)

	w, err := s.store.GetOrCreateWallet(ctx, address, string(net.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}

	now := s.now()
	claimed, err := s.store.ClaimWalletRefresh(ctx, w.Address, w.Network, now, now.Add(-s.opts.RefreshClaimTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to claim refresh: %w", err)
	}
	if !claimed {
		// A competing refresh holds the claim; serve the row as-is.
		w, err = s.store.GetWallet(ctx, w.Address, w.Network)
		if err != nil {
			return nil, fmt.Errorf("failed to reload wallet: %w", err)
		}
		return s.assembleView(ctx, w, net, !s.isFresh(w, s.now()))
	}

	w, err = s.refresh(ctx, w, net)
	if err != nil {
		return nil, err
	}
	s.recordRead(net, "refreshed")
	return s.assembleView(ctx, w, net, false)
}

// GetWalletStats returns ledger aggregates for a tracked wallet, or
// ErrNotFound if the wallet has never been seen.
func (s *Service) GetWalletStats(ctx context.Context, address, networkID string) (*Stats, error) {
	if !auth.ValidAddress(address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	net := s.registry.Resolve(networkID)

	exists, err := s.store.WalletExists(ctx, address, string(net.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to check wallet existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s on %s", ErrNotFound, address, net.ID)
	}

	stats, err := s.store.GetWalletStats(ctx, address, string(net.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to compute wallet stats: %w", err)
	}

	return &Stats{
		Address:           address,
		Network:           string(net.ID),
		TotalTransactions: stats.TotalTransactions,
		TotalReceived:     stats.TotalReceived,
		TotalSent:         stats.TotalSent,
		ViewCount:         stats.ViewCount,
		FirstTransaction:  stats.FirstTransaction,
		LastTransaction:   stats.LastTransaction,
	}, nil
}

// LogWalletView appends to the wallet view audit trail. Logging is
// best-effort: failures are recorded in the service log and never surfaced
// to the caller, since a broken audit trail must not break wallet reads.
func (s *Service) LogWalletView(ctx context.Context, address, ipAddress, userAgent string) {
	if !auth.ValidAddress(address) {
		return
	}
	err := s.store.InsertWalletViewLog(ctx, db.InsertWalletViewLogParams{
		WalletAddress: address,
		IPAddress:     ipAddress,
		UserAgent:     userAgent,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to log wallet view",
			"address", address,
			"error", err,
		)
	}
}

// VerifyLogin checks an EIP-191 personal-sign login attempt. On success
// the wallet is registered on the default network so a signature login is
// enough to start tracking.
func (s *Service) VerifyLogin(ctx context.Context, message, signature, address string) (bool, error) {
	if !auth.ValidAddress(address) {
		return false, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	ok := s.verifier.Verify(message, signature, address)
	if s.metrics != nil {
		outcome := "rejected"
		if ok {
			outcome = "accepted"
		}
		s.metrics.RecordSignatureVerification(outcome)
	}
	if !ok {
		return false, nil
	}

	if _, err := s.store.GetOrCreateWallet(ctx, address, string(network.DefaultID)); err != nil {
		// The signature already checked out; registration failure should
		// not fail the login.
		s.logger.WarnContext(ctx, "failed to register wallet after login",
			"address", address,
			"error", err,
		)
	}
	return true, nil
}

// ListNetworks returns the supported networks.
func (s *Service) ListNetworks() []network.Info {
	return s.registry.List()
}

// refreshOrWait runs a refresh cycle if this call wins the claim, or
// serves whatever state the winner left behind. The returned bool is true
// when the served state is stale because the refresh failed.
func (s *Service) refreshOrWait(ctx context.Context, w *db.Wallet, net network.Info, now, staleBefore time.Time) (*db.Wallet, bool, error) {
	claimed, err := s.store.ClaimWalletRefresh(ctx, w.Address, w.Network, staleBefore, now.Add(-s.opts.RefreshClaimTTL))
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim refresh: %w", err)
	}

	if !claimed {
		// Lost the claim: either a competing refresh is in flight or the
		// row just became fresh. Serve the current row either way.
		w, err = s.store.GetWallet(ctx, w.Address, w.Network)
		if err != nil {
			return nil, false, fmt.Errorf("failed to reload wallet: %w", err)
		}
		return w, !s.isFresh(w, s.now()), nil
	}

	refreshed, err := s.refresh(ctx, w, net)
	if err != nil {
		if w.LastUpdated == nil {
			return nil, false, err
		}
		// Degrade to the stored state.
		if s.metrics != nil {
			s.metrics.RecordStaleServe(string(net.ID))
		}
		s.logger.WarnContext(ctx, "refresh failed, serving stale state",
			"address", w.Address,
			"network", net.ID,
			"last_updated", w.LastUpdated,
			"error", err,
		)
		return w, true, nil
	}
	return refreshed, false, nil
}

// refresh runs one full refresh cycle: fetch balance, transactions, and
// price concurrently, persist the new state, reconcile the ledger, and
// record the daily history sample. The caller must hold the refresh claim;
// refresh releases it on failure.
func (s *Service) refresh(ctx context.Context, w *db.Wallet, net network.Info) (*db.Wallet, error) {
	start := s.now()

	var (
		balance decimal.Decimal
		raws    []*evm.RawTransaction
		price   decimal.Decimal
		txErr   error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balance, err = s.provider.GetBalance(gctx, w.Address, net)
		return err
	})
	g.Go(func() error {
		// Transaction listing failures degrade the refresh rather than
		// failing it; the ledger catches up on the next cycle.
		raws, txErr = s.provider.GetTransactions(gctx, w.Address, net, s.opts.TxFetchLimit)
		return nil
	})
	g.Go(func() error {
		var err error
		price, err = s.provider.GetTokenPrice(gctx, net.PriceID)
		if err != nil {
			// Without a price the balance is still worth storing; USD
			// valuations for this cycle are zero.
			s.logger.WarnContext(gctx, "price fetch failed, valuing at zero",
				"price_id", net.PriceID,
				"error", err,
			)
			price = decimal.Zero
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if relErr := s.store.ReleaseWalletRefresh(ctx, w.Address, w.Network); relErr != nil {
			s.logger.ErrorContext(ctx, "failed to release refresh claim",
				"address", w.Address,
				"network", w.Network,
				"error", relErr,
			)
		}
		s.recordRefresh(net, "error", start)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	now := s.now()
	updated, err := s.store.UpdateWalletBalance(ctx, db.UpdateWalletBalanceParams{
		Address:     w.Address,
		Network:     w.Network,
		Balance:     balance,
		BalanceUSD:  balance.Mul(price),
		LastUpdated: now,
	})
	if err != nil {
		if relErr := s.store.ReleaseWalletRefresh(ctx, w.Address, w.Network); relErr != nil {
			s.logger.ErrorContext(ctx, "failed to release refresh claim",
				"address", w.Address,
				"network", w.Network,
				"error", relErr,
			)
		}
		s.recordRefresh(net, "error", start)
		return nil, fmt.Errorf("failed to persist refreshed balance: %w", err)
	}

	if txErr != nil {
		s.logger.WarnContext(ctx, "transaction listing failed, ledger not reconciled",
			"address", w.Address,
			"network", net.ID,
			"error", txErr,
		)
	} else if len(raws) > 0 {
		if _, err := s.reconciler.Reconcile(ctx, w.Address, net, raws, price); err != nil {
			s.logger.WarnContext(ctx, "ledger reconciliation incomplete",
				"address", w.Address,
				"network", net.ID,
				"error", err,
			)
		}
	}

	if err := s.history.RecordSample(ctx, w.Address, w.Network, updated.Balance, updated.BalanceUSD, now); err != nil {
		s.logger.WarnContext(ctx, "failed to record balance history sample",
			"address", w.Address,
			"network", net.ID,
			"error", err,
		)
	}

	s.recordRefresh(net, "success", start)
	return updated, nil
}

// assembleView loads the transactions and history series for the wallet
// row and packages the response.
func (s *Service) assembleView(ctx context.Context, w *db.Wallet, net network.Info, stale bool) (*View, error) {
	txns, err := s.store.ListRecentTransactions(ctx, w.Address, w.Network, s.opts.RecentTxCount)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent transactions: %w", err)
	}

	series, err := s.history.BuildSeries(ctx, w.Address, w.Network, s.now(), s.opts.HistoryWindowDays)
	if err != nil {
		return nil, fmt.Errorf("failed to build balance history: %w", err)
	}

	return &View{
		Address:            w.Address,
		Network:            w.Network,
		NetworkName:        net.Name,
		Symbol:             net.Symbol,
		Balance:            w.Balance,
		BalanceUSD:         w.BalanceUSD,
		LastUpdated:        w.LastUpdated,
		Stale:              stale,
		RecentTransactions: txns,
		BalanceHistory:     series,
	}, nil
}

func (s *Service) isFresh(w *db.Wallet, now time.Time) bool {
	return w.LastUpdated != nil && now.Sub(*w.LastUpdated) < s.opts.StaleTTL
}

func (s *Service) recordRead(net network.Info, freshness string) {
	if s.metrics != nil {
		s.metrics.RecordWalletRead(string(net.ID), freshness)
	}
}

func (s *Service) recordRefresh(net network.Info, status string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordWalletRefresh(string(net.ID), status, s.now().Sub(start).Seconds())
	}
}
