package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/evmfolio/evmfolio/service/metrics"
)

// Store provides database operations for the service. All monetary columns
// are NUMERIC in Postgres and surface as shopspring decimals in the domain
// models; values cross the wire as text so no precision is lost.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no query metrics are recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

func (s *Store) recordQuery(operation, table string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
}

// Wallet represents the cached on-chain state of one address on one network.
// (address, network) uniquely identifies a wallet. LastUpdated is nil until
// the first successful refresh.
type Wallet struct {
	Address          string
	Network          string
	Balance          decimal.Decimal
	BalanceUSD       decimal.Decimal
	LastUpdated      *time.Time
	RefreshClaimedAt *time.Time
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const walletColumns = `address, network, balance::text, balance_usd::text,
	last_updated, refresh_claimed_at, is_active, created_at, updated_at`

// GetOrCreateWallet returns the wallet row for (address, network), inserting
// a zero-balance active row if none exists. The insert is a single atomic
// conditional insert, so concurrent first access for the same key yields
// exactly one row.
func (s *Store) GetOrCreateWallet(ctx context.Context, address, network string) (*Wallet, error) {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallets (address, network, balance, balance_usd, is_active)
		VALUES ($1, $2, 0, 0, TRUE)
		ON CONFLICT (address, network) DO NOTHING`,
		address, network)
	s.recordQuery("insert_wallet", "wallets", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to insert wallet: %w", err)
	}

	return s.GetWallet(ctx, address, network)
}

// GetWallet retrieves a wallet by its address and network.
// Returns pgx.ErrNoRows (wrapped) if the wallet does not exist.
func (s *Store) GetWallet(ctx context.Context, address, network string) (*Wallet, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE address = $1 AND network = $2`,
		address, network)

	w, err := scanWallet(row)
	s.recordQuery("get_wallet", "wallets", start, err)
	return w, err
}

// ClaimWalletRefresh attempts to claim the refresh slot for a stale wallet.
// The claim succeeds only if the wallet is stale (last_updated is null or
// older than staleBefore) and no live claim exists (refresh_claimed_at is
// null or older than claimExpiredBefore). Returns true iff this caller won
// the claim; losers should re-read the row instead of re-fetching upstream.
func (s *Store) ClaimWalletRefresh(ctx context.Context, address, network string, staleBefore, claimExpiredBefore time.Time) (bool, error) {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE wallets
		SET refresh_claimed_at = now()
		WHERE address = $1 AND network = $2
		  AND (last_updated IS NULL OR last_updated < $3)
		  AND (refresh_claimed_at IS NULL OR refresh_claimed_at < $4)`,
		address, network, staleBefore, claimExpiredBefore)
	s.recordQuery("claim_refresh", "wallets", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to claim wallet refresh: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ReleaseWalletRefresh drops a refresh claim without updating balances.
// Called when a claimed refresh fails so another caller can retry promptly.
func (s *Store) ReleaseWalletRefresh(ctx context.Context, address, network string) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		UPDATE wallets
		SET refresh_claimed_at = NULL
		WHERE address = $1 AND network = $2`,
		address, network)
	s.recordQuery("release_refresh", "wallets", start, err)
	if err != nil {
		return fmt.Errorf("failed to release wallet refresh: %w", err)
	}
	return nil
}

// UpdateWalletBalanceParams contains the parameters for recording a
// completed refresh.
type UpdateWalletBalanceParams struct {
	Address     string
	Network     string
	Balance     decimal.Decimal
	BalanceUSD  decimal.Decimal
	LastUpdated time.Time
}

// UpdateWalletBalance records the result of a refresh cycle in one logical
// update: balance, USD valuation, last_updated, and reactivation, clearing
// any refresh claim.
func (s *Store) UpdateWalletBalance(ctx context.Context, params UpdateWalletBalanceParams) (*Wallet, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		UPDATE wallets
		SET balance = $3,
		    balance_usd = $4,
		    last_updated = $5,
		    refresh_claimed_at = NULL,
		    is_active = TRUE,
		    updated_at = now()
		WHERE address = $1 AND network = $2
		RETURNING `+walletColumns,
		params.Address, params.Network,
		params.Balance.String(), params.BalanceUSD.String(), params.LastUpdated)

	w, err := scanWallet(row)
	s.recordQuery("update_balance", "wallets", start, err)
	return w, err
}

// WalletExists checks if a wallet row exists for (address, network).
func (s *Store) WalletExists(ctx context.Context, address, network string) (bool, error) {
	var exists bool
	start := time.Now()
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM wallets WHERE address = $1 AND network = $2
		)`,
		address, network).Scan(&exists)
	s.recordQuery("wallet_exists", "wallets", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to check wallet existence: %w", err)
	}
	return exists, nil
}

// InsertWalletViewLogParams contains the parameters for one audit entry.
type InsertWalletViewLogParams struct {
	WalletAddress string
	IPAddress     string
	UserAgent     string
}

// InsertWalletViewLog appends one row to the wallet view audit trail.
// Rows are never updated or deduplicated.
func (s *Store) InsertWalletViewLog(ctx context.Context, params InsertWalletViewLogParams) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_view_logs (wallet_address, ip_address, user_agent, viewed_at)
		VALUES ($1, $2, $3, now())`,
		params.WalletAddress, params.IPAddress, params.UserAgent)
	s.recordQuery("insert_view_log", "wallet_view_logs", start, err)
	if err != nil {
		return fmt.Errorf("failed to insert wallet view log: %w", err)
	}
	return nil
}

// WalletStats holds aggregate activity figures for one wallet. Sums and
// counts are computed by the database so they stay correct as transaction
// volume grows.
type WalletStats struct {
	TotalTransactions int64
	TotalReceived     decimal.Decimal
	TotalSent         decimal.Decimal
	ViewCount         int64
	FirstTransaction  *time.Time
	LastTransaction   *time.Time
}

// GetWalletStats computes aggregate statistics for a wallet via SQL
// aggregates. The caller is responsible for distinguishing a missing wallet
// (GetWallet) from a zero-activity one.
func (s *Store) GetWalletStats(ctx context.Context, address, network string) (*WalletStats, error) {
	stats := &WalletStats{}

	var received, sent string
	var first, last pgtype.Timestamptz
	start := time.Now()
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(amount) FILTER (WHERE type = 'received'), 0)::text,
		       COALESCE(SUM(amount) FILTER (WHERE type = 'sent'), 0)::text,
		       MIN(block_timestamp),
		       MAX(block_timestamp)
		FROM transactions
		WHERE wallet_address = $1 AND network = $2`,
		address, network).Scan(&stats.TotalTransactions, &received, &sent, &first, &last)
	s.recordQuery("wallet_stats", "transactions", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate transactions: %w", err)
	}

	if stats.TotalReceived, err = decimal.NewFromString(received); err != nil {
		return nil, fmt.Errorf("failed to parse received sum: %w", err)
	}
	if stats.TotalSent, err = decimal.NewFromString(sent); err != nil {
		return nil, fmt.Errorf("failed to parse sent sum: %w", err)
	}
	stats.FirstTransaction = timePtrFromPgTimestamptz(first)
	stats.LastTransaction = timePtrFromPgTimestamptz(last)

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM wallet_view_logs WHERE wallet_address = $1`,
		address).Scan(&stats.ViewCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count wallet views: %w", err)
	}

	return stats, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*Wallet, error) {
	var w Wallet
	var balance, balanceUSD string
	var lastUpdated, claimedAt pgtype.Timestamptz

	err := row.Scan(&w.Address, &w.Network, &balance, &balanceUSD,
		&lastUpdated, &claimedAt, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("failed to parse wallet balance: %w", err)
	}
	if w.BalanceUSD, err = decimal.NewFromString(balanceUSD); err != nil {
		return nil, fmt.Errorf("failed to parse wallet balance_usd: %w", err)
	}
	w.LastUpdated = timePtrFromPgTimestamptz(lastUpdated)
	w.RefreshClaimedAt = timePtrFromPgTimestamptz(claimedAt)

	return &w, nil
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
