package db

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceHistoryPoint is one persisted daily balance sample. At most one
// row exists per (wallet_address, network, date); a same-day refresh
// overwrites the sample.
type BalanceHistoryPoint struct {
	WalletAddress string
	Network       string
	Date          time.Time // calendar day, midnight UTC
	Balance       decimal.Decimal
	BalanceUSD    decimal.Decimal
}

// UpsertBalanceHistoryParams contains the parameters for recording a daily
// balance sample.
type UpsertBalanceHistoryParams struct {
	WalletAddress string
	Network       string
	Date          time.Time
	Balance       decimal.Decimal
	BalanceUSD    decimal.Decimal
}

// UpsertBalanceHistory records the balance sample for one calendar day,
// overwriting any sample already stored for that day.
func (s *Store) UpsertBalanceHistory(ctx context.Context, params UpsertBalanceHistoryParams) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_balance_history (wallet_address, network, date, balance, balance_usd)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (wallet_address, network, date) DO UPDATE SET
			balance = EXCLUDED.balance,
			balance_usd = EXCLUDED.balance_usd,
			updated_at = now()`,
		params.WalletAddress, params.Network, params.Date,
		params.Balance.String(), params.BalanceUSD.String())
	s.recordQuery("upsert_history", "wallet_balance_history", start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert balance history: %w", err)
	}
	return nil
}

// ListBalanceHistorySince retrieves persisted balance samples for a wallet
// from the given day onward, oldest first.
func (s *Store) ListBalanceHistorySince(ctx context.Context, address, network string, since time.Time) ([]*BalanceHistoryPoint, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT wallet_address, network, date, balance::text, balance_usd::text
		FROM wallet_balance_history
		WHERE wallet_address = $1 AND network = $2 AND date >= $3
		ORDER BY date ASC`,
		address, network, since)
	s.recordQuery("list_history", "wallet_balance_history", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list balance history: %w", err)
	}
	defer rows.Close()

	var points []*BalanceHistoryPoint
	for rows.Next() {
		var p BalanceHistoryPoint
		var balance, balanceUSD string
		if err := rows.Scan(&p.WalletAddress, &p.Network, &p.Date, &balance, &balanceUSD); err != nil {
			return nil, err
		}
		if p.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("failed to parse history balance: %w", err)
		}
		if p.BalanceUSD, err = decimal.NewFromString(balanceUSD); err != nil {
			return nil, fmt.Errorf("failed to parse history balance_usd: %w", err)
		}
		points = append(points, &p)
	}

	return points, rows.Err()
}
