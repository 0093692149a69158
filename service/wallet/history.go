package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/evmfolio/evmfolio/service/db"
)

// DefaultHistoryWindowDays is the length of the balance series returned
// with a wallet view.
const DefaultHistoryWindowDays = 30

// HistoryAggregator maintains the daily balance series for wallets. One
// sample is stored per calendar day (UTC); repeated refreshes on the same
// day overwrite it, so the stored value is always the day's latest.
type HistoryAggregator struct {
	store  Store
	logger *slog.Logger
}

// NewHistoryAggregator creates a new history aggregator.
func NewHistoryAggregator(store Store, logger *slog.Logger) *HistoryAggregator {
	return &HistoryAggregator{
		store:  store,
		logger: logger,
	}
}

// RecordSample stores the balance observed at the given instant under that
// instant's UTC calendar day.
func (h *HistoryAggregator) RecordSample(ctx context.Context, address, network string, balance, balanceUSD decimal.Decimal, at time.Time) error {
	day := truncateToDay(at)

	err := h.store.UpsertBalanceHistory(ctx, db.UpsertBalanceHistoryParams{
		WalletAddress: address,
		Network:       network,
		Date:          day,
		Balance:       balance,
		BalanceUSD:    balanceUSD,
	})
	if err != nil {
		return fmt.Errorf("failed to record balance sample: %w", err)
	}

	h.logger.DebugContext(ctx, "recorded balance sample",
		"address", address,
		"network", network,
		"date", day.Format("2006-01-02"),
		"balance", balance.String(),
	)
	return nil
}

// BuildSeries returns a gap-free series of windowDays points ending on the
// UTC day of now. Days before the first stored sample report zero; days
// between samples carry the previous sample's balance forward.
func (h *HistoryAggregator) BuildSeries(ctx context.Context, address, network string, now time.Time, windowDays int) ([]HistoryPoint, error) {
	if windowDays <= 0 {
		windowDays = DefaultHistoryWindowDays
	}

	end := truncateToDay(now)
	start := end.AddDate(0, 0, -(windowDays - 1))

	samples, err := h.store.ListBalanceHistorySince(ctx, address, network, start)
	if err != nil {
		return nil, fmt.Errorf("failed to list balance history: %w", err)
	}

	byDay := make(map[time.Time]*db.BalanceHistoryPoint, len(samples))
	for _, s := range samples {
		byDay[truncateToDay(s.Date)] = s
	}

	series := make([]HistoryPoint, 0, windowDays)
	balance := decimal.Zero
	balanceUSD := decimal.Zero
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if s, ok := byDay[day]; ok {
			balance = s.Balance
			balanceUSD = s.BalanceUSD
		}
		series = append(series, HistoryPoint{
			Date:       day,
			Balance:    balance,
			BalanceUSD: balanceUSD,
		})
	}

	return series, nil
}

func truncateToDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
