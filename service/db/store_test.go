package db

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmfolio/evmfolio/service/metrics"
)

const (
	testAddress = "0x0000000000000000000000000000000000dEaD"
	testNetwork = "ethereum"
)

func TestGetOrCreateWallet(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	t.Run("creates zero-balance wallet on first access", func(t *testing.T) {
		w, err := store.GetOrCreateWallet(ctx, testAddress, testNetwork)
		require.NoError(t, err)
		require.NotNil(t, w)

		assert.Equal(t, testAddress, w.Address)
		assert.Equal(t, testNetwork, w.Network)
		assert.True(t, w.Balance.IsZero())
		assert.True(t, w.BalanceUSD.IsZero())
		assert.Nil(t, w.LastUpdated)
		assert.True(t, w.IsActive)
	})

	t.Run("returns existing wallet on second access", func(t *testing.T) {
		updated, err := store.UpdateWalletBalance(ctx, UpdateWalletBalanceParams{
			Address:     testAddress,
			Network:     testNetwork,
			Balance:     decimal.RequireFromString("1.5"),
			BalanceUSD:  decimal.RequireFromString("4500"),
			LastUpdated: time.Now().UTC(),
		})
		require.NoError(t, err)

		w, err := store.GetOrCreateWallet(ctx, testAddress, testNetwork)
		require.NoError(t, err)
		assert.True(t, updated.Balance.Equal(w.Balance))
		assert.NotNil(t, w.LastUpdated)
	})

	t.Run("same address on another network is a distinct wallet", func(t *testing.T) {
		w, err := store.GetOrCreateWallet(ctx, testAddress, "bsc")
		require.NoError(t, err)
		assert.True(t, w.Balance.IsZero())
		assert.Nil(t, w.LastUpdated)
	})

	t.Run("concurrent first access yields exactly one row", func(t *testing.T) {
		const callers = 10
		address := "0x1111111111111111111111111111111111111111"

		var wg sync.WaitGroup
		errs := make(chan error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.GetOrCreateWallet(ctx, address, testNetwork)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		var count int
		err := store.pool.QueryRow(ctx,
			"SELECT COUNT(*) FROM wallets WHERE address = $1 AND network = $2",
			address, testNetwork).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestGetWallet_NotFound(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	_, err := store.GetWallet(context.Background(), "0x2222222222222222222222222222222222222222", testNetwork)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pgx.ErrNoRows))
}

func TestClaimWalletRefresh(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.GetOrCreateWallet(ctx, testAddress, testNetwork)
	require.NoError(t, err)

	t.Run("claims a never-refreshed wallet", func(t *testing.T) {
		claimed, err := store.ClaimWalletRefresh(ctx, testAddress, testNetwork,
			now.Add(-5*time.Minute), now.Add(-30*time.Second))
		require.NoError(t, err)
		assert.True(t, claimed)
	})

	t.Run("second claim loses while first is live", func(t *testing.T) {
		claimed, err := store.ClaimWalletRefresh(ctx, testAddress, testNetwork,
			now.Add(-5*time.Minute), now.Add(-30*time.Second))
		require.NoError(t, err)
		assert.False(t, claimed)
	})

	t.Run("release makes the wallet claimable again", func(t *testing.T) {
		require.NoError(t, store.ReleaseWalletRefresh(ctx, testAddress, testNetwork))

		claimed, err := store.ClaimWalletRefresh(ctx, testAddress, testNetwork,
			now.Add(-5*time.Minute), now.Add(-30*time.Second))
		require.NoError(t, err)
		assert.True(t, claimed)
	})

	t.Run("fresh wallet is not claimable", func(t *testing.T) {
		_, err := store.UpdateWalletBalance(ctx, UpdateWalletBalanceParams{
			Address:     testAddress,
			Network:     testNetwork,
			Balance:     decimal.NewFromInt(1),
			BalanceUSD:  decimal.NewFromInt(3000),
			LastUpdated: now,
		})
		require.NoError(t, err)

		claimed, err := store.ClaimWalletRefresh(ctx, testAddress, testNetwork,
			now.Add(-5*time.Minute), now.Add(-30*time.Second))
		require.NoError(t, err)
		assert.False(t, claimed)
	})
}

func TestUpsertTransaction(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	blockTime := time.Now().UTC().Truncate(time.Microsecond).Add(-time.Hour)

	params := UpsertTransactionParams{
		Hash:           "0xabc123",
		WalletAddress:  testAddress,
		Network:        testNetwork,
		Type:           TxTypeReceived,
		Amount:         decimal.RequireFromString("0.25"),
		AmountUSD:      decimal.RequireFromString("750"),
		ToAddress:      testAddress,
		FromAddress:    "0x3333333333333333333333333333333333333333",
		BlockNumber:    19000000,
		BlockTimestamp: blockTime,
		GasUsed:        21000,
		GasPrice:       decimal.RequireFromString("12.5"),
		Status:         TxStatusPending,
	}

	t.Run("insert", func(t *testing.T) {
		txn, err := store.UpsertTransaction(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, TxStatusPending, txn.Status)
		assert.True(t, txn.Amount.Equal(params.Amount))
		assert.WithinDuration(t, blockTime, txn.BlockTimestamp, time.Microsecond)
	})

	t.Run("re-upsert is idempotent", func(t *testing.T) {
		_, err := store.UpsertTransaction(ctx, params)
		require.NoError(t, err)

		count, err := store.CountTransactions(ctx, testAddress, testNetwork)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("status transitions pending to confirmed", func(t *testing.T) {
		confirmed := params
		confirmed.Status = TxStatusConfirmed
		txn, err := store.UpsertTransaction(ctx, confirmed)
		require.NoError(t, err)
		assert.Equal(t, TxStatusConfirmed, txn.Status)

		count, err := store.CountTransactions(ctx, testAddress, testNetwork)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("confirmed status does not regress to pending", func(t *testing.T) {
		// Explorers occasionally omit the receipt status on a re-fetch,
		// which maps to pending; a settled row must keep its status.
		regressed := params
		regressed.Status = TxStatusPending
		txn, err := store.UpsertTransaction(ctx, regressed)
		require.NoError(t, err)
		assert.Equal(t, TxStatusConfirmed, txn.Status)
	})

	t.Run("populated fields survive a stale re-fetch", func(t *testing.T) {
		stale := params
		stale.Status = TxStatusConfirmed
		stale.Amount = decimal.RequireFromString("99")
		stale.AmountUSD = decimal.RequireFromString("1")
		stale.FromAddress = "0x4444444444444444444444444444444444444444"
		stale.BlockNumber = 1

		txn, err := store.UpsertTransaction(ctx, stale)
		require.NoError(t, err)

		// Immutable fields keep their original values.
		assert.True(t, txn.Amount.Equal(params.Amount))
		assert.True(t, txn.AmountUSD.Equal(params.AmountUSD))
		assert.Equal(t, params.FromAddress, txn.FromAddress)
		assert.Equal(t, params.BlockNumber, txn.BlockNumber)
	})

	t.Run("zero amount_usd is backfilled", func(t *testing.T) {
		first := params
		first.Hash = "0xdef456"
		first.AmountUSD = decimal.Zero
		_, err := store.UpsertTransaction(ctx, first)
		require.NoError(t, err)

		backfill := first
		backfill.AmountUSD = decimal.RequireFromString("812.5")
		txn, err := store.UpsertTransaction(ctx, backfill)
		require.NoError(t, err)
		assert.True(t, txn.AmountUSD.Equal(backfill.AmountUSD))
	})
}

func TestListRecentTransactions_Ordering(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond).Add(-24 * time.Hour)

	for i := 0; i < 8; i++ {
		_, err := store.UpsertTransaction(ctx, UpsertTransactionParams{
			Hash:           string(rune('a'+i)) + "-hash",
			WalletAddress:  testAddress,
			Network:        testNetwork,
			Type:           TxTypeSent,
			Amount:         decimal.NewFromInt(int64(i)),
			AmountUSD:      decimal.Zero,
			BlockTimestamp: base.Add(time.Duration(i) * time.Hour),
			Status:         TxStatusConfirmed,
		})
		require.NoError(t, err)
	}

	txns, err := store.ListRecentTransactions(ctx, testAddress, testNetwork, 5)
	require.NoError(t, err)
	require.Len(t, txns, 5)

	for i := 1; i < len(txns); i++ {
		assert.True(t, !txns[i].BlockTimestamp.After(txns[i-1].BlockTimestamp),
			"transactions must be ordered newest first")
	}
}

func TestUpsertBalanceHistory_SameDayOverwrite(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	today := time.Now().UTC().Truncate(24 * time.Hour)

	err := store.UpsertBalanceHistory(ctx, UpsertBalanceHistoryParams{
		WalletAddress: testAddress,
		Network:       testNetwork,
		Date:          today,
		Balance:       decimal.NewFromInt(1),
		BalanceUSD:    decimal.NewFromInt(3000),
	})
	require.NoError(t, err)

	err = store.UpsertBalanceHistory(ctx, UpsertBalanceHistoryParams{
		WalletAddress: testAddress,
		Network:       testNetwork,
		Date:          today,
		Balance:       decimal.NewFromInt(2),
		BalanceUSD:    decimal.NewFromInt(6000),
	})
	require.NoError(t, err)

	points, err := store.ListBalanceHistorySince(ctx, testAddress, testNetwork, today.AddDate(0, 0, -30))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.True(t, points[0].Balance.Equal(decimal.NewFromInt(2)))
	assert.True(t, points[0].BalanceUSD.Equal(decimal.NewFromInt(6000)))
}

func TestGetWalletStats(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond).Add(-48 * time.Hour)

	fixtures := []struct {
		hash   string
		typ    string
		amount string
		offset time.Duration
	}{
		{"0xs1", TxTypeReceived, "1.5", 0},
		{"0xs2", TxTypeReceived, "0.5", time.Hour},
		{"0xs3", TxTypeSent, "0.75", 2 * time.Hour},
	}
	for _, f := range fixtures {
		_, err := store.UpsertTransaction(ctx, UpsertTransactionParams{
			Hash:           f.hash,
			WalletAddress:  testAddress,
			Network:        testNetwork,
			Type:           f.typ,
			Amount:         decimal.RequireFromString(f.amount),
			AmountUSD:      decimal.Zero,
			BlockTimestamp: base.Add(f.offset),
			Status:         TxStatusConfirmed,
		})
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		err := store.InsertWalletViewLog(ctx, InsertWalletViewLogParams{
			WalletAddress: testAddress,
			IPAddress:     "203.0.113.7",
			UserAgent:     "test-agent",
		})
		require.NoError(t, err)
	}

	stats, err := store.GetWalletStats(ctx, testAddress, testNetwork)
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.TotalTransactions)
	assert.True(t, stats.TotalReceived.Equal(decimal.RequireFromString("2")))
	assert.True(t, stats.TotalSent.Equal(decimal.RequireFromString("0.75")))
	assert.Equal(t, int64(3), stats.ViewCount)
	require.NotNil(t, stats.FirstTransaction)
	require.NotNil(t, stats.LastTransaction)
	assert.WithinDuration(t, base, *stats.FirstTransaction, time.Microsecond)
	assert.WithinDuration(t, base.Add(2*time.Hour), *stats.LastTransaction, time.Microsecond)
}

func TestStoreRecordsQueryMetrics(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	defer ts.Cleanup(t)

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	store := NewStore(ts.pool, m)

	// GetOrCreateWallet runs two queries: the conditional insert and the
	// read-back.
	_, err := store.GetOrCreateWallet(context.Background(), testAddress, testNetwork)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	var operations float64
	var sawDuration bool
	for _, mf := range families {
		switch mf.GetName() {
		case "db_operations_total":
			for _, metric := range mf.GetMetric() {
				operations += metric.GetCounter().GetValue()
			}
		case "db_query_duration_seconds":
			sawDuration = true
		}
	}
	assert.GreaterOrEqual(t, operations, 2.0)
	assert.True(t, sawDuration, "query durations should be observed")
}

func TestGetWalletStats_EmptyWallet(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	stats, err := store.GetWalletStats(context.Background(), "0x5555555555555555555555555555555555555555", testNetwork)
	require.NoError(t, err)

	assert.Equal(t, int64(0), stats.TotalTransactions)
	assert.True(t, stats.TotalReceived.IsZero())
	assert.True(t, stats.TotalSent.IsZero())
	assert.Nil(t, stats.FirstTransaction)
	assert.Nil(t, stats.LastTransaction)
}
