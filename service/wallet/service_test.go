package wallet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmfolio/evmfolio/service/config"
	"github.com/evmfolio/evmfolio/service/evm"
	"github.com/evmfolio/evmfolio/service/nats"
	"github.com/evmfolio/evmfolio/service/network"
)

const (
	testAddress  = "0x742d35cc6634c0532925a3b844bc454e4438f44e"
	otherAddress = "0x2222222222222222222222222222222222222222"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry() *network.Registry {
	return network.NewRegistry(&config.Config{
		EthereumRPCURL:  "http://localhost:8545",
		BSCRPCURL:       "http://localhost:8546",
		PolygonRPCURL:   "http://localhost:8547",
		EtherscanAPIKey: "test-key",
	})
}

func testService(store Store, provider evm.Provider, pub nats.Publisher) *Service {
	return NewService(store, provider, testRegistry(), pub, nil, testLogger(), Options{})
}

func ether(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func rawTxn(hash string, to string, wei int64, ts time.Time) *evm.RawTransaction {
	return &evm.RawTransaction{
		Hash:          hash,
		From:          otherAddress,
		To:            to,
		Value:         weiInt(wei),
		BlockNumber:   19000000,
		Timestamp:     ts,
		GasUsed:       21000,
		GasPrice:      weiInt(30_000_000_000),
		ReceiptStatus: "1",
	}
}

func TestService_GetWalletInfo(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid address", func(t *testing.T) {
		store := newFakeStore()
		provider := evm.NewMockProvider()
		svc := testService(store, provider, nil)

		_, err := svc.GetWalletInfo(ctx, "not-an-address", "ethereum")
		require.ErrorIs(t, err, ErrInvalidAddress)
		assert.Zero(t, provider.BalanceCalls)
	})

	t.Run("first read refreshes and registers the wallet", func(t *testing.T) {
		store := newFakeStore()
		provider := evm.NewMockProvider()
		provider.Balance = ether("2.5")
		provider.Price = ether("2000")
		provider.Transactions = []*evm.RawTransaction{
			rawTxn("0xaaa", testAddress, 1_000_000_000_000_000_000, time.Now().Add(-time.Hour)),
		}
		svc := testService(store, provider, nil)

		view, err := svc.GetWalletInfo(ctx, testAddress, "ethereum")
		require.NoError(t, err)

		assert.Equal(t, testAddress, view.Address)
		assert.Equal(t, "ethereum", view.Network)
		assert.Equal(t, "Ethereum Mainnet", view.NetworkName)
		assert.True(t, view.Balance.Equal(ether("2.5")))
		assert.True(t, view.BalanceUSD.Equal(ether("5000")))
		require.NotNil(t, view.LastUpdated)
		assert.False(t, view.Stale)

		require.Len(t, view.RecentTransactions, 1)
		assert.Equal(t, "0xaaa", view.RecentTransactions[0].Hash)
		assert.Equal(t, "received", view.RecentTransactions[0].Type)

		require.Len(t, view.BalanceHistory, DefaultHistoryWindowDays)
		today := view.BalanceHistory[len(view.BalanceHistory)-1]
		assert.True(t, today.Balance.Equal(ether("2.5")))

		exists, err := store.WalletExists(ctx, testAddress, "ethereum")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("fresh read does not touch providers", func(t *testing.T) {
		store := newFakeStore()
		provider := evm.NewMockProvider()
		provider.Balance = ether("1")
		provider.Price = ether("2000")
		svc := testService(store, provider, nil)

		_, err := svc.GetWalletInfo(ctx, testAddress, "ethereum")
		require.NoError(t, err)
		require.Equal(t, 1, provider.BalanceCalls)

		view, err := svc.GetWalletInfo(ctx, testAddress, "ethereum")
		require.NoError(t, err)
		assert.Equal(t, 1, provider.BalanceCalls)
		assert.False(t, view.Stale)
	})

	t.Run("stale read refreshes", func(t *testing.T) {
		store := newFakeStore()
		provider := evm.NewMockProvider()
		provider.Balance = ether("1")
		provider.Price = ether("2000")
		svc := testService(store, provider, nil)

		_, err := svc.GetWalletInfo(ctx, testAddress, "ethereum")
		require.NoError(t, err)
		require.Equal(t, 1, provider.BalanceCalls)

		// Jump past the freshness window and change the upstream balance.
		svc.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
		provider.Balance = ether("3")

		view, err := svc.GetWalletInfo(ctx, testAddress, "ethereum")
		require.NoError(t, err)
		assert.Equal(t, 2, provider.BalanceCalls)
		assert.True(t, view.Balance.Equal(ether("3")))
	})

	t.Run("refresh failure on new wallet is an error", func(t *testing.T) {
		store := newFakeStore()
		provider := evm.NewMockProvider()
		provider.BalanceFunc = func(ctx context.Context, address string, net network.Info) (decimal.Decimal, error) {
			return decimal.Zero, errors.New("rpc down")
		}
		svc := testService(store, provider, nil)

		_, err := svc.GetWalletInfo(ctx, testAddress, "ethereum")
		require.ErrorIs(t, err, ErrUpstreamUnavailable)

		// The claim must be released so a later read can retry.
		w, err := store.GetWallet(ctx, testAddress, "ethereum")
		require.NoError(t, err)
		assert.Nil(t, w.RefreshClaimedAt)
	})

	t.Run("refresh failure degrades to stale state", func(t *testing.T) {
		store := newFakeStore()
		provider := evm.NewMockProvider()
		provider.Balance = ether("4")
		provider.Price = ether("2000")
		svc := testService(store, provider, nil)

		_, err := svc.GetWalletInfo(ctx, testAddress, "ethereum")
		require.NoError(t, err)

		svc.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
		provider.BalanceFunc = func(ctx context.Context, address string, net network.Info) (decimal.Decimal, error) {
			return decimal.Zero, errors.New("rpc down")
		}

		view, err := svc.GetWalletInfo(ctx, testAddress, "ethereum")
		require.NoError(t, err)
		assert.True(t, view.Stale)
		assert.True(t, view.Balance.Equal(ether("4")))
	})

	t.Run("price failure values in zero USD but stores the balance", func(t *testing.T) {
		store := newFakeStore()
		provider := evm.NewMockProvider()
		provider.Balance = ether("2")
		provider.PriceFunc = func(ctx context.Context, priceID string) (decimal.Decimal, error) {
			return decimal.Zero, errors.New("oracle down")
		}
		svc := testService(store, provider, nil)

		view, err := svc.GetWalletInfo(ctx, testAddress, "ethereum")
		require.NoError(t, err)
		assert.True(t, view.Balance.Equal(ether("2")))
		assert.True(t, view.BalanceUSD.IsZero())
		assert.False(t, view.Stale)
	})

	t.Run("unknown network falls back to ethereum", func(t *testing.T) {
		store := newFakeStore()
		provider := evm.NewMockProvider()
		provider.Balance = ether("1")
		provider.Price = ether("2000")
		svc := testService(store, provider, nil)

		view, err := svc.GetWalletInfo(ctx, testAddress, "dogechain")
		require.NoError(t, err)
		assert.Equal(t, "ethereum", view.Network)
	})

	t.Run("per-network state is independent", func(t *testing.T) {
		store := newFakeStore()
		provider := evm.NewMockProvider()
		provider.BalanceFunc = func(ctx context.Context, address string, net network.Info) (decimal.Decimal, error) {
			if net.ID == network.BSC {
				return ether("7"), nil
			}
			return ether("1"), nil
		}
		provider.Price = ether("100")
		svc := testService(store, provider, nil)

		ethView, err := svc.GetWalletInfo(ctx, testAddress, "ethereum")
		require.NoError(t, err)
		bscView, err := svc.GetWalletInfo(ctx, testAddress, "bsc")
		require.NoError(t, err)

		assert.True(t, ethView.Balance.Equal(ether("1")))
		assert.True(t, bscView.Balance.Equal(ether("7")))
		assert.Equal(t, "BNB", bscView.Symbol)
	})
}

func TestService_RefreshWalletInfo(t *testing.T) {
	ctx := context.Background()

	t.Run("forces a refresh on a fresh wallet", func(t *testing.T) {
		store := newFakeStore()
		provider := evm.NewMockProvider()
		provider.Balance = ether("1")
		provider.Price = ether("2000")
		svc := testService(store, provider, nil)

		_, err := svc.GetWalletInfo(ctx, testAddress, "ethereum")
		require.NoError(t, err)
		require.Equal(t, 1, provider.BalanceCalls)

		provider.Balance = ether("9")
		view, err := svc.RefreshWalletInfo(ctx, testAddress, "ethereum")
		require.NoError(t, err)
		assert.Equal(t, 2, provider.BalanceCalls)
		assert.True(t, view.Balance.Equal(ether("9")))
	})

	t.Run("surfaces refresh failures", func(t *testing.T) {
		store := newFakeStore()
		provider := evm.NewMockProvider()
		provider.Balance = ether("1")
		provider.Price = ether("2000")
		svc := testService(store, provider, nil)

		_, err := svc.GetWalletInfo(ctx, testAddress, "ethereum")
		require.NoError(t, err)

		provider.BalanceFunc = func(ctx context.Context, address string, net network.Info) (decimal.Decimal, error) {
			return decimal.Zero, errors.New("rpc down")
		}
		_, err = svc.RefreshWalletInfo(ctx, testAddress, "ethereum")
		require.ErrorIs(t, err, ErrUpstreamUnavailable)
	})

	t.Run("serves current state when a competing refresh holds the claim", func(t *testing.T) {
		store := newFakeStore()
		provider := evm.NewMockProvider()
		provider.Balance = ether("1")
		provider.Price = ether("2000")
		svc := testService(store, provider, nil)

		_, err := svc.GetWalletInfo(ctx, testAddress, "ethereum")
		require.NoError(t, err)
		require.Equal(t, 1, provider.BalanceCalls)

		// Simulate a live claim held by another process.
		now := time.Now().UTC()
		store.mu.Lock()
		store.wallets[walletKey(testAddress, "ethereum")].RefreshClaimedAt = &now
		store.mu.Unlock()

		view, err := svc.RefreshWalletInfo(ctx, testAddress, "ethereum")
		require.NoError(t, err)
		assert.Equal(t, 1, provider.BalanceCalls)
		assert.True(t, view.Balance.Equal(ether("1")))
	})
}

func TestService_GetWalletStats(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown wallet", func(t *testing.T) {
		svc := testService(newFakeStore(), evm.NewMockProvider(), nil)
		_, err := svc.GetWalletStats(ctx, testAddress, "ethereum")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("aggregates ledger activity", func(t *testing.T) {
		store := newFakeStore()
		provider := evm.NewMockProvider()
		provider.Balance = ether("2")
		provider.Price = ether("1000")
		provider.Transactions = []*evm.RawTransaction{
			rawTxn("0xin", testAddress, 2_000_000_000_000_000_000, time.Now().Add(-2*time.Hour)),
			rawTxn("0xout", otherAddress, 500_000_000_000_000_000, time.Now().Add(-time.Hour)),
		}
		svc := testService(store, provider, nil)

		_, err := svc.GetWalletInfo(ctx, testAddress, "ethereum")
		require.NoError(t, err)
		svc.LogWalletView(ctx, testAddress, "10.0.0.1", "test-agent")

		stats, err := svc.GetWalletStats(ctx, testAddress, "ethereum")
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.TotalTransactions)
		assert.True(t, stats.TotalReceived.Equal(ether("2")))
		assert.True(t, stats.TotalSent.Equal(ether("0.5")))
		assert.Equal(t, int64(1), stats.ViewCount)
		require.NotNil(t, stats.FirstTransaction)
		require.NotNil(t, stats.LastTransaction)
		assert.True(t, stats.FirstTransaction.Before(*stats.LastTransaction))
	})
}

func TestService_LogWalletView(t *testing.T) {
	ctx := context.Background()

	t.Run("records a view", func(t *testing.T) {
		store := newFakeStore()
		svc := testService(store, evm.NewMockProvider(), nil)

		svc.LogWalletView(ctx, testAddress, "10.0.0.1", "test-agent")

		store.mu.Lock()
		defer store.mu.Unlock()
		require.Len(t, store.viewLogs, 1)
		assert.Equal(t, testAddress, store.viewLogs[0].WalletAddress)
		assert.Equal(t, "10.0.0.1", store.viewLogs[0].IPAddress)
	})

	t.Run("invalid address is a no-op", func(t *testing.T) {
		store := newFakeStore()
		svc := testService(store, evm.NewMockProvider(), nil)

		svc.LogWalletView(ctx, "garbage", "10.0.0.1", "test-agent")

		store.mu.Lock()
		defer store.mu.Unlock()
		assert.Empty(t, store.viewLogs)
	})

	t.Run("store failure is swallowed", func(t *testing.T) {
		store := newFakeStore()
		store.failViewLog = errors.New("disk full")
		svc := testService(store, evm.NewMockProvider(), nil)

		// Must not panic or surface the error.
		svc.LogWalletView(ctx, testAddress, "10.0.0.1", "test-agent")
	})
}

func TestService_VerifyLogin(t *testing.T) {
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey).Hex()

	sign := func(message string) string {
		prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
		digest := crypto.Keccak256([]byte(prefixed))
		sig, err := crypto.Sign(digest, key)
		require.NoError(t, err)
		sig[64] += 27
		return hexutil.Encode(sig)
	}

	t.Run("valid signature registers the wallet", func(t *testing.T) {
		store := newFakeStore()
		svc := testService(store, evm.NewMockProvider(), nil)

		ok, err := svc.VerifyLogin(ctx, "login to evmfolio", sign("login to evmfolio"), signer)
		require.NoError(t, err)
		assert.True(t, ok)

		exists, err := store.WalletExists(ctx, signer, string(network.DefaultID))
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("signature from another key is rejected", func(t *testing.T) {
		store := newFakeStore()
		svc := testService(store, evm.NewMockProvider(), nil)

		ok, err := svc.VerifyLogin(ctx, "login to evmfolio", sign("login to evmfolio"), otherAddress)
		require.NoError(t, err)
		assert.False(t, ok)

		exists, err := store.WalletExists(ctx, otherAddress, string(network.DefaultID))
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("invalid address", func(t *testing.T) {
		svc := testService(newFakeStore(), evm.NewMockProvider(), nil)
		_, err := svc.VerifyLogin(ctx, "msg", "0xsig", "nope")
		require.ErrorIs(t, err, ErrInvalidAddress)
	})
}

func TestService_ListNetworks(t *testing.T) {
	svc := testService(newFakeStore(), evm.NewMockProvider(), nil)
	nets := svc.ListNetworks()
	require.Len(t, nets, 3)
	assert.Equal(t, network.Ethereum, nets[0].ID)
}
