package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/evmfolio/evmfolio/service/metrics"
	"github.com/evmfolio/evmfolio/service/network"
)

// Client is the production Provider implementation. Balance reads go to the
// network's JSON-RPC node, transaction listings to its Etherscan-family
// explorer API, and prices to the configured price oracle.
type Client struct {
	explorer *ExplorerClient
	price    *PriceClient
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu         sync.Mutex
	rpcClients map[network.ID]*ethclient.Client
}

// NewClient creates a new chain-data client. If m is nil, no metrics are
// recorded. RPC connections are dialed lazily per network and reused.
func NewClient(httpClient *http.Client, priceBaseURL string, priceCacheTTL, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		explorer:   NewExplorerClient(httpClient, timeout, m, logger),
		price:      NewPriceClient(httpClient, priceBaseURL, priceCacheTTL, timeout, m, logger),
		timeout:    timeout,
		metrics:    m,
		logger:     logger,
		rpcClients: make(map[network.ID]*ethclient.Client),
	}
}

// GetBalance fetches the current native balance over JSON-RPC and converts
// it from wei to ether exactly.
func (c *Client) GetBalance(ctx context.Context, address string, net network.Info) (decimal.Decimal, error) {
	rpc, err := c.rpcClient(net)
	if err != nil {
		return decimal.Zero, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	wei, err := rpc.BalanceAt(ctx, common.HexToAddress(address), nil)
	c.recordCall("eth_getBalance", string(net.ID), start, err)
	if err != nil {
		c.logger.WarnContext(ctx, "balance fetch failed",
			"address", address,
			"network", net.ID,
			"error", err,
		)
		return decimal.Zero, fmt.Errorf("failed to fetch balance for %s on %s: %w", address, net.ID, err)
	}

	return WeiToEther(wei), nil
}

// GetTransactions lists recent transactions for the address via the
// network's block explorer.
func (c *Client) GetTransactions(ctx context.Context, address string, net network.Info, limit int) ([]*RawTransaction, error) {
	return c.explorer.ListTransactions(ctx, address, net, limit)
}

// GetTokenPrice returns the USD price for the given coin id.
func (c *Client) GetTokenPrice(ctx context.Context, priceID string) (decimal.Decimal, error) {
	return c.price.GetUSDPrice(ctx, priceID)
}

// BlockNumber returns the current head block number for the network.
func (c *Client) BlockNumber(ctx context.Context, net network.Info) (*big.Int, error) {
	rpc, err := c.rpcClient(net)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	n, err := rpc.BlockNumber(ctx)
	c.recordCall("eth_blockNumber", string(net.ID), start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch block number on %s: %w", net.ID, err)
	}
	return new(big.Int).SetUint64(n), nil
}

// rpcClient returns the cached ethclient for the network, dialing on first
// use. ethclient.Dial does not connect eagerly for HTTP endpoints, so this
// only fails on malformed URLs.
func (c *Client) rpcClient(net network.Info) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.rpcClients[net.ID]; ok {
		return client, nil
	}

	client, err := ethclient.Dial(net.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC for %s: %w", net.ID, err)
	}
	c.rpcClients[net.ID] = client
	return client, nil
}

func (c *Client) recordCall(method, networkID string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordProviderCall(method, networkID, status, time.Since(start).Seconds())
}

// Close releases all cached RPC connections.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, client := range c.rpcClients {
		client.Close()
	}
	c.rpcClients = make(map[network.ID]*ethclient.Client)
}
