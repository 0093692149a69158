package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/evmfolio/evmfolio/service/metrics"
	"github.com/evmfolio/evmfolio/service/network"
)

// ExplorerClient fetches account transaction listings from Etherscan-family
// explorer APIs (Etherscan, BscScan, PolygonScan share the same wire format).
type ExplorerClient struct {
	httpClient *http.Client
	timeout    time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewExplorerClient creates a new explorer API client.
func NewExplorerClient(httpClient *http.Client, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *ExplorerClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &ExplorerClient{
		httpClient: httpClient,
		timeout:    timeout,
		metrics:    m,
		logger:     logger,
	}
}

// explorerTxList is the Etherscan "account/txlist" response envelope.
// All numeric fields arrive as decimal strings.
type explorerTxList struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  []struct {
		Hash           string `json:"hash"`
		From           string `json:"from"`
		To             string `json:"to"`
		Value          string `json:"value"`
		BlockNumber    string `json:"blockNumber"`
		TimeStamp      string `json:"timeStamp"`
		GasUsed        string `json:"gasUsed"`
		GasPrice       string `json:"gasPrice"`
		TxReceiptState string `json:"txreceipt_status"`
	} `json:"result"`
}

// ListTransactions fetches up to limit transactions for the address,
// newest first.
func (c *ExplorerClient) ListTransactions(ctx context.Context, address string, net network.Info, limit int) ([]*RawTransaction, error) {
	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "txlist")
	params.Set("address", address)
	params.Set("startblock", "0")
	params.Set("endblock", "99999999")
	params.Set("page", "1")
	params.Set("offset", strconv.Itoa(limit))
	params.Set("sort", "desc")
	if net.ExplorerAPIKey != "" {
		params.Set("apikey", net.ExplorerAPIKey)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, net.ExplorerAPIURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create explorer request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.recordCall("txlist", string(net.ID), start, err)
	if err != nil {
		return nil, fmt.Errorf("explorer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("explorer returned status %d", resp.StatusCode)
	}

	var payload explorerTxList
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode explorer response: %w", err)
	}

	// Status "0" with "No transactions found" is an empty result, not an
	// error; any other non-"1" status is an upstream failure.
	if payload.Status != "1" {
		if len(payload.Result) == 0 && payload.Message == "No transactions found" {
			return nil, nil
		}
		return nil, fmt.Errorf("explorer rejected request: %s", payload.Message)
	}

	txns := make([]*RawTransaction, 0, len(payload.Result))
	for _, raw := range payload.Result {
		txn, err := parseExplorerTransaction(raw.Hash, raw.From, raw.To, raw.Value,
			raw.BlockNumber, raw.TimeStamp, raw.GasUsed, raw.GasPrice, raw.TxReceiptState)
		if err != nil {
			// One malformed row should not sink the batch.
			c.logger.WarnContext(ctx, "skipping malformed explorer transaction",
				"hash", raw.Hash,
				"network", net.ID,
				"error", err,
			)
			continue
		}
		txns = append(txns, txn)
	}

	c.logger.DebugContext(ctx, "fetched explorer transactions",
		"address", address,
		"network", net.ID,
		"count", len(txns),
	)

	return txns, nil
}

func parseExplorerTransaction(hash, from, to, value, blockNumber, timestamp, gasUsed, gasPrice, receiptStatus string) (*RawTransaction, error) {
	wei, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid value %q", value)
	}

	gasPriceWei, ok := new(big.Int).SetString(gasPrice, 10)
	if !ok {
		return nil, fmt.Errorf("invalid gas price %q", gasPrice)
	}

	block, err := strconv.ParseInt(blockNumber, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid block number %q: %w", blockNumber, err)
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", timestamp, err)
	}

	gas, err := strconv.ParseInt(gasUsed, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid gas used %q: %w", gasUsed, err)
	}

	return &RawTransaction{
		Hash:          hash,
		From:          from,
		To:            to,
		Value:         wei,
		BlockNumber:   block,
		Timestamp:     time.Unix(unix, 0).UTC(),
		GasUsed:       gas,
		GasPrice:      gasPriceWei,
		ReceiptStatus: receiptStatus,
	}, nil
}

func (c *ExplorerClient) recordCall(method, networkID string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordProviderCall(method, networkID, status, time.Since(start).Seconds())
}
