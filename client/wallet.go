// Package client is the HTTP client for the evmfolio wallet service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/evmfolio/evmfolio/service/wallet"
)

// NetworkInfo describes one supported chain as reported by the server.
type NetworkInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ChainID  int64  `json:"chain_id"`
	Symbol   string `json:"symbol"`
	Explorer string `json:"explorer"`
}

// LoginResult is the server's answer to a signature login attempt.
type LoginResult struct {
	Verified bool   `json:"verified"`
	Address  string `json:"address"`
}

// Stats mirrors the server's wallet stats payload.
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

// Client is the HTTP client for the evmfolio wallet service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new wallet service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetWallet retrieves the wallet view, triggering a refresh server-side if
// the stored state is stale. network may be empty for the default chain.
func (c *Client) GetWallet(ctx context.Context, address, network string) (*wallet.View, error) {
	u := fmt.Sprintf("%s/api/v1/wallets/%s", c.baseURL, url.PathEscape(address))
	if network != "" {
		u += "?network=" + url.QueryEscape(network)
	}

	var view wallet.View
	if err := c.getJSON(ctx, u, &view); err != nil {
		return nil, err
	}

	c.logger.Debug("wallet retrieved", "address", address, "network", view.Network)
	return &view, nil
}

// RefreshWallet forces a refresh cycle and returns the resulting view.
func (c *Client) RefreshWallet(ctx context.Context, address, network string) (*wallet.View, error) {
	u := fmt.Sprintf("%s/api/v1/wallets/%s/refresh", c.baseURL, url.PathEscape(address))
	if network != "" {
		u += "?network=" + url.QueryEscape(network)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var view wallet.View
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("wallet refreshed", "address", address, "network", view.Network)
	return &view, nil
}

// GetStats retrieves ledger aggregates for a tracked wallet.
func (c *Client) GetStats(ctx context.Context, address, network string) (*Stats, error) {
	u := fmt.Sprintf("%s/api/v1/wallets/%s/stats", c.baseURL, url.PathEscape(address))
	if network != "" {
		u += "?network=" + url.QueryEscape(network)
	}

	var stats Stats
	if err := c.getJSON(ctx, u, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListNetworks retrieves the supported networks.
func (c *Client) ListNetworks(ctx context.Context) ([]*NetworkInfo, error) {
	var body struct {
		Networks []*NetworkInfo `json:"networks"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/api/v1/networks", &body); err != nil {
		return nil, err
	}
	return body.Networks, nil
}

// VerifyLogin submits an EIP-191 personal-sign login attempt. A rejected
// signature returns a LoginResult with Verified false, not an error.
func (c *Client) VerifyLogin(ctx context.Context, message, signature, address string) (*LoginResult, error) {
	reqBody := map[string]string{
		"message":   message,
		"signature": signature,
		"address":   address,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result LoginResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return &result, nil
	case http.StatusUnauthorized:
		return &LoginResult{Verified: false, Address: address}, nil
	default:
		return nil, c.parseErrorResponse(resp)
	}
}

// Health checks the server health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
		return fmt.Errorf("server error (status %d): %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("server error: status %d", resp.StatusCode)
}
