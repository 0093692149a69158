package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/evmfolio/evmfolio/service/metrics"
)

// PriceClient fetches native-token USD prices from a CoinGecko-compatible
// simple/price endpoint. Results are cached in-process so a burst of wallet
// refreshes does not hammer the oracle.
type PriceClient struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	cache      *gocache.Cache
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewPriceClient creates a new price oracle client. cacheTTL bounds how long
// a fetched price is served without revalidation.
func NewPriceClient(httpClient *http.Client, baseURL string, cacheTTL, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *PriceClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &PriceClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		timeout:    timeout,
		cache:      gocache.New(cacheTTL, 2*cacheTTL),
		metrics:    m,
		logger:     logger,
	}
}

// GetUSDPrice returns the USD price for the given coin id, serving from
// cache when a fresh value is available.
func (c *PriceClient) GetUSDPrice(ctx context.Context, priceID string) (decimal.Decimal, error) {
	if cached, ok := c.cache.Get(priceID); ok {
		if price, ok := cached.(decimal.Decimal); ok {
			return price, nil
		}
	}

	params := url.Values{}
	params.Set("ids", priceID)
	params.Set("vs_currencies", "usd")

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+params.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create price request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.recordCall(priceID, start, err)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price oracle returned status %d", resp.StatusCode)
	}

	// Response shape: {"ethereum": {"usd": 1234.56}}
	var payload map[string]map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode price response: %w", err)
	}

	quote, ok := payload[priceID]
	if !ok {
		return decimal.Zero, fmt.Errorf("price oracle returned no quote for %s", priceID)
	}
	usd, ok := quote["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("price oracle returned no usd quote for %s", priceID)
	}

	price, err := decimal.NewFromString(usd.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid usd price %q for %s: %w", usd.String(), priceID, err)
	}

	c.cache.Set(priceID, price, gocache.DefaultExpiration)

	c.logger.DebugContext(ctx, "fetched token price",
		"price_id", priceID,
		"usd", price.String(),
	)

	return price, nil
}

func (c *PriceClient) recordCall(priceID string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordProviderCall("simple_price", priceID, status, time.Since(start).Seconds())
}
