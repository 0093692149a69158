package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// RPC endpoints per network
	EthereumRPCURL string
	BSCRPCURL      string
	PolygonRPCURL  string

	// Websocket RPC endpoint used by the block watcher
	EthereumWSURL string

	// Block explorer API configuration (Etherscan family)
	EtherscanAPIKey   string
	BscscanAPIKey     string
	PolygonscanAPIKey string

	// Price oracle configuration
	PriceAPIBaseURL string
	PriceCacheTTL   time.Duration

	// Wallet refresh configuration
	StaleTTL        time.Duration
	RefreshClaimTTL time.Duration
	ProviderTimeout time.Duration
	TxFetchLimit    int
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// RPC endpoints
	cfg.EthereumRPCURL = os.Getenv("ETHEREUM_RPC_URL")
	if cfg.EthereumRPCURL == "" {
		errs = append(errs, fmt.Errorf("ETHEREUM_RPC_URL is required"))
	}
	cfg.BSCRPCURL = getEnvOrDefault("BSC_RPC_URL", "https://bsc-dataseed.binance.org")
	cfg.PolygonRPCURL = getEnvOrDefault("POLYGON_RPC_URL", "https://polygon-rpc.com")
	cfg.EthereumWSURL = os.Getenv("ETHEREUM_WS_URL")

	// Explorer API keys. The explorers throttle anonymous clients hard, so the
	// Ethereum key is required; the others fall back to anonymous access.
	cfg.EtherscanAPIKey = os.Getenv("ETHERSCAN_API_KEY")
	if cfg.EtherscanAPIKey == "" {
		errs = append(errs, fmt.Errorf("ETHERSCAN_API_KEY is required"))
	}
	cfg.BscscanAPIKey = os.Getenv("BSCSCAN_API_KEY")
	cfg.PolygonscanAPIKey = os.Getenv("POLYGONSCAN_API_KEY")

	// Price oracle configuration
	cfg.PriceAPIBaseURL = getEnvOrDefault("PRICE_API_BASE_URL", "https://api.coingecko.com/api/v3")

	priceCacheTTL, err := parseDuration("PRICE_CACHE_TTL", "60s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PriceCacheTTL = priceCacheTTL
	}

	// Refresh configuration
	staleTTL, err := parseDuration("WALLET_STALE_TTL", "5m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.StaleTTL = staleTTL
	}

	claimTTL, err := parseDuration("REFRESH_CLAIM_TTL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RefreshClaimTTL = claimTTL
	}

	providerTimeout, err := parseDuration("PROVIDER_TIMEOUT", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ProviderTimeout = providerTimeout
	}

	cfg.TxFetchLimit = 20

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.EthereumRPCURL == "" {
		errs = append(errs, fmt.Errorf("EthereumRPCURL is required"))
	}

	if c.EtherscanAPIKey == "" {
		errs = append(errs, fmt.Errorf("EtherscanAPIKey is required"))
	}

	if c.StaleTTL < time.Second {
		errs = append(errs, fmt.Errorf("StaleTTL must be at least 1 second"))
	}

	if c.RefreshClaimTTL >= c.StaleTTL {
		errs = append(errs, fmt.Errorf("RefreshClaimTTL (%v) must be shorter than StaleTTL (%v)",
			c.RefreshClaimTTL, c.StaleTTL))
	}

	if c.ProviderTimeout < time.Second {
		errs = append(errs, fmt.Errorf("ProviderTimeout must be at least 1 second"))
	}

	if c.TxFetchLimit <= 0 {
		errs = append(errs, fmt.Errorf("TxFetchLimit must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}
