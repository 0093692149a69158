// Package network holds the static catalog of supported EVM chains.
package network

import (
	"github.com/evmfolio/evmfolio/service/config"
)

// ID identifies a supported network.
type ID string

const (
	Ethereum ID = "ethereum"
	BSC      ID = "bsc"
	Polygon  ID = "polygon"
)

// DefaultID is the network used when a caller supplies an unrecognized
// identifier. Resolution is deliberately non-strict: unknown networks fall
// back to Ethereum instead of failing, so read paths keep working for
// clients that send free-form network strings.
const DefaultID = Ethereum

// Info describes a single supported chain. RPC and explorer endpoints come
// from configuration; everything else is fixed chain metadata.
type Info struct {
	ID             ID     `json:"id"`
	Name           string `json:"name"`
	ChainID        int64  `json:"chain_id"`
	Symbol         string `json:"symbol"`
	ExplorerURL    string `json:"explorer"`
	RPCURL         string `json:"rpc_url"`
	ExplorerAPIURL string `json:"-"`
	ExplorerAPIKey string `json:"-"`
	// PriceID is the identifier the price oracle uses for the chain's
	// native token (CoinGecko coin id).
	PriceID string `json:"-"`
}

// Registry resolves network identifiers to chain metadata.
type Registry struct {
	networks map[ID]Info
	order    []ID
}

// NewRegistry builds the registry from configuration. The supported set is
// fixed at compile time; only endpoints and API keys vary per deployment.
func NewRegistry(cfg *config.Config) *Registry {
	networks := map[ID]Info{
		Ethereum: {
			ID:             Ethereum,
			Name:           "Ethereum Mainnet",
			ChainID:        1,
			Symbol:         "ETH",
			ExplorerURL:    "https://etherscan.io",
			RPCURL:         cfg.EthereumRPCURL,
			ExplorerAPIURL: "https://api.etherscan.io/api",
			ExplorerAPIKey: cfg.EtherscanAPIKey,
			PriceID:        "ethereum",
		},
		BSC: {
			ID:             BSC,
			Name:           "Binance Smart Chain",
			ChainID:        56,
			Symbol:         "BNB",
			ExplorerURL:    "https://bscscan.com",
			RPCURL:         cfg.BSCRPCURL,
			ExplorerAPIURL: "https://api.bscscan.com/api",
			ExplorerAPIKey: cfg.BscscanAPIKey,
			PriceID:        "binancecoin",
		},
		Polygon: {
			ID:             Polygon,
			Name:           "Polygon",
			ChainID:        137,
			Symbol:         "MATIC",
			ExplorerURL:    "https://polygonscan.com",
			RPCURL:         cfg.PolygonRPCURL,
			ExplorerAPIURL: "https://api.polygonscan.com/api",
			ExplorerAPIKey: cfg.PolygonscanAPIKey,
			PriceID:        "matic-network",
		},
	}

	return &Registry{
		networks: networks,
		order:    []ID{Ethereum, BSC, Polygon},
	}
}

// Resolve returns the Info for the given identifier, falling back to the
// default network for anything unrecognized (see DefaultID).
func (r *Registry) Resolve(id string) Info {
	if info, ok := r.networks[ID(id)]; ok {
		return info
	}
	return r.networks[DefaultID]
}

// Supported reports whether the identifier names a known network.
func (r *Registry) Supported(id string) bool {
	_, ok := r.networks[ID(id)]
	return ok
}

// List returns all supported networks in stable order.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.networks[id])
	}
	return out
}
