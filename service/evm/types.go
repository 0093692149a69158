// Package evm implements the upstream chain-data capability: JSON-RPC
// balance reads, explorer transaction listings, and native-token prices.
package evm

import (
	"context"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/evmfolio/evmfolio/service/network"
)

// RawTransaction is one transaction as reported by a block explorer,
// before reconciliation. Value and GasPrice are in base units (wei).
type RawTransaction struct {
	Hash        string
	From        string
	To          string
	Value       *big.Int
	BlockNumber int64
	Timestamp   time.Time
	GasUsed     int64
	GasPrice    *big.Int
	// ReceiptStatus is the explorer's receipt status: "1" success,
	// "0" failure, empty for pending or pre-Byzantium transactions.
	ReceiptStatus string
}

// Provider is the capability interface for upstream chain data. The three
// fetches are independent reads; callers may issue them concurrently.
// Implementations apply their own per-call timeouts.
type Provider interface {
	// GetBalance returns the native-token balance in display units (ether).
	GetBalance(ctx context.Context, address string, net network.Info) (decimal.Decimal, error)

	// GetTransactions returns up to limit transactions for the address,
	// newest first.
	GetTransactions(ctx context.Context, address string, net network.Info, limit int) ([]*RawTransaction, error)

	// GetTokenPrice returns the USD price for the given price-oracle coin id.
	GetTokenPrice(ctx context.Context, priceID string) (decimal.Decimal, error)
}

const (
	weiDecimals  = 18
	gweiDecimals = 9
)

// WeiToEther converts a base-unit amount to ether exactly. The conversion
// shifts the decimal exponent, so no precision is lost to floating point.
func WeiToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -weiDecimals)
}

// WeiToGwei converts a base-unit amount to gwei exactly.
func WeiToGwei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -gweiDecimals)
}
