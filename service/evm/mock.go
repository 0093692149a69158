package evm

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/evmfolio/evmfolio/service/network"
)

// MockProvider is a configurable Provider implementation for testing.
type MockProvider struct {
	mu sync.Mutex

	// BalanceFunc is called for GetBalance. If nil, Balance is returned.
	BalanceFunc func(ctx context.Context, address string, net network.Info) (decimal.Decimal, error)
	Balance     decimal.Decimal

	// TransactionsFunc is called for GetTransactions. If nil, Transactions
	// is returned.
	TransactionsFunc func(ctx context.Context, address string, net network.Info, limit int) ([]*RawTransaction, error)
	Transactions     []*RawTransaction

	// PriceFunc is called for GetTokenPrice. If nil, Price is returned.
	PriceFunc func(ctx context.Context, priceID string) (decimal.Decimal, error)
	Price     decimal.Decimal

	// Call counters for assertions.
	BalanceCalls      int
	TransactionsCalls int
	PriceCalls        int
}

// NewMockProvider creates a mock with zero balance, no transactions, and a
// zero price.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (m *MockProvider) GetBalance(ctx context.Context, address string, net network.Info) (decimal.Decimal, error) {
	m.mu.Lock()
	m.BalanceCalls++
	fn := m.BalanceFunc
	bal := m.Balance
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, address, net)
	}
	return bal, nil
}

func (m *MockProvider) GetTransactions(ctx context.Context, address string, net network.Info, limit int) ([]*RawTransaction, error) {
	m.mu.Lock()
	m.TransactionsCalls++
	fn := m.TransactionsFunc
	txns := m.Transactions
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, address, net, limit)
	}
	if limit > 0 && len(txns) > limit {
		txns = txns[:limit]
	}
	return txns, nil
}

func (m *MockProvider) GetTokenPrice(ctx context.Context, priceID string) (decimal.Decimal, error) {
	m.mu.Lock()
	m.PriceCalls++
	fn := m.PriceFunc
	price := m.Price
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, priceID)
	}
	return price, nil
}
