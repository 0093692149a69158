package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedBlocks []*BlockEvent
	publishedTxns   []*TransactionEvent
	blockError      error
	txnError        error
	closed          bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedBlocks: make([]*BlockEvent, 0),
		publishedTxns:   make([]*TransactionEvent, 0),
	}
}

// PublishBlock records the event and returns any configured error.
func (m *MockPublisher) PublishBlock(ctx context.Context, event *BlockEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.blockError != nil {
		return m.blockError
	}

	m.publishedBlocks = append(m.publishedBlocks, event)
	return nil
}

// PublishTransaction records the event and returns any configured error.
func (m *MockPublisher) PublishTransaction(ctx context.Context, event *TransactionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.txnError != nil {
		return m.txnError
	}

	m.publishedTxns = append(m.publishedTxns, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedBlocks returns all published block events (for testing).
func (m *MockPublisher) GetPublishedBlocks() []*BlockEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*BlockEvent, len(m.publishedBlocks))
	copy(events, m.publishedBlocks)
	return events
}

// GetPublishedTransactions returns all published transaction events.
func (m *MockPublisher) GetPublishedTransactions() []*TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*TransactionEvent, len(m.publishedTxns))
	copy(events, m.publishedTxns)
	return events
}

// GetPublishedTransactionsForWallet returns transaction events published
// for a specific wallet.
func (m *MockPublisher) GetPublishedTransactionsForWallet(address string) []*TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*TransactionEvent, 0)
	for _, event := range m.publishedTxns {
		if event.WalletAddress == address {
			events = append(events, event)
		}
	}
	return events
}

// SetBlockError configures the mock to return an error on PublishBlock.
func (m *MockPublisher) SetBlockError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockError = err
}

// SetTransactionError configures the mock to return an error on PublishTransaction.
func (m *MockPublisher) SetTransactionError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txnError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedBlocks = make([]*BlockEvent, 0)
	m.publishedTxns = make([]*TransactionEvent, 0)
	m.blockError = nil
	m.txnError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
