package db

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction classification and status values.
const (
	TxTypeSent     = "sent"
	TxTypeReceived = "received"

	TxStatusConfirmed = "confirmed"
	TxStatusPending   = "pending"
	TxStatusFailed    = "failed"
)

// Transaction represents one on-chain transfer as seen from a tracked
// wallet. (hash, wallet_address) is the upsert key: re-fetching the same
// hash updates the row rather than duplicating it.
type Transaction struct {
	Hash           string
	WalletAddress  string
	Network        string
	Type           string
	Amount         decimal.Decimal
	AmountUSD      decimal.Decimal
	ToAddress      string
	FromAddress    string
	BlockNumber    int64
	BlockTimestamp time.Time
	GasUsed        int64
	GasPrice       decimal.Decimal // gwei
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const transactionColumns = `hash, wallet_address, network, type, amount::text,
	amount_usd::text, to_address, from_address, block_number, block_timestamp,
	gas_used, gas_price::text, status, created_at, updated_at`

// UpsertTransactionParams contains the parameters for reconciling one
// fetched transaction into storage.
type UpsertTransactionParams struct {
	Hash           string
	WalletAddress  string
	Network        string
	Type           string
	Amount         decimal.Decimal
	AmountUSD      decimal.Decimal
	ToAddress      string
	FromAddress    string
	BlockNumber    int64
	BlockTimestamp time.Time
	GasUsed        int64
	GasPrice       decimal.Decimal
	Status         string
}

// UpsertTransaction inserts the transaction or, if the (hash, wallet_address)
// row already exists, updates only its mutable fields: status (pending may
// transition to confirmed/failed, but a settled status never changes again)
// and the USD valuation when it was never populated. Amount, addresses, and
// block data are immutable once set so a stale re-fetch cannot clobber
// confirmed history. Applying the same batch twice is a no-op after the
// first pass.
func (s *Store) UpsertTransaction(ctx context.Context, params UpsertTransactionParams) (*Transaction, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO transactions (hash, wallet_address, network, type, amount,
			amount_usd, to_address, from_address, block_number, block_timestamp,
			gas_used, gas_price, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (hash, wallet_address) DO UPDATE SET
			status = CASE
				WHEN transactions.status = 'pending' THEN EXCLUDED.status
				ELSE transactions.status
			END,
			amount_usd = CASE
				WHEN transactions.amount_usd = 0 THEN EXCLUDED.amount_usd
				ELSE transactions.amount_usd
			END,
			updated_at = now()
		RETURNING `+transactionColumns,
		params.Hash, params.WalletAddress, params.Network, params.Type,
		params.Amount.String(), params.AmountUSD.String(),
		params.ToAddress, params.FromAddress, params.BlockNumber,
		params.BlockTimestamp, params.GasUsed, params.GasPrice.String(),
		params.Status)

	txn, err := scanTransaction(row)
	s.recordQuery("upsert_transaction", "transactions", start, err)
	return txn, err
}

// GetTransaction retrieves a transaction by hash and wallet address.
func (s *Store) GetTransaction(ctx context.Context, hash, walletAddress string) (*Transaction, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE hash = $1 AND wallet_address = $2`,
		hash, walletAddress)

	txn, err := scanTransaction(row)
	s.recordQuery("get_transaction", "transactions", start, err)
	return txn, err
}

// ListRecentTransactions retrieves the most recent transactions for a
// wallet, newest first by block timestamp.
func (s *Store) ListRecentTransactions(ctx context.Context, address, network string, limit int32) ([]*Transaction, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE wallet_address = $1 AND network = $2
		ORDER BY block_timestamp DESC
		LIMIT $3`,
		address, network, limit)
	s.recordQuery("list_transactions", "transactions", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, txn)
	}

	return transactions, rows.Err()
}

// CountTransactions counts all stored transactions for a wallet.
func (s *Store) CountTransactions(ctx context.Context, address, network string) (int64, error) {
	var count int64
	start := time.Now()
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE wallet_address = $1 AND network = $2`,
		address, network).Scan(&count)
	s.recordQuery("count_transactions", "transactions", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var t Transaction
	var amount, amountUSD, gasPrice string

	err := row.Scan(&t.Hash, &t.WalletAddress, &t.Network, &t.Type, &amount,
		&amountUSD, &t.ToAddress, &t.FromAddress, &t.BlockNumber,
		&t.BlockTimestamp, &t.GasUsed, &gasPrice, &t.Status,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("failed to parse transaction amount: %w", err)
	}
	if t.AmountUSD, err = decimal.NewFromString(amountUSD); err != nil {
		return nil, fmt.Errorf("failed to parse transaction amount_usd: %w", err)
	}
	if t.GasPrice, err = decimal.NewFromString(gasPrice); err != nil {
		return nil, fmt.Errorf("failed to parse transaction gas_price: %w", err)
	}

	return &t, nil
}
