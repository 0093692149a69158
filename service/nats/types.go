package nats

import (
	"time"

	"github.com/evmfolio/evmfolio/service/db"
)

// BlockEvent represents a new chain head observed by the block watcher.
// This is published to the subject "blocks.{network}" in JetStream.
type BlockEvent struct {
	Network    string    `json:"network"`
	Number     int64     `json:"number"`
	Hash       string    `json:"hash"`
	ParentHash string    `json:"parent_hash"`
	Timestamp  time.Time `json:"timestamp"`

	// ObservedAt is when the watcher received the head, not when the
	// block was mined.
	ObservedAt time.Time `json:"observed_at"`
}

// TransactionEvent represents a reconciled wallet transaction.
// This is published to the subject "txns.{network}.{wallet_address}".
type TransactionEvent struct {
	Hash          string `json:"hash"`
	WalletAddress string `json:"wallet_address"`
	Network       string `json:"network"`

	Type   string `json:"type"`
	Status string `json:"status"`

	// Amount is the native-token value in display units, serialized as a
	// decimal string to avoid float drift in consumers.
	Amount    string `json:"amount"`
	AmountUSD string `json:"amount_usd"`

	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address"`

	BlockNumber    int64     `json:"block_number"`
	BlockTimestamp time.Time `json:"block_timestamp"`

	PublishedAt time.Time `json:"published_at"`
}

// FromDBTransaction converts a database transaction to a TransactionEvent
// for publishing.
func FromDBTransaction(txn *db.Transaction) *TransactionEvent {
	return &TransactionEvent{
		Hash:           txn.Hash,
		WalletAddress:  txn.WalletAddress,
		Network:        txn.Network,
		Type:           txn.Type,
		Status:         txn.Status,
		Amount:         txn.Amount.String(),
		AmountUSD:      txn.AmountUSD.String(),
		FromAddress:    txn.FromAddress,
		ToAddress:      txn.ToAddress,
		BlockNumber:    txn.BlockNumber,
		BlockTimestamp: txn.BlockTimestamp,
		PublishedAt:    time.Now().UTC(),
	}
}
