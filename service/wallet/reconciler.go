package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/evmfolio/evmfolio/service/db"
	"github.com/evmfolio/evmfolio/service/evm"
	"github.com/evmfolio/evmfolio/service/metrics"
	"github.com/evmfolio/evmfolio/service/nats"
	"github.com/evmfolio/evmfolio/service/network"
)

// Reconciler folds explorer transaction listings into the local ledger.
// Upserts are idempotent on (hash, wallet_address): re-reconciling the same
// listing changes nothing except a pending transaction settling to
// confirmed or failed.
type Reconciler struct {
	store     Store
	publisher nats.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewReconciler creates a new transaction reconciler. publisher may be nil
// when event publishing is disabled.
func NewReconciler(store Store, publisher nats.Publisher, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// Reconcile upserts the raw explorer transactions for the wallet, valuing
// amounts at the given USD price. It returns the number of rows upserted.
// A failure on one transaction does not abort the rest.
func (r *Reconciler) Reconcile(ctx context.Context, address string, net network.Info, raws []*evm.RawTransaction, usdPrice decimal.Decimal) (int, error) {
	var upserted int
	var firstErr error

	for _, raw := range raws {
		txn, err := r.reconcileOne(ctx, address, net, raw, usdPrice)
		if err != nil {
			r.logger.WarnContext(ctx, "failed to reconcile transaction",
				"hash", raw.Hash,
				"address", address,
				"network", net.ID,
				"error", err,
			)
			if r.metrics != nil {
				r.metrics.RecordTransactionsSkipped(string(net.ID), "store_error", 1)
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		upserted++
		if r.metrics != nil {
			r.metrics.RecordTransactionsReconciled(string(net.ID), txn.Type, 1)
		}
		r.publishTransaction(ctx, txn)
	}

	if firstErr != nil {
		return upserted, fmt.Errorf("reconciliation completed with errors: %w", firstErr)
	}
	return upserted, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, address string, net network.Info, raw *evm.RawTransaction, usdPrice decimal.Decimal) (*db.Transaction, error) {
	amount := evm.WeiToEther(raw.Value)

	return r.store.UpsertTransaction(ctx, db.UpsertTransactionParams{
		Hash:           raw.Hash,
		WalletAddress:  address,
		Network:        string(net.ID),
		Type:           classifyDirection(address, raw.To),
		Amount:         amount,
		AmountUSD:      amount.Mul(usdPrice),
		ToAddress:      raw.To,
		FromAddress:    raw.From,
		BlockNumber:    raw.BlockNumber,
		BlockTimestamp: raw.Timestamp,
		GasUsed:        raw.GasUsed,
		GasPrice:       evm.WeiToGwei(raw.GasPrice),
		Status:         statusFromReceipt(raw.ReceiptStatus),
	})
}

// classifyDirection reports whether the wallet received or sent the
// transaction. A self-transfer counts as received.
func classifyDirection(address, to string) string {
	if strings.EqualFold(to, address) {
		return db.TxTypeReceived
	}
	return db.TxTypeSent
}

// statusFromReceipt maps the explorer receipt status onto the ledger
// status. An empty receipt status means the receipt is not yet available.
func statusFromReceipt(receiptStatus string) string {
	switch receiptStatus {
	case "1":
		return db.TxStatusConfirmed
	case "0":
		return db.TxStatusFailed
	default:
		return db.TxStatusPending
	}
}

// publishTransaction emits the reconciled transaction to NATS. Publish
// failures are logged and swallowed; consumers deduplicate by hash, so a
// re-published event on a later reconcile is harmless.
func (r *Reconciler) publishTransaction(ctx context.Context, txn *db.Transaction) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishTransaction(ctx, nats.FromDBTransaction(txn)); err != nil {
		r.logger.WarnContext(ctx, "failed to publish transaction event",
			"hash", txn.Hash,
			"wallet", txn.WalletAddress,
			"error", err,
		)
	}
}
