// Package watcher follows chain heads over websocket and publishes each
// new block to NATS.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/evmfolio/evmfolio/service/metrics"
	"github.com/evmfolio/evmfolio/service/nats"
	"github.com/evmfolio/evmfolio/service/network"
)

const (
	initialBackoff = time.Second
	maxBackoff     = time.Minute
)

// headClient is the slice of ethclient the watcher needs; tests substitute
// a fake.
type headClient interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	Close()
}

// Watcher subscribes to newHeads on one network and publishes a BlockEvent
// per head. Connection loss triggers reconnection with exponential backoff;
// the watcher only stops when its context is canceled.
type Watcher struct {
	networkID network.ID
	wsURL     string
	publisher nats.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// dial is replaceable in tests.
	dial func(ctx context.Context, url string) (headClient, error)
}

// New creates a watcher for the given network's websocket endpoint.
// m may be nil.
func New(networkID network.ID, wsURL string, publisher nats.Publisher, m *metrics.Metrics, logger *slog.Logger) *Watcher {
	return &Watcher{
		networkID: networkID,
		wsURL:     wsURL,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		dial: func(ctx context.Context, url string) (headClient, error) {
			return ethclient.DialContext(ctx, url)
		},
	}
}

// Run follows the chain head until ctx is canceled. It returns nil on
// cancellation and never returns early on connection errors.
func (w *Watcher) Run(ctx context.Context) error {
	backoff := initialBackoff

	for {
		err := w.follow(ctx)
		if ctx.Err() != nil {
			w.logger.Info("watcher stopped", "network", w.networkID)
			return nil
		}

		w.logger.Warn("head subscription lost, reconnecting",
			"network", w.networkID,
			"backoff", backoff,
			"error", err,
		)
		if w.metrics != nil {
			w.metrics.RecordBlockEvent(string(w.networkID), "reconnect")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// follow holds one subscription until it fails or ctx is canceled.
func (w *Watcher) follow(ctx context.Context) error {
	client, err := w.dial(ctx, w.wsURL)
	if err != nil {
		return fmt.Errorf("failed to dial websocket endpoint: %w", err)
	}
	defer client.Close()

	heads := make(chan *types.Header, 16)
	sub, err := client.SubscribeNewHead(ctx, heads)
	if err != nil {
		return fmt.Errorf("failed to subscribe to new heads: %w", err)
	}
	defer sub.Unsubscribe()

	w.logger.Info("following chain head", "network", w.networkID, "url", w.wsURL)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("head subscription failed: %w", err)
		case head := <-heads:
			w.publishHead(ctx, head)
		}
	}
}

func (w *Watcher) publishHead(ctx context.Context, head *types.Header) {
	event := &nats.BlockEvent{
		Network:    string(w.networkID),
		Number:     head.Number.Int64(),
		Hash:       head.Hash().Hex(),
		ParentHash: head.ParentHash.Hex(),
		Timestamp:  time.Unix(int64(head.Time), 0).UTC(),
		ObservedAt: time.Now().UTC(),
	}

	if err := w.publisher.PublishBlock(ctx, event); err != nil {
		// Dropping a head is fine; the stream is advisory and the next
		// head supersedes it.
		w.logger.WarnContext(ctx, "failed to publish block event",
			"network", w.networkID,
			"number", event.Number,
			"error", err,
		)
		if w.metrics != nil {
			w.metrics.RecordBlockEvent(string(w.networkID), "publish_error")
		}
		return
	}

	if w.metrics != nil {
		w.metrics.RecordBlockEvent(string(w.networkID), "published")
	}
	w.logger.Debug("published block event",
		"network", w.networkID,
		"number", event.Number,
		"hash", event.Hash,
	)
}
