package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/evmfolio/evmfolio/service/metrics"
)

// Publisher defines the interface for publishing wallet events to NATS.
type Publisher interface {
	// PublishBlock publishes a new-head block event to JetStream.
	// The event is published to the subject "blocks.{network}".
	PublishBlock(ctx context.Context, event *BlockEvent) error

	// PublishTransaction publishes a reconciled transaction event.
	// The event is published to the subject "txns.{network}.{wallet_address}".
	PublishTransaction(ctx context.Context, event *TransactionEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes wallet events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for wallet events.
	StreamName = "EVMFOLIO"

	// BlockSubjects and TransactionSubjects are the subject patterns
	// captured by the stream.
	BlockSubjects       = "blocks.*"
	TransactionSubjects = "txns.*.*"

	// StreamRetention is how long messages are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour
)

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists. If m is nil, no metrics
// are recorded.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("evmfolio-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Block heads and reconciled transactions from tracked EVM wallets",
		Subjects:    []string{BlockSubjects, TransactionSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	_, err = p.js.CreateStream(ctx, streamConfig)
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishBlock publishes a single new-head block event.
func (p *JetStreamPublisher) PublishBlock(ctx context.Context, event *BlockEvent) error {
	subject := fmt.Sprintf("blocks.%s", event.Network)
	if err := p.publish(ctx, subject, event); err != nil {
		return fmt.Errorf("failed to publish block event: %w", err)
	}

	p.logger.Debug("published block event",
		"subject", subject,
		"network", event.Network,
		"number", event.Number,
	)
	return nil
}

// PublishTransaction publishes a single reconciled transaction event.
func (p *JetStreamPublisher) PublishTransaction(ctx context.Context, event *TransactionEvent) error {
	subject := fmt.Sprintf("txns.%s.%s", event.Network, event.WalletAddress)
	if err := p.publish(ctx, subject, event); err != nil {
		return fmt.Errorf("failed to publish transaction event: %w", err)
	}

	p.logger.Debug("published transaction event",
		"subject", subject,
		"hash", event.Hash,
		"wallet", event.WalletAddress,
	)
	return nil
}

func (p *JetStreamPublisher) publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(subject, status, time.Since(start).Seconds())
	}
	return err
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
