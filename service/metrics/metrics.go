package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Upstream provider metrics (JSON-RPC, explorer, price oracle)
	providerCallsTotal   *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec

	// Wallet refresh metrics
	walletRefreshesTotal  *prometheus.CounterVec
	walletRefreshDuration *prometheus.HistogramVec
	walletRefreshesServed *prometheus.CounterVec
	staleServesTotal      *prometheus.CounterVec

	// Transaction reconciliation metrics
	transactionsReconciledTotal *prometheus.CounterVec
	transactionsSkippedTotal    *prometheus.CounterVec

	// Auth metrics
	signatureVerificationsTotal *prometheus.CounterVec

	// Database metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec

	// Block watcher metrics
	blockEventsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		providerCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_calls_total",
				Help: "Total number of upstream provider calls by method and status",
			},
			[]string{"method", "network", "status"},
		),
		providerCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provider_call_duration_seconds",
				Help:    "Duration of upstream provider calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "network"},
		),

		walletRefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_refreshes_total",
				Help: "Total number of wallet refresh cycles by network and status",
			},
			[]string{"network", "status"},
		),
		walletRefreshDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_refresh_duration_seconds",
				Help:    "Duration of wallet refresh cycles in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"network"},
		),
		walletRefreshesServed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_reads_total",
				Help: "Total number of wallet reads by freshness of the served state",
			},
			[]string{"network", "freshness"},
		),
		staleServesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_stale_serves_total",
				Help: "Total number of reads served stale because a refresh failed",
			},
			[]string{"network"},
		),

		transactionsReconciledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_reconciled_total",
				Help: "Total number of transactions upserted during reconciliation",
			},
			[]string{"network", "type"},
		),
		transactionsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_skipped_total",
				Help: "Total number of explorer transactions skipped during reconciliation",
			},
			[]string{"network", "reason"},
		),

		signatureVerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signature_verifications_total",
				Help: "Total number of login signature verifications by outcome",
			},
			[]string{"outcome"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),

		blockEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "block_events_total",
				Help: "Total number of new-head block events observed by the watcher",
			},
			[]string{"network", "status"},
		),
	}
}

// Provider metric helpers

// RecordProviderCall records an upstream provider call with duration.
func (m *Metrics) RecordProviderCall(method, network, status string, duration float64) {
	m.providerCallsTotal.WithLabelValues(method, network, status).Inc()
	m.providerCallDuration.WithLabelValues(method, network).Observe(duration)
}

// Wallet refresh metric helpers

// RecordWalletRefresh records a completed refresh cycle.
func (m *Metrics) RecordWalletRefresh(network, status string, duration float64) {
	m.walletRefreshesTotal.WithLabelValues(network, status).Inc()
	m.walletRefreshDuration.WithLabelValues(network).Observe(duration)
}

// RecordWalletRead records a wallet read and whether it was served fresh,
// from cache, or stale.
func (m *Metrics) RecordWalletRead(network, freshness string) {
	m.walletRefreshesServed.WithLabelValues(network, freshness).Inc()
}

// RecordStaleServe records a read served from stale state after a refresh
// failure.
func (m *Metrics) RecordStaleServe(network string) {
	m.staleServesTotal.WithLabelValues(network).Inc()
}

// Reconciliation metric helpers

// RecordTransactionsReconciled records transactions upserted by type.
func (m *Metrics) RecordTransactionsReconciled(network, txType string, count int) {
	m.transactionsReconciledTotal.WithLabelValues(network, txType).Add(float64(count))
}

// RecordTransactionsSkipped records explorer rows skipped during
// reconciliation.
func (m *Metrics) RecordTransactionsSkipped(network, reason string, count int) {
	m.transactionsSkippedTotal.WithLabelValues(network, reason).Add(float64(count))
}

// Auth metric helpers

// RecordSignatureVerification records a login verification outcome
// ("accepted" or "rejected").
func (m *Metrics) RecordSignatureVerification(outcome string) {
	m.signatureVerificationsTotal.WithLabelValues(outcome).Inc()
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Watcher metric helpers

// RecordBlockEvent records a new-head event observed by the block watcher.
func (m *Metrics) RecordBlockEvent(network, status string) {
	m.blockEventsTotal.WithLabelValues(network, status).Inc()
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
