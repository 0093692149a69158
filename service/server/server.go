// Package server exposes the wallet service over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evmfolio/evmfolio/service/metrics"
)

// Server represents the HTTP server for the wallet service.
type Server struct {
	addr    string
	service WalletService
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, service WalletService, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		service: service,
		metrics: m,
		logger:  logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := s.routes()

	// Wrap mux with CORS middleware
	handler := corsMiddleware(mux)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Wallet routes
	mux.Handle("GET /api/v1/wallets/{address}", s.instrument("/api/v1/wallets/{address}",
		handleGetWallet(s.service, s.logger)))
	mux.Handle("POST /api/v1/wallets/{address}/refresh", s.instrument("/api/v1/wallets/{address}/refresh",
		handleRefreshWallet(s.service, s.logger)))
	mux.Handle("GET /api/v1/wallets/{address}/stats", s.instrument("/api/v1/wallets/{address}/stats",
		handleGetWalletStats(s.service, s.logger)))
	mux.Handle("POST /api/v1/wallets/{address}/views", s.instrument("/api/v1/wallets/{address}/views",
		handleLogWalletView(s.service, s.logger)))

	// Network catalog
	mux.Handle("GET /api/v1/networks", s.instrument("/api/v1/networks",
		handleListNetworks(s.service, s.logger)))

	// Signature login
	mux.Handle("POST /api/v1/auth/login", s.instrument("/api/v1/auth/login",
		handleVerifyLogin(s.service, s.logger)))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return mux
}

// instrument wraps a handler with HTTP metrics when a collector is
// configured.
func (s *Server) instrument(name string, h http.Handler) http.Handler {
	if s.metrics == nil {
		return h
	}
	return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers for all requests
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Pass through to next handler
		next.ServeHTTP(w, r)
	})
}
