package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/evmfolio/evmfolio/service/config"
	"github.com/evmfolio/evmfolio/service/db"
	"github.com/evmfolio/evmfolio/service/evm"
	"github.com/evmfolio/evmfolio/service/metrics"
	"github.com/evmfolio/evmfolio/service/nats"
	"github.com/evmfolio/evmfolio/service/network"
	"github.com/evmfolio/evmfolio/service/server"
	"github.com/evmfolio/evmfolio/service/wallet"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run pending schema migrations before accepting traffic
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database schema up to date")

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Prometheus collectors
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	store := db.NewStore(dbPool, m)

	// Chain catalog and upstream providers
	registry := network.NewRegistry(cfg)
	provider := evm.NewClient(nil, cfg.PriceAPIBaseURL, cfg.PriceCacheTTL, cfg.ProviderTimeout, m, logger)
	defer provider.Close()

	// NATS publisher is optional; the service degrades to no events when
	// the broker is unreachable at startup.
	var publisher nats.Publisher
	if cfg.NATSURL != "" {
		pub, err := nats.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			logger.Warn("NATS unavailable, event publishing disabled", "error", err)
		} else {
			publisher = pub
			defer pub.Close()
		}
	}

	svc := wallet.NewService(store, provider, registry, publisher, m, logger, wallet.Options{
		StaleTTL:        cfg.StaleTTL,
		RefreshClaimTTL: cfg.RefreshClaimTTL,
		TxFetchLimit:    cfg.TxFetchLimit,
	})

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, svc, m, logger)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
