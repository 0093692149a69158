package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/evmfolio/evmfolio/service/config"
	"github.com/evmfolio/evmfolio/service/metrics"
	"github.com/evmfolio/evmfolio/service/nats"
	"github.com/evmfolio/evmfolio/service/network"
	"github.com/evmfolio/evmfolio/service/watcher"
)

func main() {
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)

	if cfg.EthereumWSURL == "" {
		logger.Error("ETHEREUM_WS_URL is required for the watcher")
		os.Exit(1)
	}

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	publisher, err := nats.NewPublisher(cfg.NATSURL, m, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	w := watcher.New(network.Ethereum, cfg.EthereumWSURL, publisher, m, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting block watcher",
		"network", network.Ethereum,
		"ws_url", cfg.EthereumWSURL,
	)

	if err := w.Run(ctx); err != nil {
		logger.Error("watcher failed", "error", err)
		os.Exit(1)
	}

	logger.Info("watcher shutdown complete")
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

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}
