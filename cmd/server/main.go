package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"moneygo/internal/config"
	"moneygo/internal/logging"
	"moneygo/internal/server"
)

func main() {
	// Load configuration
	cfg := config.Load()

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	serverInstance, err := server.NewServer(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Server starting", "port", cfg.ServerPort, "store_driver", cfg.StoreDriver)

	if err := serverInstance.Run(ctx, cfg.ServerPort, 30*time.Second); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped")
}
