// Command server is the sentinel fleet coordination process: it loads
// configuration, wires the core subsystems, and serves the fan-out
// websocket and Prometheus endpoints until it receives an interrupt.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/aegisfleet/sentinel/internal/config"
	"github.com/aegisfleet/sentinel/internal/logging"
	"github.com/aegisfleet/sentinel/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := srv.Run(ctx)

	if closeErr := srv.Dependencies().Close(); closeErr != nil {
		logger.Warn("error closing dependencies", zap.Error(closeErr))
	}

	if runErr != nil {
		return fmt.Errorf("server: %w", runErr)
	}
	logger.Info("sentinel server stopped")
	return nil
}
