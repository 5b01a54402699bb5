package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"solana-curve-indexer/internal/config"
	"solana-curve-indexer/internal/logging"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	mode := flag.String("mode", "run", "Mode: run, migrate, reconcile or export")
	mint := flag.String("mint", "", "Mint to check against its bonding curve account (reconcile mode)")
	fromSlot := flag.Uint64("from-slot", 0, "First slot to export (export mode)")
	toSlot := flag.Uint64("to-slot", 0, "Last slot to export (export mode)")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}

	// Setup logger
	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(2)
	}
	logger = logger.With(zap.String("mode", *mode))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to signal main goroutine completion
	done := make(chan error, 1)

	go func() {
		var sig os.Signal
		select {
		case sig = <-sigCh:
		case <-done:
			return
		}
		logger.Info("received signal, initiating graceful shutdown", zap.Stringer("signal", sig))
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing immediate shutdown", zap.Stringer("signal", sig))
			_ = logger.Sync()
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out after 30s, forcing exit")
			_ = logger.Sync()
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	// Run based on mode
	switch *mode {
	case "run":
		err = runIndexer(ctx, cfg, logger)
	case "migrate":
		err = runMigrate(ctx, cfg, logger)
	case "reconcile":
		err = runReconcile(ctx, cfg, logger, *mint)
	case "export":
		err = runExport(ctx, cfg, logger, *fromSlot, *toSlot)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}

	// Signal completion to shutdown handler
	close(done)
	cancel()

	exitCode := 0
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("exiting with error", zap.Error(err))
		exitCode = 1
	} else {
		logger.Info("shutdown complete")
	}

	_ = logger.Sync()
	_ = logCloser.Close()
	os.Exit(exitCode)
}
