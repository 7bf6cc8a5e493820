// Command sweeper runs the stale-transaction recovery sweep as its own
// process, for operators who prefer to scale or schedule it independently
// of the Transaction Service's HTTP server.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"ledger-platform/internal/platform/config"
	"ledger-platform/internal/platform/logging"
	"ledger-platform/internal/txnsvc/store"
	"ledger-platform/internal/txnsvc/sweeper"
)

func main() {
	cfg := config.LoadTransactionService()

	logging.Init(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Service: "sweeper"})
	defer logging.Sync()

	ctx := context.Background()

	txStore, err := store.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to initialize transaction store: %v", err)
	}
	defer txStore.Close()

	sweep := sweeper.New(txStore, cfg.StaleSweepInterval, cfg.StaleSweepAge)

	runCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logging.Info("sweeper started", map[string]interface{}{"interval": cfg.StaleSweepInterval.String(), "age": cfg.StaleSweepAge.String()})
	sweep.Run(runCtx)
	logging.Info("sweeper stopped", nil)
}
