package main

import (
	"context"
	"log"

	"ledger-platform/internal/eventing"
	"ledger-platform/internal/platform/auth"
	"ledger-platform/internal/platform/config"
	"ledger-platform/internal/platform/httpserver"
	"ledger-platform/internal/platform/logging"
	"ledger-platform/internal/platform/observer"
	"ledger-platform/internal/txnsvc/cache"
	"ledger-platform/internal/txnsvc/client"
	"ledger-platform/internal/txnsvc/handlers"
	"ledger-platform/internal/txnsvc/limits"
	"ledger-platform/internal/txnsvc/orchestrator"
	"ledger-platform/internal/txnsvc/routes"
	"ledger-platform/internal/txnsvc/store"
	"ledger-platform/internal/txnsvc/sweeper"
)

func main() {
	cfg := config.LoadTransactionService()

	logging.Init(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Service: "transaction-service"})
	defer logging.Sync()

	ctx := context.Background()

	txStore, err := store.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to initialize transaction store: %v", err)
	}
	defer txStore.Close()

	histCache := cache.New(cfg.Cache)
	defer histCache.Close()

	publisher, err := eventing.NewKafkaPublisher(eventing.DefaultKafkaConfig(cfg.KafkaBrokers, "transaction-service"))
	var pub eventing.Publisher
	if err != nil || !cfg.KafkaEnabled {
		if err != nil {
			logging.Warn("kafka unavailable, falling back to no-op publisher", map[string]interface{}{"error": err.Error()})
		}
		pub = eventing.NoOpPublisher{}
	} else {
		pub = publisher
		defer publisher.Close()
	}

	accountClient := client.New(cfg.AccountServiceURL, cfg.Resilience, cfg.Auth.JWTSecret)

	evaluator := limits.New(txStore)
	if err := evaluator.LoadProfiles(cfg.LimitProfilePath); err != nil {
		logging.Warn("failed to load limit profiles, falling back to basic ceiling", map[string]interface{}{"error": err.Error()})
	}

	obs := observer.NewPrometheusObserver()
	orch := orchestrator.New(txStore, accountClient, evaluator, pub, histCache, obs)
	orch.SetReversalWindow(cfg.ReversalWindow)

	sweep := sweeper.New(txStore, cfg.StaleSweepInterval, cfg.StaleSweepAge)
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go sweep.Run(sweepCtx)

	h := handlers.New(orch, txStore, accountClient, histCache)
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)

	ginEngine := httpserver.NewEngine(cfg.Logging.Level != "debug")
	ginEngine.GET("/readyz", httpserver.ReadinessCheck(map[string]func(ctx context.Context) error{
		"database": func(ctx context.Context) error { return txStore.Pool().Ping(ctx) },
		"cache":    histCache.Ping,
	}))
	routes.Register(ginEngine, h, verifier)

	server := httpserver.New(ginEngine, cfg.Server.Host+":"+cfg.Server.Port)

	logging.Info("transaction service initialized", map[string]interface{}{"port": cfg.Server.Port})

	if err := server.Run(func(ctx context.Context) error {
		cancelSweep()
		return pub.Close()
	}); err != nil {
		log.Fatalf("transaction service failed: %v", err)
	}
}
