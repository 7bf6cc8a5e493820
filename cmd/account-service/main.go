package main

import (
	"context"
	"log"

	"ledger-platform/internal/accountsvc/engine"
	"ledger-platform/internal/accountsvc/handlers"
	"ledger-platform/internal/accountsvc/routes"
	"ledger-platform/internal/accountsvc/store"
	"ledger-platform/internal/eventing"
	"ledger-platform/internal/platform/auth"
	"ledger-platform/internal/platform/config"
	"ledger-platform/internal/platform/httpserver"
	"ledger-platform/internal/platform/logging"
	"ledger-platform/internal/platform/observer"
)

func main() {
	cfg := config.LoadAccountService()

	logging.Init(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Service: "account-service"})
	defer logging.Sync()

	ctx := context.Background()

	repo, err := store.NewPostgresRepository(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to initialize account store: %v", err)
	}
	defer repo.Close()

	publisher, err := eventing.NewKafkaPublisher(eventing.DefaultKafkaConfig([]string{"localhost:9092"}, "account-service"))
	var pub eventing.Publisher
	if err != nil {
		logging.Warn("kafka unavailable, falling back to no-op publisher", map[string]interface{}{"error": err.Error()})
		pub = eventing.NoOpPublisher{}
	} else {
		pub = publisher
		defer publisher.Close()
	}

	obs := observer.NewPrometheusObserver()
	eng := engine.New(repo, pub, obs)
	h := handlers.New(eng, repo)
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)

	ginEngine := httpserver.NewEngine(cfg.Logging.Level != "debug")
	ginEngine.GET("/readyz", httpserver.ReadinessCheck(map[string]func(ctx context.Context) error{
		"database": func(ctx context.Context) error { return repo.Pool().Ping(ctx) },
	}))
	routes.Register(ginEngine, h, verifier)

	server := httpserver.New(ginEngine, cfg.Server.Host+":"+cfg.Server.Port)

	logging.Info("account service initialized", map[string]interface{}{"port": cfg.Server.Port})

	if err := server.Run(func(ctx context.Context) error {
		return pub.Close()
	}); err != nil {
		log.Fatalf("account service failed: %v", err)
	}
}
