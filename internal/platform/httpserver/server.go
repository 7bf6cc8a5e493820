package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"ledger-platform/internal/platform/logging"
)

// Server wraps an http.Server bound to a gin.Engine, generalizing the
// teacher's components.Container start/shutdown lifecycle so both services
// share the same graceful-shutdown shape.
type Server struct {
	engine *gin.Engine
	http   *http.Server
}

// New builds a Server listening on addr.
func New(engine *gin.Engine, addr string) *Server {
	return &Server{
		engine: engine,
		http: &http.Server{
			Addr:           addr,
			Handler:        engine,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
	}
}

// Engine returns the underlying gin.Engine for route registration.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Run starts the HTTP server and blocks until SIGINT/SIGTERM, then drains
// in-flight requests within a 30s grace period.
func (s *Server) Run(onShutdown func(ctx context.Context) error) error {
	logging.Info("starting http server", map[string]interface{}{"address": s.http.Addr})

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed to start: %w", err)
	case <-quit:
	}

	logging.Info("shutting down http server", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if onShutdown != nil {
		if err := onShutdown(ctx); err != nil {
			logging.Error("shutdown hook failed", err, nil)
		}
	}
	logging.Info("http server shutdown complete", nil)
	return nil
}

// NewEngine builds a gin.Engine with the shared global middleware stack.
func NewEngine(release bool) *gin.Engine {
	if release {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger())
	engine.Use(PrometheusMiddleware())
	engine.GET("/healthz", HealthCheck())
	return engine
}
