// Package server wires the Wellscope dashboard together: store, event
// bus, worker invoker, agent service, email pipeline, inbox-monitor
// supervisor, ingestion watcher, and the HTTP router. It lives in pkg/
// so an embedding binary can compose the server with its own transport.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wellscope/wellscope/internal/agent"
	"github.com/wellscope/wellscope/internal/api"
	"github.com/wellscope/wellscope/internal/api/handlers"
	"github.com/wellscope/wellscope/internal/bus"
	"github.com/wellscope/wellscope/internal/config"
	"github.com/wellscope/wellscope/internal/monitor"
	"github.com/wellscope/wellscope/internal/pipeline"
	"github.com/wellscope/wellscope/internal/store"
	"github.com/wellscope/wellscope/internal/telemetry"
	"github.com/wellscope/wellscope/internal/watcher"
	"github.com/wellscope/wellscope/internal/worker"
)

// Server holds the initialized dashboard components.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the JSON-file-backed data store.
	Store store.Store

	// Monitor supervises the external inbox-monitor process.
	Monitor *monitor.Supervisor

	// Config is the loaded configuration.
	Config *config.Config

	// ShutdownFunc flushes telemetry on graceful shutdown.
	ShutdownFunc func(context.Context) error

	watcher *watcher.Watcher
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the dashboard with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := store.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	log.Info().Str("dir", cfg.DataDir).Msg("File store initialized")

	eventBus := bus.New()
	runner := worker.NewInvoker(cfg.Workers.Python)

	agentSvc := agent.New(dataStore, eventBus, runner, cfg.Workers)
	processor := pipeline.New(dataStore, eventBus, runner, cfg.Workers, cfg.Mail)
	supervisor := monitor.NewSupervisor(dataStore, eventBus, cfg.Workers, cfg.Mail)
	ingest := watcher.New(dataStore, eventBus, cfg.LasDir, cfg.OutputDir)

	h := handlers.New(dataStore, eventBus, agentSvc, processor, supervisor, cfg)

	return &Server{
		Handler:      api.NewRouter(h),
		Store:        dataStore,
		Monitor:      supervisor,
		Config:       cfg,
		ShutdownFunc: shutdown,
		watcher:      ingest,
	}, nil
}

// Run starts the ingestion watcher and blocks serving HTTP until the
// context is cancelled, then shuts everything down in order: HTTP first,
// then the monitor process, then telemetry.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		if err := s.watcher.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Ingestion watcher stopped")
		}
	}()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.Config.Port),
		Handler: s.Handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.Config.Port).Msg("Wellscope dashboard listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	s.Monitor.StopIfRunning(shutdownCtx)
	if err := s.Store.Close(); err != nil {
		log.Warn().Err(err).Msg("Store close failed")
	}
	return s.ShutdownFunc(shutdownCtx)
}
