// Package runtime assembles the daemon: telemetry, the message bus,
// the event store, the collaborator registry, and the speak service.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mgalpert/whisperpocket/internal/bus"
	"github.com/mgalpert/whisperpocket/internal/collab"
	"github.com/mgalpert/whisperpocket/internal/config"
	"github.com/mgalpert/whisperpocket/internal/eventstore"
	"github.com/mgalpert/whisperpocket/internal/generator"
	"github.com/mgalpert/whisperpocket/internal/natsserver"
	"github.com/mgalpert/whisperpocket/internal/speaker"
	"github.com/mgalpert/whisperpocket/internal/speech"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	speakSvc    *speaker.Service
	registry    *collab.Registry
	busClient   *bus.Client
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start runs the daemon until ctx is cancelled, then shuts everything
// down in reverse start order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = busClient
	defer busClient.Close()

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			r.logger.Warn("event store close error", slog.String("error", err.Error()))
		}
	}()

	gen, err := generator.FromConfig(r.cfg.Speak.Generator)
	if err != nil {
		return fmt.Errorf("failed to build generator: %w", err)
	}
	synth, err := speech.NewSynthesizer(r.cfg.Speak.Synth)
	if err != nil {
		return fmt.Errorf("failed to build synthesizer: %w", err)
	}
	player, err := speech.NewPlayer(r.cfg.Speak.Playback)
	if err != nil {
		return fmt.Errorf("failed to build player: %w", err)
	}

	sup := speaker.New(gen, synth, player, r.cfg.Speak, r.logger)
	speakSvc := speaker.NewService(ctx, r.cfg.Speak, busClient, store, sup, r.logger)
	if err := speakSvc.Start(); err != nil {
		return fmt.Errorf("failed to start speak service: %w", err)
	}
	r.speakSvc = speakSvc
	defer speakSvc.Close()

	registry, err := collab.NewRegistry(ctx, r.cfg.Collab, r.cfg.Speak, busClient, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start collaborator registry: %w", err)
	}
	r.registry = registry
	defer registry.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() && r.speakSvc.Healthy() && r.registry.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
