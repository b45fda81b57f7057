// Package api serves a workspace's reports, ledger history and metrics over
// HTTP, and lets an external scheduler trigger batches and rollbacks.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/steveyegge/autoprog/internal/coordinator"
)

// DefaultAddr is where serve listens unless told otherwise.
const DefaultAddr = "127.0.0.1:9017"

// Server exposes one coordinator over HTTP.
type Server struct {
	coord  *coordinator.Coordinator
	logger *slog.Logger

	// ctx outlives requests so background batches are not cut short when
	// the triggering request returns. Cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	busy    bool
	batches sync.WaitGroup
}

// NewServer creates a server for coord.
func NewServer(coord *coordinator.Coordinator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{coord: coord, logger: logger, ctx: ctx, cancel: cancel}
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/report/latest", s.handleLatestReport)
	r.Get("/history", s.handleHistory)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.coord.Gatherer(), promhttp.HandlerOpts{}))

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Post("/", s.handleStartRun)
		r.Post("/stop", s.handleStopRun)
	})
	r.Post("/rollback", s.handleRollback)

	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr, "workspace", s.coord.Root())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Shutdown()
	if err != nil {
		return fmt.Errorf("api shutdown failed: %w", err)
	}
	return nil
}

// Shutdown stops any background batch and waits for it to report.
func (s *Server) Shutdown() {
	s.coord.Stop()
	s.cancel()
	s.batches.Wait()
}

// claim marks the server busy with a batch. It reports false when one is
// already running.
func (s *Server) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}
