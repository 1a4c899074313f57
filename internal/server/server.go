// Package server exposes a running scheduler over a read-only JSON API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/gthreads/internal/logging"
	"github.com/me/gthreads/internal/trace"
	"github.com/me/gthreads/pkg/gthread"
)

// Version is reported by the discovery and health endpoints.
const Version = "0.1.0"

// Inspector is the part of a runtime the server reads. Every method must be
// safe to call from the HTTP goroutines.
type Inspector interface {
	Snapshot() []gthread.TaskInfo
	Stats() gthread.Stats
	Config() gthread.Config
}

// Server is the introspection API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	rt        Inspector
	store     trace.Store // optional; nil disables /runs
	runID     string      // optional; the run being recorded right now
	startTime time.Time
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithTraceStore serves recorded runs from st.
func WithTraceStore(st trace.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// WithCurrentRun marks id as the run being recorded by this process.
func WithCurrentRun(id string) Option {
	return func(s *Server) {
		s.runID = id
	}
}

// New creates a Server with all routes registered. rt may be nil when only
// recorded runs are served.
func New(rt Inspector, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logging.Component(logger, "server"),
		rt:        rt,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. ready, if non-nil, receives the bound address.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if ready != nil {
		ready(ln.Addr())
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("debug server listening", "addr", ln.Addr().String())
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("debug server stopped")
	return nil
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Get("/{id}", s.handleGetTask)
		})
		r.Get("/stats", s.handleStats)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Get("/events", s.handleListEvents)
			})
		})
	})
}
