// Package server provides the operations HTTP server: metrics, health
// probes and the admin endpoints for sources and failover.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/governor/pkg/limits"
	"mercator-hq/governor/pkg/limits/failover"
	"mercator-hq/governor/pkg/telemetry/health"
	"mercator-hq/governor/pkg/telemetry/metrics"
	"mercator-hq/governor/pkg/telemetry/tracing"
)

// Admin is the part of the limits manager exposed over HTTP.
type Admin interface {
	Inspect(ctx context.Context, source string) (limits.Inspection, error)
	ResetBreaker(ctx context.Context, source string) error
	FailoverStatus() (failover.Status, bool)
	Sources() *limits.Sources
}

// Config configures the server.
type Config struct {
	// ListenAddress is host:port to listen on.
	ListenAddress string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// MetricsPath serves Gatherer. Empty disables the endpoint.
	MetricsPath string
	Gatherer    prometheus.Gatherer

	// Health serves /health/live and /health/ready. Optional.
	Health *health.Checker

	// Admin serves /admin. Nil disables the admin endpoints.
	Admin Admin

	Version   string
	Commit    string
	BuildTime string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the operations HTTP server.
type Server struct {
	config     Config
	router     *chi.Mux
	httpServer *http.Server
	logger     *slog.Logger

	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
	addr         net.Addr
}

// New creates a server and registers its routes.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}

	s := &Server{
		config: cfg,
		router: chi.NewRouter(),
		logger: cfg.Logger.With("component", "server"),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures routes and the middleware chain.
func (s *Server) setupRoutes() {
	r := s.router

	// Recovery outermost, then request ID so every log line carries it.
	r.Use(recoveryMiddleware(s.logger))
	r.Use(requestIDMiddleware)
	r.Use(tracing.HTTPMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "the requested resource was not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "the requested method is not allowed for this resource")
	})

	if s.config.MetricsPath != "" && s.config.Gatherer != nil {
		r.Method(http.MethodGet, s.config.MetricsPath, metrics.Handler(s.config.Gatherer))
	}

	if s.config.Health != nil {
		r.Get("/health/live", s.config.Health.LivenessHandler())
		r.Head("/health/live", s.config.Health.LivenessHandler())
		r.Get("/health/ready", s.config.Health.ReadinessHandler())
		r.Head("/health/ready", s.config.Health.ReadinessHandler())
	}
	r.Get("/version", health.VersionHandler(s.config.Version, s.config.Commit, s.config.BuildTime))

	if s.config.Admin != nil {
		a := &adminHandler{admin: s.config.Admin, logger: s.logger}
		r.Route("/admin", func(r chi.Router) {
			r.Get("/sources", a.listSources)
			r.Get("/sources/{source}", a.inspectSource)
			r.Delete("/sources/{source}/breaker", a.resetBreaker)
			r.Get("/failover", a.failoverStatus)
		})
	}
}

// Start listens on the configured address and serves until ctx is
// cancelled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	listener, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.addr = listener.Addr()
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting ops server", "address", listener.Addr().String())
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err, ok := <-errChan:
		if ok {
			return err
		}
		return nil
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.RLock()
		running := s.isRunning
		s.mu.RUnlock()
		if !running {
			return
		}

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("ops server stopped")
	})

	return shutdownErr
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the bound address once the server has started.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}
