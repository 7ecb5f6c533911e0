// Package server is the operational HTTP API: ledger reads, compliance policy
// management, the kill switch, the audit log, and Prometheus metrics. It
// serves operators and monitoring, never the trading path.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amanahq/flasharb/internal/server/handler"
	"github.com/amanahq/flasharb/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
}

// Handlers aggregates the handlers the server registers. Nil entries skip
// their routes.
type Handlers struct {
	Health     *handler.HealthHandler
	Executions *handler.ExecutionHandler
	Control    *handler.ControlHandler
	Policy     *handler.PolicyHandler
	Audit      *handler.AuditHandler
}

// Server is the operational API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and wires the middleware chain
// (CORS, logging, auth).
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}
	if handlers.Executions != nil {
		mux.HandleFunc("GET /api/executions", handlers.Executions.ListRecent)
		mux.HandleFunc("GET /api/executions/profit", handlers.Executions.Profit)
		mux.HandleFunc("GET /api/executions/{id}", handlers.Executions.GetExecution)
	}
	if handlers.Control != nil {
		mux.HandleFunc("POST /api/control/halt", handlers.Control.Halt)
		mux.HandleFunc("POST /api/control/resume", handlers.Control.Resume)
		mux.HandleFunc("GET /api/control/status", handlers.Control.Status)
	}
	if handlers.Policy != nil {
		mux.HandleFunc("GET /api/policy", handlers.Policy.GetPolicy)
		mux.HandleFunc("PUT /api/policy", handlers.Policy.ReloadPolicy)
	}
	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListEntries)
	}

	mux.Handle("GET /metrics", promhttp.Handler())

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Start blocks serving requests until the server errors or shuts down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Handler exposes the fully wired handler chain for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
