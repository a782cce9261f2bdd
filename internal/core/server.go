// Package core provides the API chassis for the FarmSight EOS service.
// It creates a chi router compatible with both standard HTTP (for local dev)
// and AWS Lambda Proxy Integration. Cross-cutting concerns -- logging,
// recovery, CORS, metrics -- are enforced before requests reach the domain
// handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"farmsight/internal/config"
)

// MetricsCollector records API telemetry. The CloudWatch implementation lives
// in internal/metrics; tests inject fakes or leave it nil.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Server holds the dependencies of the FarmSight API and the router they are
// mounted on.
type Server struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics MetricsCollector

	// V1RouteRegistrars are invoked under the /v1 group when routes are
	// mounted. Populated by the application entry point; the indirection
	// avoids import cycles between core and the handler packages.
	V1RouteRegistrars []func(chi.Router)

	router *chi.Mux
}

// NewServer validates the critical dependencies and prepares the router.
// The caller mounts routes via MountRoutes after construction; the separation
// lets tests customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router. Used by
// http.ListenAndServe locally and by the Lambda adapter in deployment.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs graceful termination of server-held resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown complete")
	return nil
}
