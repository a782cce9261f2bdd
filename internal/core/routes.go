package core

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// defaultRequestTimeout bounds the in-request work, including task poll loops.
// Set below the Lambda hard timeout so handlers can still write a response.
const defaultRequestTimeout = 90 * time.Second

// defaultRedactedHeaders lists header names whose values are masked in
// request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"X-Api-Key",
}

// MountRoutes registers the global middleware chain, the /v1 route group, and
// the top-level health endpoint. Unrecognized paths and methods get the
// uniform "Endpoint not found" envelope.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Route("/v1", s.mountV1)
	s.router.Get("/health", s.HandleHealth)

	s.router.NotFound(NotFound)
	s.router.MethodNotAllowed(NotFound)
}

// registerGlobalMiddleware applies middleware in strict order: the recoverer
// is outermost so every panic is caught, the timeout wraps all downstream
// work, and the request ID must exist before logging and metrics run.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
	s.router.Use(s.MetricsMiddleware)
}

func (s *Server) mountV1(r chi.Router) {
	for _, registrar := range s.V1RouteRegistrars {
		registrar(r)
	}
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Server.CorsAllowedOrigins) > 0 {
		return s.Config.Server.CorsAllowedOrigins
	}
	return []string{"*"}
}

// HandleHealth reports liveness plus build metadata.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, map[string]string{
		"status":      "ok",
		"service":     s.Config.Service,
		"environment": s.Config.Environment,
		"version":     s.Config.Build.Version,
		"commit":      s.Config.Build.Commit,
	})
}
