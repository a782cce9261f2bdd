package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"farmsight/internal/auth"
	"farmsight/internal/core"
	"farmsight/internal/registry"
	"farmsight/internal/types"
)

// FarmsHandler serves the farm registry endpoints. Writes are restricted to
// administrators; reads are open to any authenticated role through the
// session middleware applied at mount time.
type FarmsHandler struct {
	registry *registry.FarmRegistry
	verifier *auth.Verifier
	logger   *slog.Logger
}

// NewFarmsHandler creates a FarmsHandler.
func NewFarmsHandler(reg *registry.FarmRegistry, verifier *auth.Verifier, logger *slog.Logger) *FarmsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FarmsHandler{registry: reg, verifier: verifier, logger: logger}
}

// Routes registers the /farms endpoints on the given router group.
func (h *FarmsHandler) Routes(r chi.Router) {
	r.Route("/farms", func(r chi.Router) {
		r.Use(h.verifier.Middleware)
		r.Get("/", h.List)
		r.With(auth.RequireRole(types.RoleAdmin)).Post("/", h.Put)
	})
}

// List handles GET /farms.
func (h *FarmsHandler) List(w http.ResponseWriter, r *http.Request) {
	farms, err := h.registry.List(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, farms)
}

// Put handles POST /farms, upserting one farm record.
func (h *FarmsHandler) Put(w http.ResponseWriter, r *http.Request) {
	var farm registry.Farm
	if err := decodeBody(r, &farm); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.registry.Put(r.Context(), farm); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, map[string]bool{"ok": true})
}
