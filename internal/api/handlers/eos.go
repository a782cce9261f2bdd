// Package handlers maps inbound HTTP requests onto the domain services:
// parameter validation, geometry parsing, and uniform response envelopes.
package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"farmsight/internal/core"
	"farmsight/internal/imagery"
	"farmsight/internal/stats"
	"farmsight/internal/types"
)

// EOSHandler serves the satellite imagery and statistics endpoints.
type EOSHandler struct {
	imagery *imagery.Service
	stats   *stats.Service
	logger  *slog.Logger
}

// NewEOSHandler creates an EOSHandler.
func NewEOSHandler(imagerySvc *imagery.Service, statsSvc *stats.Service, logger *slog.Logger) *EOSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EOSHandler{imagery: imagerySvc, stats: statsSvc, logger: logger}
}

// Routes registers the /eos endpoints on the given router group.
func (h *EOSHandler) Routes(r chi.Router) {
	r.Route("/eos", func(r chi.Router) {
		r.Get("/imagery/natural", h.NaturalColor)
		r.Get("/imagery/index/{index}", h.IndexImage)
		r.Get("/imagery/comprehensive", h.ComprehensiveImagery)
		r.Get("/stats", h.VegStats)
		r.Get("/stats/comprehensive", h.ComprehensiveStats)
		r.Get("/stats/health", h.HealthScore)
	})
}

// NaturalColor handles GET /eos/imagery/natural?view_id=&geometry=&px_size=.
func (h *EOSHandler) NaturalColor(w http.ResponseWriter, r *http.Request) {
	if err := requireParams(r, "view_id", "geometry"); err != nil {
		core.Error(w, r, err)
		return
	}

	geom, err := parseGeometryParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	pxSize := intParam(r, "px_size", imagery.DefaultPixelSize)

	result, err := h.imagery.GetNaturalColor(r.Context(), r.URL.Query().Get("view_id"), geom, pxSize)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, result)
}

// IndexImage handles GET /eos/imagery/index/{index}?view_id=&geometry=.
func (h *EOSHandler) IndexImage(w http.ResponseWriter, r *http.Request) {
	index := chi.URLParam(r, "index")
	if index == "" {
		core.Error(w, r, missingParamsError([]string{"index"}))
		return
	}
	if err := requireParams(r, "view_id", "geometry"); err != nil {
		core.Error(w, r, err)
		return
	}

	geom, err := parseGeometryParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.imagery.GetIndexImage(r.Context(), r.URL.Query().Get("view_id"), index, geom)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, result)
}

// ComprehensiveImagery handles GET /eos/imagery/comprehensive?view_id=&geometry=&indices=.
// indices is an optional CSV; absent, the default index set applies.
func (h *EOSHandler) ComprehensiveImagery(w http.ResponseWriter, r *http.Request) {
	if err := requireParams(r, "view_id", "geometry"); err != nil {
		core.Error(w, r, err)
		return
	}

	geom, err := parseGeometryParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	bundle, err := h.imagery.GetComprehensiveImagery(
		r.Context(),
		r.URL.Query().Get("view_id"),
		geom,
		csvParam(r, "indices"),
	)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, bundle)
}

// VegStats handles GET /eos/stats?indices=&from=&to=&geometry=.
func (h *EOSHandler) VegStats(w http.ResponseWriter, r *http.Request) {
	if err := requireParams(r, "indices", "from", "to", "geometry"); err != nil {
		core.Error(w, r, err)
		return
	}

	geom, err := parseGeometryParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	q := r.URL.Query()
	result, err := h.stats.GetVegStats(r.Context(), csvParam(r, "indices"), q.Get("from"), q.Get("to"), geom)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, result)
}

// ComprehensiveStats handles GET /eos/stats/comprehensive?geometry=&indices=.
func (h *EOSHandler) ComprehensiveStats(w http.ResponseWriter, r *http.Request) {
	if err := requireParams(r, "geometry"); err != nil {
		core.Error(w, r, err)
		return
	}

	geom, err := parseGeometryParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	indices := csvParam(r, "indices")
	if len(indices) == 0 {
		indices = imagery.DefaultIndices
	}

	bundle, err := h.stats.GetComprehensiveStats(r.Context(), indices, geom, nil)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, bundle)
}

// HealthScore handles GET /eos/stats/health?indices=&from=&to=&geometry=.
// It fetches the statistics and derives the composite health score.
func (h *EOSHandler) HealthScore(w http.ResponseWriter, r *http.Request) {
	if err := requireParams(r, "indices", "from", "to", "geometry"); err != nil {
		core.Error(w, r, err)
		return
	}

	geom, err := parseGeometryParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	q := r.URL.Query()
	result, err := h.stats.GetVegStats(r.Context(), csvParam(r, "indices"), q.Get("from"), q.Get("to"), geom)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, map[string]any{
		"health_score":  stats.CalculateFarmHealthScore(result),
		"statistics":    result,
		"farm_geometry": geom,
	})
}

// requireParams verifies that every named query parameter is present and
// non-empty, reporting all missing names at once.
func requireParams(r *http.Request, names ...string) error {
	q := r.URL.Query()
	var missing []string
	for _, name := range names {
		if q.Get(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return missingParamsError(missing)
	}
	return nil
}

func missingParamsError(missing []string) *types.AppError {
	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		fmt.Sprintf("Missing required parameters: %s", strings.Join(missing, ", ")),
		nil,
		map[string]any{"missing": missing},
	)
}

// parseGeometryParam decodes and validates the geometry query parameter,
// which carries URL-encoded GeoJSON.
func parseGeometryParam(r *http.Request) (*types.Geometry, error) {
	geom, err := types.ParseGeometry([]byte(r.URL.Query().Get("geometry")))
	if err != nil {
		return nil, err
	}
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	return geom, nil
}

// csvParam splits a comma-separated query parameter, dropping empty entries.
func csvParam(r *http.Request, name string) []string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// intParam parses an integer query parameter, falling back to def when absent
// or malformed.
func intParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
