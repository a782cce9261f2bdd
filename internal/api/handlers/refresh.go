package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"farmsight/internal/core"
	"farmsight/internal/queue"
	"farmsight/internal/types"
)

// RefreshHandler accepts background imagery refresh requests and hands them
// to the queue; the refresh worker does the actual fetching.
type RefreshHandler struct {
	trigger *queue.RefreshTrigger
	logger  *slog.Logger
}

// NewRefreshHandler creates a RefreshHandler.
func NewRefreshHandler(trigger *queue.RefreshTrigger, logger *slog.Logger) *RefreshHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshHandler{trigger: trigger, logger: logger}
}

// Routes registers the refresh endpoint on the given router group.
func (h *RefreshHandler) Routes(r chi.Router) {
	r.Post("/eos/refresh", h.Enqueue)
}

// refreshRequest is the POST /eos/refresh body.
type refreshRequest struct {
	FarmID   string          `json:"farm_id"`
	ViewID   string          `json:"view_id"`
	Geometry json.RawMessage `json:"geometry"`
	Indices  []string        `json:"indices,omitempty"`
}

// Enqueue handles POST /eos/refresh. The response carries the job ID so
// callers can correlate worker logs.
func (h *RefreshHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeBody(r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	var missing []string
	if req.ViewID == "" {
		missing = append(missing, "view_id")
	}
	if len(req.Geometry) == 0 {
		missing = append(missing, "geometry")
	}
	if len(missing) > 0 {
		core.Error(w, r, missingParamsError(missing))
		return
	}

	geom, err := types.ParseGeometry(req.Geometry)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := geom.Validate(); err != nil {
		core.Error(w, r, err)
		return
	}

	jobID, err := h.trigger.Enqueue(r.Context(), queue.RefreshJob{
		FarmID:   req.FarmID,
		ViewID:   req.ViewID,
		Geometry: geom,
		Indices:  req.Indices,
	}, "api_request")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusAccepted, map[string]string{"job_id": jobID})
}
