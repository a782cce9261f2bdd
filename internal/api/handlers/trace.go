package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"farmsight/internal/core"
	"farmsight/internal/ledger"
	"farmsight/internal/types"
)

// maxBodySize bounds JSON request bodies accepted by the write endpoints.
const maxBodySize = 1 << 20

// TraceHandler serves the read-only ledger checkpoint endpoints.
type TraceHandler struct {
	ledger *ledger.Client
	logger *slog.Logger
}

// NewTraceHandler creates a TraceHandler.
func NewTraceHandler(client *ledger.Client, logger *slog.Logger) *TraceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TraceHandler{ledger: client, logger: logger}
}

// Routes registers the /trace endpoints on the given router group.
func (h *TraceHandler) Routes(r chi.Router) {
	r.Get("/trace/{ref}", h.Checkpoints)
}

// Checkpoints handles GET /trace/{ref}?limit=. The ledger client degrades to
// fallback data on upstream failure, so this endpoint only errors on bad
// input.
func (h *TraceHandler) Checkpoints(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if ref == "" {
		core.Error(w, r, missingParamsError([]string{"ref"}))
		return
	}

	list := h.ledger.RecentCheckpoints(r.Context(), ref, intParam(r, "limit", 0))
	core.JSON(w, r, http.StatusOK, list)
}

// decodeBody reads a JSON request body into dst with a size ceiling.
func decodeBody(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return types.NewAppError(
			types.ErrCodeValidationInvalidParam,
			"request body must be valid JSON",
			err,
		)
	}
	return nil
}
