package core

import (
	"encoding/json"
	"errors"
	"net/http"

	"farmsight/internal/types"
)

// ErrorEnvelope is the uniform error payload: a single human-readable string.
// Every failure surface in the API produces this shape, never a stack trace.
type ErrorEnvelope struct {
	Error string `json:"error"`
}

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to marshal response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error converts an error chain into the uniform envelope. An AppError in the
// chain determines the status code and the client-visible message; any other
// error becomes an opaque 500 so internal details never leak.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		JSON(w, r, appErr.HTTPStatus(), ErrorEnvelope{Error: appErr.Message})
		return
	}

	JSON(w, r, http.StatusInternalServerError, ErrorEnvelope{Error: "an unexpected error occurred"})
}

// NotFound is the handler for unrecognized paths.
func NotFound(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusNotFound, ErrorEnvelope{Error: "Endpoint not found"})
}
