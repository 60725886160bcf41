package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"llamachat/internal/engine"
	"llamachat/internal/registry"
	"llamachat/internal/router"
	"llamachat/internal/session"
	"llamachat/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case errors.As(err, &he):
		return he.StatusCode()
	case engine.IsAlreadyLoaded(err), engine.IsNotLoaded(err):
		return http.StatusConflict
	case engine.IsDependencyUnavailable(err), errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, router.ErrUnknownProvider):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrModelNotFound):
		return http.StatusNotFound
	}
	if _, ok := engine.LoadFailedStage(err); ok {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
