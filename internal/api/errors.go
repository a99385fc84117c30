package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/poolbridge/internal/coordinator"
	"github.com/nerrad567/poolbridge/internal/pool"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeUnauthorized     = "unauthorised"
	ErrCodeConflict         = "conflict"
	ErrCodeInternal         = "internal_error"
	ErrCodeValidation       = "validation_error"
	ErrCodeUnsupported      = "unsupported"
	ErrCodeNotReady         = "not_ready"
	ErrCodeThrottled        = "throttled"
	ErrCodePoolNotConnected = "pool_not_connected"
	ErrCodeUpstream         = "upstream_error"
	ErrCodeUnavailable      = "service_unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps a coordinator or pool error onto a response.
// The upstream's own message is passed through; the code is what clients
// branch on.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, pool.ErrUnknownChannel),
		errors.Is(err, pool.ErrUnknownFavourite),
		errors.Is(err, coordinator.ErrTransitionNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, pool.ErrUnknownMode),
		errors.Is(err, pool.ErrUnknownEffect),
		errors.Is(err, pool.ErrSetpointOutOfRange):
		return http.StatusUnprocessableEntity, ErrCodeValidation
	case errors.Is(err, pool.ErrUnsupported):
		return http.StatusUnprocessableEntity, ErrCodeUnsupported
	case errors.Is(err, coordinator.ErrNoTransition):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, coordinator.ErrNotReady),
		errors.Is(err, coordinator.ErrStopped):
		return http.StatusServiceUnavailable, ErrCodeNotReady
	case errors.Is(err, pool.ErrThrottled):
		return http.StatusTooManyRequests, ErrCodeThrottled
	case errors.Is(err, pool.ErrPoolNotConnected):
		return http.StatusServiceUnavailable, ErrCodePoolNotConnected
	case errors.Is(err, pool.ErrUnauthorized),
		errors.Is(err, pool.ErrUpstream),
		errors.Is(err, coordinator.ErrUpstreamUnavailable):
		return http.StatusBadGateway, ErrCodeUpstream
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
