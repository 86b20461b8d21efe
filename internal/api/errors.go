package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/rpcqueue/internal/dispatch"
	"github.com/nerrad567/rpcqueue/internal/relay"
	"github.com/nerrad567/rpcqueue/internal/wire"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes returned in Error.Code.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeValidation       = "validation_error"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeConflict         = "conflict"
	ErrCodeTooLarge         = "payload_too_large"
	ErrCodeTimeout          = "timeout"
	ErrCodeUnavailable      = "unavailable"
	ErrCodeInternal         = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // client may have gone away
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeRelayError maps an error returned by the relay to its response.
// It reports false for errors it does not know, leaving the caller to log
// and answer them.
func writeRelayError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, relay.ErrUnknownQueue):
		writeNotFound(w, "queue not found")
	case errors.Is(err, relay.ErrBatchTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, err.Error())
	case errors.Is(err, wire.ErrMissingRun), errors.Is(err, wire.ErrNoRecords):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, relay.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "relay is shutting down")
	case errors.Is(err, dispatch.ErrNotFailed):
		writeError(w, http.StatusConflict, ErrCodeConflict, "queue worker is not failed")
	case errors.Is(err, dispatch.ErrClosed):
		writeError(w, http.StatusConflict, ErrCodeConflict, "queue is closed")
	default:
		return false
	}
	return true
}
