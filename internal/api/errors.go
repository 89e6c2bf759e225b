package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/mechabus-gateway/internal/auth"
	"github.com/nerrad567/mechabus-gateway/internal/dispatch"
	"github.com/nerrad567/mechabus-gateway/internal/provider"
)

// Error represents a structured HTTP error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common HTTP error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeInternal     = "internal_error"
	ErrCodeUnreachable  = "unreachable"
)

// errorCode maps a hub or dispatcher error to the wire status code.
func errorCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, provider.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, dispatch.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrUnreachable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorPayload builds the private error reply for err.
func errorPayload(err error, id string) ErrorPayload {
	code := errorCode(err)
	msg := err.Error()
	switch code {
	case http.StatusUnauthorized:
		msg = "unauthorized"
		if errors.Is(err, auth.ErrTokenExpired) {
			msg = "token expired"
		}
	case http.StatusNotFound:
		msg = "provider not found"
	case http.StatusBadGateway:
		msg = "provider unreachable"
	case http.StatusInternalServerError:
		msg = "actuator failure"
	}
	return ErrorPayload{Code: code, Error: msg, ID: id}
}

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

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}
