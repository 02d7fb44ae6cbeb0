package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// CONSISTENT ERROR FORMAT:
// Every error response from the API has the same shape:
//   {"error": "username_taken", "message": "That username is taken. Please choose a different one."}
//
// The HTML pages use the same mapping (errorStatus) so a given failure gets
// the same status code whichever surface reported it.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/session-auth/internal/apperror"
)

// maxBodyBytes caps form and JSON request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // Machine-readable error type (e.g., "invalid_credentials")
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Input field at fault, if any
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status code must be set BEFORE the body is written. Once
// Encode writes, any header change is silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent, so all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps a domain error to an HTTP status and a machine-readable
// type.
//
// The service layer never sees status codes; this is the only translation
// point.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrPasswordMismatch):
		return http.StatusBadRequest, "password_mismatch"
	case errors.Is(err, apperror.ErrUsernameTaken):
		return http.StatusConflict, "username_taken"
	case errors.Is(err, apperror.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, apperror.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError maps err to a status code and sends it as an ErrorResponse.
//
// NEVER expose internal error details to the client: storage and unknown
// errors get apperror.PublicMessage's generic sentence.
func writeError(w http.ResponseWriter, err error) {
	status, errorType := errorStatus(err)

	resp := ErrorResponse{
		Error:   errorType,
		Message: apperror.PublicMessage(err),
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) && status < http.StatusInternalServerError {
		resp.Field = appErr.Field
	}

	writeJSON(w, status, resp)
}
