// Package handler implements the JSON HTTP API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/pantrysync/internal/apperr"
	"github.com/dukerupert/pantrysync/internal/identity"
)

// maxBodySize caps JSON request bodies.
const maxBodySize = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return false
	}
	return true
}

// statusFor maps an error category to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidationFailed),
		errors.Is(err, apperr.ErrInvalidInviteCode),
		errors.Is(err, apperr.ErrWeakPassword):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrAlreadyMember),
		errors.Is(err, apperr.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, apperr.ErrStoreUnavailable),
		errors.Is(err, apperr.ErrNetwork):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds with the status for err's category. Server-side
// failures are logged and their detail withheld.
func writeError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	body := map[string]any{"error": err.Error()}
	switch {
	case status >= 500:
		logger.Error(op, "error", err)
		body["error"] = http.StatusText(status)
		body["retryable"] = apperr.Retryable(err)
	case isIdentityError(err):
		body["error"] = identity.Describe(err)
	}
	writeJSON(w, status, body)
}

func isIdentityError(err error) bool {
	for _, target := range []error{
		apperr.ErrInvalidCredentials, apperr.ErrAccountExists, apperr.ErrWeakPassword,
		apperr.ErrTooManyAttempts,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
