package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/devicelink/devicelink/internal/server/storage"
	"github.com/devicelink/devicelink/internal/server/verification"
	"github.com/devicelink/devicelink/pkg/api"
)

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

// writeError maps a domain error onto the error taxonomy: validation and
// conflict errors carry actionable messages, stale auth is distinguished
// from plain unauthorized, and everything else degrades to a generic
// internal error with the detail kept server-side.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, storage.ErrHandleTaken), errors.Is(err, storage.ErrPhoneTaken):
		writeJSON(w, logger, http.StatusConflict, api.ErrorResponse{
			Error:   api.ErrorCodeConflict,
			Message: err.Error(),
		})
	case errors.Is(err, storage.ErrStaleAuthVersion):
		writeJSON(w, logger, http.StatusUnauthorized, api.ErrorResponse{
			Error:   api.ErrorCodeStaleAuth,
			Message: "session revoked, local credentials must be discarded",
		})
	case errors.Is(err, verification.ErrCodeMismatch),
		errors.Is(err, verification.ErrHandleRequired):
		writeJSON(w, logger, http.StatusBadRequest, api.ErrorResponse{
			Error:   api.ErrorCodeValidation,
			Message: err.Error(),
		})
	case errors.Is(err, storage.ErrUserNotFound),
		errors.Is(err, storage.ErrDeviceNotFound),
		errors.Is(err, verification.ErrChallengeNotFound):
		writeJSON(w, logger, http.StatusNotFound, api.ErrorResponse{
			Error:   api.ErrorCodeNotFound,
			Message: err.Error(),
		})
	default:
		logger.Error("Internal error", "error", err)
		writeJSON(w, logger, http.StatusInternalServerError, api.ErrorResponse{
			Error:   api.ErrorCodeInternal,
			Message: "temporary failure, please retry later",
		})
	}
}

// writeValidationError reports a malformed request field.
func writeValidationError(w http.ResponseWriter, logger *slog.Logger, err error) {
	writeJSON(w, logger, http.StatusBadRequest, api.ErrorResponse{
		Error:   api.ErrorCodeValidation,
		Message: err.Error(),
	})
}
