// Package middleware holds the HTTP middleware chain: auth, request
// logging, rate limiting and panic recovery.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/devicelink/devicelink/internal/server/authversion"
	"github.com/devicelink/devicelink/internal/server/handlers"
	"github.com/devicelink/devicelink/internal/server/storage"
	"github.com/devicelink/devicelink/pkg/api"
)

// AuthMiddleware validates the Bearer token and checks its embedded auth
// version against the current one. A token minted before the last security
// event is rejected with the distinguished stale_auth code so the client
// knows to discard its local credentials rather than retry.
func AuthMiddleware(logger *slog.Logger, jwtConfig handlers.JWTConfig, invalidator *authversion.Invalidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("Missing Authorization header")
				http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("Invalid Authorization header format")
				http.Error(w, "Unauthorized: invalid token format", http.StatusUnauthorized)
				return
			}

			claims, err := handlers.ValidateAccessToken(jwtConfig, parts[1])
			if err != nil {
				logger.Warn("Invalid access token", "error", err)
				http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
				return
			}

			if err := invalidator.Check(r.Context(), claims.UserGUID, claims.AuthVersion); err != nil {
				writeAuthError(w, logger, err)
				return
			}

			ctx := context.WithValue(r.Context(), handlers.UserGUIDKey, claims.UserGUID)
			ctx = context.WithValue(ctx, handlers.DeviceIDKey, claims.DeviceID)
			ctx = context.WithValue(ctx, handlers.HandleKey, claims.Handle)

			logger.Debug("User authenticated",
				"user_guid", claims.UserGUID,
				"auth_version", claims.AuthVersion)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthError distinguishes a revoked session from other auth failures.
func writeAuthError(w http.ResponseWriter, logger *slog.Logger, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)

	body := api.ErrorResponse{Error: api.ErrorCodeInternal, Message: "unauthorized"}
	switch {
	case errors.Is(err, storage.ErrStaleAuthVersion):
		logger.Info("Stale auth version rejected")
		body = api.ErrorResponse{
			Error:   api.ErrorCodeStaleAuth,
			Message: "session revoked, local credentials must be discarded",
		}
	case errors.Is(err, storage.ErrUserNotFound):
		logger.Warn("Token references unknown user")
		body = api.ErrorResponse{Error: api.ErrorCodeNotFound, Message: "unknown user"}
	default:
		logger.Error("Auth version check failed", "error", err)
	}

	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		logger.Error("Failed to encode auth error", "error", encErr)
	}
}
