package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelink/devicelink/internal/models"
	"github.com/devicelink/devicelink/internal/server/authversion"
	"github.com/devicelink/devicelink/internal/server/handlers"
	"github.com/devicelink/devicelink/internal/server/storage/sqlite"
	"github.com/devicelink/devicelink/pkg/api"
)

func setupAuthTest(t *testing.T) (*sqlite.Storage, *authversion.Invalidator, handlers.JWTConfig) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.CreateUser(context.Background(), &models.User{
		GUID:        "guid-1",
		Handle:      "@user",
		Phone:       "+15550001111",
		AuthVersion: 1,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}))

	jwtCfg := handlers.JWTConfig{Secret: []byte("test-secret"), AccessTokenTTL: time.Hour}
	return store, authversion.New(store, logger), jwtCfg
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, invalidator, jwtCfg := setupAuthTest(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	token, _, err := handlers.GenerateAccessToken(jwtCfg, "guid-1", "dev-1", "@user", 1)
	require.NoError(t, err)

	var gotGUID, gotDevice string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotGUID, _ = handlers.GetUserGUID(r.Context())
		gotDevice, _ = handlers.GetDeviceID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	AuthMiddleware(logger, jwtCfg, invalidator)(next).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "guid-1", gotGUID)
	assert.Equal(t, "dev-1", gotDevice)
}

func TestAuthMiddleware_StaleAuthVersion(t *testing.T) {
	_, invalidator, jwtCfg := setupAuthTest(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	token, _, err := handlers.GenerateAccessToken(jwtCfg, "guid-1", "dev-1", "@user", 1)
	require.NoError(t, err)

	// A security event after the token was minted revokes it.
	_, err = invalidator.Bump(context.Background(), "guid-1")
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run with a stale token")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	AuthMiddleware(logger, jwtCfg, invalidator)(next).ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)

	var resp api.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, api.ErrorCodeStaleAuth, resp.Error)
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	_, invalidator, jwtCfg := setupAuthTest(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})
	mw := AuthMiddleware(logger, jwtCfg, invalidator)(next)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "not bearer", header: "Basic abc"},
		{name: "garbage token", header: "Bearer not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sync", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			mw.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestAuthMiddleware_WrongSigningKey(t *testing.T) {
	_, invalidator, jwtCfg := setupAuthTest(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	otherCfg := handlers.JWTConfig{Secret: []byte("other-secret"), AccessTokenTTL: time.Hour}
	token, _, err := handlers.GenerateAccessToken(otherCfg, "guid-1", "dev-1", "@user", 1)
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	AuthMiddleware(logger, jwtCfg, invalidator)(next).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
