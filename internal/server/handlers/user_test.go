package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/devicelink/devicelink/internal/models"
	"github.com/devicelink/devicelink/internal/server/authversion"
	"github.com/devicelink/devicelink/internal/server/storage/devfile"
	"github.com/devicelink/devicelink/internal/server/storage/sqlite"
	"github.com/devicelink/devicelink/pkg/api"
)

type userFixture struct {
	store   *sqlite.Storage
	devices *devfile.Store
	handler *UserHandler
	jwtCfg  JWTConfig
}

func newUserFixture(t *testing.T) *userFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	devices, err := devfile.New(t.TempDir(), logger)
	require.NoError(t, err)

	jwtCfg := JWTConfig{Secret: []byte("test-secret"), AccessTokenTTL: time.Hour}
	invalidator := authversion.New(store, logger)
	handler := NewUserHandler(logger, store, devices, store, invalidator, jwtCfg)

	return &userFixture{store: store, devices: devices, handler: handler, jwtCfg: jwtCfg}
}

func (f *userFixture) createUser(t *testing.T, guid, handle, phone string) {
	t.Helper()
	require.NoError(t, f.store.CreateUser(context.Background(), &models.User{
		GUID:        guid,
		Handle:      handle,
		Phone:       phone,
		AuthVersion: 1,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}))
}

func (f *userFixture) post(t *testing.T, fn http.HandlerFunc, body any, guid, deviceID, handle string) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(data))
	ctx := context.WithValue(req.Context(), UserGUIDKey, guid)
	ctx = context.WithValue(ctx, DeviceIDKey, deviceID)
	ctx = context.WithValue(ctx, HandleKey, handle)

	w := httptest.NewRecorder()
	fn(w, req.WithContext(ctx))
	return w
}

func TestUserHandler_UpdateHandle(t *testing.T) {
	f := newUserFixture(t)
	f.createUser(t, "guid-1", "@before", "+15550001111")

	deviceID := strings.Repeat("cd", 32)
	now := time.Now()
	record := &models.DeviceRecord{DeviceID: deviceID, CreatedAt: now}
	record.Link("guid-1", "@before", "+15550001111", now)
	require.NoError(t, f.devices.Put(context.Background(), record))

	w := f.post(t, f.handler.UpdateHandle,
		api.UpdateHandleRequest{Handle: "@after"}, "guid-1", deviceID, "@before")
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.AuthVersionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, int64(2), resp.AuthVersion)
	require.NotEmpty(t, resp.AccessToken)

	// The reissued token is minted against the new version and new handle.
	claims, err := ValidateAccessToken(f.jwtCfg, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(2), claims.AuthVersion)
	assert.Equal(t, "@after", claims.Handle)

	user, err := f.store.GetUserByGUID(context.Background(), "guid-1")
	require.NoError(t, err)
	assert.Equal(t, "@after", user.Handle)

	// Denormalized handle on linked device records follows.
	got, err := f.devices.Get(context.Background(), deviceID)
	require.NoError(t, err)
	assert.Equal(t, "@after", got.UserHandle)

	states, err := f.devices.SyncStates(context.Background(), deviceID)
	require.NoError(t, err)
	require.NotEmpty(t, states)
	assert.Equal(t, models.SyncStateHandleUpdated, states[len(states)-1].Status)

	// The rename is in the change log for other devices to pull.
	entries, err := f.store.ChangesSince(context.Background(), "guid-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.TableUser, entries[0].Table)
}

func TestUserHandler_UpdateHandleValidation(t *testing.T) {
	f := newUserFixture(t)
	f.createUser(t, "guid-1", "@before", "+15550001111")

	w := f.post(t, f.handler.UpdateHandle,
		api.UpdateHandleRequest{Handle: "no-at-sign"}, "guid-1", "", "@before")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	user, err := f.store.GetUserByGUID(context.Background(), "guid-1")
	require.NoError(t, err)
	assert.Equal(t, "@before", user.Handle)
	assert.Equal(t, int64(1), user.AuthVersion)
}

func TestUserHandler_UpdateHandleConflict(t *testing.T) {
	f := newUserFixture(t)
	f.createUser(t, "guid-1", "@alice", "+15550001111")
	f.createUser(t, "guid-2", "@bob", "+15550002222")

	w := f.post(t, f.handler.UpdateHandle,
		api.UpdateHandleRequest{Handle: "@bob"}, "guid-1", "", "@alice")
	require.Equal(t, http.StatusConflict, w.Code)

	var resp api.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, api.ErrorCodeConflict, resp.Error)
}

func TestUserHandler_SetPIN(t *testing.T) {
	f := newUserFixture(t)
	f.createUser(t, "guid-1", "@user", "+15550001111")

	w := f.post(t, f.handler.SetPIN,
		api.SetPINRequest{PIN: "4821"}, "guid-1", "", "@user")
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.AuthVersionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, int64(2), resp.AuthVersion)
	assert.NotEmpty(t, resp.AccessToken)

	user, err := f.store.GetUserByGUID(context.Background(), "guid-1")
	require.NoError(t, err)
	require.True(t, user.HasPIN())
	assert.NoError(t, bcrypt.CompareHashAndPassword(user.PINHash, []byte("4821")))
}

func TestUserHandler_SetPINValidation(t *testing.T) {
	f := newUserFixture(t)
	f.createUser(t, "guid-1", "@user", "+15550001111")

	for _, pin := range []string{"", "123", "123456789", "12a4"} {
		w := f.post(t, f.handler.SetPIN,
			api.SetPINRequest{PIN: pin}, "guid-1", "", "@user")
		assert.Equal(t, http.StatusBadRequest, w.Code, "pin %q", pin)
	}
}

func TestUserHandler_Reset(t *testing.T) {
	f := newUserFixture(t)
	f.createUser(t, "guid-1", "@user", "+15550001111")

	deviceID := strings.Repeat("ef", 32)
	now := time.Now()
	record := &models.DeviceRecord{DeviceID: deviceID, CreatedAt: now}
	record.Link("guid-1", "@user", "+15550001111", now)
	require.NoError(t, f.devices.Put(context.Background(), record))

	w := f.post(t, f.handler.Reset, struct{}{}, "guid-1", deviceID, "@user")
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.AuthVersionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, int64(2), resp.AuthVersion)
	// A reset revokes the calling session too; no replacement token.
	assert.Empty(t, resp.AccessToken)

	got, err := f.devices.Get(context.Background(), deviceID)
	require.NoError(t, err)
	assert.False(t, got.Linked())

	states, err := f.devices.SyncStates(context.Background(), deviceID)
	require.NoError(t, err)
	require.NotEmpty(t, states)
	assert.Equal(t, models.SyncStateReset, states[len(states)-1].Status)
}
