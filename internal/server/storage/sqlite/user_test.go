package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelink/devicelink/internal/models"
	"github.com/devicelink/devicelink/internal/server/storage"
)

func setupTestStorage(t *testing.T) (*Storage, func()) {
	t.Helper()

	s, err := New(context.Background(), ":memory:")
	require.NoError(t, err)

	return s, func() {
		require.NoError(t, s.Close())
	}
}

func newTestUser(handle, phone string) *models.User {
	now := time.Now().UTC()
	return &models.User{
		GUID:        uuid.New().String(),
		Handle:      handle,
		Phone:       phone,
		AuthVersion: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestUserStorage_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	user := newTestUser("@alice", "+447700900123")
	require.NoError(t, s.CreateUser(ctx, user))

	byGUID, err := s.GetUserByGUID(ctx, user.GUID)
	require.NoError(t, err)
	assert.Equal(t, user.Handle, byGUID.Handle)
	assert.Equal(t, user.Phone, byGUID.Phone)
	assert.Equal(t, int64(1), byGUID.AuthVersion)
	assert.False(t, byGUID.HasPIN())

	byHandle, err := s.GetUserByHandle(ctx, "@alice")
	require.NoError(t, err)
	assert.Equal(t, user.GUID, byHandle.GUID)

	byPhone, err := s.GetUserByPhone(ctx, "+447700900123")
	require.NoError(t, err)
	assert.Equal(t, user.GUID, byPhone.GUID)
}

func TestUserStorage_GetNotFound(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	_, err := s.GetUserByGUID(ctx, uuid.New().String())
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	_, err = s.GetUserByHandle(ctx, "@nobody")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	_, err = s.GetUserByPhone(ctx, "+15550000000")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestUserStorage_UniqueConflicts(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	require.NoError(t, s.CreateUser(ctx, newTestUser("@alice", "+447700900123")))

	sameHandle := newTestUser("@alice", "+447700900999")
	assert.ErrorIs(t, s.CreateUser(ctx, sameHandle), storage.ErrHandleTaken)

	samePhone := newTestUser("@bob", "+447700900123")
	assert.ErrorIs(t, s.CreateUser(ctx, samePhone), storage.ErrPhoneTaken)
}

func TestUserStorage_UpdateHandle(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	user := newTestUser("@alice", "+447700900123")
	require.NoError(t, s.CreateUser(ctx, user))

	other := newTestUser("@bob", "+447700900999")
	require.NoError(t, s.CreateUser(ctx, other))

	require.NoError(t, s.UpdateHandle(ctx, user.GUID, "@alice_new"))

	updated, err := s.GetUserByGUID(ctx, user.GUID)
	require.NoError(t, err)
	assert.Equal(t, "@alice_new", updated.Handle)

	// Taking another user's handle is a conflict.
	assert.ErrorIs(t, s.UpdateHandle(ctx, user.GUID, "@bob"), storage.ErrHandleTaken)

	// Unknown user.
	assert.ErrorIs(t, s.UpdateHandle(ctx, uuid.New().String(), "@ghost"), storage.ErrUserNotFound)
}

func TestUserStorage_UpdatePINHash(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	user := newTestUser("@alice", "+447700900123")
	require.NoError(t, s.CreateUser(ctx, user))

	require.NoError(t, s.UpdatePINHash(ctx, user.GUID, []byte("bcrypt-hash")))

	updated, err := s.GetUserByGUID(ctx, user.GUID)
	require.NoError(t, err)
	assert.True(t, updated.HasPIN())
	assert.Equal(t, []byte("bcrypt-hash"), updated.PINHash)
}

func TestUserStorage_BumpAuthVersion(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	user := newTestUser("@alice", "+447700900123")
	require.NoError(t, s.CreateUser(ctx, user))

	v, err := s.BumpAuthVersion(ctx, user.GUID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	v, err = s.BumpAuthVersion(ctx, user.GUID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	_, err = s.BumpAuthVersion(ctx, uuid.New().String())
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestUserStorage_DeleteUser(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	user := newTestUser("@alice", "+447700900123")
	require.NoError(t, s.CreateUser(ctx, user))

	require.NoError(t, s.DeleteUser(ctx, user.GUID))

	_, err := s.GetUserByGUID(ctx, user.GUID)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	assert.ErrorIs(t, s.DeleteUser(ctx, user.GUID), storage.ErrUserNotFound)
}
