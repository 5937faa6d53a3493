package replica

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelink/devicelink/internal/client/storage"
	"github.com/devicelink/devicelink/internal/client/storage/boltdb"
	"github.com/devicelink/devicelink/internal/models"
)

func setupService(t *testing.T) (*Service, *boltdb.Storage) {
	t.Helper()

	store, err := boltdb.New(context.Background(), filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(store, logger)
	require.NoError(t, svc.Init(context.Background()))
	return svc, store
}

func seedUser(t *testing.T, svc *Service) {
	t.Helper()
	svc.ReplaceUser(context.Background(), &storage.UserReplica{
		GUID:        "guid-1",
		Handle:      "@user",
		Phone:       "+15550001111",
		AuthVersion: 1,
	})
	svc.ReplaceDevice(context.Background(), &storage.DeviceReplica{
		DeviceID: "device-token",
		Name:     "Laptop",
	})
}

func TestService_InitIsIdempotent(t *testing.T) {
	svc, _ := setupService(t)
	seedUser(t, svc)

	require.NoError(t, svc.Init(context.Background()))

	user, err := svc.User(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "@user", user.Handle)
}

func TestService_ReadBeforeSnapshot(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.User(context.Background())
	assert.ErrorIs(t, err, storage.ErrReplicaNotFound)
	_, err = svc.Device(context.Background())
	assert.ErrorIs(t, err, storage.ErrReplicaNotFound)
}

func TestService_WriteEnqueuesAtomically(t *testing.T) {
	svc, _ := setupService(t)
	seedUser(t, svc)

	require.NoError(t, svc.SetHandle(context.Background(), "@renamed"))

	// The read and the queue entry are visible together, before any flush.
	user, err := svc.User(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "@renamed", user.Handle)

	pending, err := svc.PendingChanges(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.TableUser, pending[0].Table)
	assert.Equal(t, "guid-1", pending[0].RecordID)
}

func TestService_FlushPersistsReplicaAndQueue(t *testing.T) {
	svc, store := setupService(t)
	seedUser(t, svc)

	require.NoError(t, svc.SetHandle(context.Background(), "@renamed"))
	require.NoError(t, svc.RenameDevice(context.Background(), "Desk machine"))
	require.NoError(t, svc.Flush(context.Background()))

	// A fresh service over the same file sees the flushed state.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reopened := New(store, logger)
	require.NoError(t, reopened.Init(context.Background()))

	user, err := reopened.User(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "@renamed", user.Handle)

	device, err := reopened.Device(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Desk machine", device.Name)

	pending, err := reopened.PendingChanges(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestService_DebouncedFlush(t *testing.T) {
	svc, store := setupService(t)
	svc.SetFlushDelay(20 * time.Millisecond)
	seedUser(t, svc)

	require.NoError(t, svc.SetHandle(context.Background(), "@debounced"))

	require.Eventually(t, func() bool {
		user, err := store.GetUser(context.Background())
		return err == nil && user.Handle == "@debounced"
	}, time.Second, 10*time.Millisecond)
}

func TestService_MarkSynced(t *testing.T) {
	svc, _ := setupService(t)
	seedUser(t, svc)

	require.NoError(t, svc.SetHandle(context.Background(), "@renamed"))

	pending, err := svc.PendingChanges(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, svc.MarkSynced(context.Background(), []string{pending[0].ID}))

	pending, err = svc.PendingChanges(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestService_MarkSyncedSurvivesFlushOrder(t *testing.T) {
	svc, store := setupService(t)
	seedUser(t, svc)

	// Entry marked synced while still unflushed must not resurface as
	// pending after the flush lands.
	require.NoError(t, svc.SetHandle(context.Background(), "@renamed"))
	pending, err := svc.PendingChanges(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, svc.MarkSynced(context.Background(), []string{pending[0].ID}))
	require.NoError(t, svc.Flush(context.Background()))

	stored, err := store.PendingChanges(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestService_FlushConcurrentWithWrites(t *testing.T) {
	svc, store := setupService(t)
	seedUser(t, svc)

	// Flushes snapshot the state they persist, so writes landing mid-flush
	// never tear what reaches disk. Run under the race detector.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			assert.NoError(t, svc.SetHandle(context.Background(), fmt.Sprintf("@handle%d", i)))
			assert.NoError(t, svc.RenameDevice(context.Background(), fmt.Sprintf("Machine %d", i)))
		}
	}()
	for i := 0; i < 50; i++ {
		require.NoError(t, svc.Flush(context.Background()))
	}
	wg.Wait()

	require.NoError(t, svc.Flush(context.Background()))

	user, err := store.GetUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "@handle49", user.Handle)

	stored, err := store.PendingChanges(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 100)
}

func TestService_Reset(t *testing.T) {
	svc, store := setupService(t)
	seedUser(t, svc)
	require.NoError(t, svc.SetHandle(context.Background(), "@renamed"))
	require.NoError(t, svc.Flush(context.Background()))

	require.NoError(t, svc.Reset(context.Background()))

	_, err := svc.User(context.Background())
	assert.ErrorIs(t, err, storage.ErrReplicaNotFound)

	_, err = store.GetUser(context.Background())
	assert.ErrorIs(t, err, storage.ErrReplicaNotFound)

	pending, err := store.PendingChanges(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}
