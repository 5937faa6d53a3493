// Package replica keeps the device's local copy of the identity in memory
// and persists it to disk with a debounced flush. Reads and writes go to
// memory first; "saved" is reported once the change is queued in memory,
// before it reaches disk. A crash inside the flush window loses at most the
// last few seconds of local edits, never the consistency of the snapshot:
// replica state and queue entries land in one transaction.
package replica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devicelink/devicelink/internal/client/storage"
	"github.com/devicelink/devicelink/internal/models"
)

// DefaultFlushDelay is how long a write may sit in memory before the
// debounced flush persists it.
const DefaultFlushDelay = 2 * time.Second

// Store is the persistence surface the service needs.
type Store interface {
	storage.ReplicaStorage
	storage.QueueStorage
}

// Service is the in-memory replica with write-behind persistence.
type Service struct {
	store      Store
	logger     *slog.Logger
	flushDelay time.Duration
	now        func() time.Time

	mu          sync.Mutex
	user        *storage.UserReplica
	device      *storage.DeviceReplica
	queue       []*models.ChangeEntry
	dirty       bool
	timer       *time.Timer
	initialized bool
}

// New creates a replica service over the given store.
func New(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		logger:     logger,
		flushDelay: DefaultFlushDelay,
		now:        time.Now,
	}
}

// SetFlushDelay overrides the debounce window. Used in tests.
func (s *Service) SetFlushDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushDelay = d
}

// Init loads the persisted snapshot and pending queue into memory.
// Idempotent; repeated calls are no-ops.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}

	user, err := s.store.GetUser(ctx)
	if err != nil && !errors.Is(err, storage.ErrReplicaNotFound) {
		return fmt.Errorf("failed to load user replica: %w", err)
	}
	device, err := s.store.GetDevice(ctx)
	if err != nil && !errors.Is(err, storage.ErrReplicaNotFound) {
		return fmt.Errorf("failed to load device replica: %w", err)
	}
	pending, err := s.store.PendingChanges(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending changes: %w", err)
	}

	s.user = user
	s.device = device
	s.queue = pending
	s.initialized = true

	s.logger.Debug("Replica initialized",
		"has_user", user != nil,
		"has_device", device != nil,
		"pending_changes", len(pending))

	return nil
}

// User returns a copy of the replicated user identity.
func (s *Service) User(ctx context.Context) (*storage.UserReplica, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user == nil {
		return nil, storage.ErrReplicaNotFound
	}
	u := *s.user
	return &u, nil
}

// Device returns a copy of the replicated device record.
func (s *Service) Device(ctx context.Context) (*storage.DeviceReplica, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return nil, storage.ErrReplicaNotFound
	}
	d := *s.device
	return &d, nil
}

// ReplaceUser overwrites the user replica with server-confirmed state.
// No queue entry: the server already knows.
func (s *Service) ReplaceUser(ctx context.Context, user *storage.UserReplica) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := *user
	u.UpdatedAt = s.now()
	s.user = &u
	s.markDirtyLocked()
}

// ReplaceDevice overwrites the device replica with server-confirmed state.
func (s *Service) ReplaceDevice(ctx context.Context, device *storage.DeviceReplica) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := *device
	d.UpdatedAt = s.now()
	s.device = &d
	s.markDirtyLocked()
}

// SetHandle applies a local handle rename and queues it for upload.
func (s *Service) SetHandle(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user == nil {
		return storage.ErrReplicaNotFound
	}

	s.user.Handle = handle
	s.user.UpdatedAt = s.now()

	return s.enqueueLocked(models.TableUser, s.user.GUID, models.UserChange{Handle: handle})
}

// RenameDevice applies a local device rename and queues it for upload.
func (s *Service) RenameDevice(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return storage.ErrReplicaNotFound
	}

	s.device.Name = name
	s.device.UpdatedAt = s.now()

	return s.enqueueLocked(models.TableDevice, s.device.DeviceID, models.DeviceChange{Name: name})
}

// enqueueLocked appends a change entry under the held lock. The replica
// mutation and its queue entry become visible together.
func (s *Service) enqueueLocked(table, recordID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal change payload: %w", err)
	}

	now := s.now()
	s.queue = append(s.queue, &models.ChangeEntry{
		CreatedAt: now,
		ID:        uuid.New().String(),
		Table:     table,
		RecordID:  recordID,
		Type:      models.ChangeTypeUpdate,
		Data:      data,
		Timestamp: now.UnixMilli(),
	})
	s.markDirtyLocked()
	return nil
}

// PendingChanges returns unsynced entries, oldest first, including ones
// not yet flushed to disk.
func (s *Service) PendingChanges(ctx context.Context) ([]*models.ChangeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]*models.ChangeEntry, 0, len(s.queue))
	for _, entry := range s.queue {
		if !entry.Synced {
			e := *entry
			pending = append(pending, &e)
		}
	}
	return pending, nil
}

// MarkSynced flags uploaded changes. The marks are persisted both for
// entries already on disk and, via the next flush, for ones still in memory.
func (s *Service) MarkSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	for _, entry := range s.queue {
		if idSet[entry.ID] {
			entry.Synced = true
		}
	}
	s.markDirtyLocked()
	s.mu.Unlock()

	if err := s.store.MarkChangesSynced(ctx, ids); err != nil {
		return fmt.Errorf("failed to persist sync marks: %w", err)
	}
	return nil
}

// markDirtyLocked schedules the debounced flush. Must hold s.mu.
func (s *Service) markDirtyLocked() {
	s.dirty = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.flushDelay, func() {
		if err := s.Flush(context.Background()); err != nil {
			s.logger.Error("Debounced flush failed", "error", err)
		}
	})
}

// Flush persists the in-memory state immediately. Called by the debounce
// timer, after each sync cycle, and on shutdown.
func (s *Service) Flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}

	// Deep-copy under the lock: mutators update the structs in place, and
	// the store marshals outside the critical section.
	var user *storage.UserReplica
	if s.user != nil {
		u := *s.user
		user = &u
	}
	var device *storage.DeviceReplica
	if s.device != nil {
		d := *s.device
		device = &d
	}
	changes := make([]*models.ChangeEntry, len(s.queue))
	for i, entry := range s.queue {
		e := *entry
		changes[i] = &e
	}
	s.dirty = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if err := s.store.SaveSnapshot(ctx, user, device, changes); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return fmt.Errorf("failed to flush replica: %w", err)
	}

	s.logger.Debug("Replica flushed", "queued_changes", len(changes))
	return nil
}

// Reset drops the in-memory state and the on-disk replica and queue.
func (s *Service) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.user = nil
	s.device = nil
	s.queue = nil
	s.dirty = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if err := s.store.DeleteReplica(ctx); err != nil {
		return fmt.Errorf("failed to delete replica: %w", err)
	}
	return nil
}
