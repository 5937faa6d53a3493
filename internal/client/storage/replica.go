package storage

import (
	"context"
	"time"

	"github.com/devicelink/devicelink/internal/models"
)

// UserReplica is the local copy of the user identity this device belongs to.
type UserReplica struct {
	UpdatedAt   time.Time `json:"updated_at"`
	GUID        string    `json:"guid"`
	Handle      string    `json:"handle"`
	Phone       string    `json:"phone"`
	AuthVersion int64     `json:"auth_version"`
	HasPIN      bool      `json:"has_pin"`
}

// DeviceReplica is the local copy of this device's own record.
type DeviceReplica struct {
	UpdatedAt time.Time `json:"updated_at"`
	DeviceID  string    `json:"device_id"`
	Name      string    `json:"name"`
}

// ReplicaStorage persists the offline identity replica.
type ReplicaStorage interface {
	// GetUser returns the replicated user identity.
	// Returns ErrReplicaNotFound if no snapshot exists.
	GetUser(ctx context.Context) (*UserReplica, error)

	// GetDevice returns the replicated device record.
	// Returns ErrReplicaNotFound if no snapshot exists.
	GetDevice(ctx context.Context) (*DeviceReplica, error)

	// SaveSnapshot writes the replica and any queued changes in a single
	// transaction. Nil replica arguments keep the stored value.
	SaveSnapshot(ctx context.Context, user *UserReplica, device *DeviceReplica, changes []*models.ChangeEntry) error

	// DeleteReplica drops the replica and the change queue (identity reset).
	DeleteReplica(ctx context.Context) error
}

// QueueStorage persists the pending change queue.
type QueueStorage interface {
	// PendingChanges returns unsynced entries, oldest first.
	PendingChanges(ctx context.Context) ([]*models.ChangeEntry, error)

	// MarkChangesSynced flags the given change ids as uploaded.
	MarkChangesSynced(ctx context.Context, ids []string) error
}
