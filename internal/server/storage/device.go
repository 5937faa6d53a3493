package storage

import (
	"context"

	"github.com/devicelink/devicelink/internal/models"
)

// DevicePredicate filters records during a scan.
type DevicePredicate func(*models.DeviceRecord) bool

// DeviceStorage defines the interface for the per-device identity record
// store. Records live in individual backing files named after a
// server-assigned internal id, so Get is a scan with an equality predicate
// unless the implementation layers an index on top.
type DeviceStorage interface {
	// Get retrieves the record for a device id.
	// Returns ErrDeviceNotFound if no record exists.
	Get(ctx context.Context, deviceID string) (*models.DeviceRecord, error)

	// Put creates or updates a record. A record without an InternalID is
	// assigned one and gets a new backing file.
	Put(ctx context.Context, record *models.DeviceRecord) error

	// Scan returns all records matching the predicate. Individual
	// unreadable files are skipped and logged, never fatal; only a
	// store-wide access failure returns an error.
	Scan(ctx context.Context, pred DevicePredicate) ([]*models.DeviceRecord, error)

	// AppendSyncState appends an audit entry to the record's sync-state
	// log. Returns ErrDeviceNotFound if no record exists.
	AppendSyncState(ctx context.Context, deviceID, status string) error

	// SyncStates returns the record's audit log, oldest first.
	SyncStates(ctx context.Context, deviceID string) ([]models.SyncState, error)
}
