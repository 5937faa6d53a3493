package storage

import "context"

// MetadataStorage stores client bookkeeping values.
type MetadataStorage interface {
	// SaveLastSyncTimestamp saves the timestamp of the last successful sync.
	SaveLastSyncTimestamp(ctx context.Context, timestamp int64) error

	// GetLastSyncTimestamp retrieves the timestamp of the last successful
	// sync. Returns 0 if no sync has been performed yet.
	GetLastSyncTimestamp(ctx context.Context) (int64, error)

	// SaveDeviceID stores the device token generated on first run.
	SaveDeviceID(ctx context.Context, deviceID string) error

	// GetDeviceID returns the stored device token, or "" if none exists.
	// The token survives logout; it identifies the browser install, not
	// the session.
	GetDeviceID(ctx context.Context) (string, error)
}
