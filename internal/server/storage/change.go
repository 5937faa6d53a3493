package storage

import (
	"context"

	"github.com/devicelink/devicelink/internal/models"
)

// ChangeStorage defines the interface for the server-side change log that
// sync pulls are served from. One row is kept per (table, record) pair;
// a newer change for the same pair overwrites the older one.
type ChangeStorage interface {
	// SaveChange stores a change entry, applying last-write-wins against
	// any existing entry for the same (table, record). Returns true if
	// the entry was stored, false if the existing entry won.
	SaveChange(ctx context.Context, userGUID string, entry *models.ChangeEntry) (bool, error)

	// ChangesSince returns the user's change entries with a timestamp
	// strictly greater than since, oldest first.
	ChangesSince(ctx context.Context, userGUID string, since int64) ([]*models.ChangeEntry, error)
}
