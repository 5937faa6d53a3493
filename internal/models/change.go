package models

import "time"

// Tables a change entry can target.
const (
	TableUser   = "user"
	TableDevice = "device"
)

// Change types.
const (
	ChangeTypeUpdate = "update"
	ChangeTypeDelete = "delete"
)

// ChangeEntry is one queued local mutation awaiting upload, and the unit
// the sync protocol exchanges in both directions. Conflicts are resolved
// last-write-wins per (Table, RecordID) using Timestamp, with the entry ID
// as a deterministic tie-breaker.
type ChangeEntry struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`          // UUID of the change itself
	Table     string    `json:"table_name"`  // TableUser or TableDevice
	RecordID  string    `json:"record_id"`   // user GUID or device id
	Type      string    `json:"change_type"` // ChangeTypeUpdate or ChangeTypeDelete
	Data      []byte    `json:"change_data"` // JSON payload of the changed fields
	Timestamp int64     `json:"timestamp"`   // unix milliseconds at mutation time
	Synced    bool      `json:"synced"`
}

// IsNewerThan reports whether e wins over other under last-write-wins.
// Higher timestamp wins; equal timestamps fall back to comparing entry IDs
// so that both sides of a sync make the same choice.
func (e *ChangeEntry) IsNewerThan(other *ChangeEntry) bool {
	if e.Timestamp != other.Timestamp {
		return e.Timestamp > other.Timestamp
	}
	return e.ID > other.ID
}

// UserChange is the payload of a TableUser change entry.
type UserChange struct {
	Handle string `json:"handle,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

// DeviceChange is the payload of a TableDevice change entry.
type DeviceChange struct {
	Name string `json:"name,omitempty"`
}
