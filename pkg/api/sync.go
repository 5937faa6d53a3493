package api

import "time"

// ChangeEntry is one queued mutation on the wire, pushed by clients and
// pulled back as server-side deltas.
type ChangeEntry struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
	Table     string    `json:"table_name"`
	RecordID  string    `json:"record_id"`
	Type      string    `json:"change_type"`
	Data      []byte    `json:"change_data"`
	Timestamp int64     `json:"timestamp"`
}

// SyncRequest pushes queued client changes and names the timestamp the
// client last synced at.
type SyncRequest struct {
	Changes []ChangeEntry `json:"changes"`
	Since   int64         `json:"since"`
}

// SyncResponse acknowledges applied changes and returns server-side deltas
// newer than the request's Since.
type SyncResponse struct {
	AppliedIDs      []string      `json:"applied_ids"`      // client change ids the server processed
	Changes         []ChangeEntry `json:"changes"`          // server deltas to apply locally
	ServerTimestamp int64         `json:"server_timestamp"` // high-water mark for the next Since
	Conflicts       int           `json:"conflicts"`        // pushed changes that lost last-write-wins
}
