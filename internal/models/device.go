package models

import "time"

// DeviceRecord binds a client-generated device token to a user identity.
// A record is created empty on first contact from an unknown device id and
// linked (all three user fields set together) on successful verification.
// Unlinking clears the user fields but keeps the record.
type DeviceRecord struct {
	CreatedAt      time.Time  `json:"created_at"`
	LastVerifiedAt *time.Time `json:"last_verified_at"` // nil means never verified
	InternalID     string     `json:"internal_id"`      // server-assigned id, names the backing file
	DeviceID       string     `json:"device_id"`        // opaque 256-bit hex token from the client
	UserGUID       string     `json:"user_guid"`
	UserHandle     string     `json:"user_handle"`
	UserPhone      string     `json:"user_phone"`
	Name           string     `json:"name"` // optional user-facing device name
}

// Linked reports whether the record is bound to a user. The three user
// fields are set and cleared together, so checking the GUID is enough.
func (r *DeviceRecord) Linked() bool {
	return r.UserGUID != ""
}

// VerifiedWithin reports whether the record was verified within the given
// window counting back from now.
func (r *DeviceRecord) VerifiedWithin(window time.Duration, now time.Time) bool {
	if r.LastVerifiedAt == nil {
		return false
	}
	return now.Sub(*r.LastVerifiedAt) <= window
}

// Link sets the user fields and stamps the verification time.
func (r *DeviceRecord) Link(guid, handle, phone string, now time.Time) {
	r.UserGUID = guid
	r.UserHandle = handle
	r.UserPhone = phone
	t := now
	r.LastVerifiedAt = &t
}

// Unlink clears the user binding but keeps the record itself.
func (r *DeviceRecord) Unlink() {
	r.UserGUID = ""
	r.UserHandle = ""
	r.UserPhone = ""
	r.LastVerifiedAt = nil
}

// Sync-state statuses recorded in the per-record audit log.
const (
	SyncStateInitialized         = "initialized"
	SyncStatePendingRegistration = "pending_registration"
	SyncStateLinkedToUser        = "linked_to_user"
	SyncStateHandleUpdated       = "handle_updated"
	SyncStateCrossBrowserLinked  = "cross_browser_linked"
	SyncStateReset               = "reset"
)

// SyncState is one append-only audit entry in a device record's log.
// Only the latest entry is ever consulted by code; the rest is diagnostics.
type SyncState struct {
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
}
