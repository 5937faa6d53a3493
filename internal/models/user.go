package models

import "time"

// User is the authoritative server-side identity of a person.
// A user is created on first successful phone verification and referenced
// from any number of device records via GUID.
type User struct {
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	GUID        string    `json:"guid"`         // immutable UUID primary key
	Handle      string    `json:"handle"`       // mutable unique handle, e.g. "@alice"
	Phone       string    `json:"phone"`        // mutable unique phone in E.164 form
	PINHash     []byte    `json:"-"`            // optional bcrypt hash, empty until a PIN is set
	AuthVersion int64     `json:"auth_version"` // monotonic counter, bumped on security events
}

// HasPIN reports whether the user has set a PIN.
func (u *User) HasPIN() bool {
	return len(u.PINHash) > 0
}
