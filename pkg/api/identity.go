// Package api holds the wire types exchanged between the client and the
// server.
package api

// Recognition statuses on the wire.
const (
	StatusUnregistered      = "unregistered"
	StatusNeedsVerification = "needs_verification"
	StatusAuthenticated     = "authenticated"
)

// RecognizeRequest asks the server to recognize a device.
type RecognizeRequest struct {
	DeviceID         string         `json:"device_id"`
	Hints            RecognizeHints `json:"hints"`
	RegistrationFlow bool           `json:"registration_flow"`
}

// RecognizeHints carries optional identity context from prior session state.
type RecognizeHints struct {
	UserGUID   string `json:"user_guid,omitempty"`
	UserHandle string `json:"user_handle,omitempty"`
	UserPhone  string `json:"user_phone,omitempty"`
}

// RecognizeResponse is the tagged recognition outcome. Handle and GUID are
// set for authenticated results; Handle and MaskedPhone for
// needs-verification ones.
type RecognizeResponse struct {
	Status       string `json:"status"`
	Handle       string `json:"handle,omitempty"`
	GUID         string `json:"guid,omitempty"`
	MaskedPhone  string `json:"masked_phone,omitempty"`
	CrossBrowser bool   `json:"cross_browser,omitempty"`
}

// IssueVerificationRequest asks for a code to be sent to a phone.
type IssueVerificationRequest struct {
	Phone string `json:"phone"`
}

// ConsumeVerificationRequest submits a received code.
type ConsumeVerificationRequest struct {
	Phone        string `json:"phone"`
	Code         string `json:"code"`
	DeviceID     string `json:"device_id,omitempty"`
	Handle       string `json:"handle,omitempty"` // required when registering
	Registration bool   `json:"registration,omitempty"`
}

// ConsumeVerificationResponse reports a successful verification along with
// a session token for subsequent authenticated calls.
type ConsumeVerificationResponse struct {
	User        UserPayload `json:"user"`
	AccessToken string      `json:"access_token"`
	ExpiresIn   int64       `json:"expires_in"` // seconds
	Linked      bool        `json:"linked"`
}

// UserPayload is the reduced user identity mirrored into client replicas.
type UserPayload struct {
	GUID        string `json:"guid"`
	Handle      string `json:"handle"`
	Phone       string `json:"phone"`
	AuthVersion int64  `json:"auth_version"`
	HasPIN      bool   `json:"has_pin"`
}

// UpdateHandleRequest renames the authenticated user's handle.
type UpdateHandleRequest struct {
	Handle string `json:"handle"`
}

// SetPINRequest sets the authenticated user's PIN.
type SetPINRequest struct {
	PIN string `json:"pin"`
}

// AuthVersionResponse returns the new auth version after a security event.
// When the calling session survives the event, a fresh token minted against
// the new version is included so the caller does not go stale.
type AuthVersionResponse struct {
	AuthVersion int64  `json:"auth_version"`
	AccessToken string `json:"access_token,omitempty"`
	ExpiresIn   int64  `json:"expires_in,omitempty"` // seconds
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Machine-readable error codes in ErrorResponse.Error.
const (
	ErrorCodeValidation = "validation"
	ErrorCodeNotFound   = "not_found"
	ErrorCodeConflict   = "conflict"
	ErrorCodeStaleAuth  = "stale_auth"
	ErrorCodeInternal   = "internal"
)
