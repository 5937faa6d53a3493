package storage

import (
	"context"
	"time"
)

// AuthStorage stores the device's session credentials.
type AuthStorage interface {
	// SaveAuth stores session credentials, replacing any previous ones.
	SaveAuth(ctx context.Context, auth *AuthData) error

	// GetAuth retrieves stored session credentials.
	// Returns ErrAuthNotFound if none exist.
	GetAuth(ctx context.Context) (*AuthData, error)

	// DeleteAuth removes stored session credentials (logout or stale-auth
	// rejection).
	DeleteAuth(ctx context.Context) error

	// IsAuthenticated reports whether unexpired credentials exist.
	IsAuthenticated(ctx context.Context) (bool, error)
}

// AuthData is the persisted session state of this device. The device id is
// generated once on first run and survives logout; everything else is
// replaced on each verification.
type AuthData struct {
	DeviceID    string `json:"device_id"`
	UserGUID    string `json:"user_guid"`
	Handle      string `json:"handle"`
	Phone       string `json:"phone"`
	AuthVersion int64  `json:"auth_version"`
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"` // unix seconds
}

// Expired reports whether the access token's lifetime has passed.
func (a *AuthData) Expired(now time.Time) bool {
	return now.Unix() >= a.ExpiresAt
}
