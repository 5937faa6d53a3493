package storage

import (
	"context"

	"github.com/devicelink/devicelink/internal/models"
)

// UserStorage defines the interface for authoritative user identity
// persistence.
type UserStorage interface {
	// CreateUser creates a new user.
	// Returns ErrHandleTaken or ErrPhoneTaken on uniqueness violations.
	CreateUser(ctx context.Context, user *models.User) error

	// GetUserByGUID retrieves a user by GUID.
	// Returns ErrUserNotFound if the user doesn't exist.
	GetUserByGUID(ctx context.Context, guid string) (*models.User, error)

	// GetUserByHandle retrieves a user by handle.
	// Returns ErrUserNotFound if the user doesn't exist.
	GetUserByHandle(ctx context.Context, handle string) (*models.User, error)

	// GetUserByPhone retrieves a user by phone.
	// Returns ErrUserNotFound if the user doesn't exist.
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)

	// UpdateHandle changes the user's handle.
	// Returns ErrHandleTaken if another user already holds it.
	UpdateHandle(ctx context.Context, guid, handle string) error

	// UpdatePINHash stores a new PIN hash for the user.
	UpdatePINHash(ctx context.Context, guid string, pinHash []byte) error

	// BumpAuthVersion increments the user's auth version and returns the
	// new value. The version only ever increases.
	BumpAuthVersion(ctx context.Context, guid string) (int64, error)

	// DeleteUser deletes a user by GUID.
	// Returns ErrUserNotFound if the user doesn't exist.
	DeleteUser(ctx context.Context, guid string) error
}
