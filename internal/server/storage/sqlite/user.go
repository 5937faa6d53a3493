package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devicelink/devicelink/internal/models"
	"github.com/devicelink/devicelink/internal/server/storage"
)

// CreateUser creates a new user in the storage
func (s *Storage) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (guid, handle, phone, pin_hash, auth_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.GUID,
		user.Handle,
		user.Phone,
		user.PINHash,
		user.AuthVersion,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		if uniqueErr := mapUniqueViolation(err); uniqueErr != nil {
			return uniqueErr
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

// mapUniqueViolation translates SQLite unique constraint failures into the
// storage sentinel errors for handle and phone conflicts.
func mapUniqueViolation(err error) error {
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return nil
	}
	if strings.Contains(msg, "users.handle") {
		return storage.ErrHandleTaken
	}
	if strings.Contains(msg, "users.phone") {
		return storage.ErrPhoneTaken
	}
	return nil
}

// GetUserByGUID retrieves a user by GUID
func (s *Storage) GetUserByGUID(ctx context.Context, guid string) (*models.User, error) {
	return s.getUser(ctx, "guid", guid)
}

// GetUserByHandle retrieves a user by handle
func (s *Storage) GetUserByHandle(ctx context.Context, handle string) (*models.User, error) {
	return s.getUser(ctx, "handle", handle)
}

// GetUserByPhone retrieves a user by phone
func (s *Storage) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	return s.getUser(ctx, "phone", phone)
}

func (s *Storage) getUser(ctx context.Context, column, value string) (*models.User, error) {
	query := fmt.Sprintf(`
		SELECT guid, handle, phone, pin_hash, auth_version, created_at, updated_at
		FROM users
		WHERE %s = ?
	`, column)

	user := &models.User{}
	var pinHash []byte

	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&user.GUID,
		&user.Handle,
		&user.Phone,
		&pinHash,
		&user.AuthVersion,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.PINHash = pinHash

	return user, nil
}

// UpdateHandle changes the user's handle
func (s *Storage) UpdateHandle(ctx context.Context, guid, handle string) error {
	query := `
		UPDATE users
		SET handle = ?, updated_at = ?
		WHERE guid = ?
	`

	result, err := s.db.ExecContext(ctx, query, handle, time.Now().UTC(), guid)
	if err != nil {
		if uniqueErr := mapUniqueViolation(err); uniqueErr != nil {
			return uniqueErr
		}
		return fmt.Errorf("failed to update handle: %w", err)
	}

	return requireRowAffected(result)
}

// UpdatePINHash stores a new PIN hash for the user
func (s *Storage) UpdatePINHash(ctx context.Context, guid string, pinHash []byte) error {
	query := `
		UPDATE users
		SET pin_hash = ?, updated_at = ?
		WHERE guid = ?
	`

	result, err := s.db.ExecContext(ctx, query, pinHash, time.Now().UTC(), guid)
	if err != nil {
		return fmt.Errorf("failed to update pin hash: %w", err)
	}

	return requireRowAffected(result)
}

// BumpAuthVersion increments the user's auth version and returns the new value
func (s *Storage) BumpAuthVersion(ctx context.Context, guid string) (int64, error) {
	query := `
		UPDATE users
		SET auth_version = auth_version + 1, updated_at = ?
		WHERE guid = ?
		RETURNING auth_version
	`

	var version int64
	err := s.db.QueryRowContext(ctx, query, time.Now().UTC(), guid).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to bump auth version: %w", err)
	}

	return version, nil
}

// DeleteUser deletes a user by GUID
func (s *Storage) DeleteUser(ctx context.Context, guid string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE guid = ?`, guid)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	return requireRowAffected(result)
}

// requireRowAffected converts a zero-row update into ErrUserNotFound.
func requireRowAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}
