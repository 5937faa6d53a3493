package storage

import "errors"

// Common storage errors
var (
	// ErrUserNotFound indicates that the user was not found in storage
	ErrUserNotFound = errors.New("user not found")

	// ErrHandleTaken indicates that the handle belongs to a different user
	ErrHandleTaken = errors.New("handle already taken")

	// ErrPhoneTaken indicates that the phone belongs to a different user
	ErrPhoneTaken = errors.New("phone already taken")

	// ErrDeviceNotFound indicates that no record exists for the device id
	ErrDeviceNotFound = errors.New("device record not found")

	// ErrStaleAuthVersion indicates a presented auth version below the
	// current one. Distinguished from a generic auth failure so callers
	// can wipe local credentials instead of just re-prompting.
	ErrStaleAuthVersion = errors.New("auth version is stale")
)
