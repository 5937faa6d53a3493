// Package authversion implements the per-user monotonic counter that
// invalidates previously issued sessions. Bumping the counter is the only
// server-side action needed to revoke every outstanding session of a user.
package authversion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/devicelink/devicelink/internal/server/storage"
)

// Invalidator gates requests on the auth version carried in their session.
type Invalidator struct {
	users  storage.UserStorage
	logger *slog.Logger
}

// New creates an invalidator over the user store.
func New(users storage.UserStorage, logger *slog.Logger) *Invalidator {
	return &Invalidator{users: users, logger: logger}
}

// Bump increments the user's auth version and returns the new value.
// Called on handle change, PIN change and explicit full reset.
func (i *Invalidator) Bump(ctx context.Context, guid string) (int64, error) {
	version, err := i.users.BumpAuthVersion(ctx, guid)
	if err != nil {
		return 0, fmt.Errorf("failed to bump auth version: %w", err)
	}

	i.logger.Info("Auth version bumped", "user_guid", guid, "auth_version", version)
	return version, nil
}

// Check compares a presented version against the current one. A version
// below current returns storage.ErrStaleAuthVersion, distinguished from a
// plain auth failure so the client knows to wipe its local state. Check
// never bumps; it is a comparison gate only.
func (i *Invalidator) Check(ctx context.Context, guid string, presented int64) error {
	user, err := i.users.GetUserByGUID(ctx, guid)
	if err != nil {
		return err
	}

	if presented < user.AuthVersion {
		i.logger.Warn("Stale auth version rejected",
			"user_guid", guid,
			"presented", presented,
			"current", user.AuthVersion)
		return storage.ErrStaleAuthVersion
	}

	return nil
}
