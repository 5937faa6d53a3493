package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devicelink/devicelink/internal/client/storage"
)

func (c *Cli) runStatus(ctx context.Context) error {
	c.io.Println("=== Device Status ===")
	c.io.Println()

	auth, err := c.authStore.GetAuth(ctx)
	switch {
	case errors.Is(err, storage.ErrAuthNotFound):
		c.io.Println("Status: Not authenticated")
	case err != nil:
		return fmt.Errorf("failed to load session: %w", err)
	default:
		expiresAt := time.Unix(auth.ExpiresAt, 0)
		if auth.Expired(time.Now()) {
			c.io.Println("Status: Session expired, run 'devicelink login'")
		} else {
			c.io.Println("Status: Authenticated")
			c.io.Printf("Token expires: %s\n", expiresAt.Format(time.RFC3339))
		}
		c.io.Printf("Handle: %s\n", auth.Handle)
		c.io.Printf("Auth version: %d\n", auth.AuthVersion)
	}

	user, err := c.replica.User(ctx)
	if err == nil {
		c.io.Println()
		c.io.Println("Local replica:")
		c.io.Printf("  Handle: %s\n", user.Handle)
		c.io.Printf("  Phone:  %s\n", user.Phone)
		if device, err := c.replica.Device(ctx); err == nil && device.Name != "" {
			c.io.Printf("  Device: %s\n", device.Name)
		}
	} else if errors.Is(err, storage.ErrReplicaNotFound) {
		c.io.Println()
		c.io.Println("No local replica yet.")
	}

	pending, err := c.syncService.PendingCount(ctx)
	if err != nil {
		c.io.Printf("\nWarning: failed to count pending changes: %v\n", err)
		return nil
	}

	c.io.Println()
	if pending > 0 {
		c.io.Printf("⚠ Pending sync: %d change(s) waiting for upload\n", pending)
		c.io.Println("Run 'devicelink sync' to push them.")
	} else {
		c.io.Println("✓ All local changes synchronized")
	}

	return nil
}
