package cli

import (
	"context"
	"fmt"
	"time"
)

func (c *Cli) runSync(ctx context.Context) error {
	c.io.Println("=== Synchronization ===")

	auth, err := c.session(ctx)
	if err != nil {
		return err
	}
	if auth.Expired(time.Now()) {
		return fmt.Errorf("access token has expired, run 'devicelink login'")
	}

	c.io.Println()
	c.io.Println("Synchronizing with server...")

	result, err := c.syncService.Sync(ctx, auth.AccessToken)
	if err != nil {
		return c.handleStaleAuth(ctx, err)
	}

	c.io.Println()
	c.io.Println("✓ Synchronization completed!")
	c.io.Printf("Pushed to server:   %d change(s)\n", result.Pushed)
	c.io.Printf("Pulled from server: %d change(s)\n", result.Pulled)
	if result.Conflicts > 0 {
		c.io.Printf("Conflicts resolved: %d (newer change kept)\n", result.Conflicts)
	}

	return nil
}
