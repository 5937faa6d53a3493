package cli

import (
	"context"
	"fmt"
	"strings"
)

// runReset unlinks this device server-side, revokes every session of the
// user and wipes the local state.
func (c *Cli) runReset(ctx context.Context) error {
	c.io.Println("=== Identity Reset ===")
	c.io.Println()
	c.io.Println("This unlinks the device, revokes ALL sessions and deletes local data.")

	answer, err := c.io.ReadInput("Type 'reset' to confirm: ")
	if err != nil {
		return fmt.Errorf("failed to read confirmation: %w", err)
	}
	if strings.ToLower(strings.TrimSpace(answer)) != "reset" {
		c.io.Println("Aborted.")
		return nil
	}

	auth, err := c.session(ctx)
	if err != nil {
		return err
	}

	if _, err := c.apiClient.Reset(ctx, auth.AccessToken); err != nil {
		return c.handleStaleAuth(ctx, err)
	}

	if err := c.discardCredentials(ctx); err != nil {
		return fmt.Errorf("failed to wipe local state: %w", err)
	}

	c.io.Println()
	c.io.Println("✓ Identity reset. Run 'devicelink login' to start over.")
	return nil
}
