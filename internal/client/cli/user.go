package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/devicelink/devicelink/internal/client/storage"
	"github.com/devicelink/devicelink/internal/validation"
	"github.com/devicelink/devicelink/pkg/api"
)

// runRename queues a local device rename; it uploads on the next sync.
func (c *Cli) runRename(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: devicelink rename <name>")
	}
	name := strings.TrimSpace(strings.Join(args, " "))
	if name == "" {
		return fmt.Errorf("device name cannot be empty")
	}

	if err := c.replica.RenameDevice(ctx, name); err != nil {
		return fmt.Errorf("failed to rename device: %w", err)
	}

	c.io.Printf("✓ Device renamed to %q.\n", name)
	c.io.Println("The change is queued; run 'devicelink sync' to upload it.")
	return nil
}

// runHandle changes the account handle server-side. This revokes every
// other session of the user; this session gets a reissued token.
func (c *Cli) runHandle(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: devicelink handle <@name>")
	}
	handle := args[0]
	if err := validation.ValidateHandle(handle); err != nil {
		return err
	}

	auth, err := c.session(ctx)
	if err != nil {
		return err
	}

	resp, err := c.apiClient.UpdateHandle(ctx, auth.AccessToken, api.UpdateHandleRequest{Handle: handle})
	if err != nil {
		return c.handleStaleAuth(ctx, err)
	}

	if err := c.saveBumpedSession(ctx, auth, handle, resp); err != nil {
		return err
	}

	if user, rErr := c.replica.User(ctx); rErr == nil {
		user.Handle = handle
		user.AuthVersion = resp.AuthVersion
		c.replica.ReplaceUser(ctx, user)
	}

	c.io.Printf("✓ Handle changed to %s.\n", handle)
	c.io.Println("Other devices will need to verify again.")
	return nil
}

// runSetPIN sets the account PIN. Input never echoes.
func (c *Cli) runSetPIN(ctx context.Context) error {
	auth, err := c.session(ctx)
	if err != nil {
		return err
	}

	pin, err := c.io.ReadPassword("New PIN (4-8 digits): ")
	if err != nil {
		return fmt.Errorf("failed to read pin: %w", err)
	}
	confirm, err := c.io.ReadPassword("Repeat PIN: ")
	if err != nil {
		return fmt.Errorf("failed to read pin: %w", err)
	}
	if pin != confirm {
		return fmt.Errorf("pins do not match")
	}

	resp, err := c.apiClient.SetPIN(ctx, auth.AccessToken, api.SetPINRequest{PIN: pin})
	if err != nil {
		return c.handleStaleAuth(ctx, err)
	}

	if err := c.saveBumpedSession(ctx, auth, auth.Handle, resp); err != nil {
		return err
	}

	if user, rErr := c.replica.User(ctx); rErr == nil {
		user.HasPIN = true
		user.AuthVersion = resp.AuthVersion
		c.replica.ReplaceUser(ctx, user)
	}

	c.io.Println("✓ PIN set. Other devices will need to verify again.")
	return nil
}

// saveBumpedSession stores the reissued token after a security event.
func (c *Cli) saveBumpedSession(ctx context.Context, auth *storage.AuthData, handle string, resp *api.AuthVersionResponse) error {
	auth.Handle = handle
	auth.AuthVersion = resp.AuthVersion
	if resp.AccessToken != "" {
		auth.AccessToken = resp.AccessToken
		auth.ExpiresAt = time.Now().Unix() + resp.ExpiresIn
	}
	if err := c.authStore.SaveAuth(ctx, auth); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}
