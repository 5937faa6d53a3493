package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/devicelink/devicelink/internal/client/storage"
	"github.com/devicelink/devicelink/pkg/api"
)

func (c *Cli) runLogin(ctx context.Context) error {
	c.io.Println("=== Login ===")
	c.io.Println()

	deviceID, err := c.ensureDeviceID(ctx)
	if err != nil {
		return err
	}

	// Recognition first. Even a fresh verified device confirms a code to
	// mint its session; recognition only shapes the prompts.
	hints := c.recognitionHints(ctx)
	recog, err := c.apiClient.Recognize(ctx, api.RecognizeRequest{
		DeviceID: deviceID,
		Hints:    hints,
	})
	if err != nil {
		return fmt.Errorf("recognition failed: %w", err)
	}

	registration := false
	phone := ""

	switch recog.Status {
	case api.StatusAuthenticated:
		c.io.Printf("Recognized as %s.\n", recog.Handle)
		c.io.Println("A verification code is still required to mint a session.")
		if user, err := c.replica.User(ctx); err == nil {
			phone = user.Phone
		}
	case api.StatusNeedsVerification:
		if recog.CrossBrowser {
			c.io.Printf("This looks like a new browser for %s.\n", recog.Handle)
		} else {
			c.io.Printf("Welcome back, %s. Verification needed (code goes to %s).\n",
				recog.Handle, recog.MaskedPhone)
		}
	case api.StatusUnregistered:
		c.io.Println("This device is not registered yet.")
		registration = true
	default:
		return fmt.Errorf("unexpected recognition status %q", recog.Status)
	}

	if phone == "" {
		phone, err = c.io.ReadInput("Phone (+countrycode...): ")
		if err != nil {
			return fmt.Errorf("failed to read phone: %w", err)
		}
	}

	if err := c.apiClient.IssueVerification(ctx, api.IssueVerificationRequest{Phone: phone}); err != nil {
		return err
	}
	c.io.Println("Verification code sent.")

	code, err := c.io.ReadInput("Code: ")
	if err != nil {
		return fmt.Errorf("failed to read code: %w", err)
	}

	handle := ""
	if registration {
		handle, err = c.io.ReadInput("Choose a handle (@name): ")
		if err != nil {
			return fmt.Errorf("failed to read handle: %w", err)
		}
	}

	resp, err := c.apiClient.ConsumeVerification(ctx, api.ConsumeVerificationRequest{
		Phone:        phone,
		Code:         code,
		DeviceID:     deviceID,
		Handle:       handle,
		Registration: registration,
	})
	if err != nil {
		return err
	}

	if err := c.authStore.SaveAuth(ctx, &storage.AuthData{
		DeviceID:    deviceID,
		UserGUID:    resp.User.GUID,
		Handle:      resp.User.Handle,
		Phone:       resp.User.Phone,
		AuthVersion: resp.User.AuthVersion,
		AccessToken: resp.AccessToken,
		ExpiresAt:   time.Now().Unix() + resp.ExpiresIn,
	}); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	c.seedReplica(ctx, deviceID, &resp.User)

	c.io.Println()
	c.io.Println("✓ Login successful!")
	c.io.Printf("Handle: %s\n", resp.User.Handle)
	if !resp.Linked {
		c.io.Println("Note: this device could not be linked; verification succeeded anyway.")
	}

	return nil
}

func (c *Cli) runLogout(ctx context.Context) error {
	if err := c.authStore.DeleteAuth(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	c.io.Println("✓ Logged out. The local replica is kept for offline reads.")
	return nil
}

// recognitionHints builds hints from whatever identity survives locally.
func (c *Cli) recognitionHints(ctx context.Context) api.RecognizeHints {
	hints := api.RecognizeHints{}
	if user, err := c.replica.User(ctx); err == nil {
		hints.UserGUID = user.GUID
		hints.UserHandle = user.Handle
		hints.UserPhone = user.Phone
	}
	return hints
}

// seedReplica mirrors the server-confirmed identity into the local store.
func (c *Cli) seedReplica(ctx context.Context, deviceID string, user *api.UserPayload) {
	c.replica.ReplaceUser(ctx, &storage.UserReplica{
		GUID:        user.GUID,
		Handle:      user.Handle,
		Phone:       user.Phone,
		AuthVersion: user.AuthVersion,
		HasPIN:      user.HasPIN,
	})

	if _, err := c.replica.Device(ctx); err != nil {
		c.replica.ReplaceDevice(ctx, &storage.DeviceReplica{DeviceID: deviceID})
	}
}
