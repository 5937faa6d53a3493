// Package cli implements the interactive devicelink client commands.
package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	httpClient "github.com/devicelink/devicelink/internal/client/api"
	"github.com/devicelink/devicelink/internal/client/iocli"
	"github.com/devicelink/devicelink/internal/client/replica"
	"github.com/devicelink/devicelink/internal/client/storage"
	"github.com/devicelink/devicelink/internal/client/sync"
)

// Cli wires the client services behind the terminal commands.
type Cli struct {
	io          iocli.IO
	apiClient   httpClient.ClientAPI
	authStore   storage.AuthStorage
	metadata    storage.MetadataStorage
	replica     *replica.Service
	syncService *sync.Service
}

// New creates the CLI front end.
func New(io iocli.IO, apiClient httpClient.ClientAPI, authStore storage.AuthStorage, metadata storage.MetadataStorage, rep *replica.Service, syncService *sync.Service) *Cli {
	return &Cli{
		io:          io,
		apiClient:   apiClient,
		authStore:   authStore,
		metadata:    metadata,
		replica:     rep,
		syncService: syncService,
	}
}

// Run dispatches one command. Errors are printed and exit the process.
func (c *Cli) Run(ctx context.Context, command string, args []string) {
	var err error
	switch command {
	case "login":
		err = c.runLogin(ctx)
	case "logout":
		err = c.runLogout(ctx)
	case "status":
		err = c.runStatus(ctx)
	case "sync":
		err = c.runSync(ctx)
	case "rename":
		err = c.runRename(ctx, args)
	case "handle":
		err = c.runHandle(ctx, args)
	case "set-pin":
		err = c.runSetPIN(ctx)
	case "reset":
		err = c.runReset(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		PrintUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// PrintUsage prints the command reference.
func PrintUsage() {
	fmt.Println("Devicelink Client")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  devicelink [OPTIONS] COMMAND")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --version        Show version information")
	fmt.Println("  --server URL     Server URL (default: http://localhost:8080)")
	fmt.Println("  --db PATH        Path to local database (default: devicelink-client.db)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  login            Verify this device with a phone code")
	fmt.Println("  logout           Discard the local session")
	fmt.Println("  status           Show recognition and sync status")
	fmt.Println("  sync             Synchronize the local replica with the server")
	fmt.Println("  rename <name>    Rename this device")
	fmt.Println("  handle <@name>   Change the account handle")
	fmt.Println("  set-pin          Set the account PIN")
	fmt.Println("  reset            Unlink this device and revoke all sessions")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  devicelink login")
	fmt.Println("  devicelink rename \"Work laptop\"")
	fmt.Println("  devicelink handle @newname")
	fmt.Println("  devicelink --server https://example.com sync")
}

// ensureDeviceID returns the persisted device token, generating a fresh
// 256-bit one on first run.
func (c *Cli) ensureDeviceID(ctx context.Context) (string, error) {
	deviceID, err := c.metadata.GetDeviceID(ctx)
	if err != nil {
		return "", err
	}
	if deviceID != "" {
		return deviceID, nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate device id: %w", err)
	}
	deviceID = hex.EncodeToString(raw)

	if err := c.metadata.SaveDeviceID(ctx, deviceID); err != nil {
		return "", err
	}
	return deviceID, nil
}

// session returns valid stored credentials or a user-facing error.
func (c *Cli) session(ctx context.Context) (*storage.AuthData, error) {
	auth, err := c.authStore.GetAuth(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			return nil, fmt.Errorf("not authenticated, run 'devicelink login' first")
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return auth, nil
}

// discardCredentials wipes the local session and replica after the server
// reports the session as revoked.
func (c *Cli) discardCredentials(ctx context.Context) error {
	if err := c.authStore.DeleteAuth(ctx); err != nil && !errors.Is(err, storage.ErrAuthNotFound) {
		return err
	}
	return c.replica.Reset(ctx)
}

// handleStaleAuth converts a stale-auth rejection into instructions.
func (c *Cli) handleStaleAuth(ctx context.Context, err error) error {
	if !errors.Is(err, httpClient.ErrStaleAuth) {
		return err
	}

	c.io.Println()
	c.io.Println("Your session was revoked by a security event on another device.")
	c.io.Println("Local credentials have been discarded; run 'devicelink login' to re-verify.")

	if wipeErr := c.discardCredentials(ctx); wipeErr != nil {
		return fmt.Errorf("failed to discard local credentials: %w", wipeErr)
	}
	return fmt.Errorf("session revoked")
}
