// Package sync drives the push-then-pull cycle against the server.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	httpClient "github.com/devicelink/devicelink/internal/client/api"
	"github.com/devicelink/devicelink/internal/client/replica"
	"github.com/devicelink/devicelink/internal/client/storage"
	"github.com/devicelink/devicelink/internal/models"
	"github.com/devicelink/devicelink/pkg/api"
)

// Result contains the counts of one sync cycle.
type Result struct {
	Pushed    int // queued changes uploaded
	Pulled    int // server deltas applied locally
	Conflicts int // pushed changes that lost last-write-wins
}

// Service synchronizes the local replica with the server. Concurrent Sync
// calls collapse into one cycle: the first caller runs it, the rest wait
// and share its result.
type Service struct {
	apiClient httpClient.ClientAPI
	replica   *replica.Service
	metadata  storage.MetadataStorage
	logger    *slog.Logger

	mu         sync.Mutex
	inProgress bool
	waiters    []chan outcome
}

type outcome struct {
	result *Result
	err    error
}

// NewService creates a sync service.
func NewService(apiClient httpClient.ClientAPI, rep *replica.Service, metadata storage.MetadataStorage, logger *slog.Logger) *Service {
	return &Service{
		apiClient: apiClient,
		replica:   rep,
		metadata:  metadata,
		logger:    logger,
	}
}

// Sync performs one push-then-pull cycle. The last-sync timestamp advances
// only after both phases succeed, so a failed pull repeats the pull range
// next time instead of losing deltas.
func (s *Service) Sync(ctx context.Context, accessToken string) (*Result, error) {
	s.mu.Lock()
	if s.inProgress {
		ch := make(chan outcome, 1)
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()

		select {
		case o := <-ch:
			return o.result, o.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.inProgress = true
	s.mu.Unlock()

	result, err := s.runCycle(ctx, accessToken)

	s.mu.Lock()
	s.inProgress = false
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- outcome{result: result, err: err}
	}

	return result, err
}

func (s *Service) runCycle(ctx context.Context, accessToken string) (*Result, error) {
	result := &Result{}

	lastSync, err := s.metadata.GetLastSyncTimestamp(ctx)
	if err != nil {
		s.logger.Warn("Failed to get last sync timestamp, using 0", "error", err)
		lastSync = 0
	}

	pending, err := s.replica.PendingChanges(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect pending changes: %w", err)
	}

	s.logger.Info("Starting synchronization",
		"pending", len(pending),
		"since", lastSync)

	wireChanges := make([]api.ChangeEntry, 0, len(pending))
	for _, entry := range pending {
		wireChanges = append(wireChanges, api.ChangeEntry{
			CreatedAt: entry.CreatedAt,
			ID:        entry.ID,
			Table:     entry.Table,
			RecordID:  entry.RecordID,
			Type:      entry.Type,
			Data:      entry.Data,
			Timestamp: entry.Timestamp,
		})
	}

	resp, err := s.apiClient.Sync(ctx, accessToken, api.SyncRequest{
		Changes: wireChanges,
		Since:   lastSync,
	})
	if err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}

	if err := s.replica.MarkSynced(ctx, resp.AppliedIDs); err != nil {
		return nil, fmt.Errorf("failed to mark changes synced: %w", err)
	}
	result.Pushed = len(resp.AppliedIDs)
	result.Conflicts = resp.Conflicts

	for _, wire := range resp.Changes {
		if err := s.applyDelta(ctx, &wire); err != nil {
			return nil, fmt.Errorf("failed to apply server delta %s: %w", wire.ID, err)
		}
		result.Pulled++
	}

	if err := s.replica.Flush(ctx); err != nil {
		return nil, fmt.Errorf("failed to flush replica: %w", err)
	}

	// Both phases succeeded; the high-water mark may advance.
	if err := s.metadata.SaveLastSyncTimestamp(ctx, resp.ServerTimestamp); err != nil {
		return nil, fmt.Errorf("failed to save last sync timestamp: %w", err)
	}

	s.logger.Info("Synchronization completed",
		"pushed", result.Pushed,
		"pulled", result.Pulled,
		"conflicts", result.Conflicts,
		"server_timestamp", resp.ServerTimestamp)

	return result, nil
}

// applyDelta merges one server change into the local replica.
func (s *Service) applyDelta(ctx context.Context, wire *api.ChangeEntry) error {
	switch wire.Table {
	case models.TableUser:
		var payload models.UserChange
		if err := json.Unmarshal(wire.Data, &payload); err != nil {
			return fmt.Errorf("invalid user change payload: %w", err)
		}

		user, err := s.replica.User(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrReplicaNotFound) {
				s.logger.Warn("Skipping user delta, no local replica")
				return nil
			}
			return err
		}
		if payload.Handle != "" {
			user.Handle = payload.Handle
		}
		if payload.Phone != "" {
			user.Phone = payload.Phone
		}
		s.replica.ReplaceUser(ctx, user)
		return nil

	case models.TableDevice:
		device, err := s.replica.Device(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrReplicaNotFound) {
				s.logger.Warn("Skipping device delta, no local replica")
				return nil
			}
			return err
		}
		if wire.RecordID != device.DeviceID {
			// A delta for some other device of the same user; nothing to
			// mirror locally.
			return nil
		}

		var payload models.DeviceChange
		if err := json.Unmarshal(wire.Data, &payload); err != nil {
			return fmt.Errorf("invalid device change payload: %w", err)
		}
		if payload.Name != "" {
			device.Name = payload.Name
		}
		s.replica.ReplaceDevice(ctx, device)
		return nil

	default:
		s.logger.Warn("Skipping delta with unknown table", "table", wire.Table)
		return nil
	}
}

// PendingCount returns how many local changes await upload.
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	pending, err := s.replica.PendingChanges(ctx)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}
