package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/devicelink/devicelink/internal/models"
	"github.com/devicelink/devicelink/internal/server/authversion"
	"github.com/devicelink/devicelink/internal/server/storage"
	"github.com/devicelink/devicelink/pkg/api"
)

// SyncHandler reconciles pushed client changes against the authoritative
// stores and serves pull deltas from the change log.
type SyncHandler struct {
	logger      *slog.Logger
	users       storage.UserStorage
	devices     storage.DeviceStorage
	changes     storage.ChangeStorage
	invalidator *authversion.Invalidator
}

// NewSyncHandler creates a sync handler.
func NewSyncHandler(logger *slog.Logger, users storage.UserStorage, devices storage.DeviceStorage, changes storage.ChangeStorage, invalidator *authversion.Invalidator) *SyncHandler {
	return &SyncHandler{
		logger:      logger,
		users:       users,
		devices:     devices,
		changes:     changes,
		invalidator: invalidator,
	}
}

// HandleSync handles GET and POST /api/v1/sync.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userGUID, ok := GetUserGUID(ctx)
	if !ok {
		h.logger.Error("User GUID not found in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleGetSync(ctx, w, r, userGUID)
	case http.MethodPost:
		h.handlePostSync(ctx, w, r, userGUID)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleGetSync serves a pull-only cycle: GET /api/v1/sync?since=timestamp.
func (h *SyncHandler) handleGetSync(ctx context.Context, w http.ResponseWriter, r *http.Request, userGUID string) {
	sinceStr := r.URL.Query().Get("since")
	var since int64
	if sinceStr != "" {
		var err error
		since, err = strconv.ParseInt(sinceStr, 10, 64)
		if err != nil {
			h.logger.WarnContext(ctx, "Invalid since parameter", "since", sinceStr, "error", err)
			http.Error(w, "Invalid since parameter", http.StatusBadRequest)
			return
		}
	}

	resp, err := h.buildPullResponse(ctx, userGUID, since, nil, 0)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, resp)
}

// handlePostSync applies pushed changes, then answers with pull deltas.
func (h *SyncHandler) handlePostSync(ctx context.Context, w http.ResponseWriter, r *http.Request, userGUID string) {
	var req api.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode sync request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	h.logger.InfoContext(ctx, "Sync push",
		"user_guid", userGUID,
		"since", req.Since,
		"changes", len(req.Changes))

	appliedIDs := make([]string, 0, len(req.Changes))
	conflicts := 0

	for _, wire := range req.Changes {
		entry := &models.ChangeEntry{
			ID:        wire.ID,
			Table:     wire.Table,
			RecordID:  wire.RecordID,
			Type:      wire.Type,
			Data:      wire.Data,
			Timestamp: wire.Timestamp,
			CreatedAt: wire.CreatedAt,
		}

		stored, err := h.changes.SaveChange(ctx, userGUID, entry)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}

		if stored {
			if err := h.applyChange(ctx, userGUID, entry); err != nil {
				writeError(w, h.logger, err)
				return
			}
		} else {
			// An existing change won last-write-wins; the pushed one is
			// acknowledged anyway so the client stops retrying it.
			conflicts++
		}

		appliedIDs = append(appliedIDs, entry.ID)
	}

	resp, err := h.buildPullResponse(ctx, userGUID, req.Since, appliedIDs, conflicts)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.InfoContext(ctx, "Sync completed",
		"user_guid", userGUID,
		"applied", len(appliedIDs),
		"returned", len(resp.Changes),
		"conflicts", conflicts)

	writeJSON(w, h.logger, http.StatusOK, resp)
}

// applyChange applies one accepted change to the authoritative stores.
// Ownership is enforced: a user change must target the session's own user,
// a device change one of the user's linked records.
func (h *SyncHandler) applyChange(ctx context.Context, userGUID string, entry *models.ChangeEntry) error {
	switch entry.Table {
	case models.TableUser:
		if entry.RecordID != userGUID {
			return fmt.Errorf("change targets another user")
		}
		var payload models.UserChange
		if err := json.Unmarshal(entry.Data, &payload); err != nil {
			return fmt.Errorf("invalid user change payload: %w", err)
		}
		if payload.Handle != "" {
			if err := h.users.UpdateHandle(ctx, userGUID, payload.Handle); err != nil {
				return err
			}
			// A handle change is a security event: revoke other sessions.
			if _, err := h.invalidator.Bump(ctx, userGUID); err != nil {
				return err
			}
		}
		return nil

	case models.TableDevice:
		record, err := h.devices.Get(ctx, entry.RecordID)
		if err != nil {
			if errors.Is(err, storage.ErrDeviceNotFound) {
				// The record may not exist yet server-side; nothing to
				// apply, the change log already has the entry.
				return nil
			}
			return err
		}
		if record.UserGUID != userGUID {
			return fmt.Errorf("change targets another user's device")
		}
		var payload models.DeviceChange
		if err := json.Unmarshal(entry.Data, &payload); err != nil {
			return fmt.Errorf("invalid device change payload: %w", err)
		}
		if payload.Name != "" {
			record.Name = payload.Name
			if err := h.devices.Put(ctx, record); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown change table %q", entry.Table)
	}
}

// buildPullResponse collects the user's change-log deltas newer than since.
func (h *SyncHandler) buildPullResponse(ctx context.Context, userGUID string, since int64, appliedIDs []string, conflicts int) (*api.SyncResponse, error) {
	entries, err := h.changes.ChangesSince(ctx, userGUID, since)
	if err != nil {
		return nil, err
	}

	wireChanges := make([]api.ChangeEntry, 0, len(entries))
	maxTimestamp := since

	for _, entry := range entries {
		wireChanges = append(wireChanges, api.ChangeEntry{
			ID:        entry.ID,
			Table:     entry.Table,
			RecordID:  entry.RecordID,
			Type:      entry.Type,
			Data:      entry.Data,
			Timestamp: entry.Timestamp,
			CreatedAt: entry.CreatedAt,
		})
		if entry.Timestamp > maxTimestamp {
			maxTimestamp = entry.Timestamp
		}
	}

	if appliedIDs == nil {
		appliedIDs = []string{}
	}

	return &api.SyncResponse{
		AppliedIDs:      appliedIDs,
		Changes:         wireChanges,
		ServerTimestamp: maxTimestamp,
		Conflicts:       conflicts,
	}, nil
}
