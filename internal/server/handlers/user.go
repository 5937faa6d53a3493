package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/devicelink/devicelink/internal/models"
	"github.com/devicelink/devicelink/internal/server/authversion"
	"github.com/devicelink/devicelink/internal/server/storage"
	"github.com/devicelink/devicelink/internal/validation"
	"github.com/devicelink/devicelink/pkg/api"
)

var pinPattern = regexp.MustCompile(`^[0-9]{4,8}$`)

// UserHandler serves the authenticated account operations. Every mutation
// here is a security event: it bumps the user's auth version, which revokes
// all sessions minted against the previous version.
type UserHandler struct {
	logger      *slog.Logger
	users       storage.UserStorage
	devices     storage.DeviceStorage
	changes     storage.ChangeStorage
	invalidator *authversion.Invalidator
	jwtConfig   JWTConfig
}

// NewUserHandler creates a user handler.
func NewUserHandler(logger *slog.Logger, users storage.UserStorage, devices storage.DeviceStorage, changes storage.ChangeStorage, invalidator *authversion.Invalidator, jwtConfig JWTConfig) *UserHandler {
	return &UserHandler{
		logger:      logger,
		users:       users,
		devices:     devices,
		changes:     changes,
		invalidator: invalidator,
		jwtConfig:   jwtConfig,
	}
}

// UpdateHandle handles POST /api/v1/user/handle.
func (h *UserHandler) UpdateHandle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userGUID, ok := GetUserGUID(ctx)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.UpdateHandleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	handle := req.Handle
	if err := validation.ValidateHandle(handle); err != nil {
		writeValidationError(w, h.logger, err)
		return
	}

	if err := h.users.UpdateHandle(ctx, userGUID, handle); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.propagateHandle(ctx, userGUID, handle); err != nil {
		h.logger.ErrorContext(ctx, "Failed to propagate handle to device records", "error", err)
	}

	if err := h.recordUserChange(ctx, userGUID, models.UserChange{Handle: handle}); err != nil {
		h.logger.ErrorContext(ctx, "Failed to record handle change", "error", err)
	}

	version, err := h.invalidator.Bump(ctx, userGUID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.InfoContext(ctx, "Handle updated",
		"user_guid", userGUID,
		"auth_version", version)

	h.writeBumpResponse(ctx, w, userGUID, handle, version)
}

// SetPIN handles POST /api/v1/user/pin.
func (h *UserHandler) SetPIN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userGUID, ok := GetUserGUID(ctx)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.SetPINRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if !pinPattern.MatchString(req.PIN) {
		writeValidationError(w, h.logger, fmt.Errorf("pin must be 4 to 8 digits"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.PIN), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.users.UpdatePINHash(ctx, userGUID, hash); err != nil {
		writeError(w, h.logger, err)
		return
	}

	version, err := h.invalidator.Bump(ctx, userGUID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.InfoContext(ctx, "PIN updated",
		"user_guid", userGUID,
		"auth_version", version)

	handle, _ := GetHandle(ctx)
	h.writeBumpResponse(ctx, w, userGUID, handle, version)
}

// Reset handles POST /api/v1/user/reset. The calling device is unlinked and
// every session of the user is revoked; the caller gets no replacement token.
func (h *UserHandler) Reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userGUID, ok := GetUserGUID(ctx)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if deviceID, ok := GetDeviceID(ctx); ok && deviceID != "" {
		if err := h.unlinkDevice(ctx, deviceID, userGUID); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}

	version, err := h.invalidator.Bump(ctx, userGUID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.InfoContext(ctx, "Identity reset",
		"user_guid", userGUID,
		"auth_version", version)

	writeJSON(w, h.logger, http.StatusOK, api.AuthVersionResponse{AuthVersion: version})
}

// propagateHandle rewrites the denormalized handle on every device record
// linked to the user so recognition keeps returning the current name.
func (h *UserHandler) propagateHandle(ctx context.Context, userGUID, handle string) error {
	records, err := h.devices.Scan(ctx, func(r *models.DeviceRecord) bool {
		return r.UserGUID == userGUID
	})
	if err != nil {
		return err
	}

	for _, record := range records {
		record.UserHandle = handle
		if err := h.devices.Put(ctx, record); err != nil {
			return err
		}
		if err := h.devices.AppendSyncState(ctx, record.DeviceID, models.SyncStateHandleUpdated); err != nil {
			return err
		}
	}
	return nil
}

func (h *UserHandler) unlinkDevice(ctx context.Context, deviceID, userGUID string) error {
	record, err := h.devices.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			return nil
		}
		return err
	}
	if record.UserGUID != userGUID {
		return nil
	}

	record.Unlink()
	if err := h.devices.Put(ctx, record); err != nil {
		return err
	}
	return h.devices.AppendSyncState(ctx, deviceID, models.SyncStateReset)
}

// recordUserChange appends an entry to the server change log so other
// devices of the user pick the mutation up on their next pull.
func (h *UserHandler) recordUserChange(ctx context.Context, userGUID string, payload models.UserChange) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	now := time.Now()
	_, err = h.changes.SaveChange(ctx, userGUID, &models.ChangeEntry{
		CreatedAt: now,
		ID:        uuid.New().String(),
		Table:     models.TableUser,
		RecordID:  userGUID,
		Type:      models.ChangeTypeUpdate,
		Data:      data,
		Timestamp: now.UnixMilli(),
	})
	return err
}

// writeBumpResponse reissues a token against the new auth version so the
// calling session survives the bump it triggered.
func (h *UserHandler) writeBumpResponse(ctx context.Context, w http.ResponseWriter, userGUID, handle string, version int64) {
	deviceID, _ := GetDeviceID(ctx)

	token, expiresIn, err := GenerateAccessToken(h.jwtConfig, userGUID, deviceID, handle, version)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, api.AuthVersionResponse{
		AuthVersion: version,
		AccessToken: token,
		ExpiresIn:   expiresIn,
	})
}
