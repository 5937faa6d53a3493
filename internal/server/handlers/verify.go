package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/devicelink/devicelink/internal/models"
	"github.com/devicelink/devicelink/internal/server/verification"
	"github.com/devicelink/devicelink/internal/validation"
	"github.com/devicelink/devicelink/pkg/api"
)

// VerifyHandler exposes the verification challenge flow.
type VerifyHandler struct {
	logger    *slog.Logger
	service   *verification.Service
	jwtConfig JWTConfig
}

// NewVerifyHandler creates a verification handler.
func NewVerifyHandler(logger *slog.Logger, service *verification.Service, jwtConfig JWTConfig) *VerifyHandler {
	return &VerifyHandler{logger: logger, service: service, jwtConfig: jwtConfig}
}

// Issue handles POST /api/v1/verify/issue.
// Issues a code to the phone; responds identically whether or not the
// phone belongs to a known user.
func (h *VerifyHandler) Issue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.IssueVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode issue request", slog.Any("error", err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.Issue(ctx, req.Phone); err != nil {
		writeValidationError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Consume handles POST /api/v1/verify/consume.
// On success the device is linked and a session token is returned.
func (h *VerifyHandler) Consume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.ConsumeVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode consume request", slog.Any("error", err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if _, err := validation.NormalizePhone(req.Phone); err != nil {
		writeValidationError(w, h.logger, err)
		return
	}
	if req.Registration {
		if err := validation.ValidateHandle(req.Handle); err != nil {
			writeValidationError(w, h.logger, err)
			return
		}
	}

	result, err := h.service.Consume(ctx, verification.ConsumeParams{
		Phone:        req.Phone,
		Code:         req.Code,
		DeviceID:     req.DeviceID,
		Handle:       req.Handle,
		Registration: req.Registration,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	token, expiresIn, err := GenerateAccessToken(h.jwtConfig,
		result.User.GUID, req.DeviceID, result.User.Handle, result.User.AuthVersion)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, api.ConsumeVerificationResponse{
		User:        userPayload(result.User),
		AccessToken: token,
		ExpiresIn:   expiresIn,
		Linked:      result.Linked,
	})
}

func userPayload(u *models.User) api.UserPayload {
	return api.UserPayload{
		GUID:        u.GUID,
		Handle:      u.Handle,
		Phone:       u.Phone,
		AuthVersion: u.AuthVersion,
		HasPIN:      u.HasPIN(),
	}
}
