package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/devicelink/devicelink/internal/server/recognition"
	"github.com/devicelink/devicelink/pkg/api"
)

// RecognizeHandler exposes the recognition engine to clients.
type RecognizeHandler struct {
	logger *slog.Logger
	engine *recognition.Engine
}

// NewRecognizeHandler creates a recognition handler.
func NewRecognizeHandler(logger *slog.Logger, engine *recognition.Engine) *RecognizeHandler {
	return &RecognizeHandler{logger: logger, engine: engine}
}

// Recognize handles POST /api/v1/device/recognize.
func (h *RecognizeHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.RecognizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode recognize request", slog.Any("error", err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	hints := recognition.Hints{
		UserGUID:   req.Hints.UserGUID,
		UserHandle: req.Hints.UserHandle,
		UserPhone:  req.Hints.UserPhone,
	}

	result, err := h.engine.Recognize(ctx, req.DeviceID, hints, req.RegistrationFlow)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := api.RecognizeResponse{
		Status:       result.Outcome.String(),
		Handle:       result.Handle,
		GUID:         result.GUID,
		MaskedPhone:  result.MaskedPhone,
		CrossBrowser: result.CrossBrowser,
	}

	h.logger.InfoContext(ctx, "Device recognized",
		"status", resp.Status,
		"cross_browser", resp.CrossBrowser,
		"registration_flow", req.RegistrationFlow)

	writeJSON(w, h.logger, http.StatusOK, resp)
}
