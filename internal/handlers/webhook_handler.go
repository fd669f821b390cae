package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/acta/internal/common"
	"github.com/ternarybob/acta/internal/interfaces"
	"github.com/ternarybob/acta/internal/services/status"
	"github.com/ternarybob/arbor"
)

// WebhookHandler serves webhook URL validation and connectivity probes
type WebhookHandler struct {
	statusMgr  *status.Manager
	dispatcher interfaces.WebhookDispatcher
	validate   *validator.Validate
	logger     arbor.ILogger
}

func NewWebhookHandler(statusMgr *status.Manager, dispatcher interfaces.WebhookDispatcher) *WebhookHandler {
	return &WebhookHandler{
		statusMgr:  statusMgr,
		dispatcher: dispatcher,
		validate:   validator.New(),
		logger:     common.GetLogger(),
	}
}

type webhookRequest struct {
	WebhookURL string `json:"webhookUrl" validate:"required"`
}

// ValidateHandler handles POST /api/webhooks/validate.
// Checks the URL against policy without touching the network.
func (h *WebhookHandler) ValidateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req webhookRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "webhookUrl is required")
		return
	}

	if err := h.statusMgr.ValidateWebhookURL(req.WebhookURL); err != nil {
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"valid": true,
	})
}

// TestConnectivityHandler handles POST /api/webhooks/test-connectivity.
// Sends a small test payload to the URL and reports reachability.
func (h *WebhookHandler) TestConnectivityHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req webhookRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "webhookUrl is required")
		return
	}

	result := h.dispatcher.TestConnectivity(r.Context(), req.WebhookURL)
	h.logger.Info().
		Str("url", req.WebhookURL).
		Bool("reachable", result.Reachable).
		Msg("Webhook connectivity probe")

	WriteJSON(w, http.StatusOK, result)
}
