package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ternarybob/acta/internal/common"
	"github.com/ternarybob/acta/internal/interfaces"
	"github.com/ternarybob/acta/internal/models"
	"github.com/ternarybob/acta/internal/services/projection"
	"github.com/ternarybob/acta/internal/services/scheduler"
	"github.com/ternarybob/acta/internal/services/status"
	"github.com/ternarybob/arbor"
)

// ProcessHandler serves the materialization ingress and the status endpoint
type ProcessHandler struct {
	scheduler  *scheduler.Service
	projection *projection.Service
	logger     arbor.ILogger
}

func NewProcessHandler(sched *scheduler.Service, proj *projection.Service) *ProcessHandler {
	return &ProcessHandler{
		scheduler:  sched,
		projection: proj,
		logger:     common.GetLogger(),
	}
}

// processResponse is the ingress response: the admission decision plus the
// current projection of the process.
type processResponse struct {
	ProcessNumber string                `json:"process_number"`
	Court         string                `json:"court,omitempty"`
	Subject       string                `json:"subject,omitempty"`
	Decision      string                `json:"decision,omitempty"`
	JobID         string                `json:"job_id,omitempty"`
	Status        *models.ProcessStatus `json:"status,omitempty"`
}

// GetProcessHandler handles GET /api/processes/{processNumber}.
// Query parameters: autoDownload (default true), webhookUrl (optional).
// Returns immediately; downloads happen on the worker pool.
func (h *ProcessHandler) GetProcessHandler(w http.ResponseWriter, r *http.Request, processNumber string) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	if processNumber == "" {
		WriteError(w, http.StatusBadRequest, "Process number is required")
		return
	}

	autoDownload := true
	if raw := r.URL.Query().Get("autoDownload"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "autoDownload must be a boolean")
			return
		}
		autoDownload = parsed
	}
	webhookURL := r.URL.Query().Get("webhookUrl")

	ctx := r.Context()
	resp := &processResponse{ProcessNumber: processNumber}

	if autoDownload {
		result, err := h.scheduler.Schedule(ctx, processNumber, webhookURL)
		if err != nil {
			h.writeSchedulingError(w, processNumber, err)
			return
		}
		resp.Decision = string(result.Decision)
		if result.Job != nil {
			resp.JobID = result.Job.ID
		}
		if result.Process != nil {
			resp.Court = result.Process.Court
			resp.Subject = result.Process.Subject
		}
	} else {
		process, err := h.scheduler.EnsureProcess(ctx, processNumber)
		if err != nil {
			h.writeSchedulingError(w, processNumber, err)
			return
		}
		resp.Court = process.Court
		resp.Subject = process.Subject
	}

	// Attach the current projection so callers see seeded documents (and,
	// for reused-complete, freshly signed download URLs) in one round trip.
	if ps, err := h.projection.GetProcessStatus(ctx, processNumber); err == nil {
		resp.Status = ps
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		h.logger.Warn().
			Err(err).
			Str("process_number", processNumber).
			Msg("Failed to attach status projection")
	}

	WriteJSON(w, http.StatusOK, resp)
}

// StatusHandler handles GET /api/processes/{processNumber}/status
func (h *ProcessHandler) StatusHandler(w http.ResponseWriter, r *http.Request, processNumber string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	ps, err := h.projection.GetProcessStatus(r.Context(), processNumber)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Process not found")
			return
		}
		h.logger.Error().
			Err(err).
			Str("process_number", processNumber).
			Msg("Failed to build status projection")
		WriteError(w, http.StatusInternalServerError, "Failed to load process status")
		return
	}

	WriteJSON(w, http.StatusOK, ps)
}

// writeSchedulingError maps scheduler failures to ingress status codes:
// policy violations are the caller's fault, portal failures are a bad gateway.
func (h *ProcessHandler) writeSchedulingError(w http.ResponseWriter, processNumber string, err error) {
	if errors.Is(err, status.ErrInvalidWebhook) {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var portalErr *interfaces.PortalError
	if errors.As(err, &portalErr) {
		h.logger.Warn().
			Err(err).
			Str("process_number", processNumber).
			Msg("Upstream metadata unavailable")
		WriteError(w, http.StatusBadGateway, "Upstream portal unavailable: "+portalErr.Error())
		return
	}

	h.logger.Error().
		Err(err).
		Str("process_number", processNumber).
		Msg("Scheduling failed")
	WriteError(w, http.StatusInternalServerError, "Failed to schedule materialization")
}
