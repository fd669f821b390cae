package status

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/ternarybob/acta/internal/models"
)

// ErrInvalidTransition is returned when a requested state change is not in
// the legality tables. Callers must treat it as fatal to the operation.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrInvalidWebhook is returned when a webhook URL fails policy
var ErrInvalidWebhook = errors.New("invalid webhook URL")

// documentTransitions is the legality table for document state changes.
// available is terminal and immutable; failed -> processing is the retry door.
var documentTransitions = map[models.DocumentStatus]map[models.DocumentStatus]bool{
	models.DocumentStatusPending: {
		models.DocumentStatusProcessing: true,
		models.DocumentStatusFailed:     true,
	},
	models.DocumentStatusProcessing: {
		models.DocumentStatusAvailable: true,
		models.DocumentStatusFailed:    true,
	},
	models.DocumentStatusAvailable: {},
	models.DocumentStatusFailed: {
		models.DocumentStatusProcessing: true,
	},
}

// jobTransitions is the legality table for job state changes.
// completed is terminal; failed and cancelled re-open only through processing.
var jobTransitions = map[models.JobStatus]map[models.JobStatus]bool{
	models.JobStatusPending: {
		models.JobStatusProcessing: true,
		models.JobStatusFailed:     true,
		models.JobStatusCancelled:  true,
	},
	models.JobStatusProcessing: {
		models.JobStatusCompleted: true,
		models.JobStatusFailed:    true,
		models.JobStatusCancelled: true,
	},
	models.JobStatusCompleted: {},
	models.JobStatusFailed: {
		models.JobStatusProcessing: true,
	},
	models.JobStatusCancelled: {
		models.JobStatusProcessing: true,
	},
}

// blockedWebhookPorts are never accepted as webhook targets
var blockedWebhookPorts = map[int]bool{
	22:   true,
	23:   true,
	3389: true,
}

// Manager validates state transitions and webhook URL policy. It is
// stateless apart from the production flag, which tightens the URL policy.
type Manager struct {
	production bool
}

// NewManager creates a status manager. In production mode plain HTTP webhook
// URLs are only accepted for localhost targets.
func NewManager(production bool) *Manager {
	return &Manager{production: production}
}

// CanTransitionDocument reports whether a document may move from one status
// to another. Self-transitions are rejected.
func (m *Manager) CanTransitionDocument(from, to models.DocumentStatus) error {
	allowed, known := documentTransitions[from]
	if !known {
		return fmt.Errorf("%w: unknown document status %q", ErrInvalidTransition, from)
	}
	if !allowed[to] {
		return fmt.Errorf("%w: document %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// CanTransitionJob reports whether a job may move from one status to another
func (m *Manager) CanTransitionJob(from, to models.JobStatus) error {
	allowed, known := jobTransitions[from]
	if !known {
		return fmt.Errorf("%w: unknown job status %q", ErrInvalidTransition, from)
	}
	if !allowed[to] {
		return fmt.Errorf("%w: job %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ValidateWebhookURL enforces the webhook URL policy:
// absolute http(s) URL, non-empty authority, no remote-admin ports, and in
// production plain HTTP only for localhost targets.
func (m *Manager) ValidateWebhookURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: URL must not be empty", ErrInvalidWebhook)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidWebhook)
	}

	if parsed.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidWebhook)
	}

	if portStr := parsed.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("%w: invalid port %q", ErrInvalidWebhook, portStr)
		}
		if blockedWebhookPorts[port] {
			return fmt.Errorf("%w: port %d is not allowed", ErrInvalidWebhook, port)
		}
	}

	if parsed.Scheme == "http" && m.production {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return fmt.Errorf("%w: plain HTTP is only allowed for localhost in production", ErrInvalidWebhook)
		}
	}

	return nil
}
