package status

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/acta/internal/models"
)

func TestCanTransitionDocument(t *testing.T) {
	m := NewManager(false)

	tests := []struct {
		name    string
		from    models.DocumentStatus
		to      models.DocumentStatus
		allowed bool
	}{
		{"pending to processing", models.DocumentStatusPending, models.DocumentStatusProcessing, true},
		{"pending to failed", models.DocumentStatusPending, models.DocumentStatusFailed, true},
		{"pending to available", models.DocumentStatusPending, models.DocumentStatusAvailable, false},
		{"processing to available", models.DocumentStatusProcessing, models.DocumentStatusAvailable, true},
		{"processing to failed", models.DocumentStatusProcessing, models.DocumentStatusFailed, true},
		{"processing to pending", models.DocumentStatusProcessing, models.DocumentStatusPending, false},
		{"available is immutable", models.DocumentStatusAvailable, models.DocumentStatusProcessing, false},
		{"available to failed", models.DocumentStatusAvailable, models.DocumentStatusFailed, false},
		{"failed retry door", models.DocumentStatusFailed, models.DocumentStatusProcessing, true},
		{"failed to available", models.DocumentStatusFailed, models.DocumentStatusAvailable, false},
		{"self transition rejected", models.DocumentStatusPending, models.DocumentStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.CanTransitionDocument(tt.from, tt.to)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidTransition), "expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestCanTransitionJob(t *testing.T) {
	m := NewManager(false)

	tests := []struct {
		name    string
		from    models.JobStatus
		to      models.JobStatus
		allowed bool
	}{
		{"pending to processing", models.JobStatusPending, models.JobStatusProcessing, true},
		{"pending to failed", models.JobStatusPending, models.JobStatusFailed, true},
		{"pending to cancelled", models.JobStatusPending, models.JobStatusCancelled, true},
		{"pending to completed", models.JobStatusPending, models.JobStatusCompleted, false},
		{"processing to completed", models.JobStatusProcessing, models.JobStatusCompleted, true},
		{"processing to failed", models.JobStatusProcessing, models.JobStatusFailed, true},
		{"processing to cancelled", models.JobStatusProcessing, models.JobStatusCancelled, true},
		{"completed is terminal", models.JobStatusCompleted, models.JobStatusProcessing, false},
		{"failed retry door", models.JobStatusFailed, models.JobStatusProcessing, true},
		{"failed to completed", models.JobStatusFailed, models.JobStatusCompleted, false},
		{"cancelled retry door", models.JobStatusCancelled, models.JobStatusProcessing, true},
		{"cancelled to failed", models.JobStatusCancelled, models.JobStatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.CanTransitionJob(tt.from, tt.to)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidTransition), "expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestValidateWebhookURL(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		production bool
		valid      bool
	}{
		{"https accepted", "https://example.test/cb", false, true},
		{"https accepted in production", "https://example.test/cb", true, true},
		{"http accepted in development", "http://example.test/cb", false, true},
		{"http rejected in production", "http://example.test/cb", true, false},
		{"http localhost allowed in production", "http://localhost:9000/cb", true, true},
		{"http loopback allowed in production", "http://127.0.0.1:9000/cb", true, true},
		{"empty rejected", "", false, false},
		{"relative rejected", "/callback", false, false},
		{"ftp rejected", "ftp://example.test/cb", false, false},
		{"ssh port rejected", "http://evil.example:22/x", false, false},
		{"telnet port rejected", "https://example.test:23/cb", false, false},
		{"rdp port rejected", "https://example.test:3389/cb", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.production)
			err := m.ValidateWebhookURL(tt.url)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidWebhook), "expected ErrInvalidWebhook, got %v", err)
			}
		})
	}
}
