package models

import (
	"time"
)

// OverallStatus is the aggregate state a poller sees for a process
type OverallStatus string

const (
	OverallStatusPending    OverallStatus = "pending"
	OverallStatusProcessing OverallStatus = "processing"
	OverallStatusCompleted  OverallStatus = "completed"
	OverallStatusFailed     OverallStatus = "failed"
)

// ProcessStatus is the read-only projection returned by the status endpoint.
// Assembled on demand from stored documents and the most recent job; document
// download URLs are re-signed on every call, never cached.
type ProcessStatus struct {
	ProcessNumber      string        `json:"process_number"`
	OverallStatus      OverallStatus `json:"overall_status"`
	ProgressPercentage float64       `json:"progress_percentage"`

	TotalDocuments      int `json:"total_documents"`
	PendingDocuments    int `json:"pending_documents"`
	ProcessingDocuments int `json:"processing_documents"`
	CompletedDocuments  int `json:"completed_documents"` // documents in available
	FailedDocuments     int `json:"failed_documents"`

	Documents []WebhookDocument `json:"documents"`

	JobID       string     `json:"job_id,omitempty"`
	WebhookURL  string     `json:"webhook_url,omitempty"`
	WebhookSent bool       `json:"webhook_sent"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
