package models

import (
	"time"
)

// WebhookFailure categorizes why a delivery attempt failed
type WebhookFailure string

const (
	WebhookFailureTimeout    WebhookFailure = "TIMEOUT"
	WebhookFailureConnect    WebhookFailure = "CONNECT_ERROR"
	WebhookFailureTLS        WebhookFailure = "TLS_ERROR"
	WebhookFailureHTTPStatus WebhookFailure = "HTTP_STATUS"
	WebhookFailureOther      WebhookFailure = "OTHER"
)

// WebhookPayload is the notification body POSTed to the caller's webhook URL
// when a job reaches a terminal state.
type WebhookPayload struct {
	ProcessNumber      string            `json:"process_number"`
	JobID              string            `json:"job_id"`
	Status             string            `json:"status"` // "completed" | "failed"
	TotalDocuments     int               `json:"total_documents"`
	CompletedDocuments int               `json:"completed_documents"`
	FailedDocuments    int               `json:"failed_documents"`
	CompletedAt        time.Time         `json:"completed_at"`
	Documents          []WebhookDocument `json:"documents"`
}

// WebhookDocument is the per-document record inside the webhook payload and
// the status projection.
type WebhookDocument struct {
	ID           string `json:"id"`
	UUID         string `json:"uuid"`
	Name         string `json:"name"`
	MimeType     string `json:"mime_type,omitempty"`
	Size         int64  `json:"size,omitempty"`
	Status       string `json:"status"`
	DownloadURL  string `json:"download_url,omitempty"`  // pre-signed, present iff status=available
	ErrorMessage string `json:"error_message,omitempty"` // present iff status=failed
}

// DeliveryResult records the outcome of a webhook dispatch, including
// exhausted retries.
type DeliveryResult struct {
	Success        bool           `json:"success"`
	Attempts       int            `json:"attempts"`
	LastStatusCode int            `json:"last_status_code,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	Failure        WebhookFailure `json:"failure,omitempty"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
}
