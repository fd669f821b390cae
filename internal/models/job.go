package models

import (
	"time"
)

// JobStatus represents the state of a materialization job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Active reports whether the job still owns its process. At most one active
// job may exist per process at any time.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// Terminal reports whether the job has finished
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is one unit of "materialize this process" work. Created by the
// scheduler on admission; mutated only by the worker that dequeued its ticket.
type Job struct {
	ID            string    `json:"id" badgerhold:"unique"` // job_<uuid>, storage key
	ProcessNumber string    `json:"process_number" badgerhold:"index"`
	WebhookURL    string    `json:"webhook_url,omitempty"`
	Status        JobStatus `json:"status" badgerhold:"index"`

	TotalDocuments     int     `json:"total_documents"`
	CompletedDocuments int     `json:"completed_documents"`
	FailedDocuments    int     `json:"failed_documents"`
	ProgressPercentage float64 `json:"progress_percentage"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	WebhookSent      bool       `json:"webhook_sent"`
	WebhookSentAt    *time.Time `json:"webhook_sent_at,omitempty"`
	WebhookAttempts  int        `json:"webhook_attempts"`
	WebhookLastError string     `json:"webhook_last_error,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// Progress computes the percentage of documents that have reached a terminal
// state. Guarded against zero totals so empty processes report 0, not NaN.
func (j *Job) Progress() float64 {
	total := j.TotalDocuments
	if total < 1 {
		total = 1
	}
	return 100 * float64(j.CompletedDocuments+j.FailedDocuments) / float64(total)
}
