package models

import (
	"time"
)

// DocumentStatus represents the state of a single document download
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"    // Waiting for a worker to pick it up
	DocumentStatusProcessing DocumentStatus = "processing" // Download/upload in flight
	DocumentStatusAvailable  DocumentStatus = "available"  // Stored in the blob store
	DocumentStatusFailed     DocumentStatus = "failed"     // Exhausted retries
)

// Terminal reports whether the status admits no further transitions
// (failed documents can still be re-opened through the retry door).
func (s DocumentStatus) Terminal() bool {
	return s == DocumentStatusAvailable || s == DocumentStatusFailed
}

// Document is one downloadable file attached to a process.
// Rows are created when a process is first materialized and mutated only by
// the worker that owns the active job for the process.
type Document struct {
	ID            string `json:"id" badgerhold:"unique"` // doc_<uuid>, storage key
	ProcessNumber string `json:"process_number" badgerhold:"index"`
	DocumentID    string `json:"document_id"` // stable external id from the portal
	Name          string `json:"name"`
	MimeType      string `json:"mime_type,omitempty"`
	Size          int64  `json:"size,omitempty"` // bytes, known after download

	// SourceHandle is the opaque pointer the portal client dereferences to
	// fetch the binary (hrefBinario in the portal's document listing).
	SourceHandle string `json:"source_handle,omitempty"`

	// BlobKey is set once the document is uploaded; layout is
	// processes/{processNumber}/documents/{documentId}/{name}.
	BlobKey string `json:"blob_key,omitempty"`

	Status       DocumentStatus `json:"status" badgerhold:"index"`
	ErrorMessage string         `json:"error_message,omitempty"`

	DownloadStartedAt   *time.Time `json:"download_started_at,omitempty"`
	DownloadCompletedAt *time.Time `json:"download_completed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}
