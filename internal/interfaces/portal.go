package interfaces

import (
	"context"
	"encoding/json"
	"fmt"
)

// PortalProcess is the upstream metadata for one court process
type PortalProcess struct {
	ProcessNumber string              `json:"process_number"`
	Court         string              `json:"court"`
	Subject       string              `json:"subject"`
	Summary       json.RawMessage     `json:"summary"` // raw upstream body, stored opaquely
	Documents     []PortalDocumentRef `json:"documents"`
}

// PortalDocumentRef is one entry in the portal's document listing
type PortalDocumentRef struct {
	DocumentID   string `json:"document_id"`
	Name         string `json:"name"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	SourceHandle string `json:"source_handle"` // binary href, dereferenced by FetchDocument
}

// PortalFile is the downloaded binary plus the metadata that came with it
type PortalFile struct {
	Content  []byte
	MimeType string
}

// PortalError carries the HTTP status of a failed portal call so error
// messages stay sharp after retries are exhausted.
type PortalError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *PortalError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("portal %s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("portal %s: %v", e.Op, e.Err)
}

func (e *PortalError) Unwrap() error {
	return e.Err
}

// PortalClient fetches process metadata and document binaries from the
// upstream court portal.
type PortalClient interface {
	GetProcess(ctx context.Context, processNumber string) (*PortalProcess, error)
	FetchDocument(ctx context.Context, sourceHandle string) (*PortalFile, error)
}
