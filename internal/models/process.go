package models

import (
	"encoding/json"
	"time"
)

// Process represents one court process as known to this service.
// ProcessNumber is the external identifier assigned by the court portal and
// is the storage key; the record is created on first materialization request
// and refreshed whenever upstream metadata is re-fetched.
type Process struct {
	ProcessNumber string          `json:"process_number" badgerhold:"unique"`
	Court         string          `json:"court,omitempty"`
	Subject       string          `json:"subject,omitempty"`
	Summary       json.RawMessage `json:"summary,omitempty"` // opaque upstream metadata, stored as received
	HasDocuments  bool            `json:"has_documents"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
