package interfaces

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/acta/internal/models"
)

// ErrNotFound is returned by storage lookups when no record matches
var ErrNotFound = errors.New("not found")

// ActiveJobExistsError is returned by JobStorage.InsertActive when the
// process already has a pending or processing job. It carries the winner so
// concurrent admission losers can return it without a second read.
type ActiveJobExistsError struct {
	Existing *models.Job
}

func (e *ActiveJobExistsError) Error() string {
	return fmt.Sprintf("active job already exists for process %s: %s", e.Existing.ProcessNumber, e.Existing.ID)
}

// ProcessStorage persists court process records
type ProcessStorage interface {
	SaveProcess(ctx context.Context, process *models.Process) error
	GetProcess(ctx context.Context, processNumber string) (*models.Process, error)
}

// DocumentStorage persists per-process document records
type DocumentStorage interface {
	SaveDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	// SeedDocuments inserts the given documents in one transaction. Used at
	// admission so a failed seeding leaves no partial rows behind.
	SeedDocuments(ctx context.Context, docs []*models.Document) error
	ListDocumentsByProcess(ctx context.Context, processNumber string) ([]*models.Document, error)
}

// JobStorage persists materialization jobs
type JobStorage interface {
	// InsertActive inserts a new job, enforcing at most one active job per
	// process. Returns *ActiveJobExistsError when another request won.
	InsertActive(ctx context.Context, job *models.Job) error
	UpdateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	GetActiveJobByProcess(ctx context.Context, processNumber string) (*models.Job, error)
	GetLatestJobByProcess(ctx context.Context, processNumber string) (*models.Job, error)
	// ListStaleProcessing returns jobs stuck in processing whose last
	// lifecycle timestamp is older than the cutoff. Consumed by the sweeper.
	ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]*models.Job, error)
}

// StorageManager provides access to all storage interfaces
type StorageManager interface {
	ProcessStorage() ProcessStorage
	DocumentStorage() DocumentStorage
	JobStorage() JobStorage
	Close() error
}
