package badger

import (
	"context"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/acta/internal/interfaces"
	"github.com/ternarybob/acta/internal/models"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// InsertActive inserts a new job after checking, inside the same Badger
// transaction, that no other active job exists for the process. Concurrent
// admissions race on this transaction; the loser gets the winner's job back
// in an ActiveJobExistsError.
func (s *JobStorage) InsertActive(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if !job.Status.Active() {
		return fmt.Errorf("new job must be in an active status, got %s", job.Status)
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	insert := func() error {
		return s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
			var existing []models.Job
			query := badgerhold.Where("ProcessNumber").Eq(job.ProcessNumber).
				And("Status").In(models.JobStatusPending, models.JobStatusProcessing)
			if err := s.db.Store().TxFind(txn, &existing, query); err != nil {
				return fmt.Errorf("failed to check active jobs: %w", err)
			}
			if len(existing) > 0 {
				return &interfaces.ActiveJobExistsError{Existing: &existing[0]}
			}
			return s.db.Store().TxInsert(txn, job.ID, job)
		})
	}

	// Badger detects racing admissions as transaction conflicts; re-running
	// the check-then-insert resolves each race to exactly one winner.
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = insert()
		if err == nil || err != badgerdb.ErrConflict {
			break
		}
	}
	if err != nil {
		return err
	}

	s.logger.Debug().
		Str("job_id", job.ID).
		Str("process_number", job.ProcessNumber).
		Msg("Job admitted")
	return nil
}

// UpdateJob persists the current job state
func (s *JobStorage) UpdateJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

// GetJob loads a job by id
func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// GetActiveJobByProcess returns the pending or processing job for a process,
// or ErrNotFound when none exists.
func (s *JobStorage) GetActiveJobByProcess(ctx context.Context, processNumber string) (*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("ProcessNumber").Eq(processNumber).
		And("Status").In(models.JobStatusPending, models.JobStatusProcessing)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to query active jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return &jobs[0], nil
}

// GetLatestJobByProcess returns the most recently created job for a process,
// or ErrNotFound when the process has never been materialized.
func (s *JobStorage) GetLatestJobByProcess(ctx context.Context, processNumber string) (*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("ProcessNumber").Eq(processNumber).
		Index("ProcessNumber").SortBy("CreatedAt").Reverse().Limit(1)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return &jobs[0], nil
}

// ListStaleProcessing returns processing jobs whose start timestamp is older
// than the cutoff. BadgerHold has no server-side time comparison worth
// trusting here, so the filter runs over the status index result set.
func (s *JobStorage) ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("Status").Eq(models.JobStatusProcessing).Index("Status")
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to query processing jobs: %w", err)
	}

	var stale []*models.Job
	for i := range jobs {
		job := &jobs[i]
		ref := job.CreatedAt
		if job.StartedAt != nil {
			ref = *job.StartedAt
		}
		if ref.Before(olderThan) {
			stale = append(stale, job)
		}
	}
	return stale, nil
}
