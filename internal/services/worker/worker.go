package worker

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/acta/internal/common"
	"github.com/ternarybob/acta/internal/interfaces"
	"github.com/ternarybob/acta/internal/models"
	"github.com/ternarybob/acta/internal/services/status"
	"github.com/ternarybob/arbor"
)

// maxErrorLength bounds persisted error messages
const maxErrorLength = 500

// Service drives one job from pending to a terminal state. One ticket, one
// job: the pending guard in HandleTicket makes redelivered tickets no-ops, so
// at-least-once broker semantics are safe.
type Service struct {
	store      interfaces.StorageManager
	portal     interfaces.PortalClient
	blobs      interfaces.BlobStore
	dispatcher interfaces.WebhookDispatcher
	statusMgr  *status.Manager

	batchSize   int
	maxRetries  int
	backoffBase time.Duration
	presignTTL  time.Duration

	logger arbor.ILogger
}

// NewService creates a document worker
func NewService(
	store interfaces.StorageManager,
	portal interfaces.PortalClient,
	blobs interfaces.BlobStore,
	dispatcher interfaces.WebhookDispatcher,
	statusMgr *status.Manager,
	cfg *common.WorkerConfig,
	presignTTL time.Duration,
	logger arbor.ILogger,
) *Service {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &Service{
		store:       store,
		portal:      portal,
		blobs:       blobs,
		dispatcher:  dispatcher,
		statusMgr:   statusMgr,
		batchSize:   batchSize,
		maxRetries:  maxRetries,
		backoffBase: common.Duration(cfg.RetryBackoff, 2*time.Second),
		presignTTL:  presignTTL,
		logger:      logger,
	}
}

// HandleTicket processes one job ticket. A nil return acknowledges the
// ticket. Metadata store failures return an error so the unacknowledged
// ticket is redelivered and the pending guard decides what happens next.
func (s *Service) HandleTicket(ctx context.Context, ticket *interfaces.Ticket) error {
	job, err := s.store.JobStorage().GetJob(ctx, ticket.JobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			s.logger.Warn().
				Str("job_id", ticket.JobID).
				Msg("Ticket references unknown job, dropping")
			return nil
		}
		return err
	}

	// Idempotent guard: a redelivered ticket for a job another consumer
	// already picked up is acknowledged and dropped.
	if job.Status != models.JobStatusPending {
		s.logger.Info().
			Str("job_id", job.ID).
			Str("status", string(job.Status)).
			Msg("Job is not pending, skipping ticket")
		return nil
	}

	if err := s.statusMgr.CanTransitionJob(job.Status, models.JobStatusProcessing); err != nil {
		return err
	}
	now := time.Now().UTC()
	job.Status = models.JobStatusProcessing
	job.StartedAt = &now
	if err := s.store.JobStorage().UpdateJob(ctx, job); err != nil {
		return err
	}

	docs, err := s.store.DocumentStorage().ListDocumentsByProcess(ctx, job.ProcessNumber)
	if err != nil {
		return err
	}

	job.TotalDocuments = len(docs)
	s.tallyCounters(job, docs)
	if err := s.store.JobStorage().UpdateJob(ctx, job); err != nil {
		return err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("process_number", job.ProcessNumber).
		Int("documents", len(docs)).
		Msg("Job started")

	cancelled, err := s.processBatches(ctx, job, docs)
	if err != nil {
		return err
	}

	if cancelled {
		now := time.Now().UTC()
		job.CompletedAt = &now
		s.tallyCounters(job, docs)
		if err := s.store.JobStorage().UpdateJob(ctx, job); err != nil {
			return err
		}
		s.logger.Info().
			Str("job_id", job.ID).
			Msg("Job cancelled, no webhook sent")
		return nil
	}

	if err := s.finishJob(ctx, job, docs); err != nil {
		return err
	}

	if job.WebhookURL != "" {
		if err := s.notify(ctx, job, docs); err != nil {
			return err
		}
	}

	return nil
}

// processBatches works through the documents in serial batches of batchSize,
// documents within a batch in parallel. After each batch the job is re-read
// so an external cancellation stops further scheduling; the check runs before
// the counter write so the cancelled status is never clobbered. Returns
// whether the job was cancelled.
func (s *Service) processBatches(ctx context.Context, job *models.Job, docs []*models.Document) (bool, error) {
	for start := 0; start < len(docs); start += s.batchSize {
		end := start + s.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		var wg sync.WaitGroup
		errs := make([]error, len(batch))
		for i, doc := range batch {
			wg.Add(1)
			go func(i int, doc *models.Document) {
				defer wg.Done()
				errs[i] = s.processDocument(ctx, job, doc)
			}(i, doc)
		}
		wg.Wait()

		// Storage errors abort the job; download failures are already
		// recorded on the documents themselves.
		for _, err := range errs {
			if err != nil {
				return false, err
			}
		}

		current, err := s.store.JobStorage().GetJob(ctx, job.ID)
		if err != nil {
			return false, err
		}
		if current.Status == models.JobStatusCancelled {
			job.Status = models.JobStatusCancelled
			return true, nil
		}

		s.tallyCounters(job, docs)
		if err := s.store.JobStorage().UpdateJob(ctx, job); err != nil {
			return false, err
		}
	}

	return false, nil
}

// processDocument attempts one document up to maxRetries times. Metadata
// store failures and context cancellation return an error; exhausted
// downloads end in a failed document, not a failed job.
func (s *Service) processDocument(ctx context.Context, job *models.Job, doc *models.Document) error {
	if doc.Status == models.DocumentStatusAvailable {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		// A cancelled context is shutdown, not a download failure: no state
		// is committed, so the unacknowledged ticket is redelivered and the
		// sweeper resumes the job.
		if err := ctx.Err(); err != nil {
			return err
		}

		// Backoff before attempt n (n >= 2): base * 2^(n-2)
		if attempt > 1 {
			wait := s.backoffBase * (1 << (attempt - 2))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		if err := s.markProcessing(ctx, doc); err != nil {
			return err
		}

		err := s.materialize(ctx, job, doc)
		if err == nil {
			s.logger.Info().
				Str("job_id", job.ID).
				Str("document_id", doc.DocumentID).
				Int("attempt", attempt).
				Msg("Document available")
			return nil
		}

		// Metadata writes must surface; everything else is retried
		var storageErr *storageWriteError
		if errors.As(err, &storageErr) {
			return storageErr.err
		}

		// A fetch or upload interrupted by shutdown surfaces the same way
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		s.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Str("document_id", doc.DocumentID).
			Int("attempt", attempt).
			Msg("Document attempt failed")
	}

	return s.failDocument(ctx, job, doc, s.maxRetries, lastErr)
}

// markProcessing moves a document into processing and stamps the attempt
// start. Documents seeded directly in processing only get the stamp.
func (s *Service) markProcessing(ctx context.Context, doc *models.Document) error {
	if doc.Status != models.DocumentStatusProcessing {
		if err := s.statusMgr.CanTransitionDocument(doc.Status, models.DocumentStatusProcessing); err != nil {
			return err
		}
		doc.Status = models.DocumentStatusProcessing
	}
	now := time.Now().UTC()
	doc.DownloadStartedAt = &now
	return s.store.DocumentStorage().SaveDocument(ctx, doc)
}

// storageWriteError marks a metadata/blob-adjacent failure that must abort
// the job instead of being retried as a download failure.
type storageWriteError struct{ err error }

func (e *storageWriteError) Error() string { return e.err.Error() }
func (e *storageWriteError) Unwrap() error { return e.err }

// materialize performs one fetch-and-upload attempt for a document
func (s *Service) materialize(ctx context.Context, job *models.Job, doc *models.Document) error {
	file, err := s.portal.FetchDocument(ctx, doc.SourceHandle)
	if err != nil {
		return err
	}

	key := blobKey(job.ProcessNumber, doc.DocumentID, doc.Name)
	contentType := file.MimeType
	if contentType == "" {
		contentType = doc.MimeType
	}
	if err := s.blobs.Upload(ctx, key, contentType, file.Content); err != nil {
		return err
	}

	if err := s.statusMgr.CanTransitionDocument(doc.Status, models.DocumentStatusAvailable); err != nil {
		return &storageWriteError{err: err}
	}

	now := time.Now().UTC()
	doc.Status = models.DocumentStatusAvailable
	doc.BlobKey = key
	doc.Size = int64(len(file.Content))
	if file.MimeType != "" {
		doc.MimeType = file.MimeType
	}
	doc.ErrorMessage = ""
	doc.DownloadCompletedAt = &now

	if err := s.store.DocumentStorage().SaveDocument(ctx, doc); err != nil {
		return &storageWriteError{err: err}
	}
	return nil
}

// failDocument commits the terminal failed state after retries are exhausted.
// Forcing failed from any non-terminal state is the one allowed bypass of the
// transition table; it is logged when taken.
func (s *Service) failDocument(ctx context.Context, job *models.Job, doc *models.Document, attempts int, cause error) error {
	if err := s.statusMgr.CanTransitionDocument(doc.Status, models.DocumentStatusFailed); err != nil {
		if doc.Status.Terminal() {
			return nil
		}
		s.logger.Warn().
			Str("job_id", job.ID).
			Str("document_id", doc.DocumentID).
			Str("from", string(doc.Status)).
			Msg("Forcing document to failed outside the transition table")
	}

	doc.Status = models.DocumentStatusFailed
	doc.ErrorMessage = truncateError(fmt.Sprintf("failed after %d attempts: %v", attempts, cause))
	if err := s.store.DocumentStorage().SaveDocument(ctx, doc); err != nil {
		return err
	}

	s.logger.Error().
		Str("job_id", job.ID).
		Str("document_id", doc.DocumentID).
		Str("error", doc.ErrorMessage).
		Msg("Document failed")
	return nil
}

// finishJob commits the job's terminal status once every document is terminal
func (s *Service) finishJob(ctx context.Context, job *models.Job, docs []*models.Document) error {
	s.tallyCounters(job, docs)

	terminal := models.JobStatusCompleted
	if job.FailedDocuments > 0 {
		terminal = models.JobStatusFailed
	}
	if err := s.statusMgr.CanTransitionJob(job.Status, terminal); err != nil {
		return err
	}

	now := time.Now().UTC()
	job.Status = terminal
	job.CompletedAt = &now
	if err := s.store.JobStorage().UpdateJob(ctx, job); err != nil {
		return err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(job.Status)).
		Int("completed", job.CompletedDocuments).
		Int("failed", job.FailedDocuments).
		Msg("Job finished")
	return nil
}

// notify delivers the terminal-state webhook and records the outcome on the
// job. Delivery failure never changes the job's terminal status.
func (s *Service) notify(ctx context.Context, job *models.Job, docs []*models.Document) error {
	payload := &models.WebhookPayload{
		ProcessNumber:      job.ProcessNumber,
		JobID:              job.ID,
		Status:             string(job.Status),
		TotalDocuments:     job.TotalDocuments,
		CompletedDocuments: job.CompletedDocuments,
		FailedDocuments:    job.FailedDocuments,
		Documents:          make([]models.WebhookDocument, 0, len(docs)),
	}
	if job.CompletedAt != nil {
		payload.CompletedAt = *job.CompletedAt
	}

	for _, doc := range docs {
		entry := models.WebhookDocument{
			ID:       doc.DocumentID,
			UUID:     doc.ID,
			Name:     doc.Name,
			MimeType: doc.MimeType,
			Size:     doc.Size,
			Status:   string(doc.Status),
		}
		switch doc.Status {
		case models.DocumentStatusAvailable:
			url, err := s.blobs.PresignGet(ctx, doc.BlobKey, s.presignTTL)
			if err != nil {
				s.logger.Warn().
					Err(err).
					Str("document_id", doc.DocumentID).
					Msg("Failed to presign document for webhook payload")
			} else {
				entry.DownloadURL = url
			}
		case models.DocumentStatusFailed:
			entry.ErrorMessage = doc.ErrorMessage
		}
		payload.Documents = append(payload.Documents, entry)
	}

	result := s.dispatcher.Deliver(ctx, job.WebhookURL, payload)

	job.WebhookSent = result.Success
	job.WebhookSentAt = result.SentAt
	job.WebhookAttempts = result.Attempts
	job.WebhookLastError = truncateError(result.LastError)
	return s.store.JobStorage().UpdateJob(ctx, job)
}

// tallyCounters recomputes the job's document counters from the in-memory
// document set. Counters only ever grow until the job is terminal.
func (s *Service) tallyCounters(job *models.Job, docs []*models.Document) {
	completed, failed := 0, 0
	for _, doc := range docs {
		switch doc.Status {
		case models.DocumentStatusAvailable:
			completed++
		case models.DocumentStatusFailed:
			failed++
		}
	}
	job.CompletedDocuments = completed
	job.FailedDocuments = failed
	job.ProgressPercentage = job.Progress()
}

// blobKey builds the storage key for a document binary
func blobKey(processNumber, documentID, name string) string {
	return path.Join("processes", processNumber, "documents", documentID, sanitizeName(name))
}

// sanitizeName keeps object keys flat and predictable
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.TrimSpace(name)
	if name == "" {
		name = "document"
	}
	return name
}

// truncateError bounds persisted error text
func truncateError(msg string) string {
	if len(msg) <= maxErrorLength {
		return msg
	}
	return msg[:maxErrorLength]
}
