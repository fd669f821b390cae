package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/acta/internal/common"
	"github.com/ternarybob/acta/internal/interfaces"
	"github.com/ternarybob/acta/internal/models"
	"github.com/ternarybob/acta/internal/services/status"
	"github.com/ternarybob/arbor"
)

// Decision is the outcome of one admission request
type Decision string

const (
	DecisionReusedActive   Decision = "REUSED_ACTIVE"
	DecisionReusedComplete Decision = "REUSED_COMPLETE"
	DecisionAdmitted       Decision = "ADMITTED"
)

// Result is what the scheduler hands back to the ingress handler. Job is nil
// for REUSED_COMPLETE.
type Result struct {
	Decision Decision
	Job      *models.Job
	Process  *models.Process
}

// Service decides, per materialization request, whether to admit a new job,
// hand back the active one, or short-circuit to the cached complete result.
// It returns before any download begins.
type Service struct {
	store     interfaces.StorageManager
	queue     interfaces.TicketQueue
	portal    interfaces.PortalClient
	statusMgr *status.Manager
	logger    arbor.ILogger
}

// NewService creates a scheduler service
func NewService(store interfaces.StorageManager, queue interfaces.TicketQueue, portal interfaces.PortalClient, statusMgr *status.Manager, logger arbor.ILogger) *Service {
	return &Service{
		store:     store,
		queue:     queue,
		portal:    portal,
		statusMgr: statusMgr,
		logger:    logger,
	}
}

// Schedule runs the three-way admission decision for a process. webhookURL is
// optional; when set it is validated before anything else is touched.
func (s *Service) Schedule(ctx context.Context, processNumber, webhookURL string) (*Result, error) {
	if webhookURL != "" {
		if err := s.statusMgr.ValidateWebhookURL(webhookURL); err != nil {
			return nil, err
		}
	}

	// 1. An active job owns the process; hand it back
	if job, err := s.store.JobStorage().GetActiveJobByProcess(ctx, processNumber); err == nil {
		s.logger.Info().
			Str("process_number", processNumber).
			Str("job_id", job.ID).
			Msg("Reusing active job")
		process, _ := s.store.ProcessStorage().GetProcess(ctx, processNumber)
		return &Result{Decision: DecisionReusedActive, Job: job, Process: process}, nil
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, err
	}

	// 2. Everything already downloaded; nothing to admit
	process, err := s.store.ProcessStorage().GetProcess(ctx, processNumber)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return nil, err
	}
	if process != nil && process.HasDocuments {
		docs, err := s.store.DocumentStorage().ListDocumentsByProcess(ctx, processNumber)
		if err != nil {
			return nil, err
		}
		if len(docs) > 0 && allAvailable(docs) {
			s.logger.Info().
				Str("process_number", processNumber).
				Int("documents", len(docs)).
				Msg("Reusing complete result")
			return &Result{Decision: DecisionReusedComplete, Process: process}, nil
		}
	}

	// 3. Admit a new job
	process, refs, err := s.ensureProcess(ctx, processNumber)
	if err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:            common.NewJobID(),
		ProcessNumber: processNumber,
		WebhookURL:    webhookURL,
		Status:        models.JobStatusPending,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.store.JobStorage().InsertActive(ctx, job); err != nil {
		// A concurrent request won the insert; return its job
		var exists *interfaces.ActiveJobExistsError
		if errors.As(err, &exists) {
			s.logger.Info().
				Str("process_number", processNumber).
				Str("job_id", exists.Existing.ID).
				Msg("Lost admission race, reusing winner's job")
			return &Result{Decision: DecisionReusedActive, Job: exists.Existing, Process: process}, nil
		}
		return nil, err
	}

	if err := s.seedDocuments(ctx, process, refs, webhookURL); err != nil {
		s.failAdmission(ctx, job, err)
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, interfaces.Ticket{JobID: job.ID}); err != nil {
		s.failAdmission(ctx, job, err)
		return nil, err
	}

	s.logger.Info().
		Str("process_number", processNumber).
		Str("job_id", job.ID).
		Msg("Job admitted")
	return &Result{Decision: DecisionAdmitted, Job: job, Process: process}, nil
}

// EnsureProcess returns the stored process record, fetching and persisting
// upstream metadata when the process is unknown.
func (s *Service) EnsureProcess(ctx context.Context, processNumber string) (*models.Process, error) {
	process, _, err := s.ensureProcess(ctx, processNumber)
	return process, err
}

// ensureProcess loads or fetches the process and returns the upstream
// document refs when a fetch happened (nil for an already-known process).
func (s *Service) ensureProcess(ctx context.Context, processNumber string) (*models.Process, []interfaces.PortalDocumentRef, error) {
	process, err := s.store.ProcessStorage().GetProcess(ctx, processNumber)
	if err == nil {
		return process, nil, nil
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, nil, err
	}

	upstream, err := s.portal.GetProcess(ctx, processNumber)
	if err != nil {
		return nil, nil, err
	}

	process = &models.Process{
		ProcessNumber: processNumber,
		Court:         upstream.Court,
		Subject:       upstream.Subject,
		Summary:       upstream.Summary,
		HasDocuments:  len(upstream.Documents) > 0,
	}
	if err := s.store.ProcessStorage().SaveProcess(ctx, process); err != nil {
		return nil, nil, err
	}

	return process, upstream.Documents, nil
}

// seedDocuments creates document rows for a process that has none yet.
// Initial status depends on the delivery mode: webhook consumers see PENDING
// until the worker begins each document, pollers see PROCESSING immediately.
func (s *Service) seedDocuments(ctx context.Context, process *models.Process, refs []interfaces.PortalDocumentRef, webhookURL string) error {
	existing, err := s.store.DocumentStorage().ListDocumentsByProcess(ctx, process.ProcessNumber)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	if len(refs) == 0 {
		upstream, err := s.portal.GetProcess(ctx, process.ProcessNumber)
		if err != nil {
			return err
		}
		refs = upstream.Documents
	}

	initial := models.DocumentStatusProcessing
	if webhookURL != "" {
		initial = models.DocumentStatusPending
	}

	docs := make([]*models.Document, 0, len(refs))
	for _, ref := range refs {
		docs = append(docs, &models.Document{
			ID:            common.NewDocumentID(),
			ProcessNumber: process.ProcessNumber,
			DocumentID:    ref.DocumentID,
			Name:          ref.Name,
			MimeType:      ref.MimeType,
			Size:          ref.Size,
			SourceHandle:  ref.SourceHandle,
			Status:        initial,
		})
	}

	if len(docs) == 0 {
		return nil
	}
	return s.store.DocumentStorage().SeedDocuments(ctx, docs)
}

// failAdmission marks a half-admitted job failed so it does not hold the
// process's active slot with no ticket behind it. Best effort; the original
// error is what the caller sees.
func (s *Service) failAdmission(ctx context.Context, job *models.Job, cause error) {
	job.Status = models.JobStatusFailed
	job.ErrorMessage = cause.Error()
	now := time.Now().UTC()
	job.CompletedAt = &now
	if err := s.store.JobStorage().UpdateJob(ctx, job); err != nil {
		s.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to mark half-admitted job failed")
	}
}

func allAvailable(docs []*models.Document) bool {
	for _, doc := range docs {
		if doc.Status != models.DocumentStatusAvailable {
			return false
		}
	}
	return true
}
