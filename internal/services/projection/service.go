package projection

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/acta/internal/interfaces"
	"github.com/ternarybob/acta/internal/models"
	"github.com/ternarybob/arbor"
)

// Service composes the read-only process status view. It performs no writes
// and no upstream calls; download URLs are re-signed on every read.
type Service struct {
	store      interfaces.StorageManager
	blobs      interfaces.BlobStore
	presignTTL time.Duration
	logger     arbor.ILogger
}

// NewService creates a status projection service
func NewService(store interfaces.StorageManager, blobs interfaces.BlobStore, presignTTL time.Duration, logger arbor.ILogger) *Service {
	if presignTTL <= 0 {
		presignTTL = time.Hour
	}
	return &Service{
		store:      store,
		blobs:      blobs,
		presignTTL: presignTTL,
		logger:     logger,
	}
}

// GetProcessStatus assembles the status projection for one process. Returns
// interfaces.ErrNotFound when the process is unknown.
func (s *Service) GetProcessStatus(ctx context.Context, processNumber string) (*models.ProcessStatus, error) {
	if _, err := s.store.ProcessStorage().GetProcess(ctx, processNumber); err != nil {
		return nil, err
	}

	docs, err := s.store.DocumentStorage().ListDocumentsByProcess(ctx, processNumber)
	if err != nil {
		return nil, err
	}

	ps := &models.ProcessStatus{
		ProcessNumber:  processNumber,
		TotalDocuments: len(docs),
		Documents:      make([]models.WebhookDocument, 0, len(docs)),
	}

	for _, doc := range docs {
		switch doc.Status {
		case models.DocumentStatusPending:
			ps.PendingDocuments++
		case models.DocumentStatusProcessing:
			ps.ProcessingDocuments++
		case models.DocumentStatusAvailable:
			ps.CompletedDocuments++
		case models.DocumentStatusFailed:
			ps.FailedDocuments++
		}

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
			if doc.BlobKey != "" {
				url, err := s.blobs.PresignGet(ctx, doc.BlobKey, s.presignTTL)
				if err != nil {
					s.logger.Warn().
						Err(err).
						Str("document_id", doc.DocumentID).
						Msg("Failed to presign document for status projection")
				} else {
					entry.DownloadURL = url
				}
			}
		case models.DocumentStatusFailed:
			entry.ErrorMessage = doc.ErrorMessage
		}
		ps.Documents = append(ps.Documents, entry)
	}

	terminal := ps.CompletedDocuments + ps.FailedDocuments
	total := ps.TotalDocuments
	if total < 1 {
		total = 1
	}
	ps.ProgressPercentage = 100 * float64(terminal) / float64(total)

	job, err := s.store.JobStorage().GetLatestJobByProcess(ctx, processNumber)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return nil, err
	}
	if job != nil {
		ps.JobID = job.ID
		ps.WebhookURL = job.WebhookURL
		ps.WebhookSent = job.WebhookSent
		ps.StartedAt = job.StartedAt
		ps.CompletedAt = job.CompletedAt
	}

	ps.OverallStatus = overallStatus(ps, job)
	return ps, nil
}

// overallStatus derives the aggregate state:
// completed when everything is available, failed when everything failed,
// processing while anything (document or job) is still moving, else pending.
func overallStatus(ps *models.ProcessStatus, job *models.Job) models.OverallStatus {
	switch {
	case ps.TotalDocuments > 0 && ps.CompletedDocuments == ps.TotalDocuments:
		return models.OverallStatusCompleted
	case ps.TotalDocuments > 0 && ps.FailedDocuments == ps.TotalDocuments:
		return models.OverallStatusFailed
	case ps.ProcessingDocuments > 0:
		return models.OverallStatusProcessing
	case job != nil && job.Status == models.JobStatusProcessing:
		return models.OverallStatusProcessing
	default:
		return models.OverallStatusPending
	}
}
