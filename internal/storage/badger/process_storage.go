package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/acta/internal/interfaces"
	"github.com/ternarybob/acta/internal/models"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// ProcessStorage implements the ProcessStorage interface for Badger
type ProcessStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewProcessStorage creates a new ProcessStorage instance
func NewProcessStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProcessStorage {
	return &ProcessStorage{
		db:     db,
		logger: logger,
	}
}

// SaveProcess inserts or refreshes a process record keyed by its number
func (s *ProcessStorage) SaveProcess(ctx context.Context, process *models.Process) error {
	if process.ProcessNumber == "" {
		return fmt.Errorf("process number is required")
	}

	now := time.Now().UTC()
	if process.CreatedAt.IsZero() {
		process.CreatedAt = now
	}
	process.UpdatedAt = now

	if err := s.db.Store().Upsert(process.ProcessNumber, process); err != nil {
		return fmt.Errorf("failed to save process: %w", err)
	}
	return nil
}

// GetProcess loads a process by number
func (s *ProcessStorage) GetProcess(ctx context.Context, processNumber string) (*models.Process, error) {
	var process models.Process
	if err := s.db.Store().Get(processNumber, &process); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get process: %w", err)
	}
	return &process, nil
}
