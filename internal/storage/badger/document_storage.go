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

// DocumentStorage implements the DocumentStorage interface for Badger
type DocumentStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDocumentStorage creates a new DocumentStorage instance
func NewDocumentStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DocumentStorage {
	return &DocumentStorage{
		db:     db,
		logger: logger,
	}
}

// SaveDocument inserts or updates a single document record
func (s *DocumentStorage) SaveDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document ID is required")
	}
	if doc.ProcessNumber == "" {
		return fmt.Errorf("document process number is required")
	}

	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	if err := s.db.Store().Upsert(doc.ID, doc); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

// GetDocument loads a document by internal id
func (s *DocumentStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := s.db.Store().Get(id, &doc); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// SeedDocuments inserts all documents inside one Badger transaction so a
// failed admission leaves no partial rows behind.
func (s *DocumentStorage) SeedDocuments(ctx context.Context, docs []*models.Document) error {
	if len(docs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		for _, doc := range docs {
			if doc.ID == "" {
				return fmt.Errorf("document ID is required")
			}
			doc.CreatedAt = now
			doc.UpdatedAt = now
			if err := s.db.Store().TxInsert(txn, doc.ID, doc); err != nil {
				return fmt.Errorf("failed to insert document %s: %w", doc.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to seed documents: %w", err)
	}

	s.logger.Debug().
		Int("count", len(docs)).
		Str("process_number", docs[0].ProcessNumber).
		Msg("Documents seeded")
	return nil
}

// ListDocumentsByProcess returns all documents of a process in creation order
func (s *DocumentStorage) ListDocumentsByProcess(ctx context.Context, processNumber string) ([]*models.Document, error) {
	var docs []models.Document
	query := badgerhold.Where("ProcessNumber").Eq(processNumber).Index("ProcessNumber").SortBy("CreatedAt")
	if err := s.db.Store().Find(&docs, query); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	result := make([]*models.Document, len(docs))
	for i := range docs {
		result[i] = &docs[i]
	}
	return result, nil
}
