package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// DocumentRepository handles document persistence and pipeline lifecycle.
type DocumentRepository interface {
	// Create inserts a new document in pending status.
	// Returns domain.ErrAlreadyExists if a document with the same ID exists.
	Create(ctx context.Context, doc *domain.Document) error

	// Get retrieves a document by ID.
	// Returns domain.ErrNotFound if no matching document exists.
	Get(ctx context.Context, id uuid.UUID) (*domain.Document, error)

	// GetByWorkflowID retrieves a document by its Temporal workflow ID.
	// Returns domain.ErrNotFound if no matching document exists.
	GetByWorkflowID(ctx context.Context, workflowID string) (*domain.Document, error)

	// Update performs a locked read-modify-write on a document using
	// SELECT FOR UPDATE. The provided function receives the current
	// document state; changes made to it are persisted. Returning an
	// error from the function aborts the update.
	Update(ctx context.Context, id uuid.UUID, fn func(*domain.Document) error) error

	// UpdateStatus transitions a document's status, enforcing the pipeline's
	// stage order, and writes a status_change audit entry in the same
	// transaction. errorMsg is stored only when transitioning to failed.
	// Returns domain.ErrConsistency for a disallowed transition.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.DocumentStatus, errorMsg, actorID string) error

	// List retrieves documents matching the filter criteria along with the
	// total matching count for pagination.
	List(ctx context.Context, filter DocumentFilter) ([]*domain.Document, int64, error)

	// SaveExtractionResult upserts the one extraction result of a document.
	// Re-extraction replaces the previous row.
	SaveExtractionResult(ctx context.Context, result *domain.ExtractionResult) error

	// GetExtractionResult retrieves the extraction result for a document.
	// Returns domain.ErrNotFound if the document has none.
	GetExtractionResult(ctx context.Context, documentID uuid.UUID) (*domain.ExtractionResult, error)
}

// DocumentFilter specifies criteria for listing documents.
type DocumentFilter struct {
	// Status filters by one or more document statuses (optional).
	Status []domain.DocumentStatus

	// DocumentTypeID filters by classified document type (optional).
	DocumentTypeID *uuid.UUID

	// CreatedAfter filters to documents created after this timestamp (optional).
	CreatedAfter *time.Time

	// CreatedBefore filters to documents created before this timestamp (optional).
	CreatedBefore *time.Time

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}
