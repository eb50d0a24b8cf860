package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// DocumentTypeRepository manages the document type catalog. Extraction
// templates are validated against an embedded JSON Schema on every write.
type DocumentTypeRepository interface {
	// Create inserts a new document type.
	// Returns domain.ErrAlreadyExists when the code is taken and
	// domain.ErrInvalidInput when the extraction template is malformed.
	Create(ctx context.Context, docType *domain.DocumentType) error

	// Get retrieves a document type by ID.
	Get(ctx context.Context, id uuid.UUID) (*domain.DocumentType, error)

	// GetByCode retrieves a document type by its unique code.
	GetByCode(ctx context.Context, code string) (*domain.DocumentType, error)

	// ListActive returns active document types ordered by code. These are
	// the classification candidates.
	ListActive(ctx context.Context) ([]domain.DocumentType, error)

	// Update persists changes to a document type, re-validating the
	// extraction template.
	Update(ctx context.Context, docType *domain.DocumentType) error
}
