package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// Compile-time interface verification.
var _ DocumentTypeRepository = (*PgDocumentTypeRepository)(nil)

// PgDocumentTypeRepository is a PostgreSQL implementation of DocumentTypeRepository.
type PgDocumentTypeRepository struct {
	db DBTX
}

// NewPgDocumentTypeRepository creates a new PostgreSQL document type repository.
func NewPgDocumentTypeRepository(db DBTX) *PgDocumentTypeRepository {
	return &PgDocumentTypeRepository{db: db}
}

const documentTypeColumns = `id, code, name, extraction_template, classification_hints,
		is_active, created_at, updated_at`

// Create inserts a new document type after validating its extraction template.
func (r *PgDocumentTypeRepository) Create(ctx context.Context, docType *domain.DocumentType) error {
	if docType == nil {
		return domain.NewValidationError("document_type", "document type cannot be nil")
	}
	if docType.Code == "" {
		return domain.NewValidationError("code", "code is required")
	}
	if err := validateExtractionTemplate(docType.ExtractionTemplate); err != nil {
		return err
	}
	if docType.ID == uuid.Nil {
		docType.ID = uuid.New()
	}

	templateJSON, err := json.Marshal(docType.ExtractionTemplate)
	if err != nil {
		return fmt.Errorf("failed to marshal extraction template: %w", err)
	}

	query := `
		INSERT INTO document_types (
			id, code, name, extraction_template, classification_hints,
			is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.Exec(ctx, query,
		docType.ID, docType.Code, docType.Name, templateJSON, docType.ClassificationHints,
		docType.IsActive, docType.CreatedAt, docType.UpdatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("document type", docType.Code)
		}
		return fmt.Errorf("failed to create document type: %w", err)
	}

	return nil
}

// Get retrieves a document type by ID.
func (r *PgDocumentTypeRepository) Get(ctx context.Context, id uuid.UUID) (*domain.DocumentType, error) {
	query := fmt.Sprintf(`SELECT %s FROM document_types WHERE id = $1`, documentTypeColumns)

	docType, err := scanDocumentType(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("document type", id.String())
		}
		return nil, fmt.Errorf("failed to get document type: %w", err)
	}

	return docType, nil
}

// GetByCode retrieves a document type by its unique code.
func (r *PgDocumentTypeRepository) GetByCode(ctx context.Context, code string) (*domain.DocumentType, error) {
	if code == "" {
		return nil, domain.NewValidationError("code", "code is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM document_types WHERE code = $1`, documentTypeColumns)

	docType, err := scanDocumentType(r.db.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("document type", code)
		}
		return nil, fmt.Errorf("failed to get document type by code: %w", err)
	}

	return docType, nil
}

// ListActive returns active document types ordered by code.
func (r *PgDocumentTypeRepository) ListActive(ctx context.Context) ([]domain.DocumentType, error) {
	query := fmt.Sprintf(`SELECT %s FROM document_types WHERE is_active = TRUE ORDER BY code ASC`, documentTypeColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list document types: %w", err)
	}
	defer rows.Close()

	var docTypes []domain.DocumentType
	for rows.Next() {
		docType, err := scanDocumentTypeFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document type: %w", err)
		}
		docTypes = append(docTypes, *docType)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating document types: %w", err)
	}

	return docTypes, nil
}

// Update persists changes to a document type.
func (r *PgDocumentTypeRepository) Update(ctx context.Context, docType *domain.DocumentType) error {
	if docType == nil {
		return domain.NewValidationError("document_type", "document type cannot be nil")
	}
	if err := validateExtractionTemplate(docType.ExtractionTemplate); err != nil {
		return err
	}

	templateJSON, err := json.Marshal(docType.ExtractionTemplate)
	if err != nil {
		return fmt.Errorf("failed to marshal extraction template: %w", err)
	}

	docType.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE document_types SET
			code = $1,
			name = $2,
			extraction_template = $3,
			classification_hints = $4,
			is_active = $5,
			updated_at = $6
		WHERE id = $7`

	result, err := r.db.Exec(ctx, query,
		docType.Code, docType.Name, templateJSON, docType.ClassificationHints,
		docType.IsActive, docType.UpdatedAt, docType.ID,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("document type", docType.Code)
		}
		return fmt.Errorf("failed to update document type: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("document type", docType.ID.String())
	}

	return nil
}

type documentTypeScanDest struct {
	docType      domain.DocumentType
	templateJSON []byte
}

func (d *documentTypeScanDest) destinations() []interface{} {
	return []interface{}{
		&d.docType.ID, &d.docType.Code, &d.docType.Name, &d.templateJSON, &d.docType.ClassificationHints,
		&d.docType.IsActive, &d.docType.CreatedAt, &d.docType.UpdatedAt,
	}
}

func (d *documentTypeScanDest) finalize() (*domain.DocumentType, error) {
	if len(d.templateJSON) > 0 {
		if err := json.Unmarshal(d.templateJSON, &d.docType.ExtractionTemplate); err != nil {
			return nil, fmt.Errorf("failed to unmarshal extraction template: %w", err)
		}
	}
	return &d.docType, nil
}

func scanDocumentType(row pgx.Row) (*domain.DocumentType, error) {
	var dest documentTypeScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

func scanDocumentTypeFromRows(rows pgx.Rows) (*domain.DocumentType, error) {
	var dest documentTypeScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}
