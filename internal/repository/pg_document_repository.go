package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// Compile-time interface verification.
var _ DocumentRepository = (*PgDocumentRepository)(nil)

// PgDocumentRepository is a PostgreSQL implementation of DocumentRepository.
type PgDocumentRepository struct {
	db DBTX
}

// NewPgDocumentRepository creates a new PostgreSQL document repository.
func NewPgDocumentRepository(db DBTX) *PgDocumentRepository {
	return &PgDocumentRepository{db: db}
}

const documentColumns = `id, original_filename, mime_type, file_size_bytes, storage_key,
		status, error_message, document_type_id, classification_confidence, language,
		selected_engine_id, linked_claim_id, workflow_id, preprocessing_metadata,
		created_at, updated_at`

// Create inserts a new document.
func (r *PgDocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	if doc == nil {
		return domain.NewValidationError("document", "document cannot be nil")
	}
	if doc.ID == uuid.Nil {
		return domain.NewValidationError("id", "document ID is required")
	}
	if doc.OriginalFilename == "" {
		return domain.NewValidationError("original_filename", "filename is required")
	}
	if doc.StorageKey == "" {
		return domain.NewValidationError("storage_key", "storage key is required")
	}

	metadataJSON, err := marshalPreprocessingMetadata(doc.PreprocessingMetadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO documents (
			id, original_filename, mime_type, file_size_bytes, storage_key,
			status, error_message, document_type_id, classification_confidence, language,
			selected_engine_id, linked_claim_id, workflow_id, preprocessing_metadata,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16
		)`

	_, err = r.db.Exec(ctx, query,
		doc.ID, doc.OriginalFilename, doc.MimeType, doc.FileSizeBytes, doc.StorageKey,
		doc.Status, doc.ErrorMessage, doc.DocumentTypeID, doc.ClassificationConfidence, doc.Language,
		doc.SelectedEngineID, doc.LinkedClaimID, doc.WorkflowID, metadataJSON,
		doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("document", doc.ID.String())
		}
		return fmt.Errorf("failed to create document: %w", err)
	}

	return nil
}

// Get retrieves a document by ID.
func (r *PgDocumentRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE id = $1`, documentColumns)

	row := r.db.QueryRow(ctx, query, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("document", id.String())
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return doc, nil
}

// GetByWorkflowID retrieves a document by its Temporal workflow ID.
func (r *PgDocumentRepository) GetByWorkflowID(ctx context.Context, workflowID string) (*domain.Document, error) {
	if workflowID == "" {
		return nil, domain.NewValidationError("workflow_id", "workflow ID is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM documents WHERE workflow_id = $1`, documentColumns)

	row := r.db.QueryRow(ctx, query, workflowID)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("document", workflowID)
		}
		return nil, fmt.Errorf("failed to get document by workflow ID: %w", err)
	}

	return doc, nil
}

// Update performs a locked read-modify-write using SELECT FOR UPDATE.
// When the underlying DBTX is a pool, the lock and write are wrapped in an
// explicit transaction; inside an existing transaction it executes directly.
func (r *PgDocumentRepository) Update(ctx context.Context, id uuid.UUID, fn func(*domain.Document) error) error {
	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for update: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgDocumentRepository{db: tx}
		if err := txRepo.updateInTx(ctx, id, fn); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	return r.updateInTx(ctx, id, fn)
}

func (r *PgDocumentRepository) updateInTx(ctx context.Context, id uuid.UUID, fn func(*domain.Document) error) error {
	selectQuery := fmt.Sprintf(`SELECT %s FROM documents WHERE id = $1 FOR UPDATE`, documentColumns)

	rows, err := r.db.Query(ctx, selectQuery, id)
	if err != nil {
		return fmt.Errorf("failed to query document for update: %w", err)
	}

	doc, err := scanDocumentRows(rows)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("document", id.String())
		}
		return fmt.Errorf("failed to scan document: %w", err)
	}

	if err := fn(doc); err != nil {
		return err
	}

	doc.UpdatedAt = time.Now().UTC()

	metadataJSON, err := marshalPreprocessingMetadata(doc.PreprocessingMetadata)
	if err != nil {
		return err
	}

	updateQuery := `
		UPDATE documents SET
			original_filename = $1,
			mime_type = $2,
			file_size_bytes = $3,
			storage_key = $4,
			status = $5,
			error_message = $6,
			document_type_id = $7,
			classification_confidence = $8,
			language = $9,
			selected_engine_id = $10,
			linked_claim_id = $11,
			workflow_id = $12,
			preprocessing_metadata = $13,
			updated_at = $14
		WHERE id = $15`

	_, err = r.db.Exec(ctx, updateQuery,
		doc.OriginalFilename,
		doc.MimeType,
		doc.FileSizeBytes,
		doc.StorageKey,
		doc.Status,
		doc.ErrorMessage,
		doc.DocumentTypeID,
		doc.ClassificationConfidence,
		doc.Language,
		doc.SelectedEngineID,
		doc.LinkedClaimID,
		doc.WorkflowID,
		metadataJSON,
		doc.UpdatedAt,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}

	return nil
}

// UpdateStatus transitions a document's status and records the transition in
// the audit trail within the same transaction.
func (r *PgDocumentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.DocumentStatus, errorMsg, actorID string) error {
	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for status update: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgDocumentRepository{db: tx}
		if err := txRepo.updateStatusInTx(ctx, id, status, errorMsg, actorID); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	return r.updateStatusInTx(ctx, id, status, errorMsg, actorID)
}

func (r *PgDocumentRepository) updateStatusInTx(ctx context.Context, id uuid.UUID, status domain.DocumentStatus, errorMsg, actorID string) error {
	return r.updateInTx(ctx, id, func(doc *domain.Document) error {
		if !doc.Status.CanTransitionTo(status) {
			return domain.NewConsistencyError("document", id.String(),
				fmt.Sprintf("cannot transition from %s to %s", doc.Status, status))
		}

		entry := domain.NewStatusChange(id, doc.Status, status, actorID)

		doc.Status = status
		if status == domain.DocumentStatusFailed && errorMsg != "" {
			doc.ErrorMessage = &errorMsg
		}

		// The audit write shares the update's transaction so a failed
		// transition never leaves a dangling audit row.
		return insertAuditLog(ctx, r.db, entry)
	})
}

// List retrieves documents matching the filter criteria.
func (r *PgDocumentRepository) List(ctx context.Context, filter DocumentFilter) ([]*domain.Document, int64, error) {
	applyPaginationDefaults(&filter.Limit, &filter.Offset)

	conditions := []string{"TRUE"}
	args := []interface{}{}
	argIndex := 1

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, s)
			argIndex++
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}

	if filter.DocumentTypeID != nil {
		conditions = append(conditions, fmt.Sprintf("document_type_id = $%d", argIndex))
		args = append(args, *filter.DocumentTypeID)
		argIndex++
	}

	if filter.CreatedAfter != nil {
		conditions = append(conditions, fmt.Sprintf("created_at > $%d", argIndex))
		args = append(args, *filter.CreatedAfter)
		argIndex++
	}

	if filter.CreatedBefore != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIndex))
		args = append(args, *filter.CreatedBefore)
		argIndex++
	}

	whereClause := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM documents WHERE %s", whereClause)
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM documents
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		documentColumns, whereClause, argIndex, argIndex+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]*domain.Document, 0, filter.Limit)
	for rows.Next() {
		doc, err := scanDocumentFromRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating documents: %w", err)
	}

	return docs, totalCount, nil
}

// SaveExtractionResult upserts the extraction result for a document.
func (r *PgDocumentRepository) SaveExtractionResult(ctx context.Context, result *domain.ExtractionResult) error {
	if result == nil {
		return domain.NewValidationError("result", "extraction result cannot be nil")
	}
	if result.DocumentID == uuid.Nil {
		return domain.NewValidationError("document_id", "document ID is required")
	}
	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}

	dataJSON, err := json.Marshal(result.StructuredData)
	if err != nil {
		return fmt.Errorf("failed to marshal structured data: %w", err)
	}
	confidencesJSON, err := json.Marshal(result.FieldConfidences)
	if err != nil {
		return fmt.Errorf("failed to marshal field confidences: %w", err)
	}

	query := `
		INSERT INTO extraction_results (
			id, document_id, structured_data, field_confidences,
			aggregate_confidence, processing_time_ms, tokens_used, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (document_id) DO UPDATE SET
			structured_data = EXCLUDED.structured_data,
			field_confidences = EXCLUDED.field_confidences,
			aggregate_confidence = EXCLUDED.aggregate_confidence,
			processing_time_ms = EXCLUDED.processing_time_ms,
			tokens_used = EXCLUDED.tokens_used,
			created_at = EXCLUDED.created_at`

	_, err = r.db.Exec(ctx, query,
		result.ID, result.DocumentID, dataJSON, confidencesJSON,
		result.AggregateConfidence, result.ProcessingTimeMs, result.TokensUsed, result.CreatedAt,
	)
	if err != nil {
		if isPgForeignKeyViolation(err) {
			return domain.NewNotFoundError("document", result.DocumentID.String())
		}
		return fmt.Errorf("failed to save extraction result: %w", err)
	}

	return nil
}

// GetExtractionResult retrieves the extraction result for a document.
func (r *PgDocumentRepository) GetExtractionResult(ctx context.Context, documentID uuid.UUID) (*domain.ExtractionResult, error) {
	query := `
		SELECT id, document_id, structured_data, field_confidences,
			aggregate_confidence, processing_time_ms, tokens_used, created_at
		FROM extraction_results
		WHERE document_id = $1`

	var (
		result          domain.ExtractionResult
		dataJSON        []byte
		confidencesJSON []byte
	)
	err := r.db.QueryRow(ctx, query, documentID).Scan(
		&result.ID, &result.DocumentID, &dataJSON, &confidencesJSON,
		&result.AggregateConfidence, &result.ProcessingTimeMs, &result.TokensUsed, &result.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("extraction result", documentID.String())
		}
		return nil, fmt.Errorf("failed to get extraction result: %w", err)
	}

	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &result.StructuredData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal structured data: %w", err)
		}
	}
	if len(confidencesJSON) > 0 {
		if err := json.Unmarshal(confidencesJSON, &result.FieldConfidences); err != nil {
			return nil, fmt.Errorf("failed to unmarshal field confidences: %w", err)
		}
	}

	return &result, nil
}

// marshalPreprocessingMetadata serializes the metadata, preserving NULL for
// documents that have not been preprocessed.
func marshalPreprocessingMetadata(meta *domain.PreprocessingMetadata) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal preprocessing metadata: %w", err)
	}
	return data, nil
}

// documentScanDest holds the destination pointers for scanning a document row.
// This eliminates code duplication between pgx.Row and pgx.Rows scanning.
type documentScanDest struct {
	doc          domain.Document
	metadataJSON []byte
}

func (d *documentScanDest) destinations() []interface{} {
	return []interface{}{
		&d.doc.ID, &d.doc.OriginalFilename, &d.doc.MimeType, &d.doc.FileSizeBytes, &d.doc.StorageKey,
		&d.doc.Status, &d.doc.ErrorMessage, &d.doc.DocumentTypeID, &d.doc.ClassificationConfidence, &d.doc.Language,
		&d.doc.SelectedEngineID, &d.doc.LinkedClaimID, &d.doc.WorkflowID, &d.metadataJSON,
		&d.doc.CreatedAt, &d.doc.UpdatedAt,
	}
}

func (d *documentScanDest) finalize() (*domain.Document, error) {
	if len(d.metadataJSON) > 0 {
		var meta domain.PreprocessingMetadata
		if err := json.Unmarshal(d.metadataJSON, &meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal preprocessing metadata: %w", err)
		}
		d.doc.PreprocessingMetadata = &meta
	}
	return &d.doc, nil
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var dest documentScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// scanDocumentRows scans a single row from pgx.Rows.
// This is used with SELECT FOR UPDATE which returns Rows instead of Row.
func scanDocumentRows(rows pgx.Rows) (*domain.Document, error) {
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	return scanDocumentFromRows(rows)
}

func scanDocumentFromRows(rows pgx.Rows) (*domain.Document, error) {
	var dest documentScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}
