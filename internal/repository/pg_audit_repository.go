package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// Compile-time interface verification.
var _ AuditRepository = (*PgAuditRepository)(nil)

// PgAuditRepository is a PostgreSQL implementation of AuditRepository.
type PgAuditRepository struct {
	db DBTX
}

// NewPgAuditRepository creates a new PostgreSQL audit repository.
func NewPgAuditRepository(db DBTX) *PgAuditRepository {
	return &PgAuditRepository{db: db}
}

// AppendAudit writes one audit entry.
func (r *PgAuditRepository) AppendAudit(ctx context.Context, entry *domain.AuditLog) error {
	return insertAuditLog(ctx, r.db, entry)
}

// insertAuditLog writes an audit entry through the given DBTX. Shared with
// repositories that append audit entries inside their own transactions.
func insertAuditLog(ctx context.Context, db DBTX, entry *domain.AuditLog) error {
	if entry == nil {
		return domain.NewValidationError("entry", "audit entry cannot be nil")
	}
	if entry.DocumentID == uuid.Nil {
		return domain.NewValidationError("document_id", "document ID is required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	query := `
		INSERT INTO audit_logs (
			id, document_id, action, details, engine_config_id, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = db.Exec(ctx, query,
		entry.ID, entry.DocumentID, entry.Action, detailsJSON,
		entry.EngineConfigID, entry.ActorID, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

// ListByDocument returns a document's audit entries oldest first.
func (r *PgAuditRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*domain.AuditLog, error) {
	query := `
		SELECT id, document_id, action, details, engine_config_id, actor_id, created_at
		FROM audit_logs
		WHERE document_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.AuditLog
	for rows.Next() {
		var (
			entry       domain.AuditLog
			detailsJSON []byte
		)
		if err := rows.Scan(
			&entry.ID, &entry.DocumentID, &entry.Action, &detailsJSON,
			&entry.EngineConfigID, &entry.ActorID, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit details: %w", err)
			}
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}
