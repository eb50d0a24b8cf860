package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// AuditRepository manages the append-only audit trail. Entries are never
// updated or deleted.
type AuditRepository interface {
	// AppendAudit writes one audit entry.
	AppendAudit(ctx context.Context, entry *domain.AuditLog) error

	// ListByDocument returns a document's audit entries in chronological order.
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*domain.AuditLog, error)
}
