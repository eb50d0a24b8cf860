package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction identifies the kind of event an audit log entry records.
// These values must match the database enum audit_action.
type AuditAction string

const (
	AuditActionUpload       AuditAction = "upload"
	AuditActionPreprocess   AuditAction = "preprocess"
	AuditActionClassify     AuditAction = "classify"
	AuditActionExtract      AuditAction = "extract"
	AuditActionStatusChange AuditAction = "status_change"
	AuditActionReview       AuditAction = "review"
	AuditActionValidation   AuditAction = "validation"
	AuditActionProposal     AuditAction = "proposal"
	AuditActionError        AuditAction = "error"
)

// AuditLog is an append-only record of a state-changing operation on a
// document. Every pipeline status transition writes one entry with
// {"from": ..., "to": ...} details.
type AuditLog struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Action     AuditAction
	Details    map[string]any
	// EngineConfigID is set when the action involved a specific engine.
	EngineConfigID *uuid.UUID
	// ActorID identifies the user or system component that acted.
	ActorID   string
	CreatedAt time.Time
}

// NewStatusChange builds the audit entry for a document status transition.
func NewStatusChange(documentID uuid.UUID, from, to DocumentStatus, actorID string) *AuditLog {
	return &AuditLog{
		ID:         uuid.New(),
		DocumentID: documentID,
		Action:     AuditActionStatusChange,
		Details: map[string]any{
			"from": string(from),
			"to":   string(to),
		},
		ActorID:   actorID,
		CreatedAt: time.Now().UTC(),
	}
}
