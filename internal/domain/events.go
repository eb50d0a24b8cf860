package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for published lifecycle events.
const (
	EventTypeDocumentUploaded     = "document.uploaded"
	EventTypeDocumentPreprocessed = "document.preprocessed"
	EventTypeDocumentClassified   = "document.classified"
	EventTypeDocumentExtracted    = "document.extracted"
	EventTypeDocumentCompleted    = "document.completed"
	EventTypeDocumentFailed       = "document.failed"
	EventTypeDocumentReview       = "document.review_required"
	EventTypeValidationCompleted  = "validation.completed"
	EventTypeProposalApplied      = "registry.proposal_applied"
)

// Event represents a lifecycle event published to the message broker.
// Publishing is best effort: a broker failure never fails the pipeline.
type Event struct {
	EventID       string
	EventVersion  int
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       []byte
	Metadata      map[string]interface{}
	CreatedAt     time.Time
}

// NewEvent creates a new lifecycle event with the given parameters.
// The payload is JSON-serialized automatically.
func NewEvent(eventType, aggregateID, aggregateType string, payload interface{}) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		EventID:       uuid.New().String(),
		EventVersion:  1,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       payloadBytes,
		CreatedAt:     time.Now(),
	}, nil
}

// WithMetadata sets the metadata on the event.
func (e *Event) WithMetadata(metadata map[string]interface{}) *Event {
	e.Metadata = metadata
	return e
}

// DocumentUploadedPayload is the payload for document.uploaded events.
type DocumentUploadedPayload struct {
	DocumentID       uuid.UUID `json:"document_id"`
	OriginalFilename string    `json:"original_filename"`
	MimeType         string    `json:"mime_type"`
	FileSizeBytes    int64     `json:"file_size_bytes"`
	LinkedClaimID    *string   `json:"linked_claim_id,omitempty"`
}

// DocumentPreprocessedPayload is the payload for document.preprocessed events.
type DocumentPreprocessedPayload struct {
	DocumentID   uuid.UUID `json:"document_id"`
	PageCount    int       `json:"page_count"`
	QualityScore float64   `json:"quality_score"`
	Format       string    `json:"format"`
}

// DocumentClassifiedPayload is the payload for document.classified events.
type DocumentClassifiedPayload struct {
	DocumentID       uuid.UUID  `json:"document_id"`
	DocumentTypeID   *uuid.UUID `json:"document_type_id,omitempty"`
	DocumentTypeCode string     `json:"document_type_code,omitempty"`
	Confidence       float64    `json:"confidence"`
	Language         string     `json:"language,omitempty"`
	EngineConfigID   *uuid.UUID `json:"engine_config_id,omitempty"`
}

// DocumentExtractedPayload is the payload for document.extracted events.
type DocumentExtractedPayload struct {
	DocumentID          uuid.UUID  `json:"document_id"`
	EngineConfigID      *uuid.UUID `json:"engine_config_id,omitempty"`
	AggregateConfidence float64    `json:"aggregate_confidence"`
	ProcessingTimeMs    int64      `json:"processing_time_ms"`
	FieldCount          int        `json:"field_count"`
}

// DocumentCompletedPayload is the payload for document.completed and
// document.review_required events.
type DocumentCompletedPayload struct {
	DocumentID          uuid.UUID      `json:"document_id"`
	Status              DocumentStatus `json:"status"`
	AggregateConfidence float64        `json:"aggregate_confidence"`
	LinkedClaimID       *string        `json:"linked_claim_id,omitempty"`
	Duration            time.Duration  `json:"duration_ns"`
}

// DocumentFailedPayload is the payload for document.failed events.
type DocumentFailedPayload struct {
	DocumentID uuid.UUID `json:"document_id"`
	Error      string    `json:"error"`
	Stage      string    `json:"stage"`
}

// ValidationCompletedPayload is the payload for validation.completed events.
type ValidationCompletedPayload struct {
	DocumentID       uuid.UUID      `json:"document_id"`
	ValidationType   ValidationType `json:"validation_type"`
	OverallStatus    OverallStatus  `json:"overall_status"`
	DiscrepancyCount int            `json:"discrepancy_count"`
	FindingCount     int            `json:"finding_count"`
	MatchScore       *float64       `json:"match_score,omitempty"`
}

// ProposalAppliedPayload is the payload for registry.proposal_applied events.
type ProposalAppliedPayload struct {
	ProposalID    uuid.UUID `json:"proposal_id"`
	DocumentID    uuid.UUID `json:"document_id"`
	TargetModel   string    `json:"target_model"`
	TargetID      string    `json:"target_id"`
	FieldName     string    `json:"field_name"`
	CurrentValue  string    `json:"current_value"`
	ProposedValue string    `json:"proposed_value"`
	AppliedBy     string    `json:"applied_by"`
}
