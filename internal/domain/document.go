// Package domain provides domain models and business logic for the Document Processing Service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus represents the lifecycle states of a document in the
// processing pipeline. These values must match the database enum document_status.
type DocumentStatus string

const (
	DocumentStatusPending        DocumentStatus = "pending"
	DocumentStatusPreprocessing  DocumentStatus = "preprocessing"
	DocumentStatusClassifying    DocumentStatus = "classifying"
	DocumentStatusExtracting     DocumentStatus = "extracting"
	DocumentStatusCompleted      DocumentStatus = "completed"
	DocumentStatusFailed         DocumentStatus = "failed"
	DocumentStatusReviewRequired DocumentStatus = "review_required"
)

// IsTerminal returns true if the status represents a final state after which
// no further pipeline stage runs.
func (s DocumentStatus) IsTerminal() bool {
	switch s {
	case DocumentStatusCompleted, DocumentStatusFailed, DocumentStatusReviewRequired:
		return true
	default:
		return false
	}
}

// stageOrder defines the monotonic progression of pipeline statuses.
// failed is absorbing and reachable from any stage.
var stageOrder = map[DocumentStatus]int{
	DocumentStatusPending:        0,
	DocumentStatusPreprocessing:  1,
	DocumentStatusClassifying:    2,
	DocumentStatusExtracting:     3,
	DocumentStatusCompleted:      4,
	DocumentStatusReviewRequired: 4,
	DocumentStatusFailed:         4,
}

// CanTransitionTo reports whether moving from s to next respects the pipeline's
// monotonic stage order. failed is reachable from any non-terminal state, and
// review_required may move to completed on manual approval.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	if next == DocumentStatusFailed {
		return s != DocumentStatusCompleted && s != DocumentStatusFailed
	}
	if s == DocumentStatusReviewRequired && next == DocumentStatusCompleted {
		return true
	}
	from, ok := stageOrder[s]
	if !ok {
		return false
	}
	to, ok := stageOrder[next]
	if !ok {
		return false
	}
	return to > from
}

// PreprocessingMetadata holds the numeric outputs of the preprocessing stage.
// Stored as JSONB on the document row.
type PreprocessingMetadata struct {
	// Width is the image width in pixels (first page for PDFs).
	Width int `json:"width,omitempty"`
	// Height is the image height in pixels.
	Height int `json:"height,omitempty"`
	// DPI is the estimated resolution in dots per inch.
	DPI int `json:"dpi,omitempty"`
	// QualityScore is a derived quality estimate in [0,1].
	QualityScore float64 `json:"quality_score"`
	// PageCount is the number of pages (1 for single images).
	PageCount int `json:"page_count"`
	// Format is the decoded image format (png, jpeg, pdf).
	Format string `json:"format,omitempty"`
}

// Document represents a scanned document moving through the processing pipeline.
// The document is mutated exclusively by the pipeline until it reaches a
// terminal status; afterwards only manual review actions touch it.
type Document struct {
	ID               uuid.UUID
	OriginalFilename string
	MimeType         string
	FileSizeBytes    int64
	// StorageKey is the opaque handle to the uploaded bytes in the blob store.
	StorageKey string
	Status     DocumentStatus
	// ErrorMessage carries the last stage error when Status is failed.
	ErrorMessage *string
	// DocumentTypeID is set by the classification stage (nil if unresolved).
	DocumentTypeID *uuid.UUID
	// ClassificationConfidence is the classifier's confidence in [0,1].
	ClassificationConfidence *float64
	// Language is the detected ISO 639-1 language code, if any.
	Language *string
	// SelectedEngineID records which engine config answered for this document.
	SelectedEngineID *uuid.UUID
	// LinkedClaimID links the document to an external claim record. Set
	// post-hoc by an external collaborator; nil means no upstream validation.
	LinkedClaimID *string
	// WorkflowID is the Temporal workflow ID driving this document, if started.
	WorkflowID            *string
	PreprocessingMetadata *PreprocessingMetadata
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// FieldDefinition describes a single field in an extraction template.
type FieldDefinition struct {
	// Type is the expected value type (string, number, date, array).
	Type string `json:"type"`
	// Required marks fields the extractor must attempt.
	Required bool `json:"required,omitempty"`
	// Items describes the per-item schema for array-typed fields.
	Items map[string]FieldDefinition `json:"items,omitempty"`
	// Description is a free-text hint passed to the extraction prompt.
	Description string `json:"description,omitempty"`
}

// ExtractionTemplate maps field names to their definitions. Serialized to
// JSONB; field ordering within the prompt follows the template JSON as stored.
type ExtractionTemplate map[string]FieldDefinition

// ArrayFields returns the names of array-typed fields in the template.
func (t ExtractionTemplate) ArrayFields() []string {
	var out []string
	for name, def := range t {
		if def.Type == "array" {
			out = append(out, name)
		}
	}
	return out
}

// DocumentType describes a class of documents and how to extract data from them.
type DocumentType struct {
	ID   uuid.UUID
	Code string
	Name string
	// ExtractionTemplate drives the extraction prompt for this type.
	ExtractionTemplate ExtractionTemplate
	// ClassificationHints is free text appended to the classifier prompt.
	ClassificationHints string
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
