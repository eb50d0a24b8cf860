// Package activities provides Temporal activity implementations for the
// document processing pipeline.
//
// Activity inputs and outputs are defined as serializable structs that cross
// the Temporal serialization boundary. All fields must be exported for JSON
// serialization by the Temporal SDK's default data converter.
package activities

import (
	"github.com/google/uuid"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// PreprocessInput contains the parameters for the preprocessing activity.
type PreprocessInput struct {
	// DocumentID is the document to preprocess.
	DocumentID uuid.UUID

	// ActorID identifies who initiated the pipeline, for audit entries.
	ActorID string
}

// PreprocessOutput contains the results of the preprocessing activity.
type PreprocessOutput struct {
	// Metadata is the derived image/PDF metadata persisted on the document.
	Metadata domain.PreprocessingMetadata
}

// ClassifyInput contains the parameters for the classification activity.
type ClassifyInput struct {
	// DocumentID is the document to classify.
	DocumentID uuid.UUID

	// ActorID identifies who initiated the pipeline, for audit entries.
	ActorID string
}

// ClassifyOutput contains the results of the classification activity.
//
// Classified is false when the stage was skipped (empty type catalog) or the
// engine call failed; classification failure does not stop the pipeline.
type ClassifyOutput struct {
	// Classified reports whether a document type was resolved.
	Classified bool

	// DocumentTypeID is the resolved type, nil when unresolved.
	DocumentTypeID *uuid.UUID

	// DocumentTypeCode is the code of the resolved type.
	DocumentTypeCode string

	// Confidence is the classifier confidence in [0,1].
	Confidence float64

	// Language is the detected ISO 639-1 language, empty when not reported.
	Language string

	// EngineConfigID is the engine that served the call, nil when skipped.
	EngineConfigID *uuid.UUID
}

// ExtractInput contains the parameters for the extraction activity.
type ExtractInput struct {
	// DocumentID is the document to extract.
	DocumentID uuid.UUID

	// ActorID identifies who initiated the pipeline, for audit entries.
	ActorID string
}

// ExtractOutput contains the results of the extraction activity, including
// the confidence-gated status the document landed on.
type ExtractOutput struct {
	// Status is the post-gate document status: completed, review_required
	// or failed.
	Status domain.DocumentStatus

	// AggregateConfidence is the engine's aggregate confidence in [0,1].
	AggregateConfidence float64

	// FieldCount is the number of extracted top-level fields.
	FieldCount int

	// EngineConfigID is the engine that served the extraction.
	EngineConfigID uuid.UUID

	// Provenance records how the engine was selected.
	Provenance domain.Provenance

	// ProcessingTimeMs is the engine call duration.
	ProcessingTimeMs int
}

// MarkFailedInput contains the parameters for recording a pipeline failure.
type MarkFailedInput struct {
	// DocumentID is the document that failed.
	DocumentID uuid.UUID

	// Stage names the pipeline stage that failed.
	Stage string

	// ErrorMessage is the last error from the failed stage.
	ErrorMessage string

	// ActorID identifies who initiated the pipeline, for audit entries.
	ActorID string
}

// RunValidationInput contains the parameters for a validation activity.
type RunValidationInput struct {
	// DocumentID is the document to validate.
	DocumentID uuid.UUID
}

// RunValidationOutput summarizes a validation run.
//
// Skipped is true when the validator was a no-op for this document (for
// example upstream validation without a linked claim).
type RunValidationOutput struct {
	// Skipped reports whether the validator produced no result.
	Skipped bool

	// OverallStatus is the run verdict when not skipped.
	OverallStatus domain.OverallStatus

	// DiscrepancyCount is the number of discrepancies or findings.
	DiscrepancyCount int

	// MatchScore is the run match score in [0,1].
	MatchScore float64
}

// PublishEventInput is the serializable input for the PublishEvent activity.
type PublishEventInput struct {
	// EventType is the lifecycle event type (e.g. "document.completed").
	EventType string

	// DocumentID is the document the event concerns (aggregate ID).
	DocumentID uuid.UUID

	// Payload is the event payload that will be JSON-serialized.
	Payload map[string]interface{}

	// Metadata is optional envelope metadata (workflow id, run id).
	Metadata map[string]interface{}

	// DurationSeconds is the end-to-end pipeline duration for terminal
	// document events, used for metrics. Zero when not applicable.
	DurationSeconds float64
}
