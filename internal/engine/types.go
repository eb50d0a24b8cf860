// Package engine provides the vision-LLM engine layer: the uniform adapter
// contract, the vendor adapters behind a static registry, the routing layer
// that selects an engine per call with fallback, and the capability scorer
// that learns per-engine accuracy/speed from extraction feedback.
package engine

import (
	"github.com/google/uuid"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// ClassifyRequest carries a document image and the candidate type catalog
// into a classification call.
type ClassifyRequest struct {
	// Image is the raw file content.
	Image []byte
	// MIMEType is the content type of Image (image/png, image/jpeg,
	// application/pdf).
	MIMEType string
	// Candidates is the active document type catalog the engine chooses
	// from. Classification hints from each type are folded into the prompt.
	Candidates []domain.DocumentType
}

// ExtractRequest carries a document image and its extraction template into
// an extraction call.
type ExtractRequest struct {
	Image    []byte
	MIMEType string
	// DocumentTypeCode is the resolved type code, used for prompt
	// resolution. Empty when classification did not resolve a type.
	DocumentTypeCode string
	// Template describes the fields to extract. An empty template asks the
	// engine for a best-effort generic extraction.
	Template domain.ExtractionTemplate
}

// ClassificationOutcome is the normalized result of a classify call.
type ClassificationOutcome struct {
	// DocumentTypeCode is the code of the matched candidate type.
	DocumentTypeCode string
	// Confidence is the engine's self-reported confidence in [0,1].
	Confidence float64
	// Language is the detected document language (ISO 639-1), empty when
	// the engine did not report one.
	Language string
	// Reasoning is the engine's free-text justification.
	Reasoning string
	// TokensUsed is total token consumption for the call.
	TokensUsed int
	// ProcessingTimeMs is the wall-clock duration of the vendor call.
	ProcessingTimeMs int
}

// FieldValue is one extracted field with its per-field confidence.
type FieldValue struct {
	// Value holds the extracted value. Array-typed template fields hold
	// []any of per-item objects with per-item confidence stripped.
	Value any `json:"value"`
	// Confidence is the per-field confidence in [0,1].
	Confidence float64 `json:"confidence"`
}

// ExtractionOutcome is the normalized result of an extract call.
type ExtractionOutcome struct {
	Fields              map[string]FieldValue
	AggregateConfidence float64
	TokensUsed          int
	ProcessingTimeMs    int
}

// Selection records which engine served a router call and how it was
// chosen. Callers persist it for audit and use Provenance to gate
// capability-score feedback.
type Selection struct {
	EngineConfigID uuid.UUID
	EngineName     string
	Provenance     domain.Provenance
}

// EngineHealth is one engine's result from a HealthCheckAll sweep.
type EngineHealth struct {
	EngineConfigID uuid.UUID `json:"engineConfigId"`
	Name           string    `json:"name"`
	Healthy        bool      `json:"healthy"`
	Error          string    `json:"error,omitempty"`
}
