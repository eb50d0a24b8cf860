package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AdapterKind identifies the vendor adapter implementation used to talk to a
// vision-LLM backend. These values must match the database enum adapter_kind.
//
// Several kinds may resolve to the same adapter implementation: deepseek and
// openrouter both speak the OpenAI-compatible chat protocol.
type AdapterKind string

const (
	AdapterKindMistral    AdapterKind = "mistral"
	AdapterKindOpenAI     AdapterKind = "openai"
	AdapterKindDeepSeek   AdapterKind = "deepseek"
	AdapterKindOpenRouter AdapterKind = "openrouter"
)

// EngineConfig is one configured vision-LLM backend.
type EngineConfig struct {
	ID          uuid.UUID
	Name        string
	AdapterKind AdapterKind
	EndpointURL string
	// APIKey is the decrypted credential. Encryption-at-rest is handled by the
	// configuration store; the core only sees the usable value.
	APIKey  string
	ModelID string
	// IsPrimary marks the engine tried first by the fallback chain. At most
	// one active config may be primary; enforced on write.
	IsPrimary bool
	// IsFallback marks engines tried after the primary, before the rest.
	IsFallback     bool
	IsActive       bool
	MaxTokens      int
	Temperature    float64
	TimeoutSeconds int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EngineCapabilityScore is the learned accuracy/speed estimate for an engine
// on a (language, document type) combination. A nil DocumentTypeID is the
// wildcard row, matching any type when no exact row exists.
type EngineCapabilityScore struct {
	ID             uuid.UUID
	EngineConfigID uuid.UUID
	Language       string
	DocumentTypeID *uuid.UUID
	// AccuracyScore and SpeedScore are maintained in [0,100].
	AccuracyScore float64
	SpeedScore    float64
	// CostPerPage is the operator-maintained cost estimate for one page.
	CostPerPage decimal.Decimal
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RoutingPolicy holds the composite-score weights. It is a storage-level
// singleton: the repository reads and writes row 0 explicitly.
type RoutingPolicy struct {
	AccuracyWeight float64
	CostWeight     float64
	SpeedWeight    float64
	UpdatedAt      time.Time
}

// DefaultRoutingPolicy returns the weights used when no policy row exists.
func DefaultRoutingPolicy() RoutingPolicy {
	return RoutingPolicy{
		AccuracyWeight: 0.50,
		CostWeight:     0.30,
		SpeedWeight:    0.20,
	}
}

// EngineRoutingRule pins a (language, document type) scope to an engine.
// Nil Language or DocumentTypeID matches any value. Higher Priority wins.
type EngineRoutingRule struct {
	ID             uuid.UUID
	Language       *string
	DocumentTypeID *uuid.UUID
	EngineConfigID uuid.UUID
	// MinConfidence, when > 0, requires a matching capability score with
	// accuracy/100 >= MinConfidence for the rule to apply.
	MinConfidence float64
	Priority      int
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Matches reports whether the rule's scope covers the given language and
// document type. A nil scope component matches anything.
func (r *EngineRoutingRule) Matches(language string, documentTypeID *uuid.UUID) bool {
	if r.Language != nil && *r.Language != language {
		return false
	}
	if r.DocumentTypeID != nil {
		if documentTypeID == nil || *r.DocumentTypeID != *documentTypeID {
			return false
		}
	}
	return true
}

// Provenance records how the router arrived at an engine choice. It is kept
// for audit purposes and to gate capability-score feedback; it never drives
// control flow downstream of the router.
type Provenance string

const (
	// ProvenanceRule means an explicit routing rule selected the engine.
	ProvenanceRule Provenance = "rule"
	// ProvenanceScore means composite capability scoring selected the engine.
	ProvenanceScore Provenance = "score"
	// ProvenanceFallback means the plain fallback chain selected the engine.
	ProvenanceFallback Provenance = "fallback"
)

// Routed reports whether the selection carries routing context worth feeding
// back into the capability scorer.
func (p Provenance) Routed() bool {
	return p == ProvenanceRule || p == ProvenanceScore
}

// ExtractionResult is the structured output of the extraction stage.
// Exactly one per document.
type ExtractionResult struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	// StructuredData maps template field names to extracted values. Array
	// fields hold []any of per-item objects.
	StructuredData map[string]any
	// FieldConfidences maps field names to per-field confidence in [0,1].
	FieldConfidences    map[string]float64
	AggregateConfidence float64
	ProcessingTimeMs    int
	TokensUsed          int
	CreatedAt           time.Time
}
