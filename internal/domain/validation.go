package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RuleType categorizes downstream validation rules.
// These values must match the database enum rule_type.
type RuleType string

const (
	RuleTypeEligibility RuleType = "eligibility"
	RuleTypeClinical    RuleType = "clinical"
	RuleTypeFraud       RuleType = "fraud"
	RuleTypeRegistry    RuleType = "registry"
)

// Severity grades validation rules and findings.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ValidationRule is a configurable business rule evaluated by the downstream
// validation engine. RuleDefinition carries the rule-specific payload, e.g.
// the allowed_icd_service_map for clinical rules or the insuree_fields /
// facility_fields allow-lists for registry rules.
type ValidationRule struct {
	ID             uuid.UUID
	Name           string
	RuleType       RuleType
	RuleDefinition json.RawMessage
	Severity       Severity
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ClinicalRuleDefinition is the decoded payload of a clinical rule.
type ClinicalRuleDefinition struct {
	// AllowedICDServiceMap maps a diagnosis code to the service codes
	// clinically compatible with it. A diagnosis absent from the map is
	// not flagged.
	AllowedICDServiceMap map[string][]string `json:"allowed_icd_service_map"`
}

// RegistryRuleDefinition is the decoded payload of a registry rule.
type RegistryRuleDefinition struct {
	// InsureeFields lists the insuree demographic fields eligible for
	// update proposals. Defaults to phone and email when empty.
	InsureeFields []string `json:"insuree_fields"`
	// FacilityFields lists the facility fields eligible for update proposals.
	FacilityFields []string `json:"facility_fields"`
}

// ValidationType distinguishes the two independent validation engines.
type ValidationType string

const (
	// ValidationTypeUpstream compares extracted data against the linked claim.
	ValidationTypeUpstream ValidationType = "upstream"
	// ValidationTypeDownstream evaluates business rules against extracted data.
	ValidationTypeDownstream ValidationType = "downstream"
)

// OverallStatus summarizes a validation run.
type OverallStatus string

const (
	OverallStatusMatched      OverallStatus = "matched"
	OverallStatusPartialMatch OverallStatus = "partial_match"
	OverallStatusMismatched   OverallStatus = "mismatched"
	OverallStatusPending      OverallStatus = "pending"
	OverallStatusError        OverallStatus = "error"
)

// FieldComparison records one upstream field-level comparison.
type FieldComparison struct {
	OCR   any  `json:"ocr"`
	Claim any  `json:"claim"`
	Match bool `json:"match"`
}

// ValidationResult is the outcome of one validation run. At most one per
// (document, validation type); re-validation replaces the previous result.
type ValidationResult struct {
	ID               uuid.UUID
	DocumentID       uuid.UUID
	ValidationType   ValidationType
	OverallStatus    OverallStatus
	FieldComparisons map[string]FieldComparison
	DiscrepancyCount int
	// MatchScore is in [0,1]; 1.0 means a clean run.
	MatchScore  float64
	Summary     string
	ValidatedAt time.Time
	CreatedAt   time.Time
}

// FindingType classifies validation findings.
type FindingType string

const (
	FindingTypeViolation      FindingType = "violation"
	FindingTypeWarning        FindingType = "warning"
	FindingTypeUpdateProposal FindingType = "update_proposal"
)

// ResolutionStatus tracks human review of a finding.
type ResolutionStatus string

const (
	ResolutionStatusPending  ResolutionStatus = "pending"
	ResolutionStatusAccepted ResolutionStatus = "accepted"
	ResolutionStatusRejected ResolutionStatus = "rejected"
	ResolutionStatusDeferred ResolutionStatus = "deferred"
)

// ValidationFinding is one discrete issue raised by a validation run.
type ValidationFinding struct {
	ID                 uuid.UUID
	ValidationResultID uuid.UUID
	ValidationRuleID   *uuid.UUID
	FindingType        FindingType
	Severity           Severity
	Field              string
	Description        string
	Details            map[string]any
	ResolutionStatus   ResolutionStatus
	CreatedAt          time.Time
}

// ProposalStatus is the review lifecycle of a registry update proposal.
type ProposalStatus string

const (
	ProposalStatusProposed ProposalStatus = "proposed"
	ProposalStatusApproved ProposalStatus = "approved"
	ProposalStatusApplied  ProposalStatus = "applied"
	ProposalStatusRejected ProposalStatus = "rejected"
)

// RegistryUpdateProposal proposes writing an OCR-observed value back to the
// external system of record. Only registry-type rules produce proposals.
// Application is a privileged, exactly-once operation gated on approved status.
type RegistryUpdateProposal struct {
	ID                 uuid.UUID
	DocumentID         uuid.UUID
	ValidationResultID uuid.UUID
	// TargetModel names the external entity ("insuree" or "health_facility").
	TargetModel string
	// TargetID identifies the external entity instance.
	TargetID      string
	FieldName     string
	CurrentValue  string
	ProposedValue string
	Status        ProposalStatus
	ReviewedBy    *string
	ReviewedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
