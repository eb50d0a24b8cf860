package server

import (
	"encoding/json"
	"time"

	"github.com/claimsight/document-processing-service/internal/domain"
	"github.com/claimsight/document-processing-service/internal/engine"
)

// Response types for JSON serialization.

type uploadDocumentResponse struct {
	DocumentID string    `json:"document_id"`
	WorkflowID string    `json:"workflow_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	Message    string    `json:"message"`
}

type documentResponse struct {
	ID                       string                        `json:"id"`
	OriginalFilename         string                        `json:"original_filename"`
	MimeType                 string                        `json:"mime_type"`
	FileSizeBytes            int64                         `json:"file_size_bytes"`
	Status                   string                        `json:"status"`
	ErrorMessage             string                        `json:"error_message,omitempty"`
	DocumentTypeID           string                        `json:"document_type_id,omitempty"`
	ClassificationConfidence *float64                      `json:"classification_confidence,omitempty"`
	Language                 string                        `json:"language,omitempty"`
	SelectedEngineID         string                        `json:"selected_engine_id,omitempty"`
	LinkedClaimID            string                        `json:"linked_claim_id,omitempty"`
	WorkflowID               string                        `json:"workflow_id,omitempty"`
	Preprocessing            *domain.PreprocessingMetadata `json:"preprocessing,omitempty"`
	CreatedAt                time.Time                     `json:"created_at"`
	UpdatedAt                time.Time                     `json:"updated_at"`
}

type listDocumentsResponse struct {
	Documents     []documentResponse `json:"documents"`
	NextPageToken string             `json:"next_page_token,omitempty"`
	TotalCount    int                `json:"total_count"`
}

type extractionResultResponse struct {
	ID                  string             `json:"id"`
	DocumentID          string             `json:"document_id"`
	StructuredData      map[string]any     `json:"structured_data"`
	FieldConfidences    map[string]float64 `json:"field_confidences"`
	AggregateConfidence float64            `json:"aggregate_confidence"`
	ProcessingTimeMs    int                `json:"processing_time_ms"`
	TokensUsed          int                `json:"tokens_used"`
	CreatedAt           time.Time          `json:"created_at"`
}

type validationResultResponse struct {
	ID               string                            `json:"id"`
	DocumentID       string                            `json:"document_id"`
	ValidationType   string                            `json:"validation_type"`
	OverallStatus    string                            `json:"overall_status"`
	FieldComparisons map[string]domain.FieldComparison `json:"field_comparisons,omitempty"`
	DiscrepancyCount int                               `json:"discrepancy_count"`
	MatchScore       float64                           `json:"match_score"`
	Summary          string                            `json:"summary,omitempty"`
	ValidatedAt      time.Time                         `json:"validated_at"`
}

type listValidationResultsResponse struct {
	Results []validationResultResponse `json:"results"`
}

type findingResponse struct {
	ID                 string         `json:"id"`
	ValidationResultID string         `json:"validation_result_id"`
	ValidationRuleID   string         `json:"validation_rule_id,omitempty"`
	FindingType        string         `json:"finding_type"`
	Severity           string         `json:"severity"`
	Field              string         `json:"field,omitempty"`
	Description        string         `json:"description"`
	Details            map[string]any `json:"details,omitempty"`
	ResolutionStatus   string         `json:"resolution_status"`
	CreatedAt          time.Time      `json:"created_at"`
}

type listFindingsResponse struct {
	Findings []findingResponse `json:"findings"`
}

type auditEntryResponse struct {
	ID             string         `json:"id"`
	DocumentID     string         `json:"document_id"`
	Action         string         `json:"action"`
	Details        map[string]any `json:"details,omitempty"`
	EngineConfigID string         `json:"engine_config_id,omitempty"`
	ActorID        string         `json:"actor_id"`
	CreatedAt      time.Time      `json:"created_at"`
}

type listAuditResponse struct {
	Entries []auditEntryResponse `json:"entries"`
}

type reviewDocumentResponse struct {
	DocumentID           string `json:"document_id"`
	Status               string `json:"status"`
	ValidationWorkflowID string `json:"validation_workflow_id,omitempty"`
}

type resolveFindingResponse struct {
	FindingID  string `json:"finding_id"`
	Resolution string `json:"resolution"`
}

type proposalResponse struct {
	ID                 string     `json:"id"`
	DocumentID         string     `json:"document_id"`
	ValidationResultID string     `json:"validation_result_id"`
	TargetModel        string     `json:"target_model"`
	TargetID           string     `json:"target_id"`
	FieldName          string     `json:"field_name"`
	CurrentValue       string     `json:"current_value"`
	ProposedValue      string     `json:"proposed_value"`
	Status             string     `json:"status"`
	ReviewedBy         string     `json:"reviewed_by,omitempty"`
	ReviewedAt         *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

type listProposalsResponse struct {
	Proposals []proposalResponse `json:"proposals"`
}

// engineConfigResponse never carries the API key.
type engineConfigResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	AdapterKind    string    `json:"adapter_kind"`
	EndpointURL    string    `json:"endpoint_url"`
	ModelID        string    `json:"model_id"`
	APIKeySet      bool      `json:"api_key_set"`
	IsPrimary      bool      `json:"is_primary"`
	IsFallback     bool      `json:"is_fallback"`
	IsActive       bool      `json:"is_active"`
	MaxTokens      int       `json:"max_tokens"`
	Temperature    float64   `json:"temperature"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type listEngineConfigsResponse struct {
	Configs []engineConfigResponse `json:"configs"`
}

type routingRuleResponse struct {
	ID             string    `json:"id"`
	Language       string    `json:"language,omitempty"`
	DocumentTypeID string    `json:"document_type_id,omitempty"`
	EngineConfigID string    `json:"engine_config_id"`
	MinConfidence  float64   `json:"min_confidence"`
	Priority       int       `json:"priority"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

type listRoutingRulesResponse struct {
	Rules []routingRuleResponse `json:"rules"`
}

type capabilityScoreResponse struct {
	ID             string    `json:"id"`
	EngineConfigID string    `json:"engine_config_id"`
	Language       string    `json:"language"`
	DocumentTypeID string    `json:"document_type_id,omitempty"`
	AccuracyScore  float64   `json:"accuracy_score"`
	SpeedScore     float64   `json:"speed_score"`
	CostPerPage    string    `json:"cost_per_page"`
	IsActive       bool      `json:"is_active"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type listCapabilityScoresResponse struct {
	Scores []capabilityScoreResponse `json:"scores"`
}

type routingPolicyResponse struct {
	AccuracyWeight float64   `json:"accuracy_weight"`
	CostWeight     float64   `json:"cost_weight"`
	SpeedWeight    float64   `json:"speed_weight"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type validationRuleResponse struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	RuleType       string          `json:"rule_type"`
	RuleDefinition json.RawMessage `json:"rule_definition"`
	Severity       string          `json:"severity"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type listValidationRulesResponse struct {
	Rules []validationRuleResponse `json:"rules"`
}

type documentTypeResponse struct {
	ID                  string                    `json:"id"`
	Code                string                    `json:"code"`
	Name                string                    `json:"name"`
	ExtractionTemplate  domain.ExtractionTemplate `json:"extraction_template"`
	ClassificationHints string                    `json:"classification_hints,omitempty"`
	IsActive            bool                      `json:"is_active"`
	CreatedAt           time.Time                 `json:"created_at"`
	UpdatedAt           time.Time                 `json:"updated_at"`
}

type listDocumentTypesResponse struct {
	Types []documentTypeResponse `json:"types"`
}

type engineHealthResponse struct {
	EngineConfigID string `json:"engine_config_id"`
	Name           string `json:"name"`
	Healthy        bool   `json:"healthy"`
	Error          string `json:"error,omitempty"`
}

type listEngineHealthResponse struct {
	Engines []engineHealthResponse `json:"engines"`
}

// Converter functions

func domainDocumentToResponse(d *domain.Document) documentResponse {
	resp := documentResponse{
		ID:                       d.ID.String(),
		OriginalFilename:         d.OriginalFilename,
		MimeType:                 d.MimeType,
		FileSizeBytes:            d.FileSizeBytes,
		Status:                   string(d.Status),
		ClassificationConfidence: d.ClassificationConfidence,
		Preprocessing:            d.PreprocessingMetadata,
		CreatedAt:                d.CreatedAt,
		UpdatedAt:                d.UpdatedAt,
	}
	if d.ErrorMessage != nil {
		resp.ErrorMessage = *d.ErrorMessage
	}
	if d.DocumentTypeID != nil {
		resp.DocumentTypeID = d.DocumentTypeID.String()
	}
	if d.Language != nil {
		resp.Language = *d.Language
	}
	if d.SelectedEngineID != nil {
		resp.SelectedEngineID = d.SelectedEngineID.String()
	}
	if d.LinkedClaimID != nil {
		resp.LinkedClaimID = *d.LinkedClaimID
	}
	if d.WorkflowID != nil {
		resp.WorkflowID = *d.WorkflowID
	}
	return resp
}

func domainExtractionToResponse(r *domain.ExtractionResult) extractionResultResponse {
	return extractionResultResponse{
		ID:                  r.ID.String(),
		DocumentID:          r.DocumentID.String(),
		StructuredData:      r.StructuredData,
		FieldConfidences:    r.FieldConfidences,
		AggregateConfidence: r.AggregateConfidence,
		ProcessingTimeMs:    r.ProcessingTimeMs,
		TokensUsed:          r.TokensUsed,
		CreatedAt:           r.CreatedAt,
	}
}

func domainValidationResultToResponse(r *domain.ValidationResult) validationResultResponse {
	return validationResultResponse{
		ID:               r.ID.String(),
		DocumentID:       r.DocumentID.String(),
		ValidationType:   string(r.ValidationType),
		OverallStatus:    string(r.OverallStatus),
		FieldComparisons: r.FieldComparisons,
		DiscrepancyCount: r.DiscrepancyCount,
		MatchScore:       r.MatchScore,
		Summary:          r.Summary,
		ValidatedAt:      r.ValidatedAt,
	}
}

func domainFindingToResponse(f *domain.ValidationFinding) findingResponse {
	resp := findingResponse{
		ID:                 f.ID.String(),
		ValidationResultID: f.ValidationResultID.String(),
		FindingType:        string(f.FindingType),
		Severity:           string(f.Severity),
		Field:              f.Field,
		Description:        f.Description,
		Details:            f.Details,
		ResolutionStatus:   string(f.ResolutionStatus),
		CreatedAt:          f.CreatedAt,
	}
	if f.ValidationRuleID != nil {
		resp.ValidationRuleID = f.ValidationRuleID.String()
	}
	return resp
}

func domainAuditToResponse(a *domain.AuditLog) auditEntryResponse {
	resp := auditEntryResponse{
		ID:         a.ID.String(),
		DocumentID: a.DocumentID.String(),
		Action:     string(a.Action),
		Details:    a.Details,
		ActorID:    a.ActorID,
		CreatedAt:  a.CreatedAt,
	}
	if a.EngineConfigID != nil {
		resp.EngineConfigID = a.EngineConfigID.String()
	}
	return resp
}

func domainProposalToResponse(p *domain.RegistryUpdateProposal) proposalResponse {
	resp := proposalResponse{
		ID:                 p.ID.String(),
		DocumentID:         p.DocumentID.String(),
		ValidationResultID: p.ValidationResultID.String(),
		TargetModel:        p.TargetModel,
		TargetID:           p.TargetID,
		FieldName:          p.FieldName,
		CurrentValue:       p.CurrentValue,
		ProposedValue:      p.ProposedValue,
		Status:             string(p.Status),
		ReviewedAt:         p.ReviewedAt,
		CreatedAt:          p.CreatedAt,
	}
	if p.ReviewedBy != nil {
		resp.ReviewedBy = *p.ReviewedBy
	}
	return resp
}

func domainEngineConfigToResponse(c *domain.EngineConfig) engineConfigResponse {
	return engineConfigResponse{
		ID:             c.ID.String(),
		Name:           c.Name,
		AdapterKind:    string(c.AdapterKind),
		EndpointURL:    c.EndpointURL,
		ModelID:        c.ModelID,
		APIKeySet:      c.APIKey != "",
		IsPrimary:      c.IsPrimary,
		IsFallback:     c.IsFallback,
		IsActive:       c.IsActive,
		MaxTokens:      c.MaxTokens,
		Temperature:    c.Temperature,
		TimeoutSeconds: c.TimeoutSeconds,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func domainRoutingRuleToResponse(r *domain.EngineRoutingRule) routingRuleResponse {
	resp := routingRuleResponse{
		ID:             r.ID.String(),
		EngineConfigID: r.EngineConfigID.String(),
		MinConfidence:  r.MinConfidence,
		Priority:       r.Priority,
		IsActive:       r.IsActive,
		CreatedAt:      r.CreatedAt,
	}
	if r.Language != nil {
		resp.Language = *r.Language
	}
	if r.DocumentTypeID != nil {
		resp.DocumentTypeID = r.DocumentTypeID.String()
	}
	return resp
}

func domainCapabilityScoreToResponse(s *domain.EngineCapabilityScore) capabilityScoreResponse {
	resp := capabilityScoreResponse{
		ID:             s.ID.String(),
		EngineConfigID: s.EngineConfigID.String(),
		Language:       s.Language,
		AccuracyScore:  s.AccuracyScore,
		SpeedScore:     s.SpeedScore,
		CostPerPage:    s.CostPerPage.String(),
		IsActive:       s.IsActive,
		UpdatedAt:      s.UpdatedAt,
	}
	if s.DocumentTypeID != nil {
		resp.DocumentTypeID = s.DocumentTypeID.String()
	}
	return resp
}

func domainValidationRuleToResponse(r *domain.ValidationRule) validationRuleResponse {
	return validationRuleResponse{
		ID:             r.ID.String(),
		Name:           r.Name,
		RuleType:       string(r.RuleType),
		RuleDefinition: r.RuleDefinition,
		Severity:       string(r.Severity),
		IsActive:       r.IsActive,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func domainDocumentTypeToResponse(t *domain.DocumentType) documentTypeResponse {
	return documentTypeResponse{
		ID:                  t.ID.String(),
		Code:                t.Code,
		Name:                t.Name,
		ExtractionTemplate:  t.ExtractionTemplate,
		ClassificationHints: t.ClassificationHints,
		IsActive:            t.IsActive,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
}

func engineHealthToResponse(h engine.EngineHealth) engineHealthResponse {
	return engineHealthResponse{
		EngineConfigID: h.EngineConfigID.String(),
		Name:           h.Name,
		Healthy:        h.Healthy,
		Error:          h.Error,
	}
}
