package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// Engine configuration

type engineConfigRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	AdapterKind string `json:"adapter_kind" validate:"required,oneof=mistral openai deepseek openrouter"`
	EndpointURL string `json:"endpoint_url" validate:"required,url"`
	// APIKey is accepted on create and update; an empty value on update
	// keeps the stored key.
	APIKey         string  `json:"api_key,omitempty"`
	ModelID        string  `json:"model_id" validate:"required,max=200"`
	IsPrimary      bool    `json:"is_primary"`
	IsFallback     bool    `json:"is_fallback"`
	IsActive       *bool   `json:"is_active,omitempty"`
	MaxTokens      int     `json:"max_tokens" validate:"omitempty,min=1,max=100000"`
	Temperature    float64 `json:"temperature" validate:"gte=0,lte=2"`
	TimeoutSeconds int     `json:"timeout_seconds" validate:"omitempty,min=1,max=600"`
}

func (s *Server) createEngineConfig(w http.ResponseWriter, r *http.Request) {
	var req engineConfigRequest
	if !decodeJSONRequest(w, r, &req) {
		return
	}

	now := time.Now().UTC()
	cfg := &domain.EngineConfig{
		ID:             uuid.New(),
		Name:           req.Name,
		AdapterKind:    domain.AdapterKind(req.AdapterKind),
		EndpointURL:    req.EndpointURL,
		APIKey:         req.APIKey,
		ModelID:        req.ModelID,
		IsPrimary:      req.IsPrimary,
		IsFallback:     req.IsFallback,
		IsActive:       true,
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		TimeoutSeconds: req.TimeoutSeconds,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.IsActive != nil {
		cfg.IsActive = *req.IsActive
	}

	if err := s.engines.CreateEngineConfig(r.Context(), cfg); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, domainEngineConfigToResponse(cfg))
}

func (s *Server) updateEngineConfig(w http.ResponseWriter, r *http.Request) {
	configID, ok := parseUUID(w, chi.URLParam(r, "configID"), "config_id")
	if !ok {
		return
	}

	var req engineConfigRequest
	if !decodeJSONRequest(w, r, &req) {
		return
	}

	cfg, err := s.engines.GetEngineConfig(r.Context(), configID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	cfg.Name = req.Name
	cfg.AdapterKind = domain.AdapterKind(req.AdapterKind)
	cfg.EndpointURL = req.EndpointURL
	cfg.ModelID = req.ModelID
	cfg.IsPrimary = req.IsPrimary
	cfg.IsFallback = req.IsFallback
	cfg.MaxTokens = req.MaxTokens
	cfg.Temperature = req.Temperature
	cfg.TimeoutSeconds = req.TimeoutSeconds
	if req.APIKey != "" {
		cfg.APIKey = req.APIKey
	}
	if req.IsActive != nil {
		cfg.IsActive = *req.IsActive
	}

	if err := s.engines.UpdateEngineConfig(r.Context(), cfg); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainEngineConfigToResponse(cfg))
}

func (s *Server) getEngineConfig(w http.ResponseWriter, r *http.Request) {
	configID, ok := parseUUID(w, chi.URLParam(r, "configID"), "config_id")
	if !ok {
		return
	}

	cfg, err := s.engines.GetEngineConfig(r.Context(), configID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainEngineConfigToResponse(cfg))
}

func (s *Server) listEngineConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.engines.ActiveEngineConfigs(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]engineConfigResponse, len(configs))
	for i := range configs {
		responses[i] = domainEngineConfigToResponse(&configs[i])
	}

	writeJSON(w, http.StatusOK, listEngineConfigsResponse{Configs: responses})
}

// Routing rules

type routingRuleRequest struct {
	Language       *string `json:"language,omitempty" validate:"omitempty,len=2"`
	DocumentTypeID *string `json:"document_type_id,omitempty" validate:"omitempty,uuid"`
	EngineConfigID string  `json:"engine_config_id" validate:"required,uuid"`
	MinConfidence  float64 `json:"min_confidence" validate:"gte=0,lte=1"`
	Priority       int     `json:"priority" validate:"gte=0"`
	IsActive       *bool   `json:"is_active,omitempty"`
}

func (s *Server) createRoutingRule(w http.ResponseWriter, r *http.Request) {
	var req routingRuleRequest
	if !decodeJSONRequest(w, r, &req) {
		return
	}

	now := time.Now().UTC()
	rule := &domain.EngineRoutingRule{
		ID:             uuid.New(),
		Language:       req.Language,
		EngineConfigID: uuid.MustParse(req.EngineConfigID),
		MinConfidence:  req.MinConfidence,
		Priority:       req.Priority,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.DocumentTypeID != nil {
		typeID := uuid.MustParse(*req.DocumentTypeID)
		rule.DocumentTypeID = &typeID
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}

	if err := s.engines.CreateRoutingRule(r.Context(), rule); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, domainRoutingRuleToResponse(rule))
}

func (s *Server) listRoutingRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.engines.ActiveRoutingRules(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]routingRuleResponse, len(rules))
	for i := range rules {
		responses[i] = domainRoutingRuleToResponse(&rules[i])
	}

	writeJSON(w, http.StatusOK, listRoutingRulesResponse{Rules: responses})
}

// Capability scores

type capabilityScoreRequest struct {
	EngineConfigID string  `json:"engine_config_id" validate:"required,uuid"`
	Language       string  `json:"language" validate:"required,len=2"`
	DocumentTypeID *string `json:"document_type_id,omitempty" validate:"omitempty,uuid"`
	AccuracyScore  float64 `json:"accuracy_score" validate:"gte=0,lte=100"`
	SpeedScore     float64 `json:"speed_score" validate:"gte=0,lte=100"`
	CostPerPage    string  `json:"cost_per_page" validate:"required"`
	IsActive       *bool   `json:"is_active,omitempty"`
}

func (s *Server) listCapabilityScores(w http.ResponseWriter, r *http.Request) {
	language := r.URL.Query().Get("language")
	if language == "" {
		writeError(w, http.StatusBadRequest, "language query parameter is required")
		return
	}

	scores, err := s.engines.ActiveCapabilityScores(r.Context(), language)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]capabilityScoreResponse, len(scores))
	for i := range scores {
		responses[i] = domainCapabilityScoreToResponse(&scores[i])
	}

	writeJSON(w, http.StatusOK, listCapabilityScoresResponse{Scores: responses})
}

func (s *Server) upsertCapabilityScore(w http.ResponseWriter, r *http.Request) {
	var req capabilityScoreRequest
	if !decodeJSONRequest(w, r, &req) {
		return
	}

	cost, err := decimal.NewFromString(req.CostPerPage)
	if err != nil || cost.IsNegative() {
		writeError(w, http.StatusBadRequest, "cost_per_page must be a non-negative decimal")
		return
	}

	now := time.Now().UTC()
	score := &domain.EngineCapabilityScore{
		ID:             uuid.New(),
		EngineConfigID: uuid.MustParse(req.EngineConfigID),
		Language:       req.Language,
		AccuracyScore:  req.AccuracyScore,
		SpeedScore:     req.SpeedScore,
		CostPerPage:    cost,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.DocumentTypeID != nil {
		typeID := uuid.MustParse(*req.DocumentTypeID)
		score.DocumentTypeID = &typeID
	}
	if req.IsActive != nil {
		score.IsActive = *req.IsActive
	}

	if err := s.engines.UpsertCapabilityScore(r.Context(), score); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainCapabilityScoreToResponse(score))
}

// Routing policy

type routingPolicyRequest struct {
	AccuracyWeight float64 `json:"accuracy_weight" validate:"gte=0,lte=1"`
	CostWeight     float64 `json:"cost_weight" validate:"gte=0,lte=1"`
	SpeedWeight    float64 `json:"speed_weight" validate:"gte=0,lte=1"`
}

func (s *Server) getRoutingPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := s.engines.GetRoutingPolicy(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, routingPolicyResponse{
		AccuracyWeight: policy.AccuracyWeight,
		CostWeight:     policy.CostWeight,
		SpeedWeight:    policy.SpeedWeight,
		UpdatedAt:      policy.UpdatedAt,
	})
}

func (s *Server) updateRoutingPolicy(w http.ResponseWriter, r *http.Request) {
	var req routingPolicyRequest
	if !decodeJSONRequest(w, r, &req) {
		return
	}
	if req.AccuracyWeight+req.CostWeight+req.SpeedWeight <= 0 {
		writeError(w, http.StatusBadRequest, "at least one weight must be positive")
		return
	}

	policy := domain.RoutingPolicy{
		AccuracyWeight: req.AccuracyWeight,
		CostWeight:     req.CostWeight,
		SpeedWeight:    req.SpeedWeight,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := s.engines.UpdateRoutingPolicy(r.Context(), policy); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, routingPolicyResponse{
		AccuracyWeight: policy.AccuracyWeight,
		CostWeight:     policy.CostWeight,
		SpeedWeight:    policy.SpeedWeight,
		UpdatedAt:      policy.UpdatedAt,
	})
}

// Validation rules

type validationRuleRequest struct {
	Name           string          `json:"name" validate:"required,max=200"`
	RuleType       string          `json:"rule_type" validate:"required,oneof=eligibility clinical fraud registry"`
	RuleDefinition json.RawMessage `json:"rule_definition" validate:"required"`
	Severity       string          `json:"severity" validate:"required,oneof=info warning error"`
	IsActive       *bool           `json:"is_active,omitempty"`
}

func (s *Server) createValidationRule(w http.ResponseWriter, r *http.Request) {
	var req validationRuleRequest
	if !decodeJSONRequest(w, r, &req) {
		return
	}

	now := time.Now().UTC()
	rule := &domain.ValidationRule{
		ID:             uuid.New(),
		Name:           req.Name,
		RuleType:       domain.RuleType(req.RuleType),
		RuleDefinition: req.RuleDefinition,
		Severity:       domain.Severity(req.Severity),
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}

	if err := s.validations.CreateRule(r.Context(), rule); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, domainValidationRuleToResponse(rule))
}

func (s *Server) updateValidationRule(w http.ResponseWriter, r *http.Request) {
	ruleID, ok := parseUUID(w, chi.URLParam(r, "ruleID"), "rule_id")
	if !ok {
		return
	}

	var req validationRuleRequest
	if !decodeJSONRequest(w, r, &req) {
		return
	}

	rule := &domain.ValidationRule{
		ID:             ruleID,
		Name:           req.Name,
		RuleType:       domain.RuleType(req.RuleType),
		RuleDefinition: req.RuleDefinition,
		Severity:       domain.Severity(req.Severity),
		IsActive:       true,
		UpdatedAt:      time.Now().UTC(),
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}

	if err := s.validations.UpdateRule(r.Context(), rule); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainValidationRuleToResponse(rule))
}

func (s *Server) listValidationRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.validations.ActiveValidationRules(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]validationRuleResponse, len(rules))
	for i := range rules {
		responses[i] = domainValidationRuleToResponse(&rules[i])
	}

	writeJSON(w, http.StatusOK, listValidationRulesResponse{Rules: responses})
}

// Document types

type documentTypeRequest struct {
	Code                string                    `json:"code" validate:"required,max=100"`
	Name                string                    `json:"name" validate:"required,max=200"`
	ExtractionTemplate  domain.ExtractionTemplate `json:"extraction_template" validate:"required"`
	ClassificationHints string                    `json:"classification_hints,omitempty" validate:"max=4000"`
	IsActive            *bool                     `json:"is_active,omitempty"`
}

func (s *Server) createDocumentType(w http.ResponseWriter, r *http.Request) {
	var req documentTypeRequest
	if !decodeJSONRequest(w, r, &req) {
		return
	}

	now := time.Now().UTC()
	docType := &domain.DocumentType{
		ID:                  uuid.New(),
		Code:                req.Code,
		Name:                req.Name,
		ExtractionTemplate:  req.ExtractionTemplate,
		ClassificationHints: req.ClassificationHints,
		IsActive:            true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if req.IsActive != nil {
		docType.IsActive = *req.IsActive
	}

	if err := s.docTypes.Create(r.Context(), docType); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, domainDocumentTypeToResponse(docType))
}

func (s *Server) updateDocumentType(w http.ResponseWriter, r *http.Request) {
	typeID, ok := parseUUID(w, chi.URLParam(r, "typeID"), "type_id")
	if !ok {
		return
	}

	var req documentTypeRequest
	if !decodeJSONRequest(w, r, &req) {
		return
	}

	docType, err := s.docTypes.Get(r.Context(), typeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	docType.Code = req.Code
	docType.Name = req.Name
	docType.ExtractionTemplate = req.ExtractionTemplate
	docType.ClassificationHints = req.ClassificationHints
	if req.IsActive != nil {
		docType.IsActive = *req.IsActive
	}

	if err := s.docTypes.Update(r.Context(), docType); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainDocumentTypeToResponse(docType))
}

func (s *Server) getDocumentType(w http.ResponseWriter, r *http.Request) {
	typeID, ok := parseUUID(w, chi.URLParam(r, "typeID"), "type_id")
	if !ok {
		return
	}

	docType, err := s.docTypes.Get(r.Context(), typeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainDocumentTypeToResponse(docType))
}

func (s *Server) listDocumentTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.docTypes.ListActive(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]documentTypeResponse, len(types))
	for i := range types {
		responses[i] = domainDocumentTypeToResponse(&types[i])
	}

	writeJSON(w, http.StatusOK, listDocumentTypesResponse{Types: responses})
}
