package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/claimsight/document-processing-service/internal/claims"
	"github.com/claimsight/document-processing-service/internal/domain"
)

// maxDuplicateIDs caps how many duplicate claim identifiers a fraud
// finding lists.
const maxDuplicateIDs = 5

// defaultInsureeFields are the registry-rule insuree fields checked when a
// rule definition names none.
var defaultInsureeFields = []string{"phone", "email"}

// DownstreamValidator evaluates the active business rules against a
// document's extracted data and linked claim.
type DownstreamValidator struct {
	source claims.Source
	store  Store
	audit  AuditSink
	logger zerolog.Logger
}

// NewDownstreamValidator creates the downstream validation engine.
func NewDownstreamValidator(source claims.Source, store Store, audit AuditSink, logger zerolog.Logger) *DownstreamValidator {
	return &DownstreamValidator{
		source: source,
		store:  store,
		audit:  audit,
		logger: logger.With().Str("component", "downstream-validator").Logger(),
	}
}

// Validate runs all active rules for one document. It is a no-op (nil
// result, nil error) without an extraction result. Rules that need the
// linked claim are skipped when the document has none or it cannot be
// loaded; rule evaluation failures are isolated per rule.
func (v *DownstreamValidator) Validate(ctx context.Context, doc *domain.Document, extraction *domain.ExtractionResult) (*domain.ValidationResult, error) {
	if extraction == nil {
		v.logger.Debug().
			Str("document_id", doc.ID.String()).
			Msg("Skipping downstream validation without extraction result")
		return nil, nil
	}

	rules, err := v.store.ActiveValidationRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load validation rules: %w", err)
	}

	claim := v.loadClaim(ctx, doc)

	resultID := uuid.New()
	var findings []domain.ValidationFinding
	var proposals []domain.RegistryUpdateProposal

	for _, rule := range rules {
		var ruleFindings []domain.ValidationFinding
		var ruleProposals []domain.RegistryUpdateProposal
		var err error

		switch rule.RuleType {
		case domain.RuleTypeEligibility:
			ruleFindings, err = v.evalEligibility(ctx, rule, claim)
		case domain.RuleTypeClinical:
			ruleFindings, err = v.evalClinical(rule, extraction)
		case domain.RuleTypeFraud:
			ruleFindings, err = v.evalFraud(ctx, rule, claim)
		case domain.RuleTypeRegistry:
			ruleFindings, ruleProposals, err = v.evalRegistry(rule, doc, extraction, claim)
		default:
			v.logger.Warn().
				Str("rule_id", rule.ID.String()).
				Str("rule_type", string(rule.RuleType)).
				Msg("Skipping rule of unknown type")
			continue
		}
		if err != nil {
			v.logger.Warn().
				Err(err).
				Str("rule_id", rule.ID.String()).
				Str("rule_type", string(rule.RuleType)).
				Msg("Rule evaluation failed, skipping")
			continue
		}

		for i := range ruleFindings {
			ruleFindings[i].ValidationResultID = resultID
		}
		for i := range ruleProposals {
			ruleProposals[i].DocumentID = doc.ID
			ruleProposals[i].ValidationResultID = resultID
		}
		findings = append(findings, ruleFindings...)
		proposals = append(proposals, ruleProposals...)
	}

	result := &domain.ValidationResult{
		ID:               resultID,
		DocumentID:       doc.ID,
		ValidationType:   domain.ValidationTypeDownstream,
		OverallStatus:    downstreamOverallStatus(findings),
		DiscrepancyCount: len(findings),
		MatchScore:       downstreamMatchScore(len(findings)),
		Summary:          fmt.Sprintf("%d rules evaluated, %d findings", len(rules), len(findings)),
		ValidatedAt:      time.Now().UTC(),
	}

	if err := v.store.SaveValidationRun(ctx, result, findings, proposals); err != nil {
		return nil, fmt.Errorf("save downstream validation: %w", err)
	}
	v.appendAudit(ctx, doc.ID, result)

	return result, nil
}

func (v *DownstreamValidator) loadClaim(ctx context.Context, doc *domain.Document) *claims.Claim {
	if doc.LinkedClaimID == nil || *doc.LinkedClaimID == "" {
		return nil
	}
	claim, err := v.source.GetClaim(ctx, *doc.LinkedClaimID)
	if err != nil {
		v.logger.Warn().
			Err(err).
			Str("document_id", doc.ID.String()).
			Str("claim_id", *doc.LinkedClaimID).
			Msg("Cannot load linked claim, claim-dependent rules will be skipped")
		return nil
	}
	return claim
}

// evalEligibility checks for an active policy on the service date and
// flags billed lines the policy's product does not cover.
func (v *DownstreamValidator) evalEligibility(ctx context.Context, rule domain.ValidationRule, claim *claims.Claim) ([]domain.ValidationFinding, error) {
	if claim == nil {
		return nil, nil
	}

	ruleID := rule.ID
	policy, err := v.source.GetActivePolicy(ctx, claim.Insuree.CHFID, claim.DateFrom)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return []domain.ValidationFinding{{
				ID:               uuid.New(),
				ValidationRuleID: &ruleID,
				FindingType:      domain.FindingTypeViolation,
				Severity:         domain.SeverityError,
				Field:            "policy",
				Description:      fmt.Sprintf("no active policy for insuree %s on %s", claim.Insuree.CHFID, claim.DateFrom),
				Details:          map[string]any{"chf_id": claim.Insuree.CHFID, "service_date": claim.DateFrom},
				ResolutionStatus: domain.ResolutionStatusPending,
			}}, nil
		}
		return nil, fmt.Errorf("load active policy: %w", err)
	}

	var findings []domain.ValidationFinding
	uncovered := func(kind, code string) domain.ValidationFinding {
		return domain.ValidationFinding{
			ID:               uuid.New(),
			ValidationRuleID: &ruleID,
			FindingType:      domain.FindingTypeWarning,
			Severity:         domain.SeverityWarning,
			Field:            kind,
			Description:      fmt.Sprintf("billed %s %s is not covered by product %s", kind, code, policy.ProductCode),
			Details:          map[string]any{"code": code, "product_code": policy.ProductCode},
			ResolutionStatus: domain.ResolutionStatusPending,
		}
	}
	for _, item := range claim.Items {
		if !policy.CoversItem(item.Code) {
			findings = append(findings, uncovered("item", item.Code))
		}
	}
	for _, service := range claim.Services {
		if !policy.CoversService(service.Code) {
			findings = append(findings, uncovered("service", service.Code))
		}
	}
	return findings, nil
}

// evalClinical checks billed service codes against the rule's
// diagnosis-to-allowed-services map using the extracted diagnosis. An
// unmapped diagnosis is not flagged.
func (v *DownstreamValidator) evalClinical(rule domain.ValidationRule, extraction *domain.ExtractionResult) ([]domain.ValidationFinding, error) {
	var def domain.ClinicalRuleDefinition
	if err := json.Unmarshal(rule.RuleDefinition, &def); err != nil {
		return nil, fmt.Errorf("decode clinical rule definition: %w", err)
	}

	icdCode := normalizeValue(extraction.StructuredData["icd_code"])
	if icdCode == "" {
		return nil, nil
	}

	var allowed []string
	found := false
	for diagnosis, services := range def.AllowedICDServiceMap {
		if normalizeValue(diagnosis) == icdCode {
			allowed = services
			found = true
			break
		}
	}
	if !found {
		return nil, nil
	}

	allowedSet := make(map[string]bool, len(allowed))
	for _, code := range allowed {
		allowedSet[normalizeValue(code)] = true
	}

	ruleID := rule.ID
	var findings []domain.ValidationFinding
	for _, code := range extractedLineCodes(extraction.StructuredData["services"]) {
		if allowedSet[normalizeValue(code)] {
			continue
		}
		findings = append(findings, domain.ValidationFinding{
			ID:               uuid.New(),
			ValidationRuleID: &ruleID,
			FindingType:      domain.FindingTypeWarning,
			Severity:         rule.Severity,
			Field:            "services",
			Description:      fmt.Sprintf("service %s is not clinically compatible with diagnosis %s", code, icdCode),
			Details:          map[string]any{"service_code": code, "icd_code": icdCode},
			ResolutionStatus: domain.ResolutionStatusPending,
		})
	}
	return findings, nil
}

// evalFraud flags the claim when duplicates with the same insuree,
// facility, and service date exist.
func (v *DownstreamValidator) evalFraud(ctx context.Context, rule domain.ValidationRule, claim *claims.Claim) ([]domain.ValidationFinding, error) {
	if claim == nil {
		return nil, nil
	}

	duplicates, err := v.source.FindDuplicateClaims(ctx, claim)
	if err != nil {
		return nil, fmt.Errorf("find duplicate claims: %w", err)
	}
	if len(duplicates) == 0 {
		return nil, nil
	}
	listed := duplicates
	if len(listed) > maxDuplicateIDs {
		listed = listed[:maxDuplicateIDs]
	}

	ruleID := rule.ID
	return []domain.ValidationFinding{{
		ID:               uuid.New(),
		ValidationRuleID: &ruleID,
		FindingType:      domain.FindingTypeWarning,
		Severity:         domain.SeverityWarning,
		Field:            "claim",
		Description:      fmt.Sprintf("%d claims share the same insuree, facility, and service date", len(duplicates)),
		Details:          map[string]any{"duplicate_claim_ids": listed, "duplicate_count": len(duplicates)},
		ResolutionStatus: domain.ResolutionStatusPending,
	}}, nil
}

// evalRegistry compares extracted contact/demographic fields against the
// registry's current values; each non-empty differing value yields an
// update-proposal finding plus a proposal row. Insuree fields are read
// from the extraction as insuree_<field> with a bare-name fallback,
// facility fields as facility_<field> only. The drift comparison is
// case-sensitive after trimming.
func (v *DownstreamValidator) evalRegistry(rule domain.ValidationRule, doc *domain.Document, extraction *domain.ExtractionResult, claim *claims.Claim) ([]domain.ValidationFinding, []domain.RegistryUpdateProposal, error) {
	if claim == nil {
		return nil, nil, nil
	}

	var def domain.RegistryRuleDefinition
	if err := json.Unmarshal(rule.RuleDefinition, &def); err != nil {
		return nil, nil, fmt.Errorf("decode registry rule definition: %w", err)
	}
	insureeFields := def.InsureeFields
	if len(insureeFields) == 0 {
		insureeFields = defaultInsureeFields
	}

	ruleID := rule.ID
	var findings []domain.ValidationFinding
	var proposals []domain.RegistryUpdateProposal

	check := func(model, targetID, keyPrefix string, bareFallback bool, fields []string) {
		for _, field := range fields {
			currentValue, ok := claim.RegistryFieldValue(model, field)
			if !ok {
				continue
			}
			ocrRaw := extraction.StructuredData[keyPrefix+field]
			if bareFallback && strings.TrimSpace(stringify(ocrRaw)) == "" {
				ocrRaw = extraction.StructuredData[field]
			}
			proposedValue := strings.TrimSpace(stringify(ocrRaw))
			if proposedValue == "" || proposedValue == strings.TrimSpace(currentValue) {
				continue
			}

			findings = append(findings, domain.ValidationFinding{
				ID:               uuid.New(),
				ValidationRuleID: &ruleID,
				FindingType:      domain.FindingTypeUpdateProposal,
				Severity:         domain.SeverityInfo,
				Field:            field,
				Description:      fmt.Sprintf("document shows a different %s %s than the registry", model, field),
				Details:          map[string]any{"current": currentValue, "proposed": proposedValue},
				ResolutionStatus: domain.ResolutionStatusPending,
			})
			proposals = append(proposals, domain.RegistryUpdateProposal{
				ID:            uuid.New(),
				TargetModel:   model,
				TargetID:      targetID,
				FieldName:     field,
				CurrentValue:  currentValue,
				ProposedValue: proposedValue,
				Status:        domain.ProposalStatusProposed,
				CreatedAt:     time.Now().UTC(),
				UpdatedAt:     time.Now().UTC(),
			})
		}
	}

	check(claims.ModelInsuree, claim.Insuree.CHFID, "insuree_", true, insureeFields)
	check(claims.ModelHealthFacility, claim.Facility.Code, "facility_", false, def.FacilityFields)

	return findings, proposals, nil
}

func (v *DownstreamValidator) appendAudit(ctx context.Context, documentID uuid.UUID, result *domain.ValidationResult) {
	entry := &domain.AuditLog{
		ID:         uuid.New(),
		DocumentID: documentID,
		Action:     domain.AuditActionValidation,
		Details: map[string]any{
			"validation_type": string(domain.ValidationTypeDownstream),
			"overall_status":  string(result.OverallStatus),
			"summary":         result.Summary,
		},
		ActorID:   "system",
		CreatedAt: time.Now().UTC(),
	}
	if err := v.audit.AppendAudit(ctx, entry); err != nil {
		v.logger.Warn().Err(err).Str("document_id", documentID.String()).Msg("Cannot append validation audit entry")
	}
}

// extractedLineCodes pulls the line codes out of an extracted array field.
func extractedLineCodes(value any) []string {
	lines, ok := value.([]any)
	if !ok {
		return nil
	}
	var codes []string
	for _, raw := range lines {
		line, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if code := stringify(line["code"]); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}
