package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/claimsight/document-processing-service/internal/claims"
	"github.com/claimsight/document-processing-service/internal/domain"
)

// scalarComparisons maps upstream comparison names to accessors on the
// linked claim. The OCR side uses the same field names in structuredData.
var scalarComparisons = []struct {
	field string
	claim func(c *claims.Claim) any
}{
	{"chf_id", func(c *claims.Claim) any { return c.Insuree.CHFID }},
	{"last_name", func(c *claims.Claim) any { return c.Insuree.LastName }},
	{"other_names", func(c *claims.Claim) any { return c.Insuree.OtherNames }},
	{"dob", func(c *claims.Claim) any { return c.Insuree.DOB }},
	{"date_from", func(c *claims.Claim) any { return c.DateFrom }},
	{"date_to", func(c *claims.Claim) any { return c.DateTo }},
	{"visit_type", func(c *claims.Claim) any { return c.VisitType }},
	{"facility_code", func(c *claims.Claim) any { return c.Facility.Code }},
	{"facility_name", func(c *claims.Claim) any { return c.Facility.Name }},
	{"icd_code", func(c *claims.Claim) any { return c.ICDCode }},
	{"claimed_amount", func(c *claims.Claim) any { return c.ClaimedAmount }},
}

// UpstreamValidator diffs extracted document data against the linked
// external claim, field by field.
type UpstreamValidator struct {
	source claims.Source
	store  Store
	audit  AuditSink
	logger zerolog.Logger
}

// NewUpstreamValidator creates the upstream validation engine.
func NewUpstreamValidator(source claims.Source, store Store, audit AuditSink, logger zerolog.Logger) *UpstreamValidator {
	return &UpstreamValidator{
		source: source,
		store:  store,
		audit:  audit,
		logger: logger.With().Str("component", "upstream-validator").Logger(),
	}
}

// Validate runs the upstream comparison for one document. It is a no-op
// (nil result, nil error) when the document has no linked claim or no
// extraction result. A linked claim that cannot be found produces an
// error-status result rather than a failure.
func (v *UpstreamValidator) Validate(ctx context.Context, doc *domain.Document, extraction *domain.ExtractionResult) (*domain.ValidationResult, error) {
	if doc.LinkedClaimID == nil || *doc.LinkedClaimID == "" || extraction == nil {
		v.logger.Debug().
			Str("document_id", doc.ID.String()).
			Msg("Skipping upstream validation without linked claim or extraction")
		return nil, nil
	}

	claim, err := v.source.GetClaim(ctx, *doc.LinkedClaimID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return v.saveErrorResult(ctx, doc, fmt.Sprintf("linked claim %s not found", *doc.LinkedClaimID))
		}
		return nil, fmt.Errorf("load linked claim: %w", err)
	}

	// Every configured field is compared; a value missing from the OCR
	// payload normalizes to the empty string, so an absent OCR field
	// against a populated claim field is a discrepancy.
	comparisons := make(map[string]domain.FieldComparison)
	for _, sc := range scalarComparisons {
		ocrValue := extraction.StructuredData[sc.field]
		claimValue := sc.claim(claim)
		comparisons[sc.field] = domain.FieldComparison{
			OCR:   ocrValue,
			Claim: claimValue,
			Match: valuesMatch(ocrValue, claimValue),
		}
	}
	compareLines(comparisons, "items", extraction.StructuredData["items"], claim.Items)
	compareLines(comparisons, "services", extraction.StructuredData["services"], claim.Services)

	total := len(comparisons)
	matched := 0
	for _, cmp := range comparisons {
		if cmp.Match {
			matched++
		}
	}
	discrepancies := total - matched

	matchScore := 1.0
	if total > 0 {
		matchScore = float64(matched) / float64(total)
	}

	status := domain.OverallStatusMatched
	if discrepancies > 0 {
		if matchScore >= partialMatchThreshold {
			status = domain.OverallStatusPartialMatch
		} else {
			status = domain.OverallStatusMismatched
		}
	}

	result := &domain.ValidationResult{
		ID:               uuid.New(),
		DocumentID:       doc.ID,
		ValidationType:   domain.ValidationTypeUpstream,
		OverallStatus:    status,
		FieldComparisons: comparisons,
		DiscrepancyCount: discrepancies,
		MatchScore:       matchScore,
		Summary:          fmt.Sprintf("%d/%d fields matched against claim %s", matched, total, claim.ID),
		ValidatedAt:      time.Now().UTC(),
	}

	findings := make([]domain.ValidationFinding, 0, discrepancies)
	for field, cmp := range comparisons {
		if cmp.Match {
			continue
		}
		findings = append(findings, domain.ValidationFinding{
			ID:                 uuid.New(),
			ValidationResultID: result.ID,
			FindingType:        domain.FindingTypeWarning,
			Severity:           domain.SeverityWarning,
			Field:              field,
			Description:        fmt.Sprintf("extracted value does not match claim for %s", field),
			Details:            map[string]any{"ocr": cmp.OCR, "claim": cmp.Claim},
			ResolutionStatus:   domain.ResolutionStatusPending,
		})
	}

	if err := v.store.SaveValidationRun(ctx, result, findings, nil); err != nil {
		return nil, fmt.Errorf("save upstream validation: %w", err)
	}
	v.appendAudit(ctx, doc.ID, result.Summary, string(status))

	return result, nil
}

func (v *UpstreamValidator) saveErrorResult(ctx context.Context, doc *domain.Document, summary string) (*domain.ValidationResult, error) {
	result := &domain.ValidationResult{
		ID:             uuid.New(),
		DocumentID:     doc.ID,
		ValidationType: domain.ValidationTypeUpstream,
		OverallStatus:  domain.OverallStatusError,
		Summary:        summary,
		ValidatedAt:    time.Now().UTC(),
	}
	if err := v.store.SaveValidationRun(ctx, result, nil, nil); err != nil {
		return nil, fmt.Errorf("save upstream validation: %w", err)
	}
	v.appendAudit(ctx, doc.ID, summary, string(domain.OverallStatusError))
	return result, nil
}

// appendAudit records the run summary. Audit failures are logged, not
// surfaced; the validation result is already durable.
func (v *UpstreamValidator) appendAudit(ctx context.Context, documentID uuid.UUID, summary, status string) {
	entry := &domain.AuditLog{
		ID:         uuid.New(),
		DocumentID: documentID,
		Action:     domain.AuditActionValidation,
		Details: map[string]any{
			"validation_type": string(domain.ValidationTypeUpstream),
			"overall_status":  status,
			"summary":         summary,
		},
		ActorID:   "system",
		CreatedAt: time.Now().UTC(),
	}
	if err := v.audit.AppendAudit(ctx, entry); err != nil {
		v.logger.Warn().Err(err).Str("document_id", documentID.String()).Msg("Cannot append validation audit entry")
	}
}

// compareLines diffs OCR line items against claim lines matched by code.
// OCR lines absent from the claim are unmatched comparisons, not dropped.
func compareLines(comparisons map[string]domain.FieldComparison, kind string, ocrValue any, claimLines []claims.ClaimLine) {
	ocrLines, ok := ocrValue.([]any)
	if !ok {
		return
	}

	byCode := make(map[string]claims.ClaimLine, len(claimLines))
	for _, line := range claimLines {
		byCode[normalizeValue(line.Code)] = line
	}

	for i, raw := range ocrLines {
		line, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		code := normalizeValue(line["code"])
		if code == "" {
			code = fmt.Sprintf("#%d", i)
		}
		key := fmt.Sprintf("%s[%s]", kind, code)

		claimLine, found := byCode[code]
		if !found {
			comparisons[key] = domain.FieldComparison{
				OCR:   line["code"],
				Claim: nil,
				Match: false,
			}
			continue
		}

		if qty, ok := line["quantity"]; ok && qty != nil {
			comparisons[key+".quantity"] = domain.FieldComparison{
				OCR:   qty,
				Claim: claimLine.Quantity,
				Match: valuesMatch(qty, claimLine.Quantity),
			}
		}
		if price, ok := line["price"]; ok && price != nil {
			comparisons[key+".price"] = domain.FieldComparison{
				OCR:   price,
				Claim: claimLine.PriceAsked,
				Match: valuesMatch(price, claimLine.PriceAsked),
			}
		}
	}
}
