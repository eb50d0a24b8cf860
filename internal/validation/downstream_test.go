package validation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimsight/document-processing-service/internal/claims"
	"github.com/claimsight/document-processing-service/internal/domain"
)

func rule(ruleType domain.RuleType, severity domain.Severity, definition string) domain.ValidationRule {
	return domain.ValidationRule{
		ID:             uuid.New(),
		Name:           string(ruleType) + " rule",
		RuleType:       ruleType,
		RuleDefinition: json.RawMessage(definition),
		Severity:       severity,
		IsActive:       true,
	}
}

func TestDownstreamEligibility(t *testing.T) {
	ctx := context.Background()

	t.Run("no active policy is an error violation", func(t *testing.T) {
		source := newFakeClaimSource()
		source.claims["CLM-001"] = matchingClaim()
		store := &fakeStore{rules: []domain.ValidationRule{
			rule(domain.RuleTypeEligibility, domain.SeverityError, `{}`),
		}}
		validator := NewDownstreamValidator(source, store, &fakeAudit{}, zerolog.Nop())

		doc := linkedDocument("CLM-001")
		result, err := validator.Validate(ctx, doc, matchingExtraction(doc.ID))
		require.NoError(t, err)

		require.Len(t, store.savedFindings, 1)
		finding := store.savedFindings[0]
		assert.Equal(t, domain.FindingTypeViolation, finding.FindingType)
		assert.Equal(t, domain.SeverityError, finding.Severity)
		assert.Equal(t, domain.OverallStatusMismatched, result.OverallStatus)
		assert.InDelta(t, 0.9, result.MatchScore, 1e-9)
	})

	t.Run("uncovered billed lines are warnings", func(t *testing.T) {
		source := newFakeClaimSource()
		claim := matchingClaim()
		claim.Services = []claims.ClaimLine{{Code: "XRAY"}}
		source.claims["CLM-001"] = claim
		source.policies[claim.Insuree.CHFID] = &claims.Policy{
			ID:                  "POL-1",
			ProductCode:         "BASIC",
			CoveredItemCodes:    []string{"AMOX500"},
			CoveredServiceCodes: []string{"CONS"},
		}
		store := &fakeStore{rules: []domain.ValidationRule{
			rule(domain.RuleTypeEligibility, domain.SeverityError, `{}`),
		}}
		validator := NewDownstreamValidator(source, store, &fakeAudit{}, zerolog.Nop())

		doc := linkedDocument("CLM-001")
		result, err := validator.Validate(ctx, doc, matchingExtraction(doc.ID))
		require.NoError(t, err)

		require.Len(t, store.savedFindings, 1)
		assert.Equal(t, domain.SeverityWarning, store.savedFindings[0].Severity)
		assert.Contains(t, store.savedFindings[0].Description, "XRAY")
		assert.Equal(t, domain.OverallStatusPartialMatch, result.OverallStatus)
	})

	t.Run("covered claim is clean", func(t *testing.T) {
		source := newFakeClaimSource()
		claim := matchingClaim()
		source.claims["CLM-001"] = claim
		source.policies[claim.Insuree.CHFID] = &claims.Policy{
			ID:               "POL-1",
			ProductCode:      "BASIC",
			CoveredItemCodes: []string{"AMOX500"},
		}
		store := &fakeStore{rules: []domain.ValidationRule{
			rule(domain.RuleTypeEligibility, domain.SeverityError, `{}`),
		}}
		validator := NewDownstreamValidator(source, store, &fakeAudit{}, zerolog.Nop())

		doc := linkedDocument("CLM-001")
		result, err := validator.Validate(ctx, doc, matchingExtraction(doc.ID))
		require.NoError(t, err)

		assert.Empty(t, store.savedFindings)
		assert.Equal(t, domain.OverallStatusMatched, result.OverallStatus)
		assert.InDelta(t, 1.0, result.MatchScore, 1e-9)
	})
}

func TestDownstreamClinical(t *testing.T) {
	ctx := context.Background()
	clinicalDef := `{"allowed_icd_service_map": {"J45": ["CONS", "NEBU"]}}`

	run := func(t *testing.T, services []any, icd any) *fakeStore {
		t.Helper()
		store := &fakeStore{rules: []domain.ValidationRule{
			rule(domain.RuleTypeClinical, domain.SeverityWarning, clinicalDef),
		}}
		validator := NewDownstreamValidator(newFakeClaimSource(), store, &fakeAudit{}, zerolog.Nop())

		doc := &domain.Document{ID: uuid.New(), Status: domain.DocumentStatusCompleted}
		extraction := &domain.ExtractionResult{
			ID:         uuid.New(),
			DocumentID: doc.ID,
			StructuredData: map[string]any{
				"icd_code": icd,
				"services": services,
			},
		}
		_, err := validator.Validate(ctx, doc, extraction)
		require.NoError(t, err)
		return store
	}

	t.Run("incompatible service flagged", func(t *testing.T) {
		store := run(t, []any{
			map[string]any{"code": "CONS"},
			map[string]any{"code": "XRAY"},
		}, "J45")

		require.Len(t, store.savedFindings, 1)
		assert.Contains(t, store.savedFindings[0].Description, "XRAY")
		assert.Equal(t, domain.FindingTypeWarning, store.savedFindings[0].FindingType)
	})

	t.Run("unmapped diagnosis is not flagged", func(t *testing.T) {
		store := run(t, []any{map[string]any{"code": "XRAY"}}, "Z99")
		assert.Empty(t, store.savedFindings)
	})

	t.Run("diagnosis match is case insensitive", func(t *testing.T) {
		store := run(t, []any{map[string]any{"code": "nebu"}}, "j45")
		assert.Empty(t, store.savedFindings)
	})

	t.Run("missing diagnosis skips the rule", func(t *testing.T) {
		store := run(t, []any{map[string]any{"code": "XRAY"}}, nil)
		assert.Empty(t, store.savedFindings)
	})
}

func TestDownstreamFraud(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicates flagged with capped id list", func(t *testing.T) {
		source := newFakeClaimSource()
		source.claims["CLM-001"] = matchingClaim()
		source.duplicates = []string{"D1", "D2", "D3", "D4", "D5", "D6", "D7"}
		store := &fakeStore{rules: []domain.ValidationRule{
			rule(domain.RuleTypeFraud, domain.SeverityWarning, `{}`),
		}}
		validator := NewDownstreamValidator(source, store, &fakeAudit{}, zerolog.Nop())

		doc := linkedDocument("CLM-001")
		_, err := validator.Validate(ctx, doc, matchingExtraction(doc.ID))
		require.NoError(t, err)

		require.Len(t, store.savedFindings, 1)
		details := store.savedFindings[0].Details
		assert.Len(t, details["duplicate_claim_ids"], 5)
		assert.Equal(t, 7, details["duplicate_count"])
	})

	t.Run("no duplicates no finding", func(t *testing.T) {
		source := newFakeClaimSource()
		source.claims["CLM-001"] = matchingClaim()
		store := &fakeStore{rules: []domain.ValidationRule{
			rule(domain.RuleTypeFraud, domain.SeverityWarning, `{}`),
		}}
		validator := NewDownstreamValidator(source, store, &fakeAudit{}, zerolog.Nop())

		doc := linkedDocument("CLM-001")
		_, err := validator.Validate(ctx, doc, matchingExtraction(doc.ID))
		require.NoError(t, err)
		assert.Empty(t, store.savedFindings)
	})
}

func TestDownstreamRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("differing contact fields produce proposals", func(t *testing.T) {
		source := newFakeClaimSource()
		claim := matchingClaim()
		claim.Insuree.Phone = "+243811111111"
		claim.Insuree.Email = "old@example.org"
		source.claims["CLM-001"] = claim
		store := &fakeStore{rules: []domain.ValidationRule{
			rule(domain.RuleTypeRegistry, domain.SeverityInfo, `{}`),
		}}
		validator := NewDownstreamValidator(source, store, &fakeAudit{}, zerolog.Nop())

		doc := linkedDocument("CLM-001")
		extraction := matchingExtraction(doc.ID)
		extraction.StructuredData["phone"] = "+243822222222"
		extraction.StructuredData["email"] = "old@example.org"

		_, err := validator.Validate(ctx, doc, extraction)
		require.NoError(t, err)

		require.Len(t, store.savedProposals, 1)
		proposal := store.savedProposals[0]
		assert.Equal(t, claims.ModelInsuree, proposal.TargetModel)
		assert.Equal(t, "070707070", proposal.TargetID)
		assert.Equal(t, "phone", proposal.FieldName)
		assert.Equal(t, "+243811111111", proposal.CurrentValue)
		assert.Equal(t, "+243822222222", proposal.ProposedValue)
		assert.Equal(t, domain.ProposalStatusProposed, proposal.Status)
		assert.Equal(t, doc.ID, proposal.DocumentID)

		require.Len(t, store.savedFindings, 1)
		assert.Equal(t, domain.FindingTypeUpdateProposal, store.savedFindings[0].FindingType)
	})

	t.Run("empty ocr value is not proposed", func(t *testing.T) {
		source := newFakeClaimSource()
		source.claims["CLM-001"] = matchingClaim()
		store := &fakeStore{rules: []domain.ValidationRule{
			rule(domain.RuleTypeRegistry, domain.SeverityInfo, `{}`),
		}}
		validator := NewDownstreamValidator(source, store, &fakeAudit{}, zerolog.Nop())

		doc := linkedDocument("CLM-001")
		extraction := matchingExtraction(doc.ID)
		extraction.StructuredData["phone"] = "  "

		_, err := validator.Validate(ctx, doc, extraction)
		require.NoError(t, err)
		assert.Empty(t, store.savedProposals)
	})

	t.Run("facility fields read facility-prefixed keys", func(t *testing.T) {
		source := newFakeClaimSource()
		claim := matchingClaim()
		claim.Facility.Name = "Old Clinic"
		source.claims["CLM-001"] = claim
		store := &fakeStore{rules: []domain.ValidationRule{
			rule(domain.RuleTypeRegistry, domain.SeverityInfo, `{"facility_fields": ["name"]}`),
		}}
		validator := NewDownstreamValidator(source, store, &fakeAudit{}, zerolog.Nop())

		doc := linkedDocument("CLM-001")
		extraction := matchingExtraction(doc.ID)
		extraction.StructuredData["facility_name"] = "New Clinic"

		_, err := validator.Validate(ctx, doc, extraction)
		require.NoError(t, err)

		require.Len(t, store.savedProposals, 1)
		assert.Equal(t, claims.ModelHealthFacility, store.savedProposals[0].TargetModel)
		assert.Equal(t, "HF01", store.savedProposals[0].TargetID)
		assert.Equal(t, "name", store.savedProposals[0].FieldName)
		assert.Equal(t, "Old Clinic", store.savedProposals[0].CurrentValue)
		assert.Equal(t, "New Clinic", store.savedProposals[0].ProposedValue)
	})

	t.Run("bare key is not read for facility fields", func(t *testing.T) {
		source := newFakeClaimSource()
		claim := matchingClaim()
		claim.Facility.Name = "Old Clinic"
		source.claims["CLM-001"] = claim
		store := &fakeStore{rules: []domain.ValidationRule{
			rule(domain.RuleTypeRegistry, domain.SeverityInfo, `{"facility_fields": ["name"]}`),
		}}
		validator := NewDownstreamValidator(source, store, &fakeAudit{}, zerolog.Nop())

		doc := linkedDocument("CLM-001")
		extraction := matchingExtraction(doc.ID)
		delete(extraction.StructuredData, "facility_name")
		extraction.StructuredData["name"] = "New Clinic"

		_, err := validator.Validate(ctx, doc, extraction)
		require.NoError(t, err)
		assert.Empty(t, store.savedProposals)
	})

	t.Run("prefixed insuree key wins over bare fallback", func(t *testing.T) {
		source := newFakeClaimSource()
		claim := matchingClaim()
		claim.Insuree.Phone = "+243811111111"
		source.claims["CLM-001"] = claim
		store := &fakeStore{rules: []domain.ValidationRule{
			rule(domain.RuleTypeRegistry, domain.SeverityInfo, `{"insuree_fields": ["phone"]}`),
		}}
		validator := NewDownstreamValidator(source, store, &fakeAudit{}, zerolog.Nop())

		doc := linkedDocument("CLM-001")
		extraction := matchingExtraction(doc.ID)
		extraction.StructuredData["insuree_phone"] = "+243833333333"
		extraction.StructuredData["phone"] = "+243822222222"

		_, err := validator.Validate(ctx, doc, extraction)
		require.NoError(t, err)

		require.Len(t, store.savedProposals, 1)
		assert.Equal(t, "+243833333333", store.savedProposals[0].ProposedValue)
	})

	t.Run("case difference is registry drift", func(t *testing.T) {
		source := newFakeClaimSource()
		claim := matchingClaim()
		claim.Facility.Name = "Viamo Clinic"
		source.claims["CLM-001"] = claim
		store := &fakeStore{rules: []domain.ValidationRule{
			rule(domain.RuleTypeRegistry, domain.SeverityInfo, `{"facility_fields": ["name"]}`),
		}}
		validator := NewDownstreamValidator(source, store, &fakeAudit{}, zerolog.Nop())

		doc := linkedDocument("CLM-001")
		extraction := matchingExtraction(doc.ID)
		extraction.StructuredData["facility_name"] = "VIAMO CLINIC"

		_, err := validator.Validate(ctx, doc, extraction)
		require.NoError(t, err)

		require.Len(t, store.savedProposals, 1)
		assert.Equal(t, "VIAMO CLINIC", store.savedProposals[0].ProposedValue)
	})
}

func TestDownstreamNoOpAndIsolation(t *testing.T) {
	ctx := context.Background()

	t.Run("no-op without extraction", func(t *testing.T) {
		store := &fakeStore{}
		validator := NewDownstreamValidator(newFakeClaimSource(), store, &fakeAudit{}, zerolog.Nop())

		result, err := validator.Validate(ctx, linkedDocument("CLM-001"), nil)
		require.NoError(t, err)
		assert.Nil(t, result)
		assert.Zero(t, store.saveCalls)
	})

	t.Run("claim-dependent rules skipped without linked claim", func(t *testing.T) {
		store := &fakeStore{rules: []domain.ValidationRule{
			rule(domain.RuleTypeEligibility, domain.SeverityError, `{}`),
			rule(domain.RuleTypeFraud, domain.SeverityWarning, `{}`),
		}}
		validator := NewDownstreamValidator(newFakeClaimSource(), store, &fakeAudit{}, zerolog.Nop())

		doc := &domain.Document{ID: uuid.New(), Status: domain.DocumentStatusCompleted}
		result, err := validator.Validate(ctx, doc, matchingExtraction(doc.ID))
		require.NoError(t, err)

		assert.Empty(t, store.savedFindings)
		assert.Equal(t, domain.OverallStatusMatched, result.OverallStatus)
	})

	t.Run("malformed rule definition is isolated", func(t *testing.T) {
		store := &fakeStore{rules: []domain.ValidationRule{
			rule(domain.RuleTypeClinical, domain.SeverityWarning, `{"allowed_icd_service_map": "not a map"}`),
			rule(domain.RuleTypeRegistry, domain.SeverityInfo, `{}`),
		}}
		source := newFakeClaimSource()
		source.claims["CLM-001"] = matchingClaim()
		validator := NewDownstreamValidator(source, store, &fakeAudit{}, zerolog.Nop())

		doc := linkedDocument("CLM-001")
		result, err := validator.Validate(ctx, doc, matchingExtraction(doc.ID))
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, 1, store.saveCalls)
	})
}
