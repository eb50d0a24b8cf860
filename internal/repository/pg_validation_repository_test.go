package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimsight/document-processing-service/internal/domain"
)

func TestPgValidationRepository_CreateRule(t *testing.T) {
	t.Run("accepts a well-formed clinical rule", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgValidationRepository(mock)
		rule := &domain.ValidationRule{
			Name:           "asthma services",
			RuleType:       domain.RuleTypeClinical,
			RuleDefinition: json.RawMessage(`{"allowed_icd_service_map": {"J45": ["CONS", "NEBU"]}}`),
			Severity:       domain.SeverityWarning,
			IsActive:       true,
		}

		mock.ExpectExec(`INSERT INTO validation_rules`).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, repo.CreateRule(context.Background(), rule))
		assert.NotEqual(t, uuid.Nil, rule.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects a clinical rule without the service map", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgValidationRepository(mock)
		rule := &domain.ValidationRule{
			Name:           "broken",
			RuleType:       domain.RuleTypeClinical,
			RuleDefinition: json.RawMessage(`{"services": ["CONS"]}`),
			Severity:       domain.SeverityWarning,
		}

		err = repo.CreateRule(context.Background(), rule)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("rejects a registry rule with non-string fields", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgValidationRepository(mock)
		rule := &domain.ValidationRule{
			Name:           "broken registry",
			RuleType:       domain.RuleTypeRegistry,
			RuleDefinition: json.RawMessage(`{"insuree_fields": [42]}`),
			Severity:       domain.SeverityInfo,
		}

		err = repo.CreateRule(context.Background(), rule)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("rejects an unknown rule type", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgValidationRepository(mock)
		rule := &domain.ValidationRule{
			Name:           "mystery",
			RuleType:       domain.RuleType("actuarial"),
			RuleDefinition: json.RawMessage(`{}`),
		}

		err = repo.CreateRule(context.Background(), rule)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestPgValidationRepository_SaveValidationRun(t *testing.T) {
	t.Run("replaces the previous run atomically", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgValidationRepository(mock)
		docID := uuid.New()
		resultID := uuid.New()

		result := &domain.ValidationResult{
			ID:             resultID,
			DocumentID:     docID,
			ValidationType: domain.ValidationTypeDownstream,
			OverallStatus:  domain.OverallStatusPartialMatch,
			MatchScore:     0.9,
			Summary:        "2 rules evaluated, 1 findings",
			ValidatedAt:    time.Now().UTC(),
		}
		findings := []domain.ValidationFinding{{
			ValidationResultID: resultID,
			FindingType:        domain.FindingTypeWarning,
			Severity:           domain.SeverityWarning,
			Field:              "services",
			Description:        "service XRAY is not clinically compatible with diagnosis j45",
			ResolutionStatus:   domain.ResolutionStatusPending,
		}}
		proposals := []domain.RegistryUpdateProposal{{
			DocumentID:         docID,
			ValidationResultID: resultID,
			TargetModel:        "insuree",
			TargetID:           "070707070",
			FieldName:          "phone",
			CurrentValue:       "+243811111111",
			ProposedValue:      "+243822222222",
			Status:             domain.ProposalStatusProposed,
		}}

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM validation_results WHERE document_id = \$1 AND validation_type = \$2`).
			WithArgs(docID, domain.ValidationTypeDownstream).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mock.ExpectExec(`INSERT INTO validation_results`).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(`INSERT INTO validation_findings`).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(`INSERT INTO registry_update_proposals`).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		require.NoError(t, repo.SaveValidationRun(context.Background(), result, findings, proposals))
		assert.NotEqual(t, uuid.Nil, findings[0].ID)
		assert.NotEqual(t, uuid.Nil, proposals[0].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("a failed finding insert rolls back the run", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgValidationRepository(mock)
		docID := uuid.New()
		result := &domain.ValidationResult{
			DocumentID:     docID,
			ValidationType: domain.ValidationTypeUpstream,
			OverallStatus:  domain.OverallStatusMatched,
			MatchScore:     1.0,
			ValidatedAt:    time.Now().UTC(),
		}
		findings := []domain.ValidationFinding{{
			FindingType:      domain.FindingTypeWarning,
			Severity:         domain.SeverityWarning,
			ResolutionStatus: domain.ResolutionStatusPending,
		}}

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM validation_results`).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectExec(`INSERT INTO validation_results`).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(`INSERT INTO validation_findings`).
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err = repo.SaveValidationRun(context.Background(), result, findings, nil)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgValidationRepository_FindingResolution(t *testing.T) {
	t.Run("moves a pending finding to accepted", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgValidationRepository(mock)
		findingID := uuid.New()

		mock.ExpectExec(`UPDATE validation_findings SET resolution_status = \$1 WHERE id = \$2 AND resolution_status = \$3`).
			WithArgs(domain.ResolutionStatusAccepted, findingID, domain.ResolutionStatusPending).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.UpdateFindingResolution(context.Background(), findingID, domain.ResolutionStatusAccepted))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already resolved finding is a consistency error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgValidationRepository(mock)
		findingID := uuid.New()

		mock.ExpectExec(`UPDATE validation_findings SET resolution_status`).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT resolution_status FROM validation_findings WHERE id = \$1`).
			WithArgs(findingID).
			WillReturnRows(pgxmock.NewRows([]string{"resolution_status"}).AddRow(domain.ResolutionStatusRejected))

		err = repo.UpdateFindingResolution(context.Background(), findingID, domain.ResolutionStatusAccepted)
		assert.True(t, errors.Is(err, domain.ErrConsistency))
	})

	t.Run("missing finding is not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgValidationRepository(mock)
		findingID := uuid.New()

		mock.ExpectExec(`UPDATE validation_findings SET resolution_status`).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT resolution_status FROM validation_findings`).
			WillReturnError(pgx.ErrNoRows)

		err = repo.UpdateFindingResolution(context.Background(), findingID, domain.ResolutionStatusDeferred)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestPgValidationRepository_TransitionProposal(t *testing.T) {
	proposalRowColumns := []string{
		"id", "document_id", "validation_result_id", "target_model", "target_id",
		"field_name", "current_value", "proposed_value", "status", "reviewed_by", "reviewed_at",
		"created_at", "updated_at",
	}

	t.Run("compare-and-set succeeds when status matches", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgValidationRepository(mock)
		proposalID := uuid.New()
		reviewer := "reviewer-1"
		now := time.Now().UTC()

		mock.ExpectQuery(`UPDATE registry_update_proposals SET status = \$1, reviewed_by = \$2, reviewed_at = \$3, updated_at = \$3 WHERE id = \$4 AND status = \$5 RETURNING`).
			WithArgs(domain.ProposalStatusApproved, &reviewer, pgxmock.AnyArg(), proposalID, domain.ProposalStatusProposed).
			WillReturnRows(pgxmock.NewRows(proposalRowColumns).AddRow(
				proposalID, uuid.New(), uuid.New(), "insuree", "070707070",
				"phone", "+243811111111", "+243822222222", domain.ProposalStatusApproved, &reviewer, &now,
				now, now,
			))

		proposal, err := repo.TransitionProposal(context.Background(), proposalID,
			domain.ProposalStatusProposed, domain.ProposalStatusApproved, &reviewer)
		require.NoError(t, err)
		assert.Equal(t, domain.ProposalStatusApproved, proposal.Status)
		require.NotNil(t, proposal.ReviewedBy)
		assert.Equal(t, "reviewer-1", *proposal.ReviewedBy)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("status mismatch is a consistency error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgValidationRepository(mock)
		proposalID := uuid.New()
		reviewer := "reviewer-1"
		now := time.Now().UTC()

		mock.ExpectQuery(`UPDATE registry_update_proposals SET status`).
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(`SELECT (.+) FROM registry_update_proposals WHERE id = \$1`).
			WithArgs(proposalID).
			WillReturnRows(pgxmock.NewRows(proposalRowColumns).AddRow(
				proposalID, uuid.New(), uuid.New(), "insuree", "070707070",
				"phone", "+243811111111", "+243822222222", domain.ProposalStatusApplied, &reviewer, &now,
				now, now,
			))

		_, err = repo.TransitionProposal(context.Background(), proposalID,
			domain.ProposalStatusApproved, domain.ProposalStatusApplied, &reviewer)
		assert.True(t, errors.Is(err, domain.ErrConsistency))
	})

	t.Run("missing proposal is not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgValidationRepository(mock)
		proposalID := uuid.New()
		reviewer := "reviewer-1"

		mock.ExpectQuery(`UPDATE registry_update_proposals SET status`).
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(`SELECT (.+) FROM registry_update_proposals WHERE id = \$1`).
			WillReturnError(pgx.ErrNoRows)

		_, err = repo.TransitionProposal(context.Background(), proposalID,
			domain.ProposalStatusProposed, domain.ProposalStatusApproved, &reviewer)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestPgValidationRepository_ActiveValidationRules(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgValidationRepository(mock)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT (.+) FROM validation_rules WHERE is_active = TRUE ORDER BY name ASC`).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "rule_type", "rule_definition", "severity",
			"is_active", "created_at", "updated_at",
		}).AddRow(
			uuid.New(), "asthma services", domain.RuleTypeClinical,
			[]byte(`{"allowed_icd_service_map":{"J45":["CONS"]}}`), domain.SeverityWarning,
			true, now, now,
		))

	rules, err := repo.ActiveValidationRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, domain.RuleTypeClinical, rules[0].RuleType)

	var def domain.ClinicalRuleDefinition
	require.NoError(t, json.Unmarshal(rules[0].RuleDefinition, &def))
	assert.Equal(t, []string{"CONS"}, def.AllowedICDServiceMap["J45"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
