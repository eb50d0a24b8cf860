package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// Compile-time interface verification.
var _ ValidationRepository = (*PgValidationRepository)(nil)

// PgValidationRepository is a PostgreSQL implementation of ValidationRepository.
type PgValidationRepository struct {
	db DBTX
}

// NewPgValidationRepository creates a new PostgreSQL validation repository.
func NewPgValidationRepository(db DBTX) *PgValidationRepository {
	return &PgValidationRepository{db: db}
}

const validationRuleColumns = `id, name, rule_type, rule_definition, severity,
		is_active, created_at, updated_at`

// CreateRule inserts a new validation rule after schema-validating its
// definition.
func (r *PgValidationRepository) CreateRule(ctx context.Context, rule *domain.ValidationRule) error {
	if rule == nil {
		return domain.NewValidationError("rule", "validation rule cannot be nil")
	}
	if rule.Name == "" {
		return domain.NewValidationError("name", "name is required")
	}
	if err := validateRuleDefinition(rule.RuleType, rule.RuleDefinition); err != nil {
		return err
	}
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}

	query := fmt.Sprintf(`
		INSERT INTO validation_rules (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, validationRuleColumns)

	_, err := r.db.Exec(ctx, query,
		rule.ID, rule.Name, rule.RuleType, []byte(rule.RuleDefinition), rule.Severity,
		rule.IsActive, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("validation rule", rule.Name)
		}
		return fmt.Errorf("failed to create validation rule: %w", err)
	}

	return nil
}

// UpdateRule persists changes to a validation rule.
func (r *PgValidationRepository) UpdateRule(ctx context.Context, rule *domain.ValidationRule) error {
	if rule == nil {
		return domain.NewValidationError("rule", "validation rule cannot be nil")
	}
	if err := validateRuleDefinition(rule.RuleType, rule.RuleDefinition); err != nil {
		return err
	}

	rule.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE validation_rules SET
			name = $1,
			rule_type = $2,
			rule_definition = $3,
			severity = $4,
			is_active = $5,
			updated_at = $6
		WHERE id = $7`

	result, err := r.db.Exec(ctx, query,
		rule.Name, rule.RuleType, []byte(rule.RuleDefinition), rule.Severity,
		rule.IsActive, rule.UpdatedAt, rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update validation rule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("validation rule", rule.ID.String())
	}

	return nil
}

// ActiveValidationRules returns active rules ordered by name.
func (r *PgValidationRepository) ActiveValidationRules(ctx context.Context) ([]domain.ValidationRule, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM validation_rules
		WHERE is_active = TRUE
		ORDER BY name ASC`, validationRuleColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list validation rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.ValidationRule
	for rows.Next() {
		var (
			rule           domain.ValidationRule
			definitionJSON []byte
		)
		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.RuleType, &definitionJSON, &rule.Severity,
			&rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan validation rule: %w", err)
		}
		rule.RuleDefinition = json.RawMessage(definitionJSON)
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating validation rules: %w", err)
	}

	return rules, nil
}

// SaveValidationRun atomically replaces the previous run of the same
// (document, validation type). The delete cascades to the old run's
// findings and proposals.
func (r *PgValidationRepository) SaveValidationRun(ctx context.Context, result *domain.ValidationResult, findings []domain.ValidationFinding, proposals []domain.RegistryUpdateProposal) error {
	if result == nil {
		return domain.NewValidationError("result", "validation result cannot be nil")
	}
	if result.DocumentID == uuid.Nil {
		return domain.NewValidationError("document_id", "document ID is required")
	}
	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}

	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgValidationRepository{db: tx}
		if err := txRepo.saveValidationRunInTx(ctx, result, findings, proposals); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	return r.saveValidationRunInTx(ctx, result, findings, proposals)
}

func (r *PgValidationRepository) saveValidationRunInTx(ctx context.Context, result *domain.ValidationResult, findings []domain.ValidationFinding, proposals []domain.RegistryUpdateProposal) error {
	deleteQuery := `
		DELETE FROM validation_results
		WHERE document_id = $1 AND validation_type = $2`

	if _, err := r.db.Exec(ctx, deleteQuery, result.DocumentID, result.ValidationType); err != nil {
		return fmt.Errorf("failed to delete previous validation run: %w", err)
	}

	comparisonsJSON, err := json.Marshal(result.FieldComparisons)
	if err != nil {
		return fmt.Errorf("failed to marshal field comparisons: %w", err)
	}

	insertResult := `
		INSERT INTO validation_results (
			id, document_id, validation_type, overall_status, field_comparisons,
			discrepancy_count, match_score, summary, validated_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if _, err := r.db.Exec(ctx, insertResult,
		result.ID, result.DocumentID, result.ValidationType, result.OverallStatus, comparisonsJSON,
		result.DiscrepancyCount, result.MatchScore, result.Summary, result.ValidatedAt, result.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert validation result: %w", err)
	}

	insertFinding := `
		INSERT INTO validation_findings (
			id, validation_result_id, validation_rule_id, finding_type, severity,
			field, description, details, resolution_status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	for i := range findings {
		finding := &findings[i]
		if finding.ID == uuid.Nil {
			finding.ID = uuid.New()
		}
		if finding.CreatedAt.IsZero() {
			finding.CreatedAt = result.CreatedAt
		}

		detailsJSON, err := json.Marshal(finding.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal finding details: %w", err)
		}

		if _, err := r.db.Exec(ctx, insertFinding,
			finding.ID, finding.ValidationResultID, finding.ValidationRuleID, finding.FindingType, finding.Severity,
			finding.Field, finding.Description, detailsJSON, finding.ResolutionStatus, finding.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert validation finding: %w", err)
		}
	}

	insertProposal := `
		INSERT INTO registry_update_proposals (
			id, document_id, validation_result_id, target_model, target_id,
			field_name, current_value, proposed_value, status, reviewed_by, reviewed_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	for i := range proposals {
		proposal := &proposals[i]
		if proposal.ID == uuid.Nil {
			proposal.ID = uuid.New()
		}

		if _, err := r.db.Exec(ctx, insertProposal,
			proposal.ID, proposal.DocumentID, proposal.ValidationResultID, proposal.TargetModel, proposal.TargetID,
			proposal.FieldName, proposal.CurrentValue, proposal.ProposedValue, proposal.Status, proposal.ReviewedBy, proposal.ReviewedAt,
			proposal.CreatedAt, proposal.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert registry update proposal: %w", err)
		}
	}

	return nil
}

// GetValidationResults returns a document's validation results.
func (r *PgValidationRepository) GetValidationResults(ctx context.Context, documentID uuid.UUID) ([]*domain.ValidationResult, error) {
	query := `
		SELECT id, document_id, validation_type, overall_status, field_comparisons,
			discrepancy_count, match_score, summary, validated_at, created_at
		FROM validation_results
		WHERE document_id = $1
		ORDER BY validation_type ASC`

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list validation results: %w", err)
	}
	defer rows.Close()

	var results []*domain.ValidationResult
	for rows.Next() {
		var (
			result          domain.ValidationResult
			comparisonsJSON []byte
		)
		if err := rows.Scan(
			&result.ID, &result.DocumentID, &result.ValidationType, &result.OverallStatus, &comparisonsJSON,
			&result.DiscrepancyCount, &result.MatchScore, &result.Summary, &result.ValidatedAt, &result.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan validation result: %w", err)
		}
		if len(comparisonsJSON) > 0 {
			if err := json.Unmarshal(comparisonsJSON, &result.FieldComparisons); err != nil {
				return nil, fmt.Errorf("failed to unmarshal field comparisons: %w", err)
			}
		}
		results = append(results, &result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating validation results: %w", err)
	}

	return results, nil
}

// ListFindings returns the findings of a validation result.
func (r *PgValidationRepository) ListFindings(ctx context.Context, validationResultID uuid.UUID) ([]*domain.ValidationFinding, error) {
	query := `
		SELECT id, validation_result_id, validation_rule_id, finding_type, severity,
			field, description, details, resolution_status, created_at
		FROM validation_findings
		WHERE validation_result_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, validationResultID)
	if err != nil {
		return nil, fmt.Errorf("failed to list validation findings: %w", err)
	}
	defer rows.Close()

	var findings []*domain.ValidationFinding
	for rows.Next() {
		var (
			finding     domain.ValidationFinding
			detailsJSON []byte
		)
		if err := rows.Scan(
			&finding.ID, &finding.ValidationResultID, &finding.ValidationRuleID, &finding.FindingType, &finding.Severity,
			&finding.Field, &finding.Description, &detailsJSON, &finding.ResolutionStatus, &finding.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan validation finding: %w", err)
		}
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &finding.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal finding details: %w", err)
			}
		}
		findings = append(findings, &finding)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating validation findings: %w", err)
	}

	return findings, nil
}

// UpdateFindingResolution moves a pending finding to the given resolution.
func (r *PgValidationRepository) UpdateFindingResolution(ctx context.Context, findingID uuid.UUID, resolution domain.ResolutionStatus) error {
	query := `
		UPDATE validation_findings
		SET resolution_status = $1
		WHERE id = $2 AND resolution_status = $3`

	result, err := r.db.Exec(ctx, query, resolution, findingID, domain.ResolutionStatusPending)
	if err != nil {
		return fmt.Errorf("failed to update finding resolution: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Distinguish a missing finding from a finding already resolved.
		var status domain.ResolutionStatus
		err := r.db.QueryRow(ctx, `SELECT resolution_status FROM validation_findings WHERE id = $1`, findingID).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.NewNotFoundError("validation finding", findingID.String())
			}
			return fmt.Errorf("failed to check finding resolution: %w", err)
		}
		return domain.NewConsistencyError("validation finding", findingID.String(),
			fmt.Sprintf("finding already resolved as %s", status))
	}

	return nil
}

const proposalColumns = `id, document_id, validation_result_id, target_model, target_id,
		field_name, current_value, proposed_value, status, reviewed_by, reviewed_at,
		created_at, updated_at`

// GetProposal retrieves a registry update proposal by ID.
func (r *PgValidationRepository) GetProposal(ctx context.Context, id uuid.UUID) (*domain.RegistryUpdateProposal, error) {
	query := fmt.Sprintf(`SELECT %s FROM registry_update_proposals WHERE id = $1`, proposalColumns)

	var proposal domain.RegistryUpdateProposal
	err := r.db.QueryRow(ctx, query, id).Scan(proposalDest(&proposal)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("registry update proposal", id.String())
		}
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}

	return &proposal, nil
}

// ListProposalsByStatus returns proposals in the given status, oldest first.
func (r *PgValidationRepository) ListProposalsByStatus(ctx context.Context, status domain.ProposalStatus) ([]*domain.RegistryUpdateProposal, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM registry_update_proposals
		WHERE status = $1
		ORDER BY created_at ASC`, proposalColumns)

	rows, err := r.db.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []*domain.RegistryUpdateProposal
	for rows.Next() {
		var proposal domain.RegistryUpdateProposal
		if err := rows.Scan(proposalDest(&proposal)...); err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		proposals = append(proposals, &proposal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating proposals: %w", err)
	}

	return proposals, nil
}

// TransitionProposal atomically moves a proposal between statuses. The
// conditional UPDATE is the compare-and-set: a proposal no longer in the
// expected status affects zero rows and fails with a ConsistencyError.
func (r *PgValidationRepository) TransitionProposal(ctx context.Context, id uuid.UUID, from, to domain.ProposalStatus, reviewedBy *string) (*domain.RegistryUpdateProposal, error) {
	now := time.Now().UTC()

	query := fmt.Sprintf(`
		UPDATE registry_update_proposals
		SET status = $1, reviewed_by = $2, reviewed_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5
		RETURNING %s`, proposalColumns)

	var proposal domain.RegistryUpdateProposal
	err := r.db.QueryRow(ctx, query, to, reviewedBy, now, id, from).Scan(proposalDest(&proposal)...)
	if err == nil {
		return &proposal, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to transition proposal: %w", err)
	}

	// Zero rows: either the proposal does not exist or it is in another
	// status. Look it up to report which.
	current, getErr := r.GetProposal(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, domain.NewConsistencyError("registry update proposal", id.String(),
		fmt.Sprintf("proposal is in status %q, expected %q", current.Status, from))
}

func proposalDest(p *domain.RegistryUpdateProposal) []interface{} {
	return []interface{}{
		&p.ID, &p.DocumentID, &p.ValidationResultID, &p.TargetModel, &p.TargetID,
		&p.FieldName, &p.CurrentValue, &p.ProposedValue, &p.Status, &p.ReviewedBy, &p.ReviewedAt,
		&p.CreatedAt, &p.UpdatedAt,
	}
}
