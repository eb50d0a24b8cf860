package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// ValidationRepository manages validation rules, validation runs and their
// findings, and registry update proposals. It backs both validation engines
// and the proposal review service.
type ValidationRepository interface {
	// CreateRule inserts a new validation rule. The rule definition is
	// validated against the JSON Schema for its rule type.
	CreateRule(ctx context.Context, rule *domain.ValidationRule) error

	// UpdateRule persists changes to a validation rule, re-validating the
	// rule definition.
	UpdateRule(ctx context.Context, rule *domain.ValidationRule) error

	// ActiveValidationRules returns active rules ordered by name.
	ActiveValidationRules(ctx context.Context) ([]domain.ValidationRule, error)

	// SaveValidationRun atomically replaces the previous run of the same
	// (document, validation type) with the given result, findings, and
	// proposals.
	SaveValidationRun(ctx context.Context, result *domain.ValidationResult, findings []domain.ValidationFinding, proposals []domain.RegistryUpdateProposal) error

	// GetValidationResults returns a document's validation results, at most
	// one per validation type.
	GetValidationResults(ctx context.Context, documentID uuid.UUID) ([]*domain.ValidationResult, error)

	// ListFindings returns the findings of a validation result.
	ListFindings(ctx context.Context, validationResultID uuid.UUID) ([]*domain.ValidationFinding, error)

	// UpdateFindingResolution moves a finding from pending to the given
	// resolution. Returns domain.ErrConsistency when the finding is no
	// longer pending.
	UpdateFindingResolution(ctx context.Context, findingID uuid.UUID, resolution domain.ResolutionStatus) error

	// GetProposal retrieves a registry update proposal by ID.
	GetProposal(ctx context.Context, id uuid.UUID) (*domain.RegistryUpdateProposal, error)

	// ListProposalsByStatus returns proposals in the given status, oldest
	// first.
	ListProposalsByStatus(ctx context.Context, status domain.ProposalStatus) ([]*domain.RegistryUpdateProposal, error)

	// TransitionProposal atomically moves a proposal from one status to
	// another. Returns domain.ErrConsistency when the proposal is not in
	// the expected status.
	TransitionProposal(ctx context.Context, id uuid.UUID, from, to domain.ProposalStatus, reviewedBy *string) (*domain.RegistryUpdateProposal, error)
}
