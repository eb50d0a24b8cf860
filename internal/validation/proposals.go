package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/claimsight/document-processing-service/internal/claims"
	"github.com/claimsight/document-processing-service/internal/domain"
)

// ProposalStore persists registry update proposals. TransitionProposal is
// an atomic compare-and-set on status; a proposal not in the expected
// status fails with a ConsistencyError, which makes application
// exactly-once even under concurrent calls.
type ProposalStore interface {
	GetProposal(ctx context.Context, id uuid.UUID) (*domain.RegistryUpdateProposal, error)
	TransitionProposal(ctx context.Context, id uuid.UUID, from, to domain.ProposalStatus, reviewedBy *string) (*domain.RegistryUpdateProposal, error)
}

// ProposalService reviews and applies registry update proposals. Applying
// is the one place this service writes to the external system of record.
type ProposalService struct {
	store  ProposalStore
	source claims.Source
	audit  AuditSink
	logger zerolog.Logger
}

// NewProposalService creates the proposal review/application service.
func NewProposalService(store ProposalStore, source claims.Source, audit AuditSink, logger zerolog.Logger) *ProposalService {
	return &ProposalService{
		store:  store,
		source: source,
		audit:  audit,
		logger: logger.With().Str("component", "proposal-service").Logger(),
	}
}

// Approve moves a proposed proposal to approved.
func (s *ProposalService) Approve(ctx context.Context, id uuid.UUID, reviewerID string) (*domain.RegistryUpdateProposal, error) {
	return s.review(ctx, id, domain.ProposalStatusApproved, reviewerID)
}

// Reject moves a proposed proposal to rejected.
func (s *ProposalService) Reject(ctx context.Context, id uuid.UUID, reviewerID string) (*domain.RegistryUpdateProposal, error) {
	return s.review(ctx, id, domain.ProposalStatusRejected, reviewerID)
}

func (s *ProposalService) review(ctx context.Context, id uuid.UUID, to domain.ProposalStatus, reviewerID string) (*domain.RegistryUpdateProposal, error) {
	proposal, err := s.store.TransitionProposal(ctx, id, domain.ProposalStatusProposed, to, &reviewerID)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("proposal_id", id.String()).
		Str("status", string(to)).
		Str("reviewer", reviewerID).
		Msg("Proposal reviewed")

	return proposal, nil
}

// Apply writes an approved proposal's value to the external registry and
// marks it applied. Re-applying an already-applied proposal fails with a
// ConsistencyError; the status compare-and-set guarantees the external
// write happens at most once per proposal.
func (s *ProposalService) Apply(ctx context.Context, id uuid.UUID, actorID string) (*domain.RegistryUpdateProposal, error) {
	proposal, err := s.store.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	if proposal.Status != domain.ProposalStatusApproved {
		return nil, domain.NewConsistencyError("registry update proposal", id.String(),
			fmt.Sprintf("cannot apply proposal in status %q, approval is required", proposal.Status))
	}

	// Claim the proposal before touching the external system so a
	// concurrent Apply loses the race here instead of double-writing.
	applied, err := s.store.TransitionProposal(ctx, id, domain.ProposalStatusApproved, domain.ProposalStatusApplied, &actorID)
	if err != nil {
		return nil, err
	}

	if err := s.source.UpdateRegistryField(ctx, applied.TargetModel, applied.TargetID, applied.FieldName, applied.ProposedValue); err != nil {
		// Roll the claim back so the proposal can be retried once the
		// external system recovers.
		if _, rbErr := s.store.TransitionProposal(ctx, id, domain.ProposalStatusApplied, domain.ProposalStatusApproved, &actorID); rbErr != nil {
			s.logger.Error().
				Err(rbErr).
				Str("proposal_id", id.String()).
				Msg("Cannot roll back proposal claim after registry write failure")
		}
		return nil, fmt.Errorf("write registry field: %w", err)
	}

	s.appendAudit(ctx, applied, actorID)

	s.logger.Info().
		Str("proposal_id", id.String()).
		Str("target_model", applied.TargetModel).
		Str("target_id", applied.TargetID).
		Str("field", applied.FieldName).
		Msg("Proposal applied to registry")

	return applied, nil
}

func (s *ProposalService) appendAudit(ctx context.Context, proposal *domain.RegistryUpdateProposal, actorID string) {
	entry := &domain.AuditLog{
		ID:         uuid.New(),
		DocumentID: proposal.DocumentID,
		Action:     domain.AuditActionProposal,
		Details: map[string]any{
			"proposal_id":  proposal.ID.String(),
			"target_model": proposal.TargetModel,
			"target_id":    proposal.TargetID,
			"field":        proposal.FieldName,
			"old_value":    proposal.CurrentValue,
			"new_value":    proposal.ProposedValue,
		},
		ActorID:   actorID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.audit.AppendAudit(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("proposal_id", proposal.ID.String()).Msg("Cannot append proposal audit entry")
	}
}
