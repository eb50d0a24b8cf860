package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/claimsight/document-processing-service/internal/domain"
)

var proposalStatusValues = map[domain.ProposalStatus]bool{
	domain.ProposalStatusProposed: true,
	domain.ProposalStatusApproved: true,
	domain.ProposalStatusApplied:  true,
	domain.ProposalStatusRejected: true,
}

// listProposals handles GET /proposals. The status query parameter defaults
// to proposed, the review queue.
func (s *Server) listProposals(w http.ResponseWriter, r *http.Request) {
	status := domain.ProposalStatusProposed
	if statusParam := r.URL.Query().Get("status"); statusParam != "" {
		status = domain.ProposalStatus(statusParam)
		if !proposalStatusValues[status] {
			writeError(w, http.StatusBadRequest, "status must be one of proposed, approved, applied, rejected")
			return
		}
	}

	proposals, err := s.validations.ListProposalsByStatus(r.Context(), status)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]proposalResponse, len(proposals))
	for i, p := range proposals {
		responses[i] = domainProposalToResponse(p)
	}

	writeJSON(w, http.StatusOK, listProposalsResponse{Proposals: responses})
}

// approveProposal handles POST /proposals/{proposalID}/approve.
func (s *Server) approveProposal(w http.ResponseWriter, r *http.Request) {
	s.reviewProposal(w, r, s.proposals.Approve)
}

// rejectProposal handles POST /proposals/{proposalID}/reject.
func (s *Server) rejectProposal(w http.ResponseWriter, r *http.Request) {
	s.reviewProposal(w, r, s.proposals.Reject)
}

// applyProposal handles POST /proposals/{proposalID}/apply. Application
// writes the proposed value to the external registry exactly once; a
// proposal that is not approved yields a conflict.
func (s *Server) applyProposal(w http.ResponseWriter, r *http.Request) {
	s.reviewProposal(w, r, s.proposals.Apply)
}

func (s *Server) reviewProposal(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uuid.UUID, actorID string) (*domain.RegistryUpdateProposal, error)) {
	proposalID, ok := parseUUID(w, chi.URLParam(r, "proposalID"), "proposal_id")
	if !ok {
		return
	}

	proposal, err := op(r.Context(), proposalID, actorFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainProposalToResponse(proposal))
}

// engineHealth handles GET /engines/health, probing every active engine.
func (s *Server) engineHealth(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.health.HealthCheckAll(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]engineHealthResponse, len(statuses))
	for i, st := range statuses {
		responses[i] = engineHealthToResponse(st)
	}

	writeJSON(w, http.StatusOK, listEngineHealthResponse{Engines: responses})
}
