package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/claimsight/document-processing-service/internal/domain"
	"github.com/claimsight/document-processing-service/internal/temporal/workflows"
)

// reviewDocumentRequest is the JSON body for POST /documents/{documentID}/review.
type reviewDocumentRequest struct {
	Action string `json:"action" validate:"required,oneof=approve reject"`
	// CorrectedFields overrides extracted field values on approval. Each
	// corrected field is recorded with full confidence.
	CorrectedFields map[string]any `json:"corrected_fields,omitempty"`
	Reason          string         `json:"reason,omitempty" validate:"max=2000"`
}

// resolveFindingRequest is the JSON body for POST /findings/{findingID}/resolution.
type resolveFindingRequest struct {
	Resolution string `json:"resolution" validate:"required,oneof=accepted rejected deferred"`
}

// reviewDocument handles the manual review decision for a document the
// confidence gate parked in review_required. Approval merges any corrected
// fields into the extraction result, completes the document, and starts a
// fresh validation workflow. Rejection fails the document with the given
// reason.
func (s *Server) reviewDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actorID := actorFromContext(ctx)

	documentID, ok := parseUUID(w, chi.URLParam(r, "documentID"), "document_id")
	if !ok {
		return
	}

	var req reviewDocumentRequest
	if !decodeJSONRequest(w, r, &req) {
		return
	}

	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if doc.Status != domain.DocumentStatusReviewRequired {
		writeError(w, http.StatusConflict, "document is not awaiting review")
		return
	}

	if req.Action == "reject" {
		reason := req.Reason
		if reason == "" {
			reason = "rejected by reviewer"
		}
		if err := s.docs.UpdateStatus(ctx, documentID, domain.DocumentStatusFailed, reason, actorID); err != nil {
			writeDomainError(w, err)
			return
		}
		s.appendAudit(ctx, &domain.AuditLog{
			ID:         uuid.New(),
			DocumentID: documentID,
			Action:     domain.AuditActionReview,
			Details:    map[string]any{"decision": "reject", "reason": reason},
			ActorID:    actorID,
			CreatedAt:  time.Now().UTC(),
		})
		writeJSON(w, http.StatusOK, reviewDocumentResponse{
			DocumentID: documentID.String(),
			Status:     string(domain.DocumentStatusFailed),
		})
		return
	}

	correctedNames, err := s.mergeCorrectedFields(ctx, documentID, req.CorrectedFields)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.docs.UpdateStatus(ctx, documentID, domain.DocumentStatusCompleted, "", actorID); err != nil {
		writeDomainError(w, err)
		return
	}

	s.appendAudit(ctx, &domain.AuditLog{
		ID:         uuid.New(),
		DocumentID: documentID,
		Action:     domain.AuditActionReview,
		Details:    map[string]any{"decision": "approve", "corrected_fields": correctedNames},
		ActorID:    actorID,
		CreatedAt:  time.Now().UTC(),
	})

	// Approval re-validates the now-completed document. A start failure
	// leaves the approval in place; the workflow can be started again.
	resp := reviewDocumentResponse{
		DocumentID: documentID.String(),
		Status:     string(domain.DocumentStatusCompleted),
	}
	workflowID, _, err := s.workflowClient.StartValidation(ctx, documentID, s.validationWorkflow, workflows.ValidationWorkflowInput{
		DocumentID: documentID,
		ActorID:    actorID,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("document_id", documentID.String()).Msg("validation workflow start failed")
	} else {
		resp.ValidationWorkflowID = workflowID
	}

	writeJSON(w, http.StatusOK, resp)
}

// mergeCorrectedFields applies reviewer corrections to the stored extraction
// result. Corrected fields get confidence 1.0 and the aggregate confidence is
// recomputed as the mean over all field confidences. A document without an
// extraction result accepts no corrections.
func (s *Server) mergeCorrectedFields(ctx context.Context, documentID uuid.UUID, corrections map[string]any) ([]string, error) {
	if len(corrections) == 0 {
		return nil, nil
	}

	result, err := s.docs.GetExtractionResult(ctx, documentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewValidationError("corrected_fields", "document has no extraction result to correct")
		}
		return nil, err
	}

	if result.StructuredData == nil {
		result.StructuredData = make(map[string]any, len(corrections))
	}
	if result.FieldConfidences == nil {
		result.FieldConfidences = make(map[string]float64, len(corrections))
	}

	names := make([]string, 0, len(corrections))
	for field, value := range corrections {
		result.StructuredData[field] = value
		result.FieldConfidences[field] = 1.0
		names = append(names, field)
	}

	if len(result.FieldConfidences) > 0 {
		var sum float64
		for _, c := range result.FieldConfidences {
			sum += c
		}
		result.AggregateConfidence = sum / float64(len(result.FieldConfidences))
	}

	if err := s.docs.SaveExtractionResult(ctx, result); err != nil {
		return nil, err
	}
	return names, nil
}

// resolveFinding handles POST /findings/{findingID}/resolution, moving a
// pending finding to its reviewed resolution.
func (s *Server) resolveFinding(w http.ResponseWriter, r *http.Request) {
	findingID, ok := parseUUID(w, chi.URLParam(r, "findingID"), "finding_id")
	if !ok {
		return
	}

	var req resolveFindingRequest
	if !decodeJSONRequest(w, r, &req) {
		return
	}

	if err := s.validations.UpdateFindingResolution(r.Context(), findingID, domain.ResolutionStatus(req.Resolution)); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resolveFindingResponse{
		FindingID:  findingID.String(),
		Resolution: req.Resolution,
	})
}
