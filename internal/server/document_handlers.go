package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/claimsight/document-processing-service/internal/domain"
	"github.com/claimsight/document-processing-service/internal/repository"
	"github.com/claimsight/document-processing-service/internal/storage"
	"github.com/claimsight/document-processing-service/internal/temporal/workflows"
)

// allowedUploadMIMETypes mirrors the set the preprocessing analyzer accepts.
var allowedUploadMIMETypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/tiff":      true,
	"image/bmp":       true,
}

// uploadDocument handles POST /documents. It stores the uploaded bytes,
// creates the document record, and starts the processing pipeline workflow.
// The multipart field "file" carries the content; the optional field
// "linked_claim_id" links the document to an external claim.
func (s *Server) uploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actorID := actorFromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	filename := strings.TrimSpace(fileHeader.Filename)
	if filename == "" {
		writeError(w, http.StatusBadRequest, "uploaded file must have a filename")
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if !allowedUploadMIMETypes[mimeType] {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported content type: expected PDF or image")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	documentID := uuid.New()
	key := storage.BuildKey(s.storageKeyPrefix, documentID, filename)
	if err := s.blobs.Write(ctx, key, data, mimeType); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("blob write failed")
		writeDomainError(w, err)
		return
	}

	now := time.Now().UTC()
	doc := &domain.Document{
		ID:               documentID,
		OriginalFilename: filename,
		MimeType:         mimeType,
		FileSizeBytes:    int64(len(data)),
		StorageKey:       key,
		Status:           domain.DocumentStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if linked := strings.TrimSpace(r.FormValue("linked_claim_id")); linked != "" {
		doc.LinkedClaimID = &linked
	}

	if err := s.docs.Create(ctx, doc); err != nil {
		writeDomainError(w, err)
		return
	}

	s.appendAudit(ctx, &domain.AuditLog{
		ID:         uuid.New(),
		DocumentID: documentID,
		Action:     domain.AuditActionUpload,
		Details: map[string]any{
			"filename":   filename,
			"mime_type":  mimeType,
			"size_bytes": len(data),
		},
		ActorID:   actorID,
		CreatedAt: now,
	})

	if err := s.docs.UpdateStatus(ctx, documentID, domain.DocumentStatusPreprocessing, "", actorID); err != nil {
		writeDomainError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordDocumentUploaded()
	}

	workflowID, _, err := s.workflowClient.StartDocumentPipeline(ctx, documentID, s.pipelineWorkflow, workflows.DocumentPipelineInput{
		DocumentID: documentID,
		ActorID:    actorID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Best-effort update of the workflow tracking ID on the document record.
	if updateErr := s.docs.Update(ctx, documentID, func(d *domain.Document) error {
		d.WorkflowID = &workflowID
		return nil
	}); updateErr != nil {
		s.logger.Warn().Err(updateErr).Str("document_id", documentID.String()).Msg("failed to record workflow id")
	}

	writeJSON(w, http.StatusCreated, uploadDocumentResponse{
		DocumentID: documentID.String(),
		WorkflowID: workflowID,
		Status:     string(domain.DocumentStatusPreprocessing),
		CreatedAt:  now,
		Message:    "document processing started",
	})
}

// getDocument handles GET /documents/{documentID}.
func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	documentID, ok := parseUUID(w, chi.URLParam(r, "documentID"), "document_id")
	if !ok {
		return
	}

	doc, err := s.docs.Get(r.Context(), documentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainDocumentToResponse(doc))
}

// listDocuments handles GET /documents with optional status, document type,
// and creation date filters.
func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	filter := repository.DocumentFilter{
		Limit:  limit,
		Offset: offset,
	}

	if statusParam := r.URL.Query().Get("status"); statusParam != "" {
		filter.Status = []domain.DocumentStatus{domain.DocumentStatus(statusParam)}
	}
	if typeParam := r.URL.Query().Get("document_type_id"); typeParam != "" {
		typeID, ok := parseUUID(w, typeParam, "document_type_id")
		if !ok {
			return
		}
		filter.DocumentTypeID = &typeID
	}
	if createdAfter := r.URL.Query().Get("created_after"); createdAfter != "" {
		t, parseErr := time.Parse(time.RFC3339, createdAfter)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid created_after format: expected RFC3339")
			return
		}
		filter.CreatedAfter = &t
	}
	if createdBefore := r.URL.Query().Get("created_before"); createdBefore != "" {
		t, parseErr := time.Parse(time.RFC3339, createdBefore)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid created_before format: expected RFC3339")
			return
		}
		filter.CreatedBefore = &t
	}

	docs, totalCount, err := s.docs.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]documentResponse, len(docs))
	for i, d := range docs {
		responses[i] = domainDocumentToResponse(d)
	}

	writeJSON(w, http.StatusOK, listDocumentsResponse{
		Documents:     responses,
		NextPageToken: encodePageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// getExtractionResult handles GET /documents/{documentID}/extraction.
func (s *Server) getExtractionResult(w http.ResponseWriter, r *http.Request) {
	documentID, ok := parseUUID(w, chi.URLParam(r, "documentID"), "document_id")
	if !ok {
		return
	}

	result, err := s.docs.GetExtractionResult(r.Context(), documentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainExtractionToResponse(result))
}

// listValidationResults handles GET /documents/{documentID}/validations.
func (s *Server) listValidationResults(w http.ResponseWriter, r *http.Request) {
	documentID, ok := parseUUID(w, chi.URLParam(r, "documentID"), "document_id")
	if !ok {
		return
	}

	results, err := s.validations.GetValidationResults(r.Context(), documentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]validationResultResponse, len(results))
	for i, res := range results {
		responses[i] = domainValidationResultToResponse(res)
	}

	writeJSON(w, http.StatusOK, listValidationResultsResponse{Results: responses})
}

// listFindings handles GET /validation-results/{resultID}/findings.
func (s *Server) listFindings(w http.ResponseWriter, r *http.Request) {
	resultID, ok := parseUUID(w, chi.URLParam(r, "resultID"), "result_id")
	if !ok {
		return
	}

	findings, err := s.validations.ListFindings(r.Context(), resultID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]findingResponse, len(findings))
	for i, f := range findings {
		responses[i] = domainFindingToResponse(f)
	}

	writeJSON(w, http.StatusOK, listFindingsResponse{Findings: responses})
}

// listAuditTrail handles GET /documents/{documentID}/audit.
func (s *Server) listAuditTrail(w http.ResponseWriter, r *http.Request) {
	documentID, ok := parseUUID(w, chi.URLParam(r, "documentID"), "document_id")
	if !ok {
		return
	}

	entries, err := s.audit.ListByDocument(r.Context(), documentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]auditEntryResponse, len(entries))
	for i, e := range entries {
		responses[i] = domainAuditToResponse(e)
	}

	writeJSON(w, http.StatusOK, listAuditResponse{Entries: responses})
}

// appendAudit writes an audit entry, logging instead of failing the request
// when the write does not succeed.
func (s *Server) appendAudit(ctx context.Context, entry *domain.AuditLog) {
	if err := s.audit.AppendAudit(ctx, entry); err != nil {
		s.logger.Warn().Err(err).
			Str("document_id", entry.DocumentID.String()).
			Str("action", string(entry.Action)).
			Msg("audit append failed")
	}
}
