package server

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimsight/document-processing-service/internal/domain"
	"github.com/claimsight/document-processing-service/internal/repository"
	"github.com/claimsight/document-processing-service/internal/temporal/workflows"
)

// newUploadRequest builds a multipart POST /api/v1/documents request.
func newUploadRequest(t *testing.T, filename, contentType string, data []byte, fields map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)

	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadDocument_Success(t *testing.T) {
	deps := newTestDeps()

	var createdDoc *domain.Document
	deps.docs.createFn = func(_ context.Context, doc *domain.Document) error {
		createdDoc = doc
		return nil
	}

	var statusTo domain.DocumentStatus
	var statusActor string
	deps.docs.updateStatusFn = func(_ context.Context, _ uuid.UUID, status domain.DocumentStatus, _, actorID string) error {
		statusTo = status
		statusActor = actorID
		return nil
	}

	var trackedWorkflowID string
	deps.docs.updateFn = func(_ context.Context, id uuid.UUID, fn func(*domain.Document) error) error {
		doc := &domain.Document{ID: id}
		if err := fn(doc); err != nil {
			return err
		}
		if doc.WorkflowID != nil {
			trackedWorkflowID = *doc.WorkflowID
		}
		return nil
	}

	var pipelineInput workflows.DocumentPipelineInput
	deps.wfClient.startPipelineFn = func(_ context.Context, documentID uuid.UUID, _ interface{}, input interface{}) (string, string, error) {
		pipelineInput = input.(workflows.DocumentPipelineInput)
		return "doc-pipeline-" + documentID.String(), "run-1", nil
	}

	srv := newTestServer(deps)

	req := newUploadRequest(t, "claim_form.pdf", "application/pdf", []byte("%PDF-1.4 fake"), nil)
	req.Header.Set("X-Actor-ID", "clerk-1")
	rr := serveHTTP(srv, req)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp uploadDocumentResponse
	decodeJSON(t, rr, &resp)
	assert.Equal(t, string(domain.DocumentStatusPreprocessing), resp.Status)
	assert.Equal(t, "doc-pipeline-"+resp.DocumentID, resp.WorkflowID)

	require.NotNil(t, createdDoc)
	assert.Equal(t, "claim_form.pdf", createdDoc.OriginalFilename)
	assert.Equal(t, "application/pdf", createdDoc.MimeType)
	assert.Equal(t, int64(len("%PDF-1.4 fake")), createdDoc.FileSizeBytes)
	assert.Equal(t, domain.DocumentStatusPending, createdDoc.Status)
	assert.Contains(t, createdDoc.StorageKey, createdDoc.ID.String())

	// Uploaded bytes landed in the blob store under the document key.
	exists, err := deps.blobs.Exists(context.Background(), createdDoc.StorageKey)
	require.NoError(t, err)
	assert.True(t, exists)

	assert.Equal(t, domain.DocumentStatusPreprocessing, statusTo)
	assert.Equal(t, "clerk-1", statusActor)
	assert.Equal(t, []domain.AuditAction{domain.AuditActionUpload}, deps.audit.actions())

	assert.Equal(t, createdDoc.ID, pipelineInput.DocumentID)
	assert.Equal(t, "clerk-1", pipelineInput.ActorID)
	assert.Equal(t, resp.WorkflowID, trackedWorkflowID)
}

func TestUploadDocument_LinkedClaim(t *testing.T) {
	deps := newTestDeps()

	var createdDoc *domain.Document
	deps.docs.createFn = func(_ context.Context, doc *domain.Document) error {
		createdDoc = doc
		return nil
	}

	srv := newTestServer(deps)

	req := newUploadRequest(t, "scan.png", "image/png", []byte{0x89, 0x50, 0x4e, 0x47}, map[string]string{
		"linked_claim_id": "CLM-2024-001",
	})
	rr := serveHTTP(srv, req)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.NotNil(t, createdDoc)
	require.NotNil(t, createdDoc.LinkedClaimID)
	assert.Equal(t, "CLM-2024-001", *createdDoc.LinkedClaimID)
}

func TestUploadDocument_MissingFile(t *testing.T) {
	srv := newTestServer(newTestDeps())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("linked_claim_id", "CLM-1"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := serveHTTP(srv, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUploadDocument_UnsupportedType(t *testing.T) {
	srv := newTestServer(newTestDeps())

	req := newUploadRequest(t, "notes.txt", "text/plain", []byte("plain text"), nil)
	rr := serveHTTP(srv, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}

func TestUploadDocument_EmptyFile(t *testing.T) {
	srv := newTestServer(newTestDeps())

	req := newUploadRequest(t, "blank.pdf", "application/pdf", nil, nil)
	rr := serveHTTP(srv, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetDocument(t *testing.T) {
	deps := newTestDeps()
	docID := uuid.New()
	lang := "fr"
	deps.docs.getFn = func(_ context.Context, id uuid.UUID) (*domain.Document, error) {
		if id != docID {
			return nil, domain.ErrNotFound
		}
		return &domain.Document{
			ID:               docID,
			OriginalFilename: "claim.pdf",
			MimeType:         "application/pdf",
			Status:           domain.DocumentStatusCompleted,
			Language:         &lang,
			CreatedAt:        time.Now().UTC(),
		}, nil
	}
	srv := newTestServer(deps)

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+docID.String(), nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp documentResponse
	decodeJSON(t, rr, &resp)
	assert.Equal(t, docID.String(), resp.ID)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "fr", resp.Language)

	rr = serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/documents/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListDocuments(t *testing.T) {
	deps := newTestDeps()

	var capturedFilter repository.DocumentFilter
	deps.docs.listFn = func(_ context.Context, filter repository.DocumentFilter) ([]*domain.Document, int64, error) {
		capturedFilter = filter
		return []*domain.Document{
			{ID: uuid.New(), Status: domain.DocumentStatusReviewRequired},
			{ID: uuid.New(), Status: domain.DocumentStatusReviewRequired},
		}, 120, nil
	}
	srv := newTestServer(deps)

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/documents?status=review_required&page_size=10", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp listDocumentsResponse
	decodeJSON(t, rr, &resp)
	assert.Len(t, resp.Documents, 2)
	assert.Equal(t, 120, resp.TotalCount)
	assert.NotEmpty(t, resp.NextPageToken)

	require.Len(t, capturedFilter.Status, 1)
	assert.Equal(t, domain.DocumentStatusReviewRequired, capturedFilter.Status[0])
	assert.Equal(t, 10, capturedFilter.Limit)
}

func TestListDocuments_BadDateFilter(t *testing.T) {
	srv := newTestServer(newTestDeps())

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/documents?created_after=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetExtractionResult(t *testing.T) {
	deps := newTestDeps()
	docID := uuid.New()
	deps.docs.getExtractionFn = func(_ context.Context, documentID uuid.UUID) (*domain.ExtractionResult, error) {
		if documentID != docID {
			return nil, domain.ErrNotFound
		}
		return &domain.ExtractionResult{
			ID:                  uuid.New(),
			DocumentID:          docID,
			StructuredData:      map[string]any{"chf_id": "123"},
			FieldConfidences:    map[string]float64{"chf_id": 0.97},
			AggregateConfidence: 0.97,
		}, nil
	}
	srv := newTestServer(deps)

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+docID.String()+"/extraction", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp extractionResultResponse
	decodeJSON(t, rr, &resp)
	assert.Equal(t, docID.String(), resp.DocumentID)
	assert.InDelta(t, 0.97, resp.AggregateConfidence, 1e-9)

	rr = serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+uuid.NewString()+"/extraction", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListAuditTrail(t *testing.T) {
	deps := newTestDeps()
	docID := uuid.New()
	deps.audit.listFn = func(_ context.Context, documentID uuid.UUID) ([]*domain.AuditLog, error) {
		return []*domain.AuditLog{
			{ID: uuid.New(), DocumentID: documentID, Action: domain.AuditActionUpload, ActorID: "clerk-1"},
			{ID: uuid.New(), DocumentID: documentID, Action: domain.AuditActionStatusChange, ActorID: "system",
				Details: map[string]any{"from": "pending", "to": "preprocessing"}},
		}, nil
	}
	srv := newTestServer(deps)

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+docID.String()+"/audit", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp listAuditResponse
	decodeJSON(t, rr, &resp)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "upload", resp.Entries[0].Action)
	assert.Equal(t, "status_change", resp.Entries[1].Action)
	assert.Equal(t, "preprocessing", resp.Entries[1].Details["to"])
}

func TestListValidationResults(t *testing.T) {
	deps := newTestDeps()
	docID := uuid.New()
	deps.validations.getResultsFn = func(_ context.Context, documentID uuid.UUID) ([]*domain.ValidationResult, error) {
		return []*domain.ValidationResult{
			{ID: uuid.New(), DocumentID: documentID, ValidationType: domain.ValidationTypeUpstream,
				OverallStatus: domain.OverallStatusMatched, MatchScore: 1.0},
			{ID: uuid.New(), DocumentID: documentID, ValidationType: domain.ValidationTypeDownstream,
				OverallStatus: domain.OverallStatusPartialMatch, DiscrepancyCount: 2, MatchScore: 0.8},
		}, nil
	}
	srv := newTestServer(deps)

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+docID.String()+"/validations", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp listValidationResultsResponse
	decodeJSON(t, rr, &resp)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "upstream", resp.Results[0].ValidationType)
	assert.Equal(t, "partial_match", resp.Results[1].OverallStatus)
}
