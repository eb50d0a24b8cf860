package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/claimsight/document-processing-service/internal/domain"
	"github.com/claimsight/document-processing-service/internal/engine"
	"github.com/claimsight/document-processing-service/internal/repository"
	"github.com/claimsight/document-processing-service/internal/storage"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// mockDocumentRepo implements repository.DocumentRepository for handler tests.
type mockDocumentRepo struct {
	createFn          func(ctx context.Context, doc *domain.Document) error
	getFn             func(ctx context.Context, id uuid.UUID) (*domain.Document, error)
	updateFn          func(ctx context.Context, id uuid.UUID, fn func(*domain.Document) error) error
	updateStatusFn    func(ctx context.Context, id uuid.UUID, status domain.DocumentStatus, errorMsg, actorID string) error
	listFn            func(ctx context.Context, filter repository.DocumentFilter) ([]*domain.Document, int64, error)
	saveExtractionFn  func(ctx context.Context, result *domain.ExtractionResult) error
	getExtractionFn   func(ctx context.Context, documentID uuid.UUID) (*domain.ExtractionResult, error)
	getByWorkflowIDFn func(ctx context.Context, workflowID string) (*domain.Document, error)
}

func (m *mockDocumentRepo) Create(ctx context.Context, doc *domain.Document) error {
	if m.createFn != nil {
		return m.createFn(ctx, doc)
	}
	return nil
}

func (m *mockDocumentRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockDocumentRepo) GetByWorkflowID(ctx context.Context, workflowID string) (*domain.Document, error) {
	if m.getByWorkflowIDFn != nil {
		return m.getByWorkflowIDFn(ctx, workflowID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockDocumentRepo) Update(ctx context.Context, id uuid.UUID, fn func(*domain.Document) error) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, fn)
	}
	return fn(&domain.Document{ID: id})
}

func (m *mockDocumentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.DocumentStatus, errorMsg, actorID string) error {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, id, status, errorMsg, actorID)
	}
	return nil
}

func (m *mockDocumentRepo) List(ctx context.Context, filter repository.DocumentFilter) ([]*domain.Document, int64, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, 0, nil
}

func (m *mockDocumentRepo) SaveExtractionResult(ctx context.Context, result *domain.ExtractionResult) error {
	if m.saveExtractionFn != nil {
		return m.saveExtractionFn(ctx, result)
	}
	return nil
}

func (m *mockDocumentRepo) GetExtractionResult(ctx context.Context, documentID uuid.UUID) (*domain.ExtractionResult, error) {
	if m.getExtractionFn != nil {
		return m.getExtractionFn(ctx, documentID)
	}
	return nil, domain.ErrNotFound
}

// mockDocumentTypeRepo implements repository.DocumentTypeRepository.
type mockDocumentTypeRepo struct {
	createFn     func(ctx context.Context, docType *domain.DocumentType) error
	getFn        func(ctx context.Context, id uuid.UUID) (*domain.DocumentType, error)
	listActiveFn func(ctx context.Context) ([]domain.DocumentType, error)
	updateFn     func(ctx context.Context, docType *domain.DocumentType) error
}

func (m *mockDocumentTypeRepo) Create(ctx context.Context, docType *domain.DocumentType) error {
	if m.createFn != nil {
		return m.createFn(ctx, docType)
	}
	return nil
}

func (m *mockDocumentTypeRepo) Get(ctx context.Context, id uuid.UUID) (*domain.DocumentType, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockDocumentTypeRepo) GetByCode(_ context.Context, _ string) (*domain.DocumentType, error) {
	return nil, domain.ErrNotFound
}

func (m *mockDocumentTypeRepo) ListActive(ctx context.Context) ([]domain.DocumentType, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx)
	}
	return nil, nil
}

func (m *mockDocumentTypeRepo) Update(ctx context.Context, docType *domain.DocumentType) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, docType)
	}
	return nil
}

// mockEngineRepo implements repository.EngineRepository.
type mockEngineRepo struct {
	createConfigFn  func(ctx context.Context, cfg *domain.EngineConfig) error
	updateConfigFn  func(ctx context.Context, cfg *domain.EngineConfig) error
	getConfigFn     func(ctx context.Context, id uuid.UUID) (*domain.EngineConfig, error)
	activeConfigsFn func(ctx context.Context) ([]domain.EngineConfig, error)
	createRuleFn    func(ctx context.Context, rule *domain.EngineRoutingRule) error
	activeRulesFn   func(ctx context.Context) ([]domain.EngineRoutingRule, error)
	activeScoresFn  func(ctx context.Context, language string) ([]domain.EngineCapabilityScore, error)
	upsertScoreFn   func(ctx context.Context, score *domain.EngineCapabilityScore) error
	getPolicyFn     func(ctx context.Context) (domain.RoutingPolicy, error)
	updatePolicyFn  func(ctx context.Context, policy domain.RoutingPolicy) error
}

func (m *mockEngineRepo) CreateEngineConfig(ctx context.Context, cfg *domain.EngineConfig) error {
	if m.createConfigFn != nil {
		return m.createConfigFn(ctx, cfg)
	}
	return nil
}

func (m *mockEngineRepo) UpdateEngineConfig(ctx context.Context, cfg *domain.EngineConfig) error {
	if m.updateConfigFn != nil {
		return m.updateConfigFn(ctx, cfg)
	}
	return nil
}

func (m *mockEngineRepo) GetEngineConfig(ctx context.Context, id uuid.UUID) (*domain.EngineConfig, error) {
	if m.getConfigFn != nil {
		return m.getConfigFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockEngineRepo) ActiveEngineConfigs(ctx context.Context) ([]domain.EngineConfig, error) {
	if m.activeConfigsFn != nil {
		return m.activeConfigsFn(ctx)
	}
	return nil, nil
}

func (m *mockEngineRepo) ActiveRoutingRules(ctx context.Context) ([]domain.EngineRoutingRule, error) {
	if m.activeRulesFn != nil {
		return m.activeRulesFn(ctx)
	}
	return nil, nil
}

func (m *mockEngineRepo) CreateRoutingRule(ctx context.Context, rule *domain.EngineRoutingRule) error {
	if m.createRuleFn != nil {
		return m.createRuleFn(ctx, rule)
	}
	return nil
}

func (m *mockEngineRepo) ActiveCapabilityScores(ctx context.Context, language string) ([]domain.EngineCapabilityScore, error) {
	if m.activeScoresFn != nil {
		return m.activeScoresFn(ctx, language)
	}
	return nil, nil
}

func (m *mockEngineRepo) GetCapabilityScore(_ context.Context, _ uuid.UUID, _ string, _ *uuid.UUID) (*domain.EngineCapabilityScore, error) {
	return nil, domain.ErrNotFound
}

func (m *mockEngineRepo) UpsertCapabilityScore(ctx context.Context, score *domain.EngineCapabilityScore) error {
	if m.upsertScoreFn != nil {
		return m.upsertScoreFn(ctx, score)
	}
	return nil
}

func (m *mockEngineRepo) GetRoutingPolicy(ctx context.Context) (domain.RoutingPolicy, error) {
	if m.getPolicyFn != nil {
		return m.getPolicyFn(ctx)
	}
	return domain.DefaultRoutingPolicy(), nil
}

func (m *mockEngineRepo) UpdateRoutingPolicy(ctx context.Context, policy domain.RoutingPolicy) error {
	if m.updatePolicyFn != nil {
		return m.updatePolicyFn(ctx, policy)
	}
	return nil
}

// mockValidationRepo implements repository.ValidationRepository.
type mockValidationRepo struct {
	createRuleFn        func(ctx context.Context, rule *domain.ValidationRule) error
	updateRuleFn        func(ctx context.Context, rule *domain.ValidationRule) error
	activeRulesFn       func(ctx context.Context) ([]domain.ValidationRule, error)
	getResultsFn        func(ctx context.Context, documentID uuid.UUID) ([]*domain.ValidationResult, error)
	listFindingsFn      func(ctx context.Context, validationResultID uuid.UUID) ([]*domain.ValidationFinding, error)
	updateResolutionFn  func(ctx context.Context, findingID uuid.UUID, resolution domain.ResolutionStatus) error
	listProposalsFn     func(ctx context.Context, status domain.ProposalStatus) ([]*domain.RegistryUpdateProposal, error)
	getProposalFn       func(ctx context.Context, id uuid.UUID) (*domain.RegistryUpdateProposal, error)
	transitionFn        func(ctx context.Context, id uuid.UUID, from, to domain.ProposalStatus, reviewedBy *string) (*domain.RegistryUpdateProposal, error)
	saveValidationRunFn func(ctx context.Context, result *domain.ValidationResult, findings []domain.ValidationFinding, proposals []domain.RegistryUpdateProposal) error
}

func (m *mockValidationRepo) CreateRule(ctx context.Context, rule *domain.ValidationRule) error {
	if m.createRuleFn != nil {
		return m.createRuleFn(ctx, rule)
	}
	return nil
}

func (m *mockValidationRepo) UpdateRule(ctx context.Context, rule *domain.ValidationRule) error {
	if m.updateRuleFn != nil {
		return m.updateRuleFn(ctx, rule)
	}
	return nil
}

func (m *mockValidationRepo) ActiveValidationRules(ctx context.Context) ([]domain.ValidationRule, error) {
	if m.activeRulesFn != nil {
		return m.activeRulesFn(ctx)
	}
	return nil, nil
}

func (m *mockValidationRepo) SaveValidationRun(ctx context.Context, result *domain.ValidationResult, findings []domain.ValidationFinding, proposals []domain.RegistryUpdateProposal) error {
	if m.saveValidationRunFn != nil {
		return m.saveValidationRunFn(ctx, result, findings, proposals)
	}
	return nil
}

func (m *mockValidationRepo) GetValidationResults(ctx context.Context, documentID uuid.UUID) ([]*domain.ValidationResult, error) {
	if m.getResultsFn != nil {
		return m.getResultsFn(ctx, documentID)
	}
	return nil, nil
}

func (m *mockValidationRepo) ListFindings(ctx context.Context, validationResultID uuid.UUID) ([]*domain.ValidationFinding, error) {
	if m.listFindingsFn != nil {
		return m.listFindingsFn(ctx, validationResultID)
	}
	return nil, nil
}

func (m *mockValidationRepo) UpdateFindingResolution(ctx context.Context, findingID uuid.UUID, resolution domain.ResolutionStatus) error {
	if m.updateResolutionFn != nil {
		return m.updateResolutionFn(ctx, findingID, resolution)
	}
	return nil
}

func (m *mockValidationRepo) GetProposal(ctx context.Context, id uuid.UUID) (*domain.RegistryUpdateProposal, error) {
	if m.getProposalFn != nil {
		return m.getProposalFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockValidationRepo) ListProposalsByStatus(ctx context.Context, status domain.ProposalStatus) ([]*domain.RegistryUpdateProposal, error) {
	if m.listProposalsFn != nil {
		return m.listProposalsFn(ctx, status)
	}
	return nil, nil
}

func (m *mockValidationRepo) TransitionProposal(ctx context.Context, id uuid.UUID, from, to domain.ProposalStatus, reviewedBy *string) (*domain.RegistryUpdateProposal, error) {
	if m.transitionFn != nil {
		return m.transitionFn(ctx, id, from, to, reviewedBy)
	}
	return nil, domain.ErrNotFound
}

// mockAuditRepo implements repository.AuditRepository.
type mockAuditRepo struct {
	entries []*domain.AuditLog
	listFn  func(ctx context.Context, documentID uuid.UUID) ([]*domain.AuditLog, error)
}

func (m *mockAuditRepo) AppendAudit(_ context.Context, entry *domain.AuditLog) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepo) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*domain.AuditLog, error) {
	if m.listFn != nil {
		return m.listFn(ctx, documentID)
	}
	return nil, nil
}

func (m *mockAuditRepo) actions() []domain.AuditAction {
	out := make([]domain.AuditAction, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}

// mockWorkflowClient implements WorkflowClient.
type mockWorkflowClient struct {
	startPipelineFn   func(ctx context.Context, documentID uuid.UUID, workflowFunc interface{}, input interface{}) (string, string, error)
	startValidationFn func(ctx context.Context, documentID uuid.UUID, workflowFunc interface{}, input interface{}) (string, string, error)
}

func (m *mockWorkflowClient) StartDocumentPipeline(ctx context.Context, documentID uuid.UUID, workflowFunc interface{}, input interface{}) (string, string, error) {
	if m.startPipelineFn != nil {
		return m.startPipelineFn(ctx, documentID, workflowFunc, input)
	}
	return "doc-pipeline-" + documentID.String(), "run-test", nil
}

func (m *mockWorkflowClient) StartValidation(ctx context.Context, documentID uuid.UUID, workflowFunc interface{}, input interface{}) (string, string, error) {
	if m.startValidationFn != nil {
		return m.startValidationFn(ctx, documentID, workflowFunc, input)
	}
	return "doc-validation-" + documentID.String(), "run-test", nil
}

// mockProposalReviewer implements ProposalReviewer.
type mockProposalReviewer struct {
	approveFn func(ctx context.Context, id uuid.UUID, reviewerID string) (*domain.RegistryUpdateProposal, error)
	rejectFn  func(ctx context.Context, id uuid.UUID, reviewerID string) (*domain.RegistryUpdateProposal, error)
	applyFn   func(ctx context.Context, id uuid.UUID, actorID string) (*domain.RegistryUpdateProposal, error)
}

func (m *mockProposalReviewer) Approve(ctx context.Context, id uuid.UUID, reviewerID string) (*domain.RegistryUpdateProposal, error) {
	if m.approveFn != nil {
		return m.approveFn(ctx, id, reviewerID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockProposalReviewer) Reject(ctx context.Context, id uuid.UUID, reviewerID string) (*domain.RegistryUpdateProposal, error) {
	if m.rejectFn != nil {
		return m.rejectFn(ctx, id, reviewerID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockProposalReviewer) Apply(ctx context.Context, id uuid.UUID, actorID string) (*domain.RegistryUpdateProposal, error) {
	if m.applyFn != nil {
		return m.applyFn(ctx, id, actorID)
	}
	return nil, domain.ErrNotFound
}

// mockHealthChecker implements EngineHealthChecker.
type mockHealthChecker struct {
	healthFn func(ctx context.Context) ([]engine.EngineHealth, error)
}

func (m *mockHealthChecker) HealthCheckAll(ctx context.Context) ([]engine.EngineHealth, error) {
	if m.healthFn != nil {
		return m.healthFn(ctx)
	}
	return nil, nil
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// testDeps holds the mocked dependency set a test can customize before
// building the server.
type testDeps struct {
	docs        *mockDocumentRepo
	docTypes    *mockDocumentTypeRepo
	engines     *mockEngineRepo
	validations *mockValidationRepo
	audit       *mockAuditRepo
	wfClient    *mockWorkflowClient
	proposals   *mockProposalReviewer
	health      *mockHealthChecker
	blobs       storage.BlobStore
}

func newTestDeps() *testDeps {
	return &testDeps{
		docs:        &mockDocumentRepo{},
		docTypes:    &mockDocumentTypeRepo{},
		engines:     &mockEngineRepo{},
		validations: &mockValidationRepo{},
		audit:       &mockAuditRepo{},
		wfClient:    &mockWorkflowClient{},
		proposals:   &mockProposalReviewer{},
		health:      &mockHealthChecker{},
		blobs:       storage.NewMemoryStore(),
	}
}

// newTestServer creates a Server with mocked dependencies and the full route
// table, without a listening socket.
func newTestServer(deps *testDeps) *Server {
	s := &Server{
		workflowClient:   deps.wfClient,
		docs:             deps.docs,
		docTypes:         deps.docTypes,
		engines:          deps.engines,
		validations:      deps.validations,
		audit:            deps.audit,
		blobs:            deps.blobs,
		proposals:        deps.proposals,
		health:           deps.health,
		logger:           zerolog.Nop(),
		maxUploadBytes:   defaultMaxUploadBytes,
		storageKeyPrefix: "documents",
	}
	s.router = s.buildRouter()
	return s
}

// serveHTTP dispatches a request through the test server's router.
func serveHTTP(s *Server, r *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, r)
	return rr
}

// decodeJSON decodes a JSON response body into the given target.
func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}
