package validation

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/claimsight/document-processing-service/internal/claims"
	"github.com/claimsight/document-processing-service/internal/domain"
)

// fakeStore records saved validation runs and serves configured rules.
type fakeStore struct {
	rules []domain.ValidationRule

	savedResult    *domain.ValidationResult
	savedFindings  []domain.ValidationFinding
	savedProposals []domain.RegistryUpdateProposal
	saveCalls      int
}

func (f *fakeStore) SaveValidationRun(ctx context.Context, result *domain.ValidationResult, findings []domain.ValidationFinding, proposals []domain.RegistryUpdateProposal) error {
	f.savedResult = result
	f.savedFindings = findings
	f.savedProposals = proposals
	f.saveCalls++
	return nil
}

func (f *fakeStore) ActiveValidationRules(ctx context.Context) ([]domain.ValidationRule, error) {
	return f.rules, nil
}

// fakeAudit collects appended audit entries.
type fakeAudit struct {
	entries []*domain.AuditLog
}

func (f *fakeAudit) AppendAudit(ctx context.Context, entry *domain.AuditLog) error {
	f.entries = append(f.entries, entry)
	return nil
}

// fakeClaimSource serves claim records from memory and tracks registry
// writes.
type fakeClaimSource struct {
	mu sync.Mutex

	claims     map[string]*claims.Claim
	policies   map[string]*claims.Policy
	duplicates []string

	registryWrites []registryWrite
}

type registryWrite struct {
	model, targetID, field, value string
}

func newFakeClaimSource() *fakeClaimSource {
	return &fakeClaimSource{
		claims:   make(map[string]*claims.Claim),
		policies: make(map[string]*claims.Policy),
	}
}

func (f *fakeClaimSource) GetClaim(ctx context.Context, externalID string) (*claims.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	claim, ok := f.claims[externalID]
	if !ok {
		return nil, domain.NewNotFoundError("claim", externalID)
	}
	return claim, nil
}

func (f *fakeClaimSource) FindDuplicateClaims(ctx context.Context, claim *claims.Claim) ([]string, error) {
	return f.duplicates, nil
}

func (f *fakeClaimSource) GetActivePolicy(ctx context.Context, chfID, onDate string) (*claims.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	policy, ok := f.policies[chfID]
	if !ok {
		return nil, domain.NewNotFoundError("policy", chfID)
	}
	return policy, nil
}

func (f *fakeClaimSource) UpdateRegistryField(ctx context.Context, targetModel, targetID, fieldName, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registryWrites = append(f.registryWrites, registryWrite{targetModel, targetID, fieldName, value})
	return nil
}

// fakeProposalStore keeps proposals in memory with compare-and-set
// transitions mirroring the repository's guarantees.
type fakeProposalStore struct {
	mu        sync.Mutex
	proposals map[uuid.UUID]*domain.RegistryUpdateProposal
}

func newFakeProposalStore() *fakeProposalStore {
	return &fakeProposalStore{proposals: make(map[uuid.UUID]*domain.RegistryUpdateProposal)}
}

func (f *fakeProposalStore) put(p *domain.RegistryUpdateProposal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *p
	f.proposals[p.ID] = &clone
}

func (f *fakeProposalStore) GetProposal(ctx context.Context, id uuid.UUID) (*domain.RegistryUpdateProposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[id]
	if !ok {
		return nil, domain.NewNotFoundError("registry update proposal", id.String())
	}
	clone := *p
	return &clone, nil
}

func (f *fakeProposalStore) TransitionProposal(ctx context.Context, id uuid.UUID, from, to domain.ProposalStatus, reviewedBy *string) (*domain.RegistryUpdateProposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[id]
	if !ok {
		return nil, domain.NewNotFoundError("registry update proposal", id.String())
	}
	if p.Status != from {
		return nil, domain.NewConsistencyError("registry update proposal", id.String(),
			"proposal is in status "+string(p.Status)+", expected "+string(from))
	}
	p.Status = to
	p.ReviewedBy = reviewedBy
	clone := *p
	return &clone, nil
}

func strPtr(s string) *string {
	return &s
}
