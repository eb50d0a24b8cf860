package activities

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"

	"github.com/claimsight/document-processing-service/internal/domain"
	"github.com/claimsight/document-processing-service/internal/observability"
	"github.com/claimsight/document-processing-service/internal/repository"
)

// DocumentValidator runs one validation pass over a document and its
// extraction result. Implemented by validation.UpstreamValidator and
// validation.DownstreamValidator.
type DocumentValidator interface {
	Validate(ctx context.Context, doc *domain.Document, extraction *domain.ExtractionResult) (*domain.ValidationResult, error)
}

// ValidationActivities provides Temporal activities for the upstream and
// downstream validation passes. Validation runs after a document completes;
// its outcome is persisted separately and never changes the document status.
// Methods on this struct are registered as Temporal activities via the worker.
type ValidationActivities struct {
	docs       repository.DocumentRepository
	upstream   DocumentValidator
	downstream DocumentValidator
	metrics    *observability.Metrics
}

// NewValidationActivities creates a new ValidationActivities instance with
// the given dependencies. The metrics parameter may be nil.
func NewValidationActivities(
	docs repository.DocumentRepository,
	upstream DocumentValidator,
	downstream DocumentValidator,
	metrics *observability.Metrics,
) *ValidationActivities {
	return &ValidationActivities{
		docs:       docs,
		upstream:   upstream,
		downstream: downstream,
		metrics:    metrics,
	}
}

// RunUpstream compares the extraction result against the linked claim.
// Skipped when the document has no linked claim or no extraction result.
func (a *ValidationActivities) RunUpstream(ctx context.Context, input RunValidationInput) (*RunValidationOutput, error) {
	return a.run(ctx, input, a.upstream, domain.ValidationTypeUpstream)
}

// RunDownstream evaluates the active validation rules against the document.
func (a *ValidationActivities) RunDownstream(ctx context.Context, input RunValidationInput) (*RunValidationOutput, error) {
	return a.run(ctx, input, a.downstream, domain.ValidationTypeDownstream)
}

func (a *ValidationActivities) run(ctx context.Context, input RunValidationInput, validator DocumentValidator, validationType domain.ValidationType) (*RunValidationOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("running validation",
		"documentID", input.DocumentID,
		"validationType", validationType,
	)

	doc, err := a.docs.Get(ctx, input.DocumentID)
	if err != nil {
		return nil, stageError("get document", err)
	}

	extraction, err := a.docs.GetExtractionResult(ctx, input.DocumentID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, stageError("get extraction result", err)
	}

	result, err := validator.Validate(ctx, doc, extraction)
	if err != nil {
		return nil, stageError("validate", err)
	}
	if result == nil {
		logger.Info("validation skipped",
			"documentID", input.DocumentID,
			"validationType", validationType,
		)
		return &RunValidationOutput{Skipped: true}, nil
	}

	if a.metrics != nil {
		a.metrics.RecordValidationRun(string(validationType), string(result.OverallStatus))
	}

	logger.Info("validation completed",
		"documentID", input.DocumentID,
		"validationType", validationType,
		"overallStatus", result.OverallStatus,
		"discrepancies", result.DiscrepancyCount,
	)

	return &RunValidationOutput{
		OverallStatus:    result.OverallStatus,
		DiscrepancyCount: result.DiscrepancyCount,
		MatchScore:       result.MatchScore,
	}, nil
}
