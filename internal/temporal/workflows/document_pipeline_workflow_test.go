package workflows

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/claimsight/document-processing-service/internal/domain"
	"github.com/claimsight/document-processing-service/internal/temporal/activities"
)

// eventRecorder collects PublishEvent inputs across activity invocations.
type eventRecorder struct {
	mu     sync.Mutex
	events []activities.PublishEventInput
}

func (r *eventRecorder) record(args mock.Arguments) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, args.Get(1).(activities.PublishEventInput))
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.EventType)
	}
	return types
}

func TestDocumentPipelineWorkflow_Completed(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	docID := uuid.New()
	typeID := uuid.New()
	engineID := uuid.New()

	var docAct *activities.DocumentActivities
	var validationAct *activities.ValidationActivities
	var eventAct *activities.EventActivities

	env.OnActivity(docAct.Preprocess, mock.Anything, activities.PreprocessInput{
		DocumentID: docID,
		ActorID:    "user-1",
	}).Return(&activities.PreprocessOutput{
		Metadata: domain.PreprocessingMetadata{QualityScore: 0.9, PageCount: 1, Format: "png"},
	}, nil)

	env.OnActivity(docAct.Classify, mock.Anything, activities.ClassifyInput{
		DocumentID: docID,
		ActorID:    "user-1",
	}).Return(&activities.ClassifyOutput{
		Classified:       true,
		DocumentTypeID:   &typeID,
		DocumentTypeCode: "claim_form",
		Confidence:       0.93,
		Language:         "en",
		EngineConfigID:   &engineID,
	}, nil)

	env.OnActivity(docAct.Extract, mock.Anything, activities.ExtractInput{
		DocumentID: docID,
		ActorID:    "user-1",
	}).Return(&activities.ExtractOutput{
		Status:              domain.DocumentStatusCompleted,
		AggregateConfidence: 0.95,
		FieldCount:          7,
		EngineConfigID:      engineID,
		Provenance:          domain.ProvenanceRule,
	}, nil)

	env.OnActivity(validationAct.RunUpstream, mock.Anything, activities.RunValidationInput{
		DocumentID: docID,
	}).Return(&activities.RunValidationOutput{
		OverallStatus: domain.OverallStatusMatched,
		MatchScore:    1.0,
	}, nil)

	env.OnActivity(validationAct.RunDownstream, mock.Anything, activities.RunValidationInput{
		DocumentID: docID,
	}).Return(&activities.RunValidationOutput{
		OverallStatus:    domain.OverallStatusPartialMatch,
		DiscrepancyCount: 1,
		MatchScore:       0.9,
	}, nil)

	recorder := &eventRecorder{}
	env.OnActivity(eventAct.PublishEvent, mock.Anything, mock.Anything).
		Run(recorder.record).Return(nil)

	env.ExecuteWorkflow(DocumentPipelineWorkflow, DocumentPipelineInput{
		DocumentID: docID,
		ActorID:    "user-1",
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result DocumentPipelineResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, docID, result.DocumentID)
	assert.Equal(t, domain.DocumentStatusCompleted, result.Status)
	assert.InDelta(t, 0.95, result.AggregateConfidence, 0.0001)

	types := recorder.types()
	assert.Contains(t, types, domain.EventTypeDocumentCompleted)
	assert.Equal(t, 2, countOf(types, domain.EventTypeValidationCompleted))
	assert.NotContains(t, types, domain.EventTypeDocumentFailed)

	for _, e := range recorder.events {
		assert.Equal(t, docID, e.DocumentID)
		assert.NotEmpty(t, e.Metadata["workflow_id"])
	}

	env.AssertExpectations(t)
}

func TestDocumentPipelineWorkflow_ReviewRequired(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	docID := uuid.New()
	engineID := uuid.New()

	var docAct *activities.DocumentActivities
	var validationAct *activities.ValidationActivities
	var eventAct *activities.EventActivities

	env.OnActivity(docAct.Preprocess, mock.Anything, mock.Anything).
		Return(&activities.PreprocessOutput{}, nil)
	env.OnActivity(docAct.Classify, mock.Anything, mock.Anything).
		Return(&activities.ClassifyOutput{}, nil)
	env.OnActivity(docAct.Extract, mock.Anything, mock.Anything).
		Return(&activities.ExtractOutput{
			Status:              domain.DocumentStatusReviewRequired,
			AggregateConfidence: 0.72,
			EngineConfigID:      engineID,
			Provenance:          domain.ProvenanceFallback,
		}, nil)

	validationCalled := false
	env.OnActivity(validationAct.RunUpstream, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { validationCalled = true }).
		Return(&activities.RunValidationOutput{Skipped: true}, nil).Maybe()
	env.OnActivity(validationAct.RunDownstream, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { validationCalled = true }).
		Return(&activities.RunValidationOutput{Skipped: true}, nil).Maybe()

	recorder := &eventRecorder{}
	env.OnActivity(eventAct.PublishEvent, mock.Anything, mock.Anything).
		Run(recorder.record).Return(nil)

	env.ExecuteWorkflow(DocumentPipelineWorkflow, DocumentPipelineInput{DocumentID: docID})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result DocumentPipelineResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, domain.DocumentStatusReviewRequired, result.Status)

	assert.False(t, validationCalled, "validation must only run for completed documents")
	assert.Equal(t, []string{domain.EventTypeDocumentReview}, recorder.types())
}

func TestDocumentPipelineWorkflow_PreprocessFailure(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	docID := uuid.New()

	var docAct *activities.DocumentActivities
	var eventAct *activities.EventActivities

	env.OnActivity(docAct.Preprocess, mock.Anything, mock.Anything).Return(nil,
		temporal.NewNonRetryableApplicationError("preprocess: unsupported mime type", "ValidationError", nil))

	var failedInput activities.MarkFailedInput
	env.OnActivity(docAct.MarkFailed, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			failedInput = args.Get(1).(activities.MarkFailedInput)
		}).Return(nil)

	recorder := &eventRecorder{}
	env.OnActivity(eventAct.PublishEvent, mock.Anything, mock.Anything).
		Run(recorder.record).Return(nil)

	env.ExecuteWorkflow(DocumentPipelineWorkflow, DocumentPipelineInput{
		DocumentID: docID,
		ActorID:    "user-1",
	})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())

	assert.Equal(t, docID, failedInput.DocumentID)
	assert.Equal(t, StagePreprocess, failedInput.Stage)
	assert.Contains(t, failedInput.ErrorMessage, "unsupported mime type")
	assert.Equal(t, "user-1", failedInput.ActorID)

	assert.Equal(t, []string{domain.EventTypeDocumentFailed}, recorder.types())
}

func TestDocumentPipelineWorkflow_ExtractFailure(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	docID := uuid.New()

	var docAct *activities.DocumentActivities
	var eventAct *activities.EventActivities

	env.OnActivity(docAct.Preprocess, mock.Anything, mock.Anything).
		Return(&activities.PreprocessOutput{}, nil)
	env.OnActivity(docAct.Classify, mock.Anything, mock.Anything).
		Return(&activities.ClassifyOutput{}, nil)
	env.OnActivity(docAct.Extract, mock.Anything, mock.Anything).Return(nil,
		temporal.NewNonRetryableApplicationError("extract: all engines failed", "EngineError", nil))

	var failedInput activities.MarkFailedInput
	env.OnActivity(docAct.MarkFailed, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			failedInput = args.Get(1).(activities.MarkFailedInput)
		}).Return(nil)

	recorder := &eventRecorder{}
	env.OnActivity(eventAct.PublishEvent, mock.Anything, mock.Anything).
		Run(recorder.record).Return(nil)

	env.ExecuteWorkflow(DocumentPipelineWorkflow, DocumentPipelineInput{DocumentID: docID})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())

	assert.Equal(t, StageExtract, failedInput.Stage)
	assert.Equal(t, DefaultActorID, failedInput.ActorID)
	assert.Equal(t, []string{domain.EventTypeDocumentFailed}, recorder.types())
}

func TestDocumentPipelineWorkflow_ValidationErrorTolerated(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	docID := uuid.New()
	engineID := uuid.New()

	var docAct *activities.DocumentActivities
	var validationAct *activities.ValidationActivities
	var eventAct *activities.EventActivities

	env.OnActivity(docAct.Preprocess, mock.Anything, mock.Anything).
		Return(&activities.PreprocessOutput{}, nil)
	env.OnActivity(docAct.Classify, mock.Anything, mock.Anything).
		Return(&activities.ClassifyOutput{}, nil)
	env.OnActivity(docAct.Extract, mock.Anything, mock.Anything).
		Return(&activities.ExtractOutput{
			Status:              domain.DocumentStatusCompleted,
			AggregateConfidence: 0.91,
			EngineConfigID:      engineID,
		}, nil)

	env.OnActivity(validationAct.RunUpstream, mock.Anything, mock.Anything).Return(nil,
		temporal.NewNonRetryableApplicationError("get document: gone", "NotFoundError", errors.New("gone")))
	env.OnActivity(validationAct.RunDownstream, mock.Anything, mock.Anything).
		Return(&activities.RunValidationOutput{
			OverallStatus: domain.OverallStatusMatched,
			MatchScore:    1.0,
		}, nil)

	recorder := &eventRecorder{}
	env.OnActivity(eventAct.PublishEvent, mock.Anything, mock.Anything).
		Run(recorder.record).Return(nil)

	env.ExecuteWorkflow(DocumentPipelineWorkflow, DocumentPipelineInput{DocumentID: docID})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError(), "validation failure must not fail the pipeline")

	var result DocumentPipelineResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, domain.DocumentStatusCompleted, result.Status)

	types := recorder.types()
	assert.Contains(t, types, domain.EventTypeDocumentCompleted)
	assert.Equal(t, 1, countOf(types, domain.EventTypeValidationCompleted))
}

func countOf(values []string, want string) int {
	n := 0
	for _, v := range values {
		if v == want {
			n++
		}
	}
	return n
}
