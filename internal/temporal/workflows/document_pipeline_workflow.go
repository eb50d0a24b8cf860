// Package workflows defines Temporal workflow implementations for the
// document processing pipeline.
package workflows

import (
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/claimsight/document-processing-service/internal/domain"
	"github.com/claimsight/document-processing-service/internal/temporal/activities"
)

// Pipeline stage names used in failure audit entries and events.
const (
	StagePreprocess = "preprocess"
	StageClassify   = "classify"
	StageExtract    = "extraction"
)

// DefaultActorID attributes pipeline-driven changes when no actor is given.
const DefaultActorID = "system"

// DocumentPipelineInput is the input for the document pipeline workflow.
type DocumentPipelineInput struct {
	// DocumentID identifies the document to process.
	DocumentID uuid.UUID `json:"document_id"`
	// ActorID identifies who started the pipeline, for audit entries.
	ActorID string `json:"actor_id"`
}

// DocumentPipelineResult is the result of the document pipeline workflow.
type DocumentPipelineResult struct {
	// DocumentID is the processed document.
	DocumentID uuid.UUID `json:"document_id"`
	// Status is the terminal document status.
	Status domain.DocumentStatus `json:"status"`
	// AggregateConfidence is the extraction confidence, zero when the
	// pipeline failed before extraction.
	AggregateConfidence float64 `json:"aggregate_confidence"`
	// DurationMs is the end-to-end pipeline duration.
	DurationMs int64 `json:"duration_ms"`
}

// DocumentPipelineWorkflow drives one document through preprocess ->
// classify -> extract and finalization.
//
// Classification failure is tolerated: the document continues with a
// generic extraction. Preprocessing and extraction failure (after the
// activity retry budget) is terminal: the document is marked failed with an
// error audit entry. When the confidence gate lands on completed, upstream
// and downstream validation run in parallel; their errors are logged and
// never change the document status. Lifecycle events are published
// fire-and-forget.
func DocumentPipelineWorkflow(ctx workflow.Context, input DocumentPipelineInput) (*DocumentPipelineResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("starting document pipeline", "documentID", input.DocumentID)

	start := workflow.Now(ctx)
	actorID := input.ActorID
	if actorID == "" {
		actorID = DefaultActorID
	}

	// Activity pointers for method references
	var docAct *activities.DocumentActivities
	var validationAct *activities.ValidationActivities
	var eventAct *activities.EventActivities

	// Activity options. Engine-backed stages get a longer deadline; all
	// stages retry twice after the first attempt.
	stageCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    1 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	engineCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    1 * time.Minute,
			MaximumAttempts:    3,
		},
	})

	validationCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    1 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	eventCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    500 * time.Millisecond,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    3,
		},
	})

	result := &DocumentPipelineResult{DocumentID: input.DocumentID}

	durationMs := func() int64 {
		return workflow.Now(ctx).Sub(start).Milliseconds()
	}

	failPipeline := func(stage string, cause error) (*DocumentPipelineResult, error) {
		logger.Error("pipeline stage failed",
			"documentID", input.DocumentID,
			"stage", stage,
			"error", cause,
		)

		err := workflow.ExecuteActivity(stageCtx, docAct.MarkFailed, activities.MarkFailedInput{
			DocumentID:   input.DocumentID,
			Stage:        stage,
			ErrorMessage: cause.Error(),
			ActorID:      actorID,
		}).Get(ctx, nil)
		if err != nil {
			logger.Error("failed to mark document failed",
				"documentID", input.DocumentID,
				"error", err,
			)
		}

		result.Status = domain.DocumentStatusFailed
		result.DurationMs = durationMs()

		publishEvent(ctx, eventCtx, eventAct, activities.PublishEventInput{
			EventType:  domain.EventTypeDocumentFailed,
			DocumentID: input.DocumentID,
			Payload: map[string]interface{}{
				"document_id": input.DocumentID,
				"error":       cause.Error(),
				"stage":       stage,
			},
			DurationSeconds: float64(result.DurationMs) / 1000,
		})

		return result, cause
	}

	// Stage 1: preprocess
	var preOut activities.PreprocessOutput
	err := workflow.ExecuteActivity(stageCtx, docAct.Preprocess, activities.PreprocessInput{
		DocumentID: input.DocumentID,
		ActorID:    actorID,
	}).Get(ctx, &preOut)
	if err != nil {
		return failPipeline(StagePreprocess, err)
	}

	logger.Info("document preprocessed",
		"documentID", input.DocumentID,
		"qualityScore", preOut.Metadata.QualityScore,
	)

	// Stage 2: classify. Engine failure inside the activity is tolerated
	// and reported as Classified=false; an activity error here means the
	// status transition or persistence failed.
	var classifyOut activities.ClassifyOutput
	err = workflow.ExecuteActivity(engineCtx, docAct.Classify, activities.ClassifyInput{
		DocumentID: input.DocumentID,
		ActorID:    actorID,
	}).Get(ctx, &classifyOut)
	if err != nil {
		return failPipeline(StageClassify, err)
	}

	if classifyOut.Classified {
		logger.Info("document classified",
			"documentID", input.DocumentID,
			"documentTypeCode", classifyOut.DocumentTypeCode,
			"confidence", classifyOut.Confidence,
		)
	} else {
		logger.Info("document not classified, continuing with generic extraction",
			"documentID", input.DocumentID,
		)
	}

	// Stage 3: extract + confidence gate
	var extractOut activities.ExtractOutput
	err = workflow.ExecuteActivity(engineCtx, docAct.Extract, activities.ExtractInput{
		DocumentID: input.DocumentID,
		ActorID:    actorID,
	}).Get(ctx, &extractOut)
	if err != nil {
		return failPipeline(StageExtract, err)
	}

	result.Status = extractOut.Status
	result.AggregateConfidence = extractOut.AggregateConfidence
	result.DurationMs = durationMs()

	logger.Info("document extracted",
		"documentID", input.DocumentID,
		"status", extractOut.Status,
		"aggregateConfidence", extractOut.AggregateConfidence,
	)

	// Finalize per gate outcome.
	switch extractOut.Status {
	case domain.DocumentStatusCompleted:
		runBothValidations(ctx, validationCtx, eventCtx, validationAct, eventAct, input.DocumentID)

		result.DurationMs = durationMs()
		publishEvent(ctx, eventCtx, eventAct, activities.PublishEventInput{
			EventType:  domain.EventTypeDocumentCompleted,
			DocumentID: input.DocumentID,
			Payload: map[string]interface{}{
				"document_id":          input.DocumentID,
				"status":               string(domain.DocumentStatusCompleted),
				"aggregate_confidence": extractOut.AggregateConfidence,
				"duration_ms":          result.DurationMs,
			},
			DurationSeconds: float64(result.DurationMs) / 1000,
		})

	case domain.DocumentStatusReviewRequired:
		publishEvent(ctx, eventCtx, eventAct, activities.PublishEventInput{
			EventType:  domain.EventTypeDocumentReview,
			DocumentID: input.DocumentID,
			Payload: map[string]interface{}{
				"document_id":          input.DocumentID,
				"status":               string(domain.DocumentStatusReviewRequired),
				"aggregate_confidence": extractOut.AggregateConfidence,
				"duration_ms":          result.DurationMs,
			},
			DurationSeconds: float64(result.DurationMs) / 1000,
		})

	case domain.DocumentStatusFailed:
		publishEvent(ctx, eventCtx, eventAct, activities.PublishEventInput{
			EventType:  domain.EventTypeDocumentFailed,
			DocumentID: input.DocumentID,
			Payload: map[string]interface{}{
				"document_id": input.DocumentID,
				"error":       "extraction confidence below review threshold",
				"stage":       StageExtract,
			},
			DurationSeconds: float64(result.DurationMs) / 1000,
		})
	}

	logger.Info("document pipeline finished",
		"documentID", input.DocumentID,
		"status", result.Status,
		"durationMs", result.DurationMs,
	)

	return result, nil
}

// runBothValidations executes the upstream and downstream validation
// activities in parallel and waits for both. Validation errors are logged
// and swallowed; a completed run publishes a validation.completed event.
func runBothValidations(
	ctx workflow.Context,
	validationCtx workflow.Context,
	eventCtx workflow.Context,
	validationAct *activities.ValidationActivities,
	eventAct *activities.EventActivities,
	documentID uuid.UUID,
) {
	logger := workflow.GetLogger(ctx)
	input := activities.RunValidationInput{DocumentID: documentID}

	upstreamFut := workflow.ExecuteActivity(validationCtx, validationAct.RunUpstream, input)
	downstreamFut := workflow.ExecuteActivity(validationCtx, validationAct.RunDownstream, input)

	collect := func(fut workflow.Future, validationType domain.ValidationType) {
		var out activities.RunValidationOutput
		if err := fut.Get(ctx, &out); err != nil {
			logger.Warn("validation failed",
				"documentID", documentID,
				"validationType", validationType,
				"error", err,
			)
			return
		}
		if out.Skipped {
			return
		}

		publishEvent(ctx, eventCtx, eventAct, activities.PublishEventInput{
			EventType:  domain.EventTypeValidationCompleted,
			DocumentID: documentID,
			Payload: map[string]interface{}{
				"document_id":       documentID,
				"validation_type":   string(validationType),
				"overall_status":    string(out.OverallStatus),
				"discrepancy_count": out.DiscrepancyCount,
				"match_score":       out.MatchScore,
			},
		})
	}

	collect(upstreamFut, domain.ValidationTypeUpstream)
	collect(downstreamFut, domain.ValidationTypeDownstream)
}

// publishEvent fires the PublishEvent activity and swallows its error:
// event delivery never fails a pipeline.
func publishEvent(ctx workflow.Context, eventCtx workflow.Context, eventAct *activities.EventActivities, input activities.PublishEventInput) {
	info := workflow.GetInfo(ctx)
	if input.Metadata == nil {
		input.Metadata = map[string]interface{}{}
	}
	input.Metadata["workflow_id"] = info.WorkflowExecution.ID
	input.Metadata["run_id"] = info.WorkflowExecution.RunID

	if err := workflow.ExecuteActivity(eventCtx, eventAct.PublishEvent, input).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("event publish failed",
			"eventType", input.EventType,
			"documentID", input.DocumentID,
			"error", err,
		)
	}
}
