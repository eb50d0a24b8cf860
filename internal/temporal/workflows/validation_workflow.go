package workflows

import (
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/claimsight/document-processing-service/internal/domain"
	"github.com/claimsight/document-processing-service/internal/temporal/activities"
)

// ValidationWorkflowInput is the input for the standalone validation
// workflow, started on review approval for re-validation.
type ValidationWorkflowInput struct {
	// DocumentID identifies the document to validate.
	DocumentID uuid.UUID `json:"document_id"`
	// ActorID identifies who triggered the validation.
	ActorID string `json:"actor_id"`
}

// ValidationWorkflowResult summarizes both validation passes.
type ValidationWorkflowResult struct {
	// Upstream is the upstream comparison outcome, nil when skipped or failed.
	Upstream *activities.RunValidationOutput `json:"upstream,omitempty"`
	// Downstream is the rule evaluation outcome, nil when skipped or failed.
	Downstream *activities.RunValidationOutput `json:"downstream,omitempty"`
}

// ValidationWorkflow runs the upstream and downstream validation passes for
// one document in parallel. A failed pass is logged and reported as nil in
// the result; validation never changes the document status.
func ValidationWorkflow(ctx workflow.Context, input ValidationWorkflowInput) (*ValidationWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("starting validation workflow", "documentID", input.DocumentID)

	var validationAct *activities.ValidationActivities
	var eventAct *activities.EventActivities

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

	runInput := activities.RunValidationInput{DocumentID: input.DocumentID}
	upstreamFut := workflow.ExecuteActivity(validationCtx, validationAct.RunUpstream, runInput)
	downstreamFut := workflow.ExecuteActivity(validationCtx, validationAct.RunDownstream, runInput)

	result := &ValidationWorkflowResult{}

	collect := func(fut workflow.Future, validationType domain.ValidationType) *activities.RunValidationOutput {
		var out activities.RunValidationOutput
		if err := fut.Get(ctx, &out); err != nil {
			logger.Warn("validation failed",
				"documentID", input.DocumentID,
				"validationType", validationType,
				"error", err,
			)
			return nil
		}
		if out.Skipped {
			return nil
		}

		publishEvent(ctx, eventCtx, eventAct, activities.PublishEventInput{
			EventType:  domain.EventTypeValidationCompleted,
			DocumentID: input.DocumentID,
			Payload: map[string]interface{}{
				"document_id":       input.DocumentID,
				"validation_type":   string(validationType),
				"overall_status":    string(out.OverallStatus),
				"discrepancy_count": out.DiscrepancyCount,
				"match_score":       out.MatchScore,
			},
		})
		return &out
	}

	result.Upstream = collect(upstreamFut, domain.ValidationTypeUpstream)
	result.Downstream = collect(downstreamFut, domain.ValidationTypeDownstream)

	logger.Info("validation workflow finished", "documentID", input.DocumentID)
	return result, nil
}
