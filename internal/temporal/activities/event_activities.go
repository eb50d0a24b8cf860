package activities

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/claimsight/document-processing-service/internal/domain"
	"github.com/claimsight/document-processing-service/internal/events"
	"github.com/claimsight/document-processing-service/internal/observability"
)

// EventActivities provides Temporal activities for publishing lifecycle
// events to the message broker.
//
// Methods on this struct are registered as Temporal activities via the
// worker. Publishing is called with fire-and-forget semantics from the
// workflow: a publish failure must never fail the pipeline.
type EventActivities struct {
	publisher events.Publisher
	metrics   *observability.Metrics
}

// NewEventActivities creates a new EventActivities with the given publisher.
// The metrics parameter may be nil.
func NewEventActivities(publisher events.Publisher, metrics *observability.Metrics) *EventActivities {
	return &EventActivities{publisher: publisher, metrics: metrics}
}

// PublishEvent publishes a lifecycle event to the broker. For terminal
// document events the pipeline duration is recorded in metrics.
func (a *EventActivities) PublishEvent(ctx context.Context, input PublishEventInput) error {
	logger := activity.GetLogger(ctx)
	logger.Info("publishing event",
		"eventType", input.EventType,
		"documentID", input.DocumentID,
	)

	a.recordOutcome(input)

	event, err := domain.NewEvent(input.EventType, input.DocumentID.String(), "document", input.Payload)
	if err != nil {
		return fmt.Errorf("build event %s: %w", input.EventType, err)
	}
	if len(input.Metadata) > 0 {
		event.WithMetadata(input.Metadata)
	}

	if err := a.publisher.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish event %s: %w", input.EventType, err)
	}

	return nil
}

// recordOutcome maps terminal document events to outcome metrics.
func (a *EventActivities) recordOutcome(input PublishEventInput) {
	if a.metrics == nil {
		return
	}

	switch input.EventType {
	case domain.EventTypeDocumentCompleted:
		a.metrics.RecordDocumentCompleted(input.DurationSeconds)
	case domain.EventTypeDocumentFailed:
		a.metrics.RecordDocumentFailed(input.DurationSeconds)
	case domain.EventTypeDocumentReview:
		a.metrics.RecordDocumentReviewRequired(input.DurationSeconds)
	}
}
