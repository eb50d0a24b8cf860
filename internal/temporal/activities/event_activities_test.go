package activities

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// fakePublisher implements events.Publisher.
type fakePublisher struct {
	published []*domain.Event
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, event *domain.Event) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, event)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func TestPublishEvent(t *testing.T) {
	docID := uuid.New()

	t.Run("publishes envelope with metadata", func(t *testing.T) {
		publisher := &fakePublisher{}
		act := NewEventActivities(publisher, nil)

		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()
		env.RegisterActivity(act)

		_, err := env.ExecuteActivity(act.PublishEvent, PublishEventInput{
			EventType:  domain.EventTypeDocumentCompleted,
			DocumentID: docID,
			Payload: map[string]interface{}{
				"document_id": docID.String(),
				"status":      "completed",
			},
			Metadata: map[string]interface{}{"workflow_id": "doc-pipeline-1"},
		})
		require.NoError(t, err)

		require.Len(t, publisher.published, 1)
		event := publisher.published[0]
		assert.Equal(t, domain.EventTypeDocumentCompleted, event.EventType)
		assert.Equal(t, docID.String(), event.AggregateID)
		assert.Equal(t, "document", event.AggregateType)
		assert.Equal(t, "doc-pipeline-1", event.Metadata["workflow_id"])

		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(event.Payload, &payload))
		assert.Equal(t, "completed", payload["status"])
	})

	t.Run("publish failure surfaces to the caller", func(t *testing.T) {
		act := NewEventActivities(&fakePublisher{err: errors.New("broker unavailable")}, nil)

		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()
		env.RegisterActivity(act)

		_, err := env.ExecuteActivity(act.PublishEvent, PublishEventInput{
			EventType:  domain.EventTypeDocumentFailed,
			DocumentID: docID,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broker unavailable")
	})
}
