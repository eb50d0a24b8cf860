package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	documentIDKey contextKey = "document_id"
	actorIDKey    contextKey = "actor_id"
	workflowIDKey contextKey = "workflow_id"
	runIDKey      contextKey = "workflow_run_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithDocumentID adds the document ID to the context.
func WithDocumentID(ctx context.Context, documentID string) context.Context {
	return context.WithValue(ctx, documentIDKey, documentID)
}

// DocumentIDFromContext retrieves the document ID from context.
// Returns empty string if not present.
func DocumentIDFromContext(ctx context.Context) string {
	if v := ctx.Value(documentIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithActorID adds the acting user or system component to the context.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey, actorID)
}

// ActorIDFromContext retrieves the actor ID from context.
// Returns empty string if not present.
func ActorIDFromContext(ctx context.Context) string {
	if v := ctx.Value(actorIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithWorkflow adds workflow ID and run ID to the context.
func WithWorkflow(ctx context.Context, workflowID, runID string) context.Context {
	ctx = context.WithValue(ctx, workflowIDKey, workflowID)
	ctx = context.WithValue(ctx, runIDKey, runID)
	return ctx
}

// WorkflowFromContext retrieves workflow ID and run ID from context.
// Returns empty strings if not present.
func WorkflowFromContext(ctx context.Context) (workflowID, runID string) {
	if v := ctx.Value(workflowIDKey); v != nil {
		if id, ok := v.(string); ok {
			workflowID = id
		}
	}
	if v := ctx.Value(runIDKey); v != nil {
		if id, ok := v.(string); ok {
			runID = id
		}
	}
	return workflowID, runID
}

// ProcessingContext contains all the context data for a document run.
type ProcessingContext struct {
	RequestID  string
	DocumentID string
	ActorID    string
	WorkflowID string
	RunID      string
}

// WithProcessingContext adds all document processing context to the context.
func WithProcessingContext(ctx context.Context, pc ProcessingContext) context.Context {
	if pc.RequestID != "" {
		ctx = WithRequestID(ctx, pc.RequestID)
	}
	if pc.DocumentID != "" {
		ctx = WithDocumentID(ctx, pc.DocumentID)
	}
	if pc.ActorID != "" {
		ctx = WithActorID(ctx, pc.ActorID)
	}
	if pc.WorkflowID != "" || pc.RunID != "" {
		ctx = WithWorkflow(ctx, pc.WorkflowID, pc.RunID)
	}
	return ctx
}

// ProcessingContextFromContext extracts all processing context from the context.
func ProcessingContextFromContext(ctx context.Context) ProcessingContext {
	workflowID, runID := WorkflowFromContext(ctx)

	return ProcessingContext{
		RequestID:  RequestIDFromContext(ctx),
		DocumentID: DocumentIDFromContext(ctx),
		ActorID:    ActorIDFromContext(ctx),
		WorkflowID: workflowID,
		RunID:      runID,
	}
}
