// Package temporal provides Temporal workflow client integration for the
// document processing service.
//
// This package handles workflow client initialization, workflow/activity
// registration, and worker lifecycle management.
//
// # Overview
//
// The temporal package provides:
//
//   - Client: Temporal client wrapper for starting/managing workflows
//   - Worker: Worker process for executing workflows and activities
//   - Workflow definitions for document pipeline orchestration
//   - Activity implementations for pipeline stages
//
// # Client Setup
//
// Create a Temporal client:
//
//	cfg := temporal.ClientConfig{
//	    HostPort:  "localhost:7233",
//	    Namespace: "document-processing",
//	    TaskQueue: "document-processing-tasks",
//	}
//
//	client, err := temporal.NewClient(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// # Starting Workflows
//
// Start a document pipeline workflow:
//
//	wc := temporal.NewWorkflowClient(client, cfg.TaskQueue)
//	workflowID, runID, err := wc.StartDocumentPipeline(ctx, documentID,
//	    workflows.DocumentPipelineWorkflow,
//	    workflows.DocumentPipelineInput{DocumentID: documentID, ActorID: actorID},
//	)
//
// # Worker Setup
//
// Create and start a worker:
//
//	manager, err := temporal.NewWorkerManager(client, temporal.DefaultWorkerConfig(taskQueue))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	manager.RegisterWorkflow(workflows.DocumentPipelineWorkflow)
//	manager.RegisterWorkflow(workflows.ValidationWorkflow)
//	manager.RegisterActivity(documentActivities)
//
//	if err := manager.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Workflow Types
//
// The package defines two workflow types:
//
//   - DocumentPipelineWorkflow: preprocess -> classify -> extract with a
//     confidence gate, then parallel validation and event publishing
//   - ValidationWorkflow: standalone re-validation of one document
//
// # Activity Types
//
// Activities are grouped by responsibility:
//
//   - Document activities: preprocessing, classification, extraction,
//     failure recording
//   - Validation activities: upstream comparison, downstream rule checks
//   - Event activities: lifecycle event publishing
//
// # Error Handling
//
// Workflows use standard Temporal error handling:
//
//	if temporal.IsWorkflowNotFound(err) {
//	    // Workflow doesn't exist or already completed
//	}
//
//	if temporal.IsWorkflowAlreadyStarted(err) {
//	    // Workflow with same ID is already running
//	}
//
// # Thread Safety
//
// The Temporal client is safe for concurrent use. Workers manage their
// own goroutines for activity execution.
package temporal
