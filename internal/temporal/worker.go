package temporal

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// Default worker pool sizes, applied wherever WorkerConfig leaves a
// field zero.
const (
	defaultActivityExecutionSize = 100
	defaultWorkflowTaskSize      = 50
	defaultActivityPollers       = 4
	defaultWorkflowPollers       = 2
)

// WorkerConfig sizes the executor and poller pools of one Temporal
// worker process.
type WorkerConfig struct {
	// TaskQueue is the queue the worker polls. Required.
	TaskQueue string

	// MaxConcurrentActivityExecutionSize caps in-flight activities.
	MaxConcurrentActivityExecutionSize int

	// MaxConcurrentWorkflowTaskExecutionSize caps in-flight workflow tasks.
	MaxConcurrentWorkflowTaskExecutionSize int

	// MaxConcurrentActivityTaskPollers is the activity poller count.
	MaxConcurrentActivityTaskPollers int

	// MaxConcurrentWorkflowTaskPollers is the workflow poller count.
	MaxConcurrentWorkflowTaskPollers int
}

// DefaultWorkerConfig returns the standard sizing for the given queue.
func DefaultWorkerConfig(taskQueue string) WorkerConfig {
	return WorkerConfig{
		TaskQueue:                              taskQueue,
		MaxConcurrentActivityExecutionSize:     defaultActivityExecutionSize,
		MaxConcurrentWorkflowTaskExecutionSize: defaultWorkflowTaskSize,
		MaxConcurrentActivityTaskPollers:       defaultActivityPollers,
		MaxConcurrentWorkflowTaskPollers:       defaultWorkflowPollers,
	}
}

// WorkflowRegistry tracks the workflow functions registered on a worker.
type WorkflowRegistry struct {
	workflows []interface{}
}

// NewWorkflowRegistry creates an empty workflow registry.
func NewWorkflowRegistry() *WorkflowRegistry {
	return &WorkflowRegistry{workflows: make([]interface{}, 0)}
}

// Register records a workflow function.
func (r *WorkflowRegistry) Register(workflow interface{}) {
	r.workflows = append(r.workflows, workflow)
}

// ActivityRegistry tracks the activity structs registered on a worker.
type ActivityRegistry struct {
	activities []interface{}
}

// NewActivityRegistry creates an empty activity registry.
func NewActivityRegistry() *ActivityRegistry {
	return &ActivityRegistry{activities: make([]interface{}, 0)}
}

// Register records an activity function or struct.
func (r *ActivityRegistry) Register(activity interface{}) {
	r.activities = append(r.activities, activity)
}

// WorkerManager owns one Temporal worker: registration, startup, and
// shutdown.
type WorkerManager struct {
	worker     worker.Worker
	taskQueue  string
	workflows  *WorkflowRegistry
	activities *ActivityRegistry
}

func workerOptionsFromConfig(config WorkerConfig) worker.Options {
	options := worker.Options{
		MaxConcurrentActivityExecutionSize:     config.MaxConcurrentActivityExecutionSize,
		MaxConcurrentWorkflowTaskExecutionSize: config.MaxConcurrentWorkflowTaskExecutionSize,
		MaxConcurrentActivityTaskPollers:       config.MaxConcurrentActivityTaskPollers,
		MaxConcurrentWorkflowTaskPollers:       config.MaxConcurrentWorkflowTaskPollers,
	}

	if options.MaxConcurrentActivityExecutionSize == 0 {
		options.MaxConcurrentActivityExecutionSize = defaultActivityExecutionSize
	}
	if options.MaxConcurrentWorkflowTaskExecutionSize == 0 {
		options.MaxConcurrentWorkflowTaskExecutionSize = defaultWorkflowTaskSize
	}
	if options.MaxConcurrentActivityTaskPollers == 0 {
		options.MaxConcurrentActivityTaskPollers = defaultActivityPollers
	}
	if options.MaxConcurrentWorkflowTaskPollers == 0 {
		options.MaxConcurrentWorkflowTaskPollers = defaultWorkflowPollers
	}

	return options
}

// NewWorkerManager builds a managed worker on the given client and queue.
func NewWorkerManager(c client.Client, config WorkerConfig) (*WorkerManager, error) {
	if config.TaskQueue == "" {
		return nil, fmt.Errorf("task queue is required")
	}

	w := worker.New(c, config.TaskQueue, workerOptionsFromConfig(config))

	return &WorkerManager{
		worker:     w,
		taskQueue:  config.TaskQueue,
		workflows:  NewWorkflowRegistry(),
		activities: NewActivityRegistry(),
	}, nil
}

// RegisterWorkflow registers a workflow function with the worker.
func (m *WorkerManager) RegisterWorkflow(workflow interface{}) {
	m.workflows.Register(workflow)
	m.worker.RegisterWorkflow(workflow)
}

// RegisterActivity registers an activity function or struct with the
// worker.
func (m *WorkerManager) RegisterActivity(activity interface{}) {
	m.activities.Register(activity)
	m.worker.RegisterActivity(activity)
}

// Worker exposes the underlying Temporal worker.
func (m *WorkerManager) Worker() worker.Worker {
	return m.worker
}

// TaskQueue returns the queue this worker polls.
func (m *WorkerManager) TaskQueue() string {
	return m.taskQueue
}

// Start runs the worker until the context is cancelled or the worker
// stops on its own.
func (m *WorkerManager) Start(ctx context.Context) error {
	return StartWorker(ctx, m.worker)
}

// Stop shuts the worker down gracefully.
func (m *WorkerManager) Stop() {
	m.worker.Stop()
}

// NewWorker builds an unmanaged worker for callers that handle
// registration and lifecycle themselves.
func NewWorker(c client.Client, config WorkerConfig) (worker.Worker, error) {
	if config.TaskQueue == "" {
		return nil, fmt.Errorf("task queue is required")
	}
	return worker.New(c, config.TaskQueue, workerOptionsFromConfig(config)), nil
}

// StartWorker blocks on the worker run loop, stopping it when ctx is
// cancelled.
func StartWorker(ctx context.Context, w worker.Worker) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Run(worker.InterruptCh())
	}()

	select {
	case <-ctx.Done():
		w.Stop()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
