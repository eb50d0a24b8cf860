package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that the input data is invalid. Stages
	// failing with this error are not retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited indicates that a request was rate limited.
	ErrRateLimited = errors.New("rate limited")

	// ErrEngineFailure indicates that a vision-LLM engine call failed.
	ErrEngineFailure = errors.New("engine failure")

	// ErrTransientInfra indicates a storage or queue failure that may
	// succeed within the task's remaining retry budget.
	ErrTransientInfra = errors.New("transient infrastructure failure")

	// ErrConsistency indicates a state conflict, such as applying a
	// registry update proposal that is not in approved status.
	ErrConsistency = errors.New("consistency violation")

	// ErrNoEngines indicates that no active engine configs exist.
	ErrNoEngines = errors.New("no active engines configured")

	// ErrWorkflowFailed indicates that a Temporal workflow failed.
	ErrWorkflowFailed = errors.New("workflow failed")
)

// ValidationError represents malformed or ineligible input to a pipeline
// stage. Terminal for the stage: the task queue must not retry it.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// AlreadyExistsError provides details about a duplicate entity.
type AlreadyExistsError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *AlreadyExistsError) Unwrap() error {
	return ErrAlreadyExists
}

// RateLimitError provides details about a rate limit error from an
// engine provider API.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s: retry after %s", e.Source, e.RetryAfter)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// EngineError wraps a failure from a vision-LLM engine adapter. The router
// tries remaining fallback candidates before surfacing one of these.
type EngineError struct {
	Engine     string
	Operation  string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("engine %s: %s failed (status %d): %s", e.Engine, e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("engine %s: %s failed: %s", e.Engine, e.Operation, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *EngineError) Unwrap() error {
	return ErrEngineFailure
}

// TransientInfraError wraps a storage or queue failure. The task queue's
// retry policy handles these; exhaustion surfaces as a failed document.
type TransientInfraError struct {
	System  string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *TransientInfraError) Error() string {
	return fmt.Sprintf("%s: %s", e.System, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *TransientInfraError) Unwrap() error {
	return ErrTransientInfra
}

// ConsistencyError represents a rejected state transition, such as applying
// an already-applied proposal. Rejected outright, never retried.
type ConsistencyError struct {
	Entity  string
	ID      string
	Message string
}

// Error implements the error interface.
func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ConsistencyError) Unwrap() error {
	return ErrConsistency
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(entity, id string) *AlreadyExistsError {
	return &AlreadyExistsError{
		Entity: entity,
		ID:     id,
	}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(source string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{
		Source:     source,
		RetryAfter: retryAfter,
	}
}

// NewEngineError creates a new EngineError.
func NewEngineError(engine, operation string, statusCode int, message string, cause error) *EngineError {
	return &EngineError{
		Engine:     engine,
		Operation:  operation,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}

// NewTransientInfraError creates a new TransientInfraError.
func NewTransientInfraError(system, message string, cause error) *TransientInfraError {
	return &TransientInfraError{
		System:  system,
		Message: message,
		Cause:   cause,
	}
}

// NewConsistencyError creates a new ConsistencyError.
func NewConsistencyError(entity, id, message string) *ConsistencyError {
	return &ConsistencyError{
		Entity:  entity,
		ID:      id,
		Message: message,
	}
}

// IsRetryable reports whether a failed stage should be handed back to the
// task queue for another attempt. Input validation and consistency
// violations are terminal.
func IsRetryable(err error) bool {
	return !errors.Is(err, ErrInvalidInput) && !errors.Is(err, ErrConsistency)
}
