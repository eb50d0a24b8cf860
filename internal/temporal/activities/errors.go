package activities

import (
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// Application error types attached to non-retryable activity failures.
const (
	errTypeValidation  = "ValidationError"
	errTypeConsistency = "ConsistencyError"
	errTypeNotFound    = "NotFoundError"
)

// stageError converts a domain error into an activity error with the right
// retry semantics. Malformed input, state conflicts and missing entities are
// terminal for the stage and must not consume the retry budget; everything
// else (engine failures, storage and queue errors) stays retryable and is
// governed by the activity retry policy.
func stageError(op string, err error) error {
	if err == nil {
		return nil
	}

	wrapped := fmt.Errorf("%s: %w", op, err)

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return temporal.NewNonRetryableApplicationError(wrapped.Error(), errTypeValidation, err)
	case errors.Is(err, domain.ErrConsistency):
		return temporal.NewNonRetryableApplicationError(wrapped.Error(), errTypeConsistency, err)
	case errors.Is(err, domain.ErrNotFound):
		return temporal.NewNonRetryableApplicationError(wrapped.Error(), errTypeNotFound, err)
	default:
		return wrapped
	}
}
