package contract

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyContext       = errors.New("memory context is empty")
	ErrPlanningFailure    = errors.New("planning failed")
	ErrRateLimitExceeded  = errors.New("daily request limit exceeded")
	ErrGatewayUnavailable = errors.New("language model gateway unavailable")
	ErrUnknownTool        = errors.New("unknown tool")
	ErrInvalidParams      = errors.New("invalid tool params")
	ErrToolExecution      = errors.New("tool execution failed")
	ErrCancelledRequest   = errors.New("request cancelled")

	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")
)

// ToolExecutionError wraps any failure raised by a tool's own logic.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("%s: tool=%s: %v", ErrToolExecution, e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

func (e *ToolExecutionError) Is(target error) bool {
	return target == ErrToolExecution
}
