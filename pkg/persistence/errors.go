// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFlowNotFound indicates a flow definition was not found.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrExecutionNotFound indicates an execution was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionConflict indicates a compare-and-set update lost against a
	// concurrent writer; the caller should reload and retry or give up.
	ErrExecutionConflict = errors.New("execution was modified concurrently")

	// ErrDelayTaskNotFound indicates a delay task was not found.
	ErrDelayTaskNotFound = errors.New("delay task not found")

	// ErrScheduleNotFound indicates an assignment schedule was not found.
	ErrScheduleNotFound = errors.New("assignment schedule not found")
)

// ExecutionError wraps execution-related errors with operation context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g., "GetByID", "Update")
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExecutionID: executionID,
		Err:         err,
	}
}

// DelayTaskError wraps delay-task errors with operation context.
type DelayTaskError struct {
	Op     string
	TaskID string
	Err    error
}

func (e *DelayTaskError) Error() string {
	return fmt.Sprintf("%s operation failed for delay task %s: %v", e.Op, e.TaskID, e.Err)
}

func (e *DelayTaskError) Unwrap() error {
	return e.Err
}

func (e *DelayTaskError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewDelayTaskError creates a new delay-task error with context.
func NewDelayTaskError(op, taskID string, err error) *DelayTaskError {
	return &DelayTaskError{
		Op:     op,
		TaskID: taskID,
		Err:    err,
	}
}

// IsFlowNotFound checks if an error indicates a flow was not found.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsExecutionConflict checks if an error indicates a lost compare-and-set.
func IsExecutionConflict(err error) bool {
	return errors.Is(err, ErrExecutionConflict)
}

// IsDelayTaskNotFound checks if an error indicates a delay task was not found.
func IsDelayTaskNotFound(err error) bool {
	return errors.Is(err, ErrDelayTaskNotFound)
}
