package workerpool

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPoolNotRunning is returned when submitting to a pool that was never started or has stopped
	ErrPoolNotRunning = errors.New("worker pool is not running")

	// ErrPoolStopped is returned when starting a pool that has already been stopped
	ErrPoolStopped = errors.New("worker pool has been stopped")

	// ErrNilTask is returned when a work item has no function
	ErrNilTask = errors.New("work item has no task function")

	// ErrTaskPanicked marks task failures caused by a recovered panic
	ErrTaskPanicked = errors.New("task panicked")
)

// recordIdentifier is implemented by work item contexts that can name their source record
type recordIdentifier interface {
	RecordID() string
}

// TaskError is the failure of one work item, attributed to the item's context
type TaskError struct {
	Context any
	Err     error
}

func (e *TaskError) Error() string {
	if rc, ok := e.Context.(recordIdentifier); ok {
		return fmt.Sprintf("task for record %s failed: %v", rc.RecordID(), e.Err)
	}
	return fmt.Sprintf("task failed: %v", e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// DrainError reports every task that failed since the previous drain.
// Failures are kept in the order they were recorded.
type DrainError struct {
	Failures []*TaskError
}

func (e *DrainError) Error() string {
	if len(e.Failures) == 1 {
		return e.Failures[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d tasks failed; first: %s", len(e.Failures), e.Failures[0].Error())
	return sb.String()
}

// Unwrap exposes each TaskError to errors.Is and errors.As
func (e *DrainError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// First returns the earliest recorded failure
func (e *DrainError) First() *TaskError {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[0]
}

// panicError wraps a recovered panic value
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("%s: %v", ErrTaskPanicked.Error(), e.value)
}

func (e *panicError) Is(target error) bool {
	return target == ErrTaskPanicked
}
