package run

import (
	"context"
	"errors"
	"fmt"

	"github.com/recordlink/backend/internal/application/builder"
	"github.com/recordlink/backend/internal/domain/identity"
	"github.com/recordlink/backend/internal/domain/shared"
	"github.com/recordlink/backend/internal/infrastructure/workerpool"
)

// Record error codes
const (
	ErrCodeRecordUnknown          = "ERR_RECORD_UNKNOWN"
	ErrCodeRecordInvalidKey       = "ERR_RECORD_INVALID_KEY"
	ErrCodeRecordMissingComponent = "ERR_RECORD_MISSING_COMPONENT"
	ErrCodeRecordMissingMapping   = "ERR_RECORD_MISSING_MAPPING"
	ErrCodeRecordTaskFailed       = "ERR_RECORD_TASK_FAILED"
	ErrCodeRecordTaskPanicked     = "ERR_RECORD_TASK_PANICKED"
)

var (
	// ErrCriticalPhaseFailed is returned when a record fails in a phase that must be error free
	ErrCriticalPhaseFailed = errors.New("run: record failed in critical phase")

	// ErrMissingMapping is returned by handlers that need a mapping written by an earlier phase
	ErrMissingMapping = shared.NewDomainError(ErrCodeRecordMissingMapping, "required mapping not found")
)

// RecordError is a failure attributed to one source record. Processing continues
// with the next record unless the phase is critical.
type RecordError struct {
	RecordID string `json:"record_id"`
	Feed     string `json:"feed"`
	Phase    string `json:"phase"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Cause    error  `json:"-"`
}

// Error implements the error interface
func (e *RecordError) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("record %s (%s/%s): %s", e.RecordID, e.Feed, e.Phase, e.Message)
	}
	return fmt.Sprintf("record %s: %s", e.RecordID, e.Message)
}

func (e *RecordError) Unwrap() error {
	return e.Cause
}

// NewRecordError creates a RecordError, deriving the code from cause
func NewRecordError(recordID string, cause error) *RecordError {
	return &RecordError{
		RecordID: recordID,
		Code:     CodeFor(cause),
		Message:  cause.Error(),
		Cause:    cause,
	}
}

// CodeFor maps an error to its record error code
func CodeFor(err error) string {
	switch {
	case errors.Is(err, workerpool.ErrTaskPanicked):
		return ErrCodeRecordTaskPanicked
	case errors.Is(err, identity.ErrMissingKeyComponent):
		return ErrCodeRecordMissingComponent
	case errors.Is(err, identity.ErrEmptyScope),
		errors.Is(err, identity.ErrEmptyResourceType),
		errors.Is(err, identity.ErrEmptyBusinessKey),
		errors.Is(err, identity.ErrEmptyMappingType),
		errors.Is(err, identity.ErrEmptyLocalKey),
		errors.Is(err, builder.ErrEmptyEntityKey):
		return ErrCodeRecordInvalidKey
	}

	var taskErr *workerpool.TaskError
	if errors.As(err, &taskErr) {
		if code := shared.CodeOf(taskErr.Err, ""); code != "" {
			return code
		}
		return ErrCodeRecordTaskFailed
	}
	return shared.CodeOf(err, ErrCodeRecordUnknown)
}

// IsFatal reports errors that must abort the run instead of being recorded
// against a record: store outages, identity conflicts, cancellation and a closed cache.
func IsFatal(err error) bool {
	var conflict *identity.IdentityConflictError
	switch {
	case err == nil:
		return false
	case errors.Is(err, identity.ErrStoreUnavailable),
		errors.As(err, &conflict),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, builder.ErrCacheClosed),
		errors.Is(err, ErrCriticalPhaseFailed):
		return true
	}
	return false
}
