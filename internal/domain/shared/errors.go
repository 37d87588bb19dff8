package shared

import "errors"

// DomainError carries a stable code alongside a human readable message.
// Two DomainErrors match under errors.Is when their codes are equal.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches another DomainError with the same code
func (e *DomainError) Is(target error) bool {
	var de *DomainError
	if !errors.As(target, &de) {
		return false
	}
	return de.Code == e.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Wrap returns a copy of the error with cause attached
func (e *DomainError) Wrap(cause error) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, Cause: cause}
}

// CodeOf returns the code of the first DomainError in err's chain, or fallback
func CodeOf(err error, fallback string) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return fallback
}

// Common domain errors
var (
	ErrInvalidInput = NewDomainError("INVALID_INPUT", "invalid input provided")
	ErrInvalidState = NewDomainError("INVALID_STATE", "operation not allowed in current state")
)
