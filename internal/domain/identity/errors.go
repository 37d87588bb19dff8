package identity

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrEmptyScope        = errors.New("identity: scope is required")
	ErrEmptyResourceType = errors.New("identity: resource type is required")
	ErrEmptyBusinessKey  = errors.New("identity: business key is required")
	ErrEmptyMappingType  = errors.New("identity: mapping type is required")
	ErrEmptyLocalKey     = errors.New("identity: local key is required")

	// ErrIdentityNotFound is returned by repositories when no record exists for a key
	ErrIdentityNotFound = errors.New("identity: record not found")

	// ErrMappingNotFound is returned by repositories when no mapping exists for a pair
	ErrMappingNotFound = errors.New("identity: mapping not found")

	// ErrStoreUnavailable marks failures of the backing store itself.
	// Identifiers cannot be guaranteed unique without the store, so it is always fatal.
	ErrStoreUnavailable = errors.New("identity: backing store unavailable")

	// ErrMissingKeyComponent is returned when an external key cannot be built
	ErrMissingKeyComponent = errors.New("identity: external key component missing")
)

// Error codes attached to store errors
const (
	ErrCodeStoreRead  = "STORE_READ"
	ErrCodeStoreWrite = "STORE_WRITE"
)

// StoreError wraps a backing store failure. It matches ErrStoreUnavailable with errors.Is.
type StoreError struct {
	Code  string
	Op    string
	Cause error
}

// NewStoreError creates a StoreError
func NewStoreError(code, op string, cause error) *StoreError {
	return &StoreError{Code: code, Op: op, Cause: cause}
}

func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable.Error(), e.Op, e.Cause)
	}
	return fmt.Sprintf("%s: %s", ErrStoreUnavailable.Error(), e.Op)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is reports ErrStoreUnavailable as a match
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// IdentityConflictError is returned when a local key is observed with two different
// global identifiers. It is never resolved automatically.
type IdentityConflictError struct {
	Key         IdentityKey
	ExternalKey IdentityKey
	Existing    uuid.UUID
	Observed    uuid.UUID
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("identity conflict for %s: stored id %s, external %s carries id %s",
		e.Key, e.Existing, e.ExternalKey, e.Observed)
}

// MissingComponentError names the external key field that had no value
type MissingComponentError struct {
	Field string
}

func (e *MissingComponentError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingKeyComponent.Error(), e.Field)
}

// Is reports ErrMissingKeyComponent as a match
func (e *MissingComponentError) Is(target error) bool {
	return target == ErrMissingKeyComponent
}
