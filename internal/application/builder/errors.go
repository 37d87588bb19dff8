package builder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/recordlink/backend/internal/domain/shared"
)

// Cache errors. Each matches wrapped copies with errors.Is.
var (
	ErrEmptyEntityKey = shared.NewDomainError("BUILDER_EMPTY_KEY", "builder: entity key is required")
	ErrEntryFlushed   = shared.NewDomainError("BUILDER_ENTRY_FLUSHED", "builder: entry already flushed")
	ErrEntryNotFound  = shared.NewDomainError("BUILDER_ENTRY_NOT_FOUND", "builder: entry not cached")
	ErrCacheClosed    = shared.NewDomainError("BUILDER_CACHE_CLOSED", "builder: cache is closed")
)

// FlushFailure is one entry that could not be persisted
type FlushFailure struct {
	EntityKey string
	GlobalID  uuid.UUID
	Err       error
}

func (f *FlushFailure) Error() string {
	return fmt.Sprintf("flush %s (%s): %v", f.EntityKey, f.GlobalID, f.Err)
}

func (f *FlushFailure) Unwrap() error {
	return f.Err
}

// FlushReport describes the outcome of flushing the whole cache
type FlushReport struct {
	Flushed []string        // entity keys persisted, in cache insertion order
	Clean   int             // entries that were never marked dirty
	Failed  []*FlushFailure // one element per entry that failed to persist
}

// Err returns nil when every entry was persisted, otherwise a *FlushError
func (r FlushReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return &FlushError{Failures: r.Failed}
}

// FlushError aggregates the failures of a flush.
// errors.As reaches each *FlushFailure and its cause.
type FlushError struct {
	Failures []*FlushFailure
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("builder: %d entries failed to flush (%s); first: %v",
		len(e.Failures), strings.Join(e.Keys(), ", "), e.Failures[0].Err)
}

func (e *FlushError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Keys returns the entity keys that failed
func (e *FlushError) Keys() []string {
	keys := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		keys[i] = f.EntityKey
	}
	return keys
}

var _ error = (*FlushError)(nil)

func entryError(base *shared.DomainError, entityKey string) error {
	return fmt.Errorf("%w: %s", base, entityKey)
}

// isCacheState reports errors caused by the cache lifecycle rather than by loading
func isCacheState(err error) bool {
	return errors.Is(err, ErrCacheClosed) || errors.Is(err, ErrEntryFlushed)
}
