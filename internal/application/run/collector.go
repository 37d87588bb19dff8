package run

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/recordlink/backend/internal/infrastructure/workerpool"
)

// Phase names a processing step. Any record error in a critical phase aborts the run.
type Phase struct {
	Name     string
	Critical bool
}

// ErrorCollector gathers record errors from every goroutine of a run and raises
// them per feed at checkpoints. Storage is bounded; counts are not.
type ErrorCollector struct {
	mu         sync.Mutex
	errors     []*RecordError
	pending    map[string][]*RecordError
	maxErrors  int
	totalCount int
	feedCounts map[string]int
}

// NewErrorCollector creates a collector keeping at most maxErrors errors
func NewErrorCollector(maxErrors int) *ErrorCollector {
	if maxErrors <= 0 {
		maxErrors = 1000
	}
	return &ErrorCollector{
		errors:     make([]*RecordError, 0, min(maxErrors, 64)),
		pending:    make(map[string][]*RecordError),
		maxErrors:  maxErrors,
		feedCounts: make(map[string]int),
	}
}

// Add stores a record error
func (c *ErrorCollector) Add(e *RecordError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalCount++
	c.feedCounts[e.Feed]++
	if len(c.errors) < c.maxErrors {
		c.errors = append(c.errors, e)
		c.pending[e.Feed] = append(c.pending[e.Feed], e)
	}
}

// Record classifies err raised while processing recordID. Fatal errors are returned
// untouched; in a critical phase the record error is returned wrapped in
// ErrCriticalPhaseFailed; otherwise the error is collected and nil is returned.
func (c *ErrorCollector) Record(feed string, phase Phase, recordID string, err error) error {
	if err == nil {
		return nil
	}
	if IsFatal(err) {
		return err
	}

	var recErr *RecordError
	if !errors.As(err, &recErr) {
		recErr = NewRecordError(recordID, err)
	}
	recErr.Feed = feed
	recErr.Phase = phase.Name
	c.Add(recErr)

	if phase.Critical {
		return fmt.Errorf("%w: %s: %w", ErrCriticalPhaseFailed, phase.Name, recErr)
	}
	return nil
}

// RecordDrain records every task failure of a drain. The first fatal failure, or the
// first failure of a critical phase, is returned.
func (c *ErrorCollector) RecordDrain(feed string, phase Phase, err error) error {
	if err == nil {
		return nil
	}

	var drainErr *workerpool.DrainError
	if !errors.As(err, &drainErr) {
		return err
	}

	var abort error
	for _, taskErr := range drainErr.Failures {
		recordID := ""
		if rc, ok := taskErr.Context.(interface{ RecordID() string }); ok {
			recordID = rc.RecordID()
		}
		if IsFatal(taskErr.Err) {
			if abort == nil {
				abort = taskErr
			}
			continue
		}
		if rerr := c.Record(feed, phase, recordID, taskErr); rerr != nil && abort == nil {
			abort = rerr
		}
	}
	return abort
}

// Checkpoint returns the errors collected for feed since its previous checkpoint,
// or nil when there are none.
func (c *ErrorCollector) Checkpoint(feed string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	errs := c.pending[feed]
	total := c.feedCounts[feed]
	delete(c.pending, feed)
	c.feedCounts[feed] = 0
	if total == 0 {
		return nil
	}
	return &CheckpointError{Feed: feed, Errors: errs, Total: total}
}

// Errors returns a copy of the collected errors
func (c *ErrorCollector) Errors() []*RecordError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*RecordError(nil), c.errors...)
}

// Count returns the number of collected errors (up to maxErrors)
func (c *ErrorCollector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errors)
}

// TotalCount returns the total number of errors including those not collected
func (c *ErrorCollector) TotalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCount
}

// HasErrors returns true if there are any errors
func (c *ErrorCollector) HasErrors() bool {
	return c.TotalCount() > 0
}

// IsTruncated returns true if some errors were not collected due to the limit
func (c *ErrorCollector) IsTruncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCount > c.maxErrors
}

// ErrorSummary returns a summary of errors by code
func (c *ErrorCollector) ErrorSummary() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return summarize(c.errors)
}

// String returns a string representation of all errors
func (c *ErrorCollector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.totalCount == 0 {
		return "no errors"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d error(s) found", c.totalCount)
	if c.totalCount > c.maxErrors {
		fmt.Fprintf(&sb, " (showing first %d)", c.maxErrors)
	}
	sb.WriteString(":\n")
	for _, err := range c.errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// CheckpointError aggregates the record errors of one feed
type CheckpointError struct {
	Feed   string
	Errors []*RecordError
	Total  int
}

func (e *CheckpointError) Error() string {
	msg := fmt.Sprintf("feed %s: %d record error(s)", e.Feed, e.Total)
	if len(e.Errors) > 0 {
		msg += "; first: " + e.Errors[0].Error()
	}
	return msg
}

// Unwrap exposes each RecordError to errors.Is and errors.As
func (e *CheckpointError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, err := range e.Errors {
		errs[i] = err
	}
	return errs
}

// Summary returns the number of collected errors per code
func (e *CheckpointError) Summary() map[string]int {
	return summarize(e.Errors)
}

func summarize(errs []*RecordError) map[string]int {
	summary := make(map[string]int)
	for _, err := range errs {
		summary[err.Code]++
	}
	return summary
}
