package run

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/recordlink/backend/internal/domain/identity"
	"github.com/recordlink/backend/internal/domain/record"
	"github.com/recordlink/backend/internal/infrastructure/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	preprocess = Phase{Name: "preprocess"}
	bootstrap  = Phase{Name: "bootstrap", Critical: true}
)

func TestErrorCollector_RecordContinues(t *testing.T) {
	c := NewErrorCollector(10)

	err := c.Record("patients", preprocess, "patients.csv:12", &identity.MissingComponentError{Field: "practice"})
	require.NoError(t, err)

	require.Equal(t, 1, c.Count())
	got := c.Errors()[0]
	assert.Equal(t, "patients.csv:12", got.RecordID)
	assert.Equal(t, "patients", got.Feed)
	assert.Equal(t, "preprocess", got.Phase)
	assert.Equal(t, ErrCodeRecordMissingComponent, got.Code)
	assert.ErrorIs(t, got, identity.ErrMissingKeyComponent)
}

func TestErrorCollector_CriticalPhaseAborts(t *testing.T) {
	c := NewErrorCollector(10)

	err := c.Record("authority", bootstrap, "ext.csv:3", identity.ErrEmptyBusinessKey)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCriticalPhaseFailed)
	assert.ErrorIs(t, err, identity.ErrEmptyBusinessKey)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 1, c.TotalCount())
}

func TestErrorCollector_FatalErrorsAreNeverSwallowed(t *testing.T) {
	c := NewErrorCollector(10)

	storeErr := identity.NewStoreError(identity.ErrCodeStoreRead, "find", errors.New("connection refused"))
	assert.Same(t, storeErr, c.Record("patients", preprocess, "r1", storeErr))

	conflict := &identity.IdentityConflictError{Existing: uuid.New(), Observed: uuid.New()}
	assert.Same(t, conflict, c.Record("patients", preprocess, "r2", conflict))

	assert.False(t, c.HasErrors())
}

func TestErrorCollector_Checkpoint(t *testing.T) {
	c := NewErrorCollector(10)

	require.NoError(t, c.Record("patients", preprocess, "p1", identity.ErrEmptyLocalKey))
	require.NoError(t, c.Record("patients", preprocess, "p2", &identity.MissingComponentError{Field: "surname"}))
	require.NoError(t, c.Record("encounters", preprocess, "e1", identity.ErrEmptyLocalKey))

	err := c.Checkpoint("patients")
	require.Error(t, err)

	var cp *CheckpointError
	require.ErrorAs(t, err, &cp)
	assert.Equal(t, "patients", cp.Feed)
	assert.Equal(t, 2, cp.Total)
	assert.Equal(t, map[string]int{
		ErrCodeRecordInvalidKey:       1,
		ErrCodeRecordMissingComponent: 1,
	}, cp.Summary())
	assert.ErrorIs(t, err, identity.ErrMissingKeyComponent)

	assert.NoError(t, c.Checkpoint("patients"), "errors are reported once")
	assert.Error(t, c.Checkpoint("encounters"))
	assert.NoError(t, c.Checkpoint("unknown"))
	assert.Equal(t, 3, c.TotalCount())
}

func TestErrorCollector_Bounded(t *testing.T) {
	c := NewErrorCollector(3)

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Record("patients", preprocess, fmt.Sprintf("p%d", i), identity.ErrEmptyLocalKey))
	}

	assert.Equal(t, 3, c.Count())
	assert.Equal(t, 5, c.TotalCount())
	assert.True(t, c.IsTruncated())
	assert.Contains(t, c.String(), "5 error(s) found (showing first 3)")

	var cp *CheckpointError
	require.ErrorAs(t, c.Checkpoint("patients"), &cp)
	assert.Equal(t, 5, cp.Total)
	assert.Len(t, cp.Errors, 3)
}

func TestErrorCollector_Concurrent(t *testing.T) {
	c := NewErrorCollector(1000)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = c.Record("patients", preprocess, fmt.Sprintf("p%d", i), identity.ErrEmptyLocalKey)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, c.TotalCount())
	assert.Equal(t, map[string]int{ErrCodeRecordInvalidKey: 100}, c.ErrorSummary())
}

func TestErrorCollector_RecordDrain(t *testing.T) {
	rec := record.Static{ID: "names.csv:7"}

	t.Run("task failures become record errors", func(t *testing.T) {
		c := NewErrorCollector(10)
		drainErr := &workerpool.DrainError{Failures: []*workerpool.TaskError{
			{Context: rec, Err: identity.ErrEmptyLocalKey},
		}}

		require.NoError(t, c.RecordDrain("names", preprocess, drainErr))
		require.Equal(t, 1, c.Count())
		assert.Equal(t, "names.csv:7", c.Errors()[0].RecordID)
		assert.Equal(t, ErrCodeRecordInvalidKey, c.Errors()[0].Code)
	})

	t.Run("fatal task failure is returned", func(t *testing.T) {
		c := NewErrorCollector(10)
		storeErr := identity.NewStoreError(identity.ErrCodeStoreWrite, "upsert", errors.New("timeout"))
		drainErr := &workerpool.DrainError{Failures: []*workerpool.TaskError{
			{Context: rec, Err: identity.ErrEmptyLocalKey},
			{Context: rec, Err: storeErr},
		}}

		err := c.RecordDrain("names", preprocess, drainErr)
		assert.ErrorIs(t, err, identity.ErrStoreUnavailable)
		assert.Equal(t, 1, c.Count())
	})

	t.Run("other errors pass through", func(t *testing.T) {
		c := NewErrorCollector(10)
		assert.ErrorIs(t, c.RecordDrain("names", preprocess, workerpool.ErrPoolNotRunning), workerpool.ErrPoolNotRunning)
		assert.NoError(t, c.RecordDrain("names", preprocess, nil))
	})
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"missing component", &identity.MissingComponentError{Field: "x"}, ErrCodeRecordMissingComponent},
		{"empty key", identity.ErrEmptyBusinessKey, ErrCodeRecordInvalidKey},
		{"missing mapping", ErrMissingMapping, ErrCodeRecordMissingMapping},
		{"task failure", &workerpool.TaskError{Err: errors.New("boom")}, ErrCodeRecordTaskFailed},
		{"task with domain code", &workerpool.TaskError{Err: ErrMissingMapping}, ErrCodeRecordMissingMapping},
		{"unknown", errors.New("boom"), ErrCodeRecordUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeFor(tt.err))
		})
	}
}
