package builder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/recordlink/backend/internal/domain/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// memStore is an in-memory Store that can be told to fail for given keys
type memStore struct {
	mu       sync.Mutex
	states   map[uuid.UUID][]byte
	failKeys map[string]error
	loads    atomic.Int64
	delay    time.Duration

	// when set, Load and File signal on started and block until release is closed
	loadStarted, fileStarted chan struct{}
	loadRelease, fileRelease chan struct{}
}

func newMemStore() *memStore {
	return &memStore{states: make(map[uuid.UUID][]byte), failKeys: make(map[string]error)}
}

func (s *memStore) Load(ctx context.Context, entityKey string, id uuid.UUID) (*resource.Builder, bool, error) {
	s.loads.Add(1)
	if s.loadRelease != nil {
		s.loadStarted <- struct{}{}
		<-s.loadRelease
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	data, ok := s.states[id]
	s.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	b, err := resource.Restore("Patient", entityKey, id, data)
	return b, err == nil, err
}

func (s *memStore) File(ctx context.Context, entityKey string, id uuid.UUID, b *resource.Builder) error {
	if s.fileRelease != nil {
		s.fileStarted <- struct{}{}
		<-s.fileRelease
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failKeys[entityKey]; err != nil {
		return err
	}
	data, err := b.MarshalState()
	if err != nil {
		return err
	}
	s.states[id] = data
	return nil
}

func (s *memStore) filed(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.states[id]
	return ok
}

// keyLocator hands out one stable id per key
type keyLocator struct {
	mu  sync.Mutex
	ids map[string]uuid.UUID
}

func (l *keyLocator) locate(ctx context.Context, key string) (uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ids == nil {
		l.ids = make(map[string]uuid.UUID)
	}
	id, ok := l.ids[key]
	if !ok {
		id = uuid.New()
		l.ids[key] = id
	}
	return id, nil
}

func newPatient(ctx context.Context, key string, id uuid.UUID) (*resource.Builder, error) {
	return resource.New("Patient", key, id), nil
}

func newTestCache(t *testing.T) (*Cache[*resource.Builder], *memStore, *keyLocator) {
	t.Helper()
	store := newMemStore()
	locator := &keyLocator{}
	return New[*resource.Builder](locator.locate, store, newPatient, zaptest.NewLogger(t)), store, locator
}

func TestCache_GetOrCreateReturnsSameInstance(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	first, err := c.GetOrCreate(ctx, "E1")
	require.NoError(t, err)
	second, err := c.GetOrCreate(ctx, "E1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, c.Len())
}

func TestCache_ConcurrentGetOrCreateSharesOneBuilder(t *testing.T) {
	c, store, _ := newTestCache(t)
	store.delay = 20 * time.Millisecond
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, marker := range []string{"marker_a", "marker_b"} {
		wg.Add(1)
		go func(marker string) {
			defer wg.Done()
			b, err := c.GetOrCreate(ctx, "E1")
			if assert.NoError(t, err) {
				assert.NoError(t, b.Set(marker, true))
			}
		}(marker)
	}
	wg.Wait()

	b, err := c.GetOrCreate(ctx, "E1")
	require.NoError(t, err)
	_, hasA := b.Get("marker_a")
	_, hasB := b.Get("marker_b")
	assert.True(t, hasA)
	assert.True(t, hasB)
	assert.Equal(t, int64(1), store.loads.Load())
}

func TestCache_ManyConcurrentCallers(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()

	const callers = 50
	got := make([]*resource.Builder, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("E%d", i%5)
			b, err := c.GetOrCreate(ctx, key)
			assert.NoError(t, err)
			got[i] = b
		}(i)
	}
	wg.Wait()

	for i := 5; i < callers; i++ {
		assert.Same(t, got[i%5], got[i])
	}
	assert.Equal(t, 5, c.Len())
	assert.LessOrEqual(t, store.loads.Load(), int64(5))
}

func TestCache_LoadsPersistedState(t *testing.T) {
	c, store, locator := newTestCache(t)
	ctx := context.Background()

	id, _ := locator.locate(ctx, "P42")
	prior := resource.New("Patient", "P42", id)
	require.NoError(t, prior.Set("gender", "F"))
	require.NoError(t, store.File(ctx, "P42", id, prior))

	b, err := c.GetOrCreate(ctx, "P42")
	require.NoError(t, err)
	gender, ok := b.Get("gender")
	assert.True(t, ok)
	assert.Equal(t, "F", gender)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Loads)
	assert.Equal(t, int64(0), stats.Creates)
}

func TestCache_PreWarmDoesNotMarkDirty(t *testing.T) {
	c, store, locator := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.PreWarm(ctx, "E1"))
	require.NoError(t, c.PreWarm(ctx, "E2"))
	_, err := c.GetOrCreate(ctx, "E2")
	require.NoError(t, err)

	stats := c.Stats()
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 1, stats.Dirty)
	assert.Equal(t, int64(2), stats.Creates)
	assert.Equal(t, int64(1), stats.Hits)

	report, err := c.FlushAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"E2"}, report.Flushed)
	assert.Equal(t, 1, report.Clean)

	id1, _ := locator.locate(ctx, "E1")
	assert.False(t, store.filed(id1))
}

func TestCache_FlushAllReportsEachFailure(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			c, store, locator := newTestCache(t)
			ctx := context.Background()
			boom := errors.New("disk full")
			store.failKeys["E2"] = boom

			for _, key := range []string{"E1", "E2", "E3"} {
				b, err := c.GetOrCreate(ctx, key)
				require.NoError(t, err)
				require.NoError(t, b.Set("seen", key))
			}

			report, err := c.FlushAllParallel(ctx, workers)
			require.Error(t, err)
			assert.ErrorIs(t, err, boom)

			var flushErr *FlushError
			require.ErrorAs(t, err, &flushErr)
			assert.Equal(t, []string{"E2"}, flushErr.Keys())

			assert.Equal(t, []string{"E1", "E3"}, report.Flushed)
			require.Len(t, report.Failed, 1)
			assert.Equal(t, "E2", report.Failed[0].EntityKey)

			for _, key := range []string{"E1", "E3"} {
				id, _ := locator.locate(ctx, key)
				assert.True(t, store.filed(id), key)
			}
			assert.Equal(t, 0, c.Len())
		})
	}
}

func TestCache_ClosedAfterFlushAll(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	_, err := c.GetOrCreate(ctx, "E1")
	require.NoError(t, err)
	_, err = c.FlushAll(ctx)
	require.NoError(t, err)

	_, err = c.GetOrCreate(ctx, "E1")
	assert.ErrorIs(t, err, ErrCacheClosed)
	assert.ErrorIs(t, c.PreWarm(ctx, "E9"), ErrCacheClosed)
	assert.ErrorIs(t, c.Flush(ctx, "E1"), ErrCacheClosed)

	_, err = c.FlushAll(ctx)
	assert.ErrorIs(t, err, ErrCacheClosed)
}

func TestCache_Flush(t *testing.T) {
	c, store, locator := newTestCache(t)
	ctx := context.Background()

	b, err := c.GetOrCreate(ctx, "E1")
	require.NoError(t, err)
	require.NoError(t, b.Set("status", "final"))

	require.NoError(t, c.Flush(ctx, "E1"))
	id, _ := locator.locate(ctx, "E1")
	assert.True(t, store.filed(id))

	_, err = c.GetOrCreate(ctx, "E1")
	assert.ErrorIs(t, err, ErrEntryFlushed)
	assert.ErrorIs(t, c.Flush(ctx, "E1"), ErrEntryFlushed)
	assert.ErrorIs(t, c.Flush(ctx, "E404"), ErrEntryNotFound)

	t.Run("failed flush leaves the entry usable", func(t *testing.T) {
		store.failKeys["E2"] = errors.New("timeout")
		_, err := c.GetOrCreate(ctx, "E2")
		require.NoError(t, err)

		err = c.Flush(ctx, "E2")
		var failure *FlushFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, "E2", failure.EntityKey)

		_, err = c.GetOrCreate(ctx, "E2")
		assert.NoError(t, err)

		delete(store.failKeys, "E2")
		assert.NoError(t, c.Flush(ctx, "E2"))
	})
}

func TestCache_LoadErrorsAreNotCached(t *testing.T) {
	calls := 0
	locate := func(ctx context.Context, key string) (uuid.UUID, error) {
		calls++
		if calls == 1 {
			return uuid.Nil, errors.New("store unavailable")
		}
		return uuid.New(), nil
	}
	c := New[*resource.Builder](locate, newMemStore(), newPatient, zaptest.NewLogger(t))

	_, err := c.GetOrCreate(context.Background(), "E1")
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())

	_, err = c.GetOrCreate(context.Background(), "E1")
	require.NoError(t, err)
}

func TestCache_EmptyKey(t *testing.T) {
	c, _, _ := newTestCache(t)
	_, err := c.GetOrCreate(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyEntityKey)
}

func TestCache_FlushAllWaitsForRunningFlush(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()

	_, err := c.GetOrCreate(ctx, "E1")
	require.NoError(t, err)
	_, err = c.GetOrCreate(ctx, "E2")
	require.NoError(t, err)

	store.failKeys["E1"] = errors.New("disk full")
	store.fileStarted = make(chan struct{}, 2)
	store.fileRelease = make(chan struct{})

	flushErr := make(chan error, 1)
	go func() { flushErr <- c.Flush(ctx, "E1") }()
	<-store.fileStarted

	type result struct {
		report FlushReport
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := c.FlushAll(ctx)
		done <- result{report, err}
	}()

	select {
	case <-done:
		t.Fatal("FlushAll returned while a Flush was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.fileRelease)
	require.Error(t, <-flushErr)

	res := <-done
	require.Error(t, res.err)
	require.Len(t, res.report.Failed, 1)
	assert.Equal(t, "E1", res.report.Failed[0].EntityKey)
	assert.Equal(t, []string{"E2"}, res.report.Flushed)
}

func TestCache_CancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	c, store, _ := newTestCache(t)
	store.loadStarted = make(chan struct{}, 1)
	store.loadRelease = make(chan struct{})

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrCreate(firstCtx, "E1")
		firstErr <- err
	}()
	<-store.loadStarted

	second := make(chan error, 1)
	go func() {
		_, err := c.GetOrCreate(context.Background(), "E1")
		second <- err
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(store.loadRelease)
	require.NoError(t, <-second)
	assert.Equal(t, int64(1), store.loads.Load())
	assert.Equal(t, 1, c.Len())
}
