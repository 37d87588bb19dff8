// Package builder caches partially built target resources for the duration of a run.
// Every caller asking for an entity key receives the same builder instance until the
// cache is flushed.
package builder

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/recordlink/backend/internal/domain/record"
	"github.com/recordlink/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Lookup outcomes
const (
	LookupHit     = "hit"
	LookupLoaded  = "loaded"
	LookupCreated = "created"
)

// Locator resolves (or mints) the global identifier behind an entity key
type Locator func(ctx context.Context, entityKey string) (uuid.UUID, error)

// Factory creates an empty builder for an identifier with no persisted state
type Factory[B any] func(ctx context.Context, entityKey string, globalID uuid.UUID) (B, error)

// Store loads builders filed by earlier runs and files them at flush time
type Store[B any] interface {
	// Load returns the persisted builder for globalID; found is false when none exists
	Load(ctx context.Context, entityKey string, globalID uuid.UUID) (B, bool, error)

	record.Filer[B]
}

type entryState int

const (
	stateReady entryState = iota
	stateFlushing
	stateFlushed
)

type entry[B any] struct {
	key      string
	globalID uuid.UUID
	builder  B
	dirty    bool
	state    entryState
	seq      uint64
}

// Stats is a snapshot of cache activity
type Stats struct {
	Entries int
	Dirty   int
	Hits    int64
	Loads   int64
	Creates int64
	Flushed int64
}

// Cache holds one builder per entity key. Lookups for a key that is not cached yet
// are collapsed, so concurrent callers share a single load. The shared load is not
// cancelled by any one caller; a caller whose ctx ends stops waiting for it.
//
// Mutating a builder is the caller's business; callers are expected to keep a single
// writer per entity in steady state.
type Cache[B any] struct {
	locate  Locator
	store   Store[B]
	factory Factory[B]
	logger  *zap.Logger
	metrics *telemetry.ResolutionMetrics

	mu      sync.Mutex
	entries map[string]*entry[B]
	closed  bool
	nextSeq uint64

	loads    singleflight.Group
	flushing sync.WaitGroup // single-entry flushes in progress

	hits    atomic.Int64
	loaded  atomic.Int64
	created atomic.Int64
	flushed atomic.Int64
}

// New creates a builder cache
func New[B any](locate Locator, store Store[B], factory Factory[B], logger *zap.Logger) *Cache[B] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache[B]{
		locate:  locate,
		store:   store,
		factory: factory,
		logger:  logger.Named("builder_cache"),
		entries: make(map[string]*entry[B]),
	}
}

// SetMetrics sets the metrics collector
func (c *Cache[B]) SetMetrics(m *telemetry.ResolutionMetrics) {
	c.metrics = m
}

// GetOrCreate returns the builder for entityKey, loading or creating it on first use,
// and marks it dirty.
func (c *Cache[B]) GetOrCreate(ctx context.Context, entityKey string) (B, error) {
	e, err := c.get(ctx, entityKey, true)
	if err != nil {
		var zero B
		return zero, err
	}
	return e.builder, nil
}

// PreWarm populates the cache for entityKey without marking the entry dirty
func (c *Cache[B]) PreWarm(ctx context.Context, entityKey string) error {
	_, err := c.get(ctx, entityKey, false)
	return err
}

func (c *Cache[B]) get(ctx context.Context, entityKey string, markDirty bool) (*entry[B], error) {
	if entityKey == "" {
		return nil, ErrEmptyEntityKey
	}

	c.mu.Lock()
	e, err := c.cachedLocked(entityKey)
	if e != nil && err == nil && markDirty {
		e.dirty = true
	}
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if e != nil {
		c.hits.Add(1)
		c.metrics.RecordBuilderLookup(ctx, LookupHit)
		return e, nil
	}

	// trace and run values are kept; cancellation stays with each waiting caller
	loadCtx := context.WithoutCancel(ctx)
	results := c.loads.DoChan(entityKey, func() (any, error) {
		c.mu.Lock()
		e, err := c.cachedLocked(entityKey)
		c.mu.Unlock()
		if e != nil || err != nil {
			return e, err
		}

		// load outside the map lock so other keys are not held up
		e, err = c.load(loadCtx, entityKey)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return nil, ErrCacheClosed
		}
		c.nextSeq++
		e.seq = c.nextSeq
		c.entries[entityKey] = e
		return e, nil
	})

	var v any
	select {
	case res := <-results:
		v, err = res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err != nil {
		if !isCacheState(err) {
			c.logger.Warn("Failed to load builder",
				zap.String("entity_key", entityKey),
				zap.Error(err))
		}
		return nil, err
	}

	e = v.(*entry[B])
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.state != stateReady {
		return nil, entryError(ErrEntryFlushed, entityKey)
	}
	if markDirty {
		e.dirty = true
	}
	return e, nil
}

// cachedLocked returns the live entry for key, or nil when the key must be loaded
func (c *Cache[B]) cachedLocked(key string) (*entry[B], error) {
	if c.closed {
		return nil, ErrCacheClosed
	}
	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if e.state != stateReady {
		return nil, entryError(ErrEntryFlushed, key)
	}
	return e, nil
}

func (c *Cache[B]) load(ctx context.Context, entityKey string) (*entry[B], error) {
	globalID, err := c.locate(ctx, entityKey)
	if err != nil {
		return nil, err
	}

	b, found, err := c.store.Load(ctx, entityKey, globalID)
	if err != nil {
		return nil, err
	}

	outcome := LookupLoaded
	if found {
		c.loaded.Add(1)
	} else {
		if b, err = c.factory(ctx, entityKey, globalID); err != nil {
			return nil, err
		}
		outcome = LookupCreated
		c.created.Add(1)
	}
	c.metrics.RecordBuilderLookup(ctx, outcome)

	return &entry[B]{key: entityKey, globalID: globalID, builder: b}, nil
}

// Flush persists one entry and moves it to the flushed state. A failed flush leaves
// the entry usable so it can be flushed again.
func (c *Cache[B]) Flush(ctx context.Context, entityKey string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrCacheClosed
	}
	e, ok := c.entries[entityKey]
	if !ok {
		c.mu.Unlock()
		return entryError(ErrEntryNotFound, entityKey)
	}
	if e.state != stateReady {
		c.mu.Unlock()
		return entryError(ErrEntryFlushed, entityKey)
	}
	e.state = stateFlushing
	dirty := e.dirty
	c.flushing.Add(1)
	c.mu.Unlock()
	defer c.flushing.Done()

	var err error
	if dirty {
		err = c.persist(ctx, e)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		e.state = stateReady
		return &FlushFailure{EntityKey: e.key, GlobalID: e.globalID, Err: err}
	}
	e.state = stateFlushed
	e.dirty = false
	return nil
}

// FlushAll persists every dirty entry and closes the cache. Every entry is attempted
// even when some fail; the error, if any, is report.Err().
func (c *Cache[B]) FlushAll(ctx context.Context) (FlushReport, error) {
	return c.flushAll(ctx, 1)
}

// FlushAllParallel is FlushAll with up to workers entries persisted at once
func (c *Cache[B]) FlushAllParallel(ctx context.Context, workers int) (FlushReport, error) {
	if workers < 1 {
		workers = 1
	}
	return c.flushAll(ctx, workers)
}

func (c *Cache[B]) flushAll(ctx context.Context, workers int) (FlushReport, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "builder", "flush_all")
	defer span.End()

	pending, clean, err := c.close()
	if err != nil {
		telemetry.RecordError(span, err)
		return FlushReport{}, err
	}

	var (
		mu     sync.Mutex
		report = FlushReport{Clean: clean}
		seqOf  = make(map[string]uint64, len(pending))
		g      errgroup.Group
	)
	g.SetLimit(workers)

	for _, e := range pending {
		seqOf[e.key] = e.seq
	}

	for _, e := range pending {
		g.Go(func() error {
			err := c.persist(ctx, e)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, &FlushFailure{EntityKey: e.key, GlobalID: e.globalID, Err: err})
				return nil
			}
			report.Flushed = append(report.Flushed, e.key)
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(report.Flushed, func(a, b string) int { return cmp.Compare(seqOf[a], seqOf[b]) })
	slices.SortFunc(report.Failed, func(a, b *FlushFailure) int { return cmp.Compare(seqOf[a.EntityKey], seqOf[b.EntityKey]) })

	telemetry.SetAttributes(span,
		telemetry.SpanAttrEntries, len(pending),
		telemetry.SpanAttrFailures, len(report.Failed),
	)
	if err := report.Err(); err != nil {
		telemetry.RecordError(span, err)
		c.logger.Error("Builder flush finished with failures",
			zap.Int("flushed", len(report.Flushed)),
			zap.Strings("failed", err.(*FlushError).Keys()))
		return report, err
	}

	c.logger.Info("Builder cache flushed",
		zap.Int("flushed", len(report.Flushed)),
		zap.Int("clean", report.Clean))
	return report, nil
}

// close marks the cache closed and returns the dirty entries in insertion order.
// Single-entry flushes already running finish first, so an entry whose Flush failed
// is still reported.
func (c *Cache[B]) close() ([]*entry[B], int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, 0, ErrCacheClosed
	}
	c.closed = true
	c.mu.Unlock()

	c.flushing.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	pending := make([]*entry[B], 0, len(c.entries))
	clean := 0
	for _, e := range c.entries {
		if e.state != stateReady {
			continue
		}
		e.state = stateFlushed
		if !e.dirty {
			clean++
			continue
		}
		pending = append(pending, e)
	}
	c.entries = make(map[string]*entry[B])

	slices.SortFunc(pending, func(a, b *entry[B]) int { return cmp.Compare(a.seq, b.seq) })
	return pending, clean, nil
}

func (c *Cache[B]) persist(ctx context.Context, e *entry[B]) error {
	err := c.store.File(ctx, e.key, e.globalID, e.builder)
	c.metrics.RecordBuilderFlush(ctx, err)
	if err == nil {
		c.flushed.Add(1)
	}
	return err
}

// Len returns the number of cached entries
func (c *Cache[B]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of cache activity
func (c *Cache[B]) Stats() Stats {
	c.mu.Lock()
	entries, dirty := len(c.entries), 0
	for _, e := range c.entries {
		if e.dirty {
			dirty++
		}
	}
	c.mu.Unlock()

	return Stats{
		Entries: entries,
		Dirty:   dirty,
		Hits:    c.hits.Load(),
		Loads:   c.loaded.Load(),
		Creates: c.created.Load(),
		Flushed: c.flushed.Load(),
	}
}
