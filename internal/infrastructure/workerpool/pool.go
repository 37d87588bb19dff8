package workerpool

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// WorkItem is a unit of side-effecting work plus the context used to attribute its failure
type WorkItem[C any] struct {
	Context C
	Fn      func(ctx context.Context) error
}

// Observer receives per-task outcomes, typically to feed metrics
type Observer interface {
	TaskFinished(ctx context.Context, elapsed time.Duration, err error)
	QueueDepth(ctx context.Context, depth int)
}

// Config holds pool configuration
type Config struct {
	Workers   int
	QueueSize int
}

// DefaultConfig returns a configuration sized to the machine
func DefaultConfig() Config {
	workers := runtime.NumCPU()
	return Config{
		Workers:   workers,
		QueueSize: workers * 50,
	}
}

// Stats is a snapshot of pool counters
type Stats struct {
	Workers   int
	Submitted int64
	Completed int64
	Failed    int64
	Pending   int64
}

// Option configures a Pool
type Option func(*options)

type options struct {
	logger   *zap.Logger
	observer Observer
}

// WithLogger sets the pool logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObserver registers an observer for task outcomes
func WithObserver(observer Observer) Option {
	return func(o *options) {
		o.observer = observer
	}
}

type poolState int

const (
	stateIdle poolState = iota
	stateRunning
	stateStopped
)

// Pool runs submitted work items on a fixed set of workers over a bounded queue.
// Submit blocks while the queue is full. Items run in no particular order and
// are never cancelled once started.
type Pool[C any] struct {
	config   Config
	logger   *zap.Logger
	observer Observer

	jobs chan WorkItem[C]
	quit chan struct{}
	wg   sync.WaitGroup

	// mu guards state and the closing of jobs. Submit holds the read lock
	// while sending so Stop never closes jobs under a blocked sender.
	mu    sync.RWMutex
	state poolState
	// lifeMu serialises Start and Stop
	lifeMu sync.Mutex

	pendingMu sync.Mutex
	pending   int64
	idle      chan struct{}

	failMu   sync.Mutex
	failures []*TaskError

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// New creates a pool. Zero values in config fall back to DefaultConfig.
func New[C any](config Config, opts ...Option) *Pool[C] {
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.Workers * 50
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	idle := make(chan struct{})
	close(idle)

	return &Pool[C]{
		config:   config,
		logger:   o.logger,
		observer: o.observer,
		jobs:     make(chan WorkItem[C], config.QueueSize),
		quit:     make(chan struct{}),
		idle:     idle,
	}
}

// Start launches the workers. Tasks receive ctx with its cancellation stripped.
func (p *Pool[C]) Start(ctx context.Context) error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	p.mu.Lock()
	switch p.state {
	case stateRunning:
		p.mu.Unlock()
		return nil
	case stateStopped:
		p.mu.Unlock()
		return ErrPoolStopped
	}
	p.state = stateRunning
	p.mu.Unlock()

	taskCtx := context.WithoutCancel(ctx)
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(taskCtx, i)
	}

	p.logger.Info("Worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize),
	)
	return nil
}

// Stop stops accepting work, lets queued items finish and waits for the workers.
// It returns ctx.Err() if ctx ends first; workers keep finishing in the background.
func (p *Pool[C]) Stop(ctx context.Context) error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	p.mu.RLock()
	running := p.state == stateRunning
	p.mu.RUnlock()
	if !running {
		return nil
	}

	// release submitters blocked on a full queue before taking the write lock
	close(p.quit)

	p.mu.Lock()
	p.state = stateStopped
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Worker pool stopped gracefully",
			zap.Int64("completed", p.completed.Load()),
			zap.Int64("failed", p.failed.Load()),
		)
		return nil
	case <-ctx.Done():
		p.logger.Warn("Worker pool stop timed out")
		return ctx.Err()
	}
}

// Submit enqueues item, blocking while the queue is full.
func (p *Pool[C]) Submit(ctx context.Context, item WorkItem[C]) error {
	if item.Fn == nil {
		return ErrNilTask
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state != stateRunning {
		return ErrPoolNotRunning
	}

	p.addPending()
	select {
	case p.jobs <- item:
		p.submitted.Add(1)
		if p.observer != nil {
			p.observer.QueueDepth(ctx, len(p.jobs))
		}
		return nil
	case <-ctx.Done():
		p.donePending()
		return ctx.Err()
	case <-p.quit:
		p.donePending()
		return ErrPoolNotRunning
	}
}

// DrainAndWait blocks until every item submitted so far has finished.
// If any failed since the last drain it returns a *DrainError listing them,
// and those failures are cleared.
func (p *Pool[C]) DrainAndWait(ctx context.Context) error {
	p.pendingMu.Lock()
	idle := p.idle
	p.pendingMu.Unlock()

	select {
	case <-idle:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.failMu.Lock()
	failures := p.failures
	p.failures = nil
	p.failMu.Unlock()

	if len(failures) == 0 {
		return nil
	}
	p.logger.Warn("Drain found failed tasks", zap.Int("failed", len(failures)))
	return &DrainError{Failures: failures}
}

// Stats returns a snapshot of the pool counters
func (p *Pool[C]) Stats() Stats {
	p.pendingMu.Lock()
	pending := p.pending
	p.pendingMu.Unlock()

	return Stats{
		Workers:   p.config.Workers,
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Pending:   pending,
	}
}

func (p *Pool[C]) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()
	p.logger.Debug("Worker started", zap.Int("worker_id", workerID))

	for item := range p.jobs {
		p.execute(ctx, item)
	}

	p.logger.Debug("Job channel closed", zap.Int("worker_id", workerID))
}

func (p *Pool[C]) execute(ctx context.Context, item WorkItem[C]) {
	defer p.donePending()

	start := time.Now()
	err := invoke(ctx, item.Fn)
	if p.observer != nil {
		p.observer.TaskFinished(ctx, time.Since(start), err)
	}

	if err == nil {
		p.completed.Add(1)
		return
	}

	p.failed.Add(1)
	taskErr := &TaskError{Context: item.Context, Err: err}
	p.failMu.Lock()
	p.failures = append(p.failures, taskErr)
	p.failMu.Unlock()

	fields := []zap.Field{zap.Error(err)}
	var pe *panicError
	if errors.As(err, &pe) {
		fields = append(fields, zap.ByteString("stack", pe.stack))
	}
	p.logger.Debug("Task failed", fields...)
}

func invoke(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

func (p *Pool[C]) addPending() {
	p.pendingMu.Lock()
	if p.pending == 0 {
		p.idle = make(chan struct{})
	}
	p.pending++
	p.pendingMu.Unlock()
}

func (p *Pool[C]) donePending() {
	p.pendingMu.Lock()
	p.pending--
	if p.pending == 0 {
		close(p.idle)
	}
	p.pendingMu.Unlock()
}
