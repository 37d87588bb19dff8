// Package ingest drives source feeds through a run: a pre-processing pass fanned out on
// the worker pool, the drain barrier, then a sequential main pass.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/recordlink/backend/internal/application/builder"
	"github.com/recordlink/backend/internal/application/run"
	"github.com/recordlink/backend/internal/domain/record"
	"github.com/recordlink/backend/internal/infrastructure/logger"
	"github.com/recordlink/backend/internal/infrastructure/telemetry"
	"github.com/recordlink/backend/internal/infrastructure/workerpool"
	"go.uber.org/zap"
)

// Phase names
const (
	PhasePreprocess = "preprocess"
	PhaseMain       = "main"
)

// RecordFunc processes one record
type RecordFunc func(ctx context.Context, rec record.SourceRecord) error

// Feed is one source feed. Preprocess runs concurrently on the pool and must only
// touch keys it owns; Handle runs sequentially after the drain barrier.
type Feed struct {
	Name       string
	Records    []record.SourceRecord
	Critical   bool // any record error aborts the run
	Preprocess RecordFunc
	Handle     RecordFunc
}

// FeedResult summarises one processed feed
type FeedResult struct {
	Feed         string
	Records      int
	Preprocessed int
	Handled      int
	Failed       int
	Duration     time.Duration
}

// Processor runs feeds against a run context
type Processor struct {
	rc     *run.Context
	logger *zap.Logger
}

// NewProcessor creates a processor for rc. The run's pool must be started.
func NewProcessor(rc *run.Context) *Processor {
	return &Processor{
		rc:     rc,
		logger: rc.Logger.Named("ingest"),
	}
}

// Process runs one feed. Record errors are collected and returned together at the end
// of the feed as a *run.CheckpointError; fatal errors stop the feed immediately.
func (p *Processor) Process(ctx context.Context, feed Feed) (FeedResult, error) {
	start := time.Now()
	result := FeedResult{Feed: feed.Name, Records: len(feed.Records)}

	ctx, _ = logger.WithFeed(ctx, logger.FromContext(ctx), feed.Name)
	ctx, span := telemetry.StartServiceSpan(ctx, "ingest", "process_feed",
		telemetry.WithAttribute("ingest.feed", feed.Name),
		telemetry.WithAttribute("ingest.records", len(feed.Records)),
	)
	defer span.End()

	log := logger.L(ctx)
	before := p.rc.Errors.TotalCount()

	if feed.Preprocess != nil {
		n, err := p.preprocess(ctx, feed)
		result.Preprocessed = n
		if err != nil {
			telemetry.RecordError(span, err)
			log.Error("Pre-processing aborted", zap.Error(err))
			return p.finish(result, before, start), err
		}
	}

	if feed.Handle != nil {
		phase := run.Phase{Name: PhaseMain, Critical: feed.Critical}
		for _, rec := range feed.Records {
			if err := ctx.Err(); err != nil {
				return p.finish(result, before, start), err
			}
			err := feed.Handle(logger.WithRecordID(ctx, rec.RecordID()), rec)
			if abort := p.rc.Errors.Record(feed.Name, phase, rec.RecordID(), err); abort != nil {
				telemetry.RecordError(span, abort)
				log.Error("Main pass aborted",
					zap.String("record_id", rec.RecordID()),
					zap.Error(abort))
				return p.finish(result, before, start), abort
			}
			result.Handled++
		}
	}

	result = p.finish(result, before, start)
	log.Info("Feed processed",
		zap.Int("records", result.Records),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration))

	if err := p.rc.Errors.Checkpoint(feed.Name); err != nil {
		telemetry.RecordError(span, err)
		return result, err
	}
	return result, nil
}

func (p *Processor) preprocess(ctx context.Context, feed Feed) (int, error) {
	phase := run.Phase{Name: PhasePreprocess, Critical: feed.Critical}
	submitted := 0
	for _, rec := range feed.Records {
		item := workerpool.WorkItem[record.SourceRecord]{
			Context: rec,
			Fn: func(ctx context.Context) error {
				return feed.Preprocess(logger.WithRecordID(ctx, rec.RecordID()), rec)
			},
		}
		if err := p.rc.Pool.Submit(ctx, item); err != nil {
			// tasks already queued still have to finish, and their failures belong to this feed
			drainErr := p.rc.Pool.DrainAndWait(context.WithoutCancel(ctx))
			return submitted, errors.Join(err, p.rc.Errors.RecordDrain(feed.Name, phase, drainErr))
		}
		submitted++
	}

	err := p.rc.Pool.DrainAndWait(ctx)
	return submitted, p.rc.Errors.RecordDrain(feed.Name, phase, err)
}

func (p *Processor) finish(result FeedResult, errorsBefore int, start time.Time) FeedResult {
	result.Failed = p.rc.Errors.TotalCount() - errorsBefore
	result.Duration = time.Since(start)
	return result
}

// ProcessAll runs feeds in order. Checkpoint errors of a feed do not stop later feeds
// and are joined into the returned error; a fatal error stops at once.
func (p *Processor) ProcessAll(ctx context.Context, feeds ...Feed) ([]FeedResult, error) {
	results := make([]FeedResult, 0, len(feeds))
	var recordErrs []error
	for _, feed := range feeds {
		result, err := p.Process(ctx, feed)
		results = append(results, result)
		if err == nil {
			continue
		}
		var cp *run.CheckpointError
		if !errors.As(err, &cp) {
			return results, err
		}
		recordErrs = append(recordErrs, err)
	}
	return results, errors.Join(recordErrs...)
}

// StoreMappings returns a pre-processor that writes every key of a record into the
// mapping store under the record's mapping type.
func StoreMappings(rc *run.Context) RecordFunc {
	return func(ctx context.Context, rec record.SourceRecord) error {
		for _, kv := range rec.Keys() {
			if err := rc.Mappings.Put(ctx, rec.MappingType(), kv.Key, kv.Value); err != nil {
				return err
			}
		}
		return nil
	}
}

// WarmBuilders returns a pre-processor that loads the builder keyed by keyOf(rec) so
// the main pass does not wait on cold loads. Records without a key are skipped.
func WarmBuilders[B any](c *builder.Cache[B], keyOf func(record.SourceRecord) string) RecordFunc {
	return func(ctx context.Context, rec record.SourceRecord) error {
		key := keyOf(rec)
		if key == "" {
			return nil
		}
		return c.PreWarm(ctx, key)
	}
}

// Chain runs fns in order and stops at the first error
func Chain(fns ...RecordFunc) RecordFunc {
	return func(ctx context.Context, rec record.SourceRecord) error {
		for _, fn := range fns {
			if err := fn(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	}
}
