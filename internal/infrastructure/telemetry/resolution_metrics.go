package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Resolution outcomes
const (
	OutcomeExisting = "existing"  // key already had an identifier
	OutcomeMinted   = "minted"    // this caller created the identifier
	OutcomeRaceLost = "race_lost" // another caller created it first
	OutcomeAligned  = "aligned"   // adopted the external authority's identifier
	OutcomeConflict = "conflict"  // local key already bound to a different identifier
	OutcomeSkipped  = "skipped"   // no external key, minted locally
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
)

// ResolutionMetrics records identity resolution, worker pool and builder cache activity.
// All methods are safe on a nil receiver so components can run without metrics.
type ResolutionMetrics struct {
	resolutions    *Counter
	alignments     *Counter
	storeDuration  *Histogram
	tasks          *Counter
	taskDuration   *Histogram
	queueDepth     *Gauge
	builderLookups *Counter
	builderFlushes *Counter
}

// NewResolutionMetrics creates the instruments on meter
func NewResolutionMetrics(meter metric.Meter) (*ResolutionMetrics, error) {
	m := &ResolutionMetrics{}
	var err error

	if m.resolutions, err = NewCounter(meter, "recordlink_identity_resolutions_total",
		"Identity resolutions by outcome", "{resolution}"); err != nil {
		return nil, err
	}
	if m.alignments, err = NewCounter(meter, "recordlink_identity_alignments_total",
		"Cross-system alignment attempts by outcome", "{alignment}"); err != nil {
		return nil, err
	}
	if m.storeDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "recordlink_identity_store_duration_seconds",
		Description: "Latency of identity store operations",
		Unit:        "s",
		Boundaries:  StoreDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.tasks, err = NewCounter(meter, "recordlink_pool_tasks_total",
		"Worker pool tasks by outcome", "{task}"); err != nil {
		return nil, err
	}
	if m.taskDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "recordlink_pool_task_duration_seconds",
		Description: "Worker pool task run time",
		Unit:        "s",
		Boundaries:  TaskDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.queueDepth, err = NewGauge(meter, "recordlink_pool_queue_depth",
		"Work items waiting in the pool queue", "{task}"); err != nil {
		return nil, err
	}
	if m.builderLookups, err = NewCounter(meter, "recordlink_builder_lookups_total",
		"Builder cache lookups by outcome (hit, loaded, created)", "{lookup}"); err != nil {
		return nil, err
	}
	if m.builderFlushes, err = NewCounter(meter, "recordlink_builder_flushes_total",
		"Builder flushes by outcome", "{flush}"); err != nil {
		return nil, err
	}
	return m, nil
}

// MustNewResolutionMetrics is NewResolutionMetrics for wiring code that cannot recover
func MustNewResolutionMetrics(meter metric.Meter) *ResolutionMetrics {
	m, err := NewResolutionMetrics(meter)
	if err != nil {
		panic(fmt.Sprintf("telemetry: %v", err))
	}
	return m
}

// RecordResolution counts one Resolve call
func (m *ResolutionMetrics) RecordResolution(ctx context.Context, scope, resourceType, outcome string) {
	if m == nil {
		return
	}
	m.resolutions.Inc(ctx,
		AttrScope.String(scope),
		AttrResourceType.String(resourceType),
		AttrOutcome.String(outcome),
	)
}

// RecordAlignment counts one ResolveOrAlign call
func (m *ResolutionMetrics) RecordAlignment(ctx context.Context, resourceType, outcome string) {
	if m == nil {
		return
	}
	m.alignments.Inc(ctx, AttrResourceType.String(resourceType), AttrOutcome.String(outcome))
}

// RecordStoreCall records the latency of one store operation
func (m *ResolutionMetrics) RecordStoreCall(ctx context.Context, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.storeDuration.RecordDuration(ctx, d, attribute.String("op", op), AttrOutcome.String(outcomeOf(err)))
}

// TaskFinished implements the worker pool observer
func (m *ResolutionMetrics) TaskFinished(ctx context.Context, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := AttrOutcome.String(outcomeOf(err))
	m.tasks.Inc(ctx, outcome)
	m.taskDuration.RecordDuration(ctx, elapsed, outcome)
}

// QueueDepth implements the worker pool observer
func (m *ResolutionMetrics) QueueDepth(ctx context.Context, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Record(ctx, int64(depth))
}

// RecordBuilderLookup counts a builder cache access; outcome is hit, loaded or created
func (m *ResolutionMetrics) RecordBuilderLookup(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.builderLookups.Inc(ctx, AttrOutcome.String(outcome))
}

// RecordBuilderFlush counts one builder persist attempt
func (m *ResolutionMetrics) RecordBuilderFlush(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.builderFlushes.Inc(ctx, AttrOutcome.String(outcomeOf(err)))
}

func outcomeOf(err error) string {
	if err != nil {
		return OutcomeFailed
	}
	return OutcomeOK
}
