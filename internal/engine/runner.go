// Package engine wires listing, classification, scheduling and persistence
// into reconciliation runs, and repeats them on a schedule.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pollsync/internal/diag"
	"github.com/dokzlo13/pollsync/internal/reconcile"
	"github.com/dokzlo13/pollsync/internal/resource"
	"github.com/dokzlo13/pollsync/internal/scheduler"
	"github.com/dokzlo13/pollsync/internal/store"
)

// Filter narrows a listing.
type Filter struct {
	Tenant string
}

// Lister lists the current resources of a tenant. It must not return the
// same resource id twice in one call.
type Lister[E any] interface {
	GetMetadata(ctx context.Context, filter Filter) ([]resource.Descriptor[E], error)
}

// ListerFunc adapts a function to Lister.
type ListerFunc[E any] func(ctx context.Context, filter Filter) ([]resource.Descriptor[E], error)

func (f ListerFunc[E]) GetMetadata(ctx context.Context, filter Filter) ([]resource.Descriptor[E], error) {
	return f(ctx, filter)
}

// Options configures a Runner.
type Options struct {
	Tenant string
	// SaveBatchSize saves states every N records during the run. Zero saves
	// once at the end.
	SaveBatchSize int
	// SlowRun marks runs slower than this as slow. Advisory only.
	SlowRun time.Duration
	// ShutdownTimeout bounds the final save of a cancelled run.
	ShutdownTimeout time.Duration
	Sink            diag.Sink
	Now             func() time.Time
}

// RunResult summarizes one run.
type RunResult struct {
	Info       diag.RunInfo
	Counts     reconcile.Counts
	Stats      scheduler.Stats
	Rejected   []*reconcile.InvariantViolation
	Duplicates []*reconcile.DuplicateIDError
	Saved      int
	Duration   time.Duration
}

// Runner executes reconciliation runs for one tenant. Runs of the same
// Runner must not overlap.
type Runner[E any] struct {
	lister   Lister[E]
	store    store.Store[E]
	classify *reconcile.Engine[E]
	sched    *scheduler.Scheduler[E]
	opts     Options
	sink     diag.Sink
	now      func() time.Time

	mu          sync.Mutex
	schemaReady bool
	failures    int
}

// NewRunner creates a runner.
func NewRunner[E any](
	lister Lister[E],
	st store.Store[E],
	classify *reconcile.Engine[E],
	sched *scheduler.Scheduler[E],
	opts Options,
) *Runner[E] {
	r := &Runner[E]{
		lister:   lister,
		store:    st,
		classify: classify,
		sched:    sched,
		opts:     opts,
		sink:     opts.Sink,
		now:      opts.Now,
	}
	if r.sink == nil {
		r.sink = diag.Nop{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.opts.ShutdownTimeout <= 0 {
		r.opts.ShutdownTimeout = 10 * time.Second
	}
	return r
}

// ConsecutiveFailures returns the number of runs that failed in a row.
func (r *Runner[E]) ConsecutiveFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

// EnsureSchema bootstraps the store once. Later calls are no-ops.
func (r *Runner[E]) EnsureSchema(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.schemaReady {
		return nil
	}
	if err := r.store.EnsureSchema(ctx); err != nil {
		return &reconcile.PersistenceError{Op: "bootstrap", Tenant: r.opts.Tenant, Err: err}
	}
	r.schemaReady = true
	return nil
}

// Run performs one reconciliation run: list, load, classify, schedule,
// save. Per-resource failures are recorded in the state store and never
// fail the run. Listing, load and save failures do, and leave the state of
// the failed step untouched.
func (r *Runner[E]) Run(ctx context.Context) (*RunResult, error) {
	start := r.now()
	info := diag.RunInfo{
		RunID:     uuid.NewString(),
		Tenant:    r.opts.Tenant,
		StartedAt: start,
	}
	result := &RunResult{Info: info}
	counters := &reconcile.Counters{}

	r.sink.RunStarted(info)

	err := r.run(ctx, info, counters, result)

	result.Counts = counters.Snapshot()
	result.Duration = r.now().Sub(start)

	consecutive := r.recordOutcome(ctx, err)
	r.sink.RunFinished(diag.RunSummary{
		RunInfo:             info,
		Counts:              result.Counts,
		Succeeded:           result.Stats.Succeeded + result.Stats.Unchanged,
		Failed:              result.Stats.Failed,
		NotModified:         result.Stats.NotModified,
		Saved:               result.Saved,
		Duration:            result.Duration,
		Slow:                r.opts.SlowRun > 0 && result.Duration > r.opts.SlowRun,
		Err:                 err,
		ConsecutiveFailures: consecutive,
	})

	return result, err
}

func (r *Runner[E]) run(ctx context.Context, info diag.RunInfo, counters *reconcile.Counters, result *RunResult) error {
	if err := r.EnsureSchema(ctx); err != nil {
		return err
	}

	descriptors, err := r.lister.GetMetadata(ctx, Filter{Tenant: r.opts.Tenant})
	if err != nil {
		return &reconcile.ListingError{Tenant: r.opts.Tenant, Err: err}
	}

	ids := make([]string, 0, len(descriptors))
	seen := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		if d.ID != "" && !seen[d.ID] {
			seen[d.ID] = true
			ids = append(ids, d.ID)
		}
	}

	existing, err := r.store.Load(ctx, r.opts.Tenant, ids)
	if err != nil {
		return &reconcile.PersistenceError{Op: "load", Tenant: r.opts.Tenant, Count: len(ids), Err: err}
	}

	cls := r.classify.Classify(descriptors, store.ByID(existing), counters)
	result.Rejected = cls.Rejected
	result.Duplicates = cls.Duplicates
	for _, v := range cls.Rejected {
		r.sink.ResourceRejected(info, v)
	}
	for _, d := range cls.Duplicates {
		r.sink.DuplicateResource(info, d)
	}

	writer := store.NewBatchWriter[E](r.opts.SaveBatchSize, r.store.Save)
	persist := func(st *resource.State[E]) {
		writer.Add(ctx, st)
	}

	// Resources that are not fetched still record what the listing reported.
	now := r.now()
	for _, it := range cls.Items {
		if !it.Outcome.Eligible() {
			persist(scheduler.Observe(r.opts.Tenant, it, now))
		}
	}

	log.Debug().
		Str("tenant", info.Tenant).
		Str("run_id", info.RunID).
		Int("found", len(descriptors)).
		Int("eligible", len(cls.Eligible())).
		Int("stale", len(cls.Stale)).
		Msg("Listing classified")

	result.Stats = r.sched.Run(ctx, info, cls.Items, counters, persist)

	saveCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		saveCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), r.opts.ShutdownTimeout)
		defer cancel()
	}
	flushErr := writer.Flush(saveCtx)
	result.Saved = writer.Written()
	if flushErr != nil {
		return &reconcile.PersistenceError{Op: "save", Tenant: r.opts.Tenant, Count: writer.Pending(), Err: flushErr}
	}

	return ctx.Err()
}

// recordOutcome updates the consecutive failure count. Cancellation is a
// shutdown, not a failure, and leaves the count as is.
func (r *Runner[E]) recordOutcome(ctx context.Context, err error) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case err == nil:
		r.failures = 0
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
	default:
		r.failures++
	}
	return r.failures
}
