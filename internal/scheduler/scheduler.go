// Package scheduler drives fetch, processing and state bookkeeping for every
// resource that needs action in a run, on a fixed-size worker pool.
package scheduler

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/pollsync/internal/diag"
	"github.com/dokzlo13/pollsync/internal/reconcile"
	"github.com/dokzlo13/pollsync/internal/resource"
)

// Options configures a Scheduler.
type Options struct {
	Tenant string
	// Workers is the degree of parallelism. Defaults to runtime.NumCPU().
	Workers     int
	MaxRetries  int
	BanDuration time.Duration
	// SlowResource marks pipelines slower than this as slow. Advisory only.
	SlowResource time.Duration
	// SkipUnchangedChecksum skips processors when the fetched payload has
	// the checksum of the last successful retrieval.
	SkipUnchangedChecksum bool
	// IgnoreState forces processing even for unchanged checksums.
	IgnoreState bool
	// RateLimitRPS bounds fetch calls across all workers. Zero disables it.
	RateLimitRPS float64
	Sink         diag.Sink
	Now          func() time.Time
}

// Stats summarizes the pipelines of one run.
type Stats struct {
	Succeeded   int64
	Unchanged   int64
	NotModified int64
	Failed      int64
	Cancelled   int64
}

// Scheduler runs resource pipelines. Fetcher and chain are shared by all
// workers and must tolerate concurrent use.
type Scheduler[E any] struct {
	fetcher Fetcher[E]
	chain   *Chain[E]
	opts    Options
	limiter *rate.Limiter
	sink    diag.Sink
	now     func() time.Time
}

// New creates a scheduler.
func New[E any](fetcher Fetcher[E], chain *Chain[E], opts Options) *Scheduler[E] {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if chain == nil {
		chain = NewChain[E]()
	}

	s := &Scheduler[E]{
		fetcher: fetcher,
		chain:   chain,
		opts:    opts,
		sink:    opts.Sink,
		now:     opts.Now,
	}
	if s.sink == nil {
		s.sink = diag.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.RateLimitRPS > 0 {
		burst := int(opts.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), burst)
	}
	return s
}

// Workers returns the degree of parallelism.
func (s *Scheduler[E]) Workers() int {
	return s.opts.Workers
}

// pump holds the per-run state shared by the workers of one Run call.
type pump[E any] struct {
	*Scheduler[E]
	info     diag.RunInfo
	counters *reconcile.Counters
	persist  func(*resource.State[E])
	queue    chan reconcile.Item[E]
	wg       sync.WaitGroup

	succeeded   atomic.Int64
	unchanged   atomic.Int64
	notModified atomic.Int64
	failed      atomic.Int64
	cancelled   atomic.Int64
}

// Run processes every eligible item and hands each resulting state to
// persist. Ineligible items are ignored. Failures stay inside their own
// pipeline; Run returns once all started pipelines have finished.
//
// Cancelling ctx stops the pump from starting new pipelines. Pipelines
// interrupted by cancellation do not produce a state.
func (s *Scheduler[E]) Run(
	ctx context.Context,
	info diag.RunInfo,
	items []reconcile.Item[E],
	counters *reconcile.Counters,
	persist func(*resource.State[E]),
) Stats {
	if counters == nil {
		counters = &reconcile.Counters{}
	}

	p := &pump[E]{
		Scheduler: s,
		info:      info,
		counters:  counters,
		persist:   persist,
		queue:     make(chan reconcile.Item[E], s.opts.Workers),
	}

	for i := 0; i < s.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	eligible, queued := 0, 0
	for _, it := range items {
		if !it.Outcome.Eligible() {
			continue
		}
		eligible++
		if ctx.Err() != nil {
			continue
		}
		select {
		case <-ctx.Done():
		case p.queue <- it:
			queued++
		}
	}
	close(p.queue)
	p.wg.Wait()

	if notStarted := eligible - queued; notStarted > 0 {
		p.cancelled.Add(int64(notStarted))
		log.Warn().
			Str("tenant", info.Tenant).
			Str("run_id", info.RunID).
			Int("not_started", notStarted).
			Msg("Run cancelled before all resources were scheduled")
	}

	return Stats{
		Succeeded:   p.succeeded.Load(),
		Unchanged:   p.unchanged.Load(),
		NotModified: p.notModified.Load(),
		Failed:      p.failed.Load(),
		Cancelled:   p.cancelled.Load(),
	}
}

// worker processes items from the queue until it is closed
func (p *pump[E]) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for it := range p.queue {
		if ctx.Err() != nil {
			p.cancelled.Add(1)
			continue
		}

		st, ev := p.process(ctx, it)
		ev.RunInfo = p.info

		switch ev.Result {
		case resource.ResultSucceeded:
			p.succeeded.Add(1)
		case resource.ResultUnchanged:
			p.unchanged.Add(1)
		case resource.ResultNotModified:
			p.notModified.Add(1)
		case resource.ResultFailed:
			p.failed.Add(1)
			p.counters.AddErrored()
		case resource.ResultCancelled:
			p.cancelled.Add(1)
		}

		if st != nil {
			p.persist(st)
		}

		log.Debug().
			Int("worker", id).
			Str("resource_id", it.Descriptor.ID).
			Str("outcome", it.Outcome.String()).
			Str("result", ev.Result.String()).
			Msg("Resource pipeline finished")
		p.sink.ResourceFinished(ev)
	}
}
