package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dokzlo13/pollsync/internal/diag"
	"github.com/dokzlo13/pollsync/internal/reconcile"
	"github.com/dokzlo13/pollsync/internal/resource"
)

// process runs one resource pipeline: fetch, processors in registration
// order, bookkeeping. The returned state is nil when the pipeline was
// interrupted by cancellation.
func (s *Scheduler[E]) process(ctx context.Context, it reconcile.Item[E]) (*resource.State[E], diag.ResourceEvent) {
	start := time.Now()
	d := it.Descriptor

	ev := diag.ResourceEvent{
		ResourceID: d.ID,
		Outcome:    it.Outcome,
	}
	finish := func(st *resource.State[E], result resource.Result, err error) (*resource.State[E], diag.ResourceEvent) {
		ev.Result = result
		ev.Err = err
		ev.Duration = time.Since(start)
		ev.Slow = s.opts.SlowResource > 0 && ev.Duration > s.opts.SlowResource
		if st != nil {
			ev.RetryCount = st.RetryCount
			ev.BannedUntil = st.BannedUntil
		}
		return st, ev
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return finish(nil, resource.ResultCancelled, err)
		}
	}

	payload, err := s.fetch(ctx, d, it.Previous)
	now := s.now()

	switch {
	case errors.Is(err, resource.ErrNotModified):
		return finish(Observe(s.opts.Tenant, it, now), resource.ResultNotModified, nil)

	case err != nil:
		if cancelled(ctx, err) {
			return finish(nil, resource.ResultCancelled, err)
		}
		st := Observe(s.opts.Tenant, it, now)
		ferr := &reconcile.FetchError{ResourceID: d.ID, Err: err}
		Fail(st, it.Outcome, ferr, s.opts.MaxRetries, s.opts.BanDuration, now)
		return finish(st, resource.ResultFailed, ferr)

	case payload == nil:
		st := Observe(s.opts.Tenant, it, now)
		ferr := &reconcile.FetchError{ResourceID: d.ID, Err: errors.New("fetcher returned no payload")}
		Fail(st, it.Outcome, ferr, s.opts.MaxRetries, s.opts.BanDuration, now)
		return finish(st, resource.ResultFailed, ferr)
	}

	checksum := payload.Checksum()
	prev := it.Previous
	if prev != nil && prev.Retrieved() && prev.Checksum != "" {
		if prev.Checksum == checksum {
			if s.opts.SkipUnchangedChecksum && !s.opts.IgnoreState {
				st := Observe(s.opts.Tenant, it, now)
				Succeed(st, checksum, now)
				return finish(st, resource.ResultUnchanged, nil)
			}
		} else {
			ev.ChecksumChanged = true
		}
	}

	if err := s.chain.Run(ctx, d, payload); err != nil {
		if cancelled(ctx, err) {
			return finish(nil, resource.ResultCancelled, err)
		}
		now = s.now()
		st := Observe(s.opts.Tenant, it, now)
		Fail(st, it.Outcome, err, s.opts.MaxRetries, s.opts.BanDuration, now)
		return finish(st, resource.ResultFailed, err)
	}

	now = s.now()
	st := Observe(s.opts.Tenant, it, now)
	Succeed(st, checksum, now)
	return finish(st, resource.ResultSucceeded, nil)
}

// fetch calls the fetcher, converting a panic into an error.
func (s *Scheduler[E]) fetch(ctx context.Context, d resource.Descriptor[E], last *resource.State[E]) (p *resource.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetcher panicked: %v", r)
		}
	}()

	var lastCopy *resource.State[E]
	if last != nil {
		lastCopy = last.Clone()
	}
	return s.fetcher.GetResource(ctx, d, lastCopy)
}

func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
