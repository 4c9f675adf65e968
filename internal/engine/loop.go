package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Job is one repeatable reconciliation run.
type Job interface {
	Run(ctx context.Context) (*RunResult, error)
	ConsecutiveFailures() int
}

// LoopOptions configures a Loop.
type LoopOptions struct {
	// Interval between the end of one run and the start of the next.
	Interval time.Duration
	// Schedule is a standard 5-field cron expression. It overrides Interval.
	Schedule string
	Now      func() time.Time
}

// Loop runs a job on a schedule until its context is cancelled. A failed
// run never stops the loop; the next run starts fresh.
type Loop struct {
	job      Job
	interval time.Duration
	schedule cron.Schedule
	trigger  chan struct{}
	now      func() time.Time
}

// NewLoop creates a loop. It fails on an invalid cron expression.
func NewLoop(job Job, opts LoopOptions) (*Loop, error) {
	l := &Loop{
		job:      job,
		interval: opts.Interval,
		trigger:  make(chan struct{}, 1),
		now:      opts.Now,
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.interval <= 0 {
		l.interval = 5 * time.Minute
	}
	if opts.Schedule != "" {
		sched, err := cron.ParseStandard(opts.Schedule)
		if err != nil {
			return nil, fmt.Errorf("invalid poll schedule %q: %w", opts.Schedule, err)
		}
		l.schedule = sched
	}
	return l, nil
}

// Trigger starts a run as soon as the current one (if any) is finished.
// Repeated triggers before that collapse into one.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// ConsecutiveFailures returns the number of runs that failed in a row.
func (l *Loop) ConsecutiveFailures() int {
	return l.job.ConsecutiveFailures()
}

// Run starts with an immediate run and repeats until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", l.interval).
		Bool("cron", l.schedule != nil).
		Msg("Polling loop started")

	for {
		l.runOnce(ctx)

		wait := l.nextWait()
		log.Debug().Dur("wait", wait).Msg("Next run scheduled")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("Polling loop stopping")
			return nil
		case <-l.trigger:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (l *Loop) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := l.job.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().
			Err(err).
			Int("consecutive_failures", l.job.ConsecutiveFailures()).
			Msg("Reconciliation run failed")
	}
}

func (l *Loop) nextWait() time.Duration {
	if l.schedule == nil {
		return l.interval
	}
	now := l.now()
	wait := l.schedule.Next(now).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait
}
