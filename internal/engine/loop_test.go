package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	runs     atomic.Int32
	failures atomic.Int32
	err      error
}

func (j *countingJob) Run(context.Context) (*RunResult, error) {
	j.runs.Add(1)
	if j.err != nil {
		j.failures.Add(1)
		return nil, j.err
	}
	j.failures.Store(0)
	return &RunResult{}, nil
}

func (j *countingJob) ConsecutiveFailures() int {
	return int(j.failures.Load())
}

func TestLoop_RepeatsOnInterval(t *testing.T) {
	job := &countingJob{err: errors.New("listing failed")}
	loop, err := NewLoop(job, LoopOptions{Interval: 5 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return job.runs.Load() >= 3 }, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, loop.ConsecutiveFailures(), 3)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestLoop_TriggerStartsRunImmediately(t *testing.T) {
	job := &countingJob{}
	loop, err := NewLoop(job, LoopOptions{Interval: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, time.Millisecond)
	loop.Trigger()
	require.Eventually(t, func() bool { return job.runs.Load() == 2 }, time.Second, time.Millisecond)
}

func TestLoop_CronSchedule(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	loop, err := NewLoop(&countingJob{}, LoopOptions{
		Schedule: "0 * * * *",
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, loop.nextWait())

	_, err = NewLoop(&countingJob{}, LoopOptions{Schedule: "every now and then"})
	assert.Error(t, err)
}

func TestLoop_DefaultInterval(t *testing.T) {
	loop, err := NewLoop(&countingJob{}, LoopOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, loop.nextWait())
}
