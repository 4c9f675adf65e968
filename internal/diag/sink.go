// Package diag delivers run-level and per-resource lifecycle events to
// observability backends.
package diag

import (
	"time"

	"github.com/dokzlo13/pollsync/internal/reconcile"
	"github.com/dokzlo13/pollsync/internal/resource"
)

// RunInfo identifies one reconciliation run.
type RunInfo struct {
	RunID     string
	Tenant    string
	StartedAt time.Time
}

// ResourceEvent describes how one resource pipeline ended.
type ResourceEvent struct {
	RunInfo
	ResourceID      string
	Outcome         resource.Outcome
	Result          resource.Result
	Duration        time.Duration
	Slow            bool
	RetryCount      int
	BannedUntil     *time.Time
	ChecksumChanged bool
	Err             error
}

// RunSummary closes a run.
type RunSummary struct {
	RunInfo
	Counts              reconcile.Counts
	Succeeded           int64
	Failed              int64
	NotModified         int64
	Saved               int
	Duration            time.Duration
	Slow                bool
	Err                 error
	ConsecutiveFailures int
}

// Sink receives diagnostics. Implementations must be safe for concurrent
// use: ResourceFinished is called from scheduler workers.
type Sink interface {
	RunStarted(info RunInfo)
	ResourceRejected(info RunInfo, err *reconcile.InvariantViolation)
	DuplicateResource(info RunInfo, err *reconcile.DuplicateIDError)
	ResourceFinished(ev ResourceEvent)
	RunFinished(summary RunSummary)
}

// Multi fans events out to several sinks in order.
type Multi []Sink

func (m Multi) RunStarted(info RunInfo) {
	for _, s := range m {
		s.RunStarted(info)
	}
}

func (m Multi) ResourceRejected(info RunInfo, err *reconcile.InvariantViolation) {
	for _, s := range m {
		s.ResourceRejected(info, err)
	}
}

func (m Multi) DuplicateResource(info RunInfo, err *reconcile.DuplicateIDError) {
	for _, s := range m {
		s.DuplicateResource(info, err)
	}
}

func (m Multi) ResourceFinished(ev ResourceEvent) {
	for _, s := range m {
		s.ResourceFinished(ev)
	}
}

func (m Multi) RunFinished(summary RunSummary) {
	for _, s := range m {
		s.RunFinished(summary)
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) RunStarted(RunInfo)                                      {}
func (Nop) ResourceRejected(RunInfo, *reconcile.InvariantViolation) {}
func (Nop) DuplicateResource(RunInfo, *reconcile.DuplicateIDError)  {}
func (Nop) ResourceFinished(ResourceEvent)                          {}
func (Nop) RunFinished(RunSummary)                                  {}
