// Package diagtest provides a diagnostics sink that records events for
// assertions in tests.
package diagtest

import (
	"sync"

	"github.com/dokzlo13/pollsync/internal/diag"
	"github.com/dokzlo13/pollsync/internal/reconcile"
)

// Recorder keeps every event it receives.
type Recorder struct {
	mu         sync.Mutex
	Started    []diag.RunInfo
	Rejected   []*reconcile.InvariantViolation
	Duplicates []*reconcile.DuplicateIDError
	Resources  []diag.ResourceEvent
	Summaries  []diag.RunSummary
}

var _ diag.Sink = (*Recorder)(nil)

func (r *Recorder) RunStarted(info diag.RunInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Started = append(r.Started, info)
}

func (r *Recorder) ResourceRejected(_ diag.RunInfo, err *reconcile.InvariantViolation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Rejected = append(r.Rejected, err)
}

func (r *Recorder) DuplicateResource(_ diag.RunInfo, err *reconcile.DuplicateIDError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Duplicates = append(r.Duplicates, err)
}

func (r *Recorder) ResourceFinished(ev diag.ResourceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Resources = append(r.Resources, ev)
}

func (r *Recorder) RunFinished(s diag.RunSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Summaries = append(r.Summaries, s)
}

// LastSummary returns the most recent run summary.
func (r *Recorder) LastSummary() (diag.RunSummary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Summaries) == 0 {
		return diag.RunSummary{}, false
	}
	return r.Summaries[len(r.Summaries)-1], true
}

// ResourceEvents returns a copy of the per-resource events.
func (r *Recorder) ResourceEvents() []diag.ResourceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]diag.ResourceEvent(nil), r.Resources...)
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Started, r.Rejected, r.Duplicates, r.Resources, r.Summaries = nil, nil, nil, nil, nil
}
