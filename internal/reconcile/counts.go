package reconcile

import (
	"sync/atomic"

	"github.com/dokzlo13/pollsync/internal/resource"
)

// Counts is a snapshot of the per-run outcome counters.
type Counts struct {
	Found           int64 `json:"found"`
	New             int64 `json:"new"`
	Updated         int64 `json:"updated"`
	Retried         int64 `json:"retried"`
	RetriedAfterBan int64 `json:"retried_after_ban"`
	Banned          int64 `json:"banned"`
	NothingToDo     int64 `json:"nothing_to_do"`
	Stale           int64 `json:"stale"`
	Errored         int64 `json:"errored"`
}

// Of returns the count for one classification outcome.
func (c Counts) Of(o resource.Outcome) int64 {
	switch o {
	case resource.OutcomeNew:
		return c.New
	case resource.OutcomeUpdated:
		return c.Updated
	case resource.OutcomeRetried:
		return c.Retried
	case resource.OutcomeRetriedAfterBan:
		return c.RetriedAfterBan
	case resource.OutcomeBanned:
		return c.Banned
	case resource.OutcomeNothingToDo:
		return c.NothingToDo
	default:
		return 0
	}
}

// Counters holds the run counters. Workers increment them concurrently.
type Counters struct {
	found           atomic.Int64
	newCount        atomic.Int64
	updated         atomic.Int64
	retried         atomic.Int64
	retriedAfterBan atomic.Int64
	banned          atomic.Int64
	nothingToDo     atomic.Int64
	stale           atomic.Int64
	errored         atomic.Int64
}

// AddFound records listed descriptors.
func (c *Counters) AddFound(n int) { c.found.Add(int64(n)) }

// AddStale records a descriptor dropped by the staleness filter.
func (c *Counters) AddStale() { c.stale.Add(1) }

// AddErrored records a descriptor or pipeline that ended in error.
func (c *Counters) AddErrored() { c.errored.Add(1) }

// AddOutcome records one classification.
func (c *Counters) AddOutcome(o resource.Outcome) {
	switch o {
	case resource.OutcomeNew:
		c.newCount.Add(1)
	case resource.OutcomeUpdated:
		c.updated.Add(1)
	case resource.OutcomeRetried:
		c.retried.Add(1)
	case resource.OutcomeRetriedAfterBan:
		c.retriedAfterBan.Add(1)
	case resource.OutcomeBanned:
		c.banned.Add(1)
	case resource.OutcomeNothingToDo:
		c.nothingToDo.Add(1)
	}
}

// Snapshot returns the current values.
func (c *Counters) Snapshot() Counts {
	return Counts{
		Found:           c.found.Load(),
		New:             c.newCount.Load(),
		Updated:         c.updated.Load(),
		Retried:         c.retried.Load(),
		RetriedAfterBan: c.retriedAfterBan.Load(),
		Banned:          c.banned.Load(),
		NothingToDo:     c.nothingToDo.Load(),
		Stale:           c.stale.Load(),
		Errored:         c.errored.Load(),
	}
}
