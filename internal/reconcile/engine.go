// Package reconcile classifies listed resources against their persisted
// tracking state and decides which of them must be fetched in this run.
package reconcile

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pollsync/internal/resource"
)

// Item is one classified descriptor.
type Item[E any] struct {
	Descriptor resource.Descriptor[E]
	Outcome    resource.Outcome
	// Previous is the stored state, nil for never-seen resources.
	Previous *resource.State[E]
}

// Classification is the result of classifying one listing.
type Classification[E any] struct {
	// Items holds every classified descriptor in listing order.
	Items []Item[E]
	// Rejected holds descriptors that failed the invariant check.
	Rejected []*InvariantViolation
	// Duplicates holds resource ids listed more than once. All occurrences
	// of such an id are excluded from Items.
	Duplicates []*DuplicateIDError
	// Stale holds ids dropped by the staleness filter.
	Stale []string
}

// Eligible returns the items that must be fetched.
func (c *Classification[E]) Eligible() []Item[E] {
	var out []Item[E]
	for _, it := range c.Items {
		if it.Outcome.Eligible() {
			out = append(out, it)
		}
	}
	return out
}

// Options configures classification.
type Options struct {
	// IgnoreState classifies every known resource as updated.
	IgnoreState bool
	// SkipOlderThan drops known resources whose marker is older than this
	// age. Zero disables the filter.
	SkipOlderThan time.Duration
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Engine classifies descriptors. It holds no per-run state and is safe for
// concurrent use.
type Engine[E any] struct {
	ignoreState   bool
	skipOlderThan time.Duration
	now           func() time.Time
}

// NewEngine creates a classification engine.
func NewEngine[E any](opts Options) *Engine[E] {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine[E]{
		ignoreState:   opts.IgnoreState,
		skipOlderThan: opts.SkipOlderThan,
		now:           now,
	}
}

// Classify classifies a full listing against the batch-loaded state of the
// same tenant, keyed by resource id. Counters, when non-nil, receive found,
// per-outcome, stale and errored (rejected + duplicated) counts.
func (e *Engine[E]) Classify(
	descriptors []resource.Descriptor[E],
	existing map[string]*resource.State[E],
	counters *Counters,
) *Classification[E] {
	if counters == nil {
		counters = &Counters{}
	}
	counters.AddFound(len(descriptors))

	now := e.now()
	result := &Classification[E]{}

	occurrences := make(map[string]int, len(descriptors))
	for _, d := range descriptors {
		occurrences[d.ID]++
	}

	reported := make(map[string]bool)
	for _, d := range descriptors {
		if d.ID == "" {
			result.Rejected = append(result.Rejected, &InvariantViolation{Err: ErrMissingID})
			counters.AddErrored()
			continue
		}
		if d.Marker.IsZero() {
			result.Rejected = append(result.Rejected, &InvariantViolation{ResourceID: d.ID, Err: ErrMissingMarker})
			counters.AddErrored()
			continue
		}

		if n := occurrences[d.ID]; n > 1 {
			if !reported[d.ID] {
				reported[d.ID] = true
				result.Duplicates = append(result.Duplicates, &DuplicateIDError{ResourceID: d.ID, Count: n})
				log.Warn().Str("resource_id", d.ID).Int("count", n).Msg("Duplicate resource id in listing, skipping")
			}
			counters.AddErrored()
			continue
		}

		prev := existing[d.ID]
		if prev != nil && e.isStale(d.Marker, now) {
			result.Stale = append(result.Stale, d.ID)
			counters.AddStale()
			continue
		}

		outcome := e.classify(d, prev, now)
		counters.AddOutcome(outcome)
		result.Items = append(result.Items, Item[E]{Descriptor: d, Outcome: outcome, Previous: prev})
	}

	return result
}

// ClassifyOne classifies a single descriptor against its stored state.
// It skips the invariant, duplicate and staleness checks.
func (e *Engine[E]) ClassifyOne(d resource.Descriptor[E], prev *resource.State[E]) resource.Outcome {
	return e.classify(d, prev, e.now())
}

func (e *Engine[E]) classify(d resource.Descriptor[E], prev *resource.State[E], now time.Time) resource.Outcome {
	switch {
	case prev == nil:
		return resource.OutcomeNew
	case e.ignoreState || d.Marker.ChangedSince(prev.Marker):
		return resource.OutcomeUpdated
	case prev.BanActive(now):
		return resource.OutcomeBanned
	case prev.Banned():
		return resource.OutcomeRetriedAfterBan
	case prev.RetryCount > 0:
		return resource.OutcomeRetried
	default:
		return resource.OutcomeNothingToDo
	}
}

func (e *Engine[E]) isStale(m resource.Marker, now time.Time) bool {
	if e.skipOlderThan <= 0 {
		return false
	}
	return m.Latest().Before(now.Add(-e.skipOlderThan))
}
