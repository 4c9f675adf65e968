package scheduler

import (
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/dokzlo13/pollsync/internal/reconcile"
	"github.com/dokzlo13/pollsync/internal/resource"
)

// Observe returns the state of a classified item refreshed with what the
// listing reported: marker, extensions and event time. Every classified
// resource is observed exactly once per run, whatever happens next.
func Observe[E any](tenant string, it reconcile.Item[E], now time.Time) *resource.State[E] {
	var st *resource.State[E]
	if it.Previous != nil {
		st = it.Previous.Clone()
	} else {
		st = &resource.State[E]{ResourceID: it.Descriptor.ID}
	}
	st.Tenant = tenant
	st.Marker = it.Descriptor.Marker.Clone()
	st.Extensions = it.Descriptor.Extensions
	st.LastEventTime = now
	return st
}

// Succeed applies a successful retrieval.
func Succeed[E any](st *resource.State[E], checksum digest.Digest, now time.Time) {
	st.RetryCount = 0
	st.Checksum = checksum
	st.RetrievedAt = &now
	st.LastFailure = ""
	st.BannedUntil = nil
}

// Fail applies a failed attempt. An updated resource starts a fresh retry
// budget. Exceeding maxRetries opens a ban window of banDuration.
func Fail[E any](st *resource.State[E], outcome resource.Outcome, err error, maxRetries int, banDuration time.Duration, now time.Time) {
	if outcome == resource.OutcomeUpdated {
		st.RetryCount = 0
	}
	st.RetryCount++
	st.LastFailure = err.Error()

	if st.RetryCount > maxRetries {
		until := now.Add(banDuration)
		st.BannedUntil = &until
	} else {
		st.BannedUntil = nil
	}
}
