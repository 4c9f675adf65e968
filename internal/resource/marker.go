// Package resource defines the data shared by the reconciliation engine,
// the scheduler and the state stores: listing descriptors, persisted
// tracking state, payloads and per-run classification outcomes.
package resource

import (
	"sort"
	"time"
)

// Marker records when a resource was last modified upstream.
// It is either a single timestamp or a set of named-source timestamps.
// When Sources is non-empty it takes precedence over At.
type Marker struct {
	At      time.Time            `json:"at,omitempty"`
	Sources map[string]time.Time `json:"sources,omitempty"`
}

// At returns a single-timestamp marker.
func At(t time.Time) Marker {
	return Marker{At: t.UTC()}
}

// FromSources returns a named-source marker. The map is copied.
func FromSources(sources map[string]time.Time) Marker {
	m := Marker{Sources: make(map[string]time.Time, len(sources))}
	for k, v := range sources {
		m.Sources[k] = v.UTC()
	}
	return m
}

// IsZero reports whether neither form of the marker is populated.
func (m Marker) IsZero() bool {
	return m.At.IsZero() && len(m.Sources) == 0
}

// IsMulti reports whether the marker uses the named-source form.
func (m Marker) IsMulti() bool {
	return len(m.Sources) > 0
}

// Latest returns the most recent timestamp carried by the marker.
func (m Marker) Latest() time.Time {
	if !m.IsMulti() {
		return m.At
	}
	var latest time.Time
	for _, t := range m.Sources {
		if t.After(latest) {
			latest = t
		}
	}
	return latest
}

// ChangedSince reports whether m signals a modification relative to prev.
//
// Single timestamps compare by inequality. Named-source markers report a
// change when any source already present in prev advanced, or when a new
// source appears. A source disappearing is not a change. Switching between
// the two forms always counts as a change.
func (m Marker) ChangedSince(prev Marker) bool {
	if prev.IsZero() {
		return true
	}
	if m.IsMulti() != prev.IsMulti() {
		return true
	}
	if !m.IsMulti() {
		return !m.At.Equal(prev.At)
	}
	for name, t := range m.Sources {
		old, ok := prev.Sources[name]
		if !ok || t.After(old) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the marker.
func (m Marker) Clone() Marker {
	if !m.IsMulti() {
		return Marker{At: m.At}
	}
	return FromSources(m.Sources)
}

// String renders the marker for logs.
func (m Marker) String() string {
	if !m.IsMulti() {
		return m.At.Format(time.RFC3339Nano)
	}
	names := make([]string, 0, len(m.Sources))
	for name := range m.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	s := "{"
	for i, name := range names {
		if i > 0 {
			s += ", "
		}
		s += name + "=" + m.Sources[name].Format(time.RFC3339Nano)
	}
	return s + "}"
}
