package resource

import (
	"errors"
	"time"

	"github.com/opencontainers/go-digest"
)

// ErrNotModified is returned by a fetcher when the upstream content has not
// changed since the last retrieval. It is not a failure: the pass refreshes
// the marker but leaves checksum, retrieval time and retry bookkeeping alone.
var ErrNotModified = errors.New("resource not modified")

// Descriptor is one entry returned by a lister.
type Descriptor[E any] struct {
	ID         string
	Marker     Marker
	Extensions E
}

// Key identifies a tracking record.
type Key struct {
	Tenant     string
	ResourceID string
}

// State is the persisted tracking record of one resource for one tenant.
type State[E any] struct {
	Tenant        string
	ResourceID    string
	Marker        Marker
	LastEventTime time.Time
	RetrievedAt   *time.Time
	RetryCount    int
	Checksum      digest.Digest
	Extensions    E
	LastFailure   string
	BannedUntil   *time.Time
}

// Key returns the composite key of the record.
func (s *State[E]) Key() Key {
	return Key{Tenant: s.Tenant, ResourceID: s.ResourceID}
}

// Banned reports whether a ban window is recorded, elapsed or not.
func (s *State[E]) Banned() bool {
	return s.BannedUntil != nil
}

// BanActive reports whether the ban window is still running at now.
func (s *State[E]) BanActive(now time.Time) bool {
	return s.BannedUntil != nil && now.Before(*s.BannedUntil)
}

// Retrieved reports whether the resource was ever successfully retrieved.
func (s *State[E]) Retrieved() bool {
	return s.RetrievedAt != nil
}

// Clone returns a copy that shares no mutable memory with s.
func (s *State[E]) Clone() *State[E] {
	c := *s
	c.Marker = s.Marker.Clone()
	if s.RetrievedAt != nil {
		t := *s.RetrievedAt
		c.RetrievedAt = &t
	}
	if s.BannedUntil != nil {
		t := *s.BannedUntil
		c.BannedUntil = &t
	}
	return &c
}

// Payload is the content retrieved for one resource.
type Payload struct {
	Body        []byte
	ContentType string

	checksum digest.Digest
}

// NewPayload creates a payload whose checksum is derived from body.
func NewPayload(body []byte, contentType string) *Payload {
	return &Payload{Body: body, ContentType: contentType}
}

// WithChecksum overrides the derived checksum, for fetchers that already
// know an upstream fingerprint (an ETag, a content hash header).
func (p *Payload) WithChecksum(d digest.Digest) *Payload {
	p.checksum = d
	return p
}

// Checksum returns the payload fingerprint.
func (p *Payload) Checksum() digest.Digest {
	if p.checksum == "" {
		p.checksum = digest.FromBytes(p.Body)
	}
	return p.checksum
}
