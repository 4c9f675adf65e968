// Package store persists resource tracking state.
//
// Every adapter implements the same contract: per-row upsert keyed by
// (tenant, resource id), batch load per tenant optionally restricted to an
// id set, and an idempotent schema bootstrap. Extensions are opaque to the
// adapters and go through a Codec at this boundary only.
package store

import (
	"context"
	"encoding/json"

	"github.com/dokzlo13/pollsync/internal/resource"
)

// DefaultBulkThreshold is the id count above which Load switches from an
// inline predicate list to a single structured parameter.
const DefaultBulkThreshold = 2000

// Store is the durable state store used by the engine.
type Store[E any] interface {
	// EnsureSchema creates backing structures. Safe to call repeatedly.
	EnsureSchema(ctx context.Context) error
	// Load returns tracking records for a tenant. A nil ids slice loads all
	// records of the tenant; a non-nil slice restricts the result.
	Load(ctx context.Context, tenant string, ids []string) ([]*resource.State[E], error)
	// Save upserts records by (tenant, resource id).
	Save(ctx context.Context, states []*resource.State[E]) error
}

// Codec (de)serializes the opaque extensions payload.
type Codec[E any] interface {
	Marshal(E) ([]byte, error)
	Unmarshal([]byte) (E, error)
}

// JSONCodec encodes extensions as JSON.
type JSONCodec[E any] struct{}

func (JSONCodec[E]) Marshal(v E) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec[E]) Unmarshal(data []byte) (E, error) {
	var v E
	if len(data) == 0 {
		return v, nil
	}
	err := json.Unmarshal(data, &v)
	return v, err
}

// ByID indexes loaded states by resource id.
func ByID[E any](states []*resource.State[E]) map[string]*resource.State[E] {
	m := make(map[string]*resource.State[E], len(states))
	for _, s := range states {
		m[s.ResourceID] = s
	}
	return m
}

func encodeMarker(m resource.Marker) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeMarker(s string) (resource.Marker, error) {
	var m resource.Marker
	if s == "" {
		return m, nil
	}
	err := json.Unmarshal([]byte(s), &m)
	return m, err
}
