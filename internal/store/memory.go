package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dokzlo13/pollsync/internal/resource"
)

// MemoryStore keeps state in process memory. Records are cloned on the way
// in and out so callers never share memory with the store.
type MemoryStore[E any] struct {
	mu     sync.RWMutex
	states map[resource.Key]*resource.State[E]
	saves  int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore[E any]() *MemoryStore[E] {
	return &MemoryStore[E]{states: make(map[resource.Key]*resource.State[E])}
}

func (s *MemoryStore[E]) EnsureSchema(ctx context.Context) error {
	return nil
}

func (s *MemoryStore[E]) Load(ctx context.Context, tenant string, ids []string) ([]*resource.State[E], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*resource.State[E]
	if ids != nil {
		for _, id := range ids {
			if st, ok := s.states[resource.Key{Tenant: tenant, ResourceID: id}]; ok {
				out = append(out, st.Clone())
			}
		}
		return out, nil
	}

	for key, st := range s.states {
		if key.Tenant == tenant {
			out = append(out, st.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out, nil
}

func (s *MemoryStore[E]) Save(ctx context.Context, states []*resource.State[E]) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range states {
		s.states[st.Key()] = st.Clone()
	}
	s.saves++
	return nil
}

// Get returns a copy of one record, or nil.
func (s *MemoryStore[E]) Get(tenant, id string) *resource.State[E] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[resource.Key{Tenant: tenant, ResourceID: id}]
	if !ok {
		return nil
	}
	return st.Clone()
}

// SaveCalls returns how many Save calls succeeded.
func (s *MemoryStore[E]) SaveCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
