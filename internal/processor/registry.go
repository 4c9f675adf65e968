// Package processor builds the processor chain from configuration through an
// explicit registry of constructors keyed by a stable type name.
package processor

import (
	"context"
	"fmt"
	"sort"

	"github.com/dokzlo13/pollsync/internal/config"
	"github.com/dokzlo13/pollsync/internal/scheduler"
)

// Factory constructs a processor from its configured options.
type Factory[E any] func(ctx context.Context, name string, opts map[string]string) (scheduler.Processor[E], error)

// Registry maps processor type names to constructors.
type Registry[E any] struct {
	factories map[string]Factory[E]
}

// NewRegistry creates an empty registry.
func NewRegistry[E any]() *Registry[E] {
	return &Registry[E]{factories: make(map[string]Factory[E])}
}

// Builtin returns a registry holding the log, copy and s3 processors.
func Builtin[E any]() *Registry[E] {
	r := NewRegistry[E]()
	r.Register("log", NewLog[E])
	r.Register("copy", NewCopy[E])
	r.Register("s3", NewS3[E])
	return r
}

// Register adds or replaces a constructor.
func (r *Registry[E]) Register(typ string, f Factory[E]) {
	r.factories[typ] = f
}

// Types returns the registered type names, sorted.
func (r *Registry[E]) Types() []string {
	out := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// Build constructs every configured processor and registers it on a new
// chain in declaration order.
func (r *Registry[E]) Build(ctx context.Context, cfgs []config.ProcessorConfig) (*scheduler.Chain[E], error) {
	chain := scheduler.NewChain[E]()
	for _, pc := range cfgs {
		typ := pc.Type
		if typ == "" {
			typ = pc.Name
		}
		f, ok := r.factories[typ]
		if !ok {
			return nil, fmt.Errorf("processor %q: unknown type %q (known: %v)", pc.Name, typ, r.Types())
		}
		p, err := f(ctx, pc.Name, pc.Options)
		if err != nil {
			return nil, fmt.Errorf("processor %q: %w", pc.Name, err)
		}
		if err := chain.Register(pc.Name, p); err != nil {
			return nil, err
		}
	}
	return chain, nil
}
