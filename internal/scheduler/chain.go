package scheduler

import (
	"context"
	"fmt"

	"github.com/dokzlo13/pollsync/internal/reconcile"
	"github.com/dokzlo13/pollsync/internal/resource"
)

// Fetcher retrieves the content of one resource. It returns
// resource.ErrNotModified when there is nothing new to process.
type Fetcher[E any] interface {
	GetResource(ctx context.Context, d resource.Descriptor[E], last *resource.State[E]) (*resource.Payload, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc[E any] func(ctx context.Context, d resource.Descriptor[E], last *resource.State[E]) (*resource.Payload, error)

func (f FetcherFunc[E]) GetResource(ctx context.Context, d resource.Descriptor[E], last *resource.State[E]) (*resource.Payload, error) {
	return f(ctx, d, last)
}

// Processor handles a freshly fetched payload.
type Processor[E any] interface {
	Process(ctx context.Context, d resource.Descriptor[E], p *resource.Payload) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc[E any] func(ctx context.Context, d resource.Descriptor[E], p *resource.Payload) error

func (f ProcessorFunc[E]) Process(ctx context.Context, d resource.Descriptor[E], p *resource.Payload) error {
	return f(ctx, d, p)
}

// Chain is an ordered registry of named processors. Registration happens
// during setup; Run may be called concurrently afterwards.
type Chain[E any] struct {
	names      []string
	processors []Processor[E]
	index      map[string]int
}

// NewChain creates an empty chain.
func NewChain[E any]() *Chain[E] {
	return &Chain[E]{index: make(map[string]int)}
}

// Register appends a processor. Names must be unique and non-empty.
func (c *Chain[E]) Register(name string, p Processor[E]) error {
	if name == "" {
		return fmt.Errorf("processor name is required")
	}
	if _, exists := c.index[name]; exists {
		return fmt.Errorf("processor %q already registered", name)
	}
	c.index[name] = len(c.processors)
	c.names = append(c.names, name)
	c.processors = append(c.processors, p)
	return nil
}

// Names returns processor names in registration order.
func (c *Chain[E]) Names() []string {
	return append([]string(nil), c.names...)
}

// Len returns the number of registered processors.
func (c *Chain[E]) Len() int {
	return len(c.processors)
}

// Run invokes every processor in registration order and stops at the first
// failure, returned as a *reconcile.ProcessorError.
func (c *Chain[E]) Run(ctx context.Context, d resource.Descriptor[E], p *resource.Payload) error {
	for i, proc := range c.processors {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := safeProcess(ctx, proc, d, p); err != nil {
			return &reconcile.ProcessorError{ResourceID: d.ID, Processor: c.names[i], Err: err}
		}
	}
	return nil
}

func safeProcess[E any](ctx context.Context, proc Processor[E], d resource.Descriptor[E], p *resource.Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panicked: %v", r)
		}
	}()
	return proc.Process(ctx, d, p)
}
