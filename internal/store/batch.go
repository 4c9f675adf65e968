package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pollsync/internal/resource"
)

// SaveFunc persists a batch of states.
type SaveFunc[E any] func(ctx context.Context, states []*resource.State[E]) error

// BatchWriter accumulates updated states and saves them every N records.
// A size of zero or less saves everything on Flush only. States of a failed
// intermediate save are kept and retried by Flush.
type BatchWriter[E any] struct {
	mu      sync.Mutex
	pending []*resource.State[E]
	size    int
	save    SaveFunc[E]
	written int
}

// NewBatchWriter creates a writer flushing every size records.
func NewBatchWriter[E any](size int, save SaveFunc[E]) *BatchWriter[E] {
	return &BatchWriter[E]{
		size: size,
		save: save,
	}
}

// Add queues a state and saves the batch once the target size is reached.
func (w *BatchWriter[E]) Add(ctx context.Context, st *resource.State[E]) {
	w.mu.Lock()
	w.pending = append(w.pending, st)
	shouldFlush := w.size > 0 && len(w.pending) >= w.size
	var batch []*resource.State[E]
	if shouldFlush {
		batch = w.pending
		w.pending = nil
	}
	w.mu.Unlock()

	if !shouldFlush {
		return
	}

	if err := w.save(ctx, batch); err != nil {
		log.Warn().Err(err).Int("count", len(batch)).Msg("Incremental state save failed, will retry at end of run")
		w.requeue(batch)
		return
	}
	w.addWritten(len(batch))
}

// Flush saves everything still pending.
func (w *BatchWriter[E]) Flush(ctx context.Context) error {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := w.save(ctx, batch); err != nil {
		w.requeue(batch)
		return fmt.Errorf("%w (%d states left unsaved)", err, len(batch))
	}
	w.addWritten(len(batch))
	return nil
}

// Pending returns the number of unsaved states.
func (w *BatchWriter[E]) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Written returns the number of saved states.
func (w *BatchWriter[E]) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

func (w *BatchWriter[E]) requeue(batch []*resource.State[E]) {
	w.mu.Lock()
	w.pending = append(batch, w.pending...)
	w.mu.Unlock()
}

func (w *BatchWriter[E]) addWritten(n int) {
	w.mu.Lock()
	w.written += n
	w.mu.Unlock()
}
