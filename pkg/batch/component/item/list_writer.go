package item

import (
	"context"
	"sync"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// ListWriter keeps every written chunk in memory.
// It does not join the chunk transaction: a chunk is recorded when Write returns nil.
type ListWriter[T any] struct {
	mu     sync.Mutex
	chunks [][]T
}

// NewListWriter creates an empty ListWriter.
func NewListWriter[T any]() *ListWriter[T] {
	return &ListWriter[T]{}
}

func (w *ListWriter[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	return nil
}

// Write records a copy of items as one chunk.
func (w *ListWriter[T]) Write(ctx context.Context, t tx.Tx, items []T) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chunks = append(w.chunks, append([]T(nil), items...))
	return nil
}

func (w *ListWriter[T]) Close(ctx context.Context) error {
	return nil
}

func (w *ListWriter[T]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return model.NewExecutionContext(), nil
}

// Chunks returns the written chunks in write order.
func (w *ListWriter[T]) Chunks() [][]T {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([][]T, len(w.chunks))
	for i, c := range w.chunks {
		out[i] = append([]T(nil), c...)
	}
	return out
}

// Items returns every written item in write order.
func (w *ListWriter[T]) Items() []T {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []T
	for _, c := range w.chunks {
		out = append(out, c...)
	}
	return out
}

var _ port.ItemWriter[any] = (*ListWriter[any])(nil)
