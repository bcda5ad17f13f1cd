package item

import (
	"context"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// MappedReader converts every item of a delegate reader. Open, Close and the
// execution context are those of the delegate.
type MappedReader[I, O any] struct {
	delegate port.ItemReader[I]
	fn       func(I) O
}

// Map returns a reader that applies fn to every item read from r.
func Map[I, O any](r port.ItemReader[I], fn func(I) O) *MappedReader[I, O] {
	return &MappedReader[I, O]{delegate: r, fn: fn}
}

// AsAny exposes a typed reader as the port.ItemReader[any] the step factory builds steps from.
func AsAny[T any](r port.ItemReader[T]) port.ItemReader[any] {
	return Map(r, func(v T) any { return v })
}

func (r *MappedReader[I, O]) Open(ctx context.Context, ec model.ExecutionContext) error {
	return r.delegate.Open(ctx, ec)
}

// Read reads from the delegate. Errors are returned unchanged so that classification sees the original cause.
func (r *MappedReader[I, O]) Read(ctx context.Context) (O, error) {
	v, err := r.delegate.Read(ctx)
	if err != nil {
		var zero O
		return zero, err
	}
	return r.fn(v), nil
}

func (r *MappedReader[I, O]) Close(ctx context.Context) error {
	return r.delegate.Close(ctx)
}

func (r *MappedReader[I, O]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return r.delegate.GetExecutionContext(ctx)
}
