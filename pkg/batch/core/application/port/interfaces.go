// Package port defines the collaborator interfaces the chunk engine consumes:
// the item reader (source), item processor, item writer (sink), the
// PersistentUserData recorder and the listener callbacks.
package port

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// ErrNoMoreItems is returned by ItemReader.Read when the source is exhausted.
var ErrNoMoreItems = errors.New("no more items")

// ErrItemFiltered may be returned by ItemProcessor.Process to exclude an item from the write buffer.
// A filtered item is not a failure and is counted in FilterCount.
var ErrItemFiltered = errors.New("item filtered")

// Step is a unit of work that can be driven by a runner or a partition executor.
type Step interface {
	// StepName returns the name of the step. Checkpoints are stored under this name.
	StepName() string
	// Execute runs the step to completion, updating stepExecution as it goes.
	// It returns the cause when the step ends FAILED or STOPPED.
	Execute(ctx context.Context, stepExecution *model.StepExecution) error
}

// Partitioner splits the input of a step into independently executable partitions.
// The result maps a partition name to the context its worker is built from; the same
// input must yield the same partitions so that restarted workers find their checkpoints.
type Partitioner interface {
	Partition(ctx context.Context, gridSize int) (map[string]model.ExecutionContext, error)
}

// ItemReader is the source of a chunk step.
// O is the type of item to be read.
//
// The engine rewinds a reader by closing it and opening it again with the
// ExecutionContext captured at the last committed chunk boundary, so a reader
// must resume exactly at the position its context describes.
type ItemReader[O any] interface {
	// Open opens resources and restores state from ec. An empty ec means "start from the beginning".
	Open(ctx context.Context, ec model.ExecutionContext) error
	// Read reads the next item. Returns ErrNoMoreItems if no more items are available.
	// A reader that fails on an item must still advance past it.
	Read(ctx context.Context) (O, error)
	// Close releases resources.
	Close(ctx context.Context) error
	// GetExecutionContext returns the restartable state of the reader at its current position.
	GetExecutionContext(ctx context.Context) (model.ExecutionContext, error)
}

// ItemProcessor transforms a read item into the item to be written.
// I is the type of input item, O is the type of output item.
type ItemProcessor[I, O any] interface {
	// Process processes an input item and returns an output item.
	// Returning ErrItemFiltered, or a nil pointer output, filters the item.
	Process(ctx context.Context, item I) (O, error)
}

// ItemWriter is the sink of a chunk step. It receives each committed chunk as one ordered batch.
// I is the type of item to be written.
type ItemWriter[I any] interface {
	// Open opens resources and restores state from ec.
	Open(ctx context.Context, ec model.ExecutionContext) error
	// Write persists a list of items within t. A writer that cannot join t
	// must buffer internally and must not make the items visible before the chunk commits.
	Write(ctx context.Context, t tx.Tx, items []I) error
	// Close releases resources.
	Close(ctx context.Context) error
	// GetExecutionContext returns the restartable state of the writer.
	GetExecutionContext(ctx context.Context) (model.ExecutionContext, error)
}

// PersistentUserDataRecorder receives the identifiers of each committed chunk, once per commit,
// after the chunk's transaction has committed.
type PersistentUserDataRecorder interface {
	Append(ctx context.Context, stepName string, itemIDs []string) error
}

// Identifiable items provide the identifier recorded in PersistentUserData.
type Identifiable interface {
	ItemID() string
}

// ItemID returns the identifier of an item: ItemID() for Identifiable items,
// the fmt.Sprint representation otherwise.
func ItemID(item interface{}) string {
	if id, ok := item.(Identifiable); ok {
		return id.ItemID()
	}
	return fmt.Sprint(item)
}

// IsFiltered reports whether a processor result means the item was filtered.
func IsFiltered(out interface{}, err error) bool {
	if errors.Is(err, ErrItemFiltered) {
		return true
	}
	if err != nil {
		return false
	}
	if out == nil {
		return true
	}
	v := reflect.ValueOf(out)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
