// Package writer provides database and file item writers.
package writer

import (
	"context"
	"fmt"
	"reflect"

	database "github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const module = "writer"

// Valuer is implemented by items that are written as a column map, such as reader.Row.
type Valuer interface {
	Values() map[string]interface{}
}

// UpsertOptions describes the target table of a GormUpsertWriter.
type UpsertOptions struct {
	// Table may be empty when the items map to a table by themselves.
	Table string
	// ConflictColumns identify a row, usually the primary key.
	ConflictColumns []string
	// UpdateColumns are overwritten on conflict. Empty means DO NOTHING.
	UpdateColumns []string
	// BulkSize splits a chunk into several statements. Zero writes a chunk in one statement.
	BulkSize int
}

// GormUpsertWriter upserts every chunk inside the chunk transaction.
// When the step runs without a GORM transaction the rows are written on the
// named connection directly, and are then visible before the checkpoint commits.
type GormUpsertWriter[T any] struct {
	resolver database.DBConnectionResolver
	dbName   string
	name     string
	opts     UpsertOptions
}

// NewGormUpsertWriter creates a writer. resolver may be nil when the step always supplies a GORM transaction.
func NewGormUpsertWriter[T any](resolver database.DBConnectionResolver, dbName, name string, opts UpsertOptions) *GormUpsertWriter[T] {
	return &GormUpsertWriter[T]{resolver: resolver, dbName: dbName, name: name, opts: opts}
}

func (w *GormUpsertWriter[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	logger.Debugf("GormUpsertWriter '%s': opened.", w.name)
	return nil
}

// Write upserts items through t when t is a GORM transaction.
func (w *GormUpsertWriter[T]) Write(ctx context.Context, t tx.Tx, items []T) error {
	if len(items) == 0 {
		return nil
	}
	executor, err := w.executor(ctx, t)
	if err != nil {
		return err
	}

	size := w.opts.BulkSize
	if size <= 0 {
		size = len(items)
	}
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		batch, err := toBatch(items[i:end])
		if err != nil {
			return exception.NewBatchError(module, fmt.Sprintf("GormUpsertWriter '%s'", w.name), err, false, false)
		}
		if _, err := executor.ExecuteUpsert(ctx, batch, w.opts.Table, w.opts.ConflictColumns, w.opts.UpdateColumns); err != nil {
			return exception.NewBatchError(module, fmt.Sprintf("GormUpsertWriter '%s': failed to upsert items %d..%d", w.name, i, end-1), err, false, false)
		}
	}
	logger.Debugf("GormUpsertWriter '%s': wrote %d items.", w.name, len(items))
	return nil
}

func (w *GormUpsertWriter[T]) executor(ctx context.Context, t tx.Tx) (tx.TxExecutor, error) {
	if _, ok := gormadapter.DBFrom(t); ok {
		return t, nil
	}
	if w.resolver == nil {
		return nil, exception.NewBatchErrorf(module, "GormUpsertWriter '%s': no GORM transaction and no database resolver", w.name)
	}
	conn, err := w.resolver.ResolveDBConnection(ctx, w.dbName)
	if err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("GormUpsertWriter '%s': failed to resolve connection '%s'", w.name, w.dbName), err, false, false)
	}
	return conn, nil
}

func (w *GormUpsertWriter[T]) Close(ctx context.Context) error {
	return nil
}

func (w *GormUpsertWriter[T]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return model.NewExecutionContext(), nil
}

// toBatch turns items into a value GORM can create from: []map[string]interface{} for
// maps and Valuers, otherwise a pointer to a slice of the items' common dynamic type.
func toBatch[T any](items []T) (interface{}, error) {
	first := interface{}(items[0])
	if _, ok := asMap(first); ok {
		rows := make([]map[string]interface{}, 0, len(items))
		for _, it := range items {
			m, ok := asMap(it)
			if !ok {
				return nil, fmt.Errorf("mixed item types in chunk: %T", it)
			}
			rows = append(rows, m)
		}
		return rows, nil
	}
	elemType := reflect.TypeOf(first)
	if elemType == nil {
		return nil, fmt.Errorf("nil item in chunk")
	}
	batch := reflect.MakeSlice(reflect.SliceOf(elemType), 0, len(items))
	for _, it := range items {
		v := reflect.ValueOf(it)
		if !v.IsValid() || v.Type() != elemType {
			return nil, fmt.Errorf("mixed item types in chunk: %T and %T", first, it)
		}
		batch = reflect.Append(batch, v)
	}
	ptr := reflect.New(batch.Type())
	ptr.Elem().Set(batch)
	return ptr.Interface(), nil
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Valuer:
		return m.Values(), true
	default:
		return nil, false
	}
}

var _ port.ItemWriter[any] = (*GormUpsertWriter[any])(nil)
