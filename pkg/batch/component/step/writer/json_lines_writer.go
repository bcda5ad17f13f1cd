package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	storage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// JSONLinesWriter writes every chunk as one object "<prefix>-<part>.jsonl", one JSON
// document per item. The part number is the count of parts written before it and is
// stored in the writer context, so a chunk rewritten after a restart replaces its own part.
type JSONLinesWriter[I any] struct {
	resolver storage.ConnectionResolver
	connName string
	name     string
	bucket   string
	prefix   string

	conn    storage.Connection
	parts   int
	written int
}

// NewJSONLinesWriter creates a writer on the named storage connection. name keys its execution context.
func NewJSONLinesWriter[I any](resolver storage.ConnectionResolver, connName, name, bucket, prefix string) (*JSONLinesWriter[I], error) {
	if resolver == nil {
		return nil, exception.NewBatchErrorf(module, "JSONLinesWriter '%s': no storage resolver", name)
	}
	if prefix == "" {
		return nil, exception.NewBatchErrorf(module, "JSONLinesWriter '%s': prefix is required", name)
	}
	return &JSONLinesWriter[I]{resolver: resolver, connName: connName, name: name, bucket: bucket, prefix: prefix}, nil
}

func (w *JSONLinesWriter[I]) partsKey() string   { return w.name + ".parts" }
func (w *JSONLinesWriter[I]) writtenKey() string { return w.name + ".written" }

// PartName returns the object name of part n.
func (w *JSONLinesWriter[I]) PartName(n int) string {
	return fmt.Sprintf("%s-%06d.jsonl", w.prefix, n)
}

func (w *JSONLinesWriter[I]) Open(ctx context.Context, ec model.ExecutionContext) error {
	conn, err := w.resolver.ResolveStorageConnection(ctx, w.connName)
	if err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("JSONLinesWriter '%s': failed to resolve storage '%s'", w.name, w.connName), err, false, false)
	}
	w.conn = conn
	w.parts, _ = ec.GetInt(w.partsKey())
	w.written, _ = ec.GetInt(w.writtenKey())
	logger.Debugf("JSONLinesWriter '%s': opened at part %d.", w.name, w.parts)
	return nil
}

// Write uploads items as the next part. The transaction is not joined: the part becomes
// visible once uploaded, and the position only advances when the upload succeeded.
func (w *JSONLinesWriter[I]) Write(ctx context.Context, t tx.Tx, items []I) error {
	if len(items) == 0 {
		return nil
	}
	if w.conn == nil {
		return exception.NewBatchErrorf(module, "JSONLinesWriter '%s': writer not opened", w.name)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		var v interface{} = item
		if vr, ok := v.(Valuer); ok {
			v = vr.Values()
		}
		if err := enc.Encode(v); err != nil {
			return exception.NewBatchError(module, fmt.Sprintf("JSONLinesWriter '%s': failed to encode item %s", w.name, port.ItemID(item)), err, false, false)
		}
	}
	part := w.PartName(w.parts)
	if err := w.conn.Upload(ctx, w.bucket, part, &buf); err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("JSONLinesWriter '%s': failed to upload '%s'", w.name, part), err, false, true)
	}
	w.parts++
	w.written += len(items)
	logger.Debugf("JSONLinesWriter '%s': wrote %d item(s) to '%s'.", w.name, len(items), part)
	return nil
}

func (w *JSONLinesWriter[I]) Close(ctx context.Context) error {
	w.conn = nil
	return nil
}

// GetExecutionContext returns the number of parts and items written.
func (w *JSONLinesWriter[I]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put(w.partsKey(), w.parts)
	ec.Put(w.writtenKey(), w.written)
	return ec, nil
}

var _ port.ItemWriter[any] = (*JSONLinesWriter[any])(nil)
