package reader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	storage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ObjectSelector names the objects a JSONLinesReader reads: a single Object, or
// every object under Prefix in lexical order.
type ObjectSelector struct {
	Bucket string
	Object string
	Prefix string
}

// JSONLinesReader reads one JSON document per line from storage objects.
// Its restart position is the object index and the number of lines consumed in it.
// Blank lines are consumed without producing an item.
type JSONLinesReader[T any] struct {
	resolver storage.ConnectionResolver
	connName string
	name     string
	sel      ObjectSelector

	conn    storage.Connection
	objects []string
	index   int
	line    int
	rc      io.ReadCloser
	buf     *bufio.Reader
}

// NewJSONLinesReader creates a reader on the named storage connection. name keys its execution context.
func NewJSONLinesReader[T any](resolver storage.ConnectionResolver, connName, name string, sel ObjectSelector) (*JSONLinesReader[T], error) {
	if resolver == nil {
		return nil, exception.NewBatchErrorf(module, "JSONLinesReader '%s': no storage resolver", name)
	}
	if sel.Object == "" && sel.Prefix == "" {
		return nil, exception.NewBatchErrorf(module, "JSONLinesReader '%s': object or prefix is required", name)
	}
	return &JSONLinesReader[T]{resolver: resolver, connName: connName, name: name, sel: sel}, nil
}

func (r *JSONLinesReader[T]) objectKey() string { return r.name + ".object" }
func (r *JSONLinesReader[T]) lineKey() string   { return r.name + ".line" }

// Open lists the objects and skips to the position stored in ec.
func (r *JSONLinesReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	conn, err := r.resolver.ResolveStorageConnection(ctx, r.connName)
	if err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("JSONLinesReader '%s': failed to resolve storage '%s'", r.name, r.connName), err, false, false)
	}
	r.conn = conn

	r.objects = nil
	if r.sel.Object != "" {
		r.objects = []string{r.sel.Object}
	} else if err := conn.ListObjects(ctx, r.sel.Bucket, r.sel.Prefix, func(name string) error {
		r.objects = append(r.objects, name)
		return nil
	}); err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("JSONLinesReader '%s': failed to list objects", r.name), err, false, true)
	}
	sort.Strings(r.objects)

	r.index, r.line = 0, 0
	if v, ok := ec.GetInt(r.objectKey()); ok {
		r.index = v
	}
	skip, _ := ec.GetInt(r.lineKey())
	if r.index < len(r.objects) {
		if err := r.openObject(ctx); err != nil {
			return err
		}
		for r.line < skip {
			if _, err := r.nextLine(); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return exception.NewBatchError(module, fmt.Sprintf("JSONLinesReader '%s': failed to skip to line %d", r.name, skip), err, false, false)
			}
		}
	}
	logger.Infof("JSONLinesReader '%s': opened %d object(s) at object %d, line %d.", r.name, len(r.objects), r.index, r.line)
	return nil
}

func (r *JSONLinesReader[T]) openObject(ctx context.Context) error {
	rc, err := r.conn.Download(ctx, r.sel.Bucket, r.objects[r.index])
	if err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("JSONLinesReader '%s': failed to open '%s'", r.name, r.objects[r.index]), err, false, true)
	}
	r.rc, r.buf = rc, bufio.NewReader(rc)
	return nil
}

func (r *JSONLinesReader[T]) closeObject() error {
	if r.rc == nil {
		return nil
	}
	err := r.rc.Close()
	r.rc, r.buf = nil, nil
	return err
}

// nextLine returns the next line without its terminator and counts it.
func (r *JSONLinesReader[T]) nextLine() ([]byte, error) {
	line, err := r.buf.ReadBytes('\n')
	if len(line) == 0 && err != nil {
		return nil, err
	}
	r.line++
	return bytes.TrimRight(line, "\r\n"), nil
}

// Read decodes the next non-blank line. A line that is not valid JSON is consumed
// and reported as an error so that it can be skipped.
func (r *JSONLinesReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if r.conn == nil {
		return zero, exception.NewBatchError(module, fmt.Sprintf("JSONLinesReader '%s': reader not opened", r.name), errors.New("reader not initialized"), false, false)
	}
	for r.index < len(r.objects) {
		if r.buf == nil {
			if err := r.openObject(ctx); err != nil {
				return zero, err
			}
		}
		line, err := r.nextLine()
		if errors.Is(err, io.EOF) {
			if err := r.closeObject(); err != nil {
				logger.Warnf("JSONLinesReader '%s': failed to close '%s': %v", r.name, r.objects[r.index], err)
			}
			r.index++
			r.line = 0
			continue
		}
		if err != nil {
			return zero, exception.NewBatchError(module, fmt.Sprintf("JSONLinesReader '%s': failed to read '%s'", r.name, r.objects[r.index]), err, false, true)
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var item T
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		if err := dec.Decode(&item); err != nil {
			return zero, fmt.Errorf("JSONLinesReader '%s': %s line %d: %w", r.name, r.objects[r.index], r.line, err)
		}
		return item, nil
	}
	return zero, port.ErrNoMoreItems
}

// Close closes the current object.
func (r *JSONLinesReader[T]) Close(ctx context.Context) error {
	err := r.closeObject()
	r.conn = nil
	return err
}

// GetExecutionContext returns the object index and the lines consumed in it.
func (r *JSONLinesReader[T]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put(r.objectKey(), r.index)
	ec.Put(r.lineKey(), r.line)
	return ec, nil
}

var _ port.ItemReader[map[string]interface{}] = (*JSONLinesReader[map[string]interface{}])(nil)
