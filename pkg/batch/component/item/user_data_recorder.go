package item

import (
	"context"
	"sync"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
)

// InMemoryUserDataRecorder keeps the identifiers of every committed chunk, per step.
type InMemoryUserDataRecorder struct {
	mu      sync.Mutex
	entries map[string][][]string
}

// NewInMemoryUserDataRecorder creates an empty recorder.
func NewInMemoryUserDataRecorder() *InMemoryUserDataRecorder {
	return &InMemoryUserDataRecorder{entries: make(map[string][][]string)}
}

// Append records one committed chunk.
func (r *InMemoryUserDataRecorder) Append(ctx context.Context, stepName string, itemIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[stepName] = append(r.entries[stepName], append([]string(nil), itemIDs...))
	return nil
}

// Entries returns the recorded chunks of stepName in commit order.
func (r *InMemoryUserDataRecorder) Entries(stepName string) [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.entries[stepName]))
	for i, e := range r.entries[stepName] {
		out[i] = append([]string(nil), e...)
	}
	return out
}

var _ port.PersistentUserDataRecorder = (*InMemoryUserDataRecorder)(nil)
