package exception

import (
	"errors"
	"fmt"
)

// Phase identifies the stage of the item loop in which a failure occurred.
type Phase string

const (
	PhaseRead    Phase = "read"
	PhaseProcess Phase = "process"
	PhaseWrite   Phase = "write"
	// PhaseChunk marks failures of the chunk as a whole, such as a chunk timeout.
	PhaseChunk Phase = "chunk"
)

// ChunkTimeoutException is the registry name of ErrChunkTimeout.
const ChunkTimeoutException = "ChunkTimeoutException"

// ErrChunkTimeout is the cause recorded when a chunk does not finish within its configured timeout.
var ErrChunkTimeout = errors.New("chunk timeout exceeded")

// ItemFailure is a failure raised by a reader, processor or writer, tagged with
// the phase and the item position it occurred at.
// For write failures Position is the last position consumed by the chunk.
type ItemFailure struct {
	Phase    Phase
	Position int64
	Cause    error
}

// ReadFailure wraps an error returned by the item reader at the given position.
func ReadFailure(position int64, cause error) *ItemFailure {
	return &ItemFailure{Phase: PhaseRead, Position: position, Cause: cause}
}

// ProcessFailure wraps an error returned by the item processor for the item at the given position.
func ProcessFailure(position int64, cause error) *ItemFailure {
	return &ItemFailure{Phase: PhaseProcess, Position: position, Cause: cause}
}

// WriteFailure wraps an error returned by the item writer for a chunk ending at the given position.
func WriteFailure(position int64, cause error) *ItemFailure {
	return &ItemFailure{Phase: PhaseWrite, Position: position, Cause: cause}
}

// ChunkFailure wraps a failure of the whole chunk whose last consumed position is given.
func ChunkFailure(position int64, cause error) *ItemFailure {
	return &ItemFailure{Phase: PhaseChunk, Position: position, Cause: cause}
}

func (f *ItemFailure) Error() string {
	return fmt.Sprintf("%s failure at position %d: %v", f.Phase, f.Position, f.Cause)
}

func (f *ItemFailure) Unwrap() error {
	return f.Cause
}

// FatalError is returned by a step when a failure could not be skipped or retried.
// Reason explains the classification (not classified, limit exceeded, ...) and Rule
// names the exhausted rule, if any.
type FatalError struct {
	Failure *ItemFailure
	Reason  string
	Rule    string
}

func (e *FatalError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("fatal %v (%s: %s)", e.Failure, e.Reason, e.Rule)
	}
	return fmt.Sprintf("fatal %v (%s)", e.Failure, e.Reason)
}

// Unwrap returns the item failure, so errors.Is and errors.As reach the original cause.
func (e *FatalError) Unwrap() error {
	return e.Failure
}

// AsItemFailure returns the first ItemFailure in err's chain.
func AsItemFailure(err error) (*ItemFailure, bool) {
	var f *ItemFailure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
