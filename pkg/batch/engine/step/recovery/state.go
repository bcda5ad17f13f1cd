// Package recovery tracks the NORMAL / RECOVERING mode of a chunk step.
//
// After a retry rolls a chunk back, the step re-drives the same items one
// position per chunk until it has moved past the failure point, then returns
// to full-size chunks.
package recovery

import (
	"fmt"
	"strings"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// FailurePointMode selects how the failure point of a retried failure is derived.
type FailurePointMode string

const (
	// Compatible records process failures one position past the failing item,
	// and write failures at the reader position after the chunk. One extra item
	// is re-driven alone before normal chunking resumes.
	Compatible FailurePointMode = "compatible"
	// Corrected records every failure at the position of the last item involved.
	// Chunk-level failures (timeouts) follow the write rule in both modes.
	Corrected FailurePointMode = "corrected"
)

// ParseMode parses a failure-point mode name. An empty string selects Compatible.
func ParseMode(s string) (FailurePointMode, error) {
	switch FailurePointMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", Compatible:
		return Compatible, nil
	case Corrected:
		return Corrected, nil
	default:
		return "", fmt.Errorf("unknown failure point mode %q", s)
	}
}

// State drives the recovery fields of an ExecutionCursor.
type State struct {
	cursor *model.ExecutionCursor
	mode   FailurePointMode
}

// New binds a State to cursor; a cursor without a mode starts in NORMAL.
// Checkpoints store boundaries only, so a restarted step always begins in NORMAL.
func New(cursor *model.ExecutionCursor, mode FailurePointMode) *State {
	if mode == "" {
		mode = Compatible
	}
	if cursor.Mode == "" {
		cursor.Mode = model.ModeNormal
	}
	return &State{cursor: cursor, mode: mode}
}

// Mode returns the failure-point mode.
func (s *State) Mode() FailurePointMode {
	return s.mode
}

// Recovering reports whether the cursor is in RECOVERING mode.
func (s *State) Recovering() bool {
	return s.cursor.Mode == model.ModeRecovering
}

// FailurePoint returns the failure point recorded for f.
func (s *State) FailurePoint(f *exception.ItemFailure) int64 {
	if s.mode == Corrected {
		return f.Position
	}
	switch f.Phase {
	case exception.PhaseProcess, exception.PhaseWrite, exception.PhaseChunk:
		return f.Position + 1
	default:
		return f.Position
	}
}

// Enter switches to RECOVERING after the chunk that started at chunkStart was
// rolled back for f. The cursor is rewound to chunkStart.
// A failure raised while already recovering never moves the failure point back.
func (s *State) Enter(f *exception.ItemFailure, chunkStart int64) {
	fp := s.FailurePoint(f)
	if s.Recovering() && s.cursor.FailurePoint > fp {
		fp = s.cursor.FailurePoint
	}
	s.cursor.Mode = model.ModeRecovering
	s.cursor.FailurePoint = fp
	s.cursor.Position = chunkStart
}

// ChunkSize returns the number of positions the next chunk may consume.
func (s *State) ChunkSize(commitInterval int) int {
	if s.Recovering() || commitInterval < 1 {
		return 1
	}
	return commitInterval
}

// Resolve is called after every chunk, committed or discarded. It returns true
// when the chunk ended recovery.
func (s *State) Resolve() bool {
	if !s.Recovering() || s.cursor.Position <= s.cursor.FailurePoint {
		return false
	}
	s.cursor.Mode = model.ModeNormal
	s.cursor.FailurePoint = 0
	return true
}

// Finish ends recovery because the input is exhausted. It returns true when
// the cursor was recovering.
func (s *State) Finish() bool {
	if !s.Recovering() {
		return false
	}
	s.cursor.Mode = model.ModeNormal
	s.cursor.FailurePoint = 0
	return true
}
