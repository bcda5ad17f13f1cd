package model

import (
	"time"
)

// CheckpointData is the persisted state at the last committed chunk boundary of a step.
// It is keyed by step name so a new execution of the same step can resume from it.
type CheckpointData struct {
	StepName           string
	StepExecutionID    string
	Position           int64
	ReaderContext      ExecutionContext
	WriterContext      ExecutionContext
	PersistentUserData PersistentUserData
	Counters           Counters
	Completed          bool
	LastUpdated        time.Time
}

// NewCheckpointData snapshots the committed state of a step execution.
// The reader and writer contexts are copied so later mutation by the components does not leak in.
func NewCheckpointData(se *StepExecution, readerContext, writerContext ExecutionContext) *CheckpointData {
	return &CheckpointData{
		StepName:           se.StepName,
		StepExecutionID:    se.ID,
		Position:           se.Cursor.Position,
		ReaderContext:      readerContext.Copy(),
		WriterContext:      writerContext.Copy(),
		PersistentUserData: se.PersistentUserData.Copy(),
		Counters:           se.Counters.Copy(),
		LastUpdated:        time.Now(),
	}
}

// Clone returns a deep copy of d.
func (d *CheckpointData) Clone() *CheckpointData {
	c := *d
	c.ReaderContext = d.ReaderContext.Copy()
	c.WriterContext = d.WriterContext.Copy()
	c.PersistentUserData = d.PersistentUserData.Copy()
	c.Counters = d.Counters.Copy()
	return &c
}
