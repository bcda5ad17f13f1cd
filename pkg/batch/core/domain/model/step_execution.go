package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}

// FailureList holds a list of error messages.
type FailureList []string

// Value implements the `driver.Valuer` interface, converting FailureList to a JSON string.
func (fl FailureList) Value() (driver.Value, error) {
	if fl == nil {
		return "[]", nil
	}
	data, err := json.Marshal(fl)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to FailureList.
func (fl *FailureList) Scan(value interface{}) error {
	b, err := scanBytes("FailureList", value)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*fl = make(FailureList, 0)
		return nil
	}
	if err := json.Unmarshal(b, fl); err != nil {
		return fmt.Errorf("failed to unmarshal FailureList JSON: %w", err)
	}
	return nil
}

// PersistentUserData is the append-only log of committed chunks.
// Each entry holds the identifiers of the items written by one commit, in write order.
type PersistentUserData [][]string

// Append adds the identifiers of one committed chunk.
func (p *PersistentUserData) Append(ids []string) {
	entry := make([]string, len(ids))
	copy(entry, ids)
	*p = append(*p, entry)
}

// ItemIDs returns every identifier in the log, in commit order.
func (p PersistentUserData) ItemIDs() []string {
	var all []string
	for _, entry := range p {
		all = append(all, entry...)
	}
	return all
}

// Copy returns a deep copy of the log.
func (p PersistentUserData) Copy() PersistentUserData {
	if p == nil {
		return nil
	}
	out := make(PersistentUserData, len(p))
	for i, entry := range p {
		out[i] = append([]string(nil), entry...)
	}
	return out
}

// Value implements the `driver.Valuer` interface.
func (p PersistentUserData) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface.
func (p *PersistentUserData) Scan(value interface{}) error {
	b, err := scanBytes("PersistentUserData", value)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*p = nil
		return nil
	}
	if err := json.Unmarshal(b, p); err != nil {
		return fmt.Errorf("failed to unmarshal PersistentUserData JSON: %w", err)
	}
	return nil
}

// ExecutionCursor tracks where the step is in its source and how it is chunking.
// Position is the number of read attempts made so far, i.e. the position of the next read.
// FailurePoint is only meaningful while Mode is ModeRecovering.
type ExecutionCursor struct {
	Position     int64
	Mode         RecoveryMode
	FailurePoint int64
}

// Counters holds the step statistics. RuleCounts mirrors the per-rule
// skip and retry counts of the classifier, keyed by rule name.
type Counters struct {
	ReadCount        int
	WriteCount       int
	FilterCount      int
	CommitCount      int
	RollbackCount    int
	ReadSkipCount    int
	ProcessSkipCount int
	WriteSkipCount   int
	RetryCount       int
	RuleCounts       map[string]int
}

// SkipCount returns the total number of skips across all phases.
func (c Counters) SkipCount() int {
	return c.ReadSkipCount + c.ProcessSkipCount + c.WriteSkipCount
}

// Add accumulates o into c, rule counts included.
func (c *Counters) Add(o Counters) {
	c.ReadCount += o.ReadCount
	c.WriteCount += o.WriteCount
	c.FilterCount += o.FilterCount
	c.CommitCount += o.CommitCount
	c.RollbackCount += o.RollbackCount
	c.ReadSkipCount += o.ReadSkipCount
	c.ProcessSkipCount += o.ProcessSkipCount
	c.WriteSkipCount += o.WriteSkipCount
	c.RetryCount += o.RetryCount
	if len(o.RuleCounts) > 0 && c.RuleCounts == nil {
		c.RuleCounts = make(map[string]int, len(o.RuleCounts))
	}
	for k, v := range o.RuleCounts {
		c.RuleCounts[k] += v
	}
}

// Copy returns a copy of c with its own RuleCounts map.
func (c Counters) Copy() Counters {
	out := c
	out.RuleCounts = make(map[string]int, len(c.RuleCounts))
	for k, v := range c.RuleCounts {
		out.RuleCounts[k] = v
	}
	return out
}

// Value implements the `driver.Valuer` interface.
func (c Counters) Value() (driver.Value, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface.
func (c *Counters) Scan(value interface{}) error {
	b, err := scanBytes("Counters", value)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*c = Counters{}
		return nil
	}
	return json.Unmarshal(b, c)
}

// StepExecution is the root record of one execution of a chunk step.
// It is owned by the goroutine driving the step and is passed explicitly to every phase.
type StepExecution struct {
	ID                 string
	StepName           string
	StartTime          time.Time
	EndTime            *time.Time
	Status             BatchStatus
	ExitStatus         ExitStatus
	Failures           FailureList
	Cursor             ExecutionCursor
	Counters           Counters
	PersistentUserData PersistentUserData
	ExecutionContext   ExecutionContext
	RestartCount       int
	LastUpdated        time.Time
	Version            int
}

// NewStepExecution creates a new StepExecution in the STARTING state.
func NewStepExecution(stepName string) *StepExecution {
	now := time.Now()
	return &StepExecution{
		ID:               NewID(),
		StepName:         stepName,
		StartTime:        now,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		Failures:         make(FailureList, 0),
		Cursor:           ExecutionCursor{Mode: ModeNormal},
		Counters:         Counters{RuleCounts: make(map[string]int)},
		ExecutionContext: NewExecutionContext(),
		LastUpdated:      now,
	}
}

// isValidStepTransition checks if the state transition for StepExecution is valid.
func isValidStepTransition(current, next BatchStatus) bool {
	switch current {
	case BatchStatusStarting:
		return next == BatchStatusStarted || next == BatchStatusFailed || next == BatchStatusStopped
	case BatchStatusStarted:
		return next == BatchStatusCompleted || next == BatchStatusFailed || next == BatchStatusStopped
	default:
		return false
	}
}

// TransitionTo safely transitions the state of StepExecution.
func (se *StepExecution) TransitionTo(newStatus BatchStatus) error {
	if !isValidStepTransition(se.Status, newStatus) {
		return fmt.Errorf("StepExecution (ID: %s): Invalid state transition: %s -> %s", se.ID, se.Status, newStatus)
	}
	se.Status = newStatus
	return nil
}

// MarkAsStarted updates the StepExecution status to STARTED.
func (se *StepExecution) MarkAsStarted() {
	if err := se.TransitionTo(BatchStatusStarted); err != nil {
		logger.Warnf("Could not update StepExecution (ID: %s) status to STARTED: %v", se.ID, err)
		se.Status = BatchStatusStarted
	}
	se.LastUpdated = time.Now()
}

// MarkAsCompleted updates the StepExecution status to COMPLETED.
func (se *StepExecution) MarkAsCompleted() {
	se.finish(BatchStatusCompleted)
}

// MarkAsFailed updates the StepExecution status to FAILED and records the cause.
func (se *StepExecution) MarkAsFailed(err error) {
	se.finish(BatchStatusFailed)
	if err != nil {
		se.AddFailureException(err)
	}
}

// MarkAsStopped updates the StepExecution status to STOPPED.
func (se *StepExecution) MarkAsStopped() {
	se.finish(BatchStatusStopped)
}

func (se *StepExecution) finish(status BatchStatus) {
	if err := se.TransitionTo(status); err != nil {
		logger.Warnf("Could not update StepExecution (ID: %s) status to %s: %v", se.ID, status, err)
		se.Status = status
	}
	se.ExitStatus = status.ToExitStatus()
	now := time.Now()
	se.EndTime = &now
	se.LastUpdated = now
}

// AddFailureException adds error information to StepExecution. Duplicate messages are ignored.
func (se *StepExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	errMsg := err.Error()
	if exception.IsBatchError(err) && !exception.IsFatal(err) {
		errMsg = exception.ExtractErrorMessage(err)
	}
	for _, existing := range se.Failures {
		if existing == errMsg {
			return
		}
	}
	se.Failures = append(se.Failures, errMsg)
	se.LastUpdated = time.Now()
}

// IsRecovering reports whether the step is chunking one position at a time.
func (se *StepExecution) IsRecovering() bool {
	return se.Cursor.Mode == ModeRecovering
}

// Clone returns a deep copy of se.
func (se *StepExecution) Clone() *StepExecution {
	c := *se
	if se.EndTime != nil {
		end := *se.EndTime
		c.EndTime = &end
	}
	c.Failures = append(FailureList(nil), se.Failures...)
	c.Counters = se.Counters.Copy()
	c.PersistentUserData = se.PersistentUserData.Copy()
	c.ExecutionContext = se.ExecutionContext.Copy()
	return &c
}
