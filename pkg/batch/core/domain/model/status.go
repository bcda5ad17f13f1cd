package model

// BatchStatus represents the state of a step execution.
type BatchStatus string

const (
	BatchStatusStarting  BatchStatus = "STARTING"
	BatchStatusStarted   BatchStatus = "STARTED"
	BatchStatusStopped   BatchStatus = "STOPPED"
	BatchStatusCompleted BatchStatus = "COMPLETED"
	BatchStatusFailed    BatchStatus = "FAILED"
	BatchStatusUnknown   BatchStatus = "UNKNOWN"
)

// String returns the string representation of the BatchStatus.
func (s BatchStatus) String() string {
	return string(s)
}

// IsFinished checks if the BatchStatus represents a terminal state.
func (s BatchStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped:
		return true
	default:
		return false
	}
}

// ToExitStatus converts the BatchStatus to its corresponding ExitStatus.
func (s BatchStatus) ToExitStatus() ExitStatus {
	switch s {
	case BatchStatusCompleted:
		return ExitStatusCompleted
	case BatchStatusFailed:
		return ExitStatusFailed
	case BatchStatusStopped:
		return ExitStatusStopped
	default:
		return ExitStatusUnknown
	}
}

// ExitStatus represents the detailed status upon step completion.
type ExitStatus string

const (
	ExitStatusUnknown   ExitStatus = "UNKNOWN"
	ExitStatusCompleted ExitStatus = "COMPLETED"
	ExitStatusFailed    ExitStatus = "FAILED"
	ExitStatusStopped   ExitStatus = "STOPPED"
)

// String returns the ExitStatus as a string.
func (s ExitStatus) String() string {
	return string(s)
}

// RecoveryMode is the chunking mode of a step.
type RecoveryMode string

const (
	// ModeNormal reads chunks of the configured commit interval.
	ModeNormal RecoveryMode = "NORMAL"
	// ModeRecovering commits one item position per chunk until the failure point is passed.
	ModeRecovering RecoveryMode = "RECOVERING"
)
