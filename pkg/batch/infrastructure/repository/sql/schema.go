package sql

import (
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// StepExecutionEntity is the persisted form of model.StepExecution.
type StepExecutionEntity struct {
	ID                 string                   `gorm:"primaryKey;size:36"`
	StepName           string                   `gorm:"size:255;index"`
	StartTime          time.Time                `gorm:"index"`
	EndTime            *time.Time
	Status             string                   `gorm:"size:20"`
	ExitStatus         string                   `gorm:"size:20"`
	Failures           model.FailureList        `gorm:"type:text"`
	CursorPosition     int64
	CursorMode         string                   `gorm:"size:20"`
	FailurePoint       int64
	Counters           model.Counters           `gorm:"type:text"`
	PersistentUserData model.PersistentUserData `gorm:"type:text"`
	ExecutionContext   model.ExecutionContext   `gorm:"type:text"`
	RestartCount       int
	LastUpdated        time.Time
	Version            int
}

func (StepExecutionEntity) TableName() string {
	return "chunkflow_step_execution"
}

// CheckpointDataEntity is the persisted form of model.CheckpointData, one row per step name.
type CheckpointDataEntity struct {
	StepName           string                   `gorm:"primaryKey;size:255"`
	StepExecutionID    string                   `gorm:"size:36"`
	Position           int64
	ReaderContext      model.ExecutionContext   `gorm:"type:text"`
	WriterContext      model.ExecutionContext   `gorm:"type:text"`
	PersistentUserData model.PersistentUserData `gorm:"type:text"`
	Counters           model.Counters           `gorm:"type:text"`
	Completed          bool
	LastUpdated        time.Time
}

func (CheckpointDataEntity) TableName() string {
	return "chunkflow_checkpoint_data"
}

// checkpointUpdateColumns are overwritten when a step saves its checkpoint again.
var checkpointUpdateColumns = []string{
	"step_execution_id", "position", "reader_context", "writer_context",
	"persistent_user_data", "counters", "completed", "last_updated",
}
