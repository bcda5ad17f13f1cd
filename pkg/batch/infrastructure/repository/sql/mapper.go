package sql

import (
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

func fromDomainStepExecution(se *model.StepExecution) *StepExecutionEntity {
	if se == nil {
		return nil
	}
	return &StepExecutionEntity{
		ID:                 se.ID,
		StepName:           se.StepName,
		StartTime:          se.StartTime,
		EndTime:            se.EndTime,
		Status:             string(se.Status),
		ExitStatus:         string(se.ExitStatus),
		Failures:           se.Failures,
		CursorPosition:     se.Cursor.Position,
		CursorMode:         string(se.Cursor.Mode),
		FailurePoint:       se.Cursor.FailurePoint,
		Counters:           se.Counters,
		PersistentUserData: se.PersistentUserData,
		ExecutionContext:   se.ExecutionContext,
		RestartCount:       se.RestartCount,
		LastUpdated:        se.LastUpdated,
		Version:            se.Version,
	}
}

func toDomainStepExecution(entity *StepExecutionEntity) *model.StepExecution {
	if entity == nil {
		return nil
	}
	se := &model.StepExecution{
		ID:         entity.ID,
		StepName:   entity.StepName,
		StartTime:  entity.StartTime,
		EndTime:    entity.EndTime,
		Status:     model.BatchStatus(entity.Status),
		ExitStatus: model.ExitStatus(entity.ExitStatus),
		Failures:   entity.Failures,
		Cursor: model.ExecutionCursor{
			Position:     entity.CursorPosition,
			Mode:         model.RecoveryMode(entity.CursorMode),
			FailurePoint: entity.FailurePoint,
		},
		Counters:           entity.Counters,
		PersistentUserData: entity.PersistentUserData,
		ExecutionContext:   entity.ExecutionContext,
		RestartCount:       entity.RestartCount,
		LastUpdated:        entity.LastUpdated,
		Version:            entity.Version,
	}
	if se.Counters.RuleCounts == nil {
		se.Counters.RuleCounts = make(map[string]int)
	}
	if se.ExecutionContext == nil {
		se.ExecutionContext = model.NewExecutionContext()
	}
	return se
}

func fromDomainCheckpointData(cd *model.CheckpointData) *CheckpointDataEntity {
	if cd == nil {
		return nil
	}
	return &CheckpointDataEntity{
		StepName:           cd.StepName,
		StepExecutionID:    cd.StepExecutionID,
		Position:           cd.Position,
		ReaderContext:      cd.ReaderContext,
		WriterContext:      cd.WriterContext,
		PersistentUserData: cd.PersistentUserData,
		Counters:           cd.Counters,
		Completed:          cd.Completed,
		LastUpdated:        cd.LastUpdated,
	}
}

func toDomainCheckpointData(entity *CheckpointDataEntity) *model.CheckpointData {
	if entity == nil {
		return nil
	}
	cd := &model.CheckpointData{
		StepName:           entity.StepName,
		StepExecutionID:    entity.StepExecutionID,
		Position:           entity.Position,
		ReaderContext:      entity.ReaderContext,
		WriterContext:      entity.WriterContext,
		PersistentUserData: entity.PersistentUserData,
		Counters:           entity.Counters,
		Completed:          entity.Completed,
		LastUpdated:        entity.LastUpdated,
	}
	if cd.ReaderContext == nil {
		cd.ReaderContext = model.NewExecutionContext()
	}
	if cd.WriterContext == nil {
		cd.WriterContext = model.NewExecutionContext()
	}
	if cd.Counters.RuleCounts == nil {
		cd.Counters.RuleCounts = make(map[string]int)
	}
	return cd
}
