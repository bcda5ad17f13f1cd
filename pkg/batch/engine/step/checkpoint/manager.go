// Package checkpoint commits a chunk as one atomic unit: the sink write, the
// PersistentUserData entry and the new checkpoint position share a transaction.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const module = "checkpoint"

// WriteFunc writes a chunk's buffer inside t. ctx carries t (see tx.FromContext).
type WriteFunc func(ctx context.Context, t tx.Tx) error

// ContextSource returns the reader and writer contexts to store at the new boundary.
// It is called after the write succeeded.
type ContextSource func(ctx context.Context) (reader, writer model.ExecutionContext, err error)

// WriteError marks an error returned by the WriteFunc, as opposed to an
// infrastructure failure of the transaction or the repository.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return e.Err.Error() }
func (e *WriteError) Unwrap() error { return e.Err }

// RecordError is returned when the chunk committed but the
// PersistentUserDataRecorder rejected its identifiers.
type RecordError struct {
	Err error
}

func (e *RecordError) Error() string { return e.Err.Error() }
func (e *RecordError) Unwrap() error { return e.Err }

// Manager commits and aborts chunks of one step.
type Manager struct {
	stepName  string
	repo      repository.CheckpointDataRepository
	txManager tx.TransactionManager
	recorder  port.PersistentUserDataRecorder
	txOptions *sql.TxOptions

	last *model.CheckpointData
}

// NewManager creates a Manager. txManager defaults to a no-op manager; recorder may be nil.
func NewManager(
	stepName string,
	repo repository.CheckpointDataRepository,
	txManager tx.TransactionManager,
	recorder port.PersistentUserDataRecorder,
) *Manager {
	if txManager == nil {
		txManager = tx.NewNoOpTransactionManager()
	}
	return &Manager{
		stepName:  stepName,
		repo:      repo,
		txManager: txManager,
		recorder:  recorder,
	}
}

// WithTxOptions sets the options every chunk transaction begins with.
func (m *Manager) WithTxOptions(opts *sql.TxOptions) *Manager {
	m.txOptions = opts
	return m
}

// Load returns the stored checkpoint of the step, or nil when there is none or
// the step it belongs to completed.
func (m *Manager) Load(ctx context.Context) (*model.CheckpointData, error) {
	m.last = nil
	data, err := m.repo.FindCheckpointData(ctx, m.stepName)
	if errors.Is(err, repository.ErrCheckpointDataNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, exception.NewBatchError(module, "failed to load checkpoint", err, false, false)
	}
	if data.Completed {
		logger.Debugf("Step '%s': last checkpoint belongs to a completed execution; starting from the beginning.", m.stepName)
		return nil, nil
	}
	m.last = data
	return data, nil
}

// Last returns the checkpoint written by the latest successful commit, or the one
// loaded at start. The step rewinds its reader to Last().ReaderContext on retry.
func (m *Manager) Last() *model.CheckpointData {
	return m.last
}

// Commit writes one chunk and advances the checkpoint to se's cursor.
//
// The sink is called with the whole buffer through write; a nil write means the
// buffer is empty and only the boundary is persisted. ids are appended to
// PersistentUserData as one entry when non-empty, and handed to the recorder
// once the transaction has committed. Nothing on se changes unless the
// transaction commits. A failing write is returned as *WriteError, a failing
// recorder as *RecordError.
func (m *Manager) Commit(ctx context.Context, se *model.StepExecution, ids []string, write WriteFunc, contexts ContextSource) (err error) {
	t, err := m.txManager.Begin(ctx, m.txOptionsOrNil()...)
	if err != nil {
		return exception.NewBatchError(module, "failed to begin chunk transaction", err, false, false)
	}
	txCtx := tx.WithTx(ctx, t)
	committed := false
	defer func() {
		if err == nil || committed {
			return
		}
		if rbErr := m.txManager.Rollback(t); rbErr != nil {
			logger.Warnf("Step '%s': rollback after failed commit also failed: %v", m.stepName, rbErr)
		}
	}()

	if write != nil {
		if werr := write(txCtx, t); werr != nil {
			return &WriteError{Err: werr}
		}
	}

	readerCtx, writerCtx := model.NewExecutionContext(), model.NewExecutionContext()
	if contexts != nil {
		if readerCtx, writerCtx, err = contexts(txCtx); err != nil {
			return exception.NewBatchError(module, "failed to capture component state", err, false, false)
		}
	}

	pud := se.PersistentUserData.Copy()
	if len(ids) > 0 {
		pud.Append(ids)
	}

	data := model.NewCheckpointData(se, readerCtx, writerCtx)
	data.PersistentUserData = pud
	if err = m.repo.SaveCheckpointData(txCtx, data); err != nil {
		return exception.NewBatchError(module, "failed to save checkpoint", err, false, false)
	}
	if err = m.txManager.Commit(t); err != nil {
		return exception.NewBatchError(module, "failed to commit chunk transaction", err, false, false)
	}
	committed = true

	se.PersistentUserData = pud
	m.last = data

	// The recorder sees only committed chunks. A failure here leaves the chunk
	// committed but unrecorded; a restart resumes past it.
	if len(ids) > 0 && m.recorder != nil {
		if rerr := m.recorder.Append(ctx, m.stepName, ids); rerr != nil {
			logger.Errorf("Step '%s': chunk committed at position %d but the recorder failed: %v", m.stepName, data.Position, rerr)
			return &RecordError{Err: exception.NewBatchError(module, "failed to record persistent user data", rerr, false, false)}
		}
	}
	return nil
}

// Abort discards an in-flight buffer. Nothing was handed to the sink, so no
// persisted state changes; the buffer is emptied in place.
func Abort[T any](buffer *[]T) {
	if buffer == nil {
		return
	}
	clear(*buffer)
	*buffer = (*buffer)[:0]
}

// Complete marks the stored checkpoint as belonging to a finished step, so the
// next execution starts from the beginning.
func (m *Manager) Complete(ctx context.Context) error {
	if m.last == nil {
		return nil
	}
	data := *m.last
	data.Completed = true
	if err := m.repo.SaveCheckpointData(ctx, &data); err != nil {
		return exception.NewBatchError(module, "failed to mark checkpoint completed", err, false, false)
	}
	m.last = &data
	return nil
}

func (m *Manager) txOptionsOrNil() []*sql.TxOptions {
	if m.txOptions == nil {
		return nil
	}
	return []*sql.TxOptions{m.txOptions}
}
