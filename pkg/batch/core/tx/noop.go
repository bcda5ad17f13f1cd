package tx

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNoTransactionalResource is returned by the no-op Tx when a component tries to write through it.
var ErrNoTransactionalResource = errors.New("no transactional resource bound to this transaction")

// NoOpTransactionManager is used when neither the writer nor the checkpoint store is transactional.
// Atomicity then rests on the writer buffering its batch until Write returns.
type NoOpTransactionManager struct{}

// NewNoOpTransactionManager creates a TransactionManager whose transactions do nothing.
func NewNoOpTransactionManager() TransactionManager {
	return &NoOpTransactionManager{}
}

func (m *NoOpTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error) {
	return noOpTx{}, nil
}

func (m *NoOpTransactionManager) Commit(t Tx) error   { return nil }
func (m *NoOpTransactionManager) Rollback(t Tx) error { return nil }

type noOpTx struct{}

func (noOpTx) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	return 0, ErrNoTransactionalResource
}

func (noOpTx) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return 0, ErrNoTransactionalResource
}
