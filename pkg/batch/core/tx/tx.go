// Package tx provides the transaction abstraction a chunk commit runs in.
// The item writer and the checkpoint repository join the same Tx, so a chunk's
// items and its checkpoint become visible together or not at all.
package tx

import (
	"context"
	"database/sql"
)

// TxExecutor defines the write operations executable within a transaction.
type TxExecutor interface {
	// ExecuteUpdate performs an INSERT, UPDATE or DELETE on the specified model.
	//
	// model: A struct pointer or slice holding the data.
	// operation: "CREATE", "UPDATE" or "DELETE".
	// tableName: The target table; empty lets the implementation infer it.
	// query: Column conditions for UPDATE or DELETE, combined with AND.
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)

	// ExecuteUpsert performs an INSERT ... ON CONFLICT on the specified model.
	// If updateColumns is empty, conflicts are treated as DO NOTHING.
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)
}

// Tx represents an ongoing transaction.
type Tx interface {
	TxExecutor
}

// TransactionManager manages the lifecycle of transactions (begin, commit, rollback).
type TransactionManager interface {
	// Begin starts a new transaction.
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	// Commit commits the specified transaction.
	Commit(t Tx) error
	// Rollback rolls back the specified transaction.
	Rollback(t Tx) error
}

type txKey struct{}

// WithTx returns a context carrying t, so repositories can join the chunk transaction.
func WithTx(ctx context.Context, t Tx) context.Context {
	return context.WithValue(ctx, txKey{}, t)
}

// FromContext returns the transaction carried by ctx, if any.
func FromContext(ctx context.Context) (Tx, bool) {
	t, ok := ctx.Value(txKey{}).(Tx)
	return t, ok && t != nil
}
