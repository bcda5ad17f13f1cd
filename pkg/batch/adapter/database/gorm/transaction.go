package gorm

import (
	"context"
	"database/sql"
	"fmt"

	database "github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"

	"gorm.io/gorm"
)

// GormTxAdapter implements tx.Tx on an open GORM transaction.
type GormTxAdapter struct {
	db *gorm.DB
}

// GormDB returns the transaction-bound *gorm.DB.
func (t *GormTxAdapter) GormDB() *gorm.DB {
	return t.db
}

// ExecuteUpdate implements tx.TxExecutor.
func (t *GormTxAdapter) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	return executeUpdate(t.db.WithContext(ctx), model, operation, tableName, query)
}

// ExecuteUpsert implements tx.TxExecutor.
func (t *GormTxAdapter) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return executeUpsert(t.db.WithContext(ctx), model, tableName, conflictColumns, updateColumns)
}

// GormTransactionManager implements tx.TransactionManager for one named connection.
// The connection is resolved on every Begin so a reconnect is picked up by the next chunk.
type GormTransactionManager struct {
	resolve func(ctx context.Context) (*gorm.DB, error)
	dbName  string
}

var _ tx.TransactionManager = (*GormTransactionManager)(nil)

// NewGormTransactionManager creates a manager beginning transactions on the connection named dbName.
func NewGormTransactionManager(resolver database.DBConnectionResolver, dbName string) *GormTransactionManager {
	return &GormTransactionManager{
		dbName: dbName,
		resolve: func(ctx context.Context) (*gorm.DB, error) {
			conn, err := resolver.ResolveDBConnection(ctx, dbName)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve DB connection '%s' for transaction: %w", dbName, err)
			}
			db, ok := DBFrom(conn)
			if !ok {
				return nil, fmt.Errorf("DB connection '%s' is not a GORM connection (%T)", dbName, conn)
			}
			return db, nil
		},
	}
}

// NewConnectionTransactionManager creates a manager bound to an already opened connection.
func NewConnectionTransactionManager(conn *GormDBAdapter) *GormTransactionManager {
	return &GormTransactionManager{
		dbName:  conn.Name(),
		resolve: func(ctx context.Context) (*gorm.DB, error) { return conn.GormDB(), nil },
	}
}

// Begin implements tx.TransactionManager.
func (m *GormTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	db, err := m.resolve(ctx)
	if err != nil {
		return nil, err
	}

	var txOpts *sql.TxOptions
	if len(opts) > 0 {
		txOpts = opts[0]
	}

	gormTx := db.WithContext(ctx).Begin(txOpts)
	if gormTx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction on '%s': %w", m.dbName, gormTx.Error)
	}
	return &GormTxAdapter{db: gormTx}, nil
}

// Commit implements tx.TransactionManager.
func (m *GormTransactionManager) Commit(t tx.Tx) error {
	gormTx, ok := t.(*GormTxAdapter)
	if !ok {
		return fmt.Errorf("invalid transaction type: expected *GormTxAdapter, got %T", t)
	}
	return gormTx.db.Commit().Error
}

// Rollback implements tx.TransactionManager.
func (m *GormTransactionManager) Rollback(t tx.Tx) error {
	gormTx, ok := t.(*GormTxAdapter)
	if !ok {
		return fmt.Errorf("invalid transaction type: expected *GormTxAdapter, got %T", t)
	}
	return gormTx.db.Rollback().Error
}

// TransactionManagerFactory creates transaction managers for named connections.
type TransactionManagerFactory interface {
	NewTransactionManager(dbName string) tx.TransactionManager
}

// GormTransactionManagerFactory is the GORM implementation of TransactionManagerFactory.
type GormTransactionManagerFactory struct {
	dbResolver database.DBConnectionResolver
}

// NewGormTransactionManagerFactory creates an instance of GormTransactionManagerFactory.
func NewGormTransactionManagerFactory(dbResolver database.DBConnectionResolver) TransactionManagerFactory {
	return &GormTransactionManagerFactory{dbResolver: dbResolver}
}

// NewTransactionManager implements TransactionManagerFactory.
func (f *GormTransactionManagerFactory) NewTransactionManager(dbName string) tx.TransactionManager {
	return NewGormTransactionManager(f.dbResolver, dbName)
}
