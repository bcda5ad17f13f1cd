// Package database defines the connection abstractions shared by the GORM adapter,
// the SQL checkpoint repository and the SQL item reader and writer.
package database

import (
	"context"
	"database/sql"

	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/config"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// DBExecutor defines the read and write operations available on a connection outside a chunk transaction.
type DBExecutor interface {
	tx.TxExecutor

	// ExecuteQuery executes a SELECT whose conditions are combined with AND.
	ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error

	// ExecuteQueryAdvanced executes a SELECT with optional ordering, offset and limit.
	// Zero limit means no limit.
	ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, offset, limit int) error

	// Count counts the number of records matching the query.
	Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error)
}

// DBConnection represents one named, pooled database connection.
type DBConnection interface {
	DBExecutor

	// Name returns the configuration name of the connection.
	Name() string
	// Type returns the database type, e.g. "postgres".
	Type() string
	// Close releases the underlying pool.
	Close() error

	// IsTableNotExistError checks if the given error indicates that a table does not exist.
	IsTableNotExistError(err error) bool
	// RefreshConnection pings the underlying pool.
	RefreshConnection(ctx context.Context) error
	// Config returns the database configuration associated with this connection.
	Config() dbconfig.DatabaseConfig
	// GetSQLDB returns the underlying *sql.DB connection.
	GetSQLDB() (*sql.DB, error)
}

// DBConnectionResolver resolves a named connection, re-establishing it when it is no longer valid.
type DBConnectionResolver interface {
	ResolveDBConnection(ctx context.Context, name string) (DBConnection, error)
}

// DBProvider provides the connections of one database type.
type DBProvider interface {
	// GetConnection retrieves a database connection with the specified name.
	GetConnection(name string) (DBConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the database type handled by this provider.
	Type() string
	// ForceReconnect closes and re-establishes the named connection.
	ForceReconnect(name string) (DBConnection, error)
}

// DBProviderGroup is the Fx value group every DBProvider is registered in.
const DBProviderGroup = "db_providers"
