// Package postgres provides the GORM DBProvider for PostgreSQL and Redshift.
package postgres

import (
	"fmt"

	database "github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func init() {
	factory := func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return postgres.Open(ConnectionString(cfg)), nil
	}
	gormadapter.RegisterDialector("postgres", factory)
	gormadapter.RegisterDialector("redshift", factory)
}

// PostgresDBProvider implements database.DBProvider for PostgreSQL and Redshift connections.
type PostgresDBProvider struct {
	*gormadapter.BaseProvider
}

// ConnectionString builds the keyword/value DSN expected by pgx.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	sslmode := c.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslmode)
	if c.Schema != "" {
		dsn += " search_path=" + c.Schema
	}
	return dsn
}

// NewProvider creates the PostgreSQL DBProvider. It also serves "redshift" connections.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &PostgresDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, "postgres", "redshift")}
}
