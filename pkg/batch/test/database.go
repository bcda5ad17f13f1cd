package test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	database "github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

// NewSQLiteResolver configures each named connection as a SQLite file in a temporary
// directory and returns a resolver for them. The connections are closed when t ends.
func NewSQLiteResolver(t *testing.T, cfg *config.Config, names ...string) *gormadapter.GormDBConnectionResolver {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		cfg.Chunkflow.Database[name] = map[string]interface{}{
			"type":     "sqlite",
			"database": filepath.Join(dir, name+".db"),
		}
	}
	resolver := gormadapter.NewGormDBConnectionResolver(gormadapter.ResolverParams{
		DBProviders: []database.DBProvider{sqlite.NewProvider(cfg)},
		Cfg:         cfg,
	})
	t.Cleanup(func() { _ = resolver.CloseAll() })
	return resolver
}

// GormDB returns the *gorm.DB of the named connection.
func GormDB(t *testing.T, resolver database.DBConnectionResolver, name string) *gorm.DB {
	t.Helper()
	conn, err := resolver.ResolveDBConnection(context.Background(), name)
	require.NoError(t, err)
	db, ok := gormadapter.DBFrom(conn)
	require.True(t, ok, "connection '%s' is not a GORM connection", name)
	return db
}
