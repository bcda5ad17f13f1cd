// Package mysql provides the GORM DBProvider for MySQL databases.
package mysql

import (
	"fmt"

	database "github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func init() {
	gormadapter.RegisterDialector("mysql", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(ConnectionString(cfg)), nil
	})
}

// MySQLDBProvider implements database.DBProvider for MySQL connections.
type MySQLDBProvider struct {
	*gormadapter.BaseProvider
}

// ConnectionString builds user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	var auth string
	if c.User != "" {
		auth = c.User
		if c.Password != "" {
			auth = fmt.Sprintf("%s:%s", c.User, c.Password)
		}
		auth += "@"
	}
	return fmt.Sprintf("%stcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		auth, c.Host, c.Port, c.Database)
}

// NewProvider creates the MySQL DBProvider.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &MySQLDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, "mysql")}
}
