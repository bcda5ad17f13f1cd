// Package config holds the settings of one named database connection, decoded from chunkflow.database.<name>.
package config

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes" mapstructure:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Type     string     `yaml:"type" mapstructure:"type"`         // "postgres", "mysql" or "sqlite".
	Host     string     `yaml:"host" mapstructure:"host"`
	Port     int        `yaml:"port" mapstructure:"port"`
	Database string     `yaml:"database" mapstructure:"database"` // Database name, or the file path for SQLite.
	User     string     `yaml:"user" mapstructure:"user"`
	Password string     `yaml:"password" mapstructure:"password"`
	Schema   string     `yaml:"schema,omitempty" mapstructure:"schema"` // PostgreSQL search_path.
	Sslmode  string     `yaml:"sslmode" mapstructure:"sslmode"`
	LogLevel string     `yaml:"log_level" mapstructure:"log_level"` // GORM log level; defaults to SILENT.
	Pool     PoolConfig `yaml:"pool" mapstructure:"pool"`
}
