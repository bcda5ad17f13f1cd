// Package config holds the settings of one named storage connection, decoded from chunkflow.storage.<name>.
package config

// StorageConfig holds configuration for a single storage connection.
type StorageConfig struct {
	Type       string `yaml:"type" mapstructure:"type"`               // "local".
	BucketName string `yaml:"bucket_name" mapstructure:"bucket_name"` // Default bucket when an operation names none.
	BaseDir    string `yaml:"base_dir" mapstructure:"base_dir"`       // Root directory of a local connection.
}
