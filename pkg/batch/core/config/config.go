// Package config provides structures and utilities for managing application configuration.
package config

import (
	"sort"
	"time"
)

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
// This is used when loading configuration from an embedded source (e.g., a compiled binary).
type EmbeddedConfig []byte

// LogLevel defines the logging level for the application.
// It is used to control the verbosity of log output.
type LogLevel string

const (
	LogLevelTrace  LogLevel = "TRACE"
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelFatal  LogLevel = "FATAL"
	LogLevelSilent LogLevel = "SILENT"
)

// Checkpoint store kinds.
const (
	CheckpointStoreInMemory = "inmemory"
	CheckpointStoreSQL      = "sql"
	CheckpointStoreRedis    = "redis"
)

// RuleConfig is one entry of skippable-exception-rules or retryable-exception-rules.
type RuleConfig struct {
	// Name identifies the rule in counters and logs.
	Name string `yaml:"name" mapstructure:"name"`
	// Match is the registered error type name, type name or message fragment the rule applies to.
	// An empty Match uses Name.
	Match string `yaml:"match" mapstructure:"match"`
	// Limit is the number of occurrences the rule accepts. Zero or less is unlimited.
	Limit int `yaml:"limit" mapstructure:"limit"`
}

// Matches returns the predicate expression of the rule.
func (r RuleConfig) Matches() string {
	if r.Match != "" {
		return r.Match
	}
	return r.Name
}

// BackoffConfig configures the wait between a retry rollback and the re-drive.
type BackoffConfig struct {
	InitialIntervalMillis int     `yaml:"initial_interval_ms" mapstructure:"initial_interval_ms"` // Zero disables the backoff.
	MaxIntervalMillis     int     `yaml:"max_interval_ms" mapstructure:"max_interval_ms"`
	Multiplier            float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// BatchConfig holds the chunk settings every step inherits unless it overrides them.
type BatchConfig struct {
	// CommitInterval is the number of successfully read items per chunk.
	CommitInterval int `yaml:"commit_interval"`
	// ChunkTimeoutMillis bounds one chunk. Zero disables the timeout.
	ChunkTimeoutMillis int `yaml:"chunk_timeout_ms"`
	// FailurePointMode is "compatible" (default) or "corrected".
	FailurePointMode string `yaml:"failure_point_mode"`
	// NoRollbackOnWrite discards a chunk on a retryable write failure instead of re-driving it.
	NoRollbackOnWrite bool `yaml:"no_rollback_on_write"`
	// HonorErrorFlags appends rules matching BatchErrors created skippable or retryable.
	HonorErrorFlags bool `yaml:"honor_error_flags"`
	// RetryBackoff is the wait applied before each re-drive.
	RetryBackoff BackoffConfig `yaml:"retry_backoff"`
	// MaxConcurrency bounds the steps and partition workers running at once. Zero or less is unbounded.
	MaxConcurrency int `yaml:"max_concurrency"`
	// SkippableExceptionRules are evaluated in order after the retry rules.
	SkippableExceptionRules []RuleConfig `yaml:"skippable_exception_rules"`
	// RetryableExceptionRules are evaluated in order, first.
	RetryableExceptionRules []RuleConfig `yaml:"retryable_exception_rules"`
}

// ComponentRef names a registered reader, processor or writer builder and its properties.
type ComponentRef struct {
	Ref        string                 `yaml:"ref" mapstructure:"ref"`
	Properties map[string]interface{} `yaml:"properties" mapstructure:"properties"`
}

// PartitionConfig splits a step into workers that run concurrently.
type PartitionConfig struct {
	// GridSize is the number of partitions requested from the partitioner. Values below 2 disable partitioning.
	GridSize int `yaml:"grid_size"`
	// Partitioner names a registered partitioner builder and its properties.
	// The context of each partition is merged into the reader properties of its worker.
	Partitioner ComponentRef `yaml:"partitioner"`
}

// StepConfig configures one chunk step. Zero values inherit from BatchConfig.
type StepConfig struct {
	Reader    ComponentRef `yaml:"reader"`
	Processor ComponentRef `yaml:"processor"`
	Writer    ComponentRef `yaml:"writer"`

	CommitInterval          int            `yaml:"commit_interval"`
	ChunkTimeoutMillis      int            `yaml:"chunk_timeout_ms"`
	FailurePointMode        string         `yaml:"failure_point_mode"`
	NoRollbackOnWrite       *bool          `yaml:"no_rollback_on_write"`
	RetryBackoff            *BackoffConfig `yaml:"retry_backoff"`
	SkippableExceptionRules []RuleConfig   `yaml:"skippable_exception_rules"`
	RetryableExceptionRules []RuleConfig   `yaml:"retryable_exception_rules"`
	// Listeners lists registered listener names, e.g. "logging".
	Listeners []string `yaml:"listeners"`
	// Partition runs the step as concurrent workers when GridSize is at least 2.
	Partition PartitionConfig `yaml:"partition"`
}

// ResolvedStep is a StepConfig with every inherited value filled in.
type ResolvedStep struct {
	Name                    string
	Reader                  ComponentRef
	Processor               ComponentRef
	Writer                  ComponentRef
	CommitInterval          int
	ChunkTimeout            time.Duration
	FailurePointMode        string
	NoRollbackOnWrite       bool
	HonorErrorFlags         bool
	RetryBackoff            BackoffConfig
	SkippableExceptionRules []RuleConfig
	RetryableExceptionRules []RuleConfig
	Listeners               []string
	Partition               PartitionConfig
	MaxConcurrency          int
}

// CheckpointConfig selects where checkpoints are stored.
type CheckpointConfig struct {
	// Store is "inmemory", "sql" or "redis".
	Store string `yaml:"store"`
	// DatabaseRef names the entry of Database used by the "sql" store.
	DatabaseRef string `yaml:"database_ref"`
	// RedisURL is the redis:// URL used by the "redis" store.
	RedisURL string `yaml:"redis_url"`
	// KeyPrefix namespaces checkpoint keys in Redis.
	KeyPrefix string `yaml:"key_prefix"`
	// AutoMigrate creates the checkpoint tables of the "sql" store at start-up.
	AutoMigrate bool `yaml:"auto_migrate"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled registers the Prometheus recorder instead of the no-op one.
	Enabled bool `yaml:"enabled"`
	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace"`
	// Address serves /metrics when set, e.g. ":9090".
	Address string `yaml:"address"`
	// Tracing records OpenTelemetry spans through the global tracer provider.
	Tracing bool `yaml:"tracing"`
	// TracerName is the instrumentation name of the OpenTelemetry tracer.
	TracerName string `yaml:"tracer_name"`
	// AsyncBufferSize, when positive, queues metric events and records them on a background goroutine.
	AsyncBufferSize int `yaml:"async_buffer_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG", "TRACE").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC", "Asia/Tokyo").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// ChunkflowConfig holds all configuration under the "chunkflow" top-level key.
type ChunkflowConfig struct {
	// Batch contains the defaults of every chunk step.
	Batch BatchConfig `yaml:"batch"`
	// Steps holds the named step configurations.
	Steps map[string]StepConfig `yaml:"steps"`
	// Database holds named database connection settings, decoded by the database adapter.
	Database map[string]interface{} `yaml:"database"`
	// Storage holds named file storage settings, decoded by the storage adapter.
	Storage map[string]interface{} `yaml:"storage"`
	// Checkpoint selects the checkpoint store.
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	// System contains system-wide configurations.
	System SystemConfig `yaml:"system"`
	// Metrics contains observability configurations.
	Metrics MetricsConfig `yaml:"metrics"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	// Chunkflow contains the top-level configuration.
	Chunkflow ChunkflowConfig `yaml:"chunkflow"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	return &Config{
		Chunkflow: ChunkflowConfig{
			Batch: BatchConfig{
				CommitInterval:   10,
				FailurePointMode: "compatible",
			},
			Steps:    map[string]StepConfig{},
			Database: map[string]interface{}{},
			Storage:  map[string]interface{}{},
			Checkpoint: CheckpointConfig{
				Store:       CheckpointStoreInMemory,
				DatabaseRef: "metadata",
				KeyPrefix:   "chunkflow:checkpoint:",
			},
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Metrics: MetricsConfig{
				Namespace:  "chunkflow",
				TracerName: "github.com/tigerroll/chunkflow",
			},
		},
	}
}

// Step resolves the named step against the batch defaults.
// It returns false when no step of that name is configured.
func (c *Config) Step(name string) (ResolvedStep, bool) {
	sc, ok := c.Chunkflow.Steps[name]
	if !ok {
		return ResolvedStep{}, false
	}
	b := c.Chunkflow.Batch
	rs := ResolvedStep{
		Name:                    name,
		Reader:                  sc.Reader,
		Processor:               sc.Processor,
		Writer:                  sc.Writer,
		CommitInterval:          b.CommitInterval,
		ChunkTimeout:            time.Duration(b.ChunkTimeoutMillis) * time.Millisecond,
		FailurePointMode:        b.FailurePointMode,
		NoRollbackOnWrite:       b.NoRollbackOnWrite,
		HonorErrorFlags:         b.HonorErrorFlags,
		RetryBackoff:            b.RetryBackoff,
		SkippableExceptionRules: b.SkippableExceptionRules,
		RetryableExceptionRules: b.RetryableExceptionRules,
		Listeners:               sc.Listeners,
		Partition:               sc.Partition,
		MaxConcurrency:          b.MaxConcurrency,
	}
	if sc.CommitInterval != 0 {
		rs.CommitInterval = sc.CommitInterval
	}
	if sc.ChunkTimeoutMillis != 0 {
		rs.ChunkTimeout = time.Duration(sc.ChunkTimeoutMillis) * time.Millisecond
	}
	if sc.FailurePointMode != "" {
		rs.FailurePointMode = sc.FailurePointMode
	}
	if sc.NoRollbackOnWrite != nil {
		rs.NoRollbackOnWrite = *sc.NoRollbackOnWrite
	}
	if sc.RetryBackoff != nil {
		rs.RetryBackoff = *sc.RetryBackoff
	}
	if sc.SkippableExceptionRules != nil {
		rs.SkippableExceptionRules = sc.SkippableExceptionRules
	}
	if sc.RetryableExceptionRules != nil {
		rs.RetryableExceptionRules = sc.RetryableExceptionRules
	}
	return rs, true
}

// StepNames returns the configured step names in sorted order.
func (c *Config) StepNames() []string {
	names := make([]string, 0, len(c.Chunkflow.Steps))
	for name := range c.Chunkflow.Steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
