package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig      // EmbeddedConfig contains the raw bytes of the configuration file.
	EnvFilePath    string              `name:"envFilePath" optional:"true"` // EnvFilePath is the path to the .env file, if any.
	Expander       EnvironmentExpander `optional:"true"`
}

// loadConfig loads configuration in this order: defaults, .env, YAML (with
// placeholders expanded), CHUNKFLOW_* environment variables.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}
	if expander == nil {
		expander = NewOsEnvironmentExpander()
	}

	cfg := NewConfig()

	expanded, err := expander.Expand(embeddedConfig)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to expand environment placeholders", err, false, false)
	}
	// Decoding into the defaults keeps every value the YAML does not mention.
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to unmarshal config", err, false, false)
	}
	cfg.EmbeddedConfig = embeddedConfig

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false, false)
	}
	return cfg, nil
}

// NewConfigProvider is an Fx provider that loads, validates and provides *Config.
// It also applies the configured log level.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig, params.Expander)
	if err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.Chunkflow.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Chunkflow.System.Logging.Level)

	if err := Validate(cfg); err != nil {
		return nil, exception.NewBatchError(moduleName, "invalid configuration", err, false, false)
	}
	return cfg, nil
}

// LoadConfig loads configuration from raw YAML, a .env file and environment variables.
// It does not validate the result.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig, nil)
}

// LoadConfigFile reads the YAML file at path and loads it like LoadConfig.
func LoadConfigFile(envFilePath, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to read config file %s", path), err, false, false)
	}
	return loadConfig(envFilePath, data, nil)
}

// Validate checks the batch defaults, every step and the checkpoint store.
// All problems are reported together.
func Validate(cfg *Config) error {
	var result *multierror.Error
	c := cfg.Chunkflow

	if c.Batch.CommitInterval < 1 {
		result = multierror.Append(result, fmt.Errorf("batch.commit_interval must be positive, got %d", c.Batch.CommitInterval))
	}
	if err := checkFailurePointMode("batch", c.Batch.FailurePointMode); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Batch.ChunkTimeoutMillis < 0 {
		result = multierror.Append(result, fmt.Errorf("batch.chunk_timeout_ms must not be negative"))
	}
	result = appendRuleErrors(result, "batch.skippable_exception_rules", c.Batch.SkippableExceptionRules)
	result = appendRuleErrors(result, "batch.retryable_exception_rules", c.Batch.RetryableExceptionRules)

	for _, name := range cfg.StepNames() {
		sc := c.Steps[name]
		prefix := "steps." + name
		if sc.Reader.Ref == "" {
			result = multierror.Append(result, fmt.Errorf("%s.reader.ref is required", prefix))
		}
		if sc.Writer.Ref == "" {
			result = multierror.Append(result, fmt.Errorf("%s.writer.ref is required", prefix))
		}
		if sc.CommitInterval < 0 {
			result = multierror.Append(result, fmt.Errorf("%s.commit_interval must be positive, got %d", prefix, sc.CommitInterval))
		}
		if err := checkFailurePointMode(prefix, sc.FailurePointMode); err != nil {
			result = multierror.Append(result, err)
		}
		result = appendRuleErrors(result, prefix+".skippable_exception_rules", sc.SkippableExceptionRules)
		result = appendRuleErrors(result, prefix+".retryable_exception_rules", sc.RetryableExceptionRules)
		if sc.Partition.GridSize < 0 {
			result = multierror.Append(result, fmt.Errorf("%s.partition.grid_size must not be negative", prefix))
		}
	}

	switch c.Checkpoint.Store {
	case CheckpointStoreInMemory:
	case CheckpointStoreSQL:
		if _, ok := c.Database[c.Checkpoint.DatabaseRef]; !ok {
			result = multierror.Append(result, fmt.Errorf("checkpoint.database_ref %q does not name a database", c.Checkpoint.DatabaseRef))
		}
	case CheckpointStoreRedis:
		if c.Checkpoint.RedisURL == "" {
			result = multierror.Append(result, fmt.Errorf("checkpoint.redis_url is required for the redis store"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown checkpoint.store %q", c.Checkpoint.Store))
	}
	return result.ErrorOrNil()
}

func checkFailurePointMode(prefix, mode string) error {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "compatible", "corrected":
		return nil
	default:
		return fmt.Errorf("%s.failure_point_mode %q is not one of compatible, corrected", prefix, mode)
	}
}

// appendRuleErrors checks that every rule has something to match and that names are unique,
// since rule counts are keyed by name.
func appendRuleErrors(result *multierror.Error, prefix string, rules []RuleConfig) *multierror.Error {
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if strings.TrimSpace(r.Matches()) == "" {
			result = multierror.Append(result, fmt.Errorf("%s[%d] needs a name or match", prefix, i))
			continue
		}
		if r.Name != "" && seen[r.Name] {
			result = multierror.Append(result, fmt.Errorf("%s[%d]: duplicate rule name %q", prefix, i, r.Name))
		}
		seen[r.Name] = true
		if r.Match == "" && !exception.IsErrorTypeRegistered(r.Name) {
			logger.Debugf("%s[%d]: %q is not a registered error type; it matches by type name or message.", prefix, i, r.Name)
		}
	}
	return result
}

// loadStructFromEnv recursively loads configuration values into a struct from environment variables.
// It uses the "yaml" tag to determine the environment variable name.
//
// Parameters:
//
//	val: The reflect.Value of the struct to populate.
//	prefix: The prefix for environment variable names (e.g., "CHUNKFLOW_BATCH_").
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		if field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Struct {
			// For map[string]struct{}, process nested environment variables
			// Example: CHUNKFLOW_STEPS_IMPORT_COMMIT_INTERVAL
			if err := loadMapOfStructsFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadMapOfStructsFromEnv loads fields of type map[string]struct{} from environment variables.
// It infers map keys and struct field names from environment variable names.
//
// Example: for `Steps map[string]StepConfig`, CHUNKFLOW_STEPS_IMPORT_COMMIT_INTERVAL=50
// sets CommitInterval of the step "import". Keys containing underscores cannot be addressed.
func loadMapOfStructsFromEnv(mapField reflect.Value, prefix string) error {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}

	elemType := mapField.Type().Elem()
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		keyAndField, envValue, ok := strings.Cut(strings.TrimPrefix(env, prefix), "=")
		if !ok {
			continue
		}
		mapKey, structFieldName, ok := strings.Cut(keyAndField, "_")
		if !ok || structFieldName == "" {
			continue
		}
		mapKey = strings.ToLower(mapKey)

		// Map elements are not addressable; copy into a settable value and store it back.
		structVal := reflect.New(elemType).Elem()
		if existing := mapField.MapIndex(reflect.ValueOf(mapKey)); existing.IsValid() {
			structVal.Set(existing)
		}
		if err := setStructFieldFromEnv(structVal, structFieldName, envValue); err != nil {
			return fmt.Errorf("failed to set %s%s: %w", prefix, keyAndField, err)
		}
		mapField.SetMapIndex(reflect.ValueOf(mapKey), structVal)
	}
	return nil
}

// setStructFieldFromEnv sets the field whose yaml tag equals fieldName, case-insensitively.
// Unknown field names are ignored.
func setStructFieldFromEnv(structVal reflect.Value, fieldName string, value string) error {
	typ := structVal.Type()
	for i := 0; i < typ.NumField(); i++ {
		yamlTag := strings.Split(typ.Field(i).Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		if strings.EqualFold(yamlTag, fieldName) {
			return setField(structVal.Field(i), value)
		}
	}
	return nil
}

// setField sets the value of a reflect.Value field based on its kind.
// It handles strings, integers, floats, bools, string slices (comma separated)
// and pointers to those.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.Ptr:
		v := reflect.New(field.Type().Elem())
		if err := setField(v.Elem(), value); err != nil {
			return err
		}
		field.Set(v)
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		var parts []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		field.Set(reflect.ValueOf(parts))
	}
	return nil
}
