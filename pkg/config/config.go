package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

const (
	// BackendDatastore keeps all indexes in a local LevelDB datastore.
	BackendDatastore = "datastore"
	// BackendDynamo keeps all indexes in DynamoDB tables.
	BackendDynamo = "dynamo"

	DefaultLogLevel      = "info"
	DefaultMetricsBuffer = 1024
	DefaultTablePrefix   = "upload-"
)

// DirectoriesConfig contains file system paths for the upload service
type DirectoriesConfig struct {
	DataDir string `toml:"data_dir" json:"data_dir" mapstructure:"data_dir"`
}

// DynamoConfig contains settings for the DynamoDB backend
type DynamoConfig struct {
	// Endpoint overrides the AWS endpoint, e.g. for dynamodb-local.
	Endpoint    string `toml:"endpoint" json:"endpoint" mapstructure:"endpoint" validate:"omitempty,url" flag:"dynamo-endpoint"`
	Region      string `toml:"region" json:"region" mapstructure:"region"`
	TablePrefix string `toml:"table_prefix" json:"table_prefix" mapstructure:"table_prefix"`
}

// ArchiveConfig contains settings for the S3 delegation archive. When no
// bucket is set delegations are archived in the local datastore.
type ArchiveConfig struct {
	Bucket   string `toml:"bucket" json:"bucket" mapstructure:"bucket"`
	Prefix   string `toml:"prefix" json:"prefix" mapstructure:"prefix"`
	Endpoint string `toml:"endpoint" json:"endpoint" mapstructure:"endpoint" validate:"omitempty,url" flag:"archive-endpoint"`
}

// MetricsConfig contains settings for metrics delivery
type MetricsConfig struct {
	// QueueURL additionally publishes metric events to an SQS queue.
	QueueURL string `toml:"queue_url" json:"queue_url" mapstructure:"queue_url" validate:"omitempty,url" flag:"metrics-queue-url"`
	Buffer   int    `toml:"buffer" json:"buffer" mapstructure:"buffer" validate:"min=1" flag:"metrics-buffer"`
}

// SentryConfig contains error reporting settings
type SentryConfig struct {
	DSN         string `toml:"dsn" json:"dsn" mapstructure:"dsn"`
	Environment string `toml:"environment" json:"environment" mapstructure:"environment"`
}

// Service represents the full configuration for the upload service
type Service struct {
	Backend  string `toml:"backend" json:"backend" mapstructure:"backend" validate:"oneof=datastore dynamo" flag:"backend"`
	LogLevel string `toml:"log_level" json:"log_level" mapstructure:"log_level" flag:"log-level"`

	Directories DirectoriesConfig `toml:"directories" json:"directories" mapstructure:"directories"`
	Dynamo      DynamoConfig      `toml:"dynamo" json:"dynamo" mapstructure:"dynamo"`
	Archive     ArchiveConfig     `toml:"archive" json:"archive" mapstructure:"archive"`
	Metrics     MetricsConfig     `toml:"metrics" json:"metrics" mapstructure:"metrics"`
	Sentry      SentryConfig      `toml:"sentry" json:"sentry" mapstructure:"sentry"`
}

// LoadConfig handles the entire configuration loading process with the
// precedence flags > environment variables > config file > defaults.
// It takes care of:
// 1. Loading defaults specified in code
// 2. Loading config from file if provided via --config
// 3. Setting up the default data directory if none is provided
// 4. Applying CLI flag overrides to config state
// 5. Validating the final configuration
func LoadConfig(cCtx *cli.Context) (*Service, error) {
	cfg, err := load(cCtx.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	fromCLI(cCtx, cfg)

	if cfg.Backend == BackendDatastore {
		if err := setupDefaultDirectories(cfg); err != nil {
			return nil, fmt.Errorf("failed to set up default directories: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate performs validation on the configuration values and returns any errors.
func (cfg *Service) Validate() error {
	var errs error
	if err := validateConfig(cfg); err != nil {
		errs = multierror.Append(errs, err)
	}
	if cfg.Backend == BackendDatastore && cfg.Directories.DataDir == "" {
		errs = multierror.Append(errs, fmt.Errorf("data directory path is required for the %s backend", BackendDatastore))
	}
	if cfg.Archive.Endpoint != "" && cfg.Archive.Bucket == "" {
		errs = multierror.Append(errs, fmt.Errorf("archive bucket must be specified when archive endpoint is provided"))
	}
	return errs
}

// load reads configuration from environment variables and, if path is not
// empty, the config file at path. Values not specified keep their defaults.
func load(path string) (*Service, error) {
	v, err := setupViperWithDefaults()
	if err != nil {
		return nil, err
	}

	if path != "" {
		if stat, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file path does not exist: %s", path)
			}
			return nil, fmt.Errorf("failed to read config file at path %s: %w", path, err)
		} else if stat.IsDir() {
			return nil, fmt.Errorf("config file path points to a directory: %s", path)
		}

		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := new(Service)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// newDefault creates a new configuration with pure default values.
func newDefault() *Service {
	return &Service{
		Backend:  BackendDatastore,
		LogLevel: DefaultLogLevel,
		Dynamo: DynamoConfig{
			TablePrefix: DefaultTablePrefix,
		},
		Metrics: MetricsConfig{
			Buffer: DefaultMetricsBuffer,
		},
	}
}

// fromCLI loads configuration values from CLI flags
func fromCLI(ctx *cli.Context, cfg *Service) {
	if ctx.IsSet("backend") {
		cfg.Backend = ctx.String("backend")
	}
	if ctx.IsSet("log-level") {
		cfg.LogLevel = ctx.String("log-level")
	}
	if ctx.IsSet("data-dir") {
		cfg.Directories.DataDir = ctx.String("data-dir")
	}

	// Dynamo
	if ctx.IsSet("dynamo-endpoint") {
		cfg.Dynamo.Endpoint = ctx.String("dynamo-endpoint")
	}
	if ctx.IsSet("dynamo-region") {
		cfg.Dynamo.Region = ctx.String("dynamo-region")
	}
	if ctx.IsSet("table-prefix") {
		cfg.Dynamo.TablePrefix = ctx.String("table-prefix")
	}

	// Archive
	if ctx.IsSet("archive-bucket") {
		cfg.Archive.Bucket = ctx.String("archive-bucket")
	}
	if ctx.IsSet("archive-prefix") {
		cfg.Archive.Prefix = ctx.String("archive-prefix")
	}
	if ctx.IsSet("archive-endpoint") {
		cfg.Archive.Endpoint = ctx.String("archive-endpoint")
	}

	// Metrics
	if ctx.IsSet("metrics-queue-url") {
		cfg.Metrics.QueueURL = ctx.String("metrics-queue-url")
	}
	if ctx.IsSet("metrics-buffer") {
		cfg.Metrics.Buffer = ctx.Int("metrics-buffer")
	}

	// Sentry
	if ctx.IsSet("sentry-dsn") {
		cfg.Sentry.DSN = ctx.String("sentry-dsn")
	}
	if ctx.IsSet("sentry-environment") {
		cfg.Sentry.Environment = ctx.String("sentry-environment")
	}
}

// setupViperWithDefaults creates a new Viper instance with default values and environment bindings
func setupViperWithDefaults() (*viper.Viper, error) {
	v := viper.New()

	v.SetEnvPrefix("UPLOAD")
	v.AutomaticEnv()

	envMappings := map[string]string{
		"backend":   "BACKEND",
		"log_level": "LOG_LEVEL",

		"directories.data_dir": "DATA_DIR",

		"dynamo.endpoint":     "DYNAMO_ENDPOINT",
		"dynamo.region":       "DYNAMO_REGION",
		"dynamo.table_prefix": "TABLE_PREFIX",

		"archive.bucket":   "ARCHIVE_BUCKET",
		"archive.prefix":   "ARCHIVE_PREFIX",
		"archive.endpoint": "ARCHIVE_ENDPOINT",

		"metrics.queue_url": "METRICS_QUEUE_URL",
		"metrics.buffer":    "METRICS_BUFFER",

		"sentry.dsn":         "SENTRY_DSN",
		"sentry.environment": "SENTRY_ENVIRONMENT",
	}

	for key, envVar := range envMappings {
		if err := v.BindEnv(key, "UPLOAD_"+envVar); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable %s: %w", key, err)
		}
	}

	defaultCfg := newDefault()
	v.SetDefault("backend", defaultCfg.Backend)
	v.SetDefault("log_level", defaultCfg.LogLevel)
	v.SetDefault("dynamo.table_prefix", defaultCfg.Dynamo.TablePrefix)
	v.SetDefault("metrics.buffer", defaultCfg.Metrics.Buffer)

	return v, nil
}

// setupDefaultDirectories configures the default data directory if it is not already set
func setupDefaultDirectories(cfg *Service) error {
	if cfg.Directories.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("getting user home directory: %w", err)
		}

		dataDir := filepath.Join(homeDir, ".storacha", "uploads")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return fmt.Errorf("creating default data directory %s: %w", dataDir, err)
		}
		cfg.Directories.DataDir = dataDir
	}
	return nil
}
