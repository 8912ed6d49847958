// Package config loads process configuration for every stiltctl command.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/AntonStoeckl/stilt-pipeline-go/artifact"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
)

// Config holds all configuration values of a pipeline process.
type Config struct {
	Env string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`
	DBDriver    string `koanf:"db_driver"`

	// Artifacts
	ArtifactDriver     string `koanf:"artifact_driver"`
	ArtifactBucket     string `koanf:"artifact_bucket"`
	ArtifactPrefix     string `koanf:"artifact_prefix"`
	ArtifactDir        string `koanf:"artifact_dir"`
	ArtifactS3Region   string `koanf:"artifact_s3_region"`
	ArtifactS3Endpoint string `koanf:"artifact_s3_endpoint"`

	// Meteorology archive, read through the artifact driver
	MeteorologyBucket string `koanf:"meteorology_bucket"`
	MeteorologyPrefix string `koanf:"meteorology_prefix"`
	MeteorologyDir    string `koanf:"meteorology_dir"`

	StiltPath string `koanf:"stilt_path"`

	// Queue and workers
	QueueLease          time.Duration `koanf:"queue_lease"`
	MaxAttempts         int           `koanf:"max_attempts"`
	SimulationDeadline  time.Duration `koanf:"simulation_deadline"`
	StaleClaimThreshold time.Duration `koanf:"stale_claim_threshold"`
	PollInterval        time.Duration `koanf:"poll_interval"`
	WorkerConcurrency   int           `koanf:"worker_concurrency"`
	ExitOnEmpty         bool          `koanf:"exit_on_empty"`

	MarginDegrees float64 `koanf:"margin_degrees"`
	MarginHours   int     `koanf:"margin_hours"`

	// Observability
	LogLevel     string `koanf:"log_level"`
	LogFormat    string `koanf:"log_format"`
	MetricsAddr  string `koanf:"metrics_addr"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL     = errors.New("STILT_DATABASE_URL, DATABASE_URL or POSTGRES_HOST is required")
	ErrInvalidDBDriver        = errors.New("STILT_DB_DRIVER must be one of pgx, sql, sqlx")
	ErrInvalidArtifactDriver  = errors.New("ARTIFACT_DRIVER must be one of fs, s3, gcs")
	ErrMissingArtifactBucket  = errors.New("ARTIFACT_BUCKET is required for bucket drivers")
	ErrMissingArtifactDir     = errors.New("ARTIFACT_DIR is required for the fs driver")
	ErrMissingMeteorology     = errors.New("METEOROLOGY_BUCKET is required for bucket drivers")
	ErrInvalidPositive        = errors.New("value must be positive")
	ErrStaleThresholdTooShort = errors.New("STALE_CLAIM_THRESHOLD must be greater than SIMULATION_DEADLINE")
	ErrInvalidValue           = errors.New("invalid value")
	ErrInvalidLogFormat       = errors.New("LOG_FORMAT must be json or text")
)

// Database drivers.
const (
	DBDriverPGX  = "pgx"
	DBDriverSQL  = "sql"
	DBDriverSQLX = "sqlx"
)

// Default values for non-secret configuration.
const (
	DefaultEnv                 = "development"
	DefaultDBDriver            = DBDriverPGX
	DefaultArtifactDriver      = string(artifact.DriverFS)
	DefaultArtifactDir         = "artifacts"
	DefaultStiltPath           = "/opt/stilt"
	DefaultQueueLease          = 30 * time.Minute
	DefaultMaxAttempts         = 3
	DefaultSimulationDeadline  = time.Hour
	DefaultStaleClaimThreshold = 2 * time.Hour
	StaleClaimGrace            = 5 * time.Minute
	DefaultPollInterval        = 5 * time.Second
	DefaultWorkerConcurrency   = 1
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultMetricsAddr         = ":9090"
	DefaultPostgresDB          = "stilt"
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// It returns the loaded config and all errors found (empty if valid).
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	durationOf := func(envKey, koanfKey string, defaultVal time.Duration) time.Duration {
		d, err := getEnvDurationOrDefault(envKey, k, koanfKey, defaultVal)
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
		return d
	}

	intOf := func(envKey, koanfKey string, defaultVal int) int {
		i, err := getEnvIntOrDefault(envKey, k.Int(koanfKey), defaultVal)
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
		return i
	}

	marginDegrees, err := getEnvFloatOrDefault("MARGIN_DEGREES", k, "margin_degrees", core.DefaultMargin.Degrees)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	exitOnEmpty, err := getEnvBoolOrDefault("EXIT_ON_EMPTY", k, "exit_on_empty", false)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	artifactDir := getEnvOrDefault("ARTIFACT_DIR", k.String("artifact_dir"), DefaultArtifactDir)

	cfg := &Config{
		Env:         getEnvOrDefault("STILT_ENV", k.String("env"), DefaultEnv),
		DatabaseURL: databaseURL(k),
		DBDriver:    strings.ToLower(getEnvOrDefault("STILT_DB_DRIVER", k.String("db_driver"), DefaultDBDriver)),

		ArtifactDriver:     strings.ToLower(getEnvOrDefault("ARTIFACT_DRIVER", k.String("artifact_driver"), DefaultArtifactDriver)),
		ArtifactBucket:     getEnvOrKoanf("ARTIFACT_BUCKET", k, "artifact_bucket"),
		ArtifactPrefix:     getEnvOrKoanf("ARTIFACT_PREFIX", k, "artifact_prefix"),
		ArtifactDir:        artifactDir,
		ArtifactS3Region:   getEnvOrKoanf("ARTIFACT_S3_REGION", k, "artifact_s3_region"),
		ArtifactS3Endpoint: getEnvOrKoanf("ARTIFACT_S3_ENDPOINT", k, "artifact_s3_endpoint"),

		MeteorologyBucket: getEnvOrKoanf("METEOROLOGY_BUCKET", k, "meteorology_bucket"),
		MeteorologyPrefix: getEnvOrKoanf("METEOROLOGY_PREFIX", k, "meteorology_prefix"),
		MeteorologyDir:    getEnvOrDefault("METEOROLOGY_DIR", k.String("meteorology_dir"), artifactDir),

		StiltPath: getEnvOrDefault("STILT_PATH", k.String("stilt_path"), DefaultStiltPath),

		QueueLease:          durationOf("QUEUE_LEASE", "queue_lease", DefaultQueueLease),
		MaxAttempts:         intOf("MAX_ATTEMPTS", "max_attempts", DefaultMaxAttempts),
		SimulationDeadline:  durationOf("SIMULATION_DEADLINE", "simulation_deadline", DefaultSimulationDeadline),
		StaleClaimThreshold: durationOf("STALE_CLAIM_THRESHOLD", "stale_claim_threshold", DefaultStaleClaimThreshold),
		PollInterval:        durationOf("POLL_INTERVAL", "poll_interval", DefaultPollInterval),
		WorkerConcurrency:   intOf("WORKER_CONCURRENCY", "worker_concurrency", DefaultWorkerConcurrency),
		ExitOnEmpty:         exitOnEmpty,

		MarginDegrees: marginDegrees,
		MarginHours:   intOf("MARGIN_HOURS", "margin_hours", int(core.DefaultMargin.Hours/time.Hour)),

		LogLevel:     strings.ToLower(getEnvOrDefault("LOG_LEVEL", k.String("log_level"), DefaultLogLevel)),
		LogFormat:    strings.ToLower(getEnvOrDefault("LOG_FORMAT", k.String("log_format"), DefaultLogFormat)),
		MetricsAddr:  getEnvOrDefault("METRICS_ADDR", k.String("metrics_addr"), DefaultMetricsAddr),
		OTLPEndpoint: getEnvOrKoanf("OTEL_EXPORTER_OTLP_ENDPOINT", k, "otlp_endpoint"),
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// Validate checks required values and the relations between them.
// It returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}

	switch c.DBDriver {
	case DBDriverPGX, DBDriverSQL, DBDriverSQLX:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidDBDriver, c.DBDriver))
	}

	switch artifact.Driver(c.ArtifactDriver) {
	case artifact.DriverFS:
		if c.ArtifactDir == "" {
			errs = append(errs, ErrMissingArtifactDir)
		}
	case artifact.DriverS3, artifact.DriverGCS:
		if c.ArtifactBucket == "" {
			errs = append(errs, ErrMissingArtifactBucket)
		}
		if c.MeteorologyBucket == "" {
			errs = append(errs, ErrMissingMeteorology)
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidArtifactDriver, c.ArtifactDriver))
	}

	positive := map[string]bool{
		"QUEUE_LEASE":           c.QueueLease > 0,
		"MAX_ATTEMPTS":          c.MaxAttempts > 0,
		"SIMULATION_DEADLINE":   c.SimulationDeadline > 0,
		"STALE_CLAIM_THRESHOLD": c.StaleClaimThreshold > 0,
		"POLL_INTERVAL":         c.PollInterval > 0,
		"WORKER_CONCURRENCY":    c.WorkerConcurrency > 0,
	}
	for _, name := range []string{
		"QUEUE_LEASE", "MAX_ATTEMPTS", "SIMULATION_DEADLINE",
		"STALE_CLAIM_THRESHOLD", "POLL_INTERVAL", "WORKER_CONCURRENCY",
	} {
		if !positive[name] {
			errs = append(errs, fmt.Errorf("%s: %w", name, ErrInvalidPositive))
		}
	}

	if c.StaleClaimThreshold <= c.SimulationDeadline {
		errs = append(errs, ErrStaleThresholdTooShort)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, ErrInvalidLogFormat)
	}

	return errs
}

// ArtifactConfig returns the settings of the store holding pipeline outputs.
func (c *Config) ArtifactConfig() artifact.Config {
	return artifact.Config{
		Driver:     artifact.Driver(c.ArtifactDriver),
		Dir:        c.ArtifactDir,
		Bucket:     c.ArtifactBucket,
		Prefix:     c.ArtifactPrefix,
		S3Region:   c.ArtifactS3Region,
		S3Endpoint: c.ArtifactS3Endpoint,
	}
}

// MeteorologyArchiveConfig returns the settings of the store holding the source meteorology files.
func (c *Config) MeteorologyArchiveConfig() artifact.Config {
	return artifact.Config{
		Driver:     artifact.Driver(c.ArtifactDriver),
		Dir:        c.MeteorologyDir,
		Bucket:     c.MeteorologyBucket,
		Prefix:     c.MeteorologyPrefix,
		S3Region:   c.ArtifactS3Region,
		S3Endpoint: c.ArtifactS3Endpoint,
	}
}

// MaxSimulationDeadline caps per-config timeouts so a running simulation finishes or is
// canceled before the sweeper considers its claim stale. The cap is STALE_CLAIM_THRESHOLD
// minus a grace period for the release write, and never drops below SIMULATION_DEADLINE.
func (c *Config) MaxSimulationDeadline() time.Duration {
	grace := min(StaleClaimGrace, c.StaleClaimThreshold-c.SimulationDeadline)

	return c.StaleClaimThreshold - grace
}

// Margin returns the envelope expansion.
func (c *Config) Margin() core.Margin {
	return core.Margin{Degrees: c.MarginDegrees, Hours: time.Duration(c.MarginHours) * time.Hour}
}

// LogSummary returns a summary of the configuration suitable for logging.
// The database password is masked.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"env":                   c.Env,
		"database_url":          maskDatabaseURL(c.DatabaseURL),
		"db_driver":             c.DBDriver,
		"artifact_driver":       c.ArtifactDriver,
		"artifact_bucket":       c.ArtifactBucket,
		"artifact_prefix":       c.ArtifactPrefix,
		"artifact_dir":          c.ArtifactDir,
		"meteorology_bucket":    c.MeteorologyBucket,
		"meteorology_prefix":    c.MeteorologyPrefix,
		"stilt_path":            c.StiltPath,
		"queue_lease":           c.QueueLease.String(),
		"max_attempts":          strconv.Itoa(c.MaxAttempts),
		"simulation_deadline":   c.SimulationDeadline.String(),
		"stale_claim_threshold": c.StaleClaimThreshold.String(),
		"poll_interval":         c.PollInterval.String(),
		"worker_concurrency":    strconv.Itoa(c.WorkerConcurrency),
		"exit_on_empty":         strconv.FormatBool(c.ExitOnEmpty),
		"log_level":             c.LogLevel,
		"log_format":            c.LogFormat,
		"metrics_addr":          c.MetricsAddr,
		"otlp_endpoint":         c.OTLPEndpoint,
	}
}

// databaseURL prefers a full URL and falls back to the POSTGRES_* variables of the
// container deployment.
func databaseURL(k *koanf.Koanf) string {
	if v := getEnvOrDefaultMulti([]string{"STILT_DATABASE_URL", "DATABASE_URL"}, k.String("database_url"), ""); v != "" {
		return v
	}

	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     host,
		Path:     "/" + getEnvOrDefault("POSTGRES_DB", "", DefaultPostgresDB),
		RawQuery: "sslmode=disable",
	}

	user := getEnvOrDefault("POSTGRES_USER", "", "postgres")
	if password := os.Getenv("POSTGRES_PASSWORD"); password != "" {
		u.User = url.UserPassword(user, password)
	} else {
		u.User = url.User(user)
	}

	return u.String()
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidValue)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault accepts Go durations ("90s", "2h") in both the environment and the file.
func getEnvDurationOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal time.Duration) (time.Duration, error) {
	raw := os.Getenv(envKey)
	if raw == "" && k.Exists(koanfKey) {
		raw = k.String(koanfKey)
	}
	if raw == "" {
		return defaultVal, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", envKey, ErrInvalidValue)
	}

	return d, nil
}

func getEnvFloatOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, ErrInvalidValue)
		}
		return f, nil
	}
	if k.Exists(koanfKey) {
		return k.Float64(koanfKey), nil
	}
	return defaultVal, nil
}

func getEnvBoolOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) (bool, error) {
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		default:
			return false, fmt.Errorf("%s must be a boolean: %w", envKey, ErrInvalidValue)
		}
	}
	if k.Exists(koanfKey) {
		return k.Bool(koanfKey), nil
	}
	return defaultVal, nil
}

// maskDatabaseURL masks the password in a database URL.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	u, err := url.Parse(s)
	if err != nil || u.User == nil {
		return s
	}

	if _, hasPassword := u.User.Password(); !hasPassword {
		return s
	}

	return u.Scheme + "://" + u.User.Username() + ":****@" + u.Host + u.Path
}
