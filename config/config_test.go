package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/stilt-pipeline-go/artifact"
	"github.com/AntonStoeckl/stilt-pipeline-go/config"
)

var envKeys = []string{
	"STILT_ENV", "STILT_DATABASE_URL", "DATABASE_URL", "POSTGRES_USER", "POSTGRES_PASSWORD",
	"POSTGRES_HOST", "POSTGRES_DB", "STILT_DB_DRIVER", "ARTIFACT_DRIVER", "ARTIFACT_BUCKET",
	"ARTIFACT_PREFIX", "ARTIFACT_DIR", "ARTIFACT_S3_REGION", "ARTIFACT_S3_ENDPOINT",
	"METEOROLOGY_BUCKET", "METEOROLOGY_PREFIX", "METEOROLOGY_DIR", "STILT_PATH", "QUEUE_LEASE",
	"MAX_ATTEMPTS", "SIMULATION_DEADLINE", "STALE_CLAIM_THRESHOLD", "POLL_INTERVAL",
	"WORKER_CONCURRENCY", "EXIT_ON_EMPTY", "MARGIN_DEGREES", "MARGIN_HOURS", "LOG_LEVEL",
	"LOG_FORMAT", "METRICS_ADDR", "OTEL_EXPORTER_OTLP_ENDPOINT",
}

func clearEnv(t *testing.T) {
	t.Helper()

	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func Test_Load_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://stilt@localhost/stilt")

	cfg, errs := config.Load("")

	require.Empty(t, errs)
	assert.Equal(t, config.DefaultEnv, cfg.Env)
	assert.Equal(t, config.DBDriverPGX, cfg.DBDriver)
	assert.Equal(t, config.DefaultQueueLease, cfg.QueueLease)
	assert.Equal(t, config.DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, config.DefaultSimulationDeadline, cfg.SimulationDeadline)
	assert.Equal(t, config.DefaultStaleClaimThreshold, cfg.StaleClaimThreshold)
	assert.Equal(t, 0.25, cfg.Margin().Degrees)
	assert.Equal(t, time.Hour, cfg.Margin().Hours)
	assert.False(t, cfg.ExitOnEmpty)
	assert.Equal(t, artifact.DriverFS, cfg.ArtifactConfig().Driver)
	assert.Equal(t, config.DefaultArtifactDir, cfg.MeteorologyArchiveConfig().Dir)
}

func Test_Load_Missing_Database_URL(t *testing.T) {
	clearEnv(t)

	_, errs := config.Load("")

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], config.ErrMissingDatabaseURL)
}

func Test_Load_Builds_Database_URL_From_Postgres_Variables(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTGRES_HOST", "db:5432")
	t.Setenv("POSTGRES_USER", "stilt")
	t.Setenv("POSTGRES_PASSWORD", "s3cret")

	cfg, errs := config.Load("")

	require.Empty(t, errs)
	assert.Equal(t, "postgres://stilt:s3cret@db:5432/stilt?sslmode=disable", cfg.DatabaseURL)
	assert.Equal(t, "postgres://stilt:****@db:5432/stilt", cfg.LogSummary()["database_url"])
}

func Test_Load_Stilt_Database_URL_Wins(t *testing.T) {
	clearEnv(t)
	t.Setenv("STILT_DATABASE_URL", "postgres://a@one/stilt")
	t.Setenv("DATABASE_URL", "postgres://b@two/stilt")

	cfg, errs := config.Load("")

	require.Empty(t, errs)
	assert.Equal(t, "postgres://a@one/stilt", cfg.DatabaseURL)
}

func Test_Load_Environment_Overrides_File(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "stilt.yaml")
	content := `
database_url: postgres://file@localhost/stilt
db_driver: sqlx
max_attempts: 5
simulation_deadline: 30m
stale_claim_threshold: 45m
worker_concurrency: 4
exit_on_empty: true
margin_degrees: 0.5
log_format: text
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("WORKER_CONCURRENCY", "8")

	cfg, errs := config.Load(path)

	require.Empty(t, errs)
	assert.Equal(t, "postgres://file@localhost/stilt", cfg.DatabaseURL)
	assert.Equal(t, config.DBDriverSQLX, cfg.DBDriver)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.SimulationDeadline)
	assert.Equal(t, 45*time.Minute, cfg.StaleClaimThreshold)
	assert.Equal(t, 8, cfg.WorkerConcurrency)
	assert.True(t, cfg.ExitOnEmpty)
	assert.Equal(t, 0.5, cfg.MarginDegrees)
	assert.Equal(t, "text", cfg.LogFormat)
}

func Test_Load_Missing_File(t *testing.T) {
	clearEnv(t)

	cfg, errs := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))

	assert.Nil(t, cfg)
	assert.Len(t, errs, 1)
}

func Test_Load_Collects_All_Errors(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://stilt@localhost/stilt")
	t.Setenv("STILT_DB_DRIVER", "mysql")
	t.Setenv("ARTIFACT_DRIVER", "s3")
	t.Setenv("MAX_ATTEMPTS", "three")
	t.Setenv("QUEUE_LEASE", "soon")

	_, errs := config.Load("")

	assert.Len(t, errs, 7)
	for _, target := range []error{
		config.ErrInvalidValue,
		config.ErrInvalidDBDriver,
		config.ErrMissingArtifactBucket,
		config.ErrMissingMeteorology,
		config.ErrInvalidPositive,
	} {
		assert.True(t, containsError(errs, target), "expected %v among errors", target)
	}
}

func Test_Validate_Stale_Threshold_Must_Exceed_Deadline(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://stilt@localhost/stilt")
	t.Setenv("SIMULATION_DEADLINE", "2h")
	t.Setenv("STALE_CLAIM_THRESHOLD", "2h")

	_, errs := config.Load("")

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], config.ErrStaleThresholdTooShort)
}

func Test_MaxSimulationDeadline_Stays_Below_Stale_Threshold(t *testing.T) {
	cfg := &config.Config{SimulationDeadline: time.Hour, StaleClaimThreshold: 2 * time.Hour}
	assert.Equal(t, 2*time.Hour-config.StaleClaimGrace, cfg.MaxSimulationDeadline())

	cfg = &config.Config{SimulationDeadline: time.Hour, StaleClaimThreshold: time.Hour + time.Minute}
	assert.Equal(t, time.Hour, cfg.MaxSimulationDeadline(), "the global deadline is never cut")
}

func Test_LogSummary_Without_Password(t *testing.T) {
	cfg := &config.Config{DatabaseURL: "postgres://stilt@localhost/stilt"}

	assert.Equal(t, "postgres://stilt@localhost/stilt", cfg.LogSummary()["database_url"])
	assert.Equal(t, "<not set>", (&config.Config{}).LogSummary()["database_url"])
}

func containsError(errs []error, target error) bool {
	for _, err := range errs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
