package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadConfig tests the configuration loading from environment and files
func TestLoadConfig(t *testing.T) {
	t.Run("Default configuration", func(t *testing.T) {
		cfg := Load()
		assert.NotNil(t, cfg)

		assert.NotEmpty(t, cfg.LogLevel)
		assert.NotEmpty(t, cfg.Environment)
		assert.Equal(t, "compass-task-queue", cfg.Temporal.TaskQueue)
		assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	})

	t.Run("Environment variable override", func(t *testing.T) {
		originalLogLevel := os.Getenv("LOG_LEVEL")
		os.Setenv("LOG_LEVEL", "debug")
		defer os.Setenv("LOG_LEVEL", originalLogLevel)

		cfg := Load()
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("PostgreSQL configuration", func(t *testing.T) {
		os.Setenv("POSTGRES_HOST", "testhost")
		os.Setenv("POSTGRES_PORT", "54321")
		os.Setenv("POSTGRES_USER", "testuser")
		os.Setenv("POSTGRES_PASSWORD", "testpass")
		os.Setenv("POSTGRES_DB", "testdb")
		defer func() {
			os.Unsetenv("POSTGRES_HOST")
			os.Unsetenv("POSTGRES_PORT")
			os.Unsetenv("POSTGRES_USER")
			os.Unsetenv("POSTGRES_PASSWORD")
			os.Unsetenv("POSTGRES_DB")
		}()

		cfg := Load()
		assert.Equal(t, "testhost", cfg.Postgres.Host)
		assert.Equal(t, 54321, cfg.Postgres.Port)
		assert.Equal(t, "testuser", cfg.Postgres.User)
		assert.Equal(t, "testpass", cfg.Postgres.Password)
		assert.Equal(t, "testdb", cfg.Postgres.Database)
	})

	t.Run("Redis configuration", func(t *testing.T) {
		os.Setenv("REDIS_HOST", "redis-test")
		os.Setenv("REDIS_PORT", "6380")
		defer func() {
			os.Unsetenv("REDIS_HOST")
			os.Unsetenv("REDIS_PORT")
		}()

		cfg := Load()
		assert.Equal(t, "redis-test", cfg.Redis.Host)
		assert.Equal(t, 6380, cfg.Redis.Port)
		assert.Equal(t, "redis-test:6380", cfg.Redis.Addr())
	})

	t.Run("Temporal configuration", func(t *testing.T) {
		os.Setenv("TEMPORAL_HOST", "temporal:7234")
		os.Setenv("TEMPORAL_NAMESPACE", "test-namespace")
		defer func() {
			os.Unsetenv("TEMPORAL_HOST")
			os.Unsetenv("TEMPORAL_NAMESPACE")
		}()

		cfg := Load()
		assert.Equal(t, "temporal:7234", cfg.Temporal.Host)
		assert.Equal(t, "test-namespace", cfg.Temporal.Namespace)
	})

	t.Run("OPA configuration", func(t *testing.T) {
		os.Setenv("OPA_ENABLED", "true")
		os.Setenv("OPA_POLICIES_DIR", "/custom/policies")
		defer func() {
			os.Unsetenv("OPA_ENABLED")
			os.Unsetenv("OPA_POLICIES_DIR")
		}()

		cfg := Load()
		assert.True(t, cfg.OPA.Enabled)
		assert.Equal(t, "/custom/policies", cfg.OPA.PoliciesDir)
	})

	t.Run("Search configuration", func(t *testing.T) {
		os.Setenv("SEARCH_BASE_URL", "https://search.internal:8443")
		os.Setenv("SEARCH_PROVIDER", "serpapi")
		os.Setenv("SEARCH_MAX_RESULTS", "25")
		defer func() {
			os.Unsetenv("SEARCH_BASE_URL")
			os.Unsetenv("SEARCH_PROVIDER")
			os.Unsetenv("SEARCH_MAX_RESULTS")
		}()

		cfg := Load()
		assert.Equal(t, "https://search.internal:8443", cfg.Search.BaseURL)
		assert.Equal(t, "serpapi", cfg.Search.Provider)
		assert.Equal(t, 25, cfg.Search.MaxResults)
	})

	t.Run("LLM configuration", func(t *testing.T) {
		os.Setenv("LLM_BASE_URL", "https://llm.internal")
		os.Setenv("LLM_MODEL", "test-model")
		defer func() {
			os.Unsetenv("LLM_BASE_URL")
			os.Unsetenv("LLM_MODEL")
		}()

		cfg := Load()
		assert.Equal(t, "https://llm.internal", cfg.LLM.BaseURL)
		assert.Equal(t, "test-model", cfg.LLM.Model)
	})
}

// TestConfigValidation tests configuration validation
func TestConfigValidation(t *testing.T) {
	t.Run("Loaded configuration is valid", func(t *testing.T) {
		cfg := Load()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Invalid log level", func(t *testing.T) {
		cfg := Load()
		cfg.LogLevel = "verbose"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "log_level")
	})

	t.Run("Postgres port out of range", func(t *testing.T) {
		cfg := Load()
		cfg.Postgres.Port = 0

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "postgres port")
	})

	t.Run("Invalid OPA mode", func(t *testing.T) {
		cfg := Load()
		cfg.OPA.Enabled = true
		cfg.OPA.Mode = "advisory"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "opa mode")
	})

	t.Run("Missing temporal host", func(t *testing.T) {
		cfg := Load()
		cfg.Temporal.Host = ""

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "temporal host")
	})
}

// TestGetConnectionString tests database connection string generation
func TestGetConnectionString(t *testing.T) {
	cfg := &Config{
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "testuser",
			Password: "testpass",
			Database: "testdb",
			SSLMode:  "disable",
		},
	}

	connStr := cfg.Postgres.ConnectionString()
	require.NotEmpty(t, connStr)

	assert.Contains(t, connStr, "host=localhost")
	assert.Contains(t, connStr, "port=5432")
	assert.Contains(t, connStr, "user=testuser")
	assert.Contains(t, connStr, "dbname=testdb")
	assert.Contains(t, connStr, "sslmode=disable")
}

// TestFeatureFlags tests feature flag configuration
func TestFeatureFlags(t *testing.T) {
	t.Run("Enable features via environment", func(t *testing.T) {
		os.Setenv("METRICS_ENABLED", "true")
		os.Setenv("TRACING_ENABLED", "true")
		defer func() {
			os.Unsetenv("METRICS_ENABLED")
			os.Unsetenv("TRACING_ENABLED")
		}()

		cfg := Load()
		assert.True(t, cfg.Metrics.Enabled)
		assert.True(t, cfg.Tracing.Enabled)
	})

	t.Run("Disable features", func(t *testing.T) {
		os.Setenv("METRICS_ENABLED", "false")
		os.Setenv("OPA_ENABLED", "false")
		defer func() {
			os.Unsetenv("METRICS_ENABLED")
			os.Unsetenv("OPA_ENABLED")
		}()

		cfg := Load()
		assert.False(t, cfg.Metrics.Enabled)
		assert.False(t, cfg.OPA.Enabled)
	})
}

// TestConfigFile tests loading overrides from a CONFIG_FILE yaml
func TestConfigFile(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	fileConfig := `
log_level: warn
environment: staging
search:
  provider: serpapi
  max_results: 5
`
	_, err = tmpfile.Write([]byte(fileConfig))
	require.NoError(t, err)
	tmpfile.Close()

	os.Setenv("CONFIG_FILE", tmpfile.Name())
	defer os.Unsetenv("CONFIG_FILE")

	cfg := Load()
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "serpapi", cfg.Search.Provider)
	assert.Equal(t, 5, cfg.Search.MaxResults)

	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:7233", cfg.Temporal.Host)
}

// TestGetEnvOrDefault tests environment variable reading with defaults
func TestGetEnvOrDefault(t *testing.T) {
	t.Run("Environment variable exists", func(t *testing.T) {
		os.Setenv("TEST_VAR", "test_value")
		defer os.Unsetenv("TEST_VAR")

		value := getEnvOrDefault("TEST_VAR", "default")
		assert.Equal(t, "test_value", value)
	})

	t.Run("Environment variable missing - use default", func(t *testing.T) {
		value := getEnvOrDefault("NONEXISTENT_VAR", "default_value")
		assert.Equal(t, "default_value", value)
	})

	t.Run("Environment variable empty", func(t *testing.T) {
		os.Setenv("EMPTY_VAR", "")
		defer os.Unsetenv("EMPTY_VAR")

		value := getEnvOrDefault("EMPTY_VAR", "default")
		// Empty string is set, so the default must not apply.
		assert.Equal(t, "", value)
	})
}
