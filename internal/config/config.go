package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config carries process-level infrastructure settings: connection targets,
// credentials, and feature switches. Values resolve from built-in defaults,
// then an optional CONFIG_FILE yaml, then environment variables; the env name
// for a nested key replaces dots with underscores (postgres.host is
// POSTGRES_HOST).
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Temporal TemporalConfig `mapstructure:"temporal"`
	OPA      OPAConfig      `mapstructure:"opa"`
	Search   SearchConfig   `mapstructure:"search"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"db"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnectionString renders a lib/pq DSN.
func (p PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type OPAConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Mode        string `mapstructure:"mode"` // "off", "dry-run", "enforce"
	PoliciesDir string `mapstructure:"policies_dir"`
	FailClosed  bool   `mapstructure:"fail_closed"`
}

type SearchConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Provider       string `mapstructure:"provider"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxResults     int    `mapstructure:"max_results"`
}

type LLMConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxTokens      int    `mapstructure:"max_tokens"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Load resolves the infrastructure configuration. A missing or malformed
// CONFIG_FILE never fails the process; defaults and env overrides still
// apply.
func Load() *Config {
	v := viper.New()
	setInfraDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		_ = v.ReadInConfig()
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		fallback := viper.New()
		setInfraDefaults(fallback)
		cfg = &Config{}
		_ = fallback.Unmarshal(cfg)
	}
	return cfg
}

// Every key needs a default so env overrides are visible to Unmarshal.
func setInfraDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "compass")
	v.SetDefault("postgres.password", "compass")
	v.SetDefault("postgres.db", "compass")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("temporal.host", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "compass-task-queue")

	v.SetDefault("opa.enabled", false)
	v.SetDefault("opa.mode", "off")
	v.SetDefault("opa.policies_dir", "/app/config/policies")
	v.SetDefault("opa.fail_closed", false)

	v.SetDefault("search.base_url", "http://localhost:8090")
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.provider", "tavily")
	v.SetDefault("search.timeout_seconds", 20)
	v.SetDefault("search.max_results", 10)

	v.SetDefault("llm.base_url", "http://localhost:8000")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout_seconds", 60)
	v.SetDefault("llm.max_tokens", 4096)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "compass")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.LogLevel != "" && !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
		return fmt.Errorf("postgres port out of range: %d", c.Postgres.Port)
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		return fmt.Errorf("redis port out of range: %d", c.Redis.Port)
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics port out of range: %d", c.Metrics.Port)
	}
	if c.OPA.Enabled && c.OPA.Mode != "off" && c.OPA.Mode != "dry-run" && c.OPA.Mode != "enforce" {
		return fmt.Errorf("invalid opa mode %q", c.OPA.Mode)
	}
	if c.Temporal.Host == "" {
		return fmt.Errorf("temporal host is required")
	}
	return nil
}

// MetricsPort returns the admin/metrics port, honoring a METRICS_PORT env
// override first, then the loaded config, then defaultPort.
func MetricsPort(defaultPort int) int {
	if p := os.Getenv("METRICS_PORT"); p != "" {
		var port int
		if _, err := fmt.Sscanf(p, "%d", &port); err == nil && port > 0 {
			return port
		}
	}
	if cfg := Load(); cfg.Metrics.Port > 0 {
		return cfg.Metrics.Port
	}
	return defaultPort
}

func getEnvOrDefault(key, fallback string) string {
	if _, ok := os.LookupEnv(key); ok {
		return os.Getenv(key)
	}
	return fallback
}
