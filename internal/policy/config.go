package policy

import (
	"os"
	"strconv"
	"strings"

	"github.com/fleetcore-ai/compass/internal/config"
)

// Mode is the enforcement posture of the admission engine.
type Mode string

const (
	// ModeOff disables policy evaluation entirely.
	ModeOff Mode = "off"
	// ModeDryRun evaluates policies and logs the outcome without enforcing it.
	ModeDryRun Mode = "dry-run"
	// ModeEnforce evaluates and enforces policies.
	ModeEnforce Mode = "enforce"
)

// TenantOverrides pins specific tenants to a mode regardless of the global
// setting. Used to stage enforcement tenant by tenant.
type TenantOverrides struct {
	// DryRunTenants always get dry-run, even when the global mode enforces.
	DryRunTenants []string

	// EnforceTenants always get enforce, even when the global mode is dry-run.
	EnforceTenants []string
}

// Config holds the admission engine configuration.
type Config struct {
	// Enabled controls whether the engine evaluates at all.
	Enabled bool

	// Mode is the global enforcement posture.
	Mode Mode

	// Path is the directory holding .rego policy files.
	Path string

	// FailClosed denies research admission when policies cannot be loaded
	// or evaluated. The default is fail-open: admission is granted and the
	// service limits apply.
	FailClosed bool

	// Environment is passed to policies as input.environment.
	Environment string

	// Overrides pin tenants to a mode during staged rollout.
	Overrides TenantOverrides

	// KillSwitch forces every evaluation to dry-run. Flip it when a bad
	// policy deploy starts denying legitimate research.
	KillSwitch bool
}

// LoadConfig builds the engine configuration from environment variables.
func LoadConfig() *Config {
	cfg := &Config{
		Enabled:     getEnvBool("COMPASS_POLICY_ENABLED", false),
		Mode:        Mode(getEnvString("COMPASS_POLICY_MODE", "off")),
		Path:        getEnvString("COMPASS_POLICY_PATH", "config/policies"),
		FailClosed:  getEnvBool("COMPASS_POLICY_FAIL_CLOSED", false),
		Environment: getEnvString("ENVIRONMENT", "dev"),
		KillSwitch:  getEnvBool("COMPASS_POLICY_KILL_SWITCH", false),
		Overrides: TenantOverrides{
			DryRunTenants:  getEnvStringSlice("COMPASS_POLICY_DRYRUN_TENANTS"),
			EnforceTenants: getEnvStringSlice("COMPASS_POLICY_ENFORCE_TENANTS"),
		},
	}
	cfg.normalize()
	return cfg
}

// FromConfig builds the engine configuration from the service OPA settings.
// The kill switch and tenant overrides stay environment-driven so they can
// be flipped without a config rollout.
func FromConfig(opa config.OPAConfig, environment string) *Config {
	cfg := LoadConfig()
	cfg.Enabled = opa.Enabled
	cfg.Mode = Mode(opa.Mode)
	if opa.PoliciesDir != "" {
		cfg.Path = opa.PoliciesDir
	}
	cfg.FailClosed = opa.FailClosed
	if environment != "" {
		cfg.Environment = environment
	}
	cfg.normalize()
	return cfg
}

// normalize coerces unknown modes to off and disables the engine when the
// mode is off.
func (c *Config) normalize() {
	switch c.Mode {
	case ModeOff, ModeDryRun, ModeEnforce:
	default:
		c.Mode = ModeOff
	}
	if c.Mode == ModeOff {
		c.Enabled = false
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed
	}
	return defaultValue
}

func getEnvStringSlice(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
