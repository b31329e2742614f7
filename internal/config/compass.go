package config

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CompassConfig is the service-behavior configuration loaded from
// compass.yaml. Infrastructure endpoints and credentials live in Config;
// this file holds the knobs that tune how the service behaves and may be
// hot-reloaded at runtime.
type CompassConfig struct {
	Service         ServiceConfig         `json:"service" yaml:"service"`
	Auth            AuthConfig            `json:"auth" yaml:"auth"`
	CircuitBreakers CircuitBreakersConfig `json:"circuit_breakers" yaml:"circuit_breakers"`
	Degradation     DegradationConfig     `json:"degradation" yaml:"degradation"`
	Health          HealthConfig          `json:"health" yaml:"health"`
	Streaming       StreamingConfig       `json:"streaming" yaml:"streaming"`
	Conversation    ConversationConfig    `json:"conversation" yaml:"conversation"`
	Research        ResearchConfig        `json:"research" yaml:"research"`
}

// ServiceConfig contains the HTTP listener settings.
type ServiceConfig struct {
	Port            int           `json:"port" yaml:"port"`
	AdminPort       int           `json:"admin_port" yaml:"admin_port"`
	GracefulTimeout time.Duration `json:"graceful_timeout" yaml:"graceful_timeout"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	MaxHeaderBytes  int           `json:"max_header_bytes" yaml:"max_header_bytes"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	Enabled            bool          `json:"enabled" yaml:"enabled"`
	SkipAuth           bool          `json:"skip_auth" yaml:"skip_auth"` // Development mode
	JWTSecret          string        `json:"jwt_secret" yaml:"jwt_secret"`
	AccessTokenExpiry  time.Duration `json:"access_token_expiry" yaml:"access_token_expiry"`
	RefreshTokenExpiry time.Duration `json:"refresh_token_expiry" yaml:"refresh_token_expiry"`
	APIKeyRateLimit    int           `json:"api_key_rate_limit" yaml:"api_key_rate_limit"`
	EnableRegistration bool          `json:"enable_registration" yaml:"enable_registration"`
}

// CircuitBreakersConfig groups the breaker settings per dependency.
type CircuitBreakersConfig struct {
	Redis    CircuitBreakerConfig `json:"redis" yaml:"redis"`
	Database CircuitBreakerConfig `json:"database" yaml:"database"`
	Search   CircuitBreakerConfig `json:"search" yaml:"search"`
	LLM      CircuitBreakerConfig `json:"llm" yaml:"llm"`
}

// CircuitBreakerConfig represents one breaker's settings.
type CircuitBreakerConfig struct {
	MaxRequests uint32        `json:"max_requests" yaml:"max_requests"`
	Interval    time.Duration `json:"interval" yaml:"interval"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	MaxFailures uint32        `json:"max_failures" yaml:"max_failures"`
	Enabled     bool          `json:"enabled" yaml:"enabled"`
}

// DegradationConfig controls how breaker and health state downgrade the
// query mode. Research degrades to verification, then to knowledge-only.
type DegradationConfig struct {
	Enabled                     bool          `json:"enabled" yaml:"enabled"`
	CheckInterval               time.Duration `json:"check_interval" yaml:"check_interval"`
	OpenBreakersForVerification int           `json:"open_breakers_for_verification" yaml:"open_breakers_for_verification"`
	OpenBreakersForKnowledge    int           `json:"open_breakers_for_knowledge" yaml:"open_breakers_for_knowledge"`
}

// HealthConfig contains health check settings.
type HealthConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`

	Checks map[string]HealthCheckConfig `json:"checks" yaml:"checks"`
}

// HealthCheckConfig represents individual health check settings.
type HealthCheckConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Critical bool          `json:"critical" yaml:"critical"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// StreamingConfig contains research-event streaming settings.
type StreamingConfig struct {
	RingCapacity int `json:"ring_capacity" yaml:"ring_capacity"`
}

// ConversationConfig contains conversation store settings. MaxHistory is the
// Redis persistence window and must cover the in-memory recent-message
// window the resolver reads.
type ConversationConfig struct {
	MaxHistory int           `json:"max_history" yaml:"max_history"`
	TTL        time.Duration `json:"ttl" yaml:"ttl"`
	CacheSize  int           `json:"cache_size" yaml:"cache_size"`
}

// ResearchConfig bounds the research loop. MaxIterations caps the loop
// regardless of what the gap analysis asks for.
type ResearchConfig struct {
	MaxIterations         int           `json:"max_iterations" yaml:"max_iterations"`
	MaxResultsPerSearch   int           `json:"max_results_per_search" yaml:"max_results_per_search"`
	MaxConcurrentSearches int           `json:"max_concurrent_searches" yaml:"max_concurrent_searches"`
	SearchTimeout         time.Duration `json:"search_timeout" yaml:"search_timeout"`
	SynthesisTimeout      time.Duration `json:"synthesis_timeout" yaml:"synthesis_timeout"`
}

// DefaultCompassConfig returns the default configuration.
func DefaultCompassConfig() *CompassConfig {
	return &CompassConfig{
		Service: ServiceConfig{
			Port:            8080,
			AdminPort:       9090,
			GracefulTimeout: 30 * time.Second,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			MaxHeaderBytes:  1 << 20,
		},
		Auth: AuthConfig{
			Enabled:            false,
			SkipAuth:           true,
			JWTSecret:          "change-this-to-a-secure-32-char-minimum-secret",
			AccessTokenExpiry:  30 * time.Minute,
			RefreshTokenExpiry: 7 * 24 * time.Hour,
			APIKeyRateLimit:    600,
			EnableRegistration: true,
		},
		CircuitBreakers: CircuitBreakersConfig{
			Redis: CircuitBreakerConfig{
				MaxRequests: 5,
				Interval:    30 * time.Second,
				Timeout:     60 * time.Second,
				MaxFailures: 5,
				Enabled:     true,
			},
			Database: CircuitBreakerConfig{
				MaxRequests: 3,
				Interval:    30 * time.Second,
				Timeout:     60 * time.Second,
				MaxFailures: 3,
				Enabled:     true,
			},
			Search: CircuitBreakerConfig{
				MaxRequests: 5,
				Interval:    30 * time.Second,
				Timeout:     45 * time.Second,
				MaxFailures: 5,
				Enabled:     true,
			},
			LLM: CircuitBreakerConfig{
				MaxRequests: 5,
				Interval:    30 * time.Second,
				Timeout:     60 * time.Second,
				MaxFailures: 5,
				Enabled:     true,
			},
		},
		Degradation: DegradationConfig{
			Enabled:                     true,
			CheckInterval:               30 * time.Second,
			OpenBreakersForVerification: 1,
			OpenBreakersForKnowledge:    2,
		},
		Health: HealthConfig{
			Enabled:       true,
			CheckInterval: 30 * time.Second,
			Timeout:       5 * time.Second,
			Checks: map[string]HealthCheckConfig{
				"redis": {
					Enabled:  true,
					Critical: true,
					Timeout:  5 * time.Second,
					Interval: 30 * time.Second,
				},
				"database": {
					Enabled:  true,
					Critical: true,
					Timeout:  5 * time.Second,
					Interval: 30 * time.Second,
				},
				"temporal": {
					Enabled:  true,
					Critical: true,
					Timeout:  5 * time.Second,
					Interval: 30 * time.Second,
				},
				"search": {
					Enabled:  true,
					Critical: false,
					Timeout:  5 * time.Second,
					Interval: 60 * time.Second,
				},
			},
		},
		Streaming: StreamingConfig{
			RingCapacity: 256,
		},
		Conversation: ConversationConfig{
			MaxHistory: 200,
			TTL:        30 * 24 * time.Hour,
			CacheSize:  1024,
		},
		Research: ResearchConfig{
			MaxIterations:         3,
			MaxResultsPerSearch:   10,
			MaxConcurrentSearches: 3,
			SearchTimeout:         30 * time.Second,
			SynthesisTimeout:      90 * time.Second,
		},
	}
}

// ValidateCompassConfig validates a raw compass.yaml document before it is
// applied. Validation runs on the map so a bad reload never replaces a good
// running config.
func ValidateCompassConfig(config map[string]interface{}) error {
	if service, ok := section(config, "service"); ok {
		if port, ok := getInt(service, "port"); ok && (port < 1 || port > 65535) {
			return fmt.Errorf("service port must be between 1 and 65535, got %d", port)
		}
		if port, ok := getInt(service, "admin_port"); ok && (port < 1 || port > 65535) {
			return fmt.Errorf("admin port must be between 1 and 65535, got %d", port)
		}
	}

	if auth, ok := section(config, "auth"); ok {
		enabled, _ := getBool(auth, "enabled")
		skip, _ := getBool(auth, "skip_auth")
		if enabled && !skip {
			if secret, ok := getString(auth, "jwt_secret"); ok && len(secret) < 32 {
				return fmt.Errorf("jwt_secret must be at least 32 characters when auth is enforced")
			}
		}
	}

	if research, ok := section(config, "research"); ok {
		if iters, ok := getInt(research, "max_iterations"); ok && (iters < 1 || iters > 10) {
			return fmt.Errorf("research max_iterations must be between 1 and 10, got %d", iters)
		}
		if results, ok := getInt(research, "max_results_per_search"); ok && results < 1 {
			return fmt.Errorf("max_results_per_search must be at least 1, got %d", results)
		}
		if conc, ok := getInt(research, "max_concurrent_searches"); ok && conc < 1 {
			return fmt.Errorf("max_concurrent_searches must be at least 1, got %d", conc)
		}
	}

	if conv, ok := section(config, "conversation"); ok {
		// The resolver reads a 20-message in-memory window; persistence must
		// cover it.
		if history, ok := getInt(conv, "max_history"); ok && history < 20 {
			return fmt.Errorf("conversation max_history must be at least 20, got %d", history)
		}
	}

	if deg, ok := section(config, "degradation"); ok {
		verif, hasVerif := getInt(deg, "open_breakers_for_verification")
		knowledge, hasKnowledge := getInt(deg, "open_breakers_for_knowledge")
		if hasVerif && verif < 1 {
			return fmt.Errorf("open_breakers_for_verification must be at least 1, got %d", verif)
		}
		if hasVerif && hasKnowledge && knowledge < verif {
			return fmt.Errorf("open_breakers_for_knowledge (%d) must be >= open_breakers_for_verification (%d)", knowledge, verif)
		}
	}

	return nil
}

// ConfigurationCallback is called after a configuration reload is applied.
type ConfigurationCallback func(oldConfig, newConfig *CompassConfig) error

// CompassConfigManager provides typed access to the compass.yaml document
// managed by a Manager, overlaying partial documents on defaults.
type CompassConfigManager struct {
	manager       *Manager
	currentConfig *CompassConfig
	logger        *zap.Logger
	callbacks     []ConfigurationCallback
}

// NewCompassConfigManager creates a typed configuration manager.
func NewCompassConfigManager(manager *Manager, logger *zap.Logger) *CompassConfigManager {
	return &CompassConfigManager{
		manager:       manager,
		currentConfig: DefaultCompassConfig(),
		logger:        logger,
	}
}

// GetConfig returns a copy of the current configuration.
func (ccm *CompassConfigManager) GetConfig() *CompassConfig {
	config := *ccm.currentConfig
	return &config
}

// Initialize registers validators and reload handlers for compass.yaml and
// applies any document the manager has already loaded.
func (ccm *CompassConfigManager) Initialize() error {
	for _, name := range []string{"compass.yaml", "compass.json"} {
		ccm.manager.RegisterValidator(name, ValidateCompassConfig)
		ccm.manager.RegisterHandler(name, ccm.handleConfigChange)
		if config, exists := ccm.manager.GetConfig(name); exists {
			if err := ccm.applyConfigMap(config); err != nil {
				ccm.logger.Error("Failed to apply existing config",
					zap.String("file", name), zap.Error(err))
			}
		}
	}
	return nil
}

// RegisterCallback registers a callback invoked after each applied reload.
func (ccm *CompassConfigManager) RegisterCallback(callback ConfigurationCallback) {
	ccm.callbacks = append(ccm.callbacks, callback)
}

func (ccm *CompassConfigManager) handleConfigChange(event ChangeEvent) error {
	ccm.logger.Info("Compass configuration changed",
		zap.String("file", event.File),
		zap.String("action", event.Action),
	)

	if event.Action == "delete" {
		old := ccm.currentConfig
		ccm.currentConfig = DefaultCompassConfig()
		ccm.logger.Info("Reverted to default compass configuration")
		ccm.runCallbacks(old, ccm.currentConfig)
		return nil
	}

	return ccm.applyConfigMap(event.Config)
}

// applyConfigMap overlays a partial compass.yaml document on the defaults
// and swaps it in. Keys absent from the document keep their default values.
func (ccm *CompassConfigManager) applyConfigMap(configMap map[string]interface{}) error {
	newConfig := DefaultCompassConfig()

	if service, ok := section(configMap, "service"); ok {
		setInt(service, "port", &newConfig.Service.Port)
		setInt(service, "admin_port", &newConfig.Service.AdminPort)
		setDuration(service, "graceful_timeout", &newConfig.Service.GracefulTimeout)
		setDuration(service, "read_timeout", &newConfig.Service.ReadTimeout)
		setDuration(service, "write_timeout", &newConfig.Service.WriteTimeout)
		setInt(service, "max_header_bytes", &newConfig.Service.MaxHeaderBytes)
	}

	if auth, ok := section(configMap, "auth"); ok {
		setBool(auth, "enabled", &newConfig.Auth.Enabled)
		setBool(auth, "skip_auth", &newConfig.Auth.SkipAuth)
		setString(auth, "jwt_secret", &newConfig.Auth.JWTSecret)
		setDuration(auth, "access_token_expiry", &newConfig.Auth.AccessTokenExpiry)
		setDuration(auth, "refresh_token_expiry", &newConfig.Auth.RefreshTokenExpiry)
		setInt(auth, "api_key_rate_limit", &newConfig.Auth.APIKeyRateLimit)
		setBool(auth, "enable_registration", &newConfig.Auth.EnableRegistration)
	}

	if breakers, ok := section(configMap, "circuit_breakers"); ok {
		applyBreaker(breakers, "redis", &newConfig.CircuitBreakers.Redis)
		applyBreaker(breakers, "database", &newConfig.CircuitBreakers.Database)
		applyBreaker(breakers, "search", &newConfig.CircuitBreakers.Search)
		applyBreaker(breakers, "llm", &newConfig.CircuitBreakers.LLM)
	}

	if deg, ok := section(configMap, "degradation"); ok {
		setBool(deg, "enabled", &newConfig.Degradation.Enabled)
		setDuration(deg, "check_interval", &newConfig.Degradation.CheckInterval)
		setInt(deg, "open_breakers_for_verification", &newConfig.Degradation.OpenBreakersForVerification)
		setInt(deg, "open_breakers_for_knowledge", &newConfig.Degradation.OpenBreakersForKnowledge)
	}

	if health, ok := section(configMap, "health"); ok {
		setBool(health, "enabled", &newConfig.Health.Enabled)
		setDuration(health, "check_interval", &newConfig.Health.CheckInterval)
		setDuration(health, "timeout", &newConfig.Health.Timeout)
		if checks, ok := section(health, "checks"); ok {
			newConfig.Health.Checks = make(map[string]HealthCheckConfig, len(checks))
			for name, raw := range checks {
				checkMap, ok := raw.(map[string]interface{})
				if !ok {
					continue
				}
				var check HealthCheckConfig
				setBool(checkMap, "enabled", &check.Enabled)
				setBool(checkMap, "critical", &check.Critical)
				setDuration(checkMap, "timeout", &check.Timeout)
				setDuration(checkMap, "interval", &check.Interval)
				newConfig.Health.Checks[name] = check
			}
		}
	}

	if streaming, ok := section(configMap, "streaming"); ok {
		if capacity, ok := getInt(streaming, "ring_capacity"); ok && capacity > 0 {
			newConfig.Streaming.RingCapacity = capacity
		}
	}

	if conv, ok := section(configMap, "conversation"); ok {
		setInt(conv, "max_history", &newConfig.Conversation.MaxHistory)
		setDuration(conv, "ttl", &newConfig.Conversation.TTL)
		setInt(conv, "cache_size", &newConfig.Conversation.CacheSize)
	}

	if research, ok := section(configMap, "research"); ok {
		setInt(research, "max_iterations", &newConfig.Research.MaxIterations)
		setInt(research, "max_results_per_search", &newConfig.Research.MaxResultsPerSearch)
		setInt(research, "max_concurrent_searches", &newConfig.Research.MaxConcurrentSearches)
		setDuration(research, "search_timeout", &newConfig.Research.SearchTimeout)
		setDuration(research, "synthesis_timeout", &newConfig.Research.SynthesisTimeout)
	}

	oldConfig := ccm.currentConfig
	ccm.currentConfig = newConfig
	ccm.logger.Info("Compass configuration updated")

	ccm.logSignificantChanges(oldConfig, newConfig)
	ccm.runCallbacks(oldConfig, newConfig)

	return nil
}

func (ccm *CompassConfigManager) logSignificantChanges(oldConfig, newConfig *CompassConfig) {
	if oldConfig.Service.Port != newConfig.Service.Port {
		ccm.logger.Info("Service port changed; takes effect on restart",
			zap.Int("old", oldConfig.Service.Port),
			zap.Int("new", newConfig.Service.Port),
		)
	}
	if oldConfig.Research.MaxIterations != newConfig.Research.MaxIterations {
		ccm.logger.Info("Research iteration cap changed",
			zap.Int("old", oldConfig.Research.MaxIterations),
			zap.Int("new", newConfig.Research.MaxIterations),
		)
	}
	if oldConfig.Degradation.Enabled != newConfig.Degradation.Enabled {
		ccm.logger.Info("Degradation toggled",
			zap.Bool("enabled", newConfig.Degradation.Enabled),
		)
	}
	if oldConfig.Auth.Enabled != newConfig.Auth.Enabled || oldConfig.Auth.SkipAuth != newConfig.Auth.SkipAuth {
		ccm.logger.Info("Auth enforcement changed",
			zap.Bool("enabled", newConfig.Auth.Enabled),
			zap.Bool("skip_auth", newConfig.Auth.SkipAuth),
		)
	}
}

func (ccm *CompassConfigManager) runCallbacks(oldConfig, newConfig *CompassConfig) {
	for i, callback := range ccm.callbacks {
		if err := callback(oldConfig, newConfig); err != nil {
			ccm.logger.Error("Configuration callback failed",
				zap.Int("callback_index", i),
				zap.Error(err),
			)
		}
	}
}

// Typed accessors over the raw document maps. YAML integers arrive as int,
// JSON integers as float64; both are accepted.

func section(m map[string]interface{}, key string) (map[string]interface{}, bool) {
	s, ok := m[key].(map[string]interface{})
	return s, ok
}

func getString(m map[string]interface{}, key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

func getBool(m map[string]interface{}, key string) (bool, bool) {
	b, ok := m[key].(bool)
	return b, ok
}

func getInt(m map[string]interface{}, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func getDuration(m map[string]interface{}, key string) (time.Duration, bool) {
	s, ok := m[key].(string)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return d, true
}

func setString(m map[string]interface{}, key string, dst *string) {
	if v, ok := getString(m, key); ok {
		*dst = v
	}
}

func setBool(m map[string]interface{}, key string, dst *bool) {
	if v, ok := getBool(m, key); ok {
		*dst = v
	}
}

func setInt(m map[string]interface{}, key string, dst *int) {
	if v, ok := getInt(m, key); ok {
		*dst = v
	}
}

func setDuration(m map[string]interface{}, key string, dst *time.Duration) {
	if v, ok := getDuration(m, key); ok {
		*dst = v
	}
}

func applyBreaker(m map[string]interface{}, key string, dst *CircuitBreakerConfig) {
	breaker, ok := section(m, key)
	if !ok {
		return
	}
	if v, ok := getInt(breaker, "max_requests"); ok {
		dst.MaxRequests = uint32(v)
	}
	setDuration(breaker, "interval", &dst.Interval)
	setDuration(breaker, "timeout", &dst.Timeout)
	if v, ok := getInt(breaker, "max_failures"); ok {
		dst.MaxFailures = uint32(v)
	}
	setBool(breaker, "enabled", &dst.Enabled)
}
