package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// BreakerSettings represents tunable settings for one breaker
type BreakerSettings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
}

// GetRedisSettings returns Redis breaker settings from environment variables
func GetRedisSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:      getEnvUint32("CB_REDIS_MAX_REQUESTS", 5),
		Interval:         getEnvDuration("CB_REDIS_INTERVAL", 30*time.Second),
		Timeout:          getEnvDuration("CB_REDIS_TIMEOUT", 15*time.Second),
		FailureThreshold: getEnvUint32("CB_REDIS_FAILURE_THRESHOLD", 3),
		SuccessThreshold: getEnvUint32("CB_REDIS_SUCCESS_THRESHOLD", 2),
	}
}

// GetProviderSettings returns settings for external provider HTTP calls
// (search and completion services).
func GetProviderSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:      getEnvUint32("CB_PROVIDER_MAX_REQUESTS", 5),
		Interval:         getEnvDuration("CB_PROVIDER_INTERVAL", 30*time.Second),
		Timeout:          getEnvDuration("CB_PROVIDER_TIMEOUT", 20*time.Second),
		FailureThreshold: getEnvUint32("CB_PROVIDER_FAILURE_THRESHOLD", 3),
		SuccessThreshold: getEnvUint32("CB_PROVIDER_SUCCESS_THRESHOLD", 2),
	}
}

// GetDatabaseSettings returns Postgres breaker settings from environment variables
func GetDatabaseSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:      getEnvUint32("CB_DB_MAX_REQUESTS", 3),
		Interval:         getEnvDuration("CB_DB_INTERVAL", 60*time.Second),
		Timeout:          getEnvDuration("CB_DB_TIMEOUT", 30*time.Second),
		FailureThreshold: getEnvUint32("CB_DB_FAILURE_THRESHOLD", 5),
		SuccessThreshold: getEnvUint32("CB_DB_SUCCESS_THRESHOLD", 2),
	}
}

// ToConfig converts settings to a breaker Config
func (bs BreakerSettings) ToConfig() Config {
	return Config{
		MaxRequests:      bs.MaxRequests,
		Interval:         bs.Interval,
		Timeout:          bs.Timeout,
		FailureThreshold: bs.FailureThreshold,
		SuccessThreshold: bs.SuccessThreshold,
	}
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
