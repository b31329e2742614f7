package ratecontrol

import (
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

type config struct {
	RateLimits struct {
		DefaultRPM   int `yaml:"default_rpm"`
		DefaultTPM   int `yaml:"default_tpm"`
		DefaultBurst int `yaml:"default_burst"`

		ProviderOverrides map[string]struct {
			RPM   int `yaml:"rpm"`
			TPM   int `yaml:"tpm"`
			Burst int `yaml:"burst"`
		} `yaml:"provider_overrides"`
	} `yaml:"rate_limits"`
}

// RateLimit is the outbound pacing budget for one provider. RPM feeds the
// token-bucket limiter; TPM adds per-request delay for token-metered calls.
type RateLimit struct {
	RPM   int
	TPM   int
	Burst int
}

var (
	mu          sync.RWMutex
	loaded      *config
	initialized bool
	limiters    = make(map[string]*rate.Limiter)
)

var defaultPaths = []string{
	os.Getenv("RATE_LIMITS_CONFIG_PATH"),
	"/app/config/rate_limits.yaml",
	"./config/rate_limits.yaml",
	"../../config/rate_limits.yaml",
	"../../../config/rate_limits.yaml",
}

func loadLocked() {
	var cfg config
	for _, p := range defaultPaths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var tmp config
		if err := yaml.Unmarshal(data, &tmp); err != nil {
			log.Printf("WARNING: failed to unmarshal rate limit config from %s: %v", p, err)
			continue
		}
		cfg = tmp
		log.Printf("Loaded rate limit configuration from %s", p)
		break
	}
	if cfg.RateLimits.DefaultRPM == 0 && cfg.RateLimits.DefaultTPM == 0 && len(cfg.RateLimits.ProviderOverrides) == 0 {
		if path, ok := findUpConfig(); ok {
			if data, err := os.ReadFile(path); err == nil {
				var tmp config
				if err := yaml.Unmarshal(data, &tmp); err == nil {
					cfg = tmp
					log.Printf("Loaded rate limit configuration from %s", path)
				}
			}
		}
	}
	loaded = &cfg
	initialized = true
}

func findUpConfig() (string, bool) {
	wd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for i := 0; i < 6; i++ {
		cand := filepath.Join(wd, "config", "rate_limits.yaml")
		if _, err := os.Stat(cand); err == nil {
			return cand, true
		}
		wd = filepath.Dir(wd)
	}
	return "", false
}

func get() *config {
	mu.RLock()
	if initialized {
		defer mu.RUnlock()
		return loaded
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		loadLocked()
	}
	return loaded
}

// LimitForProvider resolves the pacing budget for a provider, preferring the
// config file over the built-in table.
func LimitForProvider(provider string) RateLimit {
	cfg := get()
	key := strings.ToLower(strings.TrimSpace(provider))
	if cfg != nil && cfg.RateLimits.ProviderOverrides != nil {
		if override, ok := cfg.RateLimits.ProviderOverrides[key]; ok {
			return RateLimit{RPM: override.RPM, TPM: override.TPM, Burst: override.Burst}
		}
	}
	if limit, ok := builtInProviderLimits[key]; ok {
		return limit
	}
	if cfg != nil && (cfg.RateLimits.DefaultRPM > 0 || cfg.RateLimits.DefaultTPM > 0) {
		return RateLimit{
			RPM:   cfg.RateLimits.DefaultRPM,
			TPM:   cfg.RateLimits.DefaultTPM,
			Burst: cfg.RateLimits.DefaultBurst,
		}
	}
	return builtInProviderLimits["unknown"]
}

var builtInProviderLimits = map[string]RateLimit{
	"tavily":    {RPM: 100, Burst: 10},
	"serpapi":   {RPM: 60, Burst: 5},
	"brave":     {RPM: 50, Burst: 5},
	"bing":      {RPM: 150, Burst: 15},
	"openai":    {RPM: 30, TPM: 60000, Burst: 3},
	"anthropic": {RPM: 20, TPM: 40000, Burst: 2},
	"unknown":   {RPM: 45, Burst: 5},
}

// LimiterForProvider returns a process-wide token-bucket limiter for the
// provider's RPM budget. The same limiter instance is shared by every caller
// so concurrent clients draw from one bucket.
func LimiterForProvider(provider string) *rate.Limiter {
	key := strings.ToLower(strings.TrimSpace(provider))

	mu.RLock()
	if limiter, ok := limiters[key]; ok {
		mu.RUnlock()
		return limiter
	}
	mu.RUnlock()

	limit := LimitForProvider(provider)

	mu.Lock()
	defer mu.Unlock()
	if limiter, ok := limiters[key]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(limitRate(limit), limitBurst(limit))
	limiters[key] = limiter
	return limiter
}

func limitRate(limit RateLimit) rate.Limit {
	if limit.RPM <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Minute / time.Duration(limit.RPM))
}

func limitBurst(limit RateLimit) int {
	if limit.Burst > 0 {
		return limit.Burst
	}
	return 1
}

// CombineLimits takes the tighter of each pacing dimension; a zero value
// means unconstrained on that dimension.
func CombineLimits(a, b RateLimit) RateLimit {
	limit := RateLimit{}
	limit.RPM = minPositive(a.RPM, b.RPM)
	limit.TPM = minPositive(a.TPM, b.TPM)
	limit.Burst = minPositive(a.Burst, b.Burst)
	if limit.RPM == 0 {
		limit.RPM = max(a.RPM, b.RPM)
	}
	if limit.TPM == 0 {
		limit.TPM = max(a.TPM, b.TPM)
	}
	if limit.Burst == 0 {
		limit.Burst = max(a.Burst, b.Burst)
	}
	return limit
}

// DelayForRequest computes the full pacing delay for a request when no
// limiter is in play: the RPM floor or the TPM cost, whichever is larger.
func DelayForRequest(provider string, estimatedTokens int) time.Duration {
	return delayForLimit(LimitForProvider(provider), estimatedTokens)
}

// DelayForTokens computes only the TPM-driven delay. RPM pacing is the
// limiter's job; this covers the token dimension token-metered providers
// add on top.
func DelayForTokens(provider string, estimatedTokens int) time.Duration {
	limit := LimitForProvider(provider)
	limit.RPM = 0
	return delayForLimit(limit, estimatedTokens)
}

func delayForLimit(limit RateLimit, estimatedTokens int) time.Duration {
	if (limit.RPM <= 0 && limit.TPM <= 0) || estimatedTokens < 0 {
		return 0
	}
	var delayMs float64
	if limit.RPM > 0 {
		delayMs = math.Max(delayMs, 60000.0/float64(limit.RPM))
	}
	if limit.TPM > 0 && estimatedTokens > 0 {
		perToken := 60000.0 / float64(limit.TPM)
		delayMs = math.Max(delayMs, perToken*float64(estimatedTokens))
	}
	if delayMs <= 0 {
		return 0
	}
	if delayMs > 60000 {
		delayMs = 60000
	}
	return time.Duration(math.Ceil(delayMs)) * time.Millisecond
}

func minPositive(a, b int) int {
	switch {
	case a <= 0 && b <= 0:
		return 0
	case a <= 0:
		return b
	case b <= 0:
		return a
	default:
		if a < b {
			return a
		}
		return b
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Reload re-reads the config file and resets the shared limiters so new
// budgets take effect.
func Reload() {
	mu.Lock()
	defer mu.Unlock()
	initialized = false
	limiters = make(map[string]*rate.Limiter)
	loadLocked()
}
