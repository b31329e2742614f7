package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/circuitbreaker"
)

// slowPingThreshold marks a dependency degraded when it answers but slowly.
const slowPingThreshold = 100 * time.Millisecond

// RedisHealthChecker pings the conversation store. The breaker state is
// checked first so a probe never trips an already-open breaker further.
type RedisHealthChecker struct {
	wrapper  *circuitbreaker.RedisWrapper
	critical bool
	timeout  time.Duration
	logger   *zap.Logger
}

func NewRedisHealthChecker(wrapper *circuitbreaker.RedisWrapper, critical bool, timeout time.Duration, logger *zap.Logger) *RedisHealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RedisHealthChecker{wrapper: wrapper, critical: critical, timeout: timeout, logger: logger}
}

func (c *RedisHealthChecker) Name() string { return "redis" }
func (c *RedisHealthChecker) IsCritical() bool { return c.critical }
func (c *RedisHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Component: c.Name(),
		Critical:  c.critical,
		Timestamp: start,
	}

	if c.wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Message = "circuit breaker open"
		result.Duration = time.Since(start)
		return result
	}

	if err := c.wrapper.GetClient().Ping(ctx).Err(); err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "ping failed"
		result.Duration = time.Since(start)
		return result
	}

	result.Duration = time.Since(start)
	if result.Duration > slowPingThreshold {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("slow response: %v", result.Duration)
	} else {
		result.Status = StatusHealthy
		result.Message = "connected"
	}
	result.Details = map[string]interface{}{
		"ping_ms": result.Duration.Milliseconds(),
	}
	return result
}

// DatabaseHealthChecker pings the archive database and inspects the pool.
// Pool saturation degrades the check before queries start queueing.
type DatabaseHealthChecker struct {
	wrapper  *circuitbreaker.DatabaseWrapper
	critical bool
	timeout  time.Duration
	logger   *zap.Logger
}

func NewDatabaseHealthChecker(wrapper *circuitbreaker.DatabaseWrapper, critical bool, timeout time.Duration, logger *zap.Logger) *DatabaseHealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DatabaseHealthChecker{wrapper: wrapper, critical: critical, timeout: timeout, logger: logger}
}

func (c *DatabaseHealthChecker) Name() string { return "database" }
func (c *DatabaseHealthChecker) IsCritical() bool { return c.critical }
func (c *DatabaseHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Component: c.Name(),
		Critical:  c.critical,
		Timestamp: start,
	}

	if c.wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Message = "circuit breaker open"
		result.Duration = time.Since(start)
		return result
	}

	if err := c.wrapper.PingContext(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "ping failed"
		result.Duration = time.Since(start)
		return result
	}

	stats := c.wrapper.DB().Stats()
	result.Duration = time.Since(start)
	result.Details = map[string]interface{}{
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"wait_count":       stats.WaitCount,
		"ping_ms":          result.Duration.Milliseconds(),
	}

	switch {
	case stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections:
		result.Status = StatusDegraded
		result.Message = "connection pool saturated"
	case result.Duration > slowPingThreshold:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("slow response: %v", result.Duration)
	default:
		result.Status = StatusHealthy
		result.Message = "connected"
	}
	return result
}

// TemporalHealthChecker verifies the workflow service frontend is reachable.
// Without it no new research can start, so this check is critical.
type TemporalHealthChecker struct {
	client   client.Client
	critical bool
	timeout  time.Duration
	logger   *zap.Logger
}

func NewTemporalHealthChecker(temporalClient client.Client, critical bool, timeout time.Duration, logger *zap.Logger) *TemporalHealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TemporalHealthChecker{client: temporalClient, critical: critical, timeout: timeout, logger: logger}
}

func (c *TemporalHealthChecker) Name() string { return "temporal" }
func (c *TemporalHealthChecker) IsCritical() bool { return c.critical }
func (c *TemporalHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *TemporalHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Component: c.Name(),
		Critical:  c.critical,
		Timestamp: start,
	}

	if _, err := c.client.CheckHealth(ctx, &client.CheckHealthRequest{}); err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "workflow service unreachable"
		result.Duration = time.Since(start)
		return result
	}

	result.Duration = time.Since(start)
	result.Status = StatusHealthy
	result.Message = "workflow service reachable"
	return result
}

// SearchHealthChecker probes the search gateway's health endpoint. Search
// being down only degrades the service; queries fall back to lesser modes.
type SearchHealthChecker struct {
	baseURL  string
	critical bool
	timeout  time.Duration
	client   *http.Client
	logger   *zap.Logger
}

func NewSearchHealthChecker(baseURL string, critical bool, timeout time.Duration, logger *zap.Logger) *SearchHealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SearchHealthChecker{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		critical: critical,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (c *SearchHealthChecker) Name() string { return "search" }
func (c *SearchHealthChecker) IsCritical() bool { return c.critical }
func (c *SearchHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *SearchHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Component: c.Name(),
		Critical:  c.critical,
		Timestamp: start,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	resp, err := c.client.Do(req)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "search gateway unreachable"
		result.Duration = time.Since(start)
		return result
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	result.Duration = time.Since(start)
	result.Details = map[string]interface{}{
		"status_code": resp.StatusCode,
	}
	if resp.StatusCode != http.StatusOK {
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("search gateway returned status %d", resp.StatusCode)
		return result
	}

	result.Status = StatusHealthy
	result.Message = "search gateway reachable"
	return result
}

// FuncChecker wraps a function as a Checker for custom probes and tests.
type FuncChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

func NewFuncChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *FuncChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FuncChecker{name: name, critical: critical, timeout: timeout, checkFn: checkFn}
}

func (c *FuncChecker) Name() string { return c.name }
func (c *FuncChecker) IsCritical() bool { return c.critical }
func (c *FuncChecker) Timeout() time.Duration { return c.timeout }

func (c *FuncChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := c.checkFn(ctx)
	result.Component = c.name
	result.Critical = c.critical
	if result.Timestamp.IsZero() {
		result.Timestamp = start
	}
	if result.Duration == 0 {
		result.Duration = time.Since(start)
	}
	return result
}
