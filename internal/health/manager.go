package health

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/config"
)

// Manager runs registered checks on their configured intervals and serves
// aggregate status. Per-check settings in the configuration override the
// checker's own defaults, so a hot reload can retune or disable a check
// without re-registering it.
type Manager struct {
	logger *zap.Logger

	mu          sync.RWMutex
	cfg         config.HealthConfig
	checkers    map[string]Checker
	lastResults map[string]CheckResult
	lastRun     map[string]time.Time

	stopCh  chan struct{}
	started bool
	wg      sync.WaitGroup
}

// NewManager creates a health manager. Checks do not run until Start.
func NewManager(cfg config.HealthConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Manager{
		logger:      logger,
		cfg:         cfg,
		checkers:    make(map[string]Checker),
		lastResults: make(map[string]CheckResult),
		lastRun:     make(map[string]time.Time),
	}
}

// Register adds a checker. Registering a name twice replaces the previous
// checker.
func (m *Manager) Register(checker Checker) {
	if checker == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[checker.Name()] = checker
	m.logger.Info("Health check registered",
		zap.String("check", checker.Name()),
		zap.Bool("critical", m.criticalFor(checker)),
	)
}

// Unregister removes a checker and its last result.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkers, name)
	delete(m.lastResults, name)
	delete(m.lastRun, name)
}

// ApplyConfig swaps in reloaded health settings. Interval and criticality
// changes take effect on the next tick. Results of checks the new config
// disables are dropped so the cached aggregate cannot keep reporting them.
func (m *Manager) ApplyConfig(cfg config.HealthConfig) {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	m.mu.Lock()
	m.cfg = cfg
	for name, override := range cfg.Checks {
		if !override.Enabled {
			delete(m.lastResults, name)
			delete(m.lastRun, name)
		}
	}
	m.mu.Unlock()
	m.logger.Info("Health configuration applied",
		zap.Duration("check_interval", cfg.CheckInterval),
		zap.Int("check_overrides", len(cfg.Checks)),
	)
}

// Start launches the background check loop. No-op when health checking is
// disabled or already started.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started || !m.cfg.Enabled {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	m.wg.Add(1)
	go m.checkLoop(ctx, stopCh)
	m.logger.Info("Health manager started",
		zap.Duration("check_interval", m.tickInterval()),
	)
}

// Stop halts the background loop and waits for in-flight checks.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stopCh)
	m.mu.Unlock()
	m.wg.Wait()
}

// checkLoop ticks at the shortest configured interval; each tick runs the
// checks that are due. A single loop keeps hot reload simple.
func (m *Manager) checkLoop(ctx context.Context, stopCh chan struct{}) {
	defer m.wg.Done()

	m.runDueChecks(ctx, true)

	ticker := time.NewTicker(m.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.runDueChecks(ctx, false)
			ticker.Reset(m.tickInterval())
		}
	}
}

func (m *Manager) tickInterval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	interval := m.cfg.CheckInterval
	for name := range m.checkers {
		if override, ok := m.cfg.Checks[name]; ok && override.Interval > 0 && override.Interval < interval {
			interval = override.Interval
		}
	}
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// resolvedCheck carries a checker with its effective settings, captured
// under the lock so the worker goroutines never read the config directly.
type resolvedCheck struct {
	checker  Checker
	critical bool
	timeout  time.Duration
}

func (m *Manager) runDueChecks(ctx context.Context, force bool) {
	m.mu.RLock()
	now := time.Now()
	due := make([]resolvedCheck, 0, len(m.checkers))
	for name, checker := range m.checkers {
		if !m.enabledFor(checker) {
			continue
		}
		if force || now.Sub(m.lastRun[name]) >= m.intervalFor(checker) {
			due = append(due, m.resolve(checker))
		}
	}
	m.mu.RUnlock()

	if len(due) == 0 {
		return
	}
	results := m.runCheckers(ctx, due)

	m.mu.Lock()
	for name, result := range results {
		m.lastResults[name] = result
		m.lastRun[name] = now
	}
	m.mu.Unlock()
}

// RunChecks runs every enabled check once and returns the results. The
// last-result cache is updated as a side effect.
func (m *Manager) RunChecks(ctx context.Context) map[string]CheckResult {
	m.mu.RLock()
	enabled := make([]resolvedCheck, 0, len(m.checkers))
	for _, checker := range m.checkers {
		if m.enabledFor(checker) {
			enabled = append(enabled, m.resolve(checker))
		}
	}
	m.mu.RUnlock()

	results := m.runCheckers(ctx, enabled)

	now := time.Now()
	m.mu.Lock()
	for name, result := range results {
		m.lastResults[name] = result
		m.lastRun[name] = now
	}
	m.mu.Unlock()
	return results
}

func (m *Manager) runCheckers(ctx context.Context, checks []resolvedCheck) map[string]CheckResult {
	results := make(map[string]CheckResult, len(checks))
	var (
		resultsMu sync.Mutex
		wg        sync.WaitGroup
	)
	for _, check := range checks {
		wg.Add(1)
		go func(rc resolvedCheck) {
			defer wg.Done()
			result := m.runSingle(ctx, rc)
			resultsMu.Lock()
			results[rc.checker.Name()] = result
			resultsMu.Unlock()
		}(check)
	}
	wg.Wait()
	return results
}

func (m *Manager) runSingle(ctx context.Context, rc resolvedCheck) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()

	result := rc.checker.Check(checkCtx)
	result.Component = rc.checker.Name()
	result.Critical = rc.critical

	recordCheck(result)
	if result.Status != StatusHealthy {
		m.logger.Warn("Health check not healthy",
			zap.String("check", result.Component),
			zap.String("status", result.Status.String()),
			zap.String("message", result.Message),
			zap.String("error", result.Error),
			zap.Bool("critical", result.Critical),
		)
	}
	return result
}

// Per-check settings: the config override wins when present, otherwise the
// checker's own values, otherwise the global defaults. Callers hold m.mu.

func (m *Manager) resolve(checker Checker) resolvedCheck {
	return resolvedCheck{
		checker:  checker,
		critical: m.criticalFor(checker),
		timeout:  m.timeoutFor(checker),
	}
}

func (m *Manager) enabledFor(checker Checker) bool {
	if override, ok := m.cfg.Checks[checker.Name()]; ok {
		return override.Enabled
	}
	return true
}

func (m *Manager) criticalFor(checker Checker) bool {
	if override, ok := m.cfg.Checks[checker.Name()]; ok {
		return override.Critical
	}
	return checker.IsCritical()
}

func (m *Manager) timeoutFor(checker Checker) time.Duration {
	if override, ok := m.cfg.Checks[checker.Name()]; ok && override.Timeout > 0 {
		return override.Timeout
	}
	if t := checker.Timeout(); t > 0 {
		return t
	}
	return m.cfg.Timeout
}

func (m *Manager) intervalFor(checker Checker) time.Duration {
	if override, ok := m.cfg.Checks[checker.Name()]; ok && override.Interval > 0 {
		return override.Interval
	}
	return m.cfg.CheckInterval
}

// GetLastResults returns a copy of the most recent results without running
// any checks.
func (m *Manager) GetLastResults() map[string]CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make(map[string]CheckResult, len(m.lastResults))
	for name, result := range m.lastResults {
		results[name] = result
	}
	return results
}

// GetOverallHealth runs all checks and aggregates them.
func (m *Manager) GetOverallHealth(ctx context.Context) OverallHealth {
	start := time.Now()
	results := m.RunChecks(ctx)
	overall := calculateOverall(results)
	overall.Duration = time.Since(start)
	return overall
}

// GetCachedOverallHealth aggregates the last background results. Probes hit
// this path so a flood of kubelet requests never amplifies dependency load.
func (m *Manager) GetCachedOverallHealth() OverallHealth {
	return calculateOverall(m.GetLastResults())
}

// GetDetailedHealth runs all checks and returns the per-component view.
func (m *Manager) GetDetailedHealth(ctx context.Context) DetailedHealth {
	start := time.Now()
	results := m.RunChecks(ctx)
	overall := calculateOverall(results)
	overall.Duration = time.Since(start)
	return DetailedHealth{
		Overall:    overall,
		Components: results,
		Summary:    summarize(results),
		Timestamp:  time.Now(),
	}
}

// GetCachedDetailedHealth returns the per-component view from the cache.
func (m *Manager) GetCachedDetailedHealth() DetailedHealth {
	results := m.GetLastResults()
	return DetailedHealth{
		Overall:    calculateOverall(results),
		Components: results,
		Summary:    summarize(results),
		Timestamp:  time.Now(),
	}
}

// IsReady reports whether the service should receive traffic.
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.GetOverallHealth(ctx).Ready
}

// IsLive reports whether the process should keep running. Dependency
// failures never fail liveness; restarting the pod would not fix Redis.
func (m *Manager) IsLive() bool {
	return true
}

// calculateOverall folds per-check results into one status. A critical
// failure takes the service out of readiness; anything else at most
// degrades it.
func calculateOverall(results map[string]CheckResult) OverallHealth {
	overall := OverallHealth{
		Timestamp: time.Now(),
		Ready:     true,
		Live:      true,
	}

	if len(results) == 0 {
		overall.Status = StatusHealthy
		overall.Message = "no checks registered"
		return overall
	}

	var criticalFailures, degradations []string
	for name, result := range results {
		switch {
		case result.Status == StatusUnhealthy && result.Critical:
			criticalFailures = append(criticalFailures, name)
		case result.Status == StatusUnhealthy || result.Status == StatusDegraded:
			degradations = append(degradations, name)
		}
	}
	sort.Strings(criticalFailures)
	sort.Strings(degradations)

	switch {
	case len(criticalFailures) > 0:
		overall.Status = StatusUnhealthy
		overall.Ready = false
		overall.Message = fmt.Sprintf("critical checks failing: %s", strings.Join(criticalFailures, ", "))
	case len(degradations) > 0:
		overall.Status = StatusDegraded
		overall.Degraded = true
		overall.Message = fmt.Sprintf("degraded checks: %s", strings.Join(degradations, ", "))
	default:
		overall.Status = StatusHealthy
		overall.Message = "all checks passing"
	}
	return overall
}
