// Package degradation downgrades the answer mode when dependencies fail.
// The ladder is research -> verification -> none: losing one provider
// narrows the search posture, losing the search provider (or enough of
// the stack) drops to knowledge-only answers instead of erroring out.
package degradation

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/classifier"
	"github.com/fleetcore-ai/compass/internal/config"
	"github.com/fleetcore-ai/compass/internal/metrics"
)

// Level is the severity of the current degradation.
type Level int

const (
	LevelNone Level = iota
	LevelMinor
	LevelModerate
	LevelSevere
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelMinor:
		return "minor"
	case LevelModerate:
		return "moderate"
	case LevelSevere:
		return "severe"
	default:
		return "unknown"
	}
}

// DowngradeReason explains why a mode was downgraded.
type DowngradeReason string

const (
	ReasonSearchUnavailable DowngradeReason = "search_provider_unavailable"
	ReasonBreakersOpen      DowngradeReason = "circuit_breakers_open"
	ReasonDependenciesDown  DowngradeReason = "dependencies_unavailable"
)

// ProbeSearch is the probe name with special meaning: when the search
// provider is down, every search-backed mode is off the table regardless
// of how the rest of the stack looks.
const ProbeSearch = "search"

// BreakerProbe reports whether a dependency's circuit breaker is open.
// The circuit breaker wrappers satisfy it directly.
type BreakerProbe interface {
	IsCircuitBreakerOpen() bool
}

// ProbeFunc adapts a plain function to the BreakerProbe interface.
type ProbeFunc func() bool

func (f ProbeFunc) IsCircuitBreakerOpen() bool { return f() }

// Snapshot is one observation of dependency state.
type Snapshot struct {
	Open      []string
	OpenCount int
	Level     Level
	Timestamp time.Time
}

// Manager watches registered breaker probes and maps their state to mode
// downgrades. Probes are registered once at startup; mode decisions read
// live breaker state and need no background loop, the loop only keeps the
// gauges fresh.
type Manager struct {
	cfg    config.DegradationConfig
	logger *zap.Logger

	mu     sync.RWMutex
	probes map[string]BreakerProbe

	stopCh    chan struct{}
	started   bool
	lastLevel Level
}

// NewManager creates a degradation manager. A nil logger is replaced with
// a no-op logger.
func NewManager(cfg config.DegradationConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		probes: make(map[string]BreakerProbe),
		stopCh: make(chan struct{}),
	}
}

// RegisterProbe adds a named dependency probe. Nil probes are ignored so
// callers can pass optional wrappers straight through.
func (m *Manager) RegisterProbe(name string, probe BreakerProbe) {
	if probe == nil {
		return
	}
	m.mu.Lock()
	m.probes[name] = probe
	m.mu.Unlock()
}

// Start begins the background gauge refresh. Safe to call once.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.monitorLoop(ctx)
	m.logger.Info("Degradation manager started",
		zap.Duration("check_interval", m.cfg.CheckInterval),
		zap.Bool("enabled", m.cfg.Enabled),
	)
}

// Stop halts the background refresh. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	close(m.stopCh)
	m.started = false
}

func (m *Manager) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.refresh()
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) refresh() {
	snap := m.Snapshot()
	recordLevel(snap.Level)
	m.mu.RLock()
	for name, probe := range m.probes {
		recordDependencyHealth(name, !probe.IsCircuitBreakerOpen())
	}
	m.mu.RUnlock()

	m.mu.Lock()
	changed := snap.Level != m.lastLevel
	m.lastLevel = snap.Level
	m.mu.Unlock()
	if changed {
		recordEvent(snap.Level)
		m.logger.Warn("Degradation level changed",
			zap.String("level", snap.Level.String()),
			zap.Strings("open_breakers", snap.Open),
		)
	}
}

// Snapshot reads current probe state and derives the degradation level
// from the configured thresholds.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{Timestamp: time.Now()}
	for name, probe := range m.probes {
		if probe.IsCircuitBreakerOpen() {
			snap.Open = append(snap.Open, name)
		}
	}
	sort.Strings(snap.Open)
	snap.OpenCount = len(snap.Open)

	switch {
	case snap.OpenCount == 0:
		snap.Level = LevelNone
	case snap.OpenCount >= m.cfg.OpenBreakersForKnowledge:
		snap.Level = LevelSevere
	case snap.OpenCount >= m.cfg.OpenBreakersForVerification:
		snap.Level = LevelModerate
	default:
		snap.Level = LevelMinor
	}
	return snap
}

// DetermineMode applies the downgrade ladder to the classifier's choice.
// It returns the mode to run and, when downgraded, the reason. Knowledge
// mode never downgrades; a downgrade never upgrades.
func (m *Manager) DetermineMode(requested classifier.Mode, sessionID string) (classifier.Mode, *DowngradeReason) {
	if !m.cfg.Enabled || requested == classifier.ModeNone {
		return requested, nil
	}

	snap := m.Snapshot()
	final := requested
	var reason DowngradeReason

	switch {
	case m.searchOpen(snap):
		// Both search modes need the search provider.
		final = classifier.ModeNone
		reason = ReasonSearchUnavailable
	case snap.Level >= LevelSevere:
		final = classifier.ModeNone
		reason = ReasonDependenciesDown
	case snap.Level >= LevelModerate && requested == classifier.ModeResearch:
		final = classifier.ModeVerification
		reason = ReasonBreakersOpen
	}

	if final == requested {
		return requested, nil
	}

	m.logger.Warn("Answer mode downgraded",
		zap.String("requested_mode", string(requested)),
		zap.String("final_mode", string(final)),
		zap.String("reason", string(reason)),
		zap.String("degradation_level", snap.Level.String()),
		zap.Strings("open_breakers", snap.Open),
		zap.String("session_id", sessionID),
	)
	metrics.RecordModeDowngrade(string(requested), string(final), string(reason))
	return final, &reason
}

func (m *Manager) searchOpen(snap Snapshot) bool {
	for _, name := range snap.Open {
		if name == ProbeSearch {
			return true
		}
	}
	return false
}
