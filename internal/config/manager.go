package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ChangeEvent describes a configuration file change.
type ChangeEvent struct {
	File      string                 `json:"file"`
	Action    string                 `json:"action"` // "create", "update", "delete"
	Config    map[string]interface{} `json:"config,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ChangeHandler is called when a watched configuration file changes.
type ChangeHandler func(event ChangeEvent) error

// Manager watches a configuration directory and hot-reloads YAML and JSON
// documents. Policy files (.rego) in the same tree trigger registered policy
// reload hooks instead of document parsing.
type Manager struct {
	mu             sync.RWMutex
	configDir      string
	configs        map[string]map[string]interface{}
	validators     map[string]func(map[string]interface{}) error
	handlers       map[string][]ChangeHandler
	policyHandlers []func() error
	watcher        *fsnotify.Watcher
	logger         *zap.Logger
	stopCh         chan struct{}
	stopped        bool
	pollInterval   time.Duration
	lastModTimes   map[string]time.Time
}

// NewManager creates a configuration manager for the given directory,
// creating the directory if it does not exist.
func NewManager(configDir string, logger *zap.Logger) (*Manager, error) {
	if configDir == "" {
		return nil, fmt.Errorf("config directory cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Manager{
		configDir:    configDir,
		configs:      make(map[string]map[string]interface{}),
		validators:   make(map[string]func(map[string]interface{}) error),
		handlers:     make(map[string][]ChangeHandler),
		watcher:      watcher,
		logger:       logger,
		stopCh:       make(chan struct{}),
		lastModTimes: make(map[string]time.Time),
	}, nil
}

// RegisterValidator registers a validation function for a config file. The
// validator runs before a reloaded document replaces the stored one.
func (m *Manager) RegisterValidator(filename string, validator func(map[string]interface{}) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validators[filename] = validator
}

// RegisterHandler registers a change handler for a config file.
func (m *Manager) RegisterHandler(filename string, handler ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[filename] = append(m.handlers[filename], handler)
}

// RegisterPolicyHandler registers a hook invoked when any .rego file in the
// watched directory changes.
func (m *Manager) RegisterPolicyHandler(handler func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policyHandlers = append(m.policyHandlers, handler)
}

// EnablePolling switches on a modification-time polling fallback for
// filesystems where fsnotify events are unreliable (network mounts, some
// container volumes).
func (m *Manager) EnablePolling(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollInterval = interval
}

// Start loads all config files and begins watching for changes.
func (m *Manager) Start() error {
	if err := m.loadAllConfigs(); err != nil {
		return fmt.Errorf("failed to load initial configs: %w", err)
	}

	if err := m.watcher.Add(m.configDir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	go m.watchLoop()

	m.mu.RLock()
	pollInterval := m.pollInterval
	m.mu.RUnlock()
	if pollInterval > 0 {
		go m.pollLoop(pollInterval)
	}

	m.logger.Info("Configuration manager started",
		zap.String("dir", m.configDir),
		zap.Int("files", len(m.configs)),
	)
	return nil
}

// Stop shuts down the watcher.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.stopCh)
	return m.watcher.Close()
}

// GetConfig returns the parsed document for a config file.
func (m *Manager) GetConfig(filename string) (map[string]interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	config, exists := m.configs[filename]
	if !exists {
		return nil, false
	}
	return deepCopyConfig(config), true
}

// GetAllConfigs returns copies of all loaded documents keyed by filename.
func (m *Manager) GetAllConfigs() map[string]map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make(map[string]map[string]interface{}, len(m.configs))
	for name, config := range m.configs {
		all[name] = deepCopyConfig(config)
	}
	return all
}

// SetConfig injects a document directly, bypassing the filesystem. Intended
// for tests and programmatic overrides; the same validation and handler
// dispatch as a file reload applies.
func (m *Manager) SetConfig(filename string, config map[string]interface{}) error {
	m.mu.RLock()
	validator, hasValidator := m.validators[filename]
	m.mu.RUnlock()
	if hasValidator {
		if err := validator(config); err != nil {
			return fmt.Errorf("validation failed for %s: %w", filename, err)
		}
	}

	m.mu.Lock()
	_, existed := m.configs[filename]
	m.configs[filename] = deepCopyConfig(config)
	m.mu.Unlock()

	action := "update"
	if !existed {
		action = "create"
	}
	m.notify(filename, action, config)
	return nil
}

// ReloadConfig re-reads a single config file from disk.
func (m *Manager) ReloadConfig(filename string) error {
	return m.loadConfigFile(filepath.Join(m.configDir, filename))
}

// ReloadAllConfigs re-reads every config file in the directory.
func (m *Manager) ReloadAllConfigs() error {
	return m.loadAllConfigs()
}

func (m *Manager) watchLoop() {
	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleWatchEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("Config watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) handleWatchEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)

	if isPolicyFile(name) {
		if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
			m.handlePolicyReload(name)
		}
		return
	}

	if !isConfigFile(name) {
		return
	}

	switch {
	case event.Op&fsnotify.Write != 0, event.Op&fsnotify.Create != 0:
		// Editors often emit a rapid series of writes; let the file settle.
		time.Sleep(50 * time.Millisecond)
		if err := m.loadConfigFile(event.Name); err != nil {
			m.logger.Error("Failed to reload config",
				zap.String("file", name), zap.Error(err))
		}
	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		m.handleFileRemoval(name)
	}
}

func (m *Manager) pollLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkForChanges()
		}
	}
}

func (m *Manager) checkForChanges() {
	entries, err := os.ReadDir(m.configDir)
	if err != nil {
		return
	}

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isConfigFile(entry.Name()) {
			continue
		}
		seen[entry.Name()] = true

		info, err := entry.Info()
		if err != nil {
			continue
		}

		m.mu.RLock()
		lastMod, known := m.lastModTimes[entry.Name()]
		m.mu.RUnlock()

		if !known || info.ModTime().After(lastMod) {
			if err := m.loadConfigFile(filepath.Join(m.configDir, entry.Name())); err != nil {
				m.logger.Error("Polling reload failed",
					zap.String("file", entry.Name()), zap.Error(err))
			}
		}
	}

	m.mu.RLock()
	var removed []string
	for name := range m.configs {
		if !seen[name] {
			removed = append(removed, name)
		}
	}
	m.mu.RUnlock()
	for _, name := range removed {
		m.handleFileRemoval(name)
	}
}

func (m *Manager) loadAllConfigs() error {
	entries, err := os.ReadDir(m.configDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !isConfigFile(entry.Name()) {
			continue
		}
		if err := m.loadConfigFile(filepath.Join(m.configDir, entry.Name())); err != nil {
			m.logger.Error("Failed to load config file",
				zap.String("file", entry.Name()), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) loadConfigFile(path string) error {
	filename := filepath.Base(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}

	config, err := parseConfigData(filename, data)
	if err != nil {
		return err
	}

	m.mu.RLock()
	validator, hasValidator := m.validators[filename]
	m.mu.RUnlock()
	if hasValidator {
		if err := validator(config); err != nil {
			return fmt.Errorf("validation failed for %s: %w", filename, err)
		}
	}

	info, statErr := os.Stat(path)

	m.mu.Lock()
	_, existed := m.configs[filename]
	m.configs[filename] = config
	if statErr == nil {
		m.lastModTimes[filename] = info.ModTime()
	}
	m.mu.Unlock()

	action := "update"
	if !existed {
		action = "create"
	}
	m.notify(filename, action, config)

	m.logger.Info("Configuration loaded",
		zap.String("file", filename),
		zap.String("action", action),
	)
	return nil
}

func (m *Manager) handleFileRemoval(filename string) {
	m.mu.Lock()
	_, existed := m.configs[filename]
	delete(m.configs, filename)
	delete(m.lastModTimes, filename)
	m.mu.Unlock()

	if !existed {
		return
	}

	m.logger.Warn("Configuration file removed", zap.String("file", filename))
	m.notify(filename, "delete", nil)
}

func (m *Manager) handlePolicyReload(filename string) {
	m.mu.RLock()
	handlers := make([]func() error, len(m.policyHandlers))
	copy(handlers, m.policyHandlers)
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	m.logger.Info("Policy file changed; reloading policies",
		zap.String("file", filename))
	for _, handler := range handlers {
		h := handler
		go func() {
			if err := h(); err != nil {
				m.logger.Error("Policy reload failed",
					zap.String("file", filename), zap.Error(err))
			}
		}()
	}
}

// notify dispatches a change event to every handler registered for the file.
// Handlers run asynchronously on a copy of the document so a slow handler
// never blocks the watch loop.
func (m *Manager) notify(filename, action string, config map[string]interface{}) {
	m.mu.RLock()
	handlers := make([]ChangeHandler, len(m.handlers[filename]))
	copy(handlers, m.handlers[filename])
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event := ChangeEvent{
		File:      filename,
		Action:    action,
		Timestamp: time.Now(),
	}
	if config != nil {
		event.Config = deepCopyConfig(config)
	}

	for _, handler := range handlers {
		h := handler
		go func() {
			if err := h(event); err != nil {
				m.logger.Error("Config change handler failed",
					zap.String("file", filename),
					zap.String("action", action),
					zap.Error(err),
				)
			}
		}()
	}
}

func parseConfigData(filename string, data []byte) (map[string]interface{}, error) {
	config := make(map[string]interface{})
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("invalid JSON in %s: %w", filename, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("invalid YAML in %s: %w", filename, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filename)
	}
	return config, nil
}

func isConfigFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func isPolicyFile(name string) bool {
	return strings.ToLower(filepath.Ext(name)) == ".rego"
}

// deepCopyConfig copies a document so handlers and callers cannot mutate the
// stored state.
func deepCopyConfig(config map[string]interface{}) map[string]interface{} {
	copied := make(map[string]interface{}, len(config))
	for key, value := range config {
		copied[key] = deepCopyValue(value)
	}
	return copied
}

func deepCopyValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return deepCopyConfig(v)
	case []interface{}:
		copied := make([]interface{}, len(v))
		for i, item := range v {
			copied[i] = deepCopyValue(item)
		}
		return copied
	default:
		return v
	}
}
