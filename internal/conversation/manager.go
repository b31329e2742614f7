package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/auth"
	"github.com/fleetcore-ai/compass/internal/circuitbreaker"
	"github.com/fleetcore-ai/compass/internal/metrics"
)

// Manager stores conversation memories in Redis with a local LRU cache in
// front. The decision pipeline only ever sees Memory values; persistence is
// the caller's concern, which this manager implements.
type Manager struct {
	client      *circuitbreaker.RedisWrapper
	logger      *zap.Logger
	ttl         time.Duration
	mu          sync.RWMutex
	localCache  map[string]*Memory
	cacheAccess map[string]time.Time
	maxCached   int
}

// NewManager connects to Redis and returns a conversation manager
func NewManager(redisAddr string, logger *zap.Logger) (*Manager, error) {
	redisPassword := os.Getenv("REDIS_PASSWORD")

	redisClient := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		Password:     redisPassword,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	client := circuitbreaker.NewRedisWrapper(redisClient, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Manager{
		client:      client,
		logger:      logger,
		ttl:         24 * time.Hour,
		localCache:  make(map[string]*Memory),
		cacheAccess: make(map[string]time.Time),
		maxCached:   10000,
	}, nil
}

// NewManagerWithClient builds a manager over an existing Redis client.
// Used by tests and by callers that share a connection pool.
func NewManagerWithClient(redisClient *redis.Client, logger *zap.Logger) *Manager {
	return &Manager{
		client:      circuitbreaker.NewRedisWrapper(redisClient, logger),
		logger:      logger,
		ttl:         24 * time.Hour,
		localCache:  make(map[string]*Memory),
		cacheAccess: make(map[string]time.Time),
		maxCached:   10000,
	}
}

// Configure overrides the memory TTL and local cache bound. Non-positive
// values keep the current settings. Existing memories keep the expiry they
// were created with.
func (m *Manager) Configure(ttl time.Duration, cacheSize int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl > 0 {
		m.ttl = ttl
	}
	if cacheSize > 0 {
		m.maxCached = cacheSize
	}
}

// Create creates a fresh memory for a new session
func (m *Manager) Create(ctx context.Context, sessionID, userID, tenantID string) (*Memory, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	mem := NewMemory(sessionID, m.ttl)
	mem.UserID = userID
	mem.TenantID = tenantID

	if err := m.save(ctx, mem); err != nil {
		return nil, fmt.Errorf("failed to save conversation: %w", err)
	}

	m.mu.Lock()
	m.localCache[sessionID] = mem
	m.cacheAccess[sessionID] = time.Now()
	m.evictIfNeeded()
	metrics.ConversationCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	m.logger.Info("Created conversation memory",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
	)
	metrics.ConversationsCreated.Inc()

	return mem, nil
}

// GetOrCreate fetches an existing memory or creates one. An existing memory
// owned by a different user is never handed out; a fresh session is created
// instead.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID, userID, tenantID string) (*Memory, error) {
	if sessionID == "" {
		return m.Create(ctx, "", userID, tenantID)
	}
	existing, err := m.Get(ctx, sessionID)
	if err == nil {
		if existing.UserID != "" && userID != "" && existing.UserID != userID {
			m.logger.Warn("Session ID reuse across users, issuing new session",
				zap.String("requested_session_id", sessionID),
				zap.String("requesting_user", userID),
			)
			return m.Create(ctx, "", userID, tenantID)
		}
		return existing, nil
	}
	if err == ErrMemoryNotFound || err == ErrMemoryExpired {
		return m.Create(ctx, sessionID, userID, tenantID)
	}
	return nil, err
}

// Get retrieves a memory by session ID
func (m *Manager) Get(ctx context.Context, sessionID string) (*Memory, error) {
	m.mu.RLock()
	if mem, ok := m.localCache[sessionID]; ok {
		m.mu.RUnlock()
		metrics.ConversationCacheHits.Inc()
		if mem.IsExpired() {
			m.Delete(ctx, sessionID)
			return nil, ErrMemoryExpired
		}
		m.mu.Lock()
		m.cacheAccess[sessionID] = time.Now()
		m.mu.Unlock()
		return mem, nil
	}
	m.mu.RUnlock()
	metrics.ConversationCacheMisses.Inc()

	data, err := m.client.Get(ctx, m.key(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrMemoryNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	var mem Memory
	if err := json.Unmarshal(data, &mem); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMemory, err)
	}

	if mem.IsExpired() {
		m.Delete(ctx, sessionID)
		return nil, ErrMemoryExpired
	}

	// Tenant isolation when an auth context is present. Existence is not
	// leaked across tenants.
	if userCtx, err := auth.GetUserContext(ctx); err == nil && userCtx != nil {
		tenant := userCtx.TenantID.String()
		if mem.TenantID != "" && tenant != "" && mem.TenantID != tenant {
			return nil, ErrMemoryNotFound
		}
	}

	m.mu.Lock()
	m.localCache[sessionID] = &mem
	m.cacheAccess[sessionID] = time.Now()
	m.evictIfNeeded()
	metrics.ConversationCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	return &mem, nil
}

// Update persists a modified memory
func (m *Manager) Update(ctx context.Context, mem *Memory) error {
	if mem == nil {
		return fmt.Errorf("conversation memory is nil")
	}

	mem.UpdatedAt = time.Now()

	if err := m.save(ctx, mem); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	m.mu.Lock()
	m.localCache[mem.SessionID] = mem
	m.cacheAccess[mem.SessionID] = time.Now()
	m.mu.Unlock()

	return nil
}

// TurnUpdate carries the per-turn mutations applied after an answer is
// produced. Only the fields that are set are applied.
type TurnUpdate struct {
	UserMessage      string
	AssistantMessage string
	Vessel           *VesselEntity
	Company          *CompanyEntity
	Features         []string
	Intent           string
	Summary          string
}

// RecordTurn applies a turn's updates to a session's memory and persists it.
// The memory is created on demand so a lost session never fails the turn.
func (m *Manager) RecordTurn(ctx context.Context, sessionID string, upd TurnUpdate) (*Memory, error) {
	mem, err := m.GetOrCreate(ctx, sessionID, "", "")
	if err != nil {
		return nil, err
	}

	if upd.UserMessage != "" {
		mem.AddMessage("user", upd.UserMessage)
	}
	if upd.AssistantMessage != "" {
		mem.AddMessage("assistant", upd.AssistantMessage)
	}
	if upd.Vessel != nil {
		mem.AddVessel(*upd.Vessel)
	}
	if upd.Company != nil {
		mem.AddCompany(*upd.Company)
	}
	for _, f := range upd.Features {
		mem.RecordFeature(f)
	}
	if upd.Intent != "" {
		mem.UserIntent = upd.Intent
	}
	if upd.Summary != "" {
		mem.Summary = upd.Summary
	}

	if err := m.Update(ctx, mem); err != nil {
		return nil, err
	}
	return mem, nil
}

// Delete removes a memory from Redis and the local cache
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	if err := m.client.Del(ctx, m.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	m.mu.Lock()
	delete(m.localCache, sessionID)
	delete(m.cacheAccess, sessionID)
	metrics.ConversationCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	m.logger.Info("Deleted conversation memory", zap.String("session_id", sessionID))
	return nil
}

// Extend pushes a session's expiry forward
func (m *Manager) Extend(ctx context.Context, sessionID string, duration time.Duration) error {
	mem, err := m.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	mem.ExpiresAt = time.Now().Add(duration)
	return m.Update(ctx, mem)
}

// CleanupExpired sweeps expired memories out of Redis
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	keys, err := m.client.Keys(ctx, "conversation:*").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list conversations: %w", err)
	}

	cleaned := 0
	for _, key := range keys {
		data, err := m.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var mem Memory
		if err := json.Unmarshal(data, &mem); err != nil {
			continue
		}
		if mem.IsExpired() {
			if err := m.client.Del(ctx, key).Err(); err == nil {
				cleaned++
			}
		}
	}

	m.logger.Info("Cleaned up expired conversations", zap.Int("count", cleaned))
	return cleaned, nil
}

// Close closes the underlying Redis client
func (m *Manager) Close() error {
	return m.client.Close()
}

// RedisWrapper exposes the wrapped client for health checks
func (m *Manager) RedisWrapper() *circuitbreaker.RedisWrapper {
	return m.client
}

func (m *Manager) key(sessionID string) string {
	return fmt.Sprintf("conversation:%s", sessionID)
}

func (m *Manager) save(ctx context.Context, mem *Memory) error {
	data, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	ttl := time.Until(mem.ExpiresAt)
	if ttl <= 0 {
		ttl = m.ttl
	}

	return m.client.Set(ctx, m.key(mem.SessionID), data, ttl).Err()
}

// evictIfNeeded drops the least recently used half of the cache once the
// size cap is exceeded. Caller must hold m.mu.
func (m *Manager) evictIfNeeded() {
	if len(m.localCache) <= m.maxCached {
		return
	}

	type accessEntry struct {
		id   string
		time time.Time
	}
	entries := make([]accessEntry, 0, len(m.localCache))
	for id := range m.localCache {
		accessTime, ok := m.cacheAccess[id]
		if !ok {
			accessTime = time.Time{}
		}
		entries = append(entries, accessEntry{id: id, time: accessTime})
	}

	for i := 0; i < len(entries)-1; i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].time.Before(entries[i].time) {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}

	toRemove := m.maxCached / 2
	for i := 0; i < toRemove && i < len(entries); i++ {
		delete(m.localCache, entries[i].id)
		delete(m.cacheAccess, entries[i].id)
		metrics.ConversationCacheEvictions.Inc()
	}
}
