package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-media/types"
)

type MemoryState int32

const (
	MemoryStateStopped MemoryState = iota
	MemoryStateStarting
	MemoryStateRunning
	MemoryStateStopping
)

const (
	DefaultTTL             = 10 * time.Minute
	DefaultCleanupInterval = time.Minute
)

type MemoryCache struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	maxEntries      int
	cleanupInterval time.Duration
	data            map[string]*types.CacheEntry
	hits            atomic.Uint64
	misses          atomic.Uint64
	evictions       atomic.Uint64
	mu              sync.RWMutex
	state           atomic.Value
	cleanupDone     chan struct{}
	now             func() time.Time
}

func NewMemoryCache(ctx context.Context, logger types.Logger, config *types.ResponseCacheConfig) *MemoryCache {
	cacheCtx, cancel := context.WithCancel(ctx)

	cache := &MemoryCache{
		ctx:             cacheCtx,
		cancel:          cancel,
		logger:          logger,
		cleanupInterval: DefaultCleanupInterval,
		data:            make(map[string]*types.CacheEntry),
		cleanupDone:     make(chan struct{}),
		now:             time.Now,
	}
	if config != nil {
		cache.maxEntries = config.MaxEntries
	}

	cache.state.Store(MemoryStateStopped)

	return cache
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	now := m.now()

	m.mu.RLock()
	entry, exists := m.data[key]
	if !exists {
		m.mu.RUnlock()
		m.misses.Add(1)
		return nil, false
	}

	if now.After(entry.ExpiresAt) {
		m.mu.RUnlock()
		m.mu.Lock()
		if entry, exists := m.data[key]; exists && now.After(entry.ExpiresAt) {
			delete(m.data, key)
		}
		m.mu.Unlock()

		m.misses.Add(1)
		return nil, false
	}

	value := entry.Value
	m.mu.RUnlock()

	m.hits.Add(1)

	return value, true
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := m.now()
	entry := &types.CacheEntry{
		Key:       key,
		Value:     append([]byte(nil), value...),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxEntries > 0 {
		if _, exists := m.data[key]; !exists && len(m.data) >= m.maxEntries {
			m.evictOldestUnsafe()
		}
	}

	m.data[key] = entry
	return nil
}

func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryCache) Start() error {
	if !m.transitionState(MemoryStateStopped, MemoryStateStarting) {
		return types.ErrServerAlreadyRunning
	}

	go m.startCleanupRoutine()

	m.setState(MemoryStateRunning)
	m.logger.Info("Memory response cache started",
		zap.Int("max_entries", m.maxEntries))
	return nil
}

func (m *MemoryCache) Stop() error {
	if !m.transitionState(MemoryStateRunning, MemoryStateStopping) {
		return types.ErrServerNotRunning
	}

	defer m.setState(MemoryStateStopped)

	m.cancel()

	select {
	case <-m.cleanupDone:
	case <-time.After(5 * time.Second):
		m.logger.Warn("Cleanup routine stop timeout")
	}

	m.mu.Lock()
	cleared := len(m.data)
	m.data = make(map[string]*types.CacheEntry)
	m.mu.Unlock()

	m.logger.Info("Memory response cache stopped",
		zap.Int("cleared_entries", cleared),
		zap.Uint64("hits", m.hits.Load()),
		zap.Uint64("misses", m.misses.Load()),
		zap.Uint64("evictions", m.evictions.Load()))

	return nil
}

func (m *MemoryCache) IsRunning() bool {
	return m.getState() == MemoryStateRunning
}

func (m *MemoryCache) getState() MemoryState {
	return m.state.Load().(MemoryState)
}

func (m *MemoryCache) setState(newState MemoryState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryCache) transitionState(from, to MemoryState) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *MemoryCache) cleanup() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	expired := 0
	for key, entry := range m.data {
		if now.After(entry.ExpiresAt) {
			delete(m.data, key)
			expired++
		}
	}

	return expired
}

func (m *MemoryCache) startCleanupRoutine() {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if expired := m.cleanup(); expired > 0 {
				m.logger.Debug("Response cache cleanup completed", zap.Int("expired_entries", expired))
			}
		}
	}
}

func (m *MemoryCache) evictOldestUnsafe() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range m.data {
		if oldestKey == "" || entry.CreatedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CreatedAt
		}
	}

	if oldestKey != "" {
		delete(m.data, oldestKey)
		m.evictions.Add(1)
	}
}
