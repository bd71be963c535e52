package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTTL is used when a manager is created with a non-positive TTL.
const DefaultTTL = 10 * time.Minute

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Loader fetches the value for a missing key.
type Loader func(ctx context.Context) (json.RawMessage, error)

// Manager handles caching operations with Redis backend.
type Manager struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client, ttl time.Duration) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		redis:  redisClient,
		ttl:    ttl,
		logger: log.With().Str("component", "cache").Logger(),
	}
}

// TTL returns the lifetime given to new entries.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist or entry is expired.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	cacheKey := key.String()

	data, err := m.redis.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.Inc()
	return &entry, nil
}

// Set stores a cache entry with TTL based on the entry's Expires field.
func (m *Manager) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		// Already expired, don't cache
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheWrites.Add(float64(len(data)))
	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// InvalidateObject removes the object entry and all field entries of key's object.
// It returns the number of keys removed.
func (m *Manager) InvalidateObject(ctx context.Context, key CacheKey) (int, error) {
	var (
		cursor  uint64
		removed int
	)

	n, err := m.redis.Del(ctx, key.ObjectKey().String()).Result()
	if err != nil {
		CacheErrors.WithLabelValues("invalidate").Inc()
		return 0, fmt.Errorf("redis del: %w", err)
	}
	removed += int(n)

	for {
		keys, next, err := m.redis.Scan(ctx, cursor, key.FieldPattern(), 100).Result()
		if err != nil {
			CacheErrors.WithLabelValues("invalidate").Inc()
			return removed, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := m.redis.Del(ctx, keys...).Result()
			if err != nil {
				CacheErrors.WithLabelValues("invalidate").Inc()
				return removed, fmt.Errorf("redis del: %w", err)
			}
			removed += int(n)
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	m.logger.Debug().
		Str("object", key.Object).
		Int("removed", removed).
		Msg("Object metadata invalidated")

	return removed, nil
}

// GetOrLoad returns the cached data for key, calling load on a miss and
// storing its result. Redis errors are logged and fall through to load.
func (m *Manager) GetOrLoad(ctx context.Context, key CacheKey, load Loader) (json.RawMessage, error) {
	entry, err := m.Get(ctx, key)
	if err == nil {
		m.logger.Debug().
			Str("key", key.String()).
			Dur("age", entry.Age()).
			Msg("Metadata cache hit")
		return entry.Data, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		m.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache get error")
	}

	data, err := load(ctx)
	if err != nil {
		return nil, err
	}

	if err := m.Set(ctx, key, NewEntry(data, m.ttl)); err != nil {
		m.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to cache metadata")
	} else {
		m.logger.Debug().
			Str("key", key.String()).
			Dur("ttl", m.ttl).
			Msg("Cached metadata")
	}

	return data, nil
}
