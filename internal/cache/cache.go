// internal/cache/cache.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ===============================
// CACHE INTERFACE
// ===============================

// Cache is the shared key-value store abstraction. It is optional
// infrastructure: implementations log failures and report misses rather
// than surfacing infrastructure errors to callers.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) bool

	Increment(ctx context.Context, key string, delta int64) (int64, error)
	SetTTL(ctx context.Context, key string, ttl time.Duration) error
	GetTTL(ctx context.Context, key string) (time.Duration, error)

	Health(ctx context.Context) error
	Close() error
}

// ===============================
// CACHE CONFIGURATION
// ===============================

// Config holds cache configuration
type Config struct {
	Provider        string        `json:"provider"` // "memory", "redis"
	TTL             time.Duration `json:"ttl"`
	MaxKeys         int           `json:"max_keys"`
	CleanupInterval time.Duration `json:"cleanup_interval"`

	RedisURL string `json:"redis_url"`
	PoolSize int    `json:"pool_size"`
}

// DefaultConfig returns a default cache configuration
func DefaultConfig() *Config {
	return &Config{
		Provider:        "memory",
		TTL:             15 * time.Minute,
		MaxKeys:         10000,
		CleanupInterval: 5 * time.Minute,
		PoolSize:        10,
	}
}

// NewCache creates a cache instance based on configuration.
func NewCache(config *Config, logger *zap.Logger) (Cache, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(config.Provider) {
	case "redis":
		return NewRedisCache(config, logger)
	case "memory", "":
		logger.Info("Using in-memory cache")
		return NewMemoryCache(config, logger), nil
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", config.Provider)
	}
}

// ===============================
// MEMORY CACHE IMPLEMENTATION
// ===============================

type memoryCache struct {
	mu              sync.Mutex
	items           map[string]*cacheItem
	maxKeys         int
	cleanupInterval time.Duration
	logger          *zap.Logger
	stopCh          chan struct{}
	closeOnce       sync.Once
}

type cacheItem struct {
	Value      interface{}
	ExpiresAt  time.Time
	AccessedAt time.Time
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(config *Config, logger *zap.Logger) Cache {
	c := &memoryCache{
		items:           make(map[string]*cacheItem),
		maxKeys:         config.MaxKeys,
		cleanupInterval: config.CleanupInterval,
		logger:          logger,
		stopCh:          make(chan struct{}),
	}
	if c.cleanupInterval > 0 {
		go c.cleanupLoop()
	}
	return c
}

func (c *memoryCache) Get(ctx context.Context, key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		return nil, false
	}
	if time.Now().After(item.ExpiresAt) {
		delete(c.items, key)
		return nil, false
	}

	item.AccessedAt = time.Now()
	return item.Value, true
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) >= c.maxKeys {
		c.evictLRU()
	}

	now := time.Now()
	c.items[key] = &cacheItem{
		Value:      value,
		ExpiresAt:  now.Add(ttl),
		AccessedAt: now,
	}
	return nil
}

func (c *memoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *memoryCache) Exists(ctx context.Context, key string) bool {
	_, found := c.Get(ctx, key)
	return found
}

func (c *memoryCache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists || time.Now().After(item.ExpiresAt) {
		now := time.Now()
		c.items[key] = &cacheItem{
			Value:      delta,
			ExpiresAt:  now.Add(24 * time.Hour),
			AccessedAt: now,
		}
		return delta, nil
	}

	switch v := item.Value.(type) {
	case int64:
		item.Value = v + delta
		return v + delta, nil
	case int:
		item.Value = int64(v) + delta
		return int64(v) + delta, nil
	default:
		return 0, fmt.Errorf("value is not numeric")
	}
}

func (c *memoryCache) SetTTL(ctx context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if item, exists := c.items[key]; exists {
		item.ExpiresAt = time.Now().Add(ttl)
	}
	return nil
}

func (c *memoryCache) GetTTL(ctx context.Context, key string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if item, exists := c.items[key]; exists {
		if remaining := time.Until(item.ExpiresAt); remaining > 0 {
			return remaining, nil
		}
	}
	return 0, fmt.Errorf("key not found or expired")
}

func (c *memoryCache) Health(ctx context.Context) error {
	return nil
}

func (c *memoryCache) Close() error {
	c.closeOnce.Do(func() { close(c.stopCh) })
	return nil
}

func (c *memoryCache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *memoryCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, item := range c.items {
		if now.After(item.ExpiresAt) {
			delete(c.items, key)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("Cleaned up expired cache items",
			zap.Int("expired_count", removed),
			zap.Int("remaining_count", len(c.items)),
		)
	}
}

// evictLRU evicts the least recently used item. Caller holds the lock.
func (c *memoryCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for key, item := range c.items {
		if oldestKey == "" || item.AccessedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.AccessedAt
		}
	}
	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}

// ===============================
// REDIS CACHE IMPLEMENTATION
// ===============================

type redisCache struct {
	client *redis.Client
	logger *zap.Logger
	config *Config
}

// NewRedisCache creates a new Redis-based cache
func NewRedisCache(config *Config, logger *zap.Logger) (Cache, error) {
	if config == nil {
		return nil, fmt.Errorf("cache config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var options *redis.Options
	if config.RedisURL != "" {
		var err error
		options, err = redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
	} else {
		options = &redis.Options{Addr: "localhost:6379"}
	}
	if config.PoolSize > 0 {
		options.PoolSize = config.PoolSize
	}

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis cache initialized", zap.String("addr", options.Addr))

	return &redisCache{client: client, logger: logger, config: config}, nil
}

// Client returns the underlying Redis client so other subsystems (the
// rate-limit window store) can share one connection pool.
func (r *redisCache) Client() *redis.Client {
	return r.client
}

func (r *redisCache) Get(ctx context.Context, key string) (interface{}, bool) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false
	} else if err != nil {
		r.logger.Error("Failed to get from Redis",
			zap.String("key", key),
			zap.Error(err))
		return nil, false
	}

	// Try to unmarshal JSON first (for complex types)
	var result interface{}
	if err := json.Unmarshal([]byte(val), &result); err == nil {
		return result, true
	}
	return val, true
}

func (r *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	var val string
	switch v := value.(type) {
	case string:
		val = v
	case []byte:
		val = string(v)
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
		val = string(data)
	}

	if ttl <= 0 {
		ttl = r.config.TTL
	}
	return r.client.Set(ctx, key, val, ttl).Err()
}

func (r *redisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *redisCache) Exists(ctx context.Context, key string) bool {
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		r.logger.Error("Failed to check key existence",
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	return exists > 0
}

func (r *redisCache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return r.client.IncrBy(ctx, key, delta).Result()
}

func (r *redisCache) SetTTL(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.config.TTL
	}
	return r.client.Expire(ctx, key, ttl).Err()
}

func (r *redisCache) GetTTL(ctx context.Context, key string) (time.Duration, error) {
	return r.client.TTL(ctx, key).Result()
}

func (r *redisCache) Health(ctx context.Context) error {
	_, err := r.client.Ping(ctx).Result()
	return err
}

func (r *redisCache) Close() error {
	return r.client.Close()
}
