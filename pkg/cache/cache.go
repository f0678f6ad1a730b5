// Package cache provides an optional Redis-backed cache of terminal check
// outcomes. A cached Available/Taken outcome lets a resumed or overlapping
// run skip the remote lookup for that key entirely. Disabling the cache
// changes remote traffic only, never result semantics.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// Prometheus metrics for outcome cache operations.
var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keycheck_cache_hits_total",
		Help: "Total outcome cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keycheck_cache_misses_total",
		Help: "Total outcome cache misses",
	})

	cacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keycheck_cache_errors_total",
		Help: "Total outcome cache errors by operation",
	}, []string{"operation"})
)

var (
	// ErrCacheMiss indicates the key has no cached outcome.
	ErrCacheMiss = errors.New("cache miss")
)

// keyPrefix namespaces outcome entries in Redis.
const keyPrefix = "keycheck:outcome:"

// Outcome is a cached terminal check result.
type Outcome struct {
	Key       string    `json:"key"`
	Available bool      `json:"available"`
	CheckedAt time.Time `json:"checked_at"`
}

// Manager handles outcome caching with a Redis backend.
type Manager struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewManager creates a cache manager. TTL bounds how long an outcome is
// trusted; availability flips over time, so entries must expire.
func NewManager(redisClient *redis.Client, ttl time.Duration) (*Manager, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cache TTL must be positive (got %v)", ttl)
	}
	return &Manager{
		redis: redisClient,
		ttl:   ttl,
	}, nil
}

// Get retrieves the cached outcome for key.
// Returns ErrCacheMiss if no unexpired outcome exists.
func (m *Manager) Get(ctx context.Context, key string) (*Outcome, error) {
	data, err := m.redis.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			cacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var outcome Outcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("unmarshal cached outcome: %w", err)
	}

	cacheHits.Inc()
	return &outcome, nil
}

// Set stores a terminal outcome for key with the manager's TTL.
func (m *Manager) Set(ctx context.Context, key string, available bool) error {
	outcome := Outcome{
		Key:       key,
		Available: available,
		CheckedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(outcome)
	if err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal outcome: %w", err)
	}

	if err := m.redis.Set(ctx, keyPrefix+key, data, m.ttl).Err(); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes the cached outcome for key, if any.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.redis.Del(ctx, keyPrefix+key).Err(); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
