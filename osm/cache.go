package osm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"saferoute/metrics"
	"saferoute/signals"

	"github.com/apex/log"
	"github.com/redis/go-redis/v9"
)

const (
	// CacheGridSize is the grid size in meters for coordinate rounding (100m)
	CacheGridSize = 100.0
	// DefaultCacheTTL is how long cached places are valid
	DefaultCacheTTL = 30 * 24 * time.Hour
)

// ErrCacheMiss is returned by a Cache that holds no entry for a key
var ErrCacheMiss = errors.New("geocode cache miss")

// Cache stores resolved places by grid key
type Cache interface {
	Get(ctx context.Context, key string) (*signals.Place, error)
	Set(ctx context.Context, key string, place *signals.Place, ttl time.Duration) error
}

// roundToGrid rounds a coordinate to the cache grid so nearby points share an entry
func roundToGrid(coord float64) float64 {
	metersPerDegree := 111320.0
	gridDegrees := CacheGridSize / metersPerDegree
	return math.Round(coord/gridDegrees) * gridDegrees
}

func cacheKey(lat, lng float64) string {
	return fmt.Sprintf("geocode:%.5f:%.5f", roundToGrid(lat), roundToGrid(lng))
}

// CachedGeocoder wraps a Geocoder with a grid-rounded cache
type CachedGeocoder struct {
	geocoder signals.Geocoder
	cache    Cache
	ttl      time.Duration
}

// NewCachedGeocoder creates a cached geocoder
func NewCachedGeocoder(geocoder signals.Geocoder, cache Cache, ttl time.Duration) *CachedGeocoder {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedGeocoder{geocoder: geocoder, cache: cache, ttl: ttl}
}

// ReverseGeocode returns the cached place for the grid cell of (lat, lng), or
// resolves and caches it.
func (g *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (*signals.Place, error) {
	key := cacheKey(lat, lng)

	place, err := g.cache.Get(ctx, key)
	if err == nil {
		metrics.GeocodeCacheLookups.WithLabelValues("hit").Inc()
		return place, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		log.Warnf("Geocode cache read failed for %s: %v", key, err)
	}
	metrics.GeocodeCacheLookups.WithLabelValues("miss").Inc()

	place, err = g.geocoder.ReverseGeocode(ctx, lat, lng)
	if err != nil {
		return nil, err
	}

	if err := g.cache.Set(ctx, key, place, g.ttl); err != nil {
		log.Warnf("Failed to cache geocode result for %s: %v", key, err)
	}
	return place, nil
}

type memoryEntry struct {
	place   signals.Place
	expires time.Time
}

// MemoryCache is a process-local Cache
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-memory cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*signals.Place, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		return nil, ErrCacheMiss
	}
	p := e.place
	return &p, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, place *signals.Place, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{place: *place, expires: c.now().Add(ttl)}
	return nil
}

// RedisCache stores places as JSON values with a TTL
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing redis client
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// ConnectRedis initializes a Redis client from URL or host:port input.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*signals.Place, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var p signals.Place
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached place: %w", err)
	}
	return &p, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, place *signals.Place, ttl time.Duration) error {
	raw, err := json.Marshal(place)
	if err != nil {
		return fmt.Errorf("failed to marshal place: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
