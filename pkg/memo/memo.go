// Package memo implements the Memoization Layer (§4.7): a Redis-backed
// keyed result cache with TTL, stale-while-revalidate, a single-flight
// background refresh guarantee, and per-resource invalidation.
//
// It generalizes irrexplorer's api/caching.py `cached` decorator — which
// only did a plain get-or-set with a fixed TTL — adding the
// stale-while-revalidate grace window and the "at most one background
// refresh per key" guarantee the spec requires but the Python original
// didn't implement. go-redis/redis/v8 (grounded on the dependency
// manifests for 0xERR0R-blocky and aldrin-isaac-newtron in the example
// pack) replaces the plain `redis` client; golang.org/x/sync/singleflight
// — already present transitively in the pack's dependency graph (e.g.
// jr42-dynamic-prefix-operator's go.mod) — gives the concurrent-refresh
// guarantee for free instead of hand-rolling a mutex-guarded in-flight map.
package memo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// statsTimeout bounds the backing-store round trips RegisterMetrics' gauges
// make at scrape time (§5: short timeouts on the backing store).
const statsTimeout = 2 * time.Second

const (
	// DefaultGrace is the stale-serve window after TTL expiry (§4.7).
	DefaultGrace = 300 * time.Second
	// DefaultRefreshTimeout bounds one background refresh (§4.7).
	DefaultRefreshTimeout = 30 * time.Second

	keyNamespace = "irrquery"
)

// Options configures one memoized operation (§4.7's option table).
type Options struct {
	TTL                  time.Duration
	KeyPrefix            string
	StaleWhileRevalidate bool
	Grace                time.Duration
	RefreshTimeout       time.Duration
}

func (o Options) withDefaults() Options {
	if o.Grace <= 0 {
		o.Grace = DefaultGrace
	}
	if o.RefreshTimeout <= 0 {
		o.RefreshTimeout = DefaultRefreshTimeout
	}
	return o
}

// Stats holds the administrative counters §4.7 requires.
type Stats struct {
	Hits      int64
	Misses    int64
	TotalKeys int64
	UsedBytes int64
}

// Cache is the memoization layer. A nil *redis.Client (REDIS_URL absent,
// §6.3) degrades every call to bypass mode: execute and don't cache.
type Cache struct {
	client *redis.Client
	logger *zap.Logger
	group  singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// New returns a Cache over client. client may be nil, in which case Wrap
// always bypasses the cache (§6.3: "REDIS_URL absent disables caching").
func New(client *redis.Client, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{client: client, logger: logger}
}

type envelope struct {
	StoredAt time.Time       `json:"stored_at"`
	Value    json.RawMessage `json:"value"`
}

// Wrap memoizes fn under key, applying opts. T must be JSON-marshalable.
func Wrap[T any](ctx context.Context, c *Cache, opts Options, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if c == nil || c.client == nil {
		return fn(ctx)
	}
	opts = opts.withDefaults()
	fullKey := cacheKey(opts.KeyPrefix, key)

	raw, err := c.client.Get(ctx, fullKey).Bytes()
	if err != nil && err != redis.Nil {
		c.logger.Warn("memo: redis get failed, bypassing cache", zap.Error(err))
		return fn(ctx)
	}
	if err == nil {
		var env envelope
		if jsonErr := json.Unmarshal(raw, &env); jsonErr == nil {
			var value T
			if jsonErr := json.Unmarshal(env.Value, &value); jsonErr == nil {
				c.hits.Add(1)
				age := time.Since(env.StoredAt)
				if opts.StaleWhileRevalidate && age > opts.TTL && age <= opts.TTL+opts.Grace {
					scheduleRefresh(c, fullKey, opts, key, fn)
				}
				return value, nil
			}
		}
	}

	c.misses.Add(1)
	value, err := fn(ctx)
	if err != nil {
		return zero, err
	}
	c.store(ctx, fullKey, opts, value)
	return value, nil
}

// scheduleRefresh guarantees at most one in-flight background refresh per
// key (§4.7's "concurrent reads of a stale key ... must not each schedule
// a refresh"): singleflight.Group.DoChan collapses concurrent callers onto
// one execution, keyed by fullKey.
func scheduleRefresh[T any](c *Cache, fullKey string, opts Options, key string, fn func(ctx context.Context) (T, error)) {
	c.group.DoChan(fullKey, func() (interface{}, error) {
		refreshCtx, cancel := context.WithTimeout(context.Background(), opts.RefreshTimeout)
		defer cancel()
		value, err := fn(refreshCtx)
		if err != nil {
			c.logger.Error("memo: background refresh failed", zap.String("key", key), zap.Error(err))
			return nil, err
		}
		c.store(refreshCtx, fullKey, opts, value)
		return value, nil
	})
}

func (c *Cache) store(ctx context.Context, fullKey string, opts Options, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		c.logger.Error("memo: encoding value", zap.Error(err))
		return
	}
	env := envelope{StoredAt: time.Now(), Value: payload}
	blob, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("memo: encoding envelope", zap.Error(err))
		return
	}
	expiry := opts.TTL
	if opts.StaleWhileRevalidate {
		expiry += opts.Grace
	}
	if err := c.client.Set(ctx, fullKey, blob, expiry).Err(); err != nil {
		c.logger.Warn("memo: redis set failed", zap.Error(err))
	}
}

// Invalidate removes every key whose key_prefix matches resourceType,
// scoped further by resourceID when non-empty (§4.7: "invalidate all keys
// whose key_prefix matches the resource family"). Backing-store failures
// are logged and non-fatal.
func (c *Cache) Invalidate(ctx context.Context, resourceType, resourceID string) {
	if c == nil || c.client == nil {
		return
	}
	pattern := fmt.Sprintf("%s:%s:*", keyNamespace, resourceType)
	if resourceID != "" {
		pattern = fmt.Sprintf("%s:%s:*%s*", keyNamespace, resourceType, resourceID)
	}
	iter := c.client.Scan(ctx, 0, pattern, 1000).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("memo: invalidate scan failed", zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("memo: invalidate delete failed", zap.Error(err))
	}
}

// Stats returns the current hit/miss counters plus, when Redis is
// reachable, its key count and memory usage.
func (c *Cache) Stats(ctx context.Context) Stats {
	stats := Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	if c == nil || c.client == nil {
		return stats
	}
	iter := c.client.Scan(ctx, 0, keyNamespace+":*", 1000).Iterator()
	for iter.Next(ctx) {
		stats.TotalKeys++
	}
	if info, err := c.client.Info(ctx, "memory").Result(); err == nil {
		stats.UsedBytes = parseUsedMemory(info)
	}
	return stats
}

// RegisterMetrics exposes the §4.7 administrative statistics (hits, misses,
// total keys, recent memory usage) as Prometheus collectors on reg, so the
// existing /metrics surface carries them rather than a separate endpoint.
// TotalKeys and UsedBytes are sampled from the backing store at scrape
// time; when the cache is in bypass mode (nil client) they read zero.
func (c *Cache) RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "irrquery",
			Subsystem: "memo",
			Name:      "hits_total",
			Help:      "Memoization layer cache hits.",
		}, func() float64 { return float64(c.hits.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "irrquery",
			Subsystem: "memo",
			Name:      "misses_total",
			Help:      "Memoization layer cache misses.",
		}, func() float64 { return float64(c.misses.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "irrquery",
			Subsystem: "memo",
			Name:      "keys",
			Help:      "Key count in the memoization backing store.",
		}, func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
			defer cancel()
			return float64(c.Stats(ctx).TotalKeys)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "irrquery",
			Subsystem: "memo",
			Name:      "used_memory_bytes",
			Help:      "Backing store's reported memory usage.",
		}, func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
			defer cancel()
			return float64(c.Stats(ctx).UsedBytes)
		}),
	)
}

func parseUsedMemory(info string) int64 {
	for _, line := range strings.Split(info, "\r\n") {
		if strings.HasPrefix(line, "used_memory:") {
			var n int64
			fmt.Sscanf(strings.TrimPrefix(line, "used_memory:"), "%d", &n)
			return n
		}
	}
	return 0
}

// cacheKey derives the stable string key for (prefix, rawKey), independent
// of process-internal identity (§4.7: "stable string form independent of
// process-internal identity"). The sanitized rawKey rides along in the
// clear (ahead of the disambiguating hash suffix) rather than being
// hashed away entirely: Invalidate matches resource ids with a substring
// glob (§4.7 "asn_summary:*<asn>*"), which only works if the id is still
// present in the stored key.
func cacheKey(prefix, rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return fmt.Sprintf("%s:%s:%s:%s", keyNamespace, prefix, sanitizeKeyComponent(rawKey), hex.EncodeToString(sum[:])[:16])
}

// sanitizeKeyComponent strips glob metacharacters so an argument value
// embedded in a cache key can't widen a SCAN MATCH pattern.
func sanitizeKeyComponent(s string) string {
	replacer := strings.NewReplacer("*", "_", "?", "_", "[", "_", "]", "_", " ", "_")
	return replacer.Replace(s)
}
