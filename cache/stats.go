package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/godamri/helix-actionlog/audit"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

const statsKeyPrefix = "actionlog:stats:"

var statsLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "actionlog_stats_cache_lookups_total",
		Help: "Stats cache lookups by backend and result (hit, miss, error).",
	},
	[]string{"backend", "result"},
)

// StatsCache keeps aggregated buckets for a short while. It is an optimisation only:
// every failure degrades to a miss.
type StatsCache interface {
	Get(ctx context.Context, key string) ([]audit.Bucket, bool)
	Set(ctx context.Context, key string, buckets []audit.Bucket, ttl time.Duration)
	// Purge drops every cached aggregate, used after records are deleted.
	Purge(ctx context.Context)
}

// NewStatsCache picks Redis when a client is given, the in-process LRU otherwise.
func NewStatsCache(rdb redis.UniversalClient, cfg Config, logger *slog.Logger) StatsCache {
	if rdb != nil {
		return NewRedisStats(rdb, logger)
	}
	return NewMemoryStats(cfg.StatsEntries, cfg.StatsTTL)
}

type RedisStats struct {
	rdb    redis.UniversalClient
	logger *slog.Logger
}

func NewRedisStats(rdb redis.UniversalClient, logger *slog.Logger) *RedisStats {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStats{rdb: rdb, logger: logger.With("component", "stats_cache")}
}

func (c *RedisStats) Get(ctx context.Context, key string) ([]audit.Bucket, bool) {
	raw, err := c.rdb.Get(ctx, statsKeyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			statsLookups.WithLabelValues("redis", "miss").Inc()
		} else {
			statsLookups.WithLabelValues("redis", "error").Inc()
			c.logger.WarnContext(ctx, "stats cache read failed", "error", err)
		}
		return nil, false
	}

	var buckets []audit.Bucket
	if err := json.Unmarshal(raw, &buckets); err != nil {
		statsLookups.WithLabelValues("redis", "error").Inc()
		return nil, false
	}
	statsLookups.WithLabelValues("redis", "hit").Inc()
	return buckets, true
}

func (c *RedisStats) Set(ctx context.Context, key string, buckets []audit.Bucket, ttl time.Duration) {
	raw, err := json.Marshal(buckets)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, statsKeyPrefix+key, raw, ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "stats cache write failed", "error", err)
	}
}

func (c *RedisStats) Purge(ctx context.Context) {
	iter := c.rdb.Scan(ctx, 0, statsKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.WarnContext(ctx, "stats cache scan failed", "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.WarnContext(ctx, "stats cache purge failed", "error", err)
	}
}

// MemoryStats is the single-node fallback. The TTL is fixed at construction;
// the per-call ttl of Set is ignored.
type MemoryStats struct {
	lru *lru.LRU[string, []audit.Bucket]
}

func NewMemoryStats(entries int, ttl time.Duration) *MemoryStats {
	if entries <= 0 {
		entries = 512
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryStats{lru: lru.NewLRU[string, []audit.Bucket](entries, nil, ttl)}
}

func (c *MemoryStats) Get(_ context.Context, key string) ([]audit.Bucket, bool) {
	b, ok := c.lru.Get(key)
	if !ok {
		statsLookups.WithLabelValues("memory", "miss").Inc()
		return nil, false
	}
	statsLookups.WithLabelValues("memory", "hit").Inc()
	return append([]audit.Bucket(nil), b...), true
}

func (c *MemoryStats) Set(_ context.Context, key string, buckets []audit.Bucket, _ time.Duration) {
	c.lru.Add(key, append([]audit.Bucket(nil), buckets...))
}

func (c *MemoryStats) Purge(context.Context) {
	c.lru.Purge()
}
