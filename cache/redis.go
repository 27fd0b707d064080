package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kotoba-works/kotoba-engine/types"
	"github.com/kotoba-works/kotoba-engine/utils"
)

// RedisStore implements the tier contract on a shared redis instance.
// Expiry and capacity enforcement are delegated to redis itself (native key
// TTLs plus the server's maxmemory policy), so SweepExpired and Optimize are
// no-ops that report zero work. Hit/miss and access-latency statistics are
// tracked client-side so registry aggregates stay uniform across backends.
type RedisStore struct {
	ctx        context.Context
	name       string
	logger     types.Logger
	client     *redis.Client
	keyPrefix  string
	capacity   int
	defaultTTL time.Duration

	hits      uint64
	misses    uint64
	latencies *latencyWindow
}

type redisEnvelope struct {
	Value     types.CachedValue `json:"value"`
	CreatedAt time.Time         `json:"created_at"`
}

func NewRedisStore(ctx context.Context, name string, logger types.Logger, cfg *types.RedisConfig, tier *types.TierConfig) (*RedisStore, error) {
	redisConfig := &types.RedisConfig{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "kotoba-engine",
	}
	if cfg != nil {
		if err := utils.UnmarshalConfig(cfg, redisConfig); err != nil {
			return nil, types.WrapError(err, "failed to remarshal redis cache config")
		}
	}

	ttl := DefaultTTL
	capacity := 0
	if tier != nil {
		if tier.DefaultTTL > 0 {
			ttl = tier.DefaultTTL
		}
		capacity = tier.Capacity
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
		Password:     redisConfig.Password,
		DB:           redisConfig.DB,
		PoolSize:     redisConfig.PoolSize,
		DialTimeout:  redisConfig.DialTimeout,
		ReadTimeout:  redisConfig.ReadTimeout,
		WriteTimeout: redisConfig.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisConfig.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, types.WrapError(err, "failed to connect to redis")
	}

	return &RedisStore{
		ctx:        ctx,
		name:       name,
		logger:     logger,
		client:     client,
		keyPrefix:  redisConfig.KeyPrefix + ":" + name + ":",
		capacity:   capacity,
		defaultTTL: ttl,
		latencies:  newLatencyWindow(latencyWindowSize),
	}, nil
}

func (r *RedisStore) Get(key string) (types.CachedValue, bool) {
	start := time.Now()
	defer func() {
		r.latencies.Record(time.Since(start))
	}()

	result, err := r.client.Get(r.ctx, r.keyPrefix+key).Result()
	if err != nil {
		if !types.IsError(err, redis.Nil) {
			r.logger.Error("Failed to get cache entry",
				zap.String("tier", r.name),
				zap.String("key", key),
				zap.Error(err))
		}
		atomic.AddUint64(&r.misses, 1)
		return types.CachedValue{}, false
	}

	var envelope redisEnvelope
	if err := utils.Unmarshal([]byte(result), &envelope); err != nil {
		r.logger.Error("Failed to unmarshal cache entry",
			zap.String("tier", r.name),
			zap.String("key", key),
			zap.Error(err))
		r.client.Del(r.ctx, r.keyPrefix+key)
		atomic.AddUint64(&r.misses, 1)
		return types.CachedValue{}, false
	}

	atomic.AddUint64(&r.hits, 1)
	return envelope.Value, true
}

func (r *RedisStore) Set(key string, value types.CachedValue, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	data, err := utils.Marshal(&redisEnvelope{Value: value, CreatedAt: time.Now()})
	if err != nil {
		return types.WrapError(err, "failed to marshal cache entry")
	}

	return r.client.Set(r.ctx, r.keyPrefix+key, data, ttl).Err()
}

func (r *RedisStore) Delete(key string) bool {
	deleted, err := r.client.Del(r.ctx, r.keyPrefix+key).Result()
	if err != nil {
		r.logger.Error("Failed to delete cache entry",
			zap.String("tier", r.name),
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	return deleted > 0
}

func (r *RedisStore) Has(key string) bool {
	exists, err := r.client.Exists(r.ctx, r.keyPrefix+key).Result()
	return err == nil && exists > 0
}

func (r *RedisStore) Clear() {
	iter := r.client.Scan(r.ctx, 0, r.keyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(r.ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		r.logger.Error("Failed to scan cache keys for clear",
			zap.String("tier", r.name),
			zap.Error(err))
		return
	}

	if len(keys) > 0 {
		if err := r.client.Del(r.ctx, keys...).Err(); err != nil {
			r.logger.Error("Failed to clear cache tier",
				zap.String("tier", r.name),
				zap.Error(err))
			return
		}
	}

	r.logger.Debug("Cache tier cleared",
		zap.String("tier", r.name),
		zap.Int("cleared_entries", len(keys)))
}

// SweepExpired is a no-op: redis expires keys natively.
func (r *RedisStore) SweepExpired() int {
	return 0
}

// Optimize is a no-op: memory pressure is handled by the redis maxmemory
// policy, not by this client.
func (r *RedisStore) Optimize(targetFillRate float64) int {
	return 0
}

func (r *RedisStore) Preload(entries map[string]types.CachedValue) int {
	loaded := 0
	for key, value := range entries {
		if key == "" || r.Has(key) {
			continue
		}
		if err := r.Set(key, value, r.defaultTTL); err == nil {
			loaded++
		}
	}
	return loaded
}

func (r *RedisStore) Stats() types.CacheStats {
	hits := atomic.LoadUint64(&r.hits)
	misses := atomic.LoadUint64(&r.misses)

	stats := types.CacheStats{
		Hits:          hits,
		Misses:        misses,
		Capacity:      r.capacity,
		AvgAccessTime: r.latencies.Average(),
	}

	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}

	size, err := r.countKeys()
	if err == nil {
		stats.Size = size
		if r.capacity > 0 {
			stats.FillRate = float64(size) / float64(r.capacity)
		}
	}

	return stats
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) countKeys() (int, error) {
	count := 0
	iter := r.client.Scan(r.ctx, 0, r.keyPrefix+"*", 0).Iterator()
	for iter.Next(r.ctx) {
		count++
	}
	return count, iter.Err()
}
