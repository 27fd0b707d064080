package cache

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kotoba-works/kotoba-engine/types"
)

// Registry owns the fixed set of named cache tiers. Membership is immutable
// after construction; every operation routes by tier name. Registry-level
// get/set are instrumented into the metrics manager so the collector sees
// hit/miss traffic without the stores knowing about it.
type Registry struct {
	logger  types.Logger
	metrics types.MetricsManager
	tiers   map[string]types.CacheStore
	names   []string
}

func NewRegistry(ctx context.Context, logger types.Logger, metrics types.MetricsManager, cfg *types.CacheConfig) (*Registry, error) {
	if cfg == nil || len(cfg.Tiers) == 0 {
		return nil, types.ErrConfigIsNil
	}

	backend := cfg.Backend
	if backend == "" {
		backend = "memory"
	}

	tiers := make(map[string]types.CacheStore, len(cfg.Tiers))
	names := make([]string, 0, len(cfg.Tiers))

	for name, tierCfg := range cfg.Tiers {
		var store types.CacheStore
		var err error

		switch backend {
		case "memory":
			store = NewMemoryStore(name, logger, tierCfg)
		case "redis":
			store, err = NewRedisStore(ctx, name, logger, cfg.Redis, tierCfg)
		default:
			err = types.Errorf(types.ErrCacheTypeUnknown, "backend: %s", backend)
		}

		if err != nil {
			return nil, err
		}

		tiers[name] = store
		names = append(names, name)
	}

	sort.Strings(names)

	logger.Info("Cache registry initialized",
		zap.String("backend", backend),
		zap.Strings("tiers", names))

	return &Registry{
		logger:  logger,
		metrics: metrics,
		tiers:   tiers,
		names:   names,
	}, nil
}

func (r *Registry) Tier(name string) (types.CacheStore, error) {
	store, exists := r.tiers[name]
	if !exists {
		return nil, types.Errorf(types.ErrCacheTierUnknown, "tier: %s", name)
	}
	return store, nil
}

func (r *Registry) TierNames() []string {
	return r.names
}

func (r *Registry) Get(tier, key string) (types.CachedValue, bool) {
	store, err := r.Tier(tier)
	if err != nil {
		return types.CachedValue{}, false
	}

	start := time.Now()
	value, exists := store.Get(key)
	r.recordMetric(tier, "get", hitOrMiss(exists), time.Since(start))

	return value, exists
}

func (r *Registry) Set(tier, key string, value types.CachedValue, ttl time.Duration) error {
	store, err := r.Tier(tier)
	if err != nil {
		return err
	}

	start := time.Now()
	err = store.Set(key, value, ttl)

	result := "success"
	if err != nil {
		result = "error"
	}
	r.recordMetric(tier, "set", result, time.Since(start))

	return err
}

func (r *Registry) Delete(tier, key string) bool {
	store, err := r.Tier(tier)
	if err != nil {
		return false
	}
	return store.Delete(key)
}

func (r *Registry) Clear(tier string) error {
	store, err := r.Tier(tier)
	if err != nil {
		return err
	}
	store.Clear()
	return nil
}

func (r *Registry) ClearAll() {
	for _, name := range r.names {
		r.tiers[name].Clear()
	}
	r.logger.Info("All cache tiers cleared")
}

func (r *Registry) Optimize(tier string, targetFillRate float64) (int, error) {
	store, err := r.Tier(tier)
	if err != nil {
		return 0, err
	}
	return store.Optimize(targetFillRate), nil
}

func (r *Registry) OptimizeAll(targetFillRate float64) int {
	removed := 0
	for _, name := range r.names {
		removed += r.tiers[name].Optimize(targetFillRate)
	}
	return removed
}

func (r *Registry) Preload(tier string, entries map[string]types.CachedValue) (int, error) {
	store, err := r.Tier(tier)
	if err != nil {
		return 0, err
	}
	return store.Preload(entries), nil
}

// SweepAll runs the expiry sweep on every tier. Called by the scheduler.
func (r *Registry) SweepAll() int {
	expired := 0
	for _, name := range r.names {
		expired += r.tiers[name].SweepExpired()
	}
	return expired
}

// Stats returns per-tier statistics alongside a sum across tiers. Per-tier
// counters are exact; the aggregate is assembled tier by tier and may be
// momentarily inconsistent under concurrent traffic.
func (r *Registry) Stats() types.RegistryStats {
	stats := types.RegistryStats{
		Tiers: make(map[string]types.CacheStats, len(r.tiers)),
	}

	for _, name := range r.names {
		tierStats := r.tiers[name].Stats()
		stats.Tiers[name] = tierStats

		stats.Aggregate.Hits += tierStats.Hits
		stats.Aggregate.Misses += tierStats.Misses
		stats.Aggregate.Evictions += tierStats.Evictions
		stats.Aggregate.Size += tierStats.Size
		stats.Aggregate.Capacity += tierStats.Capacity
		stats.Aggregate.EstimatedMemoryBytes += tierStats.EstimatedMemoryBytes
	}

	if total := stats.Aggregate.Hits + stats.Aggregate.Misses; total > 0 {
		stats.Aggregate.HitRate = float64(stats.Aggregate.Hits) / float64(total)
	}
	if stats.Aggregate.Capacity > 0 {
		stats.Aggregate.FillRate = float64(stats.Aggregate.Size) / float64(stats.Aggregate.Capacity)
	}

	return stats
}

func (r *Registry) Close() error {
	var firstErr error
	for _, name := range r.names {
		if err := r.tiers[name].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Registry) recordMetric(tier, operation, result string, duration time.Duration) {
	if r.metrics == nil {
		return
	}

	counter := r.metrics.Counter("cache_operations_total", map[string]string{
		"tier":      tier,
		"operation": operation,
		"result":    result,
	})
	counter.Inc()

	histogram := r.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.000001, 0.00001, 0.0001, 0.001, 0.01},
		map[string]string{"tier": tier, "operation": operation},
	)
	histogram.Observe(duration.Seconds())
}

func hitOrMiss(exists bool) string {
	if exists {
		return "hit"
	}
	return "miss"
}
