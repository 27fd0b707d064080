package engine

import (
	"github.com/kotoba-works/kotoba-engine/batch"
	"github.com/kotoba-works/kotoba-engine/cron"
	"github.com/kotoba-works/kotoba-engine/dedup"
	"github.com/kotoba-works/kotoba-engine/types"
)

// DefaultOptimizeFillRate is the fraction of capacity a tier is trimmed down
// to when an optimize call does not name its own target.
const DefaultOptimizeFillRate = 0.8

// CacheStats returns per-tier and aggregate cache statistics and publishes
// the aggregate hit rate so performance reports can classify it.
func (e *Engine) CacheStats() types.RegistryStats {
	stats := e.registry.Stats()
	e.publishCacheHitRate()
	return stats
}

func (e *Engine) TierStats(tier string) (types.CacheStats, error) {
	store, err := e.registry.Tier(tier)
	if err != nil {
		return types.CacheStats{}, err
	}
	return store.Stats(), nil
}

func (e *Engine) ClearTier(tier string) error {
	return e.registry.Clear(tier)
}

func (e *Engine) ClearAll() {
	e.registry.ClearAll()
}

// OptimizeTier evicts the coldest entries of a tier until it sits at the
// target fill rate. A non-positive target uses DefaultOptimizeFillRate.
func (e *Engine) OptimizeTier(tier string, targetFillRate float64) (int, error) {
	if targetFillRate <= 0 {
		targetFillRate = DefaultOptimizeFillRate
	}
	return e.registry.Optimize(tier, targetFillRate)
}

func (e *Engine) OptimizeAll(targetFillRate float64) int {
	if targetFillRate <= 0 {
		targetFillRate = DefaultOptimizeFillRate
	}
	return e.registry.OptimizeAll(targetFillRate)
}

// PreloadTier warms a tier with known-hot entries, typically at startup.
func (e *Engine) PreloadTier(tier string, entries map[string]types.CachedValue) (int, error) {
	return e.registry.Preload(tier, entries)
}

func (e *Engine) BreakerStates() []types.BreakerSnapshot {
	return e.breakers.States()
}

func (e *Engine) ResetBreakers() {
	e.breakers.ResetAll()
}

func (e *Engine) PerformanceReport() types.PerformanceReport {
	e.publishCacheHitRate()
	return e.metrics.Report()
}

func (e *Engine) ExportMetrics() ([]byte, error) {
	return e.metrics.Export()
}

func (e *Engine) SweepJobs() []cron.JobEntry {
	return e.scheduler.Jobs()
}

func (e *Engine) DedupStats() dedup.Stats {
	return e.dedup.Stats()
}

func (e *Engine) BatchStats() batch.Stats {
	return e.batch.Stats()
}

// publishCacheHitRate copies the registry's aggregate hit rate into the
// metrics gauge the health classifier reads.
func (e *Engine) publishCacheHitRate() {
	stats := e.registry.Stats()
	if stats.Aggregate.Hits+stats.Aggregate.Misses == 0 {
		return
	}
	e.metrics.Gauge("cache_hit_rate", nil).Set(stats.Aggregate.HitRate)
}

func (e *Engine) Name() string    { return e.config.Name }
func (e *Engine) Version() string { return e.config.Version }
