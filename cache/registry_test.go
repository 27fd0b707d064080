package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-works/kotoba-engine/logger"
	"github.com/kotoba-works/kotoba-engine/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	registry, err := NewRegistry(context.Background(), logger.NewNopLogger(), nil, &types.CacheConfig{
		Backend: "memory",
		Tiers: map[string]*types.TierConfig{
			types.TierAnalysis:    {Capacity: 4, DefaultTTL: time.Minute},
			types.TierDefinitions: {Capacity: 8, DefaultTTL: time.Minute},
		},
	})
	require.NoError(t, err)
	return registry
}

func TestRegistryRoutesByTier(t *testing.T) {
	registry := newTestRegistry(t)

	require.NoError(t, registry.Set(types.TierDefinitions, "w", defValue("w"), 0))

	_, ok := registry.Get(types.TierAnalysis, "w")
	assert.False(t, ok, "tiers must be isolated")

	value, ok := registry.Get(types.TierDefinitions, "w")
	require.True(t, ok)
	assert.Equal(t, "w", value.Definition.Record.Surface)
}

func TestRegistryUnknownTier(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := registry.Tier("bogus")
	assert.ErrorIs(t, err, types.ErrCacheTierUnknown)

	err = registry.Set("bogus", "k", defValue("v"), 0)
	assert.ErrorIs(t, err, types.ErrCacheTierUnknown)
}

func TestRegistryAggregateStats(t *testing.T) {
	registry := newTestRegistry(t)

	require.NoError(t, registry.Set(types.TierAnalysis, "a", defValue("a"), 0))
	require.NoError(t, registry.Set(types.TierDefinitions, "d", defValue("d"), 0))

	registry.Get(types.TierAnalysis, "a")       // hit
	registry.Get(types.TierDefinitions, "d")    // hit
	registry.Get(types.TierDefinitions, "miss") // miss

	stats := registry.Stats()
	assert.Len(t, stats.Tiers, 2)
	assert.Equal(t, uint64(2), stats.Aggregate.Hits)
	assert.Equal(t, uint64(1), stats.Aggregate.Misses)
	assert.Equal(t, 2, stats.Aggregate.Size)
	assert.Equal(t, 12, stats.Aggregate.Capacity)
	assert.InDelta(t, 2.0/3.0, stats.Aggregate.HitRate, 1e-9)
}

func TestRegistryClearAllAndOptimizeAll(t *testing.T) {
	registry := newTestRegistry(t)

	for _, tier := range registry.TierNames() {
		require.NoError(t, registry.Set(tier, "k1", defValue("v"), 0))
		require.NoError(t, registry.Set(tier, "k2", defValue("v"), 0))
	}

	// analysis capacity 4 -> target 1 (removes 1); definitions capacity 8 ->
	// target 2 (removes 0).
	removed := registry.OptimizeAll(0.25)
	assert.Equal(t, 1, removed)

	registry.ClearAll()
	assert.Equal(t, 0, registry.Stats().Aggregate.Size)
}

func TestRegistryPreload(t *testing.T) {
	registry := newTestRegistry(t)

	loaded, err := registry.Preload(types.TierDefinitions, map[string]types.CachedValue{
		"x": defValue("x"),
		"y": defValue("y"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)

	_, err = registry.Preload("bogus", nil)
	assert.ErrorIs(t, err, types.ErrCacheTierUnknown)
}

func TestRegistrySweepAll(t *testing.T) {
	registry := newTestRegistry(t)

	require.NoError(t, registry.Set(types.TierAnalysis, "tmp", defValue("tmp"), 20*time.Millisecond))
	require.NoError(t, registry.Set(types.TierDefinitions, "keep", defValue("keep"), time.Minute))

	time.Sleep(40 * time.Millisecond)

	assert.Equal(t, 1, registry.SweepAll())
	assert.Equal(t, 1, registry.Stats().Aggregate.Size)
}
