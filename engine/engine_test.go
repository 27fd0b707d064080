package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-works/kotoba-engine/types"
	"github.com/kotoba-works/kotoba-engine/utils"
)

func writeDictionaryFixture(t *testing.T) string {
	t.Helper()

	records := []types.DefinitionRecord{
		{ID: 1, Surface: "猫", Reading: "ねこ", PartOfSpeech: "noun", Glosses: []string{"cat"}},
		{ID: 2, Surface: "猫舌", Reading: "ねこじた", PartOfSpeech: "noun", Glosses: []string{"sensitivity to hot food"}},
		{ID: 3, Surface: "取り除く", Reading: "とりのぞく", PartOfSpeech: "verb", Glosses: []string{"to remove"}},
		{ID: 4, Surface: "たくさん", Reading: "たくさん", PartOfSpeech: "adverb", Glosses: []string{"a lot"}},
	}

	data, err := utils.Marshal(records)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "dictionary.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newTestConfig(t *testing.T) *types.EngineConfig {
	t.Helper()

	return &types.EngineConfig{
		Name:    "kotoba-engine-test",
		Version: "0.0.0",
		Logger:  &types.LoggerConfig{Level: "error"},
		Cache: &types.CacheConfig{
			Backend: "memory",
			Tiers: map[string]*types.TierConfig{
				types.TierDefinitions: {Capacity: 128, DefaultTTL: time.Minute},
				types.TierAnalysis:    {Capacity: 32, DefaultTTL: time.Minute},
			},
		},
		Dictionary: &types.DictionaryConfig{Backend: "memory", Path: writeDictionaryFixture(t)},
		Batch:      &types.BatchConfig{MaxSize: 4, MaxIdleTime: 20 * time.Millisecond},
		Lookup:     &types.LookupConfig{MaxCandidates: 12, FuzzyLimit: 5, NegativeTTL: time.Minute},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	e, err := New(context.Background(), newTestConfig(t))
	require.NoError(t, err)
	require.NoError(t, e.Start())

	t.Cleanup(func() {
		if e.IsRunning() {
			require.NoError(t, e.Stop())
		}
	})

	return e
}

func TestEngineRequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.ErrorIs(t, err, types.ErrConfigIsNil)
}

func TestEngineLifecycle(t *testing.T) {
	e, err := New(context.Background(), newTestConfig(t))
	require.NoError(t, err)

	_, lookupErr := e.Lookup(context.Background(), "猫")
	assert.ErrorIs(t, lookupErr, types.ErrEngineNotRunning)

	require.NoError(t, e.Start())
	assert.True(t, e.IsRunning())
	assert.ErrorIs(t, e.Start(), types.ErrEngineAlreadyRunning)

	require.NoError(t, e.Stop())
	assert.False(t, e.IsRunning())
	assert.ErrorIs(t, e.Stop(), types.ErrEngineNotRunning)
}

func TestEngineLookupResolvesExactForm(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.Lookup(context.Background(), "猫")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "猫", result.Query)
	assert.Equal(t, types.MatchExact, result.MatchType)
	assert.Equal(t, []string{"cat"}, result.Record.Glosses)
}

func TestEngineLookupResolvesInflectedForm(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.Lookup(context.Background(), "取り除いて")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "取り除く", result.MatchedForm)
	assert.Equal(t, types.MatchVariant, result.MatchType)
}

func TestEngineLookupConfirmedAbsent(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.Lookup(context.Background(), "存在しない言葉です")
	require.NoError(t, err)
	assert.Nil(t, result)

	// Second call is answered from the negative cache.
	result, err = e.Lookup(context.Background(), "存在しない言葉です")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestEngineLookupIsCached(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Lookup(context.Background(), "猫舌")
	require.NoError(t, err)
	_, err = e.Lookup(context.Background(), "猫舌")
	require.NoError(t, err)

	stats := e.CacheStats()
	assert.Greater(t, stats.Tiers[types.TierDefinitions].Hits, uint64(0))
}

func TestEngineLookupMany(t *testing.T) {
	e := newTestEngine(t)

	results, err := e.LookupMany(context.Background(), []string{"猫", "未知語句エントリ", "たくさん"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.NotNil(t, results[0])
	assert.Equal(t, "猫", results[0].Record.Surface)
	assert.Nil(t, results[1])
	require.NotNil(t, results[2])
	assert.Equal(t, "たくさん", results[2].Record.Surface)
}

func TestEngineAnalyzeFallsBackWithoutService(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.Analyze(context.Background(), &types.AnalyzeRequest{Text: "猫が好き desu 123"})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, types.AnalysisSourceFallback, result.Source)

	surfaces := make([]string, 0, len(result.Tokens))
	for _, token := range result.Tokens {
		surfaces = append(surfaces, token.Surface)
	}
	assert.Equal(t, []string{"猫", "が", "好", "き", "desu", "123"}, surfaces)
}

func TestEngineAnalyzeRejectsEmptyText(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Analyze(context.Background(), &types.AnalyzeRequest{})
	assert.ErrorIs(t, err, types.ErrAnalyzeTextEmpty)

	_, err = e.Analyze(context.Background(), nil)
	assert.ErrorIs(t, err, types.ErrAnalyzeTextEmpty)
}

func TestEngineClearAllDropsCachedEntries(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Lookup(context.Background(), "猫")
	require.NoError(t, err)

	e.ClearAll()

	stats := e.CacheStats()
	assert.Equal(t, 0, stats.Aggregate.Size)
}

func TestEnginePerformanceReport(t *testing.T) {
	e := newTestEngine(t)

	for i := 0; i < 5; i++ {
		_, err := e.Lookup(context.Background(), "猫")
		require.NoError(t, err)
	}

	report := e.PerformanceReport()
	assert.Equal(t, uint64(5), report.Requests)
	assert.Equal(t, types.HealthHealthy, report.Health)
	assert.Greater(t, report.CacheHitRate, 0.0)
}

func TestEngineBreakerStatesEmptyByDefault(t *testing.T) {
	e := newTestEngine(t)
	assert.Empty(t, e.BreakerStates())
}

func TestEngineDedupCountsSharedWork(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Lookup(context.Background(), "猫")
	require.NoError(t, err)

	stats := e.DedupStats()
	assert.GreaterOrEqual(t, stats.Executed, uint64(1))
	assert.Equal(t, 0, stats.InFlight)
}
