package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/kotoba-works/kotoba-engine/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(configPath string) (*types.EngineConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.WrapError(err, "file not found: "+configPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.WrapError(err, "failed to parse YAML config")
	}

	if err := l.Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

func (l *Loader) Validate(config *types.EngineConfig) error {
	if config == nil {
		return types.ErrConfigIsNil
	}

	if err := l.validator.Struct(config); err != nil {
		return types.WrapError(err, "config validation failed")
	}

	return nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

// Defaults returns a complete configuration with every knob at its
// documented default. Loaded files override field by field.
func (l *Loader) Defaults() *types.EngineConfig {
	return &types.EngineConfig{
		Name:    "kotoba-engine",
		Version: "0.1.0",
		Logger: &types.LoggerConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Cache: &types.CacheConfig{
			Backend: "memory",
			Tiers: map[string]*types.TierConfig{
				types.TierAnalysis:    {Capacity: 500, DefaultTTL: 5 * time.Minute},
				types.TierDefinitions: {Capacity: 5000, DefaultTTL: time.Hour},
				types.TierFrequent:    {Capacity: 2000, DefaultTTL: 24 * time.Hour},
			},
		},
		Breakers: map[string]*types.BreakerConfig{
			"analysis":   {FailureThreshold: 5, ResetTimeout: 60 * time.Second},
			"ocr":        {FailureThreshold: 5, ResetTimeout: 60 * time.Second},
			"dictionary": {FailureThreshold: 10, ResetTimeout: 30 * time.Second},
		},
		Dedup: &types.DedupConfig{
			MaxAge: 2 * time.Minute,
		},
		Batch: &types.BatchConfig{
			MaxSize:      10,
			MaxIdleTime:  50 * time.Millisecond,
			FlushTimeout: 30 * time.Second,
		},
		Dictionary: &types.DictionaryConfig{
			Backend:      "memory",
			QueryTimeout: 5 * time.Second,
		},
		Lookup: &types.LookupConfig{
			MaxCandidates: 12,
			FuzzyLimit:    5,
			NegativeTTL:   15 * time.Minute,
		},
		Metrics: &types.MetricsConfig{
			Backend:      "memory",
			SampleWindow: 1000,
			Thresholds: &types.HealthThresholds{
				ErrorRateWarning:    0.05,
				ErrorRateCritical:   0.20,
				MemoryWarning:       75,
				MemoryCritical:      90,
				AvgLatencyWarning:   500 * time.Millisecond,
				AvgLatencyCritical:  2 * time.Second,
				CacheHitRateMinimum: 0.5,
			},
		},
		Sweeps: &types.SweepConfig{
			CacheExpiry:    "@every 1m",
			DedupSafety:    "@every 30s",
			MemorySnapshot: "@every 15s",
			Timezone:       "UTC",
		},
	}
}
