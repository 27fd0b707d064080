package config

import (
	"sync/atomic"

	"github.com/kotoba-works/kotoba-engine/types"
)

type Manager struct {
	config     atomic.Pointer[types.EngineConfig]
	configPath string
	loader     *Loader
}

func NewManager(configPath string) (*Manager, error) {
	m := &Manager{
		configPath: configPath,
		loader:     NewLoader(),
	}

	if err := m.Load(); err != nil {
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return m, nil
}

// NewManagerFromConfig wraps an already-built configuration, filling nil
// sections with defaults. Used when the engine is embedded as a library and
// the host application owns config loading.
func NewManagerFromConfig(cfg *types.EngineConfig) (*Manager, error) {
	if cfg == nil {
		return nil, types.ErrConfigIsNil
	}

	loader := NewLoader()
	merged := mergeDefaults(loader.Defaults(), cfg)

	if err := loader.Validate(merged); err != nil {
		return nil, err
	}

	m := &Manager{loader: loader}
	m.config.Store(merged)
	return m, nil
}

func (m *Manager) Load() error {
	cfg, err := m.loader.LoadFromFile(m.configPath)
	if err != nil {
		return err
	}

	m.config.Store(cfg)
	return nil
}

func (m *Manager) GetConfig() *types.EngineConfig {
	return m.config.Load()
}

func mergeDefaults(def, cfg *types.EngineConfig) *types.EngineConfig {
	merged := *cfg

	if merged.Name == "" {
		merged.Name = def.Name
	}
	if merged.Version == "" {
		merged.Version = def.Version
	}
	if merged.Logger == nil {
		merged.Logger = def.Logger
	}
	if merged.Cache == nil {
		merged.Cache = def.Cache
	}
	if merged.Breakers == nil {
		merged.Breakers = def.Breakers
	}
	if merged.Dedup == nil {
		merged.Dedup = def.Dedup
	}
	if merged.Batch == nil {
		merged.Batch = def.Batch
	}
	if merged.Dictionary == nil {
		merged.Dictionary = def.Dictionary
	}
	if merged.Lookup == nil {
		merged.Lookup = def.Lookup
	}
	if merged.Metrics == nil {
		merged.Metrics = def.Metrics
	} else if merged.Metrics.Thresholds == nil {
		merged.Metrics.Thresholds = def.Metrics.Thresholds
	}
	if merged.Sweeps == nil {
		merged.Sweeps = def.Sweeps
	}

	return &merged
}
