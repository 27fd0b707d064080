package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *EngineConfig
}

type EngineConfig struct {
	Name         string                       `yaml:"name" json:"name" validate:"required"`
	Version      string                       `yaml:"version" json:"version"`
	Logger       *LoggerConfig                `yaml:"logger" json:"logger"`
	Cache        *CacheConfig                 `yaml:"cache" json:"cache"`
	Breakers     map[string]*BreakerConfig    `yaml:"breakers" json:"breakers"`
	Dedup        *DedupConfig                 `yaml:"dedup" json:"dedup"`
	Batch        *BatchConfig                 `yaml:"batch" json:"batch"`
	Dictionary   *DictionaryConfig            `yaml:"dictionary" json:"dictionary"`
	Dependencies map[string]*DependencyConfig `yaml:"dependencies" json:"dependencies"`
	Lookup       *LookupConfig                `yaml:"lookup" json:"lookup"`
	Metrics      *MetricsConfig               `yaml:"metrics" json:"metrics"`
	Sweeps       *SweepConfig                 `yaml:"sweeps" json:"sweeps"`
}

type LoggerConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

type CacheConfig struct {
	// Backend selects the store implementation for every tier:
	// "memory" (default) or "redis".
	Backend string                 `yaml:"backend" json:"backend"`
	Redis   *RedisConfig           `yaml:"redis" json:"redis"`
	Tiers   map[string]*TierConfig `yaml:"tiers" json:"tiers" validate:"required,min=1"`
}

type TierConfig struct {
	Capacity   int           `yaml:"capacity" json:"capacity" validate:"min=1"`
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
}

type RedisConfig struct {
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port" validate:"omitempty,min=1,max=65535"`
	Password     string        `yaml:"password" json:"password"`
	DB           int           `yaml:"db" json:"db"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	KeyPrefix    string        `yaml:"key_prefix" json:"key_prefix"`
}

type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold" validate:"min=1"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" json:"reset_timeout" validate:"min=0"`
}

type DedupConfig struct {
	// MaxAge bounds how long an in-flight entry may live before the safety
	// sweep forgets it.
	MaxAge time.Duration `yaml:"max_age" json:"max_age" validate:"min=0"`
}

type BatchConfig struct {
	MaxSize     int           `yaml:"max_size" json:"max_size" validate:"min=1"`
	MaxIdleTime time.Duration `yaml:"max_idle_time" json:"max_idle_time" validate:"min=0"`
	// FlushTimeout bounds one bulk processor invocation.
	FlushTimeout time.Duration `yaml:"flush_timeout" json:"flush_timeout"`
}

type DictionaryConfig struct {
	// Backend: "memory", "sqlite" or "clover".
	Backend      string        `yaml:"backend" json:"backend"`
	Path         string        `yaml:"path" json:"path"`
	QueryTimeout time.Duration `yaml:"query_timeout" json:"query_timeout"`
	// Breaker names the circuit breaker guarding store queries when the
	// store is a remote dependency; empty means unguarded.
	Breaker string `yaml:"breaker" json:"breaker"`
}

type DependencyConfig struct {
	URL     string        `yaml:"url" json:"url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	Retries int           `yaml:"retries" json:"retries" validate:"min=0"`
	Breaker string        `yaml:"breaker" json:"breaker"`
}

type LookupConfig struct {
	MaxCandidates int           `yaml:"max_candidates" json:"max_candidates" validate:"min=1"`
	FuzzyLimit    int           `yaml:"fuzzy_limit" json:"fuzzy_limit" validate:"min=1"`
	NegativeTTL   time.Duration `yaml:"negative_ttl" json:"negative_ttl"`
}

type MetricsConfig struct {
	// Backend: "memory" (default) or "prometheus".
	Backend      string            `yaml:"backend" json:"backend"`
	SampleWindow int               `yaml:"sample_window" json:"sample_window"`
	MemoryLimit  uint64            `yaml:"memory_limit" json:"memory_limit"`
	Thresholds   *HealthThresholds `yaml:"thresholds" json:"thresholds"`
}

type HealthThresholds struct {
	ErrorRateWarning    float64       `yaml:"error_rate_warning" json:"error_rate_warning"`
	ErrorRateCritical   float64       `yaml:"error_rate_critical" json:"error_rate_critical"`
	MemoryWarning       float64       `yaml:"memory_warning" json:"memory_warning"`
	MemoryCritical      float64       `yaml:"memory_critical" json:"memory_critical"`
	AvgLatencyWarning   time.Duration `yaml:"avg_latency_warning" json:"avg_latency_warning"`
	AvgLatencyCritical  time.Duration `yaml:"avg_latency_critical" json:"avg_latency_critical"`
	CacheHitRateMinimum float64       `yaml:"cache_hit_rate_minimum" json:"cache_hit_rate_minimum"`
}

type SweepConfig struct {
	CacheExpiry    string `yaml:"cache_expiry" json:"cache_expiry"`
	DedupSafety    string `yaml:"dedup_safety" json:"dedup_safety"`
	MemorySnapshot string `yaml:"memory_snapshot" json:"memory_snapshot"`
	Timezone       string `yaml:"timezone" json:"timezone"`
}
