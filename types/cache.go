package types

import (
	"time"
)

// Well-known cache tier names. The registry membership is fixed at
// construction; these are the tiers the engine itself routes to.
const (
	TierAnalysis    = "analysis"
	TierDefinitions = "definitions"
	TierFrequent    = "frequent"
)

// CachedValue is the tagged payload stored in every cache tier. Absent marks
// a confirmed negative lookup so callers can distinguish "not yet cached"
// (store returns ok=false) from "confirmed not found" (ok=true, Absent=true).
type CachedValue struct {
	Absent     bool              `json:"absent"`
	Definition *DefinitionResult `json:"definition,omitempty"`
	Analysis   *AnalysisResult   `json:"analysis,omitempty"`
}

func CachedDefinition(result *DefinitionResult) CachedValue {
	return CachedValue{Definition: result}
}

func CachedAnalysis(result *AnalysisResult) CachedValue {
	return CachedValue{Analysis: result}
}

func ConfirmedAbsent() CachedValue {
	return CachedValue{Absent: true}
}

type CacheStore interface {
	Get(key string) (CachedValue, bool)
	Set(key string, value CachedValue, ttl time.Duration) error
	Delete(key string) bool
	Has(key string) bool
	Clear()
	SweepExpired() int
	Optimize(targetFillRate float64) int
	Preload(entries map[string]CachedValue) int
	Stats() CacheStats
	Close() error
}

type CacheStats struct {
	Hits                 uint64        `json:"hits"`
	Misses               uint64        `json:"misses"`
	Evictions            uint64        `json:"evictions"`
	Size                 int           `json:"size"`
	Capacity             int           `json:"capacity"`
	HitRate              float64       `json:"hit_rate"`
	FillRate             float64       `json:"fill_rate"`
	EstimatedMemoryBytes int64         `json:"estimated_memory_bytes"`
	AvgAccessTime        time.Duration `json:"avg_access_time"`
}

type RegistryStats struct {
	Tiers     map[string]CacheStats `json:"tiers"`
	Aggregate CacheStats            `json:"aggregate"`
}
