package types

import (
	"time"
)

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

type HealthStatus string

type MetricsManager interface {
	LifecycleManager
	Counter(name string, labels map[string]string) Counter
	Gauge(name string, labels map[string]string) Gauge
	Histogram(name string, buckets []float64, labels map[string]string) Histogram
	RecordRequest(operation string, duration time.Duration, err error)
	SnapshotMemory()
	Report() PerformanceReport
	Export() ([]byte, error)
}

type Counter interface {
	Inc()
	Add(value float64)
	Get() float64
}

type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Get() float64
}

type Histogram interface {
	Observe(value float64)
	ObserveDuration(start time.Time)
	GetCount() uint64
	GetSum() float64
}

type MemorySnapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	HeapAllocBytes uint64    `json:"heap_alloc_bytes"`
	HeapSysBytes   uint64    `json:"heap_sys_bytes"`
	NumGC          uint32    `json:"num_gc"`
	Goroutines     int       `json:"goroutines"`
	UsedPercent    float64   `json:"used_percent"`
}

// PerformanceReport is the aggregated view consumed by the external
// dashboard: request outcomes over the rolling window, cache hit rate as
// forwarded by the registry, the latest memory snapshot, a derived health
// classification and advisory recommendations.
type PerformanceReport struct {
	GeneratedAt     time.Time      `json:"generated_at"`
	Uptime          time.Duration  `json:"uptime"`
	Requests        uint64         `json:"requests"`
	Errors          uint64         `json:"errors"`
	ErrorRate       float64        `json:"error_rate"`
	AvgLatency      time.Duration  `json:"avg_latency"`
	CacheHitRate    float64        `json:"cache_hit_rate"`
	Memory          MemorySnapshot `json:"memory"`
	Health          HealthStatus   `json:"health"`
	Recommendations []string       `json:"recommendations"`
}
