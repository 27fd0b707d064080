package metrics

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kotoba-works/kotoba-engine/types"
	"github.com/kotoba-works/kotoba-engine/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	DefaultSampleWindow = 512
	// DefaultMemoryLimit is the budget against which heap usage percent is
	// computed when the config does not set one.
	DefaultMemoryLimit = 512 * 1024 * 1024
)

func defaultThresholds() *types.HealthThresholds {
	return &types.HealthThresholds{
		ErrorRateWarning:    0.05,
		ErrorRateCritical:   0.20,
		MemoryWarning:       75,
		MemoryCritical:      90,
		AvgLatencyWarning:   500 * time.Millisecond,
		AvgLatencyCritical:  2 * time.Second,
		CacheHitRateMinimum: 0.5,
	}
}

// MemoryMetrics keeps counters, gauges and histograms in process memory
// and derives the performance report from a rolling latency window plus
// the latest memory snapshot.
type MemoryMetrics struct {
	logger      types.Logger
	thresholds  *types.HealthThresholds
	memoryLimit uint64
	startedAt   time.Time

	mu         sync.RWMutex
	counters   map[string]*MemoryCounter
	gauges     map[string]*MemoryGauge
	histograms map[string]*MemoryHistogram

	requests  uint64
	errors    uint64
	latencies *latencyRing
	memory    atomic.Pointer[types.MemorySnapshot]

	state atomic.Value
}

func NewMemoryMetrics(logger types.Logger, config *types.MetricsConfig) (*MemoryMetrics, error) {
	sampleWindow := DefaultSampleWindow
	memoryLimit := uint64(DefaultMemoryLimit)
	thresholds := defaultThresholds()

	if config != nil {
		if config.SampleWindow > 0 {
			sampleWindow = config.SampleWindow
		}
		if config.MemoryLimit > 0 {
			memoryLimit = config.MemoryLimit
		}
		if config.Thresholds != nil {
			thresholds = config.Thresholds
		}
	}

	m := &MemoryMetrics{
		logger:      logger,
		thresholds:  thresholds,
		memoryLimit: memoryLimit,
		counters:    make(map[string]*MemoryCounter),
		gauges:      make(map[string]*MemoryGauge),
		histograms:  make(map[string]*MemoryHistogram),
		latencies:   newLatencyRing(sampleWindow),
	}

	m.state.Store(StateStopped)
	return m, nil
}

func (m *MemoryMetrics) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrEngineAlreadyRunning
	}

	defer func() {
		if m.getState() == StateStarting {
			m.setState(StateRunning)
		}
	}()

	m.startedAt = time.Now()
	m.SnapshotMemory()

	m.logger.Info("Memory metrics started")
	return nil
}

func (m *MemoryMetrics) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrEngineNotRunning
	}

	defer func() {
		m.setState(StateStopped)
	}()

	m.logger.Info("Memory metrics stopped gracefully")
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	key := buildKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if counter, exists := m.counters[key]; exists {
		return counter
	}

	counter := &MemoryCounter{name: name, labels: labels}
	m.counters[key] = counter
	return counter
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	key := buildKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gauge, exists := m.gauges[key]; exists {
		return gauge
	}

	gauge := &MemoryGauge{name: name, labels: labels}
	m.gauges[key] = gauge
	return gauge
}

func (m *MemoryMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	key := buildKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if histogram, exists := m.histograms[key]; exists {
		return histogram
	}

	histogram := &MemoryHistogram{
		name:    name,
		labels:  labels,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)+1),
	}
	m.histograms[key] = histogram
	return histogram
}

func (m *MemoryMetrics) RecordRequest(operation string, duration time.Duration, err error) {
	atomic.AddUint64(&m.requests, 1)

	result := "ok"
	if err != nil {
		atomic.AddUint64(&m.errors, 1)
		result = "error"
	}

	m.latencies.Record(duration)
	m.Counter("requests_total", map[string]string{
		"operation": operation,
		"result":    result,
	}).Inc()
}

func (m *MemoryMetrics) SnapshotMemory() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	snapshot := &types.MemorySnapshot{
		Timestamp:      time.Now(),
		HeapAllocBytes: stats.HeapAlloc,
		HeapSysBytes:   stats.HeapSys,
		NumGC:          stats.NumGC,
		Goroutines:     runtime.NumGoroutine(),
	}
	if m.memoryLimit > 0 {
		snapshot.UsedPercent = float64(stats.HeapAlloc) / float64(m.memoryLimit) * 100
	}

	m.memory.Store(snapshot)
}

func (m *MemoryMetrics) Report() types.PerformanceReport {
	requests := atomic.LoadUint64(&m.requests)
	errors := atomic.LoadUint64(&m.errors)

	var errorRate float64
	if requests > 0 {
		errorRate = float64(errors) / float64(requests)
	}

	snapshot := m.memory.Load()
	if snapshot == nil {
		m.SnapshotMemory()
		snapshot = m.memory.Load()
	}

	report := types.PerformanceReport{
		GeneratedAt:  time.Now(),
		Uptime:       time.Since(m.startedAt),
		Requests:     requests,
		Errors:       errors,
		ErrorRate:    errorRate,
		AvgLatency:   m.latencies.Average(),
		CacheHitRate: m.cacheHitRate(),
		Memory:       *snapshot,
	}

	report.Health, report.Recommendations = m.classify(&report)
	return report
}

// cacheHitRate reads the gauge the engine publishes from registry stats.
// -1 means no observation yet.
func (m *MemoryMetrics) cacheHitRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if gauge, exists := m.gauges[buildKey("cache_hit_rate", nil)]; exists {
		return gauge.Get()
	}
	return -1
}

func (m *MemoryMetrics) classify(report *types.PerformanceReport) (types.HealthStatus, []string) {
	t := m.thresholds
	health := types.HealthHealthy
	var recommendations []string

	raise := func(level types.HealthStatus) {
		if level == types.HealthCritical || health == types.HealthHealthy {
			health = level
		}
	}

	if report.Requests > 0 {
		switch {
		case report.ErrorRate >= t.ErrorRateCritical:
			raise(types.HealthCritical)
			recommendations = append(recommendations,
				fmt.Sprintf("error rate %.1f%% exceeds critical threshold; check dependency breaker states", report.ErrorRate*100))
		case report.ErrorRate >= t.ErrorRateWarning:
			raise(types.HealthWarning)
			recommendations = append(recommendations,
				fmt.Sprintf("error rate %.1f%% is elevated", report.ErrorRate*100))
		}

		switch {
		case report.AvgLatency >= t.AvgLatencyCritical:
			raise(types.HealthCritical)
			recommendations = append(recommendations,
				fmt.Sprintf("average latency %s exceeds critical threshold; consider preloading hot cache tiers", report.AvgLatency))
		case report.AvgLatency >= t.AvgLatencyWarning:
			raise(types.HealthWarning)
			recommendations = append(recommendations,
				fmt.Sprintf("average latency %s is elevated", report.AvgLatency))
		}
	}

	switch {
	case report.Memory.UsedPercent >= t.MemoryCritical:
		raise(types.HealthCritical)
		recommendations = append(recommendations,
			fmt.Sprintf("heap usage %.1f%% of budget; run cache optimization to shed entries", report.Memory.UsedPercent))
	case report.Memory.UsedPercent >= t.MemoryWarning:
		raise(types.HealthWarning)
		recommendations = append(recommendations,
			fmt.Sprintf("heap usage %.1f%% of budget is elevated", report.Memory.UsedPercent))
	}

	if report.CacheHitRate >= 0 && report.CacheHitRate < t.CacheHitRateMinimum {
		raise(types.HealthWarning)
		recommendations = append(recommendations,
			fmt.Sprintf("cache hit rate %.1f%% is below the configured minimum; consider raising tier capacities or TTLs", report.CacheHitRate*100))
	}

	return health, recommendations
}

func (m *MemoryMetrics) Export() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type metricValue struct {
		Name   string            `json:"name"`
		Type   string            `json:"type"`
		Value  float64           `json:"value"`
		Labels map[string]string `json:"labels,omitempty"`
	}

	var values []metricValue
	for _, counter := range m.counters {
		values = append(values, metricValue{
			Name: counter.name, Type: "counter", Value: counter.Get(), Labels: counter.labels,
		})
	}
	for _, gauge := range m.gauges {
		values = append(values, metricValue{
			Name: gauge.name, Type: "gauge", Value: gauge.Get(), Labels: gauge.labels,
		})
	}
	for _, histogram := range m.histograms {
		values = append(values, metricValue{
			Name: histogram.name, Type: "histogram", Value: histogram.GetSum(), Labels: histogram.labels,
		})
	}

	sort.Slice(values, func(i, j int) bool {
		if values[i].Name != values[j].Name {
			return values[i].Name < values[j].Name
		}
		return buildKey(values[i].Name, values[i].Labels) < buildKey(values[j].Name, values[j].Labels)
	})

	return utils.Marshal(values)
}

// buildKey joins name and sorted labels so the same labels in any order
// address the same metric.
func buildKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(name)
	for _, k := range keys {
		sb.WriteByte('_')
		sb.WriteString(k)
		sb.WriteByte('_')
		sb.WriteString(labels[k])
	}
	return sb.String()
}

// State management helpers

func (m *MemoryMetrics) getState() State {
	return m.state.Load().(State)
}

func (m *MemoryMetrics) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryMetrics) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

type MemoryCounter struct {
	name   string
	labels map[string]string
	value  uint64
}

func (c *MemoryCounter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

func (c *MemoryCounter) Add(value float64) {
	atomic.AddUint64(&c.value, uint64(value))
}

func (c *MemoryCounter) Get() float64 {
	return float64(atomic.LoadUint64(&c.value))
}

type MemoryGauge struct {
	name   string
	labels map[string]string
	value  uint64
}

func (g *MemoryGauge) Set(value float64) {
	atomic.StoreUint64(&g.value, math.Float64bits(value))
}

func (g *MemoryGauge) Inc() {
	g.add(1)
}

func (g *MemoryGauge) Dec() {
	g.add(-1)
}

func (g *MemoryGauge) add(delta float64) {
	for {
		old := atomic.LoadUint64(&g.value)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(&g.value, old, next) {
			return
		}
	}
}

func (g *MemoryGauge) Get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&g.value))
}

type MemoryHistogram struct {
	name    string
	labels  map[string]string
	buckets []float64
	counts  []uint64
	sum     uint64
	count   uint64
}

func (h *MemoryHistogram) Observe(value float64) {
	atomic.AddUint64(&h.count, 1)
	atomic.AddUint64(&h.sum, uint64(value*1000000))

	bucketIndex := len(h.buckets)
	for i, bucket := range h.buckets {
		if value <= bucket {
			bucketIndex = i
			break
		}
	}

	if bucketIndex < len(h.counts) {
		atomic.AddUint64(&h.counts[bucketIndex], 1)
	}
}

func (h *MemoryHistogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *MemoryHistogram) GetCount() uint64 {
	return atomic.LoadUint64(&h.count)
}

func (h *MemoryHistogram) GetSum() float64 {
	return float64(atomic.LoadUint64(&h.sum)) / 1000000
}

// latencyRing is a fixed rolling window of request durations.
type latencyRing struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	filled  int
}

func newLatencyRing(size int) *latencyRing {
	return &latencyRing{samples: make([]time.Duration, size)}
}

func (r *latencyRing) Record(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples[r.next] = d
	r.next = (r.next + 1) % len(r.samples)
	if r.filled < len(r.samples) {
		r.filled++
	}
}

func (r *latencyRing) Average() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.filled == 0 {
		return 0
	}

	var total time.Duration
	for i := 0; i < r.filled; i++ {
		total += r.samples[i]
	}
	return total / time.Duration(r.filled)
}
