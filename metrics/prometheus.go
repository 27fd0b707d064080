package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/kotoba-works/kotoba-engine/types"
	"github.com/kotoba-works/kotoba-engine/utils"
)

const prometheusNamespace = "kotoba_engine"

// PrometheusMetrics backs the instruments with a prometheus registry. The
// rolling request window and health classification are shared with the
// memory backend; only the instrument storage and export format differ.
type PrometheusMetrics struct {
	core     *MemoryMetrics
	logger   types.Logger
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

func NewPrometheusMetrics(logger types.Logger, config *types.MetricsConfig) (*PrometheusMetrics, error) {
	core, err := NewMemoryMetrics(logger, config)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &PrometheusMetrics{
		core:       core,
		logger:     logger,
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}, nil
}

func (p *PrometheusMetrics) Start() error    { return p.core.Start() }
func (p *PrometheusMetrics) Stop() error     { return p.core.Stop() }
func (p *PrometheusMetrics) IsRunning() bool { return p.core.IsRunning() }
func (p *PrometheusMetrics) SnapshotMemory() { p.core.SnapshotMemory() }

func (p *PrometheusMetrics) Counter(name string, labels map[string]string) types.Counter {
	p.mu.Lock()
	defer p.mu.Unlock()

	vec, exists := p.counters[name]
	if !exists {
		vec = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: prometheusNamespace,
				Name:      name,
				Help:      fmt.Sprintf("Counter metric %s", name),
			},
			labelNames(labels),
		)
		p.registry.MustRegister(vec)
		p.counters[name] = vec

		p.logger.Debug("Prometheus counter created", zap.String("name", name))
	}

	return &PrometheusCounter{logger: p.logger, counter: vec, labels: labels}
}

func (p *PrometheusMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()

	vec, exists := p.gauges[name]
	if !exists {
		vec = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: prometheusNamespace,
				Name:      name,
				Help:      fmt.Sprintf("Gauge metric %s", name),
			},
			labelNames(labels),
		)
		p.registry.MustRegister(vec)
		p.gauges[name] = vec

		p.logger.Debug("Prometheus gauge created", zap.String("name", name))
	}

	return &PrometheusGauge{logger: p.logger, gauge: vec, labels: labels}
}

func (p *PrometheusMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()

	vec, exists := p.histograms[name]
	if !exists {
		if len(buckets) == 0 {
			buckets = prometheus.DefBuckets
		}
		vec = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: prometheusNamespace,
				Name:      name,
				Help:      fmt.Sprintf("Histogram metric %s", name),
				Buckets:   buckets,
			},
			labelNames(labels),
		)
		p.registry.MustRegister(vec)
		p.histograms[name] = vec

		p.logger.Debug("Prometheus histogram created", zap.String("name", name))
	}

	return &PrometheusHistogram{histogram: vec, labels: labels}
}

func (p *PrometheusMetrics) RecordRequest(operation string, duration time.Duration, err error) {
	p.core.RecordRequest(operation, duration, err)

	result := "ok"
	if err != nil {
		result = "error"
	}
	p.Histogram("request_duration_seconds", nil, map[string]string{
		"operation": operation,
		"result":    result,
	}).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) Report() types.PerformanceReport {
	report := p.core.Report()

	// The cache hit rate gauge lives in the prometheus registry here, not
	// in the core's gauge map; re-derive the classification with it.
	report.CacheHitRate = p.gaugeValue("cache_hit_rate")
	report.Health, report.Recommendations = p.core.classify(&report)

	return report
}

// gaugeValue returns -1 when the gauge has never been set.
func (p *PrometheusMetrics) gaugeValue(name string) float64 {
	p.mu.Lock()
	vec, exists := p.gauges[name]
	p.mu.Unlock()

	if !exists {
		return -1
	}

	metric := &dto.Metric{}
	if err := vec.With(nil).Write(metric); err != nil {
		return -1
	}
	return metric.GetGauge().GetValue()
}

func (p *PrometheusMetrics) Export() ([]byte, error) {
	gathering, err := p.registry.Gather()
	if err != nil {
		p.logger.Error("Failed to gather prometheus metrics", zap.Error(err))
		return nil, err
	}

	type metricValue struct {
		Name   string            `json:"name"`
		Type   string            `json:"type"`
		Value  float64           `json:"value"`
		Labels map[string]string `json:"labels,omitempty"`
	}

	var values []metricValue
	for _, family := range gathering {
		for _, metric := range family.GetMetric() {
			labels := make(map[string]string)
			for _, label := range metric.GetLabel() {
				labels[label.GetName()] = label.GetValue()
			}

			var value float64
			switch {
			case metric.Counter != nil:
				value = metric.Counter.GetValue()
			case metric.Gauge != nil:
				value = metric.Gauge.GetValue()
			case metric.Histogram != nil:
				value = metric.Histogram.GetSampleSum()
			case metric.Summary != nil:
				value = metric.Summary.GetSampleSum()
			}

			values = append(values, metricValue{
				Name:   family.GetName(),
				Type:   family.GetType().String(),
				Value:  value,
				Labels: labels,
			})
		}
	}

	return utils.Marshal(values)
}

// Registry exposes the underlying prometheus registry for promhttp
// handlers at the serving layer.
func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type PrometheusCounter struct {
	logger  types.Logger
	counter *prometheus.CounterVec
	labels  map[string]string
}

func (c *PrometheusCounter) Inc() {
	c.counter.With(c.labels).Inc()
}

func (c *PrometheusCounter) Add(value float64) {
	c.counter.With(c.labels).Add(value)
}

func (c *PrometheusCounter) Get() float64 {
	metric := &dto.Metric{}
	if err := c.counter.With(c.labels).Write(metric); err != nil {
		c.logger.Error("Failed to read counter", zap.Error(err))
		return 0
	}
	return metric.GetCounter().GetValue()
}

type PrometheusGauge struct {
	logger types.Logger
	gauge  *prometheus.GaugeVec
	labels map[string]string
}

func (g *PrometheusGauge) Set(value float64) {
	g.gauge.With(g.labels).Set(value)
}

func (g *PrometheusGauge) Inc() {
	g.gauge.With(g.labels).Inc()
}

func (g *PrometheusGauge) Dec() {
	g.gauge.With(g.labels).Dec()
}

func (g *PrometheusGauge) Get() float64 {
	metric := &dto.Metric{}
	if err := g.gauge.With(g.labels).Write(metric); err != nil {
		g.logger.Error("Failed to read gauge", zap.Error(err))
		return 0
	}
	return metric.GetGauge().GetValue()
}

type PrometheusHistogram struct {
	histogram *prometheus.HistogramVec
	labels    map[string]string
}

func (h *PrometheusHistogram) Observe(value float64) {
	h.histogram.With(h.labels).Observe(value)
}

func (h *PrometheusHistogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *PrometheusHistogram) GetCount() uint64 {
	metric := &dto.Metric{}
	if promMetric, ok := h.histogram.With(h.labels).(prometheus.Metric); ok {
		if err := promMetric.Write(metric); err != nil {
			return 0
		}
		return metric.GetHistogram().GetSampleCount()
	}
	return 0
}

func (h *PrometheusHistogram) GetSum() float64 {
	metric := &dto.Metric{}
	if promMetric, ok := h.histogram.With(h.labels).(prometheus.Metric); ok {
		if err := promMetric.Write(metric); err != nil {
			return 0
		}
		return metric.GetHistogram().GetSampleSum()
	}
	return 0
}
