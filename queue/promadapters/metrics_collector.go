// Package promadapters provides a Prometheus implementation of queue.MetricsCollector.
package promadapters

import (
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
)

// DefaultDurationBuckets fit claim, ack and append latencies, which are milliseconds to a few seconds.
var DefaultDurationBuckets = []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5}

// MetricsCollector implements queue.MetricsCollector with Prometheus vectors.
//
// A vector is created and registered the first time a metric name is seen. Its label names are
// the label keys of that first call; later calls with a different key set are dropped.
type MetricsCollector struct {
	registerer prometheus.Registerer
	buckets    []float64
	mu         sync.Mutex
	histograms map[string]*prometheus.HistogramVec
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewMetricsCollector creates a collector that registers its vectors with registerer.
func NewMetricsCollector(registerer prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		registerer: registerer,
		buckets:    DefaultDurationBuckets,
		histograms: make(map[string]*prometheus.HistogramVec),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func (m *MetricsCollector) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	m.mu.Lock()
	vec, exists := m.histograms[metric]
	if !exists {
		vec = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: metric, Help: "Queue operation duration in seconds", Buckets: m.buckets},
			labelNames(labels),
		)
		vec = register(m.registerer, vec)
		m.histograms[metric] = vec
	}
	m.mu.Unlock()

	if observer, err := vec.GetMetricWith(labels); err == nil {
		observer.Observe(duration.Seconds())
	}
}

func (m *MetricsCollector) IncrementCounter(metric string, labels map[string]string) {
	m.mu.Lock()
	vec, exists := m.counters[metric]
	if !exists {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: metric, Help: "Queue operation counter"}, labelNames(labels))
		vec = register(m.registerer, vec)
		m.counters[metric] = vec
	}
	m.mu.Unlock()

	if counter, err := vec.GetMetricWith(labels); err == nil {
		counter.Inc()
	}
}

func (m *MetricsCollector) RecordValue(metric string, value float64, labels map[string]string) {
	m.mu.Lock()
	vec, exists := m.gauges[metric]
	if !exists {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: metric, Help: "Queue current value"}, labelNames(labels))
		vec = register(m.registerer, vec)
		m.gauges[metric] = vec
	}
	m.mu.Unlock()

	if gauge, err := vec.GetMetricWith(labels); err == nil {
		gauge.Set(value)
	}
}

func labelNames(labels map[string]string) []string {
	return slices.Sorted(maps.Keys(labels))
}

// register registers c, or returns the collector registered earlier under the same descriptor.
func register[C prometheus.Collector](registerer prometheus.Registerer, c C) C {
	if registerer == nil {
		return c
	}

	if err := registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}

	return c
}

var _ queue.MetricsCollector = (*MetricsCollector)(nil)
