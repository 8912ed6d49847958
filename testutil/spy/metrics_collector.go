package spy

import (
	"maps"
	"sync"
	"time"
)

// MetricsCollector captures metrics calls for inspection in tests.
// It satisfies queue.MetricsCollector.
type MetricsCollector struct {
	mu        sync.Mutex
	durations []DurationRecord
	counters  []CounterRecord
	values    []ValueRecord
}

// DurationRecord represents a recorded duration metric call.
type DurationRecord struct {
	Metric   string
	Duration time.Duration
	Labels   map[string]string
}

// CounterRecord represents a recorded counter increment call.
type CounterRecord struct {
	Metric string
	Labels map[string]string
}

// ValueRecord represents a recorded value metric call.
type ValueRecord struct {
	Metric string
	Value  float64
	Labels map[string]string
}

// NewMetricsCollector creates an empty MetricsCollector spy.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

func (s *MetricsCollector) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.durations = append(s.durations, DurationRecord{Metric: metric, Duration: duration, Labels: maps.Clone(labels)})
}

func (s *MetricsCollector) IncrementCounter(metric string, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters = append(s.counters, CounterRecord{Metric: metric, Labels: maps.Clone(labels)})
}

func (s *MetricsCollector) RecordValue(metric string, value float64, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = append(s.values, ValueRecord{Metric: metric, Value: value, Labels: maps.Clone(labels)})
}

// Durations returns a copy of all recorded durations.
func (s *MetricsCollector) Durations() []DurationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]DurationRecord(nil), s.durations...)
}

// Counters returns a copy of all recorded counter increments.
func (s *MetricsCollector) Counters() []CounterRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]CounterRecord(nil), s.counters...)
}

// Values returns a copy of all recorded values.
func (s *MetricsCollector) Values() []ValueRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]ValueRecord(nil), s.values...)
}

// HasCounter reports whether a counter with the given metric name was incremented.
func (s *MetricsCollector) HasCounter(metric string) bool {
	for _, record := range s.Counters() {
		if record.Metric == metric {
			return true
		}
	}

	return false
}

// LastValue returns the most recent value recorded for metric.
func (s *MetricsCollector) LastValue(metric string) (float64, bool) {
	values := s.Values()
	for i := len(values) - 1; i >= 0; i-- {
		if values[i].Metric == metric {
			return values[i].Value, true
		}
	}

	return 0, false
}
