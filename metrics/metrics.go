// Package metrics implements platform.MetricsSink over
// github.com/prometheus/client_golang, exposed via promhttp.Handler for
// scraping: a CounterVec/HistogramVec/GaugeVec created per metric name on
// first use, keyed by whatever label names that call site first supplies,
// since platform.MetricsSink's variadic labels don't line up with
// Prometheus's fixed-label-set Vec construction.
package metrics

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/facilitycore/orchestrator/platform"
)

// Sink implements platform.MetricsSink. Every component in this module
// takes labels as alternating key/value pairs (matching the pack's own
// telemetry.Counter(name, "key", "value", ...) convention); Sink lazily
// creates one Vec per metric name on first use, keyed by the label names
// seen in that first call.
type Sink struct {
	registry *prometheus.Registry
	factory  promauto.Factory

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// New constructs a Sink backed by a fresh, isolated Prometheus registry
// (never the global DefaultRegisterer, so tests and multiple instances
// don't collide).
func New() *Sink {
	registry := prometheus.NewRegistry()
	return &Sink{
		registry:   registry,
		factory:    promauto.With(registry),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Handler returns the promhttp handler for this Sink's registry, for
// cmd/facilityd to mount at /metrics.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func sanitize(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

func splitLabels(labels []string) (keys, values []string) {
	for i := 0; i+1 < len(labels); i += 2 {
		keys = append(keys, labels[i])
		values = append(values, labels[i+1])
	}
	return keys, values
}

// Counter implements platform.MetricsSink.
func (s *Sink) Counter(name string, labels ...string) {
	keys, values := splitLabels(labels)
	s.mu.Lock()
	vec, ok := s.counters[name]
	if !ok {
		vec = s.factory.NewCounterVec(prometheus.CounterOpts{
			Name: sanitize(name),
			Help: "facility orchestrator counter: " + name,
		}, keys)
		s.counters[name] = vec
	}
	s.mu.Unlock()
	vec.WithLabelValues(values...).Inc()
}

// Gauge implements platform.MetricsSink.
func (s *Sink) Gauge(name string, value float64, labels ...string) {
	keys, values := splitLabels(labels)
	s.mu.Lock()
	vec, ok := s.gauges[name]
	if !ok {
		vec = s.factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: sanitize(name),
			Help: "facility orchestrator gauge: " + name,
		}, keys)
		s.gauges[name] = vec
	}
	s.mu.Unlock()
	vec.WithLabelValues(values...).Set(value)
}

// Histogram implements platform.MetricsSink.
func (s *Sink) Histogram(name string, value float64, labels ...string) {
	keys, values := splitLabels(labels)
	s.mu.Lock()
	vec, ok := s.histograms[name]
	if !ok {
		vec = s.factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    sanitize(name),
			Help:    "facility orchestrator histogram: " + name,
			Buckets: prometheus.DefBuckets,
		}, keys)
		s.histograms[name] = vec
	}
	s.mu.Unlock()
	vec.WithLabelValues(values...).Observe(value)
}

var _ platform.MetricsSink = (*Sink)(nil)
