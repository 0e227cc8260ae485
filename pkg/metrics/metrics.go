// Package metrics gives each pipeline stage its own metric registry and
// text-exposition handler. Registries are process-local; multi-process
// aggregation is left to the scrape side.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set is a per-stage metrics handle. Metric names are prefixed with
// "<stage>_service_" following the upstream naming convention.
type Set struct {
	stage    string
	registry *prometheus.Registry
}

// NewSet creates a metrics handle for the named stage.
func NewSet(stage string) *Set {
	return &Set{
		stage:    stage,
		registry: prometheus.NewRegistry(),
	}
}

func (s *Set) name(suffix string) string {
	return s.stage + "_service_" + suffix
}

// Counter registers and returns a labeled counter.
func (s *Set) Counter(suffix, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(s.registry).NewCounterVec(prometheus.CounterOpts{
		Name: s.name(suffix),
		Help: help,
	}, labels)
}

// Gauge registers and returns a labeled gauge.
func (s *Set) Gauge(suffix, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(s.registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: s.name(suffix),
		Help: help,
	}, labels)
}

// Histogram registers and returns a histogram. A nil buckets slice uses the
// default buckets.
func (s *Set) Histogram(suffix, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(s.registry).NewHistogram(prometheus.HistogramOpts{
		Name:    s.name(suffix),
		Help:    help,
		Buckets: buckets,
	})
}

// Handler serves the registry in text exposition format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
