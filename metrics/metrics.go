// Package metrics exports the agent's Prometheus metrics: adapter call
// counters and latencies recorded by an instrumented sai.API, and a
// collector that reads object counts, port counters and event counters
// from a switch at scrape time.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "saiagent"

// Metrics holds the metrics updated on the control path.
type Metrics struct {
	registry *prometheus.Registry

	sdkCalls    *prometheus.CounterVec
	sdkDuration *prometheus.HistogramVec
	batches     *prometheus.CounterVec
}

// New returns metrics registered on a fresh registry together with
// the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sdkCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sdk",
				Name:      "calls_total",
				Help:      "Adapter calls by operation, object type and status.",
			},
			[]string{"op", "object_type", "status"},
		),
		sdkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sdk",
				Name:      "call_duration_seconds",
				Help:      "Adapter call latency in seconds.",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"op", "object_type"},
		),
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "state",
				Name:      "batches_total",
				Help:      "State change batches by result.",
			},
			[]string{"result"},
		),
	}
	m.registry.MustRegister(
		m.sdkCalls,
		m.sdkDuration,
		m.batches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// MustRegister registers additional collectors, such as a
// SwitchCollector.
func (m *Metrics) MustRegister(cs ...prometheus.Collector) {
	m.registry.MustRegister(cs...)
}

// ObserveBatch counts one state change batch.
func (m *Metrics) ObserveBatch(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.batches.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
