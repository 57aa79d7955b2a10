// Package metrics provides Prometheus instrumentation for the output
// subsystem. Event drops are deliberately counted rather than silent: the
// logging path swallows per-event failures to protect pipeline throughput,
// and these counters are the only visibility into that loss.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop stage label values for RecordDropped.
const (
	StageHeader = "header"
	StageWrite  = "write"
)

// Metrics collects counters for the flow-start event tap.
type Metrics struct {
	registry *prometheus.Registry

	eventsEmitted prometheus.Counter
	eventsDropped *prometheus.CounterVec
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	eventsEmitted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "suricata",
		Name:      "flowstart_events_emitted_total",
		Help:      "Total flow_start events written to the output sink.",
	})

	eventsDropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "suricata",
		Name:      "flowstart_events_dropped_total",
		Help:      "Total flow_start events dropped, by pipeline stage.",
	}, []string{"stage"})

	reg.MustRegister(eventsEmitted, eventsDropped)

	return &Metrics{
		registry:      reg,
		eventsEmitted: eventsEmitted,
		eventsDropped: eventsDropped,
	}
}

// RecordEmitted records one event successfully written to the sink.
func (m *Metrics) RecordEmitted() {
	if m == nil {
		return
	}
	m.eventsEmitted.Inc()
}

// RecordDropped records one event lost at the given stage.
func (m *Metrics) RecordDropped(stage string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(stage).Inc()
}

// EmittedCounter exposes the emitted counter for test assertions.
func (m *Metrics) EmittedCounter() prometheus.Counter {
	return m.eventsEmitted
}

// DroppedCounter exposes the dropped counter for a stage for test assertions.
func (m *Metrics) DroppedCounter(stage string) prometheus.Counter {
	return m.eventsDropped.WithLabelValues(stage)
}

// Handler returns an HTTP handler serving the registry in Prometheus text
// format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
