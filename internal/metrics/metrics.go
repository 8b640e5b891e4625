// Package metrics exposes Prometheus counters for dispatched operations and
// device commands.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the panel's collectors.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	commands   *prometheus.CounterVec
	telemetry  *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptzpanel_operations_total",
				Help: "Operations run by the dispatcher, by operation id and outcome.",
			},
			[]string{"operation", "status"},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptzpanel_device_commands_total",
				Help: "Device commands sent, by kind and whether the device accepted them.",
			},
			[]string{"kind", "ok"},
		),
		telemetry: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptzpanel_telemetry_push_failures_total",
				Help: "Telemetry pushes that failed, by sink.",
			},
			[]string{"sink"},
		),
	}
	m.registry.MustRegister(m.operations, m.commands, m.telemetry)
	return m
}

// ObserveOperation counts one dispatcher run.
func (m *Metrics) ObserveOperation(operation, status string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, status).Inc()
}

// ObserveCommand counts one device command.
func (m *Metrics) ObserveCommand(kind string, ok bool) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(kind, strconv.FormatBool(ok)).Inc()
}

// ObserveTelemetryFailure counts one failed telemetry push.
func (m *Metrics) ObserveTelemetryFailure(sink string) {
	if m == nil {
		return
	}
	m.telemetry.WithLabelValues(sink).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
