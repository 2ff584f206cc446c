// Package observability exposes Prometheus metrics for the MCP runtime.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the runtime subsystem.
type Metrics struct {
	registry *prometheus.Registry

	healthChecks     *prometheus.CounterVec
	toolCalls        *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	serversConnected prometheus.Gauge
	toolsTotal       prometheus.Gauge
}

// NewMetrics creates and registers the runtime metric set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		healthChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpbridge_health_checks_total",
				Help: "Health check probes by server and outcome",
			},
			[]string{"server", "outcome"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpbridge_tool_calls_total",
				Help: "Tool executions by server, tool, and status",
			},
			[]string{"server", "tool", "status"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpbridge_tool_call_duration_seconds",
				Help:    "Tool execution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"server", "tool"},
		),
		serversConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcpbridge_servers_connected",
			Help: "Number of currently connected servers",
		}),
		toolsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcpbridge_tools_total",
			Help: "Number of tools exposed by connected servers",
		}),
	}

	registry.MustRegister(
		m.healthChecks,
		m.toolCalls,
		m.toolDuration,
		m.serversConnected,
		m.toolsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveHealthCheck records one health check probe.
func (m *Metrics) ObserveHealthCheck(server string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.healthChecks.WithLabelValues(server, outcome).Inc()
}

// ObserveToolCall records one tool execution.
func (m *Metrics) ObserveToolCall(server, tool string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.toolCalls.WithLabelValues(server, tool, status).Inc()
	m.toolDuration.WithLabelValues(server, tool).Observe(duration.Seconds())
}

// SetServerGauges updates the connected-server and total-tool gauges.
func (m *Metrics) SetServerGauges(connected, tools int) {
	m.serversConnected.Set(float64(connected))
	m.toolsTotal.Set(float64(tools))
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
