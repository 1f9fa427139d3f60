package server

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the server's Prometheus collectors, registered on the
// configured Registerer. A nil *Metrics is a valid no-op so the hot path
// never branches on configuration.
type Metrics struct {
	connectionsTotal  prometheus.Counter
	activeConnections prometheus.Gauge
	requestsTotal     prometheus.Counter
	responsesTotal    *prometheus.CounterVec
	parseErrors       prometheus.Counter
	timeouts          prometheus.Counter
}

// newMetrics builds and registers the collectors.
func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "filament",
			Subsystem: "server",
			Name:      "connections_total",
			Help:      "Total number of connections accepted",
		}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "filament",
			Subsystem: "server",
			Name:      "active_connections",
			Help:      "Current number of open connections",
		}),
		requestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "filament",
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Total number of requests received",
		}),
		responsesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filament",
			Subsystem: "server",
			Name:      "responses_total",
			Help:      "Total number of responses sent, by status class",
		}, []string{"class"}),
		parseErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "filament",
			Subsystem: "server",
			Name:      "parse_errors_total",
			Help:      "Total number of protocol parse failures",
		}),
		timeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "filament",
			Subsystem: "server",
			Name:      "timeouts_total",
			Help:      "Total number of idle connections timed out",
		}),
	}
}

func (m *Metrics) connectionAccepted() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.activeConnections.Inc()
}

func (m *Metrics) connectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *Metrics) requestReceived() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

func (m *Metrics) responseSent(status int) {
	if m == nil {
		return
	}
	m.responsesTotal.WithLabelValues(strconv.Itoa(status/100) + "xx").Inc()
}

func (m *Metrics) parseError() {
	if m == nil {
		return
	}
	m.parseErrors.Inc()
}

func (m *Metrics) timedOut() {
	if m == nil {
		return
	}
	m.timeouts.Inc()
}
