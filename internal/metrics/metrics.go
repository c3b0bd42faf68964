// Package metrics holds the prometheus collectors exposed on the internal server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xiaot623/gogo/locshare/internal/domain"
)

const namespace = "locshare"

// Metrics is a private registry plus the collectors recorded into it.
// A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connections        prometheus.Gauge
	messages           *prometheus.CounterVec
	rejections         *prometheus.CounterVec
	broadcasts         prometheus.Counter
	offlineTransitions prometheus.Counter
	sweptRows          *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections",
			Help:      "WebSocket connections currently admitted.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound WebSocket messages by type.",
		}, []string{"type"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_connections_total",
			Help:      "Connections closed by admission or limits, by reason.",
		}, []string{"reason"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Messages fanned out to a session.",
		}),
		offlineTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_transitions_total",
			Help:      "Delayed-offline checks that committed.",
		}),
		sweptRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_rows_total",
			Help:      "Rows changed by the cleanup sweep, by kind.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.connections,
		m.messages,
		m.rejections,
		m.broadcasts,
		m.offlineTransitions,
		m.sweptRows,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) MessageReceived(messageType string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(messageType).Inc()
}

func (m *Metrics) ConnectionRejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) Broadcast() {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
}

func (m *Metrics) WentOffline() {
	if m == nil {
		return
	}
	m.offlineTransitions.Inc()
}

// ObserveSweep adds one sweep's counts.
func (m *Metrics) ObserveSweep(res *domain.SweepResult) {
	if m == nil || res == nil {
		return
	}
	m.sweptRows.WithLabelValues("deactivated_sessions").Add(float64(res.DeactivatedSessions))
	m.sweptRows.WithLabelValues("expired_location_rows").Add(float64(res.ExpiredLocationRows))
	m.sweptRows.WithLabelValues("expired_sessions").Add(float64(res.ExpiredSessions))
	m.sweptRows.WithLabelValues("stale_offline_participants").Add(float64(res.StaleOfflineRows))
	m.sweptRows.WithLabelValues("old_audit_logs").Add(float64(res.OldAuditRows))
}
