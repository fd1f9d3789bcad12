package server

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	connectionsTotal prometheus.Counter
	activeConnections prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}

	m := &metrics{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vellum_connections_total",
			Help: "Total number of accepted client connections.",
		}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vellum_active_connections",
			Help: "Number of currently open client connections.",
		}),
	}
	reg.MustRegister(m.connectionsTotal, m.activeConnections)
	return m
}

func (m *metrics) connectionOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.activeConnections.Inc()
}

func (m *metrics) connectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}
