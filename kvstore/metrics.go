package kvstore

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the store's Prometheus instrumentation. A nil *metrics
// (constructed from a nil Registerer) makes every method a no-op, so
// instrumentation is entirely opt-in.
type metrics struct {
	ops      *prometheus.CounterVec
	opLatency *prometheus.HistogramVec
	logSize  prometheus.GaugeFunc
}

func newMetrics(reg prometheus.Registerer, logSizeFn func() int64) *metrics {
	if reg == nil {
		return nil
	}

	m := &metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vellum",
			Subsystem: "kvstore",
			Name:      "ops_total",
			Help:      "Total KV store operations by name and outcome.",
		}, []string{"op", "outcome"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vellum",
			Subsystem: "kvstore",
			Name:      "op_latency_seconds",
			Help:      "Latency of KV store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	m.logSize = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "vellum",
		Subsystem: "kvstore",
		Name:      "log_size_bytes",
		Help:      "Current size of the append log in bytes.",
	}, func() float64 { return float64(logSizeFn()) })

	reg.MustRegister(m.ops, m.opLatency, m.logSize)
	return m
}

func (m *metrics) observe(op string, err error, seconds float64) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ops.WithLabelValues(op, outcome).Inc()
	m.opLatency.WithLabelValues(op).Observe(seconds)
}
