package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments auth operations and refresh-token cleanup.
// A nil *Metrics records nothing.
type Metrics struct {
	ops             *prometheus.CounterVec
	cleanupDeleted  prometheus.Counter
	cleanupFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse",
			Subsystem: "auth",
			Name:      "operations_total",
			Help:      "Auth operations by operation and result.",
		}, []string{"op", "result"}),
		cleanupDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse",
			Subsystem: "session",
			Name:      "cleanup_deleted_total",
			Help:      "Refresh-token records removed by cleanup.",
		}),
		cleanupFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse",
			Subsystem: "session",
			Name:      "cleanup_failures_total",
			Help:      "Cleanup passes that failed.",
		}),
	}
}

func (m *Metrics) op(op, result string) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, result).Inc()
}

func (m *Metrics) cleanup(deleted int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.cleanupFailures.Inc()
		return
	}
	m.cleanupDeleted.Add(float64(deleted))
}
