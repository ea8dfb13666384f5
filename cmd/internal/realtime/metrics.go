package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the registry. A nil *Metrics records nothing.
type Metrics struct {
	connections prometheus.Gauge
	evictions   prometheus.Counter
	deliveries  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulse",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Admitted websocket connections.",
		}),
		evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse",
			Subsystem: "realtime",
			Name:      "evictions_total",
			Help:      "Connections removed after a failed delivery.",
		}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse",
			Subsystem: "realtime",
			Name:      "deliveries_total",
			Help:      "Delivery attempts by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) setConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) delivered(ok, failed int) {
	if m == nil {
		return
	}
	if ok > 0 {
		m.deliveries.WithLabelValues("ok").Add(float64(ok))
	}
	if failed > 0 {
		m.deliveries.WithLabelValues("failed").Add(float64(failed))
	}
}

func (m *Metrics) evicted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.evictions.Add(float64(n))
}
