package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the sync server's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// WebSocket metrics
	SocketConnections  prometheus.Gauge
	SnapshotBroadcasts prometheus.Counter

	// Memo writes by op (create, update, delete) and result (ok, error)
	MemoWrites *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SocketConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "onlyone_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		}),
		SnapshotBroadcasts: factory.NewCounter(prometheus.CounterOpts{
			Name: "onlyone_snapshot_broadcasts_total",
			Help: "Total number of memo snapshots pushed to owner rooms",
		}),
		MemoWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "onlyone_memo_writes_total",
			Help: "Total number of memo writes by operation and result",
		}, []string{"op", "result"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordSocketConnect() {
	if m != nil {
		m.SocketConnections.Inc()
	}
}

func (m *Metrics) RecordSocketDisconnect() {
	if m != nil {
		m.SocketConnections.Dec()
	}
}

func (m *Metrics) RecordBroadcast() {
	if m != nil {
		m.SnapshotBroadcasts.Inc()
	}
}

func (m *Metrics) RecordWrite(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.MemoWrites.WithLabelValues(op, result).Inc()
}
