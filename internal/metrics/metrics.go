// Package metrics exposes Prometheus counters and gauges for the engine,
// grounded on the metrics.go pattern of the retrieval pack's coinbase bot
// (init-time MustRegister, served at /metrics via promhttp).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderflow_ticks_total",
			Help: "Ticks applied to footprint engines, by symbol.",
		},
		[]string{"symbol"},
	)

	BroadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderflow_broadcasts_total",
			Help: "Viewer fan-out broadcasts sent, by symbol.",
		},
		[]string{"symbol"},
	)

	UpstreamReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orderflow_upstream_reconnects_total",
			Help: "Upstream market-data socket reconnect attempts.",
		},
	)

	AuthBackoffSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orderflow_auth_backoff_seconds",
			Help: "Current auth-failure backoff duration for the upstream session.",
		},
	)

	EnginesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orderflow_engines_active",
			Help: "Number of subscribed instruments with a live footprint engine.",
		},
	)

	ViewersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orderflow_viewers_connected",
			Help: "Number of connected viewer WebSocket sockets.",
		},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, BroadcastsTotal, UpstreamReconnectsTotal)
	prometheus.MustRegister(AuthBackoffSeconds, EnginesActive, ViewersConnected)
}

// ForgetSymbol drops symbol's per-symbol counter series, so repeated
// subscribe/unsubscribe churn (contract rollovers, strike changes) over a
// long-running process doesn't accumulate unbounded label cardinality.
func ForgetSymbol(symbol string) {
	TicksTotal.DeleteLabelValues(symbol)
	BroadcastsTotal.DeleteLabelValues(symbol)
}
