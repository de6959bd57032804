package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initClusterMetrics() {
	r.ClusterHealthy = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "signaling_cluster_healthy",
			Help: "Whether the coordination store is reachable (1=clustered, 0=degraded)",
		},
	)

	r.HeartbeatsPublishedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "signaling_heartbeats_published_total",
			Help: "Total liveness heartbeats published by this node",
		},
	)

	r.DeadNodesSweptTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "signaling_dead_nodes_swept_total",
			Help: "Total dead peer nodes cleaned up by this node",
		},
	)

	r.SweptConnectionsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "signaling_swept_connections_total",
			Help: "Total stale participant records removed during dead-node cleanup",
		},
	)

	r.BusMessagesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_bus_messages_total",
			Help: "Total cluster bus messages received, by type",
		},
		[]string{"type"},
	)

	r.BusMessagesDroppedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "signaling_bus_messages_dropped_total",
			Help: "Total malformed cluster bus messages dropped",
		},
	)

	r.StoreOperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signaling_store_operation_duration_seconds",
			Help:    "Latency of coordination store operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
		},
		[]string{"op"},
	)

	r.StoreFailuresTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_store_failures_total",
			Help: "Total failed coordination store operations, by operation",
		},
		[]string{"op"},
	)
}
