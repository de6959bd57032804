package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSignalingMetrics() {
	r.ConnectionsActive = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "signaling_connections_active",
			Help: "Number of authenticated WebSocket connections attached to this node",
		},
	)

	r.RoomsActive = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "signaling_rooms_active",
			Help: "Number of rooms with at least one local participant",
		},
	)

	r.AuthFailuresTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "signaling_auth_failures_total",
			Help: "Total number of rejected authentication attempts",
		},
	)

	r.SignalsRoutedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_signals_routed_total",
			Help: "Total signals routed, by delivery path",
		},
		[]string{"route"}, // local, remote
	)

	r.DeliveryFailuresTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_delivery_failures_total",
			Help: "Total failed signal deliveries, by reason",
		},
		[]string{"reason"}, // queue_full, not_found, degraded
	)
}
