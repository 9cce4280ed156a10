package push

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pushState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_push_state",
			Help: "Push channel state (1=connecting, 2=open, 3=closed)",
		},
	)

	pushReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_push_reconnects_total",
			Help: "Scheduled push reconnects",
		},
	)

	pushDeltas = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_push_deltas_total",
			Help: "Deltas applied to the query cache",
		},
		[]string{"family", "action"},
	)

	pushDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_push_dropped_total",
			Help: "Inbound frames dropped, by reason",
		},
		[]string{"reason"},
	)

	pushReconciles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_push_reconciles_total",
			Help: "Deltas that failed to apply and forced a family refetch",
		},
		[]string{"family"},
	)
)
