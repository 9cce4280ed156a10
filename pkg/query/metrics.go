package query

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queryEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_query_entries",
			Help: "Cached query results across all stores",
		},
	)

	queryWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_query_writes_total",
			Help: "Query cache writes that changed stored data, by operation",
		},
		[]string{"op"},
	)

	queryInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_query_invalidations_total",
			Help: "Family invalidations (reconcile by refetch)",
		},
		[]string{"family"},
	)
)
