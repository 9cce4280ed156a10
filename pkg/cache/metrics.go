package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ValidatorHits tracks lookups that found an entry, by store
	ValidatorHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_validator_hits_total",
			Help: "Total number of validator store hits",
		},
		[]string{"store"}, // "memory", "redis"
	)

	// ValidatorMisses tracks lookups without an entry
	ValidatorMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_validator_misses_total",
			Help: "Total number of validator store misses",
		},
	)

	// ValidatorEntries tracks the number of entries held, by store
	ValidatorEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portal_validator_entries",
			Help: "Current number of stored validators",
		},
		[]string{"store"},
	)

	// ConditionalRequestsSent tracks requests sent with If-None-Match
	ConditionalRequestsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_conditional_requests_total",
			Help: "Total number of conditional GET requests sent",
		},
	)

	// NotModifiedResponses tracks 304 responses answered from the store
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_not_modified_total",
			Help: "Total number of 304 Not Modified responses served from the validator store",
		},
	)

	// ValidatorErrors tracks store operation errors
	ValidatorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_validator_errors_total",
			Help: "Total number of validator store errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
