// Package metrics exposes Prometheus collectors for the score aggregator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RegistrationsTotal counts agent registration attempts by outcome.
	RegistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arp",
		Subsystem: "score",
		Name:      "registrations_total",
		Help:      "Agent registration attempts by outcome.",
	}, []string{"outcome"})

	// SignalsTotal counts processed scoring signals by kind.
	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arp",
		Subsystem: "score",
		Name:      "signals_total",
		Help:      "Scoring signals processed by kind.",
	}, []string{"kind"})

	// TierChangesTotal counts tier transitions by direction.
	TierChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arp",
		Subsystem: "score",
		Name:      "tier_changes_total",
		Help:      "Tier transitions by direction.",
	}, []string{"direction"})

	// RecomputeDuration observes the end-to-end latency of one serialized
	// recomputation, including the store write.
	RecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "arp",
		Subsystem: "score",
		Name:      "recompute_duration_seconds",
		Help:      "Latency of one agent recomputation including persistence.",
		Buckets:   prometheus.DefBuckets,
	})
)
