// Package metrics exposes Prometheus collectors for admission control.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ChecksTotal counts admission checks by endpoint class and outcome
// (allowed, limited, error).
var ChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "arp",
	Subsystem: "ratelimit",
	Name:      "checks_total",
	Help:      "Admission checks by endpoint class and outcome.",
}, []string{"class", "outcome"})
