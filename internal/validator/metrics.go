package validator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stage_attempts_total",
			Help: "Stage adapter attempts by outcome (accepted, invalid, failed).",
		},
		[]string{"stage", "outcome"},
	)

	stageFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stage_fallbacks_total",
			Help: "Number of times a stage degraded to its fallback patch.",
		},
		[]string{"stage"},
	)
)
