package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turns_total",
			Help: "Handled turns by result (committed or an error code).",
		},
		[]string{"result"},
	)

	turnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "turn_duration_seconds",
			Help:    "Duration of handled turns including lock wait.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	stageDegradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turn_degraded_stages_total",
			Help: "Committed turns in which a stage used its fallback patch.",
		},
		[]string{"stage"},
	)

	metricClampsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "world_metric_clamps_total",
			Help: "Metric adjustments cut at the [0,100] bounds.",
		},
		[]string{"metric"},
	)
)
