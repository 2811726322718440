package lock

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lockWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "world_lock_wait_seconds",
		Help:    "Time spent waiting for a world lock.",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
	}, []string{"policy"})

	lockRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "world_lock_rejections_total",
		Help: "Turns rejected because their world was busy.",
	})
)

func observeWait(policy Policy, start time.Time) {
	lockWaitSeconds.WithLabelValues(string(policy)).Observe(time.Since(start).Seconds())
}
