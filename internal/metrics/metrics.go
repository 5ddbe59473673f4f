package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reposync_operation_failed_total",
			Help: "Total number of failed remote operations",
		},
		[]string{"operation"},
	)

	syncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reposync_operation_duration_seconds",
			Help:    "Remote operation duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	probeTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reposync_probe_timeout_total",
			Help: "Total number of connectivity probes that exhausted their poll budget",
		},
	)
)

func OperationFailed(operation string) {
	syncFailed.WithLabelValues(operation).Inc()
}

func OperationSucceeded(operation string, start time.Time) {
	syncDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func ProbeTimeout() {
	probeTimeouts.Inc()
}
