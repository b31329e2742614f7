package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkStatusGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "compass_health_check_status",
			Help: "Latest health check status (0=healthy, 1=degraded, 2=unhealthy, 3=unknown)",
		},
		[]string{"check"},
	)

	checkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compass_health_check_duration_seconds",
			Help:    "Health check probe duration",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"check"},
	)

	checksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_health_checks_total",
			Help: "Health check runs by outcome",
		},
		[]string{"check", "status"},
	)
)

func recordCheck(result CheckResult) {
	checkStatusGauge.WithLabelValues(result.Component).Set(float64(result.Status))
	checkDuration.WithLabelValues(result.Component).Observe(result.Duration.Seconds())
	checksTotal.WithLabelValues(result.Component, result.Status.String()).Inc()
}
