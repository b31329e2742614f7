package degradation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	degradationLevel = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "compass_degradation_level",
			Help: "Current degradation level (0=none, 1=minor, 2=moderate, 3=severe)",
		},
	)

	degradationEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_degradation_events_total",
			Help: "Degradation level transitions",
		},
		[]string{"level"},
	)

	dependencyHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "compass_dependency_health",
			Help: "Dependency breaker health (1=closed, 0=open)",
		},
		[]string{"dependency"},
	)
)

func recordLevel(level Level) {
	degradationLevel.Set(float64(level))
}

func recordEvent(level Level) {
	degradationEvents.WithLabelValues(level.String()).Inc()
}

func recordDependencyHealth(dependency string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	dependencyHealth.WithLabelValues(dependency).Set(value)
}
