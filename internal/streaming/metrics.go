package streaming

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compass_stream_events_total",
		Help: "Progress events published, by event type",
	}, []string{"type"})

	activeSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "compass_stream_subscribers",
		Help: "Currently attached stream subscribers",
	})

	lagDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "compass_stream_lag_drops_total",
		Help: "Events not delivered because a subscriber's buffer was full",
	})
)
