package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_broadcast_delivered_total",
		Help: "Queue events handed to every sink",
	})
	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_broadcast_dropped_total",
		Help: "Queue events discarded because a lane was full or closed",
	})
	lanesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queue_broadcast_lanes",
		Help: "Per-key broadcast lanes currently open",
	})
	sinkFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_sink_failures_total",
			Help: "Failed deliveries per sink",
		},
		[]string{"sink"},
	)
)
