package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_mutations_total",
			Help: "Queue mutations by operation and result",
		},
		[]string{"op", "result"},
	)
	boardsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queue_boards",
		Help: "Queue keys held in memory",
	})
)
