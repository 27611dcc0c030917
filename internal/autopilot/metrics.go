package autopilot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipelined",
		Subsystem: "autopilot",
		Name:      "cycles_total",
		Help:      "Poll cycles by outcome",
	}, []string{"outcome"})

	lockContention = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pipelined",
		Subsystem: "autopilot",
		Name:      "lock_contention_total",
		Help:      "Soft-lock transitions rejected because the ticket already moved",
	})
)
