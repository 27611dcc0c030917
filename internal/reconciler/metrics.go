package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var reconciledTickets = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pipelined",
	Subsystem: "reconciler",
	Name:      "tickets_resumed_total",
	Help:      "Tickets put back under supervision from open pull requests",
})
