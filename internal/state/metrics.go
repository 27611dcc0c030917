package state

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	trackedTickets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pipelined",
		Subsystem: "state",
		Name:      "tracked_tickets",
		Help:      "Number of tickets under supervision",
	})

	journalEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipelined",
		Subsystem: "state",
		Name:      "journal_entries_total",
		Help:      "Journal entries appended by kind and status",
	}, []string{"kind", "status"})
)
