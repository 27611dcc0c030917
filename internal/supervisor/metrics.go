package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipelined",
		Subsystem: "supervisor",
		Name:      "ticket_errors_total",
		Help:      "Per-ticket failures by supervisor pass",
	}, []string{"pass"})

	subPRMerges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipelined",
		Subsystem: "supervisor",
		Name:      "sub_pr_merges_total",
		Help:      "Sub-PR merge attempts by method (auto, direct, failed)",
	}, []string{"method"})

	ticketsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pipelined",
		Subsystem: "supervisor",
		Name:      "tickets_completed_total",
		Help:      "Tickets whose primary PR merged and left supervision",
	})
)
