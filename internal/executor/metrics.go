package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var passesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pipelined",
	Subsystem: "executor",
	Name:      "passes_total",
	Help:      "Reconciliation passes by kind and result",
}, []string{"kind", "status"})
