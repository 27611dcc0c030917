package gitops

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipelined",
		Subsystem: "gitops",
		Name:      "commits_total",
		Help:      "Commit protocol runs by result",
	}, []string{"result"})

	commitConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pipelined",
		Subsystem: "gitops",
		Name:      "ref_conflicts_total",
		Help:      "Ref updates that lost a race and were retried on a fresh tip",
	})

	pullRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipelined",
		Subsystem: "gitops",
		Name:      "pull_requests_total",
		Help:      "EnsurePR outcomes",
	}, []string{"outcome"})
)
