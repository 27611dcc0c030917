package http

import (
	"strings"

	"github.com/fyrsmithlabs/pipelined/internal/state"
)

// StatusCounts summarizes a snapshot for dashboards.
type StatusCounts struct {
	Tracked       int `json:"tracked"`
	Reconciled    int `json:"reconciled"`
	FailingChecks int `json:"failing_checks"`
	SubPRsMerged  int `json:"sub_prs_merged"`
	JournalErrors int `json:"journal_errors"`
}

// CountFromSnapshot counts tracked tickets by state and failed journal
// entries.
//
// A ticket counts as failing when any of its checks concluded with failure,
// cancelled or timed_out; checks still running are not failures.
func CountFromSnapshot(snap state.Snapshot) StatusCounts {
	var c StatusCounts
	for _, t := range snap.Tracked {
		c.Tracked++
		if t.Source == state.SourceReconciler {
			c.Reconciled++
		}
		if t.CopilotMerged {
			c.SubPRsMerged++
		}
		for _, check := range t.Checks {
			if failedConclusion(check.Conclusion) {
				c.FailingChecks++
				break
			}
		}
	}
	for _, e := range snap.Journal {
		if e.Status == state.StatusError {
			c.JournalErrors++
		}
	}
	return c
}

func failedConclusion(conclusion string) bool {
	switch strings.ToLower(conclusion) {
	case "failure", "cancelled", "timed_out":
		return true
	}
	return false
}
