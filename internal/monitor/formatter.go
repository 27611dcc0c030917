package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/pipelined/internal/state"
)

// Health classifies a ticket's CI state.
type Health int

const (
	HealthUnknown Health = iota
	HealthPassing
	HealthRunning
	HealthFailing
)

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatDuration formats duration in seconds to "Xh Ym" or "Xm"
func FormatDuration(seconds int64) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// FormatAge formats how long ago something happened.
func FormatAge(d time.Duration) string {
	switch {
	case d < 5*time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int64(d/time.Second))
	default:
		return FormatDuration(int64(d/time.Second)) + " ago"
	}
}

// Truncate shortens s to at most n runes, marking the cut with "…".
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

// SummarizeChecks reduces a ticket's checks to one line and a health class.
// Any failed conclusion wins over running jobs.
func SummarizeChecks(checks []state.Check) (string, Health) {
	if len(checks) == 0 {
		return "no checks", HealthUnknown
	}
	var passed, running, failed int
	for _, c := range checks {
		switch strings.ToLower(c.Conclusion) {
		case "success", "skipped", "neutral":
			passed++
		case "failure", "cancelled", "timed_out", "action_required":
			failed++
		default:
			running++
		}
	}
	switch {
	case failed > 0:
		return fmt.Sprintf("%d failing", failed), HealthFailing
	case running > 0:
		return fmt.Sprintf("%d running", running), HealthRunning
	default:
		return fmt.Sprintf("%d/%d passed", passed, len(checks)), HealthPassing
	}
}

// Stage names how far supervision has progressed for a ticket.
func Stage(t state.TrackedTicket) string {
	switch {
	case t.Merged:
		return "merged"
	case t.CopilotMerged:
		return fmt.Sprintf("fix #%d merged", t.SubPRNumber)
	case t.PRNumber > 0:
		return fmt.Sprintf("PR #%d open", t.PRNumber)
	case t.Branch != "":
		return "branch pushed"
	default:
		return "queued"
	}
}
