package autopilot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/pipelined/internal/config"
	"github.com/fyrsmithlabs/pipelined/internal/jira"
)

// BuildJQL queries tickets in status across projects, highest priority and
// oldest first. The ALL scope drops the project clause.
func BuildJQL(projects []string, status string) string {
	return scoped(projects, fmt.Sprintf("status = %q", status)) + " ORDER BY priority DESC, created ASC"
}

// ActiveJQL queries every ticket not yet done across projects, most recently
// updated first within a priority.
func ActiveJQL(projects []string) string {
	return scoped(projects, "statusCategory != Done") + " ORDER BY priority DESC, updated DESC"
}

func scoped(projects []string, clause string) string {
	var quoted []string
	for _, p := range projects {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.EqualFold(p, config.AllProjects) {
			return clause
		}
		quoted = append(quoted, fmt.Sprintf("%q", strings.ToUpper(p)))
	}
	if len(quoted) == 0 {
		return clause
	}
	return fmt.Sprintf("project in (%s) AND %s", strings.Join(quoted, ","), clause)
}

var priorityRank = map[string]int{
	"highest": 0,
	"high":    1,
	"medium":  2,
	"low":     3,
	"lowest":  4,
}

// PriorityRank orders priority names; unknown or missing ranks as Medium.
func PriorityRank(priority string) int {
	if rank, ok := priorityRank[strings.ToLower(strings.TrimSpace(priority))]; ok {
		return rank
	}
	return priorityRank["medium"]
}

// SortByPriority orders issues by rank, keeping the query's order for ties.
func SortByPriority(issues []jira.Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		return PriorityRank(issues[i].Priority) < PriorityRank(issues[j].Priority)
	})
}
