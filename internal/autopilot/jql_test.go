package autopilot

import (
	"testing"

	"github.com/fyrsmithlabs/pipelined/internal/jira"
	"github.com/stretchr/testify/assert"
)

func TestBuildJQL(t *testing.T) {
	tests := []struct {
		name     string
		projects []string
		want     string
	}{
		{"single", []string{"KAN"}, `project in ("KAN") AND status = "To Do" ORDER BY priority DESC, created ASC`},
		{"several", []string{"kan", " OPS "}, `project in ("KAN","OPS") AND status = "To Do" ORDER BY priority DESC, created ASC`},
		{"all", []string{"ALL"}, `status = "To Do" ORDER BY priority DESC, created ASC`},
		{"empty", nil, `status = "To Do" ORDER BY priority DESC, created ASC`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildJQL(tt.projects, "To Do"))
		})
	}
}

func TestActiveJQL(t *testing.T) {
	assert.Equal(t, `project in ("D2") AND statusCategory != Done ORDER BY priority DESC, updated DESC`, ActiveJQL([]string{"d2"}))
	assert.Equal(t, `statusCategory != Done ORDER BY priority DESC, updated DESC`, ActiveJQL([]string{"KAN", "ALL"}))
}

func TestSortByPriority(t *testing.T) {
	issues := []jira.Issue{
		{Key: "KAN-1", Priority: "Low"},
		{Key: "KAN-2"},
		{Key: "KAN-3", Priority: "Highest"},
		{Key: "KAN-4", Priority: "Medium"},
		{Key: "KAN-5", Priority: "high"},
	}
	SortByPriority(issues)

	var keys []string
	for _, i := range issues {
		keys = append(keys, i.Key)
	}
	assert.Equal(t, []string{"KAN-3", "KAN-5", "KAN-2", "KAN-4", "KAN-1"}, keys)
	assert.Equal(t, 2, PriorityRank("Blocker"))
}
