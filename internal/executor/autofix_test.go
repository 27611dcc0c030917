package executor

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/pipelined/internal/jira"
	"github.com/fyrsmithlabs/pipelined/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePatches(t *testing.T) {
	desc := "Please fix the flags.\n" +
		"path=app/settings.py, find=DEBUG = True, replace=DEBUG = False\n" +
		"path=/VERSION, find=, replace=1.2.0\n" +
		"path=missing-replace.txt, find=x\n" +
		"unrelated line, with=commas\n"

	patches := ParsePatches(desc)
	require.Len(t, patches, 2)
	assert.Equal(t, Patch{Path: "app/settings.py", Find: "DEBUG = True", Replace: "DEBUG = False"}, patches[0])
	assert.Equal(t, Patch{Path: "VERSION", Find: "", Replace: "1.2.0"}, patches[1])
	assert.Empty(t, ParsePatches("nothing to see"))
}

func autofixHarness(t *testing.T, description string) *harness {
	t.Helper()
	h := newHarness(t)
	h.host.AddRepo("acme/api", "main", "Python", map[string]string{
		"app/settings.py": "DEBUG = True\nPORT = 8000\n",
	})
	h.tracker.AddIssue(jira.Issue{Key: "KAN-9", Summary: "Turn off debug", Description: description})
	return h
}

func TestAutofix_AppliesPatchesAndOpensPR(t *testing.T) {
	h := autofixHarness(t, "path=app/settings.py, find=DEBUG = True, replace=DEBUG = False\npath=VERSION, find=, replace=1.2.0")

	res := h.exec.Autofix(context.Background(), AutofixRequest{IssueKey: "KAN-9", Repository: "acme/api"})
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, "autofix/kan-9", res.Branch)
	assert.True(t, res.IsNew)

	files := h.host.Files("acme/api", "autofix/kan-9")
	assert.Equal(t, "DEBUG = False\nPORT = 8000\n", files["app/settings.py"])
	assert.Equal(t, "1.2.0", files["VERSION"])
	assert.Equal(t, "DEBUG = True\nPORT = 8000\n", h.host.Files("acme/api", "main")["app/settings.py"], "base untouched")

	pr, ok := h.host.PullRequest("acme/api", res.PRNumber)
	require.True(t, ok)
	assert.Equal(t, "KAN-9: Turn off debug", pr.Title)
	assert.Equal(t, "main", pr.BaseRef)

	comments := h.host.Comments()
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0].Body, "@copilot please review this auto-fix PR")

	jc := h.tracker.Comments("KAN-9")
	require.Len(t, jc, 1)
	assert.Equal(t, "Opened PR with automated fixes: Turn off debug", jc[0].Text)
	assert.Equal(t, "View Auto-Fix PR", jc[0].Link.Text)
	assert.Equal(t, "In Progress", h.tracker.Status("KAN-9"))

	journal := h.store.Journal()
	require.Len(t, journal, 1)
	assert.Equal(t, "autofix", journal[0].Kind)
	_, tracked := h.store.Get("KAN-9")
	assert.True(t, tracked)
}

func TestAutofix_RerunReusesBranch(t *testing.T) {
	h := autofixHarness(t, "path=VERSION, find=, replace=1.2.0")
	ctx := context.Background()

	first := h.exec.Autofix(ctx, AutofixRequest{IssueKey: "KAN-9", Repository: "acme/api", BaseBranch: "main"})
	require.True(t, first.OK(), first.Message)
	second := h.exec.Autofix(ctx, AutofixRequest{IssueKey: "KAN-9", Repository: "acme/api", BaseBranch: "main"})
	require.True(t, second.OK(), second.Message)

	assert.False(t, second.IsNew)
	assert.Equal(t, first.PRNumber, second.PRNumber)
	assert.Len(t, h.tracker.Comments("KAN-9"), 1)
}

func TestAutofix_Failures(t *testing.T) {
	tests := []struct {
		name    string
		desc    string
		req     AutofixRequest
		wantMsg string
	}{
		{"no instructions", "just prose", AutofixRequest{IssueKey: "KAN-9", Repository: "acme/api"}, "no valid change instructions"},
		{"find not present", "path=app/settings.py, find=VERBOSE, replace=QUIET", AutofixRequest{IssueKey: "KAN-9", Repository: "acme/api"}, "not found"},
		{"missing key", "", AutofixRequest{Repository: "acme/api"}, "issueKey is required"},
		{"bad repository", "", AutofixRequest{IssueKey: "KAN-9", Repository: "api"}, "owner/name"},
		{"unknown ticket", "", AutofixRequest{IssueKey: "KAN-404", Repository: "acme/api"}, "fetch work item"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := autofixHarness(t, tt.desc)
			res := h.exec.Autofix(context.Background(), tt.req)
			assert.Equal(t, state.StatusError, res.Status)
			assert.Contains(t, res.Message, tt.wantMsg)
			assert.Nil(t, h.host.Files("acme/api", "autofix/kan-9"))
		})
	}
}
