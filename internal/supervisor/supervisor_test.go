package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/pipelined/internal/apierr"
	"github.com/fyrsmithlabs/pipelined/internal/codehost"
	"github.com/fyrsmithlabs/pipelined/internal/codehost/codehosttest"
	"github.com/fyrsmithlabs/pipelined/internal/jira"
	"github.com/fyrsmithlabs/pipelined/internal/jira/jiratest"
	"github.com/fyrsmithlabs/pipelined/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	repoName = "acme/widgets"
	branch   = "feature/copilot-widgets"
)

type harness struct {
	host    *codehosttest.Fake
	tracker *jiratest.Fake
	store   *state.Store
	sup     *Supervisor
	primary codehost.PullRequest
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		host:    codehosttest.New(),
		tracker: jiratest.New(),
		store:   state.NewStore(10),
	}
	h.primary = h.host.AddPullRequest(repoName, codehost.PullRequest{
		Title:   "KAN-7: Add CI/CD pipeline",
		HeadRef: branch,
		HeadSHA: "c0ffee",
		BaseRef: "main",
		Author:  "pipelined-bot",
	})
	h.tracker.AddIssue(jira.Issue{Key: "KAN-7", Status: "In Progress"})
	h.store.Track(state.TrackedTicket{
		Key:        "KAN-7",
		Repository: repoName,
		Branch:     branch,
		PRNumber:   h.primary.Number,
		PRURL:      h.primary.URL,
		PRNodeID:   h.primary.NodeID,
		HeadSHA:    "c0ffee",
	})

	sup, err := New(h.host, h.tracker, h.store, Config{
		AutomationUser:   "copilot",
		MergeMethod:      "squash",
		DoneStatus:       "Done",
		BuildInterval:    10 * time.Millisecond,
		WatchdogInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	h.sup = sup
	return h
}

func (h *harness) ticket(t *testing.T) state.TrackedTicket {
	t.Helper()
	tt, ok := h.store.Get("KAN-7")
	require.True(t, ok, "KAN-7 should be tracked")
	return tt
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, jiratest.New(), state.NewStore(1), Config{})
	assert.Error(t, err)
}

func TestCheckBuilds_RecordsJobs(t *testing.T) {
	h := newHarness(t)
	h.host.AddWorkflowRun(repoName, branch,
		codehost.WorkflowRun{Name: "CI", Status: "completed", Conclusion: "failure", HeadSHA: "c0ffee"},
		codehost.Job{Name: "build", Status: "completed", Conclusion: "success", URL: "https://ci/1"},
		codehost.Job{Name: "test", Status: "completed", Conclusion: "failure", URL: "https://ci/2"},
	)

	rep := h.sup.CheckBuilds(context.Background())
	assert.Equal(t, Report{Checked: 1, Changed: 1}, rep)

	got := h.ticket(t)
	assert.Equal(t, []state.Check{
		{Name: "build", Status: "completed", Conclusion: "success", URL: "https://ci/1"},
		{Name: "test", Status: "completed", Conclusion: "failure", URL: "https://ci/2"},
	}, got.Checks)
	assert.False(t, got.ChecksUpdatedAt.IsZero())
}

func TestCheckBuilds_NewerPushSupersedesOlderRun(t *testing.T) {
	h := newHarness(t)
	h.store.Update("KAN-7", func(tt *state.TrackedTicket) { tt.HeadSHA = "c0ffee" })
	h.host.AddWorkflowRun(repoName, branch,
		codehost.WorkflowRun{Name: "CI", Status: "completed", Conclusion: "failure", HeadSHA: "c0ffee"},
		codehost.Job{Name: "build", Status: "completed", Conclusion: "failure"})
	h.host.AddWorkflowRun(repoName, branch,
		codehost.WorkflowRun{Name: "CI", Status: "completed", Conclusion: "success", HeadSHA: "f1xed"},
		codehost.Job{Name: "build", Status: "completed", Conclusion: "success"})

	h.sup.CheckBuilds(context.Background())

	got := h.ticket(t)
	assert.Equal(t, []state.Check{{Name: "build", Status: "completed", Conclusion: "success"}}, got.Checks)
	assert.Equal(t, "f1xed", got.HeadSHA)
}

func TestCheckBuilds_RunWithoutJobsRecordsTheRun(t *testing.T) {
	h := newHarness(t)
	h.host.AddWorkflowRun(repoName, branch,
		codehost.WorkflowRun{Name: "CI", Status: "queued", HeadSHA: "c0ffee", URL: "https://ci/run"})

	h.sup.CheckBuilds(context.Background())
	assert.Equal(t, []state.Check{{Name: "CI", Status: "queued", URL: "https://ci/run"}}, h.ticket(t).Checks)
}

func TestCheckBuilds_NoRunKeepsPreviousChecks(t *testing.T) {
	h := newHarness(t)
	previous := []state.Check{{Name: "build", Status: "in_progress"}}
	h.store.Update("KAN-7", func(tt *state.TrackedTicket) { tt.Checks = previous })

	rep := h.sup.CheckBuilds(context.Background())
	assert.Equal(t, Report{Checked: 1}, rep)
	assert.Equal(t, previous, h.ticket(t).Checks)
}

func TestCheckBuilds_FailureIsIsolatedPerTicket(t *testing.T) {
	h := newHarness(t)
	h.store.Track(state.TrackedTicket{Key: "KAN-1", Repository: "not-a-repo", Branch: "x", PRNumber: 99})
	h.host.AddWorkflowRun(repoName, branch,
		codehost.WorkflowRun{Name: "CI", Status: "completed", Conclusion: "success"},
		codehost.Job{Name: "build", Status: "completed", Conclusion: "success"})

	rep := h.sup.CheckBuilds(context.Background())
	assert.Equal(t, Report{Checked: 2, Changed: 1, Failed: 1}, rep)
	assert.Len(t, h.ticket(t).Checks, 1)
}

func TestIsAutomationAuthor(t *testing.T) {
	tests := []struct {
		author, user string
		want         bool
	}{
		{"copilot", "copilot", true},
		{"Copilot", "copilot", true},
		{"copilot[bot]", "copilot", true},
		{"Copilot", "copilot[bot]", true},
		{"copilot-swe-agent", "copilot", false},
		{"octocat", "copilot", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.author+"/"+tt.user, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAutomationAuthor(tt.author, tt.user))
		})
	}
}

func TestFindSubPR(t *testing.T) {
	const primaryURL = "https://github.com/acme/widgets/pull/4"
	prs := []*codehost.PullRequest{
		{Number: 4, Author: "copilot", Body: "self #4"},
		{Number: 5, Author: "octocat", Body: "Fixes #4"},
		{Number: 6, Author: "copilot", Body: "Fixes #41"},
		{Number: 7, Author: "copilot", Title: "[WIP] Fix lint", Body: "Fixes #4"},
		{Number: 8, Author: "Copilot", Title: "Fix lint", Body: "Follow-up to " + primaryURL},
		{Number: 9, Author: "copilot", Title: "Fix tests", Body: "Fixes #4"},
	}

	got := FindSubPR(prs, 4, primaryURL, "copilot")
	require.NotNil(t, got)
	assert.Equal(t, 8, got.Number, "first non-WIP match wins")

	assert.Nil(t, FindSubPR(prs[:4], 4, primaryURL, "copilot"))
	assert.Nil(t, FindSubPR(nil, 4, primaryURL, "copilot"))
}

func TestMergeSubPRs_UndraftsApprovesAndEnablesAutoMerge(t *testing.T) {
	h := newHarness(t)
	sub := h.host.AddPullRequest(repoName, codehost.PullRequest{
		Title:   "Fix failing workflow",
		Body:    "Addresses review feedback on #1",
		Author:  "Copilot",
		Draft:   true,
		HeadRef: "copilot/fix-ci",
		BaseRef: branch,
	})
	require.Equal(t, 1, h.primary.Number)

	rep := h.sup.MergeSubPRs(context.Background())
	assert.Equal(t, Report{Checked: 1, Changed: 1}, rep)

	got, _ := h.host.PullRequest(repoName, sub.Number)
	assert.False(t, got.Draft)
	assert.True(t, h.host.Approved(repoName, sub.Number))
	assert.Equal(t, "SQUASH", h.host.AutoMergeMethod(sub.NodeID))
	assert.Zero(t, h.host.Calls("MergePullRequest"))

	tt := h.ticket(t)
	assert.True(t, tt.CopilotMerged)
	assert.Equal(t, sub.Number, tt.SubPRNumber)
	assert.Equal(t, sub.URL, tt.SubPRURL)

	comments := h.tracker.Comments("KAN-7")
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0].Text, "auto-merge")
	assert.Equal(t, sub.URL, comments[0].Link.URL)

	// Once merged the ticket is no longer searched.
	lists := h.host.Calls("ListPullRequests")
	assert.Equal(t, Report{}, h.sup.MergeSubPRs(context.Background()))
	assert.Equal(t, lists, h.host.Calls("ListPullRequests"))
}

func TestMergeSubPRs_FallsBackToDirectMerge(t *testing.T) {
	h := newHarness(t)
	h.host.AutoMergeErr = apierr.New(apierr.Unknown, "github.enable_auto_merge", errors.New("auto-merge is not allowed for this repository"))
	sub := h.host.AddPullRequest(repoName, codehost.PullRequest{
		Title: "Fix lint", Body: "Fixes #1", Author: "copilot[bot]", HeadRef: "copilot/lint", BaseRef: branch,
	})

	rep := h.sup.MergeSubPRs(context.Background())
	assert.Equal(t, 1, rep.Changed)

	got, _ := h.host.PullRequest(repoName, sub.Number)
	assert.True(t, got.Merged)
	assert.True(t, h.ticket(t).CopilotMerged)
	assert.Contains(t, h.tracker.Comments("KAN-7")[0].Text, "merged into PR #1")
}

func TestMergeSubPRs_MergeFailureLeavesTicketPending(t *testing.T) {
	h := newHarness(t)
	h.host.AutoMergeErr = errors.New("unsupported")
	h.host.Fail("MergePullRequest", apierr.FromStatus("github.merge_pull", 405, errors.New("required checks failing")))
	h.host.AddPullRequest(repoName, codehost.PullRequest{Title: "Fix", Body: "#1", Author: "copilot"})

	rep := h.sup.MergeSubPRs(context.Background())
	assert.Equal(t, Report{Checked: 1, Failed: 1}, rep)
	assert.False(t, h.ticket(t).CopilotMerged)
	assert.Empty(t, h.tracker.Comments("KAN-7"))
}

func TestMergeSubPRs_SkipsWorkInProgress(t *testing.T) {
	h := newHarness(t)
	h.host.AddPullRequest(repoName, codehost.PullRequest{Title: "[WIP] Fix", Body: "Fixes #1", Author: "copilot"})

	rep := h.sup.MergeSubPRs(context.Background())
	assert.Equal(t, Report{Checked: 1}, rep)
	assert.Zero(t, h.host.Calls("ApprovePullRequest"))
	assert.False(t, h.ticket(t).CopilotMerged)
}

func TestCheckMerges_ClosesOutOnce(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, Report{Checked: 1}, h.sup.CheckMerges(context.Background()))
	h.ticket(t)

	h.host.SetMerged(repoName, h.primary.Number)
	rep := h.sup.CheckMerges(context.Background())
	assert.Equal(t, Report{Checked: 1, Changed: 1}, rep)

	_, tracked := h.store.Get("KAN-7")
	assert.False(t, tracked)
	assert.Equal(t, "Done", h.tracker.Status("KAN-7"))
	comments := h.tracker.Comments("KAN-7")
	require.Len(t, comments, 1)
	assert.Equal(t, "Pull Request #1 merged.", comments[0].Text)

	// Subsequent cycles never see the ticket again.
	assert.Equal(t, Report{}, h.sup.CheckMerges(context.Background()))
	assert.Equal(t, Report{}, h.sup.CheckBuilds(context.Background()))
	assert.Len(t, h.tracker.Comments("KAN-7"), 1)
	assert.Len(t, h.tracker.Moves(), 1)
}

func TestCheckMerges_ConcurrentPassesNotifyOnce(t *testing.T) {
	h := newHarness(t)
	h.host.SetMerged(repoName, h.primary.Number)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.sup.CheckMerges(context.Background())
		}()
	}
	wg.Wait()

	assert.Len(t, h.tracker.Comments("KAN-7"), 1)
	assert.Len(t, h.tracker.Moves(), 1)
	assert.Empty(t, h.store.Tracked())
}

func TestCheckMerges_NotificationFailuresStillConverge(t *testing.T) {
	h := newHarness(t)
	h.host.SetMerged(repoName, h.primary.Number)
	h.tracker.Fail("AddComment", apierr.FromStatus("jira.add_comment", 503, errors.New("down")))
	h.tracker.Fail("Transition", apierr.FromStatus("jira.transition", 503, errors.New("down")))

	rep := h.sup.CheckMerges(context.Background())
	assert.Equal(t, 1, rep.Changed)
	assert.Empty(t, h.store.Tracked())
}

func TestCheckMerges_FailureIsIsolatedPerTicket(t *testing.T) {
	h := newHarness(t)
	h.store.Track(state.TrackedTicket{Key: "KAN-1", Repository: "acme/gone", Branch: branch, PRNumber: 42})
	h.host.SetMerged(repoName, h.primary.Number)

	rep := h.sup.CheckMerges(context.Background())
	assert.Equal(t, Report{Checked: 2, Changed: 1, Failed: 1}, rep)
	_, stillTracked := h.store.Get("KAN-1")
	assert.True(t, stillTracked)
}

type panickyHost struct{ *codehosttest.Fake }

func (panickyHost) GetPullRequest(context.Context, codehost.Repo, int) (*codehost.PullRequest, error) {
	panic("nil pointer in client")
}

func TestCheckMerges_PanicIsContained(t *testing.T) {
	h := newHarness(t)
	sup, err := New(panickyHost{h.host}, h.tracker, h.store, Config{})
	require.NoError(t, err)

	var rep Report
	require.NotPanics(t, func() { rep = sup.CheckMerges(context.Background()) })
	assert.Equal(t, Report{Checked: 1, Failed: 1}, rep)
}

func TestRun_ConvergesAndStops(t *testing.T) {
	h := newHarness(t)
	h.host.AddWorkflowRun(repoName, branch,
		codehost.WorkflowRun{Name: "CI", Status: "completed", Conclusion: "success"},
		codehost.Job{Name: "build", Status: "completed", Conclusion: "success"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		tt, ok := h.store.Get("KAN-7")
		return ok && len(tt.Checks) == 1
	}, time.Second, 5*time.Millisecond)

	h.host.SetMerged(repoName, h.primary.Number)
	require.Eventually(t, func() bool { return len(h.store.Tracked()) == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, "Done", h.tracker.Status("KAN-7"))
}
