package autopilot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/pipelined/internal/apierr"
	"github.com/fyrsmithlabs/pipelined/internal/codehost/codehosttest"
	"github.com/fyrsmithlabs/pipelined/internal/config"
	"github.com/fyrsmithlabs/pipelined/internal/executor"
	"github.com/fyrsmithlabs/pipelined/internal/jira"
	"github.com/fyrsmithlabs/pipelined/internal/jira/jiratest"
	"github.com/fyrsmithlabs/pipelined/internal/logging"
	"github.com/fyrsmithlabs/pipelined/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	mu       sync.Mutex
	payloads []executor.Payload
	result   executor.Result
	panicMsg string
}

func (r *recordingRunner) Run(_ context.Context, p executor.Payload) executor.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
	if r.panicMsg != "" {
		panic(r.panicMsg)
	}
	if r.result.Status == "" {
		return executor.Result{Status: state.StatusSuccess}
	}
	return r.result
}

func (r *recordingRunner) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

type fixture struct {
	host    *codehosttest.Fake
	tracker *jiratest.Fake
	cfg     *config.Config
}

func newFixture() *fixture {
	f := &fixture{host: codehosttest.New(), tracker: jiratest.New(), cfg: config.Default()}
	f.cfg.Repos.Default = "acme/widgets"
	f.host.AddRepo("acme/widgets", "main", "JavaScript", map[string]string{"README.md": "# widgets\n"})
	return f
}

func (f *fixture) resolver() *Resolver {
	return &Resolver{Repos: f.cfg.Repos, DeployTarget: f.cfg.Executor.DeployTarget, Host: f.host}
}

func (f *fixture) scheduler(t *testing.T, tracker Tracker, runner Runner) *Scheduler {
	t.Helper()
	s, err := NewScheduler(tracker, runner, f.resolver(), f.cfg.Jira, WithInterval(10*time.Millisecond))
	require.NoError(t, err)
	return s
}

func TestNewScheduler_RequiresCollaborators(t *testing.T) {
	_, err := NewScheduler(nil, &recordingRunner{}, &Resolver{}, config.Default().Jira)
	assert.Error(t, err)
}

func TestPollOnce_LockDispatchAndPostPRStatus(t *testing.T) {
	tests := []struct {
		name       string
		byProject  map[string]string
		wantStatus string
	}{
		{"default post-PR status", nil, "In Progress"},
		{"per-project override", map[string]string{"KAN": "In Review"}, "In Review"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.byProject != nil {
				f.cfg.Jira.PostPRStatusByProject = tt.byProject
			}
			f.tracker.AddIssue(jira.Issue{Key: "KAN-7", Summary: "Pipeline for widgets", Priority: "High"})
			store := state.NewStore(10)
			exec := executor.New(executor.ConfigFrom(f.cfg), f.host, f.tracker, store, nil)
			s := f.scheduler(t, f.tracker, exec)

			res := s.PollOnce(context.Background())
			require.Equal(t, OutcomeDispatched, res.Outcome, "%v", res.Err)
			assert.Equal(t, "KAN-7", res.IssueKey)
			require.NotNil(t, res.Result)
			assert.True(t, res.Result.IsNew)

			moves := f.tracker.Moves()
			require.NotEmpty(t, moves)
			assert.Equal(t, jiratest.Move{Key: "KAN-7", From: "To Do", To: "In Progress"}, moves[0], "lock comes first")
			assert.Equal(t, tt.wantStatus, f.tracker.Status("KAN-7"))

			comments := f.tracker.Comments("KAN-7")
			require.NotEmpty(t, comments)
			assert.True(t, strings.HasPrefix(comments[0].Text, "Autopilot engaging.\nTarget: acme/widgets"))
			assert.Contains(t, comments[0].Text, `"language": "node"`)

			_, tracked := store.Get("KAN-7")
			assert.True(t, tracked)
			assert.Equal(t, Idle, s.State())
			assert.False(t, s.LastCycle().IsZero())
		})
	}
}

func TestPollOnce_PicksHighestPriority(t *testing.T) {
	f := newFixture()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.tracker.AddIssue(jira.Issue{Key: "KAN-1", Priority: "Low", Created: base})
	f.tracker.AddIssue(jira.Issue{Key: "KAN-2", Priority: "Highest", Created: base.Add(time.Hour)})
	f.tracker.AddIssue(jira.Issue{Key: "KAN-3", Priority: "Highest", Created: base.Add(2 * time.Hour)})
	f.tracker.AddIssue(jira.Issue{Key: "OPS-1", Priority: "Highest", Created: base})
	runner := &recordingRunner{}
	s := f.scheduler(t, f.tracker, runner)

	res := s.PollOnce(context.Background())
	require.Equal(t, OutcomeDispatched, res.Outcome)
	assert.Equal(t, "KAN-2", res.IssueKey, "highest priority, oldest first, configured projects only")
	assert.Equal(t, 3, res.Candidates)
	assert.Equal(t, 1, runner.calls(), "one ticket per cycle")
	assert.Equal(t, "To Do", f.tracker.Status("KAN-3"))
	assert.Contains(t, f.tracker.Queries()[0], `project in ("KAN")`)
}

func TestPollOnce_NoWork(t *testing.T) {
	f := newFixture()
	f.tracker.AddIssue(jira.Issue{Key: "KAN-1", Status: "Done"})
	runner := &recordingRunner{}

	res := f.scheduler(t, f.tracker, runner).PollOnce(context.Background())
	assert.Equal(t, OutcomeNoWork, res.Outcome)
	assert.Zero(t, runner.calls())
}

func TestPollOnce_PollFailure(t *testing.T) {
	f := newFixture()
	f.tracker.Fail("SearchIssues", apierr.FromStatus("jira.search", 503, errors.New("down")))

	res := f.scheduler(t, f.tracker, &recordingRunner{}).PollOnce(context.Background())
	assert.Equal(t, OutcomePollFailed, res.Outcome)
	assert.True(t, apierr.IsTransient(res.Err))
}

func TestPollOnce_LockContentionSkipsSilently(t *testing.T) {
	f := newFixture()
	f.tracker.AddIssue(jira.Issue{Key: "KAN-7"})
	f.tracker.BeforeTransition = func(key string) { f.tracker.SetStatus(key, "In Progress") }
	runner := &recordingRunner{}
	logger := logging.NewTestLogger()

	s, err := NewScheduler(f.tracker, runner, f.resolver(), f.cfg.Jira, WithLogger(logger.Logger))
	require.NoError(t, err)
	res := s.PollOnce(context.Background())

	assert.Equal(t, OutcomeContended, res.Outcome)
	assert.ErrorIs(t, res.Err, jira.ErrTransitionUnavailable)
	assert.Zero(t, runner.calls())
	assert.Empty(t, f.tracker.Comments("KAN-7"), "no side effects")
	assert.Zero(t, f.tracker.Calls("GetIssue"), "no context derivation without the lock")
	assert.NotEmpty(t, logger.FilterMessage("soft lock not acquired").All())
}

// barrierTracker holds every search until all pollers have searched, so the
// pollers race on the same lock.
type barrierTracker struct {
	*jiratest.Fake
	wg *sync.WaitGroup
}

func (b barrierTracker) SearchIssues(ctx context.Context, jql string, max int) ([]jira.Issue, error) {
	issues, err := b.Fake.SearchIssues(ctx, jql, max)
	b.wg.Done()
	b.wg.Wait()
	return issues, err
}

func TestPollOnce_SoftLockExclusivity(t *testing.T) {
	const pollers = 4
	f := newFixture()
	f.tracker.AddIssue(jira.Issue{Key: "KAN-7"})
	runner := &recordingRunner{}

	var barrier sync.WaitGroup
	barrier.Add(pollers)
	tracker := barrierTracker{Fake: f.tracker, wg: &barrier}

	results := make([]CycleResult, pollers)
	var wg sync.WaitGroup
	for i := 0; i < pollers; i++ {
		s := f.scheduler(t, tracker, runner)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.PollOnce(context.Background())
		}(i)
	}
	wg.Wait()

	var dispatched, contended int
	for _, r := range results {
		switch r.Outcome {
		case OutcomeDispatched:
			dispatched++
		case OutcomeContended:
			contended++
		}
	}
	assert.Equal(t, 1, dispatched)
	assert.Equal(t, pollers-1, contended)
	assert.Equal(t, 1, runner.calls())
}

func TestPollOnce_FailuresAreCommented(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fixture, *recordingRunner)
		wantMsg string
	}{
		{
			name:    "no repository configured",
			setup:   func(f *fixture, _ *recordingRunner) { f.cfg.Repos.Default = "" },
			wantMsg: "could not determine repository",
		},
		{
			name: "executor error",
			setup: func(_ *fixture, r *recordingRunner) {
				r.result = executor.Result{Status: state.StatusError, Message: "commit pipeline: boom"}
			},
			wantMsg: "commit pipeline: boom",
		},
		{
			name:    "executor panic",
			setup:   func(_ *fixture, r *recordingRunner) { r.panicMsg = "kaboom" },
			wantMsg: "internal error: kaboom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.tracker.AddIssue(jira.Issue{Key: "KAN-7"})
			runner := &recordingRunner{}
			tt.setup(f, runner)

			res := f.scheduler(t, f.tracker, runner).PollOnce(context.Background())
			assert.Equal(t, OutcomeFailed, res.Outcome)

			comments := f.tracker.Comments("KAN-7")
			require.NotEmpty(t, comments)
			last := comments[len(comments)-1].Text
			assert.True(t, strings.HasPrefix(last, "Autopilot failed: "), last)
			assert.Contains(t, last, tt.wantMsg)
		})
	}
}

func TestRun_KeepsPollingUntilCancelled(t *testing.T) {
	f := newFixture()
	f.tracker.Fail("SearchIssues", apierr.FromStatus("jira.search", 503, errors.New("down")))
	s := f.scheduler(t, f.tracker, &recordingRunner{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return f.tracker.Calls("SearchIssues") >= 3 }, time.Second, 5*time.Millisecond,
		"a failing cycle does not stop the loop")
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "polling", Polling.String())
	assert.Equal(t, "locking", Locking.String())
	assert.Equal(t, "dispatching", Dispatching.String())
}
