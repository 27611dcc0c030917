package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/pipelined/internal/codehost/codehosttest"
	"github.com/fyrsmithlabs/pipelined/internal/config"
	api "github.com/fyrsmithlabs/pipelined/internal/http"
	"github.com/fyrsmithlabs/pipelined/internal/jira"
	"github.com/fyrsmithlabs/pipelined/internal/jira/jiratest"
	"github.com/fyrsmithlabs/pipelined/internal/logging"
	"github.com/fyrsmithlabs/pipelined/internal/state"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useFakes points every command at in-memory GitHub and Jira.
func useFakes(t *testing.T) (*codehosttest.Fake, *jiratest.Fake) {
	t.Helper()
	cfg := config.Default()
	cfg.Repos.Default = "acme/widgets"

	host := codehosttest.New()
	host.AddRepo("acme/widgets", "main", "Go", map[string]string{"go.mod": "module acme/widgets\n"})
	tracker := jiratest.New()

	orig := loadEnv
	loadEnv = func(_ context.Context, needHost bool) (*env, error) {
		e := &env{cfg: cfg, logger: logging.Nop(), tracker: tracker}
		if needHost {
			e.withHost(host)
		}
		return e, nil
	}
	t.Cleanup(func() { loadEnv = orig })
	return host, tracker
}

// execute runs the root command with args and resets flag state afterwards.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		serverURL = "http://localhost:8000"
		runIssueKey, runTracking = "", false
		autofixIssueKey, autofixBase = "", ""
		listProjects, listSelectAll, listLimit = nil, false, 50
		statusJSON = false
		mcpAllow = nil
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPayloadFromArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want positional
	}{
		{
			name: "required only",
			args: []string{"acme/api", "go"},
			want: positional{repo: "acme/api", lang: "go"},
		},
		{
			name: "all positional",
			args: []string{"acme/web", "node", "npm run build", "npm test", "github-pages"},
			want: positional{repo: "acme/web", lang: "node", build: "npm run build", test: "npm test", deploy: "github-pages"},
		},
		{
			name: "build and test",
			args: []string{"acme/web", "node", "make", "make test"},
			want: positional{repo: "acme/web", lang: "node", build: "make", test: "make test"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := payloadFromArgs(tt.args, "KAN-1", true)
			assert.Equal(t, "KAN-1", p.IssueKey)
			assert.Equal(t, "cli", p.Source)
			assert.True(t, p.CreateTrackingIssue)
			assert.Equal(t, tt.want, positional{
				repo: p.Repository, lang: p.Language,
				build: p.BuildCommand, test: p.TestCommand, deploy: p.DeployTarget,
			})
		})
	}
}

type positional struct {
	repo, lang, build, test, deploy string
}

func TestRunCommand(t *testing.T) {
	t.Run("opens the pipeline PR", func(t *testing.T) {
		host, tracker := useFakes(t)
		tracker.AddIssue(jira.Issue{Key: "KAN-7", Summary: "Pipeline for widgets"})

		out, err := execute(t, "run", "acme/widgets", "go", "--issue-key", "KAN-7")
		require.NoError(t, err)
		assert.Contains(t, out, "KAN-7: success (created)")
		assert.Contains(t, out, "PR:")
		assert.Len(t, host.OpenPullRequests("acme/widgets"), 1)
	})

	t.Run("rejects an invalid repository before connecting", func(t *testing.T) {
		orig := loadEnv
		loadEnv = func(context.Context, bool) (*env, error) {
			t.Fatal("loadEnv must not be called")
			return nil, nil
		}
		t.Cleanup(func() { loadEnv = orig })

		_, err := execute(t, "run", "not-a-repo", "go")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid arguments")
	})

	t.Run("reports a failed pass", func(t *testing.T) {
		useFakes(t)

		out, err := execute(t, "run", "acme/missing", "go")
		require.ErrorIs(t, err, errPassFailed)
		assert.Contains(t, out, "acme/missing: error:")
	})
}

func TestListCommand(t *testing.T) {
	t.Run("select-all runs every active ticket", func(t *testing.T) {
		host, tracker := useFakes(t)
		tracker.AddIssue(jira.Issue{Key: "KAN-1", Summary: "Low one", Priority: "Low"})
		tracker.AddIssue(jira.Issue{Key: "KAN-2", Summary: "Urgent one", Priority: "Highest"})
		tracker.AddIssue(jira.Issue{Key: "KAN-3", Summary: "Finished", Status: "Done"})

		out, err := execute(t, "list", "--project", "KAN", "--select-all")
		require.NoError(t, err)

		assert.Contains(t, out, "KAN-2")
		assert.NotContains(t, out, "KAN-3")
		assert.Less(t, strings.Index(out, "KAN-2"), strings.Index(out, "KAN-1"))
		assert.Contains(t, out, "KAN-1: success")
		assert.Contains(t, out, "KAN-2: success")
		assert.NotEmpty(t, host.OpenPullRequests("acme/widgets"))
	})

	t.Run("runs only the picked tickets", func(t *testing.T) {
		_, tracker := useFakes(t)
		tracker.AddIssue(jira.Issue{Key: "KAN-1", Summary: "First"})
		tracker.AddIssue(jira.Issue{Key: "KAN-2", Summary: "Second"})

		orig := pickTickets
		pickTickets = func(_ *cobra.Command, issues []jira.Issue) ([]jira.Issue, error) {
			require.Len(t, issues, 2)
			return issues[1:], nil
		}
		t.Cleanup(func() { pickTickets = orig })

		out, err := execute(t, "list")
		require.NoError(t, err)
		assert.Contains(t, out, "KAN-2: success")
		assert.NotContains(t, out, "KAN-1: success")
	})

	t.Run("nothing active", func(t *testing.T) {
		useFakes(t)

		out, err := execute(t, "list", "--select-all")
		require.NoError(t, err)
		assert.Contains(t, out, "No active tickets.")
	})
}

func TestTransitionCommands(t *testing.T) {
	_, tracker := useFakes(t)
	tracker.AddIssue(jira.Issue{Key: "KAN-7", Summary: "Pipeline"})

	out, err := execute(t, "transitions", "KAN-7")
	require.NoError(t, err)
	assert.Contains(t, out, "In Progress")
	assert.Contains(t, out, "Done")

	out, err = execute(t, "transition", "KAN-7", "in progress")
	require.NoError(t, err)
	assert.Contains(t, out, "KAN-7 moved to in progress")
	assert.Equal(t, "In Progress", tracker.Status("KAN-7"))

	_, err = execute(t, "transition", "KAN-7", "Shipped")
	require.ErrorIs(t, err, jira.ErrTransitionUnavailable)
}

func statusServer(t *testing.T, resp api.StatusResponse) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStatusCommand(t *testing.T) {
	resp := api.StatusResponse{
		Status:         "ok",
		AutopilotState: "idle",
		Counts:         api.StatusCounts{Tracked: 1, FailingChecks: 1},
		Tracked: []state.TrackedTicket{{
			Key:        "KAN-7",
			Repository: "acme/widgets",
			PRNumber:   12,
			Checks:     []state.Check{{Name: "build", Status: "completed", Conclusion: "failure"}},
		}},
		Journal: []state.Entry{{
			Time:     time.Now().Add(-90 * time.Second),
			IssueKey: "KAN-7",
			Status:   state.StatusSuccess,
			Message:  "pipeline updated",
		}},
	}

	t.Run("table", func(t *testing.T) {
		srv := statusServer(t, resp)

		out, err := execute(t, "status", "--server", srv.URL)
		require.NoError(t, err)
		assert.Contains(t, out, "Autopilot: idle")
		assert.Contains(t, out, "KAN-7")
		assert.Contains(t, out, "PR #12 open")
		assert.Contains(t, out, "1 failing")
		assert.Contains(t, out, "pipeline updated")
	})

	t.Run("json", func(t *testing.T) {
		srv := statusServer(t, resp)

		out, err := execute(t, "status", "--server", srv.URL, "--json")
		require.NoError(t, err)
		var got api.StatusResponse
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, "idle", got.AutopilotState)
		require.Len(t, got.Tracked, 1)
	})

	t.Run("daemon down", func(t *testing.T) {
		srv := statusServer(t, resp)
		srv.Close()

		_, err := execute(t, "status", "--server", srv.URL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot reach pipelined")
	})
}

func TestPrintStatus_Empty(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, api.StatusResponse{Status: "ok"}, time.Now())

	assert.Contains(t, buf.String(), "Autopilot: off")
	assert.Contains(t, buf.String(), "Nothing under supervision.")
	assert.Contains(t, buf.String(), "No passes yet.")
}
