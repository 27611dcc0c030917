package mcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/pipelined/internal/logging"
	"github.com/fyrsmithlabs/pipelined/internal/scaffold"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	codes map[string]int
	err   error
}

func (f *fakeRunner) Run(_ context.Context, _ string, argv []string) (CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, argv)
	if f.err != nil {
		return CommandResult{}, f.err
	}
	return CommandResult{Command: argv[0], Stdout: "ok", ReturnCode: f.codes[argv[0]]}, nil
}

type toolHarness struct {
	root   string
	runner *fakeRunner
	logger *logging.TestLogger
	srv    *Server
}

func newToolHarness(t *testing.T, allowed ...string) *toolHarness {
	t.Helper()
	h := &toolHarness{
		root:   filepath.Join(t.TempDir(), "widgets"),
		runner: &fakeRunner{codes: map[string]int{}},
		logger: logging.NewTestLogger(),
	}
	require.NoError(t, os.MkdirAll(h.root, 0o755))
	if allowed == nil {
		allowed = []string{h.root}
	}
	srv, err := NewServer(&Config{AllowedRepos: allowed, Runner: h.runner, Logger: h.logger.Logger})
	require.NoError(t, err)
	h.srv = srv
	return h
}

func TestAgentTests_Denied(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		path    func(root string) string
		details string
	}{
		{"no allowlist", []string{}, func(root string) string { return root }, "ALLOWED_REPOS"},
		{"outside the allowlist", nil, func(root string) string { return filepath.Dir(root) }, "not in the allowed repositories"},
		{"prefix sibling", nil, func(root string) string { return root + "-fork" }, "not in the allowed repositories"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newToolHarness(t, tt.allowed...)
			if tt.allowed != nil {
				require.True(t, h.srv.allow.Empty())
			}
			res := h.srv.invoke(context.Background(), "agent_tests", func(ctx context.Context) ToolResult {
				return h.srv.agentTests(ctx, agentTestsInput{RepoPath: tt.path(h.root)})
			})
			assert.Equal(t, StatusDenied, res.Status)
			assert.Contains(t, res.Details, tt.details)
			assert.Empty(t, h.runner.calls, "nothing runs for a denied path")
			h.logger.AssertLogged(t, zapcore.WarnLevel, "tool call denied")
		})
	}
}

func TestAgentTests_PythonStopsAtFirstFailure(t *testing.T) {
	h := newToolHarness(t)
	h.runner.codes["flake8"] = 1

	res := h.srv.agentTests(context.Background(), agentTestsInput{RepoPath: h.root})
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, scaffold.Python, res.Language)
	assert.Equal(t, [][]string{{"pytest", "-q"}, {"flake8", "."}}, h.runner.calls)
	require.Len(t, res.Commands, 2)
	assert.Equal(t, 1, res.Commands[1].ReturnCode)
	assert.Contains(t, res.Details, "exited with 1")
}

func TestAgentTests_Passes(t *testing.T) {
	tests := []struct {
		name     string
		marker   string
		language string
		want     [][]string
	}{
		{"python trio", "", "", [][]string{{"pytest", "-q"}, {"flake8", "."}, {"bandit", "-r", "."}}},
		{"go module", "go.mod", "", [][]string{{"sh", "-c", "go test ./..."}}},
		{"dotnet project", "Billing.csproj", "", [][]string{{"sh", "-c", "dotnet test"}}},
		{"explicit language wins", "go.mod", "java", [][]string{{"sh", "-c", "mvn test"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newToolHarness(t)
			if tt.marker != "" {
				require.NoError(t, os.WriteFile(filepath.Join(h.root, tt.marker), nil, 0o644))
			}

			res := h.srv.agentTests(context.Background(), agentTestsInput{RepoPath: h.root, Language: tt.language})
			assert.Equal(t, StatusPassed, res.Status)
			assert.Equal(t, tt.want, h.runner.calls)
			assert.Len(t, res.Commands, len(tt.want))
		})
	}
}

func TestAgentTests_Errors(t *testing.T) {
	t.Run("missing path", func(t *testing.T) {
		h := newToolHarness(t)
		res := h.srv.agentTests(context.Background(), agentTestsInput{RepoPath: filepath.Join(h.root, "gone")})
		assert.Equal(t, StatusError, res.Status)
		assert.Contains(t, res.Details, "does not exist")
	})
	t.Run("command cannot start", func(t *testing.T) {
		h := newToolHarness(t)
		h.runner.err = errors.New("executable file not found")
		res := h.srv.agentTests(context.Background(), agentTestsInput{RepoPath: h.root})
		assert.Equal(t, StatusError, res.Status)
		assert.Contains(t, res.Details, "pytest -q: executable file not found")
		assert.Empty(t, res.Commands)
	})
}

func TestSetupPages_WritesWorkflow(t *testing.T) {
	h := newToolHarness(t)
	head := filepath.Join(h.root, ".git", "refs", "remotes", "origin")
	require.NoError(t, os.MkdirAll(head, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(head, "HEAD"), []byte("ref: refs/remotes/origin/master\n"), 0o644))

	res := h.srv.setupPages(context.Background(), setupPagesInput{RepoPath: h.root})
	require.Equal(t, StatusSuccess, res.Status, res.Details)
	target := filepath.Join(h.root, ".github", "workflows", "pages.yml")
	assert.Equal(t, target, res.Path)
	assert.Contains(t, res.Details, "Created GitHub Pages workflow")

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(content), "actions/deploy-pages@v4")
	assert.Contains(t, string(content), "- master")

	again := h.srv.setupPages(context.Background(), setupPagesInput{RepoPath: h.root, ProjectType: "node", Branch: "main"})
	require.Equal(t, StatusSuccess, again.Status)
	assert.Contains(t, again.Details, "Updated")
	content, err = os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(content), "npm run build --if-present")
}

func TestSetupPages_DeniedWritesNothing(t *testing.T) {
	h := newToolHarness(t)
	other := filepath.Join(filepath.Dir(h.root), "other")
	require.NoError(t, os.MkdirAll(other, 0o755))

	res := h.srv.setupPages(context.Background(), setupPagesInput{RepoPath: other})
	assert.Equal(t, StatusDenied, res.Status)
	_, err := os.Stat(filepath.Join(other, ".github"))
	assert.True(t, os.IsNotExist(err))
}

func TestToolResult_Text(t *testing.T) {
	assert.Equal(t, "PASSED", ToolResult{Status: StatusPassed}.Text())
	assert.Equal(t, "FAILED: pytest exited with 1", ToolResult{Status: StatusFailed, Details: "pytest exited with 1"}.Text())
}
