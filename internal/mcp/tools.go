package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/pipelined/internal/scaffold"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusPassed  = "PASSED"
	StatusFailed  = "FAILED"
	StatusError   = "ERROR"
	StatusDenied  = "PERMISSION_DENIED"
)

// ToolResult is the structured output of setup_pages and agent_tests.
type ToolResult struct {
	Status   string          `json:"status" jsonschema:"SUCCESS, PASSED, FAILED, ERROR or PERMISSION_DENIED"`
	Details  string          `json:"details,omitempty" jsonschema:"human readable outcome"`
	Path     string          `json:"path,omitempty" jsonschema:"file written or directory tested"`
	Language string          `json:"language,omitempty" jsonschema:"language the checks were chosen for"`
	Commands []CommandResult `json:"commands,omitempty" jsonschema:"commands run, in order, up to the first failure"`
}

// Text renders a one-line summary for clients that ignore structured output.
func (r ToolResult) Text() string {
	if r.Details == "" {
		return r.Status
	}
	return r.Status + ": " + r.Details
}

type setupPagesInput struct {
	RepoPath    string `json:"repo_path" jsonschema:"absolute path of a local checkout inside the allowlist"`
	ProjectType string `json:"project_type,omitempty" jsonschema:"html for a static site (default) or a language to build first"`
	Branch      string `json:"branch,omitempty" jsonschema:"branch that deploys (default: origin HEAD, else main)"`
}

type agentTestsInput struct {
	RepoPath string `json:"repo_path" jsonschema:"absolute path of a local checkout inside the allowlist"`
	Language string `json:"language,omitempty" jsonschema:"override the language detected from the checkout"`
}

type toolSearchInput struct {
	Query string `json:"query" jsonschema:"name, word or regular expression to look for"`
}

type toolSearchOutput struct {
	Results []*SearchResult `json:"results" jsonschema:"matching tools, best first"`
	Count   int             `json:"count" jsonschema:"number of matches"`
}

var toolCatalog = []*ToolMetadata{
	{
		Name:        "setup_pages",
		Description: "Write a GitHub Pages deployment workflow (.github/workflows/pages.yml) into an allowed local checkout",
		Category:    CategoryPages,
		Keywords:    []string{"deploy", "static", "site", "workflow", "github-pages"},
	},
	{
		Name:        "agent_tests",
		Description: "Run the test and lint commands for an allowed local checkout and report each command's output",
		Category:    CategoryTesting,
		Keywords:    []string{"pytest", "flake8", "bandit", "lint", "verify", "ci"},
	},
	{
		Name:        "tool_search",
		Description: "Find tools by name, description or keyword",
		Category:    CategorySearch,
		Keywords:    []string{"discover", "list", "help"},
	},
}

func (s *Server) registerTools() error {
	for _, tool := range toolCatalog {
		if err := s.registry.Register(tool); err != nil {
			return err
		}
	}
	describe := func(name string) string {
		tool, _ := s.registry.Get(name)
		return tool.Description
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "setup_pages",
		Description: describe("setup_pages"),
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in setupPagesInput) (*mcp.CallToolResult, ToolResult, error) {
		res := s.invoke(ctx, "setup_pages", func(ctx context.Context) ToolResult { return s.setupPages(ctx, in) })
		return textResult(res.Text()), res, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "agent_tests",
		Description: describe("agent_tests"),
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in agentTestsInput) (*mcp.CallToolResult, ToolResult, error) {
		res := s.invoke(ctx, "agent_tests", func(ctx context.Context) ToolResult { return s.agentTests(ctx, in) })
		return textResult(res.Text()), res, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "tool_search",
		Description: describe("tool_search"),
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in toolSearchInput) (*mcp.CallToolResult, toolSearchOutput, error) {
		results := s.registry.Search(in.Query)
		if results == nil {
			results = []*SearchResult{}
		}
		return textResult(fmt.Sprintf("Found %d tools", len(results))), toolSearchOutput{Results: results, Count: len(results)}, nil
	})
	return nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// checkout validates path against the allowlist and returns it absolute.
func (s *Server) checkout(path string) (string, *ToolResult) {
	if s.allow.Empty() {
		return "", &ToolResult{Status: StatusDenied, Details: "no allowed repositories are configured (set ALLOWED_REPOS); no path is authorized"}
	}
	if !s.allow.Allows(path) {
		return "", &ToolResult{Status: StatusDenied, Details: fmt.Sprintf("path %q is not in the allowed repositories", path)}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &ToolResult{Status: StatusError, Details: err.Error()}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", &ToolResult{Status: StatusError, Details: fmt.Sprintf("path does not exist: %s", path)}
	}
	if !info.IsDir() {
		return "", &ToolResult{Status: StatusError, Details: fmt.Sprintf("path is not a directory: %s", path)}
	}
	return abs, nil
}

func (s *Server) setupPages(_ context.Context, in setupPagesInput) ToolResult {
	dir, denied := s.checkout(in.RepoPath)
	if denied != nil {
		return *denied
	}
	branch := in.Branch
	if branch == "" {
		branch = originHead(dir)
	}
	content, err := scaffold.RenderPages(scaffold.PagesSpec{ProjectType: in.ProjectType, DefaultBranch: branch})
	if err != nil {
		return ToolResult{Status: StatusError, Details: err.Error()}
	}

	target := filepath.Join(dir, filepath.FromSlash(scaffold.PagesWorkflowPath))
	verb := "Created"
	if _, err := os.Stat(target); err == nil {
		verb = "Updated"
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return ToolResult{Status: StatusError, Details: err.Error()}
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return ToolResult{Status: StatusError, Details: err.Error()}
	}
	return ToolResult{
		Status:  StatusSuccess,
		Details: fmt.Sprintf("%s GitHub Pages workflow at %s", verb, target),
		Path:    target,
	}
}

// agentTests runs the checks in order and stops at the first failure.
func (s *Server) agentTests(ctx context.Context, in agentTestsInput) ToolResult {
	dir, denied := s.checkout(in.RepoPath)
	if denied != nil {
		return *denied
	}
	lang := detectLanguage(dir)
	if strings.TrimSpace(in.Language) != "" {
		lang = scaffold.NormalizeLanguage(in.Language)
	}

	res := ToolResult{Path: dir, Language: lang}
	for _, argv := range testCommands(lang) {
		out, err := s.runner.Run(ctx, dir, argv)
		if err != nil {
			res.Status = StatusError
			res.Details = fmt.Sprintf("%s: %v", strings.Join(argv, " "), err)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				res.Details = fmt.Sprintf("%s: timed out", strings.Join(argv, " "))
			}
			return res
		}
		res.Commands = append(res.Commands, out)
		if out.ReturnCode != 0 {
			res.Status = StatusFailed
			res.Details = fmt.Sprintf("%s exited with %d", out.Command, out.ReturnCode)
			return res
		}
	}
	res.Status = StatusPassed
	res.Details = fmt.Sprintf("%d commands passed", len(res.Commands))
	return res
}

// testCommands returns the checks for a language. Python gets the test,
// lint and security trio; other languages run their default test command.
func testCommands(lang string) [][]string {
	if lang == scaffold.Python {
		return [][]string{
			{"pytest", "-q"},
			{"flake8", "."},
			{"bandit", "-r", "."},
		}
	}
	_, test := scaffold.DefaultCommands(lang)
	return [][]string{{"sh", "-c", test}}
}

var languageMarkers = []struct {
	pattern string
	lang    string
}{
	{"go.mod", scaffold.Go},
	{"package.json", scaffold.Node},
	{"pom.xml", scaffold.Java},
	{"build.gradle", scaffold.Java},
	{"build.gradle.kts", scaffold.Java},
	{"*.csproj", scaffold.DotNet},
	{"*.sln", scaffold.DotNet},
}

// detectLanguage looks for build files at the checkout root. Python is the
// fallback.
func detectLanguage(dir string) string {
	for _, m := range languageMarkers {
		if matches, _ := filepath.Glob(filepath.Join(dir, m.pattern)); len(matches) > 0 {
			return m.lang
		}
	}
	return scaffold.Python
}

// originHead reads the remote default branch recorded by git clone.
func originHead(dir string) string {
	raw, err := os.ReadFile(filepath.Join(dir, ".git", "refs", "remotes", "origin", "HEAD"))
	if err != nil {
		return ""
	}
	ref, ok := strings.CutPrefix(strings.TrimSpace(string(raw)), "ref: refs/remotes/origin/")
	if !ok {
		return ""
	}
	return ref
}
