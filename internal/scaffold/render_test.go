package scaffold

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNormalizeLanguage(t *testing.T) {
	tests := map[string]string{
		"JavaScript": Node,
		"ts":         Node,
		"C#":         DotNet,
		"csharp":     DotNet,
		"Gradle":     Java,
		"golang":     Go,
		"Python":     Python,
		"cobol":      Python,
		"":           Python,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, NormalizeLanguage(in))
		})
	}
	assert.False(t, IsKnownLanguage("cobol"))
	assert.True(t, IsKnownLanguage(" TypeScript "))
}

func TestHasPlaceholder(t *testing.T) {
	assert.True(t, HasPlaceholder("{build_command}"))
	assert.True(t, HasPlaceholder("<test command>"))
	assert.False(t, HasPlaceholder("npm test || echo 'No tests found'"))
	assert.False(t, HasPlaceholder("make test 2>&1"))

	assert.Equal(t, "make", Resolve(" make ", "fallback"))
	assert.Equal(t, "fallback", Resolve("{build}", "fallback"))
	assert.Equal(t, "fallback", Resolve("", "fallback"))
}

func TestSpec_Resolved(t *testing.T) {
	got := Spec{RepoName: "widgets", Language: "typescript", BuildCommand: "{build}", TestCommand: "npm run test:ci"}.Resolved()
	assert.Equal(t, Spec{
		RepoName:      "widgets",
		Language:      Node,
		BuildCommand:  "npm run build --if-present",
		TestCommand:   "npm run test:ci",
		DeployTarget:  GitHubPages,
		DefaultBranch: "main",
	}, got)
}

func decodeWorkflow(t *testing.T, content string) map[string]interface{} {
	t.Helper()
	var wf map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(content), &wf))
	return wf
}

func TestRender_NodeGitHubPages(t *testing.T) {
	files, err := Render(Spec{RepoName: "widgets", Language: "node"})
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Contains(t, files, ".github/workflows/widgets-ci.yml")
	require.Contains(t, files, DockerfilePath)

	wf := decodeWorkflow(t, files[".github/workflows/widgets-ci.yml"])
	assert.Equal(t, "CI/CD Pipeline", wf["name"])

	jobs := wf["jobs"].(map[string]interface{})
	require.Contains(t, jobs, "build-test")
	require.Contains(t, jobs, "deploy")

	steps := jobs["build-test"].(map[string]interface{})["steps"].([]interface{})
	var runs []string
	for _, s := range steps {
		if run, ok := s.(map[string]interface{})["run"].(string); ok {
			runs = append(runs, run)
		}
	}
	assert.Contains(t, runs, "npm run build --if-present")
	assert.Contains(t, runs, "npm test || echo 'No tests found'")

	deploy := jobs["deploy"].(map[string]interface{})
	assert.Equal(t, "build-test", deploy["needs"])
	perms := wf["permissions"].(map[string]interface{})
	assert.Equal(t, "write", perms["pages"])

	df := files[DockerfilePath]
	assert.Contains(t, df, "FROM node:20-alpine AS build")
	assert.Contains(t, df, "RUN npm run build --if-present")
	assert.Contains(t, df, "FROM build AS test\nRUN npm test || echo 'No tests found'\n")
	assert.Less(t, strings.Index(df, "AS test"), strings.Index(df, "CMD"), "runtime stage is the default target")
	assert.Contains(t, df, `CMD ["npm","start"]`)
	assert.Contains(t, df, `org.opencontainers.image.title="widgets"`)
}

func TestRender_AzureWebApps(t *testing.T) {
	files, err := Render(Spec{RepoName: "Billing", Language: "c#", DeployTarget: AzureWebApps})
	require.NoError(t, err)

	wf := decodeWorkflow(t, files[WorkflowPath("Billing")])
	perms := wf["permissions"].(map[string]interface{})
	assert.NotContains(t, perms, "pages")

	deploy := wf["jobs"].(map[string]interface{})["deploy"].(map[string]interface{})
	steps := deploy["steps"].([]interface{})
	with := steps[1].(map[string]interface{})["with"].(map[string]interface{})
	assert.Equal(t, "Billing", with["app-name"])
	assert.Equal(t, "${{ secrets.AZURE_PUBLISH_PROFILE }}", with["publish-profile"])

	assert.Contains(t, files[DockerfilePath], "FROM mcr.microsoft.com/dotnet/sdk:8.0")
	assert.Contains(t, files[DockerfilePath], "RUN dotnet build")
}

func TestRender_UnknownTargetHasNoDeployJob(t *testing.T) {
	files, err := Render(Spec{RepoName: "svc", Language: "go", DeployTarget: "none"})
	require.NoError(t, err)
	jobs := decodeWorkflow(t, files[WorkflowPath("svc")])["jobs"].(map[string]interface{})
	assert.NotContains(t, jobs, "deploy")
	assert.Contains(t, files[DockerfilePath], "RUN go mod download")
}

func TestRender_DefaultBranch(t *testing.T) {
	tests := []struct {
		name, branch, want string
	}{
		{"defaults to main", "", "main"},
		{"repository default", "master", "master"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, err := Render(Spec{RepoName: "site", Language: "node", DefaultBranch: tt.branch})
			require.NoError(t, err)
			wf := decodeWorkflow(t, files[WorkflowPath("site")])

			on := wf["on"].(map[string]interface{})
			for _, event := range []string{"push", "pull_request"} {
				got := on[event].(map[string]interface{})["branches"].([]interface{})
				assert.Equal(t, []interface{}{tt.want}, got, event)
			}
			deploy := wf["jobs"].(map[string]interface{})["deploy"].(map[string]interface{})
			assert.Equal(t, "github.event_name == 'push' && github.ref == 'refs/heads/"+tt.want+"'", deploy["if"])
		})
	}
}

func TestRender_DockerfileCarriesTestStage(t *testing.T) {
	files, err := Render(Spec{RepoName: "svc", Language: "go", TestCommand: "make test"})
	require.NoError(t, err)
	df := files[DockerfilePath]
	assert.Contains(t, df, "RUN go build ./...")
	assert.Contains(t, df, "FROM build AS test\nRUN make test\n")
}

func TestRender_RequiresRepoName(t *testing.T) {
	_, err := Render(Spec{Language: "node"})
	require.Error(t, err)
}
