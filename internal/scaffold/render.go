package scaffold

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"
)

// DockerfilePath is where the container descriptor is committed.
const DockerfilePath = "Dockerfile"

// Spec selects what to render. Blank or placeholder commands and deploy
// target are replaced with language defaults.
type Spec struct {
	RepoName     string
	Language     string
	BuildCommand string
	TestCommand  string
	DeployTarget string
	// DefaultBranch gates CI triggers and deploys. Defaults to "main".
	DefaultBranch string
}

// Resolved returns spec with the language normalised and defaults applied.
func (s Spec) Resolved() Spec {
	lang := NormalizeLanguage(s.Language)
	build, test := DefaultCommands(lang)
	branch := strings.TrimSpace(s.DefaultBranch)
	if branch == "" {
		branch = "main"
	}
	return Spec{
		RepoName:      s.RepoName,
		Language:      lang,
		BuildCommand:  Resolve(s.BuildCommand, build),
		TestCommand:   Resolve(s.TestCommand, test),
		DeployTarget:  Resolve(s.DeployTarget, GitHubPages),
		DefaultBranch: branch,
	}
}

// WorkflowPath returns the path of the generated workflow for a repository.
func WorkflowPath(repoName string) string {
	return ".github/workflows/" + repoName + "-ci.yml"
}

// Render produces the workflow and Dockerfile, keyed by repository path.
func Render(spec Spec) (map[string]string, error) {
	if strings.TrimSpace(spec.RepoName) == "" {
		return nil, fmt.Errorf("scaffold: repository name is required")
	}
	spec = spec.Resolved()

	wf, err := renderWorkflow(spec)
	if err != nil {
		return nil, err
	}
	df, err := renderDockerfile(spec)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		WorkflowPath(spec.RepoName): wf,
		DockerfilePath:              df,
	}, nil
}

type workflow struct {
	Name        string            `yaml:"name"`
	On          triggers          `yaml:"on"`
	Permissions map[string]string `yaml:"permissions"`
	Concurrency *concurrency      `yaml:"concurrency,omitempty"`
	Jobs        map[string]job    `yaml:"jobs"`
}

type triggers struct {
	Push             branches  `yaml:"push"`
	PullRequest      *branches `yaml:"pull_request,omitempty"`
	WorkflowDispatch struct{}  `yaml:"workflow_dispatch"`
}

type branches struct {
	Branches []string `yaml:"branches"`
}

type concurrency struct {
	Group            string `yaml:"group"`
	CancelInProgress bool   `yaml:"cancel-in-progress"`
}

type job struct {
	Name        string       `yaml:"name,omitempty"`
	Environment *environment `yaml:"environment,omitempty"`
	RunsOn      string       `yaml:"runs-on"`
	Needs       string       `yaml:"needs,omitempty"`
	If          string       `yaml:"if,omitempty"`
	Steps       []step       `yaml:"steps"`
}

type environment struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url,omitempty"`
}

type step struct {
	Name string            `yaml:"name,omitempty"`
	ID   string            `yaml:"id,omitempty"`
	Uses string            `yaml:"uses,omitempty"`
	With map[string]string `yaml:"with,omitempty"`
	Run  string            `yaml:"run,omitempty"`
}

func onPushTo(branch string) string {
	return fmt.Sprintf("github.event_name == 'push' && github.ref == 'refs/heads/%s'", branch)
}

func renderWorkflow(spec Spec) (string, error) {
	tc := toolchains[spec.Language]

	steps := []step{{Uses: "actions/checkout@v4"}}
	steps = append(steps, tc.setup...)
	steps = append(steps,
		step{Name: "Build", Run: spec.BuildCommand},
		step{Name: "Test", Run: spec.TestCommand},
	)

	wf := workflow{
		Name:        "CI/CD Pipeline",
		On:          triggers{Push: branches{[]string{spec.DefaultBranch}}, PullRequest: &branches{[]string{spec.DefaultBranch}}},
		Permissions: map[string]string{"contents": "read"},
		Jobs:        map[string]job{},
	}

	switch spec.DeployTarget {
	case GitHubPages:
		wf.Permissions["pages"] = "write"
		wf.Permissions["id-token"] = "write"
		wf.Concurrency = &concurrency{Group: "pages"}
		steps = append(steps, step{
			Name: "Upload artifact",
			Uses: "actions/upload-pages-artifact@v3",
			With: map[string]string{"path": "."},
		})
		wf.Jobs["deploy"] = job{
			Environment: &environment{Name: GitHubPages, URL: "${{ steps.deployment.outputs.page_url }}"},
			RunsOn:      "ubuntu-latest",
			Needs:       "build-test",
			If:          onPushTo(spec.DefaultBranch),
			Steps:       []step{{Name: "Deploy to GitHub Pages", ID: "deployment", Uses: "actions/deploy-pages@v4"}},
		}
	case AzureWebApps:
		wf.Jobs["deploy"] = job{
			Name:   "Deploy to Azure Web Apps",
			RunsOn: "ubuntu-latest",
			Needs:  "build-test",
			If:     onPushTo(spec.DefaultBranch),
			Steps: []step{
				{Uses: "actions/checkout@v4"},
				{Name: "Deploy", Uses: "azure/webapps-deploy@v3", With: map[string]string{
					"app-name":        spec.RepoName,
					"publish-profile": "${{ secrets.AZURE_PUBLISH_PROFILE }}",
					"package":         ".",
				}},
			},
		}
	}

	wf.Jobs["build-test"] = job{RunsOn: "ubuntu-latest", Steps: steps}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(wf); err != nil {
		return "", fmt.Errorf("scaffold: encode workflow: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("scaffold: encode workflow: %w", err)
	}
	return buf.String(), nil
}

var dockerfileTemplate = template.Must(template.New("Dockerfile").Funcs(sprig.TxtFuncMap()).Parse(
	`# Generated for {{ .Spec.RepoName | lower }} ({{ .Spec.Language }})
FROM {{ .Image }} AS build
LABEL org.opencontainers.image.title={{ .Spec.RepoName | lower | quote }}
WORKDIR /app
COPY . .
{{- range .Install }}
RUN {{ . }}
{{- end }}
RUN {{ .Spec.BuildCommand | trim }}

# docker build --target test .
FROM build AS test
RUN {{ .Spec.TestCommand | trim }}

FROM build
{{- if gt .Port 0 }}
EXPOSE {{ .Port }}
{{- end }}
CMD {{ .Cmd | toJson }}
`))

func renderDockerfile(spec Spec) (string, error) {
	tc := toolchains[spec.Language]
	var buf bytes.Buffer
	err := dockerfileTemplate.Execute(&buf, map[string]interface{}{
		"Spec":    spec,
		"Image":   tc.baseImage,
		"Install": tc.install,
		"Port":    tc.port,
		"Cmd":     tc.cmd,
	})
	if err != nil {
		return "", fmt.Errorf("scaffold: render Dockerfile: %w", err)
	}
	return buf.String(), nil
}
