package scaffold

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// PagesWorkflowPath is where the standalone Pages deploy workflow lives.
const PagesWorkflowPath = ".github/workflows/pages.yml"

// PagesSpec selects the standalone GitHub Pages workflow. ProjectType "html"
// (or blank) publishes the checkout as is; a known language builds first.
type PagesSpec struct {
	ProjectType   string
	DefaultBranch string
}

// IsStaticSite reports whether projectType publishes without a build step.
func IsStaticSite(projectType string) bool {
	switch strings.ToLower(strings.TrimSpace(projectType)) {
	case "", "html", "static":
		return true
	}
	return !IsKnownLanguage(projectType)
}

// RenderPages produces the Pages deploy workflow.
func RenderPages(spec PagesSpec) (string, error) {
	branch := strings.TrimSpace(spec.DefaultBranch)
	if branch == "" {
		branch = "main"
	}

	steps := []step{{Name: "Checkout", Uses: "actions/checkout@v4"}}
	if !IsStaticSite(spec.ProjectType) {
		lang := NormalizeLanguage(spec.ProjectType)
		tc := toolchains[lang]
		steps = append(steps, tc.setup...)
		steps = append(steps, step{Name: "Build", Run: tc.build})
	}
	steps = append(steps,
		step{Name: "Setup Pages", Uses: "actions/configure-pages@v5"},
		step{Name: "Upload artifact", Uses: "actions/upload-pages-artifact@v3", With: map[string]string{"path": "."}},
		step{Name: "Deploy to GitHub Pages", ID: "deployment", Uses: "actions/deploy-pages@v4"},
	)

	wf := workflow{
		Name: "Deploy to GitHub Pages",
		On:   triggers{Push: branches{[]string{branch}}},
		Permissions: map[string]string{
			"contents": "read",
			"pages":    "write",
			"id-token": "write",
		},
		Concurrency: &concurrency{Group: "pages"},
		Jobs: map[string]job{
			"deploy": {
				Environment: &environment{Name: GitHubPages, URL: "${{ steps.deployment.outputs.page_url }}"},
				RunsOn:      "ubuntu-latest",
				Steps:       steps,
			},
		},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(wf); err != nil {
		return "", fmt.Errorf("scaffold: encode pages workflow: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("scaffold: encode pages workflow: %w", err)
	}
	return buf.String(), nil
}
