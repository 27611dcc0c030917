package scaffold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPages(t *testing.T) {
	tests := []struct {
		name        string
		spec        PagesSpec
		wantBranch  string
		wantBuild   string
		wantSteps   int
	}{
		{"static site", PagesSpec{ProjectType: "html"}, "main", "", 4},
		{"unknown type is static", PagesSpec{ProjectType: "hugo", DefaultBranch: "master"}, "master", "", 4},
		{"node builds first", PagesSpec{ProjectType: "node"}, "main", "npm run build --if-present", 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, err := RenderPages(tt.spec)
			require.NoError(t, err)
			wf := decodeWorkflow(t, content)

			assert.Equal(t, "Deploy to GitHub Pages", wf["name"])
			on := wf["on"].(map[string]interface{})
			assert.NotContains(t, on, "pull_request")
			assert.Contains(t, on, "workflow_dispatch")
			push := on["push"].(map[string]interface{})
			assert.Equal(t, []interface{}{tt.wantBranch}, push["branches"])

			perms := wf["permissions"].(map[string]interface{})
			assert.Equal(t, "write", perms["pages"])
			assert.Equal(t, "write", perms["id-token"])

			deploy := wf["jobs"].(map[string]interface{})["deploy"].(map[string]interface{})
			steps := deploy["steps"].([]interface{})
			require.Len(t, steps, tt.wantSteps)
			last := steps[len(steps)-1].(map[string]interface{})
			assert.Equal(t, "actions/deploy-pages@v4", last["uses"])
			assert.Equal(t, "deployment", last["id"])

			var build string
			for _, s := range steps {
				if s.(map[string]interface{})["name"] == "Build" {
					build = s.(map[string]interface{})["run"].(string)
				}
			}
			assert.Equal(t, tt.wantBuild, build)
		})
	}
}

func TestIsStaticSite(t *testing.T) {
	assert.True(t, IsStaticSite(""))
	assert.True(t, IsStaticSite("HTML"))
	assert.True(t, IsStaticSite("jekyll"))
	assert.False(t, IsStaticSite("typescript"))
}
