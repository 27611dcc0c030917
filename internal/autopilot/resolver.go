package autopilot

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/pipelined/internal/apierr"
	"github.com/fyrsmithlabs/pipelined/internal/codehost"
	"github.com/fyrsmithlabs/pipelined/internal/config"
	"github.com/fyrsmithlabs/pipelined/internal/executor"
	"github.com/fyrsmithlabs/pipelined/internal/jira"
	"github.com/fyrsmithlabs/pipelined/internal/logging"
	"github.com/fyrsmithlabs/pipelined/internal/scaffold"
	"go.uber.org/zap"
)

// RepoInspector reads repository metadata for auto-detection.
type RepoInspector interface {
	GetRepository(ctx context.Context, repo codehost.Repo) (*codehost.Repository, error)
	GetFileContent(ctx context.Context, repo codehost.Repo, path, ref string) (string, error)
}

// TicketConfig is the structured block a ticket may embed in its
// description as a ```json fenced block. An untagged fence also counts when
// its content is a JSON object.
type TicketConfig struct {
	Repository   string `json:"repository"`
	Language     string `json:"language"`
	BuildCommand string `json:"buildCommand"`
	TestCommand  string `json:"testCommand"`
	DeployTarget string `json:"deployTarget"`
}

var (
	configBlock  = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")
	untaggedCode = regexp.MustCompile("(?s)```[ \\t]*\\n\\s*(\\{.*?\\})\\s*```")
)

// ParseTicketConfig extracts the embedded block. found is false when the
// description has no block; err is set when a ```json block exists but is
// not JSON. Untagged blocks that are not JSON objects are skipped.
func ParseTicketConfig(description string) (cfg TicketConfig, found bool, err error) {
	if m := configBlock.FindStringSubmatch(description); m != nil {
		if err := json.Unmarshal([]byte(m[1]), &cfg); err != nil {
			return TicketConfig{}, true, fmt.Errorf("invalid json block: %w", err)
		}
		return cfg, true, nil
	}
	for _, m := range untaggedCode.FindAllStringSubmatch(description, -1) {
		if err := json.Unmarshal([]byte(m[1]), &cfg); err == nil {
			return cfg, true, nil
		}
		cfg = TicketConfig{}
	}
	return TicketConfig{}, false, nil
}

// Resolver derives a job payload for a ticket. Precedence for every field is
// the embedded block, then configured defaults (per project, then global),
// then detection from the repository. Placeholder values count as absent.
type Resolver struct {
	Repos        config.ReposConfig
	DeployTarget string
	Host         RepoInspector
	Logger       *logging.Logger
}

// Resolve builds the payload for issueKey from its description.
func (r *Resolver) Resolve(ctx context.Context, issueKey, description string) (executor.Payload, error) {
	logger := r.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	block, found, err := ParseTicketConfig(description)
	if err != nil {
		logger.Warn(ctx, "ignoring malformed config block", zap.String("issue.key", issueKey), zap.Error(err))
	} else if found {
		logger.Debug(ctx, "parsed config block", zap.String("issue.key", issueKey))
	}

	repoName := scaffold.Resolve(block.Repository, r.Repos.RepoFor(jira.ProjectOf(issueKey)))
	if repoName == "" {
		return executor.Payload{}, apierr.Configurationf("autopilot.resolve",
			"could not determine repository for %s; set DEFAULT_REPO or add a json block to the ticket", issueKey)
	}
	repo, err := codehost.ParseRepo(repoName)
	if err != nil {
		return executor.Payload{}, apierr.New(apierr.Configuration, "autopilot.resolve", err)
	}
	info, err := r.Host.GetRepository(ctx, repo)
	if err != nil {
		return executor.Payload{}, fmt.Errorf("read repository %s: %w", repo, err)
	}

	language := scaffold.Resolve(block.Language, info.Language)
	if language == "" {
		language = scaffold.Python
	}
	language = scaffold.NormalizeLanguage(language)

	deploy := scaffold.Resolve(block.DeployTarget, "")
	if deploy == "" {
		deploy = r.detectDeployTarget(ctx, repo, info.DefaultBranch)
	}

	return executor.Payload{
		IssueKey:     issueKey,
		Repository:   repo.String(),
		Language:     language,
		BuildCommand: scaffold.Resolve(block.BuildCommand, ""),
		TestCommand:  scaffold.Resolve(block.TestCommand, ""),
		DeployTarget: deploy,
	}, nil
}

// detectDeployTarget picks static hosting when the repository serves an
// index.html from its root, else the configured default.
func (r *Resolver) detectDeployTarget(ctx context.Context, repo codehost.Repo, ref string) string {
	if _, err := r.Host.GetFileContent(ctx, repo, "index.html", ref); err == nil {
		return scaffold.GitHubPages
	}
	if r.DeployTarget != "" {
		return r.DeployTarget
	}
	return scaffold.GitHubPages
}
