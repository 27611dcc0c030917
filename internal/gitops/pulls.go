package gitops

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/pipelined/internal/apierr"
	"github.com/fyrsmithlabs/pipelined/internal/codehost"
	"github.com/fyrsmithlabs/pipelined/internal/logging"
	"go.uber.org/zap"
)

// PullAPI is the subset of the code-hosting client the PR manager uses.
type PullAPI interface {
	GetRepository(ctx context.Context, repo codehost.Repo) (*codehost.Repository, error)
	ListPullRequests(ctx context.Context, repo codehost.Repo, filter codehost.PRFilter) ([]*codehost.PullRequest, error)
	CreatePullRequest(ctx context.Context, repo codehost.Repo, req codehost.NewPullRequest) (*codehost.PullRequest, error)
	AddAssignees(ctx context.Context, repo codehost.Repo, number int, assignees []string) error
	AddLabels(ctx context.Context, repo codehost.Repo, number int, labels []string) error
}

// PRTitle is the deterministic title of the pipeline PR for a ticket.
func PRTitle(issueKey string) string {
	if issueKey == "" {
		return "Add CI/CD pipeline"
	}
	return issueKey + ": Add CI/CD pipeline"
}

// PRRequest describes the PR to ensure.
type PRRequest struct {
	Repo     codehost.Repo
	Branch   string
	Base     string // empty means the default branch
	IssueKey string
	Title    string // empty means PRTitle(IssueKey)
	Body     string
}

// PRResult identifies the open PR for a branch.
type PRResult struct {
	Number  int
	URL     string
	NodeID  string
	HeadSHA string
	Draft   bool
	IsNew   bool
}

// PRManager creates or reuses the single open PR for a branch.
type PRManager struct {
	API      PullAPI
	Assignee string
	Labels   []string
	Logger   *logging.Logger
}

// EnsurePR returns the open pipeline PR for branch, creating it if needed.
func (m *PRManager) EnsurePR(ctx context.Context, repo codehost.Repo, branch, issueKey string) (*PRResult, error) {
	return m.Ensure(ctx, PRRequest{Repo: repo, Branch: branch, IssueKey: issueKey})
}

// Ensure looks up an open PR from req.Branch into the base branch and returns
// it untouched with IsNew=false. Otherwise it opens one, then assigns and
// labels it on a best-effort basis.
func (m *PRManager) Ensure(ctx context.Context, req PRRequest) (*PRResult, error) {
	base := req.Base
	if base == "" {
		r, err := m.API.GetRepository(ctx, req.Repo)
		if err != nil {
			return nil, fmt.Errorf("read repository: %w", err)
		}
		base = r.DefaultBranch
	}

	if existing, err := m.find(ctx, req.Repo, req.Branch, base); err != nil {
		return nil, err
	} else if existing != nil {
		pullRequests.WithLabelValues("reused").Inc()
		return existing, nil
	}

	title := req.Title
	if title == "" {
		title = PRTitle(req.IssueKey)
	}
	body := req.Body
	if body == "" {
		body = "Adds the CI/CD workflow and Dockerfile for this repository."
		if req.IssueKey != "" {
			body += "\n\nJira Issue: " + req.IssueKey
		}
	}

	pr, err := m.API.CreatePullRequest(ctx, req.Repo, codehost.NewPullRequest{
		Title: title,
		Body:  body,
		Head:  req.Branch,
		Base:  base,
	})
	if err != nil {
		// Someone opened it between our lookup and create.
		if apierr.IsConflict(err) {
			if existing, ferr := m.find(ctx, req.Repo, req.Branch, base); ferr == nil && existing != nil {
				pullRequests.WithLabelValues("reused").Inc()
				return existing, nil
			}
		}
		return nil, fmt.Errorf("create pull request: %w", err)
	}
	pullRequests.WithLabelValues("created").Inc()

	logger := m.logger()
	if m.Assignee != "" {
		if err := m.API.AddAssignees(ctx, req.Repo, pr.Number, []string{m.Assignee}); err != nil {
			logger.Warn(ctx, "assign pull request failed", zap.Int("pr", pr.Number), zap.Error(err))
		}
	}
	if len(m.Labels) > 0 {
		if err := m.API.AddLabels(ctx, req.Repo, pr.Number, m.Labels); err != nil {
			logger.Warn(ctx, "label pull request failed", zap.Int("pr", pr.Number), zap.Error(err))
		}
	}
	logger.Info(ctx, "pull request opened", zap.Int("pr", pr.Number), zap.String("url", pr.URL))

	res := toResult(pr)
	res.IsNew = true
	return res, nil
}

func (m *PRManager) find(ctx context.Context, repo codehost.Repo, branch, base string) (*PRResult, error) {
	prs, err := m.API.ListPullRequests(ctx, repo, codehost.PRFilter{State: "open", Head: branch, Base: base})
	if err != nil {
		return nil, fmt.Errorf("list pull requests: %w", err)
	}
	for _, pr := range prs {
		if pr.HeadRef == branch {
			return toResult(pr), nil
		}
	}
	return nil, nil
}

func toResult(pr *codehost.PullRequest) *PRResult {
	return &PRResult{
		Number:  pr.Number,
		URL:     pr.URL,
		NodeID:  pr.NodeID,
		HeadSHA: pr.HeadSHA,
		Draft:   pr.Draft,
	}
}

func (m *PRManager) logger() *logging.Logger {
	if m.Logger == nil {
		return logging.Nop()
	}
	return m.Logger
}
