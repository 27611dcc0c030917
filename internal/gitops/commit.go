// Package gitops turns rendered files into commits and pull requests on the
// code-hosting platform without duplicating branches or PRs across passes.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/pipelined/internal/apierr"
	"github.com/fyrsmithlabs/pipelined/internal/codehost"
	"github.com/fyrsmithlabs/pipelined/internal/jira"
	"github.com/fyrsmithlabs/pipelined/internal/logging"
	"go.uber.org/zap"
)

// DefaultMaxAttempts bounds the compare-and-swap loop in Commit.
const DefaultMaxAttempts = 2

// GitAPI is the subset of the code-hosting client the commit protocol uses.
type GitAPI interface {
	GetRepository(ctx context.Context, repo codehost.Repo) (*codehost.Repository, error)
	GetBranchSHA(ctx context.Context, repo codehost.Repo, branch string) (string, error)
	CreateBranch(ctx context.Context, repo codehost.Repo, branch, sha string) error
	UpdateBranch(ctx context.Context, repo codehost.Repo, branch, sha string) error
	GetCommit(ctx context.Context, repo codehost.Repo, sha string) (*codehost.Commit, error)
	CreateBlob(ctx context.Context, repo codehost.Repo, content string) (string, error)
	CreateTree(ctx context.Context, repo codehost.Repo, baseTree string, entries []codehost.TreeEntry) (string, error)
	CreateCommit(ctx context.Context, repo codehost.Repo, message, treeSHA, parentSHA string) (*codehost.Commit, error)
}

// Notifier posts a comment on a work item.
type Notifier interface {
	AddComment(ctx context.Context, key, text string, link *jira.Link) error
}

// FeatureBranch names the single long-lived branch used for a repository.
func FeatureBranch(prefix, repoName string) string {
	return prefix + repoName
}

// AutofixBranch names the branch used for patch passes of a ticket.
func AutofixBranch(issueKey string) string {
	return "autofix/" + strings.ToLower(issueKey)
}

// CommitRequest describes one multi-file commit.
type CommitRequest struct {
	Repo    codehost.Repo
	Branch  string
	Files   map[string]string
	Message string

	// BaseBranch seeds a missing branch. Empty means the repository's
	// default branch.
	BaseBranch string

	// IssueKey and Notice drive the notification posted after the ref moves.
	// No notification is sent without an IssueKey.
	IssueKey string
	Notice   string
}

// CommitResult describes the commit that landed.
type CommitResult struct {
	CommitURL     string
	Branch        string
	HeadSHA       string
	ParentSHA     string
	BranchCreated bool
	Attempts      int
}

// Committer implements the idempotent commit protocol.
type Committer struct {
	API         GitAPI
	Notifier    Notifier
	MaxAttempts int
	Logger      *logging.Logger
}

// Commit writes all files in one commit on req.Branch. A missing branch is
// created from the base branch tip only after the commit object exists. When
// the ref moves underneath us (branch created concurrently, or a
// non-fast-forward update) the tip is re-read and the commit rebuilt on it,
// up to MaxAttempts times.
func (c *Committer) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	if len(req.Files) == 0 {
		return nil, errors.New("commit requires at least one file")
	}
	if req.Branch == "" {
		return nil, errors.New("commit requires a branch")
	}
	logger := c.logger()
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	files := make(map[string]string, len(req.Files))
	paths := make([]string, 0, len(req.Files))
	for p, content := range req.Files {
		p = strings.TrimPrefix(p, "/")
		files[p] = content
		paths = append(paths, p)
	}
	sort.Strings(paths)

	// Blobs are content addressed, so one upload serves every attempt.
	entries := make([]codehost.TreeEntry, 0, len(paths))
	for _, p := range paths {
		sha, err := c.API.CreateBlob(ctx, req.Repo, files[p])
		if err != nil {
			return nil, fmt.Errorf("create blob for %s: %w", p, err)
		}
		entries = append(entries, codehost.TreeEntry{Path: p, BlobSHA: sha})
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := c.attempt(ctx, req, entries)
		if err == nil {
			res.Attempts = attempt
			commitsTotal.WithLabelValues("success").Inc()
			logger.Info(ctx, "commit landed",
				zap.String("branch", res.Branch),
				zap.String("sha", res.HeadSHA),
				zap.Bool("branch_created", res.BranchCreated),
				zap.Int("attempt", attempt),
			)
			c.notify(ctx, req, res)
			return res, nil
		}
		lastErr = err
		if !apierr.IsConflict(err) {
			break
		}
		commitConflicts.Inc()
		logger.Info(ctx, "ref moved during commit, retrying on fresh tip",
			zap.String("branch", req.Branch), zap.Int("attempt", attempt), zap.Error(err))
	}
	commitsTotal.WithLabelValues("error").Inc()
	return nil, lastErr
}

func (c *Committer) attempt(ctx context.Context, req CommitRequest, entries []codehost.TreeEntry) (*CommitResult, error) {
	parent, exists, err := c.tip(ctx, req)
	if err != nil {
		return nil, err
	}

	parentCommit, err := c.API.GetCommit(ctx, req.Repo, parent)
	if err != nil {
		return nil, fmt.Errorf("read parent commit: %w", err)
	}
	tree, err := c.API.CreateTree(ctx, req.Repo, parentCommit.TreeSHA, entries)
	if err != nil {
		return nil, fmt.Errorf("create tree: %w", err)
	}
	commit, err := c.API.CreateCommit(ctx, req.Repo, req.Message, tree, parent)
	if err != nil {
		return nil, fmt.Errorf("create commit: %w", err)
	}

	if exists {
		err = c.API.UpdateBranch(ctx, req.Repo, req.Branch, commit.SHA)
	} else {
		err = c.API.CreateBranch(ctx, req.Repo, req.Branch, commit.SHA)
	}
	if err != nil {
		return nil, err
	}
	return &CommitResult{
		CommitURL:     commit.HTMLURL,
		Branch:        req.Branch,
		HeadSHA:       commit.SHA,
		ParentSHA:     parent,
		BranchCreated: !exists,
	}, nil
}

// tip returns the commit to build on and whether req.Branch already exists.
func (c *Committer) tip(ctx context.Context, req CommitRequest) (string, bool, error) {
	sha, err := c.API.GetBranchSHA(ctx, req.Repo, req.Branch)
	if err == nil {
		return sha, true, nil
	}
	if !apierr.IsNotFound(err) {
		return "", false, fmt.Errorf("read branch %s: %w", req.Branch, err)
	}

	base := req.BaseBranch
	if base == "" {
		repo, err := c.API.GetRepository(ctx, req.Repo)
		if err != nil {
			return "", false, fmt.Errorf("read repository: %w", err)
		}
		base = repo.DefaultBranch
	}
	sha, err = c.API.GetBranchSHA(ctx, req.Repo, base)
	if err != nil {
		return "", false, fmt.Errorf("read base branch %s: %w", base, err)
	}
	return sha, false, nil
}

func (c *Committer) notify(ctx context.Context, req CommitRequest, res *CommitResult) {
	if c.Notifier == nil || req.IssueKey == "" {
		return
	}
	text := req.Notice
	if text == "" {
		text = fmt.Sprintf("Commit pushed to %s.", res.Branch)
	}
	var link *jira.Link
	if res.CommitURL != "" {
		link = &jira.Link{Text: "Commit", URL: res.CommitURL}
	}
	if err := c.Notifier.AddComment(ctx, req.IssueKey, text, link); err != nil {
		c.logger().Warn(ctx, "commit notification failed", zap.String("issue.key", req.IssueKey), zap.Error(err))
	}
}

func (c *Committer) logger() *logging.Logger {
	if c.Logger == nil {
		return logging.Nop()
	}
	return c.Logger
}
