package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/pipelined/internal/apierr"
	"github.com/fyrsmithlabs/pipelined/internal/codehost"
	"github.com/fyrsmithlabs/pipelined/internal/gitops"
	"github.com/fyrsmithlabs/pipelined/internal/logging"
	"github.com/fyrsmithlabs/pipelined/internal/state"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrNoPatches means the ticket description carries no patch instructions.
var ErrNoPatches = errors.New("no valid change instructions found; expected 'path=..., find=..., replace=...' lines")

// AutofixRequest asks for the text patches described in a ticket to be
// applied to a repository.
type AutofixRequest struct {
	IssueKey   string `json:"issueKey"`
	Repository string `json:"repository"`
	BaseBranch string `json:"baseBranch,omitempty"`
}

// Patch replaces Find with Replace in Path. An empty Find overwrites the
// whole file.
type Patch struct {
	Path    string
	Find    string
	Replace string
}

// ParsePatches reads lines of the form "path=a.txt, find=old, replace=new".
// Lines missing any of the three keys are ignored.
func ParsePatches(description string) []Patch {
	var out []Patch
	for _, line := range strings.Split(description, "\n") {
		fields := map[string]string{}
		for _, part := range strings.Split(line, ",") {
			k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok {
				continue
			}
			fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
		path := fields["path"]
		find, hasFind := fields["find"]
		replace, hasReplace := fields["replace"]
		if path == "" || !hasFind || !hasReplace {
			continue
		}
		out = append(out, Patch{Path: strings.TrimPrefix(path, "/"), Find: find, Replace: replace})
	}
	return out
}

// Autofix applies the ticket's patches on the autofix branch, opens or reuses
// its PR, asks the automation reviewer to continue, and moves the ticket to
// the post-PR status. Like Run, it reports failures in the Result.
func (e *Executor) Autofix(ctx context.Context, req AutofixRequest) (res Result) {
	start := time.Now()
	ctx = logging.WithPassID(ctx, uuid.NewString())
	ctx = logging.WithIssueKey(ctx, req.IssueKey)
	ctx = logging.WithRepository(ctx, req.Repository)

	ctx, span := e.tracer.Start(ctx, "executor.autofix", trace.WithAttributes(
		attribute.String("issue.key", req.IssueKey),
		attribute.String("repository", req.Repository),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, "autofix panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = failed(fmt.Errorf("internal error: %v", r))
			e.record("autofix", req.IssueKey, req.Repository, res, start)
		}
		if !res.OK() {
			span.SetStatus(codes.Error, res.Message)
		}
		passesTotal.WithLabelValues("autofix", res.Status).Inc()
	}()

	if timeout := e.cfg.Executor.PassTimeout.Duration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := e.autofix(ctx, req)
	if err != nil {
		span.RecordError(err)
		e.logger.Error(ctx, "autofix failed", zap.Error(err))
		res = failed(err)
	}
	e.record("autofix", req.IssueKey, req.Repository, res, start)
	return res
}

func (e *Executor) autofix(ctx context.Context, req AutofixRequest) (Result, error) {
	if req.IssueKey == "" {
		return Result{}, errors.New("issueKey is required")
	}
	repo, err := codehost.ParseRepo(req.Repository)
	if err != nil {
		return Result{}, err
	}

	issue, err := e.tracker.GetIssue(ctx, req.IssueKey)
	if err != nil {
		return Result{}, fmt.Errorf("fetch work item: %w", err)
	}
	summary := issue.Summary
	if summary == "" {
		summary = "Automated fix"
	}
	description := strings.TrimSpace(issue.Description)
	patches := ParsePatches(description)
	if len(patches) == 0 {
		return Result{}, ErrNoPatches
	}

	base := req.BaseBranch
	if base == "" {
		r, err := e.host.GetRepository(ctx, repo)
		if err != nil {
			return Result{}, fmt.Errorf("read repository: %w", err)
		}
		base = r.DefaultBranch
	}

	files, err := e.applyPatches(ctx, repo, base, patches)
	if err != nil {
		return Result{}, err
	}

	branch := gitops.AutofixBranch(req.IssueKey)
	commit, err := e.committer.Commit(ctx, gitops.CommitRequest{
		Repo:       repo,
		Branch:     branch,
		BaseBranch: base,
		Files:      files,
		Message:    fmt.Sprintf("%s: %s", req.IssueKey, summary),
	})
	if err != nil {
		return Result{}, fmt.Errorf("commit patches: %w", err)
	}

	pr, err := e.prs.Ensure(ctx, gitops.PRRequest{
		Repo:     repo,
		Branch:   branch,
		Base:     base,
		IssueKey: req.IssueKey,
		Title:    fmt.Sprintf("%s: %s", req.IssueKey, summary),
		Body:     fmt.Sprintf("Automated text fixes for %s.\n\nJira Issue: %s", req.IssueKey, req.IssueKey),
	})
	if err != nil {
		return Result{}, fmt.Errorf("ensure pull request: %w", err)
	}

	mention := fmt.Sprintf("@%s please review this auto-fix PR and make further improvements.", e.cfg.GitHub.AutomationUser)
	if _, err := e.host.CreateComment(ctx, repo, pr.Number, reviewRequest(mention, summary, description, req.IssueKey)); err != nil {
		e.logger.Warn(ctx, "review request comment failed", zap.Int("pr", pr.Number), zap.Error(err))
	}
	if pr.IsNew {
		e.announcePR(ctx, req.IssueKey, issue.Status, "Opened PR with automated fixes: "+summary, "View Auto-Fix PR", pr.URL)
	}

	if e.store != nil {
		e.store.TrackIfAbsent(state.TrackedTicket{
			Key:        req.IssueKey,
			Repository: repo.String(),
			Branch:     branch,
			PRNumber:   pr.Number,
			PRURL:      pr.URL,
			PRNodeID:   pr.NodeID,
			HeadSHA:    commit.HeadSHA,
			Source:     state.SourceDispatch,
		})
	}

	return Result{
		Status:    state.StatusSuccess,
		CIPRURL:   pr.URL,
		CommitURL: commit.CommitURL,
		Branch:    branch,
		PRNumber:  pr.Number,
		IsNew:     pr.IsNew,
		Message:   fmt.Sprintf("applied %d patch(es) on %s", len(patches), branch),
	}, nil
}

// applyPatches reads each file once from base and applies its patches in
// order. A missing file starts empty.
func (e *Executor) applyPatches(ctx context.Context, repo codehost.Repo, base string, patches []Patch) (map[string]string, error) {
	files := make(map[string]string)
	for _, p := range patches {
		content, seen := files[p.Path]
		if !seen {
			var err error
			content, err = e.host.GetFileContent(ctx, repo, p.Path, base)
			if err != nil && !apierr.IsNotFound(err) {
				return nil, fmt.Errorf("read %s: %w", p.Path, err)
			}
		}
		if p.Find == "" {
			content = p.Replace
		} else {
			if !strings.Contains(content, p.Find) {
				return nil, fmt.Errorf("patch %s: text %q not found", p.Path, p.Find)
			}
			content = strings.ReplaceAll(content, p.Find, p.Replace)
		}
		files[p.Path] = content
	}
	return files, nil
}
