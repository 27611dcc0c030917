// Package executor runs one reconciliation pass for one work item: render the
// pipeline files, commit them to the repository's feature branch, ensure the
// pull request, notify, and record the outcome.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/pipelined/internal/codehost"
	"github.com/fyrsmithlabs/pipelined/internal/config"
	"github.com/fyrsmithlabs/pipelined/internal/gitops"
	"github.com/fyrsmithlabs/pipelined/internal/jira"
	"github.com/fyrsmithlabs/pipelined/internal/logging"
	"github.com/fyrsmithlabs/pipelined/internal/scaffold"
	"github.com/fyrsmithlabs/pipelined/internal/state"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/pipelined/internal/executor"

// Tracker is the work-tracking client surface used by a pass.
type Tracker interface {
	GetIssue(ctx context.Context, key string) (*jira.Issue, error)
	AddComment(ctx context.Context, key, text string, link *jira.Link) error
	Transition(ctx context.Context, key, target string) error
}

// CodeHost is the code-hosting client surface used by a pass.
type CodeHost interface {
	gitops.GitAPI
	gitops.PullAPI
	CreateComment(ctx context.Context, repo codehost.Repo, number int, body string) (string, error)
	CreateIssue(ctx context.Context, repo codehost.Repo, req codehost.NewIssue) (*codehost.Issue, error)
	GetFileContent(ctx context.Context, repo codehost.Repo, path, ref string) (string, error)
}

// Config holds the settings a pass reads.
type Config struct {
	GitHub   config.GitHubConfig
	Jira     config.JiraConfig
	Executor config.ExecutorConfig
}

// ConfigFrom extracts executor settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{GitHub: cfg.GitHub, Jira: cfg.Jira, Executor: cfg.Executor}
}

// Executor runs reconciliation passes. It is safe for concurrent use.
type Executor struct {
	cfg       Config
	host      CodeHost
	tracker   Tracker
	store     *state.Store
	committer *gitops.Committer
	prs       *gitops.PRManager
	logger    *logging.Logger
	tracer    trace.Tracer

	passDuration metric.Float64Histogram
}

// New creates an Executor.
func New(cfg Config, host CodeHost, tracker Tracker, store *state.Store, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.Named("executor")

	e := &Executor{
		cfg:     cfg,
		host:    host,
		tracker: tracker,
		store:   store,
		committer: &gitops.Committer{
			API:         host,
			Notifier:    tracker,
			MaxAttempts: gitops.DefaultMaxAttempts,
			Logger:      logger,
		},
		prs: &gitops.PRManager{
			API:      host,
			Assignee: cfg.GitHub.AutomationUser,
			Labels:   cfg.GitHub.Labels,
			Logger:   logger,
		},
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}

	var err error
	e.passDuration, err = otel.Meter(instrumentationName).Float64Histogram(
		"pipelined.executor.pass_duration",
		metric.WithDescription("Duration of reconciliation passes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn(context.Background(), "pass duration histogram unavailable", zap.Error(err))
	}
	return e
}

// Run executes one pass. Only rendering, committing and ensuring the PR are
// fatal; every other step is best-effort. Run never panics and never returns
// a Go error: failures come back as Result{Status: "error"}.
func (e *Executor) Run(ctx context.Context, p Payload) (res Result) {
	start := time.Now()
	ctx = logging.WithPassID(ctx, uuid.NewString())
	ctx = logging.WithIssueKey(ctx, p.IssueKey)
	ctx = logging.WithRepository(ctx, p.Repository)

	ctx, span := e.tracer.Start(ctx, "executor.run", trace.WithAttributes(
		attribute.String("issue.key", p.IssueKey),
		attribute.String("repository", p.Repository),
		attribute.String("language", p.Language),
		attribute.String("source", p.Source),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, "pass panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = failed(fmt.Errorf("internal error: %v", r))
			e.record("pass", p.IssueKey, p.Repository, res, start)
		}
		if !res.OK() {
			span.SetStatus(codes.Error, res.Message)
		}
		passesTotal.WithLabelValues("pass", res.Status).Inc()
		if e.passDuration != nil {
			e.passDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(attribute.String("status", res.Status)))
		}
	}()

	if timeout := e.cfg.Executor.PassTimeout.Duration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := e.run(ctx, p)
	if err != nil {
		span.RecordError(err)
		e.logger.Error(ctx, "pass failed", zap.Error(err))
		res = failed(err)
	}
	e.record("pass", p.IssueKey, p.Repository, res, start)
	return res
}

func (e *Executor) run(ctx context.Context, p Payload) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid payload: %w", err)
	}
	repo, _ := codehost.ParseRepo(p.Repository)

	// 1. Context. Missing ticket details only degrade the comments.
	summary := "CI/CD pipeline for " + repo.String()
	var description, status string
	if p.IssueKey != "" {
		issue, err := e.tracker.GetIssue(ctx, p.IssueKey)
		if err != nil {
			e.logger.Warn(ctx, "fetch work item failed, using synthesized summary", zap.Error(err))
		} else {
			if issue.Summary != "" {
				summary = issue.Summary
			}
			description, status = issue.Description, issue.Status
		}
	}

	var res Result

	// 2. Optional tracking issue.
	if p.CreateTrackingIssue {
		res.TrackingIssueURL = e.openTrackingIssue(ctx, repo, p, summary)
	}

	// 3. Render against the repository's default branch.
	var defaultBranch string
	if meta, err := e.host.GetRepository(ctx, repo); err != nil {
		e.logger.Warn(ctx, "read repository failed, assuming main", zap.Error(err))
	} else {
		defaultBranch = meta.DefaultBranch
	}
	spec := scaffold.Spec{
		RepoName:      repo.Name,
		Language:      p.Language,
		BuildCommand:  p.BuildCommand,
		TestCommand:   p.TestCommand,
		DeployTarget:  p.DeployTarget,
		DefaultBranch: defaultBranch,
	}
	if spec.DeployTarget == "" {
		spec.DeployTarget = e.cfg.Executor.DeployTarget
	}
	files, err := scaffold.Render(spec)
	if err != nil {
		return Result{}, fmt.Errorf("render pipeline: %w", err)
	}

	// 4. Commit to the single feature branch.
	branch := gitops.FeatureBranch(e.cfg.GitHub.BranchPrefix, repo.Name)
	workflow := scaffold.WorkflowPath(repo.Name)
	commit, err := e.committer.Commit(ctx, gitops.CommitRequest{
		Repo:       repo,
		Branch:     branch,
		BaseBranch: defaultBranch,
		Files:      files,
		Message:    commitMessage(p.IssueKey, spec.Resolved().Language),
		IssueKey:   p.IssueKey,
		Notice:     fmt.Sprintf("CI/CD Pipeline updated at %s.", workflow),
	})
	if err != nil {
		return Result{}, fmt.Errorf("commit pipeline: %w", err)
	}

	// 5. Ensure the PR.
	pr, err := e.prs.Ensure(ctx, gitops.PRRequest{Repo: repo, Branch: branch, Base: defaultBranch, IssueKey: p.IssueKey})
	if err != nil {
		return Result{}, fmt.Errorf("ensure pull request: %w", err)
	}

	// 6. Ask the automation reviewer to look at it.
	mention := fmt.Sprintf("@%s please review this PR and fix any issues.", e.cfg.GitHub.AutomationUser)
	if _, err := e.host.CreateComment(ctx, repo, pr.Number, reviewRequest(mention, summary, description, p.IssueKey)); err != nil {
		e.logger.Warn(ctx, "review request comment failed", zap.Int("pr", pr.Number), zap.Error(err))
	}

	// 7. Tell the ticket, and move it once per PR.
	if p.IssueKey != "" && pr.IsNew {
		e.announcePR(ctx, p.IssueKey, status, "Pull Request opened for review.", "View PR", pr.URL)
	}

	// 8. Track for supervision.
	if p.IssueKey != "" && e.store != nil {
		e.store.Track(state.TrackedTicket{
			Key:        p.IssueKey,
			Repository: repo.String(),
			Branch:     branch,
			PRNumber:   pr.Number,
			PRURL:      pr.URL,
			PRNodeID:   pr.NodeID,
			HeadSHA:    commit.HeadSHA,
			Source:     state.SourceDispatch,
		})
	}

	res.Status = state.StatusSuccess
	res.CIPRURL = pr.URL
	res.CommitURL = commit.CommitURL
	res.Branch = branch
	res.PRNumber = pr.Number
	res.IsNew = pr.IsNew
	res.Message = fmt.Sprintf("pipeline committed to %s", branch)
	e.logger.Info(ctx, "pass succeeded",
		zap.String("branch", branch), zap.Int("pr", pr.Number), zap.Bool("pr_new", pr.IsNew))
	return res, nil
}

// announcePR comments on the ticket and moves it to the post-PR status
// unless it is already there.
func (e *Executor) announcePR(ctx context.Context, key, status, text, linkText, url string) {
	if err := e.tracker.AddComment(ctx, key, text, &jira.Link{Text: linkText, URL: url}); err != nil {
		e.logger.Warn(ctx, "PR notification failed", zap.Error(err))
	}
	target := e.cfg.Jira.PostPRStatusFor(jira.ProjectOf(key))
	if target == "" || strings.EqualFold(status, target) {
		return
	}
	if err := e.tracker.Transition(ctx, key, target); err != nil {
		e.logger.Warn(ctx, "post-PR transition failed", zap.String("target", target), zap.Error(err))
	}
}

func (e *Executor) openTrackingIssue(ctx context.Context, repo codehost.Repo, p Payload, summary string) string {
	title := "Set up CI/CD pipeline"
	if p.IssueKey != "" {
		title = p.IssueKey + ": " + title
	}
	var body strings.Builder
	fmt.Fprintf(&body, "@%s please set up the CI/CD pipeline for this repository.\n\n", e.cfg.GitHub.AutomationUser)
	fmt.Fprintf(&body, "**Task**: %s\n", summary)
	fmt.Fprintf(&body, "**Language**: %s\n", scaffold.NormalizeLanguage(p.Language))
	if p.IssueKey != "" {
		fmt.Fprintf(&body, "**Jira Issue**: %s\n", p.IssueKey)
	}

	issue, err := e.host.CreateIssue(ctx, repo, codehost.NewIssue{
		Title:     title,
		Body:      body.String(),
		Assignees: []string{e.cfg.GitHub.AutomationUser},
		Labels:    e.cfg.GitHub.Labels,
	})
	if err != nil {
		e.logger.Warn(ctx, "tracking issue failed", zap.Error(err))
		return ""
	}
	return issue.URL
}

func (e *Executor) record(kind, key, repo string, res Result, start time.Time) {
	if e.store == nil {
		return
	}
	e.store.Append(state.Entry{
		Kind:             kind,
		IssueKey:         key,
		Repository:       repo,
		Status:           res.Status,
		Message:          res.Message,
		Branch:           res.Branch,
		CommitURL:        res.CommitURL,
		PRURL:            res.CIPRURL,
		TrackingIssueURL: res.TrackingIssueURL,
		Duration:         time.Since(start).Round(time.Millisecond).String(),
	})
}

func commitMessage(key, language string) string {
	msg := fmt.Sprintf("Add CI/CD pipeline for %s", language)
	if key != "" {
		msg = key + ": " + msg
	}
	return msg
}

func reviewRequest(mention, summary, description, key string) string {
	var b strings.Builder
	b.WriteString(mention)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "**Task**: %s\n", summary)
	if description != "" {
		fmt.Fprintf(&b, "**Description**: %s\n", description)
	}
	if key != "" {
		fmt.Fprintf(&b, "**Jira Issue**: %s", key)
	}
	return strings.TrimRight(b.String(), "\n")
}
