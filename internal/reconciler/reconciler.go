// Package reconciler restores supervision of in-flight work after a restart
// by scanning open pull requests for work item keys.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/fyrsmithlabs/pipelined/internal/codehost"
	"github.com/fyrsmithlabs/pipelined/internal/config"
	"github.com/fyrsmithlabs/pipelined/internal/gitops"
	"github.com/fyrsmithlabs/pipelined/internal/jira"
	"github.com/fyrsmithlabs/pipelined/internal/logging"
	"github.com/fyrsmithlabs/pipelined/internal/state"
	"github.com/fyrsmithlabs/pipelined/internal/supervisor"
	"go.uber.org/zap"
)

// CodeHost lists repositories and their open pull requests.
type CodeHost interface {
	ListOwnerRepositories(ctx context.Context, owner string) ([]*codehost.Repository, error)
	ListPullRequests(ctx context.Context, repo codehost.Repo, filter codehost.PRFilter) ([]*codehost.PullRequest, error)
}

// Tracker fetches a work item's live status.
type Tracker interface {
	GetIssue(ctx context.Context, key string) (*jira.Issue, error)
}

// Report counts what a reconciliation found.
type Report struct {
	Repositories   int `json:"repositories"`
	PullRequests   int `json:"pull_requests"`
	Discovered     int `json:"discovered"`
	AlreadyTracked int `json:"already_tracked"`
	Terminal       int `json:"terminal"`
	NoKey          int `json:"no_key"`
	SubPRs         int `json:"sub_prs"`
	Failed         int `json:"failed"`
}

// Reconciler seeds the state store from open pull requests.
type Reconciler struct {
	host    CodeHost
	tracker Tracker
	store   *state.Store
	jira    config.JiraConfig
	owners  []string
	key     *regexp.Regexp
	delay   time.Duration
	bot     string
	prefix  string
	logger  *logging.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Reconciler) { r.logger = l.Named("reconciler") }
}

// WithStartupDelay sets how long Run waits before scanning.
func WithStartupDelay(d time.Duration) Option {
	return func(r *Reconciler) { r.delay = d }
}

// WithAutomationUser sets the login whose pull requests are sub-PRs against
// a feature branch rather than primary work.
func WithAutomationUser(user string) Option {
	return func(r *Reconciler) { r.bot = user }
}

// WithBranchPrefix sets the feature branch prefix used to recognize primary
// pull requests.
func WithBranchPrefix(prefix string) Option {
	return func(r *Reconciler) { r.prefix = prefix }
}

// New creates a Reconciler scanning the given owners. The key pattern must
// have a capture group holding the key.
func New(host CodeHost, tracker Tracker, store *state.Store, jiraCfg config.JiraConfig, owners []string, opts ...Option) (*Reconciler, error) {
	if host == nil || tracker == nil || store == nil {
		return nil, errors.New("reconciler: code host, tracker and store are required")
	}
	re, err := regexp.Compile(jiraCfg.KeyPattern)
	if err != nil {
		return nil, fmt.Errorf("reconciler: key pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, errors.New("reconciler: key pattern needs a capture group")
	}
	defaults := config.Default().GitHub
	r := &Reconciler{
		host:    host,
		tracker: tracker,
		store:   store,
		jira:    jiraCfg,
		owners:  owners,
		key:     re,
		bot:     defaults.AutomationUser,
		prefix:  defaults.BranchPrefix,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Owners returns the accounts to scan: the configured organization, or else
// the owners of the configured default repositories.
func Owners(cfg *config.Config) []string {
	if cfg.GitHub.Org != "" {
		return []string{cfg.GitHub.Org}
	}
	seen := map[string]bool{}
	var owners []string
	add := func(full string) {
		repo, err := codehost.ParseRepo(full)
		if err != nil || seen[repo.Owner] {
			return
		}
		seen[repo.Owner] = true
		owners = append(owners, repo.Owner)
	}
	add(cfg.Repos.Default)
	projects := make([]string, 0, len(cfg.Repos.ByProject))
	for p := range cfg.Repos.ByProject {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	for _, p := range projects {
		add(cfg.Repos.ByProject[p])
	}
	return owners
}

// Run waits for the startup delay, then reconciles once.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.delay > 0 {
		timer := time.NewTimer(r.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
	rep, err := r.ReconcileOnce(ctx)
	if err != nil {
		r.logger.Warn(ctx, "startup reconciliation incomplete", zap.Error(err))
	}
	r.logger.Info(ctx, "startup reconciliation finished",
		zap.Int("repositories", rep.Repositories),
		zap.Int("pull_requests", rep.PullRequests),
		zap.Int("discovered", rep.Discovered),
		zap.Int("already_tracked", rep.AlreadyTracked),
		zap.Int("terminal", rep.Terminal),
		zap.Int("sub_prs", rep.SubPRs),
		zap.Int("failed", rep.Failed))
	return nil
}

// ReconcileOnce tracks every open pull request whose title or body names an
// active work item. Tickets already tracked are left alone. The error
// reports owners or repositories that could not be listed; the report covers
// everything else.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (Report, error) {
	var (
		rep  Report
		errs []error
	)
	if len(r.owners) == 0 {
		r.logger.Info(ctx, "no owners configured, nothing to reconcile")
		return rep, nil
	}

	statuses := map[string]string{}
	for _, owner := range r.owners {
		repos, err := r.host.ListOwnerRepositories(ctx, owner)
		if err != nil {
			errs = append(errs, fmt.Errorf("list repositories of %s: %w", owner, err))
			continue
		}
		for _, repo := range repos {
			if repo.Archived {
				continue
			}
			rep.Repositories++
			if err := r.reconcileRepo(ctx, repo, statuses, &rep); err != nil {
				errs = append(errs, err)
			}
		}
	}
	reconciledTickets.Add(float64(rep.Discovered))
	return rep, errors.Join(errs...)
}

func (r *Reconciler) reconcileRepo(ctx context.Context, meta *codehost.Repository, statuses map[string]string, rep *Report) error {
	repo := meta.Repo
	prs, err := r.host.ListPullRequests(ctx, repo, codehost.PRFilter{State: "open"})
	if err != nil {
		rep.Failed++
		return fmt.Errorf("list pull requests of %s: %w", repo, err)
	}
	rep.PullRequests += len(prs)

	for _, pr := range r.primaryFirst(meta, prs, rep) {
		key := r.ExtractKey(pr.Title, pr.Body)
		if key == "" {
			rep.NoKey++
			continue
		}
		pctx := logging.WithRepository(logging.WithIssueKey(ctx, key), repo.String())

		if _, ok := r.store.Get(key); ok {
			rep.AlreadyTracked++
			continue
		}

		status, ok := statuses[key]
		if !ok {
			issue, err := r.tracker.GetIssue(pctx, key)
			if err != nil {
				rep.Failed++
				r.logger.Warn(pctx, "work item lookup failed", zap.Int("pr", pr.Number), zap.Error(err))
				continue
			}
			status = issue.Status
			statuses[key] = status
		}
		if r.jira.IsTerminal(status) {
			rep.Terminal++
			continue
		}

		if _, created := r.store.TrackIfAbsent(state.TrackedTicket{
			Key:        key,
			Repository: repo.String(),
			Branch:     pr.HeadRef,
			PRNumber:   pr.Number,
			PRURL:      pr.URL,
			PRNodeID:   pr.NodeID,
			HeadSHA:    pr.HeadSHA,
			Source:     state.SourceReconciler,
		}); !created {
			rep.AlreadyTracked++
			continue
		}
		rep.Discovered++
		r.logger.Info(pctx, "resumed supervision", zap.Int("pr", pr.Number), zap.String("status", status))
	}
	return nil
}

// primaryFirst drops sub-PRs, which are opened by the automation user or
// target a branch other than the default, and orders pull requests from the
// repository's feature branch ahead of the rest.
func (r *Reconciler) primaryFirst(meta *codehost.Repository, prs []*codehost.PullRequest, rep *Report) []*codehost.PullRequest {
	feature := gitops.FeatureBranch(r.prefix, meta.Repo.Name)
	out := make([]*codehost.PullRequest, 0, len(prs))
	for _, pr := range prs {
		if r.isSubPR(meta, pr) {
			rep.SubPRs++
			continue
		}
		out = append(out, pr)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].HeadRef == feature && out[j].HeadRef != feature
	})
	return out
}

func (r *Reconciler) isSubPR(meta *codehost.Repository, pr *codehost.PullRequest) bool {
	if r.bot != "" && supervisor.IsAutomationAuthor(pr.Author, r.bot) {
		return true
	}
	return meta.DefaultBranch != "" && pr.BaseRef != "" && pr.BaseRef != meta.DefaultBranch
}

// ExtractKey returns the first work item key in title, then body.
func (r *Reconciler) ExtractKey(title, body string) string {
	for _, text := range []string{title, body} {
		if m := r.key.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}
