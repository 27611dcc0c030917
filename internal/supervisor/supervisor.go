// Package supervisor watches tickets under supervision until their primary
// pull request merges.
//
// Three passes run over the tracked set:
//
//   - CheckBuilds records the latest CI run's job statuses on each ticket.
//   - MergeSubPRs approves and merges the automated-fix agent's follow-up PR.
//   - CheckMerges detects the primary merge, closes out the work item and
//     drops the ticket from supervision.
//
// Every pass works on a copy of the tracked set and isolates failures per
// ticket, so one broken ticket never stalls the others.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/pipelined/internal/codehost"
	"github.com/fyrsmithlabs/pipelined/internal/config"
	"github.com/fyrsmithlabs/pipelined/internal/jira"
	"github.com/fyrsmithlabs/pipelined/internal/logging"
	"github.com/fyrsmithlabs/pipelined/internal/state"
	"go.uber.org/zap"
)

// CodeHost is the code-hosting surface the supervisor uses.
type CodeHost interface {
	LatestWorkflowRun(ctx context.Context, repo codehost.Repo, branch string) (*codehost.WorkflowRun, error)
	ListJobs(ctx context.Context, repo codehost.Repo, runID int64) ([]codehost.Job, error)
	ListPullRequests(ctx context.Context, repo codehost.Repo, filter codehost.PRFilter) ([]*codehost.PullRequest, error)
	GetPullRequest(ctx context.Context, repo codehost.Repo, number int) (*codehost.PullRequest, error)
	MarkReadyForReview(ctx context.Context, nodeID string) error
	ApprovePullRequest(ctx context.Context, repo codehost.Repo, number int, body string) error
	EnableAutoMerge(ctx context.Context, nodeID, method string) error
	MergePullRequest(ctx context.Context, repo codehost.Repo, number int, method string) error
}

// Tracker is the work-tracking surface the supervisor uses.
type Tracker interface {
	AddComment(ctx context.Context, key, text string, link *jira.Link) error
	Transition(ctx context.Context, key, target string) error
}

// Config holds the settings the passes read.
type Config struct {
	AutomationUser   string
	MergeMethod      string
	DoneStatus       string
	BuildInterval    time.Duration
	WatchdogInterval time.Duration
}

// ConfigFrom extracts the supervisor settings from the full configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		AutomationUser:   cfg.GitHub.AutomationUser,
		MergeMethod:      cfg.GitHub.MergeMethod,
		DoneStatus:       cfg.Jira.DoneStatus,
		BuildInterval:    cfg.Supervisor.BuildInterval.Duration(),
		WatchdogInterval: cfg.Supervisor.WatchdogInterval.Duration(),
	}
}

// Report counts what one pass did.
type Report struct {
	Checked int
	Changed int
	Failed  int
}

// Supervisor runs the build-check, sub-PR merge and primary-merge passes.
type Supervisor struct {
	host    CodeHost
	tracker Tracker
	store   *state.Store
	cfg     Config
	logger  *logging.Logger
	now     func() time.Time
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Supervisor) { s.logger = l.Named("supervisor") }
}

// WithClock overrides the time source used for check timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// New creates a Supervisor. Zero intervals default to 30s.
func New(host CodeHost, tracker Tracker, store *state.Store, cfg Config, opts ...Option) (*Supervisor, error) {
	if host == nil || tracker == nil || store == nil {
		return nil, errors.New("supervisor: code host, tracker and store are required")
	}
	if cfg.BuildInterval <= 0 {
		cfg.BuildInterval = 30 * time.Second
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = 30 * time.Second
	}
	if cfg.MergeMethod == "" {
		cfg.MergeMethod = "squash"
	}
	if cfg.DoneStatus == "" {
		cfg.DoneStatus = "Done"
	}
	s := &Supervisor{
		host:    host,
		tracker: tracker,
		store:   store,
		cfg:     cfg,
		logger:  logging.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run executes the build-check pass every BuildInterval and the two watchdog
// passes every WatchdogInterval until ctx is done. Each loop runs one pass
// immediately on start.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info(ctx, "supervisor started",
		zap.Duration("build_interval", s.cfg.BuildInterval),
		zap.Duration("watchdog_interval", s.cfg.WatchdogInterval))

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.loop(ctx, "builds", s.cfg.BuildInterval, func(ctx context.Context) {
			s.CheckBuilds(ctx)
		})
	}()
	s.loop(ctx, "watchdog", s.cfg.WatchdogInterval, func(ctx context.Context) {
		s.MergeSubPRs(ctx)
		s.CheckMerges(ctx)
	})
	<-done

	s.logger.Info(ctx, "supervisor stopped")
	return nil
}

func (s *Supervisor) loop(ctx context.Context, name string, interval time.Duration, pass func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.safeRun(ctx, name, pass)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) safeRun(ctx context.Context, name string, pass func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, "supervisor pass panicked, continuing",
				zap.String("pass", name), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	pass(ctx)
}

// forEach runs fn for every ticket, logging and counting failures and panics
// without stopping the pass.
func (s *Supervisor) forEach(ctx context.Context, pass string, tickets []state.TrackedTicket, fn func(context.Context, state.TrackedTicket) (bool, error)) Report {
	var rep Report
	for _, t := range tickets {
		if ctx.Err() != nil {
			break
		}
		rep.Checked++
		tctx := logging.WithRepository(logging.WithIssueKey(ctx, t.Key), t.Repository)
		changed, err := s.guard(tctx, t, fn)
		switch {
		case err != nil:
			rep.Failed++
			passErrors.WithLabelValues(pass).Inc()
			s.logger.Warn(tctx, "supervisor pass failed for ticket", zap.String("pass", pass), zap.Error(err))
		case changed:
			rep.Changed++
		}
	}
	return rep
}

func (s *Supervisor) guard(ctx context.Context, t state.TrackedTicket, fn func(context.Context, state.TrackedTicket) (bool, error)) (changed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return fn(ctx, t)
}

// CheckBuilds records the latest CI run's jobs on every ticket with a branch.
// A branch without runs keeps its previous checks.
func (s *Supervisor) CheckBuilds(ctx context.Context) Report {
	var tickets []state.TrackedTicket
	for _, t := range s.store.Tracked() {
		if t.Branch != "" && !t.Merged {
			tickets = append(tickets, t)
		}
	}
	return s.forEach(ctx, "builds", tickets, s.checkBuild)
}

func (s *Supervisor) checkBuild(ctx context.Context, t state.TrackedTicket) (bool, error) {
	repo, err := codehost.ParseRepo(t.Repository)
	if err != nil {
		return false, err
	}
	run, err := s.host.LatestWorkflowRun(ctx, repo, t.Branch)
	if err != nil {
		return false, fmt.Errorf("latest workflow run: %w", err)
	}
	if run == nil {
		return false, nil
	}
	jobs, err := s.host.ListJobs(ctx, repo, run.ID)
	if err != nil {
		return false, fmt.Errorf("list jobs for run %d: %w", run.ID, err)
	}

	checks := make([]state.Check, 0, len(jobs))
	for _, j := range jobs {
		checks = append(checks, state.Check{Name: j.Name, Status: j.Status, Conclusion: j.Conclusion, URL: j.URL})
	}
	if len(checks) == 0 {
		checks = append(checks, state.Check{Name: run.Name, Status: run.Status, Conclusion: run.Conclusion, URL: run.URL})
	}

	now := s.now()
	_, ok := s.store.Update(t.Key, func(tt *state.TrackedTicket) {
		tt.Checks = checks
		tt.ChecksUpdatedAt = now
		if run.HeadSHA != "" {
			tt.HeadSHA = run.HeadSHA
		}
	})
	if ok && run.Conclusion != "" && run.Conclusion != "success" {
		s.logger.Info(ctx, "ci run did not succeed",
			zap.String("run", run.URL), zap.String("conclusion", run.Conclusion))
	}
	return ok, nil
}

// MergeSubPRs looks for the automated-fix agent's follow-up PR on every
// ticket whose primary PR is still open, and merges it.
func (s *Supervisor) MergeSubPRs(ctx context.Context) Report {
	var tickets []state.TrackedTicket
	for _, t := range s.store.Tracked() {
		if t.PRNumber > 0 && !t.Merged && !t.CopilotMerged {
			tickets = append(tickets, t)
		}
	}
	return s.forEach(ctx, "sub_prs", tickets, s.mergeSubPR)
}

func (s *Supervisor) mergeSubPR(ctx context.Context, t state.TrackedTicket) (bool, error) {
	repo, err := codehost.ParseRepo(t.Repository)
	if err != nil {
		return false, err
	}
	open, err := s.host.ListPullRequests(ctx, repo, codehost.PRFilter{State: "open"})
	if err != nil {
		return false, fmt.Errorf("list pull requests: %w", err)
	}
	sub := FindSubPR(open, t.PRNumber, t.PRURL, s.cfg.AutomationUser)
	if sub == nil {
		return false, nil
	}
	subField := zap.Int("sub_pr", sub.Number)

	if sub.Draft {
		if err := s.host.MarkReadyForReview(ctx, sub.NodeID); err != nil {
			return false, fmt.Errorf("mark sub-PR #%d ready: %w", sub.Number, err)
		}
	}
	if err := s.host.ApprovePullRequest(ctx, repo, sub.Number, "Approved by pipelined."); err != nil {
		s.logger.Warn(ctx, "sub-PR approval failed", subField, zap.Error(err))
	}

	how := "auto"
	if err := s.host.EnableAutoMerge(ctx, sub.NodeID, s.cfg.MergeMethod); err != nil {
		s.logger.Info(ctx, "auto-merge unavailable, merging directly", subField, zap.Error(err))
		how = "direct"
		if err := s.host.MergePullRequest(ctx, repo, sub.Number, s.cfg.MergeMethod); err != nil {
			subPRMerges.WithLabelValues("failed").Inc()
			return false, fmt.Errorf("merge sub-PR #%d: %w", sub.Number, err)
		}
	}
	subPRMerges.WithLabelValues(how).Inc()

	if _, ok := s.store.Update(t.Key, func(tt *state.TrackedTicket) {
		tt.CopilotMerged = true
		tt.SubPRNumber = sub.Number
		tt.SubPRURL = sub.URL
	}); !ok {
		return false, nil
	}
	s.logger.Info(ctx, "sub-PR merged", subField, zap.String("method", how), zap.String("url", sub.URL))

	text := fmt.Sprintf("Automated fixes from PR #%d were approved and merged into PR #%d.", sub.Number, t.PRNumber)
	if how == "auto" {
		text = fmt.Sprintf("Automated fixes from PR #%d were approved; auto-merge into PR #%d is enabled.", sub.Number, t.PRNumber)
	}
	if err := s.tracker.AddComment(ctx, t.Key, text, &jira.Link{Text: "View Fix PR", URL: sub.URL}); err != nil {
		s.logger.Warn(ctx, "sub-PR notification failed", subField, zap.Error(err))
	}
	return true, nil
}

var prReference = regexp.MustCompile(`#(\d+)\b`)

// FindSubPR returns the first open PR authored by the automation user that
// references the primary PR by number or URL. Work-in-progress PRs are
// skipped.
func FindSubPR(prs []*codehost.PullRequest, primary int, primaryURL, automationUser string) *codehost.PullRequest {
	for _, pr := range prs {
		if pr == nil || pr.Number == primary || !IsAutomationAuthor(pr.Author, automationUser) {
			continue
		}
		if !references(pr.Body, primary, primaryURL) {
			continue
		}
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(pr.Title)), "[WIP]") {
			continue
		}
		return pr
	}
	return nil
}

// IsAutomationAuthor compares logins case-insensitively, ignoring a "[bot]"
// suffix on either side.
func IsAutomationAuthor(author, automationUser string) bool {
	norm := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		return strings.TrimSuffix(s, "[bot]")
	}
	return automationUser != "" && norm(author) == norm(automationUser)
}

func references(body string, number int, url string) bool {
	if url != "" && strings.Contains(body, url) {
		return true
	}
	for _, m := range prReference.FindAllStringSubmatch(body, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n == number {
			return true
		}
	}
	return false
}

// CheckMerges closes out every ticket whose primary PR has merged: it
// notifies the work item, moves it to the done status and removes the
// ticket. The merge is claimed first, so each ticket is closed out once.
func (s *Supervisor) CheckMerges(ctx context.Context) Report {
	var tickets []state.TrackedTicket
	for _, t := range s.store.Tracked() {
		if t.PRNumber > 0 && !t.Merged {
			tickets = append(tickets, t)
		}
	}
	return s.forEach(ctx, "merges", tickets, s.checkMerge)
}

func (s *Supervisor) checkMerge(ctx context.Context, t state.TrackedTicket) (bool, error) {
	repo, err := codehost.ParseRepo(t.Repository)
	if err != nil {
		return false, err
	}
	pr, err := s.host.GetPullRequest(ctx, repo, t.PRNumber)
	if err != nil {
		return false, fmt.Errorf("get pull request #%d: %w", t.PRNumber, err)
	}
	if !pr.Merged || !s.store.ClaimMerge(t.Key) {
		return false, nil
	}

	s.logger.Info(ctx, "primary PR merged", zap.Int("pr", t.PRNumber))
	if err := s.tracker.AddComment(ctx, t.Key, fmt.Sprintf("Pull Request #%d merged.", t.PRNumber),
		&jira.Link{Text: "View PR", URL: t.PRURL}); err != nil {
		s.logger.Warn(ctx, "merge notification failed", zap.Error(err))
	}
	if err := s.tracker.Transition(ctx, t.Key, s.cfg.DoneStatus); err != nil {
		s.logger.Warn(ctx, "done transition failed", zap.String("target", s.cfg.DoneStatus), zap.Error(err))
	}
	if s.store.Remove(t.Key) {
		ticketsCompleted.Inc()
	}
	return true, nil
}
