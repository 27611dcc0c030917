// Package autopilot polls the work-tracking system for eligible tickets,
// takes a soft lock on one per cycle by moving its status, derives its job
// payload and hands it to the executor.
package autopilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/pipelined/internal/config"
	"github.com/fyrsmithlabs/pipelined/internal/executor"
	"github.com/fyrsmithlabs/pipelined/internal/jira"
	"github.com/fyrsmithlabs/pipelined/internal/logging"
	"go.uber.org/zap"
)

// State is the scheduler's position within a poll cycle.
type State int32

const (
	Idle State = iota
	Polling
	Locking
	Dispatching
)

func (s State) String() string {
	switch s {
	case Polling:
		return "polling"
	case Locking:
		return "locking"
	case Dispatching:
		return "dispatching"
	default:
		return "idle"
	}
}

// Outcome summarizes a cycle.
type Outcome string

const (
	OutcomeNoWork     Outcome = "no_work"
	OutcomePollFailed Outcome = "poll_failed"
	OutcomeContended  Outcome = "contended"
	OutcomeDispatched Outcome = "dispatched"
	OutcomeFailed     Outcome = "failed"
)

// CycleResult reports what one PollOnce did.
type CycleResult struct {
	Outcome    Outcome
	Candidates int
	IssueKey   string
	Payload    *executor.Payload
	Result     *executor.Result
	Err        error
}

// Tracker is the work-tracking client surface the scheduler uses.
type Tracker interface {
	SearchIssues(ctx context.Context, jql string, maxResults int) ([]jira.Issue, error)
	GetIssue(ctx context.Context, key string) (*jira.Issue, error)
	Transition(ctx context.Context, key, target string) error
	AddComment(ctx context.Context, key, text string, link *jira.Link) error
}

// Runner executes a reconciliation pass.
type Runner interface {
	Run(ctx context.Context, p executor.Payload) executor.Result
}

// Scheduler runs poll cycles. Cycles never overlap within one Scheduler.
type Scheduler struct {
	tracker  Tracker
	runner   Runner
	resolver *Resolver
	jira     config.JiraConfig
	interval time.Duration
	max      int
	logger   *logging.Logger

	cycle sync.Mutex
	state atomic.Int32
	last  atomic.Value // time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the time between cycles. Default 60s.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithMaxResults bounds the candidate query. Default 100.
func WithMaxResults(n int) Option {
	return func(s *Scheduler) { s.max = n }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = l.Named("autopilot") }
}

// NewScheduler creates a scheduler. It does not start polling until Run.
func NewScheduler(tracker Tracker, runner Runner, resolver *Resolver, jiraCfg config.JiraConfig, opts ...Option) (*Scheduler, error) {
	if tracker == nil || runner == nil || resolver == nil {
		return nil, errors.New("autopilot: tracker, runner and resolver are required")
	}
	s := &Scheduler{
		tracker:  tracker,
		runner:   runner,
		resolver: resolver,
		jira:     jiraCfg,
		interval: 60 * time.Second,
		max:      100,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State returns the current cycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// LastCycle returns when the last cycle finished, or the zero time.
func (s *Scheduler) LastCycle() time.Time {
	t, _ := s.last.Load().(time.Time)
	return t
}

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
}

// Run polls immediately and then every interval until ctx is done. A failing
// or panicking cycle never stops the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info(ctx, "autopilot started",
		zap.Duration("interval", s.interval),
		zap.Strings("projects", s.jira.ProjectKeys))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.safePoll(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "autopilot stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) safePoll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.setState(Idle)
			s.logger.Error(ctx, "autopilot cycle panicked, continuing", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	s.PollOnce(ctx)
}

// PollOnce runs one cycle: query, pick the top ticket, lock it, resolve its
// payload and dispatch it. Lock acquisition always precedes resolution.
func (s *Scheduler) PollOnce(ctx context.Context) (res CycleResult) {
	s.cycle.Lock()
	defer s.cycle.Unlock()
	defer func() {
		s.setState(Idle)
		s.last.Store(time.Now())
		cyclesTotal.WithLabelValues(string(res.Outcome)).Inc()
	}()

	s.setState(Polling)
	jql := BuildJQL(s.jira.ProjectKeys, s.jira.InitialStatus)
	issues, err := s.tracker.SearchIssues(ctx, jql, s.max)
	if err != nil {
		s.logger.Warn(ctx, "poll failed", zap.String("jql", jql), zap.Error(err))
		return CycleResult{Outcome: OutcomePollFailed, Err: err}
	}
	if len(issues) == 0 {
		s.logger.Debug(ctx, "no eligible tickets")
		return CycleResult{Outcome: OutcomeNoWork}
	}

	SortByPriority(issues)
	keys := make([]string, len(issues))
	for i, issue := range issues {
		keys[i] = issue.Key
	}
	s.logger.Info(ctx, "eligible tickets found", zap.Int("count", len(issues)), zap.Strings("keys", keys))

	ticket := issues[0]
	res = CycleResult{Candidates: len(issues), IssueKey: ticket.Key}
	ctx = logging.WithIssueKey(ctx, ticket.Key)

	s.setState(Locking)
	if err := s.tracker.Transition(ctx, ticket.Key, s.jira.LockStatus); err != nil {
		lockContention.Inc()
		s.logger.Info(ctx, "soft lock not acquired, skipping until next cycle",
			zap.String("priority", ticket.Priority), zap.Error(err))
		res.Outcome, res.Err = OutcomeContended, err
		return res
	}
	s.logger.Info(ctx, "locked ticket", zap.String("priority", ticket.Priority))

	s.setState(Dispatching)
	payload, result, err := s.dispatch(ctx, ticket)
	res.Payload, res.Result = payload, result
	if err != nil {
		s.logger.Error(ctx, "autopilot failed to process ticket", zap.Error(err))
		if cerr := s.tracker.AddComment(ctx, ticket.Key, "Autopilot failed: "+err.Error(), nil); cerr != nil {
			s.logger.Warn(ctx, "failure comment not posted", zap.Error(cerr))
		}
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	res.Outcome = OutcomeDispatched
	return res
}

func (s *Scheduler) dispatch(ctx context.Context, ticket jira.Issue) (p *executor.Payload, r *executor.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("internal error: %v", rec)
		}
	}()

	// Search results carry no description.
	issue, err := s.tracker.GetIssue(ctx, ticket.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch ticket details: %w", err)
	}

	payload, err := s.resolver.Resolve(ctx, ticket.Key, issue.Description)
	if err != nil {
		return nil, nil, err
	}
	payload.Source = "autopilot"

	body, _ := json.MarshalIndent(payload, "", "  ")
	s.logger.Info(ctx, "dispatching job", zap.String("repository", payload.Repository), zap.String("language", payload.Language))
	engaging := fmt.Sprintf("Autopilot engaging.\nTarget: %s\nConfig: %s", payload.Repository, body)
	if err := s.tracker.AddComment(ctx, ticket.Key, engaging, nil); err != nil {
		s.logger.Warn(ctx, "engaging comment not posted", zap.Error(err))
	}

	result := s.runner.Run(ctx, payload)
	if !result.OK() {
		return &payload, &result, errors.New(strings.TrimSpace(result.Message))
	}
	return &payload, &result, nil
}
