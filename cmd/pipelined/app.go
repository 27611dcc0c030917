package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/pipelined/internal/autopilot"
	"github.com/fyrsmithlabs/pipelined/internal/config"
	"github.com/fyrsmithlabs/pipelined/internal/executor"
	pipehttp "github.com/fyrsmithlabs/pipelined/internal/http"
	"github.com/fyrsmithlabs/pipelined/internal/logging"
	"github.com/fyrsmithlabs/pipelined/internal/reconciler"
	"github.com/fyrsmithlabs/pipelined/internal/state"
	"github.com/fyrsmithlabs/pipelined/internal/supervisor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// codeHost is everything the daemon's tasks need from GitHub.
type codeHost interface {
	executor.CodeHost
	supervisor.CodeHost
	reconciler.CodeHost
	autopilot.RepoInspector
}

// tracker is everything the daemon's tasks need from Jira.
type tracker interface {
	executor.Tracker
	autopilot.Tracker
	supervisor.Tracker
	reconciler.Tracker
	pipehttp.Tracker
}

// app holds the wired tasks. Disabled tasks are nil.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	store  *state.Store

	executor   *executor.Executor
	scheduler  *autopilot.Scheduler
	supervisor *supervisor.Supervisor
	reconciler *reconciler.Reconciler
	server     *pipehttp.Server
}

func newApp(cfg *config.Config, host codeHost, tr tracker, logger *logging.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  state.NewStore(cfg.Journal.Capacity),
	}
	a.executor = executor.New(executor.ConfigFrom(cfg), host, tr, a.store, logger)

	var err error
	if cfg.Autopilot.Enabled {
		resolver := &autopilot.Resolver{
			Repos:        cfg.Repos,
			DeployTarget: cfg.Executor.DeployTarget,
			Host:         host,
			Logger:       logger,
		}
		a.scheduler, err = autopilot.NewScheduler(tr, a.executor, resolver, cfg.Jira,
			autopilot.WithInterval(cfg.Autopilot.Interval.Duration()),
			autopilot.WithMaxResults(cfg.Autopilot.MaxResults),
			autopilot.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("autopilot: %w", err)
		}
	}
	if cfg.Supervisor.Enabled {
		a.supervisor, err = supervisor.New(host, tr, a.store, supervisor.ConfigFrom(cfg),
			supervisor.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("supervisor: %w", err)
		}
	}
	if cfg.Reconciler.Enabled {
		a.reconciler, err = reconciler.New(host, tr, a.store, cfg.Jira, reconciler.Owners(cfg),
			reconciler.WithStartupDelay(cfg.Reconciler.StartupDelay.Duration()),
			reconciler.WithAutomationUser(cfg.GitHub.AutomationUser),
			reconciler.WithBranchPrefix(cfg.GitHub.BranchPrefix),
			reconciler.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("reconciler: %w", err)
		}
	}

	opts := []pipehttp.Option{pipehttp.WithMetrics(pipehttp.NewHTTPMetrics(logger))}
	if a.scheduler != nil {
		opts = append(opts, pipehttp.WithAutopilot(a.scheduler))
	}
	a.server, err = pipehttp.NewServer(a.executor, tr, a.store, logger, &pipehttp.Config{
		Port:      cfg.Server.Port,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
		BodyLimit: cfg.Server.BodyLimit,
		Projects:  cfg.Jira.ProjectKeys,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("http server: %w", err)
	}
	return a, nil
}

// run starts every enabled task under one errgroup and blocks until ctx is
// cancelled or the HTTP server fails. The server is shut down gracefully
// within the configured timeout.
func (a *app) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout.Duration()
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.reconciler != nil {
		g.Go(func() error { return a.reconciler.Run(ctx) })
	}
	if a.scheduler != nil {
		g.Go(func() error { return a.scheduler.Run(ctx) })
	}
	if a.supervisor != nil {
		g.Go(func() error { return a.supervisor.Run(ctx) })
	}

	err := g.Wait()
	a.logger.Info(context.Background(), "pipelined stopped",
		zap.Int("tracked", len(a.store.Tracked())))
	return err
}
