// Pipelined is the CI/CD scaffolding daemon.
//
// It polls Jira for work, renders and commits pipeline definitions to GitHub,
// supervises the resulting pull requests and closes tickets once their PRs
// merge. The HTTP surface exposes job endpoints and a status snapshot.
//
// Configuration is read from ~/.config/pipelined/config.yaml and the
// environment. See internal/config for details.
//
// Usage:
//
//	# Start the daemon
//	pipelined
//
//	# Use an explicit config file
//	pipelined -config /etc/pipelined/config.yaml
//
//	# Configure via environment
//	GITHUB_TOKEN=... JIRA_BASE_URL=https://acme.atlassian.net pipelined
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fyrsmithlabs/pipelined/internal/codehost"
	"github.com/fyrsmithlabs/pipelined/internal/config"
	"github.com/fyrsmithlabs/pipelined/internal/jira"
	"github.com/fyrsmithlabs/pipelined/internal/logging"
	"github.com/fyrsmithlabs/pipelined/internal/telemetry"
	"go.uber.org/zap"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default ~/.config/pipelined/config.yaml)")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion(os.Stdout)
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  pipelined [-config PATH]   Start the daemon\n")
			fmt.Fprintf(os.Stderr, "  pipelined version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "pipelined: %v\n", err)
		os.Exit(1)
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "pipelined by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}

// run loads configuration, builds the clients and blocks until ctx is
// cancelled. Missing credentials fail here, before any task starts.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn(context.Background(), "telemetry shutdown failed", zap.Error(err))
		}
	}()

	host, hostErr := codehost.NewClient(ctx, cfg.GitHub, codehost.WithLogger(logger))
	tracker, trackerErr := jira.NewClient(cfg.Jira, jira.WithLogger(logger))
	if err := errors.Join(hostErr, trackerErr); err != nil {
		logger.Error(ctx, "missing credentials", zap.Error(err))
		return err
	}

	logger.Info(ctx, "starting pipelined",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Strings("projects", cfg.Jira.ProjectKeys),
		zap.Bool("autopilot", cfg.Autopilot.Enabled),
		zap.Bool("supervisor", cfg.Supervisor.Enabled),
		zap.Bool("reconciler", cfg.Reconciler.Enabled))

	a, err := newApp(cfg, host, tracker, logger)
	if err != nil {
		return err
	}
	return a.run(ctx)
}
