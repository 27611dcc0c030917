// Package main implements pipelinectl, the operator CLI for pipelined.
//
// Pass commands (run, list, autofix, transition) talk to GitHub and Jira
// directly with the same configuration the daemon uses. status and watch
// read the daemon's status snapshot over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fyrsmithlabs/pipelined/internal/autopilot"
	"github.com/fyrsmithlabs/pipelined/internal/codehost"
	"github.com/fyrsmithlabs/pipelined/internal/config"
	"github.com/fyrsmithlabs/pipelined/internal/executor"
	"github.com/fyrsmithlabs/pipelined/internal/jira"
	"github.com/fyrsmithlabs/pipelined/internal/logging"
	"github.com/fyrsmithlabs/pipelined/internal/state"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

var (
	// configPath overrides the default config file location
	configPath string
	// serverURL is the base URL of a running pipelined daemon
	serverURL string
	// verbose enables debug logging on stderr
	verbose bool
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pipelinectl",
	Short: "Operator CLI for pipelined",
	Long: `pipelinectl runs reconciliation passes by hand, browses and moves Jira
tickets, inspects a running pipelined daemon and serves local workspace
tools to editor agents over MCP.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/pipelined/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8000", "pipelined server URL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level to stderr")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(autofixCmd)
	rootCmd.AddCommand(transitionsCmd)
	rootCmd.AddCommand(transitionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(mcpCmd)
}

// host is the GitHub surface the CLI passes use.
type host interface {
	executor.CodeHost
	autopilot.RepoInspector
}

// tracker is the Jira surface the CLI uses.
type tracker interface {
	executor.Tracker
	SearchIssues(ctx context.Context, jql string, maxResults int) ([]jira.Issue, error)
	ListTransitions(ctx context.Context, key string) ([]jira.Transition, error)
}

// env is what a pass command runs against.
type env struct {
	cfg      *config.Config
	logger   *logging.Logger
	host     host
	tracker  tracker
	executor *executor.Executor
	resolver *autopilot.Resolver
}

// loadEnv builds clients from configuration. Tests replace it.
var loadEnv = func(ctx context.Context, needHost bool) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newCLILogger()
	if err != nil {
		return nil, err
	}

	tr, err := jira.NewClient(cfg.Jira, jira.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, logger: logger, tracker: tr}
	if !needHost {
		return e, nil
	}

	h, err := codehost.NewClient(ctx, cfg.GitHub, codehost.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	e.withHost(h)
	return e, nil
}

// loadConfig reads the shared configuration. Tests replace it.
var loadConfig = func() (*config.Config, error) {
	return config.LoadWithFile(configPath)
}

// newCLILogger logs warnings (debug with -v) to stderr, keeping stdout for
// command output.
func newCLILogger() (*logging.Logger, error) {
	logCfg, err := logging.FromAppConfig(config.LoggingConfig{Level: "warn", Format: "console"})
	if err != nil {
		return nil, err
	}
	if verbose {
		logCfg.Level = zapcore.DebugLevel
	}
	logCfg.Output = logging.OutputConfig{Stderr: true}
	logCfg.Caller.Enabled = false
	return logging.NewLogger(logCfg, nil)
}

// withHost wires the executor and resolver around h.
func (e *env) withHost(h host) {
	e.host = h
	e.executor = executor.New(executor.ConfigFrom(e.cfg), h, e.tracker, state.NewStore(e.cfg.Journal.Capacity), e.logger)
	e.resolver = &autopilot.Resolver{
		Repos:        e.cfg.Repos,
		DeployTarget: e.cfg.Executor.DeployTarget,
		Host:         h,
		Logger:       e.logger,
	}
}

// errPassFailed marks a command whose pass reported status error. The
// result has already been printed.
var errPassFailed = errors.New("pass failed")

func printResult(cmd *cobra.Command, label string, res executor.Result) error {
	w := cmd.OutOrStdout()
	if !res.OK() {
		fmt.Fprintf(w, "%s: error: %s\n", label, res.Message)
		return errPassFailed
	}
	verb := "updated"
	if res.IsNew {
		verb = "created"
	}
	fmt.Fprintf(w, "%s: success (%s)\n", label, verb)
	fmt.Fprintf(w, "  Branch:  %s\n", res.Branch)
	fmt.Fprintf(w, "  PR:      %s\n", res.CIPRURL)
	if res.CommitURL != "" {
		fmt.Fprintf(w, "  Commit:  %s\n", res.CommitURL)
	}
	if res.TrackingIssueURL != "" {
		fmt.Fprintf(w, "  Tracker: %s\n", res.TrackingIssueURL)
	}
	return nil
}
