package main

import (
	"fmt"

	"github.com/fyrsmithlabs/pipelined/internal/executor"
	"github.com/spf13/cobra"
)

var (
	runIssueKey string
	runTracking bool

	autofixIssueKey string
	autofixBase     string
)

// runCmd runs one reconciliation pass
var runCmd = &cobra.Command{
	Use:   "run <repository> <language> [buildCommand] [testCommand] [deployTarget]",
	Short: "Run a reconciliation pass for one repository",
	Long: `Create or update the CI/CD scaffolding branch and pull request for a
repository, exactly as the daemon does for a ticket.

Examples:
  # Scaffold a Go service for KAN-7
  pipelinectl run acme/api go --issue-key KAN-7

  # Override build and test commands
  pipelinectl run acme/web node "npm run build" "npm test" --issue-key KAN-9

  # Also open a tracking issue in the repository
  pipelinectl run acme/api go --issue-key KAN-7 --tracking`,
	Args: cobra.RangeArgs(2, 5),
	RunE: runPass,
}

// autofixCmd applies the patches described on a ticket
var autofixCmd = &cobra.Command{
	Use:   "autofix <repository>",
	Short: "Apply a ticket's patches on its autofix branch",
	Long: `Apply the find/replace patches from a ticket description on the
autofix branch, open or reuse its pull request and move the ticket on.

Examples:
  pipelinectl autofix acme/api --issue-key KAN-12
  pipelinectl autofix acme/api --issue-key KAN-12 --base develop`,
	Args: cobra.ExactArgs(1),
	RunE: runAutofix,
}

func init() {
	runCmd.Flags().StringVar(&runIssueKey, "issue-key", "", "Jira ticket the pass belongs to")
	runCmd.Flags().BoolVar(&runTracking, "tracking", false, "open a tracking issue in the repository")

	autofixCmd.Flags().StringVar(&autofixIssueKey, "issue-key", "", "Jira ticket carrying the patches (required)")
	autofixCmd.Flags().StringVar(&autofixBase, "base", "", "base branch (default: repository default branch)")
	_ = autofixCmd.MarkFlagRequired("issue-key")
}

// payloadFromArgs maps positional arguments onto a payload.
func payloadFromArgs(args []string, issueKey string, tracking bool) executor.Payload {
	p := executor.Payload{
		IssueKey:            issueKey,
		Repository:          args[0],
		Language:            args[1],
		CreateTrackingIssue: tracking,
		Source:              "cli",
	}
	optional := []*string{&p.BuildCommand, &p.TestCommand, &p.DeployTarget}
	for i, arg := range args[2:] {
		*optional[i] = arg
	}
	return p
}

func runPass(cmd *cobra.Command, args []string) error {
	p := payloadFromArgs(args, runIssueKey, runTracking)
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}

	ctx := cmd.Context()
	e, err := loadEnv(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = e.logger.Sync() }()

	label := p.Repository
	if p.IssueKey != "" {
		label = p.IssueKey
	}
	return printResult(cmd, label, e.executor.Run(ctx, p))
}

func runAutofix(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := loadEnv(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = e.logger.Sync() }()

	res := e.executor.Autofix(ctx, executor.AutofixRequest{
		IssueKey:   autofixIssueKey,
		Repository: args[0],
		BaseBranch: autofixBase,
	})
	return printResult(cmd, autofixIssueKey, res)
}
