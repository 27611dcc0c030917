package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fyrsmithlabs/pipelined/internal/autopilot"
	"github.com/fyrsmithlabs/pipelined/internal/jira"
	"github.com/fyrsmithlabs/pipelined/internal/monitor"
	"github.com/spf13/cobra"
)

var (
	listProjects  []string
	listSelectAll bool
	listLimit     int
)

// listCmd lists active tickets and runs the chosen ones
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List active tickets and run passes for the selected ones",
	Long: `List tickets that are not done, highest priority first, and run a
reconciliation pass for each selected ticket. The repository, language and
commands come from the ticket description the same way autopilot derives them.

Examples:
  # Pick tickets interactively
  pipelinectl list --project KAN

  # Run every active ticket in two projects
  pipelinectl list --project KAN --project OPS --select-all`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringSliceVar(&listProjects, "project", nil, "project key to list (default: configured project keys)")
	listCmd.Flags().BoolVar(&listSelectAll, "select-all", false, "run every listed ticket without prompting")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of tickets to list")
}

// pickTickets runs the interactive picker. Tests replace it.
var pickTickets = func(cmd *cobra.Command, issues []jira.Issue) ([]jira.Issue, error) {
	m, err := tea.NewProgram(newPicker(issues),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()),
	).Run()
	if err != nil {
		return nil, fmt.Errorf("ticket picker: %w", err)
	}
	return m.(picker).Chosen(), nil
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := loadEnv(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = e.logger.Sync() }()

	projects := listProjects
	if len(projects) == 0 {
		projects = e.cfg.Jira.ProjectKeys
	}
	issues, err := e.tracker.SearchIssues(ctx, autopilot.ActiveJQL(projects), listLimit)
	if err != nil {
		return fmt.Errorf("search tickets: %w", err)
	}
	autopilot.SortByPriority(issues)

	w := cmd.OutOrStdout()
	if len(issues) == 0 {
		fmt.Fprintln(w, "No active tickets.")
		return nil
	}

	chosen := issues
	if listSelectAll {
		printIssues(w, issues)
	} else if chosen, err = pickTickets(cmd, issues); err != nil {
		return err
	}
	if len(chosen) == 0 {
		fmt.Fprintln(w, "Nothing selected.")
		return nil
	}

	var failed int
	for _, issue := range chosen {
		if err := runTicket(ctx, cmd, e, issue.Key); err != nil {
			failed++
			if !errors.Is(err, errPassFailed) {
				fmt.Fprintf(w, "%s: error: %v\n", issue.Key, err)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d passes failed", failed, len(chosen))
	}
	return nil
}

// runTicket resolves a ticket's payload from its description and runs it.
func runTicket(ctx context.Context, cmd *cobra.Command, e *env, key string) error {
	issue, err := e.tracker.GetIssue(ctx, key)
	if err != nil {
		return fmt.Errorf("fetch ticket: %w", err)
	}
	p, err := e.resolver.Resolve(ctx, issue.Key, issue.Description)
	if err != nil {
		return err
	}
	p.Source = "cli"
	if err := p.Validate(); err != nil {
		return err
	}
	return printResult(cmd, key, e.executor.Run(ctx, p))
}

func printIssues(w io.Writer, issues []jira.Issue) {
	fmt.Fprintf(w, "%-10s %-8s %-14s %s\n", "KEY", "PRIORITY", "STATUS", "SUMMARY")
	for _, issue := range issues {
		fmt.Fprintf(w, "%-10s %-8s %-14s %s\n",
			issue.Key,
			monitor.Truncate(issue.Priority, 8),
			monitor.Truncate(issue.Status, 14),
			monitor.Truncate(issue.Summary, 60))
	}
}
