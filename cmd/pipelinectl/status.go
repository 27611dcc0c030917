package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	api "github.com/fyrsmithlabs/pipelined/internal/http"
	"github.com/fyrsmithlabs/pipelined/internal/monitor"
	"github.com/spf13/cobra"
)

var (
	statusJSON    bool
	watchInterval time.Duration
)

// statusCmd prints the daemon's status snapshot
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracked tickets and recent passes of a running daemon",
	Long: `Show the status snapshot of a running pipelined daemon.

Examples:
  pipelinectl status
  pipelinectl status --server http://ci-bot:8000 --json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

// watchCmd shows a live dashboard
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of a running daemon",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw snapshot as JSON")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "refresh interval")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	status, err := monitor.NewClient(serverURL).Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("cannot reach pipelined at %s: %w", serverURL, err)
	}

	w := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	printStatus(w, status, time.Now())
	return nil
}

func printStatus(w io.Writer, s api.StatusResponse, now time.Time) {
	autopilot := s.AutopilotState
	if autopilot == "" {
		autopilot = "off"
	}
	c := s.Counts
	fmt.Fprintf(w, "Status:    %s\n", s.Status)
	fmt.Fprintf(w, "Autopilot: %s\n", autopilot)
	fmt.Fprintf(w, "Tracked:   %d (%d resumed, %d failing, %d fixes merged)\n",
		c.Tracked, c.Reconciled, c.FailingChecks, c.SubPRsMerged)

	fmt.Fprintln(w)
	if len(s.Tracked) == 0 {
		fmt.Fprintln(w, "Nothing under supervision.")
	} else {
		fmt.Fprintf(w, "%-10s %-28s %-16s %s\n", "KEY", "REPOSITORY", "STAGE", "CHECKS")
		for _, t := range s.Tracked {
			summary, _ := monitor.SummarizeChecks(t.Checks)
			fmt.Fprintf(w, "%-10s %-28s %-16s %s\n",
				t.Key, monitor.Truncate(t.Repository, 28), monitor.Stage(t), summary)
		}
	}

	fmt.Fprintln(w)
	if len(s.Journal) == 0 {
		fmt.Fprintln(w, "No passes yet.")
		return
	}
	fmt.Fprintf(w, "%-10s %-10s %-8s %s\n", "AGE", "KEY", "STATUS", "MESSAGE")
	for _, e := range s.Journal {
		fmt.Fprintf(w, "%-10s %-10s %-8s %s\n",
			monitor.FormatAge(now.Sub(e.Time)), e.IssueKey, e.Status, monitor.Truncate(e.Message, 60))
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	m := monitor.NewModel(monitor.NewClient(serverURL), watchInterval)
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
	return err
}
