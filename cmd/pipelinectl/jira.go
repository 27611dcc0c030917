package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// transitionsCmd lists the transitions available on a ticket
var transitionsCmd = &cobra.Command{
	Use:   "transitions <issueKey>",
	Short: "List the transitions available from a ticket's current status",
	Args:  cobra.ExactArgs(1),
	RunE:  runTransitions,
}

// transitionCmd moves a ticket
var transitionCmd = &cobra.Command{
	Use:   "transition <issueKey> <status>",
	Short: "Move a ticket to another status",
	Long: `Move a ticket by transition name or destination status. Matching is
case-insensitive.

Examples:
  pipelinectl transition KAN-7 "In Progress"
  pipelinectl transition KAN-7 done`,
	Args: cobra.ExactArgs(2),
	RunE: runTransition,
}

func runTransitions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := loadEnv(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = e.logger.Sync() }()

	transitions, err := e.tracker.ListTransitions(ctx, args[0])
	if err != nil {
		return fmt.Errorf("list transitions: %w", err)
	}

	w := cmd.OutOrStdout()
	if len(transitions) == 0 {
		fmt.Fprintf(w, "%s has no available transitions.\n", args[0])
		return nil
	}
	fmt.Fprintf(w, "%-6s %-24s %s\n", "ID", "NAME", "TO")
	for _, t := range transitions {
		fmt.Fprintf(w, "%-6s %-24s %s\n", t.ID, t.Name, t.To)
	}
	return nil
}

func runTransition(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := loadEnv(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = e.logger.Sync() }()

	if err := e.tracker.Transition(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s moved to %s\n", args[0], args[1])
	return nil
}
