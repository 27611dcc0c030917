package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fyrsmithlabs/pipelined/internal/mcp"
	"github.com/spf13/cobra"
)

var mcpAllow []string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve local workspace tools over MCP",
	Long: `mcp exposes setup_pages and agent_tests to editor agents over the Model
Context Protocol. Both act only on checkouts listed in ALLOWED_REPOS
(mcp.allowed_repos); with no allowlist every call is denied.`,
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdin/stdout",
	Args:  cobra.NoArgs,
	RunE:  runMCPServe,
}

var mcpConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the editor settings that launch the MCP server",
	Args:  cobra.NoArgs,
	RunE:  runMCPConfig,
}

func init() {
	mcpConfigCmd.Flags().StringSliceVar(&mcpAllow, "allow", nil, "checkout roots to allow (default: the configured allowlist)")
	mcpCmd.AddCommand(mcpServeCmd)
	mcpCmd.AddCommand(mcpConfigCmd)
}

// serveMCP blocks serving srv. Tests replace it.
var serveMCP = func(ctx context.Context, srv *mcp.Server) error {
	return srv.Run(ctx)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newCLILogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	srvCfg := mcp.ConfigFrom(cfg, version)
	srvCfg.Logger = logger
	srv, err := mcp.NewServer(srvCfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serveMCP(ctx, srv)
}

func runMCPConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	allowed := mcpAllow
	if len(allowed) == 0 {
		allowed = cfg.MCP.AllowedRepos
	}
	exe, err := os.Executable()
	if err != nil {
		exe = "pipelinectl"
	}

	out, err := json.MarshalIndent(mcp.NewClientConfig(exe, configPath, allowed), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
