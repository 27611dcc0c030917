// Package mcp serves local workspace tools to editor agents over the Model
// Context Protocol.
//
// Tools act on checkouts on the caller's machine and refuse any path outside
// the configured allowlist. With no allowlist every call is denied.
package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/pipelined/internal/config"
	"github.com/fyrsmithlabs/pipelined/internal/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// Config configures the server.
type Config struct {
	// Name is the implementation name reported to clients (default "pipelined").
	Name string
	// Version is the implementation version (default "dev").
	Version string
	// AllowedRepos lists the checkout roots tools may act on.
	AllowedRepos []string
	// ToolTimeout bounds a single tool call. Zero means no bound.
	ToolTimeout time.Duration
	// Runner runs test commands (default ExecRunner).
	Runner Runner
	Logger *logging.Logger
	// Metrics defaults to instruments on the global meter provider.
	Metrics *Metrics
}

// ConfigFrom maps application configuration onto server configuration.
func ConfigFrom(cfg *config.Config, version string) *Config {
	return &Config{
		Name:         "pipelined",
		Version:      version,
		AllowedRepos: cfg.MCP.AllowedRepos,
		ToolTimeout:  cfg.MCP.ToolTimeout.Duration(),
	}
}

// Server is an MCP server exposing setup_pages, agent_tests and tool_search.
type Server struct {
	mcp      *mcp.Server
	allow    *Allowlist
	runner   Runner
	timeout  time.Duration
	registry *ToolRegistry
	metrics  *Metrics
	logger   *logging.Logger
}

// NewServer creates a server with every tool registered.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	name, version := cfg.Name, cfg.Version
	if name == "" {
		name = "pipelined"
	}
	if version == "" {
		version = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	runner := cfg.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(logger)
	}

	s := &Server{
		mcp:      mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		allow:    NewAllowlist(cfg.AllowedRepos),
		runner:   runner,
		timeout:  cfg.ToolTimeout,
		registry: NewToolRegistry(),
		metrics:  metrics,
		logger:   logger.Named("mcp"),
	}
	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return s, nil
}

// Tools returns the registry of served tools.
func (s *Server) Tools() *ToolRegistry { return s.registry }

// Run serves on the stdio transport until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	if s.allow.Empty() {
		s.logger.Warn(ctx, "no allowed repositories configured, every tool call will be denied")
	}
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// invoke applies the tool timeout, then logs and records the outcome.
func (s *Server) invoke(ctx context.Context, tool string, fn func(context.Context) ToolResult) ToolResult {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	res := fn(ctx)
	s.metrics.Record(ctx, tool, res.Status, time.Since(start))

	fields := []zap.Field{zap.String("tool", tool), zap.String("status", res.Status), zap.String("path", res.Path)}
	switch res.Status {
	case StatusDenied:
		s.logger.Warn(ctx, "tool call denied", fields...)
	case StatusError:
		s.logger.Error(ctx, "tool call failed", append(fields, zap.String("details", res.Details))...)
	default:
		s.logger.Info(ctx, "tool call finished", fields...)
	}
	return res
}
