// Package config provides configuration loading for pipelined.
//
// Values come from hardcoded defaults, an optional YAML file, the bare
// environment variable names used by existing deployments (GITHUB_TOKEN,
// JIRA_BASE_URL, DEFAULT_REPO_<PROJECT>, ...) and finally PIPELINED_*
// variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// AllProjects is the project scope value that polls every project.
const AllProjects = "ALL"

// Config holds the complete pipelined configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	GitHub     GitHubConfig     `koanf:"github"`
	Jira       JiraConfig       `koanf:"jira"`
	Repos      ReposConfig      `koanf:"repos"`
	Executor   ExecutorConfig   `koanf:"executor"`
	Autopilot  AutopilotConfig  `koanf:"autopilot"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
	Reconciler ReconcilerConfig `koanf:"reconciler"`
	Journal    JournalConfig    `koanf:"journal"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	MCP        MCPConfig        `koanf:"mcp"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	RateLimit       float64  `koanf:"rate_limit"`
	RateBurst       int      `koanf:"rate_burst"`
	BodyLimit       string   `koanf:"body_limit"`
}

// GitHubConfig configures the code-hosting client.
type GitHubConfig struct {
	Token          Secret   `koanf:"token"`
	BaseURL        string   `koanf:"base_url"`
	Org            string   `koanf:"org"`
	AutomationUser string   `koanf:"automation_user"`
	BranchPrefix   string   `koanf:"branch_prefix"`
	Labels         List     `koanf:"labels"`
	MergeMethod    string   `koanf:"merge_method"`
	RequestTimeout Duration `koanf:"request_timeout"`
}

// JiraConfig configures the work-tracking client and the status lifecycle.
type JiraConfig struct {
	BaseURL               string            `koanf:"base_url"`
	Email                 string            `koanf:"email"`
	APIToken              Secret            `koanf:"api_token"`
	ProjectKeys           List              `koanf:"project_keys"`
	KeyPattern            string            `koanf:"key_pattern"`
	InitialStatus         string            `koanf:"initial_status"`
	LockStatus            string            `koanf:"lock_status"`
	PostPRStatus          string            `koanf:"post_pr_status"`
	PostPRStatusByProject map[string]string `koanf:"post_pr_status_by_project"`
	DoneStatus            string            `koanf:"done_status"`
	TerminalKeywords      List              `koanf:"terminal_keywords"`
	RequestTimeout        Duration          `koanf:"request_timeout"`
	RateLimit             float64           `koanf:"rate_limit"`
}

// ReposConfig maps projects to target repositories ("owner/name").
type ReposConfig struct {
	Default   string            `koanf:"default"`
	ByProject map[string]string `koanf:"by_project"`
}

// ExecutorConfig bounds a single reconciliation pass.
type ExecutorConfig struct {
	PassTimeout  Duration `koanf:"pass_timeout"`
	DeployTarget string   `koanf:"deploy_target"`
}

// AutopilotConfig configures the ticket poller.
type AutopilotConfig struct {
	Enabled    bool     `koanf:"enabled"`
	Interval   Duration `koanf:"interval"`
	MaxResults int      `koanf:"max_results"`
}

// SupervisorConfig configures the CI monitor and watchdog loops.
type SupervisorConfig struct {
	Enabled          bool     `koanf:"enabled"`
	BuildInterval    Duration `koanf:"build_interval"`
	WatchdogInterval Duration `koanf:"watchdog_interval"`
}

// ReconcilerConfig configures the startup reconciliation pass.
type ReconcilerConfig struct {
	Enabled      bool     `koanf:"enabled"`
	StartupDelay Duration `koanf:"startup_delay"`
}

// JournalConfig bounds the in-memory status journal.
type JournalConfig struct {
	Capacity int `koanf:"capacity"`
}

// LoggingConfig selects the log level and encoder.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// MCPConfig configures the local tool server. An empty allowlist denies
// every path.
type MCPConfig struct {
	AllowedRepos List     `koanf:"allowed_repos"`
	ToolTimeout  Duration `koanf:"tool_timeout"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ShutdownTimeout: Duration(10 * time.Second),
			RateLimit:       1,
			RateBurst:       10,
			BodyLimit:       "1M",
		},
		GitHub: GitHubConfig{
			AutomationUser: "copilot",
			BranchPrefix:   "feature/copilot-",
			Labels:         List{"automation", "ci-cd"},
			MergeMethod:    "squash",
			RequestTimeout: Duration(30 * time.Second),
		},
		Jira: JiraConfig{
			ProjectKeys:           List{"KAN"},
			KeyPattern:            `\b([A-Z]{2,10}-\d+)\b`,
			InitialStatus:         "To Do",
			LockStatus:            "In Progress",
			PostPRStatus:          "In Progress",
			PostPRStatusByProject: map[string]string{},
			DoneStatus:            "Done",
			TerminalKeywords:      List{"done", "closed", "resolved", "cancel", "rejected"},
			RequestTimeout:        Duration(30 * time.Second),
			RateLimit:             5,
		},
		Repos: ReposConfig{
			ByProject: map[string]string{},
		},
		Executor: ExecutorConfig{
			PassTimeout:  Duration(5 * time.Minute),
			DeployTarget: "github-pages",
		},
		Autopilot: AutopilotConfig{
			Enabled:    true,
			Interval:   Duration(60 * time.Second),
			MaxResults: 100,
		},
		Supervisor: SupervisorConfig{
			Enabled:          true,
			BuildInterval:    Duration(30 * time.Second),
			WatchdogInterval: Duration(30 * time.Second),
		},
		Reconciler: ReconcilerConfig{
			Enabled:      true,
			StartupDelay: Duration(5 * time.Second),
		},
		Journal: JournalConfig{
			Capacity: 200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			ServiceName: "pipelined",
			SampleRate:  1.0,
		},
		MCP: MCPConfig{
			ToolTimeout: Duration(10 * time.Minute),
		},
	}
}

var repoPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// Validate checks ranges and formats. Missing credentials are not an error
// here; the client constructors report them when a client is built.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst <= 0 {
		errs = append(errs, errors.New("server.rate_limit and server.rate_burst must be positive"))
	}

	switch c.GitHub.MergeMethod {
	case "merge", "squash", "rebase":
	default:
		errs = append(errs, fmt.Errorf("github.merge_method must be merge, squash or rebase, got %q", c.GitHub.MergeMethod))
	}
	if c.GitHub.AutomationUser == "" {
		errs = append(errs, errors.New("github.automation_user is required"))
	}
	if c.GitHub.BranchPrefix == "" {
		errs = append(errs, errors.New("github.branch_prefix is required"))
	}

	if len(c.Jira.ProjectKeys) == 0 {
		errs = append(errs, errors.New("jira.project_keys must not be empty"))
	}
	if re, err := regexp.Compile(c.Jira.KeyPattern); err != nil {
		errs = append(errs, fmt.Errorf("jira.key_pattern: %w", err))
	} else if re.NumSubexp() < 1 {
		errs = append(errs, errors.New("jira.key_pattern must contain a capture group"))
	}
	for name, v := range map[string]string{
		"jira.initial_status": c.Jira.InitialStatus,
		"jira.lock_status":    c.Jira.LockStatus,
		"jira.done_status":    c.Jira.DoneStatus,
	} {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	if c.Repos.Default != "" && !repoPattern.MatchString(c.Repos.Default) {
		errs = append(errs, fmt.Errorf("repos.default must be owner/name, got %q", c.Repos.Default))
	}
	for project, repo := range c.Repos.ByProject {
		if !repoPattern.MatchString(repo) {
			errs = append(errs, fmt.Errorf("repos.by_project.%s must be owner/name, got %q", project, repo))
		}
	}

	for name, d := range map[string]Duration{
		"autopilot.interval":           c.Autopilot.Interval,
		"supervisor.build_interval":    c.Supervisor.BuildInterval,
		"supervisor.watchdog_interval": c.Supervisor.WatchdogInterval,
		"github.request_timeout":       c.GitHub.RequestTimeout,
		"jira.request_timeout":         c.Jira.RequestTimeout,
		"executor.pass_timeout":        c.Executor.PassTimeout,
		"mcp.tool_timeout":             c.MCP.ToolTimeout,
	} {
		if d.Duration() <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", name))
		}
	}
	if c.Autopilot.MaxResults <= 0 {
		errs = append(errs, errors.New("autopilot.max_results must be > 0"))
	}
	if c.Journal.Capacity <= 0 {
		errs = append(errs, errors.New("journal.capacity must be > 0"))
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}
	switch c.Telemetry.Protocol {
	case "grpc", "http/protobuf":
	default:
		errs = append(errs, fmt.Errorf("telemetry.protocol must be grpc or http/protobuf, got %q", c.Telemetry.Protocol))
	}

	return errors.Join(errs...)
}

// RepoFor returns the default repository for a project key, falling back to
// the global default. The empty string means no default is configured.
func (r ReposConfig) RepoFor(project string) string {
	if repo := r.ByProject[strings.ToUpper(project)]; repo != "" {
		return repo
	}
	return r.Default
}

// PostPRStatusFor returns the status a ticket moves to once its PR is open.
func (j JiraConfig) PostPRStatusFor(project string) string {
	if status := j.PostPRStatusByProject[strings.ToUpper(project)]; status != "" {
		return status
	}
	return j.PostPRStatus
}

// AllProjects reports whether polling covers every project.
func (j JiraConfig) AllProjects() bool {
	return j.ProjectKeys.Contains(AllProjects)
}

// IsTerminal reports whether a status name matches a terminal keyword.
func (j JiraConfig) IsTerminal(status string) bool {
	lower := strings.ToLower(status)
	for _, kw := range j.TerminalKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
