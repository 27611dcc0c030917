package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes environment variables that map onto config keys.
	EnvPrefix = "PIPELINED_"
)

// LoadWithFile loads configuration from a YAML file and the environment.
//
// Configuration precedence (highest to lowest):
//  1. PIPELINED_* variables (PIPELINED_GITHUB_ORG -> github.org)
//  2. Deployment variables (GITHUB_TOKEN, JIRA_BASE_URL, DEFAULT_REPO_KAN, ...)
//  3. YAML config file (~/.config/pipelined/config.yaml)
//  4. Hardcoded defaults
//
// The file must live under ~/.config/pipelined/ or /etc/pipelined/, have
// 0600 or 0400 permissions and be at most 1MB. A missing file is not an error.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "pipelined", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}
	if err := loadFile(k, configPath); err != nil {
		return nil, err
	}

	if err := k.Load(env.ProviderWithValue("", ".", deploymentEnvKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load deployment environment: %w", err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", prefixedEnvKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	normalize(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Validate via the open descriptor to avoid a TOCTOU race.
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return nil
}

// prefixedEnvKey maps PIPELINED_SECTION_FIELD_NAME to section.field_name.
func prefixedEnvKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

var deploymentEnv = map[string]string{
	"PORT":              "server.port",
	"GITHUB_TOKEN":      "github.token",
	"GITHUB_ORG":        "github.org",
	"GITHUB_API_URL":    "github.base_url",
	"COPILOT_USERNAME":  "github.automation_user",
	"JIRA_BASE_URL":     "jira.base_url",
	"JIRA_USER_EMAIL":   "jira.email",
	"JIRA_API_TOKEN":    "jira.api_token",
	"JIRA_PROJECT_KEYS": "jira.project_keys",
	"JIRA_KEY_PATTERN":  "jira.key_pattern",
	"POST_PR_STATUS":    "jira.post_pr_status",
	"DEFAULT_REPO":      "repos.default",
	"LOG_LEVEL":         "logging.level",
	"ALLOWED_REPOS":     "mcp.allowed_repos",
}

var deploymentSeconds = map[string]string{
	"AUTOPILOT_INTERVAL_SECONDS": "autopilot.interval",
	"CI_CHECK_INTERVAL_SECONDS":  "supervisor.build_interval",
}

// deploymentEnvKey maps the bare variable names used by existing deployments.
// Unknown variables map to the empty key, which koanf skips.
func deploymentEnvKey(name, value string) (string, interface{}) {
	if key, ok := deploymentEnv[name]; ok {
		return key, value
	}
	if key, ok := deploymentSeconds[name]; ok {
		secs, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || secs <= 0 {
			return "", nil
		}
		return key, strconv.Itoa(secs) + "s"
	}
	if project, ok := strings.CutPrefix(name, "DEFAULT_REPO_"); ok && project != "" {
		return "repos.by_project." + strings.ToUpper(project), value
	}
	if project, ok := strings.CutPrefix(name, "POST_PR_STATUS_"); ok && project != "" {
		return "jira.post_pr_status_by_project." + strings.ToUpper(project), value
	}
	return "", nil
}

// normalize upper-cases project keys so lookups are case-insensitive.
func normalize(cfg *Config) {
	cfg.Repos.ByProject = upperKeys(cfg.Repos.ByProject)
	cfg.Jira.PostPRStatusByProject = upperKeys(cfg.Jira.PostPRStatusByProject)
	for i, key := range cfg.Jira.ProjectKeys {
		cfg.Jira.ProjectKeys[i] = strings.ToUpper(strings.TrimSpace(key))
	}
	cfg.Jira.BaseURL = strings.TrimRight(cfg.Jira.BaseURL, "/")
}

func upperKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out[strings.ToUpper(k)] = v
		}
	}
	return out
}

// validateConfigPath checks the path is in an allowed directory.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	for _, dir := range []string{
		filepath.Join(home, ".config", "pipelined"),
		"/etc/pipelined",
	} {
		if resolvedPath == dir || strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/pipelined/ or /etc/pipelined/")
}

func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
