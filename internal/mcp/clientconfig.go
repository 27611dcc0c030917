package mcp

import "strings"

// ClientConfig is the editor settings block (VS Code "mcp" format) that
// launches the stdio server.
type ClientConfig struct {
	Servers map[string]ServerEntry `json:"servers"`
}

// ServerEntry launches one server.
type ServerEntry struct {
	Type    string            `json:"type"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
}

// NewClientConfig describes how to start "<command> mcp serve". The allowlist
// travels in ALLOWED_REPOS so the editor owns which checkouts are exposed.
func NewClientConfig(command, configPath string, allowed []string) ClientConfig {
	args := []string{"mcp", "serve"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	entry := ServerEntry{Type: "stdio", Command: command, Args: args}
	if len(allowed) > 0 {
		entry.Env = map[string]string{"ALLOWED_REPOS": strings.Join(allowed, ",")}
	}
	return ClientConfig{Servers: map[string]ServerEntry{"pipelined": entry}}
}
