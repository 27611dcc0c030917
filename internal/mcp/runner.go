package mcp

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// maxOutput caps the stdout and stderr kept per command. The tail is kept.
const maxOutput = 64 * 1024

// CommandResult is the outcome of one command.
type CommandResult struct {
	Command    string `json:"command" jsonschema:"the command line that ran"`
	Stdout     string `json:"stdout" jsonschema:"standard output, truncated to the last 64KiB"`
	Stderr     string `json:"stderr" jsonschema:"standard error, truncated to the last 64KiB"`
	ReturnCode int    `json:"returncode" jsonschema:"process exit code"`
}

// Runner runs a command in a directory. A non-zero exit is reported through
// ReturnCode; err is for commands that could not start.
type Runner interface {
	Run(ctx context.Context, dir string, argv []string) (CommandResult, error)
}

// ExecRunner runs commands as local processes.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, dir string, argv []string) (CommandResult, error) {
	res := CommandResult{Command: strings.Join(argv, " ")}
	if len(argv) == 0 {
		return res, errors.New("empty command")
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res.Stdout = tail(stdout.String())
	res.Stderr = tail(stderr.String())

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ReturnCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}

func tail(s string) string {
	if len(s) <= maxOutput {
		return s
	}
	return s[len(s)-maxOutput:]
}
