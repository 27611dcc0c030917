// Package scaffold renders the CI workflow and Dockerfile committed to a
// target repository.
package scaffold

import (
	"regexp"
	"strings"
)

// Canonical language tags.
const (
	Python = "python"
	Node   = "node"
	DotNet = "dotnet"
	Java   = "java"
	Go     = "go"
)

// Deploy targets.
const (
	GitHubPages  = "github-pages"
	AzureWebApps = "azure-webapps"
)

var aliases = map[string]string{
	"python":     Python,
	"py":         Python,
	"node":       Node,
	"nodejs":     Node,
	"javascript": Node,
	"typescript": Node,
	"js":         Node,
	"ts":         Node,
	"dotnet":     DotNet,
	".net":       DotNet,
	"c#":         DotNet,
	"csharp":     DotNet,
	"java":       Java,
	"kotlin":     Java,
	"maven":      Java,
	"gradle":     Java,
	"go":         Go,
	"golang":     Go,
}

// NormalizeLanguage maps a language name or alias to a canonical tag.
// Unknown languages fall back to Python.
func NormalizeLanguage(lang string) string {
	if tag, ok := aliases[strings.ToLower(strings.TrimSpace(lang))]; ok {
		return tag
	}
	return Python
}

// IsKnownLanguage reports whether lang is a recognised name or alias.
func IsKnownLanguage(lang string) bool {
	_, ok := aliases[strings.ToLower(strings.TrimSpace(lang))]
	return ok
}

var angleToken = regexp.MustCompile(`<[A-Za-z_][A-Za-z0-9_ -]*>`)

// HasPlaceholder reports whether v still contains an unresolved template
// token such as "{build}" or "<test command>". Such values count as absent.
func HasPlaceholder(v string) bool {
	return strings.ContainsAny(v, "{}") || angleToken.MatchString(v)
}

// Resolve returns v unless it is blank or a placeholder, in which case it
// returns fallback.
func Resolve(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" || HasPlaceholder(v) {
		return fallback
	}
	return v
}

type toolchain struct {
	build, test string
	setup       []step
	baseImage   string
	install     []string
	cmd         []string
	port        int
}

var toolchains = map[string]toolchain{
	Python: {
		build: "echo 'No build necessary for Python'",
		test:  "pytest || echo 'No tests found'",
		setup: []step{
			{Name: "Setup Python", Uses: "actions/setup-python@v5", With: map[string]string{"python-version": "3.11"}},
			{Name: "Cache pip", Uses: "actions/cache@v4", With: map[string]string{
				"path":         "~/.cache/pip",
				"key":          "${{ runner.os }}-pip-${{ hashFiles('**/requirements.txt') }}",
				"restore-keys": "${{ runner.os }}-pip-",
			}},
			{Name: "Install dependencies", Run: "python -m pip install --upgrade pip\nif [ -f requirements.txt ]; then pip install -r requirements.txt; fi"},
		},
		baseImage: "python:3.11-slim",
		install:   []string{"if [ -f requirements.txt ]; then pip install --no-cache-dir -r requirements.txt; fi"},
		cmd:       []string{"python", "-m", "http.server", "8000"},
		port:      8000,
	},
	Node: {
		build: "npm run build --if-present",
		test:  "npm test || echo 'No tests found'",
		setup: []step{
			{Name: "Setup Node.js", Uses: "actions/setup-node@v4", With: map[string]string{"node-version": "20", "cache": "npm"}},
			{Name: "Install dependencies", Run: "npm ci || npm install"},
		},
		baseImage: "node:20-alpine",
		install:   []string{"npm ci || npm install"},
		cmd:       []string{"npm", "start"},
		port:      3000,
	},
	DotNet: {
		build: "dotnet build",
		test:  "dotnet test",
		setup: []step{
			{Name: "Setup .NET", Uses: "actions/setup-dotnet@v4", With: map[string]string{"dotnet-version": "8.0.x"}},
			{Name: "Restore dependencies", Run: "dotnet restore"},
		},
		baseImage: "mcr.microsoft.com/dotnet/sdk:8.0",
		install:   []string{"dotnet restore"},
		cmd:       []string{"dotnet", "run", "--no-build"},
		port:      8080,
	},
	Java: {
		build: "mvn package -DskipTests",
		test:  "mvn test",
		setup: []step{
			{Name: "Setup Java", Uses: "actions/setup-java@v4", With: map[string]string{"distribution": "temurin", "java-version": "17", "cache": "maven"}},
		},
		baseImage: "maven:3.9-eclipse-temurin-17",
		cmd:       []string{"sh", "-c", "java -jar target/*.jar"},
		port:      8080,
	},
	Go: {
		build: "go build ./...",
		test:  "go test ./...",
		setup: []step{
			{Name: "Setup Go", Uses: "actions/setup-go@v5", With: map[string]string{"go-version": "stable"}},
		},
		baseImage: "golang:1.23-alpine",
		install:   []string{"go mod download"},
		cmd:       []string{"sh", "-c", "go run ."},
		port:      8080,
	},
}

// DefaultCommands returns the build and test commands for a language tag.
func DefaultCommands(lang string) (build, test string) {
	tc := toolchains[NormalizeLanguage(lang)]
	return tc.build, tc.test
}
