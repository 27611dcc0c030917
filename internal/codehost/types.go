package codehost

import (
	"fmt"
	"strings"
	"time"
)

// Repo addresses a repository as owner/name.
type Repo struct {
	Owner string
	Name  string
}

// ParseRepo parses "owner/name".
func ParseRepo(full string) (Repo, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(full), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repo{}, fmt.Errorf("repository must be owner/name, got %q", full)
	}
	return Repo{Owner: owner, Name: name}, nil
}

func (r Repo) String() string { return r.Owner + "/" + r.Name }

// Repository is the subset of repository metadata the engine reads.
type Repository struct {
	Repo          Repo
	DefaultBranch string
	Language      string
	HTMLURL       string
	Archived      bool
}

// Commit is a git commit object.
type Commit struct {
	SHA     string
	TreeSHA string
	HTMLURL string
}

// TreeEntry places a blob at a path.
type TreeEntry struct {
	Path    string
	BlobSHA string
}

// PullRequest is a read-through snapshot of a pull request.
type PullRequest struct {
	Number  int
	NodeID  string
	Title   string
	Body    string
	URL     string
	State   string
	Draft   bool
	Merged  bool
	HeadRef string
	HeadSHA string
	BaseRef string
	Author  string
}

// Issue is a created issue.
type Issue struct {
	Number int
	URL    string
}

// WorkflowRun is a CI run.
type WorkflowRun struct {
	ID         int64
	Name       string
	Status     string
	Conclusion string
	HeadSHA    string
	URL        string
	CreatedAt  time.Time
}

// Job is one job of a workflow run.
type Job struct {
	Name       string
	Status     string
	Conclusion string
	URL        string
}

// PRFilter narrows ListPullRequests. Head is a branch name in the same repo.
type PRFilter struct {
	State string // open, closed, all; default open
	Head  string
	Base  string
}
