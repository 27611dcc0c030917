// Package jiratest provides an in-memory Jira for tests. Its workflow lets
// any status move to any other known status unless a test restricts it.
package jiratest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/pipelined/internal/apierr"
	"github.com/fyrsmithlabs/pipelined/internal/jira"
)

// Comment is a recorded work-item comment.
type Comment struct {
	Key  string
	Text string
	Link *jira.Link
}

// Move is a recorded status transition.
type Move struct {
	Key  string
	From string
	To   string
}

// Fake implements the jira.Client methods the engine calls.
type Fake struct {
	mu sync.Mutex

	issues   map[string]*jira.Issue
	statuses []string
	workflow map[string][]string
	comments []Comment
	moves    []Move
	queries  []string
	failures map[string]error
	calls    map[string]int

	// BeforeTransition runs without the lock held, letting a test move the
	// issue between the caller's lookup and its transition.
	BeforeTransition func(key string)
}

// New returns a Jira with the usual To Do / In Progress / In Review / Done
// statuses.
func New() *Fake {
	return &Fake{
		issues:   make(map[string]*jira.Issue),
		statuses: []string{"To Do", "In Progress", "In Review", "Done"},
		workflow: make(map[string][]string),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// AddIssue stores an issue. Status defaults to "To Do".
func (f *Fake) AddIssue(issue jira.Issue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if issue.Status == "" {
		issue.Status = "To Do"
	}
	issue.URL = f.browse(issue.Key)
	f.issues[issue.Key] = &issue
}

// SetWorkflow restricts the statuses reachable from status.
func (f *Fake) SetWorkflow(from string, to ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workflow[from] = to
}

// SetStatus moves an issue directly, as a human would.
func (f *Fake) SetStatus(key, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if issue, ok := f.issues[key]; ok {
		issue.Status = status
	}
}

// Status returns the current status of an issue.
func (f *Fake) Status(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if issue, ok := f.issues[key]; ok {
		return issue.Status
	}
	return ""
}

// Fail makes every call to op (a method name) return err. A nil err clears it.
func (f *Fake) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Comments returns the comments posted on key, oldest first.
func (f *Fake) Comments(key string) []Comment {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Comment
	for _, c := range f.comments {
		if c.Key == key {
			out = append(out, c)
		}
	}
	return out
}

// Moves returns every successful transition, oldest first.
func (f *Fake) Moves() []Move {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Move(nil), f.moves...)
}

// Queries returns the JQL strings searched so far.
func (f *Fake) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func (f *Fake) enter(op string) error {
	f.calls[op]++
	return f.failures[op]
}

func (f *Fake) browse(key string) string {
	return "https://acme.atlassian.net/browse/" + key
}

// BrowseURL implements the client method.
func (f *Fake) BrowseURL(key string) string { return f.browse(key) }

// GetIssue implements the client method.
func (f *Fake) GetIssue(_ context.Context, key string) (*jira.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetIssue"); err != nil {
		return nil, err
	}
	issue, ok := f.issues[key]
	if !ok {
		return nil, apierr.FromStatus("jira.get_issue", 404, fmt.Errorf("issue %s does not exist", key))
	}
	cp := *issue
	return &cp, nil
}

var (
	statusClause  = regexp.MustCompile(`status\s*=\s*"([^"]+)"`)
	projectClause = regexp.MustCompile(`project\s+in\s+\(([^)]*)\)`)
)

// SearchIssues implements the client method. It understands the
// `project in (...)`, `status = "..."` and `statusCategory != Done` clauses
// and orders by creation.
func (f *Fake) SearchIssues(_ context.Context, jql string, maxResults int) ([]jira.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, jql)
	if err := f.enter("SearchIssues"); err != nil {
		return nil, err
	}

	var status string
	if m := statusClause.FindStringSubmatch(jql); m != nil {
		status = m[1]
	}
	projects := map[string]bool{}
	if m := projectClause.FindStringSubmatch(jql); m != nil {
		for _, p := range strings.Split(m[1], ",") {
			projects[strings.ToUpper(strings.Trim(strings.TrimSpace(p), `"`))] = true
		}
	}

	activeOnly := strings.Contains(jql, "statusCategory != Done")

	var out []jira.Issue
	for _, issue := range f.issues {
		if status != "" && !strings.EqualFold(issue.Status, status) {
			continue
		}
		if activeOnly && strings.EqualFold(issue.Status, "Done") {
			continue
		}
		if len(projects) > 0 && !projects[issue.Project()] {
			continue
		}
		out = append(out, *issue)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].Key < out[j].Key
	})
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

func (f *Fake) available(status string) []string {
	if to, ok := f.workflow[status]; ok {
		return to
	}
	var out []string
	for _, s := range f.statuses {
		if s != status {
			out = append(out, s)
		}
	}
	return out
}

// ListTransitions implements the client method.
func (f *Fake) ListTransitions(_ context.Context, key string) ([]jira.Transition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListTransitions"); err != nil {
		return nil, err
	}
	issue, ok := f.issues[key]
	if !ok {
		return nil, apierr.FromStatus("jira.list_transitions", 404, fmt.Errorf("issue %s does not exist", key))
	}
	var out []jira.Transition
	for i, to := range f.available(issue.Status) {
		out = append(out, jira.Transition{ID: fmt.Sprint(i + 11), Name: to, To: to})
	}
	return out, nil
}

// Transition implements the client method with the same matching and
// failure semantics as the real client.
func (f *Fake) Transition(_ context.Context, key, target string) error {
	if hook := f.BeforeTransition; hook != nil {
		hook(key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Transition"); err != nil {
		return err
	}
	issue, ok := f.issues[key]
	if !ok {
		return apierr.FromStatus("jira.transition", 404, fmt.Errorf("issue %s does not exist", key))
	}
	for _, to := range f.available(issue.Status) {
		if strings.EqualFold(to, target) {
			f.moves = append(f.moves, Move{Key: key, From: issue.Status, To: to})
			issue.Status = to
			return nil
		}
	}
	return apierr.New(apierr.Conflict, "jira.transition",
		fmt.Errorf("%w: %q for %s", jira.ErrTransitionUnavailable, target, key))
}

// AddComment implements the client method.
func (f *Fake) AddComment(_ context.Context, key, text string, link *jira.Link) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddComment"); err != nil {
		return err
	}
	if _, ok := f.issues[key]; !ok {
		return apierr.FromStatus("jira.add_comment", 404, errors.New("issue does not exist"))
	}
	f.comments = append(f.comments, Comment{Key: key, Text: text, Link: link})
	return nil
}
