package codehosttest

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/pipelined/internal/codehost"
)

// Comments returns every comment posted, oldest first.
func (f *Fake) Comments() []Comment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Comment(nil), f.comments...)
}

// Issues returns the issues opened in a repository.
func (f *Fake) Issues(full string) []codehost.NewIssue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]codehost.NewIssue(nil), f.issues[full]...)
}

// CreateComment implements the client method.
func (f *Fake) CreateComment(_ context.Context, r codehost.Repo, number int, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateComment"); err != nil {
		return "", err
	}
	f.comments = append(f.comments, Comment{Repo: r.String(), Number: number, Body: body})
	return fmt.Sprintf("https://github.com/%s/pull/%d#issuecomment-%d", r, number, len(f.comments)), nil
}

// CreateIssue implements the client method.
func (f *Fake) CreateIssue(_ context.Context, r codehost.Repo, req codehost.NewIssue) (*codehost.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateIssue"); err != nil {
		return nil, err
	}
	f.seq++
	f.issues[r.String()] = append(f.issues[r.String()], req)
	return &codehost.Issue{Number: f.seq, URL: fmt.Sprintf("https://github.com/%s/issues/%d", r, f.seq)}, nil
}

// AddAssignees implements the client method.
func (f *Fake) AddAssignees(_ context.Context, r codehost.Repo, number int, assignees []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddAssignees"); err != nil {
		return err
	}
	key := fmt.Sprintf("%s#%d", r, number)
	f.assigned[key] = append(f.assigned[key], assignees...)
	return nil
}

// AddLabels implements the client method.
func (f *Fake) AddLabels(_ context.Context, r codehost.Repo, number int, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddLabels"); err != nil {
		return err
	}
	key := fmt.Sprintf("%s#%d", r, number)
	f.labels[key] = append(f.labels[key], labels...)
	return nil
}
