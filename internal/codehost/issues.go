package codehost

import (
	"context"

	"github.com/google/go-github/v57/github"
)

// CreateComment comments on an issue or pull request and returns the comment URL.
func (c *Client) CreateComment(ctx context.Context, repo Repo, number int, body string) (string, error) {
	var comment *github.IssueComment
	err := c.call(ctx, "github.create_comment", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		comment, resp, err = c.gh.Issues.CreateComment(ctx, repo.Owner, repo.Name, number, &github.IssueComment{
			Body: github.String(body),
		})
		return resp, err
	})
	if err != nil {
		return "", err
	}
	return comment.GetHTMLURL(), nil
}

// NewIssue describes an issue to open.
type NewIssue struct {
	Title     string
	Body      string
	Assignees []string
	Labels    []string
}

// CreateIssue opens an issue.
func (c *Client) CreateIssue(ctx context.Context, repo Repo, req NewIssue) (*Issue, error) {
	ir := &github.IssueRequest{
		Title: github.String(req.Title),
		Body:  github.String(req.Body),
	}
	if len(req.Assignees) > 0 {
		ir.Assignees = &req.Assignees
	}
	if len(req.Labels) > 0 {
		ir.Labels = &req.Labels
	}

	var issue *github.Issue
	err := c.call(ctx, "github.create_issue", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		issue, resp, err = c.gh.Issues.Create(ctx, repo.Owner, repo.Name, ir)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return &Issue{Number: issue.GetNumber(), URL: issue.GetHTMLURL()}, nil
}

// AddAssignees assigns users to an issue or pull request.
func (c *Client) AddAssignees(ctx context.Context, repo Repo, number int, assignees []string) error {
	return c.call(ctx, "github.add_assignees", func(ctx context.Context) (*github.Response, error) {
		_, resp, err := c.gh.Issues.AddAssignees(ctx, repo.Owner, repo.Name, number, assignees)
		return resp, err
	})
}

// AddLabels applies labels to an issue or pull request.
func (c *Client) AddLabels(ctx context.Context, repo Repo, number int, labels []string) error {
	return c.call(ctx, "github.add_labels", func(ctx context.Context) (*github.Response, error) {
		_, resp, err := c.gh.Issues.AddLabelsToIssue(ctx, repo.Owner, repo.Name, number, labels)
		return resp, err
	})
}
