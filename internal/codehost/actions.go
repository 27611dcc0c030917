package codehost

import (
	"context"

	"github.com/google/go-github/v57/github"
)

// LatestWorkflowRun returns the most recent run for branch, or nil, nil when
// no run exists. Runs for older commits are never preferred over a newer push.
func (c *Client) LatestWorkflowRun(ctx context.Context, repo Repo, branch string) (*WorkflowRun, error) {
	var runs *github.WorkflowRuns
	err := c.call(ctx, "github.list_runs", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		runs, resp, err = c.gh.Actions.ListRepositoryWorkflowRuns(ctx, repo.Owner, repo.Name, &github.ListWorkflowRunsOptions{
			Branch:      branch,
			ListOptions: github.ListOptions{PerPage: 1},
		})
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	if runs == nil || len(runs.WorkflowRuns) == 0 {
		return nil, nil
	}
	latest := runs.WorkflowRuns[0]
	return &WorkflowRun{
		ID:         latest.GetID(),
		Name:       latest.GetName(),
		Status:     latest.GetStatus(),
		Conclusion: latest.GetConclusion(),
		HeadSHA:    latest.GetHeadSHA(),
		URL:        latest.GetHTMLURL(),
		CreatedAt:  latest.GetCreatedAt().Time,
	}, nil
}

// ListJobs lists the jobs of a run's latest attempt.
func (c *Client) ListJobs(ctx context.Context, repo Repo, runID int64) ([]Job, error) {
	opts := &github.ListWorkflowJobsOptions{Filter: "latest", ListOptions: github.ListOptions{PerPage: 100}}
	var out []Job
	for {
		var jobs *github.Jobs
		var resp *github.Response
		err := c.call(ctx, "github.list_jobs", func(ctx context.Context) (*github.Response, error) {
			var err error
			jobs, resp, err = c.gh.Actions.ListWorkflowJobs(ctx, repo.Owner, repo.Name, runID, opts)
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, j := range jobs.Jobs {
			out = append(out, Job{
				Name:       j.GetName(),
				Status:     j.GetStatus(),
				Conclusion: j.GetConclusion(),
				URL:        j.GetHTMLURL(),
			})
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}
