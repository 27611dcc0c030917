package codehost

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/pipelined/internal/apierr"
	"github.com/google/go-github/v57/github"
)

func toPullRequest(pr *github.PullRequest) *PullRequest {
	return &PullRequest{
		Number:  pr.GetNumber(),
		NodeID:  pr.GetNodeID(),
		Title:   pr.GetTitle(),
		Body:    pr.GetBody(),
		URL:     pr.GetHTMLURL(),
		State:   pr.GetState(),
		Draft:   pr.GetDraft(),
		Merged:  pr.GetMerged() || !pr.GetMergedAt().IsZero(),
		HeadRef: pr.GetHead().GetRef(),
		HeadSHA: pr.GetHead().GetSHA(),
		BaseRef: pr.GetBase().GetRef(),
		Author:  pr.GetUser().GetLogin(),
	}
}

// ListPullRequests lists pull requests matching filter, following pagination.
func (c *Client) ListPullRequests(ctx context.Context, repo Repo, filter PRFilter) ([]*PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       filter.State,
		Base:        filter.Base,
		ListOptions: github.ListOptions{PerPage: 100},
	}
	if opts.State == "" {
		opts.State = "open"
	}
	if filter.Head != "" {
		opts.Head = repo.Owner + ":" + filter.Head
	}

	var out []*PullRequest
	for {
		var prs []*github.PullRequest
		var resp *github.Response
		err := c.call(ctx, "github.list_pulls", func(ctx context.Context) (*github.Response, error) {
			var err error
			prs, resp, err = c.gh.PullRequests.List(ctx, repo.Owner, repo.Name, opts)
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, pr := range prs {
			out = append(out, toPullRequest(pr))
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// GetPullRequest reads one pull request, including its merged flag.
func (c *Client) GetPullRequest(ctx context.Context, repo Repo, number int) (*PullRequest, error) {
	var pr *github.PullRequest
	err := c.call(ctx, "github.get_pull", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		pr, resp, err = c.gh.PullRequests.Get(ctx, repo.Owner, repo.Name, number)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return toPullRequest(pr), nil
}

// NewPullRequest describes a pull request to open.
type NewPullRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
}

// CreatePullRequest opens a pull request.
func (c *Client) CreatePullRequest(ctx context.Context, repo Repo, req NewPullRequest) (*PullRequest, error) {
	var pr *github.PullRequest
	err := c.call(ctx, "github.create_pull", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		pr, resp, err = c.gh.PullRequests.Create(ctx, repo.Owner, repo.Name, &github.NewPullRequest{
			Title: github.String(req.Title),
			Body:  github.String(req.Body),
			Head:  github.String(req.Head),
			Base:  github.String(req.Base),
		})
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return toPullRequest(pr), nil
}

// ApprovePullRequest submits an APPROVE review.
func (c *Client) ApprovePullRequest(ctx context.Context, repo Repo, number int, body string) error {
	return c.call(ctx, "github.approve_pull", func(ctx context.Context) (*github.Response, error) {
		_, resp, err := c.gh.PullRequests.CreateReview(ctx, repo.Owner, repo.Name, number, &github.PullRequestReviewRequest{
			Body:  github.String(body),
			Event: github.String("APPROVE"),
		})
		return resp, err
	})
}

// MergePullRequest merges immediately with method (merge, squash, rebase).
// A merge the platform declines is a Conflict error.
func (c *Client) MergePullRequest(ctx context.Context, repo Repo, number int, method string) error {
	var result *github.PullRequestMergeResult
	err := c.call(ctx, "github.merge_pull", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		result, resp, err = c.gh.PullRequests.Merge(ctx, repo.Owner, repo.Name, number, "",
			&github.PullRequestOptions{MergeMethod: method})
		return resp, err
	})
	if err != nil {
		return err
	}
	if !result.GetMerged() {
		return apierr.New(apierr.Conflict, "github.merge_pull", errors.New(result.GetMessage()))
	}
	return nil
}

// MarkReadyForReview clears the draft flag. REST cannot toggle draft, so this
// goes through GraphQL using the pull request's node ID.
func (c *Client) MarkReadyForReview(ctx context.Context, nodeID string) error {
	const mutation = `mutation($id: ID!) {
  markPullRequestReadyForReview(input: {pullRequestId: $id}) { pullRequest { isDraft } }
}`
	return c.graphql(ctx, "github.mark_ready", mutation, map[string]interface{}{"id": nodeID})
}

// EnableAutoMerge turns on platform-native auto-merge. Repositories without
// auto-merge enabled reject this; callers fall back to MergePullRequest.
func (c *Client) EnableAutoMerge(ctx context.Context, nodeID, method string) error {
	const mutation = `mutation($id: ID!, $method: PullRequestMergeMethod!) {
  enablePullRequestAutoMerge(input: {pullRequestId: $id, mergeMethod: $method}) { pullRequest { number } }
}`
	return c.graphql(ctx, "github.enable_auto_merge", mutation, map[string]interface{}{
		"id":     nodeID,
		"method": strings.ToUpper(method),
	})
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphQLResponse struct {
	Errors []struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"errors"`
}

// graphql posts a query to the GraphQL endpoint next to the REST base URL.
func (c *Client) graphql(ctx context.Context, op, query string, vars map[string]interface{}) error {
	if vars["id"] == "" {
		return apierr.New(apierr.Unknown, op, errors.New("pull request node ID is empty"))
	}
	return c.call(ctx, op, func(ctx context.Context) (*github.Response, error) {
		req, err := c.gh.NewRequest("POST", "../graphql", &graphQLRequest{Query: query, Variables: vars})
		if err != nil {
			return nil, err
		}
		var out graphQLResponse
		resp, err := c.gh.Do(ctx, req, &out)
		if err != nil {
			return resp, err
		}
		if len(out.Errors) > 0 {
			return nil, graphQLError(op, out.Errors[0].Type, out.Errors[0].Message)
		}
		return resp, nil
	})
}

// graphQLError classifies errors GraphQL reports inside a 200 response.
func graphQLError(op, typ, msg string) error {
	kind := apierr.Unknown
	switch typ {
	case "NOT_FOUND":
		kind = apierr.NotFound
	case "FORBIDDEN":
		kind = apierr.Unauthorized
	case "RATE_LIMITED":
		kind = apierr.Transient
	}
	return apierr.New(kind, op, fmt.Errorf("graphql: %s", msg))
}
