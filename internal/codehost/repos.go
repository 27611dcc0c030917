package codehost

import (
	"context"

	"github.com/fyrsmithlabs/pipelined/internal/apierr"
	"github.com/google/go-github/v57/github"
)

// GetRepository reads repository metadata.
func (c *Client) GetRepository(ctx context.Context, repo Repo) (*Repository, error) {
	var r *github.Repository
	err := c.call(ctx, "github.get_repo", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		r, resp, err = c.gh.Repositories.Get(ctx, repo.Owner, repo.Name)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return toRepository(r), nil
}

func toRepository(r *github.Repository) *Repository {
	return &Repository{
		Repo:          Repo{Owner: r.GetOwner().GetLogin(), Name: r.GetName()},
		DefaultBranch: r.GetDefaultBranch(),
		Language:      r.GetLanguage(),
		HTMLURL:       r.GetHTMLURL(),
		Archived:      r.GetArchived(),
	}
}

// ListOwnerRepositories lists the repositories of an organization, falling
// back to a user account when owner is not an organization.
func (c *Client) ListOwnerRepositories(ctx context.Context, owner string) ([]*Repository, error) {
	repos, err := c.listOrgRepos(ctx, owner)
	if apierr.IsNotFound(err) {
		return c.listUserRepos(ctx, owner)
	}
	return repos, err
}

func (c *Client) listOrgRepos(ctx context.Context, org string) ([]*Repository, error) {
	opts := &github.RepositoryListByOrgOptions{Type: "all", ListOptions: github.ListOptions{PerPage: 100}}
	var out []*Repository
	for {
		var repos []*github.Repository
		var resp *github.Response
		err := c.call(ctx, "github.list_org_repos", func(ctx context.Context) (*github.Response, error) {
			var err error
			repos, resp, err = c.gh.Repositories.ListByOrg(ctx, org, opts)
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, r := range repos {
			out = append(out, toRepository(r))
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

func (c *Client) listUserRepos(ctx context.Context, user string) ([]*Repository, error) {
	opts := &github.RepositoryListOptions{Type: "owner", ListOptions: github.ListOptions{PerPage: 100}}
	var out []*Repository
	for {
		var repos []*github.Repository
		var resp *github.Response
		err := c.call(ctx, "github.list_user_repos", func(ctx context.Context) (*github.Response, error) {
			var err error
			repos, resp, err = c.gh.Repositories.List(ctx, user, opts)
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, r := range repos {
			out = append(out, toRepository(r))
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}
