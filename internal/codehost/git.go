package codehost

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/pipelined/internal/apierr"
	"github.com/google/go-github/v57/github"
)

func headsRef(branch string) string {
	return "refs/heads/" + strings.TrimPrefix(branch, "refs/heads/")
}

// GetBranchSHA returns the tip of a branch. A missing branch is a NotFound error.
func (c *Client) GetBranchSHA(ctx context.Context, repo Repo, branch string) (string, error) {
	var ref *github.Reference
	err := c.call(ctx, "github.get_ref", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		ref, resp, err = c.gh.Git.GetRef(ctx, repo.Owner, repo.Name, headsRef(branch))
		return resp, err
	})
	if err != nil {
		return "", err
	}
	return ref.GetObject().GetSHA(), nil
}

// CreateBranch creates a branch at sha. An existing branch is a Conflict error.
func (c *Client) CreateBranch(ctx context.Context, repo Repo, branch, sha string) error {
	return c.call(ctx, "github.create_ref", func(ctx context.Context) (*github.Response, error) {
		_, resp, err := c.gh.Git.CreateRef(ctx, repo.Owner, repo.Name, &github.Reference{
			Ref:    github.String(headsRef(branch)),
			Object: &github.GitObject{SHA: github.String(sha)},
		})
		return resp, err
	})
}

// UpdateBranch fast-forwards a branch to sha. A non-fast-forward update is
// rejected by the platform with a Conflict error.
func (c *Client) UpdateBranch(ctx context.Context, repo Repo, branch, sha string) error {
	return c.call(ctx, "github.update_ref", func(ctx context.Context) (*github.Response, error) {
		_, resp, err := c.gh.Git.UpdateRef(ctx, repo.Owner, repo.Name, &github.Reference{
			Ref:    github.String(headsRef(branch)),
			Object: &github.GitObject{SHA: github.String(sha)},
		}, false)
		return resp, err
	})
}

// GetCommit reads a commit object.
func (c *Client) GetCommit(ctx context.Context, repo Repo, sha string) (*Commit, error) {
	var commit *github.Commit
	err := c.call(ctx, "github.get_commit", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		commit, resp, err = c.gh.Git.GetCommit(ctx, repo.Owner, repo.Name, sha)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return &Commit{SHA: commit.GetSHA(), TreeSHA: commit.GetTree().GetSHA(), HTMLURL: commit.GetHTMLURL()}, nil
}

// CreateBlob stores file content and returns the blob SHA.
func (c *Client) CreateBlob(ctx context.Context, repo Repo, content string) (string, error) {
	var blob *github.Blob
	err := c.call(ctx, "github.create_blob", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		blob, resp, err = c.gh.Git.CreateBlob(ctx, repo.Owner, repo.Name, &github.Blob{
			Content:  github.String(content),
			Encoding: github.String("utf-8"),
		})
		return resp, err
	})
	if err != nil {
		return "", err
	}
	return blob.GetSHA(), nil
}

// CreateTree layers entries on baseTree and returns the new tree SHA.
func (c *Client) CreateTree(ctx context.Context, repo Repo, baseTree string, entries []TreeEntry) (string, error) {
	ghEntries := make([]*github.TreeEntry, 0, len(entries))
	for _, e := range entries {
		ghEntries = append(ghEntries, &github.TreeEntry{
			Path: github.String(e.Path),
			Mode: github.String("100644"),
			Type: github.String("blob"),
			SHA:  github.String(e.BlobSHA),
		})
	}

	var tree *github.Tree
	err := c.call(ctx, "github.create_tree", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		tree, resp, err = c.gh.Git.CreateTree(ctx, repo.Owner, repo.Name, baseTree, ghEntries)
		return resp, err
	})
	if err != nil {
		return "", err
	}
	return tree.GetSHA(), nil
}

// CreateCommit creates a single-parent commit.
func (c *Client) CreateCommit(ctx context.Context, repo Repo, message, treeSHA, parentSHA string) (*Commit, error) {
	var commit *github.Commit
	err := c.call(ctx, "github.create_commit", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		commit, resp, err = c.gh.Git.CreateCommit(ctx, repo.Owner, repo.Name, &github.Commit{
			Message: github.String(message),
			Tree:    &github.Tree{SHA: github.String(treeSHA)},
			Parents: []*github.Commit{{SHA: github.String(parentSHA)}},
		}, nil)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return &Commit{SHA: commit.GetSHA(), TreeSHA: treeSHA, HTMLURL: commitURL(repo, commit)}, nil
}

// commitURL prefers the API-provided URL and falls back to the web path.
func commitURL(repo Repo, commit *github.Commit) string {
	if u := commit.GetHTMLURL(); u != "" {
		return u
	}
	return "https://github.com/" + repo.String() + "/commit/" + commit.GetSHA()
}

// GetFileContent reads a UTF-8 file at ref.
func (c *Client) GetFileContent(ctx context.Context, repo Repo, path, ref string) (string, error) {
	var file *github.RepositoryContent
	err := c.call(ctx, "github.get_contents", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		file, _, resp, err = c.gh.Repositories.GetContents(ctx, repo.Owner, repo.Name, path,
			&github.RepositoryContentGetOptions{Ref: ref})
		return resp, err
	})
	if err != nil {
		return "", err
	}
	if file == nil {
		return "", apierr.New(apierr.NotFound, "github.get_contents", fmt.Errorf("%s is a directory", path))
	}
	return file.GetContent()
}
