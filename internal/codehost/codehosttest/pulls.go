package codehosttest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/pipelined/internal/apierr"
	"github.com/fyrsmithlabs/pipelined/internal/codehost"
)

// AddPullRequest seeds a pull request and returns a copy with its number and
// URL assigned. State defaults to open.
func (f *Fake) AddPullRequest(full string, pr codehost.PullRequest) codehost.PullRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addPull(full, pr)
}

func (f *Fake) addPull(full string, pr codehost.PullRequest) codehost.PullRequest {
	f.seq++
	pr.Number = f.seq
	pr.URL = fmt.Sprintf("https://github.com/%s/pull/%d", full, pr.Number)
	if pr.NodeID == "" {
		pr.NodeID = fmt.Sprintf("PR_node%d", pr.Number)
	}
	if pr.State == "" {
		pr.State = "open"
	}
	stored := pr
	f.pulls[full] = append(f.pulls[full], &stored)
	return pr
}

func (f *Fake) pull(full string, number int) *codehost.PullRequest {
	for _, pr := range f.pulls[full] {
		if pr.Number == number {
			return pr
		}
	}
	return nil
}

func (f *Fake) pullByNode(nodeID string) *codehost.PullRequest {
	for _, prs := range f.pulls {
		for _, pr := range prs {
			if pr.NodeID == nodeID {
				return pr
			}
		}
	}
	return nil
}

// PullRequest returns a copy of a pull request.
func (f *Fake) PullRequest(full string, number int) (codehost.PullRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pr := f.pull(full, number); pr != nil {
		return *pr, true
	}
	return codehost.PullRequest{}, false
}

// OpenPullRequests returns the open pull requests of a repository.
func (f *Fake) OpenPullRequests(full string) []codehost.PullRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []codehost.PullRequest
	for _, pr := range f.pulls[full] {
		if pr.State == "open" {
			out = append(out, *pr)
		}
	}
	return out
}

// SetMerged marks a pull request merged, as a human merge would.
func (f *Fake) SetMerged(full string, number int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pr := f.pull(full, number); pr != nil {
		pr.Merged, pr.State = true, "closed"
	}
}

// Labels returns labels applied to an issue or PR.
func (f *Fake) Labels(full string, number int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.labels[fmt.Sprintf("%s#%d", full, number)]
}

// Assignees returns users assigned to an issue or PR.
func (f *Fake) Assignees(full string, number int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assigned[fmt.Sprintf("%s#%d", full, number)]
}

// Approved reports whether a PR received an approving review.
func (f *Fake) Approved(full string, number int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.approved[fmt.Sprintf("%s#%d", full, number)]
}

// AutoMergeMethod returns the method auto-merge was enabled with, if any.
func (f *Fake) AutoMergeMethod(nodeID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auto[nodeID]
}

// ListPullRequests implements the client method.
func (f *Fake) ListPullRequests(_ context.Context, r codehost.Repo, filter codehost.PRFilter) ([]*codehost.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListPullRequests"); err != nil {
		return nil, err
	}
	state := filter.State
	if state == "" {
		state = "open"
	}
	var out []*codehost.PullRequest
	for _, pr := range f.pulls[r.String()] {
		if state != "all" && pr.State != state {
			continue
		}
		if filter.Head != "" && pr.HeadRef != filter.Head {
			continue
		}
		if filter.Base != "" && pr.BaseRef != filter.Base {
			continue
		}
		cp := *pr
		out = append(out, &cp)
	}
	return out, nil
}

// GetPullRequest implements the client method.
func (f *Fake) GetPullRequest(_ context.Context, r codehost.Repo, number int) (*codehost.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetPullRequest"); err != nil {
		return nil, err
	}
	pr := f.pull(r.String(), number)
	if pr == nil {
		return nil, apierr.FromStatus("github.get_pull", 404, errors.New("Not Found"))
	}
	cp := *pr
	return &cp, nil
}

// CreatePullRequest implements the client method. A second open PR for the
// same head is rejected like the platform does.
func (f *Fake) CreatePullRequest(_ context.Context, r codehost.Repo, req codehost.NewPullRequest) (*codehost.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreatePullRequest"); err != nil {
		return nil, err
	}
	st, err := f.repo(r, "github.create_pull")
	if err != nil {
		return nil, err
	}
	head, ok := st.refs[req.Head]
	if !ok {
		return nil, apierr.FromStatus("github.create_pull", 422, errors.New("head branch does not exist"))
	}
	for _, pr := range f.pulls[r.String()] {
		if pr.State == "open" && pr.HeadRef == req.Head && pr.BaseRef == req.Base {
			return nil, apierr.FromStatus("github.create_pull", 422, errors.New("A pull request already exists"))
		}
	}
	pr := f.addPull(r.String(), codehost.PullRequest{
		Title:   req.Title,
		Body:    req.Body,
		HeadRef: req.Head,
		HeadSHA: head,
		BaseRef: req.Base,
		Author:  "pipelined-bot",
	})
	return &pr, nil
}

// ApprovePullRequest implements the client method.
func (f *Fake) ApprovePullRequest(_ context.Context, r codehost.Repo, number int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ApprovePullRequest"); err != nil {
		return err
	}
	f.approved[fmt.Sprintf("%s#%d", r, number)] = true
	return nil
}

// MergePullRequest implements the client method.
func (f *Fake) MergePullRequest(_ context.Context, r codehost.Repo, number int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("MergePullRequest"); err != nil {
		return err
	}
	pr := f.pull(r.String(), number)
	if pr == nil {
		return apierr.FromStatus("github.merge_pull", 404, errors.New("Not Found"))
	}
	if pr.Draft {
		return apierr.FromStatus("github.merge_pull", 405, errors.New("Pull Request is still a draft"))
	}
	pr.Merged, pr.State = true, "closed"
	return nil
}

// MarkReadyForReview implements the client method.
func (f *Fake) MarkReadyForReview(_ context.Context, nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("MarkReadyForReview"); err != nil {
		return err
	}
	pr := f.pullByNode(nodeID)
	if pr == nil {
		return apierr.New(apierr.NotFound, "github.mark_ready", errors.New("no such node"))
	}
	pr.Draft = false
	f.readied[nodeID] = true
	return nil
}

// EnableAutoMerge implements the client method. Auto-merge is recorded, not
// executed; tests merge explicitly with SetMerged.
func (f *Fake) EnableAutoMerge(_ context.Context, nodeID, method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("EnableAutoMerge"); err != nil {
		return err
	}
	if f.AutoMergeErr != nil {
		return f.AutoMergeErr
	}
	if f.pullByNode(nodeID) == nil {
		return apierr.New(apierr.NotFound, "github.enable_auto_merge", errors.New("no such node"))
	}
	f.auto[nodeID] = strings.ToUpper(method)
	return nil
}
