// Package codehosttest provides an in-memory code-hosting platform for tests.
// It models refs, blobs, trees and commits closely enough to exercise the
// commit protocol, including fast-forward checks and branch-creation races.
package codehosttest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/pipelined/internal/apierr"
	"github.com/fyrsmithlabs/pipelined/internal/codehost"
)

type commit struct {
	tree   string
	parent string
	msg    string
}

type repoState struct {
	info codehost.Repository
	refs map[string]string
}

// Comment is a recorded issue or PR comment.
type Comment struct {
	Repo   string
	Number int
	Body   string
}

// Fake implements every method the engine calls on *codehost.Client.
type Fake struct {
	mu sync.Mutex

	seq     int
	repos   map[string]*repoState
	blobs   map[string]string
	trees   map[string]map[string]string
	commits map[string]commit

	pulls    map[string][]*codehost.PullRequest
	issues   map[string][]codehost.NewIssue
	comments []Comment
	labels   map[string][]string
	assigned map[string][]string
	approved map[string]bool
	readied  map[string]bool
	auto     map[string]string
	runs     map[string][]codehost.WorkflowRun
	jobs     map[int64][]codehost.Job

	failures map[string]error
	calls    map[string]int

	// BeforeCreateBranch runs without the lock held, before the existence
	// check, so a test can create the branch underneath the caller.
	BeforeCreateBranch func(repo codehost.Repo, branch string)

	// AutoMergeErr, when set, is returned by EnableAutoMerge.
	AutoMergeErr error
}

// New returns an empty platform.
func New() *Fake {
	return &Fake{
		repos:    make(map[string]*repoState),
		blobs:    make(map[string]string),
		trees:    make(map[string]map[string]string),
		commits:  make(map[string]commit),
		pulls:    make(map[string][]*codehost.PullRequest),
		issues:   make(map[string][]codehost.NewIssue),
		labels:   make(map[string][]string),
		assigned: make(map[string][]string),
		approved: make(map[string]bool),
		readied:  make(map[string]bool),
		auto:     make(map[string]string),
		runs:     make(map[string][]codehost.WorkflowRun),
		jobs:     make(map[int64][]codehost.Job),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *Fake) nextSHA(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%06d", prefix, f.seq)
}

// enter counts the call and returns an injected failure, if any. Callers
// hold f.mu.
func (f *Fake) enter(op string) error {
	f.calls[op]++
	return f.failures[op]
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

// AddRepo creates a repository whose default branch holds files.
func (f *Fake) AddRepo(full, defaultBranch, language string, files map[string]string) codehost.Repo {
	repo, err := codehost.ParseRepo(full)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	tree := make(map[string]string, len(files))
	for p, content := range files {
		sha := f.nextSHA("blob")
		f.blobs[sha] = content
		tree[p] = sha
	}
	treeSHA := f.nextSHA("tree")
	f.trees[treeSHA] = tree
	root := f.nextSHA("c")
	f.commits[root] = commit{tree: treeSHA, msg: "initial"}

	f.repos[full] = &repoState{
		info: codehost.Repository{
			Repo:          repo,
			DefaultBranch: defaultBranch,
			Language:      language,
			HTMLURL:       "https://github.com/" + full,
		},
		refs: map[string]string{defaultBranch: root},
	}
	return repo
}

func (f *Fake) repo(r codehost.Repo, op string) (*repoState, error) {
	st, ok := f.repos[r.String()]
	if !ok {
		return nil, apierr.FromStatus(op, 404, fmt.Errorf("repository %s not found", r))
	}
	return st, nil
}

// GetRepository implements the client method.
func (f *Fake) GetRepository(_ context.Context, r codehost.Repo) (*codehost.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetRepository"); err != nil {
		return nil, err
	}
	st, err := f.repo(r, "github.get_repo")
	if err != nil {
		return nil, err
	}
	info := st.info
	return &info, nil
}

// ListOwnerRepositories implements the client method.
func (f *Fake) ListOwnerRepositories(_ context.Context, owner string) ([]*codehost.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListOwnerRepositories"); err != nil {
		return nil, err
	}
	var out []*codehost.Repository
	for _, st := range f.repos {
		if strings.EqualFold(st.info.Repo.Owner, owner) {
			info := st.info
			out = append(out, &info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Repo.Name < out[j].Repo.Name })
	return out, nil
}

// GetBranchSHA implements the client method.
func (f *Fake) GetBranchSHA(_ context.Context, r codehost.Repo, branch string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetBranchSHA"); err != nil {
		return "", err
	}
	st, err := f.repo(r, "github.get_ref")
	if err != nil {
		return "", err
	}
	sha, ok := st.refs[branch]
	if !ok {
		return "", apierr.FromStatus("github.get_ref", 404, errors.New("Not Found"))
	}
	return sha, nil
}

// CreateBranch implements the client method.
func (f *Fake) CreateBranch(_ context.Context, r codehost.Repo, branch, sha string) error {
	if hook := f.BeforeCreateBranch; hook != nil {
		hook(r, branch)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateBranch"); err != nil {
		return err
	}
	st, err := f.repo(r, "github.create_ref")
	if err != nil {
		return err
	}
	if _, exists := st.refs[branch]; exists {
		return apierr.FromStatus("github.create_ref", 422, errors.New("Reference already exists"))
	}
	if _, ok := f.commits[sha]; !ok {
		return apierr.FromStatus("github.create_ref", 422, errors.New("Object does not exist"))
	}
	st.refs[branch] = sha
	return nil
}

// UpdateBranch implements the client method, rejecting non-fast-forward moves.
func (f *Fake) UpdateBranch(_ context.Context, r codehost.Repo, branch, sha string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateBranch"); err != nil {
		return err
	}
	st, err := f.repo(r, "github.update_ref")
	if err != nil {
		return err
	}
	current, ok := st.refs[branch]
	if !ok {
		return apierr.FromStatus("github.update_ref", 422, errors.New("Reference does not exist"))
	}
	if !f.descends(sha, current) {
		return apierr.FromStatus("github.update_ref", 422, errors.New("Update is not a fast forward"))
	}
	st.refs[branch] = sha
	return nil
}

func (f *Fake) descends(sha, ancestor string) bool {
	for sha != "" {
		if sha == ancestor {
			return true
		}
		sha = f.commits[sha].parent
	}
	return false
}

// GetCommit implements the client method.
func (f *Fake) GetCommit(_ context.Context, r codehost.Repo, sha string) (*codehost.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetCommit"); err != nil {
		return nil, err
	}
	c, ok := f.commits[sha]
	if !ok {
		return nil, apierr.FromStatus("github.get_commit", 404, errors.New("Not Found"))
	}
	return &codehost.Commit{SHA: sha, TreeSHA: c.tree, HTMLURL: commitURL(r, sha)}, nil
}

// CreateBlob implements the client method.
func (f *Fake) CreateBlob(_ context.Context, _ codehost.Repo, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateBlob"); err != nil {
		return "", err
	}
	sha := f.nextSHA("blob")
	f.blobs[sha] = content
	return sha, nil
}

// CreateTree implements the client method, layering entries on baseTree.
func (f *Fake) CreateTree(_ context.Context, _ codehost.Repo, baseTree string, entries []codehost.TreeEntry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateTree"); err != nil {
		return "", err
	}
	tree := make(map[string]string)
	for p, b := range f.trees[baseTree] {
		tree[p] = b
	}
	for _, e := range entries {
		if _, ok := f.blobs[e.BlobSHA]; !ok {
			return "", apierr.FromStatus("github.create_tree", 422, fmt.Errorf("blob %s missing", e.BlobSHA))
		}
		tree[e.Path] = e.BlobSHA
	}
	sha := f.nextSHA("tree")
	f.trees[sha] = tree
	return sha, nil
}

// CreateCommit implements the client method.
func (f *Fake) CreateCommit(_ context.Context, r codehost.Repo, message, treeSHA, parentSHA string) (*codehost.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateCommit"); err != nil {
		return nil, err
	}
	if _, ok := f.trees[treeSHA]; !ok {
		return nil, apierr.FromStatus("github.create_commit", 422, errors.New("tree missing"))
	}
	sha := f.nextSHA("c")
	f.commits[sha] = commit{tree: treeSHA, parent: parentSHA, msg: message}
	return &codehost.Commit{SHA: sha, TreeSHA: treeSHA, HTMLURL: commitURL(r, sha)}, nil
}

// GetFileContent implements the client method. ref is a branch name.
func (f *Fake) GetFileContent(_ context.Context, r codehost.Repo, path, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetFileContent"); err != nil {
		return "", err
	}
	st, err := f.repo(r, "github.get_contents")
	if err != nil {
		return "", err
	}
	files := f.filesAt(st.refs[ref])
	content, ok := files[path]
	if !ok {
		return "", apierr.FromStatus("github.get_contents", 404, fmt.Errorf("%s not found", path))
	}
	return content, nil
}

func (f *Fake) filesAt(sha string) map[string]string {
	out := make(map[string]string)
	c, ok := f.commits[sha]
	if !ok {
		return out
	}
	for p, blob := range f.trees[c.tree] {
		out[p] = f.blobs[blob]
	}
	return out
}

// Files returns the resolved contents of branch, or nil if it is missing.
func (f *Fake) Files(full, branch string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.repos[full]
	if !ok {
		return nil
	}
	sha, ok := st.refs[branch]
	if !ok {
		return nil
	}
	return f.filesAt(sha)
}

// History returns commit SHAs from branch tip back to the root.
func (f *Fake) History(full, branch string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.repos[full]
	if !ok {
		return nil
	}
	var out []string
	for sha := st.refs[branch]; sha != ""; sha = f.commits[sha].parent {
		out = append(out, sha)
	}
	return out
}

// Branches lists branch names of a repository.
func (f *Fake) Branches(full string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.repos[full]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(st.refs))
	for b := range st.refs {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// Head returns the tip of a branch.
func (f *Fake) Head(full, branch string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.repos[full]; ok {
		return st.refs[branch]
	}
	return ""
}

func commitURL(r codehost.Repo, sha string) string {
	return "https://github.com/" + r.String() + "/commit/" + sha
}
