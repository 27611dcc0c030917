package codehosttest

import (
	"context"

	"github.com/fyrsmithlabs/pipelined/internal/codehost"
)

// AddWorkflowRun records a run for branch with its jobs. Later runs are
// treated as more recent.
func (f *Fake) AddWorkflowRun(full, branch string, run codehost.WorkflowRun, jobs ...codehost.Job) codehost.WorkflowRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	if run.ID == 0 {
		run.ID = int64(f.seq)
	}
	key := full + "@" + branch
	f.runs[key] = append([]codehost.WorkflowRun{run}, f.runs[key]...)
	f.jobs[run.ID] = jobs
	return run
}

// LatestWorkflowRun implements the client method.
func (f *Fake) LatestWorkflowRun(_ context.Context, r codehost.Repo, branch string) (*codehost.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("LatestWorkflowRun"); err != nil {
		return nil, err
	}
	runs := f.runs[r.String()+"@"+branch]
	if len(runs) == 0 {
		return nil, nil
	}
	cp := runs[0]
	return &cp, nil
}

// ListJobs implements the client method.
func (f *Fake) ListJobs(_ context.Context, _ codehost.Repo, runID int64) ([]codehost.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListJobs"); err != nil {
		return nil, err
	}
	return append([]codehost.Job(nil), f.jobs[runID]...), nil
}
