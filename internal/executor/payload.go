package executor

import (
	"errors"
	"strings"

	"github.com/fyrsmithlabs/pipelined/internal/codehost"
	"github.com/fyrsmithlabs/pipelined/internal/state"
)

// Payload is one reconciliation request. It is built by the scheduler or an
// inbound request and consumed once.
type Payload struct {
	IssueKey            string `json:"issueKey,omitempty"`
	Repository          string `json:"repository"`
	Language            string `json:"language"`
	BuildCommand        string `json:"buildCommand,omitempty"`
	TestCommand         string `json:"testCommand,omitempty"`
	DeployTarget        string `json:"deployTarget,omitempty"`
	CreateTrackingIssue bool   `json:"createTrackingIssue,omitempty"`
	Source              string `json:"source,omitempty"`
}

// Validate checks the fields a pass cannot run without.
func (p Payload) Validate() error {
	var errs []error
	if _, err := codehost.ParseRepo(p.Repository); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(p.Language) == "" {
		errs = append(errs, errors.New("language is required"))
	}
	return errors.Join(errs...)
}

// Result is the uniform outcome of a pass. Business failures are reported
// here with Status "error", never as a Go error.
type Result struct {
	Status           string `json:"status"`
	CIPRURL          string `json:"ci_pr_url,omitempty"`
	CommitURL        string `json:"commit_url,omitempty"`
	TrackingIssueURL string `json:"tracking_issue_url,omitempty"`
	Branch           string `json:"branch,omitempty"`
	PRNumber         int    `json:"pr_number,omitempty"`
	IsNew            bool   `json:"is_new"`
	Message          string `json:"message,omitempty"`
}

// OK reports whether the pass succeeded.
func (r Result) OK() bool { return r.Status == state.StatusSuccess }

func failed(err error) Result {
	return Result{Status: state.StatusError, Message: err.Error()}
}
