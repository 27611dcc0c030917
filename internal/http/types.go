package http

import (
	"github.com/fyrsmithlabs/pipelined/internal/jira"
	"github.com/fyrsmithlabs/pipelined/internal/state"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func errorBody(msg string) ErrorResponse {
	return ErrorResponse{Status: state.StatusError, Message: msg}
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status         string                `json:"status"`
	GeneratedAt    string                `json:"generated_at"`
	AutopilotState string                `json:"autopilot_state,omitempty"`
	Counts         StatusCounts          `json:"counts"`
	Journal        []state.Entry         `json:"journal"`
	Tracked        []state.TrackedTicket `json:"tracked"`
}

// IssuesRequest is the request body for POST /issues.
type IssuesRequest struct {
	JQL        string `json:"jql,omitempty"`
	MaxResults int    `json:"maxResults,omitempty"`
}

// IssuesResponse is the response body for POST /issues.
type IssuesResponse struct {
	Status string       `json:"status"`
	JQL    string       `json:"jql"`
	Issues []jira.Issue `json:"issues"`
}

// TransitionRequest is the request body for POST /transition and
// POST /transitions. TargetStatus is ignored by the latter.
type TransitionRequest struct {
	IssueKey     string `json:"issueKey"`
	TargetStatus string `json:"targetStatus,omitempty"`
}

// TransitionResponse is the response body for POST /transition.
type TransitionResponse struct {
	Status   string `json:"status"`
	IssueKey string `json:"issueKey"`
	Message  string `json:"message,omitempty"`
}

// TransitionsResponse is the response body for POST /transitions.
type TransitionsResponse struct {
	Status      string            `json:"status"`
	IssueKey    string            `json:"issueKey"`
	Transitions []jira.Transition `json:"transitions"`
}
