package jira

import (
	"strings"
	"time"
)

// Issue is the subset of a Jira issue the engine reads.
type Issue struct {
	Key         string    `json:"key"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority,omitempty"`
	Assignee    string    `json:"assignee,omitempty"`
	Created     time.Time `json:"created,omitempty"`
	URL         string    `json:"url"`
}

// Project returns the project key prefix of the issue key ("KAN" for "KAN-7").
func (i Issue) Project() string {
	return ProjectOf(i.Key)
}

// ProjectOf returns the project part of an issue key.
func ProjectOf(key string) string {
	project, _, _ := strings.Cut(key, "-")
	return strings.ToUpper(project)
}

// Transition is a workflow transition available from an issue's current status.
type Transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   string `json:"to"`
}

// Link is an optional hyperlink appended to a comment.
type Link struct {
	Text string
	URL  string
}

// wire types

type issueResponse struct {
	Key    string      `json:"key"`
	Fields issueFields `json:"fields"`
}

type issueFields struct {
	Summary     string    `json:"summary"`
	Description *adfValue `json:"description"`
	Status      *named    `json:"status"`
	Priority    *named    `json:"priority"`
	Assignee    *struct {
		DisplayName string `json:"displayName"`
	} `json:"assignee"`
	Created string `json:"created"`
}

type named struct {
	Name string `json:"name"`
}

type searchRequest struct {
	JQL           string   `json:"jql"`
	MaxResults    int      `json:"maxResults"`
	Fields        []string `json:"fields"`
	NextPageToken string   `json:"nextPageToken,omitempty"`
}

type searchResponse struct {
	Issues        []issueResponse `json:"issues"`
	NextPageToken string          `json:"nextPageToken"`
	IsLast        bool            `json:"isLast"`
}

type transitionsResponse struct {
	Transitions []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		To   named  `json:"to"`
	} `json:"transitions"`
}
