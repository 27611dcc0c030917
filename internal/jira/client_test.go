package jira

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fyrsmithlabs/pipelined/internal/apierr"
	"github.com/fyrsmithlabs/pipelined/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	c, err := NewClient(config.JiraConfig{
		BaseURL:  server.URL + "/",
		Email:    "bot@acme.io",
		APIToken: config.Secret("jira-token"),
	}, WithRetry(apierr.RetryConfig{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}))
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClient_MissingSettings(t *testing.T) {
	_, err := NewClient(config.JiraConfig{BaseURL: "https://acme.atlassian.net"})
	require.Error(t, err)
	assert.True(t, apierr.IsConfiguration(err))
	assert.Contains(t, err.Error(), "JIRA_USER_EMAIL")
	assert.Contains(t, err.Error(), "JIRA_API_TOKEN")
}

func TestGetIssue_FlattensADF(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/3/issue/KAN-7", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "bot@acme.io", user)
		assert.Equal(t, "jira-token", pass)
		writeJSON(w, 200, map[string]interface{}{
			"key": "KAN-7",
			"fields": map[string]interface{}{
				"summary":  "Add CI to widgets",
				"status":   map[string]string{"name": "To Do"},
				"priority": map[string]string{"name": "High"},
				"created":  "2026-10-01T09:30:00.000+0000",
				"description": map[string]interface{}{
					"type": "doc", "version": 1,
					"content": []interface{}{
						map[string]interface{}{"type": "paragraph", "content": []interface{}{
							map[string]interface{}{"type": "text", "text": "Please add a pipeline"},
						}},
						map[string]interface{}{"type": "codeBlock", "attrs": map[string]string{"language": "json"}, "content": []interface{}{
							map[string]interface{}{"type": "text", "text": `{"repository": "acme/widgets"}`},
						}},
					},
				},
			},
		})
	})
	c := newTestClient(t, mux)

	issue, err := c.GetIssue(context.Background(), "KAN-7")
	require.NoError(t, err)
	assert.Equal(t, "Add CI to widgets", issue.Summary)
	assert.Equal(t, "To Do", issue.Status)
	assert.Equal(t, "High", issue.Priority)
	assert.Equal(t, "KAN", issue.Project())
	assert.Equal(t, 2026, issue.Created.Year())
	assert.Equal(t, "Please add a pipeline\n```json\n{\"repository\": \"acme/widgets\"}\n```", issue.Description)
	assert.Contains(t, issue.URL, "/browse/KAN-7")
}

func TestGetIssue_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/3/issue/KAN-404", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 404, map[string]interface{}{"errorMessages": []string{"Issue does not exist"}})
	})
	c := newTestClient(t, mux)

	_, err := c.GetIssue(context.Background(), "KAN-404")
	require.Error(t, err)
	assert.True(t, apierr.IsNotFound(err))
}

func TestSearchIssues_Paginates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/3/search/jql", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, `project in ("KAN") AND status = "To Do"`, req.JQL)
		if req.NextPageToken == "" {
			assert.Equal(t, 3, req.MaxResults)
			writeJSON(w, 200, map[string]interface{}{
				"issues": []interface{}{
					map[string]interface{}{"key": "KAN-1", "fields": map[string]interface{}{"summary": "one", "priority": map[string]string{"name": "Low"}}},
					map[string]interface{}{"key": "KAN-2", "fields": map[string]interface{}{"summary": "two", "assignee": map[string]string{"displayName": "Dana"}}},
				},
				"nextPageToken": "p2",
			})
			return
		}
		assert.Equal(t, 1, req.MaxResults)
		writeJSON(w, 200, map[string]interface{}{
			"issues": []interface{}{map[string]interface{}{"key": "KAN-3", "fields": map[string]interface{}{"summary": "three"}}},
			"isLast": true,
		})
	})
	c := newTestClient(t, mux)

	issues, err := c.SearchIssues(context.Background(), `project in ("KAN") AND status = "To Do"`, 3)
	require.NoError(t, err)
	require.Len(t, issues, 3)
	assert.Equal(t, "KAN-1", issues[0].Key)
	assert.Equal(t, "Low", issues[0].Priority)
	assert.Equal(t, "Dana", issues[1].Assignee)
	assert.Equal(t, "KAN-3", issues[2].Key)
}

func TestTransition(t *testing.T) {
	var posted map[string]map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/3/issue/KAN-7/transitions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, 200, map[string]interface{}{"transitions": []interface{}{
			map[string]interface{}{"id": "21", "name": "Start work", "to": map[string]string{"name": "In Progress"}},
			map[string]interface{}{"id": "31", "name": "Done", "to": map[string]string{"name": "Done"}},
		}})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	t.Run("matches destination status case-insensitively", func(t *testing.T) {
		require.NoError(t, c.Transition(ctx, "KAN-7", "in progress"))
		assert.Equal(t, "21", posted["transition"]["id"])
	})

	t.Run("matches transition name", func(t *testing.T) {
		require.NoError(t, c.Transition(ctx, "KAN-7", "DONE"))
		assert.Equal(t, "31", posted["transition"]["id"])
	})

	t.Run("unavailable target is a conflict", func(t *testing.T) {
		err := c.Transition(ctx, "KAN-7", "In Review")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrTransitionUnavailable))
		assert.True(t, apierr.IsConflict(err))
		assert.Contains(t, err.Error(), "Start work")
	})
}

func TestAddComment_WithLink(t *testing.T) {
	var body struct {
		Body adfNode `json:"body"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/3/issue/KAN-7/comment", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, 201, map[string]string{"id": "10001"})
	})
	c := newTestClient(t, mux)

	err := c.AddComment(context.Background(), "KAN-7", "Pull Request opened for review.", &Link{Text: "View PR", URL: "https://github.com/acme/widgets/pull/5"})
	require.NoError(t, err)

	require.Equal(t, "doc", body.Body.Type)
	require.Len(t, body.Body.Content, 1)
	para := body.Body.Content[0].Content
	require.Len(t, para, 3)
	assert.Equal(t, "Pull Request opened for review.", para[0].Text)
	assert.Equal(t, " ", para[1].Text)
	assert.Equal(t, "View PR", para[2].Text)
	assert.Equal(t, "https://github.com/acme/widgets/pull/5", para[2].Marks[0].Attrs["href"])
}

func TestRetriesRateLimited(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/3/issue/KAN-7/comment", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, 429, map[string]string{"message": "slow down"})
			return
		}
		writeJSON(w, 201, map[string]string{"id": "1"})
	})
	c := newTestClient(t, mux)

	require.NoError(t, c.AddComment(context.Background(), "KAN-7", "hello", nil))
	assert.Equal(t, 2, calls)
}

func TestFlattenADF_Lists(t *testing.T) {
	doc := adfNode{Type: "doc", Content: []adfNode{
		{Type: "bulletList", Content: []adfNode{
			{Type: "listItem", Content: []adfNode{{Type: "paragraph", Content: []adfNode{{Type: "text", Text: "path=a.txt, find=x, replace=y"}}}}},
			{Type: "listItem", Content: []adfNode{{Type: "paragraph", Content: []adfNode{
				{Type: "text", Text: "line"}, {Type: "hardBreak"}, {Type: "text", Text: "two"},
			}}}},
		}},
	}}
	assert.Equal(t, "path=a.txt, find=x, replace=y\nline\ntwo", flattenADF(doc))
}
