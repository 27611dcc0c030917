// Package jira is the Jira Cloud REST v3 client used by the engine.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/pipelined/internal/apierr"
	"github.com/fyrsmithlabs/pipelined/internal/config"
	"github.com/fyrsmithlabs/pipelined/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrTransitionUnavailable is returned when the requested status is not
// reachable from the issue's current status. It carries the Conflict kind:
// someone else has already moved the issue.
var ErrTransitionUnavailable = errors.New("transition not available")

const maxErrorBody = 512

// Client talks to the Jira Cloud REST API with basic auth.
type Client struct {
	baseURL string
	email   string
	token   config.Secret
	http    *http.Client
	limiter *rate.Limiter
	retry   apierr.RetryConfig
	logger  *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg apierr.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l.Named("jira") }
}

// NewClient creates a client. Missing base URL, email or token is a
// configuration error.
func NewClient(cfg config.JiraConfig, opts ...Option) (*Client, error) {
	var missing []string
	if cfg.BaseURL == "" {
		missing = append(missing, "JIRA_BASE_URL")
	}
	if cfg.Email == "" {
		missing = append(missing, "JIRA_USER_EMAIL")
	}
	if !cfg.APIToken.IsSet() {
		missing = append(missing, "JIRA_API_TOKEN")
	}
	if len(missing) > 0 {
		return nil, apierr.Configurationf("jira.client", "Jira settings are not set: %s", strings.Join(missing, ", "))
	}

	timeout := cfg.RequestTimeout.Duration()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		email:   cfg.Email,
		token:   cfg.APIToken,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 5),
		retry:   apierr.DefaultRetryConfig(),
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BrowseURL returns the web URL of an issue.
func (c *Client) BrowseURL(key string) string {
	return c.baseURL + "/browse/" + key
}

// GetIssue fetches an issue with its description flattened to plain text.
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	var resp issueResponse
	path := "/rest/api/3/issue/" + url.PathEscape(key) + "?fields=summary,description,status,priority,assignee,created"
	if err := c.do(ctx, "jira.get_issue", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	issue := c.toIssue(resp)
	return &issue, nil
}

// SearchIssues runs a JQL query and returns up to maxResults issues in the
// order Jira returns them.
func (c *Client) SearchIssues(ctx context.Context, jql string, maxResults int) ([]Issue, error) {
	if maxResults <= 0 {
		maxResults = 50
	}
	req := searchRequest{
		JQL:    jql,
		Fields: []string{"summary", "status", "priority", "assignee", "created"},
	}

	var out []Issue
	for len(out) < maxResults {
		req.MaxResults = maxResults - len(out)
		var resp searchResponse
		if err := c.do(ctx, "jira.search", http.MethodPost, "/rest/api/3/search/jql", req, &resp); err != nil {
			return nil, err
		}
		for _, raw := range resp.Issues {
			out = append(out, c.toIssue(raw))
		}
		if resp.IsLast || resp.NextPageToken == "" || len(resp.Issues) == 0 {
			break
		}
		req.NextPageToken = resp.NextPageToken
	}
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

// ListTransitions returns the transitions available from the current status.
func (c *Client) ListTransitions(ctx context.Context, key string) ([]Transition, error) {
	var resp transitionsResponse
	if err := c.do(ctx, "jira.list_transitions", http.MethodGet, "/rest/api/3/issue/"+url.PathEscape(key)+"/transitions", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]Transition, 0, len(resp.Transitions))
	for _, t := range resp.Transitions {
		out = append(out, Transition{ID: t.ID, Name: t.Name, To: t.To.Name})
	}
	return out, nil
}

// Transition moves an issue to the status named target. The match is
// case-insensitive against the transition name or its destination status.
// When no such transition exists it fails with ErrTransitionUnavailable.
func (c *Client) Transition(ctx context.Context, key, target string) error {
	transitions, err := c.ListTransitions(ctx, key)
	if err != nil {
		return err
	}

	var match *Transition
	for i := range transitions {
		if strings.EqualFold(transitions[i].Name, target) {
			match = &transitions[i]
			break
		}
	}
	if match == nil {
		for i := range transitions {
			if strings.EqualFold(transitions[i].To, target) {
				match = &transitions[i]
				break
			}
		}
	}
	if match == nil {
		names := make([]string, 0, len(transitions))
		for _, t := range transitions {
			names = append(names, t.Name)
		}
		return apierr.New(apierr.Conflict, "jira.transition",
			fmt.Errorf("%w: %q for %s (available: %s)", ErrTransitionUnavailable, target, key, strings.Join(names, ", ")))
	}

	body := map[string]interface{}{"transition": map[string]string{"id": match.ID}}
	return c.do(ctx, "jira.transition", http.MethodPost, "/rest/api/3/issue/"+url.PathEscape(key)+"/transitions", body, nil)
}

// AddComment posts a comment, optionally ending with a link.
func (c *Client) AddComment(ctx context.Context, key, text string, link *Link) error {
	body := map[string]interface{}{"body": commentDocument(text, link)}
	return c.do(ctx, "jira.add_comment", http.MethodPost, "/rest/api/3/issue/"+url.PathEscape(key)+"/comment", body, nil)
}

func (c *Client) toIssue(raw issueResponse) Issue {
	issue := Issue{
		Key:         raw.Key,
		Summary:     raw.Fields.Summary,
		Description: raw.Fields.Description.String(),
		URL:         c.BrowseURL(raw.Key),
	}
	if raw.Fields.Status != nil {
		issue.Status = raw.Fields.Status.Name
	}
	if raw.Fields.Priority != nil {
		issue.Priority = raw.Fields.Priority.Name
	}
	if raw.Fields.Assignee != nil {
		issue.Assignee = raw.Fields.Assignee.DisplayName
	}
	if raw.Fields.Created != "" {
		if t, err := time.Parse("2006-01-02T15:04:05.000-0700", raw.Fields.Created); err == nil {
			issue.Created = t
		}
	}
	return issue
}

// do sends one request with rate limiting and retries, decoding a JSON
// response into out when out is non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return apierr.New(apierr.Unknown, op, fmt.Errorf("encode request: %w", err))
		}
	}

	return apierr.Retry(ctx, c.retry, c.logger, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return apierr.FromTransport(op, err)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return apierr.New(apierr.Unknown, op, err)
		}
		req.SetBasicAuth(c.email, c.token.Value())
		req.Header.Set("Accept", "application/json")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return apierr.FromTransport(op, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			e := apierr.FromStatus(op, resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(msg))))
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
				e.RetryAfter = time.Duration(secs) * time.Second
			}
			c.logger.Debug(ctx, "jira request failed",
				zap.String("op", op), zap.Int("status", resp.StatusCode), zap.String("error.kind", e.Kind.String()))
			return e
		}

		if out == nil || resp.StatusCode == http.StatusNoContent {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apierr.New(apierr.Unknown, op, fmt.Errorf("decode response: %w", err))
		}
		return nil
	})
}
