// Package codehost is the GitHub client used by the engine. It translates
// go-github types into the package's own types and every failure into an
// *apierr.Error.
package codehost

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/pipelined/internal/apierr"
	"github.com/fyrsmithlabs/pipelined/internal/config"
	"github.com/fyrsmithlabs/pipelined/internal/logging"
	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// Client talks to the GitHub REST and GraphQL APIs.
type Client struct {
	gh     *github.Client
	retry  apierr.RetryConfig
	logger *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRetry overrides the retry policy.
func WithRetry(cfg apierr.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithLogger sets the logger used for retry and best-effort diagnostics.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l.Named("github") }
}

// NewClient creates an authenticated client. A missing token is a
// configuration error.
func NewClient(ctx context.Context, cfg config.GitHubConfig, opts ...Option) (*Client, error) {
	if !cfg.Token.IsSet() {
		return nil, apierr.Configurationf("github.client", "GitHub token not set")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
	hc := oauth2.NewClient(ctx, ts)
	hc.Timeout = cfg.RequestTimeout.Duration()
	if hc.Timeout <= 0 {
		hc.Timeout = 30 * time.Second
	}

	gh := github.NewClient(hc)
	if cfg.BaseURL != "" {
		if err := setBaseURL(gh, cfg.BaseURL); err != nil {
			return nil, apierr.Configurationf("github.client", "invalid base URL: %v", err)
		}
	}
	return newClient(gh, opts...), nil
}

func newClient(gh *github.Client, opts ...Option) *Client {
	c := &Client{gh: gh, retry: apierr.DefaultRetryConfig(), logger: logging.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func setBaseURL(gh *github.Client, raw string) error {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	gh.BaseURL = u
	gh.UploadURL = u
	return nil
}

// call runs op with the retry policy and classifies its failure.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) (*github.Response, error)) error {
	return apierr.Retry(ctx, c.retry, c.logger, func(ctx context.Context) error {
		resp, err := fn(ctx)
		if err != nil {
			return classify(op, resp, err)
		}
		return nil
	})
}

// classify maps a go-github failure onto an apierr kind.
func classify(op string, resp *github.Response, err error) error {
	var classified *apierr.Error
	if errors.As(err, &classified) {
		return err
	}
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return &apierr.Error{
			Kind:       apierr.Transient,
			Op:         op,
			Status:     statusOf(rle.Response),
			RetryAfter: time.Until(rle.Rate.Reset.Time) + time.Second,
			Err:        err,
		}
	}
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		return &apierr.Error{
			Kind:       apierr.Transient,
			Op:         op,
			Status:     statusOf(abuse.Response),
			RetryAfter: abuse.GetRetryAfter(),
			Err:        err,
		}
	}
	if resp == nil || resp.Response == nil {
		return apierr.FromTransport(op, err)
	}

	e := apierr.FromStatus(op, resp.StatusCode, err)
	if resp.StatusCode == http.StatusForbidden && resp.Rate.Limit > 0 && resp.Rate.Remaining == 0 {
		e.Kind = apierr.Transient
		e.RetryAfter = time.Until(resp.Rate.Reset.Time) + time.Second
	}
	return e
}

func statusOf(r *http.Response) int {
	if r == nil {
		return 0
	}
	return r.StatusCode
}
