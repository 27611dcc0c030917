package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	api "github.com/fyrsmithlabs/pipelined/internal/http"
)

// StatusPath is the daemon route serving the status snapshot.
const StatusPath = "/api/v1/status"

// Client reads the status snapshot from a running daemon.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the daemon at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// BaseURL returns the daemon address.
func (c *Client) BaseURL() string { return c.baseURL }

// Status fetches GET /api/v1/status.
func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+StatusPath, nil)
	if err != nil {
		return api.StatusResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return api.StatusResponse{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e api.ErrorResponse
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &e) == nil && e.Message != "" {
			return api.StatusResponse{}, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, e.Message)
		}
		return api.StatusResponse{}, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var status api.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return api.StatusResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return status, nil
}
