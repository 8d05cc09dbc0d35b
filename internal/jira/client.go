// Package jira is the Jira REST adapter: an authenticated HTTP client, the
// issue and comment calls the agent needs, a tracker.Store built on them,
// and the webhook receiver that requests early cycles.
package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/nudge-agent/internal/errors"
)

const service = "jira"

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client wraps the Jira REST API.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	auth       Authenticator
	logger     zerolog.Logger
}

// Authenticator applies authentication to requests.
type Authenticator interface {
	Apply(req *http.Request) error
}

// NewClient creates a new Jira API client.
func NewClient(baseURL string, auth Authenticator, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		auth:       auth,
		logger:     logger.With().Str("component", "jira").Logger(),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(hc HTTPClient) {
	c.httpClient = hc
}

// BaseURL returns the base URL of the Jira instance.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do executes an authenticated API request. Transport failures come back
// wrapped in perrors.ErrTimeout or perrors.ErrUnavailable and HTTP failures
// as a *perrors.APIError.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if err := c.auth.Apply(req); err != nil {
		return nil, fmt.Errorf("applying auth: %w: %w", perrors.ErrAuthFailure, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("executing request: %w: %w", perrors.ErrTimeout, err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("executing request: %w", err)
		}
		return nil, fmt.Errorf("executing request: %w: %w", perrors.ErrUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		c.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("jira API error")
		return nil, perrors.NewAPIError(service, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return resp, nil
}

// decodeResponse reads and decodes a JSON response.
func decodeResponse(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
