// Package client talks to the swing coach HTTP API and implements the
// client side of the results polling protocol.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonathan/swing-coach/internal/types"
)

// StatusResponse is the union of the results endpoint's in-flight and completed shapes.
type StatusResponse struct {
	Status           string              `json:"status"`
	Message          string              `json:"message,omitempty"`
	Analysis         *types.AnalysisView `json:"analysis,omitempty"`
	CoachingResponse string              `json:"coaching_response,omitempty"`
}

// HasPayload reports whether a result body is present.
func (r *StatusResponse) HasPayload() bool {
	return r != nil && r.Analysis != nil && strings.TrimSpace(r.CoachingResponse) != ""
}

// Client calls the API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitAnalysis starts an analysis for an uploaded video.
func (c *Client) SubmitAnalysis(ctx context.Context, req types.AnalyzeRequest) (*types.AnalyzeResponse, error) {
	var out types.AnalyzeResponse
	if err := c.do(ctx, http.MethodPost, "/api/video/analyze", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetResult fetches the current state of jobID.
func (c *Client) GetResult(ctx context.Context, jobID string) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/video/results/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chat sends a message to the coach.
func (c *Client) Chat(ctx context.Context, message string) (*types.ChatResponse, error) {
	var out types.ChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/chat", types.ChatRequest{Message: message}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthenticationRequiredError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
