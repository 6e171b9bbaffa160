// Package authapi is the HTTP client for the BookTracker auth service.
package authapi

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

	"github.com/google/uuid"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 1 << 20

// Client talks to the auth service: login, register and token validation.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the auth service rooted at baseURL
// (for example "http://localhost:8080/api/v1/auth").
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// BaseURL returns the service root the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, username, password string) (*AuthResponse, error) {
	req := &LoginRequest{Username: username, Password: password}

	var resp AuthResponse
	if err := c.post(ctx, "/login", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates an account. Current backends answer with a token;
// older ones answer with an empty body, which yields an empty AuthResponse.
func (c *Client) Register(ctx context.Context, username, email, password string) (*AuthResponse, error) {
	req := &RegisterRequest{Username: username, Email: email, Password: password}

	var resp AuthResponse
	if err := c.post(ctx, "/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Validate asks the backend whether token is still accepted. A rejected
// token yields a *StatusError; transport failures are returned wrapped.
func (c *Client) Validate(ctx context.Context, token string) error {
	endpoint := c.baseURL + "/validate?token=" + url.QueryEscape(token)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	return c.do(httpReq, nil)
}

func (c *Client) post(ctx context.Context, path string, body, target interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return c.do(httpReq, target)
}

func (c *Client) do(req *http.Request, target interface{}) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to perform request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{
			Code:    resp.StatusCode,
			Message: ErrorMessage(body),
		}
	}

	if target == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
