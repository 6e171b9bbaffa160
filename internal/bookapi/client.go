// Package bookapi wraps the BookTracker book, library, analytics and
// notification services. Every request carries the current session token;
// a 401 or 403 answer ends the session.
package bookapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/booktracker/booktracker/internal/authapi"
	"github.com/booktracker/booktracker/internal/logsanitize"
	"github.com/booktracker/booktracker/internal/metrics"
	"github.com/booktracker/booktracker/internal/session"
)

const maxBodySize = 4 << 20

// Session is the part of the session manager the API clients need.
// *session.Manager implements it.
type Session interface {
	Token() (string, bool)
	Current() session.Session
	Invalidate(token, reason string)
}

// ErrUnauthorized is returned when no session is held or the backend
// rejected the token.
var ErrUnauthorized = &UnauthorizedError{}

// UnauthorizedError is the type of ErrUnauthorized.
type UnauthorizedError struct{}

func (e *UnauthorizedError) Error() string { return "bookapi: unauthorized" }

// UserMessage implements session.Displayable.
func (e *UnauthorizedError) UserMessage() string {
	return "You are not authorized. Please log in again."
}

// APIError is returned for other non-2xx answers.
type APIError struct {
	Service string
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s service returned %d %s", e.Service, e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("%s service returned %d: %s", e.Service, e.Code, e.Message)
}

// UserMessage implements session.Displayable.
func (e *APIError) UserMessage() string {
	if e.Message != "" && e.Code < 500 {
		return e.Message
	}
	return fmt.Sprintf("The %s service is unavailable. Please try again later.", e.Service)
}

// ValidationError reports input rejected before any request is made.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return "bookapi: " + e.Message }

// UserMessage implements session.Displayable.
func (e *ValidationError) UserMessage() string { return e.Message }

// sessionTokenSource feeds the current session token to oauth2.Transport.
type sessionTokenSource struct {
	sess Session
}

func (s sessionTokenSource) Token() (*oauth2.Token, error) {
	tok, ok := s.sess.Token()
	if !ok {
		return nil, ErrUnauthorized
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}

// requestIDTransport stamps every request with a fresh X-Request-ID.
type requestIDTransport struct {
	base http.RoundTripper
}

func (t requestIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("X-Request-ID", uuid.NewString())
	return t.base.RoundTrip(r)
}

// NewHTTPClient returns an *http.Client that authenticates as sess.
func NewHTTPClient(sess Session, timeout time.Duration, base http.RoundTripper) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Timeout: timeout,
		Transport: requestIDTransport{
			base: &oauth2.Transport{
				Source: sessionTokenSource{sess: sess},
				Base:   base,
			},
		},
	}
}

// service is the plumbing shared by every client in this package.
type service struct {
	name    string
	baseURL string
	http    *http.Client
	sess    Session
	metrics *metrics.Metrics
}

func newService(name, baseURL string, hc *http.Client, sess Session, m *metrics.Metrics) service {
	return service{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		sess:    sess,
		metrics: m,
	}
}

func (s *service) get(ctx context.Context, path string, query url.Values, target interface{}) error {
	return s.do(ctx, http.MethodGet, path, query, nil, target)
}

func (s *service) do(ctx context.Context, method, path string, query url.Values, body, target interface{}) error {
	endpoint := s.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// The token attached by the transport is normally this one; sentToken
	// reads the header back so a late 401 is matched to what was sent.
	tok, _ := s.sess.Token()

	start := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		s.metrics.ObserveAPI(s.name, 0, time.Since(start))
		if errors.Is(err, ErrUnauthorized) {
			return ErrUnauthorized
		}
		return fmt.Errorf("%s request failed: %w", s.name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	s.metrics.ObserveAPI(s.name, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		slog.Warn("backend rejected session token", // #nosec G706 -- path sanitized
			"service", s.name,
			"path", logsanitize.Sanitize(path),
			"status", resp.StatusCode,
		)
		s.sess.Invalidate(sentToken(resp, tok), fmt.Sprintf("%s service returned %d", s.name, resp.StatusCode))
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &APIError{Service: s.name, Code: resp.StatusCode, Message: authapi.ErrorMessage(data)}
	}

	if target == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", s.name, err)
	}
	return nil
}

// sentToken returns the bearer token carried by the request resp answers,
// falling back to the token read before sending.
func sentToken(resp *http.Response, fallback string) string {
	if resp.Request != nil {
		if h := resp.Request.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
	}
	return fallback
}

// userID returns the signed-in user's id or ErrUnauthorized.
func (s *service) userID() (string, error) {
	cur := s.sess.Current()
	if !cur.Authenticated() || cur.UserID == "" {
		return "", ErrUnauthorized
	}
	return cur.UserID, nil
}
