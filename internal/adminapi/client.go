// Package adminapi is the cookie-authenticated HTTP client for the admin backend:
// the websocket token endpoint and the polling endpoints behind each feed
package adminapi

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
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lirancohen/adminpulse/internal/events"
)

// ErrNoToken is returned when the token endpoint answers without a token
var ErrNoToken = errors.New("ws-token response carried no token")

const (
	DefaultCookieName = "admin_session"
	DefaultTimeout    = 10 * time.Second

	wsTokenPath = "/api/v1/internal/auth/ws-token"
	loginPath   = "/dev/login"
)

// RequestError is a non-2xx answer from the backend
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Retryable reports whether the same request may succeed later. Authentication
// and validation failures will not.
func (e *RequestError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config configures a Client
type Config struct {
	// URL is the admin API base URL
	URL string
	// SessionCookie is the value of the admin session cookie, if already known
	SessionCookie string
	CookieName    string
	Timeout       time.Duration
	Logger        zerolog.Logger
	// HTTPClient overrides the default client; its timeout is left alone
	HTTPClient *http.Client
}

// Client talks to the admin backend on behalf of one signed-in admin
type Client struct {
	base       *url.URL
	cookieName string
	httpClient *http.Client
	log        zerolog.Logger

	mu      sync.RWMutex
	session string
}

// New creates a client
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("invalid admin API URL %q", cfg.URL)
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		base:       base,
		cookieName: cfg.CookieName,
		httpClient: httpClient,
		log:        cfg.Logger.With().Str("component", "adminapi").Logger(),
		session:    cfg.SessionCookie,
	}, nil
}

// BaseURL returns the API base URL
func (c *Client) BaseURL() string { return c.base.String() }

// Session returns the current session cookie value
func (c *Client) Session() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// SetSession replaces the session cookie value
func (c *Client) SetSession(value string) {
	c.mu.Lock()
	c.session = value
	c.mu.Unlock()
}

// doRequest performs an HTTP request with the session cookie attached
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	u := c.base.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session := c.Session(); session != "" {
		req.AddCookie(&http.Cookie{Name: c.cookieName, Value: session})
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("request")
	return resp, nil
}

// errorResponse is the backend's error body
type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// parseResponse reads and unmarshals a response body
func parseResponse[T any](resp *http.Response) (T, error) {
	defer func() { _ = resp.Body.Close() }()

	var result T
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		reqErr := &RequestError{
			Method:     resp.Request.Method,
			Path:       resp.Request.URL.Path,
			StatusCode: resp.StatusCode,
		}
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil {
			reqErr.Message = errResp.Message
			if reqErr.Message == "" {
				reqErr.Message = errResp.Error
			}
		} else {
			reqErr.Message = strings.TrimSpace(string(body))
		}
		return result, reqErr
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return result, fmt.Errorf("failed to parse response: %w", err)
	}
	return result, nil
}

// Login signs in through the dev backend and keeps the session cookie it sets
func (c *Client) Login(ctx context.Context, email string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, loginPath, nil, map[string]string{"email": email})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	cookies := resp.Cookies()
	if _, err := parseResponse[map[string]any](resp); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	for _, ck := range cookies {
		if ck.Name == c.cookieName && ck.Value != "" {
			c.SetSession(ck.Value)
			return nil
		}
	}
	return fmt.Errorf("login failed: no %s cookie in response", c.cookieName)
}

// WSToken fetches the short-lived token that authenticates the realtime transport
func (c *Client) WSToken(ctx context.Context) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, wsTokenPath, nil, nil)
	if err != nil {
		return "", fmt.Errorf("failed to request ws token: %w", err)
	}
	result, err := parseResponse[struct {
		Token string `json:"token"`
	}](resp)
	if err != nil {
		return "", err
	}
	if result.Token == "" {
		return "", ErrNoToken
	}
	return result.Token, nil
}

// list decodes a bare JSON array or a page object with a content array
type list[T any] []T

func (l *list[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var page struct {
			Content []T `json:"content"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return err
		}
		*l = page.Content
		return nil
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*l = items
	return nil
}

func getList[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, fmt.Errorf("GET %s failed: %w", path, err)
	}
	items, err := parseResponse[list[T]](resp)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// sinceQuery builds limit and since parameters. A zero since means a bounded full
// fetch.
func sinceQuery(limit int, since time.Time) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	return q
}

// ListActivity fetches audit log entries, newest first
func (c *Client) ListActivity(ctx context.Context, limit int, since time.Time) ([]events.AuditLogEvent, error) {
	return getList[events.AuditLogEvent](ctx, c, "/admin/activity", sinceQuery(limit, since))
}

// ListPricingEvents fetches pricing events, newest first
func (c *Client) ListPricingEvents(ctx context.Context, limit int, since time.Time) ([]events.PricingEvent, error) {
	return getList[events.PricingEvent](ctx, c, "/admin/pricing/events", sinceQuery(limit, since))
}

// ListSecurityEvents fetches security events, newest first
func (c *Client) ListSecurityEvents(ctx context.Context, limit int, since time.Time) ([]events.SecurityEvent, error) {
	return getList[events.SecurityEvent](ctx, c, "/admin/security/events", sinceQuery(limit, since))
}

// ActiveSessions fetches the admin sessions that are currently signed in
func (c *Client) ActiveSessions(ctx context.Context) ([]events.ActiveSession, error) {
	return getList[events.ActiveSession](ctx, c, "/admin/security/sessions/active", nil)
}

// ActiveExecutions fetches the running workflow executions
func (c *Client) ActiveExecutions(ctx context.Context) ([]events.Execution, error) {
	return getList[events.Execution](ctx, c, "/admin/workflows/executions/active", nil)
}

// RecentExecutions fetches the most recently started executions
func (c *Client) RecentExecutions(ctx context.Context, limit int) ([]events.Execution, error) {
	return getList[events.Execution](ctx, c, "/admin/workflows/executions/recent", sinceQuery(limit, time.Time{}))
}
