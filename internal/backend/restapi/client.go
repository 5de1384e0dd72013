// Package restapi implements the Backend B client: the new REST service
// that is replacing the legacy spreadsheet store. JSON bodies, bearer token
// auth, and proactive session teardown: a 401/403 on any call outside login
// means the token is stale, which is worse than a failed request, so the
// client fires the session-expired handler immediately.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/courseo-app/courseogo/internal/backend"
	"github.com/courseo-app/courseogo/internal/errs"
)

// errorEnvelope is the wire shape of a Backend B error response
type errorEnvelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// LoginResponse is the wire shape of a successful login
type LoginResponse struct {
	Token string                 `json:"token"`
	User  map[string]interface{} `json:"user"`
}

// Client talks to the new REST service. Construction has no side effects;
// several components hold their own copy and share nothing but the base URL.
type Client struct {
	baseURL string
	http    *http.Client

	mu               sync.Mutex
	token            string
	expiredToken     string // last token that triggered teardown
	onSessionExpired func()
}

// NewClient creates a new REST backend client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Name identifies this client as Backend B
func (c *Client) Name() string { return "B" }

// SetToken installs the bearer token used on subsequent calls
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	if token != "" && token != c.expiredToken {
		c.expiredToken = ""
	}
}

// ClearToken removes the bearer token
func (c *Client) ClearToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

// Token returns the current bearer token
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// SetSessionExpiredHandler registers the callback fired when a non-login
// call comes back 401/403. Fired at most once per stale token.
func (c *Client) SetSessionExpiredHandler(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSessionExpired = fn
}

// sessionExpired fires the teardown handler once for the current token
func (c *Client) sessionExpired() {
	c.mu.Lock()
	var fn func()
	if c.token != "" && c.token != c.expiredToken {
		c.expiredToken = c.token
		fn = c.onSessionExpired
	}
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// do executes a request, decoding {status, message} error bodies.
// isLogin suppresses the 401/403 teardown for the login call itself.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}, isLogin bool) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Network("backend B "+method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		var envelope errorEnvelope
		message := strings.TrimSpace(string(raw))
		if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Message != "" {
			message = envelope.Message
		}

		if (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) && !isLogin {
			c.sessionExpired()
			return errs.FromHTTP(resp.StatusCode, message)
		}
		if isLogin && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusBadRequest) {
			return errs.New(errs.KindAuthFailed, message)
		}
		return errs.FromHTTP(resp.StatusCode, message)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Ping checks reachability via the health endpoint
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, false)
}

// Login authenticates and returns the raw login response. It does not
// install the token: the unified auth service owns session state.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	body := map[string]string{"email": email, "password": password}
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &out, true); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, errs.New(errs.KindAuthFailed, "login response missing token")
	}
	return &out, nil
}

// Profile fetches the authenticated user's profile
func (c *Client) Profile(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/auth/profile", nil, &out, false); err != nil {
		return nil, err
	}
	return out, nil
}

// Logout invalidates the token server side. Local state is cleared by the
// unified auth service regardless of the outcome here.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, false)
}

// List fetches records for an entity type
func (c *Client) List(ctx context.Context, entityType string, q backend.Query) ([]backend.Record, error) {
	path := "/" + entityType
	if len(q.Filter) > 0 || q.Limit > 0 {
		params := url.Values{}
		for k, v := range q.Filter {
			params.Set(k, v)
		}
		if q.Limit > 0 {
			params.Set("limit", fmt.Sprintf("%d", q.Limit))
		}
		path += "?" + params.Encode()
	}

	var out []backend.Record
	if err := c.do(ctx, http.MethodGet, path, nil, &out, false); err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches a single record by id
func (c *Client) Get(ctx context.Context, entityType, id string) (backend.Record, error) {
	var out backend.Record
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/%s/%s", entityType, id), nil, &out, false); err != nil {
		return nil, err
	}
	return out, nil
}

// Create inserts a new record
func (c *Client) Create(ctx context.Context, entityType string, payload backend.Record) (backend.Record, error) {
	var out backend.Record
	if err := c.do(ctx, http.MethodPost, "/"+entityType, payload, &out, false); err != nil {
		return nil, err
	}
	return out, nil
}

// Update patches an existing record
func (c *Client) Update(ctx context.Context, entityType, id string, payload backend.Record) (backend.Record, error) {
	var out backend.Record
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/%s/%s", entityType, id), payload, &out, false); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a record
func (c *Client) Delete(ctx context.Context, entityType, id string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/%s/%s", entityType, id), nil, nil, false)
}

// UploadAsset pushes raw asset bytes to the asset store and returns the
// canonical URL the service assigned
func (c *Client) UploadAsset(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/assets?filename="+url.QueryEscape(filename), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errs.Network("backend B asset upload", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			c.sessionExpired()
		}
		return "", errs.FromHTTP(resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if out.URL == "" {
		return "", errs.New(errs.KindValidationRejected, "upload response missing url")
	}
	return out.URL, nil
}
