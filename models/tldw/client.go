// Package tldw is the REST and SSE client of a tldw server.
package tldw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	AuthSingleUser = "single-user"
	AuthMultiUser  = "multi-user"

	DefaultTimeout = 60 * time.Second
)

// Config holds the connection settings of a tldw server.
type Config struct {
	ServerURL    string        `toml:"server_url" env:"TLDW_SERVER_URL"`
	APIKey       string        `toml:"api_key" env:"TLDW_API_KEY"`
	AccessToken  string        `toml:"access_token" env:"TLDW_ACCESS_TOKEN"`
	RefreshToken string        `toml:"refresh_token" env:"TLDW_REFRESH_TOKEN"`
	AuthMode     string        `toml:"auth_mode" env:"TLDW_AUTH_MODE" envDefault:"single-user"`
	Timeout      time.Duration `toml:"timeout" env:"TLDW_TIMEOUT"`
	// RequestsPerSecond caps outgoing requests. Zero disables the limit.
	RequestsPerSecond float64 `toml:"requests_per_second" env:"TLDW_REQUESTS_PER_SECOND"`
}

// APIError is returned for every non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tldw api error: status %d: %s", e.Status, e.Message)
}

// Client talks to a single tldw server. It is safe for concurrent use.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient validates cfg and returns a client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.ServerURL) == "" {
		return nil, fmt.Errorf("tldw server not configured")
	}
	if cfg.AuthMode == "" {
		cfg.AuthMode = AuthSingleUser
	}
	if cfg.AuthMode != AuthSingleUser && cfg.AuthMode != AuthMultiUser {
		return nil, fmt.Errorf("unknown auth mode %q", cfg.AuthMode)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.ServerURL, "/"),
		// Streams are bounded by the request context, not the client timeout.
		http:   &http.Client{},
		logger: logger.Named("tldw"),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

// BaseURL returns the server URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) setHeaders(req *http.Request) {
	switch {
	case c.cfg.AuthMode == AuthSingleUser && c.cfg.APIKey != "":
		req.Header.Set("X-API-KEY", c.cfg.APIKey)
	case c.cfg.AuthMode == AuthMultiUser && c.cfg.AccessToken != "":
		req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// newRequest builds a request with auth headers and a JSON body when body is
// non-nil.
func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setHeaders(req)
	return req, nil
}

// send performs req and returns the response when it is 2xx. The caller
// closes the body.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	if err := c.wait(req.Context()); err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		apiErr := &APIError{Status: resp.StatusCode, Message: errorMessage(body, resp.Status)}
		c.logger.Debug("request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode))
		return nil, apiErr
	}
	return resp, nil
}

// doJSON runs a bounded request and decodes the JSON reply into out when out
// is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func errorMessage(body []byte, status string) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		for _, v := range []interface{}{eb.Detail, eb.Error} {
			switch d := v.(type) {
			case string:
				if d != "" {
					return d
				}
			case map[string]interface{}:
				if msg, ok := d["message"].(string); ok && msg != "" {
					return msg
				}
			}
		}
		if eb.Message != "" {
			return eb.Message
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return status
}

// HealthCheck reports whether the server answers its health endpoint.
func (c *Client) HealthCheck(ctx context.Context) bool {
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/health", nil, nil); err != nil {
		c.logger.Debug("health check failed", zap.Error(err))
		return false
	}
	return true
}

// ServerInfo returns the server's root document.
func (c *Client) ServerInfo(ctx context.Context) (map[string]interface{}, error) {
	var info map[string]interface{}
	if err := c.doJSON(ctx, http.MethodGet, "/", nil, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// GetModels lists the server's models. The server answers either
// {"models": [...]} or a bare array.
func (c *Client) GetModels(ctx context.Context) ([]Model, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/llm/models", nil, &raw); err != nil {
		return nil, err
	}
	return decodeModels(raw)
}

func decodeModels(raw json.RawMessage) ([]Model, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []Model{}, nil
	}
	var list []Model
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("failed to decode models: %w", err)
		}
		return list, nil
	}
	var wrapped struct {
		Models []Model `json:"models"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode models: %w", err)
	}
	if wrapped.Models == nil {
		return []Model{}, nil
	}
	return wrapped.Models, nil
}

// IsEmbedding reports whether m is an embedding model.
func (m Model) IsEmbedding() bool {
	name := strings.ToLower(m.Name + " " + m.ID)
	if strings.Contains(name, "embed") {
		return true
	}
	for _, c := range m.Capabilities {
		if c == "embedding" {
			return true
		}
	}
	return false
}
