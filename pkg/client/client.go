// Package client talks to a running verdadesk daemon over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client provides HTTP access to the verdadesk daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns the configuration matching the daemon's defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8181",
		Timeout: 10 * time.Second,
	}
}

// New creates a daemon API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:8181"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks whether the daemon answers on its API address.
func (c *Client) IsReachable(ctx context.Context) bool {
	var ok struct {
		OK bool `json:"ok"`
	}
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &ok); err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	return ok.OK
}

// Status returns the registry's lifecycle status.
func (c *Client) Status(ctx context.Context) (RegistryStatus, error) {
	var st RegistryStatus
	err := c.do(ctx, http.MethodGet, "/registry/status", nil, &st)
	return st, err
}

// Start launches the registry.
func (c *Client) Start(ctx context.Context, req StartRequest) (RegistryStatus, error) {
	var st RegistryStatus
	err := c.do(ctx, http.MethodPost, "/registry/start", req, &st)
	return st, err
}

// Stop terminates the registry. Stopping an already stopped registry is
// not an error.
func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/registry/stop", nil, nil)
}

// Restart stops and relaunches the registry.
func (c *Client) Restart(ctx context.Context, req StartRequest) (RegistryStatus, error) {
	var st RegistryStatus
	err := c.do(ctx, http.MethodPost, "/registry/restart", req, &st)
	return st, err
}

// Logs returns the buffered registry log, oldest first.
func (c *Client) Logs(ctx context.Context) ([]LogEntry, error) {
	var entries []LogEntry
	err := c.do(ctx, http.MethodGet, "/registry/logs", nil, &entries)
	return entries, err
}

// ClearLogs empties the registry log buffer.
func (c *Client) ClearLogs(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/registry/logs", nil, nil)
}

// Version reports the bundled verdaccio version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var resp struct {
		Version string `json:"version"`
	}
	err := c.do(ctx, http.MethodGet, "/registry/version", nil, &resp)
	return resp.Version, err
}

// RegistryConfig returns the raw verdaccio config file contents.
func (c *Client) RegistryConfig(ctx context.Context) (string, error) {
	var resp struct {
		Content string `json:"content"`
	}
	err := c.do(ctx, http.MethodGet, "/registry/config", nil, &resp)
	return resp.Content, err
}

// SaveRegistryConfig replaces the verdaccio config file contents.
func (c *Client) SaveRegistryConfig(ctx context.Context, content string) error {
	body := map[string]string{"content": content}
	return c.do(ctx, http.MethodPut, "/registry/config", body, nil)
}

// ResetRegistryConfig restores the stock verdaccio config.
func (c *Client) ResetRegistryConfig(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/registry/config/reset", nil, nil)
}

// Packages lists one page of the package catalog.
func (c *Client) Packages(ctx context.Context, q PackagesQuery) (PackagePage, error) {
	v := url.Values{}
	if q.Type != "" {
		v.Set("type", q.Type)
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(q.PageSize))
	}
	var page PackagePage
	err := c.do(ctx, http.MethodGet, "/packages?"+v.Encode(), nil, &page)
	return page, err
}

// PackageCount reports how many packages of the given type exist.
func (c *Client) PackageCount(ctx context.Context, typ string) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	err := c.do(ctx, http.MethodGet, "/packages/count?type="+url.QueryEscape(typ), nil, &resp)
	return resp.Count, err
}

// DeletePackage removes a single package from storage.
func (c *Client) DeletePackage(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/packages?name="+url.QueryEscape(name), nil, nil)
}

// DeletePackages removes every package of the given type and reports how
// many were deleted.
func (c *Client) DeletePackages(ctx context.Context, typ string) (int, error) {
	var resp struct {
		Deleted int `json:"deleted"`
	}
	err := c.do(ctx, http.MethodDelete, "/packages?type="+url.QueryEscape(typ), nil, &resp)
	return resp.Deleted, err
}

// Users lists the registry's htpasswd accounts.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var list []User
	err := c.do(ctx, http.MethodGet, "/users", nil, &list)
	return list, err
}

// UserCount reports the number of accounts.
func (c *Client) UserCount(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	err := c.do(ctx, http.MethodGet, "/users/count", nil, &resp)
	return resp.Count, err
}

// AddUser creates an account.
func (c *Client) AddUser(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	return c.do(ctx, http.MethodPost, "/users", body, nil)
}

// DeleteUser removes an account.
func (c *Client) DeleteUser(ctx context.Context, username string) error {
	return c.do(ctx, http.MethodDelete, "/users/"+url.PathEscape(username), nil, nil)
}

// SetUserPassword replaces an account's password.
func (c *Client) SetUserPassword(ctx context.Context, username, password string) error {
	body := map[string]string{"password": password}
	return c.do(ctx, http.MethodPut, "/users/"+url.PathEscape(username)+"/password", body, nil)
}

// Settings returns the persisted control panel preferences.
func (c *Client) Settings(ctx context.Context) (Settings, error) {
	var s Settings
	err := c.do(ctx, http.MethodGet, "/settings", nil, &s)
	return s, err
}

// SaveSettings persists control panel preferences.
func (c *Client) SaveSettings(ctx context.Context, s Settings) error {
	return c.do(ctx, http.MethodPut, "/settings", s, nil)
}

// do performs one JSON round trip. A nil out discards the response body;
// non-2xx responses are turned into errors carrying the daemon's message.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("API error: %s", apiErr.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
