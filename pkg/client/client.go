package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/loykin/twinwatch/internal/registry"
)

// ErrNotFound is returned when the daemon does not track the process id.
var ErrNotFound = registry.ErrNotFound

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Client talks to a running twinwatch daemon.
type Client struct {
	baseURL string
	token   string
	user    string
	pass    string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
	// Token is sent as a bearer token when set.
	Token string
	// Username/Password are sent as HTTP basic auth when Token is empty.
	Username string
	Password string
	TLS      *TLSClientConfig
}

// TLSClientConfig holds TLS settings for https daemons.
type TLSClientConfig struct {
	CACert     string
	ServerName string
	SkipVerify bool
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8090/api",
		Timeout: 30 * time.Second,
	}
}

// New creates a client. TLS settings that cannot be loaded are an error.
func New(config Config) (*Client, error) {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.TLS != nil {
		tc, err := setupClientTLS(*config.TLS)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tc
	}
	return &Client{
		baseURL: config.BaseURL,
		token:   config.Token,
		user:    config.Username,
		pass:    config.Password,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
	}, nil
}

// IsReachable checks whether the daemon answers on its status endpoint.
func (c *Client) IsReachable(ctx context.Context) bool {
	var st Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &st)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		// auth failures still prove the daemon is up
		return apiErr.StatusCode != http.StatusNotFound
	}
	return err == nil
}

// Status returns the daemon's watchdog snapshot.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

// Process returns the status of one tracked process.
func (c *Client) Process(ctx context.Context, id string) (ProcessStatus, error) {
	var ps ProcessStatus
	err := c.do(ctx, http.MethodGet, "/processes/"+url.PathEscape(id), nil, &ps)
	return ps, err
}

// RunOnce triggers a synchronous check pass on the daemon.
func (c *Client) RunOnce(ctx context.Context) (RunResult, error) {
	var res RunResult
	err := c.do(ctx, http.MethodPost, "/run-once", nil, &res)
	return res, err
}

// SetInterval changes the daemon's check interval and returns the applied value.
func (c *Client) SetInterval(ctx context.Context, d time.Duration) (time.Duration, error) {
	q := url.Values{"seconds": {strconv.FormatFloat(d.Seconds(), 'f', -1, 64)}}
	var resp IntervalResponse
	if err := c.do(ctx, http.MethodPost, "/interval?"+q.Encode(), nil, &resp); err != nil {
		return 0, err
	}
	return time.Duration(resp.IntervalSeconds * float64(time.Second)), nil
}

// UpdatePID tells the daemon that id now runs as pid.
func (c *Client) UpdatePID(ctx context.Context, id string, pid int) error {
	body := map[string]int{"pid": pid}
	return c.do(ctx, http.MethodPost, "/processes/"+url.PathEscape(id)+"/pid", body, nil)
}

// Unregister stops tracking id. Unknown ids are not an error.
func (c *Client) Unregister(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/processes/"+url.PathEscape(id), nil, nil)
}

// History returns recent restart events, newest first. An empty id
// returns events for every process; limit <= 0 uses the daemon default.
func (c *Client) History(ctx context.Context, id string, limit int) ([]HistoryEvent, error) {
	q := url.Values{}
	if id != "" {
		q.Set("process", id)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []HistoryEvent
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Login exchanges username/password for a bearer token and uses it for
// subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) (Token, error) {
	var tok Token
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/login", body, &tok); err != nil {
		return Token{}, err
	}
	c.token = tok.Value
	return tok, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.user != "":
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) handleErrorResponse(resp *http.Response) error {
	var er ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&er)
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: er.Error}
	c.logger.Debug("API request failed", "status", resp.StatusCode, "error", er.Error)
	if resp.StatusCode == http.StatusNotFound && er.Error == ErrNotFound.Error() {
		return fmt.Errorf("%w: %w", ErrNotFound, apiErr)
	}
	return apiErr
}

func setupClientTLS(cfg TLSClientConfig) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: cfg.ServerName}
	if cfg.SkipVerify {
		// #nosec G402 explicit opt-in for self-signed daemons
		tc.InsecureSkipVerify = true
	}
	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("parse CA certificate")
		}
		tc.RootCAs = pool
	}
	return tc, nil
}
