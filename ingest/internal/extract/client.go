// Package extract calls the Firecrawl extract API and turns its loosely
// typed output into event and place candidates.
//
// An extraction is a job: the submit call may answer inline, or return a
// job id that is polled until it completes, fails or runs out of attempts.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/tripsync/horosafe"
)

// DefaultBaseURL is the public Firecrawl API.
const DefaultBaseURL = "https://api.firecrawl.dev"

// ErrMissingKey is returned when no API key is configured.
var ErrMissingKey = errors.New("extract: missing API key")

// Config configures the client.
type Config struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"-"`
	Timeout     time.Duration `yaml:"timeout"`      // per HTTP call. Default: 60s.
	Interval    time.Duration `yaml:"interval"`     // between polls. Default: 1.5s.
	MaxAttempts int           `yaml:"max_attempts"` // poll attempts. Default: 40.
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Interval <= 0 {
		c.Interval = 1500 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 40
	}
}

// Client submits and polls extraction jobs.
type Client struct {
	cfg    Config
	http   *http.Client
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithSleep replaces the wait between polls (for testing).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// New creates a Client.
func New(cfg Config, opts ...Option) *Client {
	cfg.defaults()
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		sleep:  sleepCtx,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool { return c != nil && strings.TrimSpace(c.cfg.APIKey) != "" }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type request struct {
	URLs               []string `json:"urls"`
	Prompt             string   `json:"prompt"`
	Schema             any      `json:"schema"`
	AllowExternalLinks bool     `json:"allowExternalLinks"`
	IncludeSubdomains  bool     `json:"includeSubdomains"`
	EnableWebSearch    bool     `json:"enableWebSearch"`
}

type response struct {
	Success *bool           `json:"success"`
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (r *response) failed() bool { return r.Success != nil && !*r.Success }

func (r *response) errorText() string {
	if r.Error == "" {
		return "unknown error"
	}
	return r.Error
}

func hasData(d json.RawMessage) bool {
	t := bytes.TrimSpace(d)
	return len(t) > 0 && !bytes.Equal(t, []byte("null"))
}

// Extract runs one extraction and returns its data object.
func (c *Client) Extract(ctx context.Context, urls []string, prompt string, schema any) (json.RawMessage, error) {
	if !c.Enabled() {
		return nil, ErrMissingKey
	}
	j := &job{client: c, state: JobSubmitted}
	return j.run(ctx, request{URLs: urls, Prompt: prompt, Schema: schema})
}

func (c *Client) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("extract: encode: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	var req *http.Request
	var err error
	if rdr != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rdr)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, nil)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("extract: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Cache-Control", "no-store")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("extract: http: %w", err)
	}
	defer resp.Body.Close()

	data, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("extract: read body: %w", err)
	}
	return resp.StatusCode, data, nil
}
