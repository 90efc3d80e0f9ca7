// Package fetch performs outbound GETs for the ingestion engine. Every
// request, including each redirect hop, passes the configured URL validator,
// and bodies are capped.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hazyhaar/tripsync/horosafe"
)

// Result contains the outcome of a fetch.
type Result struct {
	Body        []byte
	StatusCode  int
	ContentType string
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("http %d", e.Code) }

// StatusCode extracts the HTTP status from err, or 0 if err is not a
// StatusError.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// Config configures the fetcher.
type Config struct {
	Timeout  time.Duration `yaml:"timeout"`   // HTTP timeout. Default: 30s.
	MaxBytes int64         `yaml:"max_bytes"` // Max response body size. Default: 10MB.
	// UserAgent sent with requests.
	UserAgent string `yaml:"user_agent"`
	// URLValidator vets the URL and every redirect target under the
	// request's context. Default: horosafe.Default.CheckURL.
	URLValidator func(ctx context.Context, url string) error `yaml:"-"`
	// Accept header. Default: "*/*".
	Accept string `yaml:"accept"`
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = horosafe.MaxResponseBody
	}
	if c.UserAgent == "" {
		c.UserAgent = "tripsync/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = horosafe.Default.CheckURL
	}
	if c.Accept == "" {
		c.Accept = "*/*"
	}
}

// Fetcher performs validated HTTP GETs.
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher with SSRF protection on redirects.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.Context(), req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked (SSRF): %w", err)
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Fetch validates url, then GETs it. Non-2xx responses return a
// *StatusError alongside a Result carrying the status code.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	if err := f.config.URLValidator(ctx, url); err != nil {
		return nil, fmt.Errorf("URL blocked (SSRF): %w", err)
	}
	return f.get(ctx, url)
}

// FetchChecked GETs a url the caller has already validated. Redirect hops
// are still vetted.
func (f *Fetcher) FetchChecked(ctx context.Context, url string) (*Result, error) {
	return f.get(ctx, url)
}

func (f *Fetcher) get(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", f.config.Accept)
	req.Header.Set("Cache-Control", "no-store")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Result{StatusCode: resp.StatusCode}, &StatusError{Code: resp.StatusCode}
	}

	body, err := horosafe.LimitedReadAll(resp.Body, f.config.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Result{
		Body:        body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
