package verkada

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	appLog "doorcal/internal/log"
)

const (
	DefaultBaseURL = "https://api.verkada.com"

	headerAPIKey = "x-api-key"
	headerAuth   = "x-verkada-auth"

	maxErrorBody = 512
)

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client
}

// Client talks to the access-control provider API. It is safe for
// concurrent use once Login has succeeded.
type Client struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration

	mu    sync.RWMutex
	token string
}

// StatusError is returned for a non-2xx response that was not retried or
// ran out of retries.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("verkada %s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// NewClient creates a new provider client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		client:     hc,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
	}
}

// Login exchanges the API key for a session token used by later calls.
func (c *Client) Login(ctx context.Context) error {
	if c.apiKey == "" {
		return errors.New("verkada api key is empty")
	}
	appLog.Info("logging in to verkada", "base_url", c.baseURL)

	body, err := c.do(ctx, http.MethodPost, "token", false)
	if err != nil {
		return errors.Wrap(err, "verkada login")
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return errors.Wrap(err, "decode verkada token")
	}
	if tr.Token == "" {
		return errors.New("verkada login returned an empty token")
	}

	c.mu.Lock()
	c.token = tr.Token
	c.mu.Unlock()
	return nil
}

// getJSON GETs an endpoint relative to the base URL and decodes the body
// into out.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	appLog.Debug("GET verkada endpoint", "endpoint", endpoint)
	body, err := c.do(ctx, http.MethodGet, endpoint, true)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "decode verkada %s", endpoint)
	}
	return nil
}

// do performs one request, retrying 429 and 5xx responses and transport
// errors with exponential backoff.
func (c *Client) do(ctx context.Context, method, endpoint string, authed bool) ([]byte, error) {
	url := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	delay := c.backoff

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, retry, err := c.once(ctx, method, url, endpoint, authed)
		if err == nil {
			return body, nil
		}
		if !retry || attempt >= c.maxRetries {
			return nil, err
		}

		appLog.Warn("verkada request failed, retrying", "endpoint", endpoint, "attempt", attempt+1, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (c *Client) once(ctx context.Context, method, url, endpoint string, authed bool) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set(headerAPIKey, c.apiKey)
	if authed {
		c.mu.RLock()
		token := c.token
		c.mu.RUnlock()
		if token == "" {
			return nil, false, errors.New("verkada client is not logged in")
		}
		req.Header.Set(headerAuth, token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, errors.Wrapf(err, "verkada %s", endpoint)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, errors.Wrapf(err, "read verkada %s", endpoint)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, false, nil
	}

	retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return nil, retry, &StatusError{
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
		Body:       truncate(bytes.TrimSpace(body)),
	}
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
