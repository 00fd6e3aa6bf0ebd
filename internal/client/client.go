// Package client talks to a running persona API server over HTTP and
// follows jobs over its websocket watch stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nice-bills/chain-segment/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	DefaultBackoffMult = 2.0
)

// Client is an API client.
type Client struct {
	baseURL     string
	client      *http.Client
	dialer      *websocket.Dialer
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// WithRetries sets the retry budget and initial delay for throttled or
// unavailable responses.
func WithRetries(n int, delay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = n
		c.retryDelay = delay
	}
}

// New creates a client for the server at baseURL, e.g. http://localhost:8000.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: DefaultTimeout},
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiError struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Submit starts a job for rawAddress and returns its id.
func (c *Client) Submit(ctx context.Context, rawAddress string) (string, error) {
	body, err := json.Marshal(map[string]string{"address": rawAddress})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", body, http.StatusAccepted, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// Status returns the current job snapshot.
func (c *Client) Status(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, http.StatusOK, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Watch follows a job until it is terminal. The channel closes when the
// server ends the stream or ctx is done.
func (c *Client) Watch(ctx context.Context, jobID string) (<-chan *domain.Job, error) {
	wsURL, err := c.wsURL("/v1/jobs/" + url.PathEscape(jobID) + "/watch")
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if apiErr := decodeError(resp); apiErr != nil {
				return nil, apiErr
			}
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	ch := make(chan *domain.Job, 4)
	done := make(chan struct{})

	// Closing the connection unblocks ReadJSON when ctx ends first.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go func() {
		defer close(ch)
		defer close(done)
		defer conn.Close()
		for {
			var job domain.Job
			if err := conn.ReadJSON(&job); err != nil {
				return
			}
			select {
			case ch <- &job:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Wait follows a job and returns its terminal snapshot.
func (c *Client) Wait(ctx context.Context, jobID string) (*domain.Job, error) {
	updates, err := c.Watch(ctx, jobID)
	if err != nil {
		return nil, err
	}
	var last *domain.Job
	for job := range updates {
		last = job
	}
	if last != nil && (last.State == domain.JobCompleted || last.State == domain.JobFailed) {
		return last, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The stream dropped early; the store still has the answer.
	return c.Status(ctx, jobID)
}

// do performs one API call with retries on 429, 5xx and transport errors.
func (c *Client) do(ctx context.Context, method, path string, body []byte, want int, out any) error {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
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
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		if resp.StatusCode == want {
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}

		apiErr := decodeError(resp)
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = apiErr
			continue
		}
		return apiErr
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// decodeError turns an error body into a typed domain error when possible.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var e apiError
	if err := json.Unmarshal(raw, &e); err == nil && e.Error != "" {
		return domain.NewError(domain.ErrorKind(e.Error), e.Detail, nil)
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}

func (c *Client) wsURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.New("base url must be http or https")
	}
	return u.String(), nil
}
