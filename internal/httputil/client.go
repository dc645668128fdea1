package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/lox/qmodes/internal/metrics"
)

const DefaultTimeout = 30 * time.Second

// NewClient returns an HTTP client with standard timeout configuration.
func NewClient() *http.Client {
	return &http.Client{
		Timeout: DefaultTimeout,
	}
}

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying: rate limits
// and server errors.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client wraps an http.Client with exponential backoff retries and a
// circuit breaker per remote service.
type Client struct {
	service    string
	http       *http.Client
	breaker    *gobreaker.CircuitBreaker
	metrics    *metrics.Metrics
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
}

type Option func(*Client)

// WithHTTPClient replaces the underlying client. Downloads of large
// files need one without the default timeout.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithBackOff sets the retry policy; a fresh policy is built per request.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = f }
}

func NewRetryClient(service string, opts ...Option) *Client {
	c := &Client{
		service: service,
		http:    NewClient(),
		logger:  slog.Default(),
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 2 * time.Minute
			return bo
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    service,
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// client errors say nothing about the health of the service
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return !se.Retryable()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed", "service", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// RequestFunc builds a fresh request for each attempt.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Do sends the request, retrying network errors, 429 and 5xx responses.
// Other non-2xx responses fail immediately with a *StatusError. The
// caller closes the returned body.
func (c *Client) Do(ctx context.Context, build RequestFunc) (*http.Response, error) {
	var resp *http.Response
	operation := func() error {
		r, err := c.attempt(ctx, build)
		if err != nil {
			var se *StatusError
			switch {
			case ctx.Err() != nil:
				return backoff.Permanent(ctx.Err())
			case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
				return backoff.Permanent(fmt.Errorf("%s: %w", c.service, err))
			case errors.As(err, &se) && !se.Retryable():
				return backoff.Permanent(err)
			}
			c.logger.Debug("retrying request", "service", c.service, "error", err)
			return err
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, build RequestFunc) (*http.Response, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
		}
		return resp, nil
	})
	c.observe(start, err)
	if err != nil {
		return nil, err
	}
	return out.(*http.Response), nil
}

func (c *Client) observe(start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	var se *StatusError
	switch {
	case errors.As(err, &se):
		status = strconv.Itoa(se.StatusCode)
	case err != nil:
		status = "error"
	}
	c.metrics.HTTPCallsTotal.WithLabelValues(c.service, status).Inc()
	c.metrics.HTTPLatency.WithLabelValues(c.service).Observe(time.Since(start).Seconds())
}

// GetJSON decodes a JSON response into v.
func (c *Client) GetJSON(ctx context.Context, build RequestFunc, v any) error {
	resp, err := c.Do(ctx, build)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", c.service, err)
	}
	return nil
}

// DownloadFile streams the response body to path through a ".part"
// file, renamed into place once complete. It returns the bytes written.
func (c *Client) DownloadFile(ctx context.Context, build RequestFunc, path string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("create dir: %w", err)
	}
	tmp := path + ".part"

	var n int64
	operation := func() error {
		resp, err := c.Do(ctx, build)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer resp.Body.Close()

		f, err := os.Create(tmp)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create %s: %w", tmp, err))
		}
		n, err = io.Copy(f, resp.Body)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			// truncated transfer, start over
			return fmt.Errorf("download %s: %w", filepath.Base(path), err)
		}
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("rename %s: %w", tmp, err)
	}
	return n, nil
}
