// Package transport moves request bytes to the tracker and response bytes
// back. It knows nothing about issues: non-2xx responses are data for the
// caller to classify, and nothing is ever retried here.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/petr-muller/jirasync/internal/jirasync/apierror"
)

// DefaultTimeout bounds a request that does not set its own timeout.
const DefaultTimeout = 30 * time.Second

// maxBodySize guards against a misbehaving server streaming forever.
const maxBodySize = 32 << 20

// Request is one call to the tracker. Path is relative to the base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
	// Timeout overrides the transport default when positive.
	Timeout time.Duration
}

// Response is a fully read response of any status.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport sends requests to the tracker.
type Transport interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// HTTP is the net/http implementation of Transport.
type HTTP struct {
	baseURL   *url.URL
	client    *http.Client
	timeout   time.Duration
	userAgent string
	logger    *logrus.Entry
}

// Option customizes an HTTP transport.
type Option func(*HTTP)

// WithTimeout sets the default per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(h *HTTP) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *logrus.Entry) Option {
	return func(h *HTTP) {
		h.logger = logger
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(h *HTTP) {
		h.userAgent = userAgent
	}
}

// WithRoundTripper replaces the base round tripper the auth strategy wraps.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(h *HTTP) {
		h.client.Transport = rt
	}
}

// New creates a transport for the tracker at baseURL. auth may be nil for
// anonymous access.
func New(baseURL string, auth Auth, opts ...Option) (*HTTP, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid tracker URL %q: %w", baseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid tracker URL %q: scheme must be http or https", baseURL)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("invalid tracker URL %q: missing host", baseURL)
	}

	h := &HTTP{
		baseURL:   parsed,
		client:    &http.Client{Transport: http.DefaultTransport},
		timeout:   DefaultTimeout,
		userAgent: "jirasync",
		logger:    logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(h)
	}
	if auth != nil {
		h.client.Transport = auth.Wrap(h.client.Transport)
		h.logger = h.logger.WithField("auth", auth.Scheme())
	}
	return h, nil
}

// Send performs req and returns the response whatever its status.
func (h *HTTP) Send(ctx context.Context, req Request) (*Response, error) {
	op := strings.TrimSpace(req.Method + " " + req.Path)

	timeout := h.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, h.url(req), body)
	if err != nil {
		return nil, apierror.Wrap(apierror.InvalidRequest, op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("User-Agent", h.userAgent)

	logger := h.logger.WithFields(logrus.Fields{"method": req.Method, "path": req.Path})
	start := time.Now()

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, callCtx, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, classify(ctx, callCtx, op, err)
	}

	logger.WithFields(logrus.Fields{
		"status":   resp.StatusCode,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("Tracker request completed")

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (h *HTTP) url(req Request) string {
	u := *h.baseURL
	u.Path = h.baseURL.Path + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}
	return u.String()
}

// classify maps a failed round trip to a Kind. parent is the caller's
// context, call is the one carrying the request timeout.
func classify(parent, call context.Context, op string, err error) error {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return apierror.Wrap(apierror.Canceled, op, err)
	case call.Err() != nil && errors.Is(call.Err(), context.DeadlineExceeded):
		return apierror.Wrap(apierror.Timeout, op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apierror.Wrap(apierror.Timeout, op, err)
	}
	return apierror.Wrap(apierror.Unavailable, op, err)
}
