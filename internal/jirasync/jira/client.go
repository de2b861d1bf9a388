// Package jira is the issue client: typed CRUD, search and workflow calls
// against a Jira-compatible tracker. It classifies every failure through
// apierror and never retries; retry policy belongs to the caller.
package jira

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/petr-muller/jirasync/internal/jirasync/apierror"
	"github.com/petr-muller/jirasync/internal/jirasync/codec"
	"github.com/petr-muller/jirasync/internal/jirasync/tracker"
	"github.com/petr-muller/jirasync/internal/jirasync/transport"
)

const apiBase = "/rest/api/2"

// Client talks to the tracker through a Transport
type Client struct {
	transport transport.Transport
	clock     clock.PassiveClock
	logger    *logrus.Entry
}

// Option customizes a Client
type Option func(*Client)

// WithLogger sets the client logger
func WithLogger(logger *logrus.Entry) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClock sets the clock used to interpret Retry-After dates
func WithClock(clk clock.PassiveClock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// NewClient creates a new client on top of an explicitly constructed transport
func NewClient(t transport.Transport, opts ...Option) *Client {
	c := &Client{
		transport: t,
		clock:     clock.RealClock{},
		logger:    logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetIssue fetches a single issue
func (c *Client) GetIssue(ctx context.Context, key string) (tracker.Issue, error) {
	const op = "get issue"
	if err := validateKey(op, key); err != nil {
		return tracker.Issue{}, err
	}

	resp, err := c.send(ctx, op, key, transport.Request{Method: http.MethodGet, Path: issuePath(key)})
	if err != nil {
		return tracker.Issue{}, err
	}

	issue, err := codec.DecodeIssue(resp.Body)
	if err != nil {
		return tracker.Issue{}, decodeFailure(op, key, err)
	}
	return issue, nil
}

// CreateIssue creates an issue and returns its reference. Requests missing
// a required attribute fail locally without touching the network.
func (c *Client) CreateIssue(ctx context.Context, req tracker.CreateRequest) (tracker.IssueRef, error) {
	const op = "create issue"
	if missing := req.MissingFields(); len(missing) > 0 {
		return tracker.IssueRef{}, apierror.Invalid(op, "missing required fields: %s", strings.Join(missing, ", "))
	}

	body, err := codec.EncodeCreate(req)
	if err != nil {
		return tracker.IssueRef{}, apierror.Wrap(apierror.InvalidRequest, op, err)
	}

	resp, err := c.send(ctx, op, "", transport.Request{Method: http.MethodPost, Path: apiBase + "/issue", Body: body})
	if err != nil {
		return tracker.IssueRef{}, err
	}

	ref, err := codec.DecodeCreated(resp.Body)
	if err != nil {
		return tracker.IssueRef{}, decodeFailure(op, "", err)
	}
	c.logger.WithFields(logrus.Fields{"key": ref.Key, "project": req.Project}).Info("Created issue")
	return ref, nil
}

// UpdateIssue applies a sparse update. An empty update is rejected
// locally. A 404 here means the caller addressed a key that does not
// exist, so it is reported as InvalidRequest rather than NotFound.
func (c *Client) UpdateIssue(ctx context.Context, key string, req tracker.UpdateRequest) error {
	const op = "update issue"
	if err := validateKey(op, key); err != nil {
		return err
	}
	if req.IsEmpty() {
		return &apierror.Error{Kind: apierror.InvalidRequest, Op: op, Key: key, Message: "update sets no fields"}
	}

	body, err := codec.EncodeUpdate(req)
	if err != nil {
		return apierror.Wrap(apierror.InvalidRequest, op, err)
	}

	_, err = c.send(ctx, op, key, transport.Request{Method: http.MethodPut, Path: issuePath(key), Body: body})
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) && apiErr.Kind == apierror.NotFound {
		apiErr.Kind = apierror.InvalidRequest
		if apiErr.Message == "" {
			apiErr.Message = "invalid target"
		} else {
			apiErr.Message = "invalid target: " + apiErr.Message
		}
	}
	if err != nil {
		return err
	}
	c.logger.WithFields(logrus.Fields{"key": key, "fields": req.FieldNames()}).Debug("Updated issue")
	return nil
}

// DeleteIssue deletes an issue. Deleting a key that is already gone
// reports NotFound; whether that counts as success is up to the caller.
func (c *Client) DeleteIssue(ctx context.Context, key string) error {
	const op = "delete issue"
	if err := validateKey(op, key); err != nil {
		return err
	}
	if _, err := c.send(ctx, op, key, transport.Request{Method: http.MethodDelete, Path: issuePath(key)}); err != nil {
		return err
	}
	c.logger.WithField("key", key).Info("Deleted issue")
	return nil
}

// send performs a request and turns every non-2xx response into a
// classified error.
func (c *Client) send(ctx context.Context, op, key string, req transport.Request) (*transport.Response, error) {
	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		var apiErr *apierror.Error
		if errors.As(err, &apiErr) {
			return nil, &apierror.Error{Kind: apiErr.Kind, Op: op, Key: key, Err: apiErr.Err}
		}
		return nil, &apierror.Error{Kind: apierror.Unavailable, Op: op, Key: key, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := apierror.FromStatus(op, resp.StatusCode, resp.Header, codec.DecodeErrorMessage(resp.Body), c.clock.Now())
		apiErr.Key = key
		c.logger.WithFields(logrus.Fields{"op": op, "key": key, "status": resp.StatusCode, "kind": apiErr.Kind}).Debug("Tracker rejected request")
		return nil, apiErr
	}
	return resp, nil
}

func decodeFailure(op, key string, err error) error {
	return &apierror.Error{Kind: apierror.Decode, Op: op, Key: key, Err: err}
}

func validateKey(op, key string) error {
	if strings.TrimSpace(key) == "" {
		return apierror.Invalid(op, "issue key must not be empty")
	}
	if strings.ContainsAny(key, "/?# ") {
		return apierror.Invalid(op, "invalid issue key %q", key)
	}
	return nil
}

func issuePath(key string) string {
	return apiBase + "/issue/" + url.PathEscape(key)
}
