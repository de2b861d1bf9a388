package apierror

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStatus(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name      string
		status    int
		header    http.Header
		kind      Kind
		transient bool
		retry     time.Duration
	}{
		{name: "unauthorized", status: 401, kind: Unauthorized},
		{name: "forbidden", status: 403, kind: Unauthorized},
		{name: "not found", status: 404, kind: NotFound},
		{name: "gone", status: 410, kind: NotFound},
		{name: "bad request", status: 400, kind: InvalidRequest},
		{name: "conflict", status: 409, kind: InvalidRequest},
		{name: "request timeout", status: 408, kind: Timeout, transient: true},
		{name: "internal error", status: 500, kind: ServerError, transient: true},
		{name: "bad gateway", status: 502, kind: ServerError, transient: true},
		{name: "service unavailable", status: 503, kind: ServerError, transient: true},
		{name: "gateway timeout", status: 504, kind: ServerError, transient: true},
		{name: "rate limited without header", status: 429, kind: RateLimited, transient: true},
		{
			name:      "rate limited with seconds",
			status:    429,
			header:    http.Header{"Retry-After": []string{"7"}},
			kind:      RateLimited,
			transient: true,
			retry:     7 * time.Second,
		},
		{
			name:      "rate limited with date",
			status:    429,
			header:    http.Header{"Retry-After": []string{now.Add(90 * time.Second).Format(http.TimeFormat)}},
			kind:      RateLimited,
			transient: true,
			retry:     90 * time.Second,
		},
		{name: "redirect", status: 302, kind: Decode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := tt.header
			if header == nil {
				header = http.Header{}
			}
			err := FromStatus("get issue", tt.status, header, "boom", now)
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, tt.retry, err.RetryAfter)
			assert.Equal(t, tt.status, err.StatusCode)
		})
	}
}

func TestKindOfWrapped(t *testing.T) {
	inner := &Error{Kind: NotFound, Op: "get issue", Key: "ABC-1", StatusCode: 404, Message: "Issue does not exist"}
	wrapped := fmt.Errorf("cannot poll: %w", inner)

	assert.Equal(t, NotFound, KindOf(wrapped))
	assert.True(t, Is(wrapped, NotFound))
	assert.False(t, IsTransient(wrapped))
	assert.Equal(t, Unknown, KindOf(fmt.Errorf("plain")))
	assert.False(t, Is(nil, Unknown))
	assert.Equal(t, "get issue ABC-1: NotFound (HTTP 404): Issue does not exist", inner.Error())
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(Canceled, "search", context.Canceled)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "search: Canceled: context canceled", err.Error())
}

func TestRetryAfterOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", &Error{Kind: RateLimited, RetryAfter: 3 * time.Second})
	assert.Equal(t, 3*time.Second, RetryAfterOf(err))
	assert.Zero(t, RetryAfterOf(fmt.Errorf("plain")))
}

func TestParseRetryAfterIgnoresGarbage(t *testing.T) {
	now := time.Now()
	for _, value := range []string{"", "soon", "-5", "0", now.Add(-time.Hour).UTC().Format(http.TimeFormat)} {
		assert.Zero(t, ParseRetryAfter(http.Header{"Retry-After": []string{value}}, now), value)
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "ServerError", ServerError.String())
	assert.Equal(t, "Kind(99)", Kind(99).String())
}
