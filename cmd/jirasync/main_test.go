package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/sets"
	testingclock "k8s.io/utils/clock/testing"
	"k8s.io/utils/ptr"

	"github.com/petr-muller/jirasync/internal/jirasync/jira"
	"github.com/petr-muller/jirasync/internal/jirasync/service"
	"github.com/petr-muller/jirasync/internal/jirasync/storage"
	"github.com/petr-muller/jirasync/internal/jirasync/tracker"
	"github.com/petr-muller/jirasync/internal/jirasync/transport"
	"github.com/petr-muller/jirasync/internal/jirasync/watch"
	"github.com/petr-muller/jirasync/internal/mappings"
)

func TestDetermineProject(t *testing.T) {
	tests := []struct {
		name            string
		componentName   string
		providedProject string
		mappings        map[string]string
		expectedProject string
		expectError     bool
	}{
		{
			name:        "no component, no provided project",
			expectError: true,
		},
		{
			name:            "no component, with provided project",
			providedProject: "TEST",
			expectedProject: "TEST",
		},
		{
			name:          "component with no mapping, no provided project",
			componentName: "test-component",
			expectError:   true,
		},
		{
			name:            "component with mapping, no provided project",
			componentName:   "test-component",
			mappings:        map[string]string{"test-component": "MAPPED"},
			expectedProject: "MAPPED",
		},
		{
			name:            "provided project wins over mapping",
			componentName:   "test-component",
			providedProject: "PROVIDED",
			mappings:        map[string]string{"test-component": "MAPPED"},
			expectedProject: "PROVIDED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mappings.NewMappings()
			for comp, proj := range tt.mappings {
				m.SetComponentMapping(comp, proj)
			}

			result, err := determineProject(tt.componentName, tt.providedProject, m)

			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if result != tt.expectedProject {
				t.Errorf("expected project %q, got %q", tt.expectedProject, result)
			}
		})
	}
}

func TestDetermineIssueType(t *testing.T) {
	tests := []struct {
		name         string
		providedType string
		mappings     map[string]string
		expectedType string
	}{
		{name: "no mapping, default type", providedType: defaultIssueType, expectedType: defaultIssueType},
		{name: "no mapping, explicit type", providedType: "Bug", expectedType: "Bug"},
		{name: "mapping replaces default", providedType: defaultIssueType, mappings: map[string]string{"TEST": "Story"}, expectedType: "Story"},
		{name: "explicit type wins over mapping", providedType: "Bug", mappings: map[string]string{"TEST": "Story"}, expectedType: "Bug"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mappings.NewMappings()
			for proj, issueType := range tt.mappings {
				m.SetIssueTypeMapping(proj, issueType)
			}
			result := determineIssueType("TEST", tt.providedType, m)

			if result != tt.expectedType {
				t.Errorf("expected issue type %q, got %q", tt.expectedType, result)
			}
		})
	}
}

func TestRememberMappings(t *testing.T) {
	tests := []struct {
		name            string
		componentName   string
		providedProject string
		issueType       string
		existing        map[string]string
		expectChanged   bool
		expectComponent string
		expectType      string
	}{
		{
			name:            "new component and type",
			componentName:   "comp",
			providedProject: "TEST",
			issueType:       "Bug",
			expectChanged:   true,
			expectComponent: "TEST",
			expectType:      "Bug",
		},
		{
			name:            "default type is not stored",
			componentName:   "comp",
			providedProject: "TEST",
			issueType:       defaultIssueType,
			expectChanged:   true,
			expectComponent: "TEST",
		},
		{
			name:            "existing component mapping is kept",
			componentName:   "comp",
			providedProject: "OTHER",
			issueType:       defaultIssueType,
			existing:        map[string]string{"comp": "TEST"},
			expectComponent: "TEST",
		},
		{
			name:            "mapped project gets the type",
			componentName:   "comp",
			issueType:       "Story",
			existing:        map[string]string{"comp": "TEST"},
			expectChanged:   true,
			expectComponent: "TEST",
			expectType:      "Story",
		},
		{
			name:      "nothing to remember",
			issueType: defaultIssueType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mappings.NewMappings()
			for comp, proj := range tt.existing {
				m.SetComponentMapping(comp, proj)
			}

			changed := rememberMappings(tt.componentName, tt.providedProject, tt.issueType, m)

			if changed != tt.expectChanged {
				t.Errorf("expected changed to be %t, got %t", tt.expectChanged, changed)
			}
			if result := m.ProjectForComponent(tt.componentName); result != tt.expectComponent {
				t.Errorf("expected component mapping %q, got %q", tt.expectComponent, result)
			}
			if result := m.IssueTypeForProject("TEST"); result != tt.expectType {
				t.Errorf("expected issue type mapping %q, got %q", tt.expectType, result)
			}
		})
	}
}

func TestParseFields(t *testing.T) {
	fields, err := parseFields([]string{`labels=["a","b"]`, "customfield_1=plain text", "points=3", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"labels":        json.RawMessage(`["a","b"]`),
		"customfield_1": "plain text",
		"points":        json.RawMessage(`3`),
		"empty":         "",
	}, fields)

	none, err := parseFields(nil)
	require.NoError(t, err)
	assert.Nil(t, none)

	for _, bad := range []string{"novalue", "=x"} {
		_, err := parseFields([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestReadToken(t *testing.T) {
	token, err := readToken([]string{" arg-token "}, strings.NewReader("ignored"))
	require.NoError(t, err)
	assert.Equal(t, "arg-token", token)

	token, err = readToken(nil, strings.NewReader("stdin-token\nsecond line\n"))
	require.NoError(t, err)
	assert.Equal(t, "stdin-token", token)

	_, err = readToken(nil, strings.NewReader(""))
	assert.Error(t, err)
}

func TestPrintResult(t *testing.T) {
	view := newIssueView(tracker.Issue{
		Key:     "ABC-1",
		Summary: ptr.To("Login fails"),
		Status:  ptr.To("Open"),
		Fields:  map[string]json.RawMessage{"project": json.RawMessage(`{"key":"ABC"}`)},
	})

	t.Run("text", func(t *testing.T) {
		opts.output = outputText
		var buf bytes.Buffer
		require.NoError(t, printResult(&buf, view, func(w io.Writer) { printIssueLine(w, view) }))
		assert.Equal(t, "ABC-1        Open             Login fails\n", buf.String())
	})

	t.Run("yaml", func(t *testing.T) {
		opts.output = outputYAML
		t.Cleanup(func() { opts.output = outputText })
		var buf bytes.Buffer
		require.NoError(t, printResult(&buf, view, func(io.Writer) { t.Fatal("text printer called") }))
		assert.Equal(t, "key: ABC-1\nsummary: Login fails\nstatus: Open\nproject: ABC\n", buf.String())
	})
}

func TestPrintEvents(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	events := make(chan watch.Event, 2)
	events <- watch.StatusChanged{Key: "ABC-1", OldStatus: ptr.To("Open"), NewStatus: ptr.To("Done"), ObservedAt: at}
	close(events)

	var buf bytes.Buffer
	require.NoError(t, printEvents(context.Background(), &buf, events))
	assert.Equal(t, "09:00:00 ABC-1 status: Open -> Done\n", buf.String())
}

func TestPrintComments(t *testing.T) {
	var buf bytes.Buffer
	printComments(&buf, []tracker.Comment{{ID: "1", Author: "Jane Doe", Body: "Looks good"}, {ID: "2", Body: "ping"}})
	assert.Equal(t, "[1] Jane Doe:\nLooks good\n\n[2] unknown:\nping\n\n", buf.String())

	buf.Reset()
	printComments(&buf, nil)
	assert.Equal(t, "No comments\n", buf.String())
}

func TestShutdownDrainsBlockedDelivery(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	var polls atomic.Int32
	getter := watch.GetterFunc(func(context.Context, string) (tracker.Issue, error) {
		status := "Open"
		if polls.Add(1)%2 == 0 {
			status = "Done"
		}
		return tracker.Issue{Key: "ABC-1", Status: ptr.To(status)}, nil
	})

	// nobody reads events, so the first delivery blocks
	events := make(chan watch.Event)
	engine := watch.New(getter, watch.ChannelSink(events),
		watch.WithConfig(watch.Config{Interval: 5 * time.Millisecond}),
		watch.WithLogger(logrus.NewEntry(logger)),
	)
	require.NoError(t, engine.Start(context.Background()))
	require.NoError(t, engine.Watch("ABC-1"))

	require.Eventually(t, func() bool { return polls.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		shutdown(engine, events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not return")
	}
	assert.False(t, engine.Watching("ABC-1"))
}

// registry is a concurrency safe service.Watcher
type registry struct {
	mu      sync.Mutex
	watched sets.Set[string]
}

func (r *registry) Watch(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watched.Insert(key)
	return nil
}

func (r *registry) Unwatch(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.watched.Has(key) {
		return false
	}
	r.watched.Delete(key)
	return true
}

func (r *registry) Watching(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watched.Has(key)
}

func (r *registry) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sets.List(r.watched)
}

func TestRefreshMembershipFollowsQuery(t *testing.T) {
	var mu sync.Mutex
	matching := []string{"ABC-1", "ABC-3"}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		issues := make([]string, 0, len(matching))
		for _, key := range matching {
			issues = append(issues, `{"key":"`+key+`","fields":{"status":{"name":"Open"}}}`)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"startAt":0,"total":2,"issues":[`+strings.Join(issues, ",")+`]}`)
	}))
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	tr, err := transport.New(server.URL, transport.BearerAuth{Token: "t"}, transport.WithLogger(logrus.NewEntry(logger)))
	require.NoError(t, err)
	svc := service.NewService(jira.NewClient(tr, jira.WithLogger(logrus.NewEntry(logger))), storage.NewStore(t.TempDir()),
		service.WithLogger(logrus.NewEntry(logger)))

	engine := &registry{watched: sets.New("ABC-1", "ABC-2")}
	started := []tracker.Issue{{Key: "ABC-1"}, {Key: "ABC-2"}}
	list := storage.WatchList{Name: "team", JQL: "project = ABC"}
	fakeClock := testingclock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		refreshMembership(ctx, svc, engine, list, started, time.Minute, fakeClock)
		close(done)
	}()

	require.Eventually(t, fakeClock.HasWaiters, 2*time.Second, time.Millisecond)
	fakeClock.Step(time.Minute)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"ABC-1", "ABC-3"}, engine.keys())
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh loop did not stop")
	}
}
