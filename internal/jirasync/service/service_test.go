package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/sets"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/petr-muller/jirasync/internal/config"
	"github.com/petr-muller/jirasync/internal/jirasync/apierror"
	"github.com/petr-muller/jirasync/internal/jirasync/jira"
	"github.com/petr-muller/jirasync/internal/jirasync/storage"
	"github.com/petr-muller/jirasync/internal/jirasync/transport"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeTracker answers searches with whatever keys are currently set
type fakeTracker struct {
	mu   sync.Mutex
	keys []string
	jql  []string
}

func (f *fakeTracker) setKeys(keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = keys
}

func (f *fakeTracker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	jql := r.URL.Query().Get("jql")
	f.jql = append(f.jql, jql)
	if strings.Contains(jql, "bogus") {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"errorMessages":["Error in the JQL Query"],"errors":{}}`)
		return
	}

	startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
	maxResults, _ := strconv.Atoi(r.URL.Query().Get("maxResults"))
	end := min(startAt+maxResults, len(f.keys))
	startAt = min(startAt, end)

	issues := make([]string, 0, end-startAt)
	for _, key := range f.keys[startAt:end] {
		issues = append(issues, `{"key":"`+key+`","fields":{"status":{"name":"Open"}}}`)
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"startAt":`+strconv.Itoa(startAt)+`,"total":`+strconv.Itoa(len(f.keys))+
		`,"issues":[`+strings.Join(issues, ",")+`]}`)
}

// fakeEngine records registrations
type fakeEngine struct {
	watched sets.Set[string]
}

func newFakeEngine(keys ...string) *fakeEngine {
	return &fakeEngine{watched: sets.New(keys...)}
}

func (f *fakeEngine) Watch(key string) error {
	if key == "" {
		return apierror.Invalid("watch", "empty key")
	}
	f.watched.Insert(key)
	return nil
}

func (f *fakeEngine) Unwatch(key string) bool {
	if !f.watched.Has(key) {
		return false
	}
	f.watched.Delete(key)
	return true
}

func (f *fakeEngine) Watching(key string) bool { return f.watched.Has(key) }

func quietLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func newTestService(t *testing.T) (*Service, *fakeTracker, *storage.Store, *clocktesting.FakePassiveClock) {
	t.Helper()
	fake := &fakeTracker{}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	tr, err := transport.New(server.URL, transport.BearerAuth{Token: "t"}, transport.WithLogger(quietLogger()))
	require.NoError(t, err)

	store := storage.NewStore(filepath.Join(t.TempDir(), "watchlists"))
	clk := clocktesting.NewFakePassiveClock(now)
	svc := NewService(jira.NewClient(tr, jira.WithLogger(quietLogger())), store,
		WithPageSize(2), WithClock(clk), WithLogger(quietLogger()))
	return svc, fake, store, clk
}

func TestSaveList(t *testing.T) {
	svc, fake, store, clk := newTestService(t)

	list, err := svc.SaveList(context.Background(), SaveListOptions{
		Name: "release",
		Keys: []string{" abc-2", "ABC-1", "abc-2", ""},
		JQL:  " project = ABC ",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC-1", "ABC-2"}, list.Keys)
	assert.Equal(t, "project = ABC", list.JQL)
	assert.Equal(t, now, list.Created)
	assert.Equal(t, []string{"project = ABC"}, fake.jql)

	stored, err := store.Load("release")
	require.NoError(t, err)
	assert.Equal(t, *list, *stored)

	clk.SetTime(now.Add(time.Hour))
	replaced, err := svc.SaveList(context.Background(), SaveListOptions{Name: "release", Keys: []string{"ABC-3"}})
	require.NoError(t, err)
	assert.Equal(t, now, replaced.Created, "creation time survives a replace")
	assert.Empty(t, replaced.JQL)
}

func TestSaveListRejects(t *testing.T) {
	tests := []struct {
		name    string
		opts    SaveListOptions
		wantErr string
	}{
		{name: "bad name", opts: SaveListOptions{Name: "../x", Keys: []string{"A-1"}}, wantErr: "invalid watch list name"},
		{name: "nothing to watch", opts: SaveListOptions{Name: "empty", Keys: []string{" "}}, wantErr: "needs issue keys or a JQL query"},
		{name: "jql rejected by tracker", opts: SaveListOptions{Name: "bad", JQL: "bogus ="}, wantErr: "Error in the JQL Query"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, store, _ := newTestService(t)
			_, err := svc.SaveList(context.Background(), tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.False(t, store.Exists(tt.opts.Name))
		})
	}
}

func TestResolveKeys(t *testing.T) {
	svc, fake, _, _ := newTestService(t)
	fake.setKeys("ABC-3", "ABC-1", "ABC-5", "ABC-4", "ABC-2")

	keys, err := svc.ResolveKeys(context.Background(), storage.WatchList{Keys: []string{"XYZ-9", "ABC-1"}, JQL: "project = ABC"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC-1", "ABC-2", "ABC-3", "ABC-4", "ABC-5", "XYZ-9"}, keys)

	_, err = svc.ResolveKeys(context.Background(), storage.WatchList{JQL: "bogus"})
	assert.Error(t, err)
}

func TestStartWatch(t *testing.T) {
	svc, fake, store, clk := newTestService(t)
	fake.setKeys("ABC-1", "ABC-2")
	require.NoError(t, store.Save(storage.WatchList{Name: "team", Keys: []string{"XYZ-1"}, JQL: "project = ABC", Created: now}))
	clk.SetTime(now.Add(time.Minute))

	engine := newFakeEngine()
	started, err := svc.StartWatch(context.Background(), engine, "team")
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC-1", "ABC-2", "XYZ-1"}, started.Added)
	require.Len(t, started.Issues, 2)
	assert.Equal(t, "ABC-1", started.Issues[0].Key)
	assert.Equal(t, "ABC-2", started.Issues[1].Key)
	assert.Equal(t, sets.New("ABC-1", "ABC-2", "XYZ-1"), engine.watched)

	stored, err := store.Load("team")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), stored.LastStarted)

	_, err = svc.StartWatch(context.Background(), engine, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRefreshMembership(t *testing.T) {
	svc, fake, _, _ := newTestService(t)
	list := storage.WatchList{Name: "team", Keys: []string{"ABC-2"}, JQL: "project = ABC"}
	engine := newFakeEngine()

	fake.setKeys("ABC-1", "ABC-2")
	first, err := svc.RefreshMembership(context.Background(), engine, list, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC-1", "ABC-2"}, first.Added)
	assert.Empty(t, first.Removed)

	fake.setKeys("ABC-3")
	second, err := svc.RefreshMembership(context.Background(), engine, list, first.Issues)
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC-3"}, second.Added)
	assert.Equal(t, []string{"ABC-1"}, second.Removed, "explicit keys stay watched")
	assert.Equal(t, sets.New("ABC-2", "ABC-3"), engine.watched)

	fake.setKeys("ABC-3")
	third, err := svc.RefreshMembership(context.Background(), engine, list, second.Issues)
	require.NoError(t, err)
	assert.Empty(t, third.Added)
	assert.Empty(t, third.Removed)
}

func TestRefreshMembershipAfterStartWatch(t *testing.T) {
	svc, fake, store, _ := newTestService(t)
	list := storage.WatchList{Name: "team", JQL: "project = ABC"}
	require.NoError(t, store.Save(list))
	engine := newFakeEngine()

	fake.setKeys("ABC-1", "ABC-2")
	started, err := svc.StartWatch(context.Background(), engine, "team")
	require.NoError(t, err)
	assert.Equal(t, sets.New("ABC-1", "ABC-2"), engine.watched)

	fake.setKeys("ABC-1")
	m, err := svc.RefreshMembership(context.Background(), engine, list, started.Issues)
	require.NoError(t, err)
	assert.Empty(t, m.Added)
	assert.Equal(t, []string{"ABC-2"}, m.Removed)
	assert.Equal(t, sets.New("ABC-1"), engine.watched)
}

func TestRefreshMembershipWithoutJQL(t *testing.T) {
	svc, fake, _, _ := newTestService(t)

	m, err := svc.RefreshMembership(context.Background(), newFakeEngine(), storage.WatchList{Keys: []string{"A-1"}}, nil)
	require.NoError(t, err)
	assert.Empty(t, m.Added)
	assert.Empty(t, fake.jql)
}

func TestListsAndDelete(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.SaveList(context.Background(), SaveListOptions{Name: "one", Keys: []string{"A-1"}})
	require.NoError(t, err)

	items, err := svc.Lists()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].KeyCount)

	loaded, err := svc.LoadList("one")
	require.NoError(t, err)
	assert.Equal(t, []string{"A-1"}, loaded.Keys)

	require.NoError(t, svc.DeleteList("one"))
	assert.ErrorIs(t, svc.DeleteList("one"), storage.ErrNotFound)
}

func TestEngineConfig(t *testing.T) {
	poll := config.Defaults().Poll
	cfg := EngineConfig(poll)
	assert.Equal(t, poll.Interval, cfg.Interval)
	assert.Equal(t, poll.MaxRetries, cfg.MaxRetries)
	assert.Equal(t, poll.Timeout, cfg.PollTimeout)

	poll.MaxRetries = 0
	assert.Equal(t, -1, EngineConfig(poll).MaxRetries)
}
