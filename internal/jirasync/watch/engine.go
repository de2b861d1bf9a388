// Package watch polls watched issues and reports what changed. Every key
// gets its own goroutine which owns that key's PollState; the engine only
// keeps a registry of those goroutines and a queue feeding the sink.
package watch

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/petr-muller/jirasync/internal/jirasync/apierror"
	"github.com/petr-muller/jirasync/internal/jirasync/compare"
	"github.com/petr-muller/jirasync/internal/jirasync/tracker"
)

// ErrNotRunning is returned when watches are added to an engine that was
// not started or was already stopped.
var ErrNotRunning = errors.New("watch engine is not running")

// Getter fetches the current state of one issue. *jira.Client satisfies it.
type Getter interface {
	GetIssue(ctx context.Context, key string) (tracker.Issue, error)
}

// GetterFunc adapts a function to Getter.
type GetterFunc func(ctx context.Context, key string) (tracker.Issue, error)

func (f GetterFunc) GetIssue(ctx context.Context, key string) (tracker.Issue, error) {
	return f(ctx, key)
}

// Config holds the engine parameters. Zero fields take the defaults.
type Config struct {
	// Interval between two polls of a healthy watch.
	Interval time.Duration
	// BaseDelay is the first retry delay after a transient failure.
	BaseDelay time.Duration
	// MaxDelay caps every retry delay.
	MaxDelay time.Duration
	// MaxRetries is the number of retries after transient failures. The
	// failure after the last retry suspends the watch. Negative disables
	// retries.
	MaxRetries int
	// Jitter is the maximum extra fraction added to each retry delay.
	Jitter float64
	// PollTimeout bounds a single poll.
	PollTimeout time.Duration
	// QueueSize is the capacity of the event queue in front of the sink.
	QueueSize int
	// TrackSummary enables SummaryChanged events.
	TrackSummary bool
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		MaxRetries:  5,
		Jitter:      0.1,
		PollTimeout: 15 * time.Second,
		QueueSize:   64,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	c.Interval = cmp.Or(c.Interval, defaults.Interval)
	c.BaseDelay = cmp.Or(c.BaseDelay, defaults.BaseDelay)
	c.MaxDelay = cmp.Or(c.MaxDelay, defaults.MaxDelay)
	c.PollTimeout = cmp.Or(c.PollTimeout, defaults.PollTimeout)
	c.QueueSize = cmp.Or(c.QueueSize, defaults.QueueSize)
	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = defaults.MaxRetries
	case c.MaxRetries < 0:
		c.MaxRetries = 0
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// Option customizes an Engine.
type Option func(*Engine)

// WithConfig sets the engine parameters.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithClock sets the clock driving poll intervals and retry delays.
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) {
		e.clock = clk
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// Engine polls watched issues and emits events to a sink.
type Engine struct {
	getter Getter
	sink   Sink
	cfg    Config
	clock  clock.Clock
	logger *logrus.Entry

	watchers sync.Map // key -> *watcher
	queue    chan Event

	// lifecycle guards the transitions below; polling never takes it.
	lifecycle  sync.Mutex
	running    bool
	stopped    bool
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	dispatched chan struct{}
}

// New creates an engine. Start must be called before Watch.
func New(getter Getter, sink Sink, opts ...Option) *Engine {
	e := &Engine{
		getter: getter,
		sink:   sink,
		cfg:    DefaultConfig(),
		clock:  clock.RealClock{},
		logger: logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg = e.cfg.withDefaults()
	e.queue = make(chan Event, e.cfg.QueueSize)
	e.dispatched = make(chan struct{})
	return e
}

// Start launches the event dispatcher. Watches live until Stop is called
// or ctx is done.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if e.running || e.stopped {
		return errors.New("watch engine cannot be started twice")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.running = true

	go e.dispatch()
	e.logger.WithFields(logrus.Fields{
		"interval":   e.cfg.Interval,
		"maxRetries": e.cfg.MaxRetries,
		"maxDelay":   e.cfg.MaxDelay,
	}).Debug("Watch engine started")
	return nil
}

// Stop cancels every watch, waits for the watch goroutines to exit and
// for queued events to be delivered.
func (e *Engine) Stop() {
	e.lifecycle.Lock()
	if !e.running {
		e.stopped = true
		e.lifecycle.Unlock()
		return
	}
	e.running = false
	e.stopped = true
	e.cancel()
	e.lifecycle.Unlock()

	e.wg.Wait()
	close(e.queue)
	<-e.dispatched
	e.watchers.Clear()
	e.logger.Debug("Watch engine stopped")
}

// Watch starts polling key. Watching a key that is already watched is a
// no-op.
func (e *Engine) Watch(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return apierror.Invalid("watch", "issue key must not be empty")
	}

	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if !e.running {
		return ErrNotRunning
	}

	ctx, cancel := context.WithCancel(e.ctx)
	w := newWatcher(key, cancel)
	if _, loaded := e.watchers.LoadOrStore(key, w); loaded {
		cancel()
		return nil
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx, w)
	}()
	e.logger.WithField("key", key).Info("Watching issue")
	return nil
}

// Unwatch stops polling key, interrupting an in-flight poll, and returns
// once the watch goroutine has exited. It reports whether key was watched.
func (e *Engine) Unwatch(key string) bool {
	key = strings.TrimSpace(key)
	value, ok := e.watchers.LoadAndDelete(key)
	if !ok {
		return false
	}
	w := value.(*watcher)
	w.cancel()
	<-w.done
	e.logger.WithField("key", key).Info("Stopped watching issue")
	return true
}

// Resume restarts a suspended watch. It reports whether key was suspended.
func (e *Engine) Resume(key string) bool {
	value, ok := e.watchers.Load(strings.TrimSpace(key))
	if !ok {
		return false
	}
	w := value.(*watcher)
	if w.snapshot().State != Suspended {
		return false
	}
	select {
	case w.resume <- struct{}{}:
	default:
	}
	return true
}

// Watching reports whether key is registered.
func (e *Engine) Watching(key string) bool {
	_, ok := e.watchers.Load(strings.TrimSpace(key))
	return ok
}

// Statuses returns a snapshot of every watch, ordered by key.
func (e *Engine) Statuses() []Status {
	var statuses []Status
	e.watchers.Range(func(_, value any) bool {
		statuses = append(statuses, value.(*watcher).snapshot())
		return true
	})
	slices.SortFunc(statuses, func(a, b Status) int { return strings.Compare(a.Key, b.Key) })
	return statuses
}

func (e *Engine) dispatch() {
	defer close(e.dispatched)
	for ev := range e.queue {
		e.sink.Deliver(ev)
	}
}

// emit enqueues ev. Events produced after the watch was cancelled are
// dropped.
func (e *Engine) emit(ctx context.Context, ev Event) {
	select {
	case e.queue <- ev:
	case <-ctx.Done():
	}
}

// run is the watch goroutine. It is the only code touching state.
func (e *Engine) run(ctx context.Context, w *watcher) {
	defer close(w.done)

	logger := e.logger.WithField("key", w.key)
	state := PollState{Key: w.key}
	backoff := NewBackoff(e.cfg.BaseDelay, e.cfg.MaxDelay, e.cfg.Jitter)
	failures := 0
	var delay time.Duration

	for {
		if delay > 0 {
			w.publish(state, Idle, failures, e.clock.Now().Add(delay), nil)
			if !e.sleep(ctx, delay) {
				return
			}
		}

		w.publish(state, Polling, failures, time.Time{}, nil)
		outcome, err := e.poll(ctx, &state)
		if ctx.Err() != nil {
			return
		}

		if err == nil {
			failures = 0
			backoff.Reset()
			delay = e.cfg.Interval
			w.publish(state, outcome, 0, time.Time{}, nil)
			continue
		}

		failures++
		kind := apierror.KindOf(err)
		if !kind.Transient() || failures > e.cfg.MaxRetries {
			logger.WithError(err).WithFields(logrus.Fields{"kind": kind, "attempts": failures}).Warn("Suspending watch")
			// a Resume racing the previous wake-up must not end this suspension
			select {
			case <-w.resume:
			default:
			}
			e.emit(ctx, WatchFailed{
				ID:         uuid.NewString(),
				Key:        w.key,
				Err:        err,
				Kind:       kind,
				Message:    messageOf(err),
				Attempts:   failures,
				ObservedAt: e.clock.Now(),
			})
			w.publish(state, Suspended, failures, time.Time{}, err)

			select {
			case <-ctx.Done():
				return
			case <-w.resume:
			}
			logger.Info("Resuming watch")
			failures = 0
			backoff.Reset()
			delay = 0
			continue
		}

		delay = backoff.Next()
		if retryAfter := apierror.RetryAfterOf(err); retryAfter > 0 {
			delay = retryAfter
		}
		logger.WithError(err).WithFields(logrus.Fields{"kind": kind, "attempt": failures, "delay": delay}).Warn("Poll failed, retrying")
		w.publish(state, Failed, failures, e.clock.Now().Add(delay), err)
	}
}

// poll fetches the issue once and compares it with the previous
// observation. The first successful poll only records a baseline.
func (e *Engine) poll(ctx context.Context, state *PollState) (State, error) {
	pollCtx, cancel := context.WithTimeout(ctx, e.cfg.PollTimeout)
	defer cancel()

	issue, err := e.getter.GetIssue(pollCtx, state.Key)
	if err != nil {
		// Unclassified errors have Kind Unknown, which is not transient.
		return Failed, err
	}

	now := e.clock.Now()
	observed := tracker.Issue{Key: state.Key, Status: issue.Status, Summary: issue.Summary}
	previous := tracker.Issue{Key: state.Key, Status: state.LastObservedStatus, Summary: state.LastObservedSummary}
	first := !state.Observed
	state.record(issue, now)
	if first {
		return Unchanged, nil
	}

	changes := compare.Issues(previous, observed)
	outcome := Unchanged
	if change, ok := compare.Find(changes, compare.FieldStatus); ok {
		outcome = Changed
		e.emit(ctx, StatusChanged{
			ID:         uuid.NewString(),
			Key:        state.Key,
			OldStatus:  change.OldValue,
			NewStatus:  change.NewValue,
			ObservedAt: now,
		})
	}
	if change, ok := compare.Find(changes, compare.FieldSummary); ok && e.cfg.TrackSummary {
		outcome = Changed
		e.emit(ctx, SummaryChanged{
			ID:         uuid.NewString(),
			Key:        state.Key,
			OldSummary: change.OldValue,
			NewSummary: change.NewValue,
			ObservedAt: now,
		})
	}
	return outcome, nil
}

// sleep waits for d on the engine clock. It returns false if ctx ended
// first.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	timer := e.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C():
		return true
	}
}

func messageOf(err error) string {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

// watcher is the registry entry of one watched key.
type watcher struct {
	key    string
	cancel context.CancelFunc
	done   chan struct{}
	resume chan struct{}
	status atomic.Pointer[Status]
}

func newWatcher(key string, cancel context.CancelFunc) *watcher {
	w := &watcher{
		key:    key,
		cancel: cancel,
		done:   make(chan struct{}),
		resume: make(chan struct{}, 1),
	}
	w.status.Store(&Status{Key: key, State: Idle})
	return w
}

func (w *watcher) publish(state PollState, s State, failures int, next time.Time, err error) {
	w.status.Store(&Status{
		Key:          w.key,
		State:        s,
		LastStatus:   state.LastObservedStatus,
		LastSummary:  state.LastObservedSummary,
		LastPolledAt: state.LastPolledAt,
		Failures:     failures,
		NextPollAt:   next,
		LastError:    err,
	})
}

func (w *watcher) snapshot() Status {
	return *w.status.Load()
}
