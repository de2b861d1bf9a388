package watch

import (
	"time"

	"github.com/petr-muller/jirasync/internal/jirasync/apierror"
)

// Event is something the engine observed about a watched issue.
type Event interface {
	EventID() string
	IssueKey() string
	When() time.Time
}

// StatusChanged is emitted when two consecutive successful polls of one
// key observe different statuses.
type StatusChanged struct {
	ID         string
	Key        string
	OldStatus  *string
	NewStatus  *string
	ObservedAt time.Time
}

func (e StatusChanged) EventID() string  { return e.ID }
func (e StatusChanged) IssueKey() string { return e.Key }
func (e StatusChanged) When() time.Time  { return e.ObservedAt }

// SummaryChanged is emitted when summary tracking is enabled and the
// summary differs from the previous poll.
type SummaryChanged struct {
	ID         string
	Key        string
	OldSummary *string
	NewSummary *string
	ObservedAt time.Time
}

func (e SummaryChanged) EventID() string  { return e.ID }
func (e SummaryChanged) IssueKey() string { return e.Key }
func (e SummaryChanged) When() time.Time  { return e.ObservedAt }

// WatchFailed is emitted once when a watch is suspended. Attempts counts
// the consecutive failed polls that led to the suspension.
type WatchFailed struct {
	ID         string
	Key        string
	Err        error
	Kind       apierror.Kind
	Message    string
	Attempts   int
	ObservedAt time.Time
}

func (e WatchFailed) EventID() string  { return e.ID }
func (e WatchFailed) IssueKey() string { return e.Key }
func (e WatchFailed) When() time.Time  { return e.ObservedAt }

// Sink receives events. The engine calls Deliver from a single goroutine,
// in the order events were produced for any one key.
type Sink interface {
	Deliver(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Deliver(ev Event) { f(ev) }

// ChannelSink forwards events to a channel. Delivery blocks while the
// channel is full.
type ChannelSink chan<- Event

func (c ChannelSink) Deliver(ev Event) { c <- ev }
