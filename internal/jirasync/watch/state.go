package watch

import (
	"strconv"
	"time"

	"github.com/petr-muller/jirasync/internal/jirasync/tracker"
)

// State is where a watch is in its poll cycle.
type State int

const (
	// Idle waits for the next poll.
	Idle State = iota
	// Polling has a request in flight.
	Polling
	// Unchanged means the last poll observed nothing new.
	Unchanged
	// Changed means the last poll emitted at least one event.
	Changed
	// Failed means the last poll failed and a retry is scheduled.
	Failed
	// Suspended watches do not poll until resumed.
	Suspended
)

var stateNames = [...]string{"Idle", "Polling", "Unchanged", "Changed", "Failed", "Suspended"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
	return stateNames[s]
}

// PollState is the last observation of one key. It is owned by the
// watch goroutine of that key.
type PollState struct {
	Key                 string
	LastObservedStatus  *string
	LastObservedSummary *string
	LastPolledAt        time.Time
	// Observed is false until the first successful poll.
	Observed bool
}

func (p *PollState) record(issue tracker.Issue, at time.Time) {
	observed := issue.Clone()
	p.LastObservedStatus = observed.Status
	p.LastObservedSummary = observed.Summary
	p.LastPolledAt = at
	p.Observed = true
}

// Status is a point-in-time view of a watch, safe to share.
type Status struct {
	Key          string
	State        State
	LastStatus   *string
	LastSummary  *string
	LastPolledAt time.Time
	// Failures counts consecutive failed polls.
	Failures   int
	NextPollAt time.Time
	LastError  error
}
