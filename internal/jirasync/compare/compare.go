package compare

import (
	"slices"

	"github.com/petr-muller/jirasync/internal/jirasync/tracker"
)

// Field names reported in a Change
const (
	FieldStatus      = "status"
	FieldSummary     = "summary"
	FieldDescription = "description"
	FieldAssignee    = "assignee"
	FieldPriority    = "priority"
)

// Change is a difference in one attribute between two observations of the
// same issue. Nil values mean the attribute was absent.
type Change struct {
	Field    string
	OldValue *string
	NewValue *string
}

// Result is the difference between two observations of a set of issues
type Result struct {
	NewIssues     []tracker.Issue
	RemovedIssues []tracker.Issue
	ChangedIssues map[string][]Change
}

// Snapshots compares the current issues with a previous observation. New
// and removed issues keep the order of the input they came from.
func Snapshots(current, previous []tracker.Issue) Result {
	currentMap := make(map[string]tracker.Issue, len(current))
	previousMap := make(map[string]tracker.Issue, len(previous))

	for _, issue := range current {
		currentMap[issue.Key] = issue
	}
	for _, issue := range previous {
		previousMap[issue.Key] = issue
	}

	result := Result{ChangedIssues: map[string][]Change{}}

	for _, issue := range current {
		previousIssue, exists := previousMap[issue.Key]
		if !exists {
			result.NewIssues = append(result.NewIssues, issue)
			continue
		}
		if changes := Issues(previousIssue, issue); len(changes) > 0 {
			result.ChangedIssues[issue.Key] = changes
		}
	}

	for _, issue := range previous {
		if _, exists := currentMap[issue.Key]; !exists {
			result.RemovedIssues = append(result.RemovedIssues, issue)
		}
	}

	return result
}

// Issues compares two observations of one issue and returns the changed
// attributes, status first.
func Issues(previous, current tracker.Issue) []Change {
	var changes []Change

	changes = appendIfChanged(changes, FieldStatus, previous.Status, current.Status)
	changes = appendIfChanged(changes, FieldSummary, previous.Summary, current.Summary)
	changes = appendIfChanged(changes, FieldDescription, previous.Description, current.Description)
	changes = appendIfChanged(changes, FieldAssignee, named(previous.Assignee), named(current.Assignee))
	changes = appendIfChanged(changes, FieldPriority, named(previous.Priority), named(current.Priority))

	return changes
}

// Find returns the change of the given field, if any.
func Find(changes []Change, field string) (Change, bool) {
	i := slices.IndexFunc(changes, func(c Change) bool { return c.Field == field })
	if i < 0 {
		return Change{}, false
	}
	return changes[i], true
}

// HasChanges returns true if there are any changes in the result
func HasChanges(result Result) bool {
	return len(result.NewIssues) > 0 || len(result.RemovedIssues) > 0 || len(result.ChangedIssues) > 0
}

func appendIfChanged(changes []Change, field string, before, after *string) []Change {
	if equal(before, after) {
		return changes
	}
	return append(changes, Change{Field: field, OldValue: before, NewValue: after})
}

func equal(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func named(get func() (string, bool)) *string {
	value, ok := get()
	if !ok {
		return nil
	}
	return &value
}
