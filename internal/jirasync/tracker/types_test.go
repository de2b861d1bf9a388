package tracker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"k8s.io/utils/ptr"
)

func TestIssueNamedFields(t *testing.T) {
	issue := Issue{
		Key: "ABC-1",
		Fields: map[string]json.RawMessage{
			"project":   json.RawMessage(`{"key":"ABC","name":"Alphabet"}`),
			"issuetype": json.RawMessage(`{"name":"Bug"}`),
			"assignee":  json.RawMessage(`{"name":"jdoe"}`),
			"priority":  json.RawMessage(`null`),
		},
	}

	project, ok := issue.ProjectKey()
	assert.True(t, ok)
	assert.Equal(t, "ABC", project)

	issueType, ok := issue.IssueType()
	assert.True(t, ok)
	assert.Equal(t, "Bug", issueType)

	assignee, ok := issue.Assignee()
	assert.True(t, ok)
	assert.Equal(t, "jdoe", assignee)

	_, ok = issue.Priority()
	assert.False(t, ok, "null priority is absent")
}

func TestIssueClone(t *testing.T) {
	original := Issue{
		Key:    "ABC-1",
		Status: ptr.To("Open"),
		Fields: map[string]json.RawMessage{"labels": json.RawMessage(`["a"]`)},
	}
	clone := original.Clone()
	*clone.Status = "Done"
	clone.Fields["labels"][2] = 'b'

	assert.Equal(t, "Open", original.StatusName())
	assert.Equal(t, `["a"]`, string(original.Fields["labels"]))
}

func TestCreateRequestMissingFields(t *testing.T) {
	tests := []struct {
		name     string
		request  CreateRequest
		expected []string
	}{
		{
			name:    "complete",
			request: CreateRequest{Project: "ABC", Summary: "s", IssueType: "Task"},
		},
		{
			name:     "no project",
			request:  CreateRequest{Summary: "s", IssueType: "Task"},
			expected: []string{"project"},
		},
		{
			name:     "blank summary",
			request:  CreateRequest{Project: "ABC", Summary: "  ", IssueType: "Task"},
			expected: []string{"summary"},
		},
		{
			name:     "nothing",
			request:  CreateRequest{Description: ptr.To("only a description")},
			expected: []string{"project", "summary", "issuetype"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.request.MissingFields())
		})
	}
}

func TestUpdateRequestIsEmpty(t *testing.T) {
	assert.True(t, UpdateRequest{}.IsEmpty())
	assert.True(t, UpdateRequest{Fields: map[string]any{}}.IsEmpty())
	assert.False(t, UpdateRequest{Description: ptr.To("")}.IsEmpty(), "clearing a field is a change")
	assert.Equal(t,
		[]string{"summary", "labels", "priority"},
		UpdateRequest{Summary: ptr.To("x"), Fields: map[string]any{"priority": nil, "labels": nil}}.FieldNames())
}

func TestQueryJQL(t *testing.T) {
	tests := []struct {
		name     string
		query    Query
		expected string
	}{
		{
			name:     "empty",
			query:    Query{},
			expected: "",
		},
		{
			name:     "project only",
			query:    Query{Project: "ABC"},
			expected: `project = "ABC"`,
		},
		{
			name:     "project and statuses",
			query:    Query{Project: "ABC", Statuses: []string{"Open", "In Progress"}},
			expected: `project = "ABC" AND status in ("Open", "In Progress")`,
		},
		{
			name:     "filter is wrapped when combined",
			query:    Query{Project: "ABC", Filter: "assignee = currentUser() OR reporter = currentUser()"},
			expected: `project = "ABC" AND (assignee = currentUser() OR reporter = currentUser())`,
		},
		{
			name:     "filter alone is untouched",
			query:    Query{Filter: "labels = foo", OrderBy: "key ASC"},
			expected: `labels = foo ORDER BY key ASC`,
		},
		{
			name:     "quotes are escaped",
			query:    Query{Statuses: []string{`Say "hi"`}},
			expected: `status in ("Say \"hi\"")`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.query.JQL())
		})
	}
}
