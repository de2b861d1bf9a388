// Package tracker holds the domain view of remote tickets. Values in this
// package are plain data: an Issue has no identity beyond its Key and two
// Issues fetched at different times may legitimately differ.
package tracker

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
)

// Issue is one ticket as observed on the tracker. Optional attributes are
// pointers: nil means the attribute was absent from the payload, which is
// different from an empty string.
type Issue struct {
	Key         string
	Summary     *string
	Description *string
	Status      *string

	// Fields holds every other attribute of the wire "fields" object,
	// verbatim. Trackers are configurable so the set is open.
	Fields map[string]json.RawMessage
}

// IssueRef addresses an issue without carrying its content.
type IssueRef struct {
	Key string
	ID  string
}

// Field returns the raw value of an additional attribute.
func (i Issue) Field(name string) (json.RawMessage, bool) {
	raw, ok := i.Fields[name]
	if !ok || isNull(raw) {
		return nil, false
	}
	return raw, true
}

// ProjectKey returns the key of the project the issue belongs to.
func (i Issue) ProjectKey() (string, bool) {
	return i.namedField("project", "key")
}

// IssueType returns the issue type name (Bug, Story, ...).
func (i Issue) IssueType() (string, bool) {
	return i.namedField("issuetype", "name")
}

// Priority returns the priority name.
func (i Issue) Priority() (string, bool) {
	return i.namedField("priority", "name")
}

// Assignee returns the assignee display name, falling back to the user name.
func (i Issue) Assignee() (string, bool) {
	if name, ok := i.namedField("assignee", "displayName"); ok {
		return name, true
	}
	return i.namedField("assignee", "name")
}

// StatusName returns the status or an empty string when it is unknown.
func (i Issue) StatusName() string {
	return deref(i.Status)
}

// SummaryText returns the summary or an empty string when it is unknown.
func (i Issue) SummaryText() string {
	return deref(i.Summary)
}

// Clone returns a copy that shares no mutable state with i.
func (i Issue) Clone() Issue {
	out := i
	out.Summary = clonePtr(i.Summary)
	out.Description = clonePtr(i.Description)
	out.Status = clonePtr(i.Status)
	if i.Fields != nil {
		out.Fields = make(map[string]json.RawMessage, len(i.Fields))
		for name, raw := range i.Fields {
			out.Fields[name] = append(json.RawMessage(nil), raw...)
		}
	}
	return out
}

func (i Issue) namedField(field, attr string) (string, bool) {
	raw, ok := i.Field(field)
	if !ok {
		return "", false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	var value string
	if err := json.Unmarshal(obj[attr], &value); err != nil {
		return "", false
	}
	return value, true
}

// CreateRequest is the payload for creating an issue. Project, Summary and
// IssueType are required by every tracker project schema; anything else is
// optional and only sent when set.
type CreateRequest struct {
	Project     string
	Summary     string
	IssueType   string
	Description *string

	// Fields carries additional attributes in wire shape, for example
	// {"priority": {"name": "High"}}.
	Fields map[string]any
}

// MissingFields returns the names of required attributes that are not set.
func (r CreateRequest) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(r.Project) == "" {
		missing = append(missing, "project")
	}
	if strings.TrimSpace(r.Summary) == "" {
		missing = append(missing, "summary")
	}
	if strings.TrimSpace(r.IssueType) == "" {
		missing = append(missing, "issuetype")
	}
	return missing
}

// UpdateRequest is a sparse patch: attributes left nil are not touched on
// the server.
type UpdateRequest struct {
	Summary     *string
	Description *string
	Fields      map[string]any
}

// IsEmpty reports whether the request would not change anything.
func (r UpdateRequest) IsEmpty() bool {
	return r.Summary == nil && r.Description == nil && len(r.Fields) == 0
}

// FieldNames lists the attributes the request sets.
func (r UpdateRequest) FieldNames() []string {
	var names []string
	if r.Summary != nil {
		names = append(names, "summary")
	}
	if r.Description != nil {
		names = append(names, "description")
	}
	return append(names, slices.Sorted(maps.Keys(r.Fields))...)
}

// Transition is a workflow move the server currently offers for an issue.
type Transition struct {
	ID   string
	Name string
	To   string
}

// Comment is a comment on an issue.
type Comment struct {
	ID     string
	Author string
	Body   string
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
