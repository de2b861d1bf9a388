package codec

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/andygrunwald/go-jira"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/jirasync/internal/jirasync/tracker"
)

// SearchResult is one page of a search response.
type SearchResult struct {
	StartAt    int
	MaxResults int
	Total      int
	Issues     []tracker.Issue
}

type wireSearch struct {
	StartAt    int         `json:"startAt"`
	MaxResults int         `json:"maxResults"`
	Total      *int        `json:"total"`
	Issues     []wireIssue `json:"issues"`
}

// DecodeSearch decodes a search response page.
func DecodeSearch(data []byte) (SearchResult, error) {
	var wire wireSearch
	if err := unmarshalObject(data, &wire); err != nil {
		return SearchResult{}, err
	}
	if wire.Total == nil {
		return SearchResult{}, missing("total")
	}

	result := SearchResult{
		StartAt:    wire.StartAt,
		MaxResults: wire.MaxResults,
		Total:      *wire.Total,
		Issues:     make([]tracker.Issue, 0, len(wire.Issues)),
	}
	for i, item := range wire.Issues {
		issue, err := fromWire(item)
		if err != nil {
			return SearchResult{}, fmt.Errorf("issue %d: %w", i, err)
		}
		result.Issues = append(result.Issues, issue)
	}
	return result, nil
}

// DecodeTransitions decodes the transitions currently offered for an issue.
func DecodeTransitions(data []byte) ([]tracker.Transition, error) {
	var wire struct {
		Transitions []jira.Transition `json:"transitions"`
	}
	if err := unmarshalObject(data, &wire); err != nil {
		return nil, err
	}

	transitions := make([]tracker.Transition, 0, len(wire.Transitions))
	for _, t := range wire.Transitions {
		if t.ID == "" {
			return nil, missing("transitions.id")
		}
		transitions = append(transitions, tracker.Transition{ID: t.ID, Name: t.Name, To: t.To.Name})
	}
	return transitions, nil
}

// EncodeTransition renders the body of a transition call.
func EncodeTransition(id string) ([]byte, error) {
	return json.Marshal(map[string]any{"transition": map[string]string{"id": id}})
}

// EncodeComment renders the body of an add-comment call.
func EncodeComment(body string) ([]byte, error) {
	return json.Marshal(map[string]string{"body": body})
}

// DecodeComment decodes a created comment.
func DecodeComment(data []byte) (tracker.Comment, error) {
	var wire jira.Comment
	if err := unmarshalObject(data, &wire); err != nil {
		return tracker.Comment{}, err
	}
	if wire.ID == "" {
		return tracker.Comment{}, missing("id")
	}
	return comment(wire), nil
}

// DecodeComments decodes the comment list of an issue, oldest first.
func DecodeComments(data []byte) ([]tracker.Comment, error) {
	var wire jira.Comments
	if err := unmarshalObject(data, &wire); err != nil {
		return nil, err
	}
	comments := make([]tracker.Comment, 0, len(wire.Comments))
	for i, c := range wire.Comments {
		if c == nil || c.ID == "" {
			return nil, missing(fmt.Sprintf("comments[%d].id", i))
		}
		comments = append(comments, comment(*c))
	}
	return comments, nil
}

func comment(wire jira.Comment) tracker.Comment {
	author := wire.Author.DisplayName
	if author == "" {
		author = wire.Author.Name
	}
	return tracker.Comment{ID: wire.ID, Author: author, Body: wire.Body}
}

// DecodeErrorMessage extracts a human readable message from a tracker error
// body ({"errorMessages": [...], "errors": {...}}). Bodies in any other
// shape are returned trimmed, so the operator still sees what the server
// said.
func DecodeErrorMessage(data []byte) string {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return ""
	}

	var wire jira.Error
	if err := json.Unmarshal(data, &wire); err != nil || (len(wire.ErrorMessages) == 0 && len(wire.Errors) == 0) {
		const limit = 200
		if len(trimmed) > limit {
			return trimmed[:limit] + "..."
		}
		return trimmed
	}

	messages := slices.Clone(wire.ErrorMessages)
	for _, field := range sets.List(sets.KeySet(wire.Errors)) {
		messages = append(messages, fmt.Sprintf("%s: %s", field, wire.Errors[field]))
	}
	return strings.Join(messages, "; ")
}
