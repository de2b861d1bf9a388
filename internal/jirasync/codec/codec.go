// Package codec converts between the tracker's JSON wire format and the
// tracker domain types. Decoding is fallible and never guesses: a missing
// attribute stays missing.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/petr-muller/jirasync/internal/jirasync/tracker"
)

// Reason tells why a payload could not be decoded.
type Reason int

const (
	// MalformedPayload means the bytes are not the JSON structure expected.
	MalformedPayload Reason = iota + 1
	// MissingRequiredField means a required attribute is absent.
	MissingRequiredField
)

// DecodeError is returned for every payload that cannot be decoded.
type DecodeError struct {
	Reason Reason
	// Field is set for MissingRequiredField.
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	switch e.Reason {
	case MissingRequiredField:
		return fmt.Sprintf("missing required field %q", e.Field)
	default:
		if e.Err != nil {
			return "malformed payload: " + e.Err.Error()
		}
		return "malformed payload"
	}
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is a *DecodeError.
func IsDecodeError(err error) bool {
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr)
}

func malformed(err error) *DecodeError {
	return &DecodeError{Reason: MalformedPayload, Err: err}
}

func missing(field string) *DecodeError {
	return &DecodeError{Reason: MissingRequiredField, Field: field}
}

// wireIssue is the shape of an issue as the tracker sends it. Only key is
// required; fields is kept raw so absent and null can be told apart.
type wireIssue struct {
	ID     string                     `json:"id,omitempty"`
	Key    *string                    `json:"key"`
	Fields map[string]json.RawMessage `json:"fields"`
}

type wireStatus struct {
	Name *string `json:"name"`
}

// DecodeIssue decodes a single issue payload.
func DecodeIssue(data []byte) (tracker.Issue, error) {
	var wire wireIssue
	if err := unmarshalObject(data, &wire); err != nil {
		return tracker.Issue{}, err
	}
	return fromWire(wire)
}

func fromWire(wire wireIssue) (tracker.Issue, error) {
	if wire.Key == nil || *wire.Key == "" {
		return tracker.Issue{}, missing("key")
	}

	issue := tracker.Issue{Key: *wire.Key}

	fields := maps.Clone(wire.Fields)
	var err error
	if issue.Summary, err = takeString(fields, "summary"); err != nil {
		return tracker.Issue{}, err
	}
	if issue.Description, err = takeString(fields, "description"); err != nil {
		return tracker.Issue{}, err
	}
	if issue.Status, err = takeStatus(fields); err != nil {
		return tracker.Issue{}, err
	}
	if len(fields) > 0 {
		issue.Fields = fields
	}
	return issue, nil
}

// takeString removes name from fields and returns it as an optional string.
func takeString(fields map[string]json.RawMessage, name string) (*string, error) {
	raw, ok := fields[name]
	if !ok {
		return nil, nil
	}
	delete(fields, name)
	if isNull(raw) {
		return nil, nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, malformed(fmt.Errorf("field %s: %w", name, err))
	}
	return &value, nil
}

func takeStatus(fields map[string]json.RawMessage) (*string, error) {
	raw, ok := fields["status"]
	if !ok {
		return nil, nil
	}
	delete(fields, "status")
	if isNull(raw) {
		return nil, nil
	}
	var status wireStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, malformed(fmt.Errorf("field status: %w", err))
	}
	return status.Name, nil
}

// EncodeCreate renders a create payload. The caller is expected to have
// checked CreateRequest.MissingFields already; encoding does not validate.
func EncodeCreate(req tracker.CreateRequest) ([]byte, error) {
	fields := make(map[string]any, len(req.Fields)+4)
	maps.Copy(fields, req.Fields)
	fields["project"] = map[string]string{"key": req.Project}
	fields["summary"] = req.Summary
	fields["issuetype"] = map[string]string{"name": req.IssueType}
	if req.Description != nil {
		fields["description"] = *req.Description
	}
	return json.Marshal(map[string]any{"fields": fields})
}

// EncodeUpdate renders a sparse update payload containing only the
// attributes the request sets.
func EncodeUpdate(req tracker.UpdateRequest) ([]byte, error) {
	fields := make(map[string]any, len(req.Fields)+2)
	maps.Copy(fields, req.Fields)
	if req.Summary != nil {
		fields["summary"] = *req.Summary
	}
	if req.Description != nil {
		fields["description"] = *req.Description
	}
	return json.Marshal(map[string]any{"fields": fields})
}

// DecodeCreated decodes the response to a create call.
func DecodeCreated(data []byte) (tracker.IssueRef, error) {
	var wire struct {
		ID  string  `json:"id"`
		Key *string `json:"key"`
	}
	if err := unmarshalObject(data, &wire); err != nil {
		return tracker.IssueRef{}, err
	}
	if wire.Key == nil || *wire.Key == "" {
		return tracker.IssueRef{}, missing("key")
	}
	return tracker.IssueRef{Key: *wire.Key, ID: wire.ID}, nil
}

func unmarshalObject(data []byte, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return malformed(errors.New("expected a JSON object"))
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return malformed(err)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
