package jira

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/petr-muller/jirasync/internal/jirasync/apierror"
	"github.com/petr-muller/jirasync/internal/jirasync/codec"
	"github.com/petr-muller/jirasync/internal/jirasync/tracker"
	"github.com/petr-muller/jirasync/internal/jirasync/transport"
)

// Transitions lists the workflow transitions the tracker currently offers
// for an issue.
func (c *Client) Transitions(ctx context.Context, key string) ([]tracker.Transition, error) {
	const op = "list transitions"
	if err := validateKey(op, key); err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, op, key, transport.Request{Method: http.MethodGet, Path: issuePath(key) + "/transitions"})
	if err != nil {
		return nil, err
	}

	transitions, err := codec.DecodeTransitions(resp.Body)
	if err != nil {
		return nil, decodeFailure(op, key, err)
	}
	return transitions, nil
}

// TransitionIssue performs the transition with the given ID.
func (c *Client) TransitionIssue(ctx context.Context, key, transitionID string) error {
	const op = "transition issue"
	if err := validateKey(op, key); err != nil {
		return err
	}
	if strings.TrimSpace(transitionID) == "" {
		return &apierror.Error{Kind: apierror.InvalidRequest, Op: op, Key: key, Message: "transition ID must not be empty"}
	}

	body, err := codec.EncodeTransition(transitionID)
	if err != nil {
		return apierror.Wrap(apierror.InvalidRequest, op, err)
	}
	_, err = c.send(ctx, op, key, transport.Request{Method: http.MethodPost, Path: issuePath(key) + "/transitions", Body: body})
	return err
}

// MoveToStatus moves an issue to a status by picking, among the
// transitions the tracker offers, the one whose name or target status
// matches (case-insensitively). The workflow lives on the server, so no
// local transition table is consulted.
func (c *Client) MoveToStatus(ctx context.Context, key, status string) (tracker.Transition, error) {
	const op = "move issue"
	transitions, err := c.Transitions(ctx, key)
	if err != nil {
		return tracker.Transition{}, err
	}

	chosen, ok := matchTransition(transitions, status)
	if !ok {
		available := make([]string, 0, len(transitions))
		for _, t := range transitions {
			available = append(available, t.Name+" -> "+t.To)
		}
		return tracker.Transition{}, &apierror.Error{
			Kind:    apierror.InvalidRequest,
			Op:      op,
			Key:     key,
			Message: "no transition to " + status + " (available: " + strings.Join(available, ", ") + ")",
		}
	}

	if err := c.TransitionIssue(ctx, key, chosen.ID); err != nil {
		return tracker.Transition{}, err
	}
	c.logger.WithFields(logrus.Fields{"key": key, "transition": chosen.Name, "status": chosen.To}).Info("Moved issue")
	return chosen, nil
}

func matchTransition(transitions []tracker.Transition, status string) (tracker.Transition, bool) {
	for _, t := range transitions {
		if strings.EqualFold(t.To, status) {
			return t, true
		}
	}
	for _, t := range transitions {
		if strings.EqualFold(t.Name, status) {
			return t, true
		}
	}
	return tracker.Transition{}, false
}

// Comments lists the comments of an issue, oldest first.
func (c *Client) Comments(ctx context.Context, key string) ([]tracker.Comment, error) {
	const op = "list comments"
	if err := validateKey(op, key); err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, op, key, transport.Request{Method: http.MethodGet, Path: issuePath(key) + "/comment"})
	if err != nil {
		return nil, err
	}

	comments, err := codec.DecodeComments(resp.Body)
	if err != nil {
		return nil, decodeFailure(op, key, err)
	}
	return comments, nil
}

// AddComment posts a comment on an issue.
func (c *Client) AddComment(ctx context.Context, key, body string) (tracker.Comment, error) {
	const op = "add comment"
	if err := validateKey(op, key); err != nil {
		return tracker.Comment{}, err
	}
	if strings.TrimSpace(body) == "" {
		return tracker.Comment{}, &apierror.Error{Kind: apierror.InvalidRequest, Op: op, Key: key, Message: "comment body must not be empty"}
	}

	payload, err := codec.EncodeComment(body)
	if err != nil {
		return tracker.Comment{}, apierror.Wrap(apierror.InvalidRequest, op, err)
	}
	resp, err := c.send(ctx, op, key, transport.Request{Method: http.MethodPost, Path: issuePath(key) + "/comment", Body: payload})
	if err != nil {
		return tracker.Comment{}, err
	}

	comment, err := codec.DecodeComment(resp.Body)
	if err != nil {
		return tracker.Comment{}, decodeFailure(op, key, err)
	}
	return comment, nil
}
