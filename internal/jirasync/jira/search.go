package jira

import (
	"context"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/jirasync/internal/jirasync/apierror"
	"github.com/petr-muller/jirasync/internal/jirasync/codec"
	"github.com/petr-muller/jirasync/internal/jirasync/tracker"
	"github.com/petr-muller/jirasync/internal/jirasync/transport"
)

// DefaultPageSize is used when a caller passes a non-positive page size
const DefaultPageSize = 50

// SearchPage is one page of search results. An empty NextPageToken marks
// the last page.
type SearchPage struct {
	Issues        []tracker.Issue
	Total         int
	NextPageToken string
}

// SearchIssues runs one page of a query. pageToken is empty for the first
// page and otherwise the NextPageToken of the previous page.
func (c *Client) SearchIssues(ctx context.Context, query tracker.Query, pageSize int, pageToken string) (SearchPage, error) {
	const op = "search issues"
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	startAt, err := parsePageToken(pageToken)
	if err != nil {
		return SearchPage{}, apierror.Invalid(op, "invalid page token %q", pageToken)
	}

	params := url.Values{}
	params.Set("jql", query.JQL())
	params.Set("startAt", strconv.Itoa(startAt))
	params.Set("maxResults", strconv.Itoa(pageSize))
	if len(query.Fields) > 0 {
		params.Set("fields", strings.Join(query.Fields, ","))
	}

	resp, err := c.send(ctx, op, "", transport.Request{Method: http.MethodGet, Path: apiBase + "/search", Query: params})
	if err != nil {
		return SearchPage{}, err
	}

	result, err := codec.DecodeSearch(resp.Body)
	if err != nil {
		return SearchPage{}, decodeFailure(op, "", err)
	}

	page := SearchPage{Issues: result.Issues, Total: result.Total}
	if next := startAt + len(result.Issues); len(result.Issues) > 0 && next < result.Total {
		page.NextPageToken = strconv.Itoa(next)
	}

	c.logger.WithFields(logrus.Fields{
		"jql":     params.Get("jql"),
		"startAt": startAt,
		"count":   len(result.Issues),
		"total":   result.Total,
	}).Debug("Search page fetched")
	return page, nil
}

// Pages lazily walks every page of a query. Each range over the returned
// sequence starts again from the first page. Iteration stops after the
// first error, which is yielded with an empty page.
func (c *Client) Pages(ctx context.Context, query tracker.Query, pageSize int) iter.Seq2[SearchPage, error] {
	return func(yield func(SearchPage, error) bool) {
		token := ""
		for {
			page, err := c.SearchIssues(ctx, query, pageSize, token)
			if err != nil {
				yield(SearchPage{}, err)
				return
			}
			if !yield(page, nil) || page.NextPageToken == "" {
				return
			}
			token = page.NextPageToken
		}
	}
}

// All lazily yields every issue matching query, each key at most once even
// when the result set shifts between pages.
func (c *Client) All(ctx context.Context, query tracker.Query, pageSize int) iter.Seq2[tracker.Issue, error] {
	return func(yield func(tracker.Issue, error) bool) {
		seen := sets.New[string]()
		for page, err := range c.Pages(ctx, query, pageSize) {
			if err != nil {
				yield(tracker.Issue{}, err)
				return
			}
			for _, issue := range page.Issues {
				if seen.Has(issue.Key) {
					continue
				}
				seen.Insert(issue.Key)
				if !yield(issue, nil) {
					return
				}
			}
		}
	}
}

// ValidateQuery checks that the tracker accepts a query by fetching at
// most one result.
func (c *Client) ValidateQuery(ctx context.Context, query tracker.Query) error {
	_, err := c.SearchIssues(ctx, query, 1, "")
	return err
}

func parsePageToken(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	startAt, err := strconv.Atoi(token)
	if err != nil {
		return 0, err
	}
	if startAt < 0 {
		return 0, strconv.ErrRange
	}
	return startAt, nil
}
