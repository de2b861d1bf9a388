package tracker

import (
	"fmt"
	"strings"
)

// Query is a structured search. JQL joins the parts the caller set with
// AND; nothing is added implicitly.
type Query struct {
	Project  string
	Statuses []string
	// Filter is a raw JQL fragment appended as-is.
	Filter  string
	OrderBy string

	// Fields restricts the attributes returned for each issue. Empty means
	// the client default.
	Fields []string
}

// JQL renders the query as a JQL string.
func (q Query) JQL() string {
	var clauses []string
	if q.Project != "" {
		clauses = append(clauses, fmt.Sprintf("project = %s", quote(q.Project)))
	}
	if len(q.Statuses) > 0 {
		quoted := make([]string, 0, len(q.Statuses))
		for _, status := range q.Statuses {
			quoted = append(quoted, quote(status))
		}
		clauses = append(clauses, fmt.Sprintf("status in (%s)", strings.Join(quoted, ", ")))
	}
	if filter := strings.TrimSpace(q.Filter); filter != "" {
		if len(clauses) > 0 {
			filter = "(" + filter + ")"
		}
		clauses = append(clauses, filter)
	}

	jql := strings.Join(clauses, " AND ")
	if q.OrderBy != "" {
		jql = strings.TrimSpace(jql + " ORDER BY " + q.OrderBy)
	}
	return jql
}

// IsEmpty reports whether the query has no criteria at all.
func (q Query) IsEmpty() bool {
	return q.Project == "" && len(q.Statuses) == 0 && strings.TrimSpace(q.Filter) == ""
}

func quote(value string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value)
	return `"` + escaped + `"`
}
