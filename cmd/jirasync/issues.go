package main

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petr-muller/jirasync/internal/config"
	"github.com/petr-muller/jirasync/internal/jirasync/tracker"
	"github.com/petr-muller/jirasync/internal/mappings"
)

const defaultIssueType = "Task"

// issueView is the printable form of an issue
type issueView struct {
	Key         string  `yaml:"key"`
	Summary     *string `yaml:"summary,omitempty"`
	Status      *string `yaml:"status,omitempty"`
	Project     string  `yaml:"project,omitempty"`
	Type        string  `yaml:"type,omitempty"`
	Priority    string  `yaml:"priority,omitempty"`
	Assignee    string  `yaml:"assignee,omitempty"`
	Description *string `yaml:"description,omitempty"`
}

func newIssueView(issue tracker.Issue) issueView {
	view := issueView{
		Key:         issue.Key,
		Summary:     issue.Summary,
		Status:      issue.Status,
		Description: issue.Description,
	}
	view.Project, _ = issue.ProjectKey()
	view.Type, _ = issue.IssueType()
	view.Priority, _ = issue.Priority()
	view.Assignee, _ = issue.Assignee()
	return view
}

func printIssueLine(w io.Writer, issue issueView) {
	fmt.Fprintf(w, "%-12s %-16s %s\n", issue.Key, valueOr(issue.Status, "-"), valueOr(issue.Summary, ""))
}

func valueOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

// parseFields turns name=value pairs into additional issue fields. Values
// that parse as JSON are sent as-is, anything else as a string.
func parseFields(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	fields := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid field %q: expected name=value", pair)
		}
		if json.Valid([]byte(value)) {
			fields[name] = json.RawMessage(value)
		} else {
			fields[name] = value
		}
	}
	return fields, nil
}

// determineProject picks the project for a new issue. An explicit project
// wins over the component mapping.
func determineProject(componentName, providedProject string, m *mappings.Mappings) (string, error) {
	if providedProject != "" {
		return providedProject, nil
	}
	if componentName == "" {
		return "", errors.New("--project is required when no --component is given")
	}
	if project := m.ProjectForComponent(componentName); project != "" {
		return project, nil
	}
	return "", fmt.Errorf("no project mapped for component %q, pass --project", componentName)
}

// determineIssueType picks the issue type. A mapped type replaces the
// default but never an explicitly chosen one.
func determineIssueType(project, providedType string, m *mappings.Mappings) string {
	if providedType != defaultIssueType {
		return providedType
	}
	if mapped := m.IssueTypeForProject(project); mapped != "" {
		return mapped
	}
	return providedType
}

// rememberMappings records choices made on the command line for next time.
// It reports whether anything changed.
func rememberMappings(componentName, providedProject, issueType string, m *mappings.Mappings) bool {
	changed := false
	if componentName != "" && providedProject != "" && m.ProjectForComponent(componentName) == "" {
		m.SetComponentMapping(componentName, providedProject)
		changed = true
	}
	project := cmp.Or(providedProject, m.ProjectForComponent(componentName))
	if project != "" && issueType != defaultIssueType && m.IssueTypeForProject(project) == "" {
		m.SetIssueTypeMapping(project, issueType)
		changed = true
	}
	return changed
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Show one issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := createClient(cmd)
			if err != nil {
				return err
			}
			issue, err := client.GetIssue(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			view := newIssueView(issue)
			return printResult(cmd.OutOrStdout(), view, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %s\n", view.Key, valueOr(view.Summary, ""))
				fmt.Fprintf(w, "  Status:   %s\n", valueOr(view.Status, "-"))
				for _, attr := range []struct{ name, value string }{
					{"Project", view.Project},
					{"Type", view.Type},
					{"Priority", view.Priority},
					{"Assignee", view.Assignee},
				} {
					if attr.value != "" {
						fmt.Fprintf(w, "  %-9s %s\n", attr.name+":", attr.value)
					}
				}
				if view.Description != nil && *view.Description != "" {
					fmt.Fprintf(w, "\n%s\n", *view.Description)
				}
			})
		},
	}
}

func newCreateCmd() *cobra.Command {
	var (
		project     string
		component   string
		issueType   string
		summary     string
		description string
		fieldPairs  []string
		remember    bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an issue",
		Long: `Create an issue. The project can be derived from --component and the
issue type from the project using the stored mappings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir := config.MustConfigDir()
			m, err := mappings.LoadMappings(configDir)
			if err != nil {
				return err
			}

			finalProject, err := determineProject(component, project, m)
			if err != nil {
				return err
			}
			finalType := determineIssueType(finalProject, issueType, m)

			fields, err := parseFields(fieldPairs)
			if err != nil {
				return err
			}
			if component != "" {
				if fields == nil {
					fields = map[string]any{}
				}
				fields["components"] = []map[string]string{{"name": component}}
			}

			req := tracker.CreateRequest{
				Project:   finalProject,
				Summary:   summary,
				IssueType: finalType,
				Fields:    fields,
			}
			if cmd.Flags().Changed("description") {
				req.Description = &description
			}

			client, _, err := createClient(cmd)
			if err != nil {
				return err
			}
			ref, err := client.CreateIssue(cmd.Context(), req)
			if err != nil {
				return err
			}

			if remember && rememberMappings(component, project, finalType, m) {
				if err := m.SaveMappings(configDir); err != nil {
					return err
				}
			}

			return printResult(cmd.OutOrStdout(), map[string]string{"key": ref.Key, "id": ref.ID}, func(w io.Writer) {
				fmt.Fprintf(w, "Created %s\n", ref.Key)
			})
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "Project key")
	cmd.Flags().StringVarP(&component, "component", "c", "", "Component, also used to look up the project")
	cmd.Flags().StringVarP(&issueType, "type", "t", defaultIssueType, "Issue type")
	cmd.Flags().StringVarP(&summary, "summary", "s", "", "Issue summary")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Issue description")
	cmd.Flags().StringArrayVarP(&fieldPairs, "field", "f", nil, "Additional field as name=value, the value may be JSON")
	cmd.Flags().BoolVar(&remember, "remember", true, "Store new component and issue type mappings")

	return cmd
}

func newUpdateCmd() *cobra.Command {
	var (
		summary     string
		description string
		fieldPairs  []string
	)

	cmd := &cobra.Command{
		Use:   "update <key>",
		Short: "Change attributes of an issue",
		Long:  `Change attributes of an issue. Only the attributes given on the command line are sent.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(fieldPairs)
			if err != nil {
				return err
			}
			req := tracker.UpdateRequest{Fields: fields}
			if cmd.Flags().Changed("summary") {
				req.Summary = &summary
			}
			if cmd.Flags().Changed("description") {
				req.Description = &description
			}

			client, _, err := createClient(cmd)
			if err != nil {
				return err
			}
			if err := client.UpdateIssue(cmd.Context(), args[0], req); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s: %s\n", args[0], strings.Join(req.FieldNames(), ", "))
			return nil
		},
	}

	cmd.Flags().StringVarP(&summary, "summary", "s", "", "New summary")
	cmd.Flags().StringVarP(&description, "description", "d", "", "New description, empty clears it")
	cmd.Flags().StringArrayVarP(&fieldPairs, "field", "f", nil, "Field to set as name=value, the value may be JSON")

	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := createClient(cmd)
			if err != nil {
				return err
			}
			if err := client.DeleteIssue(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newSearchCmd() *cobra.Command {
	var (
		project  string
		statuses []string
		orderBy  string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "search [jql]",
		Short: "List issues matching a query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := tracker.Query{
				Project:  project,
				Statuses: statuses,
				OrderBy:  orderBy,
				Fields:   []string{"summary", "status"},
			}
			if len(args) == 1 {
				query.Filter = args[0]
			}
			if query.IsEmpty() {
				return errors.New("a JQL query, --project or --status is required")
			}

			client, cfg, err := createClient(cmd)
			if err != nil {
				return err
			}

			var views []issueView
			for issue, err := range client.All(cmd.Context(), query, cfg.Search.PageSize) {
				if err != nil {
					return err
				}
				views = append(views, newIssueView(issue))
				if limit > 0 && len(views) >= limit {
					break
				}
			}

			return printResult(cmd.OutOrStdout(), views, func(w io.Writer) {
				if len(views) == 0 {
					fmt.Fprintln(w, "No issues found")
					return
				}
				for _, view := range views {
					printIssueLine(w, view)
				}
			})
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "Restrict to a project")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Restrict to statuses")
	cmd.Flags().StringVar(&orderBy, "order-by", "", "JQL ORDER BY clause")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many issues, 0 means all")

	return cmd
}

func newTransitionCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "transition <key> [status]",
		Short: "Move an issue to another status",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !list && len(args) != 2 {
				return errors.New("a target status is required unless --list is given")
			}

			client, _, err := createClient(cmd)
			if err != nil {
				return err
			}

			if list {
				transitions, err := client.Transitions(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), transitions, func(w io.Writer) {
					for _, t := range transitions {
						fmt.Fprintf(w, "%-6s %s -> %s\n", t.ID, t.Name, t.To)
					}
				})
			}

			transition, err := client.MoveToStatus(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Moved %s to %s via %q\n", args[0], transition.To, transition.Name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "List the available transitions instead")

	return cmd
}

func newCommentCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "comment <key> [body]",
		Short: "Add a comment to an issue",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !list && len(args) != 2 {
				return errors.New("a comment body is required unless --list is given")
			}

			client, _, err := createClient(cmd)
			if err != nil {
				return err
			}

			if list {
				comments, err := client.Comments(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), comments, func(w io.Writer) {
					printComments(w, comments)
				})
			}

			comment, err := client.AddComment(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added comment %s to %s\n", comment.ID, args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "List the comments instead")

	return cmd
}

func printComments(w io.Writer, comments []tracker.Comment) {
	if len(comments) == 0 {
		fmt.Fprintln(w, "No comments")
		return
	}
	for _, c := range comments {
		fmt.Fprintf(w, "[%s] %s:\n%s\n\n", c.ID, cmp.Or(c.Author, "unknown"), c.Body)
	}
}
