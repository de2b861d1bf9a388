package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/jirasync/internal/config"
	"github.com/petr-muller/jirasync/internal/credential"
	"github.com/petr-muller/jirasync/internal/mappings"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the stored Jira token",
	}
	cmd.AddCommand(newSetTokenCmd(), newDeleteTokenCmd())
	return cmd
}

// readToken takes the token from args or the first line of in
func readToken(args []string, in io.Reader) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("cannot read token: %w", err)
		}
		return "", errors.New("no token given")
	}
	return strings.TrimSpace(scanner.Text()), nil
}

func newSetTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-token [token]",
		Short: "Store the Jira token in the system keyring",
		Long:  `Store the Jira token in the system keyring. Without an argument the token is read from standard input.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			token, err := readToken(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if err := credential.NewStore().Set(cfg.Jira.KeyringItem, token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token stored as '%s'\n", cfg.Jira.KeyringItem)
			return nil
		},
	}
}

func newDeleteTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-token",
		Short: "Remove the Jira token from the system keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := credential.NewStore().Delete(cfg.Jira.KeyringItem); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token '%s' removed\n", cfg.Jira.KeyringItem)
			return nil
		},
	}
}

func newMappingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Manage component and issue type defaults used by create",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show stored mappings",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := mappings.LoadMappings(config.MustConfigDir())
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), m, func(w io.Writer) {
					fmt.Fprintln(w, "Components:")
					for _, component := range sets.List(sets.KeySet(m.ComponentToProject)) {
						fmt.Fprintf(w, "  %s -> %s\n", component, m.ComponentToProject[component])
					}
					fmt.Fprintln(w, "Issue types:")
					for _, project := range sets.List(sets.KeySet(m.ProjectToIssueType)) {
						fmt.Fprintf(w, "  %s -> %s\n", project, m.ProjectToIssueType[project])
					}
				})
			},
		},
		&cobra.Command{
			Use:   "set-component <component> <project>",
			Short: "Map a component to a project",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return updateMappings(func(m *mappings.Mappings) { m.SetComponentMapping(args[0], args[1]) })
			},
		},
		&cobra.Command{
			Use:   "set-issue-type <project> <type>",
			Short: "Set the default issue type of a project",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return updateMappings(func(m *mappings.Mappings) { m.SetIssueTypeMapping(args[0], args[1]) })
			},
		},
	)
	return cmd
}

func updateMappings(change func(*mappings.Mappings)) error {
	configDir := config.MustConfigDir()
	m, err := mappings.LoadMappings(configDir)
	if err != nil {
		return err
	}
	change(m)
	return m.SaveMappings(configDir)
}
