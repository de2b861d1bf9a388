package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"k8s.io/utils/clock"

	"github.com/petr-muller/jirasync/internal/jirasync/jira"
	"github.com/petr-muller/jirasync/internal/jirasync/service"
	"github.com/petr-muller/jirasync/internal/jirasync/storage"
	"github.com/petr-muller/jirasync/internal/jirasync/tracker"
	"github.com/petr-muller/jirasync/internal/jirasync/ui"
	"github.com/petr-muller/jirasync/internal/jirasync/watch"
)

// createService builds the watch list service. Operations that only touch
// stored lists work with a nil client.
func createService(client *jira.Client, pageSize int) (*service.Service, error) {
	dataDir, err := storage.WatchListDataDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine data directory: %w", err)
	}
	return service.NewService(client, storage.NewStore(dataDir),
		service.WithPageSize(pageSize),
		service.WithLogger(logrus.WithField("component", "service")),
	), nil
}

// shutdown stops the engine while draining events so that a blocked
// delivery cannot keep Stop from returning.
func shutdown(engine *watch.Engine, events chan watch.Event) {
	go func() {
		engine.Stop()
		close(events)
	}()
	for range events {
	}
}

// refreshMembership re-runs the query of a JQL based list until ctx is
// done. previous is the snapshot the watch was started from.
func refreshMembership(ctx context.Context, svc *service.Service, engine service.Watcher, list storage.WatchList, previous []tracker.Issue, every time.Duration, clk clock.WithTicker) {
	logger := logrus.WithField("list", list.Name)
	ticker := clk.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
		membership, err := svc.RefreshMembership(ctx, engine, list, previous)
		if err != nil {
			logger.WithError(err).Warn("Failed to refresh watch list membership")
			continue
		}
		previous = membership.Issues
	}
}

func newWatchCmd() *cobra.Command {
	var (
		listName string
		noTUI    bool
		refresh  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch [key...]",
		Short: "Watch issues and report status changes",
		Long: `Watch issues and report status changes as they are observed. Issues
can be given as arguments, through a stored watch list, or both.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && listName == "" {
				return errors.New("issue keys or --list is required")
			}

			client, cfg, err := createClient(cmd)
			if err != nil {
				return err
			}
			svc, err := createService(client, cfg.Search.PageSize)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			events := make(chan watch.Event, 64)
			engine := watch.New(client, watch.ChannelSink(events),
				watch.WithConfig(service.EngineConfig(cfg.Poll)),
				watch.WithLogger(logrus.WithField("component", "watch")),
			)
			if err := engine.Start(ctx); err != nil {
				return err
			}
			defer shutdown(engine, events)

			title := strings.Join(args, ", ")
			if listName != "" {
				started, err := svc.StartWatch(ctx, engine, listName)
				if err != nil {
					return err
				}
				list, err := svc.LoadList(listName)
				if err != nil {
					return err
				}
				if list.JQL != "" && refresh > 0 {
					go refreshMembership(ctx, svc, engine, *list, started.Issues, refresh, clock.RealClock{})
				}
				title = listName
			}
			if err := service.WatchAll(engine, args); err != nil {
				return err
			}

			if noTUI {
				return printEvents(ctx, cmd.OutOrStdout(), events)
			}

			// the alternate screen owns the terminal while the TUI runs
			logrus.SetOutput(io.Discard)
			model := ui.NewModel(title, engine, events, clock.RealClock{})
			program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("cannot run TUI: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&listName, "list", "l", "", "Watch the issues of a stored watch list")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Print events as lines instead of running the TUI")
	cmd.Flags().DurationVar(&refresh, "refresh", 5*time.Minute, "How often to re-run the query of a JQL based watch list, 0 disables")

	return cmd
}

func printEvents(ctx context.Context, w io.Writer, events <-chan watch.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			fmt.Fprintln(w, ui.FormatEvent(ev))
		}
	}
}

func newWatchListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "watchlist",
		Aliases: []string{"wl"},
		Short:   "Manage stored watch lists",
	}

	cmd.AddCommand(
		newWatchListAddCmd(),
		newWatchListListCmd(),
		newWatchListShowCmd(),
		newWatchListDeleteCmd(),
	)
	return cmd
}

func newWatchListAddCmd() *cobra.Command {
	var (
		jql         string
		description string
	)

	cmd := &cobra.Command{
		Use:   "add <name> [key...]",
		Short: "Create or replace a watch list",
		Long: `Create or replace a watch list. A list holds explicit issue keys, a JQL
query whose matches are watched, or both.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := createClient(cmd)
			if err != nil {
				return err
			}
			svc, err := createService(client, cfg.Search.PageSize)
			if err != nil {
				return err
			}

			list, err := svc.SaveList(cmd.Context(), service.SaveListOptions{
				Name:        args[0],
				Description: description,
				Keys:        args[1:],
				JQL:         jql,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Watch list '%s' saved (%d keys)\n", list.Name, len(list.Keys))
			return nil
		},
	}

	cmd.Flags().StringVarP(&jql, "jql", "q", "", "JQL query whose matches are watched")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Optional description for the list")

	return cmd
}

func newWatchListListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored watch lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := createService(nil, 0)
			if err != nil {
				return err
			}
			items, err := svc.Lists()
			if err != nil && len(items) == 0 {
				return fmt.Errorf("cannot list watch lists: %w", err)
			}
			if err != nil {
				logrus.WithError(err).Warn("Some watch lists could not be read")
			}

			return printResult(cmd.OutOrStdout(), items, func(w io.Writer) {
				if len(items) == 0 {
					fmt.Fprintln(w, "No stored watch lists found")
					return
				}
				fmt.Fprintln(w, "Stored watch lists:")
				for _, item := range items {
					fmt.Fprintf(w, "  - %s", item.Name)
					if item.Description != "" {
						fmt.Fprintf(w, " - %s", item.Description)
					}
					fmt.Fprintf(w, " (%d keys", item.KeyCount)
					if item.JQL != "" {
						fmt.Fprintf(w, ", jql: %s", item.JQL)
					}
					if !item.LastStarted.IsZero() {
						fmt.Fprintf(w, ", last started: %s", item.LastStarted.Format("2006-01-02 15:04"))
					}
					fmt.Fprintln(w, ")")
				}
			})
		},
	}
}

func newWatchListShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show the issues a watch list currently resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := createClient(cmd)
			if err != nil {
				return err
			}
			svc, err := createService(client, cfg.Search.PageSize)
			if err != nil {
				return err
			}

			list, err := svc.LoadList(args[0])
			if err != nil {
				return err
			}
			keys, err := svc.ResolveKeys(cmd.Context(), *list)
			if err != nil {
				return err
			}

			return printResult(cmd.OutOrStdout(), keys, func(w io.Writer) {
				for _, key := range keys {
					fmt.Fprintln(w, key)
				}
			})
		},
	}
}

func newWatchListDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a stored watch list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := createService(nil, 0)
			if err != nil {
				return err
			}
			if err := svc.DeleteList(args[0]); err != nil {
				return fmt.Errorf("cannot delete watch list: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Watch list '%s' deleted successfully\n", args[0])
			return nil
		},
	}
}
