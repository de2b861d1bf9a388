package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/petr-muller/jirasync/internal/config"
	"github.com/petr-muller/jirasync/internal/credential"
	"github.com/petr-muller/jirasync/internal/flagutil"
	"github.com/petr-muller/jirasync/internal/jirasync/jira"
)

const (
	outputText = "text"
	outputYAML = "yaml"
)

type rootOptions struct {
	configPath string
	logLevel   string
	output     string
}

var opts rootOptions

func main() {
	rootCmd := &cobra.Command{
		Use:   "jirasync",
		Short: "Work with Jira issues and watch them for changes",
		Long: `jirasync reads, creates, updates and transitions Jira issues and can
watch a set of issues, reporting status changes as they happen.

Configuration is read from a YAML file, JIRASYNC_* environment variables
and command line flags, in increasing order of precedence.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(opts.logLevel)
			if err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}
			logrus.SetLevel(level)
			if opts.output != outputText && opts.output != outputYAML {
				return fmt.Errorf("invalid --output %q: must be %s or %s", opts.output, outputText, outputYAML)
			}
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", config.DefaultConfigPath(), "Path to the configuration file")
	pf.StringVar(&opts.logLevel, "log-level", "info", "Log level")
	pf.StringVarP(&opts.output, "output", "o", outputText, "Output format: text or yaml")
	flagutil.AddPFlags(pf)

	rootCmd.AddCommand(
		newGetCmd(),
		newCreateCmd(),
		newUpdateCmd(),
		newDeleteCmd(),
		newSearchCmd(),
		newTransitionCmd(),
		newCommentCmd(),
		newWatchCmd(),
		newWatchListCmd(),
		newAuthCmd(),
		newMappingsCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fang.Execute(ctx, rootCmd); err != nil {
		logrus.WithError(err).Fatal("command failed")
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(opts.configPath, cmd.Flags())
	if err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func createClient(cmd *cobra.Command) (*jira.Client, config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, config.Config{}, err
	}

	jiraOptions := flagutil.JiraOptions{
		Config:      cfg.Jira,
		Credentials: credential.NewStore(),
		Logger:      logrus.WithField("component", "jira"),
	}
	client, err := jiraOptions.Client()
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("cannot create Jira client: %w", err)
	}
	return client, cfg, nil
}

// printResult writes v as YAML or hands the writer to text
func printResult(w io.Writer, v any, text func(io.Writer)) error {
	if opts.output == outputYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("cannot encode output: %w", err)
		}
		return enc.Close()
	}
	text(w)
	return nil
}
