package flagutil

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/petr-muller/jirasync/internal/config"
	"github.com/petr-muller/jirasync/internal/credential"
	"github.com/petr-muller/jirasync/internal/jirasync/jira"
	"github.com/petr-muller/jirasync/internal/jirasync/transport"
)

// CredentialGetter looks up a stored secret
type CredentialGetter interface {
	Get(key string) (string, error)
}

// AddPFlags injects the Jira, polling and search options into the given
// pflag.FlagSet. Flag names match configuration keys so that config.Load
// can bind them directly.
func AddPFlags(fs *pflag.FlagSet) {
	d := config.Defaults()

	fs.String("jira.endpoint", d.Jira.Endpoint, "Jira endpoint URL")
	fs.String("jira.auth", d.Jira.Auth, "Authentication scheme: bearer, basic or api-token")
	fs.String("jira.username", "", "Username for basic auth")
	fs.String("jira.email", "", "Account email for api-token auth")
	fs.String("jira.token-file", "", "Path to a file containing the Jira token or password")
	fs.String("jira.keyring-item", d.Jira.KeyringItem, "Keyring item holding the Jira token")
	fs.Duration("jira.timeout", d.Jira.Timeout, "Timeout for a single Jira request")

	fs.Duration("poll.interval", d.Poll.Interval, "Time between polls of a watched issue")
	fs.Duration("poll.base-delay", d.Poll.BaseDelay, "First retry delay after a transient failure")
	fs.Duration("poll.max-delay", d.Poll.MaxDelay, "Upper bound of the retry delay")
	fs.Int("poll.max-retries", d.Poll.MaxRetries, "Consecutive transient failures tolerated before a watch is suspended")
	fs.Float64("poll.jitter", d.Poll.Jitter, "Random fraction added to retry delays")
	fs.Duration("poll.timeout", d.Poll.Timeout, "Timeout for a single poll")
	fs.Bool("poll.track-summary", d.Poll.TrackSummary, "Also report summary changes of watched issues")

	fs.Int("search.page-size", d.Search.PageSize, "Number of issues requested per search page")
}

// JiraOptions turns loaded configuration into a ready to use client
type JiraOptions struct {
	Config      config.JiraConfig
	Credentials CredentialGetter
	Logger      *logrus.Entry
}

// Token returns the secret used to authenticate. The environment wins over
// the token file, which wins over the keyring.
func (o *JiraOptions) Token() (string, error) {
	if token := strings.TrimSpace(o.Config.Token); token != "" {
		return token, nil
	}

	if o.Config.TokenFile != "" {
		raw, err := os.ReadFile(o.Config.TokenFile)
		if err != nil {
			return "", fmt.Errorf("failed to read token file: %w", err)
		}
		token := strings.TrimSpace(string(raw))
		if token == "" {
			return "", fmt.Errorf("token file %s is empty", o.Config.TokenFile)
		}
		return token, nil
	}

	if o.Credentials != nil && o.Config.KeyringItem != "" {
		token, err := o.Credentials.Get(o.Config.KeyringItem)
		switch {
		case err == nil:
			return token, nil
		case errors.Is(err, credential.ErrNotFound):
		default:
			return "", fmt.Errorf("failed to read token from keyring: %w", err)
		}
	}

	return "", errors.New("no Jira token: set JIRASYNC_JIRA_TOKEN, --jira.token-file or store one with 'jirasync auth set-token'")
}

// Auth builds the authentication strategy for the configured scheme
func (o *JiraOptions) Auth() (transport.Auth, error) {
	token, err := o.Token()
	if err != nil {
		return nil, err
	}

	switch o.Config.Auth {
	case config.AuthBearer:
		return transport.BearerAuth{Token: token}, nil
	case config.AuthBasic:
		return transport.BasicAuth{Username: o.Config.Username, Password: token}, nil
	case config.AuthAPIToken:
		return transport.APITokenAuth{Email: o.Config.Email, Token: token}, nil
	default:
		return nil, fmt.Errorf("unsupported auth scheme %q", o.Config.Auth)
	}
}

// Transport builds the HTTP transport for the configured endpoint
func (o *JiraOptions) Transport() (*transport.HTTP, error) {
	auth, err := o.Auth()
	if err != nil {
		return nil, err
	}

	opts := []transport.Option{transport.WithTimeout(o.Config.Timeout)}
	if o.Logger != nil {
		opts = append(opts, transport.WithLogger(o.Logger))
	}
	return transport.New(o.Config.Endpoint, auth, opts...)
}

// Client builds a Jira client for the configured endpoint
func (o *JiraOptions) Client() (*jira.Client, error) {
	t, err := o.Transport()
	if err != nil {
		return nil, err
	}

	var opts []jira.Option
	if o.Logger != nil {
		opts = append(opts, jira.WithLogger(o.Logger))
	}
	return jira.NewClient(t, opts...), nil
}
