package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Auth schemes accepted in jira.auth
const (
	AuthBearer   = "bearer"
	AuthBasic    = "basic"
	AuthAPIToken = "api-token"
)

// Config is loaded once at startup and never changes afterwards
type Config struct {
	Jira   JiraConfig   `mapstructure:"jira"`
	Poll   PollConfig   `mapstructure:"poll"`
	Search SearchConfig `mapstructure:"search"`
}

// JiraConfig describes how to reach and authenticate to the tracker
type JiraConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Auth     string `mapstructure:"auth"`
	Username string `mapstructure:"username"`
	Email    string `mapstructure:"email"`
	// Token is only meant to come from the environment (JIRASYNC_JIRA_TOKEN)
	Token       string        `mapstructure:"token"`
	TokenFile   string        `mapstructure:"token-file"`
	KeyringItem string        `mapstructure:"keyring-item"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// PollConfig holds the watch engine parameters
type PollConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	BaseDelay    time.Duration `mapstructure:"base-delay"`
	MaxDelay     time.Duration `mapstructure:"max-delay"`
	MaxRetries   int           `mapstructure:"max-retries"`
	Jitter       float64       `mapstructure:"jitter"`
	Timeout      time.Duration `mapstructure:"timeout"`
	TrackSummary bool          `mapstructure:"track-summary"`
}

// SearchConfig holds search defaults
type SearchConfig struct {
	PageSize int `mapstructure:"page-size"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() Config {
	return Config{
		Jira: JiraConfig{
			Endpoint:    "https://issues.redhat.com",
			Auth:        AuthBearer,
			KeyringItem: "jira-token",
			Timeout:     30 * time.Second,
		},
		Poll: PollConfig{
			Interval:   30 * time.Second,
			BaseDelay:  time.Second,
			MaxDelay:   60 * time.Second,
			MaxRetries: 5,
			Jitter:     0.1,
			Timeout:    15 * time.Second,
		},
		Search: SearchConfig{
			PageSize: 50,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("jira.endpoint", d.Jira.Endpoint)
	v.SetDefault("jira.auth", d.Jira.Auth)
	v.SetDefault("jira.username", "")
	v.SetDefault("jira.email", "")
	v.SetDefault("jira.token", "")
	v.SetDefault("jira.token-file", "")
	v.SetDefault("jira.keyring-item", d.Jira.KeyringItem)
	v.SetDefault("jira.timeout", d.Jira.Timeout)
	v.SetDefault("poll.interval", d.Poll.Interval)
	v.SetDefault("poll.base-delay", d.Poll.BaseDelay)
	v.SetDefault("poll.max-delay", d.Poll.MaxDelay)
	v.SetDefault("poll.max-retries", d.Poll.MaxRetries)
	v.SetDefault("poll.jitter", d.Poll.Jitter)
	v.SetDefault("poll.timeout", d.Poll.Timeout)
	v.SetDefault("poll.track-summary", d.Poll.TrackSummary)
	v.SetDefault("search.page-size", d.Search.PageSize)
}

// Load reads the YAML file at path (a missing file is fine), then applies
// JIRASYNC_* environment variables and finally the flags that were set on
// the command line. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("JIRASYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("binding flags: %w", err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Jira.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.Jira.Endpoint), "/")
	cfg.Jira.Auth = strings.ToLower(strings.TrimSpace(cfg.Jira.Auth))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem in the configuration at once
func (c Config) Validate() error {
	var errs []error

	if c.Jira.Endpoint == "" {
		errs = append(errs, errors.New("jira.endpoint must be set"))
	} else if u, err := url.Parse(c.Jira.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("jira.endpoint %q is not an http(s) URL", c.Jira.Endpoint))
	}

	switch c.Jira.Auth {
	case AuthBearer:
	case AuthBasic:
		if c.Jira.Username == "" {
			errs = append(errs, errors.New("jira.username must be set for basic auth"))
		}
	case AuthAPIToken:
		if c.Jira.Email == "" {
			errs = append(errs, errors.New("jira.email must be set for api-token auth"))
		}
	default:
		errs = append(errs, fmt.Errorf("jira.auth must be one of %s, %s, %s; got %q", AuthBearer, AuthBasic, AuthAPIToken, c.Jira.Auth))
	}

	if c.Jira.Timeout <= 0 {
		errs = append(errs, errors.New("jira.timeout must be positive"))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("poll.interval must be positive"))
	}
	if c.Poll.BaseDelay <= 0 {
		errs = append(errs, errors.New("poll.base-delay must be positive"))
	}
	if c.Poll.MaxDelay < c.Poll.BaseDelay {
		errs = append(errs, errors.New("poll.max-delay must not be smaller than poll.base-delay"))
	}
	if c.Poll.MaxRetries < 0 {
		errs = append(errs, errors.New("poll.max-retries must not be negative"))
	}
	if c.Poll.Jitter < 0 || c.Poll.Jitter >= 1 {
		errs = append(errs, errors.New("poll.jitter must be in [0, 1)"))
	}
	if c.Poll.Timeout <= 0 {
		errs = append(errs, errors.New("poll.timeout must be positive"))
	}
	if c.Search.PageSize < 1 || c.Search.PageSize > 1000 {
		errs = append(errs, errors.New("search.page-size must be between 1 and 1000"))
	}

	return errors.Join(errs...)
}
