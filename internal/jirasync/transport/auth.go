package transport

import (
	"net/http"

	"github.com/andygrunwald/go-jira"
	"golang.org/x/oauth2"
)

// Auth attaches credentials to every outgoing request.
type Auth interface {
	// Scheme names the strategy for logging; it never contains secrets.
	Scheme() string
	Wrap(base http.RoundTripper) http.RoundTripper
}

// BasicAuth authenticates with a user name and password.
type BasicAuth struct {
	Username string
	Password string
}

func (a BasicAuth) Scheme() string { return "basic" }

func (a BasicAuth) Wrap(base http.RoundTripper) http.RoundTripper {
	return &jira.BasicAuthTransport{Username: a.Username, Password: a.Password, Transport: base}
}

// APITokenAuth authenticates a cloud account with its e-mail address and an
// API token. On the wire this is basic authentication.
type APITokenAuth struct {
	Email string
	Token string
}

func (a APITokenAuth) Scheme() string { return "api-token" }

func (a APITokenAuth) Wrap(base http.RoundTripper) http.RoundTripper {
	return &jira.BasicAuthTransport{Username: a.Email, Password: a.Token, Transport: base}
}

// BearerAuth sends a bearer token, typically a personal access token of a
// self-hosted tracker. TokenSource takes precedence over Token so that
// refreshing OAuth2 credentials can be plugged in.
type BearerAuth struct {
	Token       string
	TokenSource oauth2.TokenSource
}

func (a BearerAuth) Scheme() string { return "bearer" }

func (a BearerAuth) Wrap(base http.RoundTripper) http.RoundTripper {
	source := a.TokenSource
	if source == nil {
		source = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: a.Token, TokenType: "Bearer"})
	}
	return &oauth2.Transport{Source: source, Base: base}
}
