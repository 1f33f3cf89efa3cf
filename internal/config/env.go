package config

import (
	"errors"
	"fmt"

	"github.com/joeshaw/envdecode"
)

// Env holds the environment overrides.
type Env struct {
	// ConfigPath replaces the default config file location.
	ConfigPath string `env:"MCP_CLIENT_CONFIG"`

	OAuthClientID     string `env:"MCP_CLIENT_OAUTH_CLIENT_ID"`
	OAuthClientSecret string `env:"MCP_CLIENT_OAUTH_CLIENT_SECRET"`

	// NoKeyring keeps tokens in memory for the lifetime of the process.
	NoKeyring bool `env:"MCP_CLIENT_NO_KEYRING"`
}

// LoadEnv reads the overrides. An environment without any of them set is
// not an error.
func LoadEnv() (Env, error) {
	var e Env
	if err := envdecode.Decode(&e); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Env{}, fmt.Errorf("invalid environment: %w", err)
	}
	return e, nil
}

// Apply copies the OAuth client overrides into s. An http server without
// an oauth section gets one when a client id is supplied.
func (e Env) Apply(s *Server) {
	if e.OAuthClientID == "" && e.OAuthClientSecret == "" {
		return
	}
	if s.Transport != TransportHTTP {
		return
	}
	if s.OAuth == nil {
		s.OAuth = &OAuth{}
	}
	if e.OAuthClientID != "" {
		s.OAuth.ClientID = e.OAuthClientID
	}
	if e.OAuthClientSecret != "" {
		s.OAuth.ClientSecret = e.OAuthClientSecret
	}
}
