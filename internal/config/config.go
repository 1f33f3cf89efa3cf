// Package config loads MCP server definitions from a TOML file and applies
// environment overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/giantswarm/mcp-client/internal/auth"
)

// Transport kinds.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Duration is a time.Duration written as a string such as "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// File is the parsed configuration file.
type File struct {
	Servers map[string]Server `toml:"servers"`
}

// Server describes how to reach one MCP server.
type Server struct {
	Transport string `toml:"transport"`

	// stdio
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`
	Dir     string            `toml:"dir"`

	// http
	URL     string            `toml:"url"`
	Headers map[string]string `toml:"headers"`

	RequestTimeout Duration `toml:"request_timeout"`

	OAuth *OAuth `toml:"oauth"`
}

// OAuth holds the authorization settings of an HTTP server.
type OAuth struct {
	ClientID            string   `toml:"client_id"`
	ClientSecret        string   `toml:"client_secret"`
	ClientIDMetadataURL string   `toml:"client_id_metadata_url"`
	RegistrationToken   string   `toml:"registration_token"`
	Scopes              []string `toml:"scopes"`
	ScopeMode           string   `toml:"scope_mode"`
	RedirectURL         string   `toml:"redirect_url"`
	Resource            string   `toml:"resource"`
	SkipResourceParam   bool     `toml:"skip_resource_param"`
	PreferredAuthServer string   `toml:"preferred_auth_server"`
	StepUpMaxRetries    int      `toml:"step_up_max_retries"`
	Timeout             Duration `toml:"timeout"`
}

// DefaultPath returns $XDG_CONFIG_HOME/mcp-client/servers.toml, or the
// platform equivalent.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, "mcp-client", "servers.toml"), nil
}

// Load reads and validates a configuration file. Unknown keys are errors.
func Load(path string) (*File, error) {
	var f File
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &f, nil
}

// Validate checks every server definition.
func (f *File) Validate() error {
	for _, name := range f.Names() {
		s := f.Servers[name]
		if err := s.Validate(); err != nil {
			return fmt.Errorf("server %q: %w", name, err)
		}
	}
	return nil
}

// Names returns the server names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Servers))
	for name := range f.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Server returns the named definition.
func (f *File) Server(name string) (Server, error) {
	s, ok := f.Servers[name]
	if !ok {
		return Server{}, fmt.Errorf("server %q not found in config (known: %s)", name, strings.Join(f.Names(), ", "))
	}
	return s, nil
}

// Validate checks that the fields required by the transport are present.
func (s Server) Validate() error {
	switch s.Transport {
	case TransportStdio:
		if s.Command == "" {
			return fmt.Errorf("stdio transport requires command")
		}
		if s.URL != "" {
			return fmt.Errorf("url is not used by the stdio transport")
		}
		if s.OAuth != nil {
			return fmt.Errorf("oauth is only supported for the http transport")
		}
	case TransportHTTP:
		if s.URL == "" {
			return fmt.Errorf("http transport requires url")
		}
		u, err := url.Parse(s.URL)
		if err != nil {
			return fmt.Errorf("invalid url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("url must use http or https, got %q", u.Scheme)
		}
		if s.Command != "" {
			return fmt.Errorf("command is not used by the http transport")
		}
	case "":
		return fmt.Errorf("transport is required (%s or %s)", TransportStdio, TransportHTTP)
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", s.Transport, TransportStdio, TransportHTTP)
	}

	if s.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must not be negative")
	}
	return nil
}

// FlowConfig converts the OAuth section into an authorization flow
// configuration. The resource indicator defaults to the canonical form of
// the server URL.
func (o *OAuth) FlowConfig(endpoint string) (auth.FlowConfig, error) {
	if o == nil {
		o = &OAuth{}
	}
	cfg := auth.FlowConfig{
		ClientID:                     o.ClientID,
		ClientSecret:                 o.ClientSecret,
		ClientIDMetadataURL:          o.ClientIDMetadataURL,
		RegistrationToken:            o.RegistrationToken,
		Scopes:                       o.Scopes,
		ScopeSelectionMode:           auth.ScopeSelectionMode(o.ScopeMode),
		RedirectURL:                  o.RedirectURL,
		PreferredAuthorizationServer: o.PreferredAuthServer,
		Resource:                     o.Resource,
		SkipResourceParam:            o.SkipResourceParam,
		StepUpMaxRetries:             o.StepUpMaxRetries,
		AuthorizationTimeout:         o.Timeout.Duration(),
	}
	if cfg.Resource == "" && !cfg.SkipResourceParam {
		resource, err := auth.DeriveResourceURI(endpoint)
		if err != nil {
			return auth.FlowConfig{}, err
		}
		cfg.Resource = resource
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return auth.FlowConfig{}, err
	}
	return cfg, nil
}
