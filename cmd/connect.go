package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/giantswarm/mcp-client/internal/agent"
	"github.com/giantswarm/mcp-client/internal/auth"
	"github.com/giantswarm/mcp-client/internal/config"
	"github.com/giantswarm/mcp-client/internal/logging"
	"github.com/giantswarm/mcp-client/internal/mcp"
)

const defaultEndpoint = "http://localhost:8090/mcp"

// oauthFlags overlay the oauth section of the selected server.
type oauthFlags struct {
	enabled           bool
	clientID          string
	clientSecret      string
	clientIDMetaURL   string
	registrationToken string
	scopes            []string
	scopeMode         string
	redirectURL       string
	resourceURI       string
	skipResource      bool
	preferredAuthSrv  string
	stepUpMaxRetries  int
	timeout           time.Duration
}

func (o *oauthFlags) register(fs *pflag.FlagSet) {
	fs.BoolVar(&o.enabled, "oauth", false, "Enable OAuth authentication for connecting to protected MCP servers")
	fs.StringVar(&o.clientID, "oauth-client-id", "", "OAuth client ID (optional - will use Dynamic Client Registration if not provided)")
	fs.StringVar(&o.clientSecret, "oauth-client-secret", "", "OAuth client secret (optional, prefer MCP_CLIENT_OAUTH_CLIENT_SECRET)")
	fs.StringVar(&o.clientIDMetaURL, "oauth-client-id-metadata-url", "", "HTTPS URL hosting Client ID Metadata Document (enables CIMD support)")
	fs.StringVar(&o.registrationToken, "oauth-registration-token", "", "OAuth registration access token for Dynamic Client Registration")
	fs.StringSliceVar(&o.scopes, "oauth-scopes", nil, "OAuth scopes to request (used with --oauth-scope-mode=manual)")
	fs.StringVar(&o.scopeMode, "oauth-scope-mode", "", "Scope selection mode: 'auto' (default) or 'manual' (use --oauth-scopes only)")
	fs.StringVar(&o.redirectURL, "oauth-redirect-url", "", "OAuth redirect URL for callback (default "+auth.DefaultRedirectURL+")")
	fs.StringVar(&o.resourceURI, "oauth-resource-uri", "", "Target resource URI for RFC 8707 (derived from the endpoint if not specified)")
	fs.BoolVar(&o.skipResource, "oauth-skip-resource-param", false, "Skip RFC 8707 resource parameter (for older servers)")
	fs.StringVar(&o.preferredAuthSrv, "oauth-preferred-auth-server", "", "Preferred authorization server URL when multiple are available")
	fs.IntVar(&o.stepUpMaxRetries, "oauth-step-up-max-retries", 0, "Maximum step-up authorization attempts per scope set (default 3)")
	fs.DurationVar(&o.timeout, "oauth-timeout", 0, "Maximum time to wait for OAuth authorization (default 5m)")
}

// apply merges the flags that were set into s.OAuth. Any oauth flag
// enables OAuth for the server.
func (o *oauthFlags) apply(fs *pflag.FlagSet, s *config.Server) {
	var touched bool
	fs.Visit(func(f *pflag.Flag) {
		if strings.HasPrefix(f.Name, "oauth") {
			touched = true
		}
	})
	if !touched {
		return
	}
	if s.OAuth == nil {
		s.OAuth = &config.OAuth{}
	}

	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}
	set("oauth-client-id", func() { s.OAuth.ClientID = o.clientID })
	set("oauth-client-secret", func() { s.OAuth.ClientSecret = o.clientSecret })
	set("oauth-client-id-metadata-url", func() { s.OAuth.ClientIDMetadataURL = o.clientIDMetaURL })
	set("oauth-registration-token", func() { s.OAuth.RegistrationToken = o.registrationToken })
	set("oauth-scopes", func() { s.OAuth.Scopes = o.scopes })
	set("oauth-scope-mode", func() { s.OAuth.ScopeMode = o.scopeMode })
	set("oauth-redirect-url", func() { s.OAuth.RedirectURL = o.redirectURL })
	set("oauth-resource-uri", func() { s.OAuth.Resource = o.resourceURI })
	set("oauth-skip-resource-param", func() { s.OAuth.SkipResourceParam = o.skipResource })
	set("oauth-preferred-auth-server", func() { s.OAuth.PreferredAuthServer = o.preferredAuthSrv })
	set("oauth-step-up-max-retries", func() { s.OAuth.StepUpMaxRetries = o.stepUpMaxRetries })
	set("oauth-timeout", func() { s.OAuth.Timeout = config.Duration(o.timeout) })
}

// resolveServer builds the server definition from --server, --command or
// --endpoint, in that order, then layers flags and environment on top.
func resolveServer(cmd *cobra.Command, env config.Env, logger *logging.Logger) (string, config.Server, error) {
	var (
		name   string
		server config.Server
	)

	switch {
	case serverName != "":
		path, err := configFilePath(env)
		if err != nil {
			return "", config.Server{}, err
		}
		file, err := config.Load(path)
		if err != nil {
			return "", config.Server{}, err
		}
		if server, err = file.Server(serverName); err != nil {
			return "", config.Server{}, err
		}
		name = serverName

	case command != "":
		server = config.Server{
			Transport: config.TransportStdio,
			Command:   command,
			Args:      commandArgs,
		}
		name = filepath.Base(command)

	default:
		target := endpoint
		if target == "" {
			target = defaultEndpoint
		}
		server = config.Server{Transport: config.TransportHTTP, URL: target}
		u, err := url.Parse(target)
		if err != nil {
			return "", config.Server{}, fmt.Errorf("invalid endpoint: %w", err)
		}
		name = u.Host
	}

	if len(headers) > 0 {
		parsed, err := parseHeaders(headers)
		if err != nil {
			return "", config.Server{}, err
		}
		if server.Headers == nil {
			server.Headers = make(map[string]string, len(parsed))
		}
		for k, v := range parsed {
			server.Headers[k] = v
		}
	}
	if cmd.Flags().Changed("request-timeout") {
		server.RequestTimeout = config.Duration(requestTimeout)
	}

	if server.Transport == config.TransportHTTP {
		oauth.apply(cmd.Flags(), &server)
		env.Apply(&server)
	}

	if cmd.Flags().Changed("oauth-client-secret") {
		logger.Warning("Security Warning: Client secret passed via CLI flag is visible in process listings")
	}

	if err := server.Validate(); err != nil {
		return "", config.Server{}, fmt.Errorf("server %q: %w", name, err)
	}
	return name, server, nil
}

func configFilePath(env config.Env) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	if env.ConfigPath != "" {
		return env.ConfigPath, nil
	}
	return config.DefaultPath()
}

func parseHeaders(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, want 'Name: value'", h)
		}
		out[name] = strings.TrimSpace(value)
	}
	return out, nil
}

// newAuthManager returns the token manager. Tokens live in the OS keyring
// unless MCP_CLIENT_NO_KEYRING is set.
func newAuthManager(env config.Env, logger *logging.Logger) *auth.Manager {
	var store auth.TokenStore = auth.NewKeyringStore()
	if env.NoKeyring {
		store = auth.NewMemoryStore()
	}
	return auth.NewManager(store, auth.WithManagerLogger(logger))
}

// setupAuth registers the server with a new manager and returns the
// authorizer for its transport. Servers without an oauth section get nil.
func setupAuth(name string, server config.Server, env config.Env, logger *logging.Logger) (*auth.Manager, *auth.SessionAuthorizer, error) {
	if server.Transport != config.TransportHTTP || server.OAuth == nil {
		return nil, nil, nil
	}

	flowCfg, err := server.OAuth.FlowConfig(server.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid OAuth configuration: %w", err)
	}

	manager := newAuthManager(env, logger)
	if err := manager.AddServer(name, flowCfg); err != nil {
		return nil, nil, err
	}

	if flowCfg.ClientID == "" {
		logger.Info("OAuth enabled - will attempt Client ID Metadata or Dynamic Client Registration")
	} else {
		logger.Info("OAuth enabled with client ID: %s", flowCfg.ClientID)
	}

	authorizer := auth.NewSessionAuthorizer(manager, name, server.URL, &auth.Discoverer{Logger: logger})
	return manager, authorizer, nil
}

// workingDirRoots offers the current directory to servers that ask for
// roots.
func workingDirRoots() []mcp.Root {
	wd, err := os.Getwd()
	if err != nil {
		return nil
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(wd)}
	return []mcp.Root{{URI: u.String(), Name: filepath.Base(wd)}}
}

// connect resolves the server and returns a client that completed the
// handshake.
func connect(ctx context.Context, cmd *cobra.Command, logger *logging.Logger) (*agent.Client, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}

	name, server, err := resolveServer(cmd, env, logger)
	if err != nil {
		return nil, err
	}

	_, authorizer, err := setupAuth(name, server, env, logger)
	if err != nil {
		return nil, err
	}

	cfg := agent.ClientConfig{
		Name:    name,
		Server:  server,
		Logger:  logger,
		Version: version,
		Roots:   workingDirRoots(),
	}
	if authorizer != nil {
		cfg.Authorizer = authorizer
	}

	client := agent.NewClient(cfg)
	if err := client.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to connect client: %w", err)
	}
	return client, nil
}
