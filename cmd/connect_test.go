package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/giantswarm/mcp-client/internal/auth"
	"github.com/giantswarm/mcp-client/internal/config"
	"github.com/giantswarm/mcp-client/internal/logging"
)

// testCommand returns a command carrying the connection flags, parsed from
// args. Package-level flag variables are restored afterwards.
func testCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()

	saved := struct {
		configPath, serverName, endpoint, command string
		commandArgs, headers                     []string
		requestTimeout                            time.Duration
		oauth                                     oauthFlags
	}{configPath, serverName, endpoint, command, commandArgs, headers, requestTimeout, oauth}
	t.Cleanup(func() {
		configPath, serverName, endpoint, command = saved.configPath, saved.serverName, saved.endpoint, saved.command
		commandArgs, headers, requestTimeout, oauth = saved.commandArgs, saved.headers, saved.requestTimeout, saved.oauth
	})

	cmd := &cobra.Command{Use: "test"}
	fs := cmd.Flags()
	fs.StringVar(&configPath, "config", "", "")
	fs.StringVar(&serverName, "server", "", "")
	fs.StringVar(&endpoint, "endpoint", "", "")
	fs.StringVar(&command, "command", "", "")
	fs.StringArrayVar(&commandArgs, "arg", nil, "")
	fs.StringArrayVar(&headers, "header", nil, "")
	fs.DurationVar(&requestTimeout, "request-timeout", 0, "")
	oauth = oauthFlags{}
	oauth.register(fs)

	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	return cmd
}

func discardLogger() *logging.Logger {
	return logging.NewLoggerWithWriter(false, false, false, io.Discard)
}

func TestParseHeaders(t *testing.T) {
	got, err := parseHeaders([]string{"X-Tenant: a", "Authorization:Bearer x ", "X-Empty:"})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"X-Tenant": "a", "Authorization": "Bearer x", "X-Empty": ""}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}

	for _, bad := range []string{"no-colon", ": value"} {
		if _, err := parseHeaders([]string{bad}); err == nil {
			t.Errorf("parseHeaders(%q) should fail", bad)
		}
	}
}

func TestOAuthFlagsApply(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		initial   *config.OAuth
		wantOAuth bool
		check     func(t *testing.T, o *config.OAuth)
	}{
		{name: "no oauth flags", wantOAuth: false},
		{name: "enable only", args: []string{"--oauth"}, wantOAuth: true},
		{
			name:      "overrides file values",
			args:      []string{"--oauth-client-id", "flag-id", "--oauth-scopes", "a,b", "--oauth-timeout", "2m"},
			initial:   &config.OAuth{ClientID: "file-id", RedirectURL: "http://127.0.0.1:9000/cb"},
			wantOAuth: true,
			check: func(t *testing.T, o *config.OAuth) {
				if o.ClientID != "flag-id" {
					t.Errorf("ClientID = %q", o.ClientID)
				}
				if strings.Join(o.Scopes, " ") != "a b" {
					t.Errorf("Scopes = %v", o.Scopes)
				}
				if o.Timeout.Duration() != 2*time.Minute {
					t.Errorf("Timeout = %v", o.Timeout.Duration())
				}
				if o.RedirectURL != "http://127.0.0.1:9000/cb" {
					t.Errorf("unset flag replaced RedirectURL: %q", o.RedirectURL)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var o oauthFlags
			fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
			o.register(fs)
			if err := fs.Parse(tt.args); err != nil {
				t.Fatal(err)
			}

			s := config.Server{Transport: config.TransportHTTP, URL: "https://mcp.example.com/mcp", OAuth: tt.initial}
			o.apply(fs, &s)

			if (s.OAuth != nil) != tt.wantOAuth {
				t.Fatalf("OAuth set = %v, want %v", s.OAuth != nil, tt.wantOAuth)
			}
			if tt.check != nil {
				tt.check(t, s.OAuth)
			}
		})
	}
}

func TestResolveServerFromFlags(t *testing.T) {
	t.Run("stdio command", func(t *testing.T) {
		cmd := testCommand(t, "--command", "/usr/local/bin/my-server", "--arg", "--stdio", "--arg", "-v")
		name, s, err := resolveServer(cmd, config.Env{}, discardLogger())
		if err != nil {
			t.Fatal(err)
		}
		if name != "my-server" || s.Transport != config.TransportStdio {
			t.Errorf("got %q %+v", name, s)
		}
		if strings.Join(s.Args, " ") != "--stdio -v" {
			t.Errorf("Args = %v", s.Args)
		}
	})

	t.Run("default endpoint", func(t *testing.T) {
		cmd := testCommand(t)
		name, s, err := resolveServer(cmd, config.Env{}, discardLogger())
		if err != nil {
			t.Fatal(err)
		}
		if s.URL != defaultEndpoint || name != "localhost:8090" {
			t.Errorf("got %q %+v", name, s)
		}
		if s.OAuth != nil {
			t.Error("OAuth enabled without flags")
		}
	})

	t.Run("endpoint with headers, timeout and env client id", func(t *testing.T) {
		cmd := testCommand(t,
			"--endpoint", "https://mcp.example.com/mcp",
			"--header", "X-Tenant: a",
			"--request-timeout", "45s",
		)
		_, s, err := resolveServer(cmd, config.Env{OAuthClientID: "env-id"}, discardLogger())
		if err != nil {
			t.Fatal(err)
		}
		if s.Headers["X-Tenant"] != "a" {
			t.Errorf("Headers = %v", s.Headers)
		}
		if s.RequestTimeout.Duration() != 45*time.Second {
			t.Errorf("RequestTimeout = %v", s.RequestTimeout.Duration())
		}
		if s.OAuth == nil || s.OAuth.ClientID != "env-id" {
			t.Errorf("OAuth = %+v", s.OAuth)
		}
	})

	t.Run("invalid endpoint scheme", func(t *testing.T) {
		cmd := testCommand(t, "--endpoint", "ftp://example.com/mcp")
		if _, _, err := resolveServer(cmd, config.Env{}, discardLogger()); err == nil {
			t.Fatal("expected validation error")
		}
	})
}

func TestResolveServerFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.toml")
	content := `
[servers.remote]
transport = "http"
url = "https://mcp.example.com/mcp"
headers = { X-Tenant = "file" }

[servers.remote.oauth]
client_id = "file-id"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := testCommand(t, "--server", "remote", "--config", path, "--header", "X-Tenant: flag", "--oauth-client-id", "flag-id")
	name, s, err := resolveServer(cmd, config.Env{}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if name != "remote" {
		t.Errorf("name = %q", name)
	}
	if s.Headers["X-Tenant"] != "flag" {
		t.Errorf("flag header did not win: %v", s.Headers)
	}
	if s.OAuth.ClientID != "flag-id" {
		t.Errorf("ClientID = %q", s.OAuth.ClientID)
	}

	missing := testCommand(t, "--server", "nope", "--config", path)
	if _, _, err := resolveServer(missing, config.Env{}, discardLogger()); err == nil || !strings.Contains(err.Error(), "remote") {
		t.Errorf("unknown server error = %v", err)
	}
}

func TestConfigFilePath(t *testing.T) {
	saved := configPath
	t.Cleanup(func() { configPath = saved })

	configPath = ""
	if got, _ := configFilePath(config.Env{ConfigPath: "/env/servers.toml"}); got != "/env/servers.toml" {
		t.Errorf("env path = %q", got)
	}
	configPath = "/flag/servers.toml"
	if got, _ := configFilePath(config.Env{ConfigPath: "/env/servers.toml"}); got != "/flag/servers.toml" {
		t.Errorf("flag path = %q", got)
	}
}

func TestSetupAuth(t *testing.T) {
	stdio := config.Server{Transport: config.TransportStdio, Command: "x"}
	if m, a, err := setupAuth("local", stdio, config.Env{}, discardLogger()); m != nil || a != nil || err != nil {
		t.Errorf("stdio server got %v %v %v", m, a, err)
	}

	remote := config.Server{
		Transport: config.TransportHTTP,
		URL:       "https://mcp.example.com/mcp",
		OAuth:     &config.OAuth{ClientID: "cli"},
	}
	manager, authorizer, err := setupAuth("remote", remote, config.Env{NoKeyring: true}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if authorizer == nil {
		t.Fatal("expected authorizer")
	}
	cfg, err := manager.Config("remote")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Resource != "https://mcp.example.com/mcp" {
		t.Errorf("Resource = %q", cfg.Resource)
	}
	if tok, err := manager.CachedToken("remote"); tok != nil || err != nil {
		t.Errorf("fresh memory store returned %v %v", tok, err)
	}
}

func TestWorkingDirRoots(t *testing.T) {
	roots := workingDirRoots()
	if len(roots) != 1 || !strings.HasPrefix(roots[0].URI, "file:///") {
		t.Fatalf("roots = %+v", roots)
	}
}

func TestPrintToken(t *testing.T) {
	var buf bytes.Buffer
	printToken(&buf, "remote", nil)
	if !strings.Contains(buf.String(), "remote: not logged in") {
		t.Errorf("got %q", buf.String())
	}

	buf.Reset()
	printToken(&buf, "remote", &auth.Token{
		AccessToken:  "opaque",
		RefreshToken: "r",
		Scope:        "mcp:read mcp:write",
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	out := buf.String()
	for _, want := range []string{"Scopes:    mcp:read mcp:write", "Refresh:   true", "Access token is opaque"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
