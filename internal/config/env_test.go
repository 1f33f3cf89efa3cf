package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MCP_CLIENT_CONFIG",
		"MCP_CLIENT_OAUTH_CLIENT_ID",
		"MCP_CLIENT_OAUTH_CLIENT_SECRET",
		"MCP_CLIENT_NO_KEYRING",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Run("empty environment", func(t *testing.T) {
		clearEnv(t)
		e, err := LoadEnv()
		if err != nil {
			t.Fatal(err)
		}
		if e != (Env{}) {
			t.Errorf("got %+v, want zero Env", e)
		}
	})

	t.Run("all set", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("MCP_CLIENT_CONFIG", "/etc/mcp/servers.toml")
		t.Setenv("MCP_CLIENT_OAUTH_CLIENT_ID", "cli")
		t.Setenv("MCP_CLIENT_OAUTH_CLIENT_SECRET", "s3cret")
		t.Setenv("MCP_CLIENT_NO_KEYRING", "true")

		e, err := LoadEnv()
		if err != nil {
			t.Fatal(err)
		}
		want := Env{
			ConfigPath:        "/etc/mcp/servers.toml",
			OAuthClientID:     "cli",
			OAuthClientSecret: "s3cret",
			NoKeyring:         true,
		}
		if e != want {
			t.Errorf("got %+v, want %+v", e, want)
		}
	})

	t.Run("invalid bool", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("MCP_CLIENT_NO_KEYRING", "sometimes")
		if _, err := LoadEnv(); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestEnvApply(t *testing.T) {
	tests := []struct {
		name       string
		env        Env
		server     Server
		wantOAuth  bool
		wantID     string
		wantSecret string
	}{
		{
			name:   "no overrides",
			server: Server{Transport: TransportHTTP, URL: "https://mcp.example.com/mcp"},
		},
		{
			name:      "client id creates oauth section",
			env:       Env{OAuthClientID: "env-id"},
			server:    Server{Transport: TransportHTTP, URL: "https://mcp.example.com/mcp"},
			wantOAuth: true,
			wantID:    "env-id",
		},
		{
			name: "secret keeps file client id",
			env:  Env{OAuthClientSecret: "s"},
			server: Server{
				Transport: TransportHTTP,
				URL:       "https://mcp.example.com/mcp",
				OAuth:     &OAuth{ClientID: "file-id"},
			},
			wantOAuth:  true,
			wantID:     "file-id",
			wantSecret: "s",
		},
		{
			name:   "stdio servers are untouched",
			env:    Env{OAuthClientID: "env-id"},
			server: Server{Transport: TransportStdio, Command: "my-server"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.server
			tt.env.Apply(&s)
			if (s.OAuth != nil) != tt.wantOAuth {
				t.Fatalf("OAuth set = %v, want %v", s.OAuth != nil, tt.wantOAuth)
			}
			if s.OAuth == nil {
				return
			}
			if s.OAuth.ClientID != tt.wantID {
				t.Errorf("ClientID = %q, want %q", s.OAuth.ClientID, tt.wantID)
			}
			if s.OAuth.ClientSecret != tt.wantSecret {
				t.Errorf("ClientSecret = %q, want %q", s.OAuth.ClientSecret, tt.wantSecret)
			}
		})
	}
}
