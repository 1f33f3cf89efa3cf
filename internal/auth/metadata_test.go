package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func TestBuildASMetadataEndpoints(t *testing.T) {
	tests := []struct {
		issuer  string
		want    []string
		wantErr bool
	}{
		{
			issuer: "https://auth.example.com/tenant1",
			want: []string{
				"https://auth.example.com/.well-known/oauth-authorization-server/tenant1",
				"https://auth.example.com/.well-known/openid-configuration/tenant1",
				"https://auth.example.com/tenant1/.well-known/openid-configuration",
			},
		},
		{
			issuer: "https://auth.example.com",
			want: []string{
				"https://auth.example.com/.well-known/oauth-authorization-server",
				"https://auth.example.com/.well-known/openid-configuration",
			},
		},
		{
			issuer: "http://localhost:9000",
			want: []string{
				"http://localhost:9000/.well-known/oauth-authorization-server",
				"http://localhost:9000/.well-known/openid-configuration",
			},
		},
		{issuer: "http://auth.example.com", wantErr: true},
		{issuer: "ftp://auth.example.com", wantErr: true},
		{issuer: "auth.example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.issuer, func(t *testing.T) {
			got, err := buildASMetadataEndpoints(tt.issuer)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDiscoverAuthorizationServerMetadataProbeOrder(t *testing.T) {
	rec := &pathRecorder{docs: map[string]interface{}{}}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	// Only the third candidate serves a document.
	rec.docs["/tenant1/.well-known/openid-configuration"] = AuthorizationServerMetadata{
		Issuer:                srv.URL + "/tenant1",
		AuthorizationEndpoint: srv.URL + "/tenant1/authorize",
		TokenEndpoint:         srv.URL + "/tenant1/token",
		CodeChallengeMethods:  []string{"S256"},
	}

	d := &Discoverer{HTTPClient: srv.Client()}
	md, err := d.DiscoverAuthorizationServerMetadata(context.Background(), srv.URL+"/tenant1")
	if err != nil {
		t.Fatalf("DiscoverAuthorizationServerMetadata: %v", err)
	}
	if md.TokenEndpoint != srv.URL+"/tenant1/token" {
		t.Errorf("TokenEndpoint = %q", md.TokenEndpoint)
	}

	want := []string{
		"/.well-known/oauth-authorization-server/tenant1",
		"/.well-known/openid-configuration/tenant1",
		"/tenant1/.well-known/openid-configuration",
	}
	if got := rec.requested(); !reflect.DeepEqual(got, want) {
		t.Errorf("probe order = %v, want %v", got, want)
	}
}

func TestDiscoverAuthorizationServerMetadataSkipsInvalid(t *testing.T) {
	rec := &pathRecorder{docs: map[string]interface{}{}}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	rec.docs["/.well-known/oauth-authorization-server"] = AuthorizationServerMetadata{Issuer: srv.URL}
	rec.docs["/.well-known/openid-configuration"] = AuthorizationServerMetadata{
		Issuer:                srv.URL,
		AuthorizationEndpoint: srv.URL + "/authorize",
		TokenEndpoint:         srv.URL + "/token",
	}

	d := &Discoverer{HTTPClient: srv.Client()}
	md, err := d.DiscoverAuthorizationServerMetadata(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("DiscoverAuthorizationServerMetadata: %v", err)
	}
	if md.AuthorizationEndpoint != srv.URL+"/authorize" {
		t.Errorf("AuthorizationEndpoint = %q", md.AuthorizationEndpoint)
	}
}

func TestFetchJSONLimits(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		maxSize     int64
		wantErr     string
	}{
		{name: "ok", contentType: "application/json", body: `{"issuer":"x"}`, maxSize: 1024},
		{name: "wrong content type", contentType: "text/html", body: `{}`, maxSize: 1024, wantErr: "Content-Type"},
		{name: "too large", contentType: "application/json", body: `{"issuer":"` + strings.Repeat("a", 100) + `"}`, maxSize: 64, wantErr: "maximum size"},
		{name: "malformed", contentType: "application/json", body: `{`, maxSize: 1024, wantErr: "parse JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("User-Agent") != userAgent {
					t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
				}
				w.Header().Set("Content-Type", tt.contentType)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			var v AuthorizationServerMetadata
			err := fetchJSON(context.Background(), srv.Client(), srv.URL, tt.maxSize, &v)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("fetchJSON: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePKCESupport(t *testing.T) {
	tests := []struct {
		name    string
		md      *AuthorizationServerMetadata
		wantErr bool
	}{
		{name: "S256", md: &AuthorizationServerMetadata{CodeChallengeMethods: []string{"plain", "S256"}}},
		{name: "plain only", md: &AuthorizationServerMetadata{CodeChallengeMethods: []string{"plain"}}, wantErr: true},
		{name: "not advertised", md: &AuthorizationServerMetadata{}, wantErr: true},
		{name: "nil", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidatePKCESupport(tt.md); (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateASMetadata(t *testing.T) {
	base := AuthorizationServerMetadata{
		Issuer:                "https://auth.example.com",
		AuthorizationEndpoint: "https://auth.example.com/authorize",
		TokenEndpoint:         "https://auth.example.com/token",
	}

	tests := []struct {
		name    string
		mutate  func(*AuthorizationServerMetadata)
		wantErr bool
	}{
		{name: "valid", mutate: func(*AuthorizationServerMetadata) {}},
		{name: "missing token endpoint", mutate: func(m *AuthorizationServerMetadata) { m.TokenEndpoint = "" }, wantErr: true},
		{name: "http token endpoint", mutate: func(m *AuthorizationServerMetadata) { m.TokenEndpoint = "http://auth.example.com/token" }, wantErr: true},
		{name: "relative registration endpoint", mutate: func(m *AuthorizationServerMetadata) { m.RegistrationEndpoint = "/register" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := base
			tt.mutate(&md)
			if err := validateASMetadata(&md); (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
