package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
)

func TestParseWWWAuthenticate(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    *Challenge
		wantErr bool
	}{
		{
			name:   "resource metadata and scope",
			header: `Bearer resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource", scope="files:read files:write"`,
			want: &Challenge{
				Scheme:              "Bearer",
				ResourceMetadataURL: "https://mcp.example.com/.well-known/oauth-protected-resource",
				Scopes:              []string{"files:read", "files:write"},
			},
		},
		{
			name:   "insufficient scope with description containing a comma",
			header: `Bearer error="insufficient_scope", scope="admin", error_description="Need admin, sorry"`,
			want: &Challenge{
				Scheme:           "Bearer",
				Scopes:           []string{"admin"},
				Error:            "insufficient_scope",
				ErrorDescription: "Need admin, sorry",
			},
		},
		{
			name:   "unquoted values and mixed-case keys",
			header: `Bearer Error=invalid_token, Scope=read`,
			want: &Challenge{
				Scheme: "Bearer",
				Scopes: []string{"read"},
				Error:  "invalid_token",
			},
		},
		{
			name:   "scheme only",
			header: "Bearer",
			want:   &Challenge{Scheme: "Bearer"},
		},
		{
			name:    "empty",
			header:  "   ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWWWAuthenticate(tt.header)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestChallengeInsufficientScope(t *testing.T) {
	var nilChallenge *Challenge
	if nilChallenge.InsufficientScope() {
		t.Error("nil challenge reported insufficient scope")
	}
	if !(&Challenge{Error: "insufficient_scope"}).InsufficientScope() {
		t.Error("insufficient_scope not detected")
	}
}

func TestBuildWellKnownURIs(t *testing.T) {
	tests := []struct {
		endpoint string
		want     []string
		wantErr  bool
	}{
		{
			endpoint: "https://mcp.example.com/public/mcp",
			want: []string{
				"https://mcp.example.com/.well-known/oauth-protected-resource/public/mcp",
				"https://mcp.example.com/.well-known/oauth-protected-resource",
			},
		},
		{
			endpoint: "https://mcp.example.com/",
			want:     []string{"https://mcp.example.com/.well-known/oauth-protected-resource"},
		},
		{endpoint: "/mcp", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			got, err := buildWellKnownURIs(tt.endpoint)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

// pathRecorder serves fixed documents by path and records every request.
type pathRecorder struct {
	mu    sync.Mutex
	paths []string
	docs  map[string]interface{}
}

func (p *pathRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.paths = append(p.paths, r.URL.Path)
	doc, ok := p.docs[r.URL.Path]
	p.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(doc)
}

func (p *pathRecorder) requested() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.paths...)
}

func TestDiscoverProtectedResource(t *testing.T) {
	valid := ProtectedResourceMetadata{
		Resource:             "https://mcp.example.com/mcp",
		AuthorizationServers: []string{"https://auth.example.com"},
	}

	tests := []struct {
		name      string
		docs      map[string]interface{}
		hint      string
		wantPaths []string
		wantErr   bool
	}{
		{
			name:      "challenge hint first",
			docs:      map[string]interface{}{"/custom/prm": valid},
			hint:      "/custom/prm",
			wantPaths: []string{"/custom/prm"},
		},
		{
			name:      "path-inserted before root",
			docs:      map[string]interface{}{"/.well-known/oauth-protected-resource/mcp": valid},
			wantPaths: []string{"/.well-known/oauth-protected-resource/mcp"},
		},
		{
			name: "root fallback after invalid hint",
			docs: map[string]interface{}{
				"/bad":                                  ProtectedResourceMetadata{Resource: "x"},
				"/.well-known/oauth-protected-resource": valid,
			},
			hint: "/bad",
			wantPaths: []string{
				"/bad",
				"/.well-known/oauth-protected-resource/mcp",
				"/.well-known/oauth-protected-resource",
			},
		},
		{
			name:    "nothing found",
			docs:    map[string]interface{}{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &pathRecorder{docs: tt.docs}
			srv := httptest.NewServer(rec)
			defer srv.Close()

			var challenge *Challenge
			if tt.hint != "" {
				challenge = &Challenge{ResourceMetadataURL: srv.URL + tt.hint}
			}

			d := &Discoverer{HTTPClient: srv.Client()}
			prm, err := d.DiscoverProtectedResource(context.Background(), srv.URL+"/mcp", challenge)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("DiscoverProtectedResource: %v", err)
			}
			if prm.Resource != valid.Resource {
				t.Errorf("Resource = %q", prm.Resource)
			}
			if got := rec.requested(); !reflect.DeepEqual(got, tt.wantPaths) {
				t.Errorf("requested %v, want %v", got, tt.wantPaths)
			}
		})
	}
}

func TestSelectAuthorizationServer(t *testing.T) {
	prm := &ProtectedResourceMetadata{AuthorizationServers: []string{"https://a.example.com", "https://b.example.com"}}

	tests := []struct {
		name      string
		metadata  *ProtectedResourceMetadata
		preferred string
		want      string
		wantErr   bool
	}{
		{name: "first by default", metadata: prm, want: "https://a.example.com"},
		{name: "preferred listed", metadata: prm, preferred: "https://b.example.com", want: "https://b.example.com"},
		{name: "preferred missing", metadata: prm, preferred: "https://c.example.com", wantErr: true},
		{name: "no servers", metadata: &ProtectedResourceMetadata{}, wantErr: true},
		{name: "nil metadata", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectAuthorizationServer(tt.metadata, tt.preferred)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
