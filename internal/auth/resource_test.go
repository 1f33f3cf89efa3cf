package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestDeriveResourceURI(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
		wantErr  bool
	}{
		{endpoint: "https://MCP.Example.Com:443/mcp", want: "https://mcp.example.com/mcp"},
		{endpoint: "https://example.com:8443/mcp", want: "https://example.com:8443/mcp"},
		{endpoint: "http://localhost:8090/mcp/", want: "http://localhost:8090/mcp"},
		{endpoint: "http://example.com:80/", want: "http://example.com/"},
		{endpoint: "https://example.com/mcp?x=1#frag", want: "https://example.com/mcp"},
		{endpoint: "https://[::1]:443/mcp", want: "https://[::1]/mcp"},
		{endpoint: "https://[::1]:9000/mcp", want: "https://[::1]:9000/mcp"},
		{endpoint: "example.com/mcp", wantErr: true},
		{endpoint: "https:///mcp", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			got, err := DeriveResourceURI(tt.endpoint)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResourceRoundTripper(t *testing.T) {
	var gotForms []url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		gotForms = append(gotForms, form)
		if r.ContentLength != int64(len(body)) {
			t.Errorf("ContentLength %d != body length %d", r.ContentLength, len(body))
		}
	}))
	defer srv.Close()

	rt := newResourceRoundTripper("https://mcp.example.com/mcp", srv.URL+"/oauth/token", nil, nil)
	client := &http.Client{Transport: rt}

	post := func(path string) {
		resp, err := client.Post(srv.URL+path, "application/x-www-form-urlencoded", strings.NewReader("grant_type=refresh_token&refresh_token=r"))
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
	}

	post("/oauth/token")
	post("/other")

	if len(gotForms) != 2 {
		t.Fatalf("requests = %d, want 2", len(gotForms))
	}
	if gotForms[0].Get("resource") != "https://mcp.example.com/mcp" || gotForms[0].Get("refresh_token") != "r" {
		t.Errorf("token request form = %v", gotForms[0])
	}
	if gotForms[1].Has("resource") {
		t.Errorf("non-token request modified: %v", gotForms[1])
	}
}
