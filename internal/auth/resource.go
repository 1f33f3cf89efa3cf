package auth

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/giantswarm/mcp-client/internal/logging"
)

// DeriveResourceURI returns the canonical RFC 8707 resource indicator for
// an MCP endpoint: lowercase scheme and host, default ports dropped, no
// query, no fragment and no trailing slash.
//
// Examples:
//   - https://MCP.Example.Com:443/mcp -> https://mcp.example.com/mcp
//   - https://example.com:8443/mcp -> https://example.com:8443/mcp
//   - http://localhost:8090/mcp/ -> http://localhost:8090/mcp
func DeriveResourceURI(endpoint string) (string, error) {
	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}

	if parsedURL.Scheme == "" {
		return "", fmt.Errorf("endpoint URL missing scheme: %s", endpoint)
	}
	if parsedURL.Host == "" {
		return "", fmt.Errorf("endpoint URL missing host: %s", endpoint)
	}

	scheme := strings.ToLower(parsedURL.Scheme)
	host := strings.ToLower(parsedURL.Host)

	hostname, port, err := net.SplitHostPort(host)
	if err != nil {
		hostname = strings.Trim(host, "[]")
		port = ""
	}

	if (scheme == schemeHTTPS && port == "443") || (scheme == schemeHTTP && port == "80") {
		port = ""
	}

	if port == "" {
		if strings.Contains(hostname, ":") {
			host = "[" + hostname + "]"
		} else {
			host = hostname
		}
	} else {
		host = net.JoinHostPort(hostname, port)
	}

	path := parsedURL.Path
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	return scheme + "://" + host + path, nil
}

// resourceRoundTripper adds the RFC 8707 resource parameter to the form
// body of token endpoint requests, covering both code exchange and refresh.
type resourceRoundTripper struct {
	base          http.RoundTripper
	resourceURI   string
	tokenEndpoint string
	logger        *logging.Logger
}

func newResourceRoundTripper(resourceURI, tokenEndpoint string, base http.RoundTripper, logger *logging.Logger) *resourceRoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &resourceRoundTripper{
		base:          base,
		resourceURI:   resourceURI,
		tokenEndpoint: tokenEndpoint,
		logger:        logger,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *resourceRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.resourceURI == "" || !t.isTokenRequest(req) {
		return t.base.RoundTrip(req)
	}

	clonedReq := req.Clone(req.Context())
	if err := t.addResourceParameter(clonedReq); err != nil {
		return nil, fmt.Errorf("failed to add resource parameter: %w", err)
	}
	t.logger.Debug("Added resource parameter to token request: %s", t.resourceURI)

	return t.base.RoundTrip(clonedReq)
}

func (t *resourceRoundTripper) isTokenRequest(req *http.Request) bool {
	if req.Method != http.MethodPost {
		return false
	}
	if t.tokenEndpoint == "" {
		return strings.HasSuffix(strings.ToLower(req.URL.Path), "/token")
	}
	target, err := url.Parse(t.tokenEndpoint)
	if err != nil {
		return false
	}
	return strings.EqualFold(req.URL.Host, target.Host) && req.URL.Path == target.Path
}

func (t *resourceRoundTripper) addResourceParameter(req *http.Request) error {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return fmt.Errorf("failed to read request body: %w", err)
		}
		_ = req.Body.Close()
	}

	values, err := url.ParseQuery(string(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to parse form data: %w", err)
	}
	values.Set("resource", t.resourceURI)

	newBody := []byte(values.Encode())
	req.Body = io.NopCloser(bytes.NewReader(newBody))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(newBody)), nil
	}
	req.ContentLength = int64(len(newBody))
	return nil
}
