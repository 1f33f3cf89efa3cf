package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// ProtectedResourceMetadata is OAuth 2.0 Protected Resource Metadata as
// defined in RFC 9728.
type ProtectedResourceMetadata struct {
	// Resource is the protected resource identifier
	Resource string `json:"resource"`

	// AuthorizationServers lists the issuers that can grant access
	AuthorizationServers []string `json:"authorization_servers"`

	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceDocumentation  string   `json:"resource_documentation,omitempty"`
}

// Challenge is a parsed WWW-Authenticate header.
type Challenge struct {
	// Scheme is the authentication scheme (typically "Bearer")
	Scheme string

	// ResourceMetadataURL points at the protected resource metadata
	ResourceMetadataURL string

	// Scopes are the scopes required for the failed request
	Scopes []string

	// Error is the RFC 6750 error code, e.g. "insufficient_scope"
	Error string

	ErrorDescription string
}

// InsufficientScope reports whether the challenge asks for more scopes.
func (c *Challenge) InsufficientScope() bool {
	return c != nil && c.Error == "insufficient_scope"
}

// ParseWWWAuthenticate parses a WWW-Authenticate header value per RFC 6750
// and RFC 9728.
//
// Example header:
//
//	WWW-Authenticate: Bearer resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource",
//	                         scope="files:read",
//	                         error="insufficient_scope"
func ParseWWWAuthenticate(header string) (*Challenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}

	parts := strings.SplitN(header, " ", 2)
	challenge := &Challenge{Scheme: parts[0]}

	if len(parts) == 2 {
		params := parseAuthParams(parts[1])
		challenge.ResourceMetadataURL = params["resource_metadata"]
		challenge.Error = params["error"]
		challenge.ErrorDescription = params["error_description"]
		if scopeParam := params["scope"]; scopeParam != "" {
			challenge.Scopes = strings.Fields(scopeParam)
		}
	}

	return challenge, nil
}

// parseAuthParams parses key=value and key="value" pairs separated by commas.
func parseAuthParams(params string) map[string]string {
	result := make(map[string]string)

	for _, part := range splitPreservingQuotes(params, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		eqIdx := strings.Index(part, "=")
		if eqIdx == -1 {
			continue
		}

		key := strings.ToLower(strings.TrimSpace(part[:eqIdx]))
		value := strings.TrimSpace(part[eqIdx+1:])
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}

		if key != "" {
			result[key] = value
		}
	}

	return result
}

// splitPreservingQuotes splits s on delimiter outside double quotes.
func splitPreservingQuotes(s string, delimiter byte) []string {
	var result []string
	var current strings.Builder
	inQuotes := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '"':
			inQuotes = !inQuotes
			current.WriteByte(ch)
		case ch == delimiter && !inQuotes:
			result = append(result, current.String())
			current.Reset()
		default:
			current.WriteByte(ch)
		}
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// DiscoverProtectedResource finds the protected resource metadata for an
// MCP endpoint.
//
// Discovery order:
//  1. the resource_metadata URL from the challenge, if any
//  2. /.well-known/oauth-protected-resource/<path>
//  3. /.well-known/oauth-protected-resource
func (d *Discoverer) DiscoverProtectedResource(ctx context.Context, endpoint string, challenge *Challenge) (*ProtectedResourceMetadata, error) {
	logger := d.logger()

	var uris []string
	if challenge != nil && challenge.ResourceMetadataURL != "" {
		logger.InfoVerbose("Using resource_metadata URL from WWW-Authenticate: %s", challenge.ResourceMetadataURL)
		uris = append(uris, challenge.ResourceMetadataURL)
	}

	wellKnown, err := buildWellKnownURIs(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to build well-known URIs: %w", err)
	}
	uris = append(uris, wellKnown...)

	var lastErr error
	for i, uri := range uris {
		logger.InfoVerbose("Trying protected resource metadata (%d/%d): %s", i+1, len(uris), uri)

		var metadata ProtectedResourceMetadata
		if err := fetchJSON(ctx, d.client(), uri, maxMetadataSize, &metadata); err != nil {
			logger.WarningVerbose("Failed to fetch from %s: %v", uri, err)
			lastErr = err
			continue
		}
		if err := validateProtectedResourceMetadata(&metadata); err != nil {
			logger.WarningVerbose("Invalid metadata from %s: %v", uri, err)
			lastErr = err
			continue
		}

		logger.InfoVerbose("Discovered protected resource metadata from: %s", uri)
		return &metadata, nil
	}

	return nil, fmt.Errorf("no protected resource metadata found (last error: %w)", lastErr)
}

// buildWellKnownURIs returns the RFC 9728 Section 3 well-known URIs for an
// endpoint, path-inserted first.
func buildWellKnownURIs(endpoint string) ([]string, error) {
	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse endpoint URL: %w", err)
	}

	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("endpoint URL must include scheme and host")
	}

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)

	var uris []string
	if path := normalizePath(parsedURL.Path); path != "" {
		uris = append(uris, fmt.Sprintf("%s/.well-known/oauth-protected-resource/%s", baseURL, path))
	}
	uris = append(uris, baseURL+"/.well-known/oauth-protected-resource")

	return uris, nil
}

func validateProtectedResourceMetadata(metadata *ProtectedResourceMetadata) error {
	if metadata.Resource == "" {
		return fmt.Errorf("missing required field: resource")
	}

	if len(metadata.AuthorizationServers) == 0 {
		return fmt.Errorf("missing required field: authorization_servers (at least one required)")
	}

	for i, asURL := range metadata.AuthorizationServers {
		parsed, err := url.Parse(asURL)
		if err != nil {
			return fmt.Errorf("invalid authorization server URL at index %d: %w", i, err)
		}
		if !parsed.IsAbs() {
			return fmt.Errorf("authorization server URL at index %d must be absolute: %s", i, asURL)
		}
		if parsed.Scheme != schemeHTTPS && parsed.Scheme != schemeHTTP {
			return fmt.Errorf("authorization server URL at index %d must use http or https scheme: %s", i, asURL)
		}
		if parsed.Host == "" {
			return fmt.Errorf("authorization server URL at index %d missing host: %s", i, asURL)
		}
	}

	return nil
}

// SelectAuthorizationServer returns preferred when the metadata lists it,
// otherwise the first authorization server.
func SelectAuthorizationServer(metadata *ProtectedResourceMetadata, preferred string) (string, error) {
	if metadata == nil || len(metadata.AuthorizationServers) == 0 {
		return "", fmt.Errorf("no authorization servers available")
	}

	if preferred != "" {
		for _, server := range metadata.AuthorizationServers {
			if server == preferred {
				return server, nil
			}
		}
		return "", fmt.Errorf("preferred authorization server not found: %s", preferred)
	}

	return metadata.AuthorizationServers[0], nil
}

// normalizePath removes leading and trailing slashes.
func normalizePath(p string) string {
	p = strings.TrimPrefix(p, "/")
	return strings.TrimSuffix(p, "/")
}
