package auth

import (
	"context"
	"fmt"
	"net/url"
)

// ClientMetadataDocument is an OAuth Client ID Metadata Document. When the
// client_id is an HTTPS URL the authorization server fetches this document
// from it instead of requiring registration.
type ClientMetadataDocument struct {
	// ClientID must be an https URL with a path component
	ClientID string `json:"client_id"`

	ClientName string `json:"client_name,omitempty"`
	ClientURI  string `json:"client_uri,omitempty"`
	LogoURI    string `json:"logo_uri,omitempty"`

	// RedirectURIs are required for the authorization code grant
	RedirectURIs []string `json:"redirect_uris"`

	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// GenerateClientMetadata builds the document to host at
// cfg.ClientIDMetadataURL.
func GenerateClientMetadata(cfg FlowConfig) (*ClientMetadataDocument, error) {
	if cfg.ClientIDMetadataURL == "" {
		return nil, fmt.Errorf("client metadata URL is required for document generation")
	}

	if err := ValidateClientIDURL(cfg.ClientIDMetadataURL); err != nil {
		return nil, fmt.Errorf("invalid client_id URL: %w", err)
	}

	cfg = cfg.WithDefaults()
	return &ClientMetadataDocument{
		ClientID:                cfg.ClientIDMetadataURL,
		ClientName:              cfg.ClientName,
		ClientURI:               "https://github.com/giantswarm/mcp-client",
		RedirectURIs:            []string{cfg.RedirectURL},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
	}, nil
}

// ValidateClientIDURL checks that a client_id URL is an absolute https URL
// with a path component. HTTP is rejected even for localhost.
func ValidateClientIDURL(clientIDURL string) error {
	if clientIDURL == "" {
		return fmt.Errorf("client_id URL cannot be empty")
	}

	parsed, err := url.Parse(clientIDURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if !parsed.IsAbs() {
		return fmt.Errorf("client_id URL must be absolute")
	}

	if parsed.Scheme != schemeHTTPS {
		return fmt.Errorf("client_id URL must use https scheme, got: %s", parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("client_id URL missing host")
	}

	if parsed.Path == "" || parsed.Path == "/" {
		return fmt.Errorf("client_id URL must contain a path component (cannot be just https://%s)", parsed.Host)
	}

	return nil
}

// FetchClientMetadata fetches and validates a client metadata document.
func (d *Discoverer) FetchClientMetadata(ctx context.Context, clientIDURL string) (*ClientMetadataDocument, error) {
	if err := ValidateClientIDURL(clientIDURL); err != nil {
		return nil, err
	}

	var metadata ClientMetadataDocument
	if err := fetchJSON(ctx, d.client(), clientIDURL, maxClientMetadataSize, &metadata); err != nil {
		return nil, err
	}

	if err := ValidateClientMetadata(&metadata); err != nil {
		return nil, fmt.Errorf("invalid client metadata: %w", err)
	}

	if metadata.ClientID != clientIDURL {
		return nil, fmt.Errorf("client metadata client_id %q does not match document URL %q", metadata.ClientID, clientIDURL)
	}

	return &metadata, nil
}

// ValidateClientMetadata checks a client metadata document.
func ValidateClientMetadata(metadata *ClientMetadataDocument) error {
	if err := ValidateClientIDURL(metadata.ClientID); err != nil {
		return fmt.Errorf("invalid client_id: %w", err)
	}

	if len(metadata.RedirectURIs) == 0 {
		return fmt.Errorf("redirect_uris is required (at least one)")
	}

	for i, uri := range metadata.RedirectURIs {
		parsed, err := url.Parse(uri)
		if err != nil {
			return fmt.Errorf("invalid redirect_uri at index %d: %w", i, err)
		}
		if !parsed.IsAbs() {
			return fmt.Errorf("redirect_uri at index %d must be absolute: %s", i, uri)
		}
		if parsed.Scheme != schemeHTTP && parsed.Scheme != schemeHTTPS {
			return fmt.Errorf("redirect_uri at index %d must use http or https scheme: %s", i, uri)
		}
	}

	return nil
}

// SupportsClientIDMetadata reports whether the authorization server accepts
// client metadata document URLs as client ids.
func SupportsClientIDMetadata(md *AuthorizationServerMetadata) bool {
	return md != nil && md.ClientIDMetadataDocumentSupported
}
