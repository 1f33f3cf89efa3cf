package auth

import (
	"context"
	"fmt"
	"net/url"
	"slices"
)

const pkceMethodS256 = "S256"

// AuthorizationServerMetadata is OAuth 2.0 Authorization Server Metadata as
// defined in RFC 8414 and OpenID Connect Discovery 1.0.
type AuthorizationServerMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`

	// RegistrationEndpoint enables dynamic client registration
	RegistrationEndpoint string `json:"registration_endpoint,omitempty"`

	// CodeChallengeMethods must be present and include S256
	CodeChallengeMethods []string `json:"code_challenge_methods_supported,omitempty"`

	ClientIDMetadataDocumentSupported bool `json:"client_id_metadata_document_supported,omitempty"`

	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}

// DiscoverAuthorizationServerMetadata probes the discovery endpoints of an
// issuer and returns the first valid document.
//
// For issuer URLs with path components (e.g. https://auth.example.com/tenant1):
//  1. https://auth.example.com/.well-known/oauth-authorization-server/tenant1
//  2. https://auth.example.com/.well-known/openid-configuration/tenant1
//  3. https://auth.example.com/tenant1/.well-known/openid-configuration
//
// For issuer URLs without path components:
//  1. https://auth.example.com/.well-known/oauth-authorization-server
//  2. https://auth.example.com/.well-known/openid-configuration
func (d *Discoverer) DiscoverAuthorizationServerMetadata(ctx context.Context, issuerURL string) (*AuthorizationServerMetadata, error) {
	logger := d.logger()

	endpoints, err := buildASMetadataEndpoints(issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to build AS metadata endpoints: %w", err)
	}

	logger.InfoVerbose("Probing %d AS metadata endpoints for issuer: %s", len(endpoints), issuerURL)

	var lastErr error
	for i, endpoint := range endpoints {
		logger.InfoVerbose("Trying AS metadata endpoint (%d/%d): %s", i+1, len(endpoints), endpoint)

		var metadata AuthorizationServerMetadata
		if err := fetchJSON(ctx, d.client(), endpoint, maxMetadataSize, &metadata); err != nil {
			logger.WarningVerbose("Failed to fetch from %s: %v", endpoint, err)
			lastErr = err
			continue
		}

		if err := validateASMetadata(&metadata); err != nil {
			logger.WarningVerbose("Invalid metadata from %s: %v", endpoint, err)
			lastErr = err
			continue
		}

		logger.InfoVerbose("Discovered AS metadata from: %s", endpoint)
		return &metadata, nil
	}

	return nil, fmt.Errorf("no valid AS metadata found (last error: %w)", lastErr)
}

// buildASMetadataEndpoints returns the discovery URLs for an issuer per
// RFC 8414 Section 3 and OIDC Discovery Section 4.
func buildASMetadataEndpoints(issuerURL string) ([]string, error) {
	parsed, err := url.Parse(issuerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid issuer URL: %w", err)
	}

	if !parsed.IsAbs() {
		return nil, fmt.Errorf("issuer URL must be absolute")
	}

	switch parsed.Scheme {
	case schemeHTTPS:
	case schemeHTTP:
		if !isLoopbackHost(parsed.Hostname()) {
			return nil, fmt.Errorf("issuer URL must use https scheme (http only allowed for localhost, got: %s)", parsed.Host)
		}
	default:
		return nil, fmt.Errorf("issuer URL must use http or https scheme")
	}

	if parsed.Host == "" {
		return nil, fmt.Errorf("issuer URL missing host")
	}

	baseURL := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	path := normalizePath(parsed.Path)

	if path != "" {
		return []string{
			fmt.Sprintf("%s/.well-known/oauth-authorization-server/%s", baseURL, path),
			fmt.Sprintf("%s/.well-known/openid-configuration/%s", baseURL, path),
			fmt.Sprintf("%s/%s/.well-known/openid-configuration", baseURL, path),
		}, nil
	}

	return []string{
		baseURL + "/.well-known/oauth-authorization-server",
		baseURL + "/.well-known/openid-configuration",
	}, nil
}

// validateASMetadata checks the required fields of RFC 8414 Section 3.
func validateASMetadata(metadata *AuthorizationServerMetadata) error {
	if metadata.Issuer == "" {
		return fmt.Errorf("missing required field: issuer")
	}
	if metadata.AuthorizationEndpoint == "" {
		return fmt.Errorf("missing required field: authorization_endpoint")
	}
	if metadata.TokenEndpoint == "" {
		return fmt.Errorf("missing required field: token_endpoint")
	}

	if err := validateEndpointURL("issuer", metadata.Issuer); err != nil {
		return err
	}
	if err := validateEndpointURL("authorization_endpoint", metadata.AuthorizationEndpoint); err != nil {
		return err
	}
	if err := validateEndpointURL("token_endpoint", metadata.TokenEndpoint); err != nil {
		return err
	}
	if metadata.RegistrationEndpoint != "" {
		if err := validateEndpointURL("registration_endpoint", metadata.RegistrationEndpoint); err != nil {
			return err
		}
	}

	return nil
}

// ValidatePKCESupport fails unless the authorization server advertises the
// S256 code challenge method. A flow never starts without it.
func ValidatePKCESupport(metadata *AuthorizationServerMetadata) error {
	if metadata == nil {
		return fmt.Errorf("authorization server metadata is required")
	}

	if len(metadata.CodeChallengeMethods) == 0 {
		return fmt.Errorf("authorization server does not advertise PKCE support (code_challenge_methods_supported missing or empty)")
	}

	if !slices.Contains(metadata.CodeChallengeMethods, pkceMethodS256) {
		return fmt.Errorf("authorization server does not support S256 PKCE method (only: %v) - S256 is required", metadata.CodeChallengeMethods)
	}

	return nil
}
