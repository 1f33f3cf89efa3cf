package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ClientRegistrationRequest is an RFC 7591 registration request.
type ClientRegistrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	Scope                   string   `json:"scope,omitempty"`
}

// ClientRegistration is the RFC 7591 registration response.
type ClientRegistration struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	RedirectURIs []string `json:"redirect_uris,omitempty"`
}

// registerClient performs dynamic client registration against the
// authorization server's registration endpoint.
func registerClient(ctx context.Context, hc *http.Client, md *AuthorizationServerMetadata, cfg FlowConfig, redirectURI string, scopes []string) (*ClientRegistration, error) {
	if md.RegistrationEndpoint == "" {
		return nil, fmt.Errorf("authorization server has no registration endpoint")
	}

	body, err := json.Marshal(ClientRegistrationRequest{
		ClientName:              cfg.ClientName,
		RedirectURIs:            []string{redirectURI},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
		Scope:                   strings.Join(scopes, " "),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, md.RegistrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	client := hc
	if cfg.RegistrationToken != "" {
		client = withTransport(hc, newRegistrationTokenRoundTripper(cfg.RegistrationToken, hc.Transport))
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("registration failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := checkJSONContentType(resp); err != nil {
		return nil, err
	}

	var reg ClientRegistration
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxMetadataSize)).Decode(&reg); err != nil {
		return nil, fmt.Errorf("failed to parse registration response: %w", err)
	}
	if reg.ClientID == "" {
		return nil, fmt.Errorf("registration response missing client_id")
	}

	return &reg, nil
}

// registrationTokenRoundTripper adds a registration access token as a
// bearer token to POST requests against registration endpoints.
type registrationTokenRoundTripper struct {
	transport         http.RoundTripper
	registrationToken string
}

func newRegistrationTokenRoundTripper(registrationToken string, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &registrationTokenRoundTripper{
		transport:         base,
		registrationToken: registrationToken,
	}
}

// RoundTrip implements http.RoundTripper.
func (rt *registrationTokenRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clonedReq := req.Clone(req.Context())

	path := strings.ToLower(clonedReq.URL.Path)
	if clonedReq.Method == http.MethodPost && strings.Contains(path, "regist") && rt.registrationToken != "" {
		clonedReq.Header.Set("Authorization", "Bearer "+rt.registrationToken)
	}

	return rt.transport.RoundTrip(clonedReq)
}

// withTransport returns a shallow copy of hc using rt.
func withTransport(hc *http.Client, rt http.RoundTripper) *http.Client {
	c := *hc
	c.Transport = rt
	return &c
}
