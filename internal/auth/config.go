package auth

import (
	"fmt"
	"net/url"
	"time"
)

// ScopeSelectionMode controls which scopes an authorization request asks for.
type ScopeSelectionMode string

const (
	// ScopeSelectionAuto uses the challenge scope, then the resource's
	// scopes_supported, then no scope at all.
	ScopeSelectionAuto ScopeSelectionMode = "auto"
	// ScopeSelectionManual always uses FlowConfig.Scopes.
	ScopeSelectionManual ScopeSelectionMode = "manual"
)

const (
	// DefaultRedirectURL is the loopback callback used when none is configured.
	DefaultRedirectURL = "http://127.0.0.1:8765/callback"

	// DefaultStepUpMaxRetries bounds repeated step-up attempts per host and
	// scope set.
	DefaultStepUpMaxRetries = 3

	// DefaultAuthorizationTimeout is how long Authorize waits for the browser
	// callback.
	DefaultAuthorizationTimeout = 5 * time.Minute

	defaultClientName = "mcp-client"
)

// FlowConfig contains the OAuth 2.1 settings for one MCP server.
type FlowConfig struct {
	// ClientID is a pre-registered client identifier. When empty the flow
	// falls back to a client metadata document, then dynamic registration.
	ClientID string

	// ClientSecret is only set for confidential clients.
	ClientSecret string

	// ClientIDMetadataURL is an HTTPS URL hosting this client's metadata
	// document, used as client_id when the server supports it.
	ClientIDMetadataURL string

	// RegistrationToken is an initial access token for dynamic registration.
	RegistrationToken string

	// ClientName is announced during dynamic registration.
	ClientName string

	// Scopes are requested in manual mode.
	Scopes []string

	ScopeSelectionMode ScopeSelectionMode

	// RedirectURL is the loopback callback. Port 0 picks a free port.
	RedirectURL string

	// PreferredAuthorizationServer selects one of the resource's
	// authorization servers. Empty means the first one listed.
	PreferredAuthorizationServer string

	// Resource is the RFC 8707 resource indicator. Derived from the server
	// endpoint when empty.
	Resource string

	// SkipResourceParam omits the resource indicator for servers that reject
	// it.
	SkipResourceParam bool

	StepUpMaxRetries     int
	AuthorizationTimeout time.Duration
}

// WithDefaults returns a copy of c with unset fields filled in.
func (c FlowConfig) WithDefaults() FlowConfig {
	if c.RedirectURL == "" {
		c.RedirectURL = DefaultRedirectURL
	}
	if c.ScopeSelectionMode == "" {
		c.ScopeSelectionMode = ScopeSelectionAuto
	}
	if c.StepUpMaxRetries <= 0 {
		c.StepUpMaxRetries = DefaultStepUpMaxRetries
	}
	if c.AuthorizationTimeout <= 0 {
		c.AuthorizationTimeout = DefaultAuthorizationTimeout
	}
	if c.ClientName == "" {
		c.ClientName = defaultClientName
	}
	return c
}

// Validate checks the configuration. Call it on the result of WithDefaults.
func (c *FlowConfig) Validate() error {
	if c.RedirectURL == "" {
		return fmt.Errorf("OAuth redirect URL is required")
	}

	parsedURL, err := url.Parse(c.RedirectURL)
	if err != nil {
		return fmt.Errorf("invalid OAuth redirect URL: %w", err)
	}

	// The callback listener binds locally, so only loopback hosts make sense.
	switch parsedURL.Scheme {
	case schemeHTTP:
		if !isLoopbackHost(parsedURL.Hostname()) {
			return fmt.Errorf("HTTP redirect URIs are only allowed for localhost/127.0.0.1/[::1], got: %s", parsedURL.Hostname())
		}
	case schemeHTTPS:
	default:
		return fmt.Errorf("redirect URI scheme must be http (localhost only) or https, got: %s", parsedURL.Scheme)
	}

	switch c.ScopeSelectionMode {
	case "", ScopeSelectionAuto, ScopeSelectionManual:
	default:
		return fmt.Errorf("invalid scope selection mode %q (want %q or %q)", c.ScopeSelectionMode, ScopeSelectionAuto, ScopeSelectionManual)
	}

	if c.ScopeSelectionMode == ScopeSelectionManual && len(c.Scopes) == 0 {
		return fmt.Errorf("manual scope selection requires at least one scope")
	}

	if c.ClientIDMetadataURL != "" {
		if err := ValidateClientIDURL(c.ClientIDMetadataURL); err != nil {
			return fmt.Errorf("invalid client metadata URL: %w", err)
		}
	}

	if c.ClientSecret != "" && c.ClientID == "" {
		return fmt.Errorf("client secret requires a client id")
	}

	if c.StepUpMaxRetries < 0 {
		return fmt.Errorf("step-up max retries must not be negative")
	}

	return nil
}
