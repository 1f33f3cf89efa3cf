package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-client/internal/logging"
)

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithFlowLogger sets the logger used for progress messages.
func WithFlowLogger(l *logging.Logger) FlowOption {
	return func(f *Flow) { f.logger = l }
}

// WithBrowser replaces the function that opens the authorization URL.
func WithBrowser(open func(authURL string) error) FlowOption {
	return func(f *Flow) { f.openBrowser = open }
}

// WithHTTPClient sets the client used for registration and token requests.
func WithHTTPClient(hc *http.Client) FlowOption {
	return func(f *Flow) { f.hc = hc }
}

// Flow runs the OAuth 2.1 authorization code flow with PKCE for one server.
// A Flow is not safe for concurrent use.
type Flow struct {
	cfg         FlowConfig
	hc          *http.Client
	logger      *logging.Logger
	openBrowser func(string) error

	// Dynamic registration result, reused while the redirect URI is stable.
	registered         *ClientRegistration
	registeredRedirect string

	stepUps *scopeRetryTracker
}

// NewFlow validates cfg after applying defaults.
func NewFlow(cfg FlowConfig, opts ...FlowOption) (*Flow, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := &Flow{
		cfg:         cfg,
		hc:          &http.Client{Timeout: 30 * time.Second},
		openBrowser: openBrowser,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.stepUps = newScopeRetryTracker(cfg.StepUpMaxRetries)
	return f, nil
}

// Config returns the effective configuration.
func (f *Flow) Config() FlowConfig { return f.cfg }

// Authorize runs the full browser flow and returns a new token.
func (f *Flow) Authorize(ctx context.Context, md *AuthorizationServerMetadata, scopes []string) (*Token, error) {
	if err := ValidatePKCESupport(md); err != nil {
		return nil, err
	}

	cb, err := startCallbackServer(f.cfg.RedirectURL)
	if err != nil {
		return nil, err
	}
	defer cb.close()

	clientID, clientSecret, err := f.resolveClient(ctx, md, cb.redirectURL, scopes)
	if err != nil {
		return nil, err
	}

	pkce := NewPKCE()
	state := uuid.NewString()

	conf := f.oauth2Config(md, clientID, clientSecret, cb.redirectURL, scopes)
	opts := []oauth2.AuthCodeOption{pkce.AuthCodeOption()}
	if resource := f.resource(); resource != "" {
		opts = append(opts, oauth2.SetAuthURLParam("resource", resource))
	}
	authURL := conf.AuthCodeURL(state, opts...)

	f.logger.Info("Opening browser for authorization...")
	if err := f.openBrowser(authURL); err != nil {
		f.logger.Warning("Could not open browser automatically: %v", err)
		f.logger.Info("Please open this URL in your browser:")
		f.logger.Info("%s", authURL)
	}

	f.logger.Info("Waiting for authorization (scopes: %s)...", formatScopeList(scopes))
	res, err := cb.wait(ctx, f.cfg.AuthorizationTimeout)
	if err != nil {
		return nil, err
	}

	if res.state != state {
		return nil, ErrStateMismatch
	}
	if res.code == "" {
		return nil, fmt.Errorf("no authorization code received")
	}

	f.logger.Success("Authorization code received")

	tok, err := conf.Exchange(f.tokenContext(ctx, md), res.code, pkce.ExchangeOption())
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	f.logger.Success("Access token obtained")
	return tokenFromOAuth2(tok, scopes, clientID, clientSecret), nil
}

// Refresh trades current's refresh token for a new token. The refresh
// token is kept when the server does not rotate it.
func (f *Flow) Refresh(ctx context.Context, md *AuthorizationServerMetadata, current *Token) (*Token, error) {
	if current == nil || current.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token available")
	}
	if md == nil {
		return nil, fmt.Errorf("authorization server metadata is required for refresh")
	}

	clientID, clientSecret := current.ClientID, current.ClientSecret
	if clientID == "" {
		clientID, clientSecret = f.cfg.ClientID, f.cfg.ClientSecret
	}
	if clientID == "" {
		return nil, fmt.Errorf("cannot refresh token without a client id")
	}

	conf := f.oauth2Config(md, clientID, clientSecret, f.cfg.RedirectURL, nil)
	src := conf.TokenSource(f.tokenContext(ctx, md), &oauth2.Token{RefreshToken: current.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	f.logger.InfoVerbose("Access token refreshed")
	return tokenFromOAuth2(tok, current.Scopes(), clientID, clientSecret), nil
}

// StepUp re-authorizes with the union of current's scopes and the scopes
// the challenge demands. Repeated challenges for the same host and scope
// set are bounded by StepUpMaxRetries.
func (f *Flow) StepUp(ctx context.Context, md *AuthorizationServerMetadata, challenge *Challenge, current *Token) (*Token, error) {
	if challenge == nil || len(challenge.Scopes) == 0 {
		return nil, fmt.Errorf("insufficient_scope challenge without scope parameter")
	}

	scopes := mergeScopes(current.Scopes(), challenge.Scopes)
	key := stepUpKey(f.resource(), scopes)

	if !f.stepUps.shouldRetry(key) {
		f.logger.Error("Max retries (%d) exceeded for step-up authorization", f.cfg.StepUpMaxRetries)
		return nil, stepUpLimitError(f.stepUps.lastError(key))
	}

	f.logger.Warning("Insufficient scope, requesting: %s", formatScopeList(scopes))
	if challenge.ErrorDescription != "" {
		f.logger.Info("Server message: %s", challenge.ErrorDescription)
	}
	f.logger.Info("Step-up authorization attempt %d/%d", f.stepUps.attempts(key), f.cfg.StepUpMaxRetries)

	tok, err := f.Authorize(ctx, md, scopes)
	if err != nil {
		f.stepUps.record(key, err)
		return nil, fmt.Errorf("step-up re-authorization failed: %w", err)
	}

	f.logger.Success("Additional permissions granted")
	return tok, nil
}

// Reset forgets step-up attempts and any dynamic registration.
func (f *Flow) Reset() {
	f.stepUps.resetAll()
	f.registered = nil
	f.registeredRedirect = ""
}

// resolveClient picks the client id: static, then client metadata
// document, then dynamic registration.
func (f *Flow) resolveClient(ctx context.Context, md *AuthorizationServerMetadata, redirectURL string, scopes []string) (string, string, error) {
	if f.cfg.ClientID != "" {
		return f.cfg.ClientID, f.cfg.ClientSecret, nil
	}

	if f.cfg.ClientIDMetadataURL != "" && SupportsClientIDMetadata(md) {
		f.logger.InfoVerbose("Using client metadata document as client_id: %s", f.cfg.ClientIDMetadataURL)
		return f.cfg.ClientIDMetadataURL, "", nil
	}

	if f.registered != nil && f.registeredRedirect == redirectURL {
		return f.registered.ClientID, f.registered.ClientSecret, nil
	}

	if md.RegistrationEndpoint != "" {
		f.logger.Info("No client ID configured, attempting dynamic client registration...")
		reg, err := registerClient(ctx, f.hc, md, f.cfg, redirectURL, scopes)
		if err != nil {
			return "", "", fmt.Errorf("client registration failed: %w", err)
		}
		f.logger.Success("Client registered with ID: %s", reg.ClientID)
		f.registered = reg
		f.registeredRedirect = redirectURL
		return reg.ClientID, reg.ClientSecret, nil
	}

	return "", "", ErrNoClientRegistration
}

func (f *Flow) oauth2Config(md *AuthorizationServerMetadata, clientID, clientSecret, redirectURL string, scopes []string) *oauth2.Config {
	style := oauth2.AuthStyleAutoDetect
	if clientSecret == "" {
		style = oauth2.AuthStyleInParams
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   md.AuthorizationEndpoint,
			TokenURL:  md.TokenEndpoint,
			AuthStyle: style,
		},
		RedirectURL: redirectURL,
		Scopes:      scopes,
	}
}

// tokenContext carries the HTTP client x/oauth2 uses for token requests,
// wrapped to add the resource indicator.
func (f *Flow) tokenContext(ctx context.Context, md *AuthorizationServerMetadata) context.Context {
	client := f.hc
	if resource := f.resource(); resource != "" {
		client = withTransport(f.hc, newResourceRoundTripper(resource, md.TokenEndpoint, f.hc.Transport, f.logger))
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

func (f *Flow) resource() string {
	if f.cfg.SkipResourceParam {
		return ""
	}
	return f.cfg.Resource
}
