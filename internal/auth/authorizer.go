package auth

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/giantswarm/mcp-client/internal/logging"
	"github.com/giantswarm/mcp-client/internal/transport"
)

// SessionAuthorizer binds a Manager to the HTTP transport of one server.
// Metadata is discovered lazily on the first challenge. All Manager calls
// are serialised.
type SessionAuthorizer struct {
	mu sync.Mutex

	manager    *Manager
	serverID   string
	endpoint   string
	discoverer *Discoverer
	logger     *logging.Logger

	resource  *ProtectedResourceMetadata
	server    *AuthorizationServerMetadata
	challenge *Challenge
}

var _ transport.Authorizer = (*SessionAuthorizer)(nil)

// NewSessionAuthorizer returns an authorizer for serverID, which must have
// been added to m.
func NewSessionAuthorizer(m *Manager, serverID, endpoint string, d *Discoverer) *SessionAuthorizer {
	if d == nil {
		d = &Discoverer{Logger: m.logger}
	}
	return &SessionAuthorizer{
		manager:    m,
		serverID:   serverID,
		endpoint:   endpoint,
		discoverer: d,
		logger:     m.logger,
	}
}

// Token implements transport.Authorizer. It returns "" when no token is
// stored so the server's challenge drives discovery.
func (a *SessionAuthorizer) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tok, err := a.manager.CachedToken(a.serverID)
	if err != nil {
		a.logger.Warning("Ignoring stored token: %v", err)
		return "", nil
	}
	if tok == nil {
		return "", nil
	}
	if !tok.Expired(a.manager.now()) {
		return tok.AccessToken, nil
	}

	if err := a.ensureMetadata(ctx, nil); err != nil {
		return "", err
	}
	fresh, err := a.manager.GetToken(ctx, a.serverID, a.server, a.scopes())
	if err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// Handle401 implements transport.Authorizer.
func (a *SessionAuthorizer) Handle401(ctx context.Context, header string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	challenge := a.parse(header)
	if err := a.ensureMetadata(ctx, challenge); err != nil {
		return "", err
	}
	tok, err := a.manager.Handle401(ctx, a.serverID, a.server, a.scopes())
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Handle403Scope implements transport.Authorizer.
func (a *SessionAuthorizer) Handle403Scope(ctx context.Context, header string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	challenge := a.parse(header)
	if !challenge.InsufficientScope() {
		return "", fmt.Errorf("403 without insufficient_scope challenge")
	}
	if err := a.ensureMetadata(ctx, challenge); err != nil {
		return "", err
	}
	tok, err := a.manager.Handle403Scope(ctx, a.serverID, a.server, challenge)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (a *SessionAuthorizer) parse(header string) *Challenge {
	if header == "" {
		return nil
	}
	challenge, err := ParseWWWAuthenticate(header)
	if err != nil {
		a.logger.WarningVerbose("Ignoring WWW-Authenticate header: %v", err)
		return nil
	}
	a.challenge = challenge
	return challenge
}

// ensureMetadata discovers the protected resource and authorization server
// once. Without protected resource metadata the endpoint's origin is tried
// as the issuer.
func (a *SessionAuthorizer) ensureMetadata(ctx context.Context, challenge *Challenge) error {
	if a.server != nil {
		return nil
	}

	cfg, err := a.manager.Config(a.serverID)
	if err != nil {
		return err
	}

	var issuer string
	prm, err := a.discoverer.DiscoverProtectedResource(ctx, a.endpoint, challenge)
	if err != nil {
		a.logger.Warning("Protected resource metadata unavailable, using the server origin as issuer: %v", err)
		issuer, err = originOf(a.endpoint)
		if err != nil {
			return err
		}
	} else {
		a.resource = prm
		issuer, err = SelectAuthorizationServer(prm, cfg.PreferredAuthorizationServer)
		if err != nil {
			return err
		}
	}

	md, err := a.discoverer.DiscoverAuthorizationServerMetadata(ctx, issuer)
	if err != nil {
		return fmt.Errorf("authorization server discovery failed: %w", err)
	}
	a.server = md
	return nil
}

func (a *SessionAuthorizer) scopes() []string {
	cfg, err := a.manager.Config(a.serverID)
	if err != nil {
		return nil
	}
	return selectScopes(cfg, a.challenge, a.resource)
}

func originOf(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint URL must include scheme and host: %s", endpoint)
	}
	return u.Scheme + "://" + u.Host, nil
}
