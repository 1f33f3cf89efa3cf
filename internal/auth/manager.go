package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/giantswarm/mcp-client/internal/logging"
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger for the manager and its flows.
func WithManagerLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithFlowOptions applies opts to every flow created by AddServer.
func WithFlowOptions(opts ...FlowOption) ManagerOption {
	return func(m *Manager) { m.flowOpts = append(m.flowOpts, opts...) }
}

type serverState struct {
	flow   *Flow
	cached *Token
	loaded bool
}

// Manager owns the token lifecycle of several servers: cached token, then
// refresh, then the full flow. It is not safe for concurrent use; wrap it
// in a SessionAuthorizer for transports.
type Manager struct {
	store    TokenStore
	logger   *logging.Logger
	now      func() time.Time
	flowOpts []FlowOption
	servers  map[string]*serverState
}

// NewManager returns a manager persisting tokens in store.
func NewManager(store TokenStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:   store,
		now:     time.Now,
		servers: make(map[string]*serverState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddServer registers the flow configuration of a server id, replacing any
// previous one.
func (m *Manager) AddServer(id string, cfg FlowConfig) error {
	if id == "" {
		return fmt.Errorf("server id is required")
	}
	opts := append([]FlowOption{WithFlowLogger(m.logger)}, m.flowOpts...)
	flow, err := NewFlow(cfg, opts...)
	if err != nil {
		return fmt.Errorf("invalid OAuth configuration for %s: %w", id, err)
	}
	m.servers[id] = &serverState{flow: flow}
	return nil
}

// Config returns the effective flow configuration of a server.
func (m *Manager) Config(id string) (FlowConfig, error) {
	st, err := m.server(id)
	if err != nil {
		return FlowConfig{}, err
	}
	return st.flow.Config(), nil
}

func (m *Manager) server(id string) (*serverState, error) {
	st, ok := m.servers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, id)
	}
	return st, nil
}

// CachedToken returns the stored token without contacting any server. It
// returns nil, nil when nothing is stored.
func (m *Manager) CachedToken(id string) (*Token, error) {
	st, err := m.server(id)
	if err != nil {
		return nil, err
	}
	if !st.loaded {
		tok, err := m.store.Load(id)
		if err != nil {
			return nil, err
		}
		st.cached = tok
		st.loaded = true
	}
	return st.cached, nil
}

// GetToken returns a usable token: the cached one while it is valid, a
// refreshed one when it expired and carries a refresh token, otherwise the
// result of a full authorization flow for scopes.
func (m *Manager) GetToken(ctx context.Context, id string, md *AuthorizationServerMetadata, scopes []string) (*Token, error) {
	st, err := m.server(id)
	if err != nil {
		return nil, err
	}

	tok, err := m.CachedToken(id)
	if err != nil {
		m.logger.Warning("Ignoring unreadable stored token for %s: %v", id, err)
		tok = nil
	}

	if tok != nil && !tok.Expired(m.now()) {
		return tok, nil
	}

	if md == nil {
		return nil, fmt.Errorf("authorization server metadata is required to obtain a token for %s", id)
	}

	if tok != nil && tok.RefreshToken != "" {
		refreshed, err := st.flow.Refresh(ctx, md, tok)
		if err == nil {
			m.save(id, st, refreshed)
			return refreshed, nil
		}
		m.logger.Warning("Token refresh failed, starting a new authorization: %v", err)
	}

	fresh, err := st.flow.Authorize(ctx, md, scopes)
	if err != nil {
		return nil, err
	}
	m.save(id, st, fresh)
	return fresh, nil
}

// Handle401 drops the cached token, which the server just rejected, and
// obtains a new one.
func (m *Manager) Handle401(ctx context.Context, id string, md *AuthorizationServerMetadata, scopes []string) (*Token, error) {
	st, err := m.server(id)
	if err != nil {
		return nil, err
	}
	m.forget(id, st)
	return m.GetToken(ctx, id, md, scopes)
}

// Handle403Scope runs step-up authorization for an insufficient_scope
// challenge.
func (m *Manager) Handle403Scope(ctx context.Context, id string, md *AuthorizationServerMetadata, challenge *Challenge) (*Token, error) {
	st, err := m.server(id)
	if err != nil {
		return nil, err
	}
	if md == nil {
		return nil, fmt.Errorf("authorization server metadata is required for step-up on %s", id)
	}

	current, _ := m.CachedToken(id)
	tok, err := st.flow.StepUp(ctx, md, challenge, current)
	if err != nil {
		return nil, err
	}
	m.save(id, st, tok)
	return tok, nil
}

// InjectToken sets the Authorization header for tok.
func (m *Manager) InjectToken(h http.Header, tok *Token) {
	if tok == nil || tok.AccessToken == "" {
		return
	}
	h.Set("Authorization", authorizationValue(tok))
}

// Logout deletes the stored token and resets the flow state.
func (m *Manager) Logout(id string) error {
	st, err := m.server(id)
	if err != nil {
		return err
	}
	st.flow.Reset()
	if err := m.store.Delete(id); err != nil {
		return err
	}
	st.cached = nil
	st.loaded = true
	return nil
}

func (m *Manager) save(id string, st *serverState, tok *Token) {
	st.cached = tok
	st.loaded = true
	if err := m.store.Save(id, tok); err != nil {
		m.logger.Warning("Token for %s kept in memory only: %v", id, err)
	}
}

func (m *Manager) forget(id string, st *serverState) {
	st.cached = nil
	st.loaded = true
	if err := m.store.Delete(id); err != nil {
		m.logger.Warning("Failed to delete rejected token for %s: %v", id, err)
	}
}

// authorizationValue renders "Bearer <token>", normalising the type's case.
func authorizationValue(tok *Token) string {
	tokenType := tok.TokenType
	if tokenType == "" || strings.EqualFold(tokenType, "bearer") {
		tokenType = "Bearer"
	}
	return tokenType + " " + tok.AccessToken
}
