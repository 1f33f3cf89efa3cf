// Package protocol implements the MCP session lifecycle on top of the
// JSON-RPC client: the initialize handshake, version negotiation, capability
// gating and the typed operations of an initialized session.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/giantswarm/mcp-client/internal/jsonrpc"
	"github.com/giantswarm/mcp-client/internal/mcp"
)

// Capability names a server capability that gates operations.
type Capability string

const (
	CapabilityTools        Capability = "tools"
	CapabilityResources    Capability = "resources"
	CapabilityPrompts      Capability = "prompts"
	CapabilityLogging      Capability = "logging"
	CapabilityCompletions  Capability = "completions"
	CapabilityTasks        Capability = "tasks"
	CapabilityExperimental Capability = "experimental"
)

type state int

const (
	stateUninitialized state = iota
	stateInitialized
	stateFailed
)

// Option configures a Protocol.
type Option func(*Protocol)

// WithRequestTimeout sets the timeout applied to every request of the
// session. Zero keeps the JSON-RPC client default.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Protocol) { p.timeout = d }
}

// Protocol is an uninitialized MCP connection. Initialize turns it into a
// Session exactly once.
type Protocol struct {
	client  *jsonrpc.Client
	timeout time.Duration

	mu    sync.Mutex
	state state
}

// New wraps a JSON-RPC client whose Run loop is already started.
func New(c *jsonrpc.Client, opts ...Option) *Protocol {
	p := &Protocol{client: c}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initialize performs the handshake: initialize with the latest protocol
// version, version check, then notifications/initialized. A version outside
// the supported set is fatal and leaves the Protocol unusable.
func (p *Protocol) Initialize(ctx context.Context, clientInfo mcp.Implementation, caps mcp.ClientCapabilities) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateUninitialized {
		return nil, fmt.Errorf("initialize already attempted: %w", ErrNotInitialized)
	}

	// The server may ping before the handshake completes.
	p.client.OnServerRequest(mcp.MethodPing, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return mcp.Empty{}, nil
	})

	params := mcp.InitializeParams{
		ProtocolVersion: mcp.LatestProtocolVersion,
		Capabilities:    caps,
		ClientInfo:      clientInfo,
	}
	var result mcp.InitializeResult
	if err := p.client.Request(ctx, mcp.MethodInitialize, params, &result, p.timeout); err != nil {
		p.state = stateFailed
		return nil, fmt.Errorf("initialize failed: %w", err)
	}

	if !mcp.IsSupportedProtocolVersion(result.ProtocolVersion) {
		p.state = stateFailed
		return nil, &VersionError{Got: result.ProtocolVersion}
	}

	if err := p.client.Notify(ctx, mcp.NotificationInitialized, nil); err != nil {
		p.state = stateFailed
		return nil, fmt.Errorf("failed to confirm initialization: %w", err)
	}

	p.state = stateInitialized
	return &Session{
		client:  p.client,
		timeout: p.timeout,
		result:  result,
		caps:    caps,
	}, nil
}

// Session is an initialized MCP connection.
type Session struct {
	client  *jsonrpc.Client
	timeout time.Duration
	result  mcp.InitializeResult
	caps    mcp.ClientCapabilities
}

// InitializeResult returns the server's initialize answer.
func (s *Session) InitializeResult() mcp.InitializeResult { return s.result }

// ProtocolVersion returns the negotiated version.
func (s *Session) ProtocolVersion() string { return s.result.ProtocolVersion }

// ServerInfo returns the server implementation details.
func (s *Session) ServerInfo() mcp.Implementation { return s.result.ServerInfo }

// ServerCapabilities returns what the server advertised.
func (s *Session) ServerCapabilities() mcp.ServerCapabilities { return s.result.Capabilities }

// Instructions returns the server's usage instructions, if any.
func (s *Session) Instructions() string { return s.result.Instructions }

// Capable reports whether the server advertised c.
func (s *Session) Capable(c Capability) bool {
	caps := s.result.Capabilities
	switch c {
	case CapabilityTools:
		return caps.Tools != nil
	case CapabilityResources:
		return caps.Resources != nil
	case CapabilityPrompts:
		return caps.Prompts != nil
	case CapabilityLogging:
		return caps.Logging != nil
	case CapabilityCompletions:
		return caps.Completions != nil
	case CapabilityTasks:
		return caps.Tasks != nil
	case CapabilityExperimental:
		return len(caps.Experimental) > 0
	}
	return false
}

func (s *Session) require(c Capability, method string) error {
	if !s.Capable(c) {
		return &CapabilityError{Capability: c, Method: method}
	}
	return nil
}

func (s *Session) call(ctx context.Context, c Capability, method string, params, result interface{}) error {
	if err := s.require(c, method); err != nil {
		return err
	}
	return s.client.Request(ctx, method, params, result, s.timeout)
}

// OnNotification registers a handler for a server notification.
func (s *Session) OnNotification(method string, h jsonrpc.NotificationHandler) {
	s.client.OnNotification(method, h)
}

// Ping checks liveness. It is never gated.
func (s *Session) Ping(ctx context.Context) error {
	return s.client.Request(ctx, mcp.MethodPing, mcp.Empty{}, nil, s.timeout)
}
