// Package transport moves framed JSON-RPC messages between the client and an
// MCP server. Three backends are provided: a stdio subprocess, Streamable
// HTTP (JSON or server-sent events), and an in-memory fake for tests.
package transport

import "context"

// Transport is a bidirectional message pipe. Receive returns a channel that
// is closed when the inbound stream ends. Diagnostics carries free-form
// out-of-band lines such as a child process's stderr.
type Transport interface {
	Send(ctx context.Context, msg []byte) error
	Receive() <-chan []byte
	Diagnostics() <-chan string
	Close() error
}

// Authorizer supplies bearer credentials to the HTTP transport and recovers
// from authorization challenges. Each method returns the access token to use
// for the next attempt.
type Authorizer interface {
	// Token returns the current access token, or "" when none is known yet.
	Token(ctx context.Context) (string, error)
	// Handle401 reacts to a 401 challenge.
	Handle401(ctx context.Context, challenge string) (string, error)
	// Handle403Scope reacts to a 403 insufficient_scope challenge.
	Handle403Scope(ctx context.Context, challenge string) (string, error)
}

const (
	receiveBuffer     = 64
	diagnosticsBuffer = 64
)
