package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/giantswarm/mcp-client/internal/mcp"
)

// Fake is an in-memory Transport. Sent messages are recorded on Outbound and
// inbound traffic is pushed with Inject.
type Fake struct {
	outbound    chan []byte
	inbound     chan []byte
	diagnostics chan string
	done        chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewFake creates an open fake transport.
func NewFake() *Fake {
	diag := make(chan string)
	close(diag)
	return &Fake{
		outbound:    make(chan []byte, receiveBuffer),
		inbound:     make(chan []byte, receiveBuffer),
		diagnostics: diag,
		done:        make(chan struct{}),
	}
}

// Send records msg on Outbound.
func (f *Fake) Send(ctx context.Context, msg []byte) error {
	cp := append([]byte(nil), msg...)
	select {
	case <-f.done:
		return ErrClosed
	default:
	}
	select {
	case f.outbound <- cp:
		return nil
	case <-f.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive implements Transport.
func (f *Fake) Receive() <-chan []byte { return f.inbound }

// Diagnostics returns a channel that never yields.
func (f *Fake) Diagnostics() <-chan string { return f.diagnostics }

// Outbound yields every message passed to Send.
func (f *Fake) Outbound() <-chan []byte { return f.outbound }

// Next waits for the next sent message and decodes it.
func (f *Fake) Next(ctx context.Context) (*mcp.Message, error) {
	select {
	case data := <-f.outbound:
		return mcp.Decode(data)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Inject pushes a raw inbound message.
func (f *Fake) Inject(msg []byte) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrClosed
	}
	select {
	case f.inbound <- msg:
		return nil
	case <-f.done:
		return ErrClosed
	}
}

// InjectResponse pushes a successful response for id.
func (f *Fake) InjectResponse(id mcp.ID, result interface{}) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return f.injectJSON(mcp.Response{JSONRPC: mcp.JSONRPCVersion, ID: &id, Result: raw})
}

// InjectError pushes an error response for id.
func (f *Fake) InjectError(id mcp.ID, rpcErr *mcp.Error) error {
	return f.injectJSON(mcp.Response{JSONRPC: mcp.JSONRPCVersion, ID: &id, Error: rpcErr})
}

// InjectNotification pushes a server notification.
func (f *Fake) InjectNotification(method string, params interface{}) error {
	n := mcp.Notification{JSONRPC: mcp.JSONRPCVersion, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return err
		}
		n.Params = raw
	}
	return f.injectJSON(n)
}

// InjectRequest pushes a server-initiated request.
func (f *Fake) InjectRequest(id mcp.ID, method string, params interface{}) error {
	r := mcp.Request{JSONRPC: mcp.JSONRPCVersion, ID: &id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return err
		}
		r.Params = raw
	}
	return f.injectJSON(r)
}

func (f *Fake) injectJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return f.Inject(data)
}

// Close ends the inbound stream.
func (f *Fake) Close() error {
	f.closeOnce.Do(func() {
		close(f.done)
		f.mu.Lock()
		f.closed = true
		close(f.inbound)
		f.mu.Unlock()
	})
	return nil
}
