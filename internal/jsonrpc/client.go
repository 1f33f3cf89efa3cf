// Package jsonrpc correlates JSON-RPC requests with their responses over any
// transport.Transport, dispatches server notifications in arrival order and
// answers server-initiated requests.
package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/giantswarm/mcp-client/internal/logging"
	"github.com/giantswarm/mcp-client/internal/mcp"
	"github.com/giantswarm/mcp-client/internal/transport"
)

// DefaultTimeout applies to requests issued without an explicit timeout.
const DefaultTimeout = 30 * time.Second

var (
	// ErrTimeout is returned when no response arrives in time.
	ErrTimeout = errors.New("request timed out")

	// ErrTransportClosed is returned for requests pending when the inbound
	// stream ends, and for requests issued afterwards.
	ErrTransportClosed = errors.New("transport closed")
)

// NotificationHandler handles one server notification.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// RequestHandler answers one server-initiated request. Returning an
// *mcp.Error sends it verbatim; any other error is reported as an internal
// error.
type RequestHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for tracing and diagnostics.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithDefaultTimeout overrides DefaultTimeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Client is a JSON-RPC client bound to one transport. Handles obtained from
// Share use the same pending registry, handler tables and id counter.
type Client struct {
	transport transport.Transport
	reg       *registry
	nextID    *atomic.Int64
	logger    *logging.Logger
	timeout   time.Duration
}

// New creates a client. Run must be started for responses to be delivered.
func New(t transport.Transport, opts ...Option) *Client {
	c := &Client{
		transport: t,
		reg:       newRegistry(),
		nextID:    &atomic.Int64{},
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Share returns a second handle on the same client state.
func (c *Client) Share() *Client {
	cp := *c
	return &cp
}

// Transport returns the underlying transport.
func (c *Client) Transport() transport.Transport { return c.transport }

// Request sends method with params and decodes the result into result,
// which may be nil. A timeout of zero uses the client default.
func (c *Client) Request(ctx context.Context, method string, params, result interface{}, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.timeout
	}

	rawParams, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("failed to encode %s params: %w", method, err)
	}

	id := c.nextID.Add(1)
	slot, err := c.reg.add(id)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer c.reg.remove(id)

	reqID := mcp.NewIntID(id)
	data, err := json.Marshal(mcp.Request{
		JSONRPC: mcp.JSONRPCVersion,
		ID:      &reqID,
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.logger.Request(method, params)
	if err := c.transport.Send(sendCtx, data); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s after %s: %w", method, timeout, ErrTimeout)
		}
		if errors.Is(err, transport.ErrClosed) {
			return fmt.Errorf("%s: %w", method, ErrTransportClosed)
		}
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case msg, ok := <-slot:
		if !ok {
			return fmt.Errorf("%s: %w", method, ErrTransportClosed)
		}
		if msg.Error != nil {
			c.logger.Response(method, msg.Error)
			return msg.Error
		}
		c.logger.Response(method, msg.Result)
		if result == nil || len(msg.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(msg.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%s after %s: %w", method, timeout, ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify sends a notification. No response is expected.
func (c *Client) Notify(ctx context.Context, method string, params interface{}) error {
	rawParams, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("failed to encode %s params: %w", method, err)
	}
	data, err := json.Marshal(mcp.Notification{
		JSONRPC: mcp.JSONRPCVersion,
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s notification: %w", method, err)
	}
	c.logger.Request(method, params)
	if err := c.transport.Send(ctx, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}
	return nil
}

// OnNotification adds a handler for method. Handlers run on the read loop,
// in registration order, for every notification in arrival order.
func (c *Client) OnNotification(method string, h NotificationHandler) {
	c.reg.addNotificationHandler(method, h)
}

// OnServerRequest installs the handler for a server-initiated method,
// replacing any previous one.
func (c *Client) OnServerRequest(method string, h RequestHandler) {
	c.reg.setRequestHandler(method, h)
}

// Run reads the transport until it closes or ctx is cancelled. Pending
// requests then fail with ErrTransportClosed.
func (c *Client) Run(ctx context.Context) error {
	defer c.reg.closeAll()

	go c.Stream(ctx)

	in := c.transport.Receive()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-in:
			if !ok {
				return ErrTransportClosed
			}
			c.dispatch(ctx, data)
		}
	}
}

// Stream drains the transport's diagnostics to the logger until the channel
// closes or ctx is cancelled.
func (c *Client) Stream(ctx context.Context) {
	diag := c.transport.Diagnostics()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-diag:
			if !ok {
				return
			}
			c.logger.Debug("[diagnostic] %s", line)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, data []byte) {
	msg, err := mcp.Decode(data)
	if err != nil {
		c.logger.Warning("Dropping malformed message: %v", err)
		return
	}

	switch msg.Kind {
	case mcp.KindResponse:
		id, ok := msg.ID.Int()
		if !ok {
			c.logger.Warning("Dropping response with non-numeric id %s", msg.ID)
			return
		}
		if !c.reg.resolve(id, msg) {
			c.logger.Debug("Dropping response for unknown request id %d", id)
		}

	case mcp.KindNotification:
		c.logger.Notification(msg.Method, msg.Params)
		for _, h := range c.reg.notificationHandlers(msg.Method) {
			h(ctx, msg.Params)
		}

	case mcp.KindRequest:
		c.logger.Notification(msg.Method, msg.Params)
		go c.answer(ctx, msg)
	}
}

// answer runs the handler for a server request and sends the response.
func (c *Client) answer(ctx context.Context, msg *mcp.Message) {
	resp := mcp.Response{JSONRPC: mcp.JSONRPCVersion, ID: msg.ID}

	h := c.reg.requestHandler(msg.Method)
	if h == nil {
		resp.Error = mcp.NewError(mcp.CodeMethodNotFound, "Method not found: "+msg.Method)
	} else {
		result, err := h(ctx, msg.Params)
		var rpcErr *mcp.Error
		switch {
		case errors.As(err, &rpcErr):
			resp.Error = rpcErr
		case err != nil:
			resp.Error = mcp.NewError(mcp.CodeInternalError, err.Error())
		default:
			raw, mErr := json.Marshal(result)
			if mErr != nil {
				resp.Error = mcp.NewError(mcp.CodeInternalError, fmt.Sprintf("failed to encode result: %v", mErr))
			} else {
				resp.Result = raw
			}
		}
	}

	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("Failed to encode response to %s: %v", msg.Method, err)
		return
	}
	if err := c.transport.Send(ctx, data); err != nil {
		c.logger.Warning("Failed to answer server request %s: %v", msg.Method, err)
	}
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	return json.Marshal(params)
}
