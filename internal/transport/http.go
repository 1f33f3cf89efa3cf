package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"

	"github.com/giantswarm/mcp-client/internal/logging"
	"github.com/giantswarm/mcp-client/internal/mcp"
)

// HTTP header names used by Streamable HTTP.
const (
	HeaderSessionID       = "MCP-Session-Id"
	HeaderProtocolVersion = "MCP-Protocol-Version"
	HeaderLastEventID     = "Last-Event-ID"
	headerAuthenticate    = "WWW-Authenticate"
)

const (
	// maxAuthAttempts bounds the 401/403 recovery loop of a single Send.
	maxAuthAttempts = 3

	// maxJSONBodySize bounds a plain JSON response body.
	maxJSONBodySize = 16 << 20

	// maxErrorBodySize bounds how much of an error body is kept.
	maxErrorBodySize = 4 << 10

	deleteTimeout = 5 * time.Second

	acceptHeader = "application/json, text/event-stream"
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
)

// HTTPConfig configures the Streamable HTTP transport.
type HTTPConfig struct {
	// Endpoint is the MCP endpoint URL.
	Endpoint string
	// Headers are added to every request.
	Headers map[string]string
	// Client is the HTTP client. It must not set a global Timeout because
	// event streams are long-lived. Defaults to a fresh client.
	Client *http.Client
	// Authorizer, when set, supplies bearer tokens and handles 401/403.
	Authorizer Authorizer
	// ProtocolVersion is sent as MCP-Protocol-Version. Defaults to
	// mcp.LatestProtocolVersion.
	ProtocolVersion string
	// MaxEventSize bounds a single SSE event. Defaults to 8 MiB.
	MaxEventSize int
	Logger       *logging.Logger
}

// Validate checks the configuration.
func (c HTTPConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.New("http transport requires an endpoint")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", c.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint %q has no host", c.Endpoint)
	}
	return nil
}

// HTTP is the Streamable HTTP transport. Each Send is a POST; responses are
// either a single JSON document or an SSE stream whose events are forwarded
// in order to Receive.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
	logger *logging.Logger

	incoming    chan []byte
	diagnostics chan string

	// ctx bounds every request and stream; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	sessionID   string
	lastEventID string
	closed      bool
	closeOnce   sync.Once
}

// NewHTTP creates a Streamable HTTP transport. No request is made until the
// first Send.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = mcp.LatestProtocolVersion
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &HTTP{
		cfg:         cfg,
		client:      client,
		logger:      cfg.Logger,
		incoming:    make(chan []byte, receiveBuffer),
		diagnostics: make(chan string, diagnosticsBuffer),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Receive implements Transport.
func (t *HTTP) Receive() <-chan []byte { return t.incoming }

// Diagnostics implements Transport.
func (t *HTTP) Diagnostics() <-chan string { return t.diagnostics }

// SessionID returns the server-assigned session id, if any.
func (t *HTTP) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// LastEventID returns the SSE resumption cursor, if any.
func (t *HTTP) LastEventID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastEventID
}

func (t *HTTP) setLastEventID(id string) {
	t.mu.Lock()
	t.lastEventID = id
	t.mu.Unlock()
}

// captureSession stores the session id only when none is held yet.
func (t *HTTP) captureSession(resp *http.Response) {
	sid := resp.Header.Get(HeaderSessionID)
	if sid == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessionID == "" {
		t.sessionID = sid
		t.logger.Debug("Session established: %s", sid)
	}
}

// expireSession clears the session state. It returns false when no session
// was held.
func (t *HTTP) expireSession() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessionID == "" {
		return false
	}
	t.sessionID = ""
	t.lastEventID = ""
	return true
}

// acquire registers an in-flight operation so Close waits for it before
// closing Receive. It fails once the transport is closed.
func (t *HTTP) acquire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	return true
}

// Send POSTs msg to the endpoint. For JSON responses the body is forwarded
// before Send returns; SSE responses are read in the background.
func (t *HTTP) Send(ctx context.Context, msg []byte) error {
	if !t.acquire() {
		return ErrClosed
	}
	defer t.wg.Done()

	token, err := t.initialToken(ctx)
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		resp, cancelReq, err := t.do(ctx, http.MethodPost, msg, token)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			challenge := drainChallenge(resp)
			cancelReq()
			if t.cfg.Authorizer == nil {
				return &AuthError{StatusCode: resp.StatusCode, Challenge: challenge}
			}
			if attempt >= maxAuthAttempts {
				return &AuthError{StatusCode: resp.StatusCode, Challenge: challenge, Err: ErrReauthorizationRequired}
			}
			t.logger.Info("Server requires authorization, starting recovery")
			token, err = t.cfg.Authorizer.Handle401(ctx, challenge)
			if err != nil {
				return &AuthError{StatusCode: resp.StatusCode, Challenge: challenge, Err: err}
			}
			continue

		case resp.StatusCode == http.StatusForbidden:
			challenge := drainChallenge(resp)
			cancelReq()
			if t.cfg.Authorizer == nil || !isInsufficientScope(challenge) {
				return &AuthError{StatusCode: resp.StatusCode, Challenge: challenge}
			}
			if attempt >= maxAuthAttempts {
				return &AuthError{StatusCode: resp.StatusCode, Challenge: challenge, Err: ErrReauthorizationRequired}
			}
			t.logger.Info("Server requires additional scopes, starting step-up authorization")
			token, err = t.cfg.Authorizer.Handle403Scope(ctx, challenge)
			if err != nil {
				return &AuthError{StatusCode: resp.StatusCode, Challenge: challenge, Err: err}
			}
			continue

		case resp.StatusCode == http.StatusNotFound:
			body := readErrorBody(resp)
			cancelReq()
			if t.expireSession() {
				t.logger.Warning("Server no longer recognises the session")
				return ErrSessionExpired
			}
			return &StatusError{StatusCode: resp.StatusCode, Body: body}

		case resp.StatusCode < 200 || resp.StatusCode > 299:
			body := readErrorBody(resp)
			cancelReq()
			return &StatusError{StatusCode: resp.StatusCode, Body: body}
		}

		t.captureSession(resp)
		return t.handleResponse(resp, cancelReq)
	}
}

func (t *HTTP) initialToken(ctx context.Context) (string, error) {
	if t.cfg.Authorizer == nil {
		return "", nil
	}
	token, err := t.cfg.Authorizer.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to obtain access token: %w", err)
	}
	return token, nil
}

// do issues a request bound to the transport lifetime. The caller's ctx only
// bounds the wait for response headers, so streams outlive short request
// contexts. cancelReq must be called once the body is consumed.
func (t *HTTP) do(ctx context.Context, method string, body []byte, token string) (*http.Response, context.CancelFunc, error) {
	reqCtx, cancelReq := context.WithCancel(t.ctx)
	stop := context.AfterFunc(ctx, cancelReq)

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, t.cfg.Endpoint, rdr)
	if err != nil {
		stop()
		cancelReq()
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	t.setHeaders(req, token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	stop()
	if err != nil {
		cancelReq()
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if t.ctx.Err() != nil {
			return nil, nil, ErrClosed
		}
		return nil, nil, fmt.Errorf("%s %s failed: %w", method, t.cfg.Endpoint, err)
	}
	return resp, cancelReq, nil
}

func (t *HTTP) setHeaders(req *http.Request, token string) {
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set(HeaderProtocolVersion, t.cfg.ProtocolVersion)
	if sid := t.SessionID(); sid != "" {
		req.Header.Set(HeaderSessionID, sid)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (t *HTTP) handleResponse(resp *http.Response, cancelReq context.CancelFunc) error {
	if resp.StatusCode == http.StatusAccepted {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		cancelReq()
		return nil
	}

	mediaType := contenttype.NewMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType.Matches(eventStreamMediaType):
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.consumeStream(resp, cancelReq)
		}()
		return nil

	case mediaType.Matches(jsonMediaType):
		defer cancelReq()
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONBodySize))
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			return nil
		}
		t.forward(data)
		return nil

	default:
		body := readErrorBody(resp)
		cancelReq()
		if body == "" {
			return nil
		}
		return fmt.Errorf("unexpected response content type %q", resp.Header.Get("Content-Type"))
	}
}

func (t *HTTP) consumeStream(resp *http.Response, cancelReq context.CancelFunc) {
	defer cancelReq()
	defer resp.Body.Close()

	err := readEventStream(t.ctx, resp.Body, t.cfg.MaxEventSize, sseSink{
		onID: t.setLastEventID,
		onMessage: func(data []byte) bool {
			return t.forward(data)
		},
	})
	if err != nil {
		t.logger.Warning("Event stream ended with error: %v", err)
		t.diagnostic(fmt.Sprintf("event stream error: %v", err))
	}
}

// forward delivers one inbound message. It returns false once the
// transport is closed.
func (t *HTTP) forward(data []byte) bool {
	select {
	case t.incoming <- data:
		return true
	case <-t.ctx.Done():
		return false
	}
}

func (t *HTTP) diagnostic(line string) {
	select {
	case t.diagnostics <- line:
	default:
	}
}

// OpenEventStream opens the optional GET listener for server-initiated
// messages. A server without one answers 405, which is not an error.
func (t *HTTP) OpenEventStream(ctx context.Context) error {
	if !t.acquire() {
		return ErrClosed
	}
	defer t.wg.Done()
	token, err := t.initialToken(ctx)
	if err != nil {
		return err
	}

	resp, cancelReq, err := t.doGet(ctx, token)
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusMethodNotAllowed:
		readErrorBody(resp)
		cancelReq()
		t.logger.Debug("Server does not offer a standalone event stream")
		return nil
	case resp.StatusCode == http.StatusNotFound:
		readErrorBody(resp)
		cancelReq()
		if t.expireSession() {
			return ErrSessionExpired
		}
		return &StatusError{StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		challenge := drainChallenge(resp)
		cancelReq()
		return &AuthError{StatusCode: resp.StatusCode, Challenge: challenge}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body := readErrorBody(resp)
		cancelReq()
		return &StatusError{StatusCode: resp.StatusCode, Body: body}
	}

	if !contenttype.NewMediaType(resp.Header.Get("Content-Type")).Matches(eventStreamMediaType) {
		readErrorBody(resp)
		cancelReq()
		return fmt.Errorf("event stream answered with content type %q", resp.Header.Get("Content-Type"))
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.consumeStream(resp, cancelReq)
	}()
	return nil
}

func (t *HTTP) doGet(ctx context.Context, token string) (*http.Response, context.CancelFunc, error) {
	reqCtx, cancelReq := context.WithCancel(t.ctx)
	stop := context.AfterFunc(ctx, cancelReq)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, t.cfg.Endpoint, nil)
	if err != nil {
		stop()
		cancelReq()
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	t.setHeaders(req, token)
	req.Header.Set("Accept", "text/event-stream")
	if id := t.LastEventID(); id != "" {
		req.Header.Set(HeaderLastEventID, id)
	}

	resp, err := t.client.Do(req)
	stop()
	if err != nil {
		cancelReq()
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("GET %s failed: %w", t.cfg.Endpoint, err)
	}
	return resp, cancelReq, nil
}

// Close terminates the session with a best-effort DELETE, stops every
// stream and closes Receive.
func (t *HTTP) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		sid := t.sessionID
		t.mu.Unlock()

		if sid != "" {
			t.deleteSession(sid)
		}

		t.cancel()
		t.wg.Wait()
		close(t.incoming)
		close(t.diagnostics)
	})
	return nil
}

func (t *HTTP) deleteSession(sid string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.cfg.Endpoint, nil)
	if err != nil {
		t.logger.Debug("Failed to build session DELETE: %v", err)
		return
	}
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(HeaderSessionID, sid)
	req.Header.Set(HeaderProtocolVersion, t.cfg.ProtocolVersion)

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Debug("Session DELETE failed: %v", err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	t.logger.Debug("Session %s terminated (HTTP %d)", sid, resp.StatusCode)
}

func drainChallenge(resp *http.Response) string {
	challenge := resp.Header.Get(headerAuthenticate)
	readErrorBody(resp)
	return challenge
}

func readErrorBody(resp *http.Response) string {
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	_, _ = io.Copy(io.Discard, resp.Body)
	return strings.TrimSpace(string(data))
}

// isInsufficientScope reports whether a WWW-Authenticate value carries
// error="insufficient_scope".
func isInsufficientScope(challenge string) bool {
	lower := strings.ToLower(challenge)
	return strings.Contains(lower, `error="insufficient_scope"`) || strings.Contains(lower, "error=insufficient_scope")
}
