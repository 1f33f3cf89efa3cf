package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/giantswarm/mcp-client/internal/config"
	"github.com/giantswarm/mcp-client/internal/jsonrpc"
	"github.com/giantswarm/mcp-client/internal/logging"
	"github.com/giantswarm/mcp-client/internal/mcp"
	"github.com/giantswarm/mcp-client/internal/protocol"
	"github.com/giantswarm/mcp-client/internal/transport"
)

// notificationQueueSize bounds notifications waiting for Listen or the REPL.
const notificationQueueSize = 32

// ErrNotConnected is returned by operations issued before Run succeeded or
// after Close.
var ErrNotConnected = errors.New("client is not connected")

// Dialer opens a fresh transport to the server. It is called again on every
// reconnect.
type Dialer func(ctx context.Context) (transport.Transport, error)

// ClientConfig holds configuration for creating a new Client
type ClientConfig struct {
	// Name identifies the server in log output.
	Name    string
	Server  config.Server
	Logger  *logging.Logger
	Version string

	// Authorizer is attached to HTTP transports.
	Authorizer transport.Authorizer

	// Roots are offered to servers that ask for roots/list.
	Roots []mcp.Root

	// Dial overrides transport construction.
	Dial Dialer
}

type notification struct {
	Method string
	Params json.RawMessage
}

// Client represents an MCP agent client
type Client struct {
	name       string
	server     config.Server
	logger     *logging.Logger
	version    string
	authorizer transport.Authorizer
	roots      []mcp.Root
	dial       Dialer

	// connMu serialises connect, reconnect and close.
	connMu sync.Mutex

	mu            sync.RWMutex
	session       *protocol.Session
	conn          transport.Transport
	stopRun       context.CancelFunc
	runDone       chan struct{}
	toolCache     []mcp.Tool
	resourceCache []mcp.Resource
	templateCache []mcp.ResourceTemplate
	promptCache   []mcp.Prompt

	notificationChan chan notification
}

// NewClient creates a new agent client from a configuration
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		name:             cfg.Name,
		server:           cfg.Server,
		logger:           cfg.Logger,
		version:          cfg.Version,
		authorizer:       cfg.Authorizer,
		roots:            cfg.Roots,
		dial:             cfg.Dial,
		notificationChan: make(chan notification, notificationQueueSize),
	}
	if c.dial == nil {
		c.dial = c.defaultDial
	}
	if c.version == "" {
		c.version = "dev"
	}
	return c
}

// Run connects, performs the handshake and fills the catalog caches.
func (c *Client) Run(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.connectAndInitialize(ctx)
}

// Reconnect drops the current connection and establishes a new session.
func (c *Client) Reconnect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.logger.Info("Attempting to reconnect to MCP server...")
	if err := c.closeConnection(); err != nil {
		c.logger.Debug("Closing previous connection: %v", err)
	}
	return c.connectAndInitialize(ctx)
}

// Close ends the session and releases the transport.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.closeConnection()
}

func (c *Client) describe() string {
	target := c.server.URL
	if c.server.Transport == config.TransportStdio {
		target = strings.TrimSpace(c.server.Command + " " + strings.Join(c.server.Args, " "))
	}
	if c.name != "" {
		return fmt.Sprintf("%q (%s via %s)", c.name, target, c.server.Transport)
	}
	return fmt.Sprintf("%s via %s", target, c.server.Transport)
}

func (c *Client) defaultDial(ctx context.Context) (transport.Transport, error) {
	switch c.server.Transport {
	case config.TransportStdio:
		return transport.NewStdio(transport.StdioConfig{
			Command: c.server.Command,
			Args:    c.server.Args,
			Env:     c.server.Env,
			Dir:     c.server.Dir,
			Logger:  c.logger,
		})
	case config.TransportHTTP:
		cfg := transport.HTTPConfig{
			Endpoint: c.server.URL,
			Headers:  c.server.Headers,
			Logger:   c.logger,
		}
		if c.authorizer != nil {
			cfg.Authorizer = c.authorizer
		}
		return transport.NewHTTP(cfg)
	default:
		return nil, fmt.Errorf("unsupported transport %q", c.server.Transport)
	}
}

// watchedNotifications are queued for handleNotification.
var watchedNotifications = []string{
	mcp.NotificationToolsListChanged,
	mcp.NotificationResourcesListChanged,
	mcp.NotificationPromptsListChanged,
	mcp.NotificationResourceUpdated,
	mcp.NotificationMessage,
	mcp.NotificationProgress,
	mcp.NotificationTaskStatus,
	mcp.NotificationCancelled,
}

// eventStreamer is implemented by transports with a standalone
// server-to-client stream.
type eventStreamer interface {
	OpenEventStream(ctx context.Context) error
}

func (c *Client) connectAndInitialize(ctx context.Context) error {
	c.logger.Info("Connecting to MCP server %s...", c.describe())

	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to open transport: %w", err)
	}

	timeout := c.server.RequestTimeout.Duration()
	rpc := jsonrpc.New(conn, jsonrpc.WithLogger(c.logger), jsonrpc.WithDefaultTimeout(timeout))
	for _, method := range watchedNotifications {
		method := method
		rpc.OnNotification(method, func(_ context.Context, params json.RawMessage) {
			c.enqueue(notification{Method: method, Params: params})
		})
	}

	// The read loop outlives the caller's context; it stops on Close.
	runCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := rpc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.WarningVerbose("Connection closed: %v", err)
		}
	}()

	abort := func() {
		_ = conn.Close()
		stop()
		<-done
	}

	session, err := protocol.New(rpc, protocol.WithRequestTimeout(timeout)).
		Initialize(ctx, mcp.Implementation{Name: clientName, Version: c.version}, c.capabilities())
	if err != nil {
		abort()
		return fmt.Errorf("initialization failed: %w", err)
	}

	info := session.ServerInfo()
	c.logger.Success("Connected to %s %s (protocol %s)", info.Name, info.Version, session.ProtocolVersion())
	if instructions := session.Instructions(); instructions != "" {
		c.logger.Info("Server instructions: %s", instructions)
	}

	session.RegisterElicitationHandler(protocol.ElicitationHandlerFunc(c.declineElicitation))
	if len(c.roots) > 0 {
		session.RegisterRootsHandler(c.listRoots)
	}

	c.mu.Lock()
	c.session = session
	c.conn = conn
	c.stopRun = stop
	c.runDone = done
	c.mu.Unlock()

	if streamer, ok := conn.(eventStreamer); ok {
		if err := streamer.OpenEventStream(runCtx); err != nil {
			c.logger.Warning("Server event stream unavailable: %v", err)
		}
	}

	// List capabilities conditionally based on what the server supports
	if c.ServerSupportsTools() {
		if err := c.listTools(ctx, true); err != nil {
			return fmt.Errorf("initial tool listing failed: %w", err)
		}
	} else {
		c.logger.Info("Server does not support tools capability")
	}

	if c.ServerSupportsResources() {
		if err := c.listResources(ctx, true); err != nil {
			return fmt.Errorf("initial resource listing failed: %w", err)
		}
		if err := c.listTemplates(ctx, true); err != nil {
			// Older servers do not implement templates.
			c.logger.WarningVerbose("Resource template listing failed: %v", err)
		}
	} else {
		c.logger.Info("Server does not support resources capability")
	}

	if c.ServerSupportsPrompts() {
		if err := c.listPrompts(ctx, true); err != nil {
			return fmt.Errorf("initial prompt listing failed: %w", err)
		}
	} else {
		c.logger.Info("Server does not support prompts capability")
	}

	if c.ServerSupports(protocol.CapabilityTasks) {
		c.logger.Info("Server supports tasks")
	}

	return nil
}

// closeConnection must be called with connMu held.
func (c *Client) closeConnection() error {
	c.mu.Lock()
	conn, stop, done := c.conn, c.stopRun, c.runDone
	c.session = nil
	c.conn = nil
	c.stopRun = nil
	c.runDone = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	stop()
	<-done
	return err
}

func (c *Client) capabilities() mcp.ClientCapabilities {
	caps := mcp.ClientCapabilities{
		Elicitation: &mcp.ElicitationCapability{Form: &mcp.Empty{}},
	}
	if len(c.roots) > 0 {
		caps.Roots = &mcp.RootsCapability{}
	}
	return caps
}

// declineElicitation logs the request and declines it; the agent has no
// channel to collect user input while a command is running.
func (c *Client) declineElicitation(_ context.Context, params *mcp.ElicitParams) (*mcp.ElicitResult, error) {
	c.logger.Warning("Server requested user input: %s", params.Message)
	if params.URL != "" {
		c.logger.Info("  URL: %s", params.URL)
	}
	c.logger.Info("Declining elicitation request")
	return &mcp.ElicitResult{Action: mcp.ElicitationDecline}, nil
}

func (c *Client) listRoots(context.Context) ([]mcp.Root, error) {
	return c.roots, nil
}

func (c *Client) enqueue(n notification) {
	select {
	case c.notificationChan <- n:
	default:
		c.logger.Warning("Notification queue full, dropping %s", n.Method)
	}
}

// Listen handles notifications until ctx is done.
func (c *Client) Listen(ctx context.Context) error {
	// Wait for notifications
	c.logger.Info("Waiting for notifications (press Ctrl+C to exit)...")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Shutting down...")
			return ctx.Err()

		case n := <-c.notificationChan:
			if err := c.handleNotification(ctx, n); err != nil {
				c.logger.Error("Failed to handle notification: %v", err)
			}
		}
	}
}

// currentSession returns the live session.
func (c *Client) currentSession() (*protocol.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil, ErrNotConnected
	}
	return c.session, nil
}

// listTools lists all available tools
func (c *Client) listTools(ctx context.Context, initial bool) error {
	s, err := c.currentSession()
	if err != nil {
		return err
	}
	tools, err := s.ListTools(ctx)
	if err != nil {
		c.logger.Error("ListTools failed: %v", err)
		return err
	}

	c.mu.Lock()
	old := c.toolCache
	c.toolCache = tools
	c.mu.Unlock()

	if !initial {
		showDiff(c.logger, "Tool", old, tools, func(t mcp.Tool) string { return t.Name })
	}
	return nil
}

// listResources lists all available resources
func (c *Client) listResources(ctx context.Context, initial bool) error {
	s, err := c.currentSession()
	if err != nil {
		return err
	}
	resources, err := s.ListResources(ctx)
	if err != nil {
		c.logger.Error("ListResources failed: %v", err)
		return err
	}

	c.mu.Lock()
	old := c.resourceCache
	c.resourceCache = resources
	c.mu.Unlock()

	if !initial {
		showDiff(c.logger, "Resource", old, resources, func(r mcp.Resource) string { return r.URI })
	}
	return nil
}

func (c *Client) listTemplates(ctx context.Context, initial bool) error {
	s, err := c.currentSession()
	if err != nil {
		return err
	}
	templates, err := s.ListResourceTemplates(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	old := c.templateCache
	c.templateCache = templates
	c.mu.Unlock()

	if !initial {
		showDiff(c.logger, "Resource template", old, templates, func(t mcp.ResourceTemplate) string { return t.URITemplate })
	}
	return nil
}

// listPrompts lists all available prompts
func (c *Client) listPrompts(ctx context.Context, initial bool) error {
	s, err := c.currentSession()
	if err != nil {
		return err
	}
	prompts, err := s.ListPrompts(ctx)
	if err != nil {
		c.logger.Error("ListPrompts failed: %v", err)
		return err
	}

	c.mu.Lock()
	old := c.promptCache
	c.promptCache = prompts
	c.mu.Unlock()

	if !initial {
		showDiff(c.logger, "Prompt", old, prompts, func(p mcp.Prompt) string { return p.Name })
	}
	return nil
}

// handleNotification processes incoming notifications. The JSON-RPC layer
// has already traced them.
func (c *Client) handleNotification(ctx context.Context, n notification) error {
	switch n.Method {
	case mcp.NotificationToolsListChanged:
		if c.ServerSupportsTools() {
			return c.listTools(ctx, false)
		}

	case mcp.NotificationResourcesListChanged:
		if c.ServerSupportsResources() {
			if err := c.listResources(ctx, false); err != nil {
				return err
			}
			if err := c.listTemplates(ctx, false); err != nil {
				c.logger.WarningVerbose("Resource template listing failed: %v", err)
			}
		}

	case mcp.NotificationPromptsListChanged:
		if c.ServerSupportsPrompts() {
			return c.listPrompts(ctx, false)
		}

	case mcp.NotificationResourceUpdated:
		var p mcp.ResourceUpdatedParams
		if err := json.Unmarshal(n.Params, &p); err != nil {
			return fmt.Errorf("invalid %s params: %w", n.Method, err)
		}
		c.logger.Info("Resource updated: %s", p.URI)

	case mcp.NotificationMessage:
		var p mcp.LoggingMessageParams
		if err := json.Unmarshal(n.Params, &p); err != nil {
			return fmt.Errorf("invalid %s params: %w", n.Method, err)
		}
		c.logServerMessage(p)

	case mcp.NotificationProgress:
		var p mcp.ProgressParams
		if err := json.Unmarshal(n.Params, &p); err != nil {
			return fmt.Errorf("invalid %s params: %w", n.Method, err)
		}
		c.logger.Info("Progress: %s", formatProgress(p))

	case mcp.NotificationTaskStatus:
		var t mcp.Task
		if err := json.Unmarshal(n.Params, &t); err != nil {
			return fmt.Errorf("invalid %s params: %w", n.Method, err)
		}
		c.logger.Info("Task %s: %s", t.TaskID, describeTask(t))

	case mcp.NotificationCancelled:
		var p mcp.CancelledParams
		if err := json.Unmarshal(n.Params, &p); err != nil {
			return fmt.Errorf("invalid %s params: %w", n.Method, err)
		}
		c.logger.InfoVerbose("Server cancelled request %s: %s", p.RequestID, p.Reason)
	}

	return nil
}

// logServerMessage routes a notifications/message entry by severity.
func (c *Client) logServerMessage(p mcp.LoggingMessageParams) {
	source := "server"
	if p.Logger != "" {
		source = p.Logger
	}
	text := messageText(p.Data)

	switch {
	case p.Level.Severity() >= mcp.LevelError.Severity():
		c.logger.Error("[%s] %s: %s", source, p.Level, text)
	case p.Level == mcp.LevelWarning:
		c.logger.Warning("[%s] %s: %s", source, p.Level, text)
	case p.Level == mcp.LevelDebug:
		c.logger.Debug("[%s] %s", source, text)
	default:
		c.logger.Info("[%s] %s: %s", source, p.Level, text)
	}
}

func messageText(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return string(data)
}

func formatProgress(p mcp.ProgressParams) string {
	out := fmt.Sprintf("%g", p.Progress)
	if p.Total != nil {
		out += fmt.Sprintf("/%g", *p.Total)
	}
	if p.Message != "" {
		out += " " + p.Message
	}
	return out
}

func describeTask(t mcp.Task) string {
	if t.StatusMessage != "" {
		return fmt.Sprintf("%s (%s)", t.Status, t.StatusMessage)
	}
	return string(t.Status)
}

// showDiff displays the differences between two catalog listings keyed by
// key. Names are printed in sorted order.
func showDiff[T any](logger *logging.Logger, kind string, oldItems, newItems []T, key func(T) string) {
	oldSet := make(map[string]bool, len(oldItems))
	for _, item := range oldItems {
		oldSet[key(item)] = true
	}
	newSet := make(map[string]bool, len(newItems))
	for _, item := range newItems {
		newSet[key(item)] = true
	}

	var added, removed, unchanged []string
	for name := range newSet {
		if oldSet[name] {
			unchanged = append(unchanged, name)
		} else {
			added = append(added, name)
		}
	}
	for name := range oldSet {
		if !newSet[name] {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(unchanged)

	if len(added) == 0 && len(removed) == 0 {
		logger.Info("No %s changes detected", strings.ToLower(kind))
		return
	}

	logger.Info("%s changes detected:", kind)
	for _, name := range unchanged {
		logger.Success("  ✓ Unchanged: %s", name)
	}
	for _, name := range added {
		logger.Success("  + Added: %s", name)
	}
	for _, name := range removed {
		logger.Error("  - Removed: %s", name)
	}
}

// ServerSupports reports whether the connected server advertised c.
func (c *Client) ServerSupports(capability protocol.Capability) bool {
	s, err := c.currentSession()
	return err == nil && s.Capable(capability)
}

// ServerSupportsTools reports whether the server exposes tools.
func (c *Client) ServerSupportsTools() bool { return c.ServerSupports(protocol.CapabilityTools) }

// ServerSupportsResources reports whether the server exposes resources.
func (c *Client) ServerSupportsResources() bool {
	return c.ServerSupports(protocol.CapabilityResources)
}

// ServerSupportsPrompts reports whether the server exposes prompts.
func (c *Client) ServerSupportsPrompts() bool { return c.ServerSupports(protocol.CapabilityPrompts) }

// ServerInfo returns the initialize result of the live session.
func (c *Client) ServerInfo() (mcp.InitializeResult, bool) {
	s, err := c.currentSession()
	if err != nil {
		return mcp.InitializeResult{}, false
	}
	return s.InitializeResult(), true
}

// Tools returns a copy of the cached tool list.
func (c *Client) Tools() []mcp.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]mcp.Tool(nil), c.toolCache...)
}

// Resources returns a copy of the cached resource list.
func (c *Client) Resources() []mcp.Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]mcp.Resource(nil), c.resourceCache...)
}

// Templates returns a copy of the cached resource template list.
func (c *Client) Templates() []mcp.ResourceTemplate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]mcp.ResourceTemplate(nil), c.templateCache...)
}

// Prompts returns a copy of the cached prompt list.
func (c *Client) Prompts() []mcp.Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]mcp.Prompt(nil), c.promptCache...)
}

// FindTool looks a tool up in the cache.
func (c *Client) FindTool(name string) (mcp.Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.toolCache {
		if t.Name == name {
			return t, true
		}
	}
	return mcp.Tool{}, false
}

// FindResource looks a resource up in the cache.
func (c *Client) FindResource(uri string) (mcp.Resource, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.resourceCache {
		if r.URI == uri {
			return r, true
		}
	}
	return mcp.Resource{}, false
}

// FindPrompt looks a prompt up in the cache.
func (c *Client) FindPrompt(name string) (mcp.Prompt, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.promptCache {
		if p.Name == name {
			return p, true
		}
	}
	return mcp.Prompt{}, false
}

// shouldReconnect reports whether err means the connection itself is gone,
// as opposed to a failed request on a healthy connection.
func shouldReconnect(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, jsonrpc.ErrTransportClosed) ||
		errors.Is(err, transport.ErrClosed) ||
		errors.Is(err, transport.ErrSessionExpired) {
		return true
	}

	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
