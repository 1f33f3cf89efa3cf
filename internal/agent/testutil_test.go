package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/mcp-client/internal/config"
	"github.com/giantswarm/mcp-client/internal/logging"
	"github.com/giantswarm/mcp-client/internal/mcp"
	"github.com/giantswarm/mcp-client/internal/transport"
)

const testTimeout = 2 * time.Second

// syncBuffer is a bytes.Buffer safe for concurrent Write and String.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type handlerFunc func(params json.RawMessage) (interface{}, *mcp.Error)

// mockMCPServer is an in-memory MCP server behind transport.Fake. Each dial
// gets a fresh fake; catalog state survives reconnects.
type mockMCPServer struct {
	t   *testing.T
	ctx context.Context

	mu        sync.Mutex
	caps      mcp.ServerCapabilities
	tools     []mcp.Tool
	resources []mcp.Resource
	templates []mcp.ResourceTemplate
	prompts   []mcp.Prompt
	handlers  map[string]handlerFunc
	seen      []*mcp.Message
	dials     int
	current   *transport.Fake
}

func fullCapabilities() mcp.ServerCapabilities {
	return mcp.ServerCapabilities{
		Tools:       &mcp.ToolsCapability{ListChanged: true},
		Resources:   &mcp.ResourcesCapability{Subscribe: true, ListChanged: true},
		Prompts:     &mcp.PromptsCapability{ListChanged: true},
		Logging:     &mcp.Empty{},
		Completions: &mcp.Empty{},
		Tasks:       &mcp.TasksCapability{List: &mcp.Empty{}, Cancel: &mcp.Empty{}},
	}
}

func newMockMCPServer(t *testing.T) *mockMCPServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := &mockMCPServer{
		t:    t,
		ctx:  ctx,
		caps: fullCapabilities(),
		tools: []mcp.Tool{
			{Name: "echo", Description: "Echo the input", InputSchema: json.RawMessage(`{"type":"object"}`)},
			{
				Name:        "slow",
				Description: "Runs as a task",
				InputSchema: json.RawMessage(`{"type":"object"}`),
				Execution:   &mcp.ToolExecution{TaskSupport: mcp.TaskSupportOptional},
			},
		},
		resources: []mcp.Resource{{URI: "docs://readme", Name: "readme", MIMEType: "text/plain"}},
		templates: []mcp.ResourceTemplate{{URITemplate: "docs://{name}", Name: "doc"}},
		prompts: []mcp.Prompt{{
			Name:      "greeting",
			Arguments: []mcp.PromptArgument{{Name: "name", Required: true}},
		}},
	}

	s.handlers = map[string]handlerFunc{
		mcp.MethodInitialize: func(json.RawMessage) (interface{}, *mcp.Error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return mcp.InitializeResult{
				ProtocolVersion: mcp.LatestProtocolVersion,
				Capabilities:    s.caps,
				ServerInfo:      mcp.Implementation{Name: "mock-server", Version: "1.2.3"},
			}, nil
		},
		mcp.MethodPing: func(json.RawMessage) (interface{}, *mcp.Error) { return mcp.Empty{}, nil },
		mcp.MethodToolsList: func(json.RawMessage) (interface{}, *mcp.Error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return mcp.ListToolsResult{Tools: s.tools}, nil
		},
		mcp.MethodResourcesList: func(json.RawMessage) (interface{}, *mcp.Error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return mcp.ListResourcesResult{Resources: s.resources}, nil
		},
		mcp.MethodResourcesTemplatesList: func(json.RawMessage) (interface{}, *mcp.Error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return mcp.ListResourceTemplatesResult{ResourceTemplates: s.templates}, nil
		},
		mcp.MethodPromptsList: func(json.RawMessage) (interface{}, *mcp.Error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return mcp.ListPromptsResult{Prompts: s.prompts}, nil
		},
		mcp.MethodToolsCall: func(raw json.RawMessage) (interface{}, *mcp.Error) {
			var p mcp.CallToolParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, mcp.NewError(mcp.CodeInvalidParams, err.Error())
			}
			if p.Task != nil {
				return mcp.CallToolResult{Task: &mcp.Task{TaskID: "task-1", Status: mcp.TaskWorking}}, nil
			}
			text, _ := p.Arguments["text"].(string)
			return mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent(text)}}, nil
		},
		mcp.MethodResourcesRead: func(raw json.RawMessage) (interface{}, *mcp.Error) {
			var p mcp.ReadResourceParams
			_ = json.Unmarshal(raw, &p)
			return mcp.ReadResourceResult{Contents: []mcp.ResourceContents{{URI: p.URI, Text: "# Readme"}}}, nil
		},
		mcp.MethodPromptsGet: func(raw json.RawMessage) (interface{}, *mcp.Error) {
			var p mcp.GetPromptParams
			_ = json.Unmarshal(raw, &p)
			return mcp.GetPromptResult{Messages: []mcp.PromptMessage{{
				Role:    mcp.RoleUser,
				Content: mcp.TextContent("Hello, " + p.Arguments["name"]),
			}}}, nil
		},
		mcp.MethodTasksGet: func(raw json.RawMessage) (interface{}, *mcp.Error) {
			var p mcp.TaskIDParams
			_ = json.Unmarshal(raw, &p)
			return mcp.Task{TaskID: p.TaskID, Status: mcp.TaskCompleted}, nil
		},
		mcp.MethodTasksList: func(json.RawMessage) (interface{}, *mcp.Error) {
			return mcp.ListTasksResult{Tasks: []mcp.Task{{TaskID: "task-1", Status: mcp.TaskWorking}}}, nil
		},
		mcp.MethodLoggingSetLevel: func(json.RawMessage) (interface{}, *mcp.Error) { return mcp.Empty{}, nil },
	}
	return s
}

func (s *mockMCPServer) setCapabilities(caps mcp.ServerCapabilities) {
	s.mu.Lock()
	s.caps = caps
	s.mu.Unlock()
}

func (s *mockMCPServer) setTools(tools ...mcp.Tool) {
	s.mu.Lock()
	s.tools = tools
	s.mu.Unlock()
}

// dial implements Dialer.
func (s *mockMCPServer) dial(context.Context) (transport.Transport, error) {
	f := transport.NewFake()
	s.mu.Lock()
	s.dials++
	s.current = f
	s.mu.Unlock()
	go s.serve(f)
	return f, nil
}

func (s *mockMCPServer) serve(f *transport.Fake) {
	for {
		msg, err := f.Next(s.ctx)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.seen = append(s.seen, msg)
		h, ok := s.handlers[msg.Method]
		s.mu.Unlock()

		if msg.Kind != mcp.KindRequest {
			continue
		}
		if !ok {
			_ = f.InjectError(*msg.ID, mcp.NewError(mcp.CodeMethodNotFound, "Method not found: "+msg.Method))
			continue
		}
		result, rpcErr := h(msg.Params)
		if rpcErr != nil {
			_ = f.InjectError(*msg.ID, rpcErr)
			continue
		}
		_ = f.InjectResponse(*msg.ID, result)
	}
}

// conn returns the fake of the latest dial.
func (s *mockMCPServer) conn() *transport.Fake {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *mockMCPServer) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.seen {
		if m.Method == method {
			n++
		}
	}
	return n
}

// responseTo returns the client's answer to a server-initiated request.
func (s *mockMCPServer) responseTo(id mcp.ID) *mcp.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.seen {
		if m.Kind == mcp.KindResponse && m.ID != nil && m.ID.String() == id.String() {
			return m
		}
	}
	return nil
}

func (s *mockMCPServer) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// connectedClient returns a client that has completed Run against s.
func connectedClient(t *testing.T, s *mockMCPServer) (*Client, *syncBuffer) {
	t.Helper()

	out := &syncBuffer{}
	c := NewClient(ClientConfig{
		Name:   "mock",
		Server: config.Server{Transport: config.TransportStdio, Command: "mock"},
		Logger: logging.NewLoggerWithWriter(false, false, false, out),
		Roots:  []mcp.Root{{URI: "file:///work", Name: "work"}},
		Dial:   s.dial,
	})

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, out
}

// eventually polls cond until it holds or the test timeout passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
