package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/mcp-client/internal/logging"
)

const bridgeShutdownTimeout = 5 * time.Second

// MCPServer wraps the agent functionality and exposes it via MCP
type MCPServer struct {
	client          *Client
	logger          *logging.Logger
	mcpServer       *server.MCPServer
	serverTransport string

	// stdin and stdout carry the stdio bridge.
	stdin  io.Reader
	stdout io.Writer
}

// NewMCPServer creates a new MCP server that exposes agent functionality
func NewMCPServer(client *Client, serverTransport string, logger *logging.Logger, version string) (*MCPServer, error) {
	switch serverTransport {
	case ServerTransportStdio, ServerTransportStreamableHTTP:
	default:
		return nil, fmt.Errorf("unsupported server transport: %s", serverTransport)
	}
	if version == "" {
		version = "dev"
	}

	mcpServer := server.NewMCPServer(
		clientName+"-bridge",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	ms := &MCPServer{
		client:          client,
		logger:          logger,
		mcpServer:       mcpServer,
		serverTransport: serverTransport,
		stdin:           os.Stdin,
		stdout:          os.Stdout,
	}

	ms.registerTools()

	return ms, nil
}

// Start serves until ctx is done or the transport fails.
func (m *MCPServer) Start(ctx context.Context, listenAddr string) error {
	switch m.serverTransport {
	case ServerTransportStdio:
		stdio := server.NewStdioServer(m.mcpServer)
		err := stdio.Listen(ctx, m.stdin, m.stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err

	case ServerTransportStreamableHTTP:
		httpServer := server.NewStreamableHTTPServer(
			m.mcpServer,
			server.WithEndpointPath(bridgeEndpointPath),
		)

		errCh := make(chan error, 1)
		go func() { errCh <- httpServer.Start(listenAddr) }()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), bridgeShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				m.logger.Warning("Bridge shutdown: %v", err)
			}
			return nil
		}

	default:
		return fmt.Errorf("unsupported server transport: %s", m.serverTransport)
	}
}

// registerTools registers all MCP tools
func (m *MCPServer) registerTools() {
	m.mcpServer.AddTool(mcp.NewTool("server_info",
		mcp.WithDescription("Show the connected server's identity, protocol version and capabilities"),
	), m.handleServerInfo)

	m.mcpServer.AddTool(mcp.NewTool("ping",
		mcp.WithDescription("Check that the connected MCP server responds"),
	), m.handlePing)

	m.mcpServer.AddTool(mcp.NewTool("list_tools",
		mcp.WithDescription("List all available tools from the connected MCP server"),
	), m.handleListTools)

	m.mcpServer.AddTool(mcp.NewTool("list_resources",
		mcp.WithDescription("List all available resources from the connected MCP server"),
	), m.handleListResources)

	m.mcpServer.AddTool(mcp.NewTool("list_resource_templates",
		mcp.WithDescription("List all resource templates from the connected MCP server"),
	), m.handleListTemplates)

	m.mcpServer.AddTool(mcp.NewTool("list_prompts",
		mcp.WithDescription("List all available prompts from the connected MCP server"),
	), m.handleListPrompts)

	m.mcpServer.AddTool(mcp.NewTool("describe_tool",
		mcp.WithDescription("Get detailed information about a specific tool"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Name of the tool to describe"),
		),
	), m.handleDescribeTool)

	m.mcpServer.AddTool(mcp.NewTool("describe_resource",
		mcp.WithDescription("Get detailed information about a specific resource"),
		mcp.WithString("uri",
			mcp.Required(),
			mcp.Description("URI of the resource to describe"),
		),
	), m.handleDescribeResource)

	m.mcpServer.AddTool(mcp.NewTool("describe_prompt",
		mcp.WithDescription("Get detailed information about a specific prompt"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Name of the prompt to describe"),
		),
	), m.handleDescribePrompt)

	m.mcpServer.AddTool(mcp.NewTool("call_tool",
		mcp.WithDescription("Execute a tool with the given arguments"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Name of the tool to call"),
		),
		mcp.WithObject("arguments",
			mcp.Description("Arguments to pass to the tool (as JSON object)"),
		),
	), m.handleCallTool)

	m.mcpServer.AddTool(mcp.NewTool("get_resource",
		mcp.WithDescription("Retrieve the contents of a resource"),
		mcp.WithString("uri",
			mcp.Required(),
			mcp.Description("URI of the resource to retrieve"),
		),
	), m.handleGetResource)

	m.mcpServer.AddTool(mcp.NewTool("get_prompt",
		mcp.WithDescription("Get a prompt with the given arguments"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Name of the prompt to get"),
		),
		mcp.WithObject("arguments",
			mcp.Description("Arguments to pass to the prompt (as JSON object with string values)"),
		),
	), m.handleGetPrompt)

	m.mcpServer.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List tasks known to the connected MCP server"),
	), m.handleListTasks)

	m.mcpServer.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Get the status of a task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Identifier of the task"),
		),
	), m.handleGetTask)

	m.mcpServer.AddTool(mcp.NewTool("get_task_result",
		mcp.WithDescription("Wait for a task to finish and return its result"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Identifier of the task"),
		),
	), m.handleGetTaskResult)

	m.mcpServer.AddTool(mcp.NewTool("cancel_task",
		mcp.WithDescription("Cancel a running task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Identifier of the task"),
		),
	), m.handleCancelTask)
}
