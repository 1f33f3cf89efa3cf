package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/mcp-client/internal/protocol"
)

// jsonResult marshals v into a text tool result.
func jsonResult(what string, v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal %s: %v", what, err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func argumentsOf(request mcp.CallToolRequest) (map[string]interface{}, *mcp.CallToolResult) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, mcp.NewToolResultError("invalid arguments type")
	}
	return args, nil
}

// stringArgument extracts a required, non-empty string argument.
func stringArgument(request mcp.CallToolRequest, key string) (string, *mcp.CallToolResult) {
	args, errResult := argumentsOf(request)
	if errResult != nil {
		return "", errResult
	}
	value, ok := args[key].(string)
	if !ok || value == "" {
		return "", mcp.NewToolResultError(fmt.Sprintf("missing or invalid '%s' argument", key))
	}
	return value, nil
}

func (m *MCPServer) handleServerInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, ok := m.client.ServerInfo()
	if !ok {
		return mcp.NewToolResultError(ErrNotConnected.Error()), nil
	}
	return jsonResult("server info", result)
}

func (m *MCPServer) handlePing(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := m.client.Ping(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ping failed: %v", err)), nil
	}
	return mcp.NewToolResultText("pong"), nil
}

// handleListTools handles the list_tools tool request
func (m *MCPServer) handleListTools(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult("tools", m.client.Tools())
}

// handleListResources handles the list_resources tool request
func (m *MCPServer) handleListResources(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult("resources", m.client.Resources())
}

func (m *MCPServer) handleListTemplates(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult("resource templates", m.client.Templates())
}

// handleListPrompts handles the list_prompts tool request
func (m *MCPServer) handleListPrompts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult("prompts", m.client.Prompts())
}

// handleDescribeTool handles the describe_tool request
func (m *MCPServer) handleDescribeTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, errResult := stringArgument(request, "name")
	if errResult != nil {
		return errResult, nil
	}

	tool, ok := m.client.FindTool(name)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("tool not found: %s", name)), nil
	}
	return jsonResult("tool", tool)
}

// handleDescribeResource handles the describe_resource request
func (m *MCPServer) handleDescribeResource(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, errResult := stringArgument(request, "uri")
	if errResult != nil {
		return errResult, nil
	}

	resource, ok := m.client.FindResource(uri)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("resource not found: %s", uri)), nil
	}
	return jsonResult("resource", resource)
}

// handleDescribePrompt handles the describe_prompt request
func (m *MCPServer) handleDescribePrompt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, errResult := stringArgument(request, "name")
	if errResult != nil {
		return errResult, nil
	}

	prompt, ok := m.client.FindPrompt(name)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("prompt not found: %s", name)), nil
	}
	return jsonResult("prompt", prompt)
}

// handleCallTool handles the call_tool request
func (m *MCPServer) handleCallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	toolName, errResult := stringArgument(request, "name")
	if errResult != nil {
		return errResult, nil
	}

	args, _ := argumentsOf(request)
	var toolArgs map[string]interface{}
	if argValue, exists := args["arguments"]; exists {
		toolArgs, _ = argValue.(map[string]interface{})
	}

	result, err := m.client.CallTool(ctx, toolName, toolArgs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("tool call failed: %v", err)), nil
	}
	return jsonResult("result", result)
}

// handleGetResource handles the get_resource request
func (m *MCPServer) handleGetResource(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, errResult := stringArgument(request, "uri")
	if errResult != nil {
		return errResult, nil
	}

	result, err := m.client.GetResource(ctx, uri)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resource retrieval failed: %v", err)), nil
	}
	return jsonResult("result", result)
}

// handleGetPrompt handles the get_prompt request
func (m *MCPServer) handleGetPrompt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	promptName, errResult := stringArgument(request, "name")
	if errResult != nil {
		return errResult, nil
	}

	args, _ := argumentsOf(request)
	promptArgs := make(map[string]string)
	if argsMap, ok := args["arguments"].(map[string]interface{}); ok {
		for k, v := range argsMap {
			promptArgs[k] = fmt.Sprintf("%v", v)
		}
	}

	result, err := m.client.GetPrompt(ctx, promptName, promptArgs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("prompt retrieval failed: %v", err)), nil
	}
	return jsonResult("result", result)
}

func (m *MCPServer) requireTasks() *mcp.CallToolResult {
	if !m.client.ServerSupports(protocol.CapabilityTasks) {
		return mcp.NewToolResultError("server does not support tasks capability")
	}
	return nil
}

func (m *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if errResult := m.requireTasks(); errResult != nil {
		return errResult, nil
	}
	tasks, err := m.client.ListTasks(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("task listing failed: %v", err)), nil
	}
	return jsonResult("tasks", tasks)
}

func (m *MCPServer) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if errResult := m.requireTasks(); errResult != nil {
		return errResult, nil
	}
	id, errResult := stringArgument(request, "task_id")
	if errResult != nil {
		return errResult, nil
	}
	task, err := m.client.GetTask(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("task lookup failed: %v", err)), nil
	}
	return jsonResult("task", task)
}

func (m *MCPServer) handleGetTaskResult(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if errResult := m.requireTasks(); errResult != nil {
		return errResult, nil
	}
	id, errResult := stringArgument(request, "task_id")
	if errResult != nil {
		return errResult, nil
	}
	result, err := m.client.GetTaskResult(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("task result failed: %v", err)), nil
	}
	return jsonResult("result", result)
}

func (m *MCPServer) handleCancelTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if errResult := m.requireTasks(); errResult != nil {
		return errResult, nil
	}
	id, errResult := stringArgument(request, "task_id")
	if errResult != nil {
		return errResult, nil
	}
	task, err := m.client.CancelTask(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("task cancel failed: %v", err)), nil
	}
	return jsonResult("task", task)
}
