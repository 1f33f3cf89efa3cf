package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/giantswarm/mcp-client/internal/logging"
	"github.com/giantswarm/mcp-client/internal/mcp"
	"github.com/giantswarm/mcp-client/internal/protocol"
)

// parseToolArgs parses JSON arguments for a tool call
func parseToolArgs(argsStr string) (map[string]interface{}, error) {
	if strings.TrimSpace(argsStr) == "" {
		return nil, nil
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(argsStr), &args); err != nil {
		return nil, fmt.Errorf("invalid JSON arguments: %w", err)
	}
	return args, nil
}

func (r *REPL) showToolArgsHelp(command, toolName string) {
	r.println("Error: Arguments must be valid JSON")
	r.printf("Example: %s %s {\"param1\": \"value1\", \"param2\": 123}\n", command, toolName)
}

// displayTextContent displays text content, pretty-printing JSON if possible
func (r *REPL) displayTextContent(text string) {
	var jsonData interface{}
	if err := json.Unmarshal([]byte(text), &jsonData); err == nil {
		r.println(logging.PrettyJSON(jsonData))
	} else {
		r.println(text)
	}
}

// describeContent renders a non-text content block on one line.
func describeContent(content mcp.Content) string {
	switch content.Type {
	case mcp.ContentImage:
		return fmt.Sprintf("[Image: MIME type %s, %d bytes]", content.MIMEType, len(content.Data))
	case mcp.ContentAudio:
		return fmt.Sprintf("[Audio: MIME type %s, %d bytes]", content.MIMEType, len(content.Data))
	case mcp.ContentResource:
		if content.Resource.IsBlob() {
			return fmt.Sprintf("[Embedded Resource: %s, %d bytes]", content.Resource.URI, len(content.Resource.Blob))
		}
		return fmt.Sprintf("[Embedded Resource: %s]\n%s", content.Resource.URI, content.Resource.Text)
	}
	return fmt.Sprintf("%+v", content)
}

// displayToolResult displays the result of a tool call
func (r *REPL) displayToolResult(result *mcp.CallToolResult) {
	if result.IsError {
		r.println("Tool returned an error:")
		for _, content := range result.Content {
			if content.Type == mcp.ContentText {
				r.printf("  %s\n", content.Text)
			}
		}
		return
	}

	r.println("Result:")
	for _, content := range result.Content {
		if content.Type == mcp.ContentText {
			r.displayTextContent(content.Text)
		} else {
			r.println(describeContent(content))
		}
	}
	if len(result.StructuredContent) > 0 {
		r.println("Structured content:")
		r.println(logging.PrettyJSON(result.StructuredContent))
	}
}

// handleCallTool executes a tool with the given arguments
func (r *REPL) handleCallTool(ctx context.Context, toolName string, argsStr string) error {
	if !r.client.ServerSupportsTools() {
		return fmt.Errorf("server does not support tools capability")
	}

	tool, ok := r.client.FindTool(toolName)
	if !ok {
		return fmt.Errorf("tool not found: %s", toolName)
	}
	if tool.Execution != nil && tool.Execution.TaskSupport == mcp.TaskSupportRequired {
		return fmt.Errorf("tool %s must run as a task; use call-task", toolName)
	}

	args, err := parseToolArgs(argsStr)
	if err != nil {
		r.showToolArgsHelp("call", toolName)
		return err
	}

	r.printf("Executing tool: %s...\n", toolName)
	result, err := r.client.CallTool(ctx, toolName, args)
	if err != nil {
		return fmt.Errorf("tool execution failed: %w", err)
	}

	r.displayToolResult(result)
	return nil
}

// handleCallToolAsTask starts a tool as a task and reports the task id.
func (r *REPL) handleCallToolAsTask(ctx context.Context, toolName string, argsStr string) error {
	if !r.client.ServerSupports(protocol.CapabilityTasks) {
		return fmt.Errorf("server does not support tasks capability")
	}

	tool, ok := r.client.FindTool(toolName)
	if !ok {
		return fmt.Errorf("tool not found: %s", toolName)
	}
	if tool.Execution == nil || tool.Execution.TaskSupport == "" || tool.Execution.TaskSupport == mcp.TaskSupportForbidden {
		return fmt.Errorf("tool %s does not support task execution", toolName)
	}

	args, err := parseToolArgs(argsStr)
	if err != nil {
		r.showToolArgsHelp("call-task", toolName)
		return err
	}

	task, err := r.client.CallToolAsTask(ctx, toolName, args, 0)
	if err != nil {
		return fmt.Errorf("task creation failed: %w", err)
	}

	r.printf("Task created: %s (%s)\n", task.TaskID, describeTask(*task))
	r.printf("Use 'task result %s' to wait for the result.\n", task.TaskID)
	return nil
}

// handleTask runs one of the task subcommands.
func (r *REPL) handleTask(ctx context.Context, action, taskID string) error {
	if !r.client.ServerSupports(protocol.CapabilityTasks) {
		return fmt.Errorf("server does not support tasks capability")
	}

	switch strings.ToLower(action) {
	case "get", "status":
		task, err := r.client.GetTask(ctx, taskID)
		if err != nil {
			return fmt.Errorf("task lookup failed: %w", err)
		}
		r.printTask(task)
	case "result":
		r.printf("Waiting for task %s...\n", taskID)
		result, err := r.client.GetTaskResult(ctx, taskID)
		if err != nil {
			return fmt.Errorf("task result failed: %w", err)
		}
		r.displayToolResult(result)
	case "cancel":
		task, err := r.client.CancelTask(ctx, taskID)
		if err != nil {
			return fmt.Errorf("task cancel failed: %w", err)
		}
		r.printTask(task)
	default:
		return fmt.Errorf("unknown task action: %s. Use 'get', 'result', or 'cancel'", action)
	}
	return nil
}

func (r *REPL) printTask(task *mcp.Task) {
	r.printf("Task: %s\n", task.TaskID)
	r.printf("Status: %s\n", describeTask(*task))
	if task.CreatedAt != "" {
		r.printf("Created: %s\n", task.CreatedAt)
	}
	if task.LastUpdatedAt != "" {
		r.printf("Updated: %s\n", task.LastUpdatedAt)
	}
}

// handleGetResource retrieves and displays a resource
func (r *REPL) handleGetResource(ctx context.Context, uri string) error {
	if !r.client.ServerSupportsResources() {
		return fmt.Errorf("server does not support resources capability")
	}

	// URIs outside the catalog may still match a template.
	resource, known := r.client.FindResource(uri)
	if !known && len(r.client.Templates()) == 0 {
		return fmt.Errorf("resource not found: %s", uri)
	}

	r.printf("Retrieving resource: %s...\n", uri)
	result, err := r.client.GetResource(ctx, uri)
	if err != nil {
		return fmt.Errorf("resource retrieval failed: %w", err)
	}

	r.println("Contents:")
	for _, content := range result.Contents {
		if content.IsBlob() {
			r.printf("[Binary data: %d bytes]\n", len(content.Blob))
			continue
		}
		mimeType := content.MIMEType
		if mimeType == "" {
			mimeType = resource.MIMEType
		}
		if mimeType == "application/json" {
			r.displayTextContent(content.Text)
		} else {
			r.println(content.Text)
		}
	}

	return nil
}

func (r *REPL) handleSubscribe(ctx context.Context, uri string, subscribe bool) error {
	if !r.client.ServerSupportsResources() {
		return fmt.Errorf("server does not support resources capability")
	}

	if subscribe {
		if err := r.client.Subscribe(ctx, uri); err != nil {
			return fmt.Errorf("subscribe failed: %w", err)
		}
		r.printf("Subscribed to %s\n", uri)
		return nil
	}

	if err := r.client.Unsubscribe(ctx, uri); err != nil {
		return fmt.Errorf("unsubscribe failed: %w", err)
	}
	r.printf("Unsubscribed from %s\n", uri)
	return nil
}

// showPromptArgumentHelp displays help for prompt arguments
func (r *REPL) showPromptArgumentHelp(promptName string, arguments []mcp.PromptArgument) {
	r.println("Error: Arguments must be valid JSON")
	r.printf("Example: prompt %s {\"arg1\": \"value1\", \"arg2\": \"value2\"}\n", promptName)

	if len(arguments) == 0 {
		return
	}

	r.println("Required arguments:")
	for _, arg := range arguments {
		if arg.Required {
			r.printf("  - %s: %s\n", arg.Name, arg.Description)
		}
	}
}

// parsePromptArgs parses and validates prompt arguments
func parsePromptArgs(argsStr string, prompt mcp.Prompt) (map[string]string, error) {
	args := make(map[string]string)

	if strings.TrimSpace(argsStr) != "" {
		var jsonArgs map[string]interface{}
		if err := json.Unmarshal([]byte(argsStr), &jsonArgs); err != nil {
			return nil, fmt.Errorf("invalid JSON arguments: %w", err)
		}

		for k, v := range jsonArgs {
			args[k] = fmt.Sprintf("%v", v)
		}
	}

	// Check required arguments
	for _, arg := range prompt.Arguments {
		if arg.Required && args[arg.Name] == "" {
			return nil, fmt.Errorf("missing required argument: %s", arg.Name)
		}
	}

	return args, nil
}

// displayPromptResult displays the result of a prompt retrieval
func (r *REPL) displayPromptResult(result *mcp.GetPromptResult) {
	if result.Description != "" {
		r.printf("Description: %s\n", result.Description)
	}
	r.println("Messages:")
	for i, msg := range result.Messages {
		r.printf("\n[%d] Role: %s\n", i+1, msg.Role)
		if msg.Content.Type == mcp.ContentText {
			r.printf("Content: %s\n", msg.Content.Text)
		} else {
			r.printf("Content: %s\n", describeContent(msg.Content))
		}
	}
}

// handleGetPrompt retrieves and displays a prompt with arguments
func (r *REPL) handleGetPrompt(ctx context.Context, promptName string, argsStr string) error {
	if !r.client.ServerSupportsPrompts() {
		return fmt.Errorf("server does not support prompts capability")
	}

	prompt, ok := r.client.FindPrompt(promptName)
	if !ok {
		return fmt.Errorf("prompt not found: %s", promptName)
	}

	args, err := parsePromptArgs(argsStr, prompt)
	if err != nil {
		if strings.HasPrefix(err.Error(), "invalid JSON") {
			r.showPromptArgumentHelp(prompt.Name, prompt.Arguments)
		}
		return err
	}

	r.printf("Getting prompt: %s...\n", promptName)
	result, err := r.client.GetPrompt(ctx, promptName, args)
	if err != nil {
		return fmt.Errorf("prompt retrieval failed: %w", err)
	}

	r.displayPromptResult(result)
	return nil
}

func (r *REPL) handleComplete(ctx context.Context, promptName, argument, prefix string) error {
	if !r.client.ServerSupports(protocol.CapabilityCompletions) {
		return fmt.Errorf("server does not support completions capability")
	}

	result, err := r.client.CompletePromptArgument(ctx, promptName, argument, prefix)
	if err != nil {
		return fmt.Errorf("completion failed: %w", err)
	}

	values := result.Completion.Values
	if len(values) == 0 {
		r.println("No completions.")
		return nil
	}
	for _, v := range values {
		r.printf("  %s\n", v)
	}
	if result.Completion.HasMore != nil && *result.Completion.HasMore {
		r.println("  ...")
	}
	return nil
}

func (r *REPL) handleLogLevel(ctx context.Context, level string) error {
	if !r.client.ServerSupports(protocol.CapabilityLogging) {
		return fmt.Errorf("server does not support logging capability")
	}

	if err := r.client.SetLogLevel(ctx, mcp.LoggingLevel(strings.ToLower(level))); err != nil {
		return err
	}
	r.printf("Server logging level set to %s\n", strings.ToLower(level))
	return nil
}
