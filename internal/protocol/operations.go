package protocol

import (
	"context"
	"fmt"

	"github.com/giantswarm/mcp-client/internal/mcp"
)

// listAll follows nextCursor until the server stops returning one.
func listAll[R any, T any](ctx context.Context, s *Session, c Capability, method string, items func(*R) ([]T, string)) ([]T, error) {
	var (
		all    []T
		cursor string
	)
	for {
		var page R
		if err := s.call(ctx, c, method, mcp.PaginatedParams{Cursor: cursor}, &page); err != nil {
			return nil, err
		}
		got, next := items(&page)
		all = append(all, got...)
		if next == "" {
			return all, nil
		}
		if next == cursor {
			return nil, fmt.Errorf("%s: server repeated cursor %q", method, next)
		}
		cursor = next
	}
}

// ListTools returns every tool, across all pages.
func (s *Session) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return listAll(ctx, s, CapabilityTools, mcp.MethodToolsList, func(r *mcp.ListToolsResult) ([]mcp.Tool, string) {
		return r.Tools, r.NextCursor
	})
}

// ListResources returns every resource, across all pages.
func (s *Session) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	return listAll(ctx, s, CapabilityResources, mcp.MethodResourcesList, func(r *mcp.ListResourcesResult) ([]mcp.Resource, string) {
		return r.Resources, r.NextCursor
	})
}

// ListResourceTemplates returns every resource template, across all pages.
func (s *Session) ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error) {
	return listAll(ctx, s, CapabilityResources, mcp.MethodResourcesTemplatesList, func(r *mcp.ListResourceTemplatesResult) ([]mcp.ResourceTemplate, string) {
		return r.ResourceTemplates, r.NextCursor
	})
}

// ListPrompts returns every prompt, across all pages.
func (s *Session) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	return listAll(ctx, s, CapabilityPrompts, mcp.MethodPromptsList, func(r *mcp.ListPromptsResult) ([]mcp.Prompt, string) {
		return r.Prompts, r.NextCursor
	})
}

// CallTool invokes a tool. With task set the server may answer with a task
// handle in CallToolResult.Task instead of content.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]interface{}, task *mcp.TaskParams) (*mcp.CallToolResult, error) {
	params := mcp.CallToolParams{Name: name, Arguments: args, Task: task}
	var result mcp.CallToolResult
	if err := s.call(ctx, CapabilityTools, mcp.MethodToolsCall, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReadResource reads one resource.
func (s *Session) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	var result mcp.ReadResourceResult
	if err := s.call(ctx, CapabilityResources, mcp.MethodResourcesRead, mcp.ReadResourceParams{URI: uri}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Subscribe asks for notifications/resources/updated on uri.
func (s *Session) Subscribe(ctx context.Context, uri string) error {
	if err := s.requireSubscribe(mcp.MethodResourcesSubscribe); err != nil {
		return err
	}
	return s.client.Request(ctx, mcp.MethodResourcesSubscribe, mcp.SubscribeParams{URI: uri}, nil, s.timeout)
}

// Unsubscribe cancels a Subscribe.
func (s *Session) Unsubscribe(ctx context.Context, uri string) error {
	if err := s.requireSubscribe(mcp.MethodResourcesUnsubscribe); err != nil {
		return err
	}
	return s.client.Request(ctx, mcp.MethodResourcesUnsubscribe, mcp.SubscribeParams{URI: uri}, nil, s.timeout)
}

func (s *Session) requireSubscribe(method string) error {
	if err := s.require(CapabilityResources, method); err != nil {
		return err
	}
	if !s.result.Capabilities.Resources.Subscribe {
		return &CapabilityError{Capability: CapabilityResources + ".subscribe", Method: method}
	}
	return nil
}

// GetPrompt renders a prompt.
func (s *Session) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	var result mcp.GetPromptResult
	if err := s.call(ctx, CapabilityPrompts, mcp.MethodPromptsGet, mcp.GetPromptParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Complete requests argument completions.
func (s *Session) Complete(ctx context.Context, params mcp.CompleteParams) (*mcp.CompleteResult, error) {
	var result mcp.CompleteResult
	if err := s.call(ctx, CapabilityCompletions, mcp.MethodCompletionComplete, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetLoggingLevel sets the minimum level of notifications/message.
func (s *Session) SetLoggingLevel(ctx context.Context, level mcp.LoggingLevel) error {
	if !level.Valid() {
		return fmt.Errorf("invalid logging level %q", level)
	}
	return s.call(ctx, CapabilityLogging, mcp.MethodLoggingSetLevel, mcp.SetLevelParams{Level: level}, nil)
}

// GetTask polls a task. A failed task is a normal result with
// Status == mcp.TaskFailed.
func (s *Session) GetTask(ctx context.Context, taskID string) (*mcp.Task, error) {
	var task mcp.Task
	if err := s.call(ctx, CapabilityTasks, mcp.MethodTasksGet, mcp.TaskIDParams{TaskID: taskID}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTaskResult fetches the tool result of a finished task.
func (s *Session) GetTaskResult(ctx context.Context, taskID string) (*mcp.CallToolResult, error) {
	var result mcp.CallToolResult
	if err := s.call(ctx, CapabilityTasks, mcp.MethodTasksResult, mcp.TaskIDParams{TaskID: taskID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelTask requests cancellation and returns the task's new state.
func (s *Session) CancelTask(ctx context.Context, taskID string) (*mcp.Task, error) {
	var task mcp.Task
	if err := s.call(ctx, CapabilityTasks, mcp.MethodTasksCancel, mcp.TaskIDParams{TaskID: taskID}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks returns one page of tasks.
func (s *Session) ListTasks(ctx context.Context, cursor string) (*mcp.ListTasksResult, error) {
	var result mcp.ListTasksResult
	if err := s.call(ctx, CapabilityTasks, mcp.MethodTasksList, mcp.PaginatedParams{Cursor: cursor}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
