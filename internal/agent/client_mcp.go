package agent

import (
	"context"
	"fmt"

	"github.com/giantswarm/mcp-client/internal/mcp"
	"github.com/giantswarm/mcp-client/internal/protocol"
)

// withReconnect runs fn against the live session. A transport-class failure
// triggers one reconnect and retry.
func withReconnect[T any](ctx context.Context, c *Client, operation string, fn func(*protocol.Session) (T, error)) (T, error) {
	const maxRetries = 1
	var result T
	var err error

	for i := 0; i <= maxRetries; i++ {
		var s *protocol.Session
		if s, err = c.currentSession(); err == nil {
			result, err = fn(s)
		}
		if err == nil {
			return result, nil
		}

		if shouldReconnect(err) && i < maxRetries {
			c.logger.Error("Connection lost during %s. Attempting to reconnect...", operation)
			if reconnErr := c.Reconnect(ctx); reconnErr != nil {
				err = fmt.Errorf("failed to reconnect: %w", reconnErr)
				break
			}
			c.logger.Info("Reconnected successfully. Retrying %s...", operation)
			continue
		}
		break
	}

	c.logger.Error("%s failed: %v", operation, err)
	var zero T
	return zero, err
}

// CallTool executes a tool with the given arguments, with reconnection logic.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return withReconnect(ctx, c, "tool call", func(s *protocol.Session) (*mcp.CallToolResult, error) {
		return s.CallTool(ctx, name, args, nil)
	})
}

// CallToolAsTask starts a task-augmented tool call and returns the created
// task. A ttl of zero leaves the retention to the server.
func (c *Client) CallToolAsTask(ctx context.Context, name string, args map[string]interface{}, ttlMillis int64) (*mcp.Task, error) {
	task := &mcp.TaskParams{}
	if ttlMillis > 0 {
		task.TTL = &ttlMillis
	}
	result, err := withReconnect(ctx, c, "task tool call", func(s *protocol.Session) (*mcp.CallToolResult, error) {
		return s.CallTool(ctx, name, args, task)
	})
	if err != nil {
		return nil, err
	}
	if result.Task == nil {
		return nil, fmt.Errorf("server ran %s synchronously instead of creating a task", name)
	}
	return result.Task, nil
}

// GetResource retrieves a resource by URI, with reconnection logic.
func (c *Client) GetResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return withReconnect(ctx, c, "resource fetch", func(s *protocol.Session) (*mcp.ReadResourceResult, error) {
		return s.ReadResource(ctx, uri)
	})
}

// GetPrompt retrieves a prompt with arguments, with reconnection logic.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	return withReconnect(ctx, c, "prompt fetch", func(s *protocol.Session) (*mcp.GetPromptResult, error) {
		return s.GetPrompt(ctx, name, args)
	})
}

// Subscribe asks the server for resources/updated notifications on uri.
func (c *Client) Subscribe(ctx context.Context, uri string) error {
	_, err := withReconnect(ctx, c, "subscribe", func(s *protocol.Session) (struct{}, error) {
		return struct{}{}, s.Subscribe(ctx, uri)
	})
	return err
}

// Unsubscribe cancels a Subscribe.
func (c *Client) Unsubscribe(ctx context.Context, uri string) error {
	_, err := withReconnect(ctx, c, "unsubscribe", func(s *protocol.Session) (struct{}, error) {
		return struct{}{}, s.Unsubscribe(ctx, uri)
	})
	return err
}

// CompletePromptArgument asks the server for candidate values of a prompt
// argument.
func (c *Client) CompletePromptArgument(ctx context.Context, prompt, argument, value string) (*mcp.CompleteResult, error) {
	params := mcp.CompleteParams{
		Ref:      mcp.CompletionReference{Type: mcp.RefPrompt, Name: prompt},
		Argument: mcp.CompletionArgument{Name: argument, Value: value},
	}
	return withReconnect(ctx, c, "completion", func(s *protocol.Session) (*mcp.CompleteResult, error) {
		return s.Complete(ctx, params)
	})
}

// SetLogLevel sets the minimum level of notifications/message entries.
func (c *Client) SetLogLevel(ctx context.Context, level mcp.LoggingLevel) error {
	if !level.Valid() {
		return fmt.Errorf("unknown logging level %q", level)
	}
	_, err := withReconnect(ctx, c, "set log level", func(s *protocol.Session) (struct{}, error) {
		return struct{}{}, s.SetLoggingLevel(ctx, level)
	})
	return err
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := withReconnect(ctx, c, "ping", func(s *protocol.Session) (struct{}, error) {
		return struct{}{}, s.Ping(ctx)
	})
	return err
}

// GetTask returns the current state of a task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*mcp.Task, error) {
	return withReconnect(ctx, c, "task status", func(s *protocol.Session) (*mcp.Task, error) {
		return s.GetTask(ctx, taskID)
	})
}

// GetTaskResult waits for a task to finish and returns its tool result.
func (c *Client) GetTaskResult(ctx context.Context, taskID string) (*mcp.CallToolResult, error) {
	return withReconnect(ctx, c, "task result", func(s *protocol.Session) (*mcp.CallToolResult, error) {
		return s.GetTaskResult(ctx, taskID)
	})
}

// CancelTask asks the server to stop a task.
func (c *Client) CancelTask(ctx context.Context, taskID string) (*mcp.Task, error) {
	return withReconnect(ctx, c, "task cancel", func(s *protocol.Session) (*mcp.Task, error) {
		return s.CancelTask(ctx, taskID)
	})
}

// ListTasks returns every task the server reports, following cursors.
func (c *Client) ListTasks(ctx context.Context) ([]mcp.Task, error) {
	return withReconnect(ctx, c, "task listing", func(s *protocol.Session) ([]mcp.Task, error) {
		var tasks []mcp.Task
		cursor := ""
		for {
			page, err := s.ListTasks(ctx, cursor)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, page.Tasks...)
			if page.NextCursor == "" || page.NextCursor == cursor {
				return tasks, nil
			}
			cursor = page.NextCursor
		}
	})
}
