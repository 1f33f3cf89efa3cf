package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/giantswarm/mcp-client/internal/logging"
	"github.com/giantswarm/mcp-client/internal/mcp"
	"github.com/giantswarm/mcp-client/internal/protocol"
)

// errExit is a sentinel error used to signal REPL exit
var errExit = errors.New("exit")

// REPL represents the Read-Eval-Print Loop for MCP interaction
type REPL struct {
	client          *Client
	logger          *logging.Logger
	out             io.Writer
	rl              *readline.Instance
	stopChan        chan struct{}
	wg              sync.WaitGroup
	commandHandlers map[string]commandHandler
}

// NewREPL creates a new REPL instance
func NewREPL(client *Client, logger *logging.Logger) *REPL {
	r := &REPL{
		client:   client,
		logger:   logger,
		out:      os.Stdout,
		stopChan: make(chan struct{}),
	}
	r.commandHandlers = r.buildCommandHandlers()
	return r
}

func (r *REPL) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func (r *REPL) println(args ...interface{}) {
	_, _ = fmt.Fprintln(r.out, args...)
}

// Run starts the REPL
func (r *REPL) Run(ctx context.Context) error {
	historyFile := filepath.Join(os.TempDir(), ".mcp_client_history")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "MCP> ",
		HistoryFile:     historyFile,
		AutoComplete:    r.createCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer func() { _ = rl.Close() }()
	r.rl = rl
	r.out = rl.Stdout()

	// Start notification listener in background
	r.wg.Add(1)
	go r.notificationListener(ctx)

	r.logger.Info("MCP REPL started. Type 'help' for available commands. Use TAB for completion.")
	r.println()

	stop := func() {
		close(r.stopChan)
		r.wg.Wait()
	}

	for {
		select {
		case <-ctx.Done():
			stop()
			r.logger.Info("REPL shutting down...")
			return nil
		default:
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				continue
			}
		} else if err == io.EOF {
			stop()
			r.logger.Info("Goodbye!")
			return nil
		} else if err != nil {
			stop()
			return fmt.Errorf("readline error: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if err := r.executeCommand(ctx, input); err != nil {
			if errors.Is(err, errExit) {
				stop()
				r.logger.Info("Goodbye!")
				return nil
			}
			r.logger.Error("Error: %v", err)
		}

		r.println()
	}
}

// completerCache holds cached completion items for different capabilities
type completerCache struct {
	tools     []string
	resources []string
	prompts   []string
}

// getCompletionNames retrieves names for tab completion from the client cache
func (r *REPL) getCompletionNames() completerCache {
	var cache completerCache
	for _, t := range r.client.Tools() {
		cache.tools = append(cache.tools, t.Name)
	}
	for _, res := range r.client.Resources() {
		cache.resources = append(cache.resources, res.URI)
	}
	for _, p := range r.client.Prompts() {
		cache.prompts = append(cache.prompts, p.Name)
	}
	return cache
}

// buildPcItems converts a slice of strings to readline completer items
func buildPcItems(names []string) []readline.PrefixCompleterInterface {
	items := make([]readline.PrefixCompleterInterface, len(names))
	for i, name := range names {
		items[i] = readline.PcItem(name)
	}
	return items
}

// buildListItems creates list command completion items based on server capabilities
func (r *REPL) buildListItems() []readline.PrefixCompleterInterface {
	var items []readline.PrefixCompleterInterface
	if r.client.ServerSupportsTools() {
		items = append(items, readline.PcItem("tools"))
	}
	if r.client.ServerSupportsResources() {
		items = append(items, readline.PcItem("resources"), readline.PcItem("templates"))
	}
	if r.client.ServerSupportsPrompts() {
		items = append(items, readline.PcItem("prompts"))
	}
	if r.client.ServerSupports(protocol.CapabilityTasks) {
		items = append(items, readline.PcItem("tasks"))
	}
	return items
}

// buildDescribeItems creates describe command completion items
func (r *REPL) buildDescribeItems(toolCompleter, resourceCompleter, promptCompleter []readline.PrefixCompleterInterface) []readline.PrefixCompleterInterface {
	var items []readline.PrefixCompleterInterface
	if r.client.ServerSupportsTools() {
		items = append(items, readline.PcItem("tool", toolCompleter...))
	}
	if r.client.ServerSupportsResources() {
		items = append(items, readline.PcItem("resource", resourceCompleter...))
	}
	if r.client.ServerSupportsPrompts() {
		items = append(items, readline.PcItem("prompt", promptCompleter...))
	}
	return items
}

func levelItems() []readline.PrefixCompleterInterface {
	levels := []mcp.LoggingLevel{
		mcp.LevelDebug, mcp.LevelInfo, mcp.LevelNotice, mcp.LevelWarning,
		mcp.LevelError, mcp.LevelCritical, mcp.LevelAlert, mcp.LevelEmergency,
	}
	items := make([]readline.PrefixCompleterInterface, len(levels))
	for i, l := range levels {
		items[i] = readline.PcItem(string(l))
	}
	return items
}

// buildBaseCompleterItems creates the base command completion items
func buildBaseCompleterItems() []readline.PrefixCompleterInterface {
	return []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("?"),
		readline.PcItem("exit"),
		readline.PcItem("quit"),
		readline.PcItem("info"),
		readline.PcItem("ping"),
		readline.PcItem("notifications",
			readline.PcItem("on"),
			readline.PcItem("off"),
		),
	}
}

// createCompleter creates the tab completion configuration
func (r *REPL) createCompleter() *readline.PrefixCompleter {
	cache := r.getCompletionNames()

	toolCompleter := buildPcItems(cache.tools)
	resourceCompleter := buildPcItems(cache.resources)
	promptCompleter := buildPcItems(cache.prompts)

	listItems := r.buildListItems()
	describeItems := r.buildDescribeItems(toolCompleter, resourceCompleter, promptCompleter)

	items := buildBaseCompleterItems()

	if len(listItems) > 0 {
		items = append(items, readline.PcItem("list", listItems...))
	}
	if len(describeItems) > 0 {
		items = append(items, readline.PcItem("describe", describeItems...))
	}
	if r.client.ServerSupportsTools() {
		items = append(items, readline.PcItem("call", toolCompleter...))
	}
	if r.client.ServerSupportsResources() {
		items = append(items,
			readline.PcItem("get", resourceCompleter...),
			readline.PcItem("subscribe", resourceCompleter...),
			readline.PcItem("unsubscribe", resourceCompleter...),
		)
	}
	if r.client.ServerSupportsPrompts() {
		items = append(items, readline.PcItem("prompt", promptCompleter...))
	}
	if r.client.ServerSupports(protocol.CapabilityCompletions) {
		items = append(items, readline.PcItem("complete", promptCompleter...))
	}
	if r.client.ServerSupports(protocol.CapabilityLogging) {
		items = append(items, readline.PcItem("loglevel", levelItems()...))
	}
	if r.client.ServerSupports(protocol.CapabilityTasks) {
		items = append(items,
			readline.PcItem("call-task", toolCompleter...),
			readline.PcItem("task",
				readline.PcItem("get"),
				readline.PcItem("result"),
				readline.PcItem("cancel"),
			),
		)
	}

	return readline.NewPrefixCompleter(items...)
}

// filterInput filters input characters for readline
func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

// notificationListener handles notifications in the background
func (r *REPL) notificationListener(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case n := <-r.client.notificationChan:
			// Temporarily pause readline
			if r.rl != nil {
				_, _ = r.rl.Stdout().Write([]byte("\r\033[K"))
			}

			if err := r.client.handleNotification(ctx, n); err != nil {
				r.logger.Error("Failed to handle notification: %v", err)
			}

			// Update completer if items changed
			switch n.Method {
			case mcp.NotificationToolsListChanged,
				mcp.NotificationResourcesListChanged,
				mcp.NotificationPromptsListChanged:
				if r.rl != nil {
					r.rl.Config.AutoComplete = r.createCompleter()
				}
			}

			if r.rl != nil {
				r.rl.Refresh()
			}
		}
	}
}

// commandHandler defines a REPL command with its handler and argument requirements
type commandHandler struct {
	minArgs int
	usage   string
	handler func(ctx context.Context, parts []string) error
}

// buildCommandHandlers creates the map of command handlers
func (r *REPL) buildCommandHandlers() map[string]commandHandler {
	help := commandHandler{minArgs: 1, handler: func(ctx context.Context, parts []string) error {
		return r.showHelp()
	}}
	exit := commandHandler{minArgs: 1, handler: func(ctx context.Context, parts []string) error {
		return errExit
	}}

	return map[string]commandHandler{
		"help": help,
		"?":    help,
		"exit": exit,
		"quit": exit,
		"info": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.showInfo()
		}},
		"ping": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handlePing(ctx)
		}},
		"list": {
			minArgs: 2,
			usage:   "usage: list <tools|resources|templates|prompts|tasks>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleList(ctx, parts[1])
			},
		},
		"describe": {
			minArgs: 3,
			usage:   "usage: describe <tool|resource|prompt> <name>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleDescribe(parts[1], strings.Join(parts[2:], " "))
			},
		},
		"notifications": {
			minArgs: 2,
			usage:   "usage: notifications <on|off>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleNotifications(parts[1])
			},
		},
		"call": {
			minArgs: 2,
			usage:   "usage: call <tool-name> [args...]",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleCallTool(ctx, parts[1], strings.Join(parts[2:], " "))
			},
		},
		"call-task": {
			minArgs: 2,
			usage:   "usage: call-task <tool-name> [args...]",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleCallToolAsTask(ctx, parts[1], strings.Join(parts[2:], " "))
			},
		},
		"task": {
			minArgs: 3,
			usage:   "usage: task <get|result|cancel> <task-id>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleTask(ctx, parts[1], parts[2])
			},
		},
		"get": {
			minArgs: 2,
			usage:   "usage: get <resource-uri>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleGetResource(ctx, parts[1])
			},
		},
		"subscribe": {
			minArgs: 2,
			usage:   "usage: subscribe <resource-uri>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleSubscribe(ctx, parts[1], true)
			},
		},
		"unsubscribe": {
			minArgs: 2,
			usage:   "usage: unsubscribe <resource-uri>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleSubscribe(ctx, parts[1], false)
			},
		},
		"prompt": {
			minArgs: 2,
			usage:   "usage: prompt <prompt-name> [args...]",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleGetPrompt(ctx, parts[1], strings.Join(parts[2:], " "))
			},
		},
		"complete": {
			minArgs: 3,
			usage:   "usage: complete <prompt-name> <argument> [prefix]",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleComplete(ctx, parts[1], parts[2], strings.Join(parts[3:], " "))
			},
		},
		"loglevel": {
			minArgs: 2,
			usage:   "usage: loglevel <debug|info|notice|warning|error|critical|alert|emergency>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleLogLevel(ctx, parts[1])
			},
		},
	}
}

// executeCommand parses and executes a command
func (r *REPL) executeCommand(ctx context.Context, input string) error {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	command := strings.ToLower(parts[0])

	handler, exists := r.commandHandlers[command]
	if !exists {
		return fmt.Errorf("unknown command: %s. Type 'help' for available commands", command)
	}

	if len(parts) < handler.minArgs {
		return errors.New(handler.usage)
	}

	return handler.handler(ctx, parts)
}

// showHelp displays available commands
func (r *REPL) showHelp() error {
	r.println("Available commands:")
	r.println("  help, ?                      - Show this help message")
	r.println("  info                         - Show server information and capabilities")
	r.println("  ping                         - Check that the server responds")
	r.println("  list tools                   - List all available tools")
	r.println("  list resources               - List all available resources")
	r.println("  list templates               - List all resource templates")
	r.println("  list prompts                 - List all available prompts")
	r.println("  list tasks                   - List tasks known to the server")
	r.println("  describe tool <name>         - Show detailed information about a tool")
	r.println("  describe resource <uri>      - Show detailed information about a resource")
	r.println("  describe prompt <name>       - Show detailed information about a prompt")
	r.println("  call <tool> {json}           - Execute a tool with JSON arguments")
	r.println("  call-task <tool> {json}      - Start a tool as a background task")
	r.println("  task <get|result|cancel> <id> - Inspect, await or cancel a task")
	r.println("  get <resource-uri>           - Retrieve a resource")
	r.println("  subscribe <resource-uri>     - Watch a resource for updates")
	r.println("  unsubscribe <resource-uri>   - Stop watching a resource")
	r.println("  prompt <name> {json}         - Get a prompt with JSON arguments")
	r.println("  complete <prompt> <arg> [prefix] - Ask the server for argument values")
	r.println("  loglevel <level>             - Set the server's logging level")
	r.println("  notifications <on|off>       - Enable/disable notification display")
	r.println("  exit, quit                   - Exit the REPL")
	r.println()
	r.println("Keyboard shortcuts:")
	r.println("  TAB                          - Auto-complete commands and arguments")
	r.println("  ↑/↓ (arrow keys)             - Navigate command history")
	r.println("  Ctrl+R                       - Search command history")
	r.println("  Ctrl+C                       - Cancel current line")
	r.println("  Ctrl+D                       - Exit REPL")
	r.println()
	r.println("Examples:")
	r.println("  call calculate {\"operation\": \"add\", \"x\": 5, \"y\": 3}")
	r.println("  get docs://readme")
	r.println("  prompt greeting {\"name\": \"Alice\"}")
	return nil
}

// showInfo prints the initialize result of the session.
func (r *REPL) showInfo() error {
	result, ok := r.client.ServerInfo()
	if !ok {
		return ErrNotConnected
	}

	r.printf("Server: %s %s\n", result.ServerInfo.Name, result.ServerInfo.Version)
	if result.ServerInfo.Title != "" {
		r.printf("Title: %s\n", result.ServerInfo.Title)
	}
	r.printf("Protocol version: %s\n", result.ProtocolVersion)

	var caps []string
	for _, c := range []protocol.Capability{
		protocol.CapabilityTools, protocol.CapabilityResources, protocol.CapabilityPrompts,
		protocol.CapabilityLogging, protocol.CapabilityCompletions, protocol.CapabilityTasks,
		protocol.CapabilityExperimental,
	} {
		if r.client.ServerSupports(c) {
			caps = append(caps, string(c))
		}
	}
	if len(caps) == 0 {
		caps = []string{"none"}
	}
	r.printf("Capabilities: %s\n", strings.Join(caps, ", "))

	if result.Instructions != "" {
		r.println("Instructions:")
		r.println(result.Instructions)
	}
	return nil
}

func (r *REPL) handlePing(ctx context.Context) error {
	if err := r.client.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	r.println("pong")
	return nil
}

// handleList handles list commands
func (r *REPL) handleList(ctx context.Context, target string) error {
	switch strings.ToLower(target) {
	case "tools", "tool":
		if !r.client.ServerSupportsTools() {
			r.println("Server does not support tools capability.")
			return nil
		}
		return r.listTools()
	case "resources", "resource":
		if !r.client.ServerSupportsResources() {
			r.println("Server does not support resources capability.")
			return nil
		}
		return r.listResources()
	case "templates", "template":
		if !r.client.ServerSupportsResources() {
			r.println("Server does not support resources capability.")
			return nil
		}
		return r.listTemplates()
	case "prompts", "prompt":
		if !r.client.ServerSupportsPrompts() {
			r.println("Server does not support prompts capability.")
			return nil
		}
		return r.listPrompts()
	case "tasks", "task":
		if !r.client.ServerSupports(protocol.CapabilityTasks) {
			r.println("Server does not support tasks capability.")
			return nil
		}
		return r.listTasks(ctx)
	default:
		return fmt.Errorf("unknown list target: %s. Use 'tools', 'resources', 'templates', 'prompts', or 'tasks'", target)
	}
}

// listTools displays available tools
func (r *REPL) listTools() error {
	tools := r.client.Tools()
	if len(tools) == 0 {
		r.println("No tools available.")
		return nil
	}

	r.printf("Available tools (%d):\n", len(tools))
	for i, tool := range tools {
		r.printf("  %d. %-30s - %s\n", i+1, tool.Name, tool.Description)
	}
	return nil
}

// listResources displays available resources
func (r *REPL) listResources() error {
	resources := r.client.Resources()
	if len(resources) == 0 {
		r.println("No resources available.")
		return nil
	}

	r.printf("Available resources (%d):\n", len(resources))
	for i, resource := range resources {
		desc := resource.Description
		if desc == "" {
			desc = resource.Name
		}
		r.printf("  %d. %-40s - %s\n", i+1, resource.URI, desc)
	}
	return nil
}

func (r *REPL) listTemplates() error {
	templates := r.client.Templates()
	if len(templates) == 0 {
		r.println("No resource templates available.")
		return nil
	}

	r.printf("Available resource templates (%d):\n", len(templates))
	for i, t := range templates {
		desc := t.Description
		if desc == "" {
			desc = t.Name
		}
		r.printf("  %d. %-40s - %s\n", i+1, t.URITemplate, desc)
	}
	return nil
}

// listPrompts displays available prompts
func (r *REPL) listPrompts() error {
	prompts := r.client.Prompts()
	if len(prompts) == 0 {
		r.println("No prompts available.")
		return nil
	}

	r.printf("Available prompts (%d):\n", len(prompts))
	for i, prompt := range prompts {
		r.printf("  %d. %-30s - %s\n", i+1, prompt.Name, prompt.Description)
	}
	return nil
}

func (r *REPL) listTasks(ctx context.Context) error {
	tasks, err := r.client.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("task listing failed: %w", err)
	}
	if len(tasks) == 0 {
		r.println("No tasks.")
		return nil
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt < tasks[j].CreatedAt })
	r.printf("Tasks (%d):\n", len(tasks))
	for i, t := range tasks {
		r.printf("  %d. %-38s - %s\n", i+1, t.TaskID, describeTask(t))
	}
	return nil
}

// handleDescribe handles describe commands
func (r *REPL) handleDescribe(targetType, name string) error {
	switch strings.ToLower(targetType) {
	case "tool":
		if !r.client.ServerSupportsTools() {
			return fmt.Errorf("server does not support tools capability")
		}
		return r.describeTool(name)
	case "resource":
		if !r.client.ServerSupportsResources() {
			return fmt.Errorf("server does not support resources capability")
		}
		return r.describeResource(name)
	case "prompt":
		if !r.client.ServerSupportsPrompts() {
			return fmt.Errorf("server does not support prompts capability")
		}
		return r.describePrompt(name)
	default:
		return fmt.Errorf("unknown describe target: %s. Use 'tool', 'resource', or 'prompt'", targetType)
	}
}

// describeTool shows detailed information about a tool
func (r *REPL) describeTool(name string) error {
	tool, ok := r.client.FindTool(name)
	if !ok {
		return fmt.Errorf("tool not found: %s", name)
	}

	r.printf("Tool: %s\n", tool.Name)
	if tool.Title != "" {
		r.printf("Title: %s\n", tool.Title)
	}
	r.printf("Description: %s\n", tool.Description)
	if tool.Execution != nil && tool.Execution.TaskSupport != "" {
		r.printf("Task support: %s\n", tool.Execution.TaskSupport)
	}
	r.println("Input Schema:")
	r.println(logging.PrettyJSON(tool.InputSchema))
	if len(tool.OutputSchema) > 0 {
		r.println("Output Schema:")
		r.println(logging.PrettyJSON(tool.OutputSchema))
	}
	return nil
}

// describeResource shows detailed information about a resource
func (r *REPL) describeResource(uri string) error {
	resource, ok := r.client.FindResource(uri)
	if !ok {
		return fmt.Errorf("resource not found: %s", uri)
	}

	r.printf("Resource: %s\n", resource.URI)
	r.printf("Name: %s\n", resource.Name)
	if resource.Description != "" {
		r.printf("Description: %s\n", resource.Description)
	}
	if resource.MIMEType != "" {
		r.printf("MIME Type: %s\n", resource.MIMEType)
	}
	if resource.Size != nil {
		r.printf("Size: %d bytes\n", *resource.Size)
	}
	return nil
}

// describePrompt shows detailed information about a prompt
func (r *REPL) describePrompt(name string) error {
	prompt, ok := r.client.FindPrompt(name)
	if !ok {
		return fmt.Errorf("prompt not found: %s", name)
	}

	r.printf("Prompt: %s\n", prompt.Name)
	r.printf("Description: %s\n", prompt.Description)
	if len(prompt.Arguments) > 0 {
		r.println("Arguments:")
		for _, arg := range prompt.Arguments {
			required := ""
			if arg.Required {
				required = " (required)"
			}
			r.printf("  - %s%s: %s\n", arg.Name, required, arg.Description)
		}
	}
	return nil
}

// handleNotifications enables or disables notification display
func (r *REPL) handleNotifications(setting string) error {
	switch strings.ToLower(setting) {
	case "on":
		r.logger.SetVerbose(true)
		r.println("Notifications enabled")
	case "off":
		r.logger.SetVerbose(false)
		r.println("Notifications disabled")
	default:
		return fmt.Errorf("invalid setting: %s. Use 'on' or 'off'", setting)
	}
	return nil
}
