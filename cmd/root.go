package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-client/internal/agent"
	"github.com/giantswarm/mcp-client/internal/logging"
)

var (
	version string

	// Server selection, shared by every subcommand.
	configPath     string
	serverName     string
	endpoint       string
	command        string
	commandArgs    []string
	headers        []string
	requestTimeout time.Duration

	// Output.
	verbose bool
	noColor bool
	jsonRPC bool

	// Root command modes.
	timeout         time.Duration
	repl            bool
	mcpServer       bool
	serverTransport string
	listenAddr      string

	oauth oauthFlags
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mcp-client",
	Short: "Model Context Protocol client",
	Long: `mcp-client connects to MCP (Model Context Protocol) servers and lets you
discover and invoke their tools, resources and prompts.

Servers are reached over stdio (a local subprocess) or Streamable HTTP, with
OAuth 2.1 authorization for protected HTTP servers. Pick a server from the
config file with --server, or describe one inline with --endpoint or --command.

The tool supports multiple modes:
- Normal mode (default): Connect and log server notifications
- REPL mode (--repl): Interactive exploration and execution
- MCP Server mode (--mcp-server): Re-expose the connected server as MCP tools

Every JSON-RPC message can be traced with --json-rpc.`,
	Example: `  mcp-client --command my-server --arg --stdio --repl
  mcp-client --endpoint https://mcp.example.com/mcp --oauth
  mcp-client --server remote call search --args '{"query": "pods"}'`,
	SilenceUsage: true,
	RunE:         runMCPClient,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// SetVersion sets the version for the application
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Server config file (default $XDG_CONFIG_HOME/mcp-client/servers.toml, or $MCP_CLIENT_CONFIG)")
	pf.StringVarP(&serverName, "server", "s", "", "Name of a server from the config file")
	pf.StringVar(&endpoint, "endpoint", "", "Streamable HTTP endpoint URL of the MCP server")
	pf.StringVar(&command, "command", "", "Executable of a stdio MCP server")
	pf.StringArrayVar(&commandArgs, "arg", nil, "Argument passed to --command (repeatable)")
	pf.StringArrayVar(&headers, "header", nil, "Extra HTTP header as 'Name: value' (repeatable)")
	pf.DurationVar(&requestTimeout, "request-timeout", 0, "Per-request timeout (default 30s)")
	pf.BoolVar(&verbose, "verbose", false, "Enable verbose logging (show keepalive messages)")
	pf.BoolVar(&noColor, "no-color", false, "Disable colored output")
	pf.BoolVar(&jsonRPC, "json-rpc", false, "Enable full JSON-RPC message logging")
	oauth.register(pf)

	rootCmd.MarkFlagsMutuallyExclusive("server", "endpoint", "command")

	rootCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Timeout for waiting for notifications")
	rootCmd.Flags().BoolVar(&repl, "repl", false, "Start interactive REPL mode")
	rootCmd.Flags().BoolVar(&mcpServer, "mcp-server", false, "Run as MCP server exposing the connected server's features")
	rootCmd.Flags().StringVar(&serverTransport, "server-transport", agent.ServerTransportStdio, "Transport protocol for the MCP server itself (stdio, streamable-http)")
	rootCmd.Flags().StringVar(&listenAddr, "listen-addr", ":8899", "Listen address for streamable-http server (path is fixed to /mcp)")

	// Add subcommands
	rootCmd.AddCommand(newCallCmd())
	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())

	// Mark flags as mutually exclusive
	rootCmd.MarkFlagsMutuallyExclusive("repl", "mcp-server")
}

// newLogger builds the logger for this invocation. The stdio bridge owns
// stdout, so logs go to stderr there.
func newLogger() *logging.Logger {
	var w io.Writer = os.Stdout
	if mcpServer && serverTransport == agent.ServerTransportStdio {
		w = os.Stderr
	}
	return logging.NewLoggerWithWriter(verbose, !noColor, jsonRPC, w)
}

// setupSignalHandler sets up graceful shutdown on interrupt signals
func setupSignalHandler(cancel context.CancelFunc, logger *logging.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received interrupt signal, shutting down gracefully...")
		cancel()
	}()
}

// runMCPServer runs the agent in MCP server mode
func runMCPServer(ctx context.Context, client *agent.Client, logger *logging.Logger) error {
	server, err := agent.NewMCPServer(client, serverTransport, logger, version)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	logger.Info("Starting mcp-client MCP server (transport: %s)...", serverTransport)
	if serverTransport == agent.ServerTransportStreamableHTTP {
		addr := listenAddr
		if !strings.Contains(addr, ":") {
			addr = ":" + addr
		}
		listenAddr = addr
		logger.Info("Listening on %s%s", addr, "/mcp")
	}

	if err := server.Start(ctx, listenAddr); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

// runNormalMode runs the agent in normal (listen) mode
func runNormalMode(ctx context.Context, client *agent.Client, logger *logging.Logger) error {
	timeoutCtx, timeoutCancel := context.WithTimeout(ctx, timeout)
	defer timeoutCancel()

	err := client.Listen(timeoutCtx)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		logger.Info("Timeout reached after %v", timeout)
		return nil
	case errors.Is(err, context.Canceled), err == nil:
		return nil
	default:
		return fmt.Errorf("agent error: %w", err)
	}
}

func runMCPClient(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	logger := newLogger()
	setupSignalHandler(cancel, logger)

	client, err := connect(ctx, cmd, logger)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if mcpServer {
		return runMCPServer(ctx, client, logger)
	}

	if repl {
		replHandler := agent.NewREPL(client, logger)
		if err := replHandler.Run(ctx); err != nil {
			return fmt.Errorf("REPL error: %w", err)
		}
		return nil
	}

	return runNormalMode(ctx, client, logger)
}
