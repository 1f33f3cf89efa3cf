// Package agent is the host application around the MCP client stack.
//
// It connects to one configured server over stdio or Streamable HTTP,
// keeps its tool, resource, template and prompt catalogs cached, and
// reacts to list-changed and logging notifications by re-listing and
// printing what changed.
//
// # Key Components
//
//   - Client: session lifecycle, catalog caches, notification handling and
//     reconnect-on-transport-loss for every operation
//   - REPL: interactive exploration with tab completion and history
//   - MCPServer: re-exposes the connected server's catalogs and operations
//     as tools of a local MCP server, for use from AI assistants
//
// Authorization is not handled here; HTTP servers receive an
// auth.SessionAuthorizer from the caller through ClientConfig.
package agent
