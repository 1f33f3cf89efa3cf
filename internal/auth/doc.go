// Package auth implements OAuth 2.1 authorization for MCP servers reached
// over HTTP.
//
// The package covers the client side of MCP authorization as of protocol
// revision 2025-11-25:
//   - RFC 9728: Protected Resource Metadata discovery
//   - RFC 8414 and OIDC Discovery 1.0: authorization server metadata probing
//   - RFC 7636: PKCE with S256, enforced against code_challenge_methods_supported
//   - RFC 8707: resource indicators on authorization and token requests
//   - RFC 7591: dynamic client registration
//   - Client ID Metadata Documents
//   - step-up authorization on 403 insufficient_scope
//
// # Key Components
//
//   - Discoverer: fetches metadata documents
//   - Flow: runs the authorization code flow with a loopback callback
//   - TokenStore: persists tokens (KeyringStore, MemoryStore)
//   - Manager: per-server token lifecycle (cache, refresh, full flow)
//   - SessionAuthorizer: binds a Manager to one HTTP transport
package auth
