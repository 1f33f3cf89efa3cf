package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-client/internal/auth"
	"github.com/giantswarm/mcp-client/internal/config"
	"github.com/giantswarm/mcp-client/internal/logging"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage OAuth tokens of HTTP servers",
		Long: `Manage the OAuth tokens stored for HTTP servers.

Tokens are kept in the OS keyring under the server's name (the config entry
name, or the endpoint host). Set MCP_CLIENT_NO_KEYRING=1 to keep them in memory.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "login",
			Short: "Run the authorization flow and store the token",
			Args:  cobra.NoArgs,
			RunE:  runAuthLogin,
		},
		&cobra.Command{
			Use:   "logout",
			Short: "Delete the stored token",
			Args:  cobra.NoArgs,
			RunE:  runAuthLogout,
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the stored token",
			Args:  cobra.NoArgs,
			RunE:  runAuthStatus,
		},
	)
	return cmd
}

// authTarget resolves an HTTP server and registers it with a token
// manager. OAuth is implied, so servers without an oauth section get the
// defaults.
func authTarget(cmd *cobra.Command, logger *logging.Logger) (string, *auth.Manager, *auth.SessionAuthorizer, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return "", nil, nil, err
	}
	name, server, err := resolveServer(cmd, env, logger)
	if err != nil {
		return "", nil, nil, err
	}
	if server.Transport != config.TransportHTTP {
		return "", nil, nil, fmt.Errorf("server %q uses the %s transport; only http servers authenticate", name, server.Transport)
	}
	if server.OAuth == nil {
		server.OAuth = &config.OAuth{}
	}

	manager, authorizer, err := setupAuth(name, server, env, logger)
	if err != nil {
		return "", nil, nil, err
	}
	return name, manager, authorizer, nil
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	logger := logging.NewLoggerWithWriter(verbose, !noColor, jsonRPC, os.Stderr)
	name, manager, authorizer, err := authTarget(cmd, logger)
	if err != nil {
		return err
	}

	// An empty challenge starts discovery from the endpoint and forces a
	// fresh authorization.
	if _, err := authorizer.Handle401(cmd.Context(), ""); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	logger.Success("Logged in to %s", name)
	tok, err := manager.CachedToken(name)
	if err != nil {
		return err
	}
	printToken(cmd.OutOrStdout(), name, tok)
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	logger := logging.NewLoggerWithWriter(verbose, !noColor, jsonRPC, os.Stderr)
	name, manager, _, err := authTarget(cmd, logger)
	if err != nil {
		return err
	}
	if err := manager.Logout(name); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	logger.Success("Logged out of %s", name)
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	logger := logging.NewLoggerWithWriter(verbose, !noColor, jsonRPC, os.Stderr)
	name, manager, _, err := authTarget(cmd, logger)
	if err != nil {
		return err
	}
	tok, err := manager.CachedToken(name)
	if err != nil {
		return fmt.Errorf("failed to read stored token: %w", err)
	}
	printToken(cmd.OutOrStdout(), name, tok)
	return nil
}

func printToken(w io.Writer, name string, tok *auth.Token) {
	if tok == nil {
		fmt.Fprintf(w, "%s: not logged in\n", name)
		return
	}

	fmt.Fprintf(w, "Server:    %s\n", name)
	if tok.ClientID != "" {
		fmt.Fprintf(w, "Client ID: %s\n", tok.ClientID)
	}
	if scopes := tok.Scopes(); len(scopes) > 0 {
		fmt.Fprintf(w, "Scopes:    %s\n", strings.Join(scopes, " "))
	}
	switch {
	case tok.ExpiresAt.IsZero():
		fmt.Fprintln(w, "Expires:   never")
	case tok.Expired(time.Now()):
		fmt.Fprintf(w, "Expires:   %s (expired)\n", tok.ExpiresAt.Format(time.RFC3339))
	default:
		fmt.Fprintf(w, "Expires:   %s (in %s)\n", tok.ExpiresAt.Format(time.RFC3339), time.Until(tok.ExpiresAt).Round(time.Second))
	}
	fmt.Fprintf(w, "Refresh:   %t\n", tok.RefreshToken != "")

	claims, err := auth.DescribeToken(tok.AccessToken)
	if err != nil {
		fmt.Fprintln(w, "Access token is opaque")
		return
	}
	if claims.Subject != "" {
		fmt.Fprintf(w, "Subject:   %s\n", claims.Subject)
	}
	if claims.Issuer != "" {
		fmt.Fprintf(w, "Issuer:    %s\n", claims.Issuer)
	}
	if len(claims.Audience) > 0 {
		fmt.Fprintf(w, "Audience:  %s\n", strings.Join(claims.Audience, ", "))
	}
}
