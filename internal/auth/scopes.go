package auth

import (
	"slices"
	"strings"
)

// selectScopes picks the scopes for an authorization request.
//
// In auto mode the priority is:
//  1. the scope parameter of the WWW-Authenticate challenge
//  2. scopes_supported from the protected resource metadata
//  3. no scope parameter at all (nil)
//
// Manual mode always returns the configured scopes.
func selectScopes(cfg FlowConfig, challenge *Challenge, metadata *ProtectedResourceMetadata) []string {
	if cfg.ScopeSelectionMode == ScopeSelectionManual {
		return cfg.Scopes
	}

	if challenge != nil && len(challenge.Scopes) > 0 {
		return challenge.Scopes
	}

	if metadata != nil && len(metadata.ScopesSupported) > 0 {
		return metadata.ScopesSupported
	}

	return nil
}

// mergeScopes returns the sorted union of both lists.
func mergeScopes(existing, additional []string) []string {
	merged := make([]string, 0, len(existing)+len(additional))
	merged = append(merged, existing...)
	merged = append(merged, additional...)
	slices.Sort(merged)
	return slices.Compact(merged)
}

// formatScopeList formats a scope list for display.
func formatScopeList(scopes []string) string {
	if len(scopes) == 0 {
		return "(none)"
	}
	return strings.Join(scopes, ", ")
}
