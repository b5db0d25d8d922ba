package client

import (
	"strings"
)

// Standard OIDC scope values
const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeOfflineAccess = "offline_access" // required to be issued a refresh token
)

// DefaultScope is requested when the caller does not ask for anything else
var DefaultScope = JoinScopes([]string{ScopeOpenID, ScopeProfile, ScopeEmail})

// ParseScopes parses a space-separated scope string into a slice
func ParseScopes(scopeString string) []string {
	if scopeString == "" {
		return nil
	}
	scopes := strings.Fields(scopeString)
	// Remove duplicates
	seen := make(map[string]bool)
	result := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}

// JoinScopes joins a slice of scopes into a space-separated string
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ContainsAllScopes checks if all required scopes are present in the granted scopes
func ContainsAllScopes(granted, required []string) bool {
	grantedSet := make(map[string]bool, len(granted))
	for _, s := range granted {
		grantedSet[s] = true
	}
	for _, s := range required {
		if !grantedSet[s] {
			return false
		}
	}
	return true
}

// ScopesEqual checks if two scope slices contain the same scopes (order-independent)
func ScopesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	aSet := make(map[string]bool, len(a))
	for _, s := range a {
		aSet[s] = true
	}
	for _, s := range b {
		if !aSet[s] {
			return false
		}
	}
	return true
}

// scopeChanged reports whether a requested scope string differs from the one
// stored with the credentials. An empty request never counts as a change.
func scopeChanged(stored, requested string) bool {
	if requested == "" {
		return false
	}
	return !ScopesEqual(ParseScopes(stored), ParseScopes(requested))
}
