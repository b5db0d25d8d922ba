// Package grpc carries credentials between gRPC clients and services. On the
// client side a CredentialsManager supplies bearer tokens as per-RPC
// credentials or through interceptors. On the server side interceptors pull
// the bearer token out of incoming metadata, verify it and expose the caller
// through the context.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/panyam/authkit/client"
)

// Default metadata keys
const (
	// DefaultMetadataKeyAuthorization carries "Bearer <access token>"
	DefaultMetadataKeyAuthorization = "authorization"

	// DefaultMetadataKeyUserID carries the caller's user ID when a trusted
	// gateway has already authenticated the request
	DefaultMetadataKeyUserID = "x-user-id"
)

// Config holds the metadata key configuration.
type Config struct {
	// MetadataKeyAuthorization is the key bearer tokens are read from and
	// written to. Defaults to "authorization".
	MetadataKeyAuthorization string

	// MetadataKeyUserID is read only when TrustUserIDMetadata is set.
	// Defaults to "x-user-id".
	MetadataKeyUserID string

	// TrustUserIDMetadata accepts a user ID set in metadata by an upstream
	// gateway instead of requiring a bearer token. Only enable this behind a
	// proxy that strips the key from external traffic.
	TrustUserIDMetadata bool
}

// DefaultConfig returns a Config with default metadata keys.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
		MetadataKeyUserID:        DefaultMetadataKeyUserID,
	}
}

// EnsureDefaults fills in empty keys.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
	if c.MetadataKeyUserID == "" {
		c.MetadataKeyUserID = DefaultMetadataKeyUserID
	}
}

type userContextKey struct{}

// ContextWithUser attaches an authenticated caller to ctx.
func ContextWithUser(ctx context.Context, user *client.UserInfo) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the caller attached by the server interceptors.
func UserFromContext(ctx context.Context) (*client.UserInfo, bool) {
	user, ok := ctx.Value(userContextKey{}).(*client.UserInfo)
	return user, ok && user != nil
}

// UserIDFromContext returns the authenticated caller's subject, or "".
func UserIDFromContext(ctx context.Context) string {
	if user, ok := UserFromContext(ctx); ok {
		return user.Subject
	}
	return ""
}

// BearerTokenFromIncomingContext extracts the bearer token from incoming
// metadata using the default key.
func BearerTokenFromIncomingContext(ctx context.Context) (string, bool) {
	return BearerTokenFromIncomingContextWithConfig(ctx, nil)
}

// BearerTokenFromIncomingContextWithConfig extracts the bearer token using a
// custom metadata key. The scheme match is case-insensitive.
func BearerTokenFromIncomingContextWithConfig(ctx context.Context, config *Config) (string, bool) {
	key := DefaultMetadataKeyAuthorization
	if config != nil && config.MetadataKeyAuthorization != "" {
		key = config.MetadataKeyAuthorization
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	for _, value := range md.Get(key) {
		scheme, token, found := strings.Cut(strings.TrimSpace(value), " ")
		if !found || !strings.EqualFold(scheme, "bearer") {
			continue
		}
		if token = strings.TrimSpace(token); token != "" {
			return token, true
		}
	}
	return "", false
}

// BearerTokenToOutgoingContext appends "Bearer <token>" to outgoing metadata.
func BearerTokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAuthorization, "Bearer "+token)
}

// trustedUserID reads a gateway-supplied user ID from incoming metadata.
func trustedUserID(ctx context.Context, config *Config) string {
	if config == nil || !config.TrustUserIDMetadata {
		return ""
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(config.MetadataKeyUserID); len(values) > 0 {
		return values[0]
	}
	return ""
}
