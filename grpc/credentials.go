package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"

	"github.com/panyam/authkit/client"
)

// PerRPCCredentials supplies the manager's current access token to every
// call. Pass it to grpc.WithPerRPCCredentials.
type PerRPCCredentials struct {
	manager  *client.CredentialsManager
	options  []client.RetrieveOption
	insecure bool
}

var _ credentials.PerRPCCredentials = (*PerRPCCredentials)(nil)

// CredentialsOption configures PerRPCCredentials
type CredentialsOption func(*PerRPCCredentials)

// WithRetrieveOptions forwards options (min TTL, scope, ...) to every
// Credentials call
func WithRetrieveOptions(opts ...client.RetrieveOption) CredentialsOption {
	return func(c *PerRPCCredentials) {
		c.options = append(c.options, opts...)
	}
}

// WithInsecureTransport allows tokens over plaintext connections. Meant for
// local development and in-process tests.
func WithInsecureTransport() CredentialsOption {
	return func(c *PerRPCCredentials) {
		c.insecure = true
	}
}

// NewPerRPCCredentials wraps a CredentialsManager
func NewPerRPCCredentials(m *client.CredentialsManager, opts ...CredentialsOption) *PerRPCCredentials {
	c := &PerRPCCredentials{manager: m}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetRequestMetadata implements credentials.PerRPCCredentials
func (c *PerRPCCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	creds, err := c.manager.Credentials(ctx, c.options...)
	if err != nil {
		return nil, StatusFromError(err)
	}
	return map[string]string{DefaultMetadataKeyAuthorization: "Bearer " + creds.AccessToken}, nil
}

// RequireTransportSecurity implements credentials.PerRPCCredentials
func (c *PerRPCCredentials) RequireTransportSecurity() bool {
	return !c.insecure
}

// StatusFromError maps a CredentialsManager error to a gRPC status. Errors
// that already carry a status pass through.
func StatusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codes.Unknown
	switch {
	case errors.Is(err, client.ErrNoCredentials),
		errors.Is(err, client.ErrNoRefreshToken),
		errors.Is(err, client.ErrRefreshFailed):
		code = codes.Unauthenticated
	case errors.Is(err, client.ErrBiometricsFailed):
		code = codes.PermissionDenied
	case errors.Is(err, client.ErrStorageFailure):
		code = codes.Unavailable
	case errors.Is(err, client.ErrLargeMinTTL):
		code = codes.InvalidArgument
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}
