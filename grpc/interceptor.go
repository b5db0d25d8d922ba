package grpc

import (
	"context"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/panyam/authkit/client"
)

// TokenVerifier validates an access token and returns the caller it belongs
// to. authentication.Client.UserInfo has this signature.
type TokenVerifier func(ctx context.Context, accessToken string) (*client.UserInfo, error)

// InterceptorConfig configures the server interceptors.
type InterceptorConfig struct {
	*Config

	// Verifier checks bearer tokens. Without one, tokens are not validated
	// and handlers only see the raw token via BearerTokenFromIncomingContext.
	Verifier TokenVerifier

	// RequireAuth rejects calls without a valid caller with Unauthenticated.
	RequireAuth bool

	// PublicMethods are full method names ("/pkg.Service/Method") that skip
	// the RequireAuth check.
	PublicMethods map[string]bool

	// Logger receives rejected calls at debug level
	Logger zerolog.Logger
}

// DefaultInterceptorConfig requires a verified caller on every method.
func DefaultInterceptorConfig(verifier TokenVerifier) *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		Verifier:      verifier,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
		Logger:        zerolog.Nop(),
	}
}

// NewPublicMethodsConfig requires auth except on the listed methods.
func NewPublicMethodsConfig(verifier TokenVerifier, publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig(verifier)
	for _, m := range publicMethods {
		config.PublicMethods[m] = true
	}
	return config
}

// OptionalAuthConfig attaches the caller when one is present but never
// rejects a call for lacking one.
func OptionalAuthConfig(verifier TokenVerifier) *InterceptorConfig {
	config := DefaultInterceptorConfig(verifier)
	config.RequireAuth = false
	return config
}

// UnaryAuthInterceptor authenticates unary calls.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config = normalizeInterceptorConfig(config)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := authenticate(ctx, config, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor authenticates streaming calls.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config = normalizeInterceptorConfig(config)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticate(ss.Context(), config, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authenticatedStream{ServerStream: ss, ctx: ctx})
	}
}

func normalizeInterceptorConfig(config *InterceptorConfig) *InterceptorConfig {
	if config == nil {
		return DefaultInterceptorConfig(nil)
	}
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	config.EnsureDefaults()
	return config
}

// authenticate resolves the caller. A presented but invalid token is always
// rejected, even on public methods.
func authenticate(ctx context.Context, config *InterceptorConfig, method string) (context.Context, error) {
	required := config.RequireAuth && !config.PublicMethods[method]
	log := config.Logger.With().Str("method", method).Logger()

	token, hasToken := BearerTokenFromIncomingContextWithConfig(ctx, config.Config)
	if hasToken && config.Verifier != nil {
		user, err := config.Verifier(ctx, token)
		if err != nil || user == nil {
			log.Debug().Err(err).Msg("rejected invalid bearer token")
			return nil, status.Error(codes.Unauthenticated, "invalid access token")
		}
		return ContextWithUser(ctx, user), nil
	}

	if id := trustedUserID(ctx, config.Config); id != "" {
		return ContextWithUser(ctx, &client.UserInfo{Subject: id}), nil
	}

	if hasToken && config.Verifier == nil {
		return ctx, nil
	}
	if required {
		log.Debug().Msg("rejected unauthenticated call")
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	return ctx, nil
}

// authenticatedStream swaps in the context carrying the caller.
type authenticatedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authenticatedStream) Context() context.Context {
	return s.ctx
}

// UnaryClientInterceptor attaches the manager's access token to each call. An
// Unauthenticated reply triggers one forced renew and a single retry when a
// refresh token is available.
func UnaryClientInterceptor(m *client.CredentialsManager, opts ...client.RetrieveOption) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) error {
		creds, err := m.Credentials(ctx, opts...)
		if err != nil {
			return StatusFromError(err)
		}

		err = invoker(BearerTokenToOutgoingContext(ctx, creds.AccessToken), method, req, reply, cc, callOpts...)
		if status.Code(err) != codes.Unauthenticated || !creds.HasRefreshToken() {
			return err
		}

		renewed, renewErr := m.Renew(ctx, opts...)
		if renewErr != nil {
			return err
		}
		return invoker(BearerTokenToOutgoingContext(ctx, renewed.AccessToken), method, req, reply, cc, callOpts...)
	}
}

// StreamClientInterceptor attaches the manager's access token when a stream
// is opened.
func StreamClientInterceptor(m *client.CredentialsManager, opts ...client.RetrieveOption) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, callOpts ...grpc.CallOption) (grpc.ClientStream, error) {
		creds, err := m.Credentials(ctx, opts...)
		if err != nil {
			return nil, StatusFromError(err)
		}
		return streamer(BearerTokenToOutgoingContext(ctx, creds.AccessToken), desc, cc, method, callOpts...)
	}
}
