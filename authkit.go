package authkit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/panyam/authkit/authentication"
	"github.com/panyam/authkit/client"
	"github.com/panyam/authkit/client/stores/fs"
	"github.com/panyam/authkit/client/stores/memory"
	"github.com/panyam/authkit/management"
)

// SDK bundles the clients for one tenant and application.
type SDK struct {
	Config Config
	Logger zerolog.Logger

	// Auth talks to the authentication API
	Auth *authentication.Client

	// Storage persists the credential bundle
	Storage client.Storage

	// Credentials hands out usable tokens, renewing them as needed
	Credentials *client.CredentialsManager
}

// Option customizes New
type Option func(*sdkOptions)

type sdkOptions struct {
	logger     *zerolog.Logger
	storage    client.Storage
	httpClient *http.Client
	biometrics client.BiometricAuthenticator
	clock      clockwork.Clock
}

// WithLogger replaces the logger built from Config.Log
func WithLogger(logger zerolog.Logger) Option {
	return func(o *sdkOptions) {
		o.logger = &logger
	}
}

// WithStorage supplies the credential store, for example a gorm or gae
// store, instead of the one selected by Config.Store
func WithStorage(storage client.Storage) Option {
	return func(o *sdkOptions) {
		o.storage = storage
	}
}

// WithHTTPClient sets the HTTP client used for every request
func WithHTTPClient(c *http.Client) Option {
	return func(o *sdkOptions) {
		o.httpClient = c
	}
}

// WithBiometricAuthenticator installs the platform's biometric check
func WithBiometricAuthenticator(auth client.BiometricAuthenticator) Option {
	return func(o *sdkOptions) {
		o.biometrics = auth
	}
}

// WithClock sets the clock used for expiry checks and biometric sessions
func WithClock(clock clockwork.Clock) Option {
	return func(o *sdkOptions) {
		o.clock = clock
	}
}

// New validates cfg and wires logger, authentication client, store and
// credentials manager together.
func New(cfg Config, opts ...Option) (*SDK, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var o sdkOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := NewLogger(cfg.Log, nil)
	if o.logger != nil {
		logger = *o.logger
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	authOpts := []authentication.Option{
		authentication.WithHTTPClient(httpClient),
		authentication.WithLogger(logger),
		authentication.WithAudience(cfg.Audience),
		authentication.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
	}
	if cfg.ClientSecret != "" {
		authOpts = append(authOpts, authentication.WithClientSecret(cfg.ClientSecret))
	}
	if o.clock != nil {
		authOpts = append(authOpts, authentication.WithClock(o.clock))
	}
	auth := authentication.New(cfg.Domain, cfg.ClientID, authOpts...)

	storage := o.storage
	if storage == nil {
		var err error
		if storage, err = openStorage(cfg); err != nil {
			return nil, err
		}
	}

	managerOpts := []client.ManagerOption{
		client.WithStoreKey(cfg.storeKey()),
		client.WithLogger(logger),
	}
	if o.biometrics != nil {
		managerOpts = append(managerOpts, client.WithBiometricAuthenticator(o.biometrics))
	}
	if o.clock != nil {
		managerOpts = append(managerOpts, client.WithClock(o.clock))
	}

	logger.Debug().
		Str("domain", auth.Domain()).
		Str("store", cfg.Store).
		Str("store_key", cfg.storeKey()).
		Bool("sealed", cfg.StorePassphrase != "").
		Msg("sdk initialized")

	return &SDK{
		Config:      cfg,
		Logger:      logger,
		Auth:        auth,
		Storage:     storage,
		Credentials: client.NewCredentialsManager(storage, auth, managerOpts...),
	}, nil
}

// openStorage builds the store Config.Store selects. A passphrase seals file
// entries.
func openStorage(cfg Config) (client.Storage, error) {
	if cfg.Store == StoreMemory {
		return memory.New(), nil
	}

	var storeOpts []fs.Option
	if cfg.StorePassphrase != "" {
		storeOpts = append(storeOpts, fs.WithPassphrase(cfg.StorePassphrase))
	}

	store, err := fs.New(cfg.StorePath, "authkit", storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	return store, nil
}

// Users returns a management client acting with the stored user's access
// token. Tokens are renewed through the credentials manager as they expire.
func (s *SDK) Users(ctx context.Context, opts ...client.RetrieveOption) *management.UserManager {
	mgmtOpts := []management.Option{
		management.WithLogger(s.Logger),
		management.WithRateLimit(s.Config.RateLimit, s.Config.RateBurst),
	}
	return management.New(s.Config.Domain, s.Credentials.TokenSource(ctx, opts...), mgmtOpts...).Users
}

// HTTPClient returns a client that authorizes requests to the application's
// own APIs with the stored access token.
func (s *SDK) HTTPClient(opts ...client.RetrieveOption) *http.Client {
	return s.Credentials.HTTPClient(&http.Client{Timeout: s.Config.HTTPTimeout}, opts...)
}
