// Package authentication is a client for an OAuth2/OIDC identity provider's
// authentication API: token grants, revocation, user info and ID token
// verification. A *Client satisfies client.Renewer and client.Revoker, so it
// plugs straight into a client.CredentialsManager.
package authentication

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/panyam/authkit/internal/httpx"
)

// DefaultTimeout bounds every request when no http.Client is supplied
const DefaultTimeout = 30 * time.Second

// Client talks to the authentication endpoints of one tenant
type Client struct {
	domain       string
	clientID     string
	clientSecret string
	audience     string
	userAgent    string

	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
	clock      clockwork.Clock

	mu       sync.Mutex
	verifier *oidc.IDTokenVerifier
}

// Option configures a Client
type Option func(*Client)

// WithClientSecret authenticates token requests as a confidential client
func WithClientSecret(secret string) Option {
	return func(c *Client) {
		c.clientSecret = secret
	}
}

// WithAudience sets the API audience requested by AuthorizeURL
func WithAudience(audience string) Option {
	return func(c *Client) {
		c.audience = audience
	}
}

// WithHTTPClient sets the underlying HTTP client. Its transport is wrapped,
// not replaced.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRateLimit paces outgoing requests to r per second with the given burst
func WithRateLimit(r float64, burst int) Option {
	return func(c *Client) {
		c.limiter = httpx.NewLimiter(r, burst)
	}
}

// WithLogger sets the logger; the default discards everything
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClock sets the clock used to turn expires_in into an absolute time
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithUserAgent overrides the User-Agent header
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New creates a client for domain, which may be a bare host
// ("tenant.example.com") or a URL
func New(domain, clientID string, opts ...Option) *Client {
	c := &Client{
		domain:     normalizeDomain(domain),
		clientID:   clientID,
		userAgent:  "authkit-go",
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     zerolog.Nop(),
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With().Str("component", "authentication").Str("domain", c.domain).Logger()
	c.httpClient = httpx.WrapClient(c.httpClient, DefaultTimeout, &httpx.Transport{
		Limiter:   c.limiter,
		Logger:    c.logger,
		UserAgent: c.userAgent,
	})
	return c
}

// Domain returns the base URL requests are sent to
func (c *Client) Domain() string { return c.domain }

// ClientID returns the OAuth client identifier
func (c *Client) ClientID() string { return c.clientID }

// HTTPClient returns the instrumented HTTP client used for every request
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

func (c *Client) url(path string) string {
	return c.domain + path
}

// oauth2Config describes the tenant's endpoints to golang.org/x/oauth2
func (c *Client) oauth2Config(scope, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.url("/authorize"),
			TokenURL:  c.url("/oauth/token"),
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: strings.Fields(scope),
	}
}

// oauth2Context routes x/oauth2 and go-oidc traffic through our HTTP client
func (c *Client) oauth2Context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func normalizeDomain(domain string) string {
	domain = strings.TrimRight(strings.TrimSpace(domain), "/")
	if domain != "" && !strings.Contains(domain, "://") {
		domain = "https://" + domain
	}
	return domain
}
