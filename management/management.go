// Package management is a small client for the identity provider's
// management API. Requests are authorized through an oauth2.TokenSource, so a
// client.CredentialsManager (via its TokenSource method) or a static token
// both work.
package management

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/panyam/authkit/internal/httpx"
)

// DefaultTimeout bounds every request when no http.Client is supplied
const DefaultTimeout = 30 * time.Second

// Client talks to /api/v2 of one tenant
type Client struct {
	domain     string
	httpClient *http.Client
	logger     zerolog.Logger

	// Users manages user accounts
	Users *UserManager
}

// Option configures a Client
type Option func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = client
	}
}

// WithRateLimit paces outgoing requests to r per second with the given burst
func WithRateLimit(r float64, burst int) Option {
	return func(o *clientOptions) {
		o.limiter = httpx.NewLimiter(r, burst)
	}
}

// WithLogger sets the logger; the default discards everything
func WithLogger(logger zerolog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// New creates a management client for domain authorized by ts
func New(domain string, ts oauth2.TokenSource, opts ...Option) *Client {
	o := clientOptions{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	domain = strings.TrimRight(strings.TrimSpace(domain), "/")
	if domain != "" && !strings.Contains(domain, "://") {
		domain = "https://" + domain
	}

	logger := o.logger.With().Str("component", "management").Str("domain", domain).Logger()
	base := httpx.WrapClient(o.httpClient, DefaultTimeout, &httpx.Transport{
		Limiter:   o.limiter,
		Logger:    logger,
		UserAgent: "authkit-go",
	})

	c := &Client{
		domain: domain,
		logger: logger,
		httpClient: &http.Client{
			Timeout:   base.Timeout,
			Transport: &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, ts), Base: base.Transport},
		},
	}
	c.Users = &UserManager{client: c}
	return c
}

// NewWithToken creates a management client using a fixed access token
func NewWithToken(domain, token string, opts ...Option) *Client {
	return New(domain, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}), opts...)
}

// Error is an error response from the management API
type Error struct {
	StatusCode int    `json:"statusCode"`
	Err        string `json:"error"`
	Message    string `json:"message"`
	ErrorCode  string `json:"errorCode,omitempty"`
}

func (e *Error) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("management: %d %s: %s (%s)", e.StatusCode, e.Err, e.Message, e.ErrorCode)
	}
	return fmt.Sprintf("management: %d %s: %s", e.StatusCode, e.Err, e.Message)
}

// IsNotFound reports a 404 response
func (e *Error) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// do sends a JSON request and decodes a JSON response into out
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.domain+"/api/v2"+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("management request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode, Err: http.StatusText(resp.StatusCode)}
		if len(data) > 0 {
			if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil {
				apiErr.Message = string(data)
			}
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}
