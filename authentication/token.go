package authentication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/panyam/authkit/client"
)

// maxResponseBytes caps how much of a response body is read
const maxResponseBytes = 1 << 20

// tokenResponse is the JSON body of a successful /oauth/token call
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

func (r *tokenResponse) credentials(now time.Time) *client.Credentials {
	tokenType := r.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &client.Credentials{
		AccessToken:  r.AccessToken,
		TokenType:    tokenType,
		IDToken:      r.IDToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(r.ExpiresIn) * time.Second),
		Scope:        r.Scope,
	}
}

// Renew exchanges a refresh token for new credentials (refresh_token grant).
// The result omits the refresh token unless the provider rotated it.
func (c *Client) Renew(ctx context.Context, refreshToken string, params client.RenewParameters) (*client.Credentials, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.clientID},
		"refresh_token": {refreshToken},
	}
	if c.clientSecret != "" {
		form.Set("client_secret", c.clientSecret)
	}
	if params.Scope != "" {
		form.Set("scope", params.Scope)
	}
	if params.Audience != "" {
		form.Set("audience", params.Audience)
	}
	for k, v := range params.Parameters {
		if form.Get(k) == "" {
			form.Set(k, v)
		}
	}

	resp, err := c.requestToken(ctx, form)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().
		Bool("rotated", resp.RefreshToken != "").
		Int64("expires_in", resp.ExpiresIn).
		Str("scope", resp.Scope).
		Msg("refresh_token grant succeeded")
	return resp.credentials(c.clock.Now()), nil
}

// requestToken POSTs a form-encoded grant to /oauth/token
func (c *Client) requestToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/oauth/token"), bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, parseError(status, body)
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("invalid response from server: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, &Error{StatusCode: status, Code: CodeUnknown, Description: "token response has no access_token"}
	}
	return &tokenResp, nil
}

// do sends req and returns the (bounded) response body
func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// Revoke invalidates a refresh token at the provider
func (c *Client) Revoke(ctx context.Context, refreshToken string) error {
	payload := map[string]string{
		"client_id": c.clientID,
		"token":     refreshToken,
	}
	if c.clientSecret != "" {
		payload["client_secret"] = c.clientSecret
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/oauth/revoke"), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, status, err := c.do(req)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return parseError(status, body)
	}
	c.logger.Debug().Msg("refresh token revoked")
	return nil
}

// Login performs a resource owner password grant. Include offline_access in
// scope to be issued a refresh token.
func (c *Client) Login(ctx context.Context, username, password, scope string) (*client.Credentials, error) {
	if scope == "" {
		scope = client.DefaultScope
	}
	tok, err := c.oauth2Config(scope, "").PasswordCredentialsToken(c.oauth2Context(ctx), username, password)
	if err != nil {
		return nil, fromOAuth2(err)
	}
	return c.credentialsFromToken(tok), nil
}

// NewPKCEVerifier returns a fresh PKCE code verifier for AuthorizeURL and
// ExchangeCode
func NewPKCEVerifier() string {
	return oauth2.GenerateVerifier()
}

// AuthorizeURL builds the /authorize URL for the authorization code flow with
// an S256 PKCE challenge derived from verifier. Presenting it to the user is
// the caller's job.
func (c *Client) AuthorizeURL(state, verifier, scope, redirectURI string) string {
	if scope == "" {
		scope = client.DefaultScope
	}
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	if c.audience != "" {
		opts = append(opts, oauth2.SetAuthURLParam("audience", c.audience))
	}
	return c.oauth2Config(scope, redirectURI).AuthCodeURL(state, opts...)
}

// ExchangeCode redeems an authorization code together with its PKCE verifier
func (c *Client) ExchangeCode(ctx context.Context, code, verifier, redirectURI string) (*client.Credentials, error) {
	tok, err := c.oauth2Config("", redirectURI).Exchange(c.oauth2Context(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fromOAuth2(err)
	}
	return c.credentialsFromToken(tok), nil
}

// credentialsFromToken converts an x/oauth2 token, using our clock for expiry
func (c *Client) credentialsFromToken(tok *oauth2.Token) *client.Credentials {
	creds := client.CredentialsFromToken(tok)
	if tok.ExpiresIn > 0 {
		creds.ExpiresAt = c.clock.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return creds
}
