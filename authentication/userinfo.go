package authentication

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/panyam/authkit/client"
)

// UserInfo fetches the profile of the user an access token was issued to
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*client.UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/userinfo"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	body, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, parseError(status, body)
	}

	var info client.UserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("invalid userinfo response: %w", err)
	}
	if err := json.Unmarshal(body, &info.Claims); err != nil {
		return nil, fmt.Errorf("invalid userinfo response: %w", err)
	}
	return &info, nil
}

// VerifyIDToken checks an ID token's signature, issuer, audience and expiry
// against the provider's published OIDC configuration and returns its claims
func (c *Client) VerifyIDToken(ctx context.Context, rawIDToken string) (*client.UserInfo, error) {
	verifier, err := c.idTokenVerifier(ctx)
	if err != nil {
		return nil, err
	}

	idToken, err := verifier.Verify(oidc.ClientContext(ctx, c.httpClient), rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify id token: %w", err)
	}

	var info client.UserInfo
	if err := idToken.Claims(&info); err != nil {
		return nil, fmt.Errorf("failed to decode id token claims: %w", err)
	}
	if err := idToken.Claims(&info.Claims); err != nil {
		return nil, fmt.Errorf("failed to decode id token claims: %w", err)
	}
	return &info, nil
}

// idTokenVerifier discovers the provider once and caches the verifier
func (c *Client) idTokenVerifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.verifier != nil {
		return c.verifier, nil
	}

	// the key set outlives this call, so it must not inherit its cancellation
	providerCtx := oidc.ClientContext(context.WithoutCancel(ctx), c.httpClient)
	provider, err := oidc.NewProvider(providerCtx, c.domain+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	c.verifier = provider.Verifier(&oidc.Config{
		ClientID: c.clientID,
		Now:      c.clock.Now,
	})
	return c.verifier, nil
}
