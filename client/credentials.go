// Package client provides client-side credential management for authkit.
// It includes credential storage, expiry checks, single-flight token refresh,
// an optional biometric gate, and HTTP client helpers.
package client

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExpiryLeeway is subtracted from every expiry comparison to absorb clock skew
// between this device and the identity provider.
const ExpiryLeeway = 5 * time.Second

// DefaultStoreKey is the storage key credentials are persisted under
// unless a manager is configured with WithStoreKey.
const DefaultStoreKey = "credentials"

// recordVersion is bumped whenever the persisted layout changes incompatibly.
const recordVersion = 1

// Credentials is the token bundle returned by a login or refresh.
// Optional fields are empty when absent.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	IDToken      string    `json:"id_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope,omitempty"`
}

// IsExpired returns true if the access token expires before now plus ExpiryLeeway
func (c *Credentials) IsExpired(now time.Time) bool {
	return c.ExpiresWithin(now, 0)
}

// ExpiresWithin returns true if the access token will not outlive ttl
// (plus ExpiryLeeway) measured from now
func (c *Credentials) ExpiresWithin(now time.Time, ttl time.Duration) bool {
	return !now.Add(ttl + ExpiryLeeway).Before(c.ExpiresAt)
}

// HasRefreshToken returns true if a refresh token is available
func (c *Credentials) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// Equal reports whether two bundles carry the same tokens, scope and expiry instant.
func (c *Credentials) Equal(o *Credentials) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.AccessToken == o.AccessToken &&
		c.TokenType == o.TokenType &&
		c.IDToken == o.IDToken &&
		c.RefreshToken == o.RefreshToken &&
		c.Scope == o.Scope &&
		c.ExpiresAt.Equal(o.ExpiresAt)
}

// HasScopes reports whether every one of scopes was granted to the bundle
func (c *Credentials) HasScopes(scopes ...string) bool {
	return ContainsAllScopes(ParseScopes(c.Scope), scopes)
}

// merge applies a refresh response on top of the current bundle.
// Providers that do not rotate refresh tokens omit them, and some omit the
// ID token or scope on refresh; the previous values are kept in that case.
// An omitted scope means the requested scope was granted as is (RFC 6749
// section 5.1), so requested wins over the stored scope when set.
func (c *Credentials) merge(renewed *Credentials, requested string) *Credentials {
	out := *renewed
	if out.RefreshToken == "" {
		out.RefreshToken = c.RefreshToken
	}
	if out.IDToken == "" {
		out.IDToken = c.IDToken
	}
	if out.Scope == "" {
		out.Scope = requested
	}
	if out.Scope == "" {
		out.Scope = c.Scope
	}
	if out.TokenType == "" {
		out.TokenType = c.TokenType
	}
	return &out
}

// String redacts every token so bundles can be logged or printed safely.
func (c *Credentials) String() string {
	redact := func(s string) string {
		if s == "" {
			return "<none>"
		}
		return "<REDACTED>"
	}
	return fmt.Sprintf("Credentials{AccessToken: %s, TokenType: %s, IDToken: %s, RefreshToken: %s, ExpiresAt: %s, Scope: %q}",
		redact(c.AccessToken), c.TokenType, redact(c.IDToken), redact(c.RefreshToken),
		c.ExpiresAt.UTC().Format(time.RFC3339), c.Scope)
}

// credentialRecord is the JSON structure written to storage
type credentialRecord struct {
	Version     int          `json:"v"`
	Credentials *Credentials `json:"credentials"`
}

// EncodeCredentials serializes a bundle into the byte format handed to Storage
func EncodeCredentials(c *Credentials) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("cannot encode nil credentials")
	}
	if c.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("credentials have no expiry")
	}
	data, err := json.Marshal(credentialRecord{Version: recordVersion, Credentials: c})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize credentials: %w", err)
	}
	return data, nil
}

// DecodeCredentials parses bytes produced by EncodeCredentials.
// Records missing an access token or expiry are rejected.
func DecodeCredentials(data []byte) (*Credentials, error) {
	var rec credentialRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("unsupported credentials record version %d", rec.Version)
	}
	c := rec.Credentials
	if c == nil || c.AccessToken == "" {
		return nil, fmt.Errorf("credentials record has no access token")
	}
	if c.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("credentials record has no expiry")
	}
	return c, nil
}

// Storage is the secure key-value primitive credentials are persisted in.
// Platform adapters (keychain, encrypted file, database) implement it.
type Storage interface {
	// GetEntry retrieves the entry stored under key.
	// Returns nil, nil if no entry exists.
	GetEntry(key string) ([]byte, error)

	// SetEntry stores data under key, replacing any previous entry
	SetEntry(key string, data []byte) error

	// DeleteEntry removes the entry under key. Deleting a missing key is not an error.
	DeleteEntry(key string) error
}
