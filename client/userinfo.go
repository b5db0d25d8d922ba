package client

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserInfo is the user profile carried in an ID token
type UserInfo struct {
	Subject       string         `json:"sub"`
	Name          string         `json:"name,omitempty"`
	Nickname      string         `json:"nickname,omitempty"`
	Picture       string         `json:"picture,omitempty"`
	Email         string         `json:"email,omitempty"`
	EmailVerified bool           `json:"email_verified,omitempty"`
	UpdatedAt     string         `json:"updated_at,omitempty"`
	Claims        map[string]any `json:"-"`
}

// idTokenClaims is decoded straight out of the ID token payload
type idTokenClaims struct {
	jwt.RegisteredClaims
	Name          string `json:"name"`
	Nickname      string `json:"nickname"`
	Picture       string `json:"picture"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	UpdatedAt     string `json:"updated_at"`
}

// DecodeIDToken reads the claims of an ID token without verifying its
// signature. Use it only on tokens received directly from the token endpoint;
// authentication.Client.VerifyIDToken does full verification.
func DecodeIDToken(idToken string) (*UserInfo, error) {
	if idToken == "" {
		return nil, fmt.Errorf("no id token")
	}
	parser := jwt.NewParser()

	var claims idTokenClaims
	if _, _, err := parser.ParseUnverified(idToken, &claims); err != nil {
		return nil, fmt.Errorf("failed to decode id token: %w", err)
	}
	raw := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(idToken, raw); err != nil {
		return nil, fmt.Errorf("failed to decode id token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("id token has no subject")
	}

	return &UserInfo{
		Subject:       claims.Subject,
		Name:          claims.Name,
		Nickname:      claims.Nickname,
		Picture:       claims.Picture,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		UpdatedAt:     claims.UpdatedAt,
		Claims:        raw,
	}, nil
}

// IDTokenExpiry returns the exp claim of an ID token, or the zero time when absent
func IDTokenExpiry(idToken string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, &claims); err != nil {
		return time.Time{}, fmt.Errorf("failed to decode id token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}

// User returns the profile in the stored ID token. It does not trigger a
// refresh or a biometric prompt.
func (m *CredentialsManager) User() (*UserInfo, error) {
	creds, err := m.load()
	if err != nil {
		return nil, err
	}
	info, err := DecodeIDToken(creds.IDToken)
	if err != nil {
		return nil, newError(CodeNoCredentials, err)
	}
	return info, nil
}
