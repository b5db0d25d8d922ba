package client

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestDecodeIDToken(t *testing.T) {
	exp := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	idToken := signIDToken(t, jwt.MapClaims{
		"sub":            "auth0|123",
		"name":           "Ada Lovelace",
		"nickname":       "ada",
		"email":          "ada@example.com",
		"email_verified": true,
		"exp":            exp.Unix(),
		"org_id":         "org_42",
	})

	info, err := DecodeIDToken(idToken)
	require.NoError(t, err)
	assert.Equal(t, "auth0|123", info.Subject)
	assert.Equal(t, "Ada Lovelace", info.Name)
	assert.Equal(t, "ada", info.Nickname)
	assert.Equal(t, "ada@example.com", info.Email)
	assert.True(t, info.EmailVerified)
	assert.Equal(t, "org_42", info.Claims["org_id"])

	got, err := IDTokenExpiry(idToken)
	require.NoError(t, err)
	assert.True(t, exp.Equal(got))
}

func TestDecodeIDToken_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not.a.jwt"},
		{name: "no subject", token: signIDToken(t, jwt.MapClaims{"name": "nobody"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeIDToken(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestIDTokenExpiry_NoExp(t *testing.T) {
	got, err := IDTokenExpiry(signIDToken(t, jwt.MapClaims{"sub": "x"}))
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestManager_User(t *testing.T) {
	renewer := &mockRenewer{}
	m, storage, clock := newTestManager(t, renewer)

	_, err := m.User()
	assert.ErrorIs(t, err, ErrNoCredentials)

	creds := testCredentials(clock, time.Hour)
	creds.IDToken = signIDToken(t, jwt.MapClaims{"sub": "user-1", "email": "u@example.com"})
	storeCredentials(t, m, creds)

	info, err := m.User()
	require.NoError(t, err)
	assert.Equal(t, "user-1", info.Subject)
	assert.Equal(t, "u@example.com", info.Email)
	assert.Equal(t, 0, renewer.count())

	t.Run("unreadable id token", func(t *testing.T) {
		bad := testCredentials(clock, time.Hour)
		storeCredentials(t, m, bad)
		_, err := m.User()
		assert.ErrorIs(t, err, ErrNoCredentials)
		assert.NotNil(t, storage.raw(m.StoreKey()))
	})
}
