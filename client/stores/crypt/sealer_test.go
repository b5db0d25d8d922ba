package crypt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

func TestSealer_RoundTrip(t *testing.T) {
	s, err := NewSealer("correct horse", []byte("salt"))
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("secret record"), []byte("credentials"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "secret record")

	plain, err := s.Open(sealed, []byte("credentials"))
	require.NoError(t, err)
	assert.Equal(t, "secret record", string(plain))
}

func TestSealer_NoncesDiffer(t *testing.T) {
	s, err := NewSealer("pw", nil)
	require.NoError(t, err)
	a, _ := s.Seal([]byte("same"), nil)
	b, _ := s.Seal([]byte("same"), nil)
	assert.NotEqual(t, a, b)
}

func TestSealer_OpenFailures(t *testing.T) {
	s, err := NewSealer("pw", []byte("salt"))
	require.NoError(t, err)
	sealed, err := s.Seal([]byte("data"), []byte("k1"))
	require.NoError(t, err)

	other, err := NewSealer("different", []byte("salt"))
	require.NoError(t, err)

	resalted, err := NewSealer("pw", []byte("pepper"))
	require.NoError(t, err)

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff

	tests := []struct {
		name       string
		sealer     *Sealer
		data       []byte
		additional string
	}{
		{name: "wrong passphrase", sealer: other, data: sealed, additional: "k1"},
		{name: "wrong salt", sealer: resalted, data: sealed, additional: "k1"},
		{name: "wrong key binding", sealer: s, data: sealed, additional: "k2"},
		{name: "tampered", sealer: s, data: tampered, additional: "k1"},
		{name: "truncated", sealer: s, data: sealed[:10], additional: "k1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.sealer.Open(tt.data, []byte(tt.additional))
			assert.ErrorIs(t, err, ErrOpen)
		})
	}
}

func TestNewSealer_EmptyPassphrase(t *testing.T) {
	_, err := NewSealer("", nil)
	assert.Error(t, err)
}

func TestSealer_KeyIsArgon2id(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	assert.Len(t, salt, SaltSize)

	s, err := NewSealer("pw", salt)
	require.NoError(t, err)
	sealed, err := s.Seal([]byte("data"), nil)
	require.NoError(t, err)

	key := argon2.IDKey([]byte("pw"), salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	require.NoError(t, err)
	ns := aead.NonceSize()
	plain, err := aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	require.NoError(t, err)
	assert.Equal(t, "data", string(plain))
}

func TestNewSalt_Random(t *testing.T) {
	a, err := NewSalt()
	require.NoError(t, err)
	b, err := NewSalt()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
