// Package crypt seals stored credential records so they are unreadable at
// rest. Keys are derived from a passphrase with argon2id and entries are
// sealed with XChaCha20-Poly1305.
package crypt

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrOpen is returned when a sealed entry fails authentication
var ErrOpen = errors.New("crypt: message authentication failed")

// argon2id cost parameters (RFC 9106 second recommended option)
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// SaltSize is the length of salts returned by NewSalt
const SaltSize = 16

// NewSalt returns a random salt for NewSealer
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypt: salt: %w", err)
	}
	return salt, nil
}

// Sealer encrypts and authenticates byte strings
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a key from passphrase and salt with argon2id. The salt
// need not be secret but must be stable for the lifetime of the stored data;
// prefer a random one from NewSalt kept next to the data.
func NewSealer(passphrase string, salt []byte) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("crypt: empty passphrase")
	}
	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("crypt: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns nonce || ciphertext. additional is authenticated but not
// encrypted; stores pass the entry key so records cannot be swapped.
func (s *Sealer) Seal(plaintext, additional []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypt: nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, additional), nil
}

// Open reverses Seal
func (s *Sealer) Open(sealed, additional []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < ns+s.aead.Overhead() {
		return nil, ErrOpen
	}
	plaintext, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], additional)
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}
