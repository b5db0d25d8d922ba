package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// mockStorage is a simple in-memory Storage with failure injection
type mockStorage struct {
	mu        sync.Mutex
	entries   map[string][]byte
	getErr    error
	setErr    error
	deleteErr error
	gets      int
	sets      int
}

func newMockStorage() *mockStorage {
	return &mockStorage{entries: make(map[string][]byte)}
}

func (s *mockStorage) GetEntry(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.getErr != nil {
		return nil, s.getErr
	}
	data, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (s *mockStorage) SetEntry(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.setErr != nil {
		return s.setErr
	}
	s.entries[key] = append([]byte(nil), data...)
	return nil
}

func (s *mockStorage) DeleteEntry(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.entries, key)
	return nil
}

func (s *mockStorage) raw(key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key]
}

func (s *mockStorage) failSet(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErr = err
}

func (s *mockStorage) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

// mockRenewer counts refresh calls and returns whatever respond yields.
// When release is non-nil every call blocks until it is closed.
type mockRenewer struct {
	calls   atomic.Int32
	release chan struct{}
	respond func(refreshToken string, params RenewParameters) (*Credentials, error)

	mu         sync.Mutex
	lastToken  string
	lastParams RenewParameters
}

func (r *mockRenewer) Renew(ctx context.Context, refreshToken string, params RenewParameters) (*Credentials, error) {
	r.calls.Add(1)
	r.mu.Lock()
	r.lastToken = refreshToken
	r.lastParams = params
	r.mu.Unlock()

	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.respond(refreshToken, params)
}

func (r *mockRenewer) count() int {
	return int(r.calls.Load())
}

// renewWith returns a renewer issuing a one hour token based on clock
func renewWith(clock clockwork.Clock, accessToken, refreshToken string) *mockRenewer {
	return &mockRenewer{
		respond: func(string, RenewParameters) (*Credentials, error) {
			return &Credentials{
				AccessToken:  accessToken,
				TokenType:    "Bearer",
				RefreshToken: refreshToken,
				ExpiresAt:    clock.Now().Add(time.Hour),
			}, nil
		},
	}
}

type mockRevoker struct {
	err     error
	revoked []string
}

func (r *mockRevoker) Revoke(ctx context.Context, refreshToken string) error {
	if r.err != nil {
		return r.err
	}
	r.revoked = append(r.revoked, refreshToken)
	return nil
}

// mockBiometrics counts prompts and fails with err when set
type mockBiometrics struct {
	prompts     atomic.Int32
	err         error
	unavailable bool
	lastReason  string
}

func (b *mockBiometrics) Authenticate(ctx context.Context, reason string) error {
	b.prompts.Add(1)
	b.lastReason = reason
	return b.err
}

func (b *mockBiometrics) Available() bool {
	return !b.unavailable
}

func (b *mockBiometrics) count() int {
	return int(b.prompts.Load())
}

// providerError mimics a token endpoint error from the authentication client
type providerError struct {
	code string
}

func (e *providerError) Error() string { return "provider error: " + e.code }

var errDisk = errors.New("disk unavailable")

func testCredentials(clock clockwork.Clock, ttl time.Duration) *Credentials {
	return &Credentials{
		AccessToken:  "access-1",
		TokenType:    "Bearer",
		IDToken:      "id-1",
		RefreshToken: "r1",
		ExpiresAt:    clock.Now().Add(ttl),
		Scope:        "openid profile offline_access",
	}
}

func storeCredentials(t *testing.T, m *CredentialsManager, c *Credentials) {
	t.Helper()
	require.True(t, m.Store(c), "Store() should succeed")
}
