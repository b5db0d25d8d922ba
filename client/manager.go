package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// RenewParameters customise a refresh_token grant
type RenewParameters struct {
	// Scope requests a different scope set; empty keeps the grant's original scope
	Scope string
	// Audience requests an access token for a specific API
	Audience string
	// Parameters are sent as extra form fields on the token request
	Parameters map[string]string
}

// Renewer exchanges a refresh token for a new bundle with exactly one
// network round trip. The returned bundle may omit the refresh token.
type Renewer interface {
	Renew(ctx context.Context, refreshToken string, params RenewParameters) (*Credentials, error)
}

// Revoker invalidates a refresh token at the identity provider
type Revoker interface {
	Revoke(ctx context.Context, refreshToken string) error
}

// CredentialsManager stores a single credential bundle and hands out usable
// tokens, refreshing them at most once at a time.
type CredentialsManager struct {
	storage  Storage
	renewer  Renewer
	revoker  Revoker
	storeKey string
	clock    clockwork.Clock
	logger   zerolog.Logger
	gate     *biometricGate
	biometry BiometricAuthenticator
	refresh  refreshGroup
}

// ManagerOption configures a CredentialsManager
type ManagerOption func(*CredentialsManager)

// WithStoreKey sets the storage key the bundle is persisted under
func WithStoreKey(key string) ManagerOption {
	return func(m *CredentialsManager) {
		if key != "" {
			m.storeKey = key
		}
	}
}

// WithClock replaces the wall clock (used by tests)
func WithClock(clock clockwork.Clock) ManagerOption {
	return func(m *CredentialsManager) {
		m.clock = clock
	}
}

// WithLogger sets the logger; the default discards everything
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *CredentialsManager) {
		m.logger = logger
	}
}

// WithBiometricAuthenticator supplies the platform prompt used once
// EnableBiometrics has been called
func WithBiometricAuthenticator(auth BiometricAuthenticator) ManagerOption {
	return func(m *CredentialsManager) {
		m.biometry = auth
	}
}

// WithRevoker sets the collaborator used by Revoke. When not set and the
// Renewer also implements Revoker, the Renewer is used.
func WithRevoker(r Revoker) ManagerOption {
	return func(m *CredentialsManager) {
		m.revoker = r
	}
}

// NewCredentialsManager creates a manager persisting into storage and
// refreshing through renewer
func NewCredentialsManager(storage Storage, renewer Renewer, opts ...ManagerOption) *CredentialsManager {
	m := &CredentialsManager{
		storage:  storage,
		renewer:  renewer,
		storeKey: DefaultStoreKey,
		clock:    clockwork.NewRealClock(),
		logger:   zerolog.Nop(),
	}
	if r, ok := renewer.(Revoker); ok {
		m.revoker = r
	}

	for _, opt := range opts {
		opt(m)
	}

	m.gate = newBiometricGate(m.clock, m.biometry)
	m.logger = m.logger.With().Str("component", "credentials_manager").Str("store_key", m.storeKey).Logger()
	return m
}

// StoreKey returns the key the bundle is stored under
func (m *CredentialsManager) StoreKey() string {
	return m.storeKey
}

// Store persists the bundle, replacing whatever was stored before
func (m *CredentialsManager) Store(creds *Credentials) bool {
	if err := m.save(creds); err != nil {
		m.logger.Error().Err(err).Msg("failed to store credentials")
		return false
	}
	return true
}

// HasValid returns true if a decodable bundle is stored and its access token
// has not expired
func (m *CredentialsManager) HasValid() bool {
	creds, err := m.load()
	if err != nil {
		return false
	}
	return !creds.IsExpired(m.clock.Now())
}

// Clear removes the stored bundle and resets the biometric session.
// Clearing an empty store succeeds.
func (m *CredentialsManager) Clear() bool {
	m.gate.clear()
	if err := m.storage.DeleteEntry(m.storeKey); err != nil {
		m.logger.Error().Err(err).Msg("failed to clear credentials")
		return false
	}
	m.logger.Debug().Msg("credentials cleared")
	return true
}

// Credentials returns a usable bundle. A stored bundle that satisfies the
// requested minimum TTL and scope is returned without any network call;
// otherwise it is refreshed, with concurrent callers sharing one refresh.
func (m *CredentialsManager) Credentials(ctx context.Context, opts ...RetrieveOption) (*Credentials, error) {
	ro := newRetrieveOptions(opts)

	if err := m.checkBiometrics(ctx); err != nil {
		return nil, err
	}

	creds, err := m.load()
	if err != nil {
		return nil, err
	}
	if !m.needsRenew(creds, ro) {
		return creds, nil
	}
	if !creds.HasRefreshToken() {
		return nil, ErrNoRefreshToken
	}
	return m.renew(ctx, ro, false)
}

// Renew refreshes the stored bundle unconditionally. Joining a refresh that
// is already running counts only if that refresh replaced the access token
// seen here; otherwise Renew starts its own.
func (m *CredentialsManager) Renew(ctx context.Context, opts ...RetrieveOption) (*Credentials, error) {
	ro := newRetrieveOptions(opts)

	if err := m.checkBiometrics(ctx); err != nil {
		return nil, err
	}

	creds, err := m.load()
	if err != nil {
		return nil, err
	}
	if !creds.HasRefreshToken() {
		return nil, ErrNoRefreshToken
	}
	renewed, err := m.renew(ctx, ro, true)
	if err == nil && renewed.AccessToken == creds.AccessToken {
		m.logger.Debug().Msg("joined refresh kept the current token, refreshing again")
		renewed, err = m.renew(ctx, ro, true)
	}
	return renewed, err
}

// Revoke revokes the stored refresh token and then clears the bundle.
// With nothing stored, or no refresh token, it only clears. If revocation
// fails the bundle is kept.
func (m *CredentialsManager) Revoke(ctx context.Context) error {
	creds, err := m.load()
	switch {
	case errors.Is(err, ErrNoCredentials):
		m.Clear()
		return nil
	case err != nil:
		return err
	}

	if creds.HasRefreshToken() {
		if m.revoker == nil {
			return newErrorf(CodeRevokeFailed, "no revoker configured")
		}
		if err := m.revoker.Revoke(ctx, creds.RefreshToken); err != nil {
			m.logger.Warn().Err(err).Msg("refresh token revocation failed")
			return newError(CodeRevokeFailed, err)
		}
	}

	if !m.Clear() {
		return newErrorf(CodeStorageFailure, "credentials revoked but could not be cleared")
	}
	return nil
}

// EnableBiometrics gates every retrieval behind the biometric prompt,
// shown with title, according to policy. Stored credentials are untouched.
func (m *CredentialsManager) EnableBiometrics(title string, policy BiometricPolicy) {
	m.gate.enable(title, policy)
	m.logger.Debug().Str("policy", policy.String()).Msg("biometrics enabled")
}

// ClearBiometricSession forgets any earlier successful biometric check so the
// next retrieval prompts again
func (m *CredentialsManager) ClearBiometricSession() {
	m.gate.clear()
}

// IsBiometricSessionValid reports whether a retrieval right now would skip the prompt
func (m *CredentialsManager) IsBiometricSessionValid() bool {
	return m.gate.sessionValid()
}

func (m *CredentialsManager) checkBiometrics(ctx context.Context) error {
	if err := m.gate.check(ctx); err != nil {
		m.logger.Debug().Err(err).Msg("biometric check failed")
		return newError(CodeBiometricsFailed, err)
	}
	return nil
}

func (m *CredentialsManager) needsRenew(creds *Credentials, ro retrieveOptions) bool {
	return creds.ExpiresWithin(m.clock.Now(), ro.minTTL) || scopeChanged(creds.Scope, ro.params.Scope)
}

func (m *CredentialsManager) renew(ctx context.Context, ro retrieveOptions, force bool) (*Credentials, error) {
	creds, err := m.refresh.do(ctx, func(ctx context.Context) (*Credentials, error) {
		return m.refreshStored(ctx, ro, force)
	})
	if err != nil {
		return nil, err
	}
	if ro.minTTL > 0 && creds.ExpiresWithin(m.clock.Now(), ro.minTTL) {
		lifetime := creds.ExpiresAt.Sub(m.clock.Now()).Round(time.Second)
		return nil, newErrorf(CodeLargeMinTTL, "minimum TTL %s exceeds token lifetime %s", ro.minTTL, lifetime)
	}
	return creds, nil
}

// refreshStored is the single-flight operation. It re-reads storage first:
// a refresh that finished between the caller's read and now has already
// rotated the refresh token, and its result should be reused.
func (m *CredentialsManager) refreshStored(ctx context.Context, ro retrieveOptions, force bool) (*Credentials, error) {
	creds, err := m.load()
	if err != nil {
		return nil, err
	}
	if !force && !m.needsRenew(creds, ro) {
		return creds, nil
	}
	if !creds.HasRefreshToken() {
		return nil, ErrNoRefreshToken
	}

	m.logger.Debug().Time("expires_at", creds.ExpiresAt).Bool("forced", force).Msg("refreshing credentials")
	renewed, err := m.renewer.Renew(ctx, creds.RefreshToken, ro.params)
	if err != nil {
		m.logger.Warn().Err(err).Msg("credentials refresh failed")
		return nil, newError(CodeRefreshFailed, err)
	}
	if renewed == nil || renewed.AccessToken == "" {
		return nil, newErrorf(CodeRefreshFailed, "token endpoint returned no access token")
	}

	merged := creds.merge(renewed, ro.params.Scope)
	if err := m.save(merged); err != nil {
		m.logger.Error().Err(err).Msg("refreshed credentials could not be stored")
		return nil, err
	}
	if requested := ParseScopes(ro.params.Scope); !merged.HasScopes(requested...) {
		m.logger.Warn().
			Str("requested", ro.params.Scope).
			Str("granted", merged.Scope).
			Msg("provider granted fewer scopes than requested")
	}
	m.logger.Info().
		Time("expires_at", merged.ExpiresAt).
		Bool("refresh_token_rotated", renewed.RefreshToken != "").
		Msg("credentials refreshed")
	return merged, nil
}

// load reads and decodes the stored bundle
func (m *CredentialsManager) load() (*Credentials, error) {
	data, err := m.storage.GetEntry(m.storeKey)
	if err != nil {
		return nil, newError(CodeStorageFailure, err)
	}
	if data == nil {
		return nil, ErrNoCredentials
	}
	creds, err := DecodeCredentials(data)
	if err != nil {
		return nil, newError(CodeNoCredentials, err)
	}
	return creds, nil
}

func (m *CredentialsManager) save(creds *Credentials) error {
	data, err := EncodeCredentials(creds)
	if err != nil {
		return newError(CodeStorageFailure, err)
	}
	if err := m.storage.SetEntry(m.storeKey, data); err != nil {
		return newError(CodeStorageFailure, fmt.Errorf("failed to write %q: %w", m.storeKey, err))
	}
	return nil
}

// RetrieveOption customises a Credentials or Renew call
type RetrieveOption func(*retrieveOptions)

type retrieveOptions struct {
	minTTL time.Duration
	params RenewParameters
}

func newRetrieveOptions(opts []RetrieveOption) retrieveOptions {
	var ro retrieveOptions
	for _, opt := range opts {
		opt(&ro)
	}
	return ro
}

// WithMinTTL requires the returned access token to stay valid for at least d
func WithMinTTL(d time.Duration) RetrieveOption {
	return func(o *retrieveOptions) {
		if d > 0 {
			o.minTTL = d
		}
	}
}

// WithScope requests scope; a stored bundle with a different scope is renewed
func WithScope(scope string) RetrieveOption {
	return func(o *retrieveOptions) {
		o.params.Scope = scope
	}
}

// WithAudience is forwarded to the token endpoint when a refresh happens
func WithAudience(audience string) RetrieveOption {
	return func(o *retrieveOptions) {
		o.params.Audience = audience
	}
}

// WithParameters adds extra form fields to the refresh request
func WithParameters(params map[string]string) RetrieveOption {
	return func(o *retrieveOptions) {
		if o.params.Parameters == nil {
			o.params.Parameters = make(map[string]string, len(params))
		}
		for k, v := range params {
			o.params.Parameters[k] = v
		}
	}
}
