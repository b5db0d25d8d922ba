package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// BiometricAuthenticator is the platform primitive that shows a biometric or
// passcode prompt. Authenticate blocks until the user responds or ctx is done.
type BiometricAuthenticator interface {
	Authenticate(ctx context.Context, reason string) error
}

// BiometricAvailability is optionally implemented by a BiometricAuthenticator
// that can tell in advance whether the device is able to evaluate a check.
type BiometricAvailability interface {
	Available() bool
}

// BiometricAuthenticatorFunc adapts a function to BiometricAuthenticator
type BiometricAuthenticatorFunc func(ctx context.Context, reason string) error

// Authenticate calls f(ctx, reason)
func (f BiometricAuthenticatorFunc) Authenticate(ctx context.Context, reason string) error {
	return f(ctx, reason)
}

type biometricPolicyKind int

const (
	policyAlways biometricPolicyKind = iota
	policySession
	policyAppLifecycle
)

// BiometricPolicy controls how often the biometric prompt is shown
type BiometricPolicy struct {
	kind    biometricPolicyKind
	timeout time.Duration
}

// BiometricAlways prompts on every retrieval
func BiometricAlways() BiometricPolicy {
	return BiometricPolicy{kind: policyAlways}
}

// BiometricSession prompts once and trusts the result until timeout has
// elapsed since the last successful check
func BiometricSession(timeout time.Duration) BiometricPolicy {
	if timeout < 0 {
		timeout = 0
	}
	return BiometricPolicy{kind: policySession, timeout: timeout}
}

// BiometricAppLifecycle prompts once per process, until ClearBiometricSession
func BiometricAppLifecycle() BiometricPolicy {
	return BiometricPolicy{kind: policyAppLifecycle}
}

// Timeout returns the session timeout; zero for the other policies
func (p BiometricPolicy) Timeout() time.Duration {
	return p.timeout
}

func (p BiometricPolicy) String() string {
	switch p.kind {
	case policySession:
		return fmt.Sprintf("session(%s)", p.timeout)
	case policyAppLifecycle:
		return "app_lifecycle"
	default:
		return "always"
	}
}

// biometricGate holds the Unverified / Verified(since) state for one manager.
// State lives in memory only and is gone after a restart.
type biometricGate struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	auth     BiometricAuthenticator
	enabled  bool
	title    string
	policy   BiometricPolicy
	verified bool
	since    time.Time

	// one prompt at a time; a waiter re-checks the session afterwards
	promptSem chan struct{}
}

func newBiometricGate(clock clockwork.Clock, auth BiometricAuthenticator) *biometricGate {
	return &biometricGate{
		clock:     clock,
		auth:      auth,
		policy:    BiometricAlways(),
		promptSem: make(chan struct{}, 1),
	}
}

func (g *biometricGate) enable(title string, policy BiometricPolicy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = true
	g.title = title
	g.policy = policy
	g.verified = false
}

func (g *biometricGate) isEnabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

func (g *biometricGate) clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verified = false
	g.since = time.Time{}
}

func (g *biometricGate) sessionValid() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.validLocked()
}

// validLocked evaluates the Verified state against the active policy and
// drops back to Unverified when a session has timed out. Caller must hold g.mu.
func (g *biometricGate) validLocked() bool {
	if !g.verified {
		return false
	}
	switch g.policy.kind {
	case policyAppLifecycle:
		return true
	case policySession:
		if g.clock.Since(g.since) <= g.policy.timeout {
			return true
		}
		g.verified = false
		return false
	default:
		return false
	}
}

// check lets the caller through immediately when the session is still
// verified and otherwise runs the platform prompt.
func (g *biometricGate) check(ctx context.Context) error {
	g.mu.Lock()
	if !g.enabled || g.validLocked() {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	select {
	case g.promptSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.promptSem }()

	g.mu.Lock()
	if g.validLocked() {
		g.mu.Unlock()
		return nil
	}
	auth, title := g.auth, g.title
	g.mu.Unlock()

	if auth == nil {
		return ErrBiometricsUnavailable
	}
	if a, ok := auth.(BiometricAvailability); ok && !a.Available() {
		return ErrBiometricsUnavailable
	}
	if err := auth.Authenticate(ctx, title); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.policy.kind != policyAlways {
		g.verified = true
		g.since = g.clock.Now()
	}
	return nil
}
