// Package httpauth is HTTP middleware for services that accept access tokens
// issued to authkit clients. It resolves the caller from a bearer token (or a
// cookie carrying one) and either attaches it to the request context or
// rejects the request.
package httpauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/panyam/authkit/client"
)

type userContextKey struct{}

// Middleware resolves callers from access tokens.
type Middleware struct {
	// VerifyToken checks an access token; authentication.Client.UserInfo
	// fits. Required.
	VerifyToken func(ctx context.Context, token string) (*client.UserInfo, error)

	// AuthTokenHeaderName defaults to "Authorization"
	AuthTokenHeaderName string

	// AuthTokenCookieName, when set, is also searched for a token so
	// browser navigation works
	AuthTokenCookieName string

	// GetRedirURL returns the login page for unauthenticated requests.
	// Nil or "" answers 401 instead.
	GetRedirURL func(r *http.Request) string

	// CallbackURLParam names the query parameter carrying the original path
	// on redirects. Defaults to "callbackURL".
	CallbackURLParam string

	Logger zerolog.Logger
}

// EnsureReasonableDefaults fills in empty names.
func (a *Middleware) EnsureReasonableDefaults() {
	if a.AuthTokenHeaderName == "" {
		a.AuthTokenHeaderName = "Authorization"
	}
	if a.CallbackURLParam == "" {
		a.CallbackURLParam = "callbackURL"
	}
}

// UserFromContext returns the caller attached by ExtractUser or EnsureUser.
func UserFromContext(ctx context.Context) (*client.UserInfo, bool) {
	user, ok := ctx.Value(userContextKey{}).(*client.UserInfo)
	return user, ok && user != nil
}

// LoggedInUser resolves the caller of r, or nil. A user already attached to
// the context wins over any token.
func (a *Middleware) LoggedInUser(r *http.Request) *client.UserInfo {
	if user, ok := UserFromContext(r.Context()); ok {
		return user
	}
	if a.VerifyToken == nil {
		a.Logger.Warn().Msg("no access token verifier configured")
		return nil
	}

	var tokens []string
	for _, value := range r.Header.Values(a.AuthTokenHeaderName) {
		if token, ok := bearerToken(value); ok {
			tokens = append(tokens, token)
		}
	}
	if a.AuthTokenCookieName != "" {
		for _, cookie := range r.CookiesNamed(a.AuthTokenCookieName) {
			if cookie.Value != "" {
				tokens = append(tokens, cookie.Value)
			}
		}
	}

	for _, token := range tokens {
		user, err := a.VerifyToken(r.Context(), token)
		if err == nil && user != nil && user.Subject != "" {
			return user
		}
		if err != nil {
			a.Logger.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected access token")
		}
	}
	return nil
}

// ExtractUser attaches the caller, if any, and always calls next.
func (a *Middleware) ExtractUser(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := a.LoggedInUser(r); user != nil {
			r = withUser(r, user)
		}
		next.ServeHTTP(w, r)
	})
}

// EnsureUser rejects requests without a valid caller, redirecting to the
// login page when one is configured.
func (a *Middleware) EnsureUser(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := a.LoggedInUser(r)
		if user != nil {
			next.ServeHTTP(w, withUser(r, user))
			return
		}

		redirURL := ""
		if a.GetRedirURL != nil {
			redirURL = a.GetRedirURL(r)
		}
		if redirURL == "" {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			http.Error(w, "Login Failed", http.StatusUnauthorized)
			return
		}
		encoded := strings.ReplaceAll(url.QueryEscape(r.URL.Path), "+", "%20")
		http.Redirect(w, r, fmt.Sprintf("%s?%s=%s", redirURL, a.CallbackURLParam, encoded), http.StatusFound)
	})
}

func withUser(r *http.Request, user *client.UserInfo) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userContextKey{}, user))
}

func bearerToken(value string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(value), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
