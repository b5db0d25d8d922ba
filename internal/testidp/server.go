// Package testidp runs an in-process OAuth2/OIDC identity provider for tests.
// It serves the token, revoke, userinfo, discovery and JWKS endpoints plus a
// subset of the users management API, and counts every refresh_token grant.
package testidp

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
)

const keyID = "testidp-1"

// Identity is a linked identity on a user
type Identity struct {
	Provider   string `json:"provider"`
	UserID     string `json:"user_id"`
	Connection string `json:"connection,omitempty"`
	IsSocial   bool   `json:"isSocial"`
}

// User is an account known to the provider
type User struct {
	ID            string         `json:"user_id"`
	Email         string         `json:"email,omitempty"`
	EmailVerified bool           `json:"email_verified"`
	Name          string         `json:"name,omitempty"`
	Nickname      string         `json:"nickname,omitempty"`
	Picture       string         `json:"picture,omitempty"`
	Blocked       bool           `json:"blocked,omitempty"`
	UserMetadata  map[string]any `json:"user_metadata,omitempty"`
	AppMetadata   map[string]any `json:"app_metadata,omitempty"`
	Identities    []Identity     `json:"identities"`
	Password      string         `json:"-"`
}

type grant struct {
	subject string
	scope   string
}

type authCode struct {
	subject     string
	scope       string
	challenge   string
	redirectURI string
}

type failure struct {
	status      int
	code        string
	description string
}

// Server is a fake identity provider backed by httptest
type Server struct {
	ClientID string

	server   *httptest.Server
	key      *rsa.PrivateKey
	clock    clockwork.Clock
	tokenTTL time.Duration
	rotate   bool

	mu            sync.Mutex
	users         map[string]*User
	refreshTokens map[string]grant
	accessTokens  map[string]string
	codes         map[string]authCode
	revoked       []string
	failures      []failure
	refreshCalls  int
	seq           int
	requestIDs    []string
	lastForm      map[string]string
}

// Option configures a Server
type Option func(*Server)

// WithClock sets the clock used for token expiry
func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

// WithTokenTTL sets the lifetime of issued access tokens (default 1h)
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Server) { s.tokenTTL = ttl }
}

// WithRefreshRotation makes every refresh_token grant return a new refresh
// token and invalidate the old one
func WithRefreshRotation() Option {
	return func(s *Server) { s.rotate = true }
}

// New starts a provider that accepts clientID. Call Close when done.
func New(clientID string, opts ...Option) *Server {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(fmt.Sprintf("testidp: generate key: %v", err))
	}

	s := &Server{
		ClientID:      clientID,
		key:           key,
		clock:         clockwork.NewRealClock(),
		tokenTTL:      time.Hour,
		users:         make(map[string]*User),
		refreshTokens: make(map[string]grant),
		accessTokens:  make(map[string]string),
		codes:         make(map[string]authCode),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.Use(s.recordRequestID)
	r.HandleFunc("/.well-known/openid-configuration", s.handleDiscovery).Methods(http.MethodGet)
	r.HandleFunc("/.well-known/jwks.json", s.handleJWKS).Methods(http.MethodGet)
	r.HandleFunc("/oauth/token", s.handleToken).Methods(http.MethodPost)
	r.HandleFunc("/oauth/revoke", s.handleRevoke).Methods(http.MethodPost)
	r.HandleFunc("/userinfo", s.handleUserInfo).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v2").Subrouter()
	api.Use(s.requireAccessToken)
	api.HandleFunc("/users/{id}", s.handleGetUser).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}", s.handlePatchUser).Methods(http.MethodPatch)
	api.HandleFunc("/users/{id}/identities", s.handleLinkIdentity).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}/identities/{provider}/{userID}", s.handleUnlinkIdentity).Methods(http.MethodDelete)

	s.server = httptest.NewServer(r)
	return s
}

// URL is the provider's base URL (the "domain" clients are configured with)
func (s *Server) URL() string { return s.server.URL }

// Issuer is the iss claim of issued ID tokens
func (s *Server) Issuer() string { return s.server.URL + "/" }

// Close shuts the server down
func (s *Server) Close() { s.server.Close() }

// AddUser registers a user; a user without identities gets a database one
func (s *Server) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(u.Identities) == 0 {
		provider, id, _ := strings.Cut(u.ID, "|")
		u.Identities = []Identity{{Provider: provider, UserID: id, Connection: "Username-Password-Authentication"}}
	}
	s.users[u.ID] = &u
}

// User returns a copy of a registered user
func (s *Server) User(id string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// IssueRefreshToken creates a refresh token for subject outside any grant
func (s *Server) IssueRefreshToken(subject, scope string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newRefreshTokenLocked(subject, scope)
}

// IssueAccessToken creates an access token for subject outside any grant
func (s *Server) IssueAccessToken(subject string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newAccessTokenLocked(subject)
}

// AddAuthorizationCode registers a code redeemable once with the PKCE
// verifier matching challenge (S256)
func (s *Server) AddAuthorizationCode(code, subject, scope, challenge, redirectURI string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = authCode{subject: subject, scope: scope, challenge: challenge, redirectURI: redirectURI}
}

// FailNext makes the next token endpoint request fail with an OAuth error
func (s *Server) FailNext(status int, code, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{status: status, code: code, description: description})
}

// RefreshCount is the number of refresh_token grants received
func (s *Server) RefreshCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

// Revoked lists the refresh tokens revoked so far
func (s *Server) Revoked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.revoked...)
}

// RequestIDs lists the X-Request-Id headers seen, in order
func (s *Server) RequestIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requestIDs...)
}

// LastTokenForm returns the form fields of the most recent token request
func (s *Server) LastTokenForm() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastForm
}

// SignIDToken signs an RS256 ID token for subject with the provider's key
func (s *Server) SignIDToken(subject string, extra map[string]any) string {
	now := s.clock.Now()
	claims := jwt.MapClaims{
		"iss": s.Issuer(),
		"aud": s.ClientID,
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(s.tokenTTL).Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID
	signed, err := token.SignedString(s.key)
	if err != nil {
		panic(fmt.Sprintf("testidp: sign id token: %v", err))
	}
	return signed
}

func (s *Server) nextIDLocked(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *Server) newRefreshTokenLocked(subject, scope string) string {
	rt := s.nextIDLocked("rt")
	s.refreshTokens[rt] = grant{subject: subject, scope: scope}
	return rt
}

func (s *Server) newAccessTokenLocked(subject string) string {
	at := s.nextIDLocked("at")
	s.accessTokens[at] = subject
	return at
}

func (s *Server) recordRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Request-Id"); id != "" {
			s.mu.Lock()
			s.requestIDs = append(s.requestIDs, id)
			s.mu.Unlock()
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	base := s.server.URL
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                s.Issuer(),
		"authorization_endpoint":                base + "/authorize",
		"token_endpoint":                        base + "/oauth/token",
		"userinfo_endpoint":                     base + "/userinfo",
		"revocation_endpoint":                   base + "/oauth/revoke",
		"jwks_uri":                              base + "/.well-known/jwks.json",
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
	})
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	pub := s.key.PublicKey
	writeJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": keyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		errorResponse(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	form := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	s.lastForm = form

	if len(s.failures) > 0 {
		f := s.failures[0]
		s.failures = s.failures[1:]
		if r.PostForm.Get("grant_type") == "refresh_token" {
			s.refreshCalls++
		}
		errorResponse(w, f.code, f.description, f.status)
		return
	}

	clientID := r.PostForm.Get("client_id")
	if clientID == "" {
		clientID, _, _ = r.BasicAuth()
	}
	if clientID != s.ClientID {
		errorResponse(w, "invalid_client", "Unknown client", http.StatusUnauthorized)
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "refresh_token":
		s.handleRefreshTokenGrantLocked(w, r)
	case "password":
		s.handlePasswordGrantLocked(w, r)
	case "authorization_code":
		s.handleCodeGrantLocked(w, r)
	default:
		errorResponse(w, "unsupported_grant_type", "Grant type not supported", http.StatusBadRequest)
	}
}

func (s *Server) handleRefreshTokenGrantLocked(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls++
	rt := r.PostForm.Get("refresh_token")
	if rt == "" {
		errorResponse(w, "invalid_request", "Missing required parameter: refresh_token", http.StatusBadRequest)
		return
	}
	g, ok := s.refreshTokens[rt]
	if !ok {
		errorResponse(w, "invalid_grant", "Unknown or invalid refresh token.", http.StatusForbidden)
		return
	}
	if _, ok := s.users[g.subject]; !ok && len(s.users) > 0 {
		errorResponse(w, "invalid_grant", "The refresh_token was generated for a user who doesn't exist anymore.", http.StatusForbidden)
		return
	}

	scope := g.scope
	if requested := r.PostForm.Get("scope"); requested != "" {
		scope = requested
	}

	newRT := ""
	if s.rotate {
		delete(s.refreshTokens, rt)
		newRT = s.newRefreshTokenLocked(g.subject, g.scope)
	}
	s.tokenResponseLocked(w, g.subject, scope, newRT)
}

func (s *Server) handlePasswordGrantLocked(w http.ResponseWriter, r *http.Request) {
	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")

	var user *User
	for _, u := range s.users {
		if u.Email == username || u.ID == username {
			user = u
			break
		}
	}
	if user == nil || user.Password == "" || user.Password != password {
		errorResponse(w, "invalid_grant", "Wrong email or password.", http.StatusForbidden)
		return
	}
	if user.Blocked {
		errorResponse(w, "unauthorized", "user is blocked", http.StatusUnauthorized)
		return
	}

	scope := r.PostForm.Get("scope")
	rt := ""
	if hasScope(scope, "offline_access") {
		rt = s.newRefreshTokenLocked(user.ID, scope)
	}
	s.tokenResponseLocked(w, user.ID, scope, rt)
}

func (s *Server) handleCodeGrantLocked(w http.ResponseWriter, r *http.Request) {
	code, ok := s.codes[r.PostForm.Get("code")]
	if !ok {
		errorResponse(w, "invalid_grant", "Invalid authorization code", http.StatusForbidden)
		return
	}
	delete(s.codes, r.PostForm.Get("code"))

	if code.redirectURI != "" && code.redirectURI != r.PostForm.Get("redirect_uri") {
		errorResponse(w, "invalid_grant", "Redirect URI mismatch", http.StatusForbidden)
		return
	}
	if code.challenge != "" {
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != code.challenge {
			errorResponse(w, "invalid_grant", "Failed to verify code verifier", http.StatusForbidden)
			return
		}
	}

	rt := ""
	if hasScope(code.scope, "offline_access") {
		rt = s.newRefreshTokenLocked(code.subject, code.scope)
	}
	s.tokenResponseLocked(w, code.subject, code.scope, rt)
}

func (s *Server) tokenResponseLocked(w http.ResponseWriter, subject, scope, refreshToken string) {
	resp := map[string]any{
		"access_token": s.newAccessTokenLocked(subject),
		"token_type":   "Bearer",
		"expires_in":   int64(s.tokenTTL.Seconds()),
		"scope":        scope,
	}
	if refreshToken != "" {
		resp["refresh_token"] = refreshToken
	}
	if hasScope(scope, "openid") {
		extra := map[string]any{}
		if u, ok := s.users[subject]; ok {
			extra["email"] = u.Email
			extra["name"] = u.Name
			extra["nickname"] = u.Nickname
		}
		resp["id_token"] = s.SignIDToken(subject, extra)
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID string `json:"client_id"`
		Token    string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ClientID != s.ClientID {
		errorResponse(w, "invalid_client", "Unknown client", http.StatusUnauthorized)
		return
	}
	if req.Token == "" {
		errorResponse(w, "invalid_request", "Missing required parameter: token", http.StatusBadRequest)
		return
	}
	delete(s.refreshTokens, req.Token)
	s.revoked = append(s.revoked, req.Token)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.bearerSubject(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		errorResponse(w, "invalid_token", "Invalid access token", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	u, known := s.users[subject]
	s.mu.Unlock()

	info := map[string]any{"sub": subject}
	if known {
		info["email"] = u.Email
		info["email_verified"] = u.EmailVerified
		info["name"] = u.Name
		info["nickname"] = u.Nickname
		info["picture"] = u.Picture
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) bearerSubject(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	subject, ok := s.accessTokens[token]
	return subject, ok
}

func hasScope(scope, want string) bool {
	for _, s := range strings.Fields(scope) {
		if s == want {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorResponse sends an OAuth 2.0 compliant error response
func errorResponse(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
