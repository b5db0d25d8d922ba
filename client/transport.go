package client

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// Transport is an http.RoundTripper that authorizes requests with the
// manager's current access token. A 401 response triggers one forced renew
// and a single retry.
type Transport struct {
	Manager *CredentialsManager
	Base    http.RoundTripper
	Options []RetrieveOption
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	creds, err := t.Manager.Credentials(req.Context(), t.Options...)
	if err != nil {
		return nil, err
	}

	resp, err := t.base().RoundTrip(authorize(req, creds))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized || !creds.HasRefreshToken() || !rewindable(req) {
		return resp, nil
	}

	renewed, err := t.Manager.Renew(req.Context(), t.Options...)
	if err != nil {
		// keep the original 401 for the caller
		return resp, nil
	}
	resp.Body.Close()

	retry := req
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry = req.Clone(req.Context())
		retry.Body = body
	}
	return t.base().RoundTrip(authorize(retry, renewed))
}

func (t *Transport) base() http.RoundTripper {
	if t.Base == nil {
		return http.DefaultTransport
	}
	return t.Base
}

// rewindable reports whether the request can be sent a second time
func rewindable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// authorize clones the request to avoid mutating the original
func authorize(req *http.Request, creds *Credentials) *http.Request {
	req2 := req.Clone(req.Context())
	tokenType := creds.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	req2.Header.Set("Authorization", tokenType+" "+creds.AccessToken)
	return req2
}

// HTTPClient returns an http.Client whose requests carry the manager's
// access token, optionally on top of base
func (m *CredentialsManager) HTTPClient(base *http.Client, opts ...RetrieveOption) *http.Client {
	out := &http.Client{}
	var rt http.RoundTripper
	if base != nil {
		out.Timeout = base.Timeout
		out.CheckRedirect = base.CheckRedirect
		out.Jar = base.Jar
		rt = base.Transport
	}
	out.Transport = &Transport{Manager: m, Base: rt, Options: opts}
	return out
}

// TokenSource adapts the manager to oauth2.TokenSource, so it can be plugged
// into anything built on golang.org/x/oauth2
func (m *CredentialsManager) TokenSource(ctx context.Context, opts ...RetrieveOption) oauth2.TokenSource {
	return &managerTokenSource{ctx: ctx, manager: m, opts: opts}
}

type managerTokenSource struct {
	ctx     context.Context
	manager *CredentialsManager
	opts    []RetrieveOption
}

func (s *managerTokenSource) Token() (*oauth2.Token, error) {
	creds, err := s.manager.Credentials(s.ctx, s.opts...)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		TokenType:    creds.TokenType,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.ExpiresAt,
	}
	if creds.IDToken != "" {
		tok = tok.WithExtra(map[string]any{"id_token": creds.IDToken, "scope": creds.Scope})
	}
	return tok, nil
}

// CredentialsFromToken converts an oauth2.Token (for example from a password
// or authorization code exchange) into a storable bundle
func CredentialsFromToken(tok *oauth2.Token) *Credentials {
	creds := &Credentials{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.Type(),
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		creds.IDToken = idToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		creds.Scope = scope
	}
	return creds
}
