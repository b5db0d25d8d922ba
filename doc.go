// Package authkit is a client SDK for OAuth2/OIDC identity providers. It
// keeps a user's token bundle in secure storage and hands out usable access
// tokens, renewing them on demand.
//
// # Architecture
//
// client: The CredentialsManager owns one stored bundle (access token, ID
// token, refresh token, expiry, scope). It decides when a bundle is usable,
// renews it through a Renewer with at most one refresh in flight, and can
// guard retrieval behind a biometric check.
//
// authentication: The provider's authentication API (token grants,
// revocation, user info, ID token verification). A *authentication.Client is
// the manager's Renewer and Revoker.
//
// management: User profile and identity linking through the management API,
// authorized with the manager's tokens.
//
// client/stores: Storage backends (memory, encrypted file, GORM, Cloud
// Datastore). Anything with GetEntry, SetEntry and DeleteEntry works.
//
// grpc: Per-RPC credentials and interceptors that attach the manager's
// bearer token to gRPC calls, plus server interceptors that verify it.
//
// # Basic Usage
//
// Load configuration from AUTHKIT_* environment variables and build the SDK:
//
//	cfg, err := authkit.LoadConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sdk, err := authkit.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Store the bundle returned by a login:
//
//	creds, err := sdk.Auth.Login(ctx, "ada@example.com", password, cfg.Scope)
//	if err != nil {
//	    return err
//	}
//	sdk.Credentials.Store(creds)
//
// Retrieve a usable token later. An expired token is renewed first; a
// renewal already in flight is shared:
//
//	creds, err := sdk.Credentials.Credentials(ctx, client.WithMinTTL(time.Minute))
//	switch {
//	case errors.Is(err, client.ErrNoCredentials):
//	    // ask the user to log in
//	case errors.Is(err, client.ErrRefreshFailed):
//	    var authErr *authentication.Error
//	    if errors.As(err, &authErr) && authErr.IsInvalidGrant() {
//	        // the session is gone; log in again
//	    }
//	}
//
// Or let an http.Client do it:
//
//	resp, err := sdk.HTTPClient().Get("https://api.example.com/me")
//
// # Biometrics
//
// Install a platform authenticator with WithBiometricAuthenticator, then
// enable the gate with a policy:
//
//	sdk.Credentials.EnableBiometrics("Unlock your account", client.BiometricSession(5*time.Minute))
//
// BiometricAlways prompts on every retrieval, BiometricSession reuses a
// successful check for a period and BiometricAppLifecycle until
// ClearBiometricSession is called.
package authkit
