package authfront

import (
	"context"
	"time"

	"github.com/averlane/authfront/internal/log"
	"github.com/averlane/authfront/internal/pkce"
	"github.com/averlane/authfront/provider"
)

// OpenType selects the surface an authentication navigation uses.
type OpenType string

const (
	OpenTypePage OpenType = "page"
	OpenTypeTab  OpenType = "tab"
)

// ResponseLocation selects how the provider delivers the authorization code
// back to the application.
type ResponseLocation string

const (
	ResponseLocationQuery  ResponseLocation = "query"
	ResponseLocationCookie ResponseLocation = "cookie"
)

// AuthenticateOptions configures an authentication flow. Exactly one of
// ConnectionID and TenantLookupIdentifier must be set.
type AuthenticateOptions struct {
	ConnectionID           string
	TenantLookupIdentifier string
	ConnectionProperties   map[string]string
	RedirectURL            string
	FlowType               string
	ResponseLocation       ResponseLocation
	Force                  bool
	MultiAccount           bool
	OpenType               OpenType
}

func (o *AuthenticateOptions) validate() error {
	if (o.ConnectionID == "") == (o.TenantLookupIdentifier == "") {
		return newError(ErrInvalidConnection, "exactly one of connection id and tenant lookup identifier is required")
	}
	switch o.ResponseLocation {
	case "", ResponseLocationQuery, ResponseLocationCookie:
	default:
		return newError(ErrInvalidResponseLocation, "unsupported response location "+string(o.ResponseLocation))
	}
	switch o.OpenType {
	case "", OpenTypePage, OpenTypeTab:
	default:
		return newError(ErrInvalidResponseLocation, "unsupported open type "+string(o.OpenType))
	}
	return nil
}

// Authenticate starts a login flow against the provider. Unless Force or
// MultiAccount is set, it first runs the continuation sequence and returns
// true without any network flow when a session already exists. Otherwise it
// requests an authentication URL, persists the pending record, and navigates
// away; the call then stalls briefly so the calling UI does not race the
// navigation. The return value reports whether a session already existed.
func (c *Client) Authenticate(ctx context.Context, opts AuthenticateOptions) (bool, error) {
	if err := opts.validate(); err != nil {
		return false, err
	}

	if !opts.Force && !opts.MultiAccount {
		established, err := c.checkSession(ctx, false)
		if err != nil {
			log.LogDebugWithFields("authenticate", "pre-flight session check failed", map[string]any{
				"error": err.Error(),
			})
		} else if established {
			return true, nil
		}
	}

	if err := c.beginAuthentication(ctx, opts, provider.Auth{}); err != nil {
		return false, err
	}
	return false, nil
}

// LinkIdentity starts a flow that attaches another connection to the current
// identity. It requires an existing session and authenticates the request
// with cookie credentials or a bearer token per the credentialed-access flag.
func (c *Client) LinkIdentity(ctx context.Context, opts AuthenticateOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if _, ok := c.tokens.Get(); !ok {
		return newError(ErrNotLoggedIn, "linking an identity requires an existing session")
	}
	opts.FlowType = "link"
	return c.beginAuthentication(ctx, opts, c.auth())
}

// beginAuthentication is the shared PKCE-request-and-redirect step.
func (c *Client) beginAuthentication(ctx context.Context, opts AuthenticateOptions, auth provider.Auth) error {
	verifier, err := pkce.Verifier()
	if err != nil {
		return err
	}

	c.tokens.Clear()

	redirectURL := opts.RedirectURL
	if redirectURL == "" {
		if loc, ok := c.env.Location(); ok {
			redirectURL = loc.String()
		}
	}

	resp, err := c.transport.RequestAuthentication(ctx, provider.AuthenticationRequest{
		RedirectURL:            redirectURL,
		CodeChallengeMethod:    "S256",
		CodeChallenge:          pkce.Challenge(verifier),
		ConnectionID:           opts.ConnectionID,
		TenantLookupIdentifier: opts.TenantLookupIdentifier,
		ConnectionProperties:   opts.ConnectionProperties,
		ResponseLocation:       string(opts.ResponseLocation),
		FlowType:               opts.FlowType,
		MultiAccount:           opts.MultiAccount,
	}, auth)
	if err != nil {
		return translateProviderError(err)
	}

	if resp.EnableCredentials != nil {
		c.setCredentialed(*resp.EnableCredentials)
	}

	// A second flow overwrites any pending record; only one can be in flight.
	if err := c.storePending(pendingAuthentication{
		Nonce:                  resp.AuthenticationRequestID,
		CodeVerifier:           verifier,
		LastConnectionID:       opts.ConnectionID,
		TenantLookupIdentifier: opts.TenantLookupIdentifier,
		RedirectURL:            redirectURL,
		EnableCredentials:      resp.EnableCredentials,
		MultiAccount:           opts.MultiAccount,
	}); err != nil {
		return err
	}

	return c.navigateAndStall(ctx, resp.AuthenticationURL, opts.OpenType)
}

func (c *Client) navigateAndStall(ctx context.Context, target string, openType OpenType) error {
	var err error
	if openType == OpenTypeTab {
		err = c.env.OpenTab(target)
	} else {
		err = c.env.Navigate(target)
	}
	if err != nil {
		return err
	}

	// Stall so the caller's UI does not race the navigation.
	if c.navigationDelay > 0 {
		timer := time.NewTimer(c.navigationDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// UpdateAuthenticationRequest resumes a pending extension-style flow with the
// connection the user picked, then navigates to the provider's continuation
// URL. Exactly one of connectionID and tenantLookupIdentifier must be set.
func (c *Client) UpdateAuthenticationRequest(ctx context.Context, requestID, connectionID, tenantLookupIdentifier string) error {
	if requestID == "" {
		return newError(ErrInvalidAuthenticationRequest, "missing authentication request id")
	}
	if (connectionID == "") == (tenantLookupIdentifier == "") {
		return newError(ErrInvalidConnection, "exactly one of connection id and tenant lookup identifier is required")
	}

	resp, err := c.transport.UpdateAuthentication(ctx, requestID, provider.AuthenticationUpdate{
		ConnectionID:           connectionID,
		TenantLookupIdentifier: tenantLookupIdentifier,
	})
	if err != nil {
		return translateProviderError(err)
	}
	return c.navigateAndStall(ctx, resp.AuthenticationURL, OpenTypePage)
}

// UnlinkIdentity detaches a linked connection from the current identity.
func (c *Client) UnlinkIdentity(ctx context.Context, connectionID string) error {
	if connectionID == "" {
		return newError(ErrInvalidConnection, "connection id is required")
	}
	if _, ok := c.tokens.Get(); !ok {
		return newError(ErrNotLoggedIn, "unlinking an identity requires an existing session")
	}
	if err := c.transport.Unlink(ctx, connectionID, c.auth()); err != nil {
		return translateProviderError(err)
	}
	return nil
}

// SessionCredentials fetches provider-issued connection credentials for the
// current session.
func (c *Client) SessionCredentials(ctx context.Context) (map[string]any, error) {
	creds, err := c.transport.Credentials(ctx, c.auth())
	if err != nil {
		return nil, translateProviderError(err)
	}
	return creds, nil
}

// EnsureToken runs the continuation sequence, waits up to timeout for a
// session to be established, and returns the access token from the cookie
// store. A zero timeout means 5 seconds. The returned token is empty when the
// cookie is absent or holds the browser-managed placeholder. A timeout stops
// this caller's wait only; the session signal can still resolve later.
func (c *Client) EnsureToken(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = defaultEnsureTokenTimeout
	}

	if _, err := c.checkSession(ctx, false); err != nil {
		log.LogDebugWithFields("session", "session check failed while ensuring token", map[string]any{
			"error": err.Error(),
		})
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.Session().Done():
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", newError(ErrTokenTimeout, "timed out waiting for a session")
	}

	token, ok := c.env.Cookie(AuthorizationCookie)
	if !ok || token == placeholderToken {
		return "", nil
	}
	return token, nil
}

// Logout clears local credentials. Without credentialed access it navigates
// to the provider's logout endpoint with redirectURL as the return target.
// With credentialed access it resets the session signal to a fresh instance
// and asks the provider to delete the server-side session, ignoring failures.
func (c *Client) Logout(ctx context.Context, redirectURL string) error {
	c.tokens.Clear()
	c.env.ClearCookie(AuthorizationCookie)

	if !c.CredentialedAccess() {
		return c.env.Navigate(c.transport.LogoutURL(redirectURL))
	}

	c.mu.Lock()
	c.signal = newSessionSignal()
	c.lastVerdict = false
	c.lastCheck = time.Time{}
	c.mu.Unlock()

	if err := c.transport.DeleteSession(ctx, provider.Auth{Credentialed: true}); err != nil {
		log.LogDebugWithFields("session", "server-side logout failed", map[string]any{
			"error": err.Error(),
		})
	}
	return nil
}
