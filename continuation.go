package authfront

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/averlane/authfront/internal/claims"
	"github.com/averlane/authfront/internal/log"
	"github.com/averlane/authfront/internal/samesite"
	"github.com/averlane/authfront/provider"
)

// CheckSession runs the per-navigation continuation sequence and reports
// whether a session exists. Call it on every page load or route change.
//
// Overlapping calls are coalesced onto one in-flight pass, and a call landing
// within the debounce window of the previous one replays its verdict, so a
// double-fired page-load hook cannot trigger a duplicate token exchange.
func (c *Client) CheckSession(ctx context.Context) (bool, error) {
	return c.checkSession(ctx, false)
}

// CheckSessionBackground is CheckSession for passive triggers such as
// visibility changes. It never initiates a silent session refresh.
func (c *Client) CheckSessionBackground(ctx context.Context) (bool, error) {
	return c.checkSession(ctx, true)
}

func (c *Client) checkSession(ctx context.Context, background bool) (bool, error) {
	c.mu.Lock()
	if !c.lastCheck.IsZero() && c.now().Sub(c.lastCheck) < c.debounceWindow {
		verdict := c.lastVerdict
		c.mu.Unlock()
		return verdict, nil
	}
	c.mu.Unlock()

	result, err, _ := c.group.Do("continuation", func() (any, error) {
		established, err := c.continuation(ctx, background)
		c.mu.Lock()
		c.lastCheck = c.now()
		if err == nil {
			c.lastVerdict = established
		}
		c.mu.Unlock()
		return established, err
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// continuation reconciles URL state, the pending authentication record, and
// stored credentials into a session verdict. It runs strictly serialized; the
// pending record, the cookie store, and the token store are only touched from
// here and from the explicit operations.
func (c *Client) continuation(ctx context.Context, background bool) (bool, error) {
	pending := c.takePending()
	if pending != nil && pending.EnableCredentials != nil {
		c.setCredentialed(*pending.EnableCredentials)
	}

	loc, hasLocation := c.env.Location()
	query := url.Values{}
	if hasLocation {
		query = loc.Query()
	}

	// The provider bounced back before authentication so the app can show its
	// own connection picker. No session yet; leave the parameters alone.
	if query.Get("state") != "" && query.Get("flow") != "" {
		return false, nil
	}

	if pending != nil && pending.Nonce != "" && query.Get("code") != "" {
		return c.consumeCodeCallback(ctx, loc, query, pending)
	}

	loopback := hasLocation && samesite.IsLoopback(loc.Host)

	if loopback && query.Get("access_token") != "" && query.Get("nonce") != "" {
		return c.consumeImplicitCallback(loc, query, pending)
	}

	if _, ok := c.tokens.Get(); ok {
		c.resolveSignal()
		return true, nil
	}

	if !background && !loopback {
		c.silentRefresh(ctx)
		if _, ok := c.tokens.Get(); ok {
			c.resolveSignal()
			return true, nil
		}
	}

	return false, nil
}

// consumeCodeCallback finishes the authorization-code flow on the redirect
// landing: nonce replay check, one-time parameter strip, code resolution, and
// the exchange itself.
func (c *Client) consumeCodeCallback(ctx context.Context, loc *url.URL, query url.Values, pending *pendingAuthentication) (bool, error) {
	if query.Get("nonce") != pending.Nonce {
		return false, newError(ErrInvalidNonce, "callback nonce does not match the pending authentication")
	}

	code := query.Get("code")
	c.stripQuery(loc, "nonce", "iss", "code")

	if code == codeViaCookie {
		v, ok := c.env.Cookie(authCodeCookie)
		if !ok {
			return false, newError(ErrInvalidAuthenticationRequest, "authorization code cookie is missing")
		}
		code = v
		c.env.ClearCookie(authCodeCookie)
	}

	tokens, err := c.transport.ExchangeCode(ctx, pending.Nonce, code, pending.CodeVerifier, pending.RedirectURL)
	if err != nil {
		return false, translateProviderError(err)
	}

	c.storeSession(tokens, time.Time{})
	c.resolveSignal()
	return true, nil
}

// consumeImplicitCallback handles the loopback-only implicit delivery, where
// tokens arrive directly in the URL. Used only for local development.
func (c *Client) consumeImplicitCallback(loc *url.URL, query url.Values, pending *pendingAuthentication) (bool, error) {
	if pending == nil || query.Get("nonce") != pending.Nonce {
		return false, newError(ErrInvalidNonce, "callback nonce does not match the pending authentication")
	}

	tokens := &provider.SessionTokens{
		AccessToken: query.Get("access_token"),
		IDToken:     query.Get("id_token"),
	}
	if seconds, err := strconv.ParseInt(query.Get("expires_in"), 10, 64); err == nil && seconds > 0 {
		tokens.ExpiresAt = c.now().Add(time.Duration(seconds) * time.Second)
	}
	c.stripQuery(loc, "nonce", "access_token", "id_token", "expires_in")

	c.storeSession(tokens, time.Time{})
	c.resolveSignal()
	return true, nil
}

// silentRefresh asks the provider for a fresh session. Failures are not fatal
// to the continuation; they just mean no session was found.
func (c *Client) silentRefresh(ctx context.Context) {
	resp, err := c.transport.RefreshSession(ctx, c.auth())
	if err != nil {
		log.LogDebugWithFields("session", "silent session refresh failed", map[string]any{
			"error": err.Error(),
		})
		return
	}

	if resp.AccessToken != "" {
		c.storeSession(resp, time.Time{})
		return
	}

	// No fresh access token: the provider refreshed the browser-managed
	// session and only an identity token came back. Adopt it, bounded by
	// fallbackSessionTTL when no lifetime is stated anywhere.
	if resp.IDToken != "" {
		expiry := resp.ExpiresAt
		if expiry.IsZero() {
			if m, ok := claims.Decode(resp.IDToken); ok {
				if e, ok := claims.Expiry(m); ok {
					expiry = e
				}
			}
		}
		if expiry.IsZero() {
			expiry = c.now().Add(fallbackSessionTTL)
		}
		c.tokens.Set(resp.IDToken, expiry)
	}
}

// storeSession persists the access token as a same-site cookie and the
// identity token in the token store, both bound to the same expiry. Expiry
// comes from the provider's stated lifetime, else the identity token's exp
// claim, else fallback when non-zero.
func (c *Client) storeSession(tokens *provider.SessionTokens, fallback time.Time) {
	expiry := tokens.ExpiresAt
	if expiry.IsZero() && tokens.IDToken != "" {
		if m, ok := claims.Decode(tokens.IDToken); ok {
			if e, ok := claims.Expiry(m); ok {
				expiry = e
			}
		}
	}
	if expiry.IsZero() {
		expiry = fallback
	}

	if tokens.AccessToken != "" {
		c.env.SetCookie(AuthorizationCookie, tokens.AccessToken, expiry)
	}
	if tokens.IDToken != "" {
		c.tokens.Set(tokens.IDToken, expiry)
	}
}

// stripQuery removes one-time query parameters from the visible URL without a
// full navigation.
func (c *Client) stripQuery(loc *url.URL, names ...string) {
	if loc == nil {
		return
	}
	stripped := *loc
	query := stripped.Query()
	for _, name := range names {
		query.Del(name)
	}
	stripped.RawQuery = query.Encode()
	c.env.ReplaceLocation(&stripped)
}
