// Package authfront is a session client for OAuth2 Authorization Code with
// PKCE against a remote identity provider.
//
// A Client is constructed once per surface lifetime with the provider URL, an
// application identifier, and an Environment describing the hosting surface.
// CheckSession runs on every page load or route change: it consumes redirect
// callbacks, exchanges authorization codes, refreshes silent sessions, and
// resolves a single shared session signal the first time a session is
// established. Authenticate, LinkIdentity, UnlinkIdentity, EnsureToken, and
// Logout cover the explicit user-invoked flows.
//
// Whether provider calls ride on browser-managed credentialed cookies or
// carry tokens manually is decided once at construction from the provider and
// page hosts, and can be overridden per flow by the provider.
package authfront
