package authfront

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/averlane/authfront/internal/claims"
	"github.com/averlane/authfront/internal/log"
	"github.com/averlane/authfront/internal/samesite"
	"github.com/averlane/authfront/internal/tokenstore"
	"github.com/averlane/authfront/provider"
)

const (
	// AuthorizationCookie holds the raw access token, bound to its expiry.
	AuthorizationCookie = "authorization"

	// authCodeCookie carries the authorization code when the provider signals
	// cookie delivery instead of a query parameter.
	authCodeCookie = "auth-code"

	// codeViaCookie in the code query parameter signals that the real code is
	// in the auth-code cookie.
	codeViaCookie = "cookie"

	// placeholderToken in the authorization cookie means the real token is
	// browser-managed and not readable; it reads as absent.
	placeholderToken = "managed"

	// pendingStorageKey is the fixed single-slot store key for the pending
	// authentication record.
	pendingStorageKey = "authfront.pending"

	defaultEnsureTokenTimeout = 5 * time.Second
	defaultNavigationDelay    = 2 * time.Second
	defaultDebounceWindow     = 50 * time.Millisecond

	// fallbackSessionTTL bounds an identity adopted during silent refresh
	// when neither an explicit lifetime nor an exp claim is available.
	fallbackSessionTTL = 24 * time.Hour
)

// Transport issues requests against the identity provider. The default is
// *provider.Client; tests substitute a fake.
type Transport interface {
	RefreshSession(ctx context.Context, auth provider.Auth) (*provider.SessionTokens, error)
	RequestAuthentication(ctx context.Context, req provider.AuthenticationRequest, auth provider.Auth) (*provider.AuthenticationResponse, error)
	UpdateAuthentication(ctx context.Context, requestID string, req provider.AuthenticationUpdate) (*provider.AuthenticationResponse, error)
	ExchangeCode(ctx context.Context, nonce, code, verifier, redirectURL string) (*provider.SessionTokens, error)
	Credentials(ctx context.Context, auth provider.Auth) (map[string]any, error)
	Unlink(ctx context.Context, connectionID string, auth provider.Auth) error
	DeleteSession(ctx context.Context, auth provider.Auth) error
	LogoutURL(redirectURL string) string
}

// Client coordinates login state across page loads. It owns the continuation
// sequence, the single-resolution session signal, and the public login,
// logout, and token operations.
type Client struct {
	providerURL     *url.URL
	applicationID   string
	env             Environment
	transport       Transport
	httpClient      *http.Client
	tokens          *tokenstore.Store
	now             func() time.Time
	navigationDelay time.Duration
	debounceWindow  time.Duration

	group singleflight.Group

	mu           sync.Mutex
	signal       *SessionSignal
	credentialed bool
	lastVerdict  bool
	lastCheck    time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for provider calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithTransport replaces the provider transport entirely.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithNavigationDelay sets how long Authenticate stalls after issuing a
// navigation so the calling UI does not race it.
func WithNavigationDelay(d time.Duration) Option {
	return func(c *Client) { c.navigationDelay = d }
}

// WithDebounceWindow sets the window within which repeated session checks
// replay the previous verdict instead of re-running the continuation.
func WithDebounceWindow(d time.Duration) Option {
	return func(c *Client) { c.debounceWindow = d }
}

// New creates a session client for the identity provider at providerURL,
// acting as applicationID, hosted on env. The credentialed-access decision is
// computed once here from the provider host and the surface's current
// location; a pending authentication record can later override it.
func New(providerURL, applicationID string, env Environment, opts ...Option) (*Client, error) {
	if env == nil {
		return nil, fmt.Errorf("environment is required")
	}
	u, err := url.Parse(providerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid provider URL: %w", err)
	}

	c := &Client{
		providerURL:     u,
		applicationID:   applicationID,
		env:             env,
		now:             time.Now,
		navigationDelay: defaultNavigationDelay,
		debounceWindow:  defaultDebounceWindow,
		signal:          newSessionSignal(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.tokens == nil {
		c.tokens = tokenstore.New(c.now)
	}
	if c.transport == nil {
		transport, err := provider.New(providerURL, applicationID, c.httpClient, c.now)
		if err != nil {
			return nil, err
		}
		c.transport = transport
	}

	loc, _ := c.env.Location()
	c.credentialed = samesite.SharedSite(c.providerURL, loc)

	return c, nil
}

// Session returns the signal resolved when a session is first established.
// Logout under credentialed access replaces it; re-fetch after logging out.
func (c *Client) Session() *SessionSignal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signal
}

// CredentialedAccess reports whether provider calls currently rely on
// browser-managed cookies rather than manually carried tokens.
func (c *Client) CredentialedAccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credentialed
}

// IdentityClaims returns the decoded claims of the stored identity token, or
// false when no usable identity exists. The claims are display material; the
// token's signature is never verified here.
func (c *Client) IdentityClaims() (jwt.MapClaims, bool) {
	token, ok := c.tokens.Get()
	if !ok {
		return nil, false
	}
	return claims.Decode(token)
}

func (c *Client) setCredentialed(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credentialed = v
}

func (c *Client) resolveSignal() {
	c.Session().resolve()
}

// auth picks the authentication mode for a provider call: credentialed
// cookies when the flag allows, otherwise a bearer token read from the
// authorization cookie or the identity store.
func (c *Client) auth() provider.Auth {
	if c.CredentialedAccess() {
		return provider.Auth{Credentialed: true}
	}
	if v, ok := c.env.Cookie(AuthorizationCookie); ok && v != placeholderToken {
		return provider.Auth{Bearer: v}
	}
	if token, ok := c.tokens.Get(); ok {
		return provider.Auth{Bearer: token}
	}
	return provider.Auth{}
}

// pendingAuthentication is the single-slot record written before redirecting
// to the provider and consumed on the next surface's continuation pass.
type pendingAuthentication struct {
	Nonce                  string `json:"nonce"`
	CodeVerifier           string `json:"codeVerifier"`
	LastConnectionID       string `json:"lastConnectionId,omitempty"`
	TenantLookupIdentifier string `json:"tenantLookupIdentifier,omitempty"`
	RedirectURL            string `json:"redirectUrl"`
	EnableCredentials      *bool  `json:"enableCredentials,omitempty"`
	MultiAccount           bool   `json:"multiAccount,omitempty"`
}

func (c *Client) storePending(p pendingAuthentication) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode pending authentication: %w", err)
	}
	return c.env.Store(pendingStorageKey, data)
}

// takePending consumes the pending record; it is deleted even when malformed.
func (c *Client) takePending() *pendingAuthentication {
	data, ok := c.env.Take(pendingStorageKey)
	if !ok {
		return nil
	}
	var p pendingAuthentication
	if err := json.Unmarshal(data, &p); err != nil {
		log.LogDebugWithFields("session", "discarding malformed pending authentication record", map[string]any{
			"error": err.Error(),
		})
		return nil
	}
	return &p
}
