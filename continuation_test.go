package authfront

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/averlane/authfront/provider"
)

func TestCheckSessionFreshPageNoSession(t *testing.T) {
	transport := &fakeTransport{refreshErr: errors.New("no session cookie")}
	client, _ := newTestClient(t, "https://app.example.com/", transport)

	established, err := client.CheckSession(context.Background())
	require.NoError(t, err)
	assert.False(t, established)
	assert.Equal(t, 1, transport.refreshCount(), "silent refresh should have been attempted")
	assert.False(t, client.Session().Resolved())
}

func TestCheckSessionCodeExchange(t *testing.T) {
	idToken := testIdentityToken(t, jwt.MapClaims{"sub": "user-1"})
	transport := &fakeTransport{
		exchangeResp: &provider.SessionTokens{
			AccessToken: "at-1",
			IDToken:     idToken,
			ExpiresAt:   testNow.Add(time.Hour),
		},
	}
	client, env := newTestClient(t, "https://app.example.com/?code=abc123&nonce=N1&iss=https%3A%2F%2Fauth.example.com", transport)
	storePendingRecord(t, env, pendingAuthentication{
		Nonce:        "N1",
		CodeVerifier: "verifier-1",
		RedirectURL:  "https://app.test/",
	})

	established, err := client.CheckSession(context.Background())
	require.NoError(t, err)
	assert.True(t, established)

	transport.mu.Lock()
	assert.Equal(t, "N1", transport.lastExchange.nonce)
	assert.Equal(t, "abc123", transport.lastExchange.code)
	assert.Equal(t, "verifier-1", transport.lastExchange.verifier)
	assert.Equal(t, "https://app.test/", transport.lastExchange.redirectURL)
	transport.mu.Unlock()

	cookie, ok := env.Cookie(AuthorizationCookie)
	require.True(t, ok)
	assert.Equal(t, "at-1", cookie)

	identity, ok := client.IdentityClaims()
	require.True(t, ok)
	assert.Equal(t, "user-1", identity["sub"])

	assert.True(t, client.Session().Resolved())

	loc, ok := env.Location()
	require.True(t, ok)
	query := loc.Query()
	assert.Empty(t, query.Get("code"))
	assert.Empty(t, query.Get("nonce"))
	assert.Empty(t, query.Get("iss"))
}

func TestCheckSessionNonceReplay(t *testing.T) {
	transport := &fakeTransport{}
	client, env := newTestClient(t, "https://app.example.com/?code=abc123&nonce=ATTACKER", transport)
	storePendingRecord(t, env, pendingAuthentication{Nonce: "N1", CodeVerifier: "v", RedirectURL: "https://app.test/"})

	_, err := client.CheckSession(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrInvalidNonce, CodeOf(err))
	assert.Equal(t, 0, transport.exchangeCount(), "no exchange may run on a replayed nonce")

	_, ok := client.IdentityClaims()
	assert.False(t, ok, "token store must be untouched")
	_, ok = env.Cookie(AuthorizationCookie)
	assert.False(t, ok)
}

func TestCheckSessionCodeDeliveredViaCookie(t *testing.T) {
	transport := &fakeTransport{
		exchangeResp: &provider.SessionTokens{AccessToken: "at-1", ExpiresAt: testNow.Add(time.Hour)},
	}
	client, env := newTestClient(t, "https://app.example.com/?code=cookie&nonce=N1", transport)
	env.SetCookie(authCodeCookie, "real-code", testNow.Add(time.Minute))
	storePendingRecord(t, env, pendingAuthentication{Nonce: "N1", CodeVerifier: "v", RedirectURL: "https://app.test/"})

	established, err := client.CheckSession(context.Background())
	require.NoError(t, err)
	assert.True(t, established)

	transport.mu.Lock()
	assert.Equal(t, "real-code", transport.lastExchange.code)
	transport.mu.Unlock()

	_, ok := env.Cookie(authCodeCookie)
	assert.False(t, ok, "one-time code cookie should be cleared")
}

func TestCheckSessionConnectionPickerMarker(t *testing.T) {
	transport := &fakeTransport{}
	client, env := newTestClient(t, "https://app.example.com/?state=s1&flow=picker&code=abc", transport)
	storePendingRecord(t, env, pendingAuthentication{Nonce: "N1"})

	established, err := client.CheckSession(context.Background())
	require.NoError(t, err)
	assert.False(t, established)
	assert.Equal(t, 0, transport.exchangeCount())
	assert.Equal(t, 0, transport.refreshCount(), "picker landing must not trigger a refresh")

	loc, _ := env.Location()
	assert.Equal(t, "s1", loc.Query().Get("state"), "picker parameters stay in place")
}

func TestCheckSessionLoopbackImplicit(t *testing.T) {
	idToken := testIdentityToken(t, jwt.MapClaims{"sub": "dev-user"})
	transport := &fakeTransport{}
	client, env := newTestClient(t,
		"http://localhost:3000/?nonce=N1&access_token=at-local&id_token="+idToken+"&expires_in=600",
		transport)
	storePendingRecord(t, env, pendingAuthentication{Nonce: "N1"})

	established, err := client.CheckSession(context.Background())
	require.NoError(t, err)
	assert.True(t, established)

	cookie, ok := env.Cookie(AuthorizationCookie)
	require.True(t, ok)
	assert.Equal(t, "at-local", cookie)

	identity, ok := client.IdentityClaims()
	require.True(t, ok)
	assert.Equal(t, "dev-user", identity["sub"])

	loc, _ := env.Location()
	assert.Empty(t, loc.Query().Get("access_token"))
	assert.Empty(t, loc.Query().Get("nonce"))
	assert.Equal(t, 0, transport.refreshCount(), "loopback never refreshes silently")
}

func TestCheckSessionLoopbackImplicitNonceMismatch(t *testing.T) {
	transport := &fakeTransport{}
	client, env := newTestClient(t, "http://127.0.0.1:3000/?nonce=WRONG&access_token=at", transport)
	storePendingRecord(t, env, pendingAuthentication{Nonce: "N1"})

	_, err := client.CheckSession(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrInvalidNonce, CodeOf(err))
	_, ok := env.Cookie(AuthorizationCookie)
	assert.False(t, ok)
}

func TestCheckSessionSilentRefreshAdoptsIdentity(t *testing.T) {
	idToken := testIdentityToken(t, jwt.MapClaims{"sub": "user-2"})
	transport := &fakeTransport{refreshResp: &provider.SessionTokens{IDToken: idToken}}
	client, _ := newTestClient(t, "https://app.example.com/", transport)

	established, err := client.CheckSession(context.Background())
	require.NoError(t, err)
	assert.True(t, established)

	identity, ok := client.IdentityClaims()
	require.True(t, ok)
	assert.Equal(t, "user-2", identity["sub"])
	assert.True(t, client.Session().Resolved())
}

func TestCheckSessionBackgroundSkipsRefresh(t *testing.T) {
	transport := &fakeTransport{}
	client, _ := newTestClient(t, "https://app.example.com/", transport)

	established, err := client.CheckSessionBackground(context.Background())
	require.NoError(t, err)
	assert.False(t, established)
	assert.Equal(t, 0, transport.refreshCount())
}

func TestCheckSessionPendingRecordOverridesCredentialedAccess(t *testing.T) {
	transport := &fakeTransport{refreshErr: errors.New("down")}
	client, env := newTestClient(t, "https://app.example.com/", transport)
	require.True(t, client.CredentialedAccess(), "same-site hosts start credentialed")

	off := false
	storePendingRecord(t, env, pendingAuthentication{EnableCredentials: &off})

	_, err := client.CheckSession(context.Background())
	require.NoError(t, err)
	assert.False(t, client.CredentialedAccess())

	_, ok := env.Take(pendingStorageKey)
	assert.False(t, ok, "pending record is consumed on read")
}

func TestCheckSessionCoalescesConcurrentCalls(t *testing.T) {
	gate := make(chan struct{})
	transport := &fakeTransport{refreshGate: gate, refreshErr: errors.New("no session")}
	client, _ := newTestClient(t, "https://app.example.com/", transport)

	results := make(chan bool, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			established, err := client.CheckSession(context.Background())
			assert.NoError(t, err)
			results <- established
		}()
	}

	// Let both callers reach the sequencing guard before releasing the
	// in-flight refresh.
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(results)

	for established := range results {
		assert.False(t, established)
	}
	assert.Equal(t, 1, transport.refreshCount(), "concurrent checks must share one network exchange")
}

func TestCheckSessionDebounceReplaysVerdict(t *testing.T) {
	transport := &fakeTransport{refreshErr: errors.New("no session")}
	client, _ := newTestClient(t, "https://app.example.com/", transport,
		WithDebounceWindow(50*time.Millisecond))

	_, err := client.CheckSession(context.Background())
	require.NoError(t, err)
	_, err = client.CheckSession(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, transport.refreshCount(), "second check inside the window replays the verdict")
}

func TestCheckSessionAlreadyLoggedIn(t *testing.T) {
	idToken := testIdentityToken(t, jwt.MapClaims{"sub": "user-1"})
	transport := &fakeTransport{
		exchangeResp: &provider.SessionTokens{AccessToken: "at", IDToken: idToken, ExpiresAt: testNow.Add(time.Hour)},
	}
	client, env := newTestClient(t, "https://app.example.com/?code=c&nonce=N1", transport)
	storePendingRecord(t, env, pendingAuthentication{Nonce: "N1", RedirectURL: "https://app.test/"})

	established, err := client.CheckSession(context.Background())
	require.NoError(t, err)
	require.True(t, established)

	// Second pass has no callback parameters left; the stored identity alone
	// sustains the session without network traffic.
	established, err = client.CheckSession(context.Background())
	require.NoError(t, err)
	assert.True(t, established)
	assert.Equal(t, 0, transport.refreshCount())
	assert.Equal(t, 1, transport.exchangeCount())
}
