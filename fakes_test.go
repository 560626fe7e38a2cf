package authfront

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/averlane/authfront/provider"
)

// fakeTransport records provider calls and serves canned responses.
type fakeTransport struct {
	mu sync.Mutex

	refreshResp   *provider.SessionTokens
	refreshErr    error
	refreshGate   chan struct{} // when set, RefreshSession blocks until closed
	refreshCalls  int
	exchangeResp  *provider.SessionTokens
	exchangeErr   error
	exchangeCalls int
	authResp      *provider.AuthenticationResponse
	authErr       error
	authCalls     int
	updateResp    *provider.AuthenticationResponse
	updateErr     error
	credsResp     map[string]any
	unlinkErr     error
	deleteErr     error
	deleteCalls   int

	lastAuth     provider.Auth
	lastExchange struct{ nonce, code, verifier, redirectURL string }
	lastRequest  provider.AuthenticationRequest
}

func (f *fakeTransport) RefreshSession(ctx context.Context, auth provider.Auth) (*provider.SessionTokens, error) {
	f.mu.Lock()
	f.refreshCalls++
	gate := f.refreshGate
	f.lastAuth = auth
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	if f.refreshResp == nil {
		return &provider.SessionTokens{}, nil
	}
	return f.refreshResp, nil
}

func (f *fakeTransport) RequestAuthentication(ctx context.Context, req provider.AuthenticationRequest, auth provider.Auth) (*provider.AuthenticationResponse, error) {
	f.mu.Lock()
	f.authCalls++
	f.lastRequest = req
	f.lastAuth = auth
	f.mu.Unlock()
	if f.authErr != nil {
		return nil, f.authErr
	}
	if f.authResp == nil {
		return &provider.AuthenticationResponse{
			AuthenticationRequestID: "req-1",
			AuthenticationURL:       "https://auth.example.com/login?rid=req-1",
		}, nil
	}
	return f.authResp, nil
}

func (f *fakeTransport) UpdateAuthentication(ctx context.Context, requestID string, req provider.AuthenticationUpdate) (*provider.AuthenticationResponse, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if f.updateResp == nil {
		return &provider.AuthenticationResponse{AuthenticationURL: "https://auth.example.com/continue"}, nil
	}
	return f.updateResp, nil
}

func (f *fakeTransport) ExchangeCode(ctx context.Context, nonce, code, verifier, redirectURL string) (*provider.SessionTokens, error) {
	f.mu.Lock()
	f.exchangeCalls++
	f.lastExchange = struct{ nonce, code, verifier, redirectURL string }{nonce, code, verifier, redirectURL}
	f.mu.Unlock()
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	if f.exchangeResp == nil {
		return &provider.SessionTokens{}, nil
	}
	return f.exchangeResp, nil
}

func (f *fakeTransport) Credentials(ctx context.Context, auth provider.Auth) (map[string]any, error) {
	f.mu.Lock()
	f.lastAuth = auth
	f.mu.Unlock()
	return f.credsResp, nil
}

func (f *fakeTransport) Unlink(ctx context.Context, connectionID string, auth provider.Auth) error {
	f.mu.Lock()
	f.lastAuth = auth
	f.mu.Unlock()
	return f.unlinkErr
}

func (f *fakeTransport) DeleteSession(ctx context.Context, auth provider.Auth) error {
	f.mu.Lock()
	f.deleteCalls++
	f.lastAuth = auth
	f.mu.Unlock()
	return f.deleteErr
}

func (f *fakeTransport) LogoutURL(redirectURL string) string {
	return "https://auth.example.com/logout?redirectUrl=" + redirectURL
}

func (f *fakeTransport) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

func (f *fakeTransport) exchangeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchangeCalls
}

func (f *fakeTransport) authCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, pageURL string, transport *fakeTransport, opts ...Option) (*Client, *MemoryEnvironment) {
	t.Helper()
	env, err := NewMemoryEnvironment(pageURL)
	require.NoError(t, err)
	env.SetNow(func() time.Time { return testNow })

	base := []Option{
		WithTransport(transport),
		WithNow(func() time.Time { return testNow }),
		WithNavigationDelay(0),
		WithDebounceWindow(0),
	}
	client, err := New("https://auth.example.com", "app-1", env, append(base, opts...)...)
	require.NoError(t, err)
	return client, env
}

func storePendingRecord(t *testing.T, env *MemoryEnvironment, p pendingAuthentication) {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	require.NoError(t, env.Store(pendingStorageKey, data))
}

func testIdentityToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}
