// Package provider is the HTTP client for the identity provider's session and
// authentication API.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/averlane/authfront/internal/log"
)

const defaultTimeout = 10 * time.Second

// Client issues requests against one identity provider on behalf of one
// application. Credentialed calls share a cookie jar so provider-managed
// session cookies survive across calls; bearer calls carry the token manually.
type Client struct {
	baseURL       *url.URL
	applicationID string
	bearer        *http.Client
	credentialed  *http.Client
	now           func() time.Time
}

// New creates a provider client. A nil httpClient gets a default with a 10s
// timeout; a nil now falls back to time.Now.
func New(baseURL, applicationID string, httpClient *http.Client, now func() time.Time) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid provider URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("provider URL %q must be absolute", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if now == nil {
		now = time.Now
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	credentialed := *httpClient
	credentialed.Jar = jar

	return &Client{
		baseURL:       u,
		applicationID: applicationID,
		bearer:        httpClient,
		credentialed:  &credentialed,
		now:           now,
	}, nil
}

// RefreshSession asks the provider to refresh or create a session.
func (c *Client) RefreshSession(ctx context.Context, auth Auth) (*SessionTokens, error) {
	var body sessionTokensBody
	if err := c.do(ctx, http.MethodPatch, auth, nil, &body, "session"); err != nil {
		return nil, err
	}
	return c.sessionTokens(body), nil
}

// RequestAuthentication begins an authentication or link flow.
func (c *Client) RequestAuthentication(ctx context.Context, req AuthenticationRequest, auth Auth) (*AuthenticationResponse, error) {
	req.ApplicationID = c.applicationID
	var resp AuthenticationResponse
	if err := c.do(ctx, http.MethodPost, auth, req, &resp, "authentication"); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateAuthentication supplies the chosen connection for a pending request.
func (c *Client) UpdateAuthentication(ctx context.Context, requestID string, req AuthenticationUpdate) (*AuthenticationResponse, error) {
	var resp AuthenticationResponse
	if err := c.do(ctx, http.MethodPatch, Auth{}, req, &resp, "authentication", requestID); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExchangeCode trades an authorization code for tokens using the standard
// OAuth2 code-exchange payload with a PKCE verifier.
func (c *Client) ExchangeCode(ctx context.Context, nonce, code, verifier, redirectURL string) (*SessionTokens, error) {
	tokenURL, err := url.JoinPath(c.baseURL.String(), "authentication", nonce, "tokens")
	if err != nil {
		return nil, fmt.Errorf("failed to build token URL: %w", err)
	}

	conf := &oauth2.Config{
		ClientID:    c.applicationID,
		RedirectURL: redirectURL,
		Endpoint:    oauth2.Endpoint{TokenURL: tokenURL},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.bearer)
	token, err := conf.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", verifier))
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			retrieveErr.Response.StatusCode >= 400 && retrieveErr.Response.StatusCode < 500 {
			return nil, apiError(retrieveErr.Response.StatusCode, retrieveErr.Body)
		}
		return nil, err
	}

	tokens := &SessionTokens{AccessToken: token.AccessToken}
	if idToken, ok := token.Extra("id_token").(string); ok {
		tokens.IDToken = idToken
	}
	if !token.Expiry.IsZero() {
		tokens.ExpiresAt = token.Expiry
	}
	return tokens, nil
}

// Credentials fetches provider-issued connection credentials.
func (c *Client) Credentials(ctx context.Context, auth Auth) (map[string]any, error) {
	creds := map[string]any{}
	if err := c.do(ctx, http.MethodGet, auth, nil, &creds, "session", "credentials"); err != nil {
		return nil, err
	}
	return creds, nil
}

// Unlink removes a linked identity.
func (c *Client) Unlink(ctx context.Context, connectionID string, auth Auth) error {
	return c.do(ctx, http.MethodDelete, auth, nil, nil, "identities", connectionID)
}

// DeleteSession asks the provider to delete the server-side session.
func (c *Client) DeleteSession(ctx context.Context, auth Auth) error {
	return c.do(ctx, http.MethodDelete, auth, nil, nil, "session")
}

// LogoutURL is the provider's logout endpoint with a redirect target.
func (c *Client) LogoutURL(redirectURL string) string {
	u := *c.baseURL
	u.Path, _ = url.JoinPath(u.Path, "logout")
	q := u.Query()
	q.Set("redirectUrl", redirectURL)
	q.Set("applicationId", c.applicationID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) sessionTokens(body sessionTokensBody) *SessionTokens {
	tokens := &SessionTokens{AccessToken: body.AccessToken, IDToken: body.IDToken}
	if body.ExpiresIn > 0 {
		tokens.ExpiresAt = c.now().Add(time.Duration(body.ExpiresIn) * time.Second)
	}
	return tokens
}

func (c *Client) do(ctx context.Context, method string, auth Auth, in, out any, path ...string) error {
	endpoint, err := url.JoinPath(c.baseURL.String(), path...)
	if err != nil {
		return fmt.Errorf("failed to build request URL: %w", err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	httpClient := c.bearer
	if auth.Credentialed {
		httpClient = c.credentialed
	} else if auth.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+auth.Bearer)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apiError(resp.StatusCode, data)
	case resp.StatusCode >= 500:
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, readLimited(resp.Body, 1024))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}

func apiError(status int, body []byte) *APIError {
	var parsed providerErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.ErrorCode == "" {
		log.LogDebugWithFields("provider", "4xx response without structured error body", map[string]any{
			"status": status,
		})
		return &APIError{Status: status, Code: fmt.Sprintf("http_%d", status), Title: string(body)}
	}
	return &APIError{Status: status, Code: parsed.ErrorCode, Title: parsed.Title}
}

// readLimited reads up to limit bytes from r for inclusion in error messages.
func readLimited(r io.Reader, limit int64) string {
	data, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	return string(data)
}
