package provider

import (
	"fmt"
	"time"
)

// Auth selects how a provider call authenticates itself. With Credentialed set
// the call relies on browser-managed cookies (the client's cookie jar here);
// otherwise Bearer, when present, is attached as an Authorization header.
type Auth struct {
	Credentialed bool
	Bearer       string
}

// SessionTokens is the token material returned by session refresh and code
// exchange. ExpiresAt is zero when the provider did not state a lifetime.
type SessionTokens struct {
	AccessToken string
	IDToken     string
	ExpiresAt   time.Time
}

// AuthenticationRequest begins an authentication or identity-link flow.
type AuthenticationRequest struct {
	RedirectURL            string            `json:"redirectUrl"`
	CodeChallengeMethod    string            `json:"codeChallengeMethod"`
	CodeChallenge          string            `json:"codeChallenge"`
	ConnectionID           string            `json:"connectionId,omitempty"`
	TenantLookupIdentifier string            `json:"tenantLookupIdentifier,omitempty"`
	ConnectionProperties   map[string]string `json:"connectionProperties,omitempty"`
	ApplicationID          string            `json:"applicationId"`
	ResponseLocation       string            `json:"responseLocation,omitempty"`
	FlowType               string            `json:"flowType,omitempty"`
	MultiAccount           bool              `json:"multiAccount,omitempty"`
}

// AuthenticationUpdate supplies the chosen connection or tenant for a pending
// authentication request.
type AuthenticationUpdate struct {
	ConnectionID           string `json:"connectionId,omitempty"`
	TenantLookupIdentifier string `json:"tenantLookupIdentifier,omitempty"`
}

// AuthenticationResponse is the provider's answer to a begin or update call.
type AuthenticationResponse struct {
	AuthenticationRequestID string `json:"authenticationRequestId"`
	AuthenticationURL       string `json:"authenticationUrl"`
	EnableCredentials       *bool  `json:"enableCredentials,omitempty"`
}

// APIError is a 4xx provider response. Code carries the provider's own error
// code; callers branch on it.
type APIError struct {
	Status int
	Code   string
	Title  string
}

func (e *APIError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Title)
	}
	return e.Code
}

// providerErrorBody is the wire shape of a 4xx response.
type providerErrorBody struct {
	Title     string `json:"title"`
	ErrorCode string `json:"errorCode"`
}

// sessionTokensBody is the wire shape of session refresh responses.
type sessionTokensBody struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	ExpiresIn   int64  `json:"expires_in"`
}
