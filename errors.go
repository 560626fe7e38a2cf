package authfront

import (
	"errors"

	"github.com/averlane/authfront/provider"
)

// ErrorCode is a stable machine-readable error identifier. Callers branch on
// it rather than on error text.
type ErrorCode string

const (
	// ErrInvalidConnection: neither or both of connection and tenant
	// identifier were supplied.
	ErrInvalidConnection ErrorCode = "invalid_connection"

	// ErrInvalidAuthenticationRequest: the flow state needed to continue an
	// authentication request is missing.
	ErrInvalidAuthenticationRequest ErrorCode = "invalid_authentication_request"

	// ErrInvalidResponseLocation: an unsupported responseLocation value.
	ErrInvalidResponseLocation ErrorCode = "invalid_response_location"

	// ErrInvalidNonce: the callback nonce does not match the pending
	// authentication record. Treated as replay-attack detection.
	ErrInvalidNonce ErrorCode = "invalid_nonce"

	// ErrNotLoggedIn: the operation requires an existing identity.
	ErrNotLoggedIn ErrorCode = "not_logged_in"

	// ErrTokenTimeout: EnsureToken's deadline passed before a session was
	// established.
	ErrTokenTimeout ErrorCode = "token_timeout"
)

// Error is the error type surfaced by explicit, user-invoked operations.
// Provider 4xx responses are re-signaled with the provider's own error code.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return string(e.Code) + ": " + e.Message
	}
	return string(e.Code)
}

func newError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// CodeOf extracts the ErrorCode from err, or "" when err carries none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// translateProviderError maps 4xx provider responses onto Error, keeping the
// provider's error code; everything else passes through unchanged.
func translateProviderError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		message := apiErr.Title
		if message == "" {
			message = apiErr.Code
		}
		return &Error{Code: ErrorCode(apiErr.Code), Message: message}
	}
	return err
}
