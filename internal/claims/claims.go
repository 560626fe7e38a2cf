// Package claims extracts claims from identity tokens for display purposes.
//
// Nothing here verifies signatures. A decoded token proves nothing about who
// issued it and must never stand in for an authentication check.
package claims

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Decode returns the payload claims of token, or false on any malformed input:
// missing segments, invalid base64, invalid JSON.
func Decode(token string) (jwt.MapClaims, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// DecodeFull returns both the header and payload segments of token under the
// same false-on-failure contract as Decode.
func DecodeFull(token string) (map[string]any, jwt.MapClaims, bool) {
	claims := jwt.MapClaims{}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return nil, nil, false
	}
	return parsed.Header, claims, true
}

// Expiry returns the exp claim as a time, or false when the claim is absent or
// not a timestamp.
func Expiry(c jwt.MapClaims) (time.Time, bool) {
	exp, err := c.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
