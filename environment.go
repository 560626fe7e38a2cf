package authfront

import (
	"net/url"
	"time"
)

// Environment is the hosting surface's ambient capability set: current
// location, navigation, cookies, and a durable single-slot store. The
// coordinator never touches these directly, so a browser bridge, a native
// loopback surface, and a test fake are all interchangeable.
type Environment interface {
	// Location returns the current page URL. The second result is false when
	// the surface has no addressable location, such as a background context.
	Location() (*url.URL, bool)

	// ReplaceLocation rewrites the visible URL without triggering a
	// navigation. Used to strip one-time query parameters after consumption.
	ReplaceLocation(u *url.URL)

	// Navigate performs a full navigation of the current surface.
	Navigate(rawURL string) error

	// OpenTab opens rawURL on a new surface, leaving the current one in place.
	OpenTab(rawURL string) error

	// Cookie returns the named cookie's value if present and unexpired.
	Cookie(name string) (string, bool)

	// SetCookie stores a same-site cookie valid until expires. A zero expires
	// means session-scoped.
	SetCookie(name, value string, expires time.Time)

	// ClearCookie removes the named cookie.
	ClearCookie(name string)

	// Store persists value under key in the surface's durable store. The
	// value survives a full navigation.
	Store(key string, value []byte) error

	// Take reads and deletes the value under key. A stored value is consumed
	// by exactly one reader.
	Take(key string) ([]byte, bool)
}
