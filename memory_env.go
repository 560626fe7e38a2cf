package authfront

import (
	"fmt"
	"net/url"
	"sync"
	"time"
)

// MemoryEnvironment is an in-process Environment. It backs the native login
// surface in cmd/authfront-login and the deterministic fakes in tests.
type MemoryEnvironment struct {
	mu          sync.Mutex
	location    *url.URL
	cookies     map[string]memoryCookie
	slots       map[string][]byte
	navigations []string
	tabs        []string
	now         func() time.Time
}

type memoryCookie struct {
	value   string
	expires time.Time
}

var _ Environment = (*MemoryEnvironment)(nil)

// NewMemoryEnvironment creates an environment whose surface sits at rawURL.
// An empty rawURL creates a surface without an addressable location.
func NewMemoryEnvironment(rawURL string) (*MemoryEnvironment, error) {
	env := &MemoryEnvironment{
		cookies: make(map[string]memoryCookie),
		slots:   make(map[string][]byte),
		now:     time.Now,
	}
	if rawURL != "" {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid location URL: %w", err)
		}
		env.location = u
	}
	return env, nil
}

// SetNow overrides the clock used for cookie expiry checks.
func (e *MemoryEnvironment) SetNow(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// SetLocation moves the surface to u, as a redirect landing would.
func (e *MemoryEnvironment) SetLocation(u *url.URL) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.location = u
}

func (e *MemoryEnvironment) Location() (*url.URL, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.location == nil {
		return nil, false
	}
	u := *e.location
	return &u, true
}

func (e *MemoryEnvironment) ReplaceLocation(u *url.URL) {
	e.mu.Lock()
	defer e.mu.Unlock()
	clone := *u
	e.location = &clone
}

func (e *MemoryEnvironment) Navigate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid navigation target: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.location = u
	e.navigations = append(e.navigations, rawURL)
	return nil
}

func (e *MemoryEnvironment) OpenTab(rawURL string) error {
	if _, err := url.Parse(rawURL); err != nil {
		return fmt.Errorf("invalid tab target: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tabs = append(e.tabs, rawURL)
	return nil
}

func (e *MemoryEnvironment) Cookie(name string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.cookies[name]
	if !ok {
		return "", false
	}
	if !c.expires.IsZero() && !e.now().Before(c.expires) {
		delete(e.cookies, name)
		return "", false
	}
	return c.value, true
}

func (e *MemoryEnvironment) SetCookie(name, value string, expires time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cookies[name] = memoryCookie{value: value, expires: expires}
}

func (e *MemoryEnvironment) ClearCookie(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cookies, name)
}

func (e *MemoryEnvironment) Store(key string, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.slots[key] = append([]byte(nil), value...)
	return nil
}

func (e *MemoryEnvironment) Take(key string) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	value, ok := e.slots[key]
	if ok {
		delete(e.slots, key)
	}
	return value, ok
}

// Navigations returns every full navigation issued so far, oldest first.
func (e *MemoryEnvironment) Navigations() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.navigations...)
}

// Tabs returns every tab opened so far, oldest first.
func (e *MemoryEnvironment) Tabs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.tabs...)
}
