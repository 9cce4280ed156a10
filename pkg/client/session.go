package client

import (
	"net/http"
	"net/url"
	"sync"
)

// CredentialSource supplies the anti-forgery token attached to mutating
// requests. A source without a token returns ok=false.
type CredentialSource interface {
	CSRFToken() (token string, ok bool)
}

// CSRFTokenFunc adapts a function to CredentialSource.
type CSRFTokenFunc func() (string, bool)

// CSRFToken implements CredentialSource.
func (f CSRFTokenFunc) CSRFToken() (string, bool) {
	return f()
}

// Session holds per-session credential state. It is passed explicitly to the
// client so independent sessions never share a token.
type Session struct {
	mu    sync.RWMutex
	token string
}

// NewSession creates a session without a token.
func NewSession() *Session {
	return &Session{}
}

// SetCSRFToken replaces the session token. An empty token clears it.
func (s *Session) SetCSRFToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// CSRFToken implements CredentialSource.
func (s *Session) CSRFToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// CookieCSRF reads the token from a cookie the server set in the jar.
type CookieCSRF struct {
	Jar    http.CookieJar
	URL    *url.URL
	Cookie string
}

// CSRFToken implements CredentialSource.
func (c CookieCSRF) CSRFToken() (string, bool) {
	if c.Jar == nil || c.URL == nil {
		return "", false
	}
	name := c.Cookie
	if name == "" {
		name = "csrf_token"
	}
	for _, ck := range c.Jar.Cookies(c.URL) {
		if ck.Name == name && ck.Value != "" {
			return ck.Value, true
		}
	}
	return "", false
}
