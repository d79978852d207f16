package provider

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// Credentials is the provider token pair: a short-lived access token with an
// embedded expiry claim and a single-use refresh token rotated on every
// refresh.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Session owns one credential pair and the single-flight handle coordinating
// its refresh. It is created at login and torn down at logout; nothing about
// it is package-global.
type Session struct {
	mu          sync.RWMutex
	creds       *Credentials
	anonymousID string
	generation  uint64

	refreshGroup singleflight.Group
}

func NewSession() *Session {
	return &Session{}
}

// Login installs a fresh credential pair, invalidating any refresh still in
// flight for the previous pair.
func (s *Session) Login(creds Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := creds
	s.creds = &c
	s.generation++
}

// Logout clears the pair. A refresh racing with logout observes the
// generation bump and discards its result.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	s.generation++
}

func (s *Session) SetAnonymousID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anonymousID = id
}

func (s *Session) AnonymousID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.anonymousID
}

func (s *Session) Credentials() (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return Credentials{}, false
	}
	return *s.creds, true
}

func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// replaceIfCurrent swaps in the rotated pair only when the session has not
// been logged out or re-logged-in since gen was observed. Both tokens are
// replaced together or not at all.
func (s *Session) replaceIfCurrent(gen uint64, creds Credentials) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen || s.creds == nil {
		return false
	}
	c := creds
	s.creds = &c
	return true
}

// accessTokenExpiry decodes the expiry claim locally, without a network call
// and without verifying the signature (the provider verifies it server-side).
func accessTokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
