package gateway

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/emilythestrangee/memories/backend/internal/models"
)

// LoadFunc returns the persisted profile, or nil when there is none.
type LoadFunc func() (*models.AuthResponse, error)

// SaveFunc persists profile. A nil profile means the session was cleared.
type SaveFunc func(profile *models.AuthResponse) error

// Session holds the signed-in profile and its bearer token. Persistence is
// delegated to the injected hooks so the caller decides where it lives.
type Session struct {
	mu      sync.RWMutex
	profile *models.AuthResponse
	save    SaveFunc
	now     func() time.Time
}

// NewSession restores the profile returned by load. A profile whose token
// has expired is discarded and the cleared state saved.
func NewSession(load LoadFunc, save SaveFunc) (*Session, error) {
	s := &Session{save: save, now: time.Now}
	if load == nil {
		return s, nil
	}

	profile, err := load()
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return s, nil
	}
	if s.expired(profile.Token) {
		return s, s.persist(nil)
	}
	s.profile = profile
	return s, nil
}

// Token returns the bearer token, or "" when signed out or expired.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil || s.expired(s.profile.Token) {
		return ""
	}
	return s.profile.Token
}

// User returns the signed-in user, or nil.
func (s *Session) User() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil
	}
	u := s.profile.Result
	return &u
}

func (s *Session) set(profile *models.AuthResponse) error {
	s.mu.Lock()
	s.profile = profile
	s.mu.Unlock()
	return s.persist(profile)
}

// Clear signs the session out.
func (s *Session) Clear() error {
	return s.set(nil)
}

func (s *Session) persist(profile *models.AuthResponse) error {
	if s.save == nil {
		return nil
	}
	return s.save(profile)
}

// expired reads the exp claim without verifying the signature. Tokens
// without exp never expire client side.
func (s *Session) expired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !s.now().Before(exp.Time)
}
